package googlemeet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/jdgilhuly/visitvideo/pkg/video"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type fakeMeet struct {
	t            *testing.T
	mu           sync.Mutex
	spaces       map[string]*space
	participants map[string][]participant
	calls        []string
	lastCreate   space
}

func newFakeMeet(t *testing.T) *fakeMeet {
	return &fakeMeet{
		t:            t,
		spaces:       make(map[string]*space),
		participants: make(map[string][]participant),
	}
}

func (f *fakeMeet) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if got := r.Header.Get("Authorization"); got != "Bearer meet-token" {
		f.t.Errorf("Authorization = %q, want Bearer meet-token", got)
	}
	body, _ := io.ReadAll(r.Body)

	f.mu.Lock()
	defer f.mu.Unlock()

	path := strings.TrimPrefix(r.URL.Path, "/")
	f.calls = append(f.calls, r.Method+" /"+path)

	switch {
	case r.Method == http.MethodPost && path == "spaces":
		json.Unmarshal(body, &f.lastCreate)
		n := len(f.spaces) + 1
		s := &space{
			Name:        fmt.Sprintf("spaces/sp%d", n),
			MeetingCode: fmt.Sprintf("abc-defg-%03d", n),
			MeetingURI:  fmt.Sprintf("https://meet.google.com/abc-defg-%03d", n),
			Config:      f.lastCreate.Config,
		}
		f.spaces[s.Name] = s
		writeJSON(w, http.StatusOK, s)
	case strings.HasPrefix(path, "conferenceRecords/") && strings.HasSuffix(path, "/participants"):
		record := strings.TrimSuffix(path, "/participants")
		if got := r.URL.Query().Get("filter"); got != "latest_end_time IS NULL" {
			f.t.Errorf("filter = %q, want latest_end_time IS NULL", got)
		}
		list := f.participants[record]
		if r.URL.Query().Get("pageToken") == "" && len(list) > 1 {
			writeJSON(w, http.StatusOK, participantList{Participants: list[:1], NextPageToken: "p2"})
			return
		}
		if len(list) > 1 {
			list = list[1:]
		}
		writeJSON(w, http.StatusOK, participantList{Participants: list})
	case strings.HasPrefix(path, "spaces/"):
		name, action, _ := strings.Cut(path, ":")
		s, ok := f.spaces[name]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprintf(w, `{"error":{"code":404,"message":"Requested entity was not found.","status":"NOT_FOUND"}}`)
			return
		}
		switch {
		case action == "" && r.Method == http.MethodGet:
			writeJSON(w, http.StatusOK, s)
		case action == "endActiveConference":
			if s.ActiveConference == nil {
				w.WriteHeader(http.StatusBadRequest)
				fmt.Fprintf(w, `{"error":{"code":400,"message":"No active conference.","status":"FAILED_PRECONDITION"}}`)
				return
			}
			s.ActiveConference = nil
			writeJSON(w, http.StatusOK, struct{}{})
		default:
			http.NotFound(w, r)
		}
	default:
		http.NotFound(w, r)
	}
}

// startConference attaches an active conference with the given attendees to
// space id.
func (f *fakeMeet) startConference(id string, attendees ...participant) {
	f.mu.Lock()
	defer f.mu.Unlock()
	record := "conferenceRecords/cr-" + id
	f.spaces[spacePrefix+id].ActiveConference = &activeConference{ConferenceRecord: record}
	f.participants[record] = attendees
}

func (f *fakeMeet) recorded(prefix string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.calls {
		if strings.HasPrefix(c, prefix) {
			out = append(out, c)
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func newLive(t *testing.T) (*Provider, *fakeMeet) {
	t.Helper()
	fake := newFakeMeet(t)
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	p := New(quietLogger(), WithBaseURL(server.URL), WithHTTPClient(server.Client()))
	if err := p.Initialize(context.Background(), video.ProviderConfig{APIKey: "meet-token"}); err != nil {
		t.Fatalf("Initialize() error: %v", err)
	}
	return p, fake
}

func signedIn(id, name string) participant {
	return participant{
		Name:         "conferenceRecords/x/participants/" + id,
		SignedinUser: &displayUser{User: "users/" + id, DisplayName: name},
	}
}

func TestInitialize_MockWithoutToken(t *testing.T) {
	p := New(quietLogger())
	if err := p.Initialize(context.Background(), video.ProviderConfig{}); err != nil {
		t.Fatalf("Initialize() error: %v", err)
	}
	if p.Mode() != video.ModeMock {
		t.Errorf("Mode() = %q, want mock", p.Mode())
	}

	// Recording is simulated in mock mode even though live Meet rejects it.
	room, err := p.CreateRoom(context.Background(), video.RoomOptions{Name: "mock-room"})
	if err != nil {
		t.Fatalf("CreateRoom() error: %v", err)
	}
	if _, err := p.StartRecording(context.Background(), room.ID, video.RecordingOptions{}); err != nil {
		t.Errorf("StartRecording() in mock mode error: %v", err)
	}
}

func TestInitialize_ProductionWithoutToken(t *testing.T) {
	p := New(quietLogger())
	err := p.Initialize(context.Background(), video.ProviderConfig{Environment: video.EnvProduction})
	if !video.IsConfiguration(err) {
		t.Fatalf("Initialize() error = %v, want configuration error", err)
	}
}

func TestCreateRoom_Live(t *testing.T) {
	p, fake := newLive(t)
	room, err := p.CreateRoom(context.Background(), video.RoomOptions{Name: "legal-call", MaxParticipants: 3})
	if err != nil {
		t.Fatalf("CreateRoom() error: %v", err)
	}
	if room.ID != "sp1" {
		t.Errorf("ID = %q, want sp1", room.ID)
	}
	if room.Name != "legal-call" {
		t.Errorf("Name = %q, want legal-call", room.Name)
	}
	if room.Settings.MaxParticipants != 3 {
		t.Errorf("MaxParticipants = %d, want 3", room.Settings.MaxParticipants)
	}

	fake.mu.Lock()
	cfg := fake.lastCreate.Config
	fake.mu.Unlock()
	if cfg == nil || cfg.AccessType != "RESTRICTED" {
		t.Errorf("config = %+v, want RESTRICTED access", cfg)
	}
}

func TestParticipants_Paginated(t *testing.T) {
	p, fake := newLive(t)
	ctx := context.Background()
	room, _ := p.CreateRoom(ctx, video.RoomOptions{Name: "r1"})
	fake.startConference(room.ID,
		signedIn("resident-1", "Resident"),
		participant{Name: "conferenceRecords/x/participants/anon-7", AnonymousUser: &displayUser{DisplayName: "Guest"}},
	)

	info, err := p.GetRoomInfo(ctx, room.ID)
	if err != nil {
		t.Fatalf("GetRoomInfo() error: %v", err)
	}
	if len(info.Participants) != 2 {
		t.Fatalf("Participants = %+v, want 2", info.Participants)
	}
	if info.Participants[0].ID != "resident-1" || info.Participants[0].Name != "Resident" {
		t.Errorf("Participants[0] = %+v, want resident-1", info.Participants[0])
	}
	if info.Participants[1].ID != "anon-7" || info.Participants[1].Name != "Guest" {
		t.Errorf("Participants[1] = %+v, want anon-7", info.Participants[1])
	}
}

func TestJoinRoom_Capacity(t *testing.T) {
	p, fake := newLive(t)
	ctx := context.Background()
	room, _ := p.CreateRoom(ctx, video.RoomOptions{Name: "r2", MaxParticipants: 2})
	fake.startConference(room.ID, signedIn("a", "A"), signedIn("b", "B"))

	err := p.JoinRoom(ctx, room.ID, video.Participant{ID: "c", Role: video.RoleVisitor})
	if !video.IsValidation(err) {
		t.Fatalf("JoinRoom(full) error = %v, want validation error", err)
	}
	if err := p.JoinRoom(ctx, room.ID, video.Participant{ID: "a", Role: video.RoleResident}); err != nil {
		t.Errorf("JoinRoom(already present) error: %v", err)
	}
}

func TestUnsupportedOperations(t *testing.T) {
	p, _ := newLive(t)
	ctx := context.Background()
	room, _ := p.CreateRoom(ctx, video.RoomOptions{Name: "r3"})

	_, err := p.StartRecording(ctx, room.ID, video.RecordingOptions{})
	if !video.IsBackend(err) || !errors.Is(err, video.ErrUnsupported) {
		t.Errorf("StartRecording() error = %v, want backend error wrapping ErrUnsupported", err)
	}
	err = p.LeaveRoom(ctx, room.ID, "anyone")
	if !video.IsBackend(err) || !errors.Is(err, video.ErrUnsupported) {
		t.Errorf("LeaveRoom() error = %v, want backend error wrapping ErrUnsupported", err)
	}
	if recs, _ := p.ListRecordings(ctx, room.ID); len(recs) != 0 {
		t.Errorf("ListRecordings() = %v, want none after failed start", recs)
	}
}

func TestJoinToken_MeetingURI(t *testing.T) {
	p, _ := newLive(t)
	ctx := context.Background()
	room, _ := p.CreateRoom(ctx, video.RoomOptions{Name: "r4"})

	uri, err := p.JoinToken(ctx, room.ID, video.Participant{ID: "v1", Role: video.RoleVisitor})
	if err != nil {
		t.Fatalf("JoinToken() error: %v", err)
	}
	if uri != "https://meet.google.com/abc-defg-001" {
		t.Errorf("JoinToken() = %q, want meeting URI", uri)
	}
}

func TestGetRoomInfo_NotFound(t *testing.T) {
	p, _ := newLive(t)
	_, err := p.GetRoomInfo(context.Background(), "ghost")
	if !errors.Is(err, video.ErrRoomNotFound) {
		t.Fatalf("GetRoomInfo() error = %v, want ErrRoomNotFound", err)
	}
	if !strings.Contains(err.Error(), "NOT_FOUND: Requested entity was not found.") {
		t.Errorf("error = %q, want API message", err)
	}
}

func TestDisconnect_EndsConferences(t *testing.T) {
	p, fake := newLive(t)
	ctx := context.Background()
	a, _ := p.CreateRoom(ctx, video.RoomOptions{Name: "a"})
	p.CreateRoom(ctx, video.RoomOptions{Name: "b"})
	fake.startConference(a.ID, signedIn("x", "X"))

	if err := p.Disconnect(ctx); err != nil {
		t.Fatalf("Disconnect() error: %v", err)
	}
	if got := fake.recorded("POST /spaces/sp"); len(got) != 2 {
		t.Errorf("endActiveConference calls = %v, want 2", got)
	}
	fake.mu.Lock()
	defer fake.mu.Unlock()
	if fake.spaces["spaces/sp1"].ActiveConference != nil {
		t.Error("conference in sp1 still active after Disconnect")
	}
}
