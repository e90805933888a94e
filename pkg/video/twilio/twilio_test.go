package twilio

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
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"

	"github.com/jdgilhuly/visitvideo/pkg/video"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// fakeTwilio is a minimal stand-in for the Twilio Video REST API.
type fakeTwilio struct {
	t            *testing.T
	mu           sync.Mutex
	next         int
	rooms        map[string]*roomResource
	participants map[string][]participantResource
	rules        []string
	lastForm     map[string]string
	failStatus   int
}

func newFakeTwilio(t *testing.T) *fakeTwilio {
	return &fakeTwilio{
		t:            t,
		rooms:        make(map[string]*roomResource),
		participants: make(map[string][]participantResource),
	}
}

func (f *fakeTwilio) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	user, pass, ok := r.BasicAuth()
	if !ok || user != "SKtest" || pass != "secret" {
		f.t.Errorf("basic auth = %q/%q, want SKtest/secret", user, pass)
	}
	if err := r.ParseForm(); err != nil {
		f.t.Errorf("ParseForm: %v", err)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failStatus != 0 {
		writeJSON(w, f.failStatus, apiError{Code: 53000, Message: "service unavailable"})
		return
	}

	if r.Method == http.MethodPost {
		f.lastForm = map[string]string{}
		for k := range r.PostForm {
			f.lastForm[k] = r.PostForm.Get(k)
		}
	}

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	switch {
	case len(parts) == 1 && r.Method == http.MethodPost:
		f.next++
		maxParticipants := 0
		fmt.Sscanf(r.PostForm.Get("MaxParticipants"), "%d", &maxParticipants)
		room := &roomResource{
			SID:             fmt.Sprintf("RM%03d", f.next),
			UniqueName:      r.PostForm.Get("UniqueName"),
			Status:          RoomStatusInProgress,
			DateCreated:     "2026-03-01T09:00:00Z",
			MaxParticipants: maxParticipants,
		}
		f.rooms[room.SID] = room
		writeJSON(w, http.StatusCreated, room)

	case len(parts) == 1 && r.Method == http.MethodGet:
		var list roomList
		for _, room := range f.rooms {
			if room.Status == r.URL.Query().Get("Status") {
				list.Rooms = append(list.Rooms, *room)
			}
		}
		writeJSON(w, http.StatusOK, list)

	case len(parts) >= 2:
		room, ok := f.rooms[parts[1]]
		if !ok {
			writeJSON(w, http.StatusNotFound, apiError{Code: 20404, Message: "The requested resource was not found"})
			return
		}
		f.serveRoom(w, r, room, parts[2:])

	default:
		http.NotFound(w, r)
	}
}

func (f *fakeTwilio) serveRoom(w http.ResponseWriter, r *http.Request, room *roomResource, rest []string) {
	switch {
	case len(rest) == 0 && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, room)
	case len(rest) == 0 && r.Method == http.MethodPost:
		room.Status = r.PostForm.Get("Status")
		writeJSON(w, http.StatusOK, room)
	case len(rest) == 1 && rest[0] == "Participants":
		writeJSON(w, http.StatusOK, participantList{Participants: f.participants[room.SID]})
	case len(rest) == 2 && rest[0] == "Participants":
		list := f.participants[room.SID]
		for i, p := range list {
			if p.Identity == rest[1] {
				f.participants[room.SID] = append(list[:i], list[i+1:]...)
				writeJSON(w, http.StatusOK, p)
				return
			}
		}
		writeJSON(w, http.StatusNotFound, apiError{Code: 20404, Message: "participant not found"})
	case len(rest) == 1 && rest[0] == "RecordingRules":
		f.rules = append(f.rules, r.PostForm.Get("Rules"))
		writeJSON(w, http.StatusOK, map[string]any{"room_sid": room.SID})
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeTwilio) formValue(key string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastForm[key]
}

func (f *fakeTwilio) recordedRules() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.rules...)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func newLive(t *testing.T) (*Provider, *fakeTwilio) {
	t.Helper()
	fake := newFakeTwilio(t)
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	p := New(quietLogger(), WithBaseURL(server.URL), WithHTTPClient(server.Client()))
	err := p.Initialize(context.Background(), video.ProviderConfig{
		APIKey:    "SKtest",
		APISecret: "secret",
		AccountID: "ACtest",
	})
	if err != nil {
		t.Fatalf("Initialize() error: %v", err)
	}
	if p.Mode() != video.ModeLive {
		t.Fatalf("Mode() = %q, want live", p.Mode())
	}
	return p, fake
}

func TestInitialize_MockWithoutCredentials(t *testing.T) {
	p := New(quietLogger())
	if err := p.Initialize(context.Background(), video.ProviderConfig{Environment: video.EnvDevelopment}); err != nil {
		t.Fatalf("Initialize() error: %v", err)
	}
	if p.Mode() != video.ModeMock {
		t.Errorf("Mode() = %q, want mock", p.Mode())
	}
	room, err := p.CreateRoom(context.Background(), video.RoomOptions{})
	if err != nil {
		t.Fatalf("CreateRoom() error: %v", err)
	}
	if !strings.HasPrefix(room.ID, "mock-twilio-") {
		t.Errorf("room ID = %q, want mock-twilio- prefix", room.ID)
	}
}

func TestInitialize_MissingSecret(t *testing.T) {
	p := New(quietLogger())
	err := p.Initialize(context.Background(), video.ProviderConfig{APIKey: "SKtest", AccountID: "ACtest"})
	if !video.IsConfiguration(err) {
		t.Fatalf("Initialize() error = %v, want configuration error", err)
	}
	if !strings.Contains(err.Error(), "API secret is required") {
		t.Errorf("error = %q, want mention of API secret", err)
	}
}

func TestCreateRoom_Live(t *testing.T) {
	p, fake := newLive(t)
	room, err := p.CreateRoom(context.Background(), video.RoomOptions{Name: "visit-42", MaxParticipants: 3, Duration: 30})
	if err != nil {
		t.Fatalf("CreateRoom() error: %v", err)
	}
	if room.ID != "RM001" {
		t.Errorf("ID = %q, want RM001", room.ID)
	}
	if room.Name != "visit-42" {
		t.Errorf("Name = %q, want visit-42", room.Name)
	}
	if room.Settings.MaxParticipants != 3 {
		t.Errorf("MaxParticipants = %d, want 3", room.Settings.MaxParticipants)
	}
	want := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	if !room.CreatedAt.Equal(want) {
		t.Errorf("CreatedAt = %v, want %v", room.CreatedAt, want)
	}

	checks := map[string]string{
		"UniqueName":                  "visit-42",
		"Type":                        "group",
		"MaxParticipants":             "3",
		"MaxParticipantDuration":      "1800",
		"RecordParticipantsOnConnect": "false",
	}
	for k, v := range checks {
		if got := fake.formValue(k); got != v {
			t.Errorf("form[%s] = %q, want %q", k, got, v)
		}
	}
}

func TestParticipants_Live(t *testing.T) {
	p, fake := newLive(t)
	ctx := context.Background()
	room, _ := p.CreateRoom(ctx, video.RoomOptions{MaxParticipants: 2})

	fake.mu.Lock()
	fake.participants[room.ID] = []participantResource{
		{SID: "PA1", Identity: "resident-7", Status: "connected"},
		{SID: "PA2", Identity: "visitor-3", Status: "connected"},
	}
	fake.mu.Unlock()

	info, err := p.GetRoomInfo(ctx, room.ID)
	if err != nil {
		t.Fatalf("GetRoomInfo() error: %v", err)
	}
	if len(info.Participants) != 2 || info.Participants[0].ID != "resident-7" {
		t.Errorf("Participants = %+v, want resident-7, visitor-3", info.Participants)
	}

	err = p.JoinRoom(ctx, room.ID, video.Participant{ID: "visitor-9", Role: video.RoleVisitor})
	if !video.IsValidation(err) {
		t.Errorf("JoinRoom(full) error = %v, want validation error", err)
	}
	if err := p.JoinRoom(ctx, room.ID, video.Participant{ID: "visitor-3", Role: video.RoleVisitor}); err != nil {
		t.Errorf("JoinRoom(already connected) error: %v", err)
	}

	if err := p.LeaveRoom(ctx, room.ID, "visitor-3"); err != nil {
		t.Fatalf("LeaveRoom() error: %v", err)
	}
	if got := fake.formValue("Status"); got != "disconnected" {
		t.Errorf("Status = %q, want disconnected", got)
	}
	if err := p.LeaveRoom(ctx, room.ID, "visitor-3"); !video.IsValidation(err) {
		t.Errorf("second LeaveRoom() error = %v, want validation error", err)
	}
}

func TestRecordingRules_Live(t *testing.T) {
	p, fake := newLive(t)
	ctx := context.Background()
	room, _ := p.CreateRoom(ctx, video.RoomOptions{})

	rec, err := p.StartRecording(ctx, room.ID, video.RecordingOptions{})
	if err != nil {
		t.Fatalf("StartRecording() error: %v", err)
	}
	if !strings.HasPrefix(rec.ID, "rec-") {
		t.Errorf("recording ID = %q, want rec- prefix", rec.ID)
	}
	if err := p.PauseRecording(ctx, room.ID); err != nil {
		t.Fatalf("PauseRecording() error: %v", err)
	}
	if err := p.ResumeRecording(ctx, room.ID); err != nil {
		t.Fatalf("ResumeRecording() error: %v", err)
	}
	if err := p.StopRecording(ctx, room.ID); err != nil {
		t.Fatalf("StopRecording() error: %v", err)
	}

	want := []string{rulesIncludeAll, rulesExcludeAll, rulesIncludeAll, rulesExcludeAll}
	rules := fake.recordedRules()
	if len(rules) != len(want) {
		t.Fatalf("rules = %v, want %v", rules, want)
	}
	for i := range want {
		if rules[i] != want[i] {
			t.Errorf("rules[%d] = %s, want %s", i, rules[i], want[i])
		}
	}

	got, err := p.GetRecording(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetRecording() error: %v", err)
	}
	if got.Status != video.RecordingStopped {
		t.Errorf("Status = %q, want stopped", got.Status)
	}
}

func TestGetRoomInfo_NotFound(t *testing.T) {
	p, _ := newLive(t)
	_, err := p.GetRoomInfo(context.Background(), "RM404")
	if !video.IsValidation(err) || !errors.Is(err, video.ErrRoomNotFound) {
		t.Fatalf("GetRoomInfo() error = %v, want room not found", err)
	}
	if video.StatusCode(err) != http.StatusNotFound {
		t.Errorf("StatusCode = %d, want 404", video.StatusCode(err))
	}
}

func TestBackendFailure(t *testing.T) {
	p, fake := newLive(t)
	fake.mu.Lock()
	fake.failStatus = http.StatusServiceUnavailable
	fake.mu.Unlock()

	_, err := p.ListRooms(context.Background())
	if !video.IsBackend(err) {
		t.Fatalf("ListRooms() error = %v, want backend error", err)
	}
	if video.StatusCode(err) != http.StatusServiceUnavailable {
		t.Errorf("StatusCode = %d, want 503", video.StatusCode(err))
	}
	if !strings.Contains(err.Error(), "service unavailable (code 53000)") {
		t.Errorf("error = %q, want API message", err)
	}
}

func TestUpdateRoomSettings_Live(t *testing.T) {
	p, _ := newLive(t)
	ctx := context.Background()
	room, _ := p.CreateRoom(ctx, video.RoomOptions{MaxParticipants: 4})

	spotlight := video.LayoutSpotlight
	updated, err := p.UpdateRoomSettings(ctx, room.ID, video.RoomSettingsUpdate{Layout: &spotlight})
	if err != nil {
		t.Fatalf("UpdateRoomSettings(layout) error: %v", err)
	}
	if updated.Settings.Layout != video.LayoutSpotlight || updated.Settings.MaxParticipants != 4 {
		t.Errorf("Settings = %+v, want spotlight with 4 participants", updated.Settings)
	}

	six := 6
	_, err = p.UpdateRoomSettings(ctx, room.ID, video.RoomSettingsUpdate{MaxParticipants: &six})
	if !video.IsBackend(err) || !errors.Is(err, video.ErrUnsupported) {
		t.Errorf("UpdateRoomSettings(max) error = %v, want unsupported backend error", err)
	}
}

func TestDisconnect_CompletesRooms(t *testing.T) {
	p, fake := newLive(t)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := p.CreateRoom(ctx, video.RoomOptions{}); err != nil {
			t.Fatalf("CreateRoom() error: %v", err)
		}
	}
	if err := p.Disconnect(ctx); err != nil {
		t.Fatalf("Disconnect() error: %v", err)
	}
	fake.mu.Lock()
	for sid, room := range fake.rooms {
		if room.Status != RoomStatusCompleted {
			t.Errorf("room %s status = %q, want completed", sid, room.Status)
		}
	}
	fake.mu.Unlock()
	if err := p.Disconnect(ctx); err != nil {
		t.Errorf("second Disconnect() error: %v", err)
	}
}

func TestJoinToken_Live(t *testing.T) {
	p, _ := newLive(t)
	ctx := context.Background()
	room, _ := p.CreateRoom(ctx, video.RoomOptions{})

	signed, err := p.JoinToken(ctx, room.ID, video.Participant{ID: "attorney-1", Role: video.RoleAttorney})
	if err != nil {
		t.Fatalf("JoinToken() error: %v", err)
	}

	token, err := jwt.Parse(signed, func(*jwt.Token) (any, error) { return []byte("secret"), nil },
		jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		t.Fatalf("parsing token: %v", err)
	}
	if token.Header["cty"] != "twilio-fpa;v=1" {
		t.Errorf("cty = %v, want twilio-fpa;v=1", token.Header["cty"])
	}
	claims := token.Claims.(jwt.MapClaims)
	if claims["iss"] != "SKtest" || claims["sub"] != "ACtest" {
		t.Errorf("iss/sub = %v/%v, want SKtest/ACtest", claims["iss"], claims["sub"])
	}
	grants, _ := claims["grants"].(map[string]any)
	if grants["identity"] != "attorney-1" {
		t.Errorf("identity = %v, want attorney-1", grants["identity"])
	}
	videoGrant, _ := grants["video"].(map[string]any)
	if videoGrant["room"] != room.ID {
		t.Errorf("video.room = %v, want %s", videoGrant["room"], room.ID)
	}
}

func TestNewAccessToken_RequiresCredentials(t *testing.T) {
	_, err := NewAccessToken("", "SK", "secret", AccessGrant{Identity: "x"}, time.Hour, time.Now())
	if err == nil {
		t.Fatal("NewAccessToken() with no account sid: expected error")
	}
	_, err = NewAccessToken("AC", "SK", "secret", AccessGrant{}, time.Hour, time.Now())
	if err == nil {
		t.Fatal("NewAccessToken() with no identity: expected error")
	}
}
