package googlemeet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/jdgilhuly/visitvideo/pkg/video"
	"github.com/jdgilhuly/visitvideo/pkg/video/internal/rest"
)

const spacePrefix = "spaces/"

type spaceConfig struct {
	AccessType       string `json:"accessType,omitempty"`
	EntryPointAccess string `json:"entryPointAccess,omitempty"`
}

type activeConference struct {
	ConferenceRecord string `json:"conferenceRecord"`
}

type space struct {
	Name             string            `json:"name,omitempty"`
	MeetingURI       string            `json:"meetingUri,omitempty"`
	MeetingCode      string            `json:"meetingCode,omitempty"`
	Config           *spaceConfig      `json:"config,omitempty"`
	ActiveConference *activeConference `json:"activeConference,omitempty"`
}

type displayUser struct {
	User        string `json:"user,omitempty"`
	DisplayName string `json:"displayName"`
}

type participant struct {
	Name          string       `json:"name"`
	SignedinUser  *displayUser `json:"signedinUser,omitempty"`
	AnonymousUser *displayUser `json:"anonymousUser,omitempty"`
	PhoneUser     *displayUser `json:"phoneUser,omitempty"`
}

type participantList struct {
	Participants  []participant `json:"participants"`
	NextPageToken string        `json:"nextPageToken,omitempty"`
}

type apiError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

type restBackend struct {
	api *rest.Client
	log *logrus.Entry

	mu       sync.Mutex
	created  []string
	capacity map[string]int
}

func newRESTBackend(token, baseURL string, client *http.Client, log *logrus.Entry) *restBackend {
	return &restBackend{
		api: &rest.Client{
			BaseURL: baseURL,
			HTTP:    client,
			Authorize: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer "+token)
			},
			ErrorMessage: func(body []byte) string {
				var e apiError
				if json.Unmarshal(body, &e) == nil && e.Error.Message != "" {
					return e.Error.Status + ": " + e.Error.Message
				}
				return ""
			},
		},
		log:      log,
		capacity: make(map[string]int),
	}
}

func unsupported(what string) error {
	return video.NewBackendError(fmt.Errorf("google meet %s: %w", what, video.ErrUnsupported))
}

func spacePath(id string) string { return "/" + spacePrefix + url.PathEscape(id) }

func (s *space) id() string { return strings.TrimPrefix(s.Name, spacePrefix) }

func (s *space) state() *video.RoomState {
	return &video.RoomState{ID: s.id(), Name: s.MeetingCode}
}

func (b *restBackend) CreateRoom(ctx context.Context, spec video.RoomSpec) (*video.RoomState, error) {
	req := space{Config: &spaceConfig{AccessType: "RESTRICTED", EntryPointAccess: "ALL"}}
	var res space
	if err := b.api.JSON(ctx, http.MethodPost, "/spaces", req, &res); err != nil {
		return nil, fmt.Errorf("creating space: %w", err)
	}
	b.mu.Lock()
	b.created = append(b.created, res.id())
	b.capacity[res.id()] = spec.MaxParticipants
	b.mu.Unlock()
	return res.state(), nil
}

func (b *restBackend) fetchSpace(ctx context.Context, roomID string) (*space, error) {
	var res space
	if err := b.api.JSON(ctx, http.MethodGet, spacePath(roomID), nil, &res); err != nil {
		return nil, rest.RoomNotFound(err, roomID)
	}
	return &res, nil
}

// participants lists everyone still connected to the active conference.
func (b *restBackend) participants(ctx context.Context, s *space) ([]video.Participant, error) {
	if s.ActiveConference == nil || s.ActiveConference.ConferenceRecord == "" {
		return []video.Participant{}, nil
	}
	query := url.Values{}
	query.Set("filter", "latest_end_time IS NULL")
	base := "/" + s.ActiveConference.ConferenceRecord + "/participants"

	var out []video.Participant
	for {
		var page participantList
		if err := b.api.JSON(ctx, http.MethodGet, base+"?"+query.Encode(), nil, &page); err != nil {
			return nil, fmt.Errorf("listing participants: %w", err)
		}
		for _, p := range page.Participants {
			out = append(out, toParticipant(p))
		}
		if page.NextPageToken == "" {
			return out, nil
		}
		query.Set("pageToken", page.NextPageToken)
	}
}

func toParticipant(p participant) video.Participant {
	out := video.Participant{ID: p.Name[strings.LastIndex(p.Name, "/")+1:]}
	for _, u := range []*displayUser{p.SignedinUser, p.AnonymousUser, p.PhoneUser} {
		if u != nil {
			out.Name = u.DisplayName
			if u.User != "" {
				out.ID = strings.TrimPrefix(u.User, "users/")
			}
			break
		}
	}
	return out
}

func (b *restBackend) GetRoom(ctx context.Context, roomID string) (*video.RoomState, error) {
	s, err := b.fetchSpace(ctx, roomID)
	if err != nil {
		return nil, err
	}
	st := s.state()
	if st.Participants, err = b.participants(ctx, s); err != nil {
		return nil, err
	}
	return st, nil
}

// ListRooms returns the spaces this backend created; Meet has no listing call.
func (b *restBackend) ListRooms(ctx context.Context) ([]*video.RoomState, error) {
	b.mu.Lock()
	ids := append([]string(nil), b.created...)
	b.mu.Unlock()

	out := make([]*video.RoomState, 0, len(ids))
	for _, id := range ids {
		s, err := b.fetchSpace(ctx, id)
		if errors.Is(err, video.ErrRoomNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, s.state())
	}
	return out, nil
}

// UpdateRoom records the new capacity after confirming the space exists.
// Meet itself has no capacity or duration setting.
func (b *restBackend) UpdateRoom(ctx context.Context, roomID string, spec video.RoomSpec) error {
	if _, err := b.fetchSpace(ctx, roomID); err != nil {
		return err
	}
	b.mu.Lock()
	b.capacity[roomID] = spec.MaxParticipants
	b.mu.Unlock()
	return nil
}

// AddParticipant checks the space exists and has room; the client joins
// via the meeting URI.
func (b *restBackend) AddParticipant(ctx context.Context, roomID string, p video.Participant) error {
	st, err := b.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	b.mu.Lock()
	limit := b.capacity[roomID]
	b.mu.Unlock()
	for _, existing := range st.Participants {
		if existing.ID == p.ID {
			return nil
		}
	}
	if limit > 0 && len(st.Participants) >= limit {
		return video.NewValidationError(fmt.Errorf("room %s is full (%d participants)", roomID, limit))
	}
	return nil
}

func (b *restBackend) RemoveParticipant(context.Context, string, string) error {
	return unsupported("participant removal")
}

func (b *restBackend) StartRecording(context.Context, string, video.RecordingSpec) (string, error) {
	return "", unsupported("recording")
}

func (b *restBackend) PauseRecording(context.Context, string, string) error {
	return unsupported("recording")
}

func (b *restBackend) ResumeRecording(context.Context, string, string, video.RecordingSpec) (string, error) {
	return "", unsupported("recording")
}

func (b *restBackend) StopRecording(context.Context, string, string, bool) error {
	return unsupported("recording")
}

// JoinToken returns the meeting URI. Meet has no per-participant tokens;
// access is governed by the space's access type.
func (b *restBackend) JoinToken(ctx context.Context, roomID string, _ video.Participant) (string, error) {
	s, err := b.fetchSpace(ctx, roomID)
	if err != nil {
		return "", err
	}
	return s.MeetingURI, nil
}

// Close ends any active conference in the spaces this backend created.
func (b *restBackend) Close(ctx context.Context) error {
	b.mu.Lock()
	ids := b.created
	b.created = nil
	b.mu.Unlock()

	var errs []error
	for _, id := range ids {
		err := b.api.JSON(ctx, http.MethodPost, spacePath(id)+":endActiveConference", struct{}{}, nil)
		switch {
		case err == nil:
			b.log.WithField("room_id", id).Debug("conference ended")
		case rest.NotFound(err) || video.StatusCode(err) == http.StatusBadRequest:
			// no conference in progress
		default:
			errs = append(errs, fmt.Errorf("ending conference in %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}
