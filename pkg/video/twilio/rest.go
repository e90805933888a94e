package twilio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/jdgilhuly/visitvideo/pkg/video"
	"github.com/jdgilhuly/visitvideo/pkg/video/internal/rest"
)

// Recording rules that switch capture for every track in a room.
const (
	rulesIncludeAll = `[{"type":"include","all":true}]`
	rulesExcludeAll = `[{"type":"exclude","all":true}]`
)

type roomResource struct {
	SID             string `json:"sid"`
	UniqueName      string `json:"unique_name"`
	Status          string `json:"status"`
	DateCreated     string `json:"date_created"`
	MaxParticipants int    `json:"max_participants"`
}

type roomList struct {
	Rooms []roomResource `json:"rooms"`
}

type participantResource struct {
	SID      string `json:"sid"`
	Identity string `json:"identity"`
	Status   string `json:"status"`
}

type participantList struct {
	Participants []participantResource `json:"participants"`
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// restBackend implements video.Backend against the Twilio Video REST API.
type restBackend struct {
	api      *rest.Client
	cfg      video.ProviderConfig
	tokenTTL time.Duration
	log      *logrus.Entry
	now      func() time.Time

	mu      sync.Mutex
	created []string
}

func newRESTBackend(cfg video.ProviderConfig, baseURL string, client *http.Client, ttl time.Duration, log *logrus.Entry) *restBackend {
	return &restBackend{
		api: &rest.Client{
			BaseURL: baseURL,
			HTTP:    client,
			Authorize: func(r *http.Request) {
				r.SetBasicAuth(cfg.APIKey, cfg.APISecret)
			},
			ErrorMessage: func(body []byte) string {
				var e apiError
				if json.Unmarshal(body, &e) == nil && e.Message != "" {
					return fmt.Sprintf("%s (code %d)", e.Message, e.Code)
				}
				return ""
			},
		},
		cfg:      cfg,
		tokenTTL: ttl,
		log:      log,
		now:      time.Now,
	}
}

func roomPath(sid string) string { return "/Rooms/" + url.PathEscape(sid) }

func (r roomResource) state() *video.RoomState {
	created, _ := time.Parse(time.RFC3339, r.DateCreated)
	return &video.RoomState{
		ID:              r.SID,
		Name:            r.UniqueName,
		CreatedAt:       created,
		MaxParticipants: r.MaxParticipants,
	}
}

func (b *restBackend) CreateRoom(ctx context.Context, spec video.RoomSpec) (*video.RoomState, error) {
	form := url.Values{}
	form.Set("Type", "group")
	form.Set("MaxParticipants", strconv.Itoa(spec.MaxParticipants))
	form.Set("RecordParticipantsOnConnect", "false")
	if spec.Name != "" {
		form.Set("UniqueName", spec.Name)
	}
	if spec.Duration > 0 {
		form.Set("MaxParticipantDuration", strconv.Itoa(spec.Duration*60))
	}

	var res roomResource
	if err := b.api.Form(ctx, http.MethodPost, "/Rooms", form, &res); err != nil {
		return nil, fmt.Errorf("creating room: %w", err)
	}
	b.mu.Lock()
	b.created = append(b.created, res.SID)
	b.mu.Unlock()
	return res.state(), nil
}

func (b *restBackend) fetchRoom(ctx context.Context, roomID string) (*roomResource, error) {
	var res roomResource
	if err := b.api.JSON(ctx, http.MethodGet, roomPath(roomID), nil, &res); err != nil {
		return nil, rest.RoomNotFound(err, roomID)
	}
	if res.Status == RoomStatusCompleted {
		return nil, video.NewValidationError(fmt.Errorf("%w: %s is completed", video.ErrRoomNotFound, roomID))
	}
	return &res, nil
}

func (b *restBackend) participants(ctx context.Context, roomID string) ([]video.Participant, error) {
	var list participantList
	path := roomPath(roomID) + "/Participants?Status=connected"
	if err := b.api.JSON(ctx, http.MethodGet, path, nil, &list); err != nil {
		return nil, fmt.Errorf("listing participants: %w", err)
	}
	out := make([]video.Participant, 0, len(list.Participants))
	for _, p := range list.Participants {
		out = append(out, video.Participant{ID: p.Identity, Name: p.Identity})
	}
	return out, nil
}

func (b *restBackend) GetRoom(ctx context.Context, roomID string) (*video.RoomState, error) {
	res, err := b.fetchRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	st := res.state()
	if st.Participants, err = b.participants(ctx, res.SID); err != nil {
		return nil, err
	}
	return st, nil
}

// ListRooms returns in-progress rooms without participants; callers needing
// membership fetch the room individually.
func (b *restBackend) ListRooms(ctx context.Context) ([]*video.RoomState, error) {
	var list roomList
	if err := b.api.JSON(ctx, http.MethodGet, "/Rooms?Status="+RoomStatusInProgress, nil, &list); err != nil {
		return nil, fmt.Errorf("listing rooms: %w", err)
	}
	out := make([]*video.RoomState, 0, len(list.Rooms))
	for _, r := range list.Rooms {
		out = append(out, r.state())
	}
	return out, nil
}

// UpdateRoom fails when capacity changes: Twilio fixes it at creation.
// Duration is only enforced per participant and is kept adapter-side.
func (b *restBackend) UpdateRoom(ctx context.Context, roomID string, spec video.RoomSpec) error {
	res, err := b.fetchRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if res.MaxParticipants != 0 && res.MaxParticipants != spec.MaxParticipants {
		return video.NewBackendError(fmt.Errorf("changing max participants: %w", video.ErrUnsupported))
	}
	return nil
}

// AddParticipant checks that the room can take the participant. Media
// membership is established by the client connecting with a JoinToken.
func (b *restBackend) AddParticipant(ctx context.Context, roomID string, p video.Participant) error {
	st, err := b.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	for _, existing := range st.Participants {
		if existing.ID == p.ID {
			return nil
		}
	}
	if st.MaxParticipants > 0 && len(st.Participants) >= st.MaxParticipants {
		return video.NewValidationError(fmt.Errorf("room %s is full (%d participants)", roomID, st.MaxParticipants))
	}
	b.log.WithFields(logrus.Fields{"room_id": roomID, "participant": p.ID}).Debug("participant admitted; awaiting client connection")
	return nil
}

func (b *restBackend) RemoveParticipant(ctx context.Context, roomID, participantID string) error {
	form := url.Values{}
	form.Set("Status", "disconnected")
	path := roomPath(roomID) + "/Participants/" + url.PathEscape(participantID)
	if err := b.api.Form(ctx, http.MethodPost, path, form, nil); err != nil {
		if rest.NotFound(err) {
			return video.NewValidationError(fmt.Errorf("participant %s is not in room %s: %w", participantID, roomID, err))
		}
		return fmt.Errorf("disconnecting participant: %w", err)
	}
	return nil
}

func (b *restBackend) setRules(ctx context.Context, roomID, rules string) error {
	form := url.Values{}
	form.Set("Rules", rules)
	if err := b.api.Form(ctx, http.MethodPost, roomPath(roomID)+"/RecordingRules", form, nil); err != nil {
		return fmt.Errorf("updating recording rules: %w", rest.RoomNotFound(err, roomID))
	}
	return nil
}

// StartRecording includes every track. Twilio records per track, so the
// logical recording id is minted here.
func (b *restBackend) StartRecording(ctx context.Context, roomID string, _ video.RecordingSpec) (string, error) {
	if err := b.setRules(ctx, roomID, rulesIncludeAll); err != nil {
		return "", err
	}
	return "rec-" + uuid.NewString(), nil
}

func (b *restBackend) PauseRecording(ctx context.Context, roomID, _ string) error {
	return b.setRules(ctx, roomID, rulesExcludeAll)
}

func (b *restBackend) ResumeRecording(ctx context.Context, roomID, segmentID string, _ video.RecordingSpec) (string, error) {
	return segmentID, b.setRules(ctx, roomID, rulesIncludeAll)
}

func (b *restBackend) StopRecording(ctx context.Context, roomID, _ string, paused bool) error {
	if paused {
		return nil
	}
	return b.setRules(ctx, roomID, rulesExcludeAll)
}

func (b *restBackend) JoinToken(_ context.Context, roomID string, p video.Participant) (string, error) {
	return NewAccessToken(b.cfg.AccountID, b.cfg.APIKey, b.cfg.APISecret, AccessGrant{
		Identity: p.ID,
		Room:     roomID,
	}, b.tokenTTL, b.now())
}

// Close completes the rooms this backend created. Rooms already completed
// or gone are skipped.
func (b *restBackend) Close(ctx context.Context) error {
	b.mu.Lock()
	rooms := b.created
	b.created = nil
	b.mu.Unlock()

	var errs []error
	for _, sid := range rooms {
		form := url.Values{}
		form.Set("Status", RoomStatusCompleted)
		err := b.api.Form(ctx, http.MethodPost, roomPath(sid), form, nil)
		switch {
		case err == nil:
			b.log.WithField("room_id", sid).Debug("room completed")
		case rest.NotFound(err) || video.StatusCode(err) == http.StatusBadRequest:
		default:
			errs = append(errs, fmt.Errorf("completing room %s: %w", sid, err))
		}
	}
	return errors.Join(errs...)
}
