package daily

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/jdgilhuly/visitvideo/pkg/video"
	"github.com/jdgilhuly/visitvideo/pkg/video/internal/rest"
)

type roomProperties struct {
	MaxParticipants int    `json:"max_participants,omitempty"`
	Exp             int64  `json:"exp,omitempty"`
	EnableRecording string `json:"enable_recording,omitempty"`
	EjectAtRoomExp  bool   `json:"eject_at_room_exp,omitempty"`
}

type createRoomRequest struct {
	Name       string         `json:"name,omitempty"`
	Privacy    string         `json:"privacy"`
	Properties roomProperties `json:"properties"`
}

type updateRoomRequest struct {
	Properties roomProperties `json:"properties"`
}

type roomResource struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	URL       string         `json:"url"`
	CreatedAt time.Time      `json:"created_at"`
	Config    roomProperties `json:"config"`
}

type roomList struct {
	TotalCount int            `json:"total_count"`
	Data       []roomResource `json:"data"`
}

type presence struct {
	ID       string `json:"id"`
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

type presenceList struct {
	TotalCount int        `json:"total_count"`
	Data       []presence `json:"data"`
}

type recordingLayout struct {
	Preset string `json:"preset"`
}

type startRecordingRequest struct {
	Layout recordingLayout `json:"layout"`
}

type startRecordingResponse struct {
	RecordingID string `json:"recordingId"`
}

type tokenProperties struct {
	RoomName string `json:"room_name"`
	UserID   string `json:"user_id"`
	UserName string `json:"user_name,omitempty"`
	IsOwner  bool   `json:"is_owner"`
	Exp      int64  `json:"exp,omitempty"`
}

type tokenRequest struct {
	Properties tokenProperties `json:"properties"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

type apiError struct {
	Error string `json:"error"`
	Info  string `json:"info"`
}

// layoutPresets maps room layouts onto Daily's cloud recording presets.
var layoutPresets = map[video.Layout]string{
	video.LayoutGrid:         "default",
	video.LayoutSpotlight:    "active-participant",
	video.LayoutPresentation: "single-participant",
}

type restBackend struct {
	api *rest.Client
	now func() time.Time
	log *logrus.Entry

	mu      sync.Mutex
	created []string
}

func newRESTBackend(apiKey, baseURL string, client *http.Client, now func() time.Time, log *logrus.Entry) *restBackend {
	return &restBackend{
		api: &rest.Client{
			BaseURL: baseURL,
			HTTP:    client,
			Authorize: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer "+apiKey)
			},
			ErrorMessage: func(body []byte) string {
				var e apiError
				if json.Unmarshal(body, &e) == nil && e.Error != "" {
					if e.Info != "" {
						return e.Error + ": " + e.Info
					}
					return e.Error
				}
				return ""
			},
		},
		now: now,
		log: log,
	}
}

func roomPath(name string) string { return "/rooms/" + url.PathEscape(name) }

// Daily addresses rooms by name, so the name doubles as the room id.
func (r roomResource) state() *video.RoomState {
	return &video.RoomState{
		ID:              r.Name,
		Name:            r.Name,
		CreatedAt:       r.CreatedAt,
		MaxParticipants: r.Config.MaxParticipants,
	}
}

func (b *restBackend) expiry(minutes int) int64 {
	if minutes <= 0 {
		return 0
	}
	return b.now().Add(time.Duration(minutes) * time.Minute).Unix()
}

func (b *restBackend) CreateRoom(ctx context.Context, spec video.RoomSpec) (*video.RoomState, error) {
	req := createRoomRequest{
		Name:    spec.Name,
		Privacy: "private",
		Properties: roomProperties{
			MaxParticipants: spec.MaxParticipants,
			Exp:             b.expiry(spec.Duration),
			EnableRecording: "cloud",
			EjectAtRoomExp:  true,
		},
	}
	var res roomResource
	if err := b.api.JSON(ctx, http.MethodPost, "/rooms", req, &res); err != nil {
		return nil, fmt.Errorf("creating room: %w", err)
	}
	b.mu.Lock()
	b.created = append(b.created, res.Name)
	b.mu.Unlock()
	return res.state(), nil
}

func (b *restBackend) presence(ctx context.Context, name string) ([]video.Participant, error) {
	var list presenceList
	if err := b.api.JSON(ctx, http.MethodGet, roomPath(name)+"/presence", nil, &list); err != nil {
		return nil, fmt.Errorf("fetching presence: %w", err)
	}
	out := make([]video.Participant, 0, len(list.Data))
	for _, p := range list.Data {
		id := p.UserID
		if id == "" {
			id = p.ID
		}
		out = append(out, video.Participant{ID: id, Name: p.UserName})
	}
	return out, nil
}

func (b *restBackend) GetRoom(ctx context.Context, roomID string) (*video.RoomState, error) {
	var res roomResource
	if err := b.api.JSON(ctx, http.MethodGet, roomPath(roomID), nil, &res); err != nil {
		return nil, rest.RoomNotFound(err, roomID)
	}
	st := res.state()
	var err error
	if st.Participants, err = b.presence(ctx, res.Name); err != nil {
		return nil, err
	}
	return st, nil
}

func (b *restBackend) ListRooms(ctx context.Context) ([]*video.RoomState, error) {
	var list roomList
	if err := b.api.JSON(ctx, http.MethodGet, "/rooms", nil, &list); err != nil {
		return nil, fmt.Errorf("listing rooms: %w", err)
	}
	out := make([]*video.RoomState, 0, len(list.Data))
	for _, r := range list.Data {
		out = append(out, r.state())
	}
	return out, nil
}

func (b *restBackend) UpdateRoom(ctx context.Context, roomID string, spec video.RoomSpec) error {
	req := updateRoomRequest{Properties: roomProperties{
		MaxParticipants: spec.MaxParticipants,
		Exp:             b.expiry(spec.Duration),
	}}
	if err := b.api.JSON(ctx, http.MethodPost, roomPath(roomID), req, nil); err != nil {
		return fmt.Errorf("updating room: %w", rest.RoomNotFound(err, roomID))
	}
	return nil
}

// AddParticipant checks capacity; the client joins with a meeting token.
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
	return nil
}

func (b *restBackend) RemoveParticipant(ctx context.Context, roomID, participantID string) error {
	present, err := b.presence(ctx, roomID)
	if err != nil {
		return rest.RoomNotFound(err, roomID)
	}
	found := false
	for _, p := range present {
		if p.ID == participantID {
			found = true
			break
		}
	}
	if !found {
		return video.NewValidationError(fmt.Errorf("participant %s is not in room %s", participantID, roomID))
	}
	body := map[string][]string{"user_ids": {participantID}}
	if err := b.api.JSON(ctx, http.MethodPost, roomPath(roomID)+"/eject", body, nil); err != nil {
		return fmt.Errorf("ejecting participant: %w", err)
	}
	return nil
}

func (b *restBackend) startSegment(ctx context.Context, roomID string, spec video.RecordingSpec) (string, error) {
	preset, ok := layoutPresets[spec.Layout]
	if !ok {
		preset = "default"
	}
	var res startRecordingResponse
	err := b.api.JSON(ctx, http.MethodPost, roomPath(roomID)+"/recordings/start",
		startRecordingRequest{Layout: recordingLayout{Preset: preset}}, &res)
	if err != nil {
		return "", fmt.Errorf("starting recording: %w", rest.RoomNotFound(err, roomID))
	}
	if res.RecordingID == "" {
		return uuid.NewString(), nil
	}
	return res.RecordingID, nil
}

func (b *restBackend) stopSegment(ctx context.Context, roomID string) error {
	if err := b.api.JSON(ctx, http.MethodPost, roomPath(roomID)+"/recordings/stop", struct{}{}, nil); err != nil {
		return fmt.Errorf("stopping recording: %w", rest.RoomNotFound(err, roomID))
	}
	return nil
}

func (b *restBackend) StartRecording(ctx context.Context, roomID string, spec video.RecordingSpec) (string, error) {
	return b.startSegment(ctx, roomID, spec)
}

func (b *restBackend) PauseRecording(ctx context.Context, roomID, _ string) error {
	return b.stopSegment(ctx, roomID)
}

func (b *restBackend) ResumeRecording(ctx context.Context, roomID, _ string, spec video.RecordingSpec) (string, error) {
	return b.startSegment(ctx, roomID, spec)
}

func (b *restBackend) StopRecording(ctx context.Context, roomID, _ string, paused bool) error {
	if paused {
		return nil
	}
	return b.stopSegment(ctx, roomID)
}

// JoinToken requests a meeting token. Staff join as room owners.
func (b *restBackend) JoinToken(ctx context.Context, roomID string, p video.Participant) (string, error) {
	req := tokenRequest{Properties: tokenProperties{
		RoomName: roomID,
		UserID:   p.ID,
		UserName: p.Name,
		IsOwner:  p.Role == video.RoleStaff,
		Exp:      b.expiry(video.DefaultDuration * 2),
	}}
	var res tokenResponse
	if err := b.api.JSON(ctx, http.MethodPost, "/meeting-tokens", req, &res); err != nil {
		return "", fmt.Errorf("creating meeting token: %w", err)
	}
	return res.Token, nil
}

// Close deletes the rooms this backend created.
func (b *restBackend) Close(ctx context.Context) error {
	b.mu.Lock()
	rooms := b.created
	b.created = nil
	b.mu.Unlock()

	var errs []error
	for _, name := range rooms {
		err := b.api.JSON(ctx, http.MethodDelete, roomPath(name), nil, nil)
		if err != nil && !rest.NotFound(err) {
			errs = append(errs, fmt.Errorf("deleting room %s: %w", name, err))
			continue
		}
		b.log.WithField("room_id", name).Debug("room deleted")
	}
	return errors.Join(errs...)
}
