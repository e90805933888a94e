package livekit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/livekit/protocol/auth"
	lkproto "github.com/livekit/protocol/livekit"
	"github.com/sirupsen/logrus"
	"github.com/twitchtv/twirp"

	"github.com/jdgilhuly/visitvideo/pkg/video"
	"github.com/jdgilhuly/visitvideo/pkg/video/internal/rest"
)

// defaultRecordingPath uses egress filename templating.
const defaultRecordingPath = "recordings/{room_name}-{time}.mp4"

// roomService is the subset of lksdk.RoomServiceClient the backend uses.
type roomService interface {
	CreateRoom(ctx context.Context, req *lkproto.CreateRoomRequest) (*lkproto.Room, error)
	ListRooms(ctx context.Context, req *lkproto.ListRoomsRequest) (*lkproto.ListRoomsResponse, error)
	DeleteRoom(ctx context.Context, req *lkproto.DeleteRoomRequest) (*lkproto.DeleteRoomResponse, error)
	UpdateRoomMetadata(ctx context.Context, req *lkproto.UpdateRoomMetadataRequest) (*lkproto.Room, error)
	ListParticipants(ctx context.Context, req *lkproto.ListParticipantsRequest) (*lkproto.ListParticipantsResponse, error)
	RemoveParticipant(ctx context.Context, req *lkproto.RoomParticipantIdentity) (*lkproto.RemoveParticipantResponse, error)
}

// egressService is the subset of lksdk.EgressClient the backend uses.
type egressService interface {
	StartRoomCompositeEgress(ctx context.Context, req *lkproto.RoomCompositeEgressRequest) (*lkproto.EgressInfo, error)
	StopEgress(ctx context.Context, req *lkproto.StopEgressRequest) (*lkproto.EgressInfo, error)
}

// egressLayouts maps room layouts onto the built-in composite templates.
var egressLayouts = map[video.Layout]string{
	video.LayoutGrid:         "grid",
	video.LayoutSpotlight:    "speaker",
	video.LayoutPresentation: "single-speaker",
}

// roomMetadata is stored on the LiveKit room; the server has no notion of
// a scheduled duration.
type roomMetadata struct {
	DurationMinutes int  `json:"duration_minutes,omitempty"`
	Encrypted       bool `json:"encrypted,omitempty"`
}

type participantMetadata struct {
	Role video.Role `json:"role,omitempty"`
}

type sdkBackend struct {
	rooms         roomService
	egress        egressService
	apiKey        string
	apiSecret     string
	tokenTTL      time.Duration
	recordingPath string
	timeout       time.Duration
	log           *logrus.Entry

	mu      sync.Mutex
	created []string
}

func (b *sdkBackend) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if b.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, b.timeout)
}

// apiError converts a twirp error into an HTTPError so the shared
// not-found helpers apply.
func apiError(err error) error {
	var te twirp.Error
	if errors.As(err, &te) {
		return &video.HTTPError{
			StatusCode: twirp.ServerHTTPStatusFromErrorCode(te.Code()),
			Message:    fmt.Sprintf("%s: %s", te.Code(), te.Msg()),
		}
	}
	return err
}

func encodeMetadata(spec video.RoomSpec) string {
	data, _ := json.Marshal(roomMetadata{DurationMinutes: spec.Duration, Encrypted: spec.EncryptionEnabled})
	return string(data)
}

func toState(r *lkproto.Room) *video.RoomState {
	st := &video.RoomState{
		ID:              r.GetName(),
		Name:            r.GetName(),
		MaxParticipants: int(r.GetMaxParticipants()),
	}
	if r.GetCreationTime() > 0 {
		st.CreatedAt = time.Unix(r.GetCreationTime(), 0).UTC()
	}
	return st
}

func toParticipant(p *lkproto.ParticipantInfo) video.Participant {
	out := video.Participant{ID: p.GetIdentity(), Name: p.GetName()}
	var meta participantMetadata
	if p.GetMetadata() != "" && json.Unmarshal([]byte(p.GetMetadata()), &meta) == nil {
		out.Role = meta.Role
	}
	return out
}

func (b *sdkBackend) CreateRoom(ctx context.Context, spec video.RoomSpec) (*video.RoomState, error) {
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()

	name := spec.Name
	if name == "" {
		name = "room-" + uuid.NewString()
	}
	room, err := b.rooms.CreateRoom(ctx, &lkproto.CreateRoomRequest{
		Name:            name,
		EmptyTimeout:    uint32(defaultEmptyTimeout / time.Second),
		MaxParticipants: uint32(spec.MaxParticipants),
		Metadata:        encodeMetadata(spec),
	})
	if err != nil {
		return nil, fmt.Errorf("creating room: %w", apiError(err))
	}
	b.mu.Lock()
	b.created = append(b.created, room.GetName())
	b.mu.Unlock()
	return toState(room), nil
}

func (b *sdkBackend) findRoom(ctx context.Context, roomID string) (*lkproto.Room, error) {
	res, err := b.rooms.ListRooms(ctx, &lkproto.ListRoomsRequest{Names: []string{roomID}})
	if err != nil {
		return nil, fmt.Errorf("looking up room: %w", apiError(err))
	}
	for _, r := range res.GetRooms() {
		if r.GetName() == roomID {
			return r, nil
		}
	}
	return nil, video.NewValidationError(fmt.Errorf("%w: %s", video.ErrRoomNotFound, roomID))
}

func (b *sdkBackend) participants(ctx context.Context, roomID string) ([]video.Participant, error) {
	res, err := b.rooms.ListParticipants(ctx, &lkproto.ListParticipantsRequest{Room: roomID})
	if err != nil {
		return nil, fmt.Errorf("listing participants: %w", rest.RoomNotFound(apiError(err), roomID))
	}
	out := make([]video.Participant, 0, len(res.GetParticipants()))
	for _, p := range res.GetParticipants() {
		if p.GetState() == lkproto.ParticipantInfo_DISCONNECTED {
			continue
		}
		out = append(out, toParticipant(p))
	}
	return out, nil
}

func (b *sdkBackend) GetRoom(ctx context.Context, roomID string) (*video.RoomState, error) {
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()

	room, err := b.findRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	st := toState(room)
	if st.Participants, err = b.participants(ctx, roomID); err != nil {
		return nil, err
	}
	return st, nil
}

func (b *sdkBackend) ListRooms(ctx context.Context) ([]*video.RoomState, error) {
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()

	res, err := b.rooms.ListRooms(ctx, &lkproto.ListRoomsRequest{})
	if err != nil {
		return nil, fmt.Errorf("listing rooms: %w", apiError(err))
	}
	out := make([]*video.RoomState, 0, len(res.GetRooms()))
	for _, r := range res.GetRooms() {
		out = append(out, toState(r))
	}
	return out, nil
}

// UpdateRoom rewrites the room metadata. LiveKit fixes the participant
// limit at creation, so changing it fails with ErrUnsupported.
func (b *sdkBackend) UpdateRoom(ctx context.Context, roomID string, spec video.RoomSpec) error {
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()

	room, err := b.findRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if int(room.GetMaxParticipants()) != spec.MaxParticipants {
		return video.NewBackendError(fmt.Errorf("livekit cannot change max participants of an existing room: %w", video.ErrUnsupported))
	}
	_, err = b.rooms.UpdateRoomMetadata(ctx, &lkproto.UpdateRoomMetadataRequest{
		Room:     roomID,
		Metadata: encodeMetadata(spec),
	})
	if err != nil {
		return fmt.Errorf("updating room metadata: %w", apiError(err))
	}
	return nil
}

// AddParticipant checks the room exists and has room; the client joins
// with an access token.
func (b *sdkBackend) AddParticipant(ctx context.Context, roomID string, p video.Participant) error {
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

func (b *sdkBackend) RemoveParticipant(ctx context.Context, roomID, participantID string) error {
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()

	_, err := b.rooms.RemoveParticipant(ctx, &lkproto.RoomParticipantIdentity{Room: roomID, Identity: participantID})
	if err == nil {
		return nil
	}
	if err = apiError(err); rest.NotFound(err) {
		return video.NewValidationError(fmt.Errorf("participant %s is not in room %s: %w", participantID, roomID, err))
	}
	return fmt.Errorf("removing participant: %w", err)
}

func (b *sdkBackend) startEgress(ctx context.Context, roomID string, spec video.RecordingSpec) (string, error) {
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()

	layout, ok := egressLayouts[spec.Layout]
	if !ok {
		layout = egressLayouts[video.LayoutGrid]
	}
	info, err := b.egress.StartRoomCompositeEgress(ctx, &lkproto.RoomCompositeEgressRequest{
		RoomName: roomID,
		Layout:   layout,
		FileOutputs: []*lkproto.EncodedFileOutput{{
			FileType: lkproto.EncodedFileType_MP4,
			Filepath: b.recordingPath,
		}},
	})
	if err != nil {
		return "", fmt.Errorf("starting egress: %w", rest.RoomNotFound(apiError(err), roomID))
	}
	b.log.WithFields(logrus.Fields{"room_id": roomID, "egress_id": info.GetEgressId()}).Debug("egress started")
	return info.GetEgressId(), nil
}

func (b *sdkBackend) stopEgress(ctx context.Context, egressID string) error {
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()

	if _, err := b.egress.StopEgress(ctx, &lkproto.StopEgressRequest{EgressId: egressID}); err != nil {
		return fmt.Errorf("stopping egress %s: %w", egressID, apiError(err))
	}
	return nil
}

func (b *sdkBackend) StartRecording(ctx context.Context, roomID string, spec video.RecordingSpec) (string, error) {
	return b.startEgress(ctx, roomID, spec)
}

func (b *sdkBackend) PauseRecording(ctx context.Context, _, segmentID string) error {
	return b.stopEgress(ctx, segmentID)
}

func (b *sdkBackend) ResumeRecording(ctx context.Context, roomID, _ string, spec video.RecordingSpec) (string, error) {
	return b.startEgress(ctx, roomID, spec)
}

func (b *sdkBackend) StopRecording(ctx context.Context, _, segmentID string, paused bool) error {
	if paused {
		return nil
	}
	return b.stopEgress(ctx, segmentID)
}

// JoinToken mints a room-join access token. Staff get room admin.
func (b *sdkBackend) JoinToken(_ context.Context, roomID string, p video.Participant) (string, error) {
	meta, err := json.Marshal(participantMetadata{Role: p.Role})
	if err != nil {
		return "", err
	}
	at := auth.NewAccessToken(b.apiKey, b.apiSecret).
		SetVideoGrant(&auth.VideoGrant{
			RoomJoin:  true,
			Room:      roomID,
			RoomAdmin: p.Role == video.RoleStaff,
		}).
		SetIdentity(p.ID).
		SetName(p.Name).
		SetMetadata(string(meta)).
		SetValidFor(b.tokenTTL)
	token, err := at.ToJWT()
	if err != nil {
		return "", fmt.Errorf("signing access token: %w", err)
	}
	return token, nil
}

// Close deletes the rooms this backend created.
func (b *sdkBackend) Close(ctx context.Context) error {
	b.mu.Lock()
	rooms := b.created
	b.created = nil
	b.mu.Unlock()

	var errs []error
	for _, name := range rooms {
		cctx, cancel := b.withTimeout(ctx)
		_, err := b.rooms.DeleteRoom(cctx, &lkproto.DeleteRoomRequest{Room: name})
		cancel()
		if err = apiError(err); err != nil && !rest.NotFound(err) {
			errs = append(errs, fmt.Errorf("deleting room %s: %w", name, err))
			continue
		}
		b.log.WithField("room_id", name).Debug("room deleted")
	}
	return errors.Join(errs...)
}
