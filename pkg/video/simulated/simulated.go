// Package simulated is the in-memory backend adapters use in mock mode. It
// makes no network calls; ids are derived from the clock so runs are
// reproducible with a fixed clock.
package simulated

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jdgilhuly/visitvideo/pkg/video"
)

// Fault makes one operation fail or stall, for exercising error paths.
type Fault struct {
	Err   error
	Delay time.Duration
}

// CallRecord captures a single backend operation for later inspection.
type CallRecord struct {
	Op        string    `json:"op"`
	RoomID    string    `json:"room_id,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type room struct {
	state        video.RoomState
	participants map[string]video.Participant
	joinOrder    []string
}

type segment struct {
	roomID string
	open   bool
}

// Option configures a Backend.
type Option func(*Backend)

// WithClock sets the time source for ids and timestamps.
func WithClock(now func() time.Time) Option {
	return func(b *Backend) { b.now = now }
}

// Backend implements video.Backend in memory. All methods are safe for
// concurrent use.
type Backend struct {
	provider string
	now      func() time.Time

	mu       sync.Mutex
	rooms    map[string]*room
	segments map[string]*segment
	faults   map[string]Fault
	calls    []CallRecord
	ids      map[string]bool
	closed   bool
}

var _ video.Backend = (*Backend)(nil)

// New returns an empty simulated backend for the named provider.
func New(provider string, opts ...Option) *Backend {
	b := &Backend{
		provider: provider,
		now:      time.Now,
		rooms:    make(map[string]*room),
		segments: make(map[string]*segment),
		faults:   make(map[string]Fault),
		ids:      make(map[string]bool),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Inject registers a fault for every later call of op (e.g. "Close").
func (b *Backend) Inject(op string, f Fault) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.faults[op] = f
}

// GetCalls returns a copy of all recorded calls.
func (b *Backend) GetCalls() []CallRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]CallRecord, len(b.calls))
	copy(out, b.calls)
	return out
}

// GetCallsFor returns recorded calls filtered to op.
func (b *Backend) GetCallsFor(op string) []CallRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []CallRecord
	for _, c := range b.calls {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// Closed reports whether Close has been called.
func (b *Backend) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// begin applies any injected fault for op. The returned func records the
// call and must be invoked with b.mu held.
func (b *Backend) begin(ctx context.Context, op, roomID string) (func(error) error, error) {
	b.mu.Lock()
	f, ok := b.faults[op]
	b.mu.Unlock()

	if ok && f.Delay > 0 {
		select {
		case <-ctx.Done():
			return nil, b.record(op, roomID, ctx.Err())
		case <-time.After(f.Delay):
		}
	}
	if ok && f.Err != nil {
		return nil, b.record(op, roomID, f.Err)
	}
	if err := ctx.Err(); err != nil {
		return nil, b.record(op, roomID, err)
	}

	b.mu.Lock()
	return func(err error) error {
		defer b.mu.Unlock()
		b.calls = append(b.calls, callRecord(op, roomID, err, b.now()))
		return err
	}, nil
}

func (b *Backend) record(op, roomID string, err error) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, callRecord(op, roomID, err, b.now()))
	return err
}

func callRecord(op, roomID string, err error, at time.Time) CallRecord {
	rec := CallRecord{Op: op, RoomID: roomID, Timestamp: at}
	if err != nil {
		rec.Error = err.Error()
	}
	return rec
}

// newIDLocked returns "mock-<kind>-<unixnano>", suffixed on collision.
func (b *Backend) newIDLocked(kind string) string {
	base := fmt.Sprintf("mock-%s-%d", kind, b.now().UnixNano())
	id := base
	for n := 1; b.ids[id]; n++ {
		id = fmt.Sprintf("%s-%d", base, n)
	}
	b.ids[id] = true
	return id
}

func (b *Backend) roomLocked(roomID string) (*room, error) {
	r, ok := b.rooms[roomID]
	if !ok {
		return nil, video.NewValidationError(fmt.Errorf("%w: %s", video.ErrRoomNotFound, roomID))
	}
	return r, nil
}

func (r *room) snapshot() *video.RoomState {
	st := r.state
	st.Participants = make([]video.Participant, 0, len(r.joinOrder))
	for _, id := range r.joinOrder {
		st.Participants = append(st.Participants, r.participants[id])
	}
	return &st
}

func (b *Backend) CreateRoom(ctx context.Context, spec video.RoomSpec) (*video.RoomState, error) {
	done, err := b.begin(ctx, "CreateRoom", "")
	if err != nil {
		return nil, err
	}
	id := b.newIDLocked(b.provider)
	name := spec.Name
	if name == "" {
		name = id
	}
	r := &room{
		state: video.RoomState{
			ID:              id,
			Name:            name,
			CreatedAt:       b.now(),
			MaxParticipants: spec.MaxParticipants,
		},
		participants: make(map[string]video.Participant),
	}
	b.rooms[id] = r
	st := r.snapshot()
	return st, done(nil)
}

func (b *Backend) GetRoom(ctx context.Context, roomID string) (*video.RoomState, error) {
	done, err := b.begin(ctx, "GetRoom", roomID)
	if err != nil {
		return nil, err
	}
	r, err := b.roomLocked(roomID)
	if err != nil {
		return nil, done(err)
	}
	return r.snapshot(), done(nil)
}

func (b *Backend) ListRooms(ctx context.Context) ([]*video.RoomState, error) {
	done, err := b.begin(ctx, "ListRooms", "")
	if err != nil {
		return nil, err
	}
	out := make([]*video.RoomState, 0, len(b.rooms))
	for _, r := range b.rooms {
		out = append(out, r.snapshot())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, done(nil)
}

func (b *Backend) UpdateRoom(ctx context.Context, roomID string, spec video.RoomSpec) error {
	done, err := b.begin(ctx, "UpdateRoom", roomID)
	if err != nil {
		return err
	}
	r, err := b.roomLocked(roomID)
	if err != nil {
		return done(err)
	}
	r.state.MaxParticipants = spec.MaxParticipants
	return done(nil)
}

func (b *Backend) AddParticipant(ctx context.Context, roomID string, p video.Participant) error {
	done, err := b.begin(ctx, "AddParticipant", roomID)
	if err != nil {
		return err
	}
	r, err := b.roomLocked(roomID)
	if err != nil {
		return done(err)
	}
	if _, ok := r.participants[p.ID]; ok {
		r.participants[p.ID] = p
		return done(nil)
	}
	if r.state.MaxParticipants > 0 && len(r.participants) >= r.state.MaxParticipants {
		return done(video.NewValidationError(fmt.Errorf("room %s is full (%d participants)", roomID, r.state.MaxParticipants)))
	}
	r.participants[p.ID] = p
	r.joinOrder = append(r.joinOrder, p.ID)
	return done(nil)
}

func (b *Backend) RemoveParticipant(ctx context.Context, roomID, participantID string) error {
	done, err := b.begin(ctx, "RemoveParticipant", roomID)
	if err != nil {
		return err
	}
	r, err := b.roomLocked(roomID)
	if err != nil {
		return done(err)
	}
	if _, ok := r.participants[participantID]; !ok {
		return done(video.NewValidationError(fmt.Errorf("participant %s is not in room %s", participantID, roomID)))
	}
	delete(r.participants, participantID)
	for i, id := range r.joinOrder {
		if id == participantID {
			r.joinOrder = append(r.joinOrder[:i], r.joinOrder[i+1:]...)
			break
		}
	}
	return done(nil)
}

func (b *Backend) StartRecording(ctx context.Context, roomID string, _ video.RecordingSpec) (string, error) {
	done, err := b.begin(ctx, "StartRecording", roomID)
	if err != nil {
		return "", err
	}
	if _, err := b.roomLocked(roomID); err != nil {
		return "", done(err)
	}
	id := b.newIDLocked("recording")
	b.segments[id] = &segment{roomID: roomID, open: true}
	return id, done(nil)
}

func (b *Backend) PauseRecording(ctx context.Context, roomID, segmentID string) error {
	done, err := b.begin(ctx, "PauseRecording", roomID)
	if err != nil {
		return err
	}
	seg, err := b.segmentLocked(roomID, segmentID)
	if err != nil {
		return done(err)
	}
	seg.open = false
	return done(nil)
}

// ResumeRecording reopens the same segment; the simulated service pauses natively.
func (b *Backend) ResumeRecording(ctx context.Context, roomID, segmentID string, _ video.RecordingSpec) (string, error) {
	done, err := b.begin(ctx, "ResumeRecording", roomID)
	if err != nil {
		return "", err
	}
	seg, err := b.segmentLocked(roomID, segmentID)
	if err != nil {
		return "", done(err)
	}
	seg.open = true
	return segmentID, done(nil)
}

func (b *Backend) StopRecording(ctx context.Context, roomID, segmentID string, _ bool) error {
	done, err := b.begin(ctx, "StopRecording", roomID)
	if err != nil {
		return err
	}
	seg, err := b.segmentLocked(roomID, segmentID)
	if err != nil {
		return done(err)
	}
	seg.open = false
	delete(b.segments, segmentID)
	return done(nil)
}

func (b *Backend) segmentLocked(roomID, segmentID string) (*segment, error) {
	seg, ok := b.segments[segmentID]
	if !ok || seg.roomID != roomID {
		return nil, video.NewValidationError(fmt.Errorf("%w: %s", video.ErrRecordingNotFound, segmentID))
	}
	return seg, nil
}

// JoinToken returns mock_<provider>_token_<room>_<participant>.
func (b *Backend) JoinToken(ctx context.Context, roomID string, p video.Participant) (string, error) {
	done, err := b.begin(ctx, "JoinToken", roomID)
	if err != nil {
		return "", err
	}
	if _, err := b.roomLocked(roomID); err != nil {
		return "", done(err)
	}
	return fmt.Sprintf("mock_%s_token_%s_%s", b.provider, roomID, p.ID), done(nil)
}

func (b *Backend) Close(ctx context.Context) error {
	done, err := b.begin(ctx, "Close", "")
	if err != nil {
		b.mu.Lock()
		b.closed = true
		b.mu.Unlock()
		return err
	}
	if b.closed {
		return done(errors.New("simulated backend already closed"))
	}
	b.closed = true
	return done(nil)
}
