package video

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// recording tracks one logical recording. Its id is the id of the first
// backend segment; segment is the one currently open.
type recording struct {
	info        RecordingInfo
	segment     string
	activeSince time.Time
}

// snapshot returns a copy with Duration including the open active interval.
func (r *recording) snapshot(now time.Time) *RecordingInfo {
	info := r.info
	if info.Status == RecordingActive {
		info.Duration += now.Sub(r.activeSince)
	}
	return &info
}

func (r *recording) inProgress() bool {
	return r.info.Status == RecordingActive || r.info.Status == RecordingPaused
}

// revokes reports whether sec forbids a recording described by info.
func revokes(sec SecuritySettings, info RecordingInfo) bool {
	return !sec.AllowRecording || (info.AIMonitoringEnabled && !sec.AllowAIMonitoring)
}

// currentLocked returns the room's active or paused recording. b.mu must be held.
func (b *Base) currentLocked(roomID string) *recording {
	ids := b.byRoom[roomID]
	if len(ids) == 0 {
		return nil
	}
	rec := b.recordings[ids[len(ids)-1]]
	if rec == nil || !rec.inProgress() {
		return nil
	}
	return rec
}

// StartRecording begins a recording if the room's policy allows it.
func (b *Base) StartRecording(ctx context.Context, roomID string, opts RecordingOptions) (*RecordingInfo, error) {
	const op = "StartRecording"
	backend, log, err := b.ready()
	if err != nil {
		return nil, b.fail(op, err)
	}

	b.txMu.Lock()
	defer b.txMu.Unlock()

	st, err := backend.GetRoom(ctx, roomID)
	if err != nil {
		return nil, b.fail(op, err)
	}

	b.mu.Lock()
	ledger := b.ledgerLocked(st)
	sec := ledger.security
	layout := ledger.settings.Layout
	cur := b.currentLocked(roomID)
	b.mu.Unlock()

	if cur != nil {
		return nil, b.fail(op, NewInvalidStateError(fmt.Errorf(
			"room %s already has a %s recording (%s)", roomID, cur.info.Status, cur.info.ID)))
	}
	if !sec.AllowRecording {
		if sec.IsProtectedCall {
			return nil, b.fail(op, NewSecurityPolicyError(errors.New("recording is disabled for protected calls")))
		}
		return nil, b.fail(op, NewSecurityPolicyError(fmt.Errorf("recording is not allowed in room %s", roomID)))
	}
	if opts.AIMonitoring && !sec.AllowAIMonitoring {
		return nil, b.fail(op, NewSecurityPolicyError(fmt.Errorf("AI monitoring is not allowed in room %s", roomID)))
	}

	segment, err := backend.StartRecording(ctx, roomID, RecordingSpec{Layout: layout, AIMonitoring: opts.AIMonitoring})
	if err != nil {
		return nil, b.fail(op, err)
	}

	b.mu.Lock()
	now := b.now()
	rec := &recording{
		info: RecordingInfo{
			ID:                  segment,
			RoomID:              roomID,
			StartTime:           now,
			Status:              RecordingActive,
			AIMonitoringEnabled: opts.AIMonitoring,
			RetentionPeriod:     RetentionDays,
		},
		segment:     segment,
		activeSince: now,
	}
	b.recordings[segment] = rec
	b.byRoom[roomID] = append(b.byRoom[roomID], segment)
	info := rec.snapshot(now)
	b.mu.Unlock()

	log.WithFields(logrus.Fields{
		"room_id":       roomID,
		"recording_id":  segment,
		"ai_monitoring": opts.AIMonitoring,
	}).Info("recording started")
	return info, nil
}

// PauseRecording moves the room's recording from active to paused.
func (b *Base) PauseRecording(ctx context.Context, roomID string) error {
	const op = "PauseRecording"
	return b.transition(ctx, op, roomID, RecordingActive, func(backend Backend, rec *recording) (string, error) {
		return rec.segment, backend.PauseRecording(ctx, roomID, rec.segment)
	}, RecordingPaused)
}

// ResumeRecording moves the room's recording from paused to active.
func (b *Base) ResumeRecording(ctx context.Context, roomID string) error {
	const op = "ResumeRecording"
	return b.transition(ctx, op, roomID, RecordingPaused, func(backend Backend, rec *recording) (string, error) {
		b.mu.Lock()
		var layout Layout
		if l, ok := b.rooms[roomID]; ok {
			layout = l.settings.Layout
		}
		spec := RecordingSpec{Layout: layout, AIMonitoring: rec.info.AIMonitoringEnabled}
		b.mu.Unlock()
		return backend.ResumeRecording(ctx, roomID, rec.segment, spec)
	}, RecordingActive)
}

// StopRecording finalizes the room's active or paused recording.
func (b *Base) StopRecording(ctx context.Context, roomID string) error {
	const op = "StopRecording"
	return b.transition(ctx, op, roomID, "", func(backend Backend, rec *recording) (string, error) {
		return rec.segment, backend.StopRecording(ctx, roomID, rec.segment, rec.info.Status == RecordingPaused)
	}, RecordingStopped)
}

// transition runs one recording state change. from is the required current
// status; empty accepts any in-progress status.
func (b *Base) transition(ctx context.Context, op, roomID string, from RecordingStatus,
	call func(Backend, *recording) (string, error), to RecordingStatus) error {
	backend, log, err := b.ready()
	if err != nil {
		return b.fail(op, err)
	}

	b.txMu.Lock()
	defer b.txMu.Unlock()

	b.mu.Lock()
	rec := b.currentLocked(roomID)
	var status RecordingStatus
	if rec != nil {
		status = rec.info.Status
	}
	b.mu.Unlock()

	switch {
	case rec == nil:
		return b.fail(op, NewInvalidStateError(fmt.Errorf("room %s has no recording in progress", roomID)))
	case from != "" && status != from:
		return b.fail(op, NewInvalidStateError(fmt.Errorf(
			"recording %s is %s, want %s", rec.info.ID, status, from)))
	}

	segment, err := call(backend, rec)
	if err != nil {
		return b.fail(op, err)
	}

	b.mu.Lock()
	now := b.now()
	if status == RecordingActive {
		rec.info.Duration += now.Sub(rec.activeSince)
	}
	if to == RecordingActive {
		rec.activeSince = now
	}
	rec.segment = segment
	rec.info.Status = to
	b.mu.Unlock()

	log.WithFields(logrus.Fields{
		"room_id":      roomID,
		"recording_id": rec.info.ID,
		"status":       string(to),
	}).Info("recording " + string(to))
	return nil
}

// GetRecording returns a recording started through this adapter.
func (b *Base) GetRecording(ctx context.Context, recordingID string) (*RecordingInfo, error) {
	const op = "GetRecording"
	if _, _, err := b.ready(); err != nil {
		return nil, b.fail(op, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	rec, ok := b.recordings[recordingID]
	if !ok {
		return nil, b.fail(op, NewValidationError(fmt.Errorf("%w: %s", ErrRecordingNotFound, recordingID)))
	}
	return rec.snapshot(b.now()), nil
}

// ListRecordings returns the room's recordings in start order. A room with
// no recordings is looked up on the backend so unknown rooms fail.
func (b *Base) ListRecordings(ctx context.Context, roomID string) ([]*RecordingInfo, error) {
	const op = "ListRecordings"
	backend, _, err := b.ready()
	if err != nil {
		return nil, b.fail(op, err)
	}

	b.mu.Lock()
	known := len(b.byRoom[roomID]) > 0
	b.mu.Unlock()
	if !known {
		if _, err := backend.GetRoom(ctx, roomID); err != nil {
			return nil, b.fail(op, err)
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	out := make([]*RecordingInfo, 0, len(b.byRoom[roomID]))
	for _, id := range b.byRoom[roomID] {
		out = append(out, b.recordings[id].snapshot(now))
	}
	return out, nil
}
