package video

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Backend is the per-service half of an adapter. Base owns validation,
// policy, and recording state; a Backend only moves rooms, participants,
// and recording segments on the conferencing service (or simulates doing so).
//
// Room ids passed to a Backend are the ids it returned from CreateRoom or
// ListRooms.
type Backend interface {
	CreateRoom(ctx context.Context, spec RoomSpec) (*RoomState, error)
	GetRoom(ctx context.Context, roomID string) (*RoomState, error)
	ListRooms(ctx context.Context) ([]*RoomState, error)
	UpdateRoom(ctx context.Context, roomID string, spec RoomSpec) error

	AddParticipant(ctx context.Context, roomID string, p Participant) error
	RemoveParticipant(ctx context.Context, roomID, participantID string) error

	// StartRecording begins a new segment and returns its backend id.
	StartRecording(ctx context.Context, roomID string, spec RecordingSpec) (string, error)
	PauseRecording(ctx context.Context, roomID, segmentID string) error
	// ResumeRecording returns the id of the segment now capturing, which is
	// a new id for services that pause by closing the segment.
	ResumeRecording(ctx context.Context, roomID, segmentID string, spec RecordingSpec) (string, error)
	// StopRecording finalizes the recording. paused is true when the last
	// segment was already closed by PauseRecording.
	StopRecording(ctx context.Context, roomID, segmentID string, paused bool) error

	// JoinToken mints a client credential for the room.
	JoinToken(ctx context.Context, roomID string, p Participant) (string, error)

	Close(ctx context.Context) error
}

// RoomSpec is what Base asks a Backend to provision.
type RoomSpec struct {
	Name              string
	MaxParticipants   int
	Duration          int // minutes
	EncryptionEnabled bool
}

// RoomState is what a Backend reports about a room.
type RoomState struct {
	ID              string
	Name            string
	CreatedAt       time.Time
	MaxParticipants int // zero when the service does not report it
	Participants    []Participant
}

// RecordingSpec carries per-recording hints for the backend.
type RecordingSpec struct {
	Layout       Layout
	AIMonitoring bool
}

// Requirements lists the credentials an adapter needs in live mode. APIKey
// is always required.
type Requirements struct {
	APISecret bool
	AccountID bool
	BaseURL   bool
}

// ResolveMode decides, once, whether an adapter runs live or simulated.
//
// An explicit Mock flag always wins. With no credentials and no URL at all
// the adapter falls back to mock outside production. Otherwise every
// required credential must be present.
func ResolveMode(cfg ProviderConfig, req Requirements) (Mode, error) {
	if cfg.Mock {
		return ModeMock, nil
	}
	if !cfg.HasCredentials() && cfg.Environment != EnvProduction {
		return ModeMock, nil
	}

	var errs []error
	if cfg.APIKey == "" {
		errs = append(errs, errors.New("API key is required"))
	}
	if req.APISecret && cfg.APISecret == "" {
		errs = append(errs, errors.New("API secret is required"))
	}
	if req.AccountID && cfg.AccountID == "" {
		errs = append(errs, errors.New("account id is required"))
	}
	if req.BaseURL && cfg.BaseURL == "" {
		errs = append(errs, errors.New("backend URL is required"))
	}
	if len(errs) > 0 {
		return ModeUnset, NewConfigurationError(fmt.Errorf("live mode: %w", errors.Join(errs...)))
	}
	return ModeLive, nil
}
