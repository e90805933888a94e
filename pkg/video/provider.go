package video

import "context"

// Provider is the uniform capability set every conferencing adapter exposes.
// Implementations are safe for concurrent use.
type Provider interface {
	// Name returns the provider identifier (e.g. "twilio").
	Name() string

	// Mode reports whether the adapter talks to a live backend or simulates one.
	// It is ModeUnset until Initialize succeeds.
	Mode() Mode

	// Initialize validates credentials and selects the backend. It may be
	// called once per adapter instance.
	Initialize(ctx context.Context, cfg ProviderConfig) error

	CreateRoom(ctx context.Context, opts RoomOptions) (*Room, error)
	JoinRoom(ctx context.Context, roomID string, participant Participant) error
	LeaveRoom(ctx context.Context, roomID, participantID string) error
	ListRooms(ctx context.Context) ([]*Room, error)
	GetRoomInfo(ctx context.Context, roomID string) (*Room, error)
	UpdateRoomSettings(ctx context.Context, roomID string, update RoomSettingsUpdate) (*Room, error)

	StartRecording(ctx context.Context, roomID string, opts RecordingOptions) (*RecordingInfo, error)
	PauseRecording(ctx context.Context, roomID string) error
	ResumeRecording(ctx context.Context, roomID string) error
	StopRecording(ctx context.Context, roomID string) error
	GetRecording(ctx context.Context, recordingID string) (*RecordingInfo, error)
	ListRecordings(ctx context.Context, roomID string) ([]*RecordingInfo, error)

	UpdateSecuritySettings(ctx context.Context, roomID string, update SecuritySettingsUpdate) (*Room, error)

	// Disconnect releases backend resources. Calling it more than once is
	// not an error.
	Disconnect(ctx context.Context) error
}

// TokenIssuer is implemented by adapters that can mint client join
// credentials for a room.
type TokenIssuer interface {
	JoinToken(ctx context.Context, roomID string, participant Participant) (string, error)
}
