package video

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Mode distinguishes adapters bound to a real backend from simulated ones.
type Mode string

const (
	ModeUnset Mode = ""
	ModeLive  Mode = "live"
	ModeMock  Mode = "mock"
)

// Environment tags the deployment the adapter runs in.
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Layout is the on-screen arrangement of participant tiles.
type Layout string

const (
	LayoutGrid         Layout = "grid"
	LayoutSpotlight    Layout = "spotlight"
	LayoutPresentation Layout = "presentation"
)

// Valid reports whether l is a known layout.
func (l Layout) Valid() bool {
	switch l {
	case LayoutGrid, LayoutSpotlight, LayoutPresentation:
		return true
	}
	return false
}

// Role identifies the kind of person joining a visit. The set is open:
// facilities may define additional roles.
type Role string

const (
	RoleResident Role = "resident"
	RoleVisitor  Role = "visitor"
	RoleAttorney Role = "attorney"
	RoleStaff    Role = "staff"
)

// RecordingStatus is the lifecycle state of a recording.
type RecordingStatus string

const (
	RecordingActive    RecordingStatus = "active"
	RecordingPaused    RecordingStatus = "paused"
	RecordingStopped   RecordingStatus = "stopped"
	RecordingCompleted RecordingStatus = "completed"
)

// Room defaults applied when callers omit a value.
const (
	DefaultMaxParticipants = 10
	DefaultDuration        = 60
	DefaultLayout          = LayoutGrid
	MinParticipants        = 2
	RetentionDays          = 30
)

// ProviderConfig carries credentials and caller context for one adapter.
// Adapters keep their own copy; mutating the value after Initialize has no
// effect.
type ProviderConfig struct {
	APIKey      string
	APISecret   string
	AccountID   string
	BaseURL     string
	Region      string
	Environment string
	LogLevel    string
	UserID      string
	UserRole    Role
	FacilityID  string

	// Mock forces the simulated backend regardless of credentials.
	Mock bool

	// RequestTimeout bounds each backend HTTP call. Zero means the adapter default.
	RequestTimeout time.Duration

	Security *SecurityConfig
}

// SecurityConfig holds optional encryption and monitoring settings.
type SecurityConfig struct {
	EncryptionKey string
	Monitoring    *MonitoringConfig
}

// MonitoringConfig names the AI monitoring service attached to recordings.
type MonitoringConfig struct {
	AIProvider string
	AIAPIKey   string
}

// HasCredentials reports whether any credential or backend URL is set.
func (c ProviderConfig) HasCredentials() bool {
	return c.APIKey != "" || c.APISecret != "" || c.AccountID != "" || c.BaseURL != ""
}

// clone returns a deep copy so later caller mutations cannot leak in.
func (c ProviderConfig) clone() ProviderConfig {
	out := c
	if c.Security != nil {
		sec := *c.Security
		if c.Security.Monitoring != nil {
			mon := *c.Security.Monitoring
			sec.Monitoring = &mon
		}
		out.Security = &sec
	}
	return out
}

// Room is the provider-neutral view of a conferencing room.
type Room struct {
	ID           string           `json:"id" yaml:"id"`
	Name         string           `json:"name" yaml:"name"`
	Participants []Participant    `json:"participants" yaml:"participants"`
	CreatedAt    time.Time        `json:"created_at" yaml:"created_at"`
	Settings     RoomSettings     `json:"settings" yaml:"settings"`
	Security     SecuritySettings `json:"security" yaml:"security"`
	Recording    *RecordingInfo   `json:"recording,omitempty" yaml:"recording,omitempty"`
}

// RoomSettings controls room capacity, length, and layout.
type RoomSettings struct {
	MaxParticipants int    `json:"max_participants" yaml:"max_participants"`
	Duration        int    `json:"duration" yaml:"duration"` // minutes
	Layout          Layout `json:"layout" yaml:"layout"`
}

// SecuritySettings is the policy attached to a room.
type SecuritySettings struct {
	IsProtectedCall          bool   `json:"is_protected_call" yaml:"is_protected_call"`
	EncryptionEnabled        bool   `json:"encryption_enabled" yaml:"encryption_enabled"`
	AllowRecording           bool   `json:"allow_recording" yaml:"allow_recording"`
	AllowAIMonitoring        bool   `json:"allow_ai_monitoring" yaml:"allow_ai_monitoring"`
	RequiredParticipantRoles []Role `json:"required_participant_roles,omitempty" yaml:"required_participant_roles,omitempty"`
}

// Permits reports whether a participant with the given role may join.
func (s SecuritySettings) Permits(role Role) bool {
	if len(s.RequiredParticipantRoles) == 0 {
		return true
	}
	for _, r := range s.RequiredParticipantRoles {
		if r == role {
			return true
		}
	}
	return false
}

// Participant is a person connected to (or joining) a room.
type Participant struct {
	ID           string `json:"id" yaml:"id"`
	Name         string `json:"name" yaml:"name"`
	Role         Role   `json:"role" yaml:"role"`
	AudioEnabled bool   `json:"audio_enabled" yaml:"audio_enabled"`
	VideoEnabled bool   `json:"video_enabled" yaml:"video_enabled"`
}

// RecordingInfo describes one logical recording of a room.
type RecordingInfo struct {
	ID                  string          `json:"id" yaml:"id"`
	RoomID              string          `json:"room_id" yaml:"room_id"`
	StartTime           time.Time       `json:"start_time" yaml:"start_time"`
	Status              RecordingStatus `json:"status" yaml:"status"`
	Duration            time.Duration   `json:"duration" yaml:"duration"`
	AIMonitoringEnabled bool            `json:"ai_monitoring_enabled" yaml:"ai_monitoring_enabled"`
	RetentionPeriod     int             `json:"retention_period" yaml:"retention_period"` // days
}

// RoomOptions are the caller inputs to CreateRoom. Zero values take defaults.
type RoomOptions struct {
	Name            string                  `yaml:"name"`
	MaxParticipants int                     `yaml:"max_participants"`
	Duration        int                     `yaml:"duration"`
	Layout          Layout                  `yaml:"layout"`
	Security        *SecuritySettingsUpdate `yaml:"security"`
}

// RecordingOptions are the caller inputs to StartRecording.
type RecordingOptions struct {
	AIMonitoring bool `yaml:"ai_monitoring"`
}

// RoomSettingsUpdate changes only the non-nil fields.
type RoomSettingsUpdate struct {
	MaxParticipants *int    `yaml:"max_participants"`
	Duration        *int    `yaml:"duration"`
	Layout          *Layout `yaml:"layout"`
}

// SecuritySettingsUpdate changes only the non-nil fields.
type SecuritySettingsUpdate struct {
	IsProtectedCall          *bool  `yaml:"is_protected_call"`
	EncryptionEnabled        *bool  `yaml:"encryption_enabled"`
	AllowRecording           *bool  `yaml:"allow_recording"`
	AllowAIMonitoring        *bool  `yaml:"allow_ai_monitoring"`
	RequiredParticipantRoles []Role `yaml:"required_participant_roles"` // nil leaves the whitelist unchanged; empty clears it
}

// DefaultRoomSettings returns the settings applied when a caller supplies none.
func DefaultRoomSettings() RoomSettings {
	return RoomSettings{
		MaxParticipants: DefaultMaxParticipants,
		Duration:        DefaultDuration,
		Layout:          DefaultLayout,
	}
}

// DefaultSecuritySettings returns the policy applied to ordinary visits.
func DefaultSecuritySettings() SecuritySettings {
	return SecuritySettings{
		EncryptionEnabled: true,
		AllowRecording:    true,
	}
}

// Apply merges the non-nil fields of u into s.
func (u RoomSettingsUpdate) Apply(s RoomSettings) RoomSettings {
	if u.MaxParticipants != nil {
		s.MaxParticipants = *u.MaxParticipants
	}
	if u.Duration != nil {
		s.Duration = *u.Duration
	}
	if u.Layout != nil {
		s.Layout = *u.Layout
	}
	return s
}

// Validate checks the fields that are set.
func (u RoomSettingsUpdate) Validate() error {
	var errs []error
	if u.MaxParticipants != nil && *u.MaxParticipants < MinParticipants {
		errs = append(errs, fmt.Errorf("room must allow at least %d participants, got %d", MinParticipants, *u.MaxParticipants))
	}
	if u.Duration != nil && *u.Duration <= 0 {
		errs = append(errs, fmt.Errorf("duration must be positive, got %d", *u.Duration))
	}
	if u.Layout != nil && !u.Layout.Valid() {
		errs = append(errs, fmt.Errorf("unknown layout %q", *u.Layout))
	}
	return errors.Join(errs...)
}

// Apply merges the non-nil fields of u into s.
func (u SecuritySettingsUpdate) Apply(s SecuritySettings) SecuritySettings {
	if u.IsProtectedCall != nil {
		s.IsProtectedCall = *u.IsProtectedCall
	}
	if u.EncryptionEnabled != nil {
		s.EncryptionEnabled = *u.EncryptionEnabled
	}
	if u.AllowRecording != nil {
		s.AllowRecording = *u.AllowRecording
	}
	if u.AllowAIMonitoring != nil {
		s.AllowAIMonitoring = *u.AllowAIMonitoring
	}
	if u.RequiredParticipantRoles != nil {
		s.RequiredParticipantRoles = append([]Role(nil), u.RequiredParticipantRoles...)
	}
	return s
}

// Validate checks the fields that are set.
func (u SecuritySettingsUpdate) Validate() error {
	var errs []error
	for i, r := range u.RequiredParticipantRoles {
		if strings.TrimSpace(string(r)) == "" {
			errs = append(errs, fmt.Errorf("required_participant_roles[%d] is empty", i))
		}
	}
	return errors.Join(errs...)
}

// ValidateRoomOptions checks caller-supplied room options before any backend
// call is made.
func ValidateRoomOptions(opts RoomOptions) error {
	var errs []error
	if opts.MaxParticipants != 0 && opts.MaxParticipants < MinParticipants {
		errs = append(errs, fmt.Errorf("room must allow at least %d participants, got %d", MinParticipants, opts.MaxParticipants))
	}
	if opts.Duration < 0 {
		errs = append(errs, fmt.Errorf("duration must be positive, got %d", opts.Duration))
	}
	if opts.Layout != "" && !opts.Layout.Valid() {
		errs = append(errs, fmt.Errorf("unknown layout %q", opts.Layout))
	}
	if opts.Security != nil {
		if err := opts.Security.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ValidateParticipant checks the identity fields required to join a room.
func ValidateParticipant(p Participant) error {
	var errs []error
	if strings.TrimSpace(p.ID) == "" {
		errs = append(errs, errors.New("participant id is required"))
	}
	if strings.TrimSpace(string(p.Role)) == "" {
		errs = append(errs, errors.New("participant role is required"))
	}
	return errors.Join(errs...)
}
