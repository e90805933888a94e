package video

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// OpenFunc builds the backend for the mode chosen at Initialize.
type OpenFunc func(mode Mode, cfg ProviderConfig, log *logrus.Entry) (Backend, error)

type lifecycle int

const (
	stateNew lifecycle = iota
	stateReady
	stateClosed
)

// Base implements Provider on top of a Backend. Adapters embed *Base and
// supply the backend through Init.
type Base struct {
	name   string
	logger *logrus.Logger
	now    func() time.Time

	// txMu serializes read-modify-write transitions (settings, security,
	// recordings) including their backend calls.
	txMu sync.Mutex

	mu         sync.Mutex
	state      lifecycle
	cfg        ProviderConfig
	mode       Mode
	backend    Backend
	log        *logrus.Entry
	rooms      map[string]*roomLedger
	recordings map[string]*recording
	byRoom     map[string][]string
}

// roomLedger is the adapter-side record of settings the backend does not keep.
type roomLedger struct {
	name      string
	createdAt time.Time
	settings  RoomSettings
	security  SecuritySettings
}

// NewBase returns an uninitialized Base. A nil logger uses logrus' standard logger.
func NewBase(name string, logger *logrus.Logger) *Base {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Base{
		name:       name,
		logger:     logger,
		now:        time.Now,
		log:        logger.WithField("provider", name),
		rooms:      make(map[string]*roomLedger),
		recordings: make(map[string]*recording),
		byRoom:     make(map[string][]string),
	}
}

// SetClock replaces the time source used for recording timestamps.
func (b *Base) SetClock(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}

// Name returns the provider identifier.
func (b *Base) Name() string { return b.name }

// Mode returns the mode chosen at Initialize.
func (b *Base) Mode() Mode {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.mode
}

// Config returns a copy of the configuration passed to Initialize.
func (b *Base) Config() ProviderConfig {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cfg.clone()
}

// Init resolves the mode from cfg and req, then opens the backend. Adapters
// call it from their Initialize method.
func (b *Base) Init(ctx context.Context, cfg ProviderConfig, req Requirements, open OpenFunc) error {
	const op = "Initialize"
	if err := ctx.Err(); err != nil {
		return b.fail(op, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != stateNew {
		return b.fail(op, NewInvalidStateError(errors.New("provider already initialized")))
	}

	cfg = cfg.clone()
	logger, err := adapterLogger(b.logger, cfg.LogLevel)
	if err != nil {
		return b.fail(op, NewConfigurationError(err))
	}
	mode, err := ResolveMode(cfg, req)
	if err != nil {
		return b.fail(op, err)
	}
	fields := logrus.Fields{"provider": b.name, "mode": string(mode)}
	if cfg.FacilityID != "" {
		fields["facility_id"] = cfg.FacilityID
	}
	if cfg.UserID != "" {
		fields["user_id"] = cfg.UserID
	}
	if cfg.UserRole != "" {
		fields["user_role"] = string(cfg.UserRole)
	}
	log := logger.WithFields(fields)

	backend, err := open(mode, cfg, log)
	if err != nil {
		var typed *Error
		if !errors.As(err, &typed) {
			err = NewConfigurationError(err)
		}
		return b.fail(op, err)
	}

	b.cfg = cfg
	b.mode = mode
	b.backend = backend
	b.log = log
	b.state = stateReady
	if mode == ModeMock {
		log.Info("operating in mock mode")
	} else {
		log.Debug("provider initialized")
	}
	return nil
}

// adapterLogger clones parent at the requested level so one adapter can be
// more or less verbose than the rest.
func adapterLogger(parent *logrus.Logger, level string) (*logrus.Logger, error) {
	if level == "" {
		return parent, nil
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	if lvl == parent.GetLevel() {
		return parent, nil
	}
	l := logrus.New()
	l.SetOutput(parent.Out)
	l.SetFormatter(parent.Formatter)
	l.ReplaceHooks(parent.Hooks)
	l.SetLevel(lvl)
	return l, nil
}

func (b *Base) ready() (Backend, *logrus.Entry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case stateNew:
		return nil, nil, NewConfigurationError(ErrNotInitialized)
	case stateClosed:
		return nil, nil, NewInvalidStateError(ErrDisconnected)
	}
	return b.backend, b.log, nil
}

// fail stamps provider and operation onto a copy of err, classifying
// untyped errors as backend failures. The caller's *Error is never mutated;
// backends may hand the same value to several adapters.
func (b *Base) fail(op string, err error) error {
	var e *Error
	if errors.As(err, &e) {
		if e.Provider != "" && e.Op != "" {
			return err
		}
		cp := *e
		if cp.Provider == "" {
			cp.Provider = b.name
		}
		if cp.Op == "" {
			cp.Op = op
		}
		return &cp
	}
	return &Error{Kind: KindBackend, Provider: b.name, Op: op, Err: err}
}

// CreateRoom validates opts, applies defaults and protected-call policy,
// and provisions the room on the backend.
func (b *Base) CreateRoom(ctx context.Context, opts RoomOptions) (*Room, error) {
	const op = "CreateRoom"
	backend, log, err := b.ready()
	if err != nil {
		return nil, b.fail(op, err)
	}
	if err := ValidateRoomOptions(opts); err != nil {
		return nil, b.fail(op, NewValidationError(err))
	}

	settings := DefaultRoomSettings()
	if opts.MaxParticipants != 0 {
		settings.MaxParticipants = opts.MaxParticipants
	}
	if opts.Duration != 0 {
		settings.Duration = opts.Duration
	}
	if opts.Layout != "" {
		settings.Layout = opts.Layout
	}
	security := initialSecurity(opts.Security, log)

	state, err := backend.CreateRoom(ctx, RoomSpec{
		Name:              opts.Name,
		MaxParticipants:   settings.MaxParticipants,
		Duration:          settings.Duration,
		EncryptionEnabled: security.EncryptionEnabled,
	})
	if err != nil {
		return nil, b.fail(op, err)
	}
	if state.MaxParticipants > 0 {
		settings.MaxParticipants = state.MaxParticipants
	}
	created := state.CreatedAt
	if created.IsZero() {
		created = b.clock()
	}
	ledger := &roomLedger{
		name:      opts.Name,
		createdAt: created,
		settings:  settings,
		security:  security,
	}

	b.mu.Lock()
	b.rooms[state.ID] = ledger
	room := b.composeLocked(state, ledger)
	b.mu.Unlock()

	log.WithFields(logrus.Fields{
		"room_id":   state.ID,
		"protected": security.IsProtectedCall,
	}).Info("room created")
	return room, nil
}

func initialSecurity(upd *SecuritySettingsUpdate, log *logrus.Entry) SecuritySettings {
	sec := DefaultSecuritySettings()
	if upd == nil {
		return sec
	}
	sec = upd.Apply(sec)
	if !sec.IsProtectedCall {
		return sec
	}
	asked := (upd.AllowRecording != nil && *upd.AllowRecording) ||
		(upd.AllowAIMonitoring != nil && *upd.AllowAIMonitoring)
	if asked {
		log.Warn("protected call: recording and AI monitoring disabled at creation")
	}
	sec.AllowRecording = false
	sec.AllowAIMonitoring = false
	return sec
}

// JoinRoom admits p to the room, enforcing the role whitelist.
func (b *Base) JoinRoom(ctx context.Context, roomID string, p Participant) error {
	const op = "JoinRoom"
	backend, log, err := b.ready()
	if err != nil {
		return b.fail(op, err)
	}
	if err := ValidateParticipant(p); err != nil {
		return b.fail(op, NewValidationError(err))
	}
	if err := b.checkRole(roomID, p.Role); err != nil {
		return b.fail(op, err)
	}
	if err := backend.AddParticipant(ctx, roomID, p); err != nil {
		return b.fail(op, err)
	}
	log.WithFields(logrus.Fields{"room_id": roomID, "participant": p.ID, "role": p.Role}).Debug("participant joined")
	return nil
}

func (b *Base) checkRole(roomID string, role Role) error {
	b.mu.Lock()
	ledger, ok := b.rooms[roomID]
	var sec SecuritySettings
	if ok {
		sec = ledger.security
	}
	b.mu.Unlock()
	if ok && !sec.Permits(role) {
		return NewSecurityPolicyError(fmt.Errorf("role %q is not permitted in room %s", role, roomID))
	}
	return nil
}

// LeaveRoom removes a participant from the room.
func (b *Base) LeaveRoom(ctx context.Context, roomID, participantID string) error {
	const op = "LeaveRoom"
	backend, log, err := b.ready()
	if err != nil {
		return b.fail(op, err)
	}
	if participantID == "" {
		return b.fail(op, NewValidationError(errors.New("participant id is required")))
	}
	if err := backend.RemoveParticipant(ctx, roomID, participantID); err != nil {
		return b.fail(op, err)
	}
	log.WithFields(logrus.Fields{"room_id": roomID, "participant": participantID}).Debug("participant left")
	return nil
}

// ListRooms returns every room the backend reports.
func (b *Base) ListRooms(ctx context.Context) ([]*Room, error) {
	const op = "ListRooms"
	backend, _, err := b.ready()
	if err != nil {
		return nil, b.fail(op, err)
	}
	states, err := backend.ListRooms(ctx)
	if err != nil {
		return nil, b.fail(op, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	rooms := make([]*Room, 0, len(states))
	for _, st := range states {
		rooms = append(rooms, b.composeLocked(st, b.ledgerViewLocked(st)))
	}
	return rooms, nil
}

// GetRoomInfo returns the current state of one room.
func (b *Base) GetRoomInfo(ctx context.Context, roomID string) (*Room, error) {
	const op = "GetRoomInfo"
	backend, _, err := b.ready()
	if err != nil {
		return nil, b.fail(op, err)
	}
	st, err := backend.GetRoom(ctx, roomID)
	if err != nil {
		return nil, b.fail(op, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	return b.composeLocked(st, b.ledgerViewLocked(st)), nil
}

// UpdateRoomSettings merges update into the room's settings.
func (b *Base) UpdateRoomSettings(ctx context.Context, roomID string, update RoomSettingsUpdate) (*Room, error) {
	const op = "UpdateRoomSettings"
	backend, log, err := b.ready()
	if err != nil {
		return nil, b.fail(op, err)
	}
	if err := update.Validate(); err != nil {
		return nil, b.fail(op, NewValidationError(err))
	}

	b.txMu.Lock()
	defer b.txMu.Unlock()

	st, err := backend.GetRoom(ctx, roomID)
	if err != nil {
		return nil, b.fail(op, err)
	}
	b.mu.Lock()
	ledger := b.ledgerLocked(st)
	prev := ledger.settings
	security := ledger.security
	name := ledger.name
	b.mu.Unlock()

	merged := update.Apply(prev)
	if merged.MaxParticipants < len(st.Participants) {
		return nil, b.fail(op, NewValidationError(fmt.Errorf(
			"max participants %d is below the %d currently connected", merged.MaxParticipants, len(st.Participants))))
	}
	if merged.MaxParticipants != prev.MaxParticipants || merged.Duration != prev.Duration {
		err := backend.UpdateRoom(ctx, roomID, RoomSpec{
			Name:              name,
			MaxParticipants:   merged.MaxParticipants,
			Duration:          merged.Duration,
			EncryptionEnabled: security.EncryptionEnabled,
		})
		if err != nil {
			return nil, b.fail(op, err)
		}
	}

	b.mu.Lock()
	ledger.settings = merged
	b.mu.Unlock()
	log.WithField("room_id", roomID).Debug("room settings updated")

	return b.GetRoomInfo(ctx, roomID)
}

// UpdateSecuritySettings merges update into the room's policy. Marking a
// room protected turns recording and AI monitoring off unless the same
// update sets them explicitly. A recording in progress that the new policy
// no longer permits is stopped as part of the update.
func (b *Base) UpdateSecuritySettings(ctx context.Context, roomID string, update SecuritySettingsUpdate) (*Room, error) {
	const op = "UpdateSecuritySettings"
	backend, log, err := b.ready()
	if err != nil {
		return nil, b.fail(op, err)
	}
	if err := update.Validate(); err != nil {
		return nil, b.fail(op, NewValidationError(err))
	}

	b.txMu.Lock()
	defer b.txMu.Unlock()

	st, err := backend.GetRoom(ctx, roomID)
	if err != nil {
		return nil, b.fail(op, err)
	}

	b.mu.Lock()
	ledger := b.ledgerLocked(st)
	prev := ledger.security
	merged := update.Apply(prev)
	if merged.IsProtectedCall && !prev.IsProtectedCall {
		if update.AllowRecording == nil {
			merged.AllowRecording = false
		}
		if update.AllowAIMonitoring == nil {
			merged.AllowAIMonitoring = false
		}
	}
	rec := b.currentLocked(roomID)
	if rec != nil && !revokes(merged, rec.info) {
		rec = nil
	}
	if rec == nil {
		ledger.security = merged
	}
	b.mu.Unlock()

	entry := log.WithField("room_id", roomID)
	if rec != nil {
		// The policy is committed only once the backend has stopped it.
		if err := backend.StopRecording(ctx, roomID, rec.segment, rec.info.Status == RecordingPaused); err != nil {
			return nil, b.fail(op, err)
		}
		b.mu.Lock()
		now := b.now()
		if rec.info.Status == RecordingActive {
			rec.info.Duration += now.Sub(rec.activeSince)
		}
		rec.info.Status = RecordingStopped
		ledger.security = merged
		b.mu.Unlock()
		entry.WithField("recording_id", rec.info.ID).Info("recording stopped: no longer permitted by room policy")
	}
	entry.WithFields(logrus.Fields{
		"protected":       merged.IsProtectedCall,
		"allow_recording": merged.AllowRecording,
	}).Info("security settings updated")

	return b.GetRoomInfo(ctx, roomID)
}

// JoinToken mints a client credential after applying the same role
// whitelist as JoinRoom.
func (b *Base) JoinToken(ctx context.Context, roomID string, p Participant) (string, error) {
	const op = "JoinToken"
	backend, _, err := b.ready()
	if err != nil {
		return "", b.fail(op, err)
	}
	if roomID == "" {
		return "", b.fail(op, NewValidationError(errors.New("room id is required")))
	}
	if err := ValidateParticipant(p); err != nil {
		return "", b.fail(op, NewValidationError(err))
	}
	if err := b.checkRole(roomID, p.Role); err != nil {
		return "", b.fail(op, err)
	}
	token, err := backend.JoinToken(ctx, roomID, p)
	if err != nil {
		return "", b.fail(op, err)
	}
	return token, nil
}

// Disconnect closes the backend. Subsequent operations fail with an
// invalid state error; repeated calls return nil.
func (b *Base) Disconnect(ctx context.Context) error {
	b.mu.Lock()
	if b.state != stateReady {
		b.mu.Unlock()
		return nil
	}
	b.state = stateClosed
	backend := b.backend
	log := b.log
	b.mu.Unlock()

	if err := backend.Close(ctx); err != nil {
		log.WithError(err).Warn("backend close failed")
		return b.fail("Disconnect", err)
	}
	log.Debug("provider disconnected")
	return nil
}

func (b *Base) clock() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.now()
}

// ledgerLocked returns the ledger for st, storing a default one for rooms
// this adapter did not create. Only write paths call it. b.mu must be held.
func (b *Base) ledgerLocked(st *RoomState) *roomLedger {
	if l, ok := b.rooms[st.ID]; ok {
		return l
	}
	l := defaultLedger(st)
	b.rooms[st.ID] = l
	return l
}

// ledgerViewLocked is ledgerLocked for read paths: a room this adapter has
// never written to gets a default ledger that is not stored.
func (b *Base) ledgerViewLocked(st *RoomState) *roomLedger {
	if l, ok := b.rooms[st.ID]; ok {
		return l
	}
	return defaultLedger(st)
}

func defaultLedger(st *RoomState) *roomLedger {
	settings := DefaultRoomSettings()
	if st.MaxParticipants > 0 {
		settings.MaxParticipants = st.MaxParticipants
	}
	return &roomLedger{
		name:      st.Name,
		createdAt: st.CreatedAt,
		settings:  settings,
		security:  DefaultSecuritySettings(),
	}
}

// composeLocked builds the caller view of a room. b.mu must be held.
func (b *Base) composeLocked(st *RoomState, l *roomLedger) *Room {
	name := l.name
	if name == "" {
		name = st.Name
	}
	created := st.CreatedAt
	if created.IsZero() {
		created = l.createdAt
	}
	security := l.security
	security.RequiredParticipantRoles = append([]Role(nil), l.security.RequiredParticipantRoles...)
	room := &Room{
		ID:           st.ID,
		Name:         name,
		Participants: append([]Participant{}, st.Participants...),
		CreatedAt:    created,
		Settings:     l.settings,
		Security:     security,
	}
	if rec := b.currentLocked(st.ID); rec != nil {
		room.Recording = rec.snapshot(b.now())
	}
	return room
}
