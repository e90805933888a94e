// Package livekit adapts a LiveKit server (self-hosted or LiveKit Cloud) to
// the video.Provider contract.
//
// Rooms and participants go through the RoomService API and recordings
// through room-composite egress, both via the LiveKit server SDK. Egress
// cannot pause, so pausing stops the current egress and resuming starts a
// new one under the same logical recording id. Clients join with access
// tokens minted by JoinToken.
package livekit

import (
	"context"
	"time"

	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/sirupsen/logrus"

	"github.com/jdgilhuly/visitvideo/pkg/video"
	"github.com/jdgilhuly/visitvideo/pkg/video/simulated"
)

const (
	Name = "livekit"

	defaultTokenTTL     = time.Hour
	defaultEmptyTimeout = 5 * time.Minute
)

// Option configures a Provider.
type Option func(*Provider)

// WithTokenTTL sets the lifetime of access tokens issued by JoinToken.
func WithTokenTTL(d time.Duration) Option {
	return func(p *Provider) { p.tokenTTL = d }
}

// WithRecordingPath sets the egress file path template. {room} and
// {segment} are substituted per segment.
func WithRecordingPath(tmpl string) Option {
	return func(p *Provider) { p.recordingPath = tmpl }
}

// withServices replaces the SDK clients, for tests.
func withServices(rooms roomService, egress egressService) Option {
	return func(p *Provider) {
		p.rooms = rooms
		p.egress = egress
	}
}

// Provider implements video.Provider for LiveKit.
type Provider struct {
	*video.Base
	tokenTTL      time.Duration
	recordingPath string

	rooms  roomService
	egress egressService
}

var (
	_ video.Provider    = (*Provider)(nil)
	_ video.TokenIssuer = (*Provider)(nil)
)

// New returns an uninitialized LiveKit provider.
func New(logger *logrus.Logger, opts ...Option) *Provider {
	p := &Provider{
		Base:          video.NewBase(Name, logger),
		tokenTTL:      defaultTokenTTL,
		recordingPath: defaultRecordingPath,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Initialize requires an API key, its secret, and the server URL in live
// mode.
func (p *Provider) Initialize(ctx context.Context, cfg video.ProviderConfig) error {
	return p.Init(ctx, cfg, video.Requirements{APISecret: true, BaseURL: true}, p.open)
}

func (p *Provider) open(mode video.Mode, cfg video.ProviderConfig, log *logrus.Entry) (video.Backend, error) {
	if mode == video.ModeMock {
		return simulated.New(Name), nil
	}
	rooms, egress := p.rooms, p.egress
	if rooms == nil {
		rooms = lksdk.NewRoomServiceClient(cfg.BaseURL, cfg.APIKey, cfg.APISecret)
	}
	if egress == nil {
		egress = lksdk.NewEgressClient(cfg.BaseURL, cfg.APIKey, cfg.APISecret)
	}
	return &sdkBackend{
		rooms:         rooms,
		egress:        egress,
		apiKey:        cfg.APIKey,
		apiSecret:     cfg.APISecret,
		tokenTTL:      p.tokenTTL,
		recordingPath: p.recordingPath,
		timeout:       cfg.RequestTimeout,
		log:           log,
	}, nil
}
