// Package twilio adapts Twilio Video to the video.Provider contract.
//
// Rooms, participants, and recording rules are driven through the Twilio
// Video REST API (v1). Clients connect with access tokens minted by
// JoinToken. Without credentials outside production the adapter runs
// against the simulated backend.
package twilio

import (
	"context"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jdgilhuly/visitvideo/pkg/video"
	"github.com/jdgilhuly/visitvideo/pkg/video/internal/rest"
	"github.com/jdgilhuly/visitvideo/pkg/video/simulated"
)

const (
	// Name identifies this provider in the factory.
	Name = "twilio"

	// DefaultAPIBaseURL is the Twilio Video REST API base URL.
	DefaultAPIBaseURL = "https://video.twilio.com/v1"

	defaultTokenTTL = time.Hour
)

// Room status values reported by the REST API.
const (
	RoomStatusInProgress = "in-progress"
	RoomStatusCompleted  = "completed"
)

// Option configures a Provider.
type Option func(*Provider)

// WithHTTPClient sets a custom HTTP client (useful for testing).
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.client = c }
}

// WithBaseURL overrides the REST API base URL.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// WithTokenTTL sets the lifetime of access tokens issued by JoinToken.
func WithTokenTTL(d time.Duration) Option {
	return func(p *Provider) { p.tokenTTL = d }
}

// Provider implements video.Provider for Twilio Video.
type Provider struct {
	*video.Base
	client   *http.Client
	baseURL  string
	tokenTTL time.Duration
}

var (
	_ video.Provider    = (*Provider)(nil)
	_ video.TokenIssuer = (*Provider)(nil)
)

// New returns an uninitialized Twilio provider.
func New(logger *logrus.Logger, opts ...Option) *Provider {
	p := &Provider{
		Base:     video.NewBase(Name, logger),
		tokenTTL: defaultTokenTTL,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Initialize requires an API key SID, its secret, and the account SID in
// live mode.
func (p *Provider) Initialize(ctx context.Context, cfg video.ProviderConfig) error {
	return p.Init(ctx, cfg, video.Requirements{APISecret: true, AccountID: true}, p.open)
}

func (p *Provider) open(mode video.Mode, cfg video.ProviderConfig, log *logrus.Entry) (video.Backend, error) {
	if mode == video.ModeMock {
		return simulated.New(Name), nil
	}

	baseURL := p.baseURL
	if baseURL == "" {
		baseURL = cfg.BaseURL
	}
	if baseURL == "" {
		baseURL = DefaultAPIBaseURL
	}
	client := p.client
	if client == nil {
		client = rest.NewHTTPClient(cfg.RequestTimeout)
	}
	return newRESTBackend(cfg, baseURL, client, p.tokenTTL, log), nil
}
