// Package googlemeet adapts Google Meet spaces to the video.Provider
// contract using the Meet REST API v2.
//
// Meet has no server-side recording control, participant removal, or
// capacity setting. Recording operations and LeaveRoom fail with a backend
// error wrapping video.ErrUnsupported in live mode; capacity is enforced
// from the adapter's own room settings.
package googlemeet

import (
	"context"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/jdgilhuly/visitvideo/pkg/video"
	"github.com/jdgilhuly/visitvideo/pkg/video/internal/rest"
	"github.com/jdgilhuly/visitvideo/pkg/video/simulated"
)

const (
	Name              = "google-meet"
	DefaultAPIBaseURL = "https://meet.googleapis.com/v2"
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

// Provider implements video.Provider for Google Meet.
type Provider struct {
	*video.Base
	client  *http.Client
	baseURL string
}

var (
	_ video.Provider    = (*Provider)(nil)
	_ video.TokenIssuer = (*Provider)(nil)
)

// New returns an uninitialized Google Meet provider.
func New(logger *logrus.Logger, opts ...Option) *Provider {
	p := &Provider{Base: video.NewBase(Name, logger)}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Initialize requires an OAuth access token in APIKey in live mode.
func (p *Provider) Initialize(ctx context.Context, cfg video.ProviderConfig) error {
	return p.Init(ctx, cfg, video.Requirements{}, p.open)
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
	return newRESTBackend(cfg.APIKey, baseURL, client, log), nil
}
