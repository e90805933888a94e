// Package daily adapts Daily.co to the video.Provider contract through the
// Daily REST API. Daily has no recording pause, so a paused recording is a
// closed segment and resuming opens a new one under the same logical id.
package daily

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
	Name              = "daily"
	DefaultAPIBaseURL = "https://api.daily.co/v1"
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

// Provider implements video.Provider for Daily.
type Provider struct {
	*video.Base
	client  *http.Client
	baseURL string
	now     func() time.Time
}

var (
	_ video.Provider    = (*Provider)(nil)
	_ video.TokenIssuer = (*Provider)(nil)
)

// New returns an uninitialized Daily provider.
func New(logger *logrus.Logger, opts ...Option) *Provider {
	p := &Provider{
		Base: video.NewBase(Name, logger),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Initialize requires an API key in live mode.
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
	return newRESTBackend(cfg.APIKey, baseURL, client, p.now, log), nil
}
