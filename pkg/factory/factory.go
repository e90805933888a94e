// Package factory is the single entry point callers use to obtain video
// providers. A Factory keeps at most one live, initialized provider per
// kind and tears them down on request.
package factory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"reflect"
	"slices"

	"github.com/sirupsen/logrus"

	"github.com/jdgilhuly/visitvideo/pkg/video"
)

// EnvDefaultProvider names the default provider when Create is called
// without one and no WithDefaultKind option was given.
const EnvDefaultProvider = "VIDEO_DEFAULT_PROVIDER"

// Option configures a Factory.
type Option func(*Factory)

// WithLogger sets the logger handed to every provider.
func WithLogger(l *logrus.Logger) Option {
	return func(f *Factory) { f.logger = l }
}

// WithDefaultKind sets the kind used when Create gets an empty name.
func WithDefaultKind(k Kind) Option {
	return func(f *Factory) { f.defaultKind = k }
}

// WithConstructor registers or replaces the constructor for k.
func WithConstructor(k Kind, c Constructor) Option {
	return func(f *Factory) { f.constructors[k] = c }
}

// WithRegistry makes the factory use r instead of a private registry.
func WithRegistry(r *Registry) Option {
	return func(f *Factory) { f.registry = r }
}

// Factory creates, caches, and destroys providers.
type Factory struct {
	logger       *logrus.Logger
	defaultKind  Kind
	constructors map[Kind]Constructor
	registry     *Registry
}

// New returns a Factory with the built-in adapters registered.
func New(opts ...Option) *Factory {
	f := &Factory{
		logger:       logrus.StandardLogger(),
		constructors: DefaultConstructors(),
		registry:     NewRegistry(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Resolve maps an optional provider name to a registered kind. An empty
// name selects the default kind.
func (f *Factory) Resolve(name string) (Kind, error) {
	if name == "" {
		switch {
		case f.defaultKind != "":
			if _, ok := f.constructors[f.defaultKind]; !ok {
				return "", unsupported(f.defaultKind)
			}
			return f.defaultKind, nil
		case os.Getenv(EnvDefaultProvider) != "":
			name = os.Getenv(EnvDefaultProvider)
		default:
			return DefaultKind, nil
		}
	}
	k := Kind(name)
	if _, ok := f.constructors[k]; ok {
		return k, nil
	}
	k, err := ParseKind(name)
	if err != nil {
		return "", err
	}
	if _, ok := f.constructors[k]; !ok {
		return "", unsupported(k)
	}
	return k, nil
}

// Create returns the live provider for name, building and initializing it
// on first use. An empty name selects the default kind.
//
// An existing instance is returned unchanged; a differing cfg is ignored
// with a warning. Use Reconfigure to replace it. Initialization errors are
// returned as-is and nothing is registered.
func (f *Factory) Create(ctx context.Context, cfg video.ProviderConfig, name string) (video.Provider, error) {
	k, err := f.Resolve(name)
	if err != nil {
		return nil, err
	}
	e, created, err := f.registry.GetOrCreate(k, f.builder(ctx, k, cfg))
	if err != nil {
		return nil, err
	}
	if !created && !reflect.DeepEqual(e.Config, cfg) {
		f.logger.WithField("provider", k).Warn("provider already exists; ignoring new configuration (use Reconfigure)")
	}
	return e.Provider, nil
}

// Open builds and initializes a new provider for name without registering
// it. The caller owns the instance and must Disconnect it.
func (f *Factory) Open(ctx context.Context, cfg video.ProviderConfig, name string) (video.Provider, error) {
	k, err := f.Resolve(name)
	if err != nil {
		return nil, err
	}
	e, err := f.builder(ctx, k, cfg)()
	if err != nil {
		return nil, err
	}
	return e.Provider, nil
}

func (f *Factory) builder(ctx context.Context, k Kind, cfg video.ProviderConfig) func() (Entry, error) {
	return func() (Entry, error) {
		p := f.constructors[k](f.logger)
		if err := p.Initialize(ctx, cfg); err != nil {
			return Entry{}, err
		}
		f.logger.WithFields(logrus.Fields{"provider": k, "mode": p.Mode()}).Debug("provider created")
		return Entry{Provider: p, Config: cfg}, nil
	}
}

func (f *Factory) disconnect(ctx context.Context, k Kind) func(Entry) error {
	return func(e Entry) error {
		if err := e.Provider.Disconnect(ctx); err != nil {
			return fmt.Errorf("disconnecting %s: %w", k, err)
		}
		f.logger.WithField("provider", k).Debug("provider destroyed")
		return nil
	}
}

// Reconfigure replaces the provider for name with one initialized from
// cfg. The old instance, if any, is disconnected first; a disconnect
// failure is logged and does not block the replacement.
func (f *Factory) Reconfigure(ctx context.Context, cfg video.ProviderConfig, name string) (video.Provider, error) {
	k, err := f.Resolve(name)
	if err != nil {
		return nil, err
	}
	e, teardownErr, err := f.registry.Replace(k, f.disconnect(ctx, k), f.builder(ctx, k, cfg))
	if teardownErr != nil {
		f.logger.WithField("provider", k).WithError(teardownErr).Warn("disconnecting replaced provider")
	}
	if err != nil {
		return nil, err
	}
	return e.Provider, nil
}

// Destroy disconnects and removes the provider for name. An empty name
// destroys every provider. Removing a provider that does not exist is a
// no-op. The entry is removed even when Disconnect fails.
func (f *Factory) Destroy(ctx context.Context, name string) error {
	if name == "" {
		return f.DestroyAll(ctx)
	}
	k, err := f.Resolve(name)
	if err != nil {
		return err
	}
	_, err = f.registry.Remove(k, f.disconnect(ctx, k))
	return err
}

// DestroyAll disconnects and removes every provider. Failures do not stop
// the sweep; they are joined into the returned error.
func (f *Factory) DestroyAll(ctx context.Context) error {
	var errs []error
	for _, k := range f.registry.Kinds() {
		if _, err := f.registry.Remove(k, f.disconnect(ctx, k)); err != nil {
			f.logger.WithField("provider", k).WithError(err).Error("destroying provider")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Get returns the live provider for name without creating one.
func (f *Factory) Get(name string) (video.Provider, bool) {
	k, err := f.Resolve(name)
	if err != nil {
		return nil, false
	}
	e, ok := f.registry.Get(k)
	if !ok {
		return nil, false
	}
	return e.Provider, true
}

// Registry exposes the factory's registry.
func (f *Factory) Registry() *Registry { return f.registry }

// Active lists the kinds with a live provider.
func (f *Factory) Active() []Kind { return f.registry.Kinds() }

// Kinds lists every kind this factory can build: built-ins first, then
// any extra registrations in name order.
func (f *Factory) Kinds() []Kind {
	out := make([]Kind, 0, len(f.constructors))
	for _, k := range Kinds() {
		if _, ok := f.constructors[k]; ok {
			out = append(out, k)
		}
	}
	var extra []Kind
	for k := range f.constructors {
		if !slices.Contains(out, k) {
			extra = append(extra, k)
		}
	}
	slices.Sort(extra)
	return append(out, extra...)
}
