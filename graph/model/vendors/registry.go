package vendors

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/dshills/flowstate/graph/model"
)

// ErrNotConfigured is returned by Registry.Adapter for a native vendor that
// has no registered Config.
var ErrNotConfigured = errors.New("vendor not configured")

// Registry holds one Config per vendor, builds each adapter on first use
// and overlays registered capability profiles on the adapters' own
// discovery. It is safe for concurrent use.
type Registry struct {
	mu       sync.Mutex
	configs  map[model.Vendor]Config
	adapters map[model.Vendor]*profiledAdapter
	profiles map[string]model.CapabilityDescriptor
}

// NewRegistry returns a registry configured with cfgs.
func NewRegistry(cfgs ...Config) *Registry {
	r := &Registry{
		configs:  make(map[model.Vendor]Config),
		adapters: make(map[model.Vendor]*profiledAdapter),
		profiles: make(map[string]model.CapabilityDescriptor),
	}
	for _, cfg := range cfgs {
		r.Register(cfg)
	}
	return r
}

// Register sets the Config for cfg.Vendor. An adapter already built for
// that vendor is kept until Close.
func (r *Registry) Register(cfg Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs[cfg.Vendor] = cfg
}

// SetProfile registers the capabilities reported for profile.Model,
// whichever vendor serves it.
func (r *Registry) SetProfile(profile model.CapabilityDescriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.profiles[profile.Model] = profile
}

// Vendors lists the configured vendors in native order.
func (r *Registry) Vendors() []model.Vendor {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Vendor
	for _, v := range model.NativeVendors() {
		if _, ok := r.configs[v]; ok {
			out = append(out, v)
		}
	}
	return out
}

// Adapter returns the adapter for vendor, building it with New on first
// use. Its Capabilities consult the registry's profiles before the
// backend.
func (r *Registry) Adapter(ctx context.Context, vendor model.Vendor) (model.Adapter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if a, ok := r.adapters[vendor]; ok {
		return a, nil
	}
	if !model.IsNativeVendor(vendor) {
		return nil, fmt.Errorf("%w: %q", model.ErrUnsupportedVendor, string(vendor))
	}
	cfg, ok := r.configs[vendor]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotConfigured, vendor)
	}

	backend, err := New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a := &profiledAdapter{Adapter: backend, vendor: vendor, registry: r}
	r.adapters[vendor] = a
	return a, nil
}

// Capabilities returns the capabilities of modelName served by vendor.
func (r *Registry) Capabilities(ctx context.Context, vendor model.Vendor, modelName string) (model.CapabilityDescriptor, error) {
	a, err := r.Adapter(ctx, vendor)
	if err != nil {
		return model.CapabilityDescriptor{}, err
	}
	return a.Capabilities(ctx, modelName)
}

// Close releases every built adapter that holds resources.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for v, a := range r.adapters {
		if c, ok := a.Adapter.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s: %w", v, err))
			}
		}
		delete(r.adapters, v)
	}
	return errors.Join(errs...)
}

func (r *Registry) profile(modelName string) (model.CapabilityDescriptor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.profiles[modelName]
	return p, ok
}

// profiledAdapter answers Capabilities from a registered profile when one
// exists for the model.
type profiledAdapter struct {
	model.Adapter
	vendor   model.Vendor
	registry *Registry
}

func (a *profiledAdapter) Capabilities(ctx context.Context, modelName string) (model.CapabilityDescriptor, error) {
	if p, ok := a.registry.profile(modelName); ok {
		if p.Provider == "" {
			p.Provider = string(a.vendor)
		}
		return p, nil
	}
	return a.Adapter.Capabilities(ctx, modelName)
}
