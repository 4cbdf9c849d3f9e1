package feature

import (
	"context"
	"fmt"
	"sync"

	"github.com/tib-san/Toolasha-sub001/pkg/logger"
)

// Registry holds features in registration order. InitAll and TeardownAll
// run hooks sequentially and await each one; a failing or panicking feature
// is logged and skipped, never allowed to abort its siblings or wedge the
// lifecycle.
type Registry struct {
	mu       sync.Mutex
	features []Feature
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register appends a feature. Registration order is initialization order.
func (r *Registry) Register(f Feature) {
	r.mu.Lock()
	r.features = append(r.features, f)
	r.mu.Unlock()
	logger.InfoCF("feature", "registered", map[string]interface{}{"name": f.Name()})
}

// Names returns feature names in registration order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, len(r.features))
	for i, f := range r.features {
		names[i] = f.Name()
	}
	return names
}

func (r *Registry) snapshot() []Feature {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Feature, len(r.features))
	copy(out, r.features)
	return out
}

// InitAll initializes every enabled feature in registration order. Features
// whose persisted flag is off are skipped. Each hook is awaited; failures
// are isolated per feature.
func (r *Registry) InitAll(ctx context.Context, rt *Runtime) {
	for _, f := range r.snapshot() {
		if rt != nil && rt.Flags != nil {
			enabled, err := rt.Flags.Enabled(f.Name(), true)
			if err != nil {
				logger.WarnCF("feature", "flag lookup failed, assuming enabled", map[string]interface{}{
					"name":  f.Name(),
					"error": err.Error(),
				})
			} else if !enabled {
				logger.InfoCF("feature", "disabled, skipping init", map[string]interface{}{
					"name": f.Name(),
				})
				continue
			}
		}
		if err := runHook(f.Name(), "init", func() error { return f.Init(ctx, rt) }); err != nil {
			logger.ErrorCF("feature", "init failed", map[string]interface{}{
				"name":  f.Name(),
				"error": err.Error(),
			})
		}
	}
}

// TeardownAll tears every feature down in registration order, awaiting each
// hook. Errors and panics are logged per feature and do not stop the pass.
func (r *Registry) TeardownAll(ctx context.Context) {
	for _, f := range r.snapshot() {
		if err := runHook(f.Name(), "teardown", func() error { return f.Teardown(ctx) }); err != nil {
			logger.ErrorCF("feature", "teardown failed", map[string]interface{}{
				"name":  f.Name(),
				"error": err.Error(),
			})
		}
	}
}

// runHook awaits one hook with panic containment.
func runHook(name, hook string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("feature %s: %s panicked: %v", name, hook, r)
		}
	}()
	return fn()
}
