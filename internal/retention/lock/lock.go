// Package lock provides per-policy mutual exclusion for retention sweeps.
// A sweep holds the lock for its policy while scanning and acting, so a
// manually triggered sweep cannot interleave with a scheduled one for the
// same entity type.
package lock

import (
	"context"
	"sync"
	"time"

	"chronicle/pkg/platform/sentinel"
)

// ReleaseFunc releases a held lock. Safe to call once.
type ReleaseFunc func(ctx context.Context) error

// Manager hands out exclusive leases keyed by name.
type Manager interface {
	// TryAcquire attempts to take the named lock without blocking. It
	// returns sentinel.ErrLockHeld when another holder owns it.
	TryAcquire(ctx context.Context, name string, ttl time.Duration) (ReleaseFunc, error)
}

// InProcess is a Manager backed by a keyed mutex. It is the default for
// single-instance deployments and for tests.
type InProcess struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewInProcess creates an in-process lock manager.
func NewInProcess() *InProcess {
	return &InProcess{held: make(map[string]struct{})}
}

// TryAcquire implements Manager. The ttl is ignored; in-process locks live
// until released.
func (m *InProcess) TryAcquire(_ context.Context, name string, _ time.Duration) (ReleaseFunc, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.held[name]; ok {
		return nil, sentinel.ErrLockHeld
	}
	m.held[name] = struct{}{}

	var once sync.Once
	release := func(context.Context) error {
		once.Do(func() {
			m.mu.Lock()
			delete(m.held, name)
			m.mu.Unlock()
		})
		return nil
	}
	return release, nil
}
