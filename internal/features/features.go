// Package features holds runtime switches that operators can flip without a
// restart.
package features

import (
	"errors"
	"sort"
	"sync"
)

// ErrUnknownFlag is returned when switching a flag that was never registered.
var ErrUnknownFlag = errors.New("features: unknown flag")

const (
	// FeatureCacheEnabled serves tenant catalogs from the catalog cache.
	FeatureCacheEnabled = "cache_enabled"
	// FeatureEventHooksEnabled publishes promotion and evaluation events.
	FeatureEventHooksEnabled = "event_hooks_enabled"
	// FeatureLedgerPrecheck reads committed usage from the ledger before pricing.
	FeatureLedgerPrecheck = "ledger_precheck"
)

// Flag is a snapshot of one switch.
type Flag struct {
	Name        string
	Enabled     bool
	Description string
}

// Manager is a concurrency-safe set of flags.
type Manager struct {
	mu    sync.RWMutex
	flags map[string]Flag
}

func NewManager() *Manager {
	return &Manager{flags: make(map[string]Flag)}
}

// Register adds a flag or replaces its state and description.
func (m *Manager) Register(name string, enabled bool, description string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flags[name] = Flag{Name: name, Enabled: enabled, Description: description}
}

// RegisterDefaults registers the flags the service reads.
func (m *Manager) RegisterDefaults(cacheEnabled, eventHooks, ledgerPrecheck bool) {
	m.Register(FeatureCacheEnabled, cacheEnabled, "Serve tenant catalogs from cache")
	m.Register(FeatureEventHooksEnabled, eventHooks, "Publish promotion and evaluation events")
	m.Register(FeatureLedgerPrecheck, ledgerPrecheck, "Read committed usage before pricing")
}

// IsEnabled reports the state of a flag. Unknown flags are off.
func (m *Manager) IsEnabled(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.flags[name].Enabled
}

// Set switches a registered flag and reports whether its state changed.
func (m *Manager) Set(name string, enabled bool) (Flag, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.flags[name]
	if !ok {
		return Flag{}, false, ErrUnknownFlag
	}
	changed := f.Enabled != enabled
	f.Enabled = enabled
	m.flags[name] = f
	return f, changed, nil
}

// List returns every flag ordered by name.
func (m *Manager) List() []Flag {
	m.mu.RLock()
	out := make([]Flag, 0, len(m.flags))
	for _, f := range m.flags {
		out = append(out, f)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
