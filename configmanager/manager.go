// Package configmanager serves storage backend configuration from an in-process
// cache in front of the config store, tracks the active backend and notifies
// subscribers when configuration changes.
package configmanager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ruteri/object-storage-backend/interfaces"
	"github.com/ruteri/object-storage-backend/metrics"
	"go.uber.org/atomic"
	"golang.org/x/sync/singleflight"
)

// Subscriber is called synchronously after every configuration change.
type Subscriber func(ev interfaces.Invalidation)

// Manager implements interfaces.ConfigProvider.
//
// Reads are cache-through with one in-flight load per key. Every write evicts
// the affected entries and bumps the key's generation; a load that started
// before the write never repopulates the cache.
type Manager struct {
	store interfaces.ConfigStore
	log   *slog.Logger
	group singleflight.Group

	cacheMu     sync.RWMutex
	configs     map[string]*interfaces.BackendConfig // nil value: no stored config
	urls        map[string]string
	generations map[string]uint64
	epoch       uint64

	// writeMu serializes writes and the notifications they publish.
	writeMu sync.Mutex
	active  *atomic.String

	subsMu      sync.RWMutex
	subscribers []Subscriber
}

func New(store interfaces.ConfigStore, log *slog.Logger) *Manager {
	return &Manager{
		store:       store,
		log:         log,
		configs:     make(map[string]*interfaces.BackendConfig),
		urls:        make(map[string]string),
		generations: make(map[string]uint64),
		active:      atomic.NewString(interfaces.DefaultBackendKey),
	}
}

// Subscribe registers fn for invalidation events.
func (m *Manager) Subscribe(fn Subscriber) {
	m.subsMu.Lock()
	m.subscribers = append(m.subscribers, fn)
	m.subsMu.Unlock()
}

// Config returns a copy of the config of key, or ErrNotFound.
func (m *Manager) Config(ctx context.Context, key string) (*interfaces.BackendConfig, error) {
	m.cacheMu.RLock()
	cached, ok := m.configs[key]
	gen := m.generationLocked(key)
	m.cacheMu.RUnlock()
	metrics.RecordCacheLookup(ok)
	if ok {
		if cached == nil {
			return nil, fmt.Errorf("%w: backend config %s", interfaces.ErrNotFound, key)
		}
		return cached.Clone(), nil
	}

	// The load is shared by every waiter on the key, so one caller going away
	// must not fail the others.
	loadCtx := context.WithoutCancel(ctx)
	v, err, _ := m.group.Do(fmt.Sprintf("%s#%d", key, gen), func() (interface{}, error) {
		cfg, err := m.store.FindByKey(loadCtx, key)
		if err != nil && !errors.Is(err, interfaces.ErrNotFound) {
			return nil, err
		}

		// A missing row is cached as nil until the next write to key.
		m.cacheMu.Lock()
		if m.generationLocked(key) == gen {
			m.configs[key] = cfg.Clone()
		} else {
			m.log.Debug("Discarding config loaded before invalidation", slog.String("backend", key))
		}
		m.cacheMu.Unlock()
		return cfg, err
	})
	if err != nil {
		return nil, err
	}
	return v.(*interfaces.BackendConfig).Clone(), nil
}

// Property returns settings[prop] of key, or def when the setting is blank or
// the config cannot be loaded.
func (m *Manager) Property(ctx context.Context, key, prop, def string) string {
	cfg, err := m.Config(ctx, key)
	if err != nil {
		if !errors.Is(err, interfaces.ErrNotFound) {
			m.log.Warn("Failed to load backend config, using default property",
				slog.String("backend", key),
				slog.String("property", prop),
				"err", err)
		}
		return def
	}
	return cfg.Setting(prop, def)
}

// PublicBaseURL returns the base of public object URLs of key: the config's
// publicBaseUrl, else the publicBaseUrl setting, else "".
func (m *Manager) PublicBaseURL(ctx context.Context, key string) string {
	m.cacheMu.RLock()
	url, ok := m.urls[key]
	gen := m.generationLocked(key)
	m.cacheMu.RUnlock()
	if ok {
		return url
	}

	cfg, err := m.Config(ctx, key)
	if err != nil {
		return ""
	}
	url = cfg.PublicBaseURL
	if url == "" {
		url = cfg.Setting(interfaces.SettingPublicBaseURL, "")
	}

	m.cacheMu.Lock()
	if m.generationLocked(key) == gen {
		m.urls[key] = url
	}
	m.cacheMu.Unlock()
	return url
}

// ActiveKey returns the active backend key.
func (m *Manager) ActiveKey() string {
	if key := m.active.Load(); key != "" {
		return key
	}
	return interfaces.DefaultBackendKey
}

// ReloadActive selects the active backend from the store: the oldest enabled
// config, else the first config by key, else "local". Cached entries are
// dropped since the reload may follow external edits.
func (m *Manager) ReloadActive(ctx context.Context) (string, error) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	key, err := m.selectActive(ctx)
	if err != nil {
		return "", err
	}

	m.evictAll()
	previous := m.active.Load()
	m.active.Store(key)
	m.log.Info("Active storage backend loaded", slog.String("active", key))
	m.publish(interfaces.Invalidation{ActiveKey: key, ActiveChanged: previous != key})
	return key, nil
}

// SetActive switches the active backend in memory only.
func (m *Manager) SetActive(key string) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	m.setActiveLocked(key)
}

// UpdateSettings merges settings into the stored config of key.
func (m *Manager) UpdateSettings(ctx context.Context, key string, settings map[string]string) (*interfaces.BackendConfig, error) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	cfg, err := m.store.UpdateSettings(ctx, key, settings)
	if err != nil {
		return nil, err
	}
	m.evict(key)
	m.publish(interfaces.Invalidation{Key: key, ActiveKey: m.ActiveKey()})
	return cfg, nil
}

// Save creates or replaces a config. Saving an enabled config makes it active.
func (m *Manager) Save(ctx context.Context, cfg *interfaces.BackendConfig) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	if err := m.store.Save(ctx, cfg); err != nil {
		return err
	}
	if cfg.Enabled {
		// Other rows were disabled as a side effect.
		m.evictAll()
		m.setActiveLocked(cfg.Key)
	} else {
		m.evict(cfg.Key)
	}
	m.publish(interfaces.Invalidation{Key: cfg.Key, ActiveKey: m.ActiveKey()})
	return nil
}

// Enable persists key as the only enabled config. The in-memory active key is
// left to the caller.
func (m *Manager) Enable(ctx context.Context, key string) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	if err := m.store.Enable(ctx, key); err != nil {
		return err
	}
	m.evictAll()
	m.publish(interfaces.Invalidation{Key: key, ActiveKey: m.ActiveKey()})
	return nil
}

// Delete soft-deletes the config of key. Deleting the active backend reselects
// the active key from the store.
func (m *Manager) Delete(ctx context.Context, key string) (bool, error) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	deleted, err := m.store.Delete(ctx, key)
	if err != nil {
		return false, err
	}
	m.evict(key)

	changed := false
	if deleted && key == m.ActiveKey() {
		next, err := m.selectActive(ctx)
		if err != nil {
			m.log.Warn("Failed to reselect active backend after delete", slog.String("backend", key), "err", err)
		} else {
			changed = next != key
			m.active.Store(next)
			m.log.Info("Active storage backend deleted, switched", slog.String("active", next))
		}
	}
	m.publish(interfaces.Invalidation{Key: key, ActiveKey: m.ActiveKey(), ActiveChanged: changed})
	return deleted, nil
}

// ClearCache evicts every cached entry.
func (m *Manager) ClearCache() {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	m.evictAll()
	m.publish(interfaces.Invalidation{ActiveKey: m.ActiveKey()})
}

func (m *Manager) selectActive(ctx context.Context) (string, error) {
	enabled, err := m.store.FindEnabled(ctx)
	if err != nil {
		return "", err
	}
	if len(enabled) > 0 {
		if len(enabled) > 1 {
			m.log.Warn("Multiple storage backends enabled, using the oldest",
				slog.String("active", enabled[0].Key),
				slog.Int("enabled", len(enabled)))
		}
		return enabled[0].Key, nil
	}

	all, err := m.store.List(ctx)
	if err != nil {
		return "", err
	}
	if len(all) > 0 {
		m.log.Debug("No storage backend enabled, using first configured", slog.String("active", all[0].Key))
		return all[0].Key, nil
	}
	return interfaces.DefaultBackendKey, nil
}

func (m *Manager) setActiveLocked(key string) {
	previous := m.active.Load()
	m.active.Store(key)
	if previous != key {
		m.log.Info("Active storage backend switched",
			slog.String("previous", previous),
			slog.String("active", key))
	}
	m.publish(interfaces.Invalidation{Key: key, ActiveKey: key, ActiveChanged: previous != key})
}

// generationLocked must be called with cacheMu held.
func (m *Manager) generationLocked(key string) uint64 {
	return m.epoch + m.generations[key]
}

func (m *Manager) evict(key string) {
	m.cacheMu.Lock()
	delete(m.configs, key)
	delete(m.urls, key)
	m.generations[key]++
	m.cacheMu.Unlock()
}

func (m *Manager) evictAll() {
	m.cacheMu.Lock()
	m.configs = make(map[string]*interfaces.BackendConfig)
	m.urls = make(map[string]string)
	m.epoch++
	m.cacheMu.Unlock()
}

func (m *Manager) publish(ev interfaces.Invalidation) {
	m.subsMu.RLock()
	subs := make([]Subscriber, len(m.subscribers))
	copy(subs, m.subscribers)
	m.subsMu.RUnlock()

	for _, fn := range subs {
		fn(ev)
	}
}
