package alerts

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hollowport/hollowport/internal/config"
)

type fakeProvider struct {
	mu       sync.Mutex
	name     string
	enabled  bool
	payloads []*Payload
	err      error
}

func (f *fakeProvider) Name() string    { return f.name }
func (f *fakeProvider) IsEnabled() bool { return f.enabled }
func (f *fakeProvider) Send(p *Payload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, p)
	return f.err
}

func (f *fakeProvider) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.payloads)
}

func testManager(dedupeSeconds int, providers ...Provider) *Manager {
	cfg := &config.Config{}
	cfg.Notifications = config.NotificationsConfig{
		Level1Enabled:       false,
		Level2Enabled:       true,
		Level3Enabled:       true,
		DedupeWindowSeconds: dedupeSeconds,
	}
	m := NewManager(cfg)
	m.providers = providers
	return m
}

func TestNotifyLevelGating(t *testing.T) {
	provider := &fakeProvider{name: "fake", enabled: true}
	m := testManager(0, provider)

	event := Event{HoneypotType: "ssh", SourceIP: "203.0.113.9", EventType: "ssh_connection"}

	m.Notify(1, event, nil)
	assert.Equal(t, 0, provider.count(), "level 1 disabled")

	m.Notify(2, event, nil)
	assert.Equal(t, 1, provider.count())

	m.Notify(3, event, nil)
	assert.Equal(t, 2, provider.count())
}

func TestNotifySkipsDisabledProvider(t *testing.T) {
	enabled := &fakeProvider{name: "on", enabled: true}
	disabled := &fakeProvider{name: "off", enabled: false}
	m := testManager(0, enabled, disabled)

	m.Notify(2, Event{SourceIP: "203.0.113.9", EventType: "ssh_command"}, nil)

	assert.Equal(t, 1, enabled.count())
	assert.Equal(t, 0, disabled.count())
}

func TestNotifyDeduplicatesWithinWindow(t *testing.T) {
	provider := &fakeProvider{name: "fake", enabled: true}
	m := testManager(300, provider)

	event := Event{SourceIP: "203.0.113.9", EventType: "ssh_auth_attempt"}
	incident := &Incident{ID: "incident-1", EventCount: 1}

	m.Notify(2, event, incident)
	m.Notify(2, event, incident)
	assert.Equal(t, 1, provider.count(), "repeat alert inside the window is suppressed")

	other := &Incident{ID: "incident-2", EventCount: 1}
	m.Notify(2, event, other)
	assert.Equal(t, 2, provider.count(), "different incident gets its own alert")
}

func TestNotifyCriticalNeverSuppressed(t *testing.T) {
	provider := &fakeProvider{name: "fake", enabled: true}
	m := testManager(300, provider)

	event := Event{SourceIP: "203.0.113.9", EventType: "credential_reuse"}
	incident := &Incident{ID: "incident-1", EventCount: 1}

	m.Notify(3, event, incident)
	m.Notify(3, event, incident)
	assert.Equal(t, 2, provider.count())
}

func TestNotifyProviderErrorIsNotFatal(t *testing.T) {
	failing := &fakeProvider{name: "bad", enabled: true, err: assert.AnError}
	ok := &fakeProvider{name: "good", enabled: true}
	m := testManager(0, failing, ok)

	m.Notify(2, Event{SourceIP: "203.0.113.9", EventType: "postgres_query"}, nil)

	assert.Equal(t, 1, failing.count())
	assert.Equal(t, 1, ok.count())
}

func TestProviderStatus(t *testing.T) {
	m := testManager(0,
		&fakeProvider{name: "on", enabled: true},
		&fakeProvider{name: "off", enabled: false},
	)

	status := m.ProviderStatus()
	require.Len(t, status, 2)
	assert.True(t, status["on"])
	assert.False(t, status["off"])
}
