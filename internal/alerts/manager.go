package alerts

import (
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/hollowport/hollowport/internal/config"
	"github.com/hollowport/hollowport/internal/logging"
)

// Provider is one outbound alert channel.
type Provider interface {
	Name() string
	IsEnabled() bool
	Send(payload *Payload) error
}

// Manager fans alerts out to every enabled provider, gated by the per-level
// toggles and a duplicate-suppression window.
type Manager struct {
	providers []Provider
	config    config.NotificationsConfig
	dedupe    *lru.Cache[string, time.Time]
	mu        sync.RWMutex
}

func NewManager(cfg *config.Config) *Manager {
	manager := &Manager{
		providers: []Provider{},
		config:    cfg.Notifications,
	}

	if cfg.Notifications.DedupeWindowSeconds > 0 {
		// Bounded: eviction of an old key just means a repeat alert.
		manager.dedupe, _ = lru.New[string, time.Time](4096)
	}

	if cfg.Notifications.Webhook.Enabled {
		manager.providers = append(manager.providers, NewWebhookProvider(&cfg.Notifications.Webhook))
		logging.Info("[ALERTS] Webhook provider initialized")
	}

	if cfg.Notifications.Telegram.Enabled {
		manager.providers = append(manager.providers, NewTelegramProvider(&cfg.Notifications.Telegram))
		logging.Info("[ALERTS] Telegram provider initialized")
	}

	if len(manager.providers) == 0 {
		logging.Info("[ALERTS] No alert providers enabled")
	}

	return manager
}

// Notify delivers one alert. Failures are logged and never propagated;
// alert delivery is best-effort by contract.
func (m *Manager) Notify(level int, event Event, incident *Incident) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.providers) == 0 {
		return
	}

	if !m.levelEnabled(level) {
		logging.Debug("[ALERTS] Level %d notifications disabled, skipping", level)
		return
	}

	if m.suppressed(level, event, incident) {
		logging.Debug("[ALERTS] Duplicate alert suppressed for %s/%s", event.SourceIP, event.EventType)
		return
	}

	payload := &Payload{Level: level, Event: event, Incident: incident}

	var wg sync.WaitGroup
	for _, provider := range m.providers {
		if !provider.IsEnabled() {
			continue
		}
		wg.Add(1)
		go func(p Provider) {
			defer wg.Done()
			if err := p.Send(payload); err != nil {
				logging.Error("[ALERTS] %s provider failed: %v", p.Name(), err)
			}
		}(provider)
	}
	wg.Wait()
}

func (m *Manager) levelEnabled(level int) bool {
	switch level {
	case 1:
		return m.config.Level1Enabled
	case 2:
		return m.config.Level2Enabled
	case 3:
		return m.config.Level3Enabled
	default:
		return false
	}
}

// suppressed drops a repeat alert for the same incident and event type
// inside the configured window. Critical alerts always go through.
func (m *Manager) suppressed(level int, event Event, incident *Incident) bool {
	if m.dedupe == nil || level >= 3 {
		return false
	}

	key := event.SourceIP + "|" + event.EventType
	if incident != nil {
		key = incident.ID + "|" + event.EventType
	}

	window := time.Duration(m.config.DedupeWindowSeconds) * time.Second
	if last, ok := m.dedupe.Get(key); ok && time.Since(last) < window {
		return true
	}
	m.dedupe.Add(key, time.Now())
	return false
}

// ProviderStatus reports each provider's enablement, for the CLI.
func (m *Manager) ProviderStatus() map[string]bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := make(map[string]bool)
	for _, provider := range m.providers {
		status[provider.Name()] = provider.IsEnabled()
	}
	return status
}

func levelTag(level int) string {
	switch level {
	case 3:
		return "CRITICAL"
	case 2:
		return "MEDIUM"
	default:
		return "LOW"
	}
}

func summarize(payload *Payload) string {
	s := fmt.Sprintf("[%s] %s from %s on %s", levelTag(payload.Level), payload.Event.EventType, payload.Event.SourceIP, payload.Event.HoneypotName)
	if payload.Event.HoneytokenUsername != "" {
		s += fmt.Sprintf(" (honeytoken: %s)", payload.Event.HoneytokenUsername)
	}
	if payload.Incident != nil {
		s += fmt.Sprintf(" | incident %s, %d events", payload.Incident.ID, payload.Incident.EventCount)
	}
	return s
}
