package correlate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hollowport/hollowport/internal/alerts"
	"github.com/hollowport/hollowport/internal/database"
	"github.com/hollowport/hollowport/internal/honeytoken"
	"github.com/hollowport/hollowport/internal/logging"
	"github.com/hollowport/hollowport/internal/model"
)

// EventTypeCredentialReuse replaces an observation's event type when the
// honeytoken scan finds a planted credential in the captured text.
const EventTypeCredentialReuse = "credential_reuse"

// Notifier is the alert gateway contract. Delivery gating per severity and
// channel is the gateway's concern; the processor only passes the level.
type Notifier interface {
	Notify(level int, event alerts.Event, incident *alerts.Incident)
}

// Processor turns observations into persisted events and correlated
// incidents.
type Processor struct {
	store    *database.SQLiteDB
	tokens   *honeytoken.Store
	notifier Notifier
	keys     *keyedMutex
}

func NewProcessor(store *database.SQLiteDB, tokens *honeytoken.Store, notifier Notifier) *Processor {
	return &Processor{
		store:    store,
		tokens:   tokens,
		notifier: notifier,
		keys:     newKeyedMutex(),
	}
}

// Submit implements model.Sink for in-process engines.
func (p *Processor) Submit(ctx context.Context, obs model.Observation) error {
	_, _, err := p.Ingest(ctx, obs)
	return err
}

// Ingest runs the full correlation step for one observation: honeytoken
// scan, event persistence, incident find-or-create under the pair lock,
// ratchet and reopen, then best-effort notification.
func (p *Processor) Ingest(ctx context.Context, obs model.Observation) (*model.Event, *model.Incident, error) {
	if obs.Details == nil {
		obs.Details = map[string]interface{}{}
	}

	eventType := obs.EventType
	level := obs.Level
	if level < model.LevelLow || level > model.LevelCritical {
		level = model.LevelLow
	}

	// Honeytoken scan over the captured text. A hit escalates to critical
	// and rebrands the event as credential reuse.
	honeytokenID := obs.HoneytokenID
	honeytokenUsername := ""
	if p.tokens != nil {
		res, err := p.tokens.Scan(obs.RequestText())
		if err != nil {
			logging.Error("[CORRELATE] Honeytoken scan failed: %v", err)
		} else if res.Hit {
			honeytokenID = res.CredentialID
			honeytokenUsername = res.Username
			obs.Details["honeytoken_username"] = res.Username
			if level < res.Level {
				level = res.Level
			}
			if eventType != EventTypeCredentialReuse {
				obs.Details["origin_event_type"] = eventType
				eventType = EventTypeCredentialReuse
			}
			logging.Attack(obs.HoneypotID, obs.SourceIP, eventType, level)
		}
	}

	now := time.Now().UTC()
	event := &model.Event{
		ID:           uuid.NewString(),
		HoneypotID:   obs.HoneypotID,
		EventType:    eventType,
		Level:        level,
		SourceIP:     obs.SourceIP,
		HoneytokenID: honeytokenID,
		Details:      obs.Details,
		Timestamp:    now,
	}
	if err := p.store.InsertEvent(event); err != nil {
		return nil, nil, fmt.Errorf("persist event: %w", err)
	}

	incident, err := p.correlate(event)
	if err != nil {
		// The event is already persisted; correlation failure must not lose it.
		logging.Error("[CORRELATE] Incident correlation failed for event %s: %v", event.ID, err)
	}

	p.notify(event, incident, honeytokenUsername)
	return event, incident, nil
}

// correlate links the event to the single open incident for its
// (honeypot_id, source_ip) pair, creating or reopening one as needed.
func (p *Processor) correlate(event *model.Event) (*model.Incident, error) {
	key := event.HoneypotID + "|" + event.SourceIP
	p.keys.Lock(key)
	defer p.keys.Unlock(key)

	incident, err := p.store.FindOpenIncident(event.HoneypotID, event.SourceIP)
	if err != nil {
		return nil, err
	}

	if incident == nil && event.Level == model.LevelCritical {
		// Reopen rule: a resolved source that resurfaces with a critical
		// action must come back for operator attention.
		resolved, err := p.store.FindLatestResolvedIncident(event.HoneypotID, event.SourceIP)
		if err != nil {
			return nil, err
		}
		if resolved != nil {
			resolved.Status = model.StatusNew
			incident = resolved
			logging.Info("[CORRELATE] Reopened incident %s for %s (critical event)", incident.ID, event.SourceIP)
		}
	}

	now := time.Now().UTC()
	if incident == nil {
		incident = &model.Incident{
			ID:          uuid.NewString(),
			HoneypotID:  event.HoneypotID,
			SourceIP:    event.SourceIP,
			ThreatLevel: event.Level,
			Status:      model.StatusNew,
			EventCount:  0,
			FirstSeen:   now,
			LastSeen:    now,
			Details:     map[string]interface{}{},
		}
		if err := p.store.CreateIncident(incident); err != nil {
			return nil, err
		}
	}

	incident.EventCount++
	incident.LastSeen = now
	if event.Level > incident.ThreatLevel {
		incident.ThreatLevel = event.Level
	}
	if err := p.store.UpdateIncident(incident); err != nil {
		return incident, err
	}

	event.IncidentID = incident.ID
	if err := p.store.SetEventIncident(event.ID, incident.ID); err != nil {
		return incident, err
	}
	return incident, nil
}

func (p *Processor) notify(event *model.Event, incident *model.Incident, honeytokenUsername string) {
	if p.notifier == nil {
		return
	}

	alertEvent := alerts.Event{
		HoneypotType:       honeypotType(event.EventType),
		HoneypotName:       event.HoneypotID,
		SourceIP:           event.SourceIP,
		Timestamp:          event.Timestamp.Format(time.RFC3339),
		EventType:          event.EventType,
		HoneytokenUsername: honeytokenUsername,
		Details:            event.Details,
	}
	var alertIncident *alerts.Incident
	if incident != nil {
		alertIncident = &alerts.Incident{ID: incident.ID, EventCount: incident.EventCount}
	}
	p.notifier.Notify(event.Level, alertEvent, alertIncident)
}

// honeypotType infers the protocol family from the event type tag. Engines
// name their events <protocol>_<action>.
func honeypotType(eventType string) string {
	if eventType == EventTypeCredentialReuse {
		return "honeytoken"
	}
	if i := strings.Index(eventType, "_"); i > 0 {
		return eventType[:i]
	}
	return "unknown"
}
