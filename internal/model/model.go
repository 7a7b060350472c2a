package model

import (
	"context"
	"time"
)

// Threat levels assigned to events and ratcheted onto incidents.
const (
	LevelLow      = 1
	LevelMedium   = 2
	LevelCritical = 3
)

// Incident lifecycle states. NEW and INVESTIGATING count as open.
const (
	StatusNew           = "NEW"
	StatusInvestigating = "INVESTIGATING"
	StatusResolved      = "RESOLVED"
	StatusIgnored       = "IGNORED"
)

// ValidStatus reports whether s is one of the known incident states.
func ValidStatus(s string) bool {
	switch s {
	case StatusNew, StatusInvestigating, StatusResolved, StatusIgnored:
		return true
	}
	return false
}

// Observation is the transient record a protocol engine produces for one
// attacker interaction. It is not persisted directly; the correlator turns
// it into an Event.
type Observation struct {
	HoneypotID   string                 `json:"honeypot_id"`
	EventType    string                 `json:"event_type"`
	Level        int                    `json:"level"`
	SourceIP     string                 `json:"source_ip"`
	Details      map[string]interface{} `json:"details"`
	HoneytokenID string                 `json:"honeytoken_id,omitempty"`
}

// RequestText returns the canonical captured text used for honeytoken
// scanning: the request_text detail if the engine set one, otherwise a
// reconstruction from the common HTTP detail fields.
func (o *Observation) RequestText() string {
	if s, ok := o.Details["request_text"].(string); ok && s != "" {
		return s
	}
	var text string
	for _, key := range []string{"full_url", "path", "query_string", "body", "username", "password", "command", "query"} {
		if v, ok := o.Details[key].(string); ok && v != "" {
			text += v + "\n"
		}
	}
	return text
}

// Event is the immutable persisted form of an Observation. IncidentID is
// backfilled once during the correlation step that created the event.
type Event struct {
	ID           string                 `json:"id"`
	HoneypotID   string                 `json:"honeypot_id"`
	IncidentID   string                 `json:"incident_id,omitempty"`
	EventType    string                 `json:"event_type"`
	Level        int                    `json:"level"`
	SourceIP     string                 `json:"source_ip"`
	HoneytokenID string                 `json:"honeytoken_id,omitempty"`
	Details      map[string]interface{} `json:"details"`
	Timestamp    time.Time              `json:"timestamp"`
}

// Incident aggregates events from one source IP against one honeypot.
type Incident struct {
	ID          string                 `json:"id"`
	HoneypotID  string                 `json:"honeypot_id"`
	SourceIP    string                 `json:"source_ip"`
	ThreatLevel int                    `json:"threat_level"`
	Status      string                 `json:"status"`
	EventCount  int                    `json:"event_count"`
	FirstSeen   time.Time              `json:"first_seen"`
	LastSeen    time.Time              `json:"last_seen"`
	Details     map[string]interface{} `json:"details"`
}

// Open reports whether the incident still collects new events.
func (i *Incident) Open() bool {
	return i.Status == StatusNew || i.Status == StatusInvestigating
}

// Credential is a planted decoy. UsedAt is set at most once, when the
// credential first shows up in captured traffic.
type Credential struct {
	ID          string     `json:"id"`
	Username    string     `json:"username"`
	Password    string     `json:"password"`
	ServiceType string     `json:"service_type"`
	ServiceID   string     `json:"service_id,omitempty"`
	Metadata    string     `json:"metadata,omitempty"`
	GeneratedAt time.Time  `json:"generated_at"`
	UsedAt      *time.Time `json:"used_at,omitempty"`
}

// Sink receives observations from protocol engines. Both the in-process
// correlator and the HTTP reporter satisfy it, so engines do not care
// whether ingestion crosses a process boundary.
type Sink interface {
	Submit(ctx context.Context, obs Observation) error
}
