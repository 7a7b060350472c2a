package alerts

// Event is the alert gateway's view of one event, per the notification
// contract.
type Event struct {
	HoneypotType       string                 `json:"honeypot_type"`
	HoneypotName       string                 `json:"honeypot_name,omitempty"`
	SourceIP           string                 `json:"source_ip"`
	Timestamp          string                 `json:"timestamp"`
	EventType          string                 `json:"event_type"`
	HoneytokenUsername string                 `json:"honeytoken_username,omitempty"`
	Details            map[string]interface{} `json:"details"`
}

// Incident is the optional incident summary attached to an alert.
type Incident struct {
	ID         string `json:"id"`
	EventCount int    `json:"event_count"`
}

// Payload is the full body handed to every provider.
type Payload struct {
	Level    int       `json:"level"`
	Event    Event     `json:"event"`
	Incident *Incident `json:"incident,omitempty"`
}
