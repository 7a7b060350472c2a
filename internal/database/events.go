package database

import (
	"database/sql"
	"encoding/json"

	"github.com/hollowport/hollowport/internal/model"
)

func (s *SQLiteDB) InsertEvent(e *model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	details, err := json.Marshal(e.Details)
	if err != nil {
		details = []byte("{}")
	}

	_, err = s.db.Exec(
		`INSERT INTO events (id, honeypot_id, incident_id, event_type, level, source_ip, honeytoken_id, details, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.HoneypotID, nullString(e.IncidentID), e.EventType, e.Level, e.SourceIP, nullString(e.HoneytokenID), string(details), e.Timestamp,
	)
	return err
}

// SetEventIncident backfills the incident link created during the same
// correlation step that persisted the event.
func (s *SQLiteDB) SetEventIncident(eventID, incidentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`UPDATE events SET incident_id = ? WHERE id = ?`, incidentID, eventID)
	return err
}

// EventFilter narrows ListEvents. Zero values are ignored.
type EventFilter struct {
	HoneypotID string
	SourceIP   string
	IncidentID string
	Level      int
	Limit      int
}

func (s *SQLiteDB) ListEvents(f EventFilter) ([]model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT id, honeypot_id, COALESCE(incident_id, ''), event_type, level, source_ip, COALESCE(honeytoken_id, ''), details, timestamp
		 FROM events WHERE 1=1`
	var args []interface{}

	if f.HoneypotID != "" {
		query += ` AND honeypot_id = ?`
		args = append(args, f.HoneypotID)
	}
	if f.SourceIP != "" {
		query += ` AND source_ip = ?`
		args = append(args, f.SourceIP)
	}
	if f.IncidentID != "" {
		query += ` AND incident_id = ?`
		args = append(args, f.IncidentID)
	}
	if f.Level != 0 {
		query += ` AND level = ?`
		args = append(args, f.Level)
	}
	query += ` ORDER BY timestamp DESC`
	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		var e model.Event
		var details string
		if err := rows.Scan(&e.ID, &e.HoneypotID, &e.IncidentID, &e.EventType, &e.Level, &e.SourceIP, &e.HoneytokenID, &details, &e.Timestamp); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(details), &e.Details); err != nil {
			e.Details = map[string]interface{}{}
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (s *SQLiteDB) GetEvent(id string) (*model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var e model.Event
	var details string
	err := s.db.QueryRow(
		`SELECT id, honeypot_id, COALESCE(incident_id, ''), event_type, level, source_ip, COALESCE(honeytoken_id, ''), details, timestamp
		 FROM events WHERE id = ?`, id,
	).Scan(&e.ID, &e.HoneypotID, &e.IncidentID, &e.EventType, &e.Level, &e.SourceIP, &e.HoneytokenID, &details, &e.Timestamp)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(details), &e.Details); err != nil {
		e.Details = map[string]interface{}{}
	}
	return &e, nil
}
