package database

import (
	"database/sql"
	"encoding/json"

	"github.com/hollowport/hollowport/internal/model"
)

func (s *SQLiteDB) CreateIncident(inc *model.Incident) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	details, err := json.Marshal(inc.Details)
	if err != nil {
		details = []byte("{}")
	}

	_, err = s.db.Exec(
		`INSERT INTO incidents (id, honeypot_id, source_ip, threat_level, status, event_count, first_seen, last_seen, details)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inc.ID, inc.HoneypotID, inc.SourceIP, inc.ThreatLevel, inc.Status, inc.EventCount, inc.FirstSeen, inc.LastSeen, string(details),
	)
	return err
}

// FindOpenIncident returns the open incident for a (honeypot, source) pair,
// or nil. At most one can be open at a time.
func (s *SQLiteDB) FindOpenIncident(honeypotID, sourceIP string) (*model.Incident, error) {
	return s.findIncident(honeypotID, sourceIP, []string{model.StatusNew, model.StatusInvestigating})
}

// FindLatestResolvedIncident supports the reopen rule: a RESOLVED incident
// for the pair, most recent first.
func (s *SQLiteDB) FindLatestResolvedIncident(honeypotID, sourceIP string) (*model.Incident, error) {
	return s.findIncident(honeypotID, sourceIP, []string{model.StatusResolved})
}

func (s *SQLiteDB) findIncident(honeypotID, sourceIP string, statuses []string) (*model.Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT id, honeypot_id, source_ip, threat_level, status, event_count, first_seen, last_seen, details
		 FROM incidents WHERE honeypot_id = ? AND source_ip = ? AND status IN (?`
	args := []interface{}{honeypotID, sourceIP, statuses[0]}
	for _, st := range statuses[1:] {
		query += `, ?`
		args = append(args, st)
	}
	query += `) ORDER BY last_seen DESC LIMIT 1`

	inc, err := scanIncident(s.db.QueryRow(query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &inc, nil
}

// UpdateIncident persists the mutable fields of an incident.
func (s *SQLiteDB) UpdateIncident(inc *model.Incident) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	details, err := json.Marshal(inc.Details)
	if err != nil {
		details = []byte("{}")
	}

	_, err = s.db.Exec(
		`UPDATE incidents SET threat_level = ?, status = ?, event_count = ?, last_seen = ?, details = ? WHERE id = ?`,
		inc.ThreatLevel, inc.Status, inc.EventCount, inc.LastSeen, string(details), inc.ID,
	)
	return err
}

// UpdateIncidentStatus is the operator-facing status change.
func (s *SQLiteDB) UpdateIncidentStatus(id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`UPDATE incidents SET status = ? WHERE id = ?`, status, id)
	return err
}

func (s *SQLiteDB) GetIncident(id string) (*model.Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inc, err := scanIncident(s.db.QueryRow(
		`SELECT id, honeypot_id, source_ip, threat_level, status, event_count, first_seen, last_seen, details
		 FROM incidents WHERE id = ?`, id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &inc, nil
}

// IncidentFilter narrows ListIncidents. Zero values are ignored.
type IncidentFilter struct {
	HoneypotID  string
	SourceIP    string
	Status      string
	ThreatLevel int
	Limit       int
}

func (s *SQLiteDB) ListIncidents(f IncidentFilter) ([]model.Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT id, honeypot_id, source_ip, threat_level, status, event_count, first_seen, last_seen, details
		 FROM incidents WHERE 1=1`
	var args []interface{}

	if f.HoneypotID != "" {
		query += ` AND honeypot_id = ?`
		args = append(args, f.HoneypotID)
	}
	if f.SourceIP != "" {
		query += ` AND source_ip = ?`
		args = append(args, f.SourceIP)
	}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, f.Status)
	}
	if f.ThreatLevel != 0 {
		query += ` AND threat_level = ?`
		args = append(args, f.ThreatLevel)
	}
	query += ` ORDER BY last_seen DESC`
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

	var incidents []model.Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, err
		}
		incidents = append(incidents, inc)
	}
	return incidents, rows.Err()
}

func scanIncident(row rowScanner) (model.Incident, error) {
	var inc model.Incident
	var details string
	err := row.Scan(&inc.ID, &inc.HoneypotID, &inc.SourceIP, &inc.ThreatLevel, &inc.Status, &inc.EventCount, &inc.FirstSeen, &inc.LastSeen, &details)
	if err != nil {
		return inc, err
	}
	if err := json.Unmarshal([]byte(details), &inc.Details); err != nil {
		inc.Details = map[string]interface{}{}
	}
	return inc, nil
}
