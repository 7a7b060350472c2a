package database

import (
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/hollowport/hollowport/internal/model"
)

// ErrUsernameTaken is returned when a credential insert collides with an
// existing username. Uniqueness is enforced by the storage boundary.
var ErrUsernameTaken = errors.New("credential username already exists")

func (s *SQLiteDB) InsertCredential(c *model.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO credentials (id, username, password, service_type, service_id, metadata, generated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Username, c.Password, c.ServiceType, nullString(c.ServiceID), nullString(c.Metadata), c.GeneratedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrUsernameTaken
		}
		return err
	}
	return nil
}

func (s *SQLiteDB) ListCredentials() ([]model.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT id, username, password, service_type, COALESCE(service_id, ''), COALESCE(metadata, ''), generated_at, used_at
		 FROM credentials
		 ORDER BY generated_at DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var creds []model.Credential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		creds = append(creds, c)
	}
	return creds, rows.Err()
}

func (s *SQLiteDB) GetCredential(id string) (*model.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(
		`SELECT id, username, password, service_type, COALESCE(service_id, ''), COALESCE(metadata, ''), generated_at, used_at
		 FROM credentials WHERE id = ?`, id,
	)
	c, err := scanCredential(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *SQLiteDB) GetCredentialByUsername(username string) (*model.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(
		`SELECT id, username, password, service_type, COALESCE(service_id, ''), COALESCE(metadata, ''), generated_at, used_at
		 FROM credentials WHERE username = ?`, username,
	)
	c, err := scanCredential(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// MarkCredentialUsed sets used_at once. Returns true when this call was the
// first writer; concurrent duplicates observe the value already set.
func (s *SQLiteDB) MarkCredentialUsed(id string, t time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		`UPDATE credentials SET used_at = ? WHERE id = ? AND used_at IS NULL`,
		t, id,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCredential(row rowScanner) (model.Credential, error) {
	var c model.Credential
	var usedAt sql.NullTime
	err := row.Scan(&c.ID, &c.Username, &c.Password, &c.ServiceType, &c.ServiceID, &c.Metadata, &c.GeneratedAt, &usedAt)
	if err != nil {
		return c, err
	}
	if usedAt.Valid {
		t := usedAt.Time
		c.UsedAt = &t
	}
	return c, nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
