package honeytoken

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hollowport/hollowport/internal/database"
	"github.com/hollowport/hollowport/internal/model"
)

// MaxBatchSize bounds one bulk generation call.
const MaxBatchSize = 100

var ErrBatchTooLarge = errors.New("honeytoken: batch size exceeds limit")

// Storage is the persistence surface the store needs. *database.SQLiteDB
// satisfies it.
type Storage interface {
	InsertCredential(c *model.Credential) error
	ListCredentials() ([]model.Credential, error)
	GetCredential(id string) (*model.Credential, error)
	GetCredentialByUsername(username string) (*model.Credential, error)
	MarkCredentialUsed(id string, t time.Time) (bool, error)
}

// Store generates decoy credentials and recognizes their reuse in captured
// traffic.
type Store struct {
	storage Storage
}

func NewStore(storage Storage) *Store {
	return &Store{storage: storage}
}

// Request describes one desired credential in a bulk generation call.
// Username may be empty to have one generated.
type Request struct {
	Username string
	Metadata string
}

// Generate creates count credentials for serviceType. With an explicit
// request list, count is ignored and one credential per request is created.
func (s *Store) Generate(serviceType, serviceID string, count int, reqs []Request) ([]model.Credential, error) {
	if len(reqs) == 0 {
		if count <= 0 {
			count = 1
		}
		if count > MaxBatchSize {
			return nil, ErrBatchTooLarge
		}
		reqs = make([]Request, count)
	} else if len(reqs) > MaxBatchSize {
		return nil, ErrBatchTooLarge
	}

	var out []model.Credential
	for _, req := range reqs {
		cred, err := s.generateOne(serviceType, serviceID, req)
		if err != nil {
			return out, err
		}
		out = append(out, *cred)
	}
	return out, nil
}

func (s *Store) generateOne(serviceType, serviceID string, req Request) (*model.Credential, error) {
	password, err := GeneratePassword(24)
	if err != nil {
		return nil, fmt.Errorf("generate password: %w", err)
	}

	// Retry on username collisions; the unique index in storage is the
	// authority.
	for attempt := 0; attempt < 5; attempt++ {
		username := req.Username
		if username == "" {
			username, err = GenerateUsername()
			if err != nil {
				return nil, fmt.Errorf("generate username: %w", err)
			}
		}

		cred := &model.Credential{
			ID:          uuid.NewString(),
			Username:    username,
			Password:    password,
			ServiceType: serviceType,
			ServiceID:   serviceID,
			Metadata:    req.Metadata,
			GeneratedAt: time.Now().UTC(),
		}

		err = s.storage.InsertCredential(cred)
		if err == nil {
			return cred, nil
		}
		if !errors.Is(err, database.ErrUsernameTaken) {
			return nil, err
		}
		if req.Username != "" {
			// Explicit username cannot be retried.
			return nil, err
		}
	}
	return nil, fmt.Errorf("generate credential: could not find unused username")
}

// ScanResult reports the outcome of a substring scan.
type ScanResult struct {
	Hit          bool
	CredentialID string
	Username     string
	Level        int
	FirstUse     bool
}

// Scan performs a case-insensitive substring match of every known username
// and password against text. The first hit marks the credential used (only
// if not already marked) and yields a critical signal. Linear in the number
// of credentials; swap Storage for an indexed lookup to change that.
func (s *Store) Scan(text string) (ScanResult, error) {
	if text == "" {
		return ScanResult{Level: model.LevelLow}, nil
	}

	creds, err := s.storage.ListCredentials()
	if err != nil {
		return ScanResult{Level: model.LevelLow}, err
	}

	lower := strings.ToLower(text)
	for _, cred := range creds {
		usernameHit := cred.Username != "" && strings.Contains(lower, strings.ToLower(cred.Username))
		passwordHit := cred.Password != "" && strings.Contains(lower, strings.ToLower(cred.Password))
		if !usernameHit && !passwordHit {
			continue
		}

		first, err := s.storage.MarkCredentialUsed(cred.ID, time.Now().UTC())
		if err != nil {
			return ScanResult{Level: model.LevelLow}, err
		}
		return ScanResult{
			Hit:          true,
			CredentialID: cred.ID,
			Username:     cred.Username,
			Level:        model.LevelCritical,
			FirstUse:     first,
		}, nil
	}

	return ScanResult{Level: model.LevelLow}, nil
}

// Match is the strict confirmation path: both fields of the pair must match
// one credential exactly.
func (s *Store) Match(username, password string) (ScanResult, error) {
	cred, err := s.storage.GetCredentialByUsername(username)
	if err != nil {
		return ScanResult{Level: model.LevelLow}, err
	}
	if cred == nil || cred.Password != password {
		return ScanResult{Level: model.LevelLow}, nil
	}

	first, err := s.storage.MarkCredentialUsed(cred.ID, time.Now().UTC())
	if err != nil {
		return ScanResult{Level: model.LevelLow}, err
	}
	return ScanResult{
		Hit:          true,
		CredentialID: cred.ID,
		Username:     cred.Username,
		Level:        model.LevelCritical,
		FirstUse:     first,
	}, nil
}

// Lookup returns the credential with the given id, or nil.
func (s *Store) Lookup(id string) (*model.Credential, error) {
	return s.storage.GetCredential(id)
}
