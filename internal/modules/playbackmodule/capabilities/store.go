package capabilities

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"
)

// ClientCapability is the persisted capability version row. Bodies are stored
// as JSON; (session_id, version) is unique and old versions are retained for
// debugging until the session is destroyed.
type ClientCapability struct {
	ID         uint      `gorm:"primaryKey"`
	SessionID  string    `gorm:"size:36;index;uniqueIndex:idx_session_version"`
	Version    int       `gorm:"uniqueIndex:idx_session_version"`
	DeviceID   string    `gorm:"size:100"`
	DeviceName string    `gorm:"size:200"`
	Body       string    `gorm:"type:json"`
	DeclaredAt time.Time `gorm:"index"`
	CreatedAt  time.Time
}

// Store versions capability declarations per session. Upserts for one session
// are serialized so version numbers stay gapless and monotonic.
type Store struct {
	db     *gorm.DB
	logger hclog.Logger

	// Per-session serialization of upserts.
	sessionLocks sync.Map // map[string]*sync.Mutex
}

// NewStore creates a capability store.
func NewStore(db *gorm.DB, logger hclog.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger.Named("capabilities"),
	}
}

// Migrate creates the capability table.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&ClientCapability{})
}

// UpsertResult reports the effective version after an upsert.
type UpsertResult struct {
	EffectiveVersion int
	Mismatch         bool
	Changed          bool
}

// Upsert stores declaration for the session. A body differing from the head
// version appends version head+1; an identical body leaves the head
// untouched. declaredVersion below zero means the client sent none.
func (s *Store) Upsert(sessionID string, declaration *Declaration, declaredVersion int) (*UpsertResult, error) {
	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	head, err := s.head(sessionID)
	if err != nil {
		return nil, err
	}

	body, err := canonicalBody(&declaration.Capabilities)
	if err != nil {
		return nil, fmt.Errorf("encode capability body: %w", err)
	}

	effective := 0
	changed := false

	if head != nil {
		headBody, err := canonicalHeadBody(head)
		if err != nil {
			return nil, err
		}
		if bytes.Equal(headBody, body) {
			effective = head.Version
		} else {
			effective = head.Version + 1
			changed = true
		}
	} else {
		effective = 1
		changed = true
	}

	if changed {
		row := &ClientCapability{
			SessionID:  sessionID,
			Version:    effective,
			DeviceID:   declaration.DeviceID,
			DeviceName: declaration.DeviceName,
			Body:       string(body),
			DeclaredAt: time.Now(),
		}
		if err := s.db.Create(row).Error; err != nil {
			return nil, fmt.Errorf("store capability version: %w", err)
		}
		s.logger.Debug("capability version stored",
			"session_id", sessionID,
			"version", effective)
	}

	return &UpsertResult{
		EffectiveVersion: effective,
		Mismatch:         declaredVersion >= 0 && declaredVersion != effective,
		Changed:          changed,
	}, nil
}

// CheckVersion compares a declared version against the head without storing
// anything. Used by operations that carry only a version number.
func (s *Store) CheckVersion(sessionID string, declaredVersion int) (*UpsertResult, error) {
	head, err := s.head(sessionID)
	if err != nil {
		return nil, err
	}

	effective := 1
	if head != nil {
		effective = head.Version
	}
	return &UpsertResult{
		EffectiveVersion: effective,
		Mismatch:         declaredVersion >= 0 && declaredVersion != effective,
	}, nil
}

// GetEffective returns the head profile for the session, synthesizing the
// default when nothing has been declared.
func (s *Store) GetEffective(sessionID string) (*Profile, error) {
	head, err := s.head(sessionID)
	if err != nil {
		return nil, err
	}
	if head == nil {
		return DefaultProfile(sessionID), nil
	}

	var caps Capabilities
	if err := json.Unmarshal([]byte(head.Body), &caps); err != nil {
		return nil, fmt.Errorf("decode capability body: %w", err)
	}

	return &Profile{
		SessionID:    sessionID,
		Version:      head.Version,
		DeviceID:     head.DeviceID,
		DeviceName:   head.DeviceName,
		Capabilities: caps,
		DeclaredAt:   head.DeclaredAt,
	}, nil
}

// DeleteForSession removes all capability versions for a session.
func (s *Store) DeleteForSession(sessionID string) error {
	s.sessionLocks.Delete(sessionID)
	return s.db.Where("session_id = ?", sessionID).Delete(&ClientCapability{}).Error
}

func (s *Store) head(sessionID string) (*ClientCapability, error) {
	var row ClientCapability
	err := s.db.
		Where("session_id = ?", sessionID).
		Order("version DESC").
		First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (s *Store) sessionLock(sessionID string) *sync.Mutex {
	if lock, ok := s.sessionLocks.Load(sessionID); ok {
		return lock.(*sync.Mutex)
	}
	actual, _ := s.sessionLocks.LoadOrStore(sessionID, &sync.Mutex{})
	return actual.(*sync.Mutex)
}

// canonicalBody marshals capabilities deterministically. Struct field order
// is stable, so equal records produce equal bytes.
func canonicalBody(caps *Capabilities) ([]byte, error) {
	return json.Marshal(caps)
}

func canonicalHeadBody(head *ClientCapability) ([]byte, error) {
	// Round-trip through the struct so legacy rows with different key
	// ordering still compare equal.
	var caps Capabilities
	if err := json.Unmarshal([]byte(head.Body), &caps); err != nil {
		return nil, fmt.Errorf("decode stored capability body: %w", err)
	}
	return canonicalBody(&caps)
}
