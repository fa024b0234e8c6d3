package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	// ErrInvalidDisplayName indicates a display name over the storage bound.
	ErrInvalidDisplayName = errors.New("identity: invalid display name")
	// ErrUnknownIdentity indicates that no participant has the given id.
	ErrUnknownIdentity = errors.New("identity: unknown identity")
)

// ServiceConfig describes the dependencies required for participant provisioning.
type ServiceConfig struct {
	Database    *gorm.DB
	Clock       func() time.Time
	IDGenerator func() (string, error)
}

// Service provisions participants and tracks when they were last seen.
type Service struct {
	db    *gorm.DB
	now   func() time.Time
	newID func() (string, error)
}

// NewService constructs the identity service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("identity: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	generator := cfg.IDGenerator
	if generator == nil {
		generator = newUserID
	}
	return &Service{
		db:    cfg.Database,
		now:   clock,
		newID: generator,
	}, nil
}

// Provision creates a participant with a fresh user id.
func (s *Service) Provision(ctx context.Context, displayName string) (Identity, error) {
	name := normalize(displayName)
	if len(name) > maxDisplayNameLength {
		return Identity{}, ErrInvalidDisplayName
	}
	userID, err := s.newID()
	if err != nil {
		return Identity{}, fmt.Errorf("identity: id generation failed: %w", err)
	}
	record := Identity{
		UserID:      userID,
		DisplayName: name,
		LastSeenAt:  s.now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return Identity{}, err
	}
	return record, nil
}

// Lookup returns the participant with userID.
func (s *Service) Lookup(ctx context.Context, userID string) (Identity, error) {
	var record Identity
	err := s.db.WithContext(ctx).Where("user_id = ?", normalize(userID)).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Identity{}, ErrUnknownIdentity
	}
	if err != nil {
		return Identity{}, err
	}
	return record, nil
}

// Touch records that userID connected just now.
func (s *Service) Touch(ctx context.Context, userID string) error {
	result := s.db.WithContext(ctx).
		Model(&Identity{}).
		Where("user_id = ?", normalize(userID)).
		Update("last_seen_at", s.now().UTC())
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrUnknownIdentity
	}
	return nil
}

func newUserID() (string, error) {
	identifier, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return identifier.String(), nil
}
