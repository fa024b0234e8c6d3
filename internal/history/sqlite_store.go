package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	opStoreNew            = "history.store.new"
	opLoad                = "history.load"
	opSave                = "history.save"
	reasonMissingDatabase = "missing_database"
	reasonQueryFailed     = "query_failed"
	reasonDecodeFailed    = "decode_failed"
	reasonEncodeFailed    = "encode_failed"
	reasonUpsertFailed    = "upsert_failed"
	queryRoomUser         = "room_id = ? AND user_id = ?"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()
)

// Record is the durable row backing one (room, user) stack.
type Record struct {
	RoomID           string `gorm:"column:room_id;primaryKey;size:190;not null"`
	UserID           string `gorm:"column:user_id;primaryKey;size:190;not null"`
	StackJSON        string `gorm:"column:stack_json;type:text;not null"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Record) TableName() string {
	return "canvas_histories"
}

// ServiceError carries an operation.reason code alongside the cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the operation.reason code.
func (e *ServiceError) Code() string {
	return e.code
}

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// SQLiteStoreConfig describes the dependencies of a SQLiteStore.
type SQLiteStoreConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// SQLiteStore persists stacks through GORM.
type SQLiteStore struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewSQLiteStore constructs the store. The schema is migrated by the database package.
func NewSQLiteStore(cfg SQLiteStoreConfig) (*SQLiteStore, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opStoreNew, reasonMissingDatabase, errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &SQLiteStore{db: cfg.Database, clock: clock, logger: logger}, nil
}

// Load implements Store.
func (s *SQLiteStore) Load(ctx context.Context, key Key) (Stack, error) {
	var record Record
	err := s.db.WithContext(ctx).
		Where(queryRoomUser, key.RoomID, key.UserID).
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Stack{}, ErrNotFound
	}
	if err != nil {
		s.logError(opLoad, reasonQueryFailed, err, key)
		return Stack{}, newServiceError(opLoad, reasonQueryFailed, err)
	}
	stack, err := DecodeStack(record.StackJSON)
	if err != nil {
		s.logError(opLoad, reasonDecodeFailed, err, key)
		return Stack{}, newServiceError(opLoad, reasonDecodeFailed, err)
	}
	return stack, nil
}

// Save implements Store.
func (s *SQLiteStore) Save(ctx context.Context, key Key, stack Stack) error {
	encoded, err := EncodeStack(stack)
	if err != nil {
		s.logError(opSave, reasonEncodeFailed, err, key)
		return newServiceError(opSave, reasonEncodeFailed, err)
	}
	record := Record{
		RoomID:           key.RoomID,
		UserID:           key.UserID,
		StackJSON:        encoded,
		UpdatedAtSeconds: s.clock().UTC().Unix(),
	}
	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "room_id"}, {Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"stack_json", "updated_at_s"}),
		}).
		Create(&record).Error
	if err != nil {
		s.logError(opSave, reasonUpsertFailed, err, key)
		return newServiceError(opSave, reasonUpsertFailed, err)
	}
	return nil
}

func (s *SQLiteStore) logError(operation, reason string, err error, key Key) {
	s.logger.Error("history store error",
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.String("room_id", key.RoomID),
		zap.String("user_id", key.UserID),
		zap.Error(err))
}
