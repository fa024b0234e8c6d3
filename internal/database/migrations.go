package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/inkroom/internal/history"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationPruneEmptyHistories = "2026-10-01_prune_empty_histories"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationPruneEmptyHistories, apply: pruneEmptyHistories},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// pruneEmptyHistories drops rows whose undo and redo stacks are both empty.
func pruneEmptyHistories(db *gorm.DB) error {
	empty, err := history.EncodeStack(history.EmptyStack())
	if err != nil {
		return err
	}
	return db.Where("stack_json = ?", empty).Delete(&history.Record{}).Error
}
