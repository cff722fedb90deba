package database

import (
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/noah-isme/design-quality-api/internal/models"
)

const sqliteScheme = "sqlite://"

// Connect opens the quality store. DSNs starting with sqlite:// use the
// embedded SQLite driver; anything else is handed to PostgreSQL.
func Connect(dsn string) (*gorm.DB, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("database dsn must not be empty")
	}

	var dialector gorm.Dialector
	if strings.HasPrefix(dsn, sqliteScheme) {
		dialector = sqlite.Open(strings.TrimPrefix(dsn, sqliteScheme))
	} else {
		dialector = postgres.Open(dsn)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access database pool: %w", err)
	}
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	return db, nil
}

// Migrate creates or updates the tables backing prompts, datasets, test
// executions and optimization runs.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.AIPrompt{},
		&models.ValidationDataset{},
		&models.ValidationTestCase{},
		&models.TestExecution{},
		&models.OptimizationRun{},
	); err != nil {
		return fmt.Errorf("failed to migrate quality schema: %w", err)
	}
	return nil
}
