package db

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/KAsare1/Fintrack-server/cmd/models"
	"github.com/KAsare1/Fintrack-server/config"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewPSQLStorage opens the postgres database with field encryption enabled.
// Commands that never touch encrypted columns may pass an empty key.
func NewPSQLStorage(cfg *config.Config) (*gorm.DB, error) {
	if err := cfg.RequireDatabase(); err != nil {
		return nil, err
	}

	db, err := Open(postgres.Open(cfg.DatabaseURL), cfg.EncryptionKey)
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(25)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	return db, nil
}

// Open is shared by the server and the tests so both run with the same
// gorm settings and plugins.
func Open(dialector gorm.Dialector, encryptionKey string) (*gorm.DB, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Warn),
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, err
	}

	if encryptionKey != "" {
		c, err := NewCipher(encryptionKey)
		if err != nil {
			return nil, err
		}
		if err := db.Use(NewFieldEncryption(c)); err != nil {
			return nil, fmt.Errorf("registering field encryption: %w", err)
		}
	}
	return db, nil
}

// Close releases the pool, logging instead of failing.
func Close(db *gorm.DB) {
	sqlDB, err := db.DB()
	if err != nil {
		return
	}
	if err := sqlDB.Close(); err != nil {
		slog.Warn("closing database", "error", err)
		return
	}
	slog.Info("Database connection closed")
}

// Models lists every table in dependency order.
func Models() []interface{} {
	return []interface{}{
		&models.User{},
		&models.PasswordResetToken{},
		&models.Device{},
		&models.Transaction{},
		&models.TransactionTemplate{},
		&models.Budget{},
		&models.FinancialGoal{},
		&models.GoalContribution{},
		&models.Investment{},
		&models.Operation{},
		&models.CreditCard{},
		&models.Invoice{},
		&models.Purchase{},
		&models.RecurringExpense{},
	}
}

// Migrate creates or updates every table.
func Migrate(db *gorm.DB) error {
	for _, model := range Models() {
		if err := db.AutoMigrate(model); err != nil {
			return fmt.Errorf("error migrating %T: %w", model, err)
		}
		slog.Debug("migrated table", "model", fmt.Sprintf("%T", model))
	}
	return nil
}
