package db

import (
	"crypto/rand"
	"encoding/hex"
	"log"
	"os"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/jamesacres/bubblyclouds-auth/internal/db/models"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const adminKeyName = "admin_api_key"

// InitDB opens the SQLite database and migrates the artifact and config tables.
func InitDB(dbPath string, verbose bool) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: NewLogger(log.New(os.Stdout, "\r\n", log.LstdFlags), verbose),
	})
	if err != nil {
		return nil, err
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// NewLogger returns the gorm logger used by InitDB. Missing rows are routine
// lookups here and are not logged.
func NewLogger(w logger.Writer, verbose bool) logger.Interface {
	level := logger.Warn
	if verbose {
		level = logger.Info
	}
	return logger.New(w, logger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  level,
		IgnoreRecordNotFoundError: true,
		Colorful:                  true,
	})
}

// Migrate creates or updates the schema.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&models.Artifact{}, &models.Config{})
}

// EnsureAdminKey makes sure an admin API key is stored. A non-empty preset
// replaces whatever is stored; otherwise a key is generated on first run.
func EnsureAdminKey(db *gorm.DB, preset string) error {
	if preset != "" {
		return db.Save(&models.Config{Key: adminKeyName, Value: preset}).Error
	}

	var config models.Config
	if err := db.Where("key = ?", adminKeyName).First(&config).Error; err == nil {
		return nil
	}

	apiKey := newAdminKey()
	if err := db.Create(&models.Config{Key: adminKeyName, Value: apiKey}).Error; err != nil {
		return err
	}
	log.Printf("🔑 Generated new admin API key: %s", maskKey(apiKey))
	return nil
}

// GetAdminKey retrieves the admin API key, or "" when none is stored.
func GetAdminKey(db *gorm.DB) string {
	var config models.Config
	if err := db.Where("key = ?", adminKeyName).First(&config).Error; err != nil {
		return ""
	}
	return config.Value
}

// RegenerateAdminKey replaces the stored admin API key.
func RegenerateAdminKey(db *gorm.DB) (string, error) {
	apiKey := newAdminKey()
	if err := db.Save(&models.Config{Key: adminKeyName, Value: apiKey}).Error; err != nil {
		return "", err
	}
	log.Printf("🔑 Regenerated admin API key: %s", maskKey(apiKey))
	return apiKey, nil
}

// newAdminKey returns "ak-" followed by 32 hex chars.
func newAdminKey() string {
	keyBytes := make([]byte, 16)
	rand.Read(keyBytes)
	return "ak-" + hex.EncodeToString(keyBytes)
}

func maskKey(k string) string {
	if len(k) < 12 {
		return "***"
	}
	return k[:5] + "..." + k[len(k)-4:]
}
