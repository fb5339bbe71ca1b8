// Package dbtest opens throwaway SQLite databases with the production gorm
// settings for package tests.
package dbtest

import (
	"path/filepath"
	"testing"

	"github.com/KAsare1/Fintrack-server/cmd/models"
	"github.com/KAsare1/Fintrack-server/db"
	"github.com/glebarez/sqlite"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// Key is the encryption secret every test database uses.
const Key = "test-encryption-key"

// New returns a migrated database backed by a file in t.TempDir().
func New(t testing.TB) *gorm.DB {
	t.Helper()
	gdb, err := db.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), Key)
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	if err := db.Migrate(gdb); err != nil {
		t.Fatalf("migrate test database: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return gdb
}

// CreateUser inserts a user with password "password123".
func CreateUser(t testing.TB, gdb *gorm.DB, email string) models.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	u := models.User{
		FullName:     "Test " + email,
		Email:        email,
		PasswordHash: string(hash),
		Preferences:  models.DefaultPreferences(),
	}
	if err := gdb.Create(&u).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}
