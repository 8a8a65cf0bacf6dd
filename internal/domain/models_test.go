package domain

import (
	"strings"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// migrated opens a private in-memory database with foreign keys on and
// the given models migrated.
func migrated(t *testing.T, models ...any) *gorm.DB {
	t.Helper()
	dsn := "file:" + strings.ReplaceAll(t.Name(), "/", "_") + "?mode=memory&cache=shared&_pragma=foreign_keys(1)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Discard})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := db.AutoMigrate(models...); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestTableNames(t *testing.T) {
	cases := map[string]string{
		User{}.TableName():          "user",
		PrayerRequest{}.TableName(): "request",
		PrayerRecord{}.TableName():  "user_request",
		Prayer{}.TableName():        "prayers",
	}
	for got, want := range cases {
		if got != want {
			t.Fatalf("TableName() = %q; want %q", got, want)
		}
	}
}

func TestUser_HasPushToken(t *testing.T) {
	var nilUser *User
	if nilUser.HasPushToken() {
		t.Fatalf("nil user must not report a token")
	}
	empty := ""
	if (&User{FCMToken: &empty}).HasPushToken() {
		t.Fatalf("empty token must not count")
	}
	tok := "ExponentPushToken[abc]"
	if !(&User{FCMToken: &tok}).HasPushToken() {
		t.Fatalf("expected token to be reported")
	}
}

func TestMigrations_Indexes_AndCascades(t *testing.T) {
	db := migrated(t, &User{}, &PrayerRequest{}, &PrayerRecord{}, &Prayer{})
	m := db.Migrator()

	for _, tbl := range []any{&User{}, &PrayerRequest{}, &PrayerRecord{}, &Prayer{}} {
		if !m.HasTable(tbl) {
			t.Fatalf("expected table for %T to exist", tbl)
		}
	}
	if !m.HasIndex(&PrayerRecord{}, "ux_user_request") {
		t.Fatalf("expected unique index ux_user_request on user_request")
	}
	if !m.HasIndex(&User{}, "ux_user_name") {
		t.Fatalf("expected unique index ux_user_name on user")
	}

	now := time.Now().UTC()
	owner := &User{UserName: "anna", RealName: "Anna", Email: "anna@example.org", Active: true}
	prayer := &User{UserName: "ben", RealName: "Ben", Email: "ben@example.org", Active: true}
	if err := db.Create(owner).Error; err != nil {
		t.Fatalf("insert owner: %v", err)
	}
	if err := db.Create(prayer).Error; err != nil {
		t.Fatalf("insert prayer: %v", err)
	}

	req := &PrayerRequest{UserID: owner.ID, Title: "Healing", Text: "Please pray", Active: true}
	if err := db.Create(req).Error; err != nil {
		t.Fatalf("insert request: %v", err)
	}

	rec := &PrayerRecord{RequestID: req.ID, UserID: prayer.ID, Timestamp: now}
	if err := db.Create(rec).Error; err != nil {
		t.Fatalf("insert record: %v", err)
	}

	dup := &PrayerRecord{RequestID: req.ID, UserID: prayer.ID, Timestamp: now.Add(time.Second)}
	if err := db.Create(dup).Error; err == nil {
		t.Fatalf("expected unique violation on (request_id, user_id)")
	}

	// Records go with their request.
	if err := db.Delete(&PrayerRequest{}, "request_id = ?", req.ID).Error; err != nil {
		t.Fatalf("delete request: %v", err)
	}
	var cnt int64
	if err := db.Model(&PrayerRecord{}).Where("request_id = ?", req.ID).Count(&cnt).Error; err != nil {
		t.Fatalf("count records: %v", err)
	}
	if cnt != 0 {
		t.Fatalf("expected records to cascade-delete with request, got %d", cnt)
	}
}
