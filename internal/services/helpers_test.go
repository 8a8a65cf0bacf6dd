package services

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"gorm.io/gorm"

	"github.com/tbourn/go-prayer-backend/internal/domain"
	"github.com/tbourn/go-prayer-backend/internal/notify"
	"github.com/tbourn/go-prayer-backend/internal/repo"
)

// newServiceDB returns a migrated, file-backed SQLite store. Concurrency
// tests need a real file so writers serialize on the busy timeout.
func newServiceDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := repo.OpenSQLite(filepath.Join(t.TempDir(), "svc.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	return db
}

func mkUser(t *testing.T, db *gorm.DB, name string, token string) *domain.User {
	t.Helper()
	u := &domain.User{
		UserName:          name,
		RealName:          name,
		Email:             name + "@example.org",
		Active:            true,
		PushNotifications: true,
		PrayerEmails:      true,
	}
	if token != "" {
		u.FCMToken = &token
	}
	if err := repo.CreateUser(context.Background(), db, u); err != nil {
		t.Fatalf("create user %s: %v", name, err)
	}
	return u
}

func mkRequest(t *testing.T, db *gorm.DB, owner int64) *domain.PrayerRequest {
	t.Helper()
	r, err := repo.CreateRequest(context.Background(), db, owner, "Healing", "Please pray for my mother's recovery")
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	return r
}

// ----- notification fakes -----

type recMailer struct {
	mu   sync.Mutex
	sent []notify.Message
	err  error
}

func (m *recMailer) Send(ctx context.Context, msg notify.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return m.err
}

func (m *recMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

type recPush struct {
	mu        sync.Mutex
	submitted []notify.PushMessage
	submitErr error
}

func (p *recPush) Submit(ctx context.Context, msg notify.PushMessage) (notify.Ticket, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.submitted = append(p.submitted, msg)
	if p.submitErr != nil {
		return notify.Ticket{}, p.submitErr
	}
	return notify.Ticket{ID: "tk"}, nil
}

func (p *recPush) Receipt(ctx context.Context, id string) (*notify.Receipt, error) {
	return &notify.Receipt{Status: "ok"}, nil
}

func (p *recPush) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.submitted)
}
