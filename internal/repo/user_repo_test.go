package repo

import (
	"context"
	"testing"

	"github.com/tbourn/go-prayer-backend/internal/domain"
)

func TestCreateUser_DuplicateName(t *testing.T) {
	db := newStoreDB(t)
	u := seedUser(t, db, "anna")
	if u.ID == 0 {
		t.Fatalf("expected generated id")
	}
	dup := &domain.User{UserName: "anna", RealName: "Other", Email: "other@example.org", Active: true}
	if err := CreateUser(context.Background(), db, dup); err != ErrDuplicate {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestGetUserAndExists(t *testing.T) {
	db := newStoreDB(t)
	ctx := context.Background()
	u := seedUser(t, db, "anna")

	got, err := GetUser(ctx, db, u.ID)
	if err != nil || got.UserName != "anna" {
		t.Fatalf("GetUser: %+v err=%v", got, err)
	}
	if _, err := GetUser(ctx, db, 999); !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}

	ok, err := UserExists(ctx, db, u.ID)
	if err != nil || !ok {
		t.Fatalf("expected active user to exist: ok=%v err=%v", ok, err)
	}
	db.Model(&domain.User{}).Where("user_id = ?", u.ID).Update("active", false)
	ok, err = UserExists(ctx, db, u.ID)
	if err != nil || ok {
		t.Fatalf("inactive user must not count as existing: ok=%v err=%v", ok, err)
	}
}

func TestPushToken_UpdateAndConditionalClear(t *testing.T) {
	db := newStoreDB(t)
	ctx := context.Background()
	u := seedUser(t, db, "anna")

	if err := UpdatePushToken(ctx, db, u.ID, "ExponentPushToken[old]"); err != nil {
		t.Fatalf("UpdatePushToken: %v", err)
	}
	if err := UpdatePushToken(ctx, db, 999, "x"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound for unknown user, got %v", err)
	}

	// A newer token replaces the stale one before the clear lands.
	if err := UpdatePushToken(ctx, db, u.ID, "ExponentPushToken[new]"); err != nil {
		t.Fatalf("UpdatePushToken new: %v", err)
	}
	cleared, err := ClearPushToken(ctx, db, u.ID, "ExponentPushToken[old]")
	if err != nil || cleared {
		t.Fatalf("stale clear must be a no-op: cleared=%v err=%v", cleared, err)
	}
	got, _ := GetUser(ctx, db, u.ID)
	if !got.HasPushToken() || *got.FCMToken != "ExponentPushToken[new]" {
		t.Fatalf("new token must survive, got %+v", got.FCMToken)
	}

	cleared, err = ClearPushToken(ctx, db, u.ID, "ExponentPushToken[new]")
	if err != nil || !cleared {
		t.Fatalf("expected clear: cleared=%v err=%v", cleared, err)
	}
	got, _ = GetUser(ctx, db, u.ID)
	if got.HasPushToken() {
		t.Fatalf("token must be erased, got %v", *got.FCMToken)
	}
}

func TestUpdatePreferences(t *testing.T) {
	db := newStoreDB(t)
	ctx := context.Background()
	u := seedUser(t, db, "anna")

	off := false
	if err := UpdatePreferences(ctx, db, u.ID, &off, nil); err != nil {
		t.Fatalf("UpdatePreferences: %v", err)
	}
	got, _ := GetUser(ctx, db, u.ID)
	if got.PushNotifications || !got.PrayerEmails {
		t.Fatalf("only push should change: %+v", got)
	}

	if err := UpdatePreferences(ctx, db, u.ID, nil, nil); err != nil {
		t.Fatalf("no-op update on existing user: %v", err)
	}
	if err := UpdatePreferences(ctx, db, 999, &off, nil); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := UpdatePreferences(ctx, db, 999, nil, nil); !IsNotFound(err) {
		t.Fatalf("expected not found for no-op on unknown user, got %v", err)
	}
}

func TestSetUserPicture(t *testing.T) {
	db := newStoreDB(t)
	ctx := context.Background()
	u := seedUser(t, db, "anna")

	if err := SetUserPicture(ctx, db, u.ID, "https://cdn.example.org/profile/a.png"); err != nil {
		t.Fatalf("SetUserPicture: %v", err)
	}
	got, _ := GetUser(ctx, db, u.ID)
	if got.Picture == nil || *got.Picture != "https://cdn.example.org/profile/a.png" {
		t.Fatalf("picture not stored: %+v", got.Picture)
	}
	if err := SetUserPicture(ctx, db, 999, "x"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListEmailRecipients(t *testing.T) {
	db := newStoreDB(t)
	ctx := context.Background()
	a := seedUser(t, db, "anna")
	b := seedUser(t, db, "ben")
	c := seedUser(t, db, "cleo")
	d := seedUser(t, db, "dan")

	db.Model(&domain.User{}).Where("user_id = ?", b.ID).Update("prayer_emails", false)
	db.Model(&domain.User{}).Where("user_id = ?", c.ID).Update("active", false)
	db.Model(&domain.User{}).Where("user_id = ?", d.ID).Update("email", "")

	got, err := ListEmailRecipients(ctx, db)
	if err != nil {
		t.Fatalf("ListEmailRecipients: %v", err)
	}
	if len(got) != 1 || got[0].ID != a.ID {
		t.Fatalf("expected only anna, got %+v", got)
	}
}
