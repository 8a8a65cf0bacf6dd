// Package domain defines the persistence models for users, prayer requests,
// prayer records and generated prayers. These types are mapped with GORM and
// form the core data layer of the prayer-request backend.
package domain

import "time"

// User is a registered account. A user authors prayer requests, prays for
// other users' requests, and receives notifications according to the
// preference flags below.
//
// Fields:
//   - ID: stable integer identifier (user_id).
//   - UserName: unique display handle.
//   - RealName / Email: contact data used by notification templates.
//   - FCMToken: optional push token; cleared when the provider reports it
//     permanently invalid. Never serialized to clients.
//   - PushNotifications / PrayerEmails: per-channel opt-ins.
//   - Active: soft-deactivation marker.
type User struct {
	ID                int64     `json:"user_id"            gorm:"column:user_id;primaryKey;autoIncrement"`
	UserName          string    `json:"user_name"          gorm:"column:user_name;type:varchar(64);not null;uniqueIndex:ux_user_name"`
	RealName          string    `json:"real_name"          gorm:"column:real_name;type:varchar(255);not null"`
	Email             string    `json:"email"              gorm:"column:email;type:varchar(255);not null;index"`
	FCMToken          *string   `json:"-"                  gorm:"column:fcm_token;type:varchar(255)"`
	PushNotifications bool      `json:"push_notifications" gorm:"column:push_notifications;not null"`
	PrayerEmails      bool      `json:"prayer_emails"      gorm:"column:prayer_emails;not null"`
	Active            bool      `json:"active"             gorm:"column:active;not null"`
	Picture           *string   `json:"picture,omitempty"  gorm:"column:picture;type:varchar(512)"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "user" }

// HasPushToken reports whether a non-empty push token is on file.
func (u *User) HasPushToken() bool {
	return u != nil && u.FCMToken != nil && *u.FCMToken != ""
}

// PrayerRequest is a unit of content authored by exactly one user. The
// prayer counter is denormalized and only ever incremented by the recorder.
type PrayerRequest struct {
	ID          int64     `json:"request_id"    gorm:"column:request_id;primaryKey;autoIncrement"`
	UserID      int64     `json:"user_id"       gorm:"column:user_id;not null;index:idx_request_user"`
	Title       string    `json:"request_title" gorm:"column:request_title;type:varchar(255);not null"`
	Text        string    `json:"request_text"  gorm:"column:request_text;type:text;not null"`
	Active      bool      `json:"active"        gorm:"column:active;not null"`
	PrayerCount int64     `json:"prayer_count"  gorm:"column:prayer_count;not null"`
	Picture     *string   `json:"picture,omitempty" gorm:"column:picture;type:varchar(512)"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	// User is the author. Requests are cascade-deleted with their author.
	User User `json:"-" gorm:"foreignKey:UserID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for PrayerRequest.
func (PrayerRequest) TableName() string { return "request" }

// PrayerRecord is the fact "this user prayed for this request". At most one
// record exists per (request_id, user_id), enforced by ux_user_request.
type PrayerRecord struct {
	ID        int64     `json:"-"          gorm:"column:id;primaryKey;autoIncrement"`
	RequestID int64     `json:"request_id" gorm:"column:request_id;not null;uniqueIndex:ux_user_request,priority:1"`
	UserID    int64     `json:"user_id"    gorm:"column:user_id;not null;uniqueIndex:ux_user_request,priority:2;index"`
	Timestamp time.Time `json:"timestamp"  gorm:"column:timestamp;not null"`

	Request PrayerRequest `json:"-" gorm:"foreignKey:RequestID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	User    User          `json:"-" gorm:"foreignKey:UserID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for PrayerRecord.
func (PrayerRecord) TableName() string { return "user_request" }

// Prayer is generated text attached to a request after creation.
type Prayer struct {
	ID        int64     `json:"prayer_id"   gorm:"column:prayer_id;primaryKey;autoIncrement"`
	RequestID int64     `json:"request_id"  gorm:"column:request_id;not null;uniqueIndex:ux_prayer_request"`
	Text      string    `json:"prayer_text" gorm:"column:prayer_text;type:text;not null"`
	Model     string    `json:"model"       gorm:"column:model;type:varchar(64);not null"`
	CreatedAt time.Time `json:"created_at"`

	Request PrayerRequest `json:"-" gorm:"foreignKey:RequestID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Prayer.
func (Prayer) TableName() string { return "prayers" }
