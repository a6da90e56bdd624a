package models

import "time"

// User is owned by the account-management service; the collector only reads it
// to decide where notifications should go.
type User struct {
	ID                   int64  `json:"id" gorm:"primaryKey"`
	TelegramID           *int64 `json:"telegram_id"`
	NotificationsEnabled bool   `json:"notifications_enabled"`
}

// MCCCategory is a human-readable group of merchant category codes.
type MCCCategory struct {
	ID   int64  `json:"id" gorm:"primaryKey"`
	Name string `json:"name" gorm:"uniqueIndex;not null"`
}

// MCC maps a merchant category code to its category.
type MCC struct {
	Code       int         `json:"code" gorm:"primaryKey"`
	CategoryID int64       `json:"category_id" gorm:"not null"`
	Category   MCCCategory `json:"-" gorm:"foreignKey:CategoryID"`
}

// Limit is a per-user spend ceiling for one category, configured elsewhere and
// read-only here.
type Limit struct {
	ID         int64       `json:"id" gorm:"primaryKey"`
	UserID     int64       `json:"user_id" gorm:"uniqueIndex:idx_limits_user_category;not null"`
	CategoryID int64       `json:"category_id" gorm:"uniqueIndex:idx_limits_user_category;not null"`
	Amount     float64     `json:"amount" gorm:"not null"`
	Category   MCCCategory `json:"-" gorm:"foreignKey:CategoryID"`
}

// Transaction is a single bank operation delivered by the provider webhook.
// The provider id doubles as the idempotency key: a redelivered statement hits
// the primary key and is rejected instead of duplicated.
type Transaction struct {
	ID        string    `json:"id" gorm:"primaryKey"`
	UserID    int64     `json:"user_id" gorm:"index;not null"`
	Amount    float64   `json:"amount"`
	Balance   float64   `json:"balance"`
	Cashback  float64   `json:"cashback"`
	MCC       int       `json:"mcc"`
	Timestamp time.Time `json:"timestamp"`
	Info      string    `json:"info"`
}

// Statement is the normalized transaction payload extracted from a webhook
// call. Money fields are already converted to currency units; Timestamp stays
// in epoch seconds until the store persists it.
type Statement struct {
	ID        string  `json:"id"`
	Amount    float64 `json:"amount"`
	Balance   float64 `json:"balance"`
	Cashback  float64 `json:"cashback"`
	Info      string  `json:"info"`
	MCC       int     `json:"mcc"`
	Timestamp int64   `json:"timestamp"`
}
