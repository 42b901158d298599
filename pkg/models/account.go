// Package models contains shared data models used across the studio BFF.
package models

import "time"

// Account holds a user's spendable credit balance. Accounts are keyed by
// the Firebase UID and are created out of band.
type Account struct {
	UserID       string    `db:"user_id"       json:"userId"`
	CurrentToken float64   `db:"current_token" json:"currentToken"`
	CreatedAt    time.Time `db:"created_at"    json:"createdAt"`
	UpdatedAt    time.Time `db:"updated_at"    json:"updatedAt"`
}
