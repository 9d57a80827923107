package model

import "time"

// User is an external identity with a verified email and a dedicated export
// spreadsheet.
type User struct {
	UserID        string    `json:"user_id"`
	Email         string    `json:"email"`
	CreatedAt     time.Time `json:"created_at"`
	SpreadsheetID *string   `json:"spreadsheet_id,omitempty"`
}
