package models

import "time"

// TempFile records a user-uploaded document kept on disk for a bounded
// lifetime. Its extracted text feeds the next exchange as document context.
type TempFile struct {
	ID         int64     `json:"id"`
	UserID     int64     `json:"user_id"`
	SessionID  string    `json:"session_id"`
	FileName   string    `json:"file_name"`
	StoredPath string    `json:"stored_path"`
	MimeType   string    `json:"mime_type"`
	Size       int64     `json:"size"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}
