package account

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"skillsling/internal/models"
)

const (
	DefaultTempFileTTL             = 24 * time.Hour
	DefaultTempFileCleanupInterval = time.Hour
)

// RecordTempFile registers an uploaded document and its expiry.
func (s *Service) RecordTempFile(ctx context.Context, userID int64, sessionID, fileName, storedPath, mimeType string, size int64, ttl time.Duration) (int64, error) {
	if userID <= 0 {
		return 0, errors.New("invalid user id")
	}
	if strings.TrimSpace(sessionID) == "" {
		return 0, errors.New("session id is required")
	}
	if ttl <= 0 {
		ttl = DefaultTempFileTTL
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO temp_files (user_id, session_id, file_name, stored_path, mime_type, size, status, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, 'active', ?, ?)`,
		userID, sessionID, fileName, storedPath, mimeType, size, now, now.Add(ttl),
	)
	if err != nil {
		return 0, fmt.Errorf("record temp file: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("temp file id: %w", err)
	}
	return id, nil
}

// TempFilesByIDs returns the active temp files matching ids for the
// user/session pair, preserving no particular order.
func (s *Service) TempFilesByIDs(ctx context.Context, userID int64, sessionID string, ids []int64) ([]*models.TempFile, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]interface{}, 0, len(ids)+2)
	args = append(args, userID, sessionID)
	for _, id := range ids {
		args = append(args, id)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, session_id, file_name, stored_path, mime_type, size, status, created_at, expires_at
		 FROM temp_files
		 WHERE user_id = ? AND session_id = ? AND status = 'active' AND id IN (`+placeholders+`)`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("query temp files: %w", err)
	}
	defer rows.Close()

	var files []*models.TempFile
	for rows.Next() {
		f := new(models.TempFile)
		if err := rows.Scan(&f.ID, &f.UserID, &f.SessionID, &f.FileName, &f.StoredPath, &f.MimeType, &f.Size, &f.Status, &f.CreatedAt, &f.ExpiresAt); err != nil {
			return nil, fmt.Errorf("scan temp file: %w", err)
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// TempStorageUsage sums the active uploads for the user.
func (s *Service) TempStorageUsage(ctx context.Context, userID int64) (int64, error) {
	var total sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT SUM(size) FROM temp_files WHERE user_id = ? AND status = 'active'`, userID,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum temp files: %w", err)
	}
	return total.Int64, nil
}

// StartTempFileCleaner launches a loop deleting expired uploads until ctx is
// cancelled.
func (s *Service) StartTempFileCleaner(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultTempFileCleanupInterval
	}
	go s.cleanupLoop(ctx, interval)
}

func (s *Service) cleanupLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.cleanupExpiredFiles(); err != nil {
				log.Printf("account: cleanup temp files error: %v", err)
			}
		}
	}
}

func (s *Service) cleanupExpiredFiles() error {
	rows, err := s.db.Query(`
		SELECT id, stored_path FROM temp_files
		WHERE status = 'active' AND expires_at <= ?`, time.Now().UTC())
	if err != nil {
		return err
	}
	defer rows.Close()

	type fileRow struct {
		id   int64
		path string
	}
	var files []fileRow
	for rows.Next() {
		var fr fileRow
		if err := rows.Scan(&fr.id, &fr.path); err != nil {
			return err
		}
		files = append(files, fr)
	}

	for _, f := range files {
		if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
			log.Printf("account: remove temp file %s failed: %v", f.path, err)
			continue
		}
		if _, err := s.db.Exec(`DELETE FROM temp_files WHERE id = ?`, f.id); err != nil {
			log.Printf("account: delete temp file record %d failed: %v", f.id, err)
		}

		// prune empty directories
		_ = os.Remove(filepath.Dir(f.path))
	}
	return nil
}
