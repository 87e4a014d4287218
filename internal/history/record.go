package history

import (
	"encoding/json"
	"os"
	"time"

	"skillsling/internal/models"
)

// The backing file accumulated several record shapes over time: turns were
// called "messages", text lived under "content", and update times were free
// form "timestamp" strings. The loader accepts all of them and default-fills
// whatever is missing; only the canonical shape is ever written back.

const (
	defaultOwner    = "guest"
	defaultLanguage = "English"
)

type turnRecord struct {
	Role           string     `json:"role"`
	Text           string     `json:"text,omitempty"`
	Content        string     `json:"content,omitempty"`
	CreatedAt      *time.Time `json:"created_at,omitempty"`
	LatencySeconds float64    `json:"latency_seconds,omitempty"`
}

type sessionRecord struct {
	ID        string       `json:"id"`
	Owner     string       `json:"owner,omitempty"`
	Language  string       `json:"language,omitempty"`
	Model     string       `json:"model,omitempty"`
	Preview   string       `json:"preview,omitempty"`
	Timestamp string       `json:"timestamp,omitempty"`
	UpdatedAt *time.Time   `json:"updated_at,omitempty"`
	Turns     []turnRecord `json:"turns,omitempty"`
	Messages  []turnRecord `json:"messages,omitempty"`
}

func (r sessionRecord) toSession() *models.Session {
	session := &models.Session{
		ID:       r.ID,
		Owner:    r.Owner,
		Language: r.Language,
		Model:    r.Model,
		Preview:  r.Preview,
	}
	if session.Owner == "" {
		session.Owner = defaultOwner
	}
	if session.Language == "" {
		session.Language = defaultLanguage
	}
	switch {
	case r.UpdatedAt != nil:
		session.UpdatedAt = r.UpdatedAt.UTC()
	case r.Timestamp != "":
		session.UpdatedAt = parseLegacyTimestamp(r.Timestamp)
	}

	raw := r.Turns
	if len(raw) == 0 {
		raw = r.Messages
	}
	session.Turns = make([]models.Turn, 0, len(raw))
	for _, tr := range raw {
		turn := models.Turn{
			Role:           models.Role(tr.Role),
			Text:           tr.Text,
			LatencySeconds: tr.LatencySeconds,
		}
		if turn.Text == "" {
			turn.Text = tr.Content
		}
		switch turn.Role {
		case models.RoleUser, models.RoleAssistant, models.RoleSystem:
		default:
			turn.Role = models.RoleUser
		}
		if tr.CreatedAt != nil {
			turn.CreatedAt = tr.CreatedAt.UTC()
		}
		// A system turn is only valid at the head of the transcript.
		if turn.Role == models.RoleSystem && len(session.Turns) > 0 {
			continue
		}
		session.Turns = append(session.Turns, turn)
	}
	return session
}

func fromSession(session *models.Session) sessionRecord {
	updated := session.UpdatedAt
	rec := sessionRecord{
		ID:        session.ID,
		Owner:     session.Owner,
		Language:  session.Language,
		Model:     session.Model,
		Preview:   session.Preview,
		UpdatedAt: &updated,
		Turns:     make([]turnRecord, 0, len(session.Turns)),
	}
	for _, turn := range session.Turns {
		tr := turnRecord{
			Role:           string(turn.Role),
			Text:           turn.Text,
			LatencySeconds: turn.LatencySeconds,
		}
		if !turn.CreatedAt.IsZero() {
			created := turn.CreatedAt
			tr.CreatedAt = &created
		}
		rec.Turns = append(rec.Turns, tr)
	}
	return rec
}

func readRecords(path string) ([]sessionRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	var records []sessionRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, err
	}
	return records, nil
}

func writeRecords(path string, sessions []*models.Session) error {
	records := make([]sessionRecord, 0, len(sessions))
	for _, session := range sessions {
		records = append(records, fromSession(session))
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func parseLegacyTimestamp(value string) time.Time {
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04", "2006-01-02 15:04:05"} {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts.UTC()
		}
	}
	return time.Time{}
}
