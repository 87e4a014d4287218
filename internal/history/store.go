package history

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"skillsling/internal/models"
)

// ErrUnknownSession reports an operation that referenced an absent session id.
// Append never creates sessions implicitly.
var ErrUnknownSession = errors.New("session not found")

const previewLength = 40

// Store owns every session transcript for the process. It is loaded once at
// startup, mutated in memory, and rewritten to disk in full on Save. All
// mutations and Save share one mutex, so concurrent users cannot interleave
// a save with a half-applied change.
type Store struct {
	path string

	mu       sync.Mutex
	sessions map[string]*models.Session
	lastID   int64
}

// NewStore builds an empty store backed by the given file path.
func NewStore(path string) *Store {
	return &Store{
		path:     path,
		sessions: make(map[string]*models.Session),
	}
}

// Path reports the backing file location.
func (s *Store) Path() string {
	return s.path
}

// Load replaces the in-memory state with the backing file contents. A missing
// or malformed file yields an empty store; the condition is logged, never
// returned, so callers start clean instead of crashing on stale data.
func (s *Store) Load() {
	records, err := readRecords(s.path)
	if err != nil {
		log.Printf("history: load %s failed, starting empty: %v", s.path, err)
		records = nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = make(map[string]*models.Session, len(records))
	for _, rec := range records {
		session := rec.toSession()
		if session.ID == "" {
			continue
		}
		// Last record wins when a historical file carries duplicates.
		s.sessions[session.ID] = session
	}
}

// Save serializes the full collection and overwrites the backing file.
// A write error is returned for logging but the in-memory state is kept, so
// the next committing mutation retries the write.
func (s *Store) Save() error {
	s.mu.Lock()
	sessions := make([]*models.Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		if !hasContent(session) {
			// Empty sessions are never persisted.
			continue
		}
		sessions = append(sessions, session.Clone())
	}
	s.mu.Unlock()

	sortByRecency(sessions)
	if err := writeRecords(s.path, sessions); err != nil {
		return fmt.Errorf("save history: %w", err)
	}
	return nil
}

// Create allocates a new empty session with a fresh time-derived id. The
// session is not persisted until its first turn is committed.
func (s *Store) Create(owner, language, model string) *models.Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := time.Now().UnixNano()
	if id <= s.lastID {
		id = s.lastID + 1
	}
	s.lastID = id

	session := &models.Session{
		ID:        fmt.Sprintf("chat_%d", id),
		Owner:     owner,
		Language:  language,
		Model:     model,
		UpdatedAt: time.Now().UTC(),
	}
	s.sessions[session.ID] = session
	return session.Clone()
}

// Get returns a copy of the named session.
func (s *Store) Get(sessionID string) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrUnknownSession
	}
	return session.Clone(), nil
}

// Append adds a turn to the named session, enforcing the transcript shape:
// a system turn may only open the transcript, and only once.
func (s *Store) Append(sessionID string, turn models.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return ErrUnknownSession
	}
	if turn.Role == models.RoleSystem && len(session.Turns) > 0 {
		return errors.New("system turn must be first")
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}
	session.Turns = append(session.Turns, turn)
	session.UpdatedAt = time.Now().UTC()
	if session.Preview == "" && turn.Role == models.RoleUser {
		session.Preview = derivePreview(turn.Text)
	}
	return nil
}

// Truncate keeps the first keep turns and drops the rest, the first half of
// an edit-and-regenerate. The caller re-runs the exchange afterwards.
func (s *Store) Truncate(sessionID string, keep int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return ErrUnknownSession
	}
	if keep < 0 || keep > len(session.Turns) {
		return fmt.Errorf("truncate index %d out of range [0,%d]", keep, len(session.Turns))
	}
	session.Turns = session.Turns[:keep]
	session.UpdatedAt = time.Now().UTC()
	session.Preview = ""
	for _, turn := range session.Turns {
		if turn.Role == models.RoleUser {
			session.Preview = derivePreview(turn.Text)
			break
		}
	}
	return nil
}

// Delete removes the session. Deleting an absent id is a no-op.
func (s *Store) Delete(sessionID string) {
	s.mu.Lock()
	delete(s.sessions, sessionID)
	s.mu.Unlock()
}

// List returns copies of the owner's sessions, most recently updated first,
// each carrying a derived preview.
func (s *Store) List(owner string) []*models.Session {
	s.mu.Lock()
	sessions := make([]*models.Session, 0)
	for _, session := range s.sessions {
		if session.Owner != owner {
			continue
		}
		sessions = append(sessions, session.Clone())
	}
	s.mu.Unlock()

	for _, session := range sessions {
		if session.Preview == "" {
			for _, turn := range session.Turns {
				if turn.Role == models.RoleUser {
					session.Preview = derivePreview(turn.Text)
					break
				}
			}
		}
	}
	sortByRecency(sessions)
	return sessions
}

// Len reports how many sessions the store currently holds.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func sortByRecency(sessions []*models.Session) {
	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
	})
}

func derivePreview(text string) string {
	text = strings.TrimSpace(text)
	runes := []rune(text)
	if len(runes) > previewLength {
		return string(runes[:previewLength])
	}
	return text
}

func hasContent(session *models.Session) bool {
	for _, turn := range session.Turns {
		if turn.Role != models.RoleSystem {
			return true
		}
	}
	return false
}
