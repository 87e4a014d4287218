package models

import "time"

// Session is one named conversation transcript belonging to one owner.
// Turns are kept in literal chat order; at most one system turn exists and
// it is always first.
type Session struct {
	ID        string    `json:"id"`
	Owner     string    `json:"owner"`
	Language  string    `json:"language"`
	Model     string    `json:"model"`
	Preview   string    `json:"preview"`
	UpdatedAt time.Time `json:"updated_at"`
	Turns     []Turn    `json:"turns"`
}

// Clone returns a deep copy so borrowers cannot mutate store-owned state.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Turns = make([]Turn, len(s.Turns))
	copy(cp.Turns, s.Turns)
	return &cp
}
