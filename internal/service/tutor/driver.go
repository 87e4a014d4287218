package tutor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"

	"skillsling/internal/config"
	"skillsling/internal/history"
	"skillsling/internal/models"
	"skillsling/internal/service/ai"
)

// ExchangeConfig shapes one respond call.
type ExchangeConfig struct {
	Language Language
	Model    string
	// DocumentContext is pre-extracted upload text. It is hard-capped to
	// ContextCap runes before inclusion, regardless of input size.
	DocumentContext string
	// FactHint is a single short string from the fact-lookup collaborator,
	// or empty.
	FactHint   string
	ContextCap int
}

// Driver turns a user message plus session context into one assistant turn.
// It borrows sessions from the store for the duration of an exchange and
// never retains them.
type Driver struct {
	store    *history.Store
	streamer ai.Streamer
}

// NewDriver builds a driver over the given store and inference collaborator.
func NewDriver(store *history.Store, streamer ai.Streamer) *Driver {
	return &Driver{store: store, streamer: streamer}
}

// Respond runs one exchange: commits the user turn, streams the reply, then
// commits the assistant turn and saves. onDelta observes each text delta in
// generation order; concatenating the deltas yields the final answer.
//
// When the collaborator fails, before or mid-stream, no assistant turn is
// committed: the session keeps exactly the user turn and the caller receives
// ai.ErrInferenceUnavailable.
func (d *Driver) Respond(ctx context.Context, sessionID, userText string, cfg ExchangeConfig, onDelta func(string) error) (models.Turn, error) {
	userText = strings.TrimSpace(userText)
	if userText == "" {
		return models.Turn{}, errors.New("user text cannot be empty")
	}

	session, err := d.store.Get(sessionID)
	if err != nil {
		return models.Turn{}, err
	}

	userTurn := models.Turn{Role: models.RoleUser, Text: userText, CreatedAt: time.Now().UTC()}
	if err := d.store.Append(sessionID, userTurn); err != nil {
		return models.Turn{}, err
	}
	d.saveSoft()

	request := buildRequest(session.Turns, userText, cfg)

	start := time.Now()
	reader, err := d.streamer.Stream(ctx, request, ai.OptionsFor(cfg.Model)...)
	if err != nil {
		return models.Turn{}, fmt.Errorf("%w: %v", ai.ErrInferenceUnavailable, err)
	}
	defer reader.Close()

	var full strings.Builder
	for {
		chunk, err := reader.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			// Aborted mid-stream: discard partial output.
			return models.Turn{}, fmt.Errorf("%w: %v", ai.ErrInferenceUnavailable, err)
		}
		if chunk.Content == "" {
			continue
		}
		full.WriteString(chunk.Content)
		if onDelta != nil {
			if err := onDelta(chunk.Content); err != nil {
				return models.Turn{}, err
			}
		}
	}

	assistantTurn := models.Turn{
		Role:           models.RoleAssistant,
		Text:           full.String(),
		CreatedAt:      time.Now().UTC(),
		LatencySeconds: time.Since(start).Seconds(),
	}
	if err := d.store.Append(sessionID, assistantTurn); err != nil {
		return models.Turn{}, err
	}
	d.saveSoft()
	return assistantTurn, nil
}

// buildRequest assembles the ordered collaborator request: one instruction
// turn, an optional context turn, the prior transcript, and the new user
// turn. Stored system turns are skipped; the instruction is synthesized
// fresh each exchange so a language switch takes effect immediately.
func buildRequest(prior []models.Turn, userText string, cfg ExchangeConfig) []*schema.Message {
	request := make([]*schema.Message, 0, len(prior)+3)
	request = append(request, &schema.Message{
		Role:    schema.System,
		Content: Instruction(cfg.Language),
	})
	if contextTurn := buildContextTurn(cfg); contextTurn != nil {
		request = append(request, contextTurn)
	}
	for _, turn := range prior {
		if turn.Role == models.RoleSystem {
			continue
		}
		request = append(request, &schema.Message{
			Role:    schemaRole(turn.Role),
			Content: turn.Text,
		})
	}
	request = append(request, &schema.Message{Role: schema.User, Content: userText})
	return request
}

func buildContextTurn(cfg ExchangeConfig) *schema.Message {
	docContext := ClipContext(cfg.DocumentContext, cfg.ContextCap)
	factHint := strings.TrimSpace(cfg.FactHint)
	if docContext == "" && factHint == "" {
		return nil
	}
	var parts []string
	if docContext != "" {
		parts = append(parts, "Reference material from the student's document:\n"+docContext)
	}
	if factHint != "" {
		parts = append(parts, "Verified current fact: "+factHint)
	}
	return &schema.Message{
		Role:    schema.System,
		Content: strings.Join(parts, "\n\n"),
	}
}

// ClipContext enforces the document context cap in runes. A non-positive cap
// falls back to the configured default; the bound holds for any input size.
func ClipContext(text string, limit int) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	if limit <= 0 {
		limit = config.DefaultDocumentContextCap
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}

func schemaRole(role models.Role) schema.RoleType {
	switch role {
	case models.RoleAssistant:
		return schema.Assistant
	case models.RoleSystem:
		return schema.System
	default:
		return schema.User
	}
}

// saveSoft persists the store after a committing mutation. Write errors keep
// memory intact and are retried on the next mutation.
func (d *Driver) saveSoft() {
	if err := d.store.Save(); err != nil {
		log.Printf("tutor: %v", err)
	}
}
