package worker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"

	"skillsling/internal/config"
	"skillsling/internal/history"
	"skillsling/internal/models"
	"skillsling/internal/redis"
	"skillsling/internal/service/ai"
	"skillsling/internal/service/docs"
	"skillsling/internal/service/facts"
	"skillsling/internal/service/tutor"
)

const queueLen = 16

// ErrBusy is returned when a user's exchange queue is full.
var ErrBusy = errors.New("worker queue full")

// ErrStopped is returned for exchanges still queued when the user's worker
// shuts down.
var ErrStopped = errors.New("user worker stopped")

// clientFactory builds inference clients; tests swap it out.
var clientFactory = func(ctx context.Context, cfg *config.Config, provider, model, token string) (ai.Streamer, error) {
	return ai.NewClient(ctx, cfg, provider, model, token)
}

// ExchangeRequest carries one user message through the per-user worker.
type ExchangeRequest struct {
	Context   context.Context
	UserID    int64
	Owner     string
	SessionID string
	Provider  string
	Model     string
	Language  string
	Token     string
	Text      string
	Files     []*models.TempFile
	ChunkFn   func(string) error
}

type exchangeTask struct {
	req      ExchangeRequest
	resultCh chan exchangeResult
}

type exchangeResult struct {
	turn models.Turn
	err  error
}

// Manager runs one goroutine per user so that a user's exchanges are
// serialized: two concurrent sends from the same account never interleave
// their store appends.
type Manager struct {
	cfg       *config.Config
	store     *history.Store
	extractor *docs.Extractor
	facts     *facts.Service
	cache     *stateCache

	mu      sync.Mutex
	workers map[int64]*workerState
}

func NewManager(cfg *config.Config, store *history.Store, extractor *docs.Extractor, factSvc *facts.Service, cache *redis.Client) *Manager {
	m := &Manager{
		cfg:       cfg,
		store:     store,
		extractor: extractor,
		facts:     factSvc,
		cache:     newStateCache(cache),
		workers:   make(map[int64]*workerState),
	}
	m.cache.startListener(m.handleInvalidation)
	return m
}

// OpenSession returns the session to converse in, creating a fresh one when
// sessionID is empty.
func (m *Manager) OpenSession(owner, language, model, sessionID string) (*models.Session, error) {
	language = string(tutor.Normalize(language))
	if sessionID == "" {
		return m.store.Create(owner, language, model), nil
	}
	return m.store.Get(sessionID)
}

// Exchange queues the request on the user's worker and blocks until the
// assistant turn is ready (or the exchange failed).
func (m *Manager) Exchange(req ExchangeRequest) (models.Turn, error) {
	if req.SessionID == "" {
		return models.Turn{}, history.ErrUnknownSession
	}
	ctx := req.Context
	if ctx == nil {
		ctx = context.Background()
	}
	state := m.ensureWorker(req.UserID)

	resultCh := make(chan exchangeResult, 1)
	select {
	case state.taskCh <- exchangeTask{req: req, resultCh: resultCh}:
	case <-state.stopCh:
		return models.Turn{}, ErrStopped
	default:
		return models.Turn{}, ErrBusy
	}

	select {
	case ret := <-resultCh:
		return ret.turn, ret.err
	case <-ctx.Done():
		return models.Turn{}, ctx.Err()
	}
}

// Purge drops all cached state for a session, locally and across replicas.
func (m *Manager) Purge(userID int64, sessionID string) {
	if state := m.getWorker(userID); state != nil {
		select {
		case state.purgeCh <- sessionID:
		default:
			state.purgeCache(sessionID)
		}
	}
	m.cache.invalidateContext(sessionID)
	m.cache.publishInvalidation(invalidateMessage{UserID: userID, SessionID: sessionID, Scope: scopeSession})
}

// ResetUser stops the user's worker and clears their cached resources. The
// map entry is removed here, under the lock, so a repeated reset never sees
// the stopped worker again.
func (m *Manager) ResetUser(userID int64) {
	m.mu.Lock()
	if state, ok := m.workers[userID]; ok {
		delete(m.workers, userID)
		state.reset()
		close(state.stopCh)
	}
	m.mu.Unlock()
	m.cache.publishInvalidation(invalidateMessage{UserID: userID, Scope: scopeUser})
}

func (m *Manager) ensureWorker(userID int64) *workerState {
	m.mu.Lock()
	defer m.mu.Unlock()

	if state, ok := m.workers[userID]; ok {
		return state
	}
	state := newWorkerState()
	m.workers[userID] = state
	go m.runWorker(userID, state)
	return state
}

func (m *Manager) getWorker(userID int64) *workerState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.workers[userID]
}

func (m *Manager) runWorker(userID int64, state *workerState) {
	defer func() {
		m.mu.Lock()
		// a fresh worker may already occupy the slot after a reset
		if m.workers[userID] == state {
			delete(m.workers, userID)
		}
		m.mu.Unlock()
	}()

	for {
		select {
		case <-state.stopCh:
			state.drainTasks()
			debugLog("worker for user %d stopped", userID)
			return
		case task := <-state.taskCh:
			m.handleExchange(task, state)
		case sessionID := <-state.purgeCh:
			state.purgeCache(sessionID)
		}
	}
}

func (m *Manager) handleExchange(task exchangeTask, state *workerState) {
	req := task.req
	ctx := req.Context
	if ctx == nil {
		ctx = context.Background()
	}

	res, err := m.ensureClient(ctx, state, req)
	if err != nil {
		task.resultCh <- exchangeResult{err: err}
		return
	}

	docContext := m.documentContext(ctx, state, req)
	var hint string
	if m.facts != nil {
		hint = m.facts.Hint(ctx, req.Text)
	}

	driver := tutor.NewDriver(m.store, res.client)
	turn, err := driver.Respond(ctx, req.SessionID, req.Text, tutor.ExchangeConfig{
		Language:        tutor.Normalize(req.Language),
		Model:           req.Model,
		DocumentContext: docContext,
		FactHint:        hint,
		ContextCap:      m.contextCap(),
	}, req.ChunkFn)
	task.resultCh <- exchangeResult{turn: turn, err: err}
}

// ensureClient rebuilds the inference client when provider, model or token
// changed since the last exchange on this session.
func (m *Manager) ensureClient(ctx context.Context, state *workerState, req ExchangeRequest) (*sessionResources, error) {
	res := state.getResources(req.SessionID)
	if res != nil && res.provider == req.Provider && res.model == req.Model && res.token == req.Token {
		return res, nil
	}
	client, err := clientFactory(ctx, m.cfg, req.Provider, req.Model, req.Token)
	if err != nil {
		return nil, err
	}
	res = &sessionResources{
		client:   client,
		provider: req.Provider,
		model:    req.Model,
		token:    req.Token,
	}
	state.setResources(req.SessionID, res)
	return res, nil
}

// documentContext extracts the text of the request's uploaded files, using
// the local memo and the redis cache before touching the parser. Extraction
// failures degrade to an empty context; the exchange still runs.
func (m *Manager) documentContext(ctx context.Context, state *workerState, req ExchangeRequest) string {
	if len(req.Files) == 0 || m.extractor == nil {
		return ""
	}
	key := fileSetKey(req.Files)
	if text, ok := state.getContext(req.SessionID, key); ok {
		return text
	}
	if text, ok := m.cache.loadContext(req.SessionID, key); ok {
		state.setContext(req.SessionID, key, text)
		return text
	}

	var parts []string
	for _, f := range req.Files {
		if f == nil || f.StoredPath == "" {
			continue
		}
		text, err := m.extractor.Extract(ctx, f.StoredPath)
		if err != nil {
			log.Printf("document extract failed for %s: %v", f.FileName, err)
			continue
		}
		if text == "" {
			continue
		}
		parts = append(parts, fmt.Sprintf("[%s]\n%s", f.FileName, text))
	}
	text := strings.Join(parts, "\n\n")
	state.setContext(req.SessionID, key, text)
	m.cache.cacheContext(req.SessionID, key, text)
	return text
}

func (m *Manager) contextCap() int {
	if m.cfg != nil && m.cfg.BasicConfig.DocumentContextCap > 0 {
		return m.cfg.BasicConfig.DocumentContextCap
	}
	return config.DefaultDocumentContextCap
}

func (m *Manager) handleInvalidation(msg invalidateMessage) {
	state := m.getWorker(msg.UserID)
	if state == nil {
		return
	}
	switch msg.Scope {
	case scopeUser:
		state.reset()
	default:
		state.purgeCache(msg.SessionID)
	}
}

// fileSetKey produces a stable identifier for a set of uploads so cached
// context is only reused for the exact same files.
func fileSetKey(files []*models.TempFile) string {
	ids := make([]string, 0, len(files))
	for _, f := range files {
		if f != nil {
			ids = append(ids, fmt.Sprintf("%d", f.ID))
		}
	}
	sort.Strings(ids)
	sum := sha256.Sum256([]byte(strings.Join(ids, ",")))
	return hex.EncodeToString(sum[:8])
}
