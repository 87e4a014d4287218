package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"skillsling/internal/account"
	"skillsling/internal/auth"
	"skillsling/internal/history"
	"skillsling/internal/models"
	"skillsling/internal/service/ai"
	"skillsling/internal/storage"
	"skillsling/internal/worker"
)

func TestHandlersEndToEndFlow(t *testing.T) {
	router, _ := newTestServer(t)

	userID, authHeader, username := registerAndLogin(t, router)

	tokenResp := doJSONRequest(t, router, http.MethodPost,
		fmt.Sprintf("/api/users/%d/token", userID),
		map[string]string{"provider": "openai", "token": "sk-mock"},
		authHeader)
	assertStatus(t, tokenResp, http.StatusNoContent)

	listTokens := doJSONRequest(t, router, http.MethodGet,
		fmt.Sprintf("/api/users/%d/token", userID), nil, authHeader)
	assertStatus(t, listTokens, http.StatusOK)
	if !strings.Contains(listTokens.Body.String(), "openai") {
		t.Fatalf("token list missing provider: %s", listTokens.Body.String())
	}

	startResp := doJSONRequest(t, router, http.MethodPost,
		fmt.Sprintf("/api/users/%d/conversation/start", userID),
		map[string]any{"provider": "openai", "session_id": "", "model_type": "llama3.2:3b", "language": "Hindi"},
		authHeader)
	assertStatus(t, startResp, http.StatusAccepted)
	var startBody struct {
		SessionID string `json:"session_id"`
		Language  string `json:"language"`
	}
	decodeJSON(t, startResp.Body.Bytes(), &startBody)
	if startBody.SessionID == "" {
		t.Fatalf("expected a session id")
	}
	if startBody.Language != "Hindi" {
		t.Fatalf("language not honored: %q", startBody.Language)
	}

	firstMessage := "Explain photosynthesis simply."
	sendResp := postSSE(t, router,
		fmt.Sprintf("/api/users/%d/conversation/msg", userID),
		map[string]any{
			"session_id": startBody.SessionID,
			"content":    firstMessage,
			"provider":   "openai",
			"model_type": "llama3.2:3b",
			"language":   "Hindi",
		},
		authHeader,
	)
	assertStatus(t, sendResp, http.StatusOK)
	events := parseSSE(t, sendResp.Body.String())
	if len(events) != 3 {
		t.Fatalf("expected 3 SSE events, got %d: %#v", len(events), events)
	}
	if events[0].Name != "ack" || events[1].Name != "stream" || events[2].Name != "done" {
		t.Fatalf("unexpected SSE sequence: %#v", events)
	}
	var donePayload struct {
		SessionID string `json:"session_id"`
		Turn      struct {
			Role           string  `json:"role"`
			Text           string  `json:"text"`
			LatencySeconds float64 `json:"latency_seconds"`
		} `json:"turn"`
	}
	decodeJSON(t, []byte(events[2].Data), &donePayload)
	if donePayload.SessionID != startBody.SessionID {
		t.Fatalf("done event for wrong session: %q", donePayload.SessionID)
	}
	if donePayload.Turn.Role != "assistant" || donePayload.Turn.Text == "" {
		t.Fatalf("done payload missing assistant turn: %#v", donePayload)
	}

	listResp := doJSONRequest(t, router, http.MethodPost,
		fmt.Sprintf("/api/users/%d/conversation/session-list", userID), nil, authHeader)
	assertStatus(t, listResp, http.StatusOK)
	var listBody struct {
		SessionList []struct {
			SessionID string `json:"session_id"`
			Preview   string `json:"preview"`
			TurnCount int    `json:"turn_count"`
		} `json:"session_list"`
	}
	decodeJSON(t, listResp.Body.Bytes(), &listBody)
	if len(listBody.SessionList) != 1 {
		t.Fatalf("expected 1 session, got %d", len(listBody.SessionList))
	}
	if !strings.HasPrefix(firstMessage, listBody.SessionList[0].Preview) {
		t.Fatalf("preview not derived from first user turn: %q", listBody.SessionList[0].Preview)
	}
	if listBody.SessionList[0].TurnCount != 2 {
		t.Fatalf("expected 2 turns, got %d", listBody.SessionList[0].TurnCount)
	}

	msgResp := doJSONRequest(t, router, http.MethodGet,
		fmt.Sprintf("/api/users/%d/conversation/sessions/%s/messages", userID, startBody.SessionID),
		nil, authHeader)
	assertStatus(t, msgResp, http.StatusOK)
	var msgBody struct {
		Turns []models.Turn `json:"turns"`
	}
	decodeJSON(t, msgResp.Body.Bytes(), &msgBody)
	if len(msgBody.Turns) != 2 || msgBody.Turns[0].Role != models.RoleUser || msgBody.Turns[1].Role != models.RoleAssistant {
		t.Fatalf("unexpected transcript: %#v", msgBody.Turns)
	}

	// Rewind to just the user turn, as an edit-and-regenerate would.
	truncResp := doJSONRequest(t, router, http.MethodPost,
		fmt.Sprintf("/api/users/%d/conversation/sessions/%s/truncate", userID, startBody.SessionID),
		map[string]int{"keep": 1}, authHeader)
	assertStatus(t, truncResp, http.StatusNoContent)
	msgResp = doJSONRequest(t, router, http.MethodGet,
		fmt.Sprintf("/api/users/%d/conversation/sessions/%s/messages", userID, startBody.SessionID),
		nil, authHeader)
	assertStatus(t, msgResp, http.StatusOK)
	decodeJSON(t, msgResp.Body.Bytes(), &msgBody)
	if len(msgBody.Turns) != 1 {
		t.Fatalf("truncate did not apply: %d turns", len(msgBody.Turns))
	}

	// Delete the session twice: both are 204.
	for i := 0; i < 2; i++ {
		delResp := doJSONRequest(t, router, http.MethodDelete,
			fmt.Sprintf("/api/users/%d/conversation/sessions/%s", userID, startBody.SessionID),
			nil, authHeader)
		assertStatus(t, delResp, http.StatusNoContent)
	}
	msgResp = doJSONRequest(t, router, http.MethodGet,
		fmt.Sprintf("/api/users/%d/conversation/sessions/%s/messages", userID, startBody.SessionID),
		nil, authHeader)
	assertStatus(t, msgResp, http.StatusNotFound)

	logoutResp := doJSONRequest(t, router, http.MethodPost,
		fmt.Sprintf("/api/users/%d/logout", userID), nil, authHeader)
	assertStatus(t, logoutResp, http.StatusNoContent)

	staleResp := doJSONRequest(t, router, http.MethodPost,
		fmt.Sprintf("/api/users/%d/conversation/session-list", userID), nil, authHeader)
	assertStatus(t, staleResp, http.StatusUnauthorized)

	_, authHeader = login(t, router, username, "pass123")
	delResp := doJSONRequest(t, router, http.MethodDelete,
		fmt.Sprintf("/api/users/%d", userID), nil, authHeader)
	assertStatus(t, delResp, http.StatusNoContent)

	failLogin := doJSONRequest(t, router, http.MethodPost, "/api/users/login", map[string]string{
		"username": username,
		"password": "pass123",
	}, nil)
	assertStatus(t, failLogin, http.StatusUnauthorized)
}

func TestStartConversationValidation(t *testing.T) {
	router, _ := newTestServer(t)
	userID, authHeader, _ := registerAndLogin(t, router)

	resp := doJSONRequest(t, router, http.MethodPost,
		fmt.Sprintf("/api/users/%d/conversation/start", userID),
		map[string]any{"provider": "", "session_id": "", "model_type": "llama3.2:3b"},
		authHeader)
	assertStatus(t, resp, http.StatusBadRequest)

	resp = doJSONRequest(t, router, http.MethodPost,
		fmt.Sprintf("/api/users/%d/conversation/start", userID),
		map[string]any{"provider": "ollama", "session_id": "", "model_type": ""},
		authHeader)
	assertStatus(t, resp, http.StatusBadRequest)

	resp = doJSONRequest(t, router, http.MethodPost,
		fmt.Sprintf("/api/users/%d/conversation/start", userID),
		map[string]any{"provider": "ollama", "session_id": "chat_missing", "model_type": "llama3.2:3b"},
		authHeader)
	assertStatus(t, resp, http.StatusNotFound)
}

func TestStartConversationRequiresKey(t *testing.T) {
	router, _ := newTestServer(t)
	userID, authHeader, _ := registerAndLogin(t, router)

	resp := doJSONRequest(t, router, http.MethodPost,
		fmt.Sprintf("/api/users/%d/conversation/start", userID),
		map[string]any{"provider": "openai", "session_id": "", "model_type": "llama3.2:3b"},
		authHeader)
	assertStatus(t, resp, http.StatusBadRequest)
	if !strings.Contains(resp.Body.String(), "api key not configured") {
		t.Fatalf("expected missing key error, got %s", resp.Body.String())
	}

	// local ollama needs no key
	resp = doJSONRequest(t, router, http.MethodPost,
		fmt.Sprintf("/api/users/%d/conversation/start", userID),
		map[string]any{"provider": "ollama", "session_id": "", "model_type": "llama3.2:3b"},
		authHeader)
	assertStatus(t, resp, http.StatusAccepted)
}

func TestCaptureInputValidation(t *testing.T) {
	router, _ := newTestServer(t)
	userID, authHeader, _ := registerAndLogin(t, router)
	sessionID := startSession(t, router, userID, authHeader)

	resp := doJSONRequest(t, router, http.MethodPost,
		fmt.Sprintf("/api/users/%d/conversation/msg", userID),
		map[string]any{"session_id": "", "content": "hi", "provider": "ollama", "model_type": "phi3:mini"},
		authHeader)
	assertStatus(t, resp, http.StatusBadRequest)

	resp = doJSONRequest(t, router, http.MethodPost,
		fmt.Sprintf("/api/users/%d/conversation/msg", userID),
		map[string]any{"session_id": sessionID, "content": "   ", "provider": "ollama", "model_type": "phi3:mini"},
		authHeader)
	assertStatus(t, resp, http.StatusBadRequest)

	resp = doJSONRequest(t, router, http.MethodPost,
		fmt.Sprintf("/api/users/%d/conversation/msg", userID),
		map[string]any{"session_id": "chat_missing", "content": "hi", "provider": "ollama", "model_type": "phi3:mini"},
		authHeader)
	assertStatus(t, resp, http.StatusNotFound)
}

func TestCaptureInputInferenceUnavailable(t *testing.T) {
	router, handler := newTestServer(t)
	userID, authHeader, _ := registerAndLogin(t, router)
	sessionID := startSession(t, router, userID, authHeader)

	mw := handler.workers.(*mockWorker)
	mw.exchangeErr = fmt.Errorf("%w: connection refused", ai.ErrInferenceUnavailable)

	resp := postSSE(t, router,
		fmt.Sprintf("/api/users/%d/conversation/msg", userID),
		map[string]any{
			"session_id": sessionID,
			"content":    "hello",
			"provider":   "ollama",
			"model_type": "phi3:mini",
		},
		authHeader,
	)
	assertStatus(t, resp, http.StatusOK)
	events := parseSSE(t, resp.Body.String())
	if len(events) != 2 || events[0].Name != "ack" || events[1].Name != "error" {
		t.Fatalf("unexpected SSE sequence: %#v", events)
	}
	if !strings.Contains(events[1].Data, "inference_unavailable") {
		t.Fatalf("expected inference_unavailable code, got %s", events[1].Data)
	}
}

func TestSessionOwnershipIsolation(t *testing.T) {
	router, _ := newTestServer(t)

	aliceID, aliceHeader, _ := registerAndLogin(t, router)
	sessionID := startSession(t, router, aliceID, aliceHeader)

	bobID, bobHeader, _ := registerAndLogin(t, router)
	resp := doJSONRequest(t, router, http.MethodGet,
		fmt.Sprintf("/api/users/%d/conversation/sessions/%s/messages", bobID, sessionID),
		nil, bobHeader)
	assertStatus(t, resp, http.StatusNotFound)

	resp = doJSONRequest(t, router, http.MethodDelete,
		fmt.Sprintf("/api/users/%d/conversation/sessions/%s", bobID, sessionID),
		nil, bobHeader)
	assertStatus(t, resp, http.StatusNotFound)

	// bob cannot act as alice either
	resp = doJSONRequest(t, router, http.MethodPost,
		fmt.Sprintf("/api/users/%d/conversation/session-list", aliceID), nil, bobHeader)
	assertStatus(t, resp, http.StatusForbidden)

	resp = doJSONRequest(t, router, http.MethodGet,
		fmt.Sprintf("/api/users/%d/conversation/sessions/%s/messages", aliceID, sessionID),
		nil, aliceHeader)
	assertStatus(t, resp, http.StatusOK)
}

func TestPublicMetaRoutes(t *testing.T) {
	router, _ := newTestServer(t)

	resp := doJSONRequest(t, router, http.MethodGet, "/api/languages", nil, nil)
	assertStatus(t, resp, http.StatusOK)
	var langBody struct {
		Languages []string `json:"languages"`
		Default   string   `json:"default"`
	}
	decodeJSON(t, resp.Body.Bytes(), &langBody)
	if len(langBody.Languages) != 5 || langBody.Default != "English" {
		t.Fatalf("unexpected languages payload: %+v", langBody)
	}

	resp = doJSONRequest(t, router, http.MethodGet, "/api/models", nil, nil)
	assertStatus(t, resp, http.StatusOK)
	if !strings.Contains(resp.Body.String(), "llama3.2:3b") {
		t.Fatalf("models payload missing known model: %s", resp.Body.String())
	}
}

type sseEvent struct {
	Name string
	Data string
}

func parseSSE(t *testing.T, payload string) []sseEvent {
	t.Helper()
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return nil
	}
	var events []sseEvent
	for _, chunk := range strings.Split(payload, "\n\n") {
		lines := strings.Split(strings.TrimSpace(chunk), "\n")
		var evt sseEvent
		for _, line := range lines {
			switch {
			case strings.HasPrefix(line, "event:"):
				evt.Name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			case strings.HasPrefix(line, "data:"):
				data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
				if evt.Data == "" {
					evt.Data = data
				} else {
					evt.Data += "\n" + data
				}
			}
		}
		events = append(events, evt)
	}
	return events
}

func newTestServer(t *testing.T) (*gin.Engine, *Handler) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := storage.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := storage.Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	accounts := account.NewService(db)
	authSvc := auth.NewService(db, nil, time.Hour)
	store := history.NewStore(filepath.Join(t.TempDir(), "chat_history.json"))
	workers := &mockWorker{store: store}

	handler := NewHandler(accounts, authSvc, store, workers, t.TempDir(), time.Hour)

	router := gin.New()
	handler.RegisterRoutes(router)
	return router, handler
}

func doJSONRequest(t *testing.T, router *gin.Engine, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func postSSE(t *testing.T, router *gin.Engine, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	return doJSONRequest(t, router, http.MethodPost, path, body, headers)
}

func decodeJSON(t *testing.T, data []byte, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("decode json: %v (payload %s)", err, data)
	}
}

func assertStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("status %d, want %d, body: %s", rec.Code, want, rec.Body.String())
	}
}

var userSeq atomic.Int64

func registerAndLogin(t *testing.T, router *gin.Engine) (int64, map[string]string, string) {
	t.Helper()
	username := fmt.Sprintf("tester_%d_%d", time.Now().UnixNano(), userSeq.Add(1))
	regResp := doJSONRequest(t, router, http.MethodPost, "/api/users/register", map[string]string{
		"username": username,
		"password": "pass123",
	}, nil)
	assertStatus(t, regResp, http.StatusCreated)
	var regBody struct {
		ID int64 `json:"id"`
	}
	decodeJSON(t, regResp.Body.Bytes(), &regBody)

	id, header := login(t, router, username, "pass123")
	if id != regBody.ID {
		t.Fatalf("login returned user %d, registered %d", id, regBody.ID)
	}
	return id, header, username
}

func login(t *testing.T, router *gin.Engine, username, password string) (int64, map[string]string) {
	t.Helper()
	loginResp := doJSONRequest(t, router, http.MethodPost, "/api/users/login", map[string]string{
		"username": username,
		"password": password,
	}, nil)
	assertStatus(t, loginResp, http.StatusOK)
	var loginBody struct {
		ID        int64  `json:"id"`
		AuthToken string `json:"auth_token"`
	}
	decodeJSON(t, loginResp.Body.Bytes(), &loginBody)
	if loginBody.AuthToken == "" {
		t.Fatalf("expected auth token after login")
	}
	return loginBody.ID, map[string]string{"Authorization": "Bearer " + loginBody.AuthToken}
}

func startSession(t *testing.T, router *gin.Engine, userID int64, authHeader map[string]string) string {
	t.Helper()
	resp := doJSONRequest(t, router, http.MethodPost,
		fmt.Sprintf("/api/users/%d/conversation/start", userID),
		map[string]any{"provider": "ollama", "session_id": "", "model_type": "phi3:mini"},
		authHeader)
	assertStatus(t, resp, http.StatusAccepted)
	var body struct {
		SessionID string `json:"session_id"`
	}
	decodeJSON(t, resp.Body.Bytes(), &body)
	if body.SessionID == "" {
		t.Fatalf("expected session id")
	}
	return body.SessionID
}

// mockWorker satisfies WorkerManager without spinning up real workers or a
// model client. Exchanges append straight to the history store.
type mockWorker struct {
	store       *history.Store
	exchangeErr error
}

func (m *mockWorker) OpenSession(owner, language, model, sessionID string) (*models.Session, error) {
	if sessionID == "" {
		if language == "" {
			language = "English"
		}
		return m.store.Create(owner, language, model), nil
	}
	return m.store.Get(sessionID)
}

func (m *mockWorker) Exchange(req worker.ExchangeRequest) (models.Turn, error) {
	if err := m.exchangeErr; err != nil {
		m.exchangeErr = nil
		return models.Turn{}, err
	}
	if err := m.store.Append(req.SessionID, models.Turn{Role: models.RoleUser, Text: req.Text, CreatedAt: time.Now().UTC()}); err != nil {
		return models.Turn{}, err
	}
	if req.ChunkFn != nil {
		if err := req.ChunkFn("mock-chunk"); err != nil {
			return models.Turn{}, err
		}
	}
	turn := models.Turn{
		Role:           models.RoleAssistant,
		Text:           fmt.Sprintf("Mock response to %q", req.Text),
		CreatedAt:      time.Now().UTC(),
		LatencySeconds: 0.01,
	}
	if err := m.store.Append(req.SessionID, turn); err != nil {
		return models.Turn{}, err
	}
	return turn, nil
}

func (m *mockWorker) ResetUser(int64)     {}
func (m *mockWorker) Purge(int64, string) {}
