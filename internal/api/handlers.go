package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"skillsling/internal/account"
	"skillsling/internal/auth"
	"skillsling/internal/history"
	"skillsling/internal/models"
	"skillsling/internal/service/ai"
	"skillsling/internal/service/tutor"
	"skillsling/internal/worker"
)

type WorkerManager interface {
	OpenSession(owner, language, model, sessionID string) (*models.Session, error)
	Exchange(worker.ExchangeRequest) (models.Turn, error)
	ResetUser(userID int64)
	Purge(userID int64, sessionID string)
}

// Handler wires HTTP routes to the session store, account service and the
// per-user exchange workers.
type Handler struct {
	accounts *account.Service
	auth     *auth.Service
	store    *history.Store
	workers  WorkerManager
	fileBase string
	fileTTL  time.Duration
}

func NewHandler(accounts *account.Service, authService *auth.Service, store *history.Store, workers WorkerManager, fileBase string, fileTTL time.Duration) *Handler {
	return &Handler{
		accounts: accounts,
		auth:     authService,
		store:    store,
		workers:  workers,
		fileBase: fileBase,
		fileTTL:  fileTTL,
	}
}

// check token userID is match with param userID
func (h *Handler) requirePathUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := auth.UserIDFromContext(c)
		if !ok || userID <= 0 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
			return
		}
		paramID, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil || paramID <= 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
			return
		}
		if paramID != userID {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "user mismatch"})
			return
		}
		c.Next()
	}
}

func (h *Handler) authorizedUserID(c *gin.Context) (int64, bool) {
	userID, ok := auth.UserIDFromContext(c)
	if !ok || userID <= 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
		return 0, false
	}
	return userID, true
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api")
	api.POST("/users/register", h.registerUser)
	api.POST("/users/login", h.loginUser)
	api.GET("/languages", h.listLanguages)
	api.GET("/models", h.listModels)
	authMW := h.auth.Middleware()
	userRoutes := api.Group("/users/:id")
	userRoutes.Use(authMW, h.requirePathUser(), h.auth.CSRFMiddleware())
	userRoutes.POST("/token", h.setToken)
	userRoutes.GET("/token", h.listTokens)
	userRoutes.DELETE("/token", h.deleteToken)
	userRoutes.POST("/conversation/session-list", h.getSessionList)
	userRoutes.POST("/conversation/start", h.startConversation)
	userRoutes.DELETE("/conversation/sessions/:session_id", h.deleteSession)
	userRoutes.GET("/conversation/sessions/:session_id/messages", h.getSessionTurns)
	userRoutes.POST("/conversation/sessions/:session_id/truncate", h.truncateSession)
	userRoutes.POST("/conversation/msg", h.captureInput)
	userRoutes.POST("/uploads", h.filesUpload)
	userRoutes.POST("/logout", h.logoutUser)
	userRoutes.DELETE("", h.deleteUser)
}

func (h *Handler) listLanguages(c *gin.Context) {
	langs := tutor.Languages()
	names := make([]string, 0, len(langs))
	for _, l := range langs {
		names = append(names, string(l))
	}
	c.JSON(http.StatusOK, gin.H{"languages": names, "default": string(tutor.DefaultLanguage)})
}

func (h *Handler) listModels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"models": ai.KnownModels()})
}

// User create&login interface
type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *Handler) registerUser(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	user, err := h.accounts.RegisterUser(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"id":         user.ID,
		"username":   user.Username,
		"created_at": user.CreatedAt,
	})
}

func (h *Handler) loginUser(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	user, err := h.accounts.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	authToken, err := h.auth.IssueToken(c.Request.Context(), user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "issue token failed"})
		return
	}
	csrfToken, err := h.auth.NewCSRFToken()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "issue token failed"})
		return
	}
	h.setAuthCookies(c, authToken, csrfToken)
	c.JSON(http.StatusOK, gin.H{
		"id":         user.ID,
		"username":   user.Username,
		"created_at": user.CreatedAt,
		"auth_token": authToken,
	})
}

// owner resolves the history-store owner key for the authenticated user.
func (h *Handler) owner(c *gin.Context, userID int64) (string, bool) {
	user, err := h.accounts.UserByID(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unknown user"})
		return "", false
	}
	return user.Username, true
}

func sessionSummary(se *models.Session) gin.H {
	return gin.H{
		"session_id": se.ID,
		"language":   se.Language,
		"model":      se.Model,
		"preview":    se.Preview,
		"updated_at": se.UpdatedAt,
		"turn_count": len(se.Turns),
	}
}

func (h *Handler) getSessionList(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	owner, ok := h.owner(c, userID)
	if !ok {
		return
	}
	sessions := h.store.List(owner)
	list := make([]gin.H, 0, len(sessions))
	for _, se := range sessions {
		list = append(list, sessionSummary(se))
	}
	c.JSON(http.StatusOK, gin.H{"session_list": list})
}

func (h *Handler) sessionForUser(c *gin.Context, userID int64) (*models.Session, bool) {
	owner, ok := h.owner(c, userID)
	if !ok {
		return nil, false
	}
	sessionID := c.Param("session_id")
	se, err := h.store.Get(sessionID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return nil, false
	}
	if se.Owner != owner {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return nil, false
	}
	return se, true
}

func (h *Handler) deleteSession(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	owner, ok := h.owner(c, userID)
	if !ok {
		return
	}
	sessionID := c.Param("session_id")
	if se, err := h.store.Get(sessionID); err == nil && se.Owner != owner {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	// deleting an absent session is a no-op
	h.store.Delete(sessionID)
	h.workers.Purge(userID, sessionID)
	c.Status(http.StatusNoContent)
}

func (h *Handler) getSessionTurns(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	se, ok := h.sessionForUser(c, userID)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session": sessionSummary(se),
		"turns":   se.Turns,
	})
}

func (h *Handler) truncateSession(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	se, ok := h.sessionForUser(c, userID)
	if !ok {
		return
	}
	var req struct {
		Keep int `json:"keep"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.Keep < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "keep cannot be negative"})
		return
	}
	if err := h.store.Truncate(se.ID, req.Keep); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) startConversation(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	var req struct {
		Provider  string `json:"provider"`
		SessionID string `json:"session_id"`
		ModelType string `json:"model_type"`
		Language  string `json:"language"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	provider := strings.TrimSpace(req.Provider)
	if provider == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "provider is required"})
		return
	}
	modelType := strings.TrimSpace(req.ModelType)
	if modelType == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "model_type is required"})
		return
	}
	if _, err := h.providerToken(c.Request.Context(), userID, provider); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	owner, ok := h.owner(c, userID)
	if !ok {
		return
	}
	session, err := h.workers.OpenSession(owner, req.Language, modelType, strings.TrimSpace(req.SessionID))
	if err != nil {
		if errors.Is(err, history.ErrUnknownSession) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"session_id": session.ID,
		"language":   session.Language,
		"model":      session.Model,
		"updated_at": session.UpdatedAt,
	})
}

func (h *Handler) logoutUser(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	h.workers.ResetUser(userID)
	if authToken, ok := auth.AuthTokenFromContext(c); ok {
		_ = h.auth.RevokeToken(c.Request.Context(), authToken)
	}
	h.clearAuthCookies(c)
	c.Status(http.StatusNoContent)
}

func (h *Handler) deleteUser(c *gin.Context) {
	id, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	if err := h.auth.RevokeUserTokens(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	h.workers.ResetUser(id)
	if err := h.accounts.DeleteUser(c.Request.Context(), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.clearAuthCookies(c)
	c.Status(http.StatusNoContent)
}

// providerToken resolves the API key to use for a provider. Local ollama
// needs none.
func (h *Handler) providerToken(ctx context.Context, userID int64, provider string) (string, error) {
	if strings.EqualFold(provider, "ollama") {
		return "", nil
	}
	return h.accounts.EnsureProviderKey(ctx, userID, provider)
}

// User input interface
type inputRequest struct {
	SessionID string  `json:"session_id"`
	Content   string  `json:"content"`
	ModelType string  `json:"model_type"`
	Provider  string  `json:"provider"`
	Language  string  `json:"language"`
	FileIDs   []int64 `json:"file_ids"`
}

func (h *Handler) captureInput(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	var req inputRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.SessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "session_id is required"})
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "content is required"})
		return
	}
	owner, ok := h.owner(c, userID)
	if !ok {
		return
	}
	session, err := h.store.Get(req.SessionID)
	if err != nil || session.Owner != owner {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	files, err := h.resolveTempFiles(c.Request.Context(), userID, req.SessionID, req.FileIDs)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, sql.ErrNoRows) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	token, err := h.providerToken(c.Request.Context(), userID, req.Provider)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	streamCtx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Minute)
	defer cancel()
	// SSE Request construction
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	sendEvent := func(event string, payload interface{}) error {
		var data []byte
		switch v := payload.(type) {
		case string:
			data = []byte(v)
		default:
			var err error
			data, err = json.Marshal(v)
			if err != nil {
				return err
			}
		}
		if event != "" {
			if _, err := fmt.Fprintf(c.Writer, "event: %s\n", event); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}
	if err := sendEvent("ack", gin.H{
		"session_id": req.SessionID,
		"content":    req.Content,
	}); err != nil {
		return
	}

	turn, err := h.workers.Exchange(worker.ExchangeRequest{
		Context:   streamCtx,
		UserID:    userID,
		Owner:     owner,
		SessionID: req.SessionID,
		Provider:  req.Provider,
		Model:     req.ModelType,
		Language:  req.Language,
		Token:     token,
		Text:      req.Content,
		Files:     files,
		ChunkFn: func(chunk string) error {
			return sendEvent("stream", gin.H{"content": chunk})
		},
	})
	if err != nil {
		payload := gin.H{"message": err.Error()}
		switch {
		case errors.Is(err, ai.ErrInferenceUnavailable):
			payload = gin.H{"message": "the tutor is unavailable right now, please retry", "code": "inference_unavailable"}
		case errors.Is(err, worker.ErrBusy):
			payload = gin.H{"message": "server is busy, please retry", "code": "busy"}
		case errors.Is(err, history.ErrUnknownSession):
			payload = gin.H{"message": "session not found", "code": "unknown_session"}
		}
		_ = sendEvent("error", payload)
		return
	}
	_ = sendEvent("done", gin.H{
		"session_id": req.SessionID,
		"turn": gin.H{
			"role":            turn.Role,
			"text":            turn.Text,
			"created_at":      turn.CreatedAt,
			"latency_seconds": turn.LatencySeconds,
		},
	})
}

// handle api token
func (h *Handler) setToken(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	var req struct {
		Provider string `json:"provider"`
		Token    string `json:"token"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := h.accounts.SetProviderKey(c.Request.Context(), userID, req.Provider, req.Token); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) listTokens(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	providers, err := h.accounts.ListProviders(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tokens": providers})
}

func (h *Handler) deleteToken(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	var req struct {
		Provider string `json:"provider"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := h.accounts.DeleteProviderKey(c.Request.Context(), userID, req.Provider); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "token not found"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.workers.ResetUser(userID)
	c.Status(http.StatusNoContent)
}

func (h *Handler) setAuthCookies(c *gin.Context, authToken, csrfToken string) {
	ttl := int(h.auth.TokenTTL().Seconds())
	if ttl <= 0 {
		ttl = 3600
	}
	secure := gin.Mode() == gin.ReleaseMode
	setCookie(c, &http.Cookie{
		Name:     h.auth.AuthCookieName(),
		Value:    authToken,
		MaxAge:   ttl,
		Path:     "/",
		Secure:   secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	setCookie(c, &http.Cookie{
		Name:     h.auth.CSRFCookieName(),
		Value:    csrfToken,
		MaxAge:   ttl,
		Path:     "/",
		Secure:   secure,
		HttpOnly: false,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *Handler) clearAuthCookies(c *gin.Context) {
	for _, name := range []string{h.auth.AuthCookieName(), h.auth.CSRFCookieName()} {
		setCookie(c, &http.Cookie{
			Name:     name,
			Value:    "",
			MaxAge:   -1,
			Path:     "/",
			Secure:   gin.Mode() == gin.ReleaseMode,
			HttpOnly: name == h.auth.AuthCookieName(),
			SameSite: http.SameSiteStrictMode,
		})
	}
}

func setCookie(c *gin.Context, ck *http.Cookie) {
	if ck == nil {
		return
	}
	http.SetCookie(c.Writer, ck)
}

func (h *Handler) resolveTempFiles(ctx context.Context, userID int64, sessionID string, fileIDs []int64) ([]*models.TempFile, error) {
	if len(fileIDs) == 0 {
		return nil, nil
	}
	seen := make(map[int64]struct{}, len(fileIDs))
	ids := make([]int64, 0, len(fileIDs))
	for _, id := range fileIDs {
		if id <= 0 {
			return nil, errors.New("invalid file id")
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	files, err := h.accounts.TempFilesByIDs(ctx, userID, sessionID, ids)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, sql.ErrNoRows
	}
	byID := make(map[int64]*models.TempFile, len(files))
	for _, f := range files {
		byID[f.ID] = f
	}
	ordered := make([]*models.TempFile, 0, len(ids))
	for _, id := range ids {
		f, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("file id %d not found", id)
		}
		ordered = append(ordered, f)
	}
	return ordered, nil
}

const (
	maxUploadBytes   = 10 << 20 // 10 MB
	userStorageLimit = 50 << 20 // 50 MB per user
)

var allowedContentTypes = []string{
	"text/plain",
	"text/markdown",
	"application/pdf",
	"application/json",
	"application/msword",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
}

func isAllowedContentType(ct string) bool {
	for _, allowed := range allowedContentTypes {
		if strings.HasPrefix(ct, allowed) {
			return true
		}
	}
	return false
}

func (h *Handler) filesUpload(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	if err := c.Request.ParseMultipartForm(maxUploadBytes); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid multipart form"})
		return
	}
	sessionID := strings.TrimSpace(c.PostForm("session_id"))
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session_id"})
		return
	}
	owner, ok := h.owner(c, userID)
	if !ok {
		return
	}
	if se, err := h.store.Get(sessionID); err != nil || se.Owner != owner {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	if file.Size > maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
		return
	}
	usage, err := h.accounts.TempStorageUsage(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "calculate usage failed"})
		return
	}
	if usage+file.Size > userStorageLimit {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "storage quota exceeded"})
		return
	}
	f, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "open file failed"})
		return
	}
	buf := make([]byte, 512)
	n, _ := f.Read(buf)
	_ = f.Close()
	contentType := http.DetectContentType(buf[:n])
	if !isAllowedContentType(contentType) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported file type"})
		return
	}
	filename := filepath.Base(file.Filename)
	destDir, destPath, finalName := h.getUniqueFilePath(userID, sessionID, filename)
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create directory failed"})
		return
	}
	if err := c.SaveUploadedFile(file, destPath); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "save file failed"})
		return
	}
	fileID, err := h.accounts.RecordTempFile(c.Request.Context(), userID, sessionID, finalName, destPath, contentType, file.Size, h.fileTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "record file failed"})
		return
	}
	// drop any cached document context built from the previous file set
	h.workers.Purge(userID, sessionID)
	c.JSON(http.StatusCreated, gin.H{
		"file_id":   fileID,
		"file_name": finalName,
		"size":      file.Size,
		"mime":      contentType,
		"used":      usage + file.Size,
		"limit":     userStorageLimit,
	})
}

func (h *Handler) getFilePath(userID int64, sessionID, filename string) (string, string) {
	destDir := filepath.Join(h.fileBase, strconv.FormatInt(userID, 10), sessionID)
	destPath := filepath.Join(destDir, filename)
	return destDir, destPath
}

func (h *Handler) getUniqueFilePath(userID int64, sessionID, filename string) (string, string, string) {
	destDir, destPath := h.getFilePath(userID, sessionID, filename)
	if _, err := os.Stat(destPath); os.IsNotExist(err) {
		return destDir, destPath, filename
	}
	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filename, ext)
	for idx := 1; idx <= 1000; idx++ {
		candidate := fmt.Sprintf("%s (%d)%s", base, idx, ext)
		dir, path := h.getFilePath(userID, sessionID, candidate)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return dir, path, candidate
		}
	}
	fallback := fmt.Sprintf("%s-%d%s", base, time.Now().UnixNano(), ext)
	return destDir, filepath.Join(destDir, fallback), fallback
}
