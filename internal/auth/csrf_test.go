package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func newCSRFRouter(t *testing.T) (*gin.Engine, *Service) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := openTestDB(t)
	t.Cleanup(func() { db.Close() })

	svc := NewService(db, nil, time.Hour)
	router := gin.New()
	router.Use(svc.CSRFMiddleware())
	handle := func(c *gin.Context) { c.Status(http.StatusNoContent) }
	router.GET("/probe-get", handle)
	router.POST("/probe-post", handle)
	return router, svc
}

func csrfRequest(router *gin.Engine, method string, mutate func(*http.Request)) *httptest.ResponseRecorder {
	path := "/probe-post"
	if method == http.MethodGet {
		path = "/probe-get"
	}
	req := httptest.NewRequest(method, path, nil)
	if mutate != nil {
		mutate(req)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestCSRFMiddleware(t *testing.T) {
	router, svc := newCSRFRouter(t)

	// safe methods pass without any token
	if rec := csrfRequest(router, http.MethodGet, nil); rec.Code != http.StatusNoContent {
		t.Fatalf("GET without csrf token rejected: %d", rec.Code)
	}

	// bearer authorization is exempt
	rec := csrfRequest(router, http.MethodPost, func(req *http.Request) {
		req.Header.Set("Authorization", "Bearer some-token")
	})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("bearer request rejected: %d", rec.Code)
	}

	// cookie-backed mutations need the matching double-submit pair
	if rec := csrfRequest(router, http.MethodPost, nil); rec.Code != http.StatusForbidden {
		t.Fatalf("mutation without csrf token passed: %d", rec.Code)
	}
	rec = csrfRequest(router, http.MethodPost, func(req *http.Request) {
		req.AddCookie(&http.Cookie{Name: svc.CSRFCookieName(), Value: "tok-a"})
		req.Header.Set(svc.CSRFHeaderName(), "tok-b")
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("mismatched csrf pair passed: %d", rec.Code)
	}
	rec = csrfRequest(router, http.MethodPost, func(req *http.Request) {
		req.AddCookie(&http.Cookie{Name: svc.CSRFCookieName(), Value: "tok-a"})
		req.Header.Set(svc.CSRFHeaderName(), "tok-a")
	})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("matching csrf pair rejected: %d", rec.Code)
	}
}

func TestCSRFTokensMatch(t *testing.T) {
	if csrfTokensMatch("", "") || csrfTokensMatch("x", "") || csrfTokensMatch("", "x") {
		t.Fatalf("empty values must never match")
	}
	if csrfTokensMatch("abc", "abd") {
		t.Fatalf("different tokens matched")
	}
	if !csrfTokensMatch("abc", "abc") {
		t.Fatalf("equal tokens did not match")
	}
}
