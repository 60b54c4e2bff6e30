package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gather/convo"
	"gather/middleware"
	"gather/mutate"
	"gather/notify"
	"gather/presence"
	"gather/push"
	"gather/receipts"
	"gather/store"
	gsync "gather/sync"
)

const testSecret = "test-secret"

func newTestRouter(t *testing.T) (*gin.Engine, *Handlers, *store.Memory) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mem := store.NewMemory()
	mgr := gsync.NewManager(mem)
	typing := presence.NewTracker(mem, presence.DefaultQuietPeriod)
	t.Cleanup(typing.Close)

	h := &Handlers{
		Store:      mem,
		Coord:      mutate.NewCoordinator(mem),
		Resolver:   convo.NewResolver(mem),
		Dispatcher: notify.NewDispatcher(mem, mgr),
		Receipts:   receipts.NewTracker(mem),
		Typing:     typing,
		Paginator:  gsync.NewPaginator(mem),
		Push:       push.NewSender(mem, "", ""),
		JWTSecret:  testSecret,
	}

	router := gin.New()
	router.POST("/api/signup", h.Signup)
	router.POST("/api/login", h.Login)
	protected := router.Group("/api")
	protected.Use(middleware.JWTAuth(testSecret))
	protected.GET("/me", h.Me)
	return router, h, mem
}

func doJSON(t *testing.T, router *gin.Engine, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func signup(t *testing.T, router *gin.Engine, email, name string) string {
	t.Helper()
	w := doJSON(t, router, http.MethodPost, "/api/signup", "", gin.H{
		"email":    email,
		"password": "hunter2!",
		"name":     name,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var resp struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)
	return resp.Token
}

func TestSignupLoginMe(t *testing.T) {
	router, _, _ := newTestRouter(t)

	signup(t, router, "alice@example.com", "Alice")

	// Duplicate email is rejected.
	w := doJSON(t, router, http.MethodPost, "/api/signup", "", gin.H{
		"email":    "alice@example.com",
		"password": "hunter2!",
		"name":     "Alice Again",
	})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doJSON(t, router, http.MethodPost, "/api/login", "", gin.H{
		"email":    "alice@example.com",
		"password": "hunter2!",
	})
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Token string `json:"token"`
		User  struct {
			Name string `json:"name"`
		} `json:"user"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Alice", resp.User.Name)

	w = doJSON(t, router, http.MethodGet, "/api/me", resp.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Alice")
}

func TestLoginWrongPassword(t *testing.T) {
	router, _, _ := newTestRouter(t)
	signup(t, router, "alice@example.com", "Alice")

	w := doJSON(t, router, http.MethodPost, "/api/login", "", gin.H{
		"email":    "alice@example.com",
		"password": "wrong",
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(t, router, http.MethodPost, "/api/login", "", gin.H{
		"email":    "nobody@example.com",
		"password": "hunter2!",
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	router, _, _ := newTestRouter(t)

	w := doJSON(t, router, http.MethodGet, "/api/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(t, router, http.MethodGet, "/api/me", "garbage.token.here", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
