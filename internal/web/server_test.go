package web

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/Laisky/laisky-drive/internal/drive"
	"github.com/Laisky/laisky-drive/internal/drive/blob"
	"github.com/Laisky/laisky-drive/library/auth"
	"github.com/Laisky/laisky-drive/library/jwt"
)

var (
	ginModeOnce sync.Once
)

func setupGinTestMode() {
	ginModeOnce.Do(func() {
		gin.SetMode(gin.TestMode)
	})
}

// testServer wires a drive service over in-memory sqlite and a temp dir.
type testServer struct {
	router *gin.Engine
	svc    *drive.Service
	signer *jwt.JWT
}

func newTestServer(t *testing.T, mutate ...func(*drive.Settings)) *testServer {
	t.Helper()
	setupGinTestMode()

	root := t.TempDir()
	settings := drive.DefaultSettings()
	settings.StorageRoot = root
	settings.LockTimeout = 2 * time.Second
	settings.PublicBaseURL = "https://drive.example.com"
	for _, fn := range mutate {
		fn(&settings)
	}

	name := strings.ReplaceAll(t.Name(), "/", "_")
	dsn := fmt.Sprintf("file:%s-%d?mode=memory&cache=shared", name, time.Now().UTC().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	signer, err := jwt.New([]byte("web-test-secret"))
	require.NoError(t, err)
	blobs, err := blob.New(root)
	require.NoError(t, err)
	svc, err := drive.NewService(db, blobs, signer, settings, nil, nil, nil)
	require.NoError(t, err)
	authenticator, err := auth.New(signer)
	require.NoError(t, err)

	srv, err := NewServer(svc, authenticator, Options{AllowedOrigins: []string{"*.laisky.com"}})
	require.NoError(t, err)

	return &testServer{router: srv.Router(), svc: svc, signer: signer}
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func (ts *testServer) upload(t *testing.T, token, filename string, content []byte, folderID uint64) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	if folderID > 0 {
		require.NoError(t, mw.WriteField("folder_id", fmt.Sprint(folderID)))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

// login registers username and returns a session token.
func (ts *testServer) login(t *testing.T, username string) (string, uint64) {
	t.Helper()
	w := ts.do(t, http.MethodPost, "/api/register", "", gin.H{
		"username": username,
		"email":    username + "@example.com",
		"password": "secret123",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = ts.do(t, http.MethodPost, "/api/login", "", gin.H{"username": username, "password": "secret123"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var session drive.Session
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &session))
	require.NotEmpty(t, session.AccessToken)
	return session.AccessToken, session.UserID
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	out := map[string]any{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestAllowCORS(t *testing.T) {
	setupGinTestMode()
	t.Parallel()

	allowed := []string{"*.laisky.com", "https://app.example.org"}
	tests := []struct {
		name           string
		method         string
		origin         string
		expectedStatus int
		expectedCORS   bool
	}{
		{name: "No origin header - should pass through", method: "GET", expectedStatus: http.StatusOK},
		{name: "Valid subdomain origin - GET request", method: "GET", origin: "https://blog.laisky.com", expectedStatus: http.StatusOK, expectedCORS: true},
		{name: "Valid main domain origin", method: "GET", origin: "https://laisky.com", expectedStatus: http.StatusOK, expectedCORS: true},
		{name: "Valid subdomain origin - OPTIONS preflight", method: "OPTIONS", origin: "https://blog.laisky.com", expectedStatus: http.StatusNoContent, expectedCORS: true},
		{name: "Exact origin entry", method: "GET", origin: "https://app.example.org", expectedStatus: http.StatusOK, expectedCORS: true},
		{name: "Exact origin entry wrong scheme", method: "GET", origin: "http://app.example.org", expectedStatus: http.StatusOK},
		{name: "Invalid origin - OPTIONS preflight", method: "OPTIONS", origin: "https://evil.com", expectedStatus: http.StatusForbidden},
		{name: "Invalid origin - GET request", method: "GET", origin: "https://evil.com", expectedStatus: http.StatusOK},
		{name: "Invalid subdomain of different domain", method: "GET", origin: "https://laisky.com.evil.com", expectedStatus: http.StatusOK},
		{name: "Case insensitive domain matching", method: "GET", origin: "https://Blog.LAISKY.COM", expectedStatus: http.StatusOK, expectedCORS: true},
		{name: "Invalid origin with malformed URL", method: "GET", origin: "not-a-valid-url", expectedStatus: http.StatusOK},
		{name: "Domain that contains laisky.com but is not subdomain", method: "GET", origin: "https://notlaisky.com", expectedStatus: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			router := gin.New()
			router.Use(allowCORS(allowed))
			router.Any("/test", func(c *gin.Context) {
				c.JSON(http.StatusOK, gin.H{"message": "success"})
			})

			req := httptest.NewRequest(tt.method, "/test", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code, "Status code mismatch")
			if tt.expectedCORS {
				assert.Equal(t, tt.origin, w.Header().Get("Access-Control-Allow-Origin"))
				assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
				assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "Range")
				assert.Contains(t, w.Header().Get("Access-Control-Expose-Headers"), "Content-Range")
				assert.Equal(t, "Origin", w.Header().Get("Vary"))
			} else {
				assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
				assert.Empty(t, w.Header().Get("Access-Control-Allow-Credentials"))
			}
		})
	}
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestAuthRequired(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/api/files", "", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, "UNAUTHORIZED", decode(t, w)["code"])

	w = ts.do(t, http.MethodGet, "/api/files", "not-a-token", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLoginRejectsBadPassword(t *testing.T) {
	ts := newTestServer(t)
	ts.login(t, "alice")

	w := ts.do(t, http.MethodPost, "/api/login", "", gin.H{"username": "alice", "password": "wrong-one"})
	require.Equal(t, http.StatusUnauthorized, w.Code)
	body := decode(t, w)
	require.Equal(t, "UNAUTHORIZED", body["code"])
	require.NotEmpty(t, body["error"])

	w = ts.do(t, http.MethodPost, "/api/register", "", gin.H{
		"username": "alice", "email": "other@example.com", "password": "secret123",
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "INVALID_ARGUMENT", decode(t, w)["code"])
}

func TestServerShutsDownOnContextCancel(t *testing.T) {
	ts := newTestServer(t)
	authenticator, err := auth.New(ts.signer)
	require.NoError(t, err)
	srv, err := NewServer(ts.svc, authenticator, Options{ReadHeaderTimeout: time.Second, IdleTimeout: time.Second})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx, "127.0.0.1:0") }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
