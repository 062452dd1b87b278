package web

import (
	"bytes"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/Laisky/laisky-drive/internal/drive"
	"github.com/Laisky/laisky-drive/library/auth"
	"github.com/Laisky/laisky-drive/library/throttle"
)

func TestUploadListDownload(t *testing.T) {
	ts := newTestServer(t)
	token, _ := ts.login(t, "alice")

	w := ts.do(t, http.MethodPost, "/api/folders", token, gin.H{"name": "docs"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	folderID := uint64(decode(t, w)["folder_id"].(float64))

	w = ts.upload(t, token, "report.txt", []byte("quarterly numbers"), folderID)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	body := decode(t, w)
	fileID := uint64(body["file_id"].(float64))
	require.Equal(t, "report.txt", body["filename"])

	// duplicate name gets a distinct stored name
	w = ts.upload(t, token, "report.txt", []byte("second copy"), folderID)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	require.NotEqual(t, "report.txt", decode(t, w)["filename"])

	w = ts.do(t, http.MethodGet, fmt.Sprintf("/api/files?folder_id=%d", folderID), token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	listing := decode(t, w)
	require.EqualValues(t, 2, listing["total_items"])
	require.Len(t, listing["path"], 1)

	w = ts.do(t, http.MethodGet, "/api/files", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.EqualValues(t, 1, decode(t, w)["total_items"])

	w = ts.do(t, http.MethodGet, fmt.Sprintf("/api/download/%d", fileID), token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "quarterly numbers", w.Body.String())
	require.Equal(t, `attachment; filename="report.txt"`, w.Header().Get("Content-Disposition"))

	w = ts.do(t, http.MethodGet, "/api/user-info", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.EqualValues(t, len("quarterly numbers")+len("second copy"), decode(t, w)["storage_used"])
}

func TestNotFoundShape(t *testing.T) {
	ts := newTestServer(t)
	alice, _ := ts.login(t, "alice")
	bob, _ := ts.login(t, "bob")

	w := ts.upload(t, alice, "secret.txt", []byte("mine"), 0)
	require.Equal(t, http.StatusCreated, w.Code)
	fileID := uint64(decode(t, w)["file_id"].(float64))

	w = ts.do(t, http.MethodGet, fmt.Sprintf("/api/download/%d", fileID), bob, nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	body := decode(t, w)
	require.Equal(t, "NOT_FOUND", body["code"])
	require.NotContains(t, body["error"], "/")

	w = ts.do(t, http.MethodGet, "/api/download/abc", alice, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.upload(t, alice, "x.txt", []byte("x"), 9999)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestUploadQuotaExceeded(t *testing.T) {
	ts := newTestServer(t, func(s *drive.Settings) { s.DefaultQuotaBytes = 10 })
	token, _ := ts.login(t, "alice")

	w := ts.upload(t, token, "fits.bin", bytes.Repeat([]byte("a"), 10), 0)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = ts.upload(t, token, "over.bin", []byte("b"), 0)
	require.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	require.Equal(t, "QUOTA_EXCEEDED", decode(t, w)["code"])
}

func TestStreamRanges(t *testing.T) {
	ts := newTestServer(t)
	token, _ := ts.login(t, "alice")

	content := bytes.Repeat([]byte("0123456789"), 100)
	w := ts.upload(t, token, "clip.bin", content, 0)
	require.Equal(t, http.StatusCreated, w.Code)
	fileID := uint64(decode(t, w)["file_id"].(float64))
	path := fmt.Sprintf("/api/stream/%d?jwt=%s", fileID, url.QueryEscape(token))

	w = ts.do(t, http.MethodGet, path, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "1000", w.Header().Get("Content-Length"))
	require.Equal(t, "bytes", w.Header().Get("Accept-Ranges"))
	require.Equal(t, content, w.Body.Bytes())

	w = ts.do(t, http.MethodGet, path, "", nil, "Range", "bytes=0-99")
	require.Equal(t, http.StatusPartialContent, w.Code)
	require.Equal(t, "bytes 0-99/1000", w.Header().Get("Content-Range"))
	require.Equal(t, content[:100], w.Body.Bytes())

	w = ts.do(t, http.MethodGet, path, "", nil, "Range", "bytes=900-")
	require.Equal(t, http.StatusPartialContent, w.Code)
	require.Equal(t, "bytes 900-999/1000", w.Header().Get("Content-Range"))
	require.Len(t, w.Body.Bytes(), 100)

	w = ts.do(t, http.MethodGet, path, "", nil, "Range", "bytes=5000-")
	require.Equal(t, http.StatusRequestedRangeNotSatisfiable, w.Code)
	require.Equal(t, "bytes */1000", w.Header().Get("Content-Range"))

	// bearer works too
	w = ts.do(t, http.MethodGet, fmt.Sprintf("/api/stream/%d", fileID), token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = ts.do(t, http.MethodGet, fmt.Sprintf("/api/stream/%d", fileID), "", nil)
	require.Equal(t, http.StatusForbidden, w.Code)
	require.Equal(t, "FORBIDDEN", decode(t, w)["code"])
}

func TestPasswordShareFlow(t *testing.T) {
	ts := newTestServer(t)
	token, _ := ts.login(t, "alice")

	w := ts.upload(t, token, "movie.txt", []byte("frames"), 0)
	require.Equal(t, http.StatusCreated, w.Code)
	fileID := uint64(decode(t, w)["file_id"].(float64))

	w = ts.do(t, http.MethodPost, "/api/share", token, gin.H{
		"file_id":      fileID,
		"password":     "pw1234",
		"expires_days": 3,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode(t, w)
	shareToken := created["share_token"].(string)
	require.Equal(t, "https://drive.example.com/share/"+shareToken, created["share_url"])
	require.NotNil(t, created["expires_at"])

	w = ts.do(t, http.MethodGet, "/share/"+shareToken, "", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, "PASSWORD_REQUIRED", decode(t, w)["code"])

	w = ts.do(t, http.MethodPost, "/api/share/"+shareToken+"/verify-password", "", gin.H{"password": "nope"})
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = ts.do(t, http.MethodPost, "/api/share/"+shareToken+"/verify-password", "", gin.H{"password": "pw1234"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	verified := decode(t, w)
	require.Equal(t, true, verified["success"])
	proof := verified["authenticated"].(string)
	require.Equal(t, drive.ShareRedirect(shareToken, proof), verified["redirect"])

	w = ts.do(t, http.MethodGet, "/share/"+shareToken+"?authenticated="+url.QueryEscape(proof), "", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resource := decode(t, w)["resource"].(map[string]any)
	require.Equal(t, "movie.txt", resource["name"])

	streamPath := fmt.Sprintf("/api/stream/%d?token=%s", fileID, shareToken)
	w = ts.do(t, http.MethodGet, streamPath, "", nil)
	require.Equal(t, http.StatusForbidden, w.Code)
	require.Equal(t, "FORBIDDEN", decode(t, w)["code"])

	w = ts.do(t, http.MethodGet, streamPath+"&authenticated="+url.QueryEscape(proof), "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "frames", w.Body.String())
	require.Contains(t, w.Header().Get("Content-Disposition"), "inline")

	w = ts.do(t, http.MethodGet, "/share/does-not-exist", "", nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(t, http.MethodGet, "/api/shares", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	shares := decode(t, w)["shares"].([]any)
	require.Len(t, shares, 1)
	item := shares[0].(map[string]any)
	require.Equal(t, true, item["has_password"])

	w = ts.do(t, http.MethodDelete, fmt.Sprintf("/api/shares/%d", uint64(item["id"].(float64))), token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = ts.do(t, http.MethodGet, "/share/"+shareToken, "", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestConcurrentFolderCreate(t *testing.T) {
	ts := newTestServer(t)
	token, _ := ts.login(t, "alice")

	codes := make([]int, 2)
	var wg sync.WaitGroup
	for i := range codes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			codes[i] = ts.do(t, http.MethodPost, "/api/folders", token, gin.H{"name": "same"}).Code
		}(i)
	}
	wg.Wait()

	require.ElementsMatch(t, []int{http.StatusCreated, http.StatusConflict}, codes)
}

func TestRenameAndDelete(t *testing.T) {
	ts := newTestServer(t)
	token, _ := ts.login(t, "alice")

	w := ts.upload(t, token, "draft.md", []byte("# hi"), 0)
	require.Equal(t, http.StatusCreated, w.Code)
	fileID := uint64(decode(t, w)["file_id"].(float64))

	w = ts.do(t, http.MethodPost, fmt.Sprintf("/api/files/%d/rename", fileID), token, gin.H{"new_name": "final"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Equal(t, "final.md", decode(t, w)["filename"])

	w = ts.do(t, http.MethodPatch, fmt.Sprintf("/api/files/%d", fileID), token, gin.H{"is_favorite": true})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = ts.do(t, http.MethodDelete, fmt.Sprintf("/api/delete/%d", fileID), token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = ts.do(t, http.MethodGet, fmt.Sprintf("/api/download/%d", fileID), token, nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(t, http.MethodGet, "/api/activities?limit=10", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotEmpty(t, decode(t, w)["activities"])
}

func TestThumbnailOfText(t *testing.T) {
	ts := newTestServer(t)
	token, _ := ts.login(t, "alice")

	w := ts.upload(t, token, "notes.txt", []byte("plain"), 0)
	require.Equal(t, http.StatusCreated, w.Code)
	fileID := uint64(decode(t, w)["file_id"].(float64))

	w = ts.do(t, http.MethodGet, fmt.Sprintf("/api/thumbnail/%d?jwt=%s", fileID, url.QueryEscape(token)), "", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdminDeleteUser(t *testing.T) {
	ts := newTestServer(t)
	alice, _ := ts.login(t, "alice")
	_, bobID := ts.login(t, "bob")

	w := ts.do(t, http.MethodDelete, fmt.Sprintf("/api/admin/users/%d", bobID), alice, nil)
	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestLoginAttemptsThrottled(t *testing.T) {
	ts := newTestServer(t)
	ts.login(t, "alice")

	attempts, err := throttle.New(throttle.Config{
		TotalNPerSec: 100, TotalBurst: 100,
		EachKeyNPerSec: 0.001, EachKeyBurst: 2,
	})
	require.NoError(t, err)
	authenticator, err := auth.New(ts.signer)
	require.NoError(t, err)
	srv, err := NewServer(ts.svc, authenticator, Options{Attempts: attempts})
	require.NoError(t, err)
	ts.router = srv.Router()

	for i := 0; i < 2; i++ {
		w := ts.do(t, http.MethodPost, "/api/login", "", gin.H{"username": "alice", "password": "bad-pass"})
		require.Equal(t, http.StatusUnauthorized, w.Code)
	}
	w := ts.do(t, http.MethodPost, "/api/login", "", gin.H{"username": "alice", "password": "secret123"})
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.Equal(t, "RATE_LIMITED", decode(t, w)["code"])
}

func TestSystemInfo(t *testing.T) {
	ts := newTestServer(t)
	token, _ := ts.login(t, "alice")

	w := ts.do(t, http.MethodGet, "/api/system-info", "", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = ts.do(t, http.MethodGet, "/api/system-info", token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	require.Contains(t, body, "memory")
	require.Contains(t, body, "disk")
	require.NotZero(t, body["num_cpu"])
}
