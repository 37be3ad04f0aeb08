package handlers

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jhlu2019/GustoBot-sub000/api"
	"github.com/jhlu2019/GustoBot-sub000/config"
	"github.com/jhlu2019/GustoBot-sub000/types"
)

func multipartRequest(t *testing.T, path, field, filename string, content []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	r := httptest.NewRequest(http.MethodPost, path, &buf)
	r.Header.Set("Content-Type", mw.FormDataContentType())
	return r
}

func newUploadHandler(t *testing.T, maxSize int64) (*UploadHandler, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "uploads")
	h, err := NewUploadHandler(UploadConfig{Dir: dir, MaxSize: maxSize, PublicBaseURL: "http://localhost:8000/uploads"}, zap.NewNop())
	require.NoError(t, err)
	return h, dir
}

func TestUploadHandler_HandleFile(t *testing.T) {
	h, dir := newUploadHandler(t, 1024)
	content := []byte("菜名,口味\n宫保鸡丁,香辣\n")

	w := httptest.NewRecorder()
	h.HandleFile(w, multipartRequest(t, "/upload/file", "file", "../../recipes.CSV", content))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp api.UploadResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.NotEmpty(t, resp.FileID)
	assert.Equal(t, "recipes.CSV", resp.Filename)
	assert.EqualValues(t, len(content), resp.Size)
	assert.Equal(t, "http://localhost:8000/uploads/"+resp.FileID+".csv", resp.FileURL)
	assert.Equal(t, filepath.Join(dir, resp.FileID+".csv"), resp.Path)

	saved, err := os.ReadFile(resp.Path)
	require.NoError(t, err)
	assert.Equal(t, content, saved)
}

func TestUploadHandler_HandleImage(t *testing.T) {
	h, _ := newUploadHandler(t, 1024)

	w := httptest.NewRecorder()
	h.HandleImage(w, multipartRequest(t, "/upload/image", "file", "dish.png", []byte{0x89, 'P', 'N', 'G'}))
	require.Equal(t, http.StatusOK, w.Code)

	// 图片接口不接受文档
	w = httptest.NewRecorder()
	h.HandleImage(w, multipartRequest(t, "/upload/image", "file", "notes.txt", []byte("x")))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decodeErr(t, w).Message, ".txt")
}

func TestUploadHandler_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		req    func(t *testing.T) *http.Request
		status int
		code   types.ErrorCode
	}{
		{
			name: "extension not allowed",
			req: func(t *testing.T) *http.Request {
				return multipartRequest(t, "/upload/file", "file", "run.exe", []byte("MZ"))
			},
			status: http.StatusBadRequest,
			code:   types.ErrInvalidRequest,
		},
		{
			name: "no extension",
			req: func(t *testing.T) *http.Request {
				return multipartRequest(t, "/upload/file", "file", "README", []byte("x"))
			},
			status: http.StatusBadRequest,
			code:   types.ErrInvalidRequest,
		},
		{
			name: "wrong field",
			req: func(t *testing.T) *http.Request {
				return multipartRequest(t, "/upload/file", "upload", "a.txt", []byte("x"))
			},
			status: http.StatusBadRequest,
			code:   types.ErrInvalidRequest,
		},
		{
			name: "too large",
			req: func(t *testing.T) *http.Request {
				return multipartRequest(t, "/upload/file", "file", "big.txt", []byte(strings.Repeat("a", 2048)))
			},
			status: http.StatusRequestEntityTooLarge,
			code:   types.ErrPayloadTooLarge,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, dir := newUploadHandler(t, 1024)
			w := httptest.NewRecorder()
			h.HandleFile(w, tt.req(t))
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, string(tt.code), decodeErr(t, w).Code)

			entries, err := os.ReadDir(dir)
			require.NoError(t, err)
			assert.Empty(t, entries)
		})
	}
}

func TestUploadHandler_DefaultExtensionsMatchConfig(t *testing.T) {
	h, _ := newUploadHandler(t, 1024)
	assert.ElementsMatch(t, config.DefaultUploadConfig().FileExtensions, h.cfg.FileExtensions)
	assert.ElementsMatch(t, config.DefaultUploadConfig().ImageExtensions, h.cfg.ImageExtensions)

	w := httptest.NewRecorder()
	h.HandleFile(w, multipartRequest(t, "/upload/file", "file", "app.log", []byte("x")))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	h.HandleFile(w, multipartRequest(t, "/upload/file", "file", "dump.sql", []byte("DROP TABLE recipes")))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
