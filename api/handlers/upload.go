package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/jhlu2019/GustoBot-sub000/api"
	"github.com/jhlu2019/GustoBot-sub000/types"
	"go.uber.org/zap"
)

// UploadConfig 上传目录与白名单
type UploadConfig struct {
	Dir             string
	MaxSize         int64
	FileExtensions  []string
	ImageExtensions []string
	// 返回给客户端的 file_url 前缀
	PublicBaseURL string
}

// UploadHandler 文件与图片上传
type UploadHandler struct {
	cfg    UploadConfig
	logger *zap.Logger
}

// NewUploadHandler 创建上传处理器，上传目录不存在时创建
func NewUploadHandler(cfg UploadConfig, logger *zap.Logger) (*UploadHandler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Dir == "" {
		cfg.Dir = defaultUploadDir
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 10 << 20
	}
	if len(cfg.FileExtensions) == 0 {
		cfg.FileExtensions = defaultFileExtensions
	}
	if len(cfg.ImageExtensions) == 0 {
		cfg.ImageExtensions = []string{".jpg", ".jpeg", ".png", ".gif", ".webp", ".bmp"}
	}
	if cfg.PublicBaseURL == "" {
		cfg.PublicBaseURL = "/uploads/"
	}
	if !strings.HasSuffix(cfg.PublicBaseURL, "/") {
		cfg.PublicBaseURL += "/"
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &UploadHandler{cfg: cfg, logger: logger.With(zap.String("component", "upload"))}, nil
}

// HandleFile POST /upload/file
func (h *UploadHandler) HandleFile(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, h.cfg.FileExtensions)
}

// HandleImage POST /upload/image
func (h *UploadHandler) HandleImage(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, h.cfg.ImageExtensions)
}

func (h *UploadHandler) handle(w http.ResponseWriter, r *http.Request, allowed []string) {
	// multipart 头部额外留 1MB
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxSize+1<<20)
	file, header, err := r.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			WriteError(w, errFileTooLarge, h.logger)
			return
		}
		WriteError(w, types.NewInvalidRequestError("multipart field \"file\" is required"), h.logger)
		return
	}
	defer file.Close()

	name := filepath.Base(header.Filename)
	ext := strings.ToLower(filepath.Ext(name))
	if !allowedExt(ext, allowed) {
		WriteError(w, types.NewInvalidRequestError(fmt.Sprintf("unsupported file type %q, allowed: %s", ext, strings.Join(allowed, ", "))), h.logger)
		return
	}
	if header.Size > h.cfg.MaxSize {
		WriteError(w, errFileTooLarge, h.logger)
		return
	}

	fileID := uuid.NewString()
	stored := fileID + ext
	path := filepath.Join(h.cfg.Dir, stored)
	size, err := h.save(path, file)
	if err != nil {
		_ = os.Remove(path)
		if errors.Is(err, errTooLarge) {
			WriteError(w, errFileTooLarge, h.logger)
			return
		}
		WriteError(w, types.NewInternalError("failed to save upload").WithCause(err), h.logger)
		return
	}

	h.logger.Info("upload saved",
		zap.String("file_id", fileID),
		zap.String("filename", name),
		zap.Int64("size", size),
	)
	WriteJSON(w, http.StatusOK, api.UploadResponse{
		FileID:   fileID,
		Filename: name,
		Size:     size,
		FileURL:  h.cfg.PublicBaseURL + stored,
		Path:     path,
	})
}

const defaultUploadDir = "uploads"

var defaultFileExtensions = []string{".txt", ".md", ".json", ".csv", ".log", ".xlsx", ".xls", ".pdf", ".doc", ".docx"}

var errTooLarge = errors.New("upload exceeds size limit")

// errFileTooLarge 只读共享
var errFileTooLarge = types.NewError(types.ErrPayloadTooLarge, "file too large")

func (h *UploadHandler) save(path string, src io.Reader) (int64, error) {
	dst, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(dst, io.LimitReader(src, h.cfg.MaxSize+1))
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, err
	}
	if n > h.cfg.MaxSize {
		return n, errTooLarge
	}
	return n, nil
}

func allowedExt(ext string, allowed []string) bool {
	if ext == "" {
		return false
	}
	for _, a := range allowed {
		if strings.EqualFold(ext, a) {
			return true
		}
	}
	return false
}
