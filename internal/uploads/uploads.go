// Package uploads 把客户端给出的附件引用（file_id、上传接口返回的路径）解析为上传目录内的真实文件。
// 目录外的路径、经符号链接逃出目录的路径一律拒绝。
package uploads

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/jhlu2019/GustoBot-sub000/types"
)

// IsRemote 判断引用是否为远程地址或 data URI，这类引用不落本地磁盘
func IsRemote(ref string) bool {
	return strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") || strings.HasPrefix(ref, "data:")
}

// Resolve 返回 ref 在 root 内对应文件的真实路径。
// ref 可以是 file_id（按 "<id>.<ext>" 查找）、相对当前目录的路径或绝对路径。
func Resolve(root, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", types.NewInvalidRequestError("attachment reference is empty")
	}
	if root == "" {
		return "", types.NewInvalidRequestError("local attachments are disabled")
	}
	realRoot, err := realPath(root)
	if err != nil {
		return "", types.NewInternalError("upload dir unavailable").WithCause(err)
	}

	candidate := ref
	if id, err := uuid.Parse(ref); err == nil {
		if candidate, err = findByID(realRoot, id.String()); err != nil {
			return "", err
		}
	}
	resolved, err := realPath(candidate)
	if err != nil {
		return "", types.NewInvalidRequestError(fmt.Sprintf("attachment %q not found", ref))
	}
	rel, err := filepath.Rel(realRoot, resolved)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return "", types.NewInvalidRequestError(fmt.Sprintf("attachment %q is outside the upload directory", ref))
	}
	info, err := os.Stat(resolved)
	if err != nil || !info.Mode().IsRegular() {
		return "", types.NewInvalidRequestError(fmt.Sprintf("attachment %q is not a regular file", ref))
	}
	return resolved, nil
}

func realPath(p string) (string, error) {
	abs, err := filepath.Abs(filepath.Clean(p))
	if err != nil {
		return "", err
	}
	return filepath.EvalSymlinks(abs)
}

// findByID 上传时文件名固定为 "<file_id><ext>"
func findByID(root, id string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(root, id+".*"))
	if err != nil || len(matches) == 0 {
		return "", types.NewInvalidRequestError(fmt.Sprintf("file_id %q not found", id))
	}
	return matches[0], nil
}
