package handlers

import (
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/jhlu2019/GustoBot-sub000/types"
)

// maxJSONBody JSON 请求体上限 1 MiB；文件走 /upload
const maxJSONBody = 1 << 20

// DecodeJSON 校验 Content-Type 后严格解码（拒绝未知字段）。
// 返回 false 时错误响应已写出。
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any, logger *zap.Logger) bool {
	if err := decodeJSON(w, r, dst); err != nil {
		WriteError(w, err, logger)
		return false
	}
	return true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) *types.Error {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mt != "application/json" {
		return types.NewInvalidRequestError("Content-Type must be application/json")
	}
	if r.Body == nil || r.Body == http.NoBody {
		return types.NewInvalidRequestError("request body is empty")
	}

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return types.NewError(types.ErrPayloadTooLarge, "request body too large").WithCause(err)
		}
		return types.NewInvalidRequestError("invalid JSON body").WithCause(err)
	}
	return nil
}

// queryInt 非负整数查询参数，缺省或非法时取 def
func queryInt(r *http.Request, key string, def int) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || n < 0 {
		return def
	}
	return n
}
