package session

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Session 一次对话会话。删除只置 is_active=false。
type Session struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	UserID    *string   `gorm:"size:64" json:"user_id,omitempty"`
	Title     string    `gorm:"size:255;not null" json:"title"`
	IsActive  bool      `gorm:"not null" json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Session) TableName() string { return "sessions" }

// Message 会话内的一条消息，(session_id, order_index) 唯一且递增
type Message struct {
	ID         string    `gorm:"primaryKey;size:36" json:"id"`
	SessionID  string    `gorm:"size:36;not null" json:"session_id"`
	OrderIndex int       `gorm:"not null" json:"order_index"`
	Role       string    `gorm:"size:16;not null" json:"role"`
	Content    string    `gorm:"not null" json:"content"`
	Metadata   JSONMap   `json:"metadata"`
	CreatedAt  time.Time `json:"created_at"`
}

func (Message) TableName() string { return "messages" }

// HistorySnapshot 每个已回答轮次的完整响应快照
type HistorySnapshot struct {
	ID           string    `gorm:"primaryKey;size:36" json:"id"`
	SessionID    string    `gorm:"size:36;not null" json:"session_id"`
	Query        string    `gorm:"not null" json:"query"`
	ResponseData JSONMap   `json:"response_data"`
	CreatedAt    time.Time `json:"created_at"`
}

func (HistorySnapshot) TableName() string { return "history_snapshots" }

// JSONMap 以 JSON 文本存取的对象列，兼容 jsonb / JSON / TEXT
type JSONMap map[string]any

// Value implements driver.Valuer.
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(map[string]any(m))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (m *JSONMap) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*m = JSONMap{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("JSONMap: unsupported source type %T", src)
	}
	if len(raw) == 0 {
		*m = JSONMap{}
		return nil
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return err
	}
	*m = out
	return nil
}
