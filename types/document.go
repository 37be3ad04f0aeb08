package types

import "strings"

// Retrieval tool names stamped on Document.Tool.
const (
	ToolSV       = "sv"
	ToolMV       = "mv"
	ToolExternal = "external"
	ToolKG       = "kg"
	ToolGraphRAG = "graphrag"
	ToolSQL      = "sql"
)

// Document 检索适配器产出的文档，产出后不可修改。
type Document struct {
	ID          string         `json:"id"`
	Content     string         `json:"content"`
	Score       float64        `json:"score"`
	RerankScore *float64       `json:"rerank_score,omitempty"`
	Source      string         `json:"source,omitempty"`
	SourceTable string         `json:"source_table,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Tool        string         `json:"tool"`
}

// WithRerankScore returns a copy carrying the given rerank score.
func (d Document) WithRerankScore(score float64) Document {
	d.RerankScore = &score
	return d
}

// WithTool returns a copy stamped with the producing tool.
func (d Document) WithTool(tool string) Document {
	d.Tool = tool
	return d
}

// SourceID is the identifier used for attribution: Source when set, otherwise
// "<source_table>:<id>" or the bare id.
func (d Document) SourceID() string {
	if s := strings.TrimSpace(d.Source); s != "" {
		return s
	}
	if d.SourceTable != "" && d.ID != "" {
		return d.SourceTable + ":" + d.ID
	}
	return d.ID
}

// DedupSources returns the source identifiers of docs in first-seen order, without duplicates.
func DedupSources(groups ...[]Document) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0)
	for _, g := range groups {
		for _, d := range g {
			id := d.SourceID()
			if id == "" {
				continue
			}
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}
