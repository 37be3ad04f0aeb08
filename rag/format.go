package rag

import (
	"fmt"
	"strings"

	"github.com/jhlu2019/GustoBot-sub000/types"
)

// Labels 证据块标签
var Labels = map[string]string{
	types.ToolSV:       "SV",
	types.ToolMV:       "MV",
	types.ToolExternal: "EXT",
	types.ToolKG:       "KG",
	types.ToolGraphRAG: "GR",
	types.ToolSQL:      "SQL",
}

// FormatBlocks 生成 "[LABEL#i] <截断内容>\n来源：<source>" 证据块，i 从 1 开始。
// clip 为空时不截断。
func FormatBlocks(label string, docs []types.Document, clip func(string) string) string {
	if len(docs) == 0 {
		return ""
	}
	var b strings.Builder
	for i, d := range docs {
		content := strings.TrimSpace(d.Content)
		if clip != nil {
			content = clip(content)
		}
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[%s#%d] %s", label, i+1, content)
		if src := d.SourceID(); src != "" {
			b.WriteString("\n来源：")
			b.WriteString(src)
		}
	}
	return b.String()
}
