package types

import "strings"

// ColumnInfo describes one column of a relational table.
type ColumnInfo struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Description string   `json:"description,omitempty"`
	Flags       []string `json:"flags,omitempty"` // e.g. "pk", "fk", "nullable"
}

// TableInfo describes a relational table.
type TableInfo struct {
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Columns     []ColumnInfo `json:"columns"`
}

// Relationship is a foreign-key style link between two tables.
type Relationship struct {
	SrcTable string `json:"src_table"`
	SrcCol   string `json:"src_col"`
	TgtTable string `json:"tgt_table"`
	TgtCol   string `json:"tgt_col"`
	Kind     string `json:"kind"`
}

// SchemaContext 由 schema 检索步骤产出，供 SQL 生成与校验使用。
type SchemaContext struct {
	Tables        []TableInfo    `json:"tables"`
	Relationships []Relationship `json:"relationships,omitempty"`
}

// Table returns the table with the given name (case-insensitive).
func (s SchemaContext) Table(name string) (TableInfo, bool) {
	for _, t := range s.Tables {
		if strings.EqualFold(t.Name, name) {
			return t, true
		}
	}
	return TableInfo{}, false
}

// TableNames returns table names in order.
func (s SchemaContext) TableNames() []string {
	out := make([]string, 0, len(s.Tables))
	for _, t := range s.Tables {
		out = append(out, t.Name)
	}
	return out
}

// Render formats the schema as compact text for prompts.
func (s SchemaContext) Render() string {
	var b strings.Builder
	for _, t := range s.Tables {
		b.WriteString("TABLE ")
		b.WriteString(t.Name)
		if t.Description != "" {
			b.WriteString(" -- ")
			b.WriteString(t.Description)
		}
		b.WriteString("\n")
		for _, c := range t.Columns {
			b.WriteString("  ")
			b.WriteString(c.Name)
			b.WriteString(" ")
			b.WriteString(c.Type)
			if len(c.Flags) > 0 {
				b.WriteString(" [")
				b.WriteString(strings.Join(c.Flags, ","))
				b.WriteString("]")
			}
			if c.Description != "" {
				b.WriteString(" -- ")
				b.WriteString(c.Description)
			}
			b.WriteString("\n")
		}
	}
	if len(s.Relationships) > 0 {
		b.WriteString("RELATIONSHIPS\n")
		for _, r := range s.Relationships {
			b.WriteString("  ")
			b.WriteString(r.SrcTable + "." + r.SrcCol + " -> " + r.TgtTable + "." + r.TgtCol)
			if r.Kind != "" {
				b.WriteString(" (" + r.Kind + ")")
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}
