package types

// KGTask 分派给单个 KG 工具的任务单元。
type KGTask struct {
	Task            string         `json:"task"`
	QueryName       string         `json:"query_name,omitempty"`
	QueryParameters map[string]any `json:"query_parameters,omitempty"`
	Steps           []string       `json:"steps,omitempty"`
}

// Statement text-to-Cypher / text-to-SQL 状态机中的运行状态。
type Statement struct {
	Statement  string           `json:"statement"`
	Parameters map[string]any   `json:"parameters,omitempty"`
	Errors     []string         `json:"errors,omitempty"`
	Records    []map[string]any `json:"records,omitempty"`
	Attempts   int              `json:"attempts"`
}
