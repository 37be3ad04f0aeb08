package types

import (
	"encoding/json"
	"strings"
)

// RouteType 顶层路由标签，每轮对话只选择一次。
type RouteType string

const (
	RouteChat     RouteType = "chat"
	RouteClarify  RouteType = "clarify"
	RouteKB       RouteType = "kb"
	RouteKG       RouteType = "kg"
	RouteText2SQL RouteType = "text2sql"
	RouteImage    RouteType = "image"
	RouteFile     RouteType = "file"
	RouteReject   RouteType = "reject"
)

var allRoutes = []RouteType{
	RouteChat, RouteClarify, RouteKB, RouteKG, RouteText2SQL, RouteImage, RouteFile, RouteReject,
}

// AllRoutes returns the route set in declaration order.
func AllRoutes() []RouteType {
	out := make([]RouteType, len(allRoutes))
	copy(out, allRoutes)
	return out
}

// Valid reports whether r belongs to the route set.
func (r RouteType) Valid() bool {
	for _, v := range allRoutes {
		if v == r {
			return true
		}
	}
	return false
}

// ParseRoute normalizes s and returns the matching route.
// A few common aliases emitted by models ("general-query", "sql") are accepted.
func ParseRoute(s string) (RouteType, bool) {
	v := strings.ToLower(strings.TrimSpace(s))
	v = strings.Trim(v, "\"'` ")
	switch v {
	case "general-query", "general", "greeting":
		return RouteChat, true
	case "additional-query", "more-info":
		return RouteClarify, true
	case "graphrag-query", "knowledge-graph", "graph":
		return RouteKG, true
	case "sql", "text2sql-query", "text-to-sql":
		return RouteText2SQL, true
	case "image-query":
		return RouteImage, true
	case "file-query":
		return RouteFile, true
	}
	r := RouteType(v)
	return r, r.Valid()
}

// RouterDecision 顶层路由器的结构化输出。
type RouterDecision struct {
	Type     RouteType `json:"type"`
	Logic    string    `json:"logic"`
	Question string    `json:"question"`
}

// UnmarshalJSON accepts alias route names but rejects unknown ones.
func (d *RouterDecision) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type     string `json:"type"`
		Logic    string `json:"logic"`
		Question string `json:"question"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	rt, ok := ParseRoute(raw.Type)
	if !ok {
		return NewError(ErrMalformedOutput, "unknown route type: "+raw.Type)
	}
	d.Type = rt
	d.Logic = raw.Logic
	d.Question = raw.Question
	return nil
}
