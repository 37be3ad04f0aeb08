package text2sql

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	sqlStartRe     = regexp.MustCompile(`(?i)^\s*(SELECT|WITH)\b`)
	sqlBlacklistRe = regexp.MustCompile(`(?i)\b(INSERT|UPDATE|DELETE|DROP|TRUNCATE|ALTER|CREATE|MERGE|GRANT|REVOKE|CALL|EXEC|EXECUTE|ATTACH|DETACH|PRAGMA|VACUUM|COPY|LOAD|HANDLER|LOCK|UNLOCK|RENAME|SET)\b`)
	sqlDMLRe       = regexp.MustCompile(`(?i)\b(UPDATE|DELETE)\b`)
	sqlWhereRe     = regexp.MustCompile(`(?i)\bWHERE\b`)
	sqlIntoRe      = regexp.MustCompile(`(?i)\bINTO\s+(OUTFILE|DUMPFILE)\b|\bSELECT\b[^;]*\bINTO\b|\bREPLACE\s+INTO\b`)
)

// Validation 校验结果
type Validation struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

// maskLiterals 单遍扫描：注释替换为空格，字符串字面量内容清空但保留引号。
// 注释标记只在引号外识别。各方言解析不一致的写法直接报错：
// 引号外的 '#'、'$'，紧跟非空白的 '--'，'/*!' 可执行注释，嵌套 '/*'，[...] 内的引号或注释，
// 以及字面量内的 \' 。
func maskLiterals(sql string) (string, error) {
	var b strings.Builder
	runes := []rune(sql)
	n := len(runes)
	for i := 0; i < n; i++ {
		r := runes[i]
		switch {
		case r == '\'' || r == '"' || r == '`':
			end, err := skipQuoted(runes, i)
			if err != nil {
				return b.String(), err
			}
			b.WriteRune(r)
			b.WriteRune(r)
			i = end
		case r == '-' && i+1 < n && runes[i+1] == '-':
			// MySQL 只把 "-- " 当注释，"--1" 是两次取负
			if i+2 < n && !strings.ContainsRune(" \t\r\n\f\v", runes[i+2]) {
				return b.String(), fmt.Errorf("ambiguous '--' at offset %d", i)
			}
			for i < n && runes[i] != '\n' {
				i++
			}
			b.WriteRune(' ')
			if i < n {
				b.WriteRune('\n')
			}
		case r == '/' && i+1 < n && runes[i+1] == '*':
			end, err := skipBlockComment(runes, i)
			if err != nil {
				return b.String(), err
			}
			b.WriteRune(' ')
			i = end
		case r == '[':
			// SQLite 把 [..] 当标识符，PG 当下标；两边都看不到引号和注释才放行
			if end := indexRune(runes, i, ']'); end > 0 && strings.ContainsAny(string(runes[i:end]), bracketUnsafe) {
				return b.String(), fmt.Errorf("quote or comment marker inside [...] is not allowed")
			}
			b.WriteRune(r)
		case r == '#':
			return b.String(), fmt.Errorf("'#' outside a literal is not allowed")
		case r == '$':
			return b.String(), fmt.Errorf("'$' outside a literal is not allowed")
		default:
			b.WriteRune(r)
		}
	}
	return b.String(), nil
}

const bracketUnsafe = "'\"`;-/#$"

func indexRune(runes []rune, from int, r rune) int {
	for i := from; i < len(runes); i++ {
		if runes[i] == r {
			return i
		}
	}
	return -1
}

// skipQuoted 返回与 runes[start] 配对的结束引号下标
func skipQuoted(runes []rune, start int) (int, error) {
	quote := runes[start]
	for i := start + 1; i < len(runes); i++ {
		switch runes[i] {
		case '\\':
			if quote == '`' {
				continue
			}
			if i+1 < len(runes) && runes[i+1] == quote {
				return i, fmt.Errorf("backslash-escaped %c inside a literal is not allowed", quote)
			}
			i++
		case quote:
			// 双写引号转义
			if i+1 < len(runes) && runes[i+1] == quote {
				i++
				continue
			}
			return i, nil
		}
	}
	return len(runes), fmt.Errorf("unterminated %c literal", quote)
}

// skipBlockComment 返回注释结尾 '/' 的下标
func skipBlockComment(runes []rune, start int) (int, error) {
	if start+2 < len(runes) && runes[start+2] == '!' {
		return start, fmt.Errorf("executable comment '/*!' is not allowed")
	}
	for i := start + 2; i+1 < len(runes); i++ {
		if runes[i] == '/' && runes[i+1] == '*' {
			return i, fmt.Errorf("nested block comment is not allowed")
		}
		if runes[i] == '*' && runes[i+1] == '/' {
			return i + 1, nil
		}
	}
	return len(runes), fmt.Errorf("unterminated block comment")
}

func checkParens(s string) error {
	depth := 0
	for _, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
			if depth < 0 {
				return fmt.Errorf("unbalanced ')'")
			}
		}
	}
	if depth != 0 {
		return fmt.Errorf("unclosed '('")
	}
	return nil
}

// Validate 只读校验：
//  1. 必须以 SELECT 或 WITH 开头
//  2. 结尾分号之前不得出现第二条语句
//  3. 引号与括号平衡
//  4. 不得出现破坏性动词
//  5. 任何形式出现 UPDATE/DELETE 时要求 WHERE
func Validate(sql string) Validation {
	var errs []string
	stmt := strings.TrimSpace(sql)
	if stmt == "" {
		return Validation{Errors: []string{"empty statement"}}
	}

	masked, err := maskLiterals(stmt)
	if err != nil {
		errs = append(errs, err.Error())
	}
	masked = strings.TrimSpace(masked)
	masked = strings.TrimRight(masked, "; \t\n")

	if !sqlStartRe.MatchString(masked) {
		errs = append(errs, "statement must start with SELECT or WITH")
	}
	if strings.Contains(masked, ";") {
		errs = append(errs, "multiple statements are not allowed")
	}
	if err := checkParens(masked); err != nil {
		errs = append(errs, err.Error())
	}
	if found := sqlBlacklistRe.FindAllString(masked, -1); len(found) > 0 {
		seen := map[string]bool{}
		for _, f := range found {
			f = strings.ToUpper(f)
			if !seen[f] {
				seen[f] = true
				errs = append(errs, fmt.Sprintf("forbidden keyword %s", f))
			}
		}
	}
	if sqlIntoRe.MatchString(masked) {
		errs = append(errs, "SELECT ... INTO is not allowed")
	}
	if sqlDMLRe.MatchString(masked) && !sqlWhereRe.MatchString(masked) {
		errs = append(errs, "UPDATE/DELETE without WHERE")
	}

	return Validation{Valid: len(errs) == 0, Errors: errs}
}

var fenceRe = regexp.MustCompile("(?s)```(?:sql|SQL)?\\s*(.*?)```")

// ExtractSQL 从模型输出中取出 SQL：优先代码块，其次从首个 SELECT/WITH 开始
func ExtractSQL(out string) string {
	out = strings.TrimSpace(out)
	if m := fenceRe.FindStringSubmatch(out); m != nil {
		out = strings.TrimSpace(m[1])
	}
	if loc := regexp.MustCompile(`(?i)\b(SELECT|WITH)\b`).FindStringIndex(out); loc != nil && loc[0] > 0 {
		prefix := strings.TrimSpace(out[:loc[0]])
		// "SQL:" 之类的前缀
		if !strings.ContainsAny(prefix, "();") {
			out = out[loc[0]:]
		}
	}
	return strings.TrimSpace(strings.TrimRight(strings.TrimSpace(out), ";"))
}
