package kg

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	// 写操作与管理命令
	cypherWriteRe = regexp.MustCompile(`(?i)\b(CREATE|MERGE|DELETE|DETACH|SET|REMOVE|DROP|FOREACH|LOAD\s+CSV|GRANT|DENY|REVOKE|IN\s+TRANSACTIONS)\b`)
	// 只允许读类过程
	cypherCallRe  = regexp.MustCompile(`(?i)\bCALL\s+([A-Za-z_][\w.]*)`)
	cypherStartRe = regexp.MustCompile(`(?i)^(MATCH|OPTIONAL\s+MATCH|WITH|UNWIND|RETURN|CALL)\b`)
)

var readOnlyProcedures = []string{"db.labels", "db.relationshiptypes", "db.propertykeys", "db.schema.", "db.index.fulltext.querynodes", "db.index.vector.querynodes"}

// StripLiterals 去掉注释与字符串字面量内容，用于关键字检查
func StripLiterals(s string) string {
	out, _ := scanCypher(s)
	return out
}

// scanCypher 单遍扫描：引号外的 // 与 /* */ 才是注释，注释换成空格；
// 字面量只保留一对引号。字符串里 \ 转义下一个字符，反引号标识符以双写反引号转义。
func scanCypher(s string) (string, error) {
	var b strings.Builder
	runes := []rune(s)
	n := len(runes)
	for i := 0; i < n; i++ {
		r := runes[i]
		switch {
		case r == '\'' || r == '"' || r == '`':
			end := closingQuote(runes, i)
			b.WriteRune(r)
			if end >= n {
				return b.String(), fmt.Errorf("unterminated %q literal", r)
			}
			b.WriteRune(r)
			i = end
		case r == '/' && i+1 < n && runes[i+1] == '/':
			for i < n && runes[i] != '\n' {
				i++
			}
			b.WriteRune(' ')
			if i < n {
				b.WriteRune('\n')
			}
		case r == '/' && i+1 < n && runes[i+1] == '*':
			end := -1
			for j := i + 2; j+1 < n; j++ {
				if runes[j] == '*' && runes[j+1] == '/' {
					end = j + 1
					break
				}
			}
			b.WriteRune(' ')
			if end < 0 {
				return b.String(), fmt.Errorf("unterminated block comment")
			}
			i = end
		default:
			b.WriteRune(r)
		}
	}
	return b.String(), nil
}

func closingQuote(runes []rune, start int) int {
	quote := runes[start]
	for i := start + 1; i < len(runes); i++ {
		switch {
		case quote != '`' && runes[i] == '\\':
			i++
		case runes[i] == quote:
			if quote == '`' && i+1 < len(runes) && runes[i+1] == '`' {
				i++
				continue
			}
			return i
		}
	}
	return len(runes)
}

// CheckBalanced 校验引号闭合与括号配对，注释里的符号不计
func CheckBalanced(s string) error {
	bare, err := scanCypher(s)
	if err != nil {
		return err
	}
	var stack []rune
	pairs := map[rune]rune{')': '(', ']': '[', '}': '{'}
	for _, r := range bare {
		switch r {
		case '(', '[', '{':
			stack = append(stack, r)
		case ')', ']', '}':
			if len(stack) == 0 || stack[len(stack)-1] != pairs[r] {
				return fmt.Errorf("unbalanced %q", r)
			}
			stack = stack[:len(stack)-1]
		}
	}
	if len(stack) > 0 {
		return fmt.Errorf("unclosed %q", stack[len(stack)-1])
	}
	return nil
}

// ValidateReadOnly 校验生成的 Cypher：只读白名单、单条语句、引号括号平衡
func ValidateReadOnly(statement string) []string {
	var errs []string
	stmt := strings.TrimSpace(statement)
	stmt = strings.TrimSuffix(stmt, ";")
	if stmt == "" {
		return []string{"empty statement"}
	}
	if err := CheckBalanced(stmt); err != nil {
		errs = append(errs, err.Error())
	}

	bare := strings.TrimSpace(StripLiterals(stmt))
	if !cypherStartRe.MatchString(bare) {
		errs = append(errs, "statement must start with MATCH, OPTIONAL MATCH, WITH, UNWIND, RETURN or CALL")
	}
	if strings.Contains(bare, ";") {
		errs = append(errs, "multiple statements are not allowed")
	}
	if m := cypherWriteRe.FindString(bare); m != "" {
		errs = append(errs, fmt.Sprintf("write clause %q is not allowed", strings.ToUpper(m)))
	}
	for _, m := range cypherCallRe.FindAllStringSubmatch(bare, -1) {
		if !allowedProcedure(m[1]) {
			errs = append(errs, fmt.Sprintf("procedure %q is not allowed", m[1]))
		}
	}
	if !regexp.MustCompile(`(?i)\bRETURN\b`).MatchString(bare) {
		errs = append(errs, "statement has no RETURN clause")
	}
	return errs
}

func allowedProcedure(name string) bool {
	n := strings.ToLower(name)
	for _, p := range readOnlyProcedures {
		if n == p || (strings.HasSuffix(p, ".") && strings.HasPrefix(n, p)) {
			return true
		}
	}
	return false
}
