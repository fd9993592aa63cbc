package expr

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// SyntaxError reports a malformed expression.
type SyntaxError struct {
	Pos int
	Msg string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("expr: %s at position %d", e.Msg, e.Pos)
}

// Evaluate parses expression and evaluates it against vars.
// An empty expression evaluates to false.
func Evaluate(expression string, vars map[string]any) (bool, error) {
	expression = strings.TrimSpace(expression)
	if expression == "" {
		return false, nil
	}

	tokens, err := tokenize(expression)
	if err != nil {
		return false, err
	}

	p := &parser{tokens: tokens, vars: vars}
	val, err := p.parseOr()
	if err != nil {
		return false, err
	}
	if tok := p.peek(); tok != nil {
		return false, &SyntaxError{Pos: tok.pos, Msg: fmt.Sprintf("unexpected token %q", tok.value)}
	}
	return truthy(val), nil
}

// EvaluateTemplate substitutes ${key} placeholders and evaluates the result.
func EvaluateTemplate(template string, vars map[string]any) (bool, error) {
	return Evaluate(Substitute(template, vars), vars)
}

type tokenKind int

const (
	tokNumber tokenKind = iota
	tokString
	tokIdent
	tokOp
	tokLParen
	tokRParen
)

type token struct {
	kind  tokenKind
	value string
	pos   int
}

func tokenize(src string) ([]token, error) {
	var tokens []token
	runes := []rune(src)

	for i := 0; i < len(runes); {
		ch := runes[i]

		switch {
		case unicode.IsSpace(ch):
			i++
			continue
		case ch == '(':
			tokens = append(tokens, token{tokLParen, "(", i})
			i++
			continue
		case ch == ')':
			tokens = append(tokens, token{tokRParen, ")", i})
			i++
			continue
		case ch == '"' || ch == '\'':
			s, next, err := readQuoted(runes, i)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, token{tokString, s, i})
			i = next
			continue
		}

		if i+1 < len(runes) {
			switch two := string(runes[i : i+2]); two {
			case "==", "!=", ">=", "<=", "&&", "||":
				tokens = append(tokens, token{tokOp, two, i})
				i += 2
				continue
			}
		}

		switch {
		case ch == '>' || ch == '<' || ch == '!':
			tokens = append(tokens, token{tokOp, string(ch), i})
			i++
		case isDigit(ch) || (ch == '-' && i+1 < len(runes) && isDigit(runes[i+1]) && signAllowed(tokens)):
			num, next := readNumber(runes, i)
			tokens = append(tokens, token{tokNumber, num, i})
			i = next
		case isIdentStart(ch):
			ident, next := readIdent(runes, i)
			tokens = append(tokens, token{tokIdent, ident, i})
			i = next
		default:
			return nil, &SyntaxError{Pos: i, Msg: fmt.Sprintf("unexpected character %q", string(ch))}
		}
	}
	return tokens, nil
}

func readQuoted(runes []rune, start int) (string, int, error) {
	quote := runes[start]
	var sb strings.Builder
	for i := start + 1; i < len(runes); i++ {
		switch runes[i] {
		case '\\':
			if i+1 < len(runes) {
				i++
				sb.WriteRune(runes[i])
			}
		case quote:
			return sb.String(), i + 1, nil
		default:
			sb.WriteRune(runes[i])
		}
	}
	return "", 0, &SyntaxError{Pos: start, Msg: "unterminated string"}
}

func readNumber(runes []rune, start int) (string, int) {
	i := start
	if runes[i] == '-' {
		i++
	}
	for i < len(runes) && isDigit(runes[i]) {
		i++
	}
	if i < len(runes) && runes[i] == '.' {
		i++
		for i < len(runes) && isDigit(runes[i]) {
			i++
		}
	}
	// 指数部分仅在后面跟数字时才吞掉，否则 e 留给标识符
	if i < len(runes) && (runes[i] == 'e' || runes[i] == 'E') {
		j := i + 1
		if j < len(runes) && (runes[j] == '+' || runes[j] == '-') {
			j++
		}
		if j < len(runes) && isDigit(runes[j]) {
			for j < len(runes) && isDigit(runes[j]) {
				j++
			}
			i = j
		}
	}
	return string(runes[start:i]), i
}

func readIdent(runes []rune, start int) (string, int) {
	i := start
	for i < len(runes) && isIdentPart(runes[i]) {
		i++
	}
	return string(runes[start:i]), i
}

func isDigit(ch rune) bool      { return ch >= '0' && ch <= '9' }
func isIdentStart(ch rune) bool { return unicode.IsLetter(ch) || ch == '_' }
func isIdentPart(ch rune) bool {
	return unicode.IsLetter(ch) || unicode.IsDigit(ch) || ch == '_' || ch == '.'
}

// signAllowed reports whether a '-' starts a negative literal: at the start of
// the expression, after an operator or after an opening parenthesis.
func signAllowed(preceding []token) bool {
	if len(preceding) == 0 {
		return true
	}
	last := preceding[len(preceding)-1]
	return last.kind == tokOp || last.kind == tokLParen
}

type parser struct {
	tokens []token
	pos    int
	vars   map[string]any
}

func (p *parser) peek() *token {
	if p.pos < len(p.tokens) {
		return &p.tokens[p.pos]
	}
	return nil
}

func (p *parser) acceptOp(ops ...string) (string, bool) {
	tok := p.peek()
	if tok == nil || tok.kind != tokOp {
		return "", false
	}
	for _, op := range ops {
		if tok.value == op {
			p.pos++
			return op, true
		}
	}
	return "", false
}

func (p *parser) parseOr() (any, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for {
		if _, ok := p.acceptOp("||"); !ok {
			return left, nil
		}
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = truthy(left) || truthy(right)
	}
}

func (p *parser) parseAnd() (any, error) {
	left, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	for {
		if _, ok := p.acceptOp("&&"); !ok {
			return left, nil
		}
		right, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		left = truthy(left) && truthy(right)
	}
}

func (p *parser) parseComparison() (any, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	op, ok := p.acceptOp("==", "!=", ">", "<", ">=", "<=")
	if !ok {
		return left, nil
	}
	right, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	return compare(left, op, right), nil
}

func (p *parser) parseUnary() (any, error) {
	if _, ok := p.acceptOp("!"); ok {
		val, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return !truthy(val), nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (any, error) {
	tok := p.peek()
	if tok == nil {
		end := 0
		if n := len(p.tokens); n > 0 {
			end = p.tokens[n-1].pos + len(p.tokens[n-1].value)
		}
		return nil, &SyntaxError{Pos: end, Msg: "unexpected end of expression"}
	}

	switch tok.kind {
	case tokNumber:
		p.pos++
		f, err := strconv.ParseFloat(tok.value, 64)
		if err != nil {
			return nil, &SyntaxError{Pos: tok.pos, Msg: fmt.Sprintf("invalid number %q", tok.value)}
		}
		return f, nil
	case tokString:
		p.pos++
		return tok.value, nil
	case tokIdent:
		p.pos++
		switch tok.value {
		case "true":
			return true, nil
		case "false":
			return false, nil
		case "nil", "null":
			return nil, nil
		}
		return Lookup(p.vars, tok.value), nil
	case tokLParen:
		p.pos++
		val, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if next := p.peek(); next == nil || next.kind != tokRParen {
			return nil, &SyntaxError{Pos: tok.pos, Msg: "missing closing parenthesis"}
		}
		p.pos++
		return val, nil
	default:
		return nil, &SyntaxError{Pos: tok.pos, Msg: fmt.Sprintf("unexpected token %q", tok.value)}
	}
}

// Lookup resolves a dot path such as "result.score" against vars.
// Missing keys and non-map intermediates resolve to nil.
func Lookup(vars map[string]any, path string) any {
	v, _ := resolve(vars, path)
	return v
}

func resolve(vars map[string]any, path string) (any, bool) {
	var current any = vars
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		if current, ok = m[part]; !ok {
			return nil, false
		}
	}
	return current, true
}

// compare 先尝试数值比较，失败时退回字符串比较；nil 小于任何非 nil 值
func compare(left any, op string, right any) bool {
	if left == nil || right == nil {
		switch {
		case left == nil && right == nil:
			return op == "==" || op == ">=" || op == "<="
		case op == "!=":
			return true
		case op == "==":
			return false
		case left == nil:
			return op == "<" || op == "<="
		default:
			return op == ">" || op == ">="
		}
	}

	if lb, ok := left.(bool); ok {
		if rb, ok := right.(bool); ok {
			switch op {
			case "==":
				return lb == rb
			case "!=":
				return lb != rb
			}
		}
	}

	if lf, ok := toFloat(left); ok {
		if rf, ok := toFloat(right); ok {
			return ordered(lf, op, rf)
		}
	}
	return ordered(fmt.Sprint(left), op, fmt.Sprint(right))
}

func ordered[T float64 | string](l T, op string, r T) bool {
	switch op {
	case "==":
		return l == r
	case "!=":
		return l != r
	case ">":
		return l > r
	case "<":
		return l < r
	case ">=":
		return l >= r
	case "<=":
		return l <= r
	}
	return false
}

func truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != "" && val != "false" && val != "0"
	}
	if f, ok := toFloat(v); ok {
		return f != 0
	}
	return true
}

func toFloat(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int8:
		return float64(val), true
	case int16:
		return float64(val), true
	case int32:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint:
		return float64(val), true
	case uint8:
		return float64(val), true
	case uint16:
		return float64(val), true
	case uint32:
		return float64(val), true
	case uint64:
		return float64(val), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		return f, err == nil
	case interface{ Float64() (float64, error) }:
		f, err := val.Float64()
		return f, err == nil
	}
	return 0, false
}
