package workflow

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"unicode"
)

// Scope is what template references resolve against. Roots are the
// top-level names "inputs" and "steps".
type Scope interface {
	Lookup(root string) (any, bool)
}

// MapScope adapts a plain map to Scope.
type MapScope map[string]any

func (m MapScope) Lookup(root string) (any, bool) {
	v, ok := m[root]
	return v, ok
}

// Template is a string parsed once into literal text and expressions.
// Supported expressions:
//   - literals: numbers, booleans, none, quoted strings, [lists]
//   - references: inputs.topic, steps.s1.content[0], steps.s1.content[-1]
//   - functions: length(x), first(x), last(x)
//   - filters: x | length, first, last, join(sep), lower, upper, trim,
//     string, default(v)
//   - comparisons: == != > < >= <= in, not in
//   - boolean: and, or, not, !
type Template struct {
	source string
	parts  []templatePart
	single bool
}

type templatePart struct {
	text string
	expr node
}

// ParseTemplate parses a value that may embed {{ expr }} blocks. Strings
// without blocks are literals.
func ParseTemplate(src string) (*Template, error) {
	t := &Template{source: src}
	rest := 0
	for {
		open := strings.Index(src[rest:], "{{")
		if open < 0 {
			if rest < len(src) {
				t.parts = append(t.parts, templatePart{text: src[rest:]})
			}
			break
		}
		open += rest
		if open > rest {
			t.parts = append(t.parts, templatePart{text: src[rest:open]})
		}
		toks, end, err := lex(src, open+2, true)
		if err != nil {
			return nil, err
		}
		expr, err := parseTokens(toks)
		if err != nil {
			return nil, err
		}
		t.parts = append(t.parts, templatePart{expr: expr})
		rest = end
	}
	t.single = singleExpression(t.parts)
	if t.single {
		for _, p := range t.parts {
			if p.expr != nil {
				t.parts = []templatePart{p}
				break
			}
		}
	}
	return t, nil
}

// ParseCondition parses a step condition. Both "{{ expr }}" and a bare
// expression are accepted.
func ParseCondition(src string) (*Template, error) {
	trimmed := strings.TrimSpace(src)
	if strings.Contains(trimmed, "{{") {
		return ParseTemplate(trimmed)
	}
	toks, _, err := lex(trimmed, 0, false)
	if err != nil {
		return nil, err
	}
	expr, err := parseTokens(toks)
	if err != nil {
		return nil, err
	}
	return &Template{source: src, parts: []templatePart{{expr: expr}}, single: true}, nil
}

// singleExpression reports whether the template is one expression with at
// most whitespace around it; such templates resolve to the typed value.
func singleExpression(parts []templatePart) bool {
	exprs := 0
	for _, p := range parts {
		if p.expr != nil {
			exprs++
			continue
		}
		if strings.TrimSpace(p.text) != "" {
			return false
		}
	}
	return exprs == 1
}

func (t *Template) Source() string { return t.source }

// IsLiteral reports whether the template holds no expressions.
func (t *Template) IsLiteral() bool {
	for _, p := range t.parts {
		if p.expr != nil {
			return false
		}
	}
	return true
}

// Resolve evaluates the template. A lone expression yields a deep copy of
// its value with the type intact, so callers may modify what they get
// without reaching into the scope. Mixed text is rendered to a string.
func (t *Template) Resolve(scope Scope) (any, error) {
	if t.IsLiteral() {
		return t.source, nil
	}
	if t.single {
		v, err := t.parts[0].expr.eval(scope)
		if err != nil {
			return nil, err
		}
		return deepCopy(v), nil
	}
	var b strings.Builder
	for _, p := range t.parts {
		if p.expr == nil {
			b.WriteString(p.text)
			continue
		}
		v, err := p.expr.eval(scope)
		if err != nil {
			return nil, err
		}
		b.WriteString(stringify(v))
	}
	return b.String(), nil
}

// Truth resolves the template as a condition. String results count as
// true only when they read "true".
func (t *Template) Truth(scope Scope) (bool, error) {
	v, err := t.Resolve(scope)
	if err != nil {
		return false, err
	}
	if s, ok := v.(string); ok {
		return strings.EqualFold(strings.TrimSpace(s), "true"), nil
	}
	return truthy(v), nil
}

// --- lexer ---

type tokenKind int

const (
	tokIdent tokenKind = iota + 1
	tokInt
	tokFloat
	tokString
	tokOp
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

// lex tokenizes from start. Inside a template block it stops after the
// closing "}}" and returns the offset just past it.
func lex(src string, start int, block bool) ([]token, int, error) {
	var toks []token
	i := start
	for {
		for i < len(src) && unicode.IsSpace(rune(src[i])) {
			i++
		}
		if i >= len(src) {
			if block {
				return nil, 0, fmt.Errorf("unclosed {{ at offset %d", start-2)
			}
			return toks, i, nil
		}
		if block && strings.HasPrefix(src[i:], "}}") {
			return toks, i + 2, nil
		}
		c := src[i]
		switch {
		case c == '_' || isLetter(c):
			j := i + 1
			for j < len(src) && (src[j] == '_' || isLetter(src[j]) || isDigit(src[j])) {
				j++
			}
			toks = append(toks, token{kind: tokIdent, text: src[i:j], pos: i})
			i = j
		case isDigit(c):
			j := i + 1
			for j < len(src) && isDigit(src[j]) {
				j++
			}
			kind := tokInt
			if j+1 < len(src) && src[j] == '.' && isDigit(src[j+1]) {
				j++
				for j < len(src) && isDigit(src[j]) {
					j++
				}
				kind = tokFloat
			}
			toks = append(toks, token{kind: kind, text: src[i:j], pos: i})
			i = j
		case c == '\'' || c == '"':
			text, next, err := lexString(src, i)
			if err != nil {
				return nil, 0, err
			}
			toks = append(toks, token{kind: tokString, text: text, pos: i})
			i = next
		default:
			if i+1 < len(src) {
				two := src[i : i+2]
				if two == "==" || two == "!=" || two == "<=" || two == ">=" {
					toks = append(toks, token{kind: tokOp, text: two, pos: i})
					i += 2
					continue
				}
			}
			if strings.IndexByte("<>!()[],.|-", c) < 0 {
				return nil, 0, fmt.Errorf("unexpected character %q at offset %d", c, i)
			}
			toks = append(toks, token{kind: tokOp, text: string(c), pos: i})
			i++
		}
	}
}

func lexString(src string, start int) (string, int, error) {
	quote := src[start]
	var b strings.Builder
	for i := start + 1; i < len(src); i++ {
		c := src[i]
		if c == quote {
			return b.String(), i + 1, nil
		}
		if c == '\\' && i+1 < len(src) {
			i++
			switch src[i] {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			default:
				b.WriteByte(src[i])
			}
			continue
		}
		b.WriteByte(c)
	}
	return "", 0, fmt.Errorf("unterminated string at offset %d", start)
}

func isLetter(c byte) bool { return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') }
func isDigit(c byte) bool  { return c >= '0' && c <= '9' }

// --- parser ---

var (
	knownFunctions = map[string]int{"length": 1, "first": 1, "last": 1}
	knownFilters   = map[string]bool{
		"length": true, "first": true, "last": true, "join": true, "lower": true,
		"upper": true, "trim": true, "string": true, "default": true,
	}
	keywords = map[string]bool{
		"and": true, "or": true, "not": true, "in": true,
		"true": true, "True": true, "false": true, "False": true,
		"none": true, "None": true, "null": true,
	}
)

type parser struct {
	toks []token
	pos  int
}

func parseTokens(toks []token) (node, error) {
	if len(toks) == 0 {
		return nil, errors.New("empty expression")
	}
	p := &parser{toks: toks}
	n, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.pos < len(p.toks) {
		return nil, fmt.Errorf("unexpected %q at offset %d", p.toks[p.pos].text, p.toks[p.pos].pos)
	}
	return n, nil
}

func (p *parser) peek() (token, bool) {
	if p.pos >= len(p.toks) {
		return token{}, false
	}
	return p.toks[p.pos], true
}

func (p *parser) isOp(text string) bool {
	t, ok := p.peek()
	return ok && t.kind == tokOp && t.text == text
}

func (p *parser) isKeyword(text string) bool {
	t, ok := p.peek()
	return ok && t.kind == tokIdent && t.text == text
}

func (p *parser) expectOp(text string) error {
	if !p.isOp(text) {
		if t, ok := p.peek(); ok {
			return fmt.Errorf("expected %q, got %q at offset %d", text, t.text, t.pos)
		}
		return fmt.Errorf("expected %q, got end of expression", text)
	}
	p.pos++
	return nil
}

func (p *parser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.isKeyword("or") {
		p.pos++
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: "or", left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (node, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.isKeyword("and") {
		p.pos++
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: "and", left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseNot() (node, error) {
	if p.isKeyword("not") || p.isOp("!") {
		p.pos++
		x, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &notNode{x: x}, nil
	}
	return p.parseCompare()
}

func (p *parser) parseCompare() (node, error) {
	left, err := p.parseFilter()
	if err != nil {
		return nil, err
	}
	t, ok := p.peek()
	if !ok {
		return left, nil
	}
	op := ""
	switch {
	case t.kind == tokOp && (t.text == "==" || t.text == "!=" || t.text == "<" || t.text == "<=" || t.text == ">" || t.text == ">="):
		op = t.text
		p.pos++
	case t.kind == tokIdent && t.text == "in":
		op = "in"
		p.pos++
	case t.kind == tokIdent && t.text == "not" && p.pos+1 < len(p.toks) && p.toks[p.pos+1].text == "in":
		op = "not in"
		p.pos += 2
	default:
		return left, nil
	}
	right, err := p.parseFilter()
	if err != nil {
		return nil, err
	}
	return &binaryNode{op: op, left: left, right: right}, nil
}

func (p *parser) parseFilter() (node, error) {
	x, err := p.parsePostfix()
	if err != nil {
		return nil, err
	}
	for p.isOp("|") {
		p.pos++
		t, ok := p.peek()
		if !ok || t.kind != tokIdent {
			return nil, errors.New("expected filter name after |")
		}
		if !knownFilters[t.text] {
			return nil, fmt.Errorf("unknown filter %q", t.text)
		}
		p.pos++
		var args []node
		if p.isOp("(") {
			if args, err = p.parseArgs(); err != nil {
				return nil, err
			}
		}
		x = &filterNode{name: t.text, x: x, args: args}
	}
	return x, nil
}

func (p *parser) parseArgs() ([]node, error) {
	if err := p.expectOp("("); err != nil {
		return nil, err
	}
	var args []node
	for !p.isOp(")") {
		arg, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
		if !p.isOp(",") {
			break
		}
		p.pos++
	}
	if err := p.expectOp(")"); err != nil {
		return nil, err
	}
	return args, nil
}

func (p *parser) parsePostfix() (node, error) {
	x, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	ref, isRef := x.(*refNode)
	for p.isOp(".") || p.isOp("[") {
		if !isRef {
			ref = &refNode{base: x}
			isRef = true
		}
		if p.isOp(".") {
			p.pos++
			t, ok := p.peek()
			if !ok || (t.kind != tokIdent && t.kind != tokInt) {
				return nil, errors.New("expected attribute name after .")
			}
			p.pos++
			if t.kind == tokInt {
				n, _ := strconv.Atoi(t.text)
				ref.segs = append(ref.segs, refSeg{index: &literalNode{value: n}})
				continue
			}
			ref.segs = append(ref.segs, refSeg{field: t.text})
			continue
		}
		p.pos++
		idx, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if err := p.expectOp("]"); err != nil {
			return nil, err
		}
		ref.segs = append(ref.segs, refSeg{index: idx})
	}
	if isRef {
		return ref, nil
	}
	return x, nil
}

func (p *parser) parsePrimary() (node, error) {
	t, ok := p.peek()
	if !ok {
		return nil, errors.New("unexpected end of expression")
	}
	p.pos++
	switch t.kind {
	case tokInt:
		n, err := strconv.Atoi(t.text)
		if err != nil {
			return nil, fmt.Errorf("invalid integer %q", t.text)
		}
		return &literalNode{value: n}, nil
	case tokFloat:
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", t.text)
		}
		return &literalNode{value: f}, nil
	case tokString:
		return &literalNode{value: t.text}, nil
	case tokOp:
		switch t.text {
		case "(":
			x, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			return x, p.expectOp(")")
		case "[":
			list := &listNode{}
			for !p.isOp("]") {
				item, err := p.parseOr()
				if err != nil {
					return nil, err
				}
				list.items = append(list.items, item)
				if !p.isOp(",") {
					break
				}
				p.pos++
			}
			return list, p.expectOp("]")
		case "-":
			x, err := p.parsePostfix()
			if err != nil {
				return nil, err
			}
			return &negNode{x: x}, nil
		}
		return nil, fmt.Errorf("unexpected %q at offset %d", t.text, t.pos)
	}
	switch t.text {
	case "true", "True":
		return &literalNode{value: true}, nil
	case "false", "False":
		return &literalNode{value: false}, nil
	case "none", "None", "null":
		return &literalNode{value: nil}, nil
	}
	if keywords[t.text] {
		return nil, fmt.Errorf("unexpected keyword %q at offset %d", t.text, t.pos)
	}
	if p.isOp("(") {
		arity, known := knownFunctions[t.text]
		if !known {
			return nil, fmt.Errorf("unknown function %q", t.text)
		}
		args, err := p.parseArgs()
		if err != nil {
			return nil, err
		}
		if len(args) != arity {
			return nil, fmt.Errorf("%s() takes %d argument(s), got %d", t.text, arity, len(args))
		}
		return &filterNode{name: t.text, x: args[0]}, nil
	}
	return &refNode{root: t.text}, nil
}

// --- evaluation ---

type node interface {
	eval(s Scope) (any, error)
}

type literalNode struct{ value any }

func (n *literalNode) eval(Scope) (any, error) { return n.value, nil }

type listNode struct{ items []node }

func (n *listNode) eval(s Scope) (any, error) {
	out := make([]any, 0, len(n.items))
	for _, item := range n.items {
		v, err := item.eval(s)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

type refSeg struct {
	field string
	index node
}

// refNode walks a reference path from a scope root or from a computed base.
type refNode struct {
	root string
	base node
	segs []refSeg
}

func (n *refNode) eval(s Scope) (any, error) {
	var cur any
	path := n.root
	if n.base != nil {
		v, err := n.base.eval(s)
		if err != nil {
			return nil, err
		}
		cur, path = v, "(expr)"
	} else {
		v, ok := s.Lookup(n.root)
		if !ok {
			return nil, &UnresolvedReferenceError{Path: path}
		}
		cur = v
	}
	for _, seg := range n.segs {
		var ok bool
		if seg.index == nil {
			path += "." + seg.field
			cur, ok = field(cur, seg.field)
		} else {
			idx, err := seg.index.eval(s)
			if err != nil {
				return nil, err
			}
			path += "[" + formatIndex(idx) + "]"
			cur, ok = index(cur, idx)
		}
		if !ok {
			return nil, &UnresolvedReferenceError{Path: path}
		}
	}
	return cur, nil
}

type notNode struct{ x node }

func (n *notNode) eval(s Scope) (any, error) {
	v, err := n.x.eval(s)
	if err != nil {
		return nil, err
	}
	return !truthy(v), nil
}

type negNode struct{ x node }

func (n *negNode) eval(s Scope) (any, error) {
	v, err := n.x.eval(s)
	if err != nil {
		return nil, err
	}
	switch t := v.(type) {
	case int:
		return -t, nil
	case int64:
		return -t, nil
	case float64:
		return -t, nil
	case opaque:
		return t, nil
	}
	return nil, fmt.Errorf("cannot negate %T", v)
}

type binaryNode struct {
	op          string
	left, right node
}

// eval evaluates both operands before combining them, so every reference in
// an expression is checked regardless of the other operand's value.
func (n *binaryNode) eval(s Scope) (any, error) {
	l, err := n.left.eval(s)
	if err != nil {
		return nil, err
	}
	r, err := n.right.eval(s)
	if err != nil {
		return nil, err
	}
	switch n.op {
	case "and":
		return truthy(l) && truthy(r), nil
	case "or":
		return truthy(l) || truthy(r), nil
	case "in":
		return contains(r, l), nil
	case "not in":
		return !contains(r, l), nil
	default:
		return compare(l, r, n.op), nil
	}
}

type filterNode struct {
	name string
	x    node
	args []node
}

func (n *filterNode) eval(s Scope) (any, error) {
	v, err := n.x.eval(s)
	if n.name == "default" {
		var unresolved *UnresolvedReferenceError
		if err != nil && !errors.As(err, &unresolved) {
			return nil, err
		}
		if err != nil || v == nil {
			if len(n.args) == 0 {
				return "", nil
			}
			return n.args[0].eval(s)
		}
		return v, nil
	}
	if err != nil {
		return nil, err
	}
	args := make([]any, 0, len(n.args))
	for _, a := range n.args {
		av, err := a.eval(s)
		if err != nil {
			return nil, err
		}
		args = append(args, av)
	}
	switch n.name {
	case "length":
		return lengthOf(v), nil
	case "first":
		return pick(v, 0), nil
	case "last":
		return pick(v, -1), nil
	case "join":
		sep := ""
		if len(args) > 0 {
			sep = stringify(args[0])
		}
		return join(v, sep), nil
	case "lower":
		return strings.ToLower(stringify(v)), nil
	case "upper":
		return strings.ToUpper(stringify(v)), nil
	case "trim":
		return strings.TrimSpace(stringify(v)), nil
	case "string":
		return stringify(v), nil
	}
	return nil, fmt.Errorf("unknown filter %q", n.name)
}

// --- value helpers ---

func field(cur any, name string) (any, bool) {
	switch c := cur.(type) {
	case map[string]any:
		v, ok := c[name]
		return v, ok
	case opaque:
		return c, true
	}
	return nil, false
}

func index(cur any, idx any) (any, bool) {
	switch c := cur.(type) {
	case map[string]any:
		key, ok := idx.(string)
		if !ok {
			return nil, false
		}
		v, ok := c[key]
		return v, ok
	case opaque:
		return c, true
	case Repeated:
		if _, ok := toInt(idx); ok {
			return c.Item, true
		}
		return nil, false
	case []any:
		i, ok := toInt(idx)
		if !ok {
			return nil, false
		}
		if i < 0 {
			i += len(c)
		}
		if i < 0 || i >= len(c) {
			return nil, false
		}
		return c[i], true
	case []string:
		i, ok := toInt(idx)
		if !ok {
			return nil, false
		}
		if i < 0 {
			i += len(c)
		}
		if i < 0 || i >= len(c) {
			return nil, false
		}
		return c[i], true
	case string:
		i, ok := toInt(idx)
		runes := []rune(c)
		if !ok {
			return nil, false
		}
		if i < 0 {
			i += len(runes)
		}
		if i < 0 || i >= len(runes) {
			return nil, false
		}
		return string(runes[i]), true
	}
	return nil, false
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n == float64(int(n)) {
			return int(n), true
		}
	}
	return 0, false
}

func formatIndex(v any) string {
	if s, ok := v.(string); ok {
		return strconv.Quote(s)
	}
	return stringify(v)
}

func lengthOf(v any) int {
	switch t := v.(type) {
	case []any:
		return len(t)
	case []string:
		return len(t)
	case map[string]any:
		return len(t)
	case string:
		return len([]rune(t))
	case Repeated:
		return 1
	}
	return 0
}

func pick(v any, i int) any {
	switch t := v.(type) {
	case Repeated:
		return t.Item
	case opaque:
		return t
	case []any, []string, string:
		if got, ok := index(t, i); ok {
			return got
		}
	}
	return nil
}

func join(v any, sep string) string {
	switch t := v.(type) {
	case []any:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			parts = append(parts, stringify(item))
		}
		return strings.Join(parts, sep)
	case []string:
		return strings.Join(t, sep)
	}
	return stringify(v)
}

func contains(container, item any) bool {
	switch c := container.(type) {
	case []any:
		for _, v := range c {
			if compare(v, item, "==") {
				return true
			}
		}
	case []string:
		for _, v := range c {
			if compare(v, item, "==") {
				return true
			}
		}
	case map[string]any:
		if key, ok := item.(string); ok {
			_, found := c[key]
			return found
		}
	case string:
		if s, ok := item.(string); ok {
			return strings.Contains(c, s)
		}
	case Repeated:
		return compare(c.Item, item, "==")
	}
	return false
}

func compare(a, b any, op string) bool {
	if af, ok := toFloat(a); ok {
		if bf, ok := toFloat(b); ok {
			return cmpFloat(af, bf, op)
		}
	}
	if as, ok := a.(string); ok {
		if bs, ok := b.(string); ok {
			return cmpString(as, bs, op)
		}
	}
	switch op {
	case "==":
		return reflect.DeepEqual(a, b)
	case "!=":
		return !reflect.DeepEqual(a, b)
	default:
		return false
	}
}

func cmpFloat(a, b float64, op string) bool {
	switch op {
	case "==":
		return a == b
	case "!=":
		return a != b
	case ">":
		return a > b
	case "<":
		return a < b
	case ">=":
		return a >= b
	case "<=":
		return a <= b
	default:
		return false
	}
}

func cmpString(a, b, op string) bool {
	switch op {
	case "==":
		return a == b
	case "!=":
		return a != b
	case ">":
		return a > b
	case "<":
		return a < b
	case ">=":
		return a >= b
	case "<=":
		return a <= b
	default:
		return false
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0
	case int:
		return t != 0
	case int64:
		return t != 0
	case []any:
		return len(t) > 0
	case []string:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		return true
	}
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case Repeated:
		return stringify(t.Item)
	case opaque:
		return ""
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}
