package database

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Statement shapes understood by Parse. Anything else is rejected with
// ErrUnsupportedStatement rather than guessed at.
var (
	selectRe = regexp.MustCompile(`(?is)^SELECT\s+(.+?)\s+FROM\s+(\w+)(?:\s+WHERE\s+(.+?))?(?:\s+ORDER\s+BY\s+(.+?))?(?:\s+LIMIT\s+(\d+))?\s*;?$`)
	insertRe = regexp.MustCompile(`(?is)^INSERT\s+INTO\s+(\w+)\s*\(([^)]*)\)\s*VALUES\s*\((.*?)\)(?:\s*ON\s+CONFLICT\s*\(([^)]*)\)\s*DO\s+(NOTHING|UPDATE\s+SET\s+.+?))?\s*;?$`)
	updateRe = regexp.MustCompile(`(?is)^UPDATE\s+(\w+)\s+SET\s+(.+?)(?:\s+WHERE\s+(.+?))?\s*;?$`)
	deleteRe = regexp.MustCompile(`(?is)^DELETE\s+FROM\s+(\w+)(?:\s+WHERE\s+(.+?))?\s*;?$`)

	identRe       = regexp.MustCompile(`^\w+$`)
	eqRe          = regexp.MustCompile(`^(\w+)\s*=\s*(.+)$`)
	foldRe        = regexp.MustCompile(`(?i)^LOWER\s*\(\s*(?:TRIM\s*\(\s*(\w+)\s*\)|(\w+))\s*\)\s*=\s*(.+)$`)
	foldArgRe     = regexp.MustCompile(`(?i)^LOWER\s*\(\s*(?:TRIM\s*\(\s*(.+?)\s*\)|(.+?))\s*\)$`)
	orderRe       = regexp.MustCompile(`(?i)^(\w+)(?:\s+(ASC|DESC))?$`)
	conflictSetRe = regexp.MustCompile(`(?i)^UPDATE\s+SET\s+`)
	incrementRe   = regexp.MustCompile(`(?i)^(\w+)\s*=\s*(\w+)\s*\+\s*excluded\.(\w+)$`)
	andRe         = regexp.MustCompile(`(?i)\s+AND\s+`)
	orRe          = regexp.MustCompile(`(?i)\s+OR\s+`)
)

// Parse turns one SQL statement from the supported subset into a typed
// statement, binding positional ? parameters from args in order.
//
// Supported: SELECT with a column list or *, INSERT with an explicit column
// list and optional ON CONFLICT DO NOTHING / DO UPDATE SET c = c + excluded.c,
// UPDATE and DELETE. WHERE clauses are AND-joined "col = x" or
// "LOWER(col) = LOWER(x)" terms; operands are ?, quoted strings, numbers or
// NULL.
func Parse(sql string, args ...any) (Statement, error) {
	sql = strings.TrimSpace(sql)
	b := &binder{args: args}

	var (
		stmt Statement
		err  error
	)
	switch keyword(sql) {
	case "SELECT":
		stmt, err = parseSelect(sql, b)
	case "INSERT":
		stmt, err = parseInsert(sql, b)
	case "UPDATE":
		stmt, err = parseUpdate(sql, b)
	case "DELETE":
		stmt, err = parseDelete(sql, b)
	default:
		err = unsupported("statement %q", firstWords(sql))
	}
	if err != nil {
		return nil, err
	}

	if b.next != len(b.args) {
		return nil, fmt.Errorf("%w: %d parameters supplied, %d used", ErrUnsupportedStatement, len(b.args), b.next)
	}
	return stmt, nil
}

func parseSelect(sql string, b *binder) (Statement, error) {
	m := selectRe.FindStringSubmatch(sql)
	if m == nil {
		return nil, unsupported("select %q", sql)
	}

	s := Select{Table: m[2]}
	if cols := strings.TrimSpace(m[1]); cols != "*" {
		for _, c := range splitList(cols) {
			if !identRe.MatchString(c) {
				return nil, unsupported("select column %q", c)
			}
			s.Columns = append(s.Columns, c)
		}
	}

	where, err := parseWhere(m[3], b)
	if err != nil {
		return nil, err
	}
	s.Where = where

	if m[4] != "" {
		for _, term := range splitList(m[4]) {
			om := orderRe.FindStringSubmatch(term)
			if om == nil {
				return nil, unsupported("order by %q", term)
			}
			s.OrderBy = append(s.OrderBy, Order{Column: om[1], Desc: strings.EqualFold(om[2], "DESC")})
		}
	}

	if m[5] != "" {
		limit, err := strconv.Atoi(m[5])
		if err != nil {
			return nil, unsupported("limit %q", m[5])
		}
		s.Limit = limit
	}
	return s, nil
}

func parseInsert(sql string, b *binder) (Statement, error) {
	m := insertRe.FindStringSubmatch(sql)
	if m == nil {
		return nil, unsupported("insert %q", sql)
	}

	ins := Insert{Table: m[1]}
	for _, c := range splitList(m[2]) {
		if !identRe.MatchString(c) {
			return nil, unsupported("insert column %q", c)
		}
		ins.Columns = append(ins.Columns, c)
	}
	for _, tok := range splitList(m[3]) {
		v, err := b.operand(tok)
		if err != nil {
			return nil, err
		}
		ins.Values = append(ins.Values, v)
	}

	if m[4] == "" && m[5] == "" {
		return ins, nil
	}

	up := Upsert{Insert: ins}
	for _, c := range splitList(m[4]) {
		if !identRe.MatchString(c) {
			return nil, unsupported("conflict column %q", c)
		}
		up.ConflictColumns = append(up.ConflictColumns, c)
	}

	action := strings.TrimSpace(m[5])
	if strings.EqualFold(action, "NOTHING") {
		return up, nil
	}
	sets := conflictSetRe.ReplaceAllString(action, "")
	for _, a := range splitList(sets) {
		im := incrementRe.FindStringSubmatch(a)
		if im == nil || im[1] != im[2] || im[1] != im[3] {
			return nil, unsupported("conflict update %q", a)
		}
		up.Increment = append(up.Increment, im[1])
	}
	return up, nil
}

func parseUpdate(sql string, b *binder) (Statement, error) {
	m := updateRe.FindStringSubmatch(sql)
	if m == nil {
		return nil, unsupported("update %q", sql)
	}

	u := Update{Table: m[1]}
	for _, a := range splitList(m[2]) {
		am := eqRe.FindStringSubmatch(a)
		if am == nil {
			return nil, unsupported("assignment %q", a)
		}
		v, err := b.operand(am[2])
		if err != nil {
			return nil, err
		}
		u.Set = append(u.Set, Set(am[1], v))
	}

	where, err := parseWhere(m[3], b)
	if err != nil {
		return nil, err
	}
	u.Where = where
	return u, nil
}

func parseDelete(sql string, b *binder) (Statement, error) {
	m := deleteRe.FindStringSubmatch(sql)
	if m == nil {
		return nil, unsupported("delete %q", sql)
	}

	where, err := parseWhere(m[2], b)
	if err != nil {
		return nil, err
	}
	return Delete{Table: m[1], Where: where}, nil
}

func parseWhere(clause string, b *binder) ([]Cond, error) {
	clause = strings.TrimSpace(clause)
	if clause == "" {
		return nil, nil
	}
	// Keywords are matched on a copy with quoted text blanked out
	masked := maskQuoted(clause)
	if orRe.MatchString(masked) {
		return nil, unsupported("OR in where clause %q", clause)
	}

	var (
		conds []Cond
		start int
		terms []string
	)
	for _, sep := range andRe.FindAllStringIndex(masked, -1) {
		terms = append(terms, clause[start:sep[0]])
		start = sep[1]
	}
	terms = append(terms, clause[start:])

	for _, term := range terms {
		term = strings.TrimSpace(term)

		if fm := foldRe.FindStringSubmatch(term); fm != nil {
			col := fm[1]
			if col == "" {
				col = fm[2]
			}
			v, err := b.operand(unwrapFold(fm[3]))
			if err != nil {
				return nil, err
			}
			conds = append(conds, EqFold(col, v))
			continue
		}

		em := eqRe.FindStringSubmatch(term)
		if em == nil {
			return nil, unsupported("where term %q", term)
		}
		v, err := b.operand(em[2])
		if err != nil {
			return nil, err
		}
		conds = append(conds, Eq(em[1], v))
	}
	return conds, nil
}

// unwrapFold strips LOWER(...) and LOWER(TRIM(...)) around a comparison operand
func unwrapFold(tok string) string {
	tok = strings.TrimSpace(tok)
	if m := foldArgRe.FindStringSubmatch(tok); m != nil {
		if m[1] != "" {
			return m[1]
		}
		return m[2]
	}
	return tok
}

// binder hands out positional parameters as ? placeholders are consumed
type binder struct {
	args []any
	next int
}

func (b *binder) operand(tok string) (any, error) {
	tok = strings.TrimSpace(tok)
	switch {
	case tok == "?":
		if b.next >= len(b.args) {
			return nil, fmt.Errorf("%w: not enough parameters", ErrUnsupportedStatement)
		}
		v := b.args[b.next]
		b.next++
		return v, nil
	case strings.EqualFold(tok, "NULL"):
		return nil, nil
	case len(tok) >= 2 && tok[0] == '\'' && tok[len(tok)-1] == '\'':
		return strings.ReplaceAll(tok[1:len(tok)-1], "''", "'"), nil
	}

	if n, err := strconv.ParseInt(tok, 10, 64); err == nil {
		return n, nil
	}
	if f, err := strconv.ParseFloat(tok, 64); err == nil {
		return f, nil
	}
	return nil, unsupported("operand %q", tok)
}

// maskQuoted replaces every byte inside single-quoted strings with a
// placeholder, keeping offsets aligned with s
func maskQuoted(s string) string {
	out := []byte(s)
	quoted := false
	for i := range out {
		switch {
		case out[i] == '\'':
			quoted = !quoted
		case quoted:
			out[i] = '_'
		}
	}
	return string(out)
}

// splitList splits on commas outside single-quoted strings and parentheses
func splitList(s string) []string {
	var (
		parts   []string
		current strings.Builder
		quoted  bool
		depth   int
	)
	for _, r := range s {
		switch {
		case r == '\'':
			quoted = !quoted
		case quoted:
		case r == '(':
			depth++
		case r == ')':
			depth--
		case r == ',' && depth == 0:
			parts = append(parts, strings.TrimSpace(current.String()))
			current.Reset()
			continue
		}
		current.WriteRune(r)
	}
	if last := strings.TrimSpace(current.String()); last != "" || len(parts) > 0 {
		parts = append(parts, last)
	}
	return parts
}

func keyword(sql string) string {
	fields := strings.Fields(sql)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToUpper(fields[0])
}

func firstWords(sql string) string {
	fields := strings.Fields(sql)
	if len(fields) > 3 {
		fields = fields[:3]
	}
	return strings.Join(fields, " ")
}

func unsupported(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUnsupportedStatement, fmt.Sprintf(format, args...))
}
