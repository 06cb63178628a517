package logic

import (
	"strconv"
	"strings"
)

// Fragment is a boolean SQL expression with '?' placeholders and the
// bound arguments in order. Fragments compose without renumbering;
// placeholders are rewritten to $n only at execution time.
type Fragment struct {
	Expr string
	Args []any
}

// Positional rewrites '?' placeholders to $start, $start+1, ... for pgx.
func (f Fragment) Positional(start int) (string, []any) {
	var b strings.Builder
	b.Grow(len(f.Expr) + len(f.Args)*2)
	n := start
	for i := 0; i < len(f.Expr); i++ {
		if f.Expr[i] == '?' {
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			n++
			continue
		}
		b.WriteByte(f.Expr[i])
	}
	return b.String(), f.Args
}

// Join combines child fragments with the given operator, making
// precedence explicit with parentheses.
func Join(op string, frags []Fragment) Fragment {
	if len(frags) == 1 {
		return Fragment{Expr: "(" + frags[0].Expr + ")", Args: frags[0].Args}
	}
	parts := make([]string, 0, len(frags))
	var args []any
	for _, f := range frags {
		parts = append(parts, f.Expr)
		args = append(args, f.Args...)
	}
	return Fragment{Expr: "(" + strings.Join(parts, " "+op+" ") + ")", Args: args}
}
