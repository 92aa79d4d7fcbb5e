package postgres

import (
	"fmt"
	"strings"

	"github.com/alanyoungcy/marginpool/internal/domain"
)

// selectQuery accumulates WHERE conditions and their positional arguments.
type selectQuery struct {
	base  string
	conds []string
	args  []any
}

func newSelect(base string) *selectQuery {
	return &selectQuery{base: base}
}

// where adds a condition with one placeholder written as ?.
func (q *selectQuery) where(cond string, arg any) *selectQuery {
	q.args = append(q.args, arg)
	q.conds = append(q.conds, strings.Replace(cond, "?", fmt.Sprintf("$%d", len(q.args)), 1))
	return q
}

// window adds the time bounds of opts on column.
func (q *selectQuery) window(column string, opts domain.ListOpts) *selectQuery {
	if opts.Since != nil {
		q.where(column+" >= ?", *opts.Since)
	}
	if opts.Until != nil {
		q.where(column+" <= ?", *opts.Until)
	}
	return q
}

// build renders the statement with ordering and the page of opts.
func (q *selectQuery) build(orderBy string, opts domain.ListOpts) (string, []any) {
	var b strings.Builder
	b.WriteString(q.base)
	if len(q.conds) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(q.conds, " AND "))
	}
	b.WriteString(" ORDER BY ")
	b.WriteString(orderBy)
	args := q.args
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		fmt.Fprintf(&b, " OFFSET $%d", len(args))
	}
	return b.String(), args
}
