package db

import (
	"fmt"
	"strings"
)

// SearchQuery composes a parametrised WHERE clause over one table or view.
// It encapsulates the filter composition pattern shared by the repositories
// and the search service; values always travel as bound arguments.
type SearchQuery struct {
	table   string
	cols    string
	where   []string
	args    []any
	orderBy string
}

// NewSearchQuery starts a query against the given table (or view) selecting
// the given column list.
func NewSearchQuery(table, cols string) *SearchQuery {
	return &SearchQuery{table: table, cols: cols}
}

// Add appends a raw clause fragment with ? placeholders.
func (q *SearchQuery) Add(clause string, args ...any) {
	q.where = append(q.where, clause)
	q.args = append(q.args, args...)
}

// AddEquals filters on exact equality.
func (q *SearchQuery) AddEquals(column string, value any) {
	q.Add(column+" = ?", value)
}

// AddIn filters on membership of a code set. Empty sets add no clause.
func (q *SearchQuery) AddIn(column string, values []string) {
	if len(values) == 0 {
		return
	}
	placeholders := strings.Repeat("?, ", len(values))
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	q.Add(fmt.Sprintf("%s IN (%s)", column, placeholders[:len(placeholders)-2]), args...)
}

// AddRange filters a numeric column on an inclusive range; either bound may
// be nil.
func (q *SearchQuery) AddRange(column string, min, max *float64) {
	if min != nil {
		q.Add(column+" >= ?", *min)
	}
	if max != nil {
		q.Add(column+" <= ?", *max)
	}
}

// AddDateRange filters an ISO date column on an inclusive range; empty
// bounds are skipped. ISO dates compare correctly as text.
func (q *SearchQuery) AddDateRange(column, from, to string) {
	if from != "" {
		q.Add(column+" >= ?", from)
	}
	if to != "" {
		q.Add(column+" <= ?", to)
	}
}

// AddContains filters on a case-insensitive substring match.
func (q *SearchQuery) AddContains(column, term string) {
	q.Add(column+" LIKE ? ESCAPE '\\'", "%"+EscapeLike(term)+"%")
}

// AddPrefix filters on a case-insensitive prefix match.
func (q *SearchQuery) AddPrefix(column, term string) {
	q.Add(column+" LIKE ? ESCAPE '\\'", EscapeLike(term)+"%")
}

// OrderBy sets the ORDER BY clause (without the keyword).
func (q *SearchQuery) OrderBy(orderBy string) {
	q.orderBy = orderBy
}

// ApplySort builds the ORDER BY from a comma-separated field list where a
// leading '-' means descending; fields resolve through the columns map and
// unknown names are dropped. Falls back to defaultOrder.
func (q *SearchQuery) ApplySort(sortParam, defaultOrder string, columns map[string]string) {
	if sortParam == "" {
		q.orderBy = defaultOrder
		return
	}
	var parts []string
	for _, field := range strings.Split(sortParam, ",") {
		field = strings.TrimSpace(field)
		desc := strings.HasPrefix(field, "-")
		if desc {
			field = field[1:]
		}
		col, ok := columns[field]
		if !ok {
			continue
		}
		if desc {
			parts = append(parts, col+" DESC")
		} else {
			parts = append(parts, col+" ASC")
		}
	}
	if len(parts) > 0 {
		q.orderBy = strings.Join(parts, ", ")
	} else {
		q.orderBy = defaultOrder
	}
}

func (q *SearchQuery) whereSQL() string {
	if len(q.where) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(q.where, " AND ")
}

// CountSQL returns the count query.
func (q *SearchQuery) CountSQL() string {
	return fmt.Sprintf("SELECT COUNT(*) FROM %s%s", q.table, q.whereSQL())
}

// CountArgs returns the bound arguments for CountSQL.
func (q *SearchQuery) CountArgs() []any {
	return q.args
}

// DataSQL returns the data query with ORDER BY and LIMIT/OFFSET placeholders.
func (q *SearchQuery) DataSQL() string {
	sql := fmt.Sprintf("SELECT %s FROM %s%s", q.cols, q.table, q.whereSQL())
	if q.orderBy != "" {
		sql += " ORDER BY " + q.orderBy
	}
	return sql + " LIMIT ? OFFSET ?"
}

// DataArgs returns the bound arguments for DataSQL.
func (q *SearchQuery) DataArgs(limit, offset int) []any {
	out := make([]any, len(q.args), len(q.args)+2)
	copy(out, q.args)
	return append(out, limit, offset)
}

// EscapeLike escapes LIKE wildcards and the escape character itself so user
// terms match literally.
func EscapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
