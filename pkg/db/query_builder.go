package db

import (
	"strconv"
	"strings"
)

// Builder assembles the parameterized statements of the database/sql entity
// stores. Only values are bound; table and column names are written as
// given and must be trusted identifiers (see IsIdentifier).
//
//	db.NewBuilder("em4go_entities").Select("payload").Where("entity_key", db.Equal, key.String())
type Builder struct {
	table   string
	cols    []string
	where   []Condition
	orderBy []string
	limit   int
	style   PlaceholderStyle
}

// Operator is a comparison of a WHERE condition
type Operator string

const (
	Equal    Operator = "="
	NotEqual Operator = "<>"
	Like     Operator = "LIKE"
)

// Condition compares a column with a bound value
type Condition struct {
	Field    string
	Operator Operator
	Value    interface{}
}

// PlaceholderStyle selects how bind parameters are written
type PlaceholderStyle int

const (
	// Question writes "?" (MySQL, SQLite)
	Question PlaceholderStyle = iota
	// Dollar writes "$1", "$2", ... (PostgreSQL)
	Dollar
)

// NewBuilder starts a statement against table
func NewBuilder(table string) *Builder {
	return &Builder{table: table, cols: []string{"*"}}
}

// Placeholders sets the bind parameter style
func (b *Builder) Placeholders(style PlaceholderStyle) *Builder {
	b.style = style
	return b
}

// Select sets the selected columns
func (b *Builder) Select(cols ...string) *Builder {
	if len(cols) > 0 {
		b.cols = cols
	}
	return b
}

// Where adds a condition; conditions are joined with AND
func (b *Builder) Where(field string, op Operator, value interface{}) *Builder {
	b.where = append(b.where, Condition{Field: field, Operator: op, Value: value})
	return b
}

// OrderBy appends a sort column
func (b *Builder) OrderBy(field string, desc bool) *Builder {
	if desc {
		field += " DESC"
	} else {
		field += " ASC"
	}
	b.orderBy = append(b.orderBy, field)
	return b
}

// Limit caps the number of selected rows; zero or less means no limit
func (b *Builder) Limit(n int) *Builder {
	b.limit = n
	return b
}

// placeholders numbers bind parameters in the order they are written
type placeholders struct {
	style PlaceholderStyle
	n     int
}

func (p *placeholders) next() string {
	p.n++
	if p.style == Dollar {
		return "$" + strconv.Itoa(p.n)
	}
	return "?"
}

func (p *placeholders) list(n int) string {
	out := make([]string, n)
	for i := range out {
		out[i] = p.next()
	}
	return strings.Join(out, ", ")
}

// BuildSelect returns the SELECT statement and its arguments
func (b *Builder) BuildSelect() (string, []interface{}) {
	ph := &placeholders{style: b.style}
	var q strings.Builder
	q.WriteString("SELECT " + strings.Join(b.cols, ", ") + " FROM " + b.table)

	args := make([]interface{}, 0, len(b.where))
	for i, c := range b.where {
		if i == 0 {
			q.WriteString(" WHERE ")
		} else {
			q.WriteString(" AND ")
		}
		q.WriteString(c.Field + " " + string(c.Operator) + " " + ph.next())
		args = append(args, c.Value)
	}
	if len(b.orderBy) > 0 {
		q.WriteString(" ORDER BY " + strings.Join(b.orderBy, ", "))
	}
	if b.limit > 0 {
		q.WriteString(" LIMIT " + strconv.Itoa(b.limit))
	}
	return q.String(), args
}

// BuildInsert returns an INSERT of columns and the number of arguments it takes
func (b *Builder) BuildInsert(columns []string) (string, int) {
	ph := &placeholders{style: b.style}
	return b.insert(ph, columns), len(columns)
}

func (b *Builder) insert(ph *placeholders, columns []string) string {
	return "INSERT INTO " + b.table + " (" + strings.Join(columns, ", ") + ") VALUES (" + ph.list(len(columns)) + ")"
}

// BuildUpsert returns an INSERT that overwrites the remaining columns of a
// row whose conflict columns already exist. The ON CONFLICT form is
// understood by PostgreSQL and SQLite.
func (b *Builder) BuildUpsert(columns, conflict []string) (string, int) {
	ph := &placeholders{style: b.style}
	q := b.insert(ph, columns) + " ON CONFLICT (" + strings.Join(conflict, ", ") + ")"

	var updates []string
	for _, col := range columns {
		if !contains(conflict, col) {
			updates = append(updates, col+" = excluded."+col)
		}
	}
	if len(updates) == 0 {
		return q + " DO NOTHING", len(columns)
	}
	return q + " DO UPDATE SET " + strings.Join(updates, ", "), len(columns)
}

// BuildDelete returns a DELETE matching every field by equality, in order
func (b *Builder) BuildDelete(fields ...string) string {
	ph := &placeholders{style: b.style}
	q := "DELETE FROM " + b.table
	for i, f := range fields {
		if i == 0 {
			q += " WHERE "
		} else {
			q += " AND "
		}
		q += f + " = " + ph.next()
	}
	return q
}

// IsIdentifier reports whether name is a plain SQL identifier
// (letters, digits and underscores, not starting with a digit).
func IsIdentifier(name string) bool {
	if name == "" || len(name) > 64 {
		return false
	}
	for i, r := range name {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
