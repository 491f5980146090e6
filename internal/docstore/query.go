package docstore

import (
	"regexp"
)

type Operator string

const (
	OpEqual        Operator = "=="
	OpLess         Operator = "<"
	OpLessEqual    Operator = "<="
	OpGreater      Operator = ">"
	OpGreaterEqual Operator = ">="
	OpIn           Operator = "in"
)

type Direction int

const (
	Asc Direction = iota
	Desc
)

type Filter struct {
	Field string
	Op    Operator
	Value any
}

type Order struct {
	Field string
	Dir   Direction
}

// Query selects documents of one collection. The zero Limit means no limit.
type Query struct {
	Path    string
	Filters []Filter
	Orders  []Order
	Max     int
}

func Collection(path string) Query {
	return Query{Path: path}
}

func (q Query) Where(field string, op Operator, value any) Query {
	q.Filters = append(append([]Filter(nil), q.Filters...), Filter{Field: field, Op: op, Value: value})
	return q
}

func (q Query) OrderBy(field string, dir Direction) Query {
	q.Orders = append(append([]Order(nil), q.Orders...), Order{Field: field, Dir: dir})
	return q
}

func (q Query) Limit(n int) Query {
	q.Max = n
	return q
}

var fieldPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)

// Validate rejects malformed paths, field names and operators. Field
// names end up inside SQL expressions, so only identifiers are allowed.
func (q Query) Validate() error {
	if err := ValidatePath(q.Path); err != nil {
		return err
	}
	for _, f := range q.Filters {
		if !fieldPattern.MatchString(f.Field) {
			return ErrInvalidField
		}
		switch f.Op {
		case OpEqual, OpLess, OpLessEqual, OpGreater, OpGreaterEqual:
		case OpIn:
			if _, ok := f.Value.([]any); !ok {
				return ErrInvalidField
			}
		default:
			return ErrInvalidField
		}
	}
	for _, o := range q.Orders {
		if !fieldPattern.MatchString(o.Field) {
			return ErrInvalidField
		}
	}
	return nil
}

// Strings converts a string slice for use as an OpIn value.
func Strings(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
