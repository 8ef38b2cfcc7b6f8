// Package query builds backing-store predicates for live subscriptions.
//
// A predicate is an abstract boolean tree over field comparisons. The tree
// itself is store-agnostic; SQL compiles it into a WHERE clause for the
// SQLite stores in package storage.
//
//	q := query.Jobs([]string{"shop"}, []string{"test"})
//	where, args := query.SQL(q)
package query

import (
	"strings"
)

// Op is a comparison operator in a predicate condition.
type Op string

const (
	// OpContains matches rows whose field contains the value as a substring.
	OpContains Op = "contains"
	// OpNotContains matches rows whose field does not contain the value.
	OpNotContains Op = "not-contains"
	// OpMatches matches rows whose field matches the pattern "<value>.*",
	// i.e. contains the value followed by anything.
	OpMatches Op = "matches"
	// OpGt matches rows whose field compares greater than the value.
	OpGt Op = "gt"
)

// Query is one node of a predicate tree.
type Query interface {
	isQuery()
}

// Cond is a single field comparison.
type Cond struct {
	Field string
	Op    Op
	Value string
}

// And is the conjunction of its children.
type And []Query

// Or is the disjunction of its children.
type Or []Query

// all matches every row. It is the zero predicate produced by the builders
// when no conditions were supplied.
type all struct{}

// All matches everything.
var All Query = all{}

func (Cond) isQuery() {}
func (And) isQuery()  {}
func (Or) isQuery()   {}
func (all) isQuery()  {}

// conjoin combines conditions the way the builders need: zero conditions
// collapse to All, a single condition is returned unwrapped (no redundant
// wrapper node), more than one is wrapped.
func conjoin(parts []Query) Query {
	switch len(parts) {
	case 0:
		return All
	case 1:
		return parts[0]
	default:
		return And(parts)
	}
}

func disjoin(parts []Query) Query {
	switch len(parts) {
	case 0:
		return All
	case 1:
		return parts[0]
	default:
		return Or(parts)
	}
}

// SQL compiles q into a SQLite WHERE clause and its bind arguments.
// An empty clause means the predicate matches everything.
func SQL(q Query) (string, []any) {
	var sb strings.Builder
	var args []any
	writeSQL(&sb, &args, q)
	return sb.String(), args
}

func writeSQL(sb *strings.Builder, args *[]any, q Query) {
	switch n := q.(type) {
	case all:
		// Empty clause; callers omit the WHERE.
	case Cond:
		switch n.Op {
		case OpContains, OpMatches:
			sb.WriteString(n.Field + ` LIKE ? ESCAPE '\'`)
			*args = append(*args, "%"+escapeLike(n.Value)+"%")
		case OpNotContains:
			sb.WriteString(n.Field + ` NOT LIKE ? ESCAPE '\'`)
			*args = append(*args, "%"+escapeLike(n.Value)+"%")
		case OpGt:
			sb.WriteString(n.Field + " > ?")
			*args = append(*args, n.Value)
		}
	case And:
		writeGroup(sb, args, n, " AND ")
	case Or:
		writeGroup(sb, args, n, " OR ")
	}
}

func writeGroup(sb *strings.Builder, args *[]any, children []Query, sep string) {
	sb.WriteString("(")
	for i, c := range children {
		if i > 0 {
			sb.WriteString(sep)
		}
		writeSQL(sb, args, c)
	}
	sb.WriteString(")")
}

// escapeLike escapes LIKE metacharacters so user-supplied substrings match
// literally.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}
