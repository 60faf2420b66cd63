// Package criteria implements the targeting expression language used by
// engagement manifests.
//
// A criteria document is decoded once into a closed tree of clauses (And, Or,
// Not, Leaf). Decoding is where malformed input is rejected: an unknown
// operator tag fails the decode. Evaluation never fails; it walks the tree
// against a FieldResolver and returns a plain boolean.
package criteria

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Operator is a comparison tag as it appears on the wire.
type Operator string

const (
	OpEqual          Operator = "$eq"
	OpNotEqual       Operator = "$ne"
	OpLessThan       Operator = "$lt"
	OpLessOrEqual    Operator = "$lte"
	OpGreaterThan    Operator = "$gt"
	OpGreaterOrEqual Operator = "$gte"
	OpExists         Operator = "$exists"
	OpContains       Operator = "$contains"
	OpStartsWith     Operator = "$starts_with"
	OpEndsWith       Operator = "$ends_with"
	OpIn             Operator = "$in"
	OpNotIn          Operator = "$nin"
	OpBefore         Operator = "$before"
	OpAfter          Operator = "$after"
)

// Logical combinator tags.
const (
	tagAnd = "$and"
	tagOr  = "$or"
	tagNot = "$not"
)

// Field is a parsed field path such as "person/custom_data/plan" or
// "app_release.version".
type Field struct {
	Raw   string
	Parts []string
}

// ParseField splits raw on "/" when present and on "." otherwise.
func ParseField(raw string) (Field, error) {
	sep := "."
	if strings.Contains(raw, "/") {
		sep = "/"
	}
	parts := strings.Split(raw, sep)
	for _, p := range parts {
		if p == "" {
			return Field{}, fmt.Errorf("field path %q has an empty component", raw)
		}
	}
	return Field{Raw: raw, Parts: parts}, nil
}

// MustField is ParseField for literals known to be valid.
func MustField(raw string) Field {
	f, err := ParseField(raw)
	if err != nil {
		panic(err)
	}
	return f
}

// String returns the path as written.
func (f Field) String() string { return f.Raw }

// Clause is a node of the criteria tree. The set of implementations is closed:
// And, Or, Not and Leaf.
type Clause interface {
	clause()
}

// And is true when every sub-clause is true. An empty And is true.
type And struct{ Clauses []Clause }

// Or is true when any sub-clause is true. An empty Or is true.
type Or struct{ Clauses []Clause }

// Not negates its single sub-clause.
type Not struct{ Clause Clause }

// Leaf compares one field against one or more conditions, all of which must
// hold.
type Leaf struct {
	Field      Field
	Conditions []Condition
}

func (And) clause()  {}
func (Or) clause()   {}
func (Not) clause()  {}
func (Leaf) clause() {}

// Condition is a single operator applied to a field value.
type Condition struct {
	Op      Operator
	Operand Value
	// Operands holds the candidate set for $in and $nin.
	Operands []Value
}

// Criteria is a decoded criteria document.
type Criteria struct {
	root Clause
	raw  json.RawMessage
}

// Always returns criteria that match unconditionally.
func Always() Criteria {
	return Criteria{root: And{}, raw: json.RawMessage(`{}`)}
}

// FromClause wraps an already-built clause tree.
func FromClause(c Clause) Criteria {
	return Criteria{root: c}
}

// Root returns the top-level clause. A zero Criteria behaves like Always.
func (c Criteria) Root() Clause {
	if c.root == nil {
		return And{}
	}
	return c.root
}

// UnmarshalJSON decodes and validates a criteria document.
func (c *Criteria) UnmarshalJSON(data []byte) error {
	parsed, err := Parse(data)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// MarshalJSON returns the document the criteria was decoded from.
func (c Criteria) MarshalJSON() ([]byte, error) {
	if len(c.raw) == 0 {
		return []byte(`{}`), nil
	}
	return c.raw, nil
}
