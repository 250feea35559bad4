// Package projection defines the partition projection specification shared
// by the object writer and the query-side projection engine.
//
// A single Spec value is constructed once and threaded into both sides; the
// two must never derive digit widths or ranges independently. A writer and a
// reader configured with divergent specs do not fail; they address disjoint
// key sets and queries silently return nothing.
package projection

import (
	"fmt"
	"hash/fnv"
	"strings"
	"time"
)

// FieldType is the value type of a partition field.
type FieldType string

const (
	FieldInteger FieldType = "integer"
	FieldString  FieldType = "string"
)

// Field specifies one partition field: its valid value range and the digit
// width used to render values into storage keys.
type Field struct {
	Name   string
	Type   FieldType
	Min    int
	Max    int
	Digits int
}

// Format renders an integer value zero-padded to the field's digit width.
// This is the single formatting convention for the field; every key the
// writer produces and every key the engine enumerates goes through it.
func (f Field) Format(v int) string {
	return fmt.Sprintf("%0*d", f.Digits, v)
}

// Contains reports whether v lies in the field's configured range.
func (f Field) Contains(v int) bool {
	return v >= f.Min && v <= f.Max
}

// Spec is the full projection specification: the ordered partition fields
// and the path template they substitute into. Read-only after construction.
type Spec struct {
	Fields   []Field
	Template string
}

// Field returns the named field.
func (s *Spec) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Fingerprint returns a short stable hash of the spec. Writer and query
// processes log it at startup; differing fingerprints are the only signal
// of a drifted configuration, since drift manifests as empty results rather
// than errors.
func (s *Spec) Fingerprint() string {
	h := fnv.New64a()
	for _, f := range s.Fields {
		fmt.Fprintf(h, "%s:%s:%d:%d:%d;", f.Name, f.Type, f.Min, f.Max, f.Digits)
	}
	h.Write([]byte(s.Template))
	return fmt.Sprintf("%016x", h.Sum64())
}

// Key is a resolved partition key: one formatted value per spec field, in
// spec field order.
type Key struct {
	values map[string]string
}

// NewKey builds a key from pre-formatted field values.
func NewKey(values map[string]string) Key {
	return Key{values: values}
}

// Value returns the formatted value for the named field.
func (k Key) Value(name string) string {
	return k.values[name]
}

// Path substitutes the key's values into the spec's template. Placeholders
// use the {field} form, e.g. "logs/year={year}/month={month}/".
func (k Key) Path(s *Spec) string {
	path := s.Template
	for name, v := range k.values {
		path = strings.ReplaceAll(path, "{"+name+"}", v)
	}
	return path
}

// TimeFields are the canonical partition fields for a time-partitioned
// layout at hourly granularity.
var TimeFields = []string{"year", "month", "day", "hour"}

// DefaultSpec returns the spec for the standard hourly layout under the
// given key prefix: prefix/year=YYYY/month=MM/day=DD/hour=HH/.
func DefaultSpec(prefix string) *Spec {
	prefix = strings.TrimSuffix(prefix, "/")
	template := "year={year}/month={month}/day={day}/hour={hour}/"
	if prefix != "" {
		template = prefix + "/" + template
	}
	return &Spec{
		Fields: []Field{
			{Name: "year", Type: FieldInteger, Min: 2020, Max: 2100, Digits: 4},
			{Name: "month", Type: FieldInteger, Min: 1, Max: 12, Digits: 2},
			{Name: "day", Type: FieldInteger, Min: 1, Max: 31, Digits: 2},
			{Name: "hour", Type: FieldInteger, Min: 0, Max: 23, Digits: 2},
		},
		Template: template,
	}
}

// Resolver maps a timestamp to a partition key under a fixed spec.
type Resolver interface {
	// Resolve extracts the partition field values from t in UTC and formats
	// them per the spec. Pure: identical inputs always yield identical keys.
	Resolve(t time.Time) Key
}

// Constraint restricts one partition field in a query predicate. Eq takes
// precedence over the range bounds; a nil bound is unconstrained.
type Constraint struct {
	Eq  *int
	Min *int
	Max *int
}

// Constraints maps field names to their predicate constraints. Fields with
// no entry expand across their full configured range.
type Constraints map[string]Constraint

// Enumerator computes the candidate storage paths for a predicate.
type Enumerator interface {
	// Enumerate substitutes every combination of in-range constrained
	// values into the path template. No catalog or backend round-trips.
	Enumerate(c Constraints) ([]string, error)
}

// EqConstraint is a convenience constructor for an equality constraint.
func EqConstraint(v int) Constraint {
	return Constraint{Eq: &v}
}

// RangeConstraint is a convenience constructor for an inclusive range
// constraint.
func RangeConstraint(min, max int) Constraint {
	return Constraint{Min: &min, Max: &max}
}
