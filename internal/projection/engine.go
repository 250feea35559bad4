package projection

import (
	"fmt"
	"strings"

	"github.com/jittakal/loglake/pkg/projection"
)

// Engine enumerates candidate storage paths from partition constraints.
// Pure: no backend round-trips, no catalog. The engine and the writer must
// share one spec value; a diverging spec does not error. It produces paths
// the writer never wrote, and queries come back empty.
type Engine struct {
	spec *projection.Spec
}

// NewEngine creates a projection engine over the shared spec.
func NewEngine(spec *projection.Spec) *Engine {
	return &Engine{spec: spec}
}

// Enumerate expands the constraints into the concrete path set. A field
// with no constraint expands across its full configured range, so callers
// should supply selective predicates; omitting every constraint is legal
// but enumerates the whole layout.
func (e *Engine) Enumerate(c projection.Constraints) ([]string, error) {
	for name := range c {
		if _, ok := e.spec.Field(name); !ok {
			return nil, fmt.Errorf("unknown partition field %q", name)
		}
	}

	paths := []string{e.spec.Template}
	for _, f := range e.spec.Fields {
		values := candidateValues(f, c[f.Name])
		if len(values) == 0 {
			return nil, nil
		}

		placeholder := "{" + f.Name + "}"
		next := make([]string, 0, len(paths)*len(values))
		for _, p := range paths {
			for _, v := range values {
				next = append(next, strings.ReplaceAll(p, placeholder, f.Format(v)))
			}
		}
		paths = next
	}

	return paths, nil
}

// candidateValues intersects a field's constraint with its configured
// range. An equality value outside the range yields nothing.
func candidateValues(f projection.Field, c projection.Constraint) []int {
	if c.Eq != nil {
		if !f.Contains(*c.Eq) {
			return nil
		}
		return []int{*c.Eq}
	}

	lo, hi := f.Min, f.Max
	if c.Min != nil && *c.Min > lo {
		lo = *c.Min
	}
	if c.Max != nil && *c.Max < hi {
		hi = *c.Max
	}
	if lo > hi {
		return nil
	}

	values := make([]int, 0, hi-lo+1)
	for v := lo; v <= hi; v++ {
		values = append(values, v)
	}
	return values
}
