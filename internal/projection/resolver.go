// Package projection implements the partition path resolver and the
// projection engine over a shared projection spec.
package projection

import (
	"time"

	"github.com/jittakal/loglake/pkg/projection"
)

// Ensure implementations satisfy interfaces at compile time.
var (
	_ projection.Resolver   = (*TimeResolver)(nil)
	_ projection.Enumerator = (*Engine)(nil)
)

// TimeResolver resolves timestamps to partition keys. Partitioning uses the
// arrival (flush) time, not the record's own event time: event timestamps
// are set by source clocks and can be skewed, which would break monotonic
// partition placement.
type TimeResolver struct {
	spec *projection.Spec
}

// NewTimeResolver creates a resolver over the shared spec.
func NewTimeResolver(spec *projection.Spec) *TimeResolver {
	return &TimeResolver{spec: spec}
}

// Resolve extracts the time partition fields from t in UTC and formats each
// at the spec's digit width. Pure and deterministic.
func (r *TimeResolver) Resolve(t time.Time) projection.Key {
	t = t.UTC()
	values := make(map[string]string, len(r.spec.Fields))
	for _, f := range r.spec.Fields {
		values[f.Name] = f.Format(timeField(t, f.Name))
	}
	return projection.NewKey(values)
}

func timeField(t time.Time, name string) int {
	switch name {
	case "year":
		return t.Year()
	case "month":
		return int(t.Month())
	case "day":
		return t.Day()
	case "hour":
		return t.Hour()
	default:
		return 0
	}
}
