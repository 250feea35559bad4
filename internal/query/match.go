// Package query implements the query executor over the partitioned store.
package query

import (
	"strings"

	"github.com/jittakal/loglake/pkg/query"
)

// likeMatch reports whether s matches a SQL LIKE pattern. '%' matches any
// run of characters including none, '_' matches exactly one.
func likeMatch(pattern, s string) bool {
	p := []rune(pattern)
	t := []rune(s)

	pi, ti := 0, 0
	star, mark := -1, 0

	for ti < len(t) {
		switch {
		case pi < len(p) && (p[pi] == '_' || p[pi] == t[ti]):
			pi++
			ti++
		case pi < len(p) && p[pi] == '%':
			star = pi
			mark = ti
			pi++
		case star >= 0:
			pi = star + 1
			mark++
			ti = mark
		default:
			return false
		}
	}

	for pi < len(p) && p[pi] == '%' {
		pi++
	}
	return pi == len(p)
}

// rowMatches applies the residual filter: message match plus event-time
// bounds. Partition constraints were already consumed by projection.
func rowMatches(pred query.Predicate, row query.Row) bool {
	if pred.MinTimestamp != 0 && row.Timestamp < pred.MinTimestamp {
		return false
	}
	if pred.MaxTimestamp != 0 && row.Timestamp > pred.MaxTimestamp {
		return false
	}

	switch {
	case pred.MessagePattern != "":
		return likeMatch(pred.MessagePattern, row.Message)
	case pred.MessageContains != "":
		return strings.Contains(row.Message, pred.MessageContains)
	default:
		return true
	}
}
