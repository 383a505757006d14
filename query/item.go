// Package query describes selections over ordered key spaces: single keys,
// ranges in every open/closed/after flavor, and the path queries that
// compose them across nested subtrees.
package query

import "bytes"

// QueryItem is a key or range of keys selected by a query. The zero value
// is invalid; use the constructors.
type QueryItem struct {
	// IsKey marks an exact-key item. Lower holds the key.
	IsKey bool

	LowerUnbounded bool
	Lower          []byte
	// LowerExclusive marks "after" variants: keys strictly greater than
	// Lower.
	LowerExclusive bool

	UpperUnbounded bool
	Upper          []byte
	UpperInclusive bool
}

// NewKey selects a single key.
func NewKey(key []byte) QueryItem {
	return QueryItem{IsKey: true, Lower: key, Upper: key, UpperInclusive: true}
}

// NewRange selects [start, end).
func NewRange(start, end []byte) QueryItem {
	return QueryItem{Lower: start, Upper: end}
}

// NewRangeInclusive selects [start, end].
func NewRangeInclusive(start, end []byte) QueryItem {
	return QueryItem{Lower: start, Upper: end, UpperInclusive: true}
}

// NewRangeFull selects every key.
func NewRangeFull() QueryItem {
	return QueryItem{LowerUnbounded: true, UpperUnbounded: true}
}

// NewRangeFrom selects [start, ∞).
func NewRangeFrom(start []byte) QueryItem {
	return QueryItem{Lower: start, UpperUnbounded: true}
}

// NewRangeTo selects (-∞, end).
func NewRangeTo(end []byte) QueryItem {
	return QueryItem{LowerUnbounded: true, Upper: end}
}

// NewRangeToInclusive selects (-∞, end].
func NewRangeToInclusive(end []byte) QueryItem {
	return QueryItem{LowerUnbounded: true, Upper: end, UpperInclusive: true}
}

// NewRangeAfter selects (start, ∞).
func NewRangeAfter(start []byte) QueryItem {
	return QueryItem{Lower: start, LowerExclusive: true, UpperUnbounded: true}
}

// NewRangeAfterTo selects (start, end).
func NewRangeAfterTo(start, end []byte) QueryItem {
	return QueryItem{Lower: start, LowerExclusive: true, Upper: end}
}

// NewRangeAfterToInclusive selects (start, end].
func NewRangeAfterToInclusive(start, end []byte) QueryItem {
	return QueryItem{Lower: start, LowerExclusive: true, Upper: end, UpperInclusive: true}
}

// IsRange reports whether the item selects more than one possible key.
func (q QueryItem) IsRange() bool {
	return !q.IsKey
}

// Contains reports whether key falls inside the item's selection.
func (q QueryItem) Contains(key []byte) bool {
	if !q.LowerUnbounded {
		c := bytes.Compare(key, q.Lower)
		if c < 0 || (c == 0 && q.LowerExclusive) {
			return false
		}
	}
	if !q.UpperUnbounded {
		c := bytes.Compare(key, q.Upper)
		if c > 0 || (c == 0 && !q.UpperInclusive) {
			return false
		}
	}
	return true
}

// CompareKey orders a key against the item: -1 if the key precedes the
// selection, 0 if inside, +1 if past it.
func (q QueryItem) CompareKey(key []byte) int {
	if !q.LowerUnbounded {
		c := bytes.Compare(key, q.Lower)
		if c < 0 || (c == 0 && q.LowerExclusive) {
			return -1
		}
	}
	if !q.UpperUnbounded {
		c := bytes.Compare(key, q.Upper)
		if c > 0 || (c == 0 && !q.UpperInclusive) {
			return 1
		}
	}
	return 0
}

// Collides reports whether the two items share any part of keyspace or
// touch at a bound; colliding items merge into one.
func (q QueryItem) Collides(other QueryItem) bool {
	// q entirely below other?
	if !q.UpperUnbounded && !other.LowerUnbounded {
		c := bytes.Compare(q.Upper, other.Lower)
		if c < 0 {
			return false
		}
		if c == 0 && !q.UpperInclusive && other.LowerExclusive {
			return false
		}
	}
	// q entirely above other?
	if !q.LowerUnbounded && !other.UpperUnbounded {
		c := bytes.Compare(q.Lower, other.Upper)
		if c > 0 {
			return false
		}
		if c == 0 && q.LowerExclusive && !other.UpperInclusive {
			return false
		}
	}
	return true
}

// Merge joins two colliding items into the smallest item covering both.
func (q QueryItem) Merge(other QueryItem) QueryItem {
	out := QueryItem{}

	switch {
	case q.LowerUnbounded || other.LowerUnbounded:
		out.LowerUnbounded = true
	default:
		c := bytes.Compare(q.Lower, other.Lower)
		switch {
		case c < 0:
			out.Lower, out.LowerExclusive = q.Lower, q.LowerExclusive
		case c > 0:
			out.Lower, out.LowerExclusive = other.Lower, other.LowerExclusive
		default:
			out.Lower = q.Lower
			out.LowerExclusive = q.LowerExclusive && other.LowerExclusive
		}
	}

	switch {
	case q.UpperUnbounded || other.UpperUnbounded:
		out.UpperUnbounded = true
	default:
		c := bytes.Compare(q.Upper, other.Upper)
		switch {
		case c > 0:
			out.Upper, out.UpperInclusive = q.Upper, q.UpperInclusive
		case c < 0:
			out.Upper, out.UpperInclusive = other.Upper, other.UpperInclusive
		default:
			out.Upper = q.Upper
			out.UpperInclusive = q.UpperInclusive || other.UpperInclusive
		}
	}

	// A merged single point stays an exact-key item.
	if !out.LowerUnbounded && !out.UpperUnbounded && !out.LowerExclusive &&
		out.UpperInclusive && bytes.Equal(out.Lower, out.Upper) {
		out.IsKey = q.IsKey && other.IsKey
	}
	return out
}

// Less orders non-colliding items by keyspace position.
func (q QueryItem) Less(other QueryItem) bool {
	if q.LowerUnbounded != other.LowerUnbounded {
		return q.LowerUnbounded
	}
	if q.LowerUnbounded {
		return false
	}
	c := bytes.Compare(q.Lower, other.Lower)
	if c != 0 {
		return c < 0
	}
	return q.LowerExclusive && !other.LowerExclusive
}
