package query

// Query selects keys from one subtree and describes how to descend into
// matched subtrees.
type Query struct {
	// Items are the selections, kept sorted and non-overlapping by
	// InsertItem.
	Items []QueryItem

	// SubqueryPath descends through intermediate keys below each matched
	// subtree before Subquery applies.
	SubqueryPath [][]byte

	// Subquery applies inside every matched subtree (after SubqueryPath).
	Subquery *Query

	// ConditionalSubqueries override Subquery for keys matching their
	// item. First match wins, in insertion order.
	ConditionalSubqueries []ConditionalSubquery

	// LeftToRight orders iteration; false walks keys in descending order.
	LeftToRight bool

	// AddParentTreeOnSubquery also emits the parent tree element itself
	// when a subquery descends into it.
	AddParentTreeOnSubquery bool
}

// ConditionalSubquery applies a subquery only to keys matched by Item.
type ConditionalSubquery struct {
	Item         QueryItem
	SubqueryPath [][]byte
	Subquery     *Query
}

// NewQuery creates an empty ascending query.
func NewQuery() *Query {
	return &Query{LeftToRight: true}
}

// InsertKey adds a single key to the query.
func (q *Query) InsertKey(key []byte) {
	q.InsertItem(NewKey(key))
}

// InsertAll selects every key, discarding other items.
func (q *Query) InsertAll() {
	q.InsertItem(NewRangeFull())
}

// InsertItem adds an item, merging it with every colliding existing item so
// the query covers no part of keyspace twice.
func (q *Query) InsertItem(item QueryItem) {
	merged := item
	remaining := q.Items[:0]
	for _, existing := range q.Items {
		if merged.Collides(existing) {
			merged = merged.Merge(existing)
		} else {
			remaining = append(remaining, existing)
		}
	}
	// insert sorted
	pos := len(remaining)
	for i, existing := range remaining {
		if merged.Less(existing) {
			pos = i
			break
		}
	}
	remaining = append(remaining, QueryItem{})
	copy(remaining[pos+1:], remaining[pos:])
	remaining[pos] = merged
	q.Items = remaining
}

// SetSubquery applies sub inside every matched subtree.
func (q *Query) SetSubquery(sub *Query) {
	q.Subquery = sub
}

// SetSubqueryPath descends through the given keys before the subquery.
func (q *Query) SetSubqueryPath(path [][]byte) {
	q.SubqueryPath = path
}

// AddConditionalSubquery overrides the default subquery for keys matching
// item.
func (q *Query) AddConditionalSubquery(item QueryItem, subqueryPath [][]byte, sub *Query) {
	q.ConditionalSubqueries = append(q.ConditionalSubqueries, ConditionalSubquery{
		Item:         item,
		SubqueryPath: subqueryPath,
		Subquery:     sub,
	})
}

// ConditionalSubqueryFor returns the first conditional subquery whose item
// contains key, or nil.
func (q *Query) ConditionalSubqueryFor(key []byte) *ConditionalSubquery {
	for i := range q.ConditionalSubqueries {
		if q.ConditionalSubqueries[i].Item.Contains(key) {
			return &q.ConditionalSubqueries[i]
		}
	}
	return nil
}

// HasSubquery reports whether any descent applies below matched keys.
func (q *Query) HasSubquery() bool {
	return q.Subquery != nil || len(q.SubqueryPath) > 0 || len(q.ConditionalSubqueries) > 0
}

// ItemsInDirection returns the items ordered by the query direction.
func (q *Query) ItemsInDirection() []QueryItem {
	if q.LeftToRight {
		return q.Items
	}
	out := make([]QueryItem, len(q.Items))
	for i, item := range q.Items {
		out[len(q.Items)-1-i] = item
	}
	return out
}

// SizedQuery bounds a query with a result limit and offset.
type SizedQuery struct {
	Query *Query
	// Limit caps the number of emitted results. Nil is unlimited.
	Limit *uint16
	// Offset skips that many matches before emitting. Nil skips none.
	// Offsets apply to direct execution only; proofs reject them.
	Offset *uint16
}

// NewSizedQuery wraps a query without bounds.
func NewSizedQuery(q *Query) *SizedQuery {
	return &SizedQuery{Query: q}
}

// NewSizedQueryWithLimit wraps a query with a result cap.
func NewSizedQueryWithLimit(q *Query, limit uint16) *SizedQuery {
	return &SizedQuery{Query: q, Limit: &limit}
}

// PathQuery addresses a subtree by path and queries inside it.
type PathQuery struct {
	Path  [][]byte
	Query *SizedQuery
}

// NewPathQuery builds a path query without bounds.
func NewPathQuery(path [][]byte, q *Query) *PathQuery {
	return &PathQuery{Path: path, Query: NewSizedQuery(q)}
}

// NewPathQueryWithLimit builds a path query with a result cap.
func NewPathQueryWithLimit(path [][]byte, q *Query, limit uint16) *PathQuery {
	return &PathQuery{Path: path, Query: NewSizedQueryWithLimit(q, limit)}
}
