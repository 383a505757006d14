package grovedb

import (
	"fmt"

	"github.com/dashpay/grovedb-sub000/element"
	"github.com/dashpay/grovedb-sub000/query"
)

// QueryResult is one emitted entry of a path query.
type QueryResult struct {
	Path    [][]byte
	Key     []byte
	Element *element.Element
}

// Query executes a path query, following references in emitted results.
func (db *DB) Query(pq *query.PathQuery) ([]QueryResult, error) {
	return db.query(pq, true)
}

// QueryRaw executes a path query without following references.
func (db *DB) QueryRaw(pq *query.PathQuery) ([]QueryResult, error) {
	return db.query(pq, false)
}

func (db *DB) query(pq *query.PathQuery, followReferences bool) ([]QueryResult, error) {
	if pq.Query == nil || pq.Query.Query == nil {
		return nil, fmt.Errorf("%w: path query without a query", ErrInvalidPath)
	}
	exec := &queryExecutor{db: db, follow: followReferences}
	if pq.Query.Limit != nil {
		remaining := *pq.Query.Limit
		exec.limit = &remaining
	}
	if pq.Query.Offset != nil {
		remaining := *pq.Query.Offset
		exec.offset = &remaining
	}
	if err := exec.run(pq.Path, pq.Query.Query); err != nil {
		return nil, err
	}
	return exec.results, nil
}

type queryExecutor struct {
	db      *DB
	follow  bool
	limit   *uint16
	offset  *uint16
	results []QueryResult
}

func (e *queryExecutor) done() bool {
	return e.limit != nil && *e.limit == 0
}

// emit appends one result, honoring offset and limit.
func (e *queryExecutor) emit(path [][]byte, key []byte, el *element.Element) error {
	if e.offset != nil && *e.offset > 0 {
		*e.offset--
		return nil
	}
	if e.follow && el.IsReference() {
		qualified, err := el.Ref.Resolve(path)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidPath, err)
		}
		hops := uint8(MaxReferenceHops)
		if el.MaxHops != nil {
			hops = *el.MaxHops
		}
		el, err = e.db.followReference(qualified, hops)
		if err != nil {
			// a stored reference that no longer resolves is corruption,
			// not caller error
			if errorIsAny(err, ErrMissingReference) {
				return fmt.Errorf("%w: %v", ErrCorruptedReferencePathKeyNotFound, err)
			}
			return err
		}
	}
	e.results = append(e.results, QueryResult{Path: path, Key: key, Element: el})
	if e.limit != nil {
		*e.limit--
	}
	return nil
}

// run walks one subtree under q, descending into matched subtrees when a
// subquery applies.
func (e *queryExecutor) run(path [][]byte, q *query.Query) error {
	m, err := e.db.openMerk(path, nil)
	if err != nil {
		return err
	}

	for _, item := range q.ItemsInDirection() {
		if e.done() {
			return nil
		}
		err := m.IterateItem(item, q.LeftToRight, func(key, value []byte) (bool, error) {
			if e.done() {
				return false, nil
			}
			el, err := element.Deserialize(value)
			if err != nil {
				return false, fmt.Errorf("%w: unable to deserialize element", ErrCorruptedData)
			}

			subqueryPath, subquery, hasSubquery := effectiveSubquery(q, key)
			if hasSubquery && el.IsTree() {
				if q.AddParentTreeOnSubquery {
					if err := e.emit(clonePath(path), key, el); err != nil {
						return false, err
					}
				}
				if err := e.descend(clonePath(path, key), subqueryPath, subquery); err != nil {
					return false, err
				}
				return !e.done(), nil
			}

			if err := e.emit(clonePath(path), key, el); err != nil {
				return false, err
			}
			return !e.done(), nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// descend follows a subquery path below a matched subtree and applies the
// subquery (or fetches the terminal element when there is none).
func (e *queryExecutor) descend(path [][]byte, subqueryPath [][]byte, subquery *query.Query) error {
	for i, segment := range subqueryPath {
		el, err := e.db.fetchElement(path, segment)
		if err != nil {
			if isNotFound(err) {
				return nil // nothing on this branch
			}
			return err
		}
		if !el.IsTree() {
			// a terminal non-tree element at the end of the subquery path
			// is itself the result
			if subquery == nil && i == len(subqueryPath)-1 {
				return e.emit(clonePath(path), segment, el)
			}
			return nil
		}
		path = clonePath(path, segment)
	}
	if subquery == nil {
		return nil
	}
	err := e.run(path, subquery)
	if err != nil && isNotFound(err) {
		return nil
	}
	return err
}

// effectiveSubquery resolves which descent applies at a matched key: a
// conditional subquery wins over the default.
func effectiveSubquery(q *query.Query, key []byte) ([][]byte, *query.Query, bool) {
	if cs := q.ConditionalSubqueryFor(key); cs != nil {
		return cs.SubqueryPath, cs.Subquery, true
	}
	if q.Subquery != nil || len(q.SubqueryPath) > 0 {
		return q.SubqueryPath, q.Subquery, true
	}
	return nil, nil, false
}
