package grovedb

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/google/btree"

	"github.com/dashpay/grovedb-sub000/element"
	"github.com/dashpay/grovedb-sub000/hashing"
	"github.com/dashpay/grovedb-sub000/merk"
	"github.com/dashpay/grovedb-sub000/storage"
)

type batchOpKind uint8

const (
	batchInsert batchOpKind = iota
	batchReplace
	batchDelete
	batchDeleteTree
	batchDeleteSumTree
	// internal kinds, synthesized during propagation and not
	// constructible by callers
	batchReplaceTreeRootKey
	batchInsertTreeWithRootHash
)

// BatchOp is one (path, key, op) entry of a cross-subtree batch. Use the
// constructors; the zero value is invalid.
type BatchOp struct {
	Path    [][]byte
	Key     []byte
	Element *element.Element

	kind batchOpKind

	// propagation payload
	hash      hashing.Hash
	rootKey   []byte
	aggregate merk.AggregateData
}

// InsertOp stores an element at (path, key).
func InsertOp(path [][]byte, key []byte, el *element.Element) BatchOp {
	return BatchOp{Path: path, Key: key, Element: el, kind: batchInsert}
}

// ReplaceOp overwrites the element at (path, key).
func ReplaceOp(path [][]byte, key []byte, el *element.Element) BatchOp {
	return BatchOp{Path: path, Key: key, Element: el, kind: batchReplace}
}

// DeleteOp removes a scalar or an empty subtree handle.
func DeleteOp(path [][]byte, key []byte) BatchOp {
	return BatchOp{Path: path, Key: key, kind: batchDelete}
}

// DeleteTreeOp removes a subtree handle, subject to the batch's non-empty
// deletion policy.
func DeleteTreeOp(path [][]byte, key []byte) BatchOp {
	return BatchOp{Path: path, Key: key, kind: batchDeleteTree}
}

// DeleteSumTreeOp removes a summing subtree handle.
func DeleteSumTreeOp(path [][]byte, key []byte) BatchOp {
	return BatchOp{Path: path, Key: key, kind: batchDeleteSumTree}
}

// BatchApplyOptions control validation and deletion policy for one batch.
type BatchApplyOptions struct {
	ValidateInsertionDoesNotOverride     bool
	ValidateInsertionDoesNotOverrideTree bool
	AllowDeletingNonEmptyTrees           bool
	DeletingNonEmptyTreesReturnsError    bool
	DisableOperationConsistencyCheck     bool
	// BaseRootStorageIsFree is carried for storage accounting layers; the
	// engine itself treats the base root like any other write.
	BaseRootStorageIsFree bool
}

// DefaultBatchApplyOptions protect subtrees from overrides and refuse
// non-empty deletions.
func DefaultBatchApplyOptions() *BatchApplyOptions {
	return &BatchApplyOptions{
		ValidateInsertionDoesNotOverrideTree: true,
		DeletingNonEmptyTreesReturnsError:    true,
		BaseRootStorageIsFree:                true,
	}
}

// ApplyBatch groups the operations by (level, path), validates them,
// executes bottom-up with root-hash propagation, and commits atomically.
func (db *DB) ApplyBatch(ops []BatchOp, options *BatchApplyOptions) error {
	return db.ApplyBatchWithFlagsUpdate(ops, options, nil, nil)
}

// ApplyBatchWithFlagsUpdate is ApplyBatch with commit hooks: updateHook
// may rewrite element flags in place as values are replaced, removalHook
// classifies removed bytes.
func (db *DB) ApplyBatchWithFlagsUpdate(ops []BatchOp, options *BatchApplyOptions, updateHook merk.UpdateHook, removalHook merk.RemovalHook) error {
	if len(ops) == 0 {
		return nil
	}
	if options == nil {
		options = DefaultBatchApplyOptions()
	}
	if !options.DisableOperationConsistencyCheck {
		if err := validateBatchConsistency(ops); err != nil {
			return err
		}
	}

	batch := storage.NewBatch()
	bs, err := db.buildBatchStructure(ops, options, batch, updateHook, removalHook)
	if err != nil {
		return err
	}
	if err := bs.execute(); err != nil {
		return err
	}
	return db.store.CommitBatch(batch)
}

// validateBatchConsistency rejects duplicate (path, key) targets and
// inserts below a path deleted in the same batch.
func validateBatchConsistency(ops []BatchOp) error {
	seen := make(map[string]struct{}, len(ops))
	for i := range ops {
		qualified := encodePathKey(clonePath(ops[i].Path, ops[i].Key))
		if _, dup := seen[qualified]; dup {
			return fmt.Errorf("%w: batch operations fail consistency checks", ErrInvalidBatchOperation)
		}
		seen[qualified] = struct{}{}
	}
	for i := range ops {
		switch ops[i].kind {
		case batchDelete, batchDeleteTree, batchDeleteSumTree:
		default:
			continue
		}
		deleted := clonePath(ops[i].Path, ops[i].Key)
		for j := range ops {
			if ops[j].kind != batchInsert && ops[j].kind != batchReplace {
				continue
			}
			if len(ops[j].Path) > len(ops[i].Path) && pathHasPrefix(ops[j].Path, deleted) {
				return fmt.Errorf("%w: batch operations fail consistency checks", ErrInvalidBatchOperation)
			}
		}
	}
	return nil
}

// encodePathKey flattens a path into an order-preserving string key.
func encodePathKey(path [][]byte) string {
	var buf []byte
	for _, segment := range path {
		buf = binary.BigEndian.AppendUint16(buf, uint16(len(segment)))
		buf = append(buf, segment...)
	}
	return string(buf)
}

// pathOps holds one subtree's operations, keyed and ordered.
type pathOps struct {
	encoded string
	path    [][]byte
	byKey   map[string]*BatchOp
}

func lessPathOps(a, b *pathOps) bool {
	return a.encoded < b.encoded
}

type batchStructure struct {
	db      *DB
	options *BatchApplyOptions
	batch   *storage.Batch

	// levels[n] holds the op groups for paths of length n, ordered.
	levels []*btree.BTreeG[*pathOps]
	// byQualified maps qualified paths to their op for in-batch
	// reference resolution.
	byQualified map[string]*BatchOp

	// merks caches one live merk per path for the whole apply.
	merks map[string]*merk.Merk
	// newTrees registers subtrees created by this batch, so deeper
	// operations can open them before the parent handle commits.
	newTrees map[string]merk.TreeType

	updateHook  merk.UpdateHook
	removalHook merk.RemovalHook
}

func (db *DB) buildBatchStructure(ops []BatchOp, options *BatchApplyOptions, batch *storage.Batch, updateHook merk.UpdateHook, removalHook merk.RemovalHook) (*batchStructure, error) {
	bs := &batchStructure{
		db:          db,
		options:     options,
		batch:       batch,
		byQualified: make(map[string]*BatchOp, len(ops)),
		merks:       make(map[string]*merk.Merk),
		newTrees:    make(map[string]merk.TreeType),
		updateHook:  updateHook,
		removalHook: removalHook,
	}
	maxLevel := 0
	for i := range ops {
		if len(ops[i].Path) > maxLevel {
			maxLevel = len(ops[i].Path)
		}
	}
	bs.levels = make([]*btree.BTreeG[*pathOps], maxLevel+1)

	for i := range ops {
		op := ops[i]
		bs.insertOp(&op)
		qualified := clonePath(op.Path, op.Key)
		bs.byQualified[encodePathKey(qualified)] = &op

		if (op.kind == batchInsert || op.kind == batchReplace) && op.Element != nil && op.Element.IsTree() {
			treeType, _ := treeTypeForElement(op.Element)
			bs.newTrees[pathCacheKey(qualified)] = treeType
		}
	}
	return bs, nil
}

func (bs *batchStructure) insertOp(op *BatchOp) {
	level := len(op.Path)
	if bs.levels[level] == nil {
		bs.levels[level] = btree.NewG(8, lessPathOps)
	}
	probe := &pathOps{encoded: encodePathKey(op.Path)}
	group, ok := bs.levels[level].Get(probe)
	if !ok {
		group = &pathOps{
			encoded: probe.encoded,
			path:    op.Path,
			byKey:   make(map[string]*BatchOp),
		}
		bs.levels[level].ReplaceOrInsert(group)
	}
	group.byKey[string(op.Key)] = op
}

// getMerk opens (or reuses) the merk at path, recognizing subtrees created
// earlier in the same batch.
func (bs *batchStructure) getMerk(path [][]byte) (*merk.Merk, error) {
	key := pathCacheKey(path)
	if m, ok := bs.merks[key]; ok {
		return m, nil
	}
	var m *merk.Merk
	var err error
	if treeType, ok := bs.newTrees[key]; ok {
		m, err = merk.Open(bs.db.context(path, bs.batch), treeType)
	} else {
		m, err = bs.db.openMerk(path, bs.batch)
	}
	if err != nil {
		return nil, err
	}
	bs.merks[key] = m
	return m, nil
}

// execute runs the structure bottom-up, propagating each subtree's new
// root into its parent's level.
func (bs *batchStructure) execute() error {
	for level := len(bs.levels) - 1; level >= 0; level-- {
		tree := bs.levels[level]
		if tree == nil {
			continue
		}
		var groups []*pathOps
		tree.Ascend(func(group *pathOps) bool {
			groups = append(groups, group)
			return true
		})
		for _, group := range groups {
			rootHash, rootKey, aggregate, err := bs.executeOpsOnPath(group)
			if err != nil {
				return err
			}
			if level == 0 {
				continue
			}
			if err := bs.propagate(group.path, rootHash, rootKey, aggregate); err != nil {
				return err
			}
		}
	}
	return nil
}

// propagate synthesizes or merges the parent-level op carrying a child
// subtree's new root triple.
func (bs *batchStructure) propagate(path [][]byte, rootHash hashing.Hash, rootKey []byte, aggregate merk.AggregateData) error {
	parentPath, key := path[:len(path)-1], path[len(path)-1]
	level := len(parentPath)
	if bs.levels[level] == nil {
		bs.levels[level] = btree.NewG(8, lessPathOps)
	}
	probe := &pathOps{encoded: encodePathKey(parentPath)}
	group, ok := bs.levels[level].Get(probe)
	if !ok {
		group = &pathOps{
			encoded: probe.encoded,
			path:    parentPath,
			byKey:   make(map[string]*BatchOp),
		}
		bs.levels[level].ReplaceOrInsert(group)
	}

	existing, ok := group.byKey[string(key)]
	if !ok {
		group.byKey[string(key)] = &BatchOp{
			Path:      parentPath,
			Key:       key,
			kind:      batchReplaceTreeRootKey,
			hash:      rootHash,
			rootKey:   rootKey,
			aggregate: aggregate,
		}
		return nil
	}

	switch existing.kind {
	case batchReplaceTreeRootKey:
		existing.hash = rootHash
		existing.rootKey = rootKey
		existing.aggregate = aggregate
	case batchInsertTreeWithRootHash:
		return fmt.Errorf("%w: we can not do this operation twice", ErrCorruptedCodeExecution)
	case batchInsert, batchReplace:
		if existing.Element == nil || !existing.Element.IsTree() {
			return fmt.Errorf("%w: insertion of element under a non tree", ErrInvalidBatchOperation)
		}
		existing.kind = batchInsertTreeWithRootHash
		existing.hash = rootHash
		existing.rootKey = rootKey
		existing.aggregate = aggregate
	case batchDelete, batchDeleteTree, batchDeleteSumTree:
		if rootKey != nil {
			return fmt.Errorf("%w: modification of tree when it will be deleted", ErrInvalidBatchOperation)
		}
	}
	return nil
}

// executeOpsOnPath translates one subtree's ops into a merk batch,
// resolving references, and applies it.
func (bs *batchStructure) executeOpsOnPath(group *pathOps) (hashing.Hash, []byte, merk.AggregateData, error) {
	m, err := bs.getMerk(group.path)
	if err != nil {
		return hashing.NullHash, nil, merk.AggregateData{}, err
	}

	keys := make([]string, 0, len(group.byKey))
	for k := range group.byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var merkOps []merk.Op
	for _, k := range keys {
		op := group.byKey[k]
		translated, skip, err := bs.translateOp(m, group.path, op)
		if err != nil {
			return hashing.NullHash, nil, merk.AggregateData{}, err
		}
		if skip {
			continue
		}
		merkOps = append(merkOps, translated)
	}

	if len(merkOps) > 0 {
		if _, err := m.Apply(merkOps, bs.updateHook, bs.removalHook); err != nil {
			if errorIsAny(err, merk.ErrNotFound) {
				return hashing.NullHash, nil, merk.AggregateData{}, fmt.Errorf("%w: %v", ErrPathKeyNotFound, err)
			}
			return hashing.NullHash, nil, merk.AggregateData{}, err
		}
	}
	hash, rootKey, aggregate, err := m.RootHashKeyAndAggregate()
	return hash, rootKey, aggregate, err
}

func (bs *batchStructure) translateOp(m *merk.Merk, path [][]byte, op *BatchOp) (merk.Op, bool, error) {
	switch op.kind {
	case batchInsert, batchReplace:
		return bs.translateWrite(m, path, op)

	case batchDelete, batchDeleteTree, batchDeleteSumTree:
		existing, err := m.Get(op.Key)
		if err != nil {
			if isMerkNotFound(err) {
				return merk.Op{}, false, fmt.Errorf("%w: delete of missing key %x", ErrPathKeyNotFound, op.Key)
			}
			return merk.Op{}, false, err
		}
		el, err := element.Deserialize(existing)
		if err != nil {
			return merk.Op{}, false, fmt.Errorf("%w: unable to deserialize element", ErrCorruptedData)
		}
		if el.IsTree() && el.RootKey != nil {
			if op.kind == batchDelete {
				return merk.Op{}, false, fmt.Errorf("%w: delete of a non-empty tree needs a tree delete op", ErrInvalidBatchOperation)
			}
			if !bs.options.AllowDeletingNonEmptyTrees {
				if bs.options.DeletingNonEmptyTreesReturnsError {
					return merk.Op{}, false, fmt.Errorf("%w: subtree %x is not empty", ErrInvalidBatchOperation, op.Key)
				}
				return merk.Op{}, true, nil
			}
			if err := bs.db.clearSubtree(clonePath(path, op.Key), bs.batch); err != nil {
				return merk.Op{}, false, err
			}
		}
		return merk.Op{Key: op.Key, Kind: merk.OpDelete}, false, nil

	case batchReplaceTreeRootKey:
		el, err := fetchElementFromMerk(m, op.Key)
		if err != nil {
			return merk.Op{}, false, err
		}
		if !el.IsTree() {
			return merk.Op{}, false, fmt.Errorf("%w: can only propagate on tree items", ErrInvalidBatchOperation)
		}
		applyAggregateToElement(el, op.rootKey, op.aggregate)
		out, err := merkOpForElement(op.Key, el, op.hash)
		return out, false, err

	case batchInsertTreeWithRootHash:
		elCopy := *op.Element
		applyAggregateToElement(&elCopy, op.rootKey, op.aggregate)
		out, err := merkOpForElement(op.Key, &elCopy, op.hash)
		return out, false, err
	}
	return merk.Op{}, false, fmt.Errorf("%w: unknown batch op kind", ErrCorruptedCodeExecution)
}

func (bs *batchStructure) translateWrite(m *merk.Merk, path [][]byte, op *BatchOp) (merk.Op, bool, error) {
	el := op.Element
	if el == nil {
		return merk.Op{}, false, fmt.Errorf("%w: write without an element", ErrInvalidBatchOperation)
	}

	if op.kind == batchInsert &&
		(bs.options.ValidateInsertionDoesNotOverride || bs.options.ValidateInsertionDoesNotOverrideTree) {
		existing, err := m.Get(op.Key)
		if err != nil && !isMerkNotFound(err) {
			return merk.Op{}, false, err
		}
		if existing != nil {
			if bs.options.ValidateInsertionDoesNotOverride {
				return merk.Op{}, false, fmt.Errorf("%w: attempting to override", ErrInvalidBatchOperation)
			}
			existingEl, err := element.Deserialize(existing)
			if err != nil {
				return merk.Op{}, false, fmt.Errorf("%w: unable to deserialize element", ErrCorruptedData)
			}
			if existingEl.IsTree() {
				return merk.Op{}, false, fmt.Errorf("%w: attempting to overwrite a tree", ErrInvalidBatchOperation)
			}
		}
	}

	switch {
	case el.IsReference():
		qualified, err := el.Ref.Resolve(path)
		if err != nil {
			return merk.Op{}, false, fmt.Errorf("%w: attempting to insert an empty reference", ErrInvalidBatchOperation)
		}
		hops := uint8(MaxReferenceHops)
		if el.MaxHops != nil {
			hops = *el.MaxHops
		}
		valueHash, err := bs.followReferenceGetValueHash(qualified, hops)
		if err != nil {
			return merk.Op{}, false, err
		}
		out, err := merkOpForElement(op.Key, el, valueHash)
		return out, false, err

	case el.IsTree():
		// fresh tree handle: bound to the null root until propagation
		// upgrades it
		out, err := merkOpForElement(op.Key, el, hashing.NullHash)
		return out, false, err

	default:
		out, err := merkOpForElement(op.Key, el, hashing.NullHash)
		return out, false, err
	}
}
