package grovedb

import "errors"

// Error taxonomy exposed across the database boundary. Callers test with
// errors.Is; messages carry the offending path or key context.
var (
	// ErrPathKeyNotFound means the terminal key of a path is missing.
	ErrPathKeyNotFound = errors.New("path key not found")
	// ErrPathParentLayerNotFound means an ancestor subtree of the path is
	// missing.
	ErrPathParentLayerNotFound = errors.New("path parent layer not found")
	// ErrInvalidPath means a path segment exists but is not a subtree.
	ErrInvalidPath = errors.New("invalid path")
	// ErrInvalidParentLayerPath means an ancestor segment exists but is
	// not a subtree.
	ErrInvalidParentLayerPath = errors.New("invalid parent layer path")
	// ErrCorruptedData flags undecodable or structurally lost state.
	ErrCorruptedData = errors.New("corrupted data")
	// ErrCorruptedPath flags a path that storage can no longer resolve.
	ErrCorruptedPath = errors.New("corrupted path")
	// ErrCorruptedReferencePathKeyNotFound flags a reference whose stored
	// target vanished.
	ErrCorruptedReferencePathKeyNotFound = errors.New("corrupted reference path key not found")
	// ErrMissingReference means a reference target does not exist.
	ErrMissingReference = errors.New("missing reference")
	// ErrReferenceLimit means reference resolution ran out of hops.
	ErrReferenceLimit = errors.New("reference limit reached")
	// ErrInvalidBatchOperation rejects an inconsistent or illegal batch.
	ErrInvalidBatchOperation = errors.New("invalid batch operation")
	// ErrOverrideNotAllowed rejects an insert over an existing value.
	ErrOverrideNotAllowed = errors.New("override not allowed")
	// ErrInvalidCodeExecution flags caller misuse of internal surfaces.
	ErrInvalidCodeExecution = errors.New("invalid code execution")
	// ErrCorruptedCodeExecution flags states the engine should never
	// reach.
	ErrCorruptedCodeExecution = errors.New("corrupted code execution")
)
