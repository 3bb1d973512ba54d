package world

import "fmt"

// ValidationError reports input rejected before any I/O was attempted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NotFoundError reports a lookup that matched nothing. Plain record reads
// signal absence with a nil result instead; this type is used where a nil
// payload would be ambiguous, such as fetching model bytes.
type NotFoundError struct {
	Resource string
	Key      string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.Key)
}

// UpstreamStorageError wraps a blob-store failure. Surfaced from SaveChunk
// before any record write, so it never leaves partial state behind.
type UpstreamStorageError struct {
	Op  string
	Err error
}

func (e *UpstreamStorageError) Error() string {
	return fmt.Sprintf("blob store %s failed: %v", e.Op, e.Err)
}

func (e *UpstreamStorageError) Unwrap() error { return e.Err }

// PersistenceError wraps a record-store failure. Callers decide retry policy;
// the core does not retry internally.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("chunk store %s failed: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// ConsistencyWarning records a neighbor-linking failure after the chunk
// record itself is already durable. The neighbor cache is derived data, so
// linking failures are logged and never fail the save that triggered them.
type ConsistencyWarning struct {
	Position ChunkPosition
	Err      error
}

func (e *ConsistencyWarning) Error() string {
	return fmt.Sprintf("neighbor linking incomplete at %s: %v", e.Position.Key(), e.Err)
}

func (e *ConsistencyWarning) Unwrap() error { return e.Err }
