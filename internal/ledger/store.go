// Package ledger implements the realtime-synchronized tree that backs the
// appointment and prescription collections. Values live under slash-joined
// logical paths (for example "appointments/{doctorId}/{patientId}"); a write
// replaces the subtree at its path and fans out asynchronously to every
// subscriber whose path overlaps the written one. Concurrency is
// last-write-wins at the granularity of a single Put path; read-modify-write
// callers use CompareAndPut to detect lost updates.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/carebook/clinic-ledger/pkg/logger"
	"github.com/carebook/clinic-ledger/pkg/monitoring"
	"github.com/carebook/clinic-ledger/pkg/types"
)

// Store is an in-memory realtime tree with subscriber fan-out.
// All exported methods are safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	root   map[string]interface{}
	logger *logger.Logger

	subMu   sync.Mutex
	subs    map[uint64]*Subscription
	nextSub uint64

	// push-key state, guarded by mu
	lastPushMs int64
	pushSeq    uint64
}

// NewStore creates an empty ledger store
func NewStore(log *logger.Logger) *Store {
	return &Store{
		root:   make(map[string]interface{}),
		logger: log,
		subs:   make(map[uint64]*Subscription),
	}
}

// splitPath validates and splits a slash-joined logical path
func splitPath(path string) ([]string, error) {
	if path == "" {
		return nil, types.NewValidationError(types.ErrCodeInvalidInput, "empty ledger path", nil)
	}
	segments := strings.Split(strings.Trim(path, "/"), "/")
	for _, seg := range segments {
		if seg == "" {
			return nil, types.NewValidationError(types.ErrCodeInvalidInput,
				fmt.Sprintf("ledger path %q contains an empty segment", path), nil)
		}
	}
	return segments, nil
}

// normalize deep-copies a value into the plain JSON shape the tree stores.
// Typed records go in as maps keyed by their wire field names, which keeps
// the stored layout identical to what any other client of the tree sees.
func normalize(value interface{}) (interface{}, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, types.NewInternalError("value is not representable in the ledger", err)
	}
	var out interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, types.NewInternalError("value round-trip failed", err)
	}
	return out, nil
}

// valueAt navigates the tree; callers hold at least a read lock
func (s *Store) valueAt(segments []string) (interface{}, bool) {
	var current interface{} = s.root
	for _, seg := range segments {
		node, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = node[seg]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// setAt writes a normalized value; callers hold the write lock
func (s *Store) setAt(segments []string, value interface{}) {
	node := s.root
	for _, seg := range segments[:len(segments)-1] {
		child, ok := node[seg].(map[string]interface{})
		if !ok {
			child = make(map[string]interface{})
			node[seg] = child
		}
		node = child
	}
	node[segments[len(segments)-1]] = value
}

// Put upserts a value at path and returns the committed value. The write is
// atomic per path: subscribers never observe a partially applied composite
// value. Fan-out to overlapping subscribers happens asynchronously after the
// write commits.
func (s *Store) Put(ctx context.Context, path string, value interface{}) (interface{}, error) {
	var err error
	defer func() { monitoring.RecordLedgerOp("put", err) }()

	if err = ctx.Err(); err != nil {
		return nil, err
	}
	segments, serr := splitPath(path)
	if serr != nil {
		err = serr
		return nil, err
	}
	stored, nerr := normalize(value)
	if nerr != nil {
		err = nerr
		return nil, err
	}

	s.mu.Lock()
	s.setAt(segments, stored)
	s.mu.Unlock()

	s.logger.StoreOperation("put", path, true, nil)
	s.notify(segments)
	return deepCopy(stored), nil
}

// Get returns the current value at path, or ok=false when absent
func (s *Store) Get(ctx context.Context, path string) (interface{}, bool, error) {
	var err error
	defer func() { monitoring.RecordLedgerOp("get", err) }()

	if err = ctx.Err(); err != nil {
		return nil, false, err
	}
	segments, serr := splitPath(path)
	if serr != nil {
		err = serr
		return nil, false, err
	}

	s.mu.RLock()
	value, ok := s.valueAt(segments)
	if ok {
		value = deepCopy(value)
	}
	s.mu.RUnlock()

	return value, ok, nil
}

// GetInto reads the value at path and decodes it into out, failing with a
// not found error when the path is absent and a schema error when the stored
// value does not fit the record shape.
func (s *Store) GetInto(ctx context.Context, path string, out interface{}) error {
	value, ok, err := s.Get(ctx, path)
	if err != nil {
		return err
	}
	if !ok {
		return types.NewNotFoundError("no record at " + path)
	}
	return Decode(value, out)
}

// Children returns the sorted child keys under path; absent paths and leaf
// values yield an empty slice.
func (s *Store) Children(ctx context.Context, path string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	segments, err := splitPath(path)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.valueAt(segments)
	if !ok {
		return nil, nil
	}
	node, ok := value.(map[string]interface{})
	if !ok {
		return nil, nil
	}
	keys := make([]string, 0, len(node))
	for key := range node {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

// Push mints a new strictly-increasing child key under path without writing
// a value. Keys embed a millisecond timestamp and a per-store sequence so
// concurrent mints never collide and later keys always sort after earlier
// ones; this is what makes prescription entry IDs collision-free without
// coordination between writers.
func (s *Store) Push(ctx context.Context, path string) (string, error) {
	var err error
	defer func() { monitoring.RecordLedgerOp("push", err) }()

	if err = ctx.Err(); err != nil {
		return "", err
	}
	if _, err = splitPath(path); err != nil {
		return "", err
	}

	s.mu.Lock()
	ms := time.Now().UnixMilli()
	if ms < s.lastPushMs {
		// clock went backwards; keep keys monotone
		ms = s.lastPushMs
	}
	if ms == s.lastPushMs {
		s.pushSeq++
	} else {
		s.lastPushMs = ms
		s.pushSeq = 0
	}
	key := fmt.Sprintf("%013d-%06d", ms, s.pushSeq)
	s.mu.Unlock()

	return key, nil
}

// HealthCheck probes the store for readiness reporting
func (s *Store) HealthCheck(ctx context.Context) monitoring.HealthCheck {
	start := time.Now()
	check := monitoring.HealthCheck{
		Name:        "ledger_store",
		Status:      monitoring.HealthStatusHealthy,
		LastChecked: start,
	}

	s.mu.RLock()
	topLevel := len(s.root)
	s.mu.RUnlock()
	s.subMu.Lock()
	active := len(s.subs)
	s.subMu.Unlock()

	check.Message = fmt.Sprintf("%d top-level collections, %d active subscriptions", topLevel, active)
	check.Duration = time.Since(start)
	return check
}

// Precondition inspects the current value at a path (ok=false when absent)
// and returns a typed error to reject the write.
type Precondition func(current interface{}, ok bool) error

// CompareAndPut performs a conditional write: the precondition runs under the
// store lock against the current value, and the write commits only when it
// returns nil. This closes the read-then-write race window of Put for
// operations like status transitions.
func (s *Store) CompareAndPut(ctx context.Context, path string, precondition Precondition, value interface{}) (interface{}, error) {
	var err error
	defer func() { monitoring.RecordLedgerOp("compare_and_put", err) }()

	if err = ctx.Err(); err != nil {
		return nil, err
	}
	segments, serr := splitPath(path)
	if serr != nil {
		err = serr
		return nil, err
	}
	stored, nerr := normalize(value)
	if nerr != nil {
		err = nerr
		return nil, err
	}

	s.mu.Lock()
	current, ok := s.valueAt(segments)
	if ok {
		current = deepCopy(current)
	}
	if err = precondition(current, ok); err != nil {
		s.mu.Unlock()
		s.logger.StoreOperation("compare_and_put", path, false, map[string]interface{}{"reason": err.Error()})
		return nil, err
	}
	s.setAt(segments, stored)
	s.mu.Unlock()

	s.logger.StoreOperation("compare_and_put", path, true, nil)
	s.notify(segments)
	return deepCopy(stored), nil
}

// deepCopy clones plain JSON values so callers can never mutate the tree
// through an alias
func deepCopy(value interface{}) interface{} {
	switch v := value.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for key, child := range v {
			out[key] = deepCopy(child)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, child := range v {
			out[i] = deepCopy(child)
		}
		return out
	default:
		return v
	}
}
