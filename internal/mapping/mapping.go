// Package mapping holds the cross-guild entity mapping table.
//
// Every structural cloner records the target entity it created under the
// source entity's identifier. Downstream cloners and the message migration
// engine consult the table to rewrite permission overwrites, mentions and
// deep links. Entries accumulate monotonically for the lifetime of a run and
// are only discarded by an explicit Reset.
package mapping

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/text/unicode/norm"
)

// Kind partitions the table by entity type.
type Kind string

const (
	KindChannel  Kind = "channels"
	KindCategory Kind = "categories"
	KindRole     Kind = "roles"
	KindEmoji    Kind = "emojis"
)

// Kinds lists all partitions in a stable order, for serialization.
var Kinds = []Kind{KindChannel, KindCategory, KindRole, KindEmoji}

// Entity is the target-side record stored for a source key.
type Entity struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// DuplicateMappingError is returned by Put when a source key is already
// mapped to a different target entity. Re-putting the identical entity is
// not an error; retried steps depend on that.
type DuplicateMappingError struct {
	Kind      Kind
	SourceKey string
	Existing  Entity
	Attempted Entity
}

func (e *DuplicateMappingError) Error() string {
	return fmt.Sprintf("duplicate mapping for %s/%s: have %s, got %s",
		e.Kind, e.SourceKey, e.Existing.ID, e.Attempted.ID)
}

// IsDuplicate reports whether err is a DuplicateMappingError.
func IsDuplicate(err error) bool {
	var d *DuplicateMappingError
	return errors.As(err, &d)
}

// Table maps source identifiers to created target entities, partitioned by
// kind. A secondary name index supports the degraded "fetch disabled" mode;
// identifier lookups always win when both are present.
//
// Thread-safety: all methods are safe for concurrent use. In practice the
// pipeline is the only writer and the command surface only reads.
type Table struct {
	mu      sync.RWMutex
	byID    map[Kind]map[string]Entity
	byName  map[Kind]map[string]Entity
	nameHit func(kind Kind, name string) // collision callback, may be nil
}

// New creates an empty table.
func New() *Table {
	t := &Table{
		byID:   make(map[Kind]map[string]Entity, len(Kinds)),
		byName: make(map[Kind]map[string]Entity, len(Kinds)),
	}
	for _, k := range Kinds {
		t.byID[k] = make(map[string]Entity)
		t.byName[k] = make(map[string]Entity)
	}
	return t
}

// OnNameCollision registers a callback invoked when PutName encounters a
// second distinct entity for an already-indexed name. The first entry wins.
func (t *Table) OnNameCollision(fn func(kind Kind, name string)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nameHit = fn
}

// Put records the target entity created for sourceKey. Idempotent for an
// identical entity; a differing entity yields a DuplicateMappingError.
func (t *Table) Put(kind Kind, sourceKey string, target Entity) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.byID[kind][sourceKey]; ok {
		if existing == target {
			return nil
		}
		return &DuplicateMappingError{
			Kind:      kind,
			SourceKey: sourceKey,
			Existing:  existing,
			Attempted: target,
		}
	}
	t.byID[kind][sourceKey] = target
	t.indexName(kind, target)
	return nil
}

// PutName records a target entity under a display name only. Used when
// identifier-based fetch is disabled on the source. Names are canonicalized
// so that visually equal names collide predictably; on collision the first
// entry is kept.
func (t *Table) PutName(kind Kind, name string, target Entity) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := canonicalName(name)
	if existing, ok := t.byName[kind][key]; ok {
		if existing != target && t.nameHit != nil {
			t.nameHit(kind, name)
		}
		return
	}
	t.byName[kind][key] = target
}

// Get returns the target entity for a source identifier. Absence is not an
// error: callers degrade gracefully (drop an overwrite, leave a mention
// unresolved).
func (t *Table) Get(kind Kind, sourceKey string) (Entity, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.byID[kind][sourceKey]
	return e, ok
}

// GetName resolves by display name. Only consulted when no identifier
// mapping exists for the reference.
func (t *Table) GetName(kind Kind, name string) (Entity, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.byName[kind][canonicalName(name)]
	return e, ok
}

// Resolve prefers the identifier mapping and falls back to the name index.
func (t *Table) Resolve(kind Kind, sourceKey, name string) (Entity, bool) {
	if e, ok := t.Get(kind, sourceKey); ok {
		return e, true
	}
	if name == "" {
		return Entity{}, false
	}
	return t.GetName(kind, name)
}

// Len reports the number of identifier mappings in a partition.
func (t *Table) Len(kind Kind) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byID[kind])
}

// Reset discards every entry in every partition.
func (t *Table) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, k := range Kinds {
		t.byID[k] = make(map[string]Entity)
		t.byName[k] = make(map[string]Entity)
	}
}

// Snapshot returns a deep copy of the identifier partitions for
// checkpointing. The name index is rebuilt on Restore.
func (t *Table) Snapshot() map[Kind]map[string]Entity {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[Kind]map[string]Entity, len(Kinds))
	for _, k := range Kinds {
		part := make(map[string]Entity, len(t.byID[k]))
		for key, e := range t.byID[k] {
			part[key] = e
		}
		out[k] = part
	}
	return out
}

// Restore replaces the table contents with a checkpoint snapshot.
func (t *Table) Restore(snap map[Kind]map[string]Entity) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, k := range Kinds {
		t.byID[k] = make(map[string]Entity)
		t.byName[k] = make(map[string]Entity)
	}
	for k, part := range snap {
		if _, ok := t.byID[k]; !ok {
			continue
		}
		for key, e := range part {
			t.byID[k][key] = e
			t.indexName(k, e)
		}
	}
}

// indexName adds the entity to the name index without clobbering an earlier
// winner. Caller holds the write lock.
func (t *Table) indexName(kind Kind, e Entity) {
	if e.Name == "" {
		return
	}
	key := canonicalName(e.Name)
	if _, ok := t.byName[kind][key]; !ok {
		t.byName[kind][key] = e
	}
}

// canonicalName folds a display name to a stable lookup key. NFKC collapses
// compatibility variants (full-width forms, ligatures) before case folding.
func canonicalName(name string) string {
	return strings.ToLower(norm.NFKC.String(name))
}
