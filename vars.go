package blockflow

import (
	"context"
	"errors"
	"sync"
)

// ErrVarNotFound is returned by stores when a reference has no value.
var ErrVarNotFound = errors.New("variable not found")

// VariableStore maps scoped references to JSON-serializable values.
// The engine reads a node's input before the handler runs and writes its
// output after an OK result. Implementations are externally synchronized;
// the engine adds no locking of its own around reads and writes.
type VariableStore interface {
	// Get resolves the value behind a reference. A missing or unreadable
	// value is an error here; the engine degrades it to nil.
	Get(ctx context.Context, ref VarRef) (any, error)

	// Set persists a value behind a reference.
	Set(ctx context.Context, ref VarRef, value any) error
}

// MemVars is an in-memory VariableStore. It backs single-shot CLI runs
// and tests; the server wires the sqlite-backed store instead.
type MemVars struct {
	mu     sync.RWMutex
	values map[VarRef]any
}

// NewMemVars creates an empty in-memory variable store.
func NewMemVars() *MemVars {
	return &MemVars{values: make(map[VarRef]any)}
}

// Get resolves the value behind a reference.
func (m *MemVars) Get(ctx context.Context, ref VarRef) (any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.values[ref]
	if !ok {
		return nil, ErrVarNotFound
	}
	return v, nil
}

// Set persists a value behind a reference.
func (m *MemVars) Set(ctx context.Context, ref VarRef, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[ref] = value
	return nil
}

// Ensure interface compliance at compile time.
var _ VariableStore = (*MemVars)(nil)
