package blockflow

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidVarRef is returned when a scoped reference cannot be parsed.
var ErrInvalidVarRef = errors.New("invalid variable reference")

// Scope selects which variable store a reference resolves against.
type Scope string

const (
	// ScopeProject resolves against the project-local store.
	ScopeProject Scope = "proj"

	// ScopeGlobal resolves against the application-wide store.
	ScopeGlobal Scope = "glob"
)

// VarRef is a scoped variable reference. Its wire form is a prefixed
// string, "proj:<id>" or "glob:<id>". Resolution and storage are
// delegated; the engine only parses and formats the tag.
type VarRef struct {
	Scope Scope
	ID    int64
}

// ParseVarRef parses the wire form of a scoped reference.
func ParseVarRef(s string) (VarRef, error) {
	prefix, rest, ok := strings.Cut(s, ":")
	if !ok {
		return VarRef{}, fmt.Errorf("%w: %q", ErrInvalidVarRef, s)
	}

	var scope Scope
	switch Scope(prefix) {
	case ScopeProject:
		scope = ScopeProject
	case ScopeGlobal:
		scope = ScopeGlobal
	default:
		return VarRef{}, fmt.Errorf("%w: unknown scope %q", ErrInvalidVarRef, prefix)
	}

	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		return VarRef{}, fmt.Errorf("%w: %q", ErrInvalidVarRef, s)
	}

	return VarRef{Scope: scope, ID: id}, nil
}

// String formats the reference back into its wire form.
func (r VarRef) String() string {
	return string(r.Scope) + ":" + strconv.FormatInt(r.ID, 10)
}

// IsZero reports whether the reference is unset.
func (r VarRef) IsZero() bool {
	return r.Scope == "" && r.ID == 0
}
