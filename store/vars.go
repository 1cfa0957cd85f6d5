package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/blockflow/blockflow"
)

// Vars routes scoped variable references to their backing tables: proj
// references to the project database, glob references to the application
// database. It is the VariableStore the server wires into the engine.
type Vars struct {
	Project VarValues
	Global  VarValues
}

// NewVars builds the scope router over the two open stores.
func NewVars(project *ProjectStore, app *AppStore) *Vars {
	return &Vars{Project: project.Vars(), Global: app.Vars()}
}

// Get resolves a reference against the store for its scope.
func (v *Vars) Get(ctx context.Context, ref blockflow.VarRef) (any, error) {
	table, err := v.table(ref.Scope)
	if err != nil {
		return nil, err
	}
	value, err := table.GetValue(ctx, ref.ID)
	if errors.Is(err, ErrVarNotFound) {
		return nil, blockflow.ErrVarNotFound
	}
	return value, err
}

// Set persists a value against the store for its scope.
func (v *Vars) Set(ctx context.Context, ref blockflow.VarRef, value any) error {
	table, err := v.table(ref.Scope)
	if err != nil {
		return err
	}
	err = table.SetValue(ctx, ref.ID, value)
	if errors.Is(err, ErrVarNotFound) {
		return blockflow.ErrVarNotFound
	}
	return err
}

func (v *Vars) table(scope blockflow.Scope) (VarValues, error) {
	switch scope {
	case blockflow.ScopeProject:
		if v.Project == nil {
			return nil, fmt.Errorf("store: project variable store not configured")
		}
		return v.Project, nil
	case blockflow.ScopeGlobal:
		if v.Global == nil {
			return nil, fmt.Errorf("store: global variable store not configured")
		}
		return v.Global, nil
	default:
		return nil, fmt.Errorf("%w: unknown scope %q", blockflow.ErrInvalidVarRef, scope)
	}
}

// Compile-time interface check.
var _ blockflow.VariableStore = (*Vars)(nil)
