// Package registry implements the Dependency Registry (C6): promoting a
// candidate (or a manually constructed mapping) into a confirmed
// ApiDependency, and re-tagging the variables it binds.
package registry

import (
	"context"
	"fmt"

	"github.com/devops-wiz/apiflow/internal/catalog"
)

// Registry confirms dependencies against a store.
type Registry struct {
	Store catalog.Store
}

// New constructs a Registry bound to store.
func New(store catalog.Store) *Registry {
	return &Registry{Store: store}
}

// Promote upserts dep on (source, target) and re-tags every target
// Variable named in the mapping's keys as "dependent" — the sole path by
// which a variable leaves the user_input/candidate state.
func (r *Registry) Promote(ctx context.Context, dep catalog.ApiDependency) (catalog.ApiDependency, error) {
	if dep.SourceApiRef == dep.TargetApiRef {
		return catalog.ApiDependency{}, catalog.ErrSelfDependency
	}

	var saved catalog.ApiDependency
	err := r.Store.WithTx(ctx, func(tx catalog.Tx) error {
		var err error
		saved, err = tx.UpsertDependency(ctx, dep)
		if err != nil {
			return fmt.Errorf("upsert dependency: %w", err)
		}
		for _, targetVarName := range dep.Mapping.Keys {
			if err := retagVariable(ctx, tx, dep.TargetApiRef, targetVarName); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return catalog.ApiDependency{}, err
	}
	return saved, nil
}

// Delete removes a confirmed dependency. Variable tags are left as-is;
// the spec does not require reverting a variable's type on dependency
// removal.
func (r *Registry) Delete(ctx context.Context, id string) error {
	return r.Store.DeleteDependency(ctx, id)
}

func retagVariable(ctx context.Context, tx catalog.Tx, apiRef, varName string) error {
	for _, loc := range []catalog.VariableLocation{
		catalog.LocationPath, catalog.LocationQuery, catalog.LocationHeader, catalog.LocationBody,
	} {
		if _, found, err := tx.GetVariable(ctx, apiRef, varName, loc); err != nil {
			return fmt.Errorf("lookup variable %s: %w", varName, err)
		} else if found {
			return tx.SetVariableType(ctx, apiRef, varName, loc, catalog.VarDependent)
		}
	}
	return nil
}
