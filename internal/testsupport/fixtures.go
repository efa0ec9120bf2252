// Package testsupport provides fixture builders for constructing catalog
// rows in tests, adapted from the teacher's testhelpers package (which
// built fixture HTTP responses and Terraform config strings) to instead
// build fixture catalog entities and an in-memory store.
package testsupport

import (
	"context"
	"fmt"
	"testing"

	"github.com/devops-wiz/apiflow/internal/catalog"
	"github.com/devops-wiz/apiflow/internal/sqlstore"
)

// NewMemoryStore opens a fresh in-memory SQLite-backed store for a
// single test and closes it on cleanup. Each test gets its own named
// in-memory database so parallel tests never see each other's rows.
func NewMemoryStore(t *testing.T) *sqlstore.Store {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	store, err := sqlstore.Open(dsn)
	if err != nil {
		t.Fatalf("open memory store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// MustCreateProject creates a project or fails the test.
func MustCreateProject(t *testing.T, store catalog.Store, name string) catalog.Project {
	t.Helper()
	p, err := store.CreateProject(context.Background(), catalog.Project{Name: name})
	if err != nil {
		t.Fatalf("create project %q: %v", name, err)
	}
	return p
}

// MustCreateApi creates an Api or fails the test.
func MustCreateApi(t *testing.T, store catalog.Store, projectRef, method, path string) catalog.Api {
	t.Helper()
	api, err := store.UpsertApi(context.Background(), catalog.Api{
		ProjectRef: projectRef,
		Method:     method,
		Path:       path,
	})
	if err != nil {
		t.Fatalf("create api %s %s: %v", method, path, err)
	}
	return api
}

// MustUpsertDependency creates a confirmed dependency edge or fails the
// test.
func MustUpsertDependency(t *testing.T, store catalog.Store, sourceID, targetID string) catalog.ApiDependency {
	t.Helper()
	dep, err := store.UpsertDependency(context.Background(), catalog.ApiDependency{
		SourceApiRef: sourceID,
		TargetApiRef: targetID,
		Mapping:      catalog.NewMapping(),
	})
	if err != nil {
		t.Fatalf("upsert dependency %s -> %s: %v", sourceID, targetID, err)
	}
	return dep
}

// MustUpsertVariable creates or updates a Variable or fails the test.
func MustUpsertVariable(t *testing.T, store catalog.Store, v catalog.Variable) catalog.Variable {
	t.Helper()
	saved, err := store.UpsertVariable(context.Background(), v)
	if err != nil {
		t.Fatalf("upsert variable %s: %v", v.Name, err)
	}
	return saved
}
