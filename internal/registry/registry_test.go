package registry_test

import (
	"context"
	"errors"
	"testing"

	"github.com/devops-wiz/apiflow/internal/catalog"
	"github.com/devops-wiz/apiflow/internal/registry"
	"github.com/devops-wiz/apiflow/internal/testsupport"
)

func TestPromote_RejectsSelfDependency(t *testing.T) {
	ctx := context.Background()
	store := testsupport.NewMemoryStore(t)
	project := testsupport.MustCreateProject(t, store, "p1")
	api := testsupport.MustCreateApi(t, store, project.ID, "GET", "/widgets")

	r := registry.New(store)
	_, err := r.Promote(ctx, catalog.ApiDependency{SourceApiRef: api.ID, TargetApiRef: api.ID})
	if !errors.Is(err, catalog.ErrSelfDependency) {
		t.Fatalf("expected ErrSelfDependency, got %v", err)
	}
}

func TestPromote_RetagsMappedVariablesAsDependent(t *testing.T) {
	ctx := context.Background()
	store := testsupport.NewMemoryStore(t)
	project := testsupport.MustCreateProject(t, store, "p1")

	producer := testsupport.MustCreateApi(t, store, project.ID, "POST", "/orders")
	consumer := testsupport.MustCreateApi(t, store, project.ID, "GET", "/orders/{id}")
	testsupport.MustUpsertVariable(t, store, catalog.Variable{
		ApiRef: consumer.ID, Name: "id", Location: catalog.LocationPath,
		VarType: catalog.VarUserInput, DataType: "string", Required: true,
	})

	mapping := catalog.NewMapping()
	mapping.Set("id", "id")

	r := registry.New(store)
	saved, err := r.Promote(ctx, catalog.ApiDependency{
		SourceApiRef: producer.ID, TargetApiRef: consumer.ID, Mapping: mapping,
	})
	if err != nil {
		t.Fatalf("promote failed: %v", err)
	}
	if saved.ID == "" {
		t.Fatal("expected a persisted dependency id")
	}

	v, found, err := store.GetVariable(ctx, consumer.ID, "id", catalog.LocationPath)
	if err != nil || !found {
		t.Fatalf("expected to find the variable, found=%v err=%v", found, err)
	}
	if v.VarType != catalog.VarDependent {
		t.Fatalf("expected varType=dependent after promotion, got %s", v.VarType)
	}
}

func TestPromote_UpsertsOnSourceTargetPair(t *testing.T) {
	ctx := context.Background()
	store := testsupport.NewMemoryStore(t)
	project := testsupport.MustCreateProject(t, store, "p1")
	producer := testsupport.MustCreateApi(t, store, project.ID, "POST", "/orders")
	consumer := testsupport.MustCreateApi(t, store, project.ID, "GET", "/orders/{id}")

	r := registry.New(store)
	m1 := catalog.NewMapping()
	m1.Set("id", "id")
	first, err := r.Promote(ctx, catalog.ApiDependency{SourceApiRef: producer.ID, TargetApiRef: consumer.ID, Mapping: m1})
	if err != nil {
		t.Fatalf("first promote: %v", err)
	}

	m2 := catalog.NewMapping()
	m2.Set("id", "data.id")
	second, err := r.Promote(ctx, catalog.ApiDependency{SourceApiRef: producer.ID, TargetApiRef: consumer.ID, Mapping: m2, IsRequired: true})
	if err != nil {
		t.Fatalf("second promote: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected upsert to reuse the same dependency row, got %q vs %q", first.ID, second.ID)
	}

	deps, err := store.ListDependenciesByProject(ctx, project.ID)
	if err != nil {
		t.Fatalf("list dependencies: %v", err)
	}
	if len(deps) != 1 {
		t.Fatalf("expected exactly one dependency row, got %d", len(deps))
	}
	if deps[0].Mapping.Values["id"] != "data.id" {
		t.Fatalf("expected the mapping to be replaced, got %v", deps[0].Mapping.Values)
	}
}

func TestDelete_RemovesDependency(t *testing.T) {
	ctx := context.Background()
	store := testsupport.NewMemoryStore(t)
	project := testsupport.MustCreateProject(t, store, "p1")
	producer := testsupport.MustCreateApi(t, store, project.ID, "POST", "/orders")
	consumer := testsupport.MustCreateApi(t, store, project.ID, "GET", "/orders/{id}")

	r := registry.New(store)
	dep, err := r.Promote(ctx, catalog.ApiDependency{SourceApiRef: producer.ID, TargetApiRef: consumer.ID, Mapping: catalog.NewMapping()})
	if err != nil {
		t.Fatalf("promote: %v", err)
	}
	if err := r.Delete(ctx, dep.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	deps, err := store.ListDependenciesByProject(ctx, project.ID)
	if err != nil {
		t.Fatalf("list dependencies: %v", err)
	}
	if len(deps) != 0 {
		t.Fatalf("expected no dependencies after delete, got %d", len(deps))
	}
}
