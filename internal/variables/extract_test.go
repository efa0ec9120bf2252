package variables_test

import (
	"testing"
	"time"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/devops-wiz/apiflow/internal/catalog"
	"github.com/devops-wiz/apiflow/internal/variables"
)

func byNameLoc(vars []catalog.Variable, name string, loc catalog.VariableLocation) (catalog.Variable, bool) {
	for _, v := range vars {
		if v.Name == name && v.Location == loc {
			return v, true
		}
	}
	return catalog.Variable{}, false
}

func TestExtract_BodyLeavesAndReadOnlyExclusion(t *testing.T) {
	schema := openapi3.NewObjectSchema()
	schema.Properties = openapi3.Schemas{
		"name": openapi3.NewStringSchema().NewRef(),
		"id":   {Value: &openapi3.Schema{Type: &openapi3.Types{"string"}, ReadOnly: true}},
		"address": {Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"city": openapi3.NewStringSchema().NewRef(),
			},
		}},
	}
	schema.Required = []string{"name"}

	out := variables.Extract(variables.Input{
		ApiID:      "api-1",
		BodySchema: variables.BodyDescriptor{Schema: schema, Present: true},
	})

	if _, found := byNameLoc(out, "id", catalog.LocationBody); found {
		t.Fatal("readOnly properties must be excluded from input variables")
	}
	name, found := byNameLoc(out, "name", catalog.LocationBody)
	if !found {
		t.Fatal("expected a leaf variable for name")
	}
	if !name.Required {
		t.Fatal("name is in the parent's required list and must be required=true")
	}
	if name.VarType != catalog.VarUserInput {
		t.Fatalf("expected user_input var type, got %s", name.VarType)
	}

	city, found := byNameLoc(out, "address.city", catalog.LocationBody)
	if !found {
		t.Fatal("expected a dot-joined qualified name for nested object leaves")
	}
	if city.Required {
		t.Fatal("city is not in address's required list and must be required=false")
	}

	if _, found := byNameLoc(out, "address", catalog.LocationBody); !found {
		t.Fatal("expected the intermediate object itself to also be emitted")
	}
}

func TestExtract_ArrayOfPrimitivesFlattensToOneLeaf(t *testing.T) {
	arr := &openapi3.Schema{
		Type:  &openapi3.Types{"array"},
		Items: openapi3.NewStringSchema().NewRef(),
	}
	schema := openapi3.NewObjectSchema()
	schema.Properties = openapi3.Schemas{"tags": {Value: arr}}

	out := variables.Extract(variables.Input{
		ApiID:      "api-1",
		BodySchema: variables.BodyDescriptor{Schema: schema, Present: true},
	})

	tags, found := byNameLoc(out, "tags", catalog.LocationBody)
	if !found {
		t.Fatal("expected array of primitives to flatten into a single 'tags' leaf")
	}
	if tags.DataType != "string" {
		t.Fatalf("expected the array's item type to surface as the leaf's dataType, got %s", tags.DataType)
	}
}

func TestExtract_CyclicRefDoesNotInfiniteLoop(t *testing.T) {
	cyclic := &openapi3.Schema{
		Type:       &openapi3.Types{"object"},
		Properties: openapi3.Schemas{},
	}
	ref := &openapi3.SchemaRef{Value: cyclic}
	cyclic.Properties["self"] = ref // schema references itself

	done := make(chan []catalog.Variable, 1)
	go func() {
		done <- variables.Extract(variables.Input{
			ApiID:      "api-1",
			BodySchema: variables.BodyDescriptor{Schema: cyclic, Present: true},
		})
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Extract did not terminate on a self-referential schema; visited-set guard is broken")
	}
}

func TestExtract_ParametersAndSyntheticAuth(t *testing.T) {
	out := variables.Extract(variables.Input{
		ApiID: "api-1",
		PathParams: map[string]*openapi3.Parameter{
			"orderId": {Name: "orderId", Required: false}, // path params are forced required regardless
		},
		QueryParams: map[string]*openapi3.Parameter{
			"filter": {Name: "filter", Required: true, Schema: openapi3.NewStringSchema().NewRef()},
		},
		NeedsAuth: true,
	})

	orderID, found := byNameLoc(out, "orderId", catalog.LocationPath)
	if !found || !orderID.Required {
		t.Fatal("path parameters must always be emitted as required")
	}
	if _, found := byNameLoc(out, "filter", catalog.LocationQuery); !found {
		t.Fatal("expected the query parameter to be extracted")
	}
	auth, found := byNameLoc(out, "Authorization", catalog.LocationHeader)
	if !found {
		t.Fatal("expected a synthetic Authorization header variable when NeedsAuth is set")
	}
	if auth.VarType != catalog.VarSynthetic || !auth.Required {
		t.Fatalf("expected synthetic+required Authorization variable, got %+v", auth)
	}
}

func TestExtract_ExplicitAuthorizationNotDuplicated(t *testing.T) {
	out := variables.Extract(variables.Input{
		ApiID: "api-1",
		HeaderParams: map[string]*openapi3.Parameter{
			"Authorization": {Name: "Authorization", Required: true, Schema: openapi3.NewStringSchema().NewRef()},
		},
		NeedsAuth: true,
	})

	count := 0
	for _, v := range out {
		if v.Name == "Authorization" && v.Location == catalog.LocationHeader {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected exactly one Authorization header variable, got %d", count)
	}
}
