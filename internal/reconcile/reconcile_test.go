package reconcile

import (
	"context"
	"testing"

	"github.com/cortadolabs/tabsync/internal/catalog"
	"github.com/cortadolabs/tabsync/internal/remote"
)

func baseSchema() remote.Schema {
	return remote.Schema{
		DatabaseID: "db1",
		Properties: []remote.Property{
			{ID: "p0", Name: "Name", Type: catalog.Text},
			{ID: "p1", Name: "Amount", Type: catalog.Number},
			{ID: "p2", Name: "Total", Type: catalog.Formula},
		},
	}
}

func TestReconcile_MapsTitleRegardlessOfName(t *testing.T) {
	schema := baseSchema()
	client := remote.NewFakeClient(schema)

	res, err := Reconcile(context.Background(), client, []string{"Whatever", "Amount"}, schema, Options{}, nil)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if len(res.Columns) != 2 {
		t.Fatalf("got %d columns, want 2", len(res.Columns))
	}
	if res.Columns[0].PropertyName != "Name" || !res.Columns[0].IsKey {
		t.Errorf("title column = %+v, want bound to Name and IsKey", res.Columns[0])
	}
}

func TestReconcile_KeyRenameIsAtomic(t *testing.T) {
	schema := baseSchema()
	client := remote.NewFakeClient(schema)

	res, err := Reconcile(context.Background(), client, []string{"ID", "Amount"}, schema, Options{
		RenameKeyColumn: &KeyRename{NewName: "ID"},
	}, nil)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if res.Columns[0].PropertyName != "ID" {
		t.Errorf("title property name = %q, want %q", res.Columns[0].PropertyName, "ID")
	}
	if p, ok := client.Schema.ByName("ID"); !ok || p.Name != "ID" {
		t.Errorf("remote schema was not renamed: %+v", client.Schema)
	}
}

func TestReconcile_UnsettableColumnDropped(t *testing.T) {
	schema := baseSchema()
	client := remote.NewFakeClient(schema)

	res, err := Reconcile(context.Background(), client, []string{"Name", "Total"}, schema, Options{}, nil)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if len(res.Columns) != 1 {
		t.Fatalf("got %d columns, want 1 (Total dropped)", len(res.Columns))
	}
	if len(res.Warnings) != 1 {
		t.Errorf("got %d warnings, want 1", len(res.Warnings))
	}
}

func TestReconcile_UnsettableColumnFatalWithFlag(t *testing.T) {
	schema := baseSchema()
	client := remote.NewFakeClient(schema)

	_, err := Reconcile(context.Background(), client, []string{"Name", "Total"}, schema, Options{
		FailOnUnsettableColumn: true,
	}, nil)
	if err == nil || !IsFatal(err) {
		t.Fatalf("expected fatal error, got %v", err)
	}
}

func TestReconcile_MissingColumnDroppedByDefault(t *testing.T) {
	schema := baseSchema()
	client := remote.NewFakeClient(schema)

	res, err := Reconcile(context.Background(), client, []string{"Name", "Ghost"}, schema, Options{}, nil)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if len(res.Columns) != 1 {
		t.Fatalf("got %d columns, want 1 (Ghost dropped)", len(res.Columns))
	}
}

func TestReconcile_MissingColumnFatalWithFlag(t *testing.T) {
	schema := baseSchema()
	client := remote.NewFakeClient(schema)

	_, err := Reconcile(context.Background(), client, []string{"Name", "Ghost"}, schema, Options{
		FailOnMissingColumn: true,
	}, nil)
	if err == nil || !IsFatal(err) {
		t.Fatalf("expected fatal error, got %v", err)
	}
}

func TestReconcile_MissingColumnAdded(t *testing.T) {
	schema := baseSchema()
	client := remote.NewFakeClient(schema)

	res, err := Reconcile(context.Background(), client, []string{"Name", "Region"}, schema, Options{
		AddMissingColumns: true,
		DeclaredTypes:     map[string]catalog.Type{"Region": catalog.Select},
	}, nil)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if len(res.Columns) != 2 {
		t.Fatalf("got %d columns, want 2", len(res.Columns))
	}
	if res.Columns[1].Type != catalog.Select {
		t.Errorf("added column type = %q, want select", res.Columns[1].Type)
	}
	if _, ok := client.Schema.ByName("Region"); !ok {
		t.Error("expected Region to be added to the remote schema")
	}
}

func TestReconcile_MissingColumnUsesInferredTypeWhenNoDeclaration(t *testing.T) {
	schema := baseSchema()
	client := remote.NewFakeClient(schema)

	res, err := Reconcile(context.Background(), client, []string{"Name", "Active"}, schema, Options{
		AddMissingColumns: true,
		InferredTypes:     map[string]catalog.Type{"Active": catalog.Checkbox},
	}, nil)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if res.Columns[1].Type != catalog.Checkbox {
		t.Errorf("added column type = %q, want checkbox", res.Columns[1].Type)
	}
}

type fakeRelationChecker struct{ accessible map[string]bool }

func (f fakeRelationChecker) Accessible(ctx context.Context, databaseID string) bool {
	return f.accessible[databaseID]
}

func TestReconcile_InaccessibleRelationDropped(t *testing.T) {
	schema := baseSchema()
	schema.Properties = append(schema.Properties, remote.Property{
		ID: "p3", Name: "Parent", Type: catalog.Relation, LinkedDB: "linked-db",
	})
	client := remote.NewFakeClient(schema)

	res, err := Reconcile(context.Background(), client, []string{"Name", "Parent"}, schema, Options{}, fakeRelationChecker{})
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if len(res.Columns) != 1 {
		t.Fatalf("got %d columns, want 1 (Parent dropped)", len(res.Columns))
	}
}

func TestReconcile_InaccessibleRelationFatalWithFlag(t *testing.T) {
	schema := baseSchema()
	schema.Properties = append(schema.Properties, remote.Property{
		ID: "p3", Name: "Parent", Type: catalog.Relation, LinkedDB: "linked-db",
	})
	client := remote.NewFakeClient(schema)

	_, err := Reconcile(context.Background(), client, []string{"Name", "Parent"}, schema, Options{
		FailOnInaccessibleRelation: true,
	}, fakeRelationChecker{})
	if err == nil || !IsFatal(err) {
		t.Fatalf("expected fatal error, got %v", err)
	}
}

func TestReconcile_AccessibleRelationKept(t *testing.T) {
	schema := baseSchema()
	schema.Properties = append(schema.Properties, remote.Property{
		ID: "p3", Name: "Parent", Type: catalog.Relation, LinkedDB: "linked-db",
	})
	client := remote.NewFakeClient(schema)

	res, err := Reconcile(context.Background(), client, []string{"Name", "Parent"}, schema, Options{},
		fakeRelationChecker{accessible: map[string]bool{"linked-db": true}})
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if len(res.Columns) != 2 {
		t.Fatalf("got %d columns, want 2", len(res.Columns))
	}
}

func TestReconcile_EmptyHeaderIsFatal(t *testing.T) {
	schema := baseSchema()
	client := remote.NewFakeClient(schema)

	_, err := Reconcile(context.Background(), client, nil, schema, Options{}, nil)
	if err == nil || !IsFatal(err) {
		t.Fatalf("expected fatal error, got %v", err)
	}
}
