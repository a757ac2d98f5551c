package relation

import (
	"context"
	"testing"

	"github.com/cortadolabs/tabsync/internal/catalog"
	"github.com/cortadolabs/tabsync/internal/remote"
)

func linkedFake(titleValues ...string) *remote.FakeClient {
	schema := remote.Schema{
		DatabaseID: "linked1",
		Properties: []remote.Property{{ID: "p0", Name: "Name", Type: catalog.Text}},
	}
	fc := remote.NewFakeClient(schema)
	for _, v := range titleValues {
		fc.CreateRow(context.Background(), remote.WriteRequest{
			Properties: map[string]catalog.Value{"Name": {Type: catalog.Text, Text: v, HasValue: true}},
		})
	}
	return fc
}

func withLinked(main *remote.FakeClient, id string, linked *remote.FakeClient) *remote.FakeClient {
	main.Linked[id] = linked
	return main
}

func TestResolve_DirectPageURL(t *testing.T) {
	main := remote.NewFakeClient(remote.Schema{DatabaseID: "main"})
	r := NewResolver(main, Options{})

	pageID, err := r.Resolve(context.Background(), "linked1", "https://api.tabsync.example.com/pages/abc123")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if pageID != "abc123" {
		t.Errorf("pageID = %q, want %q", pageID, "abc123")
	}
}

func TestResolve_TitleLookup(t *testing.T) {
	linked := linkedFake("Acme Corp", "Globex")
	main := withLinked(remote.NewFakeClient(remote.Schema{DatabaseID: "main"}), "linked1", linked)
	r := NewResolver(main, Options{})

	pageID, err := r.Resolve(context.Background(), "linked1", "Acme Corp")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	want := linked.SortedPageIDs()
	found := false
	for _, id := range want {
		if id == pageID {
			found = true
		}
	}
	if !found {
		t.Errorf("pageID %q not among linked rows %v", pageID, want)
	}
}

func TestResolve_MissFailsClosedWithoutAddMissing(t *testing.T) {
	linked := linkedFake("Acme Corp")
	main := withLinked(remote.NewFakeClient(remote.Schema{DatabaseID: "main"}), "linked1", linked)
	r := NewResolver(main, Options{})

	_, err := r.Resolve(context.Background(), "linked1", "Nonexistent")
	if err != ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestResolve_AddMissingCreatesRow(t *testing.T) {
	linked := linkedFake()
	main := withLinked(remote.NewFakeClient(remote.Schema{DatabaseID: "main"}), "linked1", linked)
	r := NewResolver(main, Options{AddMissing: true, TitleProperty: "Name"})

	pageID, err := r.Resolve(context.Background(), "linked1", "New Co")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if pageID == "" {
		t.Fatal("expected non-empty page ID")
	}

	again, err := r.Resolve(context.Background(), "linked1", "New Co")
	if err != nil {
		t.Fatalf("second Resolve failed: %v", err)
	}
	if again != pageID {
		t.Errorf("second resolve = %q, want cached %q", again, pageID)
	}
}

func TestResolve_DuplicateResolvesAlphabeticallyUnlessStrict(t *testing.T) {
	linked := linkedFake("Dup", "Dup")
	main := withLinked(remote.NewFakeClient(remote.Schema{DatabaseID: "main"}), "linked1", linked)
	r := NewResolver(main, Options{})

	pageID, err := r.Resolve(context.Background(), "linked1", "Dup")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	ids := linked.SortedPageIDs()
	if pageID != ids[0] {
		t.Errorf("pageID = %q, want alphabetically-first %q", pageID, ids[0])
	}
}

func TestResolve_DuplicateFatalWhenStrict(t *testing.T) {
	linked := linkedFake("Dup", "Dup")
	main := withLinked(remote.NewFakeClient(remote.Schema{DatabaseID: "main"}), "linked1", linked)
	r := NewResolver(main, Options{Strict: true})

	_, err := r.Resolve(context.Background(), "linked1", "Dup")
	if err == nil {
		t.Fatal("expected error for ambiguous relation target under strict mode")
	}
}

func TestAccessible(t *testing.T) {
	linked := linkedFake()
	main := withLinked(remote.NewFakeClient(remote.Schema{DatabaseID: "main"}), "linked1", linked)
	r := NewResolver(main, Options{})

	if !r.Accessible(context.Background(), "linked1") {
		t.Error("expected linked1 to be accessible")
	}
	if r.Accessible(context.Background(), "ghost-db") {
		t.Error("expected ghost-db to be inaccessible")
	}
}
