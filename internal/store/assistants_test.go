package store

import (
	"context"
	"testing"

	"github.com/basket/graphrun/internal/model"
	"github.com/basket/graphrun/internal/storeerr"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func TestPutAssistant_CreatesVersionOne(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a, err := s.PutAssistant(ctx, PutAssistantInput{GraphID: "echo"})
	if err != nil {
		t.Fatalf("PutAssistant: %v", err)
	}
	if a.Version != 1 {
		t.Fatalf("Version = %d, want 1", a.Version)
	}

	versions, err := s.GetAssistantVersions(ctx, a.AssistantID)
	if err != nil {
		t.Fatalf("GetAssistantVersions: %v", err)
	}
	if len(versions) != 1 || versions[0].Version != 1 {
		t.Fatalf("versions = %+v, want one v1 record", versions)
	}
}

func TestPutAssistant_IfExistsDoNothingReturnsFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.PutAssistant(ctx, PutAssistantInput{AssistantID: "a1", GraphID: "echo", Name: "first"})
	if err != nil {
		t.Fatalf("PutAssistant: %v", err)
	}
	second, err := s.PutAssistant(ctx, PutAssistantInput{AssistantID: "a1", GraphID: "other", Name: "second"})
	if err != nil {
		t.Fatalf("PutAssistant (second): %v", err)
	}
	if second.Name != first.Name {
		t.Fatalf("second.Name = %q, want unmodified %q", second.Name, first.Name)
	}
}

func TestPutAssistant_IfExistsRaiseConflicts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.PutAssistant(ctx, PutAssistantInput{AssistantID: "a1", GraphID: "echo"}); err != nil {
		t.Fatalf("PutAssistant: %v", err)
	}
	_, err := s.PutAssistant(ctx, PutAssistantInput{AssistantID: "a1", GraphID: "echo", IfExists: model.IfExistsRaise})
	if storeerr.KindOf(err) != storeerr.KindConflict {
		t.Fatalf("KindOf(err) = %v, want KindConflict", storeerr.KindOf(err))
	}
}

func TestPatchAssistant_CreatesNewVersionAndUpdatesLive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a, err := s.PutAssistant(ctx, PutAssistantInput{AssistantID: "a1", GraphID: "echo"})
	if err != nil {
		t.Fatalf("PutAssistant: %v", err)
	}

	newGraph := "echo2"
	if _, err := s.PatchAssistant(ctx, PatchAssistantInput{AssistantID: a.AssistantID, GraphID: &newGraph}); err != nil {
		t.Fatalf("PatchAssistant: %v", err)
	}
	if _, err := s.PatchAssistant(ctx, PatchAssistantInput{AssistantID: a.AssistantID, GraphID: &newGraph}); err != nil {
		t.Fatalf("PatchAssistant (second): %v", err)
	}

	got, err := s.GetAssistant(ctx, a.AssistantID)
	if err != nil {
		t.Fatalf("GetAssistant: %v", err)
	}
	if got.Version != 3 {
		t.Fatalf("Version = %d, want 3", got.Version)
	}

	versions, err := s.GetAssistantVersions(ctx, a.AssistantID)
	if err != nil {
		t.Fatalf("GetAssistantVersions: %v", err)
	}
	if len(versions) != 3 {
		t.Fatalf("len(versions) = %d, want 3", len(versions))
	}
	wantOrder := []int{3, 2, 1}
	for i, want := range wantOrder {
		if versions[i].Version != want {
			t.Fatalf("versions[%d].Version = %d, want %d", i, versions[i].Version, want)
		}
	}
}

func TestSetLatestAssistantVersion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a, _ := s.PutAssistant(ctx, PutAssistantInput{AssistantID: "a1", GraphID: "echo"})
	g2 := "echo2"
	s.PatchAssistant(ctx, PatchAssistantInput{AssistantID: a.AssistantID, GraphID: &g2})

	got, err := s.SetLatestAssistantVersion(ctx, a.AssistantID, 1)
	if err != nil {
		t.Fatalf("SetLatestAssistantVersion: %v", err)
	}
	if got.GraphID != "echo" {
		t.Fatalf("GraphID = %q, want echo (v1's value)", got.GraphID)
	}
	if got.Version != 1 {
		t.Fatalf("Version = %d, want 1", got.Version)
	}
}

func TestDeleteAssistant_CascadesRuns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a, _ := s.PutAssistant(ctx, PutAssistantInput{AssistantID: "a1", GraphID: "echo"})
	th, _ := s.PutThread(ctx, PutThreadInput{})
	_, err := s.CreateRun(ctx, CreateRunInput{AssistantID: a.AssistantID, ThreadID: th.ThreadID})
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	if err := s.DeleteAssistant(ctx, a.AssistantID); err != nil {
		t.Fatalf("DeleteAssistant: %v", err)
	}

	runs, err := s.SearchRuns(ctx, SearchRunsInput{ThreadID: th.ThreadID})
	if err != nil {
		t.Fatalf("SearchRuns: %v", err)
	}
	if len(runs) != 0 {
		t.Fatalf("runs survived assistant deletion: %+v", runs)
	}
}

func TestSearchAssistants_FiltersByGraphIDAndMetadata(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.PutAssistant(ctx, PutAssistantInput{GraphID: "echo", Metadata: map[string]any{"team": "a"}})
	s.PutAssistant(ctx, PutAssistantInput{GraphID: "other", Metadata: map[string]any{"team": "b"}})

	got, err := s.SearchAssistants(ctx, SearchAssistantsInput{GraphID: "echo"})
	if err != nil {
		t.Fatalf("SearchAssistants: %v", err)
	}
	if len(got) != 1 || got[0].GraphID != "echo" {
		t.Fatalf("got = %+v, want one echo assistant", got)
	}

	got, err = s.SearchAssistants(ctx, SearchAssistantsInput{Metadata: map[string]any{"team": "b"}})
	if err != nil {
		t.Fatalf("SearchAssistants (metadata): %v", err)
	}
	if len(got) != 1 || got[0].GraphID != "other" {
		t.Fatalf("got = %+v, want one other assistant", got)
	}
}
