package store

import (
	"context"
	"sort"
	"time"

	"github.com/basket/graphrun/internal/model"
	"github.com/basket/graphrun/internal/storeerr"
	"github.com/google/uuid"
)

// PutAssistantInput is the input to PutAssistant.
type PutAssistantInput struct {
	AssistantID string
	GraphID     string
	Config      model.Config
	Metadata    map[string]any
	Name        string
	IfExists    model.IfExists
}

// PutAssistant creates an assistant at version 1 with a matching
// AssistantVersion record (Data Model invariant 2).
func (s *Store) PutAssistant(ctx context.Context, in PutAssistantInput) (*model.Assistant, error) {
	return Apply(s, func(doc *Document) (*model.Assistant, error) {
		id := in.AssistantID
		if id == "" {
			id = uuid.NewString()
		}
		if existing, ok := doc.Assistants[id]; ok {
			if in.IfExists == model.IfExistsRaise {
				return nil, storeerr.NewConflict("assistant " + id + " already exists")
			}
			return existing, nil
		}

		name := in.Name
		if name == "" {
			name = in.GraphID
		}
		now := time.Now().UTC()
		a := &model.Assistant{
			AssistantID: id,
			GraphID:     in.GraphID,
			Version:     1,
			Config:      in.Config,
			Metadata:    in.Metadata,
			Name:        name,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		doc.Assistants[id] = a
		doc.AssistantVersions[id] = []*model.AssistantVersion{{
			AssistantID: id,
			Version:     1,
			GraphID:     in.GraphID,
			Config:      in.Config,
			Metadata:    in.Metadata,
			Name:        name,
			CreatedAt:   now,
		}}
		return a, nil
	})
}

// GetAssistant returns the assistant by id.
func (s *Store) GetAssistant(ctx context.Context, assistantID string) (*model.Assistant, error) {
	return Apply(s, func(doc *Document) (*model.Assistant, error) {
		a, ok := doc.Assistants[assistantID]
		if !ok {
			return nil, storeerr.NewNotFound("assistant", assistantID)
		}
		return a, nil
	})
}

// PatchAssistantInput is the input to PatchAssistant.
type PatchAssistantInput struct {
	AssistantID string
	GraphID     *string
	Config      *model.Config
	Metadata    map[string]any
	Name        *string
}

// PatchAssistant creates a new AssistantVersion = max(version)+1 and makes
// it the live Assistant.
func (s *Store) PatchAssistant(ctx context.Context, in PatchAssistantInput) (*model.Assistant, error) {
	return Apply(s, func(doc *Document) (*model.Assistant, error) {
		a, ok := doc.Assistants[in.AssistantID]
		if !ok {
			return nil, storeerr.NewNotFound("assistant", in.AssistantID)
		}
		if in.GraphID != nil {
			a.GraphID = *in.GraphID
		}
		if in.Config != nil {
			a.Config = *in.Config
		}
		if in.Metadata != nil {
			a.Metadata = in.Metadata
		}
		if in.Name != nil {
			a.Name = *in.Name
		}
		maxVersion := a.Version
		for _, v := range doc.AssistantVersions[a.AssistantID] {
			if v.Version > maxVersion {
				maxVersion = v.Version
			}
		}
		a.Version = maxVersion + 1
		a.UpdatedAt = time.Now().UTC()

		doc.AssistantVersions[a.AssistantID] = append(doc.AssistantVersions[a.AssistantID], &model.AssistantVersion{
			AssistantID: a.AssistantID,
			Version:     a.Version,
			GraphID:     a.GraphID,
			Config:      a.Config,
			Metadata:    a.Metadata,
			Name:        a.Name,
			CreatedAt:   a.UpdatedAt,
		})
		return a, nil
	})
}

// DeleteAssistant removes the assistant, all its versions, and cascades to
// every run referencing it (Data Model invariant 1).
func (s *Store) DeleteAssistant(ctx context.Context, assistantID string) error {
	_, err := Apply(s, func(doc *Document) (struct{}, error) {
		if _, ok := doc.Assistants[assistantID]; !ok {
			return struct{}{}, storeerr.NewNotFound("assistant", assistantID)
		}
		delete(doc.Assistants, assistantID)
		delete(doc.AssistantVersions, assistantID)
		for id, r := range doc.Runs {
			if r.AssistantID == assistantID {
				delete(doc.Runs, id)
				delete(doc.RetryCounters, id)
			}
		}
		return struct{}{}, nil
	})
	return err
}

// SetLatestAssistantVersion copies the named version into the live
// Assistant without creating a new version record.
func (s *Store) SetLatestAssistantVersion(ctx context.Context, assistantID string, version int) (*model.Assistant, error) {
	return Apply(s, func(doc *Document) (*model.Assistant, error) {
		a, ok := doc.Assistants[assistantID]
		if !ok {
			return nil, storeerr.NewNotFound("assistant", assistantID)
		}
		versions := doc.AssistantVersions[assistantID]
		var target *model.AssistantVersion
		for _, v := range versions {
			if v.Version == version {
				target = v
				break
			}
		}
		if target == nil {
			return nil, storeerr.NewNotFound("assistant version", assistantID)
		}
		a.GraphID = target.GraphID
		a.Config = target.Config
		a.Metadata = target.Metadata
		a.Name = target.Name
		a.Version = target.Version
		a.UpdatedAt = time.Now().UTC()
		return a, nil
	})
}

// GetAssistantVersions returns every version of assistantID, newest first.
func (s *Store) GetAssistantVersions(ctx context.Context, assistantID string) ([]*model.AssistantVersion, error) {
	return Apply(s, func(doc *Document) ([]*model.AssistantVersion, error) {
		versions, ok := doc.AssistantVersions[assistantID]
		if !ok {
			return nil, storeerr.NewNotFound("assistant", assistantID)
		}
		out := make([]*model.AssistantVersion, len(versions))
		copy(out, versions)
		sort.Slice(out, func(i, j int) bool { return out[i].Version > out[j].Version })
		return out, nil
	})
}

// SearchAssistantsInput filters SearchAssistants.
type SearchAssistantsInput struct {
	GraphID  string
	Metadata map[string]any
	Limit    int
	Offset   int
}

// SearchAssistants returns assistants matching graph_id/metadata,
// newest-first, with metadata matched as a containment subset (every key
// in the filter must be present with an equal value on the candidate).
func (s *Store) SearchAssistants(ctx context.Context, in SearchAssistantsInput) ([]*model.Assistant, error) {
	return Apply(s, func(doc *Document) ([]*model.Assistant, error) {
		matches := make([]*model.Assistant, 0, len(doc.Assistants))
		for _, a := range doc.Assistants {
			if in.GraphID != "" && a.GraphID != in.GraphID {
				continue
			}
			if !metadataContains(a.Metadata, in.Metadata) {
				continue
			}
			matches = append(matches, a)
		}
		sort.Slice(matches, func(i, j int) bool { return matches[i].CreatedAt.After(matches[j].CreatedAt) })
		return paginate(matches, in.Limit, in.Offset), nil
	})
}

// metadataContains reports whether every key/value in filter is present and
// equal in candidate.
func metadataContains(candidate, filter map[string]any) bool {
	for k, v := range filter {
		cv, ok := candidate[k]
		if !ok || cv != v {
			return false
		}
	}
	return true
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
