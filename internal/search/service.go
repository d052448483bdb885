package search

import (
	"context"
	"log"

	"taskboard/api/internal/store"
)

// Service is the facade that tries Meilisearch first and falls back to PG
// FTS. Index writes are fire-and-forget: task search is a best-effort side
// channel of the update path, never part of its success.
type Service struct {
	meili *Meili
	pgfts *PgFTS
}

// NewService creates a search service. meili may be nil if Meilisearch is
// not configured.
func NewService(meili *Meili, pgfts *PgFTS) *Service {
	return &Service{meili: meili, pgfts: pgfts}
}

func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to pgfts: %v", err)
	}

	results, total, err := s.pgfts.Search(q)
	if err != nil {
		log.Printf("search: pgfts error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexTask pushes a task into Meilisearch asynchronously. The Postgres
// fallback is trigger-maintained and needs nothing here.
func (s *Service) IndexTask(task store.Task) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	record := recordFromTask(task)
	go func() {
		if err := s.meili.IndexTask(record); err != nil {
			log.Printf("search: index task %s: %v", record.ID, err)
		}
	}()
}

// Backfill re-indexes every active task; called once at startup when
// Meilisearch is configured.
func (s *Service) Backfill(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	records, err := s.pgfts.LoadAllRecords(ctx)
	if err != nil {
		log.Printf("search: backfill load: %v", err)
		return
	}
	if err := s.meili.IndexTasks(records); err != nil {
		log.Printf("search: backfill index: %v", err)
	}
}

func recordFromTask(task store.Task) TaskRecord {
	tags := task.Tags
	if tags == nil {
		tags = []string{}
	}
	return TaskRecord{
		ID:          task.ID,
		Title:       task.Title,
		Description: task.Description,
		ProjectID:   task.ProjectID,
		Status:      task.Status,
		Priority:    task.Priority,
		Tags:        tags,
	}
}

func nonNil(results []Result) []Result {
	if results == nil {
		return []Result{}
	}
	return results
}
