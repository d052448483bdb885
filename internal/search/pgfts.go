package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
// The task_search table is kept current by a trigger on tasks, so the
// fallback needs no application-side index maintenance.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true: if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	where := "ts.tsv @@ plainto_tsquery('simple', $1) AND t.is_active"
	args := []any{q.Text}
	argN := 2
	if q.FilterProjectID != "" {
		where += fmt.Sprintf(" AND t.project_id = $%d", argN)
		args = append(args, q.FilterProjectID)
		argN++
	}
	if q.FilterStatus != "" {
		where += fmt.Sprintf(" AND t.status = $%d", argN)
		args = append(args, q.FilterStatus)
		argN++
	}

	query := fmt.Sprintf(`
		SELECT t.id, t.title,
			ts_headline('simple', COALESCE(t.description, ''), plainto_tsquery('simple', $1), 'MaxFragments=1,MaxWords=30') AS snippet,
			t.project_id, t.status, t.priority,
			COUNT(*) OVER () AS total
		FROM task_search ts
		JOIN tasks t ON t.id = ts.task_id
		WHERE %s
		ORDER BY ts_rank(ts.tsv, plainto_tsquery('simple', $1)) DESC
		LIMIT %d OFFSET %d
	`, where, limit, offset)

	rows, err := p.db.QueryContext(context.Background(), query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts search: %w", err)
	}
	defer rows.Close()

	var results []Result
	total := 0
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.Title, &r.Snippet, &r.ProjectID, &r.Status, &r.Priority, &total); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllRecords pulls every active task for Meilisearch backfill.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]TaskRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, title, description, project_id, status, priority
		FROM tasks WHERE is_active
	`)
	if err != nil {
		return nil, fmt.Errorf("load task records: %w", err)
	}
	defer rows.Close()

	var records []TaskRecord
	for rows.Next() {
		var r TaskRecord
		if err := rows.Scan(&r.ID, &r.Title, &r.Description, &r.ProjectID, &r.Status, &r.Priority); err != nil {
			return nil, fmt.Errorf("scan task record: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
