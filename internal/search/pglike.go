package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgLike implements Searcher with plain ILIKE matching against
// Postgres, used when Meilisearch is down. Ranking is crude (exact
// prefix first via ORDER BY position) but keeps search functional.
type PgLike struct {
	db *sql.DB
}

func NewPgLike(db *sql.DB) *PgLike {
	return &PgLike{db: db}
}

// Healthy always returns true. If Postgres is down, the whole app is
// down.
func (p *PgLike) Healthy() bool {
	return true
}

func (p *PgLike) Search(q Query) ([]Result, int, error) {
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

	pattern := "%" + q.Text + "%"
	args := []any{pattern}
	argN := 2

	var subQueries []string

	if q.FilterType == "" || q.FilterType == ResultDocument {
		where := "(d.name ILIKE $1 OR d.description ILIKE $1)"
		if q.FilterProjectID != "" {
			where += fmt.Sprintf(" AND d.project_id = $%d", argN)
			args = append(args, q.FilterProjectID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'document'::text AS type, d.id, d.name AS title,
				LEFT(d.description, 160) AS snippet,
				d.project_id, d.id AS document_id, ''::text AS status
			FROM documents d
			WHERE %s`, where))
	}

	if q.FilterType == "" || q.FilterType == ResultPullRequest {
		where := "(pr.title ILIKE $1 OR pr.description ILIKE $1)"
		if q.FilterProjectID != "" {
			where += fmt.Sprintf(" AND pr.project_id = $%d", argN)
			args = append(args, q.FilterProjectID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'pull_request'::text AS type, pr.id, pr.title,
				LEFT(pr.description, 160) AS snippet,
				pr.project_id, pr.document_id, pr.status
			FROM pull_requests pr
			WHERE %s`, where))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub",
		strings.Join(subQueries, " UNION ALL "))

	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, project_id, document_id, status
		FROM (%s) sub
		ORDER BY title ASC
		LIMIT %d OFFSET %d`,
		strings.Join(subQueries, " UNION ALL "),
		limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pglike count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pglike query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.ProjectID, &r.DocumentID, &r.Status); err != nil {
			return nil, 0, fmt.Errorf("pglike scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *PgLike) LoadAllRecords(ctx context.Context) ([]DocumentRecord, []PullRequestRecord, error) {
	docRows, err := p.db.QueryContext(ctx, `
		SELECT id, name, description, project_id, file_kind
		FROM documents
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load documents: %w", err)
	}
	defer docRows.Close()

	documents := make([]DocumentRecord, 0)
	for docRows.Next() {
		var d DocumentRecord
		if err := docRows.Scan(&d.ID, &d.Name, &d.Description, &d.ProjectID, &d.FileKind); err != nil {
			return nil, nil, fmt.Errorf("scan document: %w", err)
		}
		documents = append(documents, d)
	}
	if err := docRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate documents: %w", err)
	}

	prRows, err := p.db.QueryContext(ctx, `
		SELECT id, title, description, project_id, document_id, status
		FROM pull_requests
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load pull requests: %w", err)
	}
	defer prRows.Close()

	pullRequests := make([]PullRequestRecord, 0)
	for prRows.Next() {
		var pr PullRequestRecord
		if err := prRows.Scan(&pr.ID, &pr.Title, &pr.Description, &pr.ProjectID, &pr.DocumentID, &pr.Status); err != nil {
			return nil, nil, fmt.Errorf("scan pull request: %w", err)
		}
		pullRequests = append(pullRequests, pr)
	}
	if err := prRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate pull requests: %w", err)
	}

	return documents, pullRequests, nil
}
