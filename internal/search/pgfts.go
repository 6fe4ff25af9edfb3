package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true — if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// latestRevisions selects the newest revision per document, which is
// the article view the rest of the app exposes.
const latestRevisions = `
	SELECT DISTINCT ON (document_id)
		document_id, author_id, kind, title, content, fts
	FROM revisions
	ORDER BY document_id, created_at DESC, id ASC`

// Search executes a UNION ALL query across the latest revision of each
// article and the contributor profiles, using plainto_tsquery and
// ts_rank, with ts_headline for snippets.
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

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text}
	argN := 2

	var subQueries []string

	// Articles sub-query
	if q.FilterType == "" || q.FilterType == ResultArticle {
		articleWhere := "r.fts @@ " + tsQuery
		if q.FilterAuthor != "" {
			articleWhere += fmt.Sprintf(" AND r.author_id = $%d", argN)
			args = append(args, q.FilterAuthor)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'article'::text AS type, r.document_id AS id, r.title,
				ts_headline('english', coalesce(r.content, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				r.document_id, r.author_id,
				ts_rank(r.fts, %s) AS rank
			FROM (%s) r
			WHERE %s`, tsQuery, tsQuery, latestRevisions, articleWhere))
	}

	// Profiles sub-query
	if q.FilterType == "" || q.FilterType == ResultProfile {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'profile'::text AS type, p.contributor_id AS id, p.display_name AS title,
				''::text AS snippet,
				''::text AS document_id, ''::text AS author_id,
				ts_rank(to_tsvector('english', p.display_name), %s) AS rank
			FROM profiles p
			WHERE to_tsvector('english', p.display_name) @@ %s`, tsQuery, tsQuery))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub",
		strings.Join(subQueries, " UNION ALL "))

	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, document_id, author_id
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`,
		strings.Join(subQueries, " UNION ALL "),
		limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.DocumentID, &r.AuthorID); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]ArticleRecord, []ProfileRecord, error) {
	articleRows, err := p.db.QueryContext(ctx, `
		SELECT document_id, title, left(content, 280), author_id, kind
		FROM (`+latestRevisions+`) r
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load articles: %w", err)
	}
	defer articleRows.Close()

	articles := make([]ArticleRecord, 0)
	for articleRows.Next() {
		var a ArticleRecord
		if err := articleRows.Scan(&a.ID, &a.Title, &a.Excerpt, &a.AuthorID, &a.Kind); err != nil {
			return nil, nil, fmt.Errorf("scan article: %w", err)
		}
		articles = append(articles, a)
	}
	if err := articleRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate articles: %w", err)
	}

	profileRows, err := p.db.QueryContext(ctx, `
		SELECT contributor_id, display_name
		FROM profiles
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load profiles: %w", err)
	}
	defer profileRows.Close()

	profiles := make([]ProfileRecord, 0)
	for profileRows.Next() {
		var pr ProfileRecord
		if err := profileRows.Scan(&pr.ID, &pr.DisplayName); err != nil {
			return nil, nil, fmt.Errorf("scan profile: %w", err)
		}
		profiles = append(profiles, pr)
	}
	if err := profileRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate profiles: %w", err)
	}

	return articles, profiles, nil
}
