package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// InsertRevision archives a revision record. Revisions are immutable and
// content-addressed, so conflicting ids are ignored rather than updated.
func (s *PostgresStore) InsertRevision(ctx context.Context, record RevisionRecord) error {
	tags, err := json.Marshal(record.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO revisions (id, author_id, document_id, kind, created_at, content, title, tags)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`, record.ID, record.AuthorID, record.DocumentID, record.Kind, record.CreatedAt, record.Content, record.Title, tags)
	if err != nil {
		return fmt.Errorf("insert revision: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetRevision(ctx context.Context, id string) (RevisionRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, author_id, document_id, kind, created_at, content, title, tags, received_at
		FROM revisions
		WHERE id = $1
	`, id)
	return scanRevision(row)
}

// ListRevisionsByDocument returns every archived revision for one
// document, unordered. Canonical ordering is the assembler's concern.
func (s *PostgresStore) ListRevisionsByDocument(ctx context.Context, documentID string) ([]RevisionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, author_id, document_id, kind, created_at, content, title, tags, received_at
		FROM revisions
		WHERE document_id = $1
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list revisions: %w", err)
	}
	defer rows.Close()

	var records []RevisionRecord
	for rows.Next() {
		record, err := scanRevision(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// ListArticles returns the latest revision per document, newest first.
func (s *PostgresStore) ListArticles(ctx context.Context) ([]Article, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT ON (document_id)
			document_id, title, author_id, kind, id,
			COUNT(*) OVER (PARTITION BY document_id) AS revision_count,
			created_at
		FROM revisions
		ORDER BY document_id, created_at DESC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list articles: %w", err)
	}
	defer rows.Close()

	var articles []Article
	for rows.Next() {
		var article Article
		if err := rows.Scan(
			&article.DocumentID,
			&article.Title,
			&article.AuthorID,
			&article.Kind,
			&article.LatestRevisionID,
			&article.RevisionCount,
			&article.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan article: %w", err)
		}
		articles = append(articles, article)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate articles: %w", err)
	}

	// DISTINCT ON orders by document; re-sort the page newest first.
	sort.SliceStable(articles, func(a, b int) bool {
		return articles[a].UpdatedAt.After(articles[b].UpdatedAt)
	})
	return articles, nil
}

func (s *PostgresStore) UpsertProfile(ctx context.Context, profile Profile) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO profiles (contributor_id, display_name, payout_address, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (contributor_id) DO UPDATE
			SET display_name = EXCLUDED.display_name,
				payout_address = EXCLUDED.payout_address,
				updated_at = NOW()
	`, profile.ContributorID, profile.DisplayName, profile.PayoutAddress)
	if err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetProfile(ctx context.Context, contributorID string) (Profile, error) {
	var profile Profile
	err := s.db.QueryRowContext(ctx, `
		SELECT contributor_id, display_name, payout_address, updated_at
		FROM profiles
		WHERE contributor_id = $1
	`, contributorID).Scan(&profile.ContributorID, &profile.DisplayName, &profile.PayoutAddress, &profile.UpdatedAt)
	if err != nil {
		return Profile{}, err
	}
	return profile, nil
}

func (s *PostgresStore) InsertSplit(ctx context.Context, record SplitRecord) error {
	results, err := json.Marshal(record.Results)
	if err != nil {
		return fmt.Errorf("marshal split results: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO splits (id, document_id, total_amount, mode, results)
		VALUES ($1, $2, $3, $4, $5)
	`, record.ID, record.DocumentID, record.TotalAmount, record.Mode, results)
	if err != nil {
		return fmt.Errorf("insert split: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListSplits(ctx context.Context, documentID string) ([]SplitRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, total_amount, mode, results, created_at
		FROM splits
		WHERE document_id = $1
		ORDER BY created_at DESC
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list splits: %w", err)
	}
	defer rows.Close()

	var records []SplitRecord
	for rows.Next() {
		var record SplitRecord
		var results []byte
		if err := rows.Scan(&record.ID, &record.DocumentID, &record.TotalAmount, &record.Mode, &results, &record.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan split: %w", err)
		}
		if err := json.Unmarshal(results, &record.Results); err != nil {
			return nil, fmt.Errorf("decode split results: %w", err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRevision(row rowScanner) (RevisionRecord, error) {
	var record RevisionRecord
	var tags []byte
	err := row.Scan(
		&record.ID,
		&record.AuthorID,
		&record.DocumentID,
		&record.Kind,
		&record.CreatedAt,
		&record.Content,
		&record.Title,
		&tags,
		&record.ReceivedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return RevisionRecord{}, err
	}
	if err != nil {
		return RevisionRecord{}, fmt.Errorf("scan revision: %w", err)
	}
	if err := json.Unmarshal(tags, &record.Tags); err != nil {
		return RevisionRecord{}, fmt.Errorf("decode revision tags: %w", err)
	}
	return record, nil
}
