package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"mime"
	"net/http"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"folio/api/internal/contribution"
	"folio/api/internal/diff"
	"folio/api/internal/export"
	"folio/api/internal/gitmirror"
	"folio/api/internal/revision"
	"folio/api/internal/search"
	"folio/api/internal/split"
	"folio/api/internal/store"

	"github.com/google/uuid"
)

const (
	// SplitModeDerived computes contribution weights from the version
	// history; SplitModeDeclared uses the weights declared on the
	// latest revision's tags.
	SplitModeDerived  = "derived"
	SplitModeDeclared = "declared"

	searchExcerptLen = 280
)

type dataStore interface {
	Ping(context.Context) error
	InsertRevision(context.Context, store.RevisionRecord) error
	GetRevision(context.Context, string) (store.RevisionRecord, error)
	ListRevisionsByDocument(context.Context, string) ([]store.RevisionRecord, error)
	ListArticles(context.Context) ([]store.Article, error)
	UpsertProfile(context.Context, store.Profile) error
	GetProfile(context.Context, string) (store.Profile, error)
	InsertSplit(context.Context, store.SplitRecord) error
	ListSplits(context.Context, string) ([]store.SplitRecord, error)
}

type historyCache interface {
	LookupHistory(ctx context.Context, documentID, authorFilter string) ([]revision.Revision, bool, error)
	SaveHistory(ctx context.Context, documentID, authorFilter string, history []revision.Revision) error
	InvalidateDocument(ctx context.Context, documentID string) error
	Ping(context.Context) error
}

type searchService interface {
	Search(q search.Query) search.Response
	IndexArticle(a search.ArticleRecord)
	IndexProfile(p search.ProfileRecord)
}

type mirrorService interface {
	Mirror(documentID string, history []revision.Revision) ([]gitmirror.Commit, error)
	Log(documentID string, limit int) ([]gitmirror.Commit, error)
}

type exporter interface {
	Export(ctx context.Context, article export.Article, format export.Format) (*export.Result, error)
}

type artifactStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Get(ctx context.Context, key string) ([]byte, error)
}

type payoutSplitter interface {
	SplitAndSend(ctx context.Context, total int64, contributors []split.Contributor, metadata map[string]string) ([]split.Result, error)
}

// Service wires the computational core (assembly, diffing,
// contribution weighting, revenue splitting) to storage, cache,
// search, mirroring, and export. Everything except the store is
// optional; missing collaborators disable their endpoints.
type Service struct {
	store     dataStore
	cache     historyCache
	search    searchService
	mirrors   mirrorService
	exporter  exporter
	artifacts artifactStore
	splitter  payoutSplitter
}

type ServiceDeps struct {
	Cache     historyCache
	Search    searchService
	Mirrors   mirrorService
	Exporter  exporter
	Artifacts artifactStore
	Splitter  payoutSplitter
}

func NewService(store dataStore, deps ServiceDeps) *Service {
	return &Service{
		store:     store,
		cache:     deps.Cache,
		search:    deps.Search,
		mirrors:   deps.Mirrors,
		exporter:  deps.Exporter,
		artifacts: deps.Artifacts,
		splitter:  deps.Splitter,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// CachePing reports cache health, or nil when no cache is configured.
func (s *Service) CachePing(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Ping(ctx)
}

// IngestResponse reports the outcome of one ingest batch: the
// revisions that made it into the archive and the number dropped.
type IngestResponse struct {
	Accepted []revision.Revision `json:"accepted"`
	Dropped  int                 `json:"dropped"`
}

// Ingest validates and archives a batch of raw revision events.
// Malformed events are dropped and counted, never rejected: the relay
// firehose carries junk and one bad event must not sink the batch.
// Histories cached for an accepted revision's document go stale, so
// they are invalidated eagerly.
func (s *Service) Ingest(ctx context.Context, raws []revision.Raw) (IngestResponse, error) {
	response := IngestResponse{Accepted: []revision.Revision{}}

	for _, raw := range raws {
		rev, err := revision.Parse(raw)
		if err != nil {
			log.Printf("app: drop malformed revision %q: %v", raw.ID, err)
			response.Dropped++
			continue
		}

		record := store.RevisionRecord{
			ID:         rev.ID,
			AuthorID:   rev.AuthorID,
			DocumentID: rev.DocumentID,
			Kind:       string(rev.Kind),
			CreatedAt:  rev.CreatedAt,
			Content:    rev.Content,
			Title:      rev.Title,
			Tags:       rev.EncodeTags(),
		}
		if err := s.store.InsertRevision(ctx, record); err != nil {
			return IngestResponse{}, fmt.Errorf("archive revision %s: %w", rev.ID, err)
		}

		if s.cache != nil {
			if err := s.cache.InvalidateDocument(ctx, rev.DocumentID); err != nil {
				log.Printf("app: invalidate history cache for %s: %v", rev.DocumentID, err)
			}
		}
		if s.search != nil {
			s.search.IndexArticle(search.ArticleRecord{
				ID:       rev.DocumentID,
				Title:    rev.Title,
				Excerpt:  excerpt(rev.Content),
				AuthorID: rev.AuthorID,
				Kind:     string(rev.Kind),
			})
		}
		response.Accepted = append(response.Accepted, rev)
	}
	return response, nil
}

// Revision returns one archived raw revision by id.
func (s *Service) Revision(ctx context.Context, revisionID string) (store.RevisionRecord, error) {
	if strings.TrimSpace(revisionID) == "" {
		return store.RevisionRecord{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "revision id is required", nil)
	}
	return s.store.GetRevision(ctx, revisionID)
}

// History returns the assembled version history for a document, newest
// first, optionally filtered to a single author. Results are cached.
func (s *Service) History(ctx context.Context, documentID, authorFilter string) ([]revision.Revision, error) {
	if strings.TrimSpace(documentID) == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "documentId is required", nil)
	}

	if s.cache != nil {
		history, hit, err := s.cache.LookupHistory(ctx, documentID, authorFilter)
		if err != nil {
			log.Printf("app: history cache lookup for %s: %v", documentID, err)
		} else if hit {
			return history, nil
		}
	}

	records, err := s.store.ListRevisionsByDocument(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("load revisions: %w", err)
	}

	raws := make([]revision.Raw, 0, len(records))
	for _, record := range records {
		raws = append(raws, recordToRaw(record))
	}
	history := revision.Assemble(raws, documentID, authorFilter)

	if s.cache != nil {
		if err := s.cache.SaveHistory(ctx, documentID, authorFilter, history); err != nil {
			log.Printf("app: history cache save for %s: %v", documentID, err)
		}
	}
	return history, nil
}

// DiffResponse carries a computed diff between two revisions of a
// document. From is empty when the target is the document's first
// revision and the old side was the empty text.
type DiffResponse struct {
	DocumentID string         `json:"documentId"`
	FromID     string         `json:"fromId,omitempty"`
	ToID       string         `json:"toId"`
	Segments   []diff.Segment `json:"segments"`
	Stats      diff.Stats     `json:"stats"`
}

// Diff compares two revisions of a document. When fromID is empty the
// predecessor of toID in the assembled history is used; for the first
// revision the old side is the empty text.
func (s *Service) Diff(ctx context.Context, documentID, fromID, toID string) (DiffResponse, error) {
	if strings.TrimSpace(toID) == "" {
		return DiffResponse{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "to is required", nil)
	}

	history, err := s.History(ctx, documentID, "")
	if err != nil {
		return DiffResponse{}, err
	}

	toIdx := -1
	for idx, rev := range history {
		if rev.ID == toID {
			toIdx = idx
			break
		}
	}
	if toIdx < 0 {
		return DiffResponse{}, domainError(http.StatusNotFound, "NOT_FOUND", "revision not found in document history", nil)
	}
	to := history[toIdx]

	var from revision.Revision
	haveFrom := false
	if fromID != "" {
		for _, rev := range history {
			if rev.ID == fromID {
				from = rev
				haveFrom = true
				break
			}
		}
		if !haveFrom {
			return DiffResponse{}, domainError(http.StatusNotFound, "NOT_FOUND", "revision not found in document history", nil)
		}
	} else if toIdx+1 < len(history) {
		// History is newest first; the predecessor is the next entry.
		from = history[toIdx+1]
		haveFrom = true
	}

	segments := diff.Compute(from.Content, to.Content)
	response := DiffResponse{
		DocumentID: documentID,
		ToID:       to.ID,
		Segments:   segments,
		Stats:      diff.Summarize(segments),
	}
	if haveFrom {
		response.FromID = from.ID
	}
	return response, nil
}

// ContributionEntry is one author's share of a document's edit volume.
type ContributionEntry struct {
	AuthorID string  `json:"authorId"`
	Weight   float64 `json:"weight"`
}

// Contributions derives per-author contribution weights from the full
// version history. Weights sum to 1 unless the history carries no edit
// volume at all.
func (s *Service) Contributions(ctx context.Context, documentID string) ([]ContributionEntry, error) {
	history, err := s.History(ctx, documentID, "")
	if err != nil {
		return nil, err
	}
	if len(history) == 0 {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "document has no revisions", nil)
	}

	weights := contribution.DeriveWeights(history)
	entries := make([]ContributionEntry, 0, len(weights))
	for authorID, weight := range weights {
		entries = append(entries, ContributionEntry{AuthorID: authorID, Weight: weight})
	}
	sort.Slice(entries, func(a, b int) bool {
		if entries[a].Weight != entries[b].Weight {
			return entries[a].Weight > entries[b].Weight
		}
		return entries[a].AuthorID < entries[b].AuthorID
	})
	return entries, nil
}

// SplitInput is the request body for a revenue split.
type SplitInput struct {
	TotalAmount int64  `json:"totalAmount"`
	Mode        string `json:"mode"`
}

// SplitResponse records the outcome of one revenue split.
type SplitResponse struct {
	SplitID     string         `json:"splitId"`
	DocumentID  string         `json:"documentId"`
	TotalAmount int64          `json:"totalAmount"`
	Mode        string         `json:"mode"`
	Results     []split.Result `json:"results"`
}

// Split divides an amount across a document's contributors and sends
// each share through the payment gateway. In derived mode the weights
// come from the version history; in declared mode from the recipient
// tags on the latest revision.
func (s *Service) Split(ctx context.Context, documentID string, input SplitInput) (SplitResponse, error) {
	if s.splitter == nil {
		return SplitResponse{}, domainError(http.StatusServiceUnavailable, "PAYMENTS_DISABLED", "payment gateway is not configured", nil)
	}

	mode := input.Mode
	if mode == "" {
		mode = SplitModeDerived
	}
	if mode != SplitModeDerived && mode != SplitModeDeclared {
		return SplitResponse{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "mode must be derived or declared", nil)
	}

	history, err := s.History(ctx, documentID, "")
	if err != nil {
		return SplitResponse{}, err
	}
	if len(history) == 0 {
		return SplitResponse{}, domainError(http.StatusNotFound, "NOT_FOUND", "document has no revisions", nil)
	}

	var contributors []split.Contributor
	switch mode {
	case SplitModeDerived:
		for authorID, weight := range contribution.DeriveWeights(history) {
			contributors = append(contributors, split.Contributor{ID: authorID, Weight: weight})
		}
		sort.Slice(contributors, func(a, b int) bool { return contributors[a].ID < contributors[b].ID })
	case SplitModeDeclared:
		for _, recipient := range revision.DeclaredRecipients(history[0]) {
			contributors = append(contributors, split.Contributor{ID: recipient.ContributorID, Weight: recipient.Weight})
		}
	}

	for idx := range contributors {
		profile, err := s.store.GetProfile(ctx, contributors[idx].ID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				continue
			}
			return SplitResponse{}, fmt.Errorf("resolve payout address: %w", err)
		}
		contributors[idx].PayoutAddress = profile.PayoutAddress
	}

	splitID := uuid.NewString()
	results, err := s.splitter.SplitAndSend(ctx, input.TotalAmount, contributors, map[string]string{
		"documentId": documentID,
		"splitId":    splitID,
	})
	if err != nil {
		return SplitResponse{}, err
	}

	record := store.SplitRecord{
		ID:          splitID,
		DocumentID:  documentID,
		TotalAmount: input.TotalAmount,
		Mode:        mode,
		Results:     toSplitOutcomes(results),
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.InsertSplit(ctx, record); err != nil {
		return SplitResponse{}, fmt.Errorf("record split: %w", err)
	}

	return SplitResponse{
		SplitID:     splitID,
		DocumentID:  documentID,
		TotalAmount: input.TotalAmount,
		Mode:        mode,
		Results:     results,
	}, nil
}

// Splits lists past revenue splits for a document, newest first.
func (s *Service) Splits(ctx context.Context, documentID string) ([]store.SplitRecord, error) {
	return s.store.ListSplits(ctx, documentID)
}

// ProfileInput is the request body for creating or updating a
// contributor profile.
type ProfileInput struct {
	ContributorID string `json:"contributorId"`
	DisplayName   string `json:"displayName"`
	PayoutAddress string `json:"payoutAddress"`
}

func (s *Service) UpsertProfile(ctx context.Context, input ProfileInput) (store.Profile, error) {
	if strings.TrimSpace(input.ContributorID) == "" {
		return store.Profile{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "contributorId is required", nil)
	}

	profile := store.Profile{
		ContributorID: input.ContributorID,
		DisplayName:   input.DisplayName,
		PayoutAddress: input.PayoutAddress,
	}
	if err := s.store.UpsertProfile(ctx, profile); err != nil {
		return store.Profile{}, fmt.Errorf("upsert profile: %w", err)
	}

	if s.search != nil {
		s.search.IndexProfile(search.ProfileRecord{
			ID:          input.ContributorID,
			DisplayName: input.DisplayName,
		})
	}
	return s.store.GetProfile(ctx, input.ContributorID)
}

func (s *Service) Profile(ctx context.Context, contributorID string) (store.Profile, error) {
	return s.store.GetProfile(ctx, contributorID)
}

func (s *Service) Articles(ctx context.Context) ([]store.Article, error) {
	return s.store.ListArticles(ctx)
}

func (s *Service) Search(q search.Query) (search.Response, error) {
	if s.search == nil {
		return search.Response{}, domainError(http.StatusServiceUnavailable, "SEARCH_DISABLED", "search is not configured", nil)
	}
	return s.search.Search(q), nil
}

// ExportInput is the request body for an export.
type ExportInput struct {
	RevisionID string `json:"revisionId"`
	Format     string `json:"format"`
}

// ExportResponse wraps the rendered artifact. ArtifactKey is set when
// object storage is configured and the artifact was persisted.
type ExportResponse struct {
	Result      *export.Result
	ArtifactKey string
}

// Export renders one revision of a document (the latest when
// revisionID is empty) to the requested format.
func (s *Service) Export(ctx context.Context, documentID string, input ExportInput) (ExportResponse, error) {
	if s.exporter == nil {
		return ExportResponse{}, domainError(http.StatusServiceUnavailable, "EXPORT_DISABLED", "export is not configured", nil)
	}

	format := export.Format(input.Format)
	if format != export.FormatPDF && format != export.FormatDOCX {
		return ExportResponse{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "format must be pdf or docx", nil)
	}

	history, err := s.History(ctx, documentID, "")
	if err != nil {
		return ExportResponse{}, err
	}
	if len(history) == 0 {
		return ExportResponse{}, domainError(http.StatusNotFound, "NOT_FOUND", "document has no revisions", nil)
	}

	rev := history[0]
	if input.RevisionID != "" {
		found := false
		for _, candidate := range history {
			if candidate.ID == input.RevisionID {
				rev = candidate
				found = true
				break
			}
		}
		if !found {
			return ExportResponse{}, domainError(http.StatusNotFound, "NOT_FOUND", "revision not found in document history", nil)
		}
	}

	authorName := rev.AuthorID
	if profile, err := s.store.GetProfile(ctx, rev.AuthorID); err == nil && profile.DisplayName != "" {
		authorName = profile.DisplayName
	}

	article := export.Article{
		DocumentID:  documentID,
		RevisionID:  rev.ID,
		Title:       rev.Title,
		AuthorName:  authorName,
		PublishedAt: rev.PublishedAt,
		UpdatedAt:   rev.CreatedAt,
		Content:     rev.Content,
	}
	result, err := s.exporter.Export(ctx, article, format)
	if err != nil {
		if errors.Is(err, export.ErrPDFDependencyMissing) || errors.Is(err, export.ErrDOCXDependencyMissing) {
			return ExportResponse{}, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", err.Error(), nil)
		}
		return ExportResponse{}, err
	}

	response := ExportResponse{Result: result}
	if s.artifacts != nil {
		key := fmt.Sprintf("%s/%s/%s", documentID, rev.ID, result.Filename)
		stored, err := s.artifacts.Put(ctx, key, result.Data, result.MimeType)
		if err != nil {
			log.Printf("app: store export artifact %s: %v", key, err)
		} else {
			response.ArtifactKey = stored
		}
	}
	return response, nil
}

// Artifact downloads a previously stored export artifact. The content
// type is recovered from the key's file extension.
func (s *Service) Artifact(ctx context.Context, key string) ([]byte, string, error) {
	if s.artifacts == nil {
		return nil, "", domainError(http.StatusServiceUnavailable, "ARTIFACTS_DISABLED", "object storage is not configured", nil)
	}
	if strings.TrimSpace(key) == "" {
		return nil, "", domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "artifact key is required", nil)
	}

	data, err := s.artifacts.Get(ctx, key)
	if err != nil {
		return nil, "", err
	}

	contentType := mime.TypeByExtension(filepath.Ext(key))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return data, contentType, nil
}

// Mirror brings the document's git mirror up to date and returns the
// commits created by this call.
func (s *Service) Mirror(ctx context.Context, documentID string) ([]gitmirror.Commit, error) {
	if s.mirrors == nil {
		return nil, domainError(http.StatusServiceUnavailable, "MIRROR_DISABLED", "git mirroring is not configured", nil)
	}

	history, err := s.History(ctx, documentID, "")
	if err != nil {
		return nil, err
	}
	if len(history) == 0 {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "document has no revisions", nil)
	}
	return s.mirrors.Mirror(documentID, history)
}

// MirrorLog returns the document's mirrored commit log, newest first.
func (s *Service) MirrorLog(documentID string, limit int) ([]gitmirror.Commit, error) {
	if s.mirrors == nil {
		return nil, domainError(http.StatusServiceUnavailable, "MIRROR_DISABLED", "git mirroring is not configured", nil)
	}
	return s.mirrors.Log(documentID, limit)
}

func recordToRaw(record store.RevisionRecord) revision.Raw {
	return revision.Raw{
		ID:        record.ID,
		AuthorID:  record.AuthorID,
		Kind:      record.Kind,
		CreatedAt: record.CreatedAt.Unix(),
		Content:   record.Content,
		Tags:      record.Tags,
	}
}

func toSplitOutcomes(results []split.Result) []store.SplitOutcome {
	outcomes := make([]store.SplitOutcome, 0, len(results))
	for _, result := range results {
		outcomes = append(outcomes, store.SplitOutcome{
			ContributorID: result.ContributorID,
			Amount:        result.Amount,
			OK:            result.OK,
			Reason:        result.Reason,
		})
	}
	return outcomes
}

// excerpt truncates content for the search index, backing up to a rune
// boundary so a multi-byte character is never cut in half.
func excerpt(content string) string {
	content = strings.TrimSpace(content)
	if len(content) <= searchExcerptLen {
		return content
	}
	cut := searchExcerptLen
	for cut > 0 && !utf8.RuneStart(content[cut]) {
		cut--
	}
	return content[:cut]
}
