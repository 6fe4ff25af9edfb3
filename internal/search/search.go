package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultArticle ResultType = "article"
	ResultProfile ResultType = "profile"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type       ResultType `json:"type"`
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	Snippet    string     `json:"snippet"`
	DocumentID string     `json:"documentId,omitempty"`
	AuthorID   string     `json:"authorId,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text         string
	FilterType   ResultType // empty = all types
	FilterAuthor string
	Limit        int
	Offset       int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push entities into a search index.
type Indexer interface {
	IndexArticle(a ArticleRecord) error
	IndexProfile(p ProfileRecord) error
}

// ArticleRecord is the data we index for an article: the latest
// revision's title and a content excerpt, keyed by document id.
type ArticleRecord struct {
	ID       string `json:"id"` // document id
	Title    string `json:"title"`
	Excerpt  string `json:"excerpt"`
	AuthorID string `json:"authorId"`
	Kind     string `json:"kind"`
}

// ProfileRecord is the data we index for a contributor profile.
type ProfileRecord struct {
	ID          string `json:"id"` // contributor id
	DisplayName string `json:"displayName"`
}
