package store

import "time"

// RevisionRecord is an archived raw revision event as fetched from the
// relay network. Rows are immutable: the id is content-derived, so a
// re-ingested copy is byte-identical and collapses on conflict.
type RevisionRecord struct {
	ID         string     `json:"id"`
	AuthorID   string     `json:"author"`
	DocumentID string     `json:"documentId"`
	Kind       string     `json:"kind"`
	CreatedAt  time.Time  `json:"createdAt"`
	Content    string     `json:"content"`
	Title      string     `json:"title,omitempty"`
	Tags       [][]string `json:"tags"`
	ReceivedAt time.Time  `json:"receivedAt"`
}

// Article is the latest-revision view of one logical document.
type Article struct {
	DocumentID       string    `json:"documentId"`
	Title            string    `json:"title"`
	AuthorID         string    `json:"author"`
	Kind             string    `json:"kind"`
	LatestRevisionID string    `json:"latestRevisionId"`
	RevisionCount    int       `json:"revisionCount"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// Profile holds what we know about a contributor, most importantly the
// payout address revenue splits are sent to.
type Profile struct {
	ContributorID string    `json:"contributorId"`
	DisplayName   string    `json:"displayName"`
	PayoutAddress string    `json:"payoutAddress"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// SplitRecord is the audit trail of one split invocation, including the
// per-contributor outcomes as they were returned to the caller.
type SplitRecord struct {
	ID          string         `json:"id"`
	DocumentID  string         `json:"documentId"`
	TotalAmount int64          `json:"totalAmount"`
	Mode        string         `json:"mode"`
	Results     []SplitOutcome `json:"results"`
	CreatedAt   time.Time      `json:"createdAt"`
}

// SplitOutcome mirrors one contributor's result inside a SplitRecord.
type SplitOutcome struct {
	ContributorID string `json:"contributorId"`
	Amount        int64  `json:"amount"`
	OK            bool   `json:"ok"`
	Reason        string `json:"reason,omitempty"`
}
