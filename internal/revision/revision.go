// Package revision models immutable, content-addressed article revisions
// as published to the relay network, including the tag wire format and
// the assembly of per-document version histories.
package revision

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Kind identifies the two recognized long-form revision kinds.
type Kind string

const (
	KindPublished Kind = "published"
	KindDraft     Kind = "draft"
)

// Recognized tag names consumed by this package.
const (
	TagDocument    = "d"
	TagTitle       = "title"
	TagPublishedAt = "published_at"
	TagContributor = "p"
	TagWeight      = "contribution_weight"
)

// Tag is one ordered (name, value...) tuple from the wire format.
type Tag []string

// Raw is a revision record as received from the relay network or the
// ingest endpoint. Raw records are untrusted: fields may be missing and
// the same id may arrive from several sources.
type Raw struct {
	ID        string     `json:"id"`
	AuthorID  string     `json:"author"`
	Kind      string     `json:"kind"`
	CreatedAt int64      `json:"created_at"`
	Content   string     `json:"content"`
	Tags      [][]string `json:"tags"`
}

// Revision is a validated, immutable snapshot of a document's content.
// Identity is the content-derived ID; records sharing a DocumentID form
// one logical article's version history.
type Revision struct {
	ID          string    `json:"id"`
	AuthorID    string    `json:"author"`
	DocumentID  string    `json:"documentId"`
	Kind        Kind      `json:"kind"`
	CreatedAt   time.Time `json:"createdAt"`
	PublishedAt time.Time `json:"publishedAt,omitzero"`
	Title       string    `json:"title,omitempty"`
	Content     string    `json:"content"`
	Tags        []Tag     `json:"tags"`
}

// Recipient is a declared payout recipient parsed from p tags, with the
// weight declared by a paired contribution_weight tag.
type Recipient struct {
	ContributorID string
	Weight        float64
}

var (
	ErrMissingID       = errors.New("revision: missing id")
	ErrMissingAuthor   = errors.New("revision: missing author")
	ErrMissingDocument = errors.New("revision: missing document identifier tag")
)

// Parse validates a raw record and lifts the recognized tags into fields.
// The original tag list is preserved verbatim so the wire encoding can be
// reproduced bit-exact.
func Parse(raw Raw) (Revision, error) {
	if raw.ID == "" {
		return Revision{}, ErrMissingID
	}
	if raw.AuthorID == "" {
		return Revision{}, ErrMissingAuthor
	}

	kind := Kind(raw.Kind)
	if kind != KindPublished && kind != KindDraft {
		return Revision{}, fmt.Errorf("revision: unrecognized kind %q", raw.Kind)
	}

	tags := make([]Tag, 0, len(raw.Tags))
	for _, tuple := range raw.Tags {
		tags = append(tags, Tag(tuple))
	}

	rev := Revision{
		ID:        raw.ID,
		AuthorID:  raw.AuthorID,
		Kind:      kind,
		CreatedAt: time.Unix(raw.CreatedAt, 0).UTC(),
		Content:   raw.Content,
		Tags:      tags,
	}

	rev.DocumentID = tagValue(tags, TagDocument)
	if rev.DocumentID == "" {
		return Revision{}, ErrMissingDocument
	}
	rev.Title = tagValue(tags, TagTitle)

	if value := tagValue(tags, TagPublishedAt); value != "" {
		if seconds, err := strconv.ParseInt(value, 10, 64); err == nil {
			rev.PublishedAt = time.Unix(seconds, 0).UTC()
		}
	}

	return rev, nil
}

// EncodeTags returns the revision's tag tuples in wire form, preserving
// the original order and values.
func (r Revision) EncodeTags() [][]string {
	encoded := make([][]string, 0, len(r.Tags))
	for _, tag := range r.Tags {
		tuple := make([]string, len(tag))
		copy(tuple, tag)
		encoded = append(encoded, tuple)
	}
	return encoded
}

// BuildTags produces the wire tag list for a newly authored revision:
// the document identifier, optional title and published_at, then one p
// tag per recipient followed by its contribution_weight tag.
func BuildTags(documentID, title string, publishedAt time.Time, recipients []Recipient) []Tag {
	tags := []Tag{{TagDocument, documentID}}
	if title != "" {
		tags = append(tags, Tag{TagTitle, title})
	}
	if !publishedAt.IsZero() {
		tags = append(tags, Tag{TagPublishedAt, strconv.FormatInt(publishedAt.Unix(), 10)})
	}
	for _, recipient := range recipients {
		tags = append(tags, Tag{TagContributor, recipient.ContributorID})
		tags = append(tags, Tag{
			TagWeight,
			recipient.ContributorID,
			strconv.FormatFloat(recipient.Weight, 'f', -1, 64),
		})
	}
	return tags
}

// DeclaredRecipients extracts the explicit-weight payout declaration from
// a revision's tags. Each p tag names a contributor; a matching
// contribution_weight tag supplies the weight, defaulting to 1 when
// absent or unparseable. Order follows the p tags.
func DeclaredRecipients(rev Revision) []Recipient {
	weights := make(map[string]float64)
	for _, tag := range rev.Tags {
		if len(tag) < 3 || tag[0] != TagWeight {
			continue
		}
		weight, err := strconv.ParseFloat(tag[2], 64)
		if err != nil || weight < 0 {
			continue
		}
		weights[tag[1]] = weight
	}

	var recipients []Recipient
	seen := make(map[string]struct{})
	for _, tag := range rev.Tags {
		if len(tag) < 2 || tag[0] != TagContributor {
			continue
		}
		contributorID := tag[1]
		if _, dup := seen[contributorID]; dup {
			continue
		}
		seen[contributorID] = struct{}{}
		weight, declared := weights[contributorID]
		if !declared {
			weight = 1
		}
		recipients = append(recipients, Recipient{ContributorID: contributorID, Weight: weight})
	}
	return recipients
}

func tagValue(tags []Tag, name string) string {
	for _, tag := range tags {
		if len(tag) >= 2 && tag[0] == name {
			return tag[1]
		}
	}
	return ""
}
