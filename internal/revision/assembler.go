package revision

import "sort"

// Assemble builds the canonical version history for one document from an
// unordered, possibly duplicated set of raw records. Records that fail
// validation, belong to another document, or (when authorFilter is
// non-empty) were written by another author are dropped silently: the
// relay network is open and uncurated, so malformed input is expected,
// not exceptional. Assemble never fails.
//
// The result is ordered by CreatedAt descending; equal timestamps fall
// back to ID (lexicographic ascending) so the ordering is deterministic.
// Duplicate ids collapse to the first-seen copy — all copies of an id are
// byte-identical by construction.
func Assemble(records []Raw, documentID, authorFilter string) []Revision {
	seen := make(map[string]struct{}, len(records))
	history := make([]Revision, 0, len(records))

	for _, raw := range records {
		rev, err := Parse(raw)
		if err != nil {
			continue
		}
		if rev.DocumentID != documentID {
			continue
		}
		if authorFilter != "" && rev.AuthorID != authorFilter {
			continue
		}
		if _, dup := seen[rev.ID]; dup {
			continue
		}
		seen[rev.ID] = struct{}{}
		history = append(history, rev)
	}

	sort.SliceStable(history, func(a, b int) bool {
		if !history[a].CreatedAt.Equal(history[b].CreatedAt) {
			return history[a].CreatedAt.After(history[b].CreatedAt)
		}
		return history[a].ID < history[b].ID
	})

	return history
}
