// Package contribution derives per-author contribution weights from a
// document's revision history.
//
// The change volume of each revision step (lines added plus lines
// removed versus the predecessor) is attributed to the author of the
// earlier revision in the pair. That attribution direction is a fixed
// contract: downstream revenue splits depend on it, so it must not be
// "corrected" to the later author.
package contribution

import (
	"sort"

	"folio/api/internal/diff"
	"folio/api/internal/revision"
)

// Weight returns authorID's proportional share of the document's total
// edit volume, in [0,1]. A history with fewer than two revisions, or one
// whose revisions are all byte-identical, has no attributable volume and
// yields 0 for every author.
func Weight(authorID string, versions []revision.Revision) float64 {
	volumes, total := volumesByAuthor(versions)
	if total == 0 {
		return 0
	}
	return float64(volumes[authorID]) / float64(total)
}

// DeriveWeights computes the weight of every contributing author at
// once. The returned weights sum to 1.0 across all authors with at least
// one non-empty diff; authors with zero volume are omitted.
func DeriveWeights(versions []revision.Revision) map[string]float64 {
	volumes, total := volumesByAuthor(versions)
	weights := make(map[string]float64, len(volumes))
	if total == 0 {
		return weights
	}
	for authorID, volume := range volumes {
		if volume == 0 {
			continue
		}
		weights[authorID] = float64(volume) / float64(total)
	}
	return weights
}

// volumesByAuthor diffs each adjacent revision pair in creation order
// and accumulates the change volume per author. The input may arrive in
// any order; it is sorted oldest-first here with the same ID tie-break
// the assembler uses, so adjacency is deterministic.
func volumesByAuthor(versions []revision.Revision) (map[string]int, int) {
	ordered := make([]revision.Revision, len(versions))
	copy(ordered, versions)
	sort.SliceStable(ordered, func(a, b int) bool {
		if !ordered[a].CreatedAt.Equal(ordered[b].CreatedAt) {
			return ordered[a].CreatedAt.Before(ordered[b].CreatedAt)
		}
		return ordered[a].ID < ordered[b].ID
	})

	volumes := make(map[string]int)
	total := 0
	for k := 1; k < len(ordered); k++ {
		earlier := ordered[k-1]
		later := ordered[k]
		stats := diff.Summarize(diff.Compute(earlier.Content, later.Content))
		volume := stats.Added + stats.Removed
		volumes[earlier.AuthorID] += volume
		total += volume
	}
	return volumes, total
}
