// Package split divides a payment amount among contributors by weight
// and drives per-contributor payment attempts through an external
// transport, collecting partial-failure results.
package split

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"
)

// Contributor is one payout target. Weight need not be normalized; the
// splitter divides by the sum of all weights. PayoutAddress may be empty
// when the contributor's profile carries none.
type Contributor struct {
	ID            string
	Weight        float64
	PayoutAddress string
}

// Result records the outcome of one contributor's share. Results are
// write-once: a fresh slice is produced per split attempt.
type Result struct {
	ContributorID string `json:"contributorId"`
	Amount        int64  `json:"amount"`
	OK            bool   `json:"ok"`
	Reason        string `json:"reason,omitempty"`
}

// Failure reasons for contributors that are skipped or whose payment
// attempt does not complete.
const (
	ReasonNoAddress     = "no payout address"
	ReasonShareTooSmall = "share too small"
	ReasonTimeout       = "timeout"
)

// Transport delivers a single payment to a payout address. Implemented
// by the payment gateway client; stubbed in tests.
type Transport interface {
	PayInvoice(ctx context.Context, amount int64, payoutAddress string, metadata map[string]string) error
}

var (
	ErrNonPositiveAmount = errors.New("split: total amount must be positive")
	ErrNoContributors    = errors.New("split: contributor set is empty")
)

const defaultAttemptTimeout = 30 * time.Second

// Splitter computes shares and dispatches payments.
type Splitter struct {
	transport      Transport
	attemptTimeout time.Duration
}

// New creates a Splitter. attemptTimeout bounds each individual payment
// attempt; zero or negative selects the default.
func New(transport Transport, attemptTimeout time.Duration) *Splitter {
	if attemptTimeout <= 0 {
		attemptTimeout = defaultAttemptTimeout
	}
	return &Splitter{transport: transport, attemptTimeout: attemptTimeout}
}

// SplitAndSend divides total among contributors proportionally to their
// weights and attempts one payment per eligible contributor.
//
// Shares use integer floor division, so up to len(contributors)-1 units
// of the total may remain undistributed; that residual is an accepted
// rounding loss, never redistributed. Contributors without a payout
// address or with a share below one unit are recorded as failures
// without touching the transport. Payment attempts run concurrently,
// each bounded by the attempt timeout; one failure never aborts the
// rest, and nothing is rolled back on cancellation — payments are
// fire-and-record. Results are returned in input order.
func (s *Splitter) SplitAndSend(ctx context.Context, total int64, contributors []Contributor, metadata map[string]string) ([]Result, error) {
	if total <= 0 {
		return nil, ErrNonPositiveAmount
	}
	if len(contributors) == 0 {
		return nil, ErrNoContributors
	}

	var totalWeight float64
	for _, contributor := range contributors {
		totalWeight += contributor.Weight
	}

	results := make([]Result, len(contributors))
	var wg sync.WaitGroup

	for idx, contributor := range contributors {
		var share int64
		if totalWeight > 0 {
			share = int64(math.Floor(float64(total) * contributor.Weight / totalWeight))
		}

		if contributor.PayoutAddress == "" {
			results[idx] = Result{ContributorID: contributor.ID, Reason: ReasonNoAddress}
			continue
		}
		if share < 1 {
			results[idx] = Result{ContributorID: contributor.ID, Reason: ReasonShareTooSmall}
			continue
		}

		wg.Add(1)
		go func(idx int, contributor Contributor, share int64) {
			defer wg.Done()
			attemptCtx, cancel := context.WithTimeout(ctx, s.attemptTimeout)
			defer cancel()

			err := s.transport.PayInvoice(attemptCtx, share, contributor.PayoutAddress, metadata)
			switch {
			case err == nil:
				results[idx] = Result{ContributorID: contributor.ID, Amount: share, OK: true}
			case errors.Is(err, context.DeadlineExceeded):
				results[idx] = Result{ContributorID: contributor.ID, Amount: share, Reason: ReasonTimeout}
			default:
				results[idx] = Result{ContributorID: contributor.ID, Amount: share, Reason: err.Error()}
			}
		}(idx, contributor, share)
	}

	wg.Wait()
	return results, nil
}
