package split

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// stubTransport records payment attempts and returns a scripted error
// per payout address.
type stubTransport struct {
	mu       sync.Mutex
	attempts map[string]int64
	errs     map[string]error
	delay    time.Duration
}

func newStubTransport() *stubTransport {
	return &stubTransport{attempts: make(map[string]int64), errs: make(map[string]error)}
}

func (s *stubTransport) PayInvoice(ctx context.Context, amount int64, payoutAddress string, metadata map[string]string) error {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.mu.Lock()
	s.attempts[payoutAddress] = amount
	s.mu.Unlock()
	return s.errs[payoutAddress]
}

func (s *stubTransport) attempted(payoutAddress string) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	amount, ok := s.attempts[payoutAddress]
	return amount, ok
}

func TestSplitAndSendProportionalShares(t *testing.T) {
	transport := newStubTransport()
	splitter := New(transport, time.Second)

	results, err := splitter.SplitAndSend(context.Background(), 10000, []Contributor{
		{ID: "A", Weight: 0.6, PayoutAddress: "addr-a"},
		{ID: "B", Weight: 0.4, PayoutAddress: "addr-b"},
	}, nil)
	if err != nil {
		t.Fatalf("SplitAndSend failed: %v", err)
	}

	want := map[string]int64{"A": 6000, "B": 4000}
	for _, result := range results {
		if !result.OK {
			t.Errorf("contributor %s failed: %s", result.ContributorID, result.Reason)
		}
		if result.Amount != want[result.ContributorID] {
			t.Errorf("contributor %s amount = %d, want %d", result.ContributorID, result.Amount, want[result.ContributorID])
		}
	}
}

func TestSplitAndSendUnnormalizedWeights(t *testing.T) {
	transport := newStubTransport()
	splitter := New(transport, time.Second)

	results, err := splitter.SplitAndSend(context.Background(), 10000, []Contributor{
		{ID: "A", Weight: 3, PayoutAddress: "addr-a"},
		{ID: "B", Weight: 2, PayoutAddress: "addr-b"},
	}, nil)
	if err != nil {
		t.Fatalf("SplitAndSend failed: %v", err)
	}
	if results[0].Amount != 6000 || results[1].Amount != 4000 {
		t.Errorf("amounts = %d/%d, want 6000/4000", results[0].Amount, results[1].Amount)
	}
}

func TestSplitAndSendSkipsMissingAddress(t *testing.T) {
	transport := newStubTransport()
	splitter := New(transport, time.Second)

	results, err := splitter.SplitAndSend(context.Background(), 10000, []Contributor{
		{ID: "A", Weight: 1, PayoutAddress: "addr-a"},
		{ID: "B", Weight: 1},
	}, nil)
	if err != nil {
		t.Fatalf("SplitAndSend failed: %v", err)
	}
	if results[1].OK || results[1].Reason != ReasonNoAddress || results[1].Amount != 0 {
		t.Errorf("result for B = %+v, want %q failure with amount 0", results[1], ReasonNoAddress)
	}
	if _, attempted := transport.attempted(""); attempted {
		t.Error("transport was called for a contributor without an address")
	}
}

func TestSplitAndSendSkipsZeroWeight(t *testing.T) {
	transport := newStubTransport()
	splitter := New(transport, time.Second)

	results, err := splitter.SplitAndSend(context.Background(), 10000, []Contributor{
		{ID: "A", Weight: 1, PayoutAddress: "addr-a"},
		{ID: "B", Weight: 0, PayoutAddress: "addr-b"},
	}, nil)
	if err != nil {
		t.Fatalf("SplitAndSend failed: %v", err)
	}
	if results[1].OK || results[1].Reason != ReasonShareTooSmall || results[1].Amount != 0 {
		t.Errorf("result for B = %+v, want %q failure with amount 0", results[1], ReasonShareTooSmall)
	}
	if _, attempted := transport.attempted("addr-b"); attempted {
		t.Error("transport was called for a zero-share contributor")
	}
}

func TestSplitAndSendAllWeightsZero(t *testing.T) {
	transport := newStubTransport()
	splitter := New(transport, time.Second)

	results, err := splitter.SplitAndSend(context.Background(), 10000, []Contributor{
		{ID: "A", Weight: 0, PayoutAddress: "addr-a"},
		{ID: "B", Weight: 0, PayoutAddress: "addr-b"},
	}, nil)
	if err != nil {
		t.Fatalf("SplitAndSend failed: %v", err)
	}
	for _, result := range results {
		if result.OK || result.Reason != ReasonShareTooSmall {
			t.Errorf("result = %+v, want share-too-small failure", result)
		}
	}
}

func TestSplitAndSendPartialFailure(t *testing.T) {
	transport := newStubTransport()
	transport.errs["addr-b"] = errors.New("insufficient liquidity")
	splitter := New(transport, time.Second)

	results, err := splitter.SplitAndSend(context.Background(), 10000, []Contributor{
		{ID: "A", Weight: 1, PayoutAddress: "addr-a"},
		{ID: "B", Weight: 1, PayoutAddress: "addr-b"},
		{ID: "C", Weight: 2, PayoutAddress: "addr-c"},
	}, nil)
	if err != nil {
		t.Fatalf("SplitAndSend failed: %v", err)
	}
	if !results[0].OK || !results[2].OK {
		t.Errorf("independent attempts should succeed: %+v", results)
	}
	if results[1].OK || results[1].Reason != "insufficient liquidity" {
		t.Errorf("result for B = %+v, want transport error surfaced", results[1])
	}
	if results[1].Amount != 2500 {
		t.Errorf("failed attempt amount = %d, want 2500", results[1].Amount)
	}
}

func TestSplitAndSendTimeout(t *testing.T) {
	transport := newStubTransport()
	transport.delay = 200 * time.Millisecond
	splitter := New(transport, 10*time.Millisecond)

	results, err := splitter.SplitAndSend(context.Background(), 10000, []Contributor{
		{ID: "A", Weight: 1, PayoutAddress: "addr-a"},
	}, nil)
	if err != nil {
		t.Fatalf("SplitAndSend failed: %v", err)
	}
	if results[0].OK || results[0].Reason != ReasonTimeout {
		t.Errorf("result = %+v, want timeout failure", results[0])
	}
}

func TestSplitAndSendCallerContractErrors(t *testing.T) {
	transport := newStubTransport()
	splitter := New(transport, time.Second)

	if _, err := splitter.SplitAndSend(context.Background(), 0, []Contributor{{ID: "A", Weight: 1, PayoutAddress: "a"}}, nil); !errors.Is(err, ErrNonPositiveAmount) {
		t.Errorf("zero amount error = %v, want ErrNonPositiveAmount", err)
	}
	if _, err := splitter.SplitAndSend(context.Background(), -5, []Contributor{{ID: "A", Weight: 1, PayoutAddress: "a"}}, nil); !errors.Is(err, ErrNonPositiveAmount) {
		t.Errorf("negative amount error = %v, want ErrNonPositiveAmount", err)
	}
	if _, err := splitter.SplitAndSend(context.Background(), 100, nil, nil); !errors.Is(err, ErrNoContributors) {
		t.Errorf("empty contributors error = %v, want ErrNoContributors", err)
	}
	if len(transport.attempts) != 0 {
		t.Error("transport was called despite caller-contract violations")
	}
}

func TestSplitAndSendRoundingResidual(t *testing.T) {
	transport := newStubTransport()
	splitter := New(transport, time.Second)

	results, err := splitter.SplitAndSend(context.Background(), 100, []Contributor{
		{ID: "A", Weight: 1, PayoutAddress: "addr-a"},
		{ID: "B", Weight: 1, PayoutAddress: "addr-b"},
		{ID: "C", Weight: 1, PayoutAddress: "addr-c"},
	}, nil)
	if err != nil {
		t.Fatalf("SplitAndSend failed: %v", err)
	}
	var distributed int64
	for _, result := range results {
		distributed += result.Amount
	}
	// floor(100/3)*3 = 99; the residual unit stays undistributed.
	if distributed != 99 {
		t.Errorf("distributed = %d, want 99", distributed)
	}
}
