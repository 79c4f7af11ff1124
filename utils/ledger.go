package utils

import (
	"fmt"
	"sort"
	"sync"

	"github.com/hashicorp/go-multierror"
)

// Ledger records both sides of redistribution exchanges so that the
// messages sources intend to send can be checked against what destinations
// expect and receive. A message a rank keeps for itself is recorded with
// Source == Dest. Every method is safe for concurrent use by the ranks of an
// in-process world. Recording into a nil Ledger does nothing.
type Ledger struct {
	mu       sync.Mutex
	sent     map[Exchange]int
	received map[Exchange]int
	expected map[Slot]int
}

// Exchange identifies the messages from one rank to another in one iteration
type Exchange struct {
	Iteration int
	Source    int
	Dest      int
}

// Slot identifies the receptions of one destination in one iteration
type Slot struct {
	Iteration int
	Dest      int
}

// NewLedger creates an empty ledger
func NewLedger() *Ledger {
	return &Ledger{
		sent:     make(map[Exchange]int),
		received: make(map[Exchange]int),
		expected: make(map[Slot]int),
	}
}

// Sent records one message from source to dest, empty or not
func (l *Ledger) Sent(iteration, source, dest int) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sent[Exchange{iteration, source, dest}]++
}

// Received records one message taken by dest
func (l *Ledger) Received(iteration, source, dest int) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.received[Exchange{iteration, source, dest}]++
}

// Expect records how many messages dest waits for, the kept one included
func (l *Ledger) Expect(iteration, dest, n int) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.expected[Slot{iteration, dest}] += n
}

// Totals returns the wire messages sent and received and the kept messages
// over every iteration. Kept messages are counted once, on the sending side.
func (l *Ledger) Totals() (sent, received, kept int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for k, n := range l.sent {
		if k.Source == k.Dest {
			kept += n
			continue
		}
		sent += n
	}
	for k, n := range l.received {
		if k.Source != k.Dest {
			received += n
		}
	}
	return sent, received, kept
}

// ReceivedBy returns the messages dest took in iteration, the kept one
// included
func (l *Ledger) ReceivedBy(iteration, dest int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for k, c := range l.received {
		if k.Iteration == iteration && k.Dest == dest {
			n += c
		}
	}
	return n
}

// Verify checks that every message sent was received exactly once and that
// every destination received what it expected
func (l *Ledger) Verify() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var result *multierror.Error
	keys := make(map[Exchange]struct{}, len(l.sent))
	for k := range l.sent {
		keys[k] = struct{}{}
	}
	for k := range l.received {
		keys[k] = struct{}{}
	}
	for _, k := range sortedExchanges(keys) {
		if s, r := l.sent[k], l.received[k]; s != r {
			result = multierror.Append(result, fmt.Errorf(
				"iteration %d: rank %d sent %d messages to rank %d, %d received",
				k.Iteration, k.Source, s, k.Dest, r))
		}
	}

	got := make(map[Slot]int)
	for k, n := range l.received {
		got[Slot{k.Iteration, k.Dest}] += n
	}
	for s, n := range l.expected {
		if got[s] != n {
			result = multierror.Append(result, fmt.Errorf(
				"iteration %d: rank %d expected %d messages, received %d",
				s.Iteration, s.Dest, n, got[s]))
		}
	}
	return result.ErrorOrNil()
}

func sortedExchanges(keys map[Exchange]struct{}) []Exchange {
	out := make([]Exchange, 0, len(keys))
	for k := range keys {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Iteration != b.Iteration {
			return a.Iteration < b.Iteration
		}
		if a.Source != b.Source {
			return a.Source < b.Source
		}
		return a.Dest < b.Dest
	})
	return out
}
