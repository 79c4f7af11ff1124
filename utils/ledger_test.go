package utils

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedgerBalanced(t *testing.T) {
	l := NewLedger()
	// Ranks 0..2 send to ranks 2..3, rank 2 keeps its own chunk
	var wg sync.WaitGroup
	for src := 0; src < 3; src++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for dest := 2; dest < 4; dest++ {
				l.Sent(0, src, dest)
			}
		}()
	}
	wg.Wait()
	for dest := 2; dest < 4; dest++ {
		l.Expect(0, dest, 3)
		for src := 0; src < 3; src++ {
			l.Received(0, src, dest)
		}
	}

	require.NoError(t, l.Verify())
	sent, received, kept := l.Totals()
	assert.Equal(t, 5, sent)
	assert.Equal(t, 5, received)
	assert.Equal(t, 1, kept)
	assert.Equal(t, 3, l.ReceivedBy(0, 2))
	assert.Equal(t, 0, l.ReceivedBy(1, 2))
}

func TestLedgerMismatch(t *testing.T) {
	l := NewLedger()
	l.Sent(4, 0, 1)
	l.Sent(4, 0, 1)
	l.Received(4, 0, 1)
	l.Expect(4, 1, 1)
	l.Expect(4, 2, 1)

	err := l.Verify()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rank 0 sent 2 messages to rank 1, 1 received")
	assert.Contains(t, err.Error(), "rank 2 expected 1 messages, received 0")
	assert.NotContains(t, err.Error(), "rank 1 expected")
}
