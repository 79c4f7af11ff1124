package comm

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/notargets/DGFlow/errs"
)

func natsURL(t *testing.T) string {
	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("NATS_URL not set")
	}
	return url
}

func TestNATSWorld(t *testing.T) {
	url := natsURL(t)
	job := "dgflow-test-" + uuid.NewString()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	const size = 3
	totals := make([]int, size)
	g, gctx := errgroup.WithContext(ctx)
	for r := 0; r < size; r++ {
		g.Go(func() error {
			w, err := DialNATS(gctx, url, job, r, size, WithPingInterval(20*time.Millisecond))
			if err != nil {
				return err
			}
			defer w.Close()
			c := w.Comm().Sub("test")
			group := Group{First: 0, Count: size}
			total, err := AllreduceSum(gctx, c, group, 1, r+1)
			if err != nil {
				return err
			}
			totals[r] = total
			return Barrier(gctx, c, group, 2)
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, []int{6, 6, 6}, totals)
}

func TestNATSAbort(t *testing.T) {
	url := natsURL(t)
	job := "dgflow-test-" + uuid.NewString()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	worlds := make([]*NATSWorld, 2)
	g, gctx := errgroup.WithContext(ctx)
	for r := range worlds {
		g.Go(func() error {
			w, err := DialNATS(gctx, url, job, r, 2)
			worlds[r] = w
			return err
		})
	}
	require.NoError(t, g.Wait())
	defer worlds[0].Close()
	defer worlds[1].Close()

	worlds[0].Comm().Abort(assert.AnError)
	_, err := worlds[1].Comm().Recv(ctx, 1)
	assert.ErrorIs(t, err, errs.ErrAborted)
}
