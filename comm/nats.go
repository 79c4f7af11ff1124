package comm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/vmihailenco/msgpack/v5"
)

type frameKind uint8

const (
	frameData frameKind = iota
	framePing
	frameAbort
)

// frame is the wire envelope of every NATS message of a job
type frame struct {
	Kind   frameKind `msgpack:"k"`
	Space  string    `msgpack:"sp,omitempty"`
	Source int       `msgpack:"s"`
	Tag    int       `msgpack:"t"`
	Data   []byte    `msgpack:"d,omitempty"`
	Reason string    `msgpack:"r,omitempty"`
}

// NATSOption configures DialNATS
type NATSOption func(*natsConfig)

type natsConfig struct {
	logger        *slog.Logger
	pingInterval  time.Duration
	reconnectWait time.Duration
}

// WithNATSLogger sets the logger of connection events
func WithNATSLogger(l *slog.Logger) NATSOption {
	return func(c *natsConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithPingInterval sets the delay between two handshake attempts
func WithPingInterval(d time.Duration) NATSOption {
	return func(c *natsConfig) { c.pingInterval = d }
}

// NATSWorld is the rank of one process in a job whose ranks exchange
// messages through a NATS server. Rank r listens on "<job>.rank.<r>"; an
// abort is published on "<job>.abort".
type NATSWorld struct {
	conn   *nats.Conn
	job    string
	rank   int
	size   int
	box    *mailbox
	abort  *abortState
	subs   []*nats.Subscription
	logger *slog.Logger
}

// DialNATS connects rank to job and waits until every rank of the job is
// listening, so that no message sent afterwards can be lost.
func DialNATS(ctx context.Context, url, job string, rank, size int, opts ...NATSOption) (*NATSWorld, error) {
	if rank < 0 || rank >= size {
		return nil, fmt.Errorf("dial %s: rank %d: %w", job, rank, ErrRankOutOfRange)
	}
	cfg := natsConfig{
		logger:        slog.Default(),
		pingInterval:  100 * time.Millisecond,
		reconnectWait: time.Second,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	logger := cfg.logger.With(slog.String("job", job), slog.Int("rank", rank))

	conn, err := nats.Connect(url,
		nats.Name(fmt.Sprintf("%s-rank-%d", job, rank)),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.reconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("disconnected from NATS", slog.Any("error", err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("reconnected to NATS", slog.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	abort := newAbortState()
	w := &NATSWorld{
		conn:   conn,
		job:    job,
		rank:   rank,
		size:   size,
		box:    newMailbox(abort),
		abort:  abort,
		logger: logger,
	}
	for subject, handler := range map[string]nats.MsgHandler{
		w.subject(rank): w.handle,
		job + ".abort":  w.handle,
	} {
		sub, err := conn.Subscribe(subject, handler)
		if err != nil {
			w.Close()
			return nil, fmt.Errorf("subscribe %s: %w", subject, err)
		}
		w.subs = append(w.subs, sub)
	}
	if err := conn.Flush(); err != nil {
		w.Close()
		return nil, fmt.Errorf("flush subscriptions: %w", err)
	}
	if err := w.handshake(ctx, cfg.pingInterval); err != nil {
		w.Close()
		return nil, err
	}
	logger.Debug("joined job", slog.Int("size", size))
	return w, nil
}

func (w *NATSWorld) subject(r int) string { return fmt.Sprintf("%s.rank.%d", w.job, r) }

func (w *NATSWorld) handle(msg *nats.Msg) {
	var f frame
	if err := msgpack.Unmarshal(msg.Data, &f); err != nil {
		w.logger.Warn("dropping malformed frame", slog.String("subject", msg.Subject), slog.Any("error", err))
		return
	}
	switch f.Kind {
	case framePing:
		if err := msg.Respond(nil); err != nil {
			w.logger.Warn("ping reply failed", slog.Int("from", f.Source), slog.Any("error", err))
		}
	case frameAbort:
		w.abort.trigger(fmt.Errorf("rank %d: %s", f.Source, f.Reason))
	default:
		w.box.deliver(f.Space, Message{Source: f.Source, Tag: f.Tag, Data: f.Data})
	}
}

// handshake pings every rank until it answers
func (w *NATSWorld) handshake(ctx context.Context, interval time.Duration) error {
	ping, err := msgpack.Marshal(frame{Kind: framePing, Source: w.rank})
	if err != nil {
		return err
	}
	for r := 0; r < w.size; r++ {
		for {
			pctx, cancel := context.WithTimeout(ctx, interval)
			_, err := w.conn.RequestWithContext(pctx, w.subject(r), ping)
			cancel()
			if err == nil {
				break
			}
			if ctx.Err() != nil {
				return fmt.Errorf("waiting for rank %d: %w", r, ctx.Err())
			}
			if !errors.Is(err, nats.ErrNoResponders) && !errors.Is(err, context.DeadlineExceeded) &&
				!errors.Is(err, nats.ErrTimeout) {
				return fmt.Errorf("ping rank %d: %w", r, err)
			}
			select {
			case <-ctx.Done():
				return fmt.Errorf("waiting for rank %d: %w", r, ctx.Err())
			case <-time.After(interval):
			}
		}
	}
	return nil
}

// Comm returns the communicator of this rank
func (w *NATSWorld) Comm() Communicator { return &natsComm{world: w} }

// Close unsubscribes and closes the connection
func (w *NATSWorld) Close() {
	for _, sub := range w.subs {
		if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			w.logger.Debug("unsubscribe failed", slog.Any("error", err))
		}
	}
	w.conn.Close()
}

func (w *NATSWorld) publish(subject string, f frame) error {
	data, err := msgpack.Marshal(&f)
	if err != nil {
		return err
	}
	return w.conn.Publish(subject, data)
}

type natsComm struct {
	world *NATSWorld
	space string
}

func (c *natsComm) Rank() int { return c.world.rank }
func (c *natsComm) Size() int { return c.world.size }

func (c *natsComm) Isend(ctx context.Context, dest, tag int, data []byte) Request {
	if err := c.world.abort.failed(); err != nil {
		return completed(err)
	}
	if err := ctx.Err(); err != nil {
		return completed(err)
	}
	if dest < 0 || dest >= c.world.size {
		return completed(fmt.Errorf("send to %d: %w", dest, ErrRankOutOfRange))
	}
	err := c.world.publish(c.world.subject(dest), frame{
		Kind:   frameData,
		Space:  c.space,
		Source: c.world.rank,
		Tag:    tag,
		Data:   data,
	})
	return completed(err)
}

func (c *natsComm) Recv(ctx context.Context, tag int) (Message, error) {
	return c.world.box.take(ctx, c.space, tag)
}

func (c *natsComm) Sub(name string) Communicator {
	return &natsComm{world: c.world, space: subSpace(c.space, name)}
}

func (c *natsComm) Abort(err error) {
	reason := "aborted"
	if err != nil {
		reason = err.Error()
	}
	if perr := c.world.publish(c.world.job+".abort", frame{Kind: frameAbort, Source: c.world.rank, Reason: reason}); perr != nil {
		c.world.logger.Error("abort broadcast failed", slog.Any("error", perr))
	}
	c.world.abort.trigger(err)
}
