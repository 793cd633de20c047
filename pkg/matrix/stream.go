package matrix

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/samber/mo"

	"github.com/shawkym/matrixsync/pkg/log"
)

// StreamState is the lifecycle state of a Stream.
type StreamState int32

const (
	StateIdle StreamState = iota
	StatePolling
	StateEmitting
	StateCompleted
	StateFailed
)

func (s StreamState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePolling:
		return "polling"
	case StateEmitting:
		return "emitting"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further updates can follow.
func (s StreamState) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// SyncOutcome classifies the result of one sync call.
type SyncOutcome string

const (
	OutcomeSuccess        SyncOutcome = "success"
	OutcomeHTTPError      SyncOutcome = "http_error"
	OutcomeDecodeError    SyncOutcome = "decode_error"
	OutcomeTransportError SyncOutcome = "transport_error"
	OutcomeCancelled      SyncOutcome = "cancelled"
)

// ClassifyError maps a Sync error to its outcome.
func ClassifyError(err error) SyncOutcome {
	var statusErr *HTTPStatusError
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.As(err, &statusErr):
		return OutcomeHTTPError
	case errors.Is(err, ErrDecode):
		return OutcomeDecodeError
	case errors.Is(err, context.Canceled):
		return OutcomeCancelled
	default:
		return OutcomeTransportError
	}
}

// SyncObserver is notified by the polling loop. Implementations must not
// block; they run on the loop goroutine.
type SyncObserver interface {
	// SyncFinished is called after every sync call.
	SyncFinished(outcome SyncOutcome, elapsed time.Duration)
	// SnapshotEmitted is called once the consumer received a snapshot.
	SnapshotEmitted(snapshot *SyncResponse)
}

type nopObserver struct{}

func (nopObserver) SyncFinished(SyncOutcome, time.Duration) {}
func (nopObserver) SnapshotEmitted(*SyncResponse)           {}

// PollOptions configures StartEventPolling.
type PollOptions struct {
	// Timeout is the long-poll timeout sent with every call.
	Timeout     time.Duration
	Filter      mo.Option[string]
	FullState   mo.Option[bool]
	SetPresence mo.Option[SetPresence]
	Observer    SyncObserver
}

func (o PollOptions) initialParameters() SyncParameters {
	return SyncParameters{
		Filter:      o.Filter,
		FullState:   o.FullState,
		SetPresence: o.SetPresence,
		Timeout:     mo.Some(int(o.Timeout.Milliseconds())),
	}
}

// Update is one item delivered by a Stream: a snapshot, or the error that
// ended the stream.
type Update struct {
	Snapshot *SyncResponse
	Err      error
}

// Stream is a running sync loop. Snapshots are delivered on Updates in the
// order they were received; the channel is closed when the loop ends.
type Stream struct {
	id       uuid.UUID
	updates  chan Update
	done     chan struct{}
	cancel   context.CancelFunc
	state    atomic.Int32
	observer SyncObserver

	mu     sync.Mutex
	cursor string
	err    error
}

// StartEventPolling starts a sync loop for accessToken and returns
// immediately. The loop runs until ctx is done, Cancel is called, or a call
// fails. Only one sync call is ever outstanding.
func (c *Client) StartEventPolling(ctx context.Context, accessToken string, opts PollOptions) *Stream {
	ctx, cancel := context.WithCancel(ctx)
	observer := opts.Observer
	if observer == nil {
		observer = nopObserver{}
	}
	s := &Stream{
		id:       uuid.New(),
		updates:  make(chan Update),
		done:     make(chan struct{}),
		cancel:   cancel,
		observer: observer,
	}
	go s.run(ctx, c, accessToken, opts.initialParameters())
	return s
}

// ID identifies the stream in logs.
func (s *Stream) ID() uuid.UUID { return s.id }

// Updates returns the channel snapshots are delivered on. It must have a
// single consumer.
func (s *Stream) Updates() <-chan Update { return s.updates }

// Done is closed once the stream reached a terminal state.
func (s *Stream) Done() <-chan struct{} { return s.done }

// Cancel stops the loop, aborting any in-flight call. It is safe to call
// more than once and after the stream ended.
func (s *Stream) Cancel() { s.cancel() }

// State returns the current lifecycle state.
func (s *Stream) State() StreamState { return StreamState(s.state.Load()) }

// Err returns the error that failed the stream, or nil.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Cursor returns the next_batch of the latest received snapshot.
func (s *Stream) Cursor() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

func (s *Stream) run(ctx context.Context, client *Client, accessToken string, params SyncParameters) {
	defer close(s.done)
	defer close(s.updates)
	defer s.cancel()

	logger := log.WithField("stream_id", s.id.String())
	logger.WithField("timeout_ms", params.Timeout.OrEmpty()).Info("matrix sync stream started")

	emitted := 0
	for {
		if ctx.Err() != nil {
			s.complete(logger, emitted)
			return
		}

		s.state.Store(int32(StatePolling))
		started := time.Now()
		snapshot, err := client.Sync(ctx, accessToken, params)
		if err != nil {
			if ctx.Err() != nil {
				s.observer.SyncFinished(OutcomeCancelled, time.Since(started))
				s.complete(logger, emitted)
				return
			}
			s.observer.SyncFinished(ClassifyError(err), time.Since(started))
			s.fail(logger, err)
			select {
			case s.updates <- Update{Err: err}:
			case <-ctx.Done():
			}
			return
		}
		s.observer.SyncFinished(OutcomeSuccess, time.Since(started))

		params = params.WithSince(snapshot.NextBatch)
		s.mu.Lock()
		s.cursor = snapshot.NextBatch
		s.mu.Unlock()

		logger.WithFields(map[string]interface{}{
			"next_batch": snapshot.NextBatch,
			"rooms":      RoomCount(snapshot),
			"events":     EventCount(snapshot),
		}).Debug("matrix sync snapshot received")

		if ctx.Err() != nil {
			s.complete(logger, emitted)
			return
		}
		s.state.Store(int32(StateEmitting))
		select {
		case s.updates <- Update{Snapshot: snapshot}:
			emitted++
			s.observer.SnapshotEmitted(snapshot)
		case <-ctx.Done():
			s.complete(logger, emitted)
			return
		}
	}
}

func (s *Stream) complete(logger log.Entry, emitted int) {
	s.state.Store(int32(StateCompleted))
	logger.WithFields(map[string]interface{}{
		"snapshots": emitted,
		"cursor":    s.Cursor(),
	}).Info("matrix sync stream completed")
}

func (s *Stream) fail(logger log.Entry, err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	s.state.Store(int32(StateFailed))
	logger.WithError(err).Error("matrix sync stream failed")
}

// RoomCount returns the number of rooms with an update in snapshot.
func RoomCount(snapshot *SyncResponse) int {
	if snapshot == nil || snapshot.Rooms == nil {
		return 0
	}
	return len(snapshot.Rooms.Join) + len(snapshot.Rooms.Invite) + len(snapshot.Rooms.Leave)
}

// EventCount returns the number of events of every kind in snapshot.
func EventCount(snapshot *SyncResponse) int {
	if snapshot == nil {
		return 0
	}
	total := 0
	if snapshot.Presence != nil {
		total += len(snapshot.Presence.Events)
	}
	if snapshot.AccountData != nil {
		total += len(snapshot.AccountData.Events)
	}
	if snapshot.Rooms == nil {
		return total
	}
	total += lo.SumBy(lo.Values(snapshot.Rooms.Join), func(room JoinedRoom) int {
		n := stateLen(room.State) + timelineLen(room.Timeline)
		if room.Ephemeral != nil {
			n += len(room.Ephemeral.Events)
		}
		if room.AccountData != nil {
			n += len(room.AccountData.Events)
		}
		return n
	})
	total += lo.SumBy(lo.Values(snapshot.Rooms.Invite), func(room InvitedRoom) int {
		if room.InviteState == nil {
			return 0
		}
		return len(room.InviteState.Events)
	})
	total += lo.SumBy(lo.Values(snapshot.Rooms.Leave), func(room LeftRoom) int {
		n := stateLen(room.State) + timelineLen(room.Timeline)
		if room.AccountData != nil {
			n += len(room.AccountData.Events)
		}
		return n
	})
	return total
}

func stateLen(state *State) int {
	if state == nil {
		return 0
	}
	return len(state.Events)
}

func timelineLen(timeline *Timeline) int {
	if timeline == nil {
		return 0
	}
	return len(timeline.Events)
}
