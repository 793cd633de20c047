package middleware

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/shawkym/matrixsync/pkg/log"
	"github.com/shawkym/matrixsync/pkg/matrix"
)

// LoggingMiddleware logs every snapshot before and after the rest of the
// chain at debug level.
func LoggingMiddleware() Middleware {
	return NewMiddlewareFunc("logging", func(ctx *SnapshotContext, snapshot *matrix.SyncResponse, next ProcessFunc) (*matrix.SyncResponse, error) {
		start := time.Now()

		log.WithFields(map[string]interface{}{
			"stream_id":  ctx.StreamID,
			"sequence":   ctx.Sequence,
			"next_batch": snapshot.NextBatch,
			"rooms":      matrix.RoomCount(snapshot),
			"events":     matrix.EventCount(snapshot),
		}).Debug("processing snapshot")

		result, err := next(ctx, snapshot)

		fields := map[string]interface{}{
			"stream_id":   ctx.StreamID,
			"sequence":    ctx.Sequence,
			"duration_ms": time.Since(start).Milliseconds(),
		}
		switch {
		case errors.Is(err, ErrSkip):
			log.WithFields(fields).Debug("snapshot skipped")
		case err != nil:
			log.WithFields(fields).WithError(err).Error("snapshot processing failed")
		default:
			fields["events"] = matrix.EventCount(result)
			log.WithFields(fields).Debug("snapshot processed")
		}
		return result, err
	})
}

// EventTypeFilterMiddleware keeps only timeline events whose type matches
// one of patterns. A pattern ending in "*" matches by prefix, so
// "m.room.*" keeps every m.room event. Room state, presence and account
// data are left alone. No patterns means no filtering.
func EventTypeFilterMiddleware(patterns []string) Middleware {
	return NewTransformMiddleware("event-types", func(ctx *SnapshotContext, snapshot *matrix.SyncResponse) (*matrix.SyncResponse, error) {
		if len(patterns) == 0 {
			return snapshot, nil
		}
		return filterTimelines(snapshot, func(event matrix.RoomEvent) bool {
			return MatchesType(patterns, event.Type)
		}, nil), nil
	})
}

// MatchesType reports whether eventType matches any of patterns.
func MatchesType(patterns []string, eventType string) bool {
	return lo.SomeBy(patterns, func(pattern string) bool {
		if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
			return strings.HasPrefix(eventType, prefix)
		}
		return pattern == eventType
	})
}

// IgnoreSendersMiddleware removes timeline events sent by the given user
// IDs and drops invites they sent.
func IgnoreSendersMiddleware(senders []string) Middleware {
	return NewTransformMiddleware("ignore-senders", func(ctx *SnapshotContext, snapshot *matrix.SyncResponse) (*matrix.SyncResponse, error) {
		if len(senders) == 0 {
			return snapshot, nil
		}
		return filterTimelines(snapshot,
			func(event matrix.RoomEvent) bool {
				return !lo.Contains(senders, event.Sender)
			},
			func(room matrix.InvitedRoom) bool {
				if room.InviteState == nil {
					return true
				}
				return !lo.SomeBy(room.InviteState.Events, func(event matrix.StrippedState) bool {
					return event.Type == "m.room.member" && lo.Contains(senders, event.Sender)
				})
			}), nil
	})
}

// SkipEmptyMiddleware drops snapshots that carry no events, such as the
// empty responses of an idle long-poll. The cursor still advances.
func SkipEmptyMiddleware() Middleware {
	return NewFilterMiddleware("skip-empty", func(ctx *SnapshotContext, snapshot *matrix.SyncResponse) bool {
		return matrix.EventCount(snapshot) > 0
	})
}

// ErrorRecoveryMiddleware turns a panic further down the chain into an
// error.
func ErrorRecoveryMiddleware() Middleware {
	return NewMiddlewareFunc("error-recovery", func(ctx *SnapshotContext, snapshot *matrix.SyncResponse, next ProcessFunc) (result *matrix.SyncResponse, err error) {
		defer func() {
			if r := recover(); r != nil {
				log.WithFields(map[string]interface{}{
					"stream_id": ctx.StreamID,
					"sequence":  ctx.Sequence,
					"panic":     r,
				}).Error("middleware panic recovered")
				result = nil
				err = fmt.Errorf("middleware panic: %v", r)
			}
		}()
		return next(ctx, snapshot)
	})
}

// filterTimelines returns a copy of snapshot with the timeline events of
// joined and left rooms narrowed to keepEvent, and invites narrowed to
// keepInvite when it is not nil. Sections without a timeline are shared
// with the input.
func filterTimelines(snapshot *matrix.SyncResponse, keepEvent func(matrix.RoomEvent) bool, keepInvite func(matrix.InvitedRoom) bool) *matrix.SyncResponse {
	if snapshot == nil || snapshot.Rooms == nil {
		return snapshot
	}
	filtered := *snapshot
	rooms := *snapshot.Rooms
	filtered.Rooms = &rooms

	keep := func(timeline *matrix.Timeline) *matrix.Timeline {
		if timeline == nil {
			return nil
		}
		narrowed := *timeline
		if timeline.Events != nil {
			narrowed.Events = lo.Filter(timeline.Events, func(event matrix.RoomEvent, _ int) bool {
				return keepEvent(event)
			})
		}
		return &narrowed
	}

	if snapshot.Rooms.Join != nil {
		rooms.Join = make(map[string]matrix.JoinedRoom, len(snapshot.Rooms.Join))
		for id, room := range snapshot.Rooms.Join {
			room.Timeline = keep(room.Timeline)
			rooms.Join[id] = room
		}
	}
	if snapshot.Rooms.Leave != nil {
		rooms.Leave = make(map[string]matrix.LeftRoom, len(snapshot.Rooms.Leave))
		for id, room := range snapshot.Rooms.Leave {
			room.Timeline = keep(room.Timeline)
			rooms.Leave[id] = room
		}
	}
	if keepInvite != nil && snapshot.Rooms.Invite != nil {
		rooms.Invite = lo.PickBy(snapshot.Rooms.Invite, func(_ string, room matrix.InvitedRoom) bool {
			return keepInvite(room)
		})
	}
	return &filtered
}
