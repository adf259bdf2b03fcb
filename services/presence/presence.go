// Package presence maintains reader availability state: the fast index
// used to gate session requests, kept separate from the durable session
// status it must never be confused with.
package presence

import (
	"context"
	"errors"

	"github.com/orbitline/sessioncore/domain/user"
	"github.com/orbitline/sessioncore/pkg/apierrors"
	"github.com/orbitline/sessioncore/services/eventbus"
	"github.com/orbitline/sessioncore/storage"
)

// selfTransitions enumerates the legal presence transitions from section 4.3.
// Orchestrator-driven edges (online<->in_session) are reached only through
// TryReserve/Release, never through Set.
var selfTransitions = map[user.Presence]map[user.Presence]bool{
	user.PresenceOffline: {user.PresenceOnline: true},
	user.PresenceOnline:  {user.PresenceOffline: true, user.PresenceBusy: true},
	user.PresenceBusy:    {user.PresenceOnline: true},
}

// Registry is the Presence Registry: reader.status plus fan-out of every
// transition on the shared readers:status channel.
type Registry struct {
	readers storage.ReaderStore
	bus     *eventbus.Bus
}

func New(readers storage.ReaderStore, bus *eventbus.Bus) *Registry {
	return &Registry{readers: readers, bus: bus}
}

// Set performs a reader-initiated transition (online/offline/busy). It
// rejects any attempt to leave in_session this way: that edge belongs only
// to the orchestrator on session end.
func (r *Registry) Set(ctx context.Context, readerID string, to user.Presence) error {
	p, err := r.readers.Get(ctx, readerID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return apierrors.NotFound("reader not found")
		}
		return apierrors.Internal("failed to load reader", err)
	}
	if p.Presence == user.PresenceInSession {
		return apierrors.Validation("cannot change presence while in session").WithDetail("code", "INVALID_TRANSITION")
	}
	if !selfTransitions[p.Presence][to] {
		return apierrors.Validation("illegal presence transition").WithDetail("code", "INVALID_TRANSITION")
	}

	p.Presence = to
	p.Available = to == user.PresenceOnline
	if err := r.readers.Update(ctx, p); err != nil {
		return apierrors.Internal("failed to persist presence", err)
	}
	return r.publish(ctx, readerID, to)
}

// TryReserve atomically flips a reader from online to in_session using a
// conditional compare-and-swap at the storage layer, used by
// Orchestrator.accept. Returns READER_UNAVAILABLE if the reader is not
// online at the moment of the swap — the race-losing path of section 4.1:
// of any number of concurrent callers, only the one whose swap observes
// presence=online still set ever succeeds.
func (r *Registry) TryReserve(ctx context.Context, readerID string) error {
	ok, _, err := r.readers.CompareAndSwapPresence(ctx, readerID, user.PresenceOnline, user.PresenceInSession)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return apierrors.NotFound("reader not found")
		}
		return apierrors.Internal("failed to persist presence", err)
	}
	if !ok {
		return apierrors.ReaderUnavailable("reader is not online")
	}
	return r.publish(ctx, readerID, user.PresenceInSession)
}

// Release flips a reader back to online at session end. It is idempotent:
// if the reader is no longer in_session (already released, or never
// reserved), the swap simply reports ok=false and Release returns nil.
func (r *Registry) Release(ctx context.Context, readerID string) error {
	ok, _, err := r.readers.CompareAndSwapPresence(ctx, readerID, user.PresenceInSession, user.PresenceOnline)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return apierrors.NotFound("reader not found")
		}
		return apierrors.Internal("failed to persist presence", err)
	}
	if !ok {
		return nil // already released; end is idempotent
	}
	return r.publish(ctx, readerID, user.PresenceOnline)
}

// ListOnline backs GET /readers/online.
func (r *Registry) ListOnline(ctx context.Context) ([]string, error) {
	readers, err := r.readers.ListAvailable(ctx)
	if err != nil {
		return nil, apierrors.Internal("failed to list readers", err)
	}
	ids := make([]string, 0, len(readers))
	for _, p := range readers {
		ids = append(ids, p.UserID)
	}
	return ids, nil
}

func (r *Registry) publish(ctx context.Context, readerID string, status user.Presence) error {
	if r.bus == nil {
		return nil
	}
	if err := r.bus.PublishPresence(ctx, readerID, string(status)); err != nil {
		return apierrors.Transient("failed to publish presence update", err)
	}
	return nil
}
