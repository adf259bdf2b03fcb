// Package identitysync implements the User entity's "created on first sync
// from identity collaborator" lifecycle (spec section 3): it upserts the
// core's User row, plus the matching ClientProfile or ReaderProfile, from
// the opaque subject claim the identity collaborator already validated.
// The core never authenticates a subject itself; this only provisions the
// local row once a caller has been authenticated upstream.
package identitysync

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/orbitline/sessioncore/domain/client"
	"github.com/orbitline/sessioncore/domain/reader"
	"github.com/orbitline/sessioncore/domain/user"
	"github.com/orbitline/sessioncore/pkg/apierrors"
	"github.com/orbitline/sessioncore/storage"
)

// Syncer provisions User rows and their one-to-one profile on first sight
// of an external subject.
type Syncer struct {
	users        storage.UserStore
	clients      storage.ClientStore
	readers      storage.ReaderStore
	defaultRates reader.Rates
}

// New builds a Syncer. defaultRates seeds a new reader profile's per-minute
// rates (spec section 3) until the reader sets their own; a zero value
// seeds all three at zero, which readersSetRates-style operators are
// expected to override before going online.
func New(users storage.UserStore, clients storage.ClientStore, readers storage.ReaderStore, defaultRates ...reader.Rates) *Syncer {
	s := &Syncer{users: users, clients: clients, readers: readers}
	if len(defaultRates) > 0 {
		s.defaultRates = defaultRates[0]
	}
	return s
}

// Ensure looks up the user by external subject, creating it (and its
// role-appropriate profile) if this is the first time the subject has been
// seen. Role is immutable after creation: a later sync with a different
// role is rejected rather than silently promoted.
func (s *Syncer) Ensure(ctx context.Context, externalSub string, role user.Role) (*user.User, error) {
	if externalSub == "" {
		return nil, apierrors.Validation("missing subject")
	}
	if role != user.RoleClient && role != user.RoleReader && role != user.RoleAdmin {
		return nil, apierrors.Validation("unrecognized role")
	}

	existing, err := s.users.GetByExternalSub(ctx, externalSub)
	if err == nil {
		if existing.Role != role {
			return nil, apierrors.NotAuthorized("role does not match existing account")
		}
		return existing, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, apierrors.Internal("failed to look up user", err)
	}

	now := time.Now().UTC()
	u := &user.User{ID: uuid.NewString(), ExternalSub: externalSub, Role: role, CreatedAt: now, UpdatedAt: now}
	if err := s.users.Create(ctx, u); err != nil {
		return nil, apierrors.Internal("failed to create user", err)
	}

	switch role {
	case user.RoleClient:
		p := &client.Profile{UserID: u.ID, Balance: decimal.Zero, TotalSpent: decimal.Zero, CreatedAt: now, UpdatedAt: now}
		if err := s.clients.Create(ctx, p); err != nil {
			return nil, apierrors.Internal("failed to create client profile", err)
		}
	case user.RoleReader:
		p := &reader.Profile{
			UserID: u.ID, Rates: s.defaultRates, Presence: user.PresenceOffline, Available: false,
			PendingBalance: decimal.Zero, TotalEarned: decimal.Zero, TotalPaidOut: decimal.Zero,
			ExternalAccountStatus: reader.ExternalAccountPending, CreatedAt: now, UpdatedAt: now,
		}
		if err := s.readers.Create(ctx, p); err != nil {
			return nil, apierrors.Internal("failed to create reader profile", err)
		}
	}
	return u, nil
}
