// Package memory is an in-memory implementation of the storage interfaces.
// It is safe for concurrent use and is intended for tests and local
// development, not production.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/orbitline/sessioncore/domain/client"
	"github.com/orbitline/sessioncore/domain/ledger"
	"github.com/orbitline/sessioncore/domain/notification"
	"github.com/orbitline/sessioncore/domain/reader"
	"github.com/orbitline/sessioncore/domain/review"
	"github.com/orbitline/sessioncore/domain/session"
	"github.com/orbitline/sessioncore/domain/user"
	"github.com/orbitline/sessioncore/storage"
)

// Store backs every storage interface with a single mutex-guarded set of
// maps.
type Store struct {
	mu sync.RWMutex

	users          map[string]user.User
	usersBySub     map[string]string
	clients        map[string]client.Profile
	readers        map[string]reader.Profile
	sessions       map[string]session.Session
	transactions   map[string]ledger.Transaction
	txByExternal   map[string]string
	reviews        map[string]review.Review
	reviewBySess   map[string]string
	notifications  map[string]notification.Notification

	sessionLocksMu sync.Mutex
	sessionLocks   map[string]*sync.Mutex
}

var _ storage.UserStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		users:         make(map[string]user.User),
		usersBySub:    make(map[string]string),
		clients:       make(map[string]client.Profile),
		readers:       make(map[string]reader.Profile),
		sessions:      make(map[string]session.Session),
		transactions:  make(map[string]ledger.Transaction),
		txByExternal:  make(map[string]string),
		reviews:       make(map[string]review.Review),
		reviewBySess:  make(map[string]string),
		notifications: make(map[string]notification.Notification),
		sessionLocks:  make(map[string]*sync.Mutex),
	}
}

// Users -----------------------------------------------------------------

func (s *Store) Create(ctx context.Context, u *user.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[u.ID]; exists {
		return fmt.Errorf("user %s already exists", u.ID)
	}
	s.users[u.ID] = *u
	s.usersBySub[u.ExternalSub] = u.ID
	return nil
}

func (s *Store) GetByID(ctx context.Context, id string) (*user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &u, nil
}

func (s *Store) GetByExternalSub(ctx context.Context, sub string) (*user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.usersBySub[sub]
	if !ok {
		return nil, storage.ErrNotFound
	}
	u := s.users[id]
	return &u, nil
}

// Clients -----------------------------------------------------------------

// ClientStore adapts Store's map-of-profiles into the storage.ClientStore
// shape; it's a thin named type so the method set doesn't collide with
// ReaderStore's identically-named Get/Create.
type ClientStore struct{ s *Store }

func (s *Store) Clients() *ClientStore { return &ClientStore{s: s} }

func (c *ClientStore) Create(ctx context.Context, p *client.Profile) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	if _, exists := c.s.clients[p.UserID]; exists {
		return fmt.Errorf("client profile %s already exists", p.UserID)
	}
	c.s.clients[p.UserID] = *p
	return nil
}

func (c *ClientStore) Get(ctx context.Context, userID string) (*client.Profile, error) {
	c.s.mu.RLock()
	defer c.s.mu.RUnlock()
	p, ok := c.s.clients[userID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &p, nil
}

func (c *ClientStore) UpdateBalance(ctx context.Context, userID string, delta, spent decimal.Decimal) (decimal.Decimal, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	p, ok := c.s.clients[userID]
	if !ok {
		return decimal.Zero, storage.ErrNotFound
	}
	newBalance := p.Balance.Add(delta)
	if newBalance.IsNegative() {
		return decimal.Zero, fmt.Errorf("balance would go negative for client %s", userID)
	}
	p.Balance = newBalance
	p.TotalSpent = p.TotalSpent.Add(spent)
	p.UpdatedAt = time.Now().UTC()
	c.s.clients[userID] = p
	return newBalance, nil
}

// Readers -----------------------------------------------------------------

func (s *Store) CreateReader(ctx context.Context, p *reader.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.readers[p.UserID]; exists {
		return fmt.Errorf("reader profile %s already exists", p.UserID)
	}
	s.readers[p.UserID] = *p
	return nil
}

func (s *Store) GetReader(ctx context.Context, userID string) (*reader.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.readers[userID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &p, nil
}

func (s *Store) UpdateReader(ctx context.Context, p *reader.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.readers[p.UserID]; !ok {
		return storage.ErrNotFound
	}
	p.UpdatedAt = time.Now().UTC()
	s.readers[p.UserID] = *p
	return nil
}

// CompareAndSwapPresence flips a reader's presence from `from` to `to`
// under the store's mutex and reports whether the row still matched `from`.
// A false, nil-error result is the race-losing path, not a failure.
func (s *Store) CompareAndSwapPresence(ctx context.Context, userID string, from, to user.Presence) (bool, *reader.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.readers[userID]
	if !ok {
		return false, nil, storage.ErrNotFound
	}
	if p.Presence != from {
		pCopy := p
		return false, &pCopy, nil
	}
	p.Presence = to
	p.UpdatedAt = time.Now().UTC()
	s.readers[userID] = p
	pCopy := p
	return true, &pCopy, nil
}

func (s *Store) ListAvailableReaders(ctx context.Context) ([]*reader.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*reader.Profile
	for _, p := range s.readers {
		p := p
		if p.Available && p.Presence == user.PresenceOnline {
			out = append(out, &p)
		}
	}
	sortReadersByID(out)
	return out, nil
}

func (s *Store) ListReadersEligibleForPayout(ctx context.Context, minPayout decimal.Decimal) ([]*reader.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*reader.Profile
	for _, p := range s.readers {
		p := p
		if p.EligibleForPayout(minPayout) {
			out = append(out, &p)
		}
	}
	sortReadersByID(out)
	return out, nil
}

func sortReadersByID(readers []*reader.Profile) {
	sort.Slice(readers, func(i, j int) bool { return readers[i].UserID < readers[j].UserID })
}

// Readers() returns a thin adapter exposing the storage.ReaderStore method
// names (Get/Update collide with the other entity adapters, so the
// unqualified Store methods above carry the Reader suffix and this wrapper
// restores the interface's plain names).
type ReaderStore struct{ s *Store }

func (s *Store) Readers() *ReaderStore { return &ReaderStore{s: s} }

func (r *ReaderStore) Create(ctx context.Context, p *reader.Profile) error { return r.s.CreateReader(ctx, p) }
func (r *ReaderStore) Get(ctx context.Context, userID string) (*reader.Profile, error) {
	return r.s.GetReader(ctx, userID)
}
func (r *ReaderStore) Update(ctx context.Context, p *reader.Profile) error { return r.s.UpdateReader(ctx, p) }
func (r *ReaderStore) ListAvailable(ctx context.Context) ([]*reader.Profile, error) {
	return r.s.ListAvailableReaders(ctx)
}
func (r *ReaderStore) ListEligibleForPayout(ctx context.Context, minPayout decimal.Decimal) ([]*reader.Profile, error) {
	return r.s.ListReadersEligibleForPayout(ctx, minPayout)
}
func (r *ReaderStore) CompareAndSwapPresence(ctx context.Context, userID string, from, to user.Presence) (bool, *reader.Profile, error) {
	return r.s.CompareAndSwapPresence(ctx, userID, from, to)
}

var _ storage.ReaderStore = (*ReaderStore)(nil)
var _ storage.ClientStore = (*ClientStore)(nil)

// Sessions -----------------------------------------------------------------

func (s *Store) CreateSession(ctx context.Context, sess *session.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[sess.ID]; exists {
		return fmt.Errorf("session %s already exists", sess.ID)
	}
	s.sessions[sess.ID] = *sess
	return nil
}

func (s *Store) GetSession(ctx context.Context, id string) (*session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &sess, nil
}

func (s *Store) UpdateSession(ctx context.Context, sess *session.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.ID]; !ok {
		return storage.ErrNotFound
	}
	sess.UpdatedAt = time.Now().UTC()
	s.sessions[sess.ID] = *sess
	return nil
}

// sessionLock returns the per-session mutex used by SessionWithLock,
// creating it on first use. It is distinct from s.mu (which guards plain
// map reads/writes) because fn runs arbitrary store calls that themselves
// take s.mu, and sync.Mutex is not reentrant.
func (s *Store) sessionLock(id string) *sync.Mutex {
	s.sessionLocksMu.Lock()
	defer s.sessionLocksMu.Unlock()
	m, ok := s.sessionLocks[id]
	if !ok {
		m = &sync.Mutex{}
		s.sessionLocks[id] = m
	}
	return m
}

// SessionWithLock serializes state-changing operations per session id: it
// holds the session's private mutex for fn's duration, loads the row,
// invokes fn, and persists the row back only when fn reports persist=true.
func (s *Store) SessionWithLock(ctx context.Context, id string, fn func(*session.Session) (bool, error)) (*session.Session, error) {
	lock := s.sessionLock(id)
	lock.Lock()
	defer lock.Unlock()

	sess, err := s.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	persist, fnErr := fn(sess)
	if persist {
		if uerr := s.UpdateSession(ctx, sess); uerr != nil {
			return nil, uerr
		}
	}
	return sess, fnErr
}

func (s *Store) ListSessionsPendingOlderThan(ctx context.Context, cutoff time.Time) ([]*session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*session.Session
	for _, sess := range s.sessions {
		sess := sess
		if sess.Status == session.StatusPending && sess.RequestedAt.Before(cutoff) {
			out = append(out, &sess)
		}
	}
	sortSessionsByRequestedAt(out)
	return out, nil
}

func (s *Store) ListSessionsByClient(ctx context.Context, clientID string, limit int) ([]*session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*session.Session
	for _, sess := range s.sessions {
		sess := sess
		if sess.ClientID == clientID {
			out = append(out, &sess)
		}
	}
	sortSessionsByCreatedDesc(out)
	return limitSessions(out, limit), nil
}

func (s *Store) ListSessionsByReader(ctx context.Context, readerID string, limit int) ([]*session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*session.Session
	for _, sess := range s.sessions {
		sess := sess
		if sess.ReaderID == readerID {
			out = append(out, &sess)
		}
	}
	sortSessionsByCreatedDesc(out)
	return limitSessions(out, limit), nil
}

func sortSessionsByRequestedAt(sessions []*session.Session) {
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].RequestedAt.Before(sessions[j].RequestedAt) })
}

func sortSessionsByCreatedDesc(sessions []*session.Session) {
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].CreatedAt.After(sessions[j].CreatedAt) })
}

func limitSessions(sessions []*session.Session, limit int) []*session.Session {
	if limit > 0 && len(sessions) > limit {
		return sessions[:limit]
	}
	return sessions
}

type SessionStore struct{ s *Store }

func (s *Store) Sessions() *SessionStore { return &SessionStore{s: s} }

func (x *SessionStore) Create(ctx context.Context, sess *session.Session) error {
	return x.s.CreateSession(ctx, sess)
}
func (x *SessionStore) Get(ctx context.Context, id string) (*session.Session, error) {
	return x.s.GetSession(ctx, id)
}
func (x *SessionStore) Update(ctx context.Context, sess *session.Session) error {
	return x.s.UpdateSession(ctx, sess)
}
func (x *SessionStore) WithLock(ctx context.Context, id string, fn func(*session.Session) (bool, error)) (*session.Session, error) {
	return x.s.SessionWithLock(ctx, id, fn)
}
func (x *SessionStore) ListPendingOlderThan(ctx context.Context, cutoff time.Time) ([]*session.Session, error) {
	return x.s.ListSessionsPendingOlderThan(ctx, cutoff)
}
func (x *SessionStore) ListByClient(ctx context.Context, clientID string, limit int) ([]*session.Session, error) {
	return x.s.ListSessionsByClient(ctx, clientID, limit)
}
func (x *SessionStore) ListByReader(ctx context.Context, readerID string, limit int) ([]*session.Session, error) {
	return x.s.ListSessionsByReader(ctx, readerID, limit)
}

var _ storage.SessionStore = (*SessionStore)(nil)

// Ledger --------------------------------------------------------------------

type LedgerStore struct{ s *Store }

func (s *Store) Ledger() *LedgerStore { return &LedgerStore{s: s} }

func (l *LedgerStore) RecordDeposit(ctx context.Context, t *ledger.Transaction) (*ledger.Transaction, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()

	if t.ExternalRef != "" {
		if id, ok := l.s.txByExternal[t.ExternalRef]; ok {
			existing := l.s.transactions[id]
			return &existing, nil
		}
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	l.s.transactions[t.ID] = *t
	if t.ExternalRef != "" {
		l.s.txByExternal[t.ExternalRef] = t.ID
	}
	p, ok := l.s.clients[t.UserID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	p.Balance = p.Balance.Add(t.Amount)
	p.UpdatedAt = time.Now().UTC()
	l.s.clients[t.UserID] = p
	return t, nil
}

func (l *LedgerStore) RecordPendingDeposit(ctx context.Context, t *ledger.Transaction) (*ledger.Transaction, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()

	if t.ExternalRef != "" {
		if id, ok := l.s.txByExternal[t.ExternalRef]; ok {
			existing := l.s.transactions[id]
			return &existing, nil
		}
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t.Status = ledger.TransactionPending
	l.s.transactions[t.ID] = *t
	if t.ExternalRef != "" {
		l.s.txByExternal[t.ExternalRef] = t.ID
	}
	return t, nil
}

func (l *LedgerStore) ConfirmDeposit(ctx context.Context, externalRef string) (*ledger.Transaction, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()

	id, ok := l.s.txByExternal[externalRef]
	if !ok {
		return nil, storage.ErrNotFound
	}
	t := l.s.transactions[id]
	if t.Status != ledger.TransactionPending {
		return &t, nil
	}
	p, ok := l.s.clients[t.UserID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	p.Balance = p.Balance.Add(t.Amount)
	p.UpdatedAt = time.Now().UTC()
	l.s.clients[t.UserID] = p

	t.Status = ledger.TransactionCompleted
	t.UpdatedAt = time.Now().UTC()
	l.s.transactions[id] = t
	return &t, nil
}

func (l *LedgerStore) FailDeposit(ctx context.Context, externalRef string) (*ledger.Transaction, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()

	id, ok := l.s.txByExternal[externalRef]
	if !ok {
		return nil, storage.ErrNotFound
	}
	t := l.s.transactions[id]
	if t.Status == ledger.TransactionFailed || t.Status == ledger.TransactionCompleted {
		return &t, nil
	}
	t.Status = ledger.TransactionFailed
	t.UpdatedAt = time.Now().UTC()
	l.s.transactions[id] = t
	return &t, nil
}

func (l *LedgerStore) SettleSession(ctx context.Context, sess *session.Session, apply func(clientBalance, readerPending decimal.Decimal) (debit, credit, fee decimal.Decimal, err error)) error {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()

	clientProfile, ok := l.s.clients[sess.ClientID]
	if !ok {
		return storage.ErrNotFound
	}
	readerProfile, ok := l.s.readers[sess.ReaderID]
	if !ok {
		return storage.ErrNotFound
	}

	debit, credit, fee, err := apply(clientProfile.Balance, readerProfile.PendingBalance)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	payment := ledger.Transaction{
		ID: uuid.NewString(), UserID: sess.ClientID, SessionID: sess.ID,
		Type: ledger.TransactionReadingPayment, Amount: debit, Status: ledger.TransactionCompleted,
		CreatedAt: now, UpdatedAt: now,
	}
	earning := ledger.Transaction{
		ID: uuid.NewString(), UserID: sess.ReaderID, SessionID: sess.ID,
		Type: ledger.TransactionReadingEarning, Amount: credit, Fee: fee, Status: ledger.TransactionCompleted,
		CreatedAt: now, UpdatedAt: now,
	}
	l.s.transactions[payment.ID] = payment
	l.s.transactions[earning.ID] = earning

	clientProfile.Balance = clientProfile.Balance.Sub(debit)
	clientProfile.TotalSpent = clientProfile.TotalSpent.Add(debit)
	clientProfile.UpdatedAt = now
	l.s.clients[sess.ClientID] = clientProfile

	readerProfile.PendingBalance = readerProfile.PendingBalance.Add(credit)
	readerProfile.TotalEarned = readerProfile.TotalEarned.Add(credit)
	readerProfile.TotalReadings++
	readerProfile.UpdatedAt = now
	l.s.readers[sess.ReaderID] = readerProfile

	return nil
}

func (l *LedgerStore) RecordPayout(ctx context.Context, readerID string, amount decimal.Decimal) (*ledger.Transaction, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()

	p, ok := l.s.readers[readerID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	if p.PendingBalance.LessThan(amount) {
		return nil, fmt.Errorf("payout %s exceeds pending balance for reader %s", amount, readerID)
	}

	now := time.Now().UTC()
	t := ledger.Transaction{
		ID: uuid.NewString(), UserID: readerID, Type: ledger.TransactionPayout,
		Amount: amount, Status: ledger.TransactionPending, CreatedAt: now, UpdatedAt: now,
	}
	l.s.transactions[t.ID] = t

	p.PendingBalance = p.PendingBalance.Sub(amount)
	p.UpdatedAt = now
	l.s.readers[readerID] = p
	return &t, nil
}

func (l *LedgerStore) MarkPayoutStatus(ctx context.Context, transactionID string, status ledger.TransactionStatus) error {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()

	t, ok := l.s.transactions[transactionID]
	if !ok {
		return storage.ErrNotFound
	}
	if status == ledger.TransactionFailed && t.Status == ledger.TransactionPending {
		p, ok := l.s.readers[t.UserID]
		if ok {
			p.PendingBalance = p.PendingBalance.Add(t.Amount)
			p.UpdatedAt = time.Now().UTC()
			l.s.readers[t.UserID] = p
		}
	}
	if status == ledger.TransactionCompleted {
		if p, ok := l.s.readers[t.UserID]; ok {
			p.TotalPaidOut = p.TotalPaidOut.Add(t.Amount)
			p.UpdatedAt = time.Now().UTC()
			l.s.readers[t.UserID] = p
		}
	}
	t.Status = status
	t.UpdatedAt = time.Now().UTC()
	l.s.transactions[transactionID] = t
	return nil
}

func (l *LedgerStore) SweepStaleProcessing(ctx context.Context, olderThan time.Duration) (int, error) {
	l.s.mu.Lock()
	cutoff := time.Now().UTC().Add(-olderThan)
	var stale []string
	for id, t := range l.s.transactions {
		if t.Type == ledger.TransactionPayout && t.Status == ledger.TransactionPending && t.CreatedAt.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	l.s.mu.Unlock()

	for _, id := range stale {
		if err := l.MarkPayoutStatus(ctx, id, ledger.TransactionFailed); err != nil {
			return 0, err
		}
	}
	return len(stale), nil
}

func (l *LedgerStore) GetByID(ctx context.Context, id string) (*ledger.Transaction, error) {
	l.s.mu.RLock()
	defer l.s.mu.RUnlock()
	t, ok := l.s.transactions[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &t, nil
}

// RefundTransaction implements spec section 4.2's admin refund: it marks the
// original row refunded and appends a new refund row, crediting the user's
// balance with the original amount only when the original was a deposit or
// reading_payment. reason is accepted for parity with the interface but the
// in-memory store does not persist a reason column.
func (l *LedgerStore) RefundTransaction(ctx context.Context, transactionID, reason string) (*ledger.Transaction, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()

	orig, ok := l.s.transactions[transactionID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	if orig.Status == ledger.TransactionRefunded {
		return nil, storage.ErrConflict
	}

	now := time.Now().UTC()
	orig.Status = ledger.TransactionRefunded
	orig.UpdatedAt = now
	l.s.transactions[transactionID] = orig

	refund := ledger.Transaction{
		ID: uuid.NewString(), UserID: orig.UserID, SessionID: orig.SessionID,
		Type: ledger.TransactionRefund, Amount: orig.Amount, RefundOf: transactionID,
		Status: ledger.TransactionCompleted, CreatedAt: now, UpdatedAt: now,
	}
	l.s.transactions[refund.ID] = refund

	if orig.Type == ledger.TransactionDeposit || orig.Type == ledger.TransactionReadingPayment {
		if p, ok := l.s.clients[orig.UserID]; ok {
			p.Balance = p.Balance.Add(orig.Amount)
			p.UpdatedAt = now
			l.s.clients[orig.UserID] = p
		}
	}
	return &refund, nil
}

func (l *LedgerStore) ListByUser(ctx context.Context, userID string, limit int) ([]*ledger.Transaction, error) {
	l.s.mu.RLock()
	defer l.s.mu.RUnlock()
	var out []*ledger.Transaction
	for _, t := range l.s.transactions {
		t := t
		if t.UserID == userID {
			out = append(out, &t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (l *LedgerStore) GetByExternalRef(ctx context.Context, externalRef string) (*ledger.Transaction, error) {
	l.s.mu.RLock()
	defer l.s.mu.RUnlock()
	id, ok := l.s.txByExternal[externalRef]
	if !ok {
		return nil, storage.ErrNotFound
	}
	t := l.s.transactions[id]
	return &t, nil
}

var _ storage.LedgerStore = (*LedgerStore)(nil)

// Reviews --------------------------------------------------------------------

type ReviewStore struct{ s *Store }

func (s *Store) Reviews() *ReviewStore { return &ReviewStore{s: s} }

func (rv *ReviewStore) Create(ctx context.Context, r *review.Review) error {
	rv.s.mu.Lock()
	defer rv.s.mu.Unlock()
	if _, exists := rv.s.reviewBySess[r.SessionID]; exists {
		return fmt.Errorf("session %s already has a review", r.SessionID)
	}
	rv.s.reviews[r.ID] = *r
	rv.s.reviewBySess[r.SessionID] = r.ID
	return nil
}

func (rv *ReviewStore) GetByID(ctx context.Context, id string) (*review.Review, error) {
	rv.s.mu.RLock()
	defer rv.s.mu.RUnlock()
	r, ok := rv.s.reviews[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &r, nil
}

func (rv *ReviewStore) GetBySession(ctx context.Context, sessionID string) (*review.Review, error) {
	rv.s.mu.RLock()
	defer rv.s.mu.RUnlock()
	id, ok := rv.s.reviewBySess[sessionID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	r := rv.s.reviews[id]
	return &r, nil
}

func (rv *ReviewStore) ListByReader(ctx context.Context, readerID string, limit int) ([]*review.Review, error) {
	rv.s.mu.RLock()
	defer rv.s.mu.RUnlock()
	var out []*review.Review
	for _, r := range rv.s.reviews {
		r := r
		if r.ReaderID == readerID {
			out = append(out, &r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (rv *ReviewStore) UpdateResponse(ctx context.Context, id string, response string) error {
	rv.s.mu.Lock()
	defer rv.s.mu.Unlock()
	r, ok := rv.s.reviews[id]
	if !ok {
		return storage.ErrNotFound
	}
	r.Response = response
	r.UpdatedAt = time.Now().UTC()
	rv.s.reviews[id] = r
	return nil
}

var _ storage.ReviewStore = (*ReviewStore)(nil)

// Notifications ---------------------------------------------------------

type NotificationStore struct{ s *Store }

func (s *Store) Notifications() *NotificationStore { return &NotificationStore{s: s} }

func (n *NotificationStore) Create(ctx context.Context, note *notification.Notification) error {
	n.s.mu.Lock()
	defer n.s.mu.Unlock()
	if note.ID == "" {
		note.ID = uuid.NewString()
	}
	n.s.notifications[note.ID] = *note
	return nil
}

func (n *NotificationStore) ListByUser(ctx context.Context, userID string, limit int) ([]*notification.Notification, error) {
	n.s.mu.RLock()
	defer n.s.mu.RUnlock()
	var out []*notification.Notification
	for _, note := range n.s.notifications {
		note := note
		if note.UserID == userID {
			out = append(out, &note)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (n *NotificationStore) MarkRead(ctx context.Context, id string, userID string) error {
	n.s.mu.Lock()
	defer n.s.mu.Unlock()
	note, ok := n.s.notifications[id]
	if !ok || note.UserID != userID {
		return storage.ErrNotFound
	}
	note.Read = true
	n.s.notifications[id] = note
	return nil
}

var _ storage.NotificationStore = (*NotificationStore)(nil)
