package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/vestio/vestio/internal/util"
)

// Store is the single source of truth for the client's identity slots.
// Mutations are serialized and last-writer-wins.
type Store struct {
	mu        sync.Mutex
	ephemeral Tier
	durable   Tier
	logger    *slog.Logger

	subMu   sync.Mutex
	subs    map[int]func(State)
	nextSub int
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the structured logger used for slot transitions.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New creates a Store over the given ephemeral and durable tiers.
func New(ephemeral, durable Tier, opts ...Option) *Store {
	s := &Store{
		ephemeral: ephemeral,
		durable:   durable,
		subs:      make(map[int]func(State)),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	s.logger = s.logger.With("component", "session")
	return s
}

// NewInMemory creates a Store whose tiers both live in memory.
func NewInMemory(opts ...Option) *Store {
	return New(NewMemoryTier(), NewMemoryTier(), opts...)
}

// SetLoginTicket clears the second-factor ticket and the session tokens, then
// stores t.
func (s *Store) SetLoginTicket(t string) error {
	return s.SetLoginTicketContext(context.Background(), t)
}

// SetLoginTicketContext is SetLoginTicket for a result that belongs to ctx.
// If ctx is done by the time the store lock is held, nothing is written and
// ErrStaleTicket is returned.
func (s *Store) SetLoginTicketContext(ctx context.Context, t string) error {
	if t == "" {
		return ErrEmptyValue
	}
	s.mu.Lock()
	if ctx.Err() != nil {
		s.mu.Unlock()
		s.logger.Debug("discarding login ticket for finished caller")
		return ErrStaleTicket
	}
	err := s.replaceLocked(SlotLoginTicket, map[string]string{keyLoginTicket: t})
	s.mu.Unlock()
	return s.finish(SlotLoginTicket, t, err)
}

// SetSecondFactorTicket clears the login ticket and the session tokens, then
// stores t.
func (s *Store) SetSecondFactorTicket(t string) error {
	if t == "" {
		return ErrEmptyValue
	}
	s.mu.Lock()
	err := s.replaceLocked(SlotSecondFactorTicket, map[string]string{keySecondFactorTicket: t})
	s.mu.Unlock()
	return s.finish(SlotSecondFactorTicket, t, err)
}

// SetSessionTokens clears both tickets, then stores the pair.
func (s *Store) SetSessionTokens(tokens Tokens) error {
	if !tokens.Valid() {
		return ErrEmptyValue
	}
	s.mu.Lock()
	err := s.replaceLocked(SlotSessionTokens, tokenValues(tokens))
	s.mu.Unlock()
	return s.finish(SlotSessionTokens, tokens.AccessToken, err)
}

// PromoteLoginTicket replaces the login ticket with a second-factor ticket,
// provided the login ticket is still expected and ctx is not done. Otherwise
// the store is left untouched and ErrStaleTicket is returned.
func (s *Store) PromoteLoginTicket(ctx context.Context, expected, secondFactorTicket string) error {
	if secondFactorTicket == "" {
		return ErrEmptyValue
	}
	return s.conditional(ctx, SlotLoginTicket, keyLoginTicket, expected, SlotSecondFactorTicket,
		map[string]string{keySecondFactorTicket: secondFactorTicket}, secondFactorTicket)
}

// CompleteLoginTicket replaces the login ticket with session tokens when no
// second factor is required. It fails with ErrStaleTicket like PromoteLoginTicket.
func (s *Store) CompleteLoginTicket(ctx context.Context, expected string, tokens Tokens) error {
	if !tokens.Valid() {
		return ErrEmptyValue
	}
	return s.conditional(ctx, SlotLoginTicket, keyLoginTicket, expected, SlotSessionTokens,
		tokenValues(tokens), tokens.AccessToken)
}

// CompleteSecondFactor replaces the second-factor ticket with session tokens.
// It fails with ErrStaleTicket when the ticket was superseded or ctx is done.
func (s *Store) CompleteSecondFactor(ctx context.Context, expected string, tokens Tokens) error {
	if !tokens.Valid() {
		return ErrEmptyValue
	}
	return s.conditional(ctx, SlotSecondFactorTicket, keySecondFactorTicket, expected, SlotSessionTokens,
		tokenValues(tokens), tokens.AccessToken)
}

func (s *Store) conditional(ctx context.Context, from Slot, fromKey, expected string, to Slot, values map[string]string, fingerprint string) error {
	s.mu.Lock()
	current, ok, err := s.ephemeral.Load(fromKey)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("reading %s: %w", from, err)
	}
	// ctx is checked last so a caller that finished while the tier was
	// being read still sees its result dropped.
	if !ok || current != expected || ctx.Err() != nil {
		s.mu.Unlock()
		s.logger.Debug("discarding stale transition",
			slog.String("from", from.String()), slog.String("to", to.String()))
		return ErrStaleTicket
	}
	err = s.replaceLocked(to, values)
	s.mu.Unlock()
	return s.finish(to, fingerprint, err)
}

// ClearAll empties all three slots. Both tiers are attempted even when one fails.
func (s *Store) ClearAll() error {
	s.mu.Lock()
	err := errors.Join(
		s.ephemeral.Clear(keyLoginTicket, keySecondFactorTicket),
		s.durable.Clear(keyAccessToken, keyRefreshToken),
	)
	s.mu.Unlock()
	if err != nil {
		s.logger.Warn("clearing session slots", slog.Any("error", err))
	} else {
		s.logger.Debug("session cleared")
	}
	s.notify()
	return err
}

// ClearSlot empties a single slot, leaving the others untouched.
func (s *Store) ClearSlot(slot Slot) error {
	s.mu.Lock()
	var err error
	switch slot {
	case SlotLoginTicket:
		err = s.ephemeral.Clear(keyLoginTicket)
	case SlotSecondFactorTicket:
		err = s.ephemeral.Clear(keySecondFactorTicket)
	case SlotSessionTokens:
		err = s.durable.Clear(keyAccessToken, keyRefreshToken)
	default:
		err = fmt.Errorf("session: unknown slot %d", slot)
	}
	s.mu.Unlock()
	if err == nil {
		s.logger.Debug("slot cleared", slog.String("slot", slot.String()))
	}
	s.notify()
	return err
}

// LoginTicket returns the login ticket, if populated.
func (s *Store) LoginTicket() (string, bool) {
	return s.load(s.ephemeral, keyLoginTicket)
}

// SecondFactorTicket returns the second-factor ticket, if populated.
func (s *Store) SecondFactorTicket() (string, bool) {
	return s.load(s.ephemeral, keySecondFactorTicket)
}

// SessionTokens returns the session token pair, if populated.
func (s *Store) SessionTokens() (Tokens, bool) {
	access, ok := s.load(s.durable, keyAccessToken)
	if !ok {
		return Tokens{}, false
	}
	refresh, ok := s.load(s.durable, keyRefreshToken)
	if !ok {
		return Tokens{}, false
	}
	return Tokens{AccessToken: access, RefreshToken: refresh}, true
}

// AccessToken is a shorthand for the access half of SessionTokens.
func (s *Store) AccessToken() (string, bool) {
	tokens, ok := s.SessionTokens()
	return tokens.AccessToken, ok
}

// State derives the authentication stage from the populated slot. Durable
// tokens take precedence: another process may have completed a login while
// this one still holds an ephemeral ticket.
func (s *Store) State() State {
	if _, ok := s.SessionTokens(); ok {
		return Authenticated
	}
	if _, ok := s.SecondFactorTicket(); ok {
		return AwaitingSecondFactor
	}
	if _, ok := s.LoginTicket(); ok {
		return AwaitingEmailOTP
	}
	return Unauthenticated
}

// Has reports whether slot is populated.
func (s *Store) Has(slot Slot) bool {
	switch slot {
	case SlotLoginTicket:
		_, ok := s.LoginTicket()
		return ok
	case SlotSecondFactorTicket:
		_, ok := s.SecondFactorTicket()
		return ok
	case SlotSessionTokens:
		_, ok := s.SessionTokens()
		return ok
	}
	return false
}

// Subscribe registers fn to be called with the new state after every
// mutation. The returned func unregisters it.
func (s *Store) Subscribe(fn func(State)) (cancel func()) {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
		})
	}
}

func (s *Store) notify() {
	s.subMu.Lock()
	fns := make([]func(State), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()
	if len(fns) == 0 {
		return
	}
	state := s.State()
	for _, fn := range fns {
		fn(state)
	}
}

// replaceLocked clears every slot other than target, then writes values.
// Clearing first means a failed write leaves the store unauthenticated
// rather than holding two slots.
func (s *Store) replaceLocked(target Slot, values map[string]string) error {
	var ephemeralClear, durableClear []string
	switch target {
	case SlotLoginTicket:
		ephemeralClear = []string{keySecondFactorTicket}
		durableClear = []string{keyAccessToken, keyRefreshToken}
	case SlotSecondFactorTicket:
		ephemeralClear = []string{keyLoginTicket}
		durableClear = []string{keyAccessToken, keyRefreshToken}
	case SlotSessionTokens:
		ephemeralClear = []string{keyLoginTicket, keySecondFactorTicket}
	}
	if err := s.durable.Clear(durableClear...); err != nil {
		return fmt.Errorf("clearing durable tier: %w", err)
	}
	if err := s.ephemeral.Clear(ephemeralClear...); err != nil {
		return fmt.Errorf("clearing ephemeral tier: %w", err)
	}
	tier := s.ephemeral
	if target == SlotSessionTokens {
		tier = s.durable
	}
	if err := tier.Save(values); err != nil {
		return fmt.Errorf("writing %s: %w", target, err)
	}
	return nil
}

func (s *Store) finish(slot Slot, value string, err error) error {
	if err != nil {
		s.logger.Warn("slot transition failed", slog.String("slot", slot.String()), slog.Any("error", err))
	} else {
		s.logger.Debug("slot set", slog.String("slot", slot.String()), slog.String("value", util.Fingerprint(value)))
	}
	s.notify()
	return err
}

func (s *Store) load(tier Tier, key string) (string, bool) {
	v, ok, err := tier.Load(key)
	if err != nil {
		s.logger.Warn("reading session slot", slog.String("key", key), slog.Any("error", err))
		return "", false
	}
	return v, ok && v != ""
}

func tokenValues(t Tokens) map[string]string {
	return map[string]string{
		keyAccessToken:  t.AccessToken,
		keyRefreshToken: t.RefreshToken,
	}
}
