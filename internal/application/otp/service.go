package otp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/go-otp-accounts/internal/domain"
	"github.com/go-otp-accounts/internal/pkg/id"
	"github.com/go-otp-accounts/internal/pkg/keylock"
)

const (
	defaultTTL             = 5 * time.Minute
	defaultMaxAttempts     = 3
	defaultDispatchTimeout = 10 * time.Second

	// storageGrace keeps expired challenges readable after ExpiresAt so the
	// store's own expiry never turns an Expired outcome into NoChallenge.
	storageGrace = 24 * time.Hour
)

// Verify outcome labels reported to the Observer.
const (
	OutcomeSuccess         = "success"
	OutcomeNoChallenge     = "no_challenge"
	OutcomeExpired         = "expired"
	OutcomeTooManyAttempts = "too_many_attempts"
	OutcomeInvalidCode     = "invalid_code"
	OutcomeError           = "error"
)

// Issued is a prepared challenge together with its plaintext code. The code
// only lives long enough to be handed to the Dispatcher.
type Issued struct {
	Challenge domain.Challenge
	Code      string
}

// Service generates, stores and checks the single outstanding code per email.
type Service interface {
	// Issue replaces any challenge for email with a fresh one and delivers it.
	Issue(ctx context.Context, email string) (domain.Challenge, error)
	// Reissue is Issue guarded by a caller-supplied precondition that runs
	// under the same per-email lock as the replacement.
	Reissue(ctx context.Context, email string, precondition func(context.Context) error) (domain.Challenge, error)
	// Verify checks code against the stored challenge. On success the challenge
	// is deleted first and onConsumed runs afterwards, still under the lock.
	Verify(ctx context.Context, email, code string, onConsumed func(context.Context) error) error
	// Prepare builds a challenge without persisting it.
	Prepare(email string) (Issued, error)
	// Deliver hands a committed challenge's code to the dispatcher.
	Deliver(ctx context.Context, issued Issued)
	// Locker is the per-email lock every challenge mutation runs under.
	// Callers that write related records must take the same lock.
	Locker() Locker
}

type challengeStore interface {
	Get(ctx context.Context, email string) (*domain.Challenge, error)
	Put(ctx context.Context, ch domain.Challenge) error
	Update(ctx context.Context, prevRevision string, ch domain.Challenge) error
	Delete(ctx context.Context, email, revision string) error
}

// Dispatcher delivers a plaintext code to an inbox.
type Dispatcher interface {
	SendCode(ctx context.Context, to, code string) domain.DeliveryResult
}

// Locker serialises work per key. keylock.Map and redislock.Locker satisfy it.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

// Observer receives state-machine events, e.g. for metrics.
type Observer interface {
	ChallengeIssued()
	VerifyOutcome(outcome string)
	Delivery(status domain.DeliveryStatus)
}

type nopObserver struct{}

func (nopObserver) ChallengeIssued()                {}
func (nopObserver) VerifyOutcome(string)            {}
func (nopObserver) Delivery(domain.DeliveryStatus) {}

type service struct {
	store           challengeStore
	dispatcher      Dispatcher
	locker          Locker
	observer        Observer
	ttl             time.Duration
	maxAttempts     int
	dispatchTimeout time.Duration
	logFallback     bool
	now             func() time.Time
	entropy         io.Reader
}

type ServiceDeps struct {
	ChallengeRepo   challengeStore
	Dispatcher      Dispatcher
	Locker          Locker
	Observer        Observer
	TTL             time.Duration
	MaxAttempts     int
	DispatchTimeout time.Duration
	LogFallback     bool
	Clock           func() time.Time
	Entropy         io.Reader // nil means crypto/rand
}

func NewService(deps ServiceDeps) Service {
	s := &service{
		store:           deps.ChallengeRepo,
		dispatcher:      deps.Dispatcher,
		locker:          deps.Locker,
		observer:        deps.Observer,
		ttl:             deps.TTL,
		maxAttempts:     deps.MaxAttempts,
		dispatchTimeout: deps.DispatchTimeout,
		logFallback:     deps.LogFallback,
		now:             deps.Clock,
		entropy:         deps.Entropy,
	}
	if s.locker == nil {
		s.locker = keylock.New()
	}
	if s.observer == nil {
		s.observer = nopObserver{}
	}
	if s.ttl <= 0 {
		s.ttl = defaultTTL
	}
	if s.maxAttempts <= 0 {
		s.maxAttempts = defaultMaxAttempts
	}
	if s.dispatchTimeout <= 0 {
		s.dispatchTimeout = defaultDispatchTimeout
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

func (s *service) Locker() Locker { return s.locker }

func (s *service) Issue(ctx context.Context, email string) (domain.Challenge, error) {
	return s.Reissue(ctx, email, nil)
}

func (s *service) Reissue(ctx context.Context, email string, precondition func(context.Context) error) (domain.Challenge, error) {
	issued, err := s.replace(ctx, email, precondition)
	if err != nil {
		return domain.Challenge{}, err
	}
	s.Deliver(ctx, issued)
	return issued.Challenge, nil
}

func (s *service) replace(ctx context.Context, email string, precondition func(context.Context) error) (Issued, error) {
	unlock, err := s.locker.Lock(ctx, email)
	if err != nil {
		return Issued{}, fmt.Errorf("lock %s: %w", email, err)
	}
	defer unlock()

	if precondition != nil {
		if err := precondition(ctx); err != nil {
			return Issued{}, err
		}
	}
	issued, err := s.Prepare(email)
	if err != nil {
		return Issued{}, err
	}
	if err := s.store.Put(ctx, issued.Challenge); err != nil {
		return Issued{}, fmt.Errorf("store challenge: %w", err)
	}
	return issued, nil
}

func (s *service) Prepare(email string) (Issued, error) {
	code, err := generateCode(s.entropy)
	if err != nil {
		return Issued{}, err
	}
	expiresAt := s.now().UTC().Add(s.ttl)
	return Issued{
		Challenge: domain.Challenge{
			Email:     email,
			CodeHash:  HashCode(code),
			ExpiresAt: expiresAt,
			Attempts:  0,
			Revision:  id.New(),
			TTL:       expiresAt.Add(storageGrace).Unix(),
		},
		Code: code,
	}, nil
}

// Deliver runs outside the per-email lock. Request cancellation does not
// abort it; the dispatch timeout bounds it instead.
func (s *service) Deliver(ctx context.Context, issued Issued) {
	s.observer.ChallengeIssued()
	email := issued.Challenge.Email

	result := domain.Failed("no dispatcher configured")
	if s.dispatcher != nil {
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.dispatchTimeout)
		result = s.dispatcher.SendCode(dctx, email, issued.Code)
		cancel()
	}
	s.observer.Delivery(result.Status)

	if result.Status == domain.DeliverySent {
		slog.Info("otp delivered", "email", email)
		return
	}
	slog.Warn("otp delivery failed", "email", email, "reason", result.Reason)
	if s.logFallback {
		slog.Warn("otp fallback", "email", email, "code", issued.Code)
	}
}

func (s *service) Verify(ctx context.Context, email, code string, onConsumed func(context.Context) error) error {
	outcome, err := s.verify(ctx, email, code, onConsumed)
	s.observer.VerifyOutcome(outcome)
	return err
}

func (s *service) verify(ctx context.Context, email, code string, onConsumed func(context.Context) error) (string, error) {
	unlock, err := s.locker.Lock(ctx, email)
	if err != nil {
		return OutcomeError, fmt.Errorf("lock %s: %w", email, err)
	}
	defer unlock()

	ch, err := s.store.Get(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return OutcomeNoChallenge, fmt.Errorf("otp for %s: %w", email, domain.ErrNoChallenge)
		}
		return OutcomeError, err
	}
	if ch.Expired(s.now()) {
		return OutcomeExpired, fmt.Errorf("otp for %s: %w", email, domain.ErrExpired)
	}
	// The limit is absolute: a correct code after maxAttempts failures is still rejected.
	if ch.Attempts >= s.maxAttempts {
		return OutcomeTooManyAttempts, fmt.Errorf("otp for %s: %w", email, domain.ErrTooManyAttempts)
	}
	if !MatchCode(code, ch.CodeHash) {
		next := *ch
		next.Attempts++
		next.Revision = id.New()
		if err := s.store.Update(ctx, ch.Revision, next); err != nil {
			return OutcomeError, fmt.Errorf("record failed attempt: %w", err)
		}
		return OutcomeInvalidCode, fmt.Errorf("otp for %s: %w", email, domain.ErrInvalidCode)
	}

	if err := s.store.Delete(ctx, email, ch.Revision); err != nil {
		return OutcomeError, fmt.Errorf("consume challenge: %w", err)
	}
	if onConsumed != nil {
		if err := onConsumed(ctx); err != nil {
			return OutcomeError, err
		}
	}
	return OutcomeSuccess, nil
}
