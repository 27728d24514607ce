package account

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-otp-accounts/internal/application/otp"
	"github.com/go-otp-accounts/internal/domain"
	"github.com/go-otp-accounts/internal/pkg/id"
	"github.com/go-otp-accounts/internal/pkg/validate"
)

// RegistrationOutcome reports the account as written. Fresh is false when an
// unverified account was re-registered.
type RegistrationOutcome struct {
	Account domain.Account
	Fresh   bool
}

type Service interface {
	Register(ctx context.Context, email, password string) (*RegistrationOutcome, error)
	Login(ctx context.Context, email, password string) (*domain.Account, error)
	MarkVerified(ctx context.Context, email string) error
	Resend(ctx context.Context, email string) error
	Get(ctx context.Context, email string) (*domain.Account, error)
}

type accountStore interface {
	Get(ctx context.Context, email string) (*domain.Account, error)
	MarkVerified(ctx context.Context, email string, at time.Time) error
}

// registrationStore commits an account and its challenge together or not at all.
type registrationStore interface {
	Save(ctx context.Context, acct domain.Account, ch domain.Challenge) error
}

type challengeIssuer interface {
	Prepare(email string) (otp.Issued, error)
	Deliver(ctx context.Context, issued otp.Issued)
	Reissue(ctx context.Context, email string, precondition func(context.Context) error) (domain.Challenge, error)
	Locker() otp.Locker
}

// PasswordHasher is the credential primitive. crypto.BcryptHasher satisfies it.
type PasswordHasher interface {
	Hash(plain string) (string, error)
	Verify(plain, hash string) bool
}

type service struct {
	accounts      accountStore
	registrations registrationStore
	otp           challengeIssuer
	hasher        PasswordHasher
	locker        otp.Locker
	now           func() time.Time
}

// ServiceDeps wires the registry. The per-email lock is taken from OTP so
// register, resend and verify always serialise on the same instance.
type ServiceDeps struct {
	AccountRepo      accountStore
	RegistrationRepo registrationStore
	OTP              challengeIssuer
	Hasher           PasswordHasher
	Clock            func() time.Time
}

func NewService(deps ServiceDeps) Service {
	s := &service{
		accounts:      deps.AccountRepo,
		registrations: deps.RegistrationRepo,
		otp:           deps.OTP,
		hasher:        deps.Hasher,
		locker:        deps.OTP.Locker(),
		now:           deps.Clock,
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

func (s *service) Register(ctx context.Context, email, password string) (*RegistrationOutcome, error) {
	if !validate.Email(email) {
		return nil, fmt.Errorf("email is not well-formed: %w", domain.ErrBadRequest)
	}
	if password == "" {
		return nil, fmt.Errorf("password is required: %w", domain.ErrBadRequest)
	}
	// Hash outside the lock; bcrypt is the slow part of registration.
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, err
	}

	outcome, issued, err := s.register(ctx, email, hash)
	if err != nil {
		return nil, err
	}
	s.otp.Deliver(ctx, issued)
	return outcome, nil
}

func (s *service) register(ctx context.Context, email, hash string) (*RegistrationOutcome, otp.Issued, error) {
	unlock, err := s.locker.Lock(ctx, email)
	if err != nil {
		return nil, otp.Issued{}, fmt.Errorf("lock %s: %w", email, err)
	}
	defer unlock()

	existing, err := s.accounts.Get(ctx, email)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, otp.Issued{}, err
	}
	if existing != nil && existing.Verified {
		return nil, otp.Issued{}, fmt.Errorf("register %s: %w", email, domain.ErrAlreadyVerified)
	}

	now := s.now().UTC()
	acct := domain.Account{
		AccountID:    id.New(),
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if existing != nil {
		acct.AccountID = existing.AccountID
		acct.CreatedAt = existing.CreatedAt
	}

	issued, err := s.otp.Prepare(email)
	if err != nil {
		return nil, otp.Issued{}, err
	}
	if err := s.registrations.Save(ctx, acct, issued.Challenge); err != nil {
		return nil, otp.Issued{}, err
	}
	return &RegistrationOutcome{Account: acct, Fresh: existing == nil}, issued, nil
}

// Login distinguishes NotFound from BadCredential; callers facing the public
// decide whether to collapse them.
func (s *service) Login(ctx context.Context, email, password string) (*domain.Account, error) {
	acct, err := s.accounts.Get(ctx, email)
	if err != nil {
		return nil, err
	}
	if !s.hasher.Verify(password, acct.PasswordHash) {
		return nil, fmt.Errorf("login %s: %w", email, domain.ErrBadCredential)
	}
	if !acct.Verified {
		return nil, fmt.Errorf("login %s: %w", email, domain.ErrUnverified)
	}
	return acct, nil
}

func (s *service) MarkVerified(ctx context.Context, email string) error {
	return s.accounts.MarkVerified(ctx, email, s.now().UTC())
}

func (s *service) Resend(ctx context.Context, email string) error {
	_, err := s.otp.Reissue(ctx, email, func(ctx context.Context) error {
		acct, err := s.accounts.Get(ctx, email)
		if err != nil {
			return err
		}
		if acct.Verified {
			return fmt.Errorf("resend %s: %w", email, domain.ErrAlreadyVerified)
		}
		return nil
	})
	return err
}

func (s *service) Get(ctx context.Context, email string) (*domain.Account, error) {
	return s.accounts.Get(ctx, email)
}
