package auth

import (
	"context"
	"fmt"

	"github.com/go-otp-accounts/internal/application/account"
	"github.com/go-otp-accounts/internal/domain"
)

const TokenTypeBearer = "bearer"

// Session is what a successful verify or login hands back to the caller.
type Session struct {
	AccessToken string
	TokenType   string
	Account     domain.Account
}

// Service sequences Registry and Engine calls for each public endpoint.
type Service interface {
	Register(ctx context.Context, req domain.RegisterRequest) (*account.RegistrationOutcome, error)
	VerifyOTP(ctx context.Context, req domain.VerifyOTPRequest) (*Session, error)
	Login(ctx context.Context, req domain.LoginRequest) (*Session, error)
	ResendOTP(ctx context.Context, req domain.ResendOTPRequest) error
	Me(ctx context.Context, email string) (*domain.Account, error)
}

// TokenIssuer turns a verified account into an access token.
// jwtinfra.Provider and PlaceholderIssuer satisfy it.
type TokenIssuer interface {
	Issue(acct domain.Account) (string, error)
}

// PlaceholderIssuer returns a non-cryptographic token. It is used when no
// signing keys are configured.
type PlaceholderIssuer struct{}

func (PlaceholderIssuer) Issue(acct domain.Account) (string, error) {
	return "jwt-token-for-" + acct.Email, nil
}

type verifier interface {
	Verify(ctx context.Context, email, code string, onConsumed func(context.Context) error) error
}

type service struct {
	registry account.Service
	engine   verifier
	tokens   TokenIssuer
}

type ServiceDeps struct {
	Registry account.Service
	Engine   verifier
	Tokens   TokenIssuer
}

func NewService(deps ServiceDeps) Service {
	s := &service{
		registry: deps.Registry,
		engine:   deps.Engine,
		tokens:   deps.Tokens,
	}
	if s.tokens == nil {
		s.tokens = PlaceholderIssuer{}
	}
	return s
}

func (s *service) Register(ctx context.Context, req domain.RegisterRequest) (*account.RegistrationOutcome, error) {
	return s.registry.Register(ctx, req.Email, req.Password)
}

func (s *service) VerifyOTP(ctx context.Context, req domain.VerifyOTPRequest) (*Session, error) {
	err := s.engine.Verify(ctx, req.Email, req.OTP, func(ctx context.Context) error {
		return s.registry.MarkVerified(ctx, req.Email)
	})
	if err != nil {
		return nil, err
	}
	acct, err := s.registry.Get(ctx, req.Email)
	if err != nil {
		return nil, err
	}
	return s.session(*acct)
}

func (s *service) Login(ctx context.Context, req domain.LoginRequest) (*Session, error) {
	acct, err := s.registry.Login(ctx, req.Email, req.Password)
	if err != nil {
		return nil, err
	}
	return s.session(*acct)
}

func (s *service) ResendOTP(ctx context.Context, req domain.ResendOTPRequest) error {
	return s.registry.Resend(ctx, req.Email)
}

func (s *service) Me(ctx context.Context, email string) (*domain.Account, error) {
	return s.registry.Get(ctx, email)
}

func (s *service) session(acct domain.Account) (*Session, error) {
	tok, err := s.tokens.Issue(acct)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	return &Session{AccessToken: tok, TokenType: TokenTypeBearer, Account: acct}, nil
}
