package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-otp-accounts/internal/application/account"
	"github.com/go-otp-accounts/internal/application/auth"
	"github.com/go-otp-accounts/internal/application/otp"
	"github.com/go-otp-accounts/internal/config"
	"github.com/go-otp-accounts/internal/domain"
	"github.com/go-otp-accounts/internal/infrastructure/console"
	"github.com/go-otp-accounts/internal/infrastructure/dynamo"
	jwtinfra "github.com/go-otp-accounts/internal/infrastructure/jwt"
	"github.com/go-otp-accounts/internal/infrastructure/memory"
	"github.com/go-otp-accounts/internal/infrastructure/metrics"
	"github.com/go-otp-accounts/internal/infrastructure/redislock"
	"github.com/go-otp-accounts/internal/infrastructure/smtp"
	"github.com/go-otp-accounts/internal/infrastructure/sns"
	"github.com/go-otp-accounts/internal/pkg/crypto"
	"github.com/go-otp-accounts/internal/pkg/keylock"
	transporthttp "github.com/go-otp-accounts/internal/transport/http"
)

type accountRepo interface {
	Get(ctx context.Context, email string) (*domain.Account, error)
	MarkVerified(ctx context.Context, email string, at time.Time) error
}

type challengeRepo interface {
	Get(ctx context.Context, email string) (*domain.Challenge, error)
	Put(ctx context.Context, ch domain.Challenge) error
	Update(ctx context.Context, prevRevision string, ch domain.Challenge) error
	Delete(ctx context.Context, email, revision string) error
}

type registrationRepo interface {
	Save(ctx context.Context, acct domain.Account, ch domain.Challenge) error
}

type stores struct {
	accounts      accountRepo
	challenges    challengeRepo
	registrations registrationRepo
}

type app struct {
	deps    *transporthttp.Deps
	closers []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// wire builds every component from config.
func wire(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{}

	st, err := newStores(ctx, cfg)
	if err != nil {
		return nil, err
	}

	locker, closeLocker, err := newLocker(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, closeLocker)

	dispatcher, err := newDispatcher(ctx, cfg)
	if err != nil {
		a.close()
		return nil, err
	}

	rec := metrics.New()
	engine := otp.NewService(otp.ServiceDeps{
		ChallengeRepo:   st.challenges,
		Dispatcher:      dispatcher,
		Locker:          locker,
		Observer:        rec,
		TTL:             cfg.OTPTTL,
		MaxAttempts:     cfg.OTPMaxAttempts,
		DispatchTimeout: cfg.DispatchTimeout,
		LogFallback:     cfg.OTPLogFallback,
	})
	registry := account.NewService(account.ServiceDeps{
		AccountRepo:      st.accounts,
		RegistrationRepo: st.registrations,
		OTP:              engine,
		Hasher:           crypto.NewBcryptHasher(cfg.BcryptCost),
	})

	deps := &transporthttp.Deps{Metrics: rec}
	var tokens auth.TokenIssuer = auth.PlaceholderIssuer{}
	if jwtinfra.Configured(cfg) {
		p, err := jwtinfra.NewProvider(cfg)
		if err != nil {
			slog.Warn("JWT provider not available, issuing placeholder tokens", "err", err)
		} else {
			tokens = p
			deps.TokenVerifier = p
		}
	}
	deps.Auth = auth.NewService(auth.ServiceDeps{Registry: registry, Engine: engine, Tokens: tokens})
	a.deps = deps
	return a, nil
}

func newStores(ctx context.Context, cfg *config.Config) (stores, error) {
	switch cfg.StoreDriver {
	case "memory":
		slog.Warn("using in-memory store; data is lost on restart")
		db := memory.NewDB()
		return stores{db.Accounts(), db.Challenges(), db.Registrations()}, nil
	case "dynamo":
		client, err := dynamo.NewClient(ctx, cfg)
		if err != nil {
			return stores{}, err
		}
		dynamo.Bootstrap(ctx, client, cfg.DynamoTables)
		return stores{
			accounts:      dynamo.NewAccountRepo(client, cfg.DynamoTables.Accounts),
			challenges:    dynamo.NewChallengeRepo(client, cfg.DynamoTables.Challenges),
			registrations: dynamo.NewRegistrationRepo(client, cfg.DynamoTables),
		}, nil
	default:
		return stores{}, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}
}

// newLocker prefers Redis so replicas share per-email locks.
func newLocker(ctx context.Context, cfg *config.Config) (otp.Locker, func(), error) {
	if cfg.RedisAddr == "" {
		return keylock.New(), func() {}, nil
	}
	client, err := redislock.NewClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, nil, err
	}
	slog.Info("using redis lock", "addr", cfg.RedisAddr)
	return redislock.New(client, cfg.LockTTL), func() { _ = client.Close() }, nil
}

func newDispatcher(ctx context.Context, cfg *config.Config) (otp.Dispatcher, error) {
	switch cfg.DispatchDriver {
	case "console":
		return console.NewDispatcher(nil), nil
	case "sns":
		d, err := sns.NewDispatcher(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return d, nil
	case "smtp":
		if !smtp.Configured(cfg) {
			slog.Warn("SMTP credentials not set; codes will be printed to the log")
			return console.NewDispatcher(nil), nil
		}
		return smtp.NewMailer(cfg), nil
	default:
		return nil, fmt.Errorf("unknown DISPATCH_DRIVER %q", cfg.DispatchDriver)
	}
}
