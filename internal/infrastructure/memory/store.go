// Package memory is an in-process record store with the same semantics as the
// DynamoDB repos: value snapshots in and out, conditional writes on revision,
// and an atomic account+challenge registration write.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-otp-accounts/internal/domain"
)

// DB holds both tables behind one mutex so registration writes are atomic.
type DB struct {
	mu         sync.RWMutex
	accounts   map[string]domain.Account
	challenges map[string]domain.Challenge
}

func NewDB() *DB {
	return &DB{
		accounts:   make(map[string]domain.Account),
		challenges: make(map[string]domain.Challenge),
	}
}

func (db *DB) Accounts() *AccountRepo           { return &AccountRepo{db: db} }
func (db *DB) Challenges() *ChallengeRepo       { return &ChallengeRepo{db: db} }
func (db *DB) Registrations() *RegistrationRepo { return &RegistrationRepo{db: db} }

// AccountRepo manages accounts keyed by email.
type AccountRepo struct{ db *DB }

func (r *AccountRepo) Get(_ context.Context, email string) (*domain.Account, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	a, ok := r.db.accounts[email]
	if !ok {
		return nil, fmt.Errorf("account not found: %w", domain.ErrNotFound)
	}
	return &a, nil
}

func (r *AccountRepo) MarkVerified(_ context.Context, email string, at time.Time) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	a, ok := r.db.accounts[email]
	if !ok {
		return fmt.Errorf("account not found: %w", domain.ErrNotFound)
	}
	a.Verified = true
	a.UpdatedAt = at
	r.db.accounts[email] = a
	return nil
}

// ChallengeRepo manages the single challenge per email.
type ChallengeRepo struct{ db *DB }

func (r *ChallengeRepo) Get(_ context.Context, email string) (*domain.Challenge, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	c, ok := r.db.challenges[email]
	if !ok {
		return nil, fmt.Errorf("challenge not found: %w", domain.ErrNotFound)
	}
	return &c, nil
}

func (r *ChallengeRepo) Put(_ context.Context, ch domain.Challenge) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	r.db.challenges[ch.Email] = ch
	return nil
}

func (r *ChallengeRepo) Update(_ context.Context, prevRevision string, ch domain.Challenge) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	cur, ok := r.db.challenges[ch.Email]
	if !ok || cur.Revision != prevRevision {
		return fmt.Errorf("challenge changed concurrently: %w", domain.ErrConflict)
	}
	r.db.challenges[ch.Email] = ch
	return nil
}

func (r *ChallengeRepo) Delete(_ context.Context, email, revision string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	cur, ok := r.db.challenges[email]
	if !ok || cur.Revision != revision {
		return fmt.Errorf("challenge changed concurrently: %w", domain.ErrConflict)
	}
	delete(r.db.challenges, email)
	return nil
}

// RegistrationRepo writes an account and its challenge together.
type RegistrationRepo struct{ db *DB }

func (r *RegistrationRepo) Save(_ context.Context, acct domain.Account, ch domain.Challenge) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if cur, ok := r.db.accounts[acct.Email]; ok && cur.Verified {
		return fmt.Errorf("register %s: %w", acct.Email, domain.ErrAlreadyVerified)
	}
	r.db.accounts[acct.Email] = acct
	r.db.challenges[ch.Email] = ch
	return nil
}
