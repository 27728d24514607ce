package otp

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-otp-accounts/internal/domain"
	"github.com/go-otp-accounts/internal/infrastructure/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// --- mocks ---

type mockDispatcher struct{ mock.Mock }

func (m *mockDispatcher) SendCode(ctx context.Context, to, code string) domain.DeliveryResult {
	args := m.Called(ctx, to, code)
	return args.Get(0).(domain.DeliveryResult)
}

// lastCode returns the plaintext code of the most recent dispatch to email.
func (m *mockDispatcher) lastCode(t *testing.T, email string) string {
	t.Helper()
	for i := len(m.Calls) - 1; i >= 0; i-- {
		if m.Calls[i].Arguments.String(1) == email {
			return m.Calls[i].Arguments.String(2)
		}
	}
	t.Fatalf("no code dispatched to %s", email)
	return ""
}

type mockChallengeStore struct{ mock.Mock }

func (m *mockChallengeStore) Get(ctx context.Context, email string) (*domain.Challenge, error) {
	args := m.Called(ctx, email)
	if c, _ := args.Get(0).(*domain.Challenge); c != nil {
		return c, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *mockChallengeStore) Put(ctx context.Context, ch domain.Challenge) error {
	return m.Called(ctx, ch).Error(0)
}
func (m *mockChallengeStore) Update(ctx context.Context, prevRevision string, ch domain.Challenge) error {
	return m.Called(ctx, prevRevision, ch).Error(0)
}
func (m *mockChallengeStore) Delete(ctx context.Context, email, revision string) error {
	return m.Called(ctx, email, revision).Error(0)
}

type countingObserver struct {
	mu       sync.Mutex
	issued   int
	outcomes map[string]int
	failed   int
}

func (o *countingObserver) ChallengeIssued() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.issued++
}
func (o *countingObserver) VerifyOutcome(outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.outcomes == nil {
		o.outcomes = map[string]int{}
	}
	o.outcomes[outcome]++
}
func (o *countingObserver) Delivery(status domain.DeliveryStatus) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if status == domain.DeliveryFailed {
		o.failed++
	}
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// --- builder ---

type fixture struct {
	svc        Service
	challenges *memory.ChallengeRepo
	dispatcher *mockDispatcher
	observer   *countingObserver
	clock      *fakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := memory.NewDB()
	d := &mockDispatcher{}
	d.On("SendCode", mock.Anything, mock.Anything, mock.Anything).Return(domain.Sent())
	obs := &countingObserver{}
	clock := &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	svc := NewService(ServiceDeps{
		ChallengeRepo: db.Challenges(),
		Dispatcher:    d,
		Observer:      obs,
		Clock:         clock.Now,
	})
	return &fixture{svc: svc, challenges: db.Challenges(), dispatcher: d, observer: obs, clock: clock}
}

func (f *fixture) stored(t *testing.T, email string) *domain.Challenge {
	t.Helper()
	c, err := f.challenges.Get(context.Background(), email)
	require.NoError(t, err)
	return c
}

func wrongCode(code string) string {
	if code == "0000" {
		return "0001"
	}
	return "0000"
}

// --- Issue ---

func TestIssue_StoresFreshChallengeAndDispatches(t *testing.T) {
	f := newFixture(t)
	ch, err := f.svc.Issue(context.Background(), "a@x.com")
	require.NoError(t, err)

	code := f.dispatcher.lastCode(t, "a@x.com")
	assert.Regexp(t, fourDigits, code)
	assert.Equal(t, HashCode(code), ch.CodeHash)
	assert.Equal(t, 0, ch.Attempts)
	assert.Equal(t, f.clock.Now().Add(5*time.Minute), ch.ExpiresAt)
	assert.Greater(t, ch.TTL, ch.ExpiresAt.Unix())
	assert.Equal(t, ch, *f.stored(t, "a@x.com"))
	assert.Equal(t, 1, f.observer.issued)
}

func TestIssue_ReplacesPriorChallenge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first, err := f.svc.Issue(ctx, "a@x.com")
	require.NoError(t, err)
	firstCode := f.dispatcher.lastCode(t, "a@x.com")

	second, err := f.svc.Issue(ctx, "a@x.com")
	require.NoError(t, err)
	assert.NotEqual(t, first.Revision, second.Revision)

	if f.dispatcher.lastCode(t, "a@x.com") != firstCode {
		err = f.svc.Verify(ctx, "a@x.com", firstCode, nil)
		assert.ErrorIs(t, err, domain.ErrInvalidCode)
	}
}

func TestIssue_DispatchFailureDoesNotFailIssuance(t *testing.T) {
	db := memory.NewDB()
	d := &mockDispatcher{}
	d.On("SendCode", mock.Anything, "a@x.com", mock.Anything).Return(domain.Failed("smtp down"))
	obs := &countingObserver{}
	svc := NewService(ServiceDeps{ChallengeRepo: db.Challenges(), Dispatcher: d, Observer: obs, LogFallback: true})

	ch, err := svc.Issue(context.Background(), "a@x.com")
	require.NoError(t, err)

	stored, err := db.Challenges().Get(context.Background(), "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, ch.Revision, stored.Revision)
	assert.Equal(t, 1, obs.failed)
}

func TestIssue_NoDispatcherStillIssues(t *testing.T) {
	db := memory.NewDB()
	svc := NewService(ServiceDeps{ChallengeRepo: db.Challenges()})
	_, err := svc.Issue(context.Background(), "a@x.com")
	require.NoError(t, err)
}

func TestIssue_StoreFailureSkipsDispatch(t *testing.T) {
	cs := &mockChallengeStore{}
	cs.On("Put", mock.Anything, mock.Anything).Return(errors.New("throttled"))
	d := &mockDispatcher{}
	svc := NewService(ServiceDeps{ChallengeRepo: cs, Dispatcher: d})

	_, err := svc.Issue(context.Background(), "a@x.com")
	require.Error(t, err)
	d.AssertNotCalled(t, "SendCode", mock.Anything, mock.Anything, mock.Anything)
}

// --- Reissue ---

func TestReissue_ResetsAttemptsAndInvalidatesOldCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Issue(ctx, "a@x.com")
	require.NoError(t, err)
	oldCode := f.dispatcher.lastCode(t, "a@x.com")
	require.ErrorIs(t, f.svc.Verify(ctx, "a@x.com", wrongCode(oldCode), nil), domain.ErrInvalidCode)
	require.Equal(t, 1, f.stored(t, "a@x.com").Attempts)

	_, err = f.svc.Reissue(ctx, "a@x.com", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, f.stored(t, "a@x.com").Attempts)

	newCode := f.dispatcher.lastCode(t, "a@x.com")
	if newCode != oldCode {
		assert.ErrorIs(t, f.svc.Verify(ctx, "a@x.com", oldCode, nil), domain.ErrInvalidCode)
	}
	assert.NoError(t, f.svc.Verify(ctx, "a@x.com", newCode, nil))
}

func TestReissue_UnlocksAfterTooManyAttempts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Issue(ctx, "a@x.com")
	require.NoError(t, err)
	code := f.dispatcher.lastCode(t, "a@x.com")
	for i := 0; i < 3; i++ {
		require.ErrorIs(t, f.svc.Verify(ctx, "a@x.com", wrongCode(code), nil), domain.ErrInvalidCode)
	}
	require.ErrorIs(t, f.svc.Verify(ctx, "a@x.com", code, nil), domain.ErrTooManyAttempts)

	_, err = f.svc.Reissue(ctx, "a@x.com", nil)
	require.NoError(t, err)
	assert.NoError(t, f.svc.Verify(ctx, "a@x.com", f.dispatcher.lastCode(t, "a@x.com"), nil))
}

func TestReissue_PreconditionFailureLeavesStateUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	errGone := errors.New("account gone")

	_, err := f.svc.Reissue(ctx, "a@x.com", func(context.Context) error { return errGone })
	assert.ErrorIs(t, err, errGone)

	_, err = f.challenges.Get(ctx, "a@x.com")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	f.dispatcher.AssertNotCalled(t, "SendCode", mock.Anything, mock.Anything, mock.Anything)
}

// --- Verify ---

func TestVerify_NoChallenge(t *testing.T) {
	f := newFixture(t)
	err := f.svc.Verify(context.Background(), "a@x.com", "1234", nil)
	assert.ErrorIs(t, err, domain.ErrNoChallenge)
	assert.Equal(t, 1, f.observer.outcomes[OutcomeNoChallenge])
}

func TestVerify_WrongCodeIncrementsByOne(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Issue(ctx, "a@x.com")
	require.NoError(t, err)
	before := f.stored(t, "a@x.com")
	code := f.dispatcher.lastCode(t, "a@x.com")

	err = f.svc.Verify(ctx, "a@x.com", wrongCode(code), nil)
	assert.ErrorIs(t, err, domain.ErrInvalidCode)

	after := f.stored(t, "a@x.com")
	assert.Equal(t, before.Attempts+1, after.Attempts)
	assert.Equal(t, before.CodeHash, after.CodeHash)
	assert.Equal(t, before.ExpiresAt, after.ExpiresAt)
	assert.NotEqual(t, before.Revision, after.Revision)
}

func TestVerify_CorrectCodeSucceedsExactlyOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Issue(ctx, "a@x.com")
	require.NoError(t, err)
	code := f.dispatcher.lastCode(t, "a@x.com")

	consumed := 0
	onConsumed := func(context.Context) error { consumed++; return nil }

	require.NoError(t, f.svc.Verify(ctx, "a@x.com", code, onConsumed))
	assert.Equal(t, 1, consumed)
	_, err = f.challenges.Get(ctx, "a@x.com")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	err = f.svc.Verify(ctx, "a@x.com", code, onConsumed)
	assert.ErrorIs(t, err, domain.ErrNoChallenge)
	assert.Equal(t, 1, consumed)
}

func TestVerify_ExpiredEvenWithCorrectCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Issue(ctx, "a@x.com")
	require.NoError(t, err)
	code := f.dispatcher.lastCode(t, "a@x.com")

	f.clock.Advance(5*time.Minute + time.Second)
	err = f.svc.Verify(ctx, "a@x.com", code, nil)
	assert.ErrorIs(t, err, domain.ErrExpired)
	assert.Equal(t, 0, f.stored(t, "a@x.com").Attempts)
}

func TestVerify_ExactlyAtExpiryIsStillValid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Issue(ctx, "a@x.com")
	require.NoError(t, err)

	f.clock.Advance(5 * time.Minute)
	assert.NoError(t, f.svc.Verify(ctx, "a@x.com", f.dispatcher.lastCode(t, "a@x.com"), nil))
}

func TestVerify_ExpiryReportedBeforeAttemptLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Issue(ctx, "a@x.com")
	require.NoError(t, err)
	code := f.dispatcher.lastCode(t, "a@x.com")
	for i := 0; i < 3; i++ {
		require.ErrorIs(t, f.svc.Verify(ctx, "a@x.com", wrongCode(code), nil), domain.ErrInvalidCode)
	}

	f.clock.Advance(10 * time.Minute)
	assert.ErrorIs(t, f.svc.Verify(ctx, "a@x.com", code, nil), domain.ErrExpired)
}

func TestVerify_TwoFailuresThenCorrectSucceeds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Issue(ctx, "a@x.com")
	require.NoError(t, err)
	code := f.dispatcher.lastCode(t, "a@x.com")

	require.ErrorIs(t, f.svc.Verify(ctx, "a@x.com", wrongCode(code), nil), domain.ErrInvalidCode)
	require.ErrorIs(t, f.svc.Verify(ctx, "a@x.com", wrongCode(code), nil), domain.ErrInvalidCode)
	assert.NoError(t, f.svc.Verify(ctx, "a@x.com", code, nil))
}

func TestVerify_CorrectCodeAfterThreeFailuresIsRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Issue(ctx, "b@x.com")
	require.NoError(t, err)
	code := f.dispatcher.lastCode(t, "b@x.com")

	for i := 0; i < 3; i++ {
		require.ErrorIs(t, f.svc.Verify(ctx, "b@x.com", wrongCode(code), nil), domain.ErrInvalidCode)
	}
	consumed := false
	err = f.svc.Verify(ctx, "b@x.com", code, func(context.Context) error { consumed = true; return nil })
	assert.ErrorIs(t, err, domain.ErrTooManyAttempts)
	assert.False(t, consumed)
	assert.Equal(t, 3, f.stored(t, "b@x.com").Attempts)
}

func TestVerify_StoreErrorIsNotReportedAsNoChallenge(t *testing.T) {
	cs := &mockChallengeStore{}
	cs.On("Get", mock.Anything, "a@x.com").Return(nil, errors.New("connection reset"))
	svc := NewService(ServiceDeps{ChallengeRepo: cs})

	err := svc.Verify(context.Background(), "a@x.com", "1234", nil)
	require.Error(t, err)
	assert.False(t, errors.Is(err, domain.ErrNoChallenge))
}

func TestVerify_ConflictOnAttemptWriteSurfaces(t *testing.T) {
	cs := &mockChallengeStore{}
	cs.On("Get", mock.Anything, "a@x.com").Return(&domain.Challenge{
		Email:     "a@x.com",
		CodeHash:  HashCode("1111"),
		ExpiresAt: time.Now().Add(time.Minute),
		Revision:  "r1",
	}, nil)
	cs.On("Update", mock.Anything, "r1", mock.MatchedBy(func(c domain.Challenge) bool {
		return c.Attempts == 1 && c.Revision != "r1"
	})).Return(domain.ErrConflict)
	svc := NewService(ServiceDeps{ChallengeRepo: cs})

	err := svc.Verify(context.Background(), "a@x.com", "2222", nil)
	assert.ErrorIs(t, err, domain.ErrConflict)
	cs.AssertExpectations(t)
}

func TestVerify_OnConsumedErrorPropagates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Issue(ctx, "a@x.com")
	require.NoError(t, err)
	errStore := errors.New("mark verified failed")

	err = f.svc.Verify(ctx, "a@x.com", f.dispatcher.lastCode(t, "a@x.com"), func(context.Context) error { return errStore })
	assert.ErrorIs(t, err, errStore)
	_, err = f.challenges.Get(ctx, "a@x.com")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

// --- concurrency ---

func TestVerify_ConcurrentWrongGuessesNeverExceedLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Issue(ctx, "a@x.com")
	require.NoError(t, err)
	bad := wrongCode(f.dispatcher.lastCode(t, "a@x.com"))

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results = map[error]int{}
	)
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := f.svc.Verify(ctx, "a@x.com", bad, nil)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case errors.Is(err, domain.ErrInvalidCode):
				results[domain.ErrInvalidCode]++
			case errors.Is(err, domain.ErrTooManyAttempts):
				results[domain.ErrTooManyAttempts]++
			default:
				results[err]++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, results[domain.ErrInvalidCode])
	assert.Equal(t, 9, results[domain.ErrTooManyAttempts])
	assert.Equal(t, 3, f.stored(t, "a@x.com").Attempts)
}

func TestVerify_ConcurrentCorrectCodeConsumedOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Issue(ctx, "a@x.com")
	require.NoError(t, err)
	code := f.dispatcher.lastCode(t, "a@x.com")

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		missing   int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := f.svc.Verify(ctx, "a@x.com", code, nil)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
			} else if errors.Is(err, domain.ErrNoChallenge) {
				missing++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, 7, missing)
}
