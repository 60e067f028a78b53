package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	accountdomain "github.com/GreenfieldTrail/keycloak-phone-provider/internal/account/domain"
	"github.com/GreenfieldTrail/keycloak-phone-provider/internal/server/middleware"
	"github.com/GreenfieldTrail/keycloak-phone-provider/internal/sms"
	"github.com/GreenfieldTrail/keycloak-phone-provider/internal/token/domain"
)

type memTokenRepo struct {
	mu     sync.Mutex
	tokens map[string]*domain.TokenCode
}

func newMemTokenRepo() *memTokenRepo {
	return &memTokenRepo{tokens: make(map[string]*domain.TokenCode)}
}

func (r *memTokenRepo) Create(ctx context.Context, c *domain.TokenCode) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c2 := *c
	r.tokens[c.ID] = &c2
	return nil
}

func (r *memTokenRepo) FindOngoing(ctx context.Context, realmID, phoneNumber string, t domain.TokenCodeType, now time.Time) (*domain.TokenCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *domain.TokenCode
	for _, c := range r.tokens {
		if c.RealmID != realmID || c.PhoneNumber != phoneNumber || c.Type != t {
			continue
		}
		if !c.Ongoing(now) {
			continue
		}
		if latest == nil || c.CreatedAt.After(latest.CreatedAt) {
			latest = c
		}
	}
	if latest == nil {
		return nil, nil
	}
	c2 := *latest
	return &c2, nil
}

func (r *memTokenRepo) CountSince(ctx context.Context, realmID, phoneNumber string, t domain.TokenCodeType, since time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.tokens {
		if c.RealmID == realmID && c.PhoneNumber == phoneNumber && c.Type == t && !c.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (r *memTokenRepo) GetByID(ctx context.Context, id string) (*domain.TokenCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.tokens[id]
	if !ok {
		return nil, nil
	}
	c2 := *c
	return &c2, nil
}

func (r *memTokenRepo) Confirm(ctx context.Context, id, accountID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.tokens[id]; ok {
		c.Confirmed = true
		c.ConfirmedBy = accountID
	}
	return nil
}

func (r *memTokenRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tokens)
}

type memAccountRepo struct {
	mu       sync.Mutex
	accounts map[string]*accountdomain.Account
	actions  map[string]map[string]bool
	creds    map[string]*accountdomain.Credential

	failSetPhoneVerified map[string]error
}

func newMemAccountRepo() *memAccountRepo {
	return &memAccountRepo{
		accounts:             make(map[string]*accountdomain.Account),
		actions:              make(map[string]map[string]bool),
		creds:                make(map[string]*accountdomain.Credential),
		failSetPhoneVerified: make(map[string]error),
	}
}

func (r *memAccountRepo) add(a *accountdomain.Account) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a2 := *a
	r.accounts[a.ID] = &a2
}

func (r *memAccountRepo) addCredential(c *accountdomain.Credential) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c2 := *c
	r.creds[c.ID] = &c2
}

func (r *memAccountRepo) get(id string) *accountdomain.Account {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.accounts[id]; ok {
		a2 := *a
		return &a2
	}
	return nil
}

func (r *memAccountRepo) hasAction(id, action string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.actions[id][action]
}

func (r *memAccountRepo) GetByID(ctx context.Context, id string) (*accountdomain.Account, error) {
	return r.get(id), nil
}

func (r *memAccountRepo) FindByPhone(ctx context.Context, realmID, phoneNumber string) ([]*accountdomain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*accountdomain.Account
	for _, a := range r.accounts {
		if a.RealmID == realmID && a.PhoneNumber == phoneNumber {
			a2 := *a
			out = append(out, &a2)
		}
	}
	return out, nil
}

func (r *memAccountRepo) SetPhone(ctx context.Context, accountID, phoneNumber string, verified bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.accounts[accountID]; ok {
		a.PhoneNumber = phoneNumber
		a.PhoneNumberVerified = verified
	}
	return nil
}

func (r *memAccountRepo) SetPhoneVerified(ctx context.Context, accountID string, verified bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failSetPhoneVerified[accountID]; err != nil {
		return err
	}
	if a, ok := r.accounts[accountID]; ok {
		a.PhoneNumberVerified = verified
	}
	return nil
}

func (r *memAccountRepo) AddRequiredAction(ctx context.Context, accountID, action string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.actions[accountID] == nil {
		r.actions[accountID] = make(map[string]bool)
	}
	r.actions[accountID][action] = true
	return nil
}

func (r *memAccountRepo) RemoveRequiredAction(ctx context.Context, accountID, action string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.actions[accountID], action)
	return nil
}

func (r *memAccountRepo) ListCredentialsByType(ctx context.Context, accountID, credentialType string) ([]*accountdomain.Credential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*accountdomain.Credential
	for _, c := range r.creds {
		if c.AccountID == accountID && c.Type == credentialType {
			c2 := *c
			out = append(out, &c2)
		}
	}
	return out, nil
}

func (r *memAccountRepo) RemoveCredential(ctx context.Context, credentialID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.creds, credentialID)
	return nil
}

func (r *memAccountRepo) UpdateCredentialData(ctx context.Context, credentialID, data string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.creds[credentialID]; ok {
		c.Data = data
	}
	return nil
}

type fakeSender struct {
	mu    sync.Mutex
	calls int
	last  string
	err   error
}

func (s *fakeSender) Send(ctx context.Context, t domain.TokenCodeType, phoneNumber, code string, expiresIn time.Duration, kind string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.calls++
	s.last = code
	return nil
}

func (s *fakeSender) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// testClock drives the service clock from a settable instant.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

type testEnv struct {
	svc      *Service
	tokens   *memTokenRepo
	accounts *memAccountRepo
	sender   *fakeSender
	clock    *testClock
}

func newTestEnv(opts Options) *testEnv {
	tokens := newMemTokenRepo()
	accounts := newMemAccountRepo()
	sender := &fakeSender{}
	clock := &testClock{t: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
	if opts.TokenExpiresIn == 0 {
		opts.TokenExpiresIn = 60 * time.Second
	}
	if opts.HourMaximum == 0 {
		opts.HourMaximum = 3
	}
	if opts.Logger == nil {
		opts.Logger = quietLogger()
	}
	svc := NewService(tokens, accounts, sender, opts)
	svc.now = clock.now
	return &testEnv{svc: svc, tokens: tokens, accounts: accounts, sender: sender, clock: clock}
}

const (
	testRealm = "shopping"
	testPhone = "+15005550006"
)

func TestSendCode_IssuesAndPersists(t *testing.T) {
	env := newTestEnv(Options{})
	ctx := context.Background()

	secs, err := env.svc.SendCode(ctx, testRealm, testPhone, domain.TypeVerify, "")
	if err != nil {
		t.Fatalf("SendCode: %v", err)
	}
	if secs != 60 {
		t.Errorf("seconds = %d, want 60", secs)
	}
	if env.sender.callCount() != 1 {
		t.Errorf("sender calls = %d, want 1", env.sender.callCount())
	}

	ongoing, err := env.tokens.FindOngoing(ctx, testRealm, testPhone, domain.TypeVerify, env.clock.now())
	if err != nil {
		t.Fatalf("FindOngoing: %v", err)
	}
	if ongoing == nil {
		t.Fatal("expected a persisted ongoing token")
	}
	if ongoing.Confirmed {
		t.Error("fresh token should not be confirmed")
	}
	if len(ongoing.Code) != 6 {
		t.Errorf("code length = %d, want 6", len(ongoing.Code))
	}
	if ongoing.Code != env.sender.last {
		t.Error("persisted code differs from the sent code")
	}
	wantExpiry := env.clock.now().Add(60 * time.Second)
	if !ongoing.ExpiresAt.Equal(wantExpiry) {
		t.Errorf("ExpiresAt = %v, want %v", ongoing.ExpiresAt, wantExpiry)
	}
}

func TestSendCode_ReusesOngoingToken(t *testing.T) {
	env := newTestEnv(Options{})
	ctx := context.Background()

	if _, err := env.svc.SendCode(ctx, testRealm, testPhone, domain.TypeVerify, ""); err != nil {
		t.Fatalf("first SendCode: %v", err)
	}
	env.clock.advance(10 * time.Second)

	secs, err := env.svc.SendCode(ctx, testRealm, testPhone, domain.TypeVerify, "")
	if err != nil {
		t.Fatalf("second SendCode: %v", err)
	}
	if secs != 50 {
		t.Errorf("remaining seconds = %d, want 50", secs)
	}
	if env.sender.callCount() != 1 {
		t.Errorf("sender calls = %d, want 1 (no duplicate message)", env.sender.callCount())
	}
	if env.tokens.count() != 1 {
		t.Errorf("token count = %d, want 1", env.tokens.count())
	}
}

func TestSendCode_AbuseLimit(t *testing.T) {
	env := newTestEnv(Options{HourMaximum: 3})
	ctx := context.Background()

	// One issuance per minute; each prior code has expired by the next call,
	// so every accepted call creates a token. The cap admits hourMaximum+1
	// creations in the window (strict greater-than), then refuses.
	for i := 0; i < 4; i++ {
		secs, err := env.svc.SendCode(ctx, testRealm, testPhone, domain.TypeVerify, "")
		if err != nil {
			t.Fatalf("call %d: %v", i+1, err)
		}
		if secs != 60 {
			t.Errorf("call %d seconds = %d, want 60", i+1, secs)
		}
		env.clock.advance(time.Minute)
	}

	_, err := env.svc.SendCode(ctx, testRealm, testPhone, domain.TypeVerify, "")
	if !errors.Is(err, ErrAbuseLimitExceeded) {
		t.Fatalf("err = %v, want ErrAbuseLimitExceeded", err)
	}
	if env.sender.callCount() != 4 {
		t.Errorf("sender calls = %d, want 4 (no message on refusal)", env.sender.callCount())
	}
	if env.tokens.count() != 4 {
		t.Errorf("token count = %d, want 4 (no token on refusal)", env.tokens.count())
	}
}

func TestSendCode_AbuseWindowSlides(t *testing.T) {
	env := newTestEnv(Options{HourMaximum: 3})
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if _, err := env.svc.SendCode(ctx, testRealm, testPhone, domain.TypeVerify, ""); err != nil {
			t.Fatalf("call %d: %v", i+1, err)
		}
		env.clock.advance(time.Minute)
	}
	if _, err := env.svc.SendCode(ctx, testRealm, testPhone, domain.TypeVerify, ""); !errors.Is(err, ErrAbuseLimitExceeded) {
		t.Fatalf("err = %v, want ErrAbuseLimitExceeded", err)
	}

	// An hour later the early issuances have left the window.
	env.clock.advance(time.Hour)
	if _, err := env.svc.SendCode(ctx, testRealm, testPhone, domain.TypeVerify, ""); err != nil {
		t.Fatalf("after window: %v", err)
	}
}

func TestSendCode_DeliveryFailureLeavesNoToken(t *testing.T) {
	env := newTestEnv(Options{})
	env.sender.err = &sms.SendError{Code: "status=500", Message: "gateway down"}
	ctx := context.Background()

	_, err := env.svc.SendCode(ctx, testRealm, testPhone, domain.TypeVerify, "")
	if !errors.Is(err, ErrDeliveryUnavailable) {
		t.Fatalf("err = %v, want ErrDeliveryUnavailable", err)
	}
	if env.tokens.count() != 0 {
		t.Errorf("token count = %d, want 0 (failed delivery persists nothing)", env.tokens.count())
	}

	// Retry after the transport recovers succeeds immediately; the failed
	// attempt blocked nothing.
	env.sender.err = nil
	if _, err := env.svc.SendCode(ctx, testRealm, testPhone, domain.TypeVerify, ""); err != nil {
		t.Fatalf("retry: %v", err)
	}
}

func TestSendCode_TypesDoNotShareOngoing(t *testing.T) {
	env := newTestEnv(Options{})
	ctx := context.Background()

	if _, err := env.svc.SendCode(ctx, testRealm, testPhone, domain.TypeVerify, ""); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if _, err := env.svc.SendCode(ctx, testRealm, testPhone, domain.TypeOTPSetup, ""); err != nil {
		t.Fatalf("otp setup: %v", err)
	}
	if env.sender.callCount() != 2 {
		t.Errorf("sender calls = %d, want 2 (one per type)", env.sender.callCount())
	}
}

func TestSendCode_RecordsOrigin(t *testing.T) {
	env := newTestEnv(Options{})
	ctx := middleware.WithOrigin(context.Background(), domain.Origin{IP: "203.0.113.9", Port: 50123, Host: "auth.example.com"})

	if _, err := env.svc.SendCode(ctx, testRealm, testPhone, domain.TypeVerify, ""); err != nil {
		t.Fatalf("SendCode: %v", err)
	}
	ongoing, _ := env.tokens.FindOngoing(ctx, testRealm, testPhone, domain.TypeVerify, env.clock.now())
	if ongoing == nil {
		t.Fatal("expected ongoing token")
	}
	if ongoing.Origin.IP != "203.0.113.9" || ongoing.Origin.Port != 50123 || ongoing.Origin.Host != "auth.example.com" {
		t.Errorf("origin = %+v, want request provenance", ongoing.Origin)
	}
}

func TestIsAbusing_EmptyHistory(t *testing.T) {
	env := newTestEnv(Options{})

	abusing, err := env.svc.IsAbusing(context.Background(), testRealm, testPhone, domain.TypeVerify)
	if err != nil {
		t.Fatalf("IsAbusing: %v", err)
	}
	if abusing {
		t.Error("empty history should never be abuse")
	}
}

func validateAccount(env *testEnv) *accountdomain.Account {
	a := &accountdomain.Account{ID: "acc-1", RealmID: testRealm, Username: "alice"}
	env.accounts.add(a)
	return a
}

func TestValidateCode_Success(t *testing.T) {
	env := newTestEnv(Options{})
	ctx := context.Background()
	account := validateAccount(env)

	if _, err := env.svc.SendCode(ctx, testRealm, testPhone, domain.TypeVerify, ""); err != nil {
		t.Fatalf("SendCode: %v", err)
	}
	code := env.sender.last

	if err := env.svc.ValidateCode(ctx, account, testPhone, code, domain.TypeVerify); err != nil {
		t.Fatalf("ValidateCode: %v", err)
	}

	got := env.accounts.get(account.ID)
	if !got.PhoneNumberVerified || got.PhoneNumber != testPhone {
		t.Errorf("account = %+v, want verified with %s", got, testPhone)
	}

	ongoing, _ := env.tokens.FindOngoing(ctx, testRealm, testPhone, domain.TypeVerify, env.clock.now())
	if ongoing != nil {
		t.Error("confirmed token must no longer be ongoing")
	}
}

func TestValidateCode_ConfirmsExactlyOnce(t *testing.T) {
	env := newTestEnv(Options{})
	ctx := context.Background()
	account := validateAccount(env)

	if _, err := env.svc.SendCode(ctx, testRealm, testPhone, domain.TypeVerify, ""); err != nil {
		t.Fatalf("SendCode: %v", err)
	}
	code := env.sender.last

	if err := env.svc.ValidateCode(ctx, account, testPhone, code, domain.TypeVerify); err != nil {
		t.Fatalf("first ValidateCode: %v", err)
	}
	err := env.svc.ValidateCode(ctx, account, testPhone, code, domain.TypeVerify)
	if !errors.Is(err, ErrNoOngoingProcess) {
		t.Fatalf("second ValidateCode err = %v, want ErrNoOngoingProcess", err)
	}
}

func TestValidateCode_Mismatch(t *testing.T) {
	env := newTestEnv(Options{})
	ctx := context.Background()
	account := validateAccount(env)

	if _, err := env.svc.SendCode(ctx, testRealm, testPhone, domain.TypeVerify, ""); err != nil {
		t.Fatalf("SendCode: %v", err)
	}

	err := env.svc.ValidateCode(ctx, account, testPhone, "000000", domain.TypeVerify)
	if env.sender.last == "000000" {
		t.Skip("generated code collided with the wrong guess")
	}
	if !errors.Is(err, ErrCodeMismatch) {
		t.Fatalf("err = %v, want ErrCodeMismatch", err)
	}

	// The token stays live and the account is untouched.
	ongoing, _ := env.tokens.FindOngoing(ctx, testRealm, testPhone, domain.TypeVerify, env.clock.now())
	if ongoing == nil || ongoing.Confirmed {
		t.Error("mismatch must leave the token unconfirmed and ongoing")
	}
	got := env.accounts.get(account.ID)
	if got.PhoneNumberVerified || got.PhoneNumber != "" {
		t.Errorf("account mutated on mismatch: %+v", got)
	}
}

func TestValidateCode_ExpiredToken(t *testing.T) {
	env := newTestEnv(Options{})
	ctx := context.Background()
	account := validateAccount(env)

	if _, err := env.svc.SendCode(ctx, testRealm, testPhone, domain.TypeVerify, ""); err != nil {
		t.Fatalf("SendCode: %v", err)
	}
	code := env.sender.last
	env.clock.advance(61 * time.Second)

	err := env.svc.ValidateCode(ctx, account, testPhone, code, domain.TypeVerify)
	if !errors.Is(err, ErrNoOngoingProcess) {
		t.Fatalf("err = %v, want ErrNoOngoingProcess for expired token", err)
	}
}

func TestValidateCode_NeverIssued(t *testing.T) {
	env := newTestEnv(Options{})
	account := validateAccount(env)

	err := env.svc.ValidateCode(context.Background(), account, testPhone, "123456", domain.TypeVerify)
	if !errors.Is(err, ErrNoOngoingProcess) {
		t.Fatalf("err = %v, want ErrNoOngoingProcess", err)
	}
}

func TestValidateCode_WrongTypeDoesNotSatisfy(t *testing.T) {
	env := newTestEnv(Options{})
	ctx := context.Background()
	account := validateAccount(env)

	if _, err := env.svc.SendCode(ctx, testRealm, testPhone, domain.TypeVerify, ""); err != nil {
		t.Fatalf("SendCode: %v", err)
	}
	code := env.sender.last

	err := env.svc.ValidateCode(ctx, account, testPhone, code, domain.TypeOTPSetup)
	if !errors.Is(err, ErrNoOngoingProcess) {
		t.Fatalf("err = %v, want ErrNoOngoingProcess across types", err)
	}
}
