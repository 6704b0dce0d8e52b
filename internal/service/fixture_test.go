package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"paycore/config"
	"paycore/internal/domain"
	"paycore/internal/idempotency"
	"paycore/internal/models"
	"paycore/internal/repository"
	"paycore/internal/testutil"
	"paycore/pkg/payment"

	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

// fakeGateway answers Verify from a per-reference script and accepts webhooks
// whose X-Test-Signature header is "valid".
type fakeGateway struct {
	mu          sync.Mutex
	initiateErr error
	verify      map[string][]verifyAnswer
	verifyCalls map[string]int
}

type verifyAnswer struct {
	status payment.Status
	amount int64
	err    error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{verify: map[string][]verifyAnswer{}, verifyCalls: map[string]int{}}
}

func (g *fakeGateway) Kind() string { return "fake" }

func (g *fakeGateway) Initiate(ctx context.Context, req payment.InitiateRequest) (*payment.InitiateResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.initiateErr != nil {
		return nil, g.initiateErr
	}
	return &payment.InitiateResponse{
		ExternalID:  "ext-" + req.TransactionID,
		RedirectURL: "https://fake.test/pay/" + req.TransactionID,
		Raw:         []byte(`{"ok":true}`),
	}, nil
}

// script queues answers for reference; the last answer repeats.
func (g *fakeGateway) script(reference string, answers ...verifyAnswer) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.verify[reference] = answers
}

func (g *fakeGateway) calls(reference string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.verifyCalls[reference]
}

func (g *fakeGateway) Verify(ctx context.Context, reference string) (*payment.Verification, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.verifyCalls[reference]++
	answers := g.verify[reference]
	if len(answers) == 0 {
		return nil, payment.ErrUnknownTransaction
	}
	a := answers[0]
	if len(answers) > 1 {
		g.verify[reference] = answers[1:]
	}
	if a.err != nil {
		return nil, a.err
	}
	return &payment.Verification{ExternalID: reference, Status: a.status, Amount: a.amount, Raw: []byte(`{"verified":true}`)}, nil
}

type fakeWebhook struct {
	Reference   string `json:"reference"`
	Status      string `json:"status"`
	FailureCode string `json:"failure_code"`
	Trusted     bool   `json:"trusted"`
}

func (g *fakeGateway) ParseWebhook(ctx context.Context, r *http.Request) (*payment.Notification, error) {
	if r.Header.Get("X-Test-Signature") != "valid" {
		return nil, payment.ErrSignatureInvalid
	}
	var w fakeWebhook
	if err := json.NewDecoder(r.Body).Decode(&w); err != nil {
		return nil, payment.ErrMalformed
	}
	return &payment.Notification{
		Reference:   w.Reference,
		Status:      payment.Status(w.Status),
		FailureCode: w.FailureCode,
		Trusted:     w.Trusted,
		Raw:         []byte(`{}`),
	}, nil
}

type fakePusher struct {
	mu   sync.Mutex
	sent []string
}

func (p *fakePusher) Push(ctx context.Context, msg PushMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, msg.Type)
	return nil
}

type fixture struct {
	db        *gorm.DB
	gw        *fakeGateway
	registry  *payment.Registry
	idem      idempotency.Store
	svc       *PaymentService
	pusher    *fakePusher
	wallets   *repository.WalletRepository
	payments  *repository.PaymentRepository
	referrals *repository.ReferralRepository
	jobs      *repository.CommissionJobRepository
	queued    atomic.Int32
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewDBWithLevels(t)
	log := zaptest.NewLogger(t)
	gw := newFakeGateway()
	registry := payment.NewRegistry(gw)
	pusher := &fakePusher{}
	notifier := NewNotificationService(repository.NewNotificationRepository(db), pusher, log)
	idem := idempotency.NewDBStore(db, time.Hour)
	svc := NewPaymentService(db, idem, registry, notifier, config.GatewayConfig{NotifyBaseURL: "http://paycore.test"}, log)
	f := &fixture{
		db:        db,
		gw:        gw,
		registry:  registry,
		idem:      idem,
		svc:       svc,
		pusher:    pusher,
		wallets:   repository.NewWalletRepository(db),
		payments:  repository.NewPaymentRepository(db),
		referrals: repository.NewReferralRepository(db),
		jobs:      repository.NewCommissionJobRepository(db),
	}
	svc.OnCommissionQueued(func() { f.queued.Add(1) })
	return f
}

func (f *fixture) checkout(t *testing.T, userID uint, amount int64, kind string) *models.Payment {
	t.Helper()
	p, err := f.svc.Initiate(context.Background(), CheckoutRequest{
		UserID:   userID,
		Amount:   amount,
		Currency: domain.DefaultCurrency,
		Kind:     kind,
		Gateway:  "fake",
	})
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	return p
}

func webhookRequest(ref string, status domain.PaymentStatus, trusted bool, signature string) *http.Request {
	body, _ := json.Marshal(fakeWebhook{Reference: ref, Status: string(status), Trusted: trusted})
	r := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/fake", strings.NewReader(string(body)))
	r.Header.Set("X-Test-Signature", signature)
	return r
}

func (f *fixture) deliver(p *models.Payment, status domain.PaymentStatus) (*Result, error) {
	return f.svc.HandleWebhook(context.Background(), "fake", webhookRequest(p.Reference(), status, true, "valid"), RequestMeta{IP: "10.0.0.1"})
}

func (f *fixture) reload(t *testing.T, id uint) *models.Payment {
	t.Helper()
	p, err := f.payments.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("reload payment %d: %v", id, err)
	}
	return p
}

func (f *fixture) balance(t *testing.T, walletID uint) int64 {
	t.Helper()
	ctx := context.Background()
	cached, err := f.wallets.BalanceOf(ctx, walletID)
	if err != nil {
		t.Fatalf("BalanceOf: %v", err)
	}
	replayed, err := f.wallets.ReplayBalance(ctx, walletID)
	if err != nil {
		t.Fatalf("ReplayBalance: %v", err)
	}
	if cached != replayed {
		t.Fatalf("cached balance %d != replayed %d", cached, replayed)
	}
	return cached
}

func (f *fixture) entries(t *testing.T, p *models.Payment, reason string) int {
	t.Helper()
	var n int64
	f.db.Model(&models.LedgerEntry{}).
		Where("wallet_id = ? AND reason = ? AND correlation_id = ?", p.WalletID, reason, strconv.FormatUint(uint64(p.ID), 10)).
		Count(&n)
	return int(n)
}

// bindReferrals creates referrer's code and binds each referred user to it.
func (f *fixture) bindReferrals(t *testing.T, referrerID uint, expiresAt *time.Time, referred ...uint) *models.ReferralCode {
	t.Helper()
	ctx := context.Background()
	code, err := f.referrals.GetOrCreateCode(ctx, referrerID, expiresAt)
	if err != nil {
		t.Fatalf("GetOrCreateCode: %v", err)
	}
	for _, u := range referred {
		err := f.referrals.CreateReferral(ctx, &models.Referral{
			ReferrerID:     referrerID,
			ReferredUserID: u,
			ReferralCodeID: code.ID,
			BoundAt:        time.Now(),
		})
		if err != nil {
			t.Fatalf("CreateReferral(%d): %v", u, err)
		}
	}
	return code
}

func usersFrom(start uint, n int) []uint {
	out := make([]uint, n)
	for i := range out {
		out[i] = start + uint(i)
	}
	return out
}

func mustStatus(t *testing.T, f *fixture, id uint, want domain.PaymentStatus) {
	t.Helper()
	if got := f.reload(t, id).Status; got != want {
		t.Fatalf("payment %d status = %s, want %s", id, got, want)
	}
}
