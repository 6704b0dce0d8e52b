package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"paycore/internal/domain"
	"paycore/internal/idempotency"
	"paycore/internal/models"
	"paycore/internal/repository"
	"paycore/pkg/payment"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestInitiate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := f.checkout(t, 1, 5000, domain.KindWalletTopup)
	if p.Status != domain.StatusPending {
		t.Fatalf("status = %s, want pending", p.Status)
	}
	if p.ExternalID == nil || *p.ExternalID != "ext-"+p.TransactionID {
		t.Fatalf("external id = %v, want ext-%s", p.ExternalID, p.TransactionID)
	}
	stored := f.reload(t, p.ID)
	if stored.RedirectURL == "" || stored.Gateway != "fake" || stored.Currency != domain.DefaultCurrency {
		t.Fatalf("stored payment missing gateway data: %+v", stored)
	}
	if _, err := f.payments.GetByReference(ctx, p.TransactionID); err != nil {
		t.Fatalf("lookup by transaction id: %v", err)
	}

	tests := []struct {
		name    string
		req     CheckoutRequest
		wantErr error
	}{
		{"Given zero amount When initiating Then invalid amount", CheckoutRequest{UserID: 1, Amount: 0, Kind: domain.KindPurchase, Gateway: "fake"}, domain.ErrInvalidAmount},
		{"Given negative amount When initiating Then invalid amount", CheckoutRequest{UserID: 1, Amount: -5, Kind: domain.KindPurchase, Gateway: "fake"}, domain.ErrInvalidAmount},
		{"Given unknown kind When initiating Then invalid kind", CheckoutRequest{UserID: 1, Amount: 10, Kind: "gift", Gateway: "fake"}, domain.ErrInvalidKind},
		{"Given unregistered gateway When initiating Then unknown gateway", CheckoutRequest{UserID: 1, Amount: 10, Kind: domain.KindPurchase, Gateway: "stripe"}, domain.ErrUnknownGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Initiate(ctx, tt.req)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Initiate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestInitiateGatewayFailureKeepsPendingPayment(t *testing.T) {
	f := newFixture(t)
	f.gw.initiateErr = fmt.Errorf("%w: connection refused", payment.ErrGatewayUnreachable)

	p, err := f.svc.Initiate(context.Background(), CheckoutRequest{UserID: 3, Amount: 700, Kind: domain.KindPurchase, Gateway: "fake"})
	if !errors.Is(err, payment.ErrGatewayUnreachable) {
		t.Fatalf("Initiate() error = %v, want gateway unreachable", err)
	}
	if p == nil || p.ID == 0 {
		t.Fatal("payment should be persisted before the gateway call")
	}
	mustStatus(t, f, p.ID, domain.StatusPending)
}

func TestInitiateRejectedByGatewayFailsPayment(t *testing.T) {
	f := newFixture(t)
	f.gw.initiateErr = fmt.Errorf("%w: merchant disabled", payment.ErrRejected)

	p, err := f.svc.Initiate(context.Background(), CheckoutRequest{UserID: 3, Amount: 700, Kind: domain.KindPurchase, Gateway: "fake"})
	if !errors.Is(err, payment.ErrRejected) {
		t.Fatalf("Initiate() error = %v, want rejected", err)
	}
	if p == nil || p.Status != domain.StatusFailed {
		t.Fatalf("returned payment = %+v, want failed", p)
	}
	stored := f.reload(t, p.ID)
	if stored.Status != domain.StatusFailed || stored.FailureCode != domain.FailureGatewayError {
		t.Fatalf("stored = %s/%q, want failed/%q", stored.Status, stored.FailureCode, domain.FailureGatewayError)
	}
}

// A pending 5000 XAF payment completed by webhook credits the wallet once.
func TestWebhookCompletesPendingPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := repository.NewNotificationRepository(f.db).SavePushToken(ctx, 1, "device-token"); err != nil {
		t.Fatalf("SavePushToken: %v", err)
	}
	p := f.checkout(t, 1, 5000, domain.KindWalletTopup)

	res, err := f.deliver(p, domain.StatusCompleted)
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if res.Outcome != OutcomeApplied || res.From != domain.StatusPending {
		t.Fatalf("result = %s from %s, want applied from pending", res.Outcome, res.From)
	}

	stored := f.reload(t, p.ID)
	if stored.Status != domain.StatusCompleted || stored.CompletedAt == nil {
		t.Fatalf("payment = %s completed_at=%v", stored.Status, stored.CompletedAt)
	}
	if n := f.entries(t, p, domain.ReasonPurchaseCredit); n != 1 {
		t.Fatalf("purchase-credit entries = %d, want 1", n)
	}
	if got := f.balance(t, p.WalletID); got != 5000 {
		t.Fatalf("balance = %d, want 5000", got)
	}
	notes, err := repository.NewNotificationRepository(f.db).ListByUserID(ctx, 1, 10, 0)
	if err != nil || len(notes) != 1 || notes[0].Type != domain.NotifPaymentCompleted {
		t.Fatalf("notifications = %+v err=%v", notes, err)
	}
	if len(f.pusher.sent) != 1 {
		t.Fatalf("pushes = %v, want one", f.pusher.sent)
	}
	if f.queued.Load() != 0 {
		t.Fatal("a top-up must not queue a commission")
	}
}

func TestWebhookRedeliveryCreditsOnce(t *testing.T) {
	f := newFixture(t)
	p := f.checkout(t, 1, 5000, domain.KindWalletTopup)

	for i := 0; i < 5; i++ {
		res, err := f.deliver(p, domain.StatusCompleted)
		if err != nil {
			t.Fatalf("delivery %d: %v", i, err)
		}
		want := OutcomeNoOp
		if i == 0 {
			want = OutcomeApplied
		}
		if res.Outcome != want {
			t.Fatalf("delivery %d outcome = %s, want %s", i, res.Outcome, want)
		}
		if i > 0 && !errors.Is(res.Reason, domain.ErrDuplicateDelivery) {
			t.Fatalf("delivery %d reason = %v, want duplicate", i, res.Reason)
		}
	}
	if got := f.balance(t, p.WalletID); got != 5000 {
		t.Fatalf("balance = %d, want 5000", got)
	}
}

func TestConcurrentDuplicateDeliveries(t *testing.T) {
	f := newFixture(t)
	p := f.checkout(t, 1, 2500, domain.KindPurchase)

	const n = 20
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		applied int
		errs    []error
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.deliver(p, domain.StatusCompleted)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			if res.Outcome == OutcomeApplied {
				applied++
			}
		}()
	}
	wg.Wait()

	if len(errs) > 0 {
		t.Fatalf("deliveries failed: %v", errs)
	}
	if applied != 1 {
		t.Fatalf("applied = %d, want exactly 1", applied)
	}
	if n := f.entries(t, p, domain.ReasonPurchaseCredit); n != 1 {
		t.Fatalf("purchase-credit entries = %d, want 1", n)
	}
	if got := f.balance(t, p.WalletID); got != 2500 {
		t.Fatalf("balance = %d, want 2500", got)
	}
	if f.queued.Load() != 1 {
		t.Fatalf("commission callbacks = %d, want 1", f.queued.Load())
	}
	job, err := f.jobs.GetByPaymentID(context.Background(), p.ID)
	if err != nil || job.DoneAt != nil {
		t.Fatalf("commission job = %+v err=%v", job, err)
	}
}

func TestConcurrentConflictingOutcomes(t *testing.T) {
	f := newFixture(t)
	p := f.checkout(t, 1, 4000, domain.KindWalletTopup)

	var wg sync.WaitGroup
	results := make([]*Result, 2)
	for i, status := range []domain.PaymentStatus{domain.StatusCompleted, domain.StatusFailed} {
		wg.Add(1)
		go func(i int, status domain.PaymentStatus) {
			defer wg.Done()
			res, err := f.deliver(p, status)
			if err != nil {
				t.Errorf("deliver %s: %v", status, err)
				return
			}
			results[i] = res
		}(i, status)
	}
	wg.Wait()
	if t.Failed() {
		return
	}

	applied, rejected := 0, 0
	for _, r := range results {
		switch r.Outcome {
		case OutcomeApplied:
			applied++
		case OutcomeRejected:
			rejected++
		}
	}
	if applied != 1 || rejected != 1 {
		t.Fatalf("applied=%d rejected=%d, want one of each", applied, rejected)
	}
	final := f.reload(t, p.ID)
	want := int64(0)
	if final.Status == domain.StatusCompleted {
		want = 4000
	}
	if got := f.balance(t, p.WalletID); got != want {
		t.Fatalf("final status %s with balance %d, want %d", final.Status, got, want)
	}
}

func TestApplyTransitions(t *testing.T) {
	tests := []struct {
		name        string
		from        domain.PaymentStatus
		to          domain.PaymentStatus
		want        Outcome
		wantBalance int64
	}{
		{"Given pending When processing Then applied", domain.StatusPending, domain.StatusProcessing, OutcomeApplied, 0},
		{"Given pending When completed Then applied through processing", domain.StatusPending, domain.StatusCompleted, OutcomeApplied, 1000},
		{"Given processing When completed Then applied", domain.StatusProcessing, domain.StatusCompleted, OutcomeApplied, 1000},
		{"Given pending When cancelled Then applied", domain.StatusPending, domain.StatusCancelled, OutcomeApplied, 0},
		{"Given processing When failed Then applied", domain.StatusProcessing, domain.StatusFailed, OutcomeApplied, 0},
		{"Given processing When pending Then rejected", domain.StatusProcessing, domain.StatusPending, OutcomeRejected, 0},
		{"Given failed When completed Then rejected", domain.StatusFailed, domain.StatusCompleted, OutcomeRejected, 0},
		{"Given cancelled When processing Then rejected", domain.StatusCancelled, domain.StatusProcessing, OutcomeRejected, 0},
		{"Given pending When refunded Then rejected", domain.StatusPending, domain.StatusRefunded, OutcomeRejected, 0},
		{"Given failed When failed Then noop", domain.StatusFailed, domain.StatusFailed, OutcomeNoOp, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			p := f.checkout(t, 1, 1000, domain.KindWalletTopup)
			if tt.from != domain.StatusPending {
				if err := f.db.Model(&models.Payment{}).Where("id = ?", p.ID).Update("status", tt.from).Error; err != nil {
					t.Fatalf("seed status: %v", err)
				}
			}

			res, err := f.svc.Apply(ctx, Event{PaymentID: p.ID, Status: tt.to, Source: domain.SourceWebhook})
			if err != nil {
				t.Fatalf("Apply: %v", err)
			}
			if res.Outcome != tt.want {
				t.Fatalf("outcome = %s, want %s", res.Outcome, tt.want)
			}
			wantStatus := tt.from
			if tt.want == OutcomeApplied {
				wantStatus = tt.to
			}
			mustStatus(t, f, p.ID, wantStatus)
			if got := f.balance(t, p.WalletID); got != tt.wantBalance {
				t.Fatalf("balance = %d, want %d", got, tt.wantBalance)
			}
			if tt.want == OutcomeRejected {
				if !errors.Is(res.Reason, domain.ErrInvalidTransition) {
					t.Fatalf("reason = %v, want invalid transition", res.Reason)
				}
				logs, _ := repository.NewAuditLogRepository(f.db).ListByAction(ctx, "PAYMENT_TRANSITION_REJECTED", 10)
				if len(logs) != 1 {
					t.Fatalf("rejection audit rows = %d, want 1", len(logs))
				}
			}
		})
	}
}

func TestFailureCodeRecorded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	declined := f.checkout(t, 1, 100, domain.KindPurchase)
	cancelled := f.checkout(t, 1, 100, domain.KindPurchase)

	if _, err := f.svc.Apply(ctx, Event{PaymentID: declined.ID, Status: domain.StatusFailed, FailureCode: domain.FailureDeclined}); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if _, err := f.svc.Apply(ctx, Event{PaymentID: cancelled.ID, Status: domain.StatusCancelled}); err != nil {
		t.Fatalf("Apply cancelled: %v", err)
	}
	if got := f.reload(t, declined.ID).FailureCode; got != domain.FailureDeclined {
		t.Errorf("failed payment code = %q, want %q", got, domain.FailureDeclined)
	}
	if got := f.reload(t, cancelled.ID).FailureCode; got != domain.FailureCancelledByUser {
		t.Errorf("cancelled payment code = %q, want %q", got, domain.FailureCancelledByUser)
	}
}

func TestRefundDebitsWalletAndIgnoresReplays(t *testing.T) {
	f := newFixture(t)
	p := f.checkout(t, 1, 5000, domain.KindWalletTopup)
	if _, err := f.deliver(p, domain.StatusCompleted); err != nil {
		t.Fatalf("complete: %v", err)
	}

	res, err := f.deliver(p, domain.StatusRefunded)
	if err != nil || res.Outcome != OutcomeApplied {
		t.Fatalf("refund = %+v err=%v", res, err)
	}
	if got := f.balance(t, p.WalletID); got != 0 {
		t.Fatalf("balance after refund = %d, want 0", got)
	}
	if n := f.entries(t, p, domain.ReasonRefundDebit); n != 1 {
		t.Fatalf("refund-debit entries = %d, want 1", n)
	}

	for _, status := range []domain.PaymentStatus{domain.StatusRefunded, domain.StatusCompleted} {
		res, err := f.deliver(p, status)
		if err != nil {
			t.Fatalf("replay %s: %v", status, err)
		}
		if res.Outcome != OutcomeNoOp || !errors.Is(res.Reason, domain.ErrDuplicateDelivery) {
			t.Fatalf("replay %s = %s (%v), want duplicate noop", status, res.Outcome, res.Reason)
		}
	}
	mustStatus(t, f, p.ID, domain.StatusRefunded)
	if got := f.balance(t, p.WalletID); got != 0 {
		t.Fatalf("balance after replays = %d, want 0", got)
	}
}

func TestRedeliveryAfterIdempotencyKeysLostIsDuplicate(t *testing.T) {
	f := newFixture(t)
	p := f.checkout(t, 1, 5000, domain.KindWalletTopup)
	if _, err := f.deliver(p, domain.StatusCompleted); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := f.db.Exec("DELETE FROM idempotency_keys").Error; err != nil {
		t.Fatalf("clear keys: %v", err)
	}

	res, err := f.deliver(p, domain.StatusCompleted)
	if err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if res.Outcome != OutcomeNoOp || !errors.Is(res.Reason, domain.ErrDuplicateDelivery) {
		t.Fatalf("redelivery = %s (%v), want duplicate noop", res.Outcome, res.Reason)
	}
	if got := f.balance(t, p.WalletID); got != 5000 {
		t.Fatalf("balance = %d, want 5000", got)
	}
}

func TestSupersededReplayIsLogged(t *testing.T) {
	f := newFixture(t)
	core, logs := observer.New(zap.WarnLevel)
	f.svc.log = zap.New(core)
	p := f.checkout(t, 1, 5000, domain.KindWalletTopup)
	for _, status := range []domain.PaymentStatus{domain.StatusCompleted, domain.StatusRefunded} {
		if _, err := f.deliver(p, status); err != nil {
			t.Fatalf("deliver %s: %v", status, err)
		}
	}

	res, err := f.deliver(p, domain.StatusCompleted)
	if err != nil || res.Outcome != OutcomeNoOp {
		t.Fatalf("replay = %+v err=%v", res, err)
	}
	entries := logs.FilterMessage("replayed event no longer applies").All()
	if len(entries) != 1 {
		t.Fatalf("warnings = %d, want 1", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["from"] != "refunded" || fields["to"] != "completed" || fields["source"] == "" {
		t.Errorf("warning fields = %v", fields)
	}
}

func TestRefundWithInsufficientFundsRollsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.checkout(t, 1, 5000, domain.KindWalletTopup)
	if _, err := f.deliver(p, domain.StatusCompleted); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := f.wallets.Append(ctx, p.WalletID, -3000, domain.ReasonPurchaseDebit, "order-1"); err != nil {
		t.Fatalf("spend: %v", err)
	}

	_, err := f.deliver(p, domain.StatusRefunded)
	if !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("refund error = %v, want insufficient funds", err)
	}
	mustStatus(t, f, p.ID, domain.StatusCompleted)
	if got := f.balance(t, p.WalletID); got != 2000 {
		t.Fatalf("balance = %d, want 2000", got)
	}

	// Once the wallet is topped up the same refund goes through.
	top := f.checkout(t, 1, 5000, domain.KindWalletTopup)
	if _, err := f.deliver(top, domain.StatusCompleted); err != nil {
		t.Fatalf("top up: %v", err)
	}
	res, err := f.deliver(p, domain.StatusRefunded)
	if err != nil || res.Outcome != OutcomeApplied {
		t.Fatalf("retried refund = %+v err=%v", res, err)
	}
	if got := f.balance(t, p.WalletID); got != 2000 {
		t.Fatalf("balance after refund = %d, want 2000", got)
	}
}

func TestLedgerHoldsWithoutIdempotencyCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.checkout(t, 1, 5000, domain.KindWalletTopup)
	if _, err := f.deliver(p, domain.StatusCompleted); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := f.idem.Forget(ctx, idempotency.EventKey(p.TransactionID, domain.StatusCompleted)); err != nil {
		t.Fatalf("Forget: %v", err)
	}

	res, err := f.deliver(p, domain.StatusCompleted)
	if err != nil {
		t.Fatalf("redeliver: %v", err)
	}
	if res.Outcome != OutcomeNoOp {
		t.Fatalf("outcome = %s, want noop", res.Outcome)
	}
	if got := f.balance(t, p.WalletID); got != 5000 {
		t.Fatalf("balance = %d, want 5000", got)
	}
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.checkout(t, 1, 5000, domain.KindWalletTopup)

	r := webhookRequest(p.Reference(), domain.StatusCompleted, true, "forged")
	_, err := f.svc.HandleWebhook(ctx, "fake", r, RequestMeta{IP: "203.0.113.9", UserAgent: "curl"})
	if !errors.Is(err, payment.ErrSignatureInvalid) {
		t.Fatalf("error = %v, want signature invalid", err)
	}
	mustStatus(t, f, p.ID, domain.StatusPending)
	logs, err := repository.NewAuditLogRepository(f.db).ListByAction(ctx, "WEBHOOK_SIGNATURE_INVALID", 10)
	if err != nil || len(logs) != 1 || logs[0].IP != "203.0.113.9" {
		t.Fatalf("audit = %+v err=%v", logs, err)
	}
}

func TestWebhookLookupErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	r := webhookRequest("no-such-payment", domain.StatusCompleted, true, "valid")
	if _, err := f.svc.HandleWebhook(ctx, "fake", r, RequestMeta{}); !errors.Is(err, domain.ErrPaymentNotFound) {
		t.Fatalf("unknown reference error = %v, want payment not found", err)
	}
	r = webhookRequest("x", domain.StatusCompleted, true, "valid")
	if _, err := f.svc.HandleWebhook(ctx, "paypal", r, RequestMeta{}); !errors.Is(err, domain.ErrUnknownGateway) {
		t.Fatalf("unknown gateway error = %v, want unknown gateway", err)
	}
}

func TestWebhookUnknownStatusIsRejected(t *testing.T) {
	f := newFixture(t)
	p := f.checkout(t, 1, 5000, domain.KindWalletTopup)

	res, err := f.deliver(p, domain.PaymentStatus("settled"))
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if res.Outcome != OutcomeRejected {
		t.Fatalf("outcome = %s, want rejected", res.Outcome)
	}
	mustStatus(t, f, p.ID, domain.StatusPending)
}

func TestUntrustedWebhookIsVerified(t *testing.T) {
	tests := []struct {
		name       string
		answer     verifyAnswer
		wantErr    error
		wantStatus domain.PaymentStatus
	}{
		{"Given gateway confirms When notified Then completed", verifyAnswer{status: payment.StatusCompleted, amount: 5000}, nil, domain.StatusCompleted},
		{"Given gateway reports failure When notified Then failed", verifyAnswer{status: payment.StatusFailed}, nil, domain.StatusFailed},
		{"Given gateway reports another amount When notified Then mismatch", verifyAnswer{status: payment.StatusCompleted, amount: 4999}, domain.ErrAmountMismatch, domain.StatusPending},
		{"Given gateway unreachable When notified Then payment stays open", verifyAnswer{err: payment.ErrGatewayUnreachable}, payment.ErrGatewayUnreachable, domain.StatusPending},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			p := f.checkout(t, 1, 5000, domain.KindWalletTopup)
			f.gw.script(p.Reference(), tt.answer)

			// The payload claims completion; only the verified status counts.
			r := webhookRequest(p.Reference(), domain.StatusCompleted, false, "valid")
			_, err := f.svc.HandleWebhook(context.Background(), "fake", r, RequestMeta{})
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("error = %v, want %v", err, tt.wantErr)
			}
			if f.gw.calls(p.Reference()) != 1 {
				t.Fatalf("verify calls = %d, want 1", f.gw.calls(p.Reference()))
			}
			mustStatus(t, f, p.ID, tt.wantStatus)
		})
	}
}

func TestApplyByReference(t *testing.T) {
	f := newFixture(t)
	p := f.checkout(t, 1, 900, domain.KindWalletTopup)

	res, err := f.svc.Apply(context.Background(), Event{Reference: p.TransactionID, Status: domain.StatusProcessing, Source: domain.SourceReconciliation})
	if err != nil || res.Outcome != OutcomeApplied {
		t.Fatalf("Apply = %+v err=%v", res, err)
	}
	if _, err := f.svc.Apply(context.Background(), Event{Reference: "missing", Status: domain.StatusProcessing}); !errors.Is(err, domain.ErrPaymentNotFound) {
		t.Fatalf("missing reference error = %v", err)
	}
}
