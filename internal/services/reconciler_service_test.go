package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toivyb/estatecore-backend-new-sub002/internal/models"
)

func TestRentPaymentLifecycle(t *testing.T) {
	ts := newTestStack(t)
	ctx := context.Background()

	ts.recordCharge(t, 7, "1200.00", models.PaymentTypeRent)

	before, err := ts.ledger.GetBalance(ctx, 7)
	require.NoError(t, err)
	require.True(t, before.CurrentBalance.Equal(decimal.RequireFromString("1200.00")))

	payment := ts.createPendingPayment(t, 7, "1200.00", models.PaymentTypeRent, "August rent")
	ts.gateway.setResult(*mustRef(t, ts, payment.ID), &VerifyResult{
		Status:         VerifySucceeded,
		AmountCaptured: decimal.RequireFromString("1200.00"),
		RawStatus:      "succeeded",
	})

	confirmed, err := ts.reconciler.ConfirmClientSide(ctx, payment.ID, json.RawMessage(`{"outcome":"ok"}`))
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusClientConfirmed, confirmed.Status)

	completed, err := ts.reconciler.ConfirmServerSide(ctx, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusCompleted, completed.Status)
	require.NotNil(t, completed.ReceiptNumber)
	require.NotNil(t, completed.CompletedAt)

	var receipt models.Receipt
	require.NoError(t, ts.db.Where("payment_id = ?", payment.ID).First(&receipt).Error)
	assert.Equal(t, *completed.ReceiptNumber, receipt.ReceiptNumber)
	assert.Equal(t, uint(7), receipt.TenantID)

	after, err := ts.ledger.GetBalance(ctx, 7)
	require.NoError(t, err)
	assert.True(t, after.CurrentBalance.IsZero(), "balance was %s", after.CurrentBalance)
}

func TestDeclinedPaymentDoesNotAffectBalance(t *testing.T) {
	ts := newTestStack(t)
	ctx := context.Background()

	ts.recordCharge(t, 9, "50.00", models.PaymentTypeLateFee)

	payment := ts.createPendingPayment(t, 9, "50.00", models.PaymentTypeLateFee, "late fee July")
	ts.gateway.setResult(*mustRef(t, ts, payment.ID), &VerifyResult{
		Status:    VerifyFailed,
		RawStatus: "card_declined",
	})

	_, err := ts.reconciler.ConfirmClientSide(ctx, payment.ID, nil)
	require.NoError(t, err)

	failed, err := ts.reconciler.ConfirmServerSide(ctx, payment.ID)
	assert.ErrorIs(t, err, ErrGatewayDeclined)
	assert.Equal(t, models.PaymentStatusFailed, failed.Status)
	assert.Equal(t, models.FailureGatewayDeclined, failed.FailureReason)
	assert.Nil(t, failed.ReceiptNumber)

	var receipts int64
	require.NoError(t, ts.db.Model(&models.Receipt{}).Count(&receipts).Error)
	assert.EqualValues(t, 0, receipts)

	balance, err := ts.ledger.GetBalance(ctx, 9)
	require.NoError(t, err)
	assert.True(t, balance.CurrentBalance.Equal(decimal.RequireFromString("50.00")))
}

func TestConfirmServerSideIsIdempotent(t *testing.T) {
	ts := newTestStack(t)
	ctx := context.Background()

	payment := ts.createPendingPayment(t, 7, "300.00", models.PaymentTypeDeposit, "deposit")
	ts.gateway.setResult(*mustRef(t, ts, payment.ID), &VerifyResult{Status: VerifySucceeded})

	_, err := ts.reconciler.ConfirmClientSide(ctx, payment.ID, nil)
	require.NoError(t, err)

	first, err := ts.reconciler.ConfirmServerSide(ctx, payment.ID)
	require.NoError(t, err)
	second, err := ts.reconciler.ConfirmServerSide(ctx, payment.ID)
	require.NoError(t, err)

	assert.Equal(t, *first.ReceiptNumber, *second.ReceiptNumber)

	var receipts int64
	require.NoError(t, ts.db.Model(&models.Receipt{}).Count(&receipts).Error)
	assert.EqualValues(t, 1, receipts, "repeated confirmation must not issue a second receipt")
}

func TestConfirmServerSideRequiresClientConfirmation(t *testing.T) {
	ts := newTestStack(t)
	ctx := context.Background()

	payment := ts.createPendingPayment(t, 7, "300.00", models.PaymentTypeDeposit, "deposit")
	ts.gateway.setResult(*mustRef(t, ts, payment.ID), &VerifyResult{Status: VerifySucceeded})

	_, err := ts.reconciler.ConfirmServerSide(ctx, payment.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	reloaded, err := ts.payments.load(ctx, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusIntentPending, reloaded.Status)
}

func TestVerificationTimeoutAfterMaxAttempts(t *testing.T) {
	ts := newTestStack(t)
	ts.reconciler.maxAttempts = 3
	ctx := context.Background()

	payment := ts.createPendingPayment(t, 7, "100.00", models.PaymentTypeUtilities, "electric")
	_, err := ts.reconciler.ConfirmClientSide(ctx, payment.ID, nil)
	require.NoError(t, err)

	// The fake gateway answers pending for unscripted references.
	for i := 0; i < 2; i++ {
		resolved, err := ts.reconciler.ConfirmServerSide(ctx, payment.ID)
		require.NoError(t, err)
		assert.Equal(t, models.PaymentStatusClientConfirmed, resolved.Status)
	}

	resolved, err := ts.reconciler.ConfirmServerSide(ctx, payment.ID)
	assert.ErrorIs(t, err, ErrVerificationTimeout)
	assert.Equal(t, models.PaymentStatusFailed, resolved.Status)
	assert.Equal(t, models.FailureVerificationTimeout, resolved.FailureReason)
}

func TestUnreachableGatewayCountsAttempts(t *testing.T) {
	ts := newTestStack(t)
	ts.reconciler.maxAttempts = 5
	ctx := context.Background()

	payment := ts.createPendingPayment(t, 7, "100.00", models.PaymentTypeUtilities, "gas")
	_, err := ts.reconciler.ConfirmClientSide(ctx, payment.ID, nil)
	require.NoError(t, err)

	ts.gateway.verifyErr = context.DeadlineExceeded
	resolved, err := ts.reconciler.ConfirmServerSide(ctx, payment.ID)
	assert.ErrorIs(t, err, ErrGatewayUnavailable)
	assert.Equal(t, 1, resolved.VerifyAttempts)
	assert.Equal(t, models.PaymentStatusClientConfirmed, resolved.Status)
}

func TestSweepResolvesOrphanedConfirmations(t *testing.T) {
	ts := newTestStack(t)
	ts.reconciler.reconcileAfter = -time.Second
	ctx := context.Background()

	ts.recordCharge(t, 7, "800.00", models.PaymentTypeRent)

	payment := ts.createPendingPayment(t, 7, "800.00", models.PaymentTypeRent, "rent")
	ts.gateway.setResult(*mustRef(t, ts, payment.ID), &VerifyResult{Status: VerifySucceeded})
	_, err := ts.reconciler.ConfirmClientSide(ctx, payment.ID, nil)
	require.NoError(t, err)

	report, err := ts.reconciler.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.CheckedConfirmed)
	assert.Equal(t, 1, report.Completed)
	assert.Equal(t, 0, report.Errors)

	reloaded, err := ts.payments.load(ctx, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusCompleted, reloaded.Status)
	require.NotNil(t, reloaded.ReceiptNumber)
}

func TestSweepExpiresStaleIntents(t *testing.T) {
	ts := newTestStack(t)
	ts.reconciler.intentExpiry = -time.Second
	ctx := context.Background()

	payment := ts.createPendingPayment(t, 7, "100.00", models.PaymentTypeOther, "misc")

	report, err := ts.reconciler.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.CheckedPending)
	assert.Equal(t, 1, report.Failed)

	reloaded, err := ts.payments.load(ctx, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusFailed, reloaded.Status)
	assert.Equal(t, models.FailureIntentExpired, reloaded.FailureReason)
	assert.Contains(t, ts.gateway.cancelled, *mustRef(t, ts, payment.ID))
}

func TestSweepRecoversStaleIntentThatActuallySucceeded(t *testing.T) {
	ts := newTestStack(t)
	ts.reconciler.intentExpiry = -time.Second
	ctx := context.Background()

	payment := ts.createPendingPayment(t, 7, "100.00", models.PaymentTypeOther, "misc")
	ts.gateway.setResult(*mustRef(t, ts, payment.ID), &VerifyResult{Status: VerifySucceeded})

	_, err := ts.reconciler.Sweep(ctx)
	require.NoError(t, err)

	reloaded, err := ts.payments.load(ctx, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusCompleted, reloaded.Status)
	require.NotNil(t, reloaded.ReceiptNumber)
}

func TestMarkPaid(t *testing.T) {
	ts := newTestStack(t)
	ctx := context.Background()

	payment, _, err := ts.payments.Create(ctx, CreatePaymentInput{
		TenantID:    7,
		Amount:      decimal.RequireFromString("600.00"),
		PaymentType: models.PaymentTypeRent,
		Description: "check received by office",
	})
	require.NoError(t, err)

	completed, err := ts.reconciler.MarkPaid(ctx, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusCompleted, completed.Status)
	assert.Equal(t, models.PaymentGatewayManual, completed.Gateway)
	require.NotNil(t, completed.ReceiptNumber)

	// Repeated admin clicks are no-ops.
	again, err := ts.reconciler.MarkPaid(ctx, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, *completed.ReceiptNumber, *again.ReceiptNumber)
}

func TestMarkPaidRejectsFailedPayment(t *testing.T) {
	ts := newTestStack(t)
	ctx := context.Background()

	payment, _, err := ts.payments.Create(ctx, CreatePaymentInput{
		TenantID:    7,
		Amount:      decimal.RequireFromString("600.00"),
		PaymentType: models.PaymentTypeRent,
	})
	require.NoError(t, err)
	_, err = ts.payments.Cancel(ctx, payment.ID)
	require.NoError(t, err)

	_, err = ts.reconciler.MarkPaid(ctx, payment.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestRefundKeepsReceipt(t *testing.T) {
	ts := newTestStack(t)
	ctx := context.Background()

	ts.recordCharge(t, 7, "300.00", models.PaymentTypeDeposit)

	payment := ts.createPendingPayment(t, 7, "300.00", models.PaymentTypeDeposit, "deposit")
	ts.gateway.setResult(*mustRef(t, ts, payment.ID), &VerifyResult{Status: VerifySucceeded})
	_, err := ts.reconciler.ConfirmClientSide(ctx, payment.ID, nil)
	require.NoError(t, err)
	completed, err := ts.reconciler.ConfirmServerSide(ctx, payment.ID)
	require.NoError(t, err)

	refunded, err := ts.reconciler.Refund(ctx, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusRefunded, refunded.Status)
	assert.Equal(t, *completed.ReceiptNumber, *refunded.ReceiptNumber)

	var receipts int64
	require.NoError(t, ts.db.Model(&models.Receipt{}).Count(&receipts).Error)
	assert.EqualValues(t, 1, receipts)

	// Refunded payments leave the balance owed again.
	balance, err := ts.ledger.GetBalance(ctx, 7)
	require.NoError(t, err)
	assert.True(t, balance.CurrentBalance.Equal(decimal.RequireFromString("300.00")))

	// Refunding twice is a no-op.
	_, err = ts.reconciler.Refund(ctx, payment.ID)
	require.NoError(t, err)
}

func TestRefundRequiresCompleted(t *testing.T) {
	ts := newTestStack(t)
	ctx := context.Background()

	payment := ts.createPendingPayment(t, 7, "300.00", models.PaymentTypeDeposit, "deposit")
	_, err := ts.reconciler.Refund(ctx, payment.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestHandleWebhookCompletesPayment(t *testing.T) {
	ts := newTestStack(t)
	ctx := context.Background()

	payment := ts.createPendingPayment(t, 7, "450.00", models.PaymentTypeRent, "rent")
	ref := *mustRef(t, ts, payment.ID)
	ts.gateway.setResult(ref, &VerifyResult{Status: VerifySucceeded})
	ts.gateway.notice = &WebhookNotice{Reference: ref, Status: VerifySucceeded, RawType: "payment_intent.succeeded"}

	resolved, err := ts.reconciler.HandleWebhook(ctx, []byte(`{}`), "sig")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusCompleted, resolved.Status)

	var events int64
	require.NoError(t, ts.db.Model(&models.GatewayEvent{}).
		Where("event_type = ?", models.GatewayEventWebhookReceived).Count(&events).Error)
	assert.EqualValues(t, 1, events)
}

func TestHandleWebhookUnknownReference(t *testing.T) {
	ts := newTestStack(t)

	ts.gateway.notice = &WebhookNotice{Reference: "pi_unknown", Status: VerifySucceeded}
	_, err := ts.reconciler.HandleWebhook(context.Background(), []byte(`{}`), "sig")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestHandleWebhookRejectsBadSignature(t *testing.T) {
	ts := newTestStack(t)

	ts.gateway.webhookErr = assert.AnError
	_, err := ts.reconciler.HandleWebhook(context.Background(), []byte(`{}`), "bad")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func mustRef(t *testing.T, ts *testStack, paymentID uint) *string {
	t.Helper()
	payment, err := ts.payments.load(context.Background(), paymentID)
	require.NoError(t, err)
	require.NotNil(t, payment.GatewayReference)
	return payment.GatewayReference
}
