package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/toivyb/estatecore-backend-new-sub002/internal/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	require.NoError(t, AutoMigrate(db))
	return db
}

// fakeGateway scripts gateway behavior per reference so tests can drive
// the reconciler through every outcome without a network.
type fakeGateway struct {
	mu sync.Mutex

	createErr  error
	verifyErr  error
	webhookErr error

	results   map[string]*VerifyResult
	notice    *WebhookNotice
	intents   int
	cancelled []string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{results: make(map[string]*VerifyResult)}
}

func (g *fakeGateway) Name() models.PaymentGateway {
	return models.PaymentGatewayStripe
}

func (g *fakeGateway) CreateIntent(ctx context.Context, req CreateIntentRequest) (*GatewayIntent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.createErr != nil {
		return nil, g.createErr
	}
	g.intents++
	ref := fmt.Sprintf("pi_test_%d", req.PaymentID)
	return &GatewayIntent{Reference: ref, ClientSecret: ref + "_secret"}, nil
}

func (g *fakeGateway) Verify(ctx context.Context, reference string) (*VerifyResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.verifyErr != nil {
		return nil, g.verifyErr
	}
	if result, ok := g.results[reference]; ok {
		return result, nil
	}
	return &VerifyResult{Status: VerifyPending}, nil
}

func (g *fakeGateway) Cancel(ctx context.Context, reference string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancelled = append(g.cancelled, reference)
	return nil
}

func (g *fakeGateway) ParseWebhook(payload []byte, signature string) (*WebhookNotice, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.webhookErr != nil {
		return nil, g.webhookErr
	}
	return g.notice, nil
}

func (g *fakeGateway) setResult(reference string, result *VerifyResult) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.results[reference] = result
}

// testStack wires the full service graph onto an in-memory database with
// a scripted gateway and no cache.
type testStack struct {
	db         *gorm.DB
	gateway    *fakeGateway
	payments   *PaymentService
	reconciler *ReconcilerService
	ledger     *LedgerService
	receipts   *ReceiptService
	query      *PaymentQueryService
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()

	db := newTestDB(t)
	gateway := newFakeGateway()
	log := zap.NewNop()

	ledger := NewLedgerService(db, nil, log)
	receipts := NewReceiptService(db, NewEmailService(), log)
	return &testStack{
		db:         db,
		gateway:    gateway,
		payments:   NewPaymentService(db, nil, gateway, FeePolicy{Flat: decimal.Zero, Percent: decimal.Zero}, log),
		reconciler: NewReconcilerService(db, gateway, receipts, ledger, log),
		ledger:     ledger,
		receipts:   receipts,
		query:      NewPaymentQueryService(db),
	}
}

// createPendingPayment runs a payment through creation and intent request.
func (ts *testStack) createPendingPayment(t *testing.T, tenantID uint, amount string, paymentType models.PaymentType, description string) *models.Payment {
	t.Helper()

	ctx := context.Background()
	payment, duplicate, err := ts.payments.Create(ctx, CreatePaymentInput{
		TenantID:    tenantID,
		PropertyID:  1,
		Amount:      decimal.RequireFromString(amount),
		PaymentType: paymentType,
		Description: description,
	})
	require.NoError(t, err)
	require.False(t, duplicate)

	payment, _, err = ts.payments.RequestIntent(ctx, payment.ID)
	require.NoError(t, err)
	return payment
}

func mustDate(t *testing.T, date string) time.Time {
	t.Helper()
	d, err := time.Parse("2006-01-02", date)
	require.NoError(t, err)
	return d
}

func (ts *testStack) recordCharge(t *testing.T, tenantID uint, amount string, chargeType models.PaymentType) {
	t.Helper()
	require.NoError(t, ts.ledger.RecordCharge(context.Background(), &models.Charge{
		TenantID:   tenantID,
		PropertyID: 1,
		Amount:     decimal.RequireFromString(amount),
		ChargeType: chargeType,
	}))
}
