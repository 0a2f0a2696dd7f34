package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/toivyb/estatecore-backend-new-sub002/internal/models"
	"github.com/toivyb/estatecore-backend-new-sub002/internal/services"
)

type PaymentHandler struct {
	payments   *services.PaymentService
	reconciler *services.ReconcilerService
	receipts   *services.ReceiptService
	ledger     *services.LedgerService
	query      *services.PaymentQueryService
	logger     *zap.Logger
}

func NewPaymentHandler(
	payments *services.PaymentService,
	reconciler *services.ReconcilerService,
	receipts *services.ReceiptService,
	ledger *services.LedgerService,
	query *services.PaymentQueryService,
	logger *zap.Logger,
) *PaymentHandler {
	return &PaymentHandler{
		payments:   payments,
		reconciler: reconciler,
		receipts:   receipts,
		ledger:     ledger,
		query:      query,
		logger:     logger,
	}
}

// CreatePaymentIntent creates a payment and requests a gateway intent in
// one call. Duplicate submissions inside the dedup window return the
// existing payment (and its original client secret) instead of charging
// twice.
func (h *PaymentHandler) CreatePaymentIntent(c echo.Context) error {
	var req CreatePaymentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	if req.TenantID == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "tenant_id is required")
	}

	ctx := c.Request().Context()

	payment, duplicate, err := h.payments.Create(ctx, services.CreatePaymentInput{
		TenantID:      req.TenantID,
		PropertyID:    req.PropertyID,
		Amount:        req.Amount,
		PaymentType:   req.PaymentType,
		PaymentMethod: req.PaymentMethod,
		Description:   req.Description,
	})
	if err != nil {
		return err
	}

	if duplicate {
		secret, serr := h.payments.IntentSecret(ctx, payment.ID)
		if serr != nil {
			h.logger.Warn("could not recover intent secret for duplicate",
				zap.Uint("payment_id", payment.ID), zap.Error(serr))
		}
		return c.JSON(http.StatusOK, CreatePaymentResponse{
			Payment:      payment,
			ClientSecret: secret,
			Duplicate:    true,
		})
	}

	payment, secret, err := h.payments.RequestIntent(ctx, payment.ID)
	if errors.Is(err, services.ErrGatewayUnavailable) {
		// The attempt is recorded as failed; the caller retries with a
		// fresh payment.
		return c.JSON(http.StatusBadGateway, echo.Map{
			"error":   "payment gateway unavailable",
			"payment": payment,
		})
	}
	if err != nil {
		return err
	}

	return c.JSON(http.StatusCreated, CreatePaymentResponse{
		Payment:      payment,
		ClientSecret: secret,
	})
}

// ConfirmPayment records the client-observed result and immediately runs
// the authoritative server-side verification. The response reflects
// where verification landed: completed, failed, or still pending.
func (h *PaymentHandler) ConfirmPayment(c echo.Context) error {
	id, err := paymentID(c)
	if err != nil {
		return err
	}

	var req ConfirmPaymentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	var clientResult json.RawMessage
	if req.GatewayResult != nil {
		clientResult, _ = json.Marshal(req.GatewayResult)
	}

	ctx := c.Request().Context()

	if _, err := h.reconciler.ConfirmClientSide(ctx, id, clientResult); err != nil {
		return err
	}

	payment, err := h.reconciler.ConfirmServerSide(ctx, id)
	switch {
	case errors.Is(err, services.ErrGatewayDeclined):
		return c.JSON(http.StatusPaymentRequired, echo.Map{
			"error":   "payment declined by gateway",
			"payment": payment,
		})
	case errors.Is(err, services.ErrVerificationTimeout):
		return c.JSON(http.StatusGatewayTimeout, echo.Map{
			"error":   "gateway verification timed out",
			"payment": payment,
		})
	case errors.Is(err, services.ErrGatewayUnavailable):
		// Verification will be retried by the reconciliation sweep; the
		// client-side confirmation is already recorded.
		return c.JSON(http.StatusAccepted, PaymentResponse{Payment: payment})
	case err != nil:
		return err
	}

	return c.JSON(http.StatusOK, PaymentResponse{Payment: payment})
}

// CancelPayment explicitly abandons a created or intent_pending payment.
func (h *PaymentHandler) CancelPayment(c echo.Context) error {
	id, err := paymentID(c)
	if err != nil {
		return err
	}

	payment, err := h.payments.Cancel(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, PaymentResponse{Payment: payment})
}

// RefundPayment moves a completed payment to refunded (admin).
func (h *PaymentHandler) RefundPayment(c echo.Context) error {
	id, err := paymentID(c)
	if err != nil {
		return err
	}

	payment, err := h.reconciler.Refund(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, PaymentResponse{Payment: payment})
}

// MarkPaid is the admin override: completes a payment without gateway
// verification, still issuing a receipt and marking it as manual.
func (h *PaymentHandler) MarkPaid(c echo.Context) error {
	id, err := paymentID(c)
	if err != nil {
		return err
	}

	payment, err := h.reconciler.MarkPaid(c.Request().Context(), id)
	if err != nil {
		return err
	}

	h.logger.Info("payment manually marked paid",
		zap.Uint("payment_id", payment.ID),
		zap.String("remote_ip", c.RealIP()))

	return c.JSON(http.StatusOK, PaymentResponse{Payment: payment})
}

// Webhook receives gateway notifications. Signature failures are
// rejected; notifications for references this system never issued are
// acknowledged and ignored so the gateway stops retrying them.
func (h *PaymentHandler) Webhook(c echo.Context) error {
	payload, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Error reading request body")
	}
	signature := c.Request().Header.Get("Stripe-Signature")

	payment, err := h.reconciler.HandleWebhook(c.Request().Context(), payload, signature)
	switch {
	case errors.Is(err, services.ErrNotFound):
		return c.JSON(http.StatusOK, echo.Map{"status": "ignored"})
	case errors.Is(err, services.ErrGatewayDeclined),
		errors.Is(err, services.ErrVerificationTimeout):
		// The failure is recorded on the payment; the webhook itself is
		// handled.
		return c.JSON(http.StatusOK, PaymentResponse{Payment: payment})
	case err != nil:
		h.logger.Error("webhook processing failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "Webhook rejected")
	}

	return c.JSON(http.StatusOK, PaymentResponse{Payment: payment})
}

// GetPayment returns one payment with its receipt, if issued.
func (h *PaymentHandler) GetPayment(c echo.Context) error {
	id, err := paymentID(c)
	if err != nil {
		return err
	}

	payment, err := h.query.Get(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, PaymentResponse{Payment: payment})
}

// ListPayments serves filtered, paginated payment history.
func (h *PaymentHandler) ListPayments(c echo.Context) error {
	filter := services.PaymentFilter{}

	if raw := c.QueryParam("tenant_id"); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "Invalid tenant_id")
		}
		id := uint(v)
		filter.TenantID = &id
	}
	if raw := c.QueryParam("status"); raw != "" {
		status := models.PaymentStatus(raw)
		filter.Status = &status
	}
	if raw := c.QueryParam("payment_type"); raw != "" {
		pt := models.PaymentType(raw)
		filter.PaymentType = &pt
	}
	if raw := c.QueryParam("start_date"); raw != "" {
		t, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "Invalid start_date, want YYYY-MM-DD")
		}
		filter.StartDate = &t
	}
	if raw := c.QueryParam("end_date"); raw != "" {
		t, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "Invalid end_date, want YYYY-MM-DD")
		}
		end := t.Add(24*time.Hour - time.Nanosecond)
		filter.EndDate = &end
	}
	if raw := c.QueryParam("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			filter.Limit = v
		}
	}
	if raw := c.QueryParam("offset"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			filter.Offset = v
		}
	}

	payments, total, err := h.query.List(c.Request().Context(), filter)
	if err != nil {
		return err
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	return c.JSON(http.StatusOK, ListPaymentsResponse{
		Payments:   payments,
		TotalCount: total,
		Limit:      limit,
		Offset:     filter.Offset,
	})
}

// GetBalance returns the derived balance for a tenant.
func (h *PaymentHandler) GetBalance(c echo.Context) error {
	raw := c.Param("id")
	v, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid tenant ID")
	}

	balance, err := h.ledger.GetBalance(c.Request().Context(), uint(v))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, balance)
}

// GetReceipt returns receipt data for a completed payment.
func (h *PaymentHandler) GetReceipt(c echo.Context) error {
	id, err := paymentID(c)
	if err != nil {
		return err
	}

	receipt, payment, err := h.receipts.Get(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ReceiptResponse{Receipt: receipt, Payment: payment})
}

// GetReceiptPDF streams the printable receipt.
func (h *PaymentHandler) GetReceiptPDF(c echo.Context) error {
	id, err := paymentID(c)
	if err != nil {
		return err
	}

	data, err := h.receipts.RenderPDF(c.Request().Context(), id)
	if err != nil {
		return err
	}

	c.Response().Header().Set(echo.HeaderContentDisposition,
		fmt.Sprintf("attachment; filename=\"receipt-%d.pdf\"", id))
	return c.Blob(http.StatusOK, "application/pdf", data)
}

// EmailReceipt sends the receipt to the given address.
func (h *PaymentHandler) EmailReceipt(c echo.Context) error {
	id, err := paymentID(c)
	if err != nil {
		return err
	}

	var req EmailReceiptRequest
	if err := c.Bind(&req); err != nil || req.To == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Recipient address is required")
	}

	if err := h.receipts.EmailReceipt(c.Request().Context(), id, req.To); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"status": "sent"})
}

func paymentID(c echo.Context) (uint, error) {
	v, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "Invalid payment ID")
	}
	return uint(v), nil
}
