package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/toivyb/estatecore-backend-new-sub002/internal/models"
	"github.com/toivyb/estatecore-backend-new-sub002/internal/services"
)

type ChargeHandler struct {
	ledger *services.LedgerService
	logger *zap.Logger
}

func NewChargeHandler(ledger *services.LedgerService, logger *zap.Logger) *ChargeHandler {
	return &ChargeHandler{ledger: ledger, logger: logger}
}

// CreateCharge records an amount owed on a tenant's schedule (admin).
func (h *ChargeHandler) CreateCharge(c echo.Context) error {
	var req CreateChargeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	if req.TenantID == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "tenant_id is required")
	}

	dueDate := time.Now()
	if req.DueDate != "" {
		t, err := time.Parse("2006-01-02", req.DueDate)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "Invalid due_date, want YYYY-MM-DD")
		}
		dueDate = t
	}

	charge := &models.Charge{
		TenantID:    req.TenantID,
		PropertyID:  req.PropertyID,
		Amount:      req.Amount,
		ChargeType:  req.ChargeType,
		Description: req.Description,
		DueDate:     dueDate,
	}
	if err := h.ledger.RecordCharge(c.Request().Context(), charge); err != nil {
		return err
	}

	h.logger.Info("charge recorded",
		zap.Uint("tenant_id", charge.TenantID),
		zap.String("amount", charge.Amount.StringFixed(2)))

	return c.JSON(http.StatusCreated, charge)
}

// ListCharges returns a tenant's charge schedule.
func (h *ChargeHandler) ListCharges(c echo.Context) error {
	v, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid tenant ID")
	}

	charges, err := h.ledger.ListCharges(c.Request().Context(), uint(v))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"charges": charges})
}
