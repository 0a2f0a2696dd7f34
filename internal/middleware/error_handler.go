package middleware

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/toivyb/estatecore-backend-new-sub002/internal/services"
)

// ErrorHandler maps service errors to HTTP responses so handlers can
// return them directly.
func ErrorHandler(logger *zap.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status := http.StatusInternalServerError
		message := "Internal server error"

		var httpErr *echo.HTTPError
		switch {
		case errors.As(err, &httpErr):
			status = httpErr.Code
			if msg, ok := httpErr.Message.(string); ok {
				message = msg
			} else {
				message = http.StatusText(status)
			}
		case errors.Is(err, services.ErrInvalidAmount):
			status, message = http.StatusBadRequest, "Amount must be greater than zero"
		case errors.Is(err, services.ErrInvalidPaymentType):
			status, message = http.StatusBadRequest, "Unknown payment type"
		case errors.Is(err, services.ErrNotFound):
			status, message = http.StatusNotFound, "Not found"
		case errors.Is(err, services.ErrNoReceipt):
			status, message = http.StatusNotFound, "No receipt issued for this payment"
		case errors.Is(err, services.ErrNotCancelable):
			status, message = http.StatusConflict, "Payment can no longer be cancelled"
		case errors.Is(err, services.ErrInvalidTransition):
			status, message = http.StatusConflict, "Payment is not in a state that allows this operation"
		case errors.Is(err, services.ErrGatewayDeclined):
			status, message = http.StatusPaymentRequired, "Payment declined by gateway"
		case errors.Is(err, services.ErrGatewayUnavailable):
			status, message = http.StatusBadGateway, "Payment gateway unavailable"
		case errors.Is(err, services.ErrVerificationTimeout):
			status, message = http.StatusGatewayTimeout, "Gateway verification timed out"
		}

		if status >= http.StatusInternalServerError {
			logger.Error("request failed",
				zap.String("method", c.Request().Method),
				zap.String("path", c.Path()),
				zap.Error(err))
		}

		if jsonErr := c.JSON(status, echo.Map{"error": message}); jsonErr != nil {
			logger.Error("failed to write error response", zap.Error(jsonErr))
		}
	}
}
