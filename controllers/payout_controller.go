package controllers

import (
	"errors"
	"net/http"
	"time"

	"github.com/HSouheill/barrim_network/middleware"
	"github.com/HSouheill/barrim_network/models"
	"github.com/HSouheill/barrim_network/services"
	"github.com/labstack/echo/v4"
)

type PayoutController struct {
	processor  *services.PayoutProcessor
	staleAfter time.Duration
}

func NewPayoutController(processor *services.PayoutProcessor, staleAfter time.Duration) *PayoutController {
	return &PayoutController{processor: processor, staleAfter: staleAfter}
}

// Preflight compares the provider balance with what the period still owes
func (pc *PayoutController) Preflight(c echo.Context) error {
	filter, err := commissionFilterFromQuery(c)
	if err != nil {
		return badRequest(c, err)
	}
	if filter.Period == "" {
		return badRequest(c, errors.New("period is required"))
	}

	ctx, cancel := requestContext(c, requestTimeout)
	defer cancel()

	check, err := pc.processor.PreflightBalance(ctx, filter)
	if err != nil {
		return errorResponse(c, err, "Failed to check payout balance")
	}

	return c.JSON(http.StatusOK, models.Response{
		Status:  http.StatusOK,
		Message: "Balance checked",
		Data:    check,
	})
}

// ProcessBulk settles every open record of a period. Item failures are reported, not returned.
func (pc *PayoutController) ProcessBulk(c echo.Context) error {
	var req models.PayoutBatchRequest
	if err := bindAndValidate(c, &req); err != nil {
		return badRequest(c, err)
	}

	ctx, cancel := requestContext(c, batchRequestTimeout)
	defer cancel()

	report, err := pc.processor.ProcessBulk(ctx, models.CommissionFilter{
		Period:         req.Period,
		CommissionType: models.CommissionType(req.CommissionType),
	})
	if err != nil {
		return errorResponse(c, err, "Failed to process payouts")
	}

	return c.JSON(http.StatusOK, models.Response{
		Status:  http.StatusOK,
		Message: "Payout batch finished",
		Data:    report,
	})
}

func (pc *PayoutController) ProcessSingle(c echo.Context) error {
	id, err := objectIDParam(c, "id")
	if err != nil {
		return badRequest(c, err)
	}

	// The transfer itself is bounded by the processor's timeout
	ctx, cancel := requestContext(c, 2*time.Minute)
	defer cancel()

	record, err := pc.processor.ProcessSingle(ctx, id)
	if err != nil {
		status := errorStatus(err)
		return c.JSON(status, models.Response{
			Status:  status,
			Message: "Payout not completed",
			Data: map[string]interface{}{
				"error":  err.Error(),
				"record": record,
			},
		})
	}

	return c.JSON(http.StatusOK, models.Response{
		Status:  http.StatusOK,
		Message: "Payout completed",
		Data:    record,
	})
}

// MarkManuallyCompleted records a payment made outside the provider
func (pc *PayoutController) MarkManuallyCompleted(c echo.Context) error {
	id, err := objectIDParam(c, "id")
	if err != nil {
		return badRequest(c, err)
	}
	var req models.ManualCompletionRequest
	if err := bindAndValidate(c, &req); err != nil {
		return badRequest(c, err)
	}

	ctx, cancel := requestContext(c, requestTimeout)
	defer cancel()

	record, err := pc.processor.MarkManuallyCompleted(ctx, id, req.Note, middleware.ActorName(c))
	if err != nil {
		return errorResponse(c, err, "Failed to complete payout")
	}

	return c.JSON(http.StatusOK, models.Response{
		Status:  http.StatusOK,
		Message: "Payout marked as completed",
		Data:    record,
	})
}

// Reconcile resolves a record whose transfer outcome was unknown
func (pc *PayoutController) Reconcile(c echo.Context) error {
	id, err := objectIDParam(c, "id")
	if err != nil {
		return badRequest(c, err)
	}

	ctx, cancel := requestContext(c, requestTimeout)
	defer cancel()

	record, err := pc.processor.ReconcileTransfer(ctx, id)
	if err != nil {
		return errorResponse(c, err, "Failed to reconcile payout")
	}

	return c.JSON(http.StatusOK, models.Response{
		Status:  http.StatusOK,
		Message: "Payout reconciled",
		Data:    record,
	})
}

// ReconcileStale resolves records stuck in processing; ?olderThan= takes a Go duration
func (pc *PayoutController) ReconcileStale(c echo.Context) error {
	olderThan := pc.staleAfter
	if raw := c.QueryParam("olderThan"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return badRequest(c, err)
		}
		olderThan = d
	}

	ctx, cancel := requestContext(c, batchRequestTimeout)
	defer cancel()

	report, err := pc.processor.ReconcileStale(ctx, olderThan)
	if err != nil {
		return errorResponse(c, err, "Failed to reconcile stale payouts")
	}

	return c.JSON(http.StatusOK, models.Response{
		Status:  http.StatusOK,
		Message: "Stale payouts reconciled",
		Data:    report,
	})
}
