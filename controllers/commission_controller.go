package controllers

import (
	"net/http"
	"strings"

	"github.com/HSouheill/barrim_network/models"
	"github.com/HSouheill/barrim_network/services"
	"github.com/labstack/echo/v4"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type CommissionController struct {
	calculator *services.CommissionCalculator
}

func NewCommissionController(calculator *services.CommissionCalculator) *CommissionController {
	return &CommissionController{calculator: calculator}
}

// RunResiduals closes the period that contains periodEnd
func (cc *CommissionController) RunResiduals(c echo.Context) error {
	var req models.ResidualRunRequest
	if err := bindAndValidate(c, &req); err != nil {
		return badRequest(c, err)
	}

	ctx, cancel := requestContext(c, batchRequestTimeout)
	defer cancel()

	records, err := cc.calculator.ComputeMonthlyResiduals(ctx, req.PeriodEnd)
	if err != nil {
		return errorResponse(c, err, "Failed to compute residuals")
	}

	return c.JSON(http.StatusOK, models.Response{
		Status:  http.StatusOK,
		Message: "Residual commissions computed",
		Data: map[string]interface{}{
			"period":  services.PeriodFor(req.PeriodEnd),
			"created": len(records),
			"records": records,
		},
	})
}

// DirectBonus emits the one-time bonus for a referral; repeated calls return the same record
func (cc *CommissionController) DirectBonus(c echo.Context) error {
	var req models.DirectBonusRequest
	if err := bindAndValidate(c, &req); err != nil {
		return badRequest(c, err)
	}
	referrerID, err := primitive.ObjectIDFromHex(req.ReferrerID)
	if err != nil {
		return badRequest(c, err)
	}
	referredID, err := primitive.ObjectIDFromHex(req.ReferredID)
	if err != nil {
		return badRequest(c, err)
	}

	ctx, cancel := requestContext(c, requestTimeout)
	defer cancel()

	record, err := cc.calculator.ComputeDirectBonus(ctx, referrerID, referredID)
	if err != nil {
		return errorResponse(c, err, "Failed to compute direct bonus")
	}

	return c.JSON(http.StatusOK, models.Response{
		Status:  http.StatusOK,
		Message: "Direct bonus recorded",
		Data:    record,
	})
}

// ListCommissions filters by ?period=, ?type=, ?referrerId= and ?status= (comma separated)
func (cc *CommissionController) ListCommissions(c echo.Context) error {
	filter, err := commissionFilterFromQuery(c)
	if err != nil {
		return badRequest(c, err)
	}
	return cc.list(c, filter)
}

// ListMemberCommissions lists the commissions earned by the member in the path
func (cc *CommissionController) ListMemberCommissions(c echo.Context) error {
	id, err := objectIDParam(c, "id")
	if err != nil {
		return badRequest(c, err)
	}
	filter, err := commissionFilterFromQuery(c)
	if err != nil {
		return badRequest(c, err)
	}
	filter.ReferrerID = &id
	return cc.list(c, filter)
}

func (cc *CommissionController) list(c echo.Context, filter models.CommissionFilter) error {
	ctx, cancel := requestContext(c, requestTimeout)
	defer cancel()

	records, err := cc.calculator.ListCommissions(ctx, filter)
	if err != nil {
		return errorResponse(c, err, "Failed to list commissions")
	}

	var total int64
	for _, record := range records {
		total += record.Amount
	}
	return c.JSON(http.StatusOK, models.Response{
		Status:  http.StatusOK,
		Message: "Commissions retrieved successfully",
		Data: map[string]interface{}{
			"records":     records,
			"count":       len(records),
			"totalAmount": total,
		},
	})
}

func commissionFilterFromQuery(c echo.Context) (models.CommissionFilter, error) {
	filter := models.CommissionFilter{
		Period:         c.QueryParam("period"),
		CommissionType: models.CommissionType(c.QueryParam("type")),
	}
	if raw := c.QueryParam("referrerId"); raw != "" {
		id, err := primitive.ObjectIDFromHex(raw)
		if err != nil {
			return filter, err
		}
		filter.ReferrerID = &id
	}
	if raw := c.QueryParam("status"); raw != "" {
		for _, status := range strings.Split(raw, ",") {
			if status = strings.TrimSpace(status); status != "" {
				filter.Statuses = append(filter.Statuses, models.CommissionStatus(status))
			}
		}
	}
	return filter, nil
}
