package controllers

import (
	"net/http"
	"strconv"

	"github.com/HSouheill/barrim_network/middleware"
	"github.com/HSouheill/barrim_network/models"
	"github.com/HSouheill/barrim_network/services"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

type NetworkController struct {
	members       *services.MemberService
	activation    *services.ActivationService
	qualification *services.QualificationEngine
	logger        *zap.Logger
}

func NewNetworkController(members *services.MemberService, activation *services.ActivationService, qualification *services.QualificationEngine, logger *zap.Logger) *NetworkController {
	return &NetworkController{
		members:       members,
		activation:    activation,
		qualification: qualification,
		logger:        logger,
	}
}

// Register signs up a member, optionally under the sponsor owning the referral code
func (nc *NetworkController) Register(c echo.Context) error {
	var req models.RegisterMemberRequest
	if err := bindAndValidate(c, &req); err != nil {
		return badRequest(c, err)
	}

	ctx, cancel := requestContext(c, requestTimeout)
	defer cancel()

	member, err := nc.members.Register(ctx, req)
	if err != nil {
		return errorResponse(c, err, "Failed to register member")
	}

	return c.JSON(http.StatusCreated, models.Response{
		Status:  http.StatusCreated,
		Message: "Member registered successfully",
		Data:    member,
	})
}

// GetMember returns a member profile with its qualification counters
func (nc *NetworkController) GetMember(c echo.Context) error {
	id, err := objectIDParam(c, "id")
	if err != nil {
		return badRequest(c, err)
	}

	ctx, cancel := requestContext(c, requestTimeout)
	defer cancel()

	member, err := nc.members.GetMember(ctx, id)
	if err != nil {
		return errorResponse(c, err, "Failed to get member")
	}

	return c.JSON(http.StatusOK, models.Response{
		Status:  http.StatusOK,
		Message: "Member retrieved successfully",
		Data:    member,
	})
}

func (nc *NetworkController) UpdatePayoutDestination(c echo.Context) error {
	id, err := objectIDParam(c, "id")
	if err != nil {
		return badRequest(c, err)
	}
	var req models.UpdatePayoutDestinationRequest
	if err := bindAndValidate(c, &req); err != nil {
		return badRequest(c, err)
	}

	ctx, cancel := requestContext(c, requestTimeout)
	defer cancel()

	member, err := nc.members.UpdatePayoutDestination(ctx, id, req.PayoutDestination)
	if err != nil {
		return errorResponse(c, err, "Failed to update payout destination")
	}

	return c.JSON(http.StatusOK, models.Response{
		Status:  http.StatusOK,
		Message: "Payout destination updated",
		Data:    member,
	})
}

// GetUpline lists the ancestors of the member's seat, nearest first
func (nc *NetworkController) GetUpline(c echo.Context) error {
	id, err := objectIDParam(c, "id")
	if err != nil {
		return badRequest(c, err)
	}

	ctx, cancel := requestContext(c, requestTimeout)
	defer cancel()

	upline, err := nc.members.Upline(ctx, id)
	if err != nil {
		return errorResponse(c, err, "Failed to get upline")
	}

	return c.JSON(http.StatusOK, models.Response{
		Status:  http.StatusOK,
		Message: "Upline retrieved successfully",
		Data:    upline,
	})
}

// GetDownline counts the member's structure per level; ?structure= selects the tier
func (nc *NetworkController) GetDownline(c echo.Context) error {
	id, err := objectIDParam(c, "id")
	if err != nil {
		return badRequest(c, err)
	}

	structure := 1
	if raw := c.QueryParam("structure"); raw != "" {
		structure, err = strconv.Atoi(raw)
		if err != nil {
			return badRequest(c, services.ErrInvalidStructure)
		}
	}

	ctx, cancel := requestContext(c, requestTimeout)
	defer cancel()

	levels, err := nc.members.Downline(ctx, id, structure)
	if err != nil {
		return errorResponse(c, err, "Failed to get downline")
	}

	return c.JSON(http.StatusOK, models.Response{
		Status:  http.StatusOK,
		Message: "Downline retrieved successfully",
		Data: map[string]interface{}{
			"structureNumber": structure,
			"levels":          levels,
		},
	})
}

// Activate places and activates a member after an out-of-band payment
func (nc *NetworkController) Activate(c echo.Context) error {
	id, err := objectIDParam(c, "id")
	if err != nil {
		return badRequest(c, err)
	}

	ctx, cancel := requestContext(c, requestTimeout)
	defer cancel()

	member, err := nc.activation.ActivateMember(ctx, id)
	if err != nil {
		return errorResponse(c, err, "Failed to activate member")
	}

	nc.logger.Info("member activated by operator",
		zap.String("member_id", id.Hex()),
		zap.String("operator", middleware.ActorName(c)),
	)
	return c.JSON(http.StatusOK, models.Response{
		Status:  http.StatusOK,
		Message: "Member activated",
		Data:    member,
	})
}

func (nc *NetworkController) Deactivate(c echo.Context) error {
	id, err := objectIDParam(c, "id")
	if err != nil {
		return badRequest(c, err)
	}

	ctx, cancel := requestContext(c, requestTimeout)
	defer cancel()

	member, err := nc.activation.DeactivateMember(ctx, id)
	if err != nil {
		return errorResponse(c, err, "Failed to deactivate member")
	}

	nc.logger.Info("member deactivated by operator",
		zap.String("member_id", id.Hex()),
		zap.String("operator", middleware.ActorName(c)),
	)
	return c.JSON(http.StatusOK, models.Response{
		Status:  http.StatusOK,
		Message: "Member deactivated",
		Data:    member,
	})
}

// Recalculate refreshes one member's referral count and unlocked structures
func (nc *NetworkController) Recalculate(c echo.Context) error {
	id, err := objectIDParam(c, "id")
	if err != nil {
		return badRequest(c, err)
	}

	ctx, cancel := requestContext(c, requestTimeout)
	defer cancel()

	member, err := nc.qualification.Recalculate(ctx, id)
	if err != nil {
		return errorResponse(c, err, "Failed to recalculate qualification")
	}

	return c.JSON(http.StatusOK, models.Response{
		Status:  http.StatusOK,
		Message: "Qualification recalculated",
		Data:    member,
	})
}

func (nc *NetworkController) SweepQualification(c echo.Context) error {
	ctx, cancel := requestContext(c, batchRequestTimeout)
	defer cancel()

	report, err := nc.qualification.Sweep(ctx)
	if err != nil {
		return errorResponse(c, err, "Failed to sweep qualification")
	}

	return c.JSON(http.StatusOK, models.Response{
		Status:  http.StatusOK,
		Message: "Qualification sweep finished",
		Data:    report,
	})
}
