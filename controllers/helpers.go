package controllers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/HSouheill/barrim_network/middleware"
	"github.com/HSouheill/barrim_network/models"
	"github.com/HSouheill/barrim_network/repositories"
	"github.com/HSouheill/barrim_network/services"
	"github.com/labstack/echo/v4"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const requestTimeout = 10 * time.Second

// batchRequestTimeout covers jobs that walk every member or record
const batchRequestTimeout = 10 * time.Minute

func requestContext(c echo.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request().Context(), timeout)
}

func objectIDParam(c echo.Context, name string) (primitive.ObjectID, error) {
	id, err := primitive.ObjectIDFromHex(c.Param(name))
	if err != nil {
		return primitive.NilObjectID, fmt.Errorf("invalid %s format", name)
	}
	return id, nil
}

func bindAndValidate(c echo.Context, req interface{}) error {
	if err := c.Bind(req); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	if err := c.Validate(req); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	return nil
}

func badRequest(c echo.Context, err error) error {
	return c.JSON(http.StatusBadRequest, models.Response{
		Status:  http.StatusBadRequest,
		Message: err.Error(),
	})
}

// errorStatus maps service and store errors to HTTP status codes
func errorStatus(err error) int {
	switch {
	case errors.Is(err, services.ErrMemberNotFound),
		errors.Is(err, services.ErrIntentNotFound),
		errors.Is(err, services.ErrCommissionNotFound),
		errors.Is(err, repositories.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrAlreadyPlaced),
		errors.Is(err, services.ErrRecordLocked),
		errors.Is(err, services.ErrAlreadySettled),
		errors.Is(err, services.ErrDepositAddressInUse),
		errors.Is(err, services.ErrDepositAddressFunded),
		errors.Is(err, services.ErrEmailTaken),
		errors.Is(err, services.ErrIntentClosed),
		errors.Is(err, repositories.ErrDuplicate),
		errors.Is(err, repositories.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, services.ErrCapacityExceeded),
		errors.Is(err, services.ErrRetryLimitReached),
		errors.Is(err, services.ErrReconciliationRequired),
		errors.Is(err, services.ErrDestinationMissing),
		errors.Is(err, services.ErrNotDirectReferral),
		errors.Is(err, services.ErrMemberInactive),
		errors.Is(err, services.ErrSponsorNotPlaced):
		return http.StatusUnprocessableEntity
	case errors.Is(err, services.ErrJustificationRequired),
		errors.Is(err, services.ErrInvalidIntentType),
		errors.Is(err, services.ErrUnknownReferralCode),
		errors.Is(err, services.ErrInvalidStructure),
		errors.Is(err, services.ErrSelfSponsor):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrTransferFailed),
		errors.Is(err, services.ErrTransferAmbiguous):
		return http.StatusBadGateway
	case errors.Is(err, services.ErrTransferLogUnavailable),
		errors.Is(err, services.ErrChainObserverUnavailable),
		errors.Is(err, services.ErrAddressIssuerUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func errorResponse(c echo.Context, err error, message string) error {
	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		c.Logger().Errorf("%s: %v", message, err)
		return c.JSON(status, models.Response{Status: status, Message: message})
	}
	return c.JSON(status, models.Response{Status: status, Message: message, Data: err.Error()})
}

// canAccessMember reports whether the caller is the member or an operator
func canAccessMember(c echo.Context, memberID primitive.ObjectID) bool {
	return middleware.ExtractRole(c) == middleware.RoleAdmin || middleware.ExtractMemberID(c) == memberID.Hex()
}

func forbidden(c echo.Context) error {
	return c.JSON(http.StatusForbidden, models.Response{
		Status:  http.StatusForbidden,
		Message: "Access denied: not your account",
	})
}
