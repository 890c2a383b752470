package controllers

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image/png"
	"net/http"
	"strings"
	"time"

	"github.com/HSouheill/barrim_network/middleware"
	"github.com/HSouheill/barrim_network/models"
	"github.com/HSouheill/barrim_network/services"
	"github.com/HSouheill/barrim_network/utils"
	"github.com/boombuler/barcode"
	"github.com/boombuler/barcode/qr"
	"github.com/labstack/echo/v4"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type PaymentIntentController struct {
	monitor *services.ReconciliationMonitor
}

func NewPaymentIntentController(monitor *services.ReconciliationMonitor) *PaymentIntentController {
	return &PaymentIntentController{monitor: monitor}
}

// CreateIntent opens a crypto payment for the member in the body
func (pc *PaymentIntentController) CreateIntent(c echo.Context) error {
	var req models.CreatePaymentIntentRequest
	if err := bindAndValidate(c, &req); err != nil {
		return badRequest(c, err)
	}
	memberID, err := primitive.ObjectIDFromHex(req.MemberID)
	if err != nil {
		return badRequest(c, fmt.Errorf("invalid memberId format"))
	}
	if !canAccessMember(c, memberID) {
		return forbidden(c)
	}
	overrides := services.IntentOverrides{
		DepositAddress: strings.TrimSpace(req.DepositAddress),
		ExpectedAmount: req.ExpectedAmount,
	}
	if (overrides.DepositAddress != "" || overrides.ExpectedAmount != 0) && middleware.ExtractRole(c) != middleware.RoleAdmin {
		return c.JSON(http.StatusForbidden, models.Response{
			Status:  http.StatusForbidden,
			Message: "Only operators may set the deposit address or amount",
		})
	}

	ctx, cancel := requestContext(c, requestTimeout)
	defer cancel()

	intent, err := pc.monitor.CreateIntent(ctx, memberID, models.IntentType(req.IntentType), overrides)
	if err != nil {
		return errorResponse(c, err, "Failed to create payment intent")
	}

	return c.JSON(http.StatusCreated, models.Response{
		Status:  http.StatusCreated,
		Message: "Payment intent created",
		Data:    intent,
	})
}

func (pc *PaymentIntentController) GetIntent(c echo.Context) error {
	intent, err := pc.loadOwnedIntent(c)
	if err != nil || intent == nil {
		return err
	}
	return c.JSON(http.StatusOK, models.Response{
		Status:  http.StatusOK,
		Message: "Payment intent retrieved successfully",
		Data:    intent,
	})
}

// CheckStatus reads the chain and advances the intent
func (pc *PaymentIntentController) CheckStatus(c echo.Context) error {
	intent, err := pc.loadOwnedIntent(c)
	if err != nil || intent == nil {
		return err
	}

	ctx, cancel := requestContext(c, requestTimeout)
	defer cancel()

	updated, err := pc.monitor.CheckStatus(ctx, intent.ID)
	if err != nil {
		return errorResponse(c, err, "Failed to check payment status")
	}

	return c.JSON(http.StatusOK, models.Response{
		Status:  http.StatusOK,
		Message: "Payment status checked",
		Data:    updated,
	})
}

// GetQRCode returns a PNG data URI encoding the deposit address and the amount due
func (pc *PaymentIntentController) GetQRCode(c echo.Context) error {
	intent, err := pc.loadOwnedIntent(c)
	if err != nil || intent == nil {
		return err
	}

	qrCode, err := generateDepositQRCode(intent)
	if err != nil {
		c.Logger().Errorf("Error generating QR code: %v", err)
		return c.JSON(http.StatusInternalServerError, models.Response{
			Status:  http.StatusInternalServerError,
			Message: "Failed to generate QR code",
		})
	}

	return c.JSON(http.StatusOK, models.Response{
		Status:  http.StatusOK,
		Message: "QR code generated successfully",
		Data: map[string]interface{}{
			"depositAddress": intent.DepositAddress,
			"amount":         utils.FormatMinorUnits(amountDue(intent), intent.Currency),
			"qrCode":         qrCode,
		},
	})
}

// SweepExpired finalises intents past their late-payment window
func (pc *PaymentIntentController) SweepExpired(c echo.Context) error {
	ctx, cancel := requestContext(c, batchRequestTimeout)
	defer cancel()

	report, err := pc.monitor.SweepExpired(ctx, time.Now())
	if err != nil {
		return errorResponse(c, err, "Failed to sweep payment intents")
	}

	return c.JSON(http.StatusOK, models.Response{
		Status:  http.StatusOK,
		Message: "Expired payment intents swept",
		Data:    report,
	})
}

// loadOwnedIntent writes the error response itself and returns a nil intent in that case
func (pc *PaymentIntentController) loadOwnedIntent(c echo.Context) (*models.PaymentIntent, error) {
	id, err := objectIDParam(c, "id")
	if err != nil {
		return nil, badRequest(c, err)
	}

	ctx, cancel := requestContext(c, requestTimeout)
	defer cancel()

	intent, err := pc.monitor.GetIntent(ctx, id)
	if err != nil {
		return nil, errorResponse(c, err, "Failed to get payment intent")
	}
	if !canAccessMember(c, intent.MemberID) {
		return nil, forbidden(c)
	}
	return intent, nil
}

func generateDepositQRCode(intent *models.PaymentIntent) (string, error) {
	content := fmt.Sprintf("%s?amount=%s&currency=%s",
		intent.DepositAddress,
		utils.MinorUnitsToDecimal(amountDue(intent), intent.Currency).String(),
		intent.Currency,
	)

	qrCode, err := qr.Encode(content, qr.M, qr.Auto)
	if err != nil {
		return "", err
	}
	qrCode, err = barcode.Scale(qrCode, 300, 300)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, qrCode); err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func amountDue(intent *models.PaymentIntent) int64 {
	if due := intent.ExpectedAmount - intent.ReceivedAmount; due > 0 {
		return due
	}
	return 0
}
