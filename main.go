package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echoMiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/HSouheill/barrim_network/bootstrap"
	"github.com/HSouheill/barrim_network/config"
	"github.com/HSouheill/barrim_network/controllers"
	"github.com/HSouheill/barrim_network/logging"
	"github.com/HSouheill/barrim_network/middleware"
	"github.com/HSouheill/barrim_network/routes"
)

// CustomValidator is a custom validator for Echo
type CustomValidator struct {
	validator *validator.Validate
}

// Validate validates the request body
func (cv *CustomValidator) Validate(i interface{}) error {
	return cv.validator.Struct(i)
}

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found")
	}

	runtime := config.LoadRuntimeConfig()
	policy := config.LoadNetworkPolicy()

	if err := logging.InitLogger(!runtime.IsDevelopment()); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logging.Sync()
	logger := logging.Logger

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	container, err := bootstrap.New(ctx, runtime, policy, logger)
	if err != nil {
		logger.Fatal("failed to start network services", zap.Error(err))
	}
	defer container.Close(context.Background())

	// WebSocket hub
	go container.Hub.Run(ctx)

	if runtime.SchedulerEnabled {
		scheduler := container.Scheduler()
		if err := scheduler.Start(ctx); err != nil {
			logger.Fatal("failed to start scheduler", zap.Error(err))
		}
		defer scheduler.Stop()
	}

	e := echo.New()
	e.HideBanner = true
	e.Validator = &CustomValidator{validator: validator.New()}

	rateLimiter := middleware.NewRateLimiter()
	rateLimiter.StartCleanup(time.Minute, ctx.Done())

	e.Use(echoMiddleware.Logger())
	e.Use(echoMiddleware.Recover())
	e.Use(middleware.GlobalCORS(runtime.CORSOrigins))
	e.Use(middleware.SecurityHeaders(!runtime.IsDevelopment()))
	e.Use(middleware.Metrics())
	e.Use(rateLimiter.RateLimit())
	e.Use(httpsRedirect())

	e.Match([]string{"GET", "HEAD"}, "/", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "OK",
			"message": "Barrim Network is running",
			"version": "1.0",
		})
	})
	e.Match([]string{"GET", "HEAD"}, "/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status": "healthy",
			"store":  runtime.StoreBackend,
		})
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	jwt := middleware.JWTMiddleware(runtime.JWTSecret, logger)
	routes.RegisterNetworkRoutes(e, routes.Controllers{
		Network:        controllers.NewNetworkController(container.Members, container.Activation, container.Qualification, logger),
		Commissions:    controllers.NewCommissionController(container.Commissions),
		Payouts:        controllers.NewPayoutController(container.Payouts, runtime.StaleProcessing),
		PaymentIntents: controllers.NewPaymentIntentController(container.Reconciliation),
	}, jwt)
	routes.RegisterWebSocketRoutes(e, container.Hub, jwt)

	go func() {
		if err := e.Start(":" + runtime.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server stopped", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func httpsRedirect() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if c.Request().Header.Get("X-Forwarded-Proto") == "http" {
				return c.Redirect(http.StatusMovedPermanently, "https://"+c.Request().Host+c.Request().RequestURI)
			}
			return next(c)
		}
	}
}
