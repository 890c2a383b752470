// Package bootstrap wires the stores, providers and services shared by the API
// server and the operator CLI.
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"github.com/HSouheill/barrim_network/config"
	"github.com/HSouheill/barrim_network/jobs"
	"github.com/HSouheill/barrim_network/repositories"
	"github.com/HSouheill/barrim_network/services"
	"github.com/HSouheill/barrim_network/utils"
	"github.com/HSouheill/barrim_network/websocket"
)

// Container holds every long-lived component of the process
type Container struct {
	Runtime config.RuntimeConfig
	Policy  config.NetworkPolicy
	Store   repositories.Store

	Members        *services.MemberService
	Tree           *services.NetworkTree
	Qualification  *services.QualificationEngine
	Commissions    *services.CommissionCalculator
	Payouts        *services.PayoutProcessor
	Reconciliation *services.ReconciliationMonitor
	Activation     *services.ActivationService

	Hub      *websocket.Hub
	Notifier *utils.Notifier

	mongoClient *mongo.Client
	redisClient *redis.Client
	logger      *zap.Logger
}

// New connects the configured backends and builds the services
func New(ctx context.Context, runtime config.RuntimeConfig, policy config.NetworkPolicy, logger *zap.Logger) (*Container, error) {
	c := &Container{Runtime: runtime, Policy: policy, logger: logger}

	db, err := c.openStore(ctx)
	if err != nil {
		return nil, err
	}

	var locker services.Locker
	if runtime.RedisEnabled {
		client, err := config.ConnectRedis(ctx, logger)
		if err != nil {
			c.Close(ctx)
			return nil, err
		}
		c.redisClient = client
		locker = services.NewRedisLocker(client, 30*time.Second)
	}

	whish := services.NewWhishService(services.WhishConfigFromEnv(), logger)

	var chain services.ChainObserver
	if runtime.ChainObserverURL != "" {
		chain = services.NewRPCChainObserver(runtime.ChainObserverURL, logger)
	} else {
		logger.Warn("CHAIN_OBSERVER_URL not set, payment intents cannot be checked")
	}

	app, err := config.InitFirebase(ctx, logger)
	if err != nil {
		logger.Warn("Firebase initialization failed, push notifications disabled", zap.Error(err))
		app = nil
	}

	c.Hub = websocket.NewHub(logger)
	c.Notifier = utils.NewNotifier(ctx, db, c.Store, app, utils.SMTPConfigFromEnv(), runtime.AdminEmails, logger)

	c.Tree = services.NewNetworkTree(c.Store, c.Store, locker, policy, logger).WithPlacementAttempts(runtime.PlacementAttempts)
	c.Qualification = services.NewQualificationEngine(c.Store, c.Store, policy, logger)
	c.Commissions = services.NewCommissionCalculator(c.Store, c.Store, c.Store, policy, logger)
	c.Members = services.NewMemberService(c.Store, c.Tree, logger)
	c.Activation = services.NewActivationService(c.Store, c.Tree, c.Qualification, c.Commissions, logger)

	c.Payouts = services.NewPayoutProcessor(
		c.Store,
		c.Store,
		whish,
		whish,
		whish,
		services.PayoutNotifiers{c.Hub, c.Notifier},
		services.PayoutOptions{
			MaxRetries:      runtime.MaxPayoutRetries,
			TransferTimeout: runtime.TransferTimeout,
			Concurrency:     runtime.PayoutConcurrency,
			TransfersPerSec: runtime.TransfersPerSec,
			Currency:        policy.PayoutCurrency,
			StaleAfter:      runtime.StaleProcessing,
		},
		logger,
	)

	c.Reconciliation = services.NewReconciliationMonitor(c.Store, c.Store, chain, policy, logger)
	c.Reconciliation.SetFulfiller(c.Activation)
	c.Reconciliation.AddObserver(c.Hub)
	c.Reconciliation.AddObserver(c.Notifier)

	return c, nil
}

// openStore selects the memory or MongoDB backend. The returned database is nil for memory.
func (c *Container) openStore(ctx context.Context) (*mongo.Database, error) {
	if c.Runtime.StoreBackend == "memory" {
		c.logger.Info("using in-memory store")
		c.Store = repositories.NewMemoryStore()
		return nil, nil
	}

	uri, err := config.MongoURI(c.Runtime.IsDevelopment())
	if err != nil {
		return nil, err
	}
	client, err := config.ConnectDB(ctx, uri, c.logger)
	if err != nil {
		return nil, err
	}
	c.mongoClient = client

	store := repositories.NewMongoStore(client, c.Runtime.DatabaseName)
	if err := store.EnsureIndexes(ctx); err != nil {
		c.Close(ctx)
		return nil, fmt.Errorf("failed to create indexes: %w", err)
	}
	c.Store = store
	return store.Database(), nil
}

// Scheduler builds the cron scheduler over the container's services
func (c *Container) Scheduler() *jobs.Scheduler {
	return jobs.NewScheduler(c.Runtime, jobs.Runners{
		Residuals:     c.Commissions,
		Payouts:       c.Payouts,
		Qualification: c.Qualification,
		Intents:       c.Reconciliation,
	}, c.logger)
}

// Close disconnects the backends
func (c *Container) Close(ctx context.Context) {
	if c.redisClient != nil {
		if err := c.redisClient.Close(); err != nil {
			c.logger.Warn("failed to close Redis client", zap.Error(err))
		}
	}
	if c.mongoClient != nil {
		if err := c.mongoClient.Disconnect(ctx); err != nil {
			c.logger.Warn("failed to disconnect MongoDB", zap.Error(err))
		}
	}
}
