package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"topup-backend/internal/clients"
	"topup-backend/internal/config"
	"topup-backend/internal/db"
	"topup-backend/internal/handlers"
	"topup-backend/internal/middleware"
	"topup-backend/internal/repository"
	"topup-backend/internal/router"
	"topup-backend/internal/services"
	"topup-backend/internal/utils"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ServiceContainer owns every long-lived object of the process
type ServiceContainer struct {
	Config *config.Config
	Logger *logrus.Logger

	// Database
	DB *gorm.DB

	// Repositories
	DepositRepo repository.DepositRepository

	// Gateways
	Ledger *clients.LedgerClient
	Chain  *services.EthChainGateway

	// Core Services
	Identity      *services.IdentityContext
	Balances      *services.BalanceCache
	Reconciler    *services.DepositReconciler
	Subscriptions *services.SubscriptionService
	APIKeys       *services.APIKeyService
	Resume        *services.ResumeService

	// Event & Push Services
	NATSClient           *clients.NATSClient
	WebSocketPushService *services.WebSocketPushService

	// HTTP
	JWT *handlers.JWTManager

	ctx    context.Context
	cancel context.CancelFunc

	// Initialization flags
	natsOnce        sync.Once
	pushServiceOnce sync.Once
}

// Global service container instance
var Container *ServiceContainer
var containerOnce sync.Once

// InitializeContainer builds the container once per process
func InitializeContainer(cfg *config.Config, logger *logrus.Logger) (*ServiceContainer, error) {
	var initErr error

	containerOnce.Do(func() {
		if logger == nil {
			logger = cfg.NewLogger()
		}
		logger.Info("🚀 Initializing Service Container...")

		ctx, cancel := context.WithCancel(context.Background())
		container := &ServiceContainer{Config: cfg, Logger: logger, ctx: ctx, cancel: cancel}

		// 1. Database and repositories
		if err := container.initRepositories(); err != nil {
			cancel()
			initErr = fmt.Errorf("failed to initialize repositories: %w", err)
			return
		}

		// 2. Gateways
		if err := container.initGateways(ctx); err != nil {
			cancel()
			initErr = fmt.Errorf("failed to initialize gateways: %w", err)
			return
		}

		// 3. Event services are optional
		if err := container.InitNATSClient(); err != nil {
			logger.WithError(err).Warn("⚠️ Event services initialization skipped or failed")
		}

		// 4. Core services
		if err := container.initCoreServices(); err != nil {
			cancel()
			initErr = fmt.Errorf("failed to initialize core services: %w", err)
			return
		}

		Container = container
		logger.Info("✅ Service Container initialized successfully")
	})

	return Container, initErr
}

func (c *ServiceContainer) initRepositories() error {
	c.Logger.Info("📦 Initializing Repositories...")

	conn, err := db.Open(c.Config.Database)
	if err != nil {
		return err
	}
	if err := db.Migrate(conn); err != nil {
		return err
	}
	c.DB = conn
	db.DB = conn
	c.DepositRepo = repository.NewDepositRepository(conn)

	c.Logger.Info("✅ Repositories initialized")
	return nil
}

func (c *ServiceContainer) initGateways(ctx context.Context) error {
	ledger, err := clients.NewLedgerClient(c.Config.Ledger, c.Logger)
	if err != nil {
		return err
	}
	c.Ledger = ledger

	chain, err := services.NewEthChainGateway(ctx, c.Config, c.Logger)
	if err != nil {
		return err
	}
	c.Chain = chain
	return nil
}

func (c *ServiceContainer) initCoreServices() error {
	c.Logger.Info("🔧 Initializing Core Services...")
	cfg := c.Config

	c.Identity = services.NewIdentityContext(seconds(cfg.Identity.MaxAge))
	if err := c.installWalletCredential(); err != nil {
		return err
	}

	c.Balances = services.NewBalanceCache(c.Ledger, seconds(cfg.Balance.CacheTTL))
	push := c.GetPushService()

	minAmount, err := utils.ParseAmount(cfg.TopUp.MinAmount)
	if err != nil {
		return fmt.Errorf("topup.minAmount: %w", err)
	}

	sinks := []services.DepositEventSink{push}
	if c.NATSClient != nil {
		sinks = append(sinks, c.NATSClient)
	}
	c.Reconciler = services.NewDepositReconciler(
		c.Chain,
		c.Ledger,
		c.Identity,
		c.DepositRepo,
		c.Balances,
		services.ReconcilerConfig{
			Networks:         cfg.EnabledNetworks(),
			MinAmount:        minAmount,
			ResumptionWindow: seconds(cfg.TopUp.ResumptionWindow),
		},
		c.Logger,
		sinks...,
	)

	c.Subscriptions = services.NewSubscriptionService(c.Ledger, c.Identity, c.Logger)
	c.APIKeys = services.NewAPIKeyService(c.Ledger, c.Identity, c.Logger)

	c.Resume = services.NewResumeService(c.Reconciler, c.Identity, cfg.TopUp.AutoResume, c.Logger)

	c.JWT = handlers.NewJWTManager(cfg.Auth.JWTSecret, seconds(cfg.Auth.TokenTTL))

	c.Logger.Info("✅ Core Services initialized")
	return nil
}

// installWalletCredential signs in with the configured wallet key, if any
func (c *ServiceContainer) installWalletCredential() error {
	key, err := services.ParsePrivateKey(c.Config.Blockchain.WalletPrivateKey)
	if err != nil || key == nil {
		return err
	}
	cred, err := c.Identity.SignWithKey(key)
	if err != nil {
		return fmt.Errorf("sign wallet credential: %w", err)
	}
	c.Logger.WithField("address", cred.Address).Info("🔑 Wallet credential installed")
	return nil
}

// StartBackground starts the periodic resume scan; it stops on Cleanup
func (c *ServiceContainer) StartBackground() {
	c.Resume.Start(c.ctx, seconds(c.Config.TopUp.ResumeInterval))
}

// InitNATSClient connects the deposit event publisher when nats.url is set
func (c *ServiceContainer) InitNATSClient() error {
	var initErr error

	c.natsOnce.Do(func() {
		if c.Config.NATS.URL == "" {
			initErr = fmt.Errorf("NATS not configured")
			return
		}
		c.Logger.Info("🔌 Connecting to NATS...")

		natsClient, err := clients.NewNATSClient(c.Config.NATS, c.Logger)
		if err != nil {
			c.Logger.WithError(err).Errorf("❌ Failed to connect to NATS at %s", c.Config.NATS.URL)
			initErr = err
			return
		}
		c.NATSClient = natsClient
	})

	return initErr
}

// GetPushService returns the WebSocket push service
func (c *ServiceContainer) GetPushService() *services.WebSocketPushService {
	c.pushServiceOnce.Do(func() {
		c.WebSocketPushService = services.NewWebSocketPushService(c.Logger)
	})
	return c.WebSocketPushService
}

// Router builds the HTTP surface on top of the container's services
func (c *ServiceContainer) Router() (*gin.Engine, error) {
	defaultAmount, err := utils.ParseAmount(c.Config.TopUp.DefaultAmount)
	if err != nil {
		return nil, fmt.Errorf("topup.defaultAmount: %w", err)
	}
	minBalance, err := decimal.NewFromString(c.Config.Balance.MinBalance)
	if err != nil {
		return nil, fmt.Errorf("balance.minBalance: %w", err)
	}
	push := c.GetPushService()

	h := router.Handlers{
		Auth:          handlers.NewAuthHandler(c.Identity, c.JWT, c.Logger),
		TopUp:         handlers.NewTopUpHandler(c.Reconciler, c.DepositRepo, c.Identity, defaultAmount, c.Logger),
		Balance:       handlers.NewBalanceHandler(c.Balances, push, minBalance, c.Logger),
		Subscriptions: handlers.NewSubscriptionHandler(c.Subscriptions, c.Logger),
		APIKeys:       handlers.NewAPIKeyHandler(c.APIKeys, c.Logger),
		Ledger:        handlers.NewLedgerHandler(c.Ledger, c.Logger),
		WebSocket:     handlers.NewWebSocketHandler(push),
	}
	auth := middleware.NewAuthMiddleware(c.JWT, c.Logger)

	return router.SetupRouter(h, auth, router.Options{
		AllowedOrigins:  c.Config.CORS.AllowedOrigins,
		AdminAllowedIPs: c.Config.Server.AdminAllowedIPs,
		Logger:          c.Logger,
	}), nil
}

// Cleanup stops background work and closes connections
func (c *ServiceContainer) Cleanup() {
	c.Logger.Info("🧹 Cleaning up Service Container...")

	if c.cancel != nil {
		c.cancel()
	}
	if c.WebSocketPushService != nil {
		c.WebSocketPushService.Close()
	}
	if c.NATSClient != nil {
		c.NATSClient.Close()
	}
	if c.Chain != nil {
		c.Chain.Close()
	}
	if c.DB != nil {
		if sqlDB, err := c.DB.DB(); err == nil {
			sqlDB.Close()
		}
	}

	c.Logger.Info("✅ Service Container cleaned up")
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
