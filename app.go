package main

import (
	"context"
	"fmt"
	"net/http"

	"psychology/config"
	"psychology/cron"
	"psychology/database"
	"psychology/database/repository"
	"psychology/handlers"
	"psychology/middleware"
	"psychology/models"
	"psychology/mq"
	"psychology/services/alerts"
	"psychology/services/booking"
	"psychology/services/calendar"
	"psychology/services/payment"
	"psychology/services/tasks"
	"psychology/utils"

	"github.com/go-redis/redis/v8"
	"github.com/hibiken/asynq"
	"github.com/stripe/stripe-go/v76"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// app holds every long-lived component built from AppConfig.
type app struct {
	cfg    config.Config
	logger *zap.Logger

	db           *mongo.Database
	repos        *repository.Repositories
	redisClients []*redis.Client

	alerter    *alerts.Alerter
	publisher  mq.Publisher
	queue      *asynq.Client
	oauth      *calendar.OAuthService
	reconciler *calendar.Reconciler
	reserve    *booking.DefaultReservationService
	initiator  *payment.Initiator
	webhooks   *payment.WebhookProcessor
	verifier   *payment.StripeVerifier
	tokens     *utils.TokenSigner
}

func newApp(ctx context.Context, logger *zap.Logger) (*app, error) {
	cfg := config.AppConfig
	a := &app{cfg: cfg, logger: logger}

	db, err := database.InitDB(ctx, logger)
	if err != nil {
		return nil, err
	}
	a.db = db
	a.repos = repository.NewMongoRepositories(db)
	tx := database.NewMongoTxRunner(database.MongoClient, cfg.TxTimeout(), cfg.TxMaxWait())
	clock := utils.SystemClock{}

	if a.alerter, err = a.buildAlerter(ctx); err != nil {
		return nil, err
	}
	a.publisher = a.buildPublisher()

	if cfg.AdminJWTSecret != "" {
		if a.tokens, err = utils.NewTokenSigner(cfg.AdminJWTSecret); err != nil {
			return nil, err
		}
	} else {
		logger.Warn("ADMIN_JWT_SECRET not set, admin endpoints disabled")
	}

	calendarCaller := utils.NewRetryingCaller("calendar", cfg.ServiceTimeout("calendar"), cfg.RetryBaseDelay(), cfg.HTTPRetryMaxAttempts, logger)
	var clients calendar.ClientFactory = calendar.Unconfigured{}
	if cfg.GoogleClientID != "" {
		cipher, err := calendar.NewTokenCipher(cfg.TokenEncryptionKey)
		if err != nil {
			return nil, err
		}
		a.oauth = calendar.NewOAuthService(calendar.OAuthConfig{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.GoogleRedirectURL,
			HTTPTimeout:  cfg.ServiceTimeout("calendar"),
		}, a.repos.Integrations, cipher, clock, logger)
		clients = a.oauth
	} else {
		logger.Warn("Google OAuth not configured, calendar sync disabled")
	}
	a.reconciler = calendar.NewReconciler(
		a.repos.Appointments, a.repos.Slots, a.repos.Integrations, clients, tx,
		calendarCaller, a.alerter, clock, logger,
		calendar.ReconcilerConfig{Lookahead: cfg.SyncLookahead(), BackfillBatch: cfg.CalendarBackfillBatch},
	)

	a.reserve = booking.NewReservationService(tx, a.repos.Slots, a.repos.Appointments, clock, cfg.BookingMaxRetryAttempts, logger)

	var followUp payment.FollowUp = calendar.InlineFollowUp{Reconciler: a.reconciler}
	if cfg.CalendarFollowUpMode == "queue" {
		a.queue = asynq.NewClient(cron.QueueRedisOpt())
		followUp = tasks.QueueFollowUp{Client: a.queue}
	}

	paymentCaller := utils.NewRetryingCaller("payment", cfg.ServiceTimeout("payment"), cfg.RetryBaseDelay(), cfg.HTTPRetryMaxAttempts, logger)
	yooKassa := payment.NewYooKassaGateway(cfg.YooKassaAPIURL, cfg.YooKassaShopID, cfg.YooKassaSecretKey, cfg.ServiceTimeout("payment"), paymentCaller)
	var gateway payment.Gateway = yooKassa
	if cfg.StripeKey != "" {
		stripe.Key = cfg.StripeKey
		gateway = payment.NewStripeGateway(paymentCaller)
	}
	a.initiator = payment.NewInitiator(gateway, a.repos.Payments, a.repos.Appointments, cfg.PaymentReturnURL, clock, logger)

	a.webhooks = payment.NewWebhookProcessor(
		a.repos.Webhooks, a.repos.Payments, a.repos.Appointments, a.repos.Slots, tx,
		followUp, a.publisher, a.alerter, clock, logger,
	)
	// YooKassa notifications are unsigned; without shop credentials to read
	// the payment back they are rejected as an unsupported provider.
	if cfg.YooKassaShopID != "" {
		a.webhooks.RegisterDecoder(models.ProviderYooKassa, payment.YooKassaDecoder{})
		a.webhooks.RegisterLookup(models.ProviderYooKassa, yooKassa)
	} else {
		logger.Warn("YooKassa shop credentials not set, YooKassa webhooks will be rejected")
	}
	a.webhooks.RegisterDecoder(models.ProviderStripe, payment.StripeDecoder{})
	if cfg.StripeWebhookSecret != "" {
		v := payment.NewStripeVerifier(cfg.StripeWebhookSecret)
		a.verifier = &v
	}
	return a, nil
}

func (a *app) buildAlerter(ctx context.Context) (*alerts.Alerter, error) {
	var throttle alerts.Throttle
	if a.cfg.AlertThrottleStore == "redis" {
		client, err := utils.GetAlertCacheClient(ctx)
		if err != nil {
			return nil, err
		}
		a.redisClients = append(a.redisClients, client)
		throttle = alerts.NewRedisThrottle(client, a.cfg.AlertMinInterval())
	} else {
		mem, err := alerts.NewMemoryThrottle(a.cfg.AlertMinInterval())
		if err != nil {
			return nil, err
		}
		throttle = mem
	}

	var sinks []alerts.Sink
	if a.cfg.TelegramBotToken != "" && a.cfg.TelegramAlertChatID != "" {
		timeout := a.cfg.ServiceTimeout("bot")
		caller := utils.NewRetryingCaller("telegram", timeout, a.cfg.RetryBaseDelay(), a.cfg.HTTPRetryMaxAttempts, a.logger)
		sinks = append(sinks, alerts.NewTelegramSink(a.cfg.TelegramAPIURL, a.cfg.TelegramBotToken, a.cfg.TelegramAlertChatID, &http.Client{Timeout: timeout}, caller))
	}
	return alerts.NewAlerter(throttle, utils.SystemClock{}, a.logger, sinks...), nil
}

func (a *app) buildPublisher() mq.Publisher {
	if a.cfg.AMQPURL == "" {
		return mq.LogPublisher{Logger: a.logger}
	}
	pub, err := mq.NewAMQPPublisher(a.cfg.AMQPURL, a.cfg.AMQPExchange, a.logger)
	if err != nil {
		a.logger.Warn("RabbitMQ unavailable, domain events will only be logged", zap.Error(err))
		return mq.LogPublisher{Logger: a.logger}
	}
	return pub
}

func (a *app) handlerBundle() *handlers.HandlerBundle {
	s := handlers.Services{
		Reservations:   a.reserve,
		Payments:       a.initiator,
		Webhooks:       a.webhooks,
		StripeVerifier: a.verifier,
	}
	if a.oauth != nil {
		s.Calendar = a.oauth
	}
	if a.tokens != nil {
		s.Tokens = a.tokens
	}
	return handlers.NewHandlerBundle(s)
}

// tokenValidator is nil when no admin secret is configured.
func (a *app) tokenValidator() middleware.TokenValidator {
	if a.tokens == nil {
		return nil
	}
	return a.tokens
}

func (a *app) close(ctx context.Context) {
	if err := a.publisher.Close(); err != nil {
		a.logger.Warn("Failed to close publisher", zap.Error(err))
	}
	if a.queue != nil {
		_ = a.queue.Close()
	}
	for _, c := range a.redisClients {
		_ = c.Close()
	}
	if err := database.Disconnect(ctx); err != nil {
		a.logger.Warn("Failed to disconnect MongoDB", zap.Error(err))
	}
}

func (a *app) ensureIndexes(ctx context.Context) error {
	if err := a.repos.EnsureIndexes(ctx); err != nil {
		return fmt.Errorf("failed to ensure indexes: %w", err)
	}
	return nil
}
