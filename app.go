package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-fusion/pkg/auth"
	"github.com/ekaya-inc/ekaya-fusion/pkg/cache"
	"github.com/ekaya-inc/ekaya-fusion/pkg/config"
	"github.com/ekaya-inc/ekaya-fusion/pkg/database"
	"github.com/ekaya-inc/ekaya-fusion/pkg/eventstream"
	"github.com/ekaya-inc/ekaya-fusion/pkg/eventstream/kafka"
	"github.com/ekaya-inc/ekaya-fusion/pkg/eventstream/nop"
	"github.com/ekaya-inc/ekaya-fusion/pkg/handlers"
	"github.com/ekaya-inc/ekaya-fusion/pkg/llm"
	"github.com/ekaya-inc/ekaya-fusion/pkg/middleware"
	"github.com/ekaya-inc/ekaya-fusion/pkg/repositories"
	"github.com/ekaya-inc/ekaya-fusion/pkg/services"
)

type routeRegistrar interface {
	RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, owner handlers.OwnerMiddleware)
}

// app owns every long-lived dependency of the process.
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	db        *database.DB
	redis     *redis.Client
	publisher eventstream.Publisher
	validator auth.TokenValidator

	authMiddleware *auth.Middleware
	routes         []routeRegistrar
	retention      services.RetentionService
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.db, err = database.NewConnection(ctx, &database.Config{
		URL:              cfg.Database.URL(),
		MaxConnections:   cfg.Database.MaxConnections,
		StatementTimeout: cfg.Database.StatementTimeout,
	})
	if err != nil {
		return nil, err
	}

	a.redis, err = database.NewRedisClient(ctx, &cfg.Redis)
	if err != nil {
		return nil, err
	}
	var decisions cache.Cache
	if a.redis != nil {
		decisions = cache.NewRedisCache(a.redis, cfg.Redis.KeyPrefix, cfg.Fusion.CacheTTL)
		logger.Info("Decision cache backed by Redis", zap.String("host", cfg.Redis.Host))
	} else {
		decisions = cache.NewMemoryCache(cfg.Fusion.CacheSize, cfg.Fusion.CacheTTL)
	}

	if len(cfg.Notify.KafkaBrokers) > 0 {
		pub, err := kafka.NewPublisher(kafka.Config{
			Brokers: cfg.Notify.KafkaBrokers,
			Topic:   cfg.Notify.KafkaTopic,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create kafka publisher: %w", err)
		}
		a.publisher = pub
	} else {
		logger.Warn("No Kafka brokers configured; conflict notifications will not be published")
		a.publisher = nop.NewPublisher()
	}

	oracle, err := llm.NewOracle(cfg.LLM, logger)
	if err != nil {
		return nil, err
	}
	embedder := llm.NewEmbedder(cfg.Embedding)

	jwks, err := auth.NewJWKSClient(ctx, &auth.JWKSConfig{
		EnableVerification: cfg.Auth.EnableVerification,
		JWKSEndpoints:      cfg.Auth.JWKSEndpoints,
	})
	if err != nil {
		return nil, err
	}
	a.validator = jwks
	a.authMiddleware = auth.NewMiddleware(auth.NewAuthService(jwks, logger), logger)

	// Repositories read their connection from the owner scope on the context.
	factRepo := repositories.NewFactRepository()
	entityRepo := repositories.NewEntityRepository()
	activityRepo := repositories.NewActivityRepository()
	commitmentRepo := repositories.NewCommitmentRepository()
	confirmationRepo := repositories.NewPendingConfirmationRepository()
	approvalRepo := repositories.NewPendingApprovalRepository()
	conflictRepo := repositories.NewFactConflictRepository()
	tx := database.NewTxRunner()

	merger := services.NewEntityMergeService(entityRepo, factRepo, activityRepo, commitmentRepo, tx, logger)
	registry, err := services.NewDefaultHandlerRegistry(entityRepo, factRepo, merger, logger)
	if err != nil {
		return nil, err
	}
	confirmations := services.NewPendingConfirmationService(confirmationRepo, registry, cfg.Confirmation, logger)

	finder := services.NewDuplicateFinder(factRepo, activityRepo, commitmentRepo, entityRepo, embedder, cfg.Dedup, logger)
	classifier := services.NewFusionClassifier(oracle, decisions, cfg.Fusion, cfg.LLM.Timeout, logger)
	applier := services.NewFusionApplier(factRepo, tx, cfg.Fusion, logger)
	gateway := services.NewConflictGateway(conflictRepo, factRepo, applier, a.publisher, tx, cfg.Notify.CallbackBaseURL, logger)
	fusion := services.NewFactFusionService(factRepo, finder, classifier, applier, gateway, tx, logger)
	resolver := services.NewEntityResolutionService(entityRepo, factRepo, finder, confirmations, cfg.Dedup, logger)
	approvals := services.NewPendingApprovalService(
		approvalRepo, factRepo, activityRepo, commitmentRepo, tx,
		services.RetentionPolicy{Days: cfg.Approval.RetentionDays},
		cfg.Approval.MinConfidence,
		logger,
	)
	a.retention = services.NewRetentionService(database.NewScopeProvider(a.db), confirmations, approvals, logger)

	a.routes = []routeRegistrar{
		handlers.NewFactHandler(fusion, logger),
		handlers.NewConfirmationHandler(confirmations, logger),
		handlers.NewApprovalHandler(approvals, logger),
		handlers.NewConflictHandler(gateway, logger),
		handlers.NewEntityHandler(resolver, merger, logger),
	}
	return a, nil
}

// handler builds the HTTP handler tree.
// Authenticated routes run auth, then the owner scope, then the handler.
func (a *app) handler() http.Handler {
	mux := http.NewServeMux()

	handlers.NewHealthHandler(a.cfg, a.db, a.logger).RegisterRoutes(mux)

	ownerScope := database.WithOwnerContext(database.NewScopeProvider(a.db), a.logger)
	owner := func(next http.HandlerFunc) http.HandlerFunc {
		return middleware.TrackOwner(ownerScope(next))
	}
	for _, r := range a.routes {
		r.RegisterRoutes(mux, a.authMiddleware, owner)
	}

	return middleware.RequestLogger(a.logger)(middleware.Recoverer(a.logger)(mux))
}

func (a *app) Close() {
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("Failed to close publisher", zap.Error(err))
		}
	}
	if a.validator != nil {
		a.validator.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
}
