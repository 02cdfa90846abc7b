package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/eventflow/realtime/internal/auth"
	"github.com/eventflow/realtime/internal/config"
	"github.com/eventflow/realtime/internal/gateway"
	"github.com/eventflow/realtime/internal/handler"
	"github.com/eventflow/realtime/internal/kafka"
	"github.com/eventflow/realtime/internal/membership"
	"github.com/eventflow/realtime/internal/notify"
	"github.com/eventflow/realtime/internal/observability"
	"github.com/eventflow/realtime/internal/presence"
	"github.com/eventflow/realtime/internal/presencewatcher"
	"github.com/eventflow/realtime/internal/router"
	"github.com/eventflow/realtime/internal/server"
	grpctransport "github.com/eventflow/realtime/internal/transport/grpc"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		observability.InitLogger("realtime-presence")
		observability.Log.Fatal("invalid configuration", zap.Error(err))
	}

	// Observability
	observability.InitLogger(cfg.ServiceName)
	log := observability.Log
	defer log.Sync()

	if cfg.TracingEnabled {
		tp, err := observability.InitTracer(cfg.ServiceName, cfg.JaegerURL)
		if err != nil {
			log.Fatal("failed to initialize tracer", zap.Error(err))
		}
		defer tp.Shutdown(context.Background())
	}

	ctx, cancel := setupSignalHandler(log)
	defer cancel()

	instanceID := getOrGenerateInstanceID(cfg.InstanceID)
	log = log.With(zap.String("instance_id", instanceID))

	// Gateway core. The relay stays nil on a single instance.
	var (
		redisClient *redis.Client
		relay       gateway.Relay
		rtr         *router.Router
	)
	if cfg.PresenceBackend == config.BackendRedis {
		redisClient = initRedis(ctx, cfg.RedisAddr, log)
		rtr = router.New(redisClient, instanceID)
		relay = rtr
	}
	hub := gateway.NewHub(gateway.NewRegistry(), membership.New(), relay)
	watcher := presencewatcher.NewWatcher(redisClient, hub)

	// Presence fan-out
	publishers := initPublishers(cfg, redisClient, watcher, log)
	multi := notify.NewMulti(publishers...)

	var store presence.Store = presence.NewMemoryStore()
	if redisClient != nil {
		store = presence.NewRedisStore(redisClient, cfg.RedisPrefix)
	}
	svc := presence.NewService(store,
		presence.WithThresholds(presence.Thresholds{
			Away:    cfg.Presence.AwayThreshold,
			Offline: cfg.Presence.OfflineThreshold,
		}),
		presence.WithGCHorizon(cfg.Presence.GCHorizon),
		presence.WithNotifier(multi),
	)
	svc.StartCleanup(cfg.Presence.CleanupInterval)

	if rtr != nil {
		if err := watcher.Start(ctx); err != nil {
			log.Fatal("failed to start presence watcher", zap.Error(err))
		}
		if err := rtr.Subscribe(ctx, hub.HandleRelay); err != nil {
			log.Fatal("failed to subscribe to room relay", zap.Error(err))
		}
	}

	wsHandler := initGateway(cfg, hub, svc, log)

	// Kafka consumer
	consumer := initKafka(ctx, cfg, hub, log)
	if consumer != nil {
		defer consumer.Close()
	}

	// Servers
	obsSrv := initObservabilityServer(cfg, svc)
	mainSrv := server.New("main", cfg.HTTPPort, handler.NewRouter(
		handler.NewPresenceHandler(svc),
		wsHandler,
		handler.RouterConfig{
			ServiceName:       cfg.ServiceName,
			RateLimitRequests: cfg.RateLimitRequests,
			RateLimitWindow:   cfg.RateLimitWindow,
		},
	))
	grpcSrv := grpctransport.New(svc)

	startServers(cfg, obsSrv, mainSrv, grpcSrv, log)

	log.Info("realtime presence started",
		zap.String("backend", cfg.PresenceBackend),
		zap.Int("presence_publishers", multi.Len()),
	)

	<-ctx.Done()
	performGracefulShutdown(obsSrv, mainSrv, grpcSrv, wsHandler, svc, multi, log)
}

func setupSignalHandler(log *zap.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("received signal, initiating shutdown", zap.String("signal", sig.String()))
		cancel()
	}()
	return ctx, cancel
}

func getOrGenerateInstanceID(id string) string {
	if id == "" {
		return uuid.NewString()
	}
	return id
}

func initRedis(ctx context.Context, addr string, log *zap.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	return client
}

// initPublishers picks the presence sinks. With Redis every instance hears
// changes through the shared channel; without it the local hub is fed directly.
func initPublishers(cfg *config.Config, redisClient *redis.Client, watcher *presencewatcher.Watcher, log *zap.Logger) []notify.Publisher {
	var pubs []notify.Publisher
	if redisClient != nil {
		pubs = append(pubs, notify.NewRedisPublisher(redisClient, notify.PresenceChannel))
	} else {
		pubs = append(pubs, watcher)
	}

	if len(cfg.KafkaBrokers) > 0 && cfg.KafkaPresenceTopic != "" {
		kp, err := notify.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaPresenceTopic)
		if err != nil {
			log.Fatal("failed to create kafka presence publisher", zap.Error(err))
		}
		pubs = append(pubs, kp)
	}

	if cfg.NATSURL != "" {
		np, err := notify.NewNATSPublisher(cfg.NATSURL, notify.PresenceSubject)
		if err != nil {
			log.Fatal("failed to connect to nats", zap.Error(err))
		}
		pubs = append(pubs, np)
	}
	return pubs
}

func initGateway(cfg *config.Config, hub *gateway.Hub, svc *presence.Service, log *zap.Logger) *gateway.Handler {
	var opts []gateway.HandlerOption
	if cfg.JWTSecret != "" {
		opts = append(opts, gateway.WithAuthenticator(auth.NewVerifier(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAudience)))
	} else {
		log.Warn("JWT_SECRET not set, websocket clients are trusted by user id")
	}
	return gateway.NewHandler(hub, svc, opts...)
}

func initKafka(ctx context.Context, cfg *config.Config, hub *gateway.Hub, log *zap.Logger) *kafka.Consumer {
	if len(cfg.KafkaBrokers) == 0 || len(cfg.KafkaMessageTopics) == 0 {
		log.Info("kafka message consumer disabled")
		return nil
	}
	consumer, err := kafka.NewConsumer(cfg.KafkaBrokers, cfg.KafkaMessageTopics, gateway.NewMessageHandler(hub))
	if err != nil {
		log.Fatal("failed to create kafka consumer", zap.Error(err))
	}
	consumer.Start(ctx)
	return consumer
}

func initObservabilityServer(cfg *config.Config, svc *presence.Service) *server.Server {
	mux := chi.NewRouter()
	mux.Use(observability.MetricsMiddleware(cfg.ServiceName))
	mux.Handle("/metrics", promhttp.Handler())
	mux.Get("/health/live", observability.HealthLiveHandler)
	mux.Get("/health/ready", observability.HealthReadyHandler(svc.Ping))
	return server.New("observability", cfg.ObsHTTPAddr, mux)
}

func startServers(cfg *config.Config, obsSrv, mainSrv *server.Server, grpcSrv *grpctransport.Server, log *zap.Logger) {
	go func() {
		log.Info("starting observability server", zap.String("addr", obsSrv.Addr()))
		if err := obsSrv.Start(); err != nil {
			log.Error("observability server error", zap.Error(err))
		}
	}()
	go func() {
		log.Info("starting main server", zap.String("addr", mainSrv.Addr()))
		if err := mainSrv.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server error", zap.Error(err))
		}
	}()
	go func() {
		log.Info("starting presence grpc server", zap.String("addr", cfg.GRPCAddr))
		if err := grpcSrv.Start(cfg.GRPCAddr); err != nil {
			log.Fatal("presence grpc server error", zap.Error(err))
		}
	}()
}

func performGracefulShutdown(obs, mainSrv *server.Server, grpcSrv *grpctransport.Server, ws *gateway.Handler, svc *presence.Service, multi *notify.Multi, log *zap.Logger) {
	log.Info("shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := mainSrv.Shutdown(ctx); err != nil {
		log.Error("error during main server shutdown", zap.Error(err))
	}
	// Sessions must release their sockets before the presence store closes.
	if err := ws.Shutdown(ctx); err != nil {
		log.Error("websocket sessions still open at shutdown", zap.Error(err))
	}
	grpcSrv.Stop()
	if err := obs.Shutdown(ctx); err != nil {
		log.Error("error during observability server shutdown", zap.Error(err))
	}
	if err := multi.Close(); err != nil {
		log.Error("error closing presence publishers", zap.Error(err))
	}
	if err := svc.Destroy(); err != nil {
		log.Error("error closing presence store", zap.Error(err))
	}
	log.Info("shutdown complete, exiting")
}
