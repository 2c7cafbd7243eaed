package main

import (
	"context"
	"fmt"
	"log"
	"math"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	intDatabase "mediconnect-backend/internal/database"
	videoHandler "mediconnect-backend/internal/handler/http/video"
	wsHandler "mediconnect-backend/internal/handler/ws"
	"mediconnect-backend/internal/middleware"
	"mediconnect-backend/internal/notify"
	"mediconnect-backend/internal/repository/cassandra"
	"mediconnect-backend/internal/repository/cockroach"
	redisRepo "mediconnect-backend/internal/repository/redis"
	escalationService "mediconnect-backend/internal/service/escalation"
	routerService "mediconnect-backend/internal/service/router"
	sessionService "mediconnect-backend/internal/service/session"
	"mediconnect-backend/pkg/audit"
	"mediconnect-backend/pkg/constants"
	pkgDatabase "mediconnect-backend/pkg/database"
	"mediconnect-backend/pkg/env"
	"mediconnect-backend/pkg/jwt"
	"mediconnect-backend/pkg/logger"
	"mediconnect-backend/pkg/metrics"
	"mediconnect-backend/pkg/push"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.InitDefault()
	defer logger.Sync()

	// 1. Setup JWT Manager
	jwtSecret := env.GetStringFromFile("JWT_SECRET", "")
	if jwtSecret == "" {
		log.Fatal("JWT_SECRET environment variable is required")
	}
	if len(jwtSecret) < 32 {
		log.Fatal("JWT_SECRET must be at least 32 characters")
	}

	jwtManager := jwt.NewJWTManager(jwtSecret, 15*time.Minute, 30*24*time.Hour)

	productionMode := os.Getenv("ENV") == "production"

	// 2. Connect to CockroachDB with exponential backoff retry
	cockroachConfig := &pkgDatabase.CockroachConfig{
		Host:     env.GetString("COCKROACH_HOST", "localhost"),
		Port:     env.GetInt("COCKROACH_PORT", 26257),
		User:     env.GetString("COCKROACH_USER", "root"),
		Password: env.GetStringFromFile("COCKROACH_PASSWORD", ""),
		Database: env.GetString("COCKROACH_DATABASE", "mediconnect_db"),
		SSLMode:  env.GetString("COCKROACH_SSLMODE", "disable"),
	}

	var cockroachDB *pkgDatabase.CockroachDB
	var err error

	maxRetries := 5
	baseDelay := 1 * time.Second
	maxDelay := 30 * time.Second

	cockroachDB, err = pkgDatabase.NewCockroachDB(ctx, cockroachConfig)
	for attempt := 2; err != nil && attempt <= maxRetries; attempt++ {
		delay := time.Duration(float64(baseDelay) * math.Pow(2, float64(attempt-1)))
		if delay > maxDelay {
			delay = maxDelay
		}
		log.Printf("⚠️  CockroachDB connection attempt %d failed: %v. Retrying in %v...", attempt-1, err, delay)
		time.Sleep(delay)
		cockroachDB, err = pkgDatabase.NewCockroachDB(ctx, cockroachConfig)
	}
	if err != nil {
		log.Fatalf("Failed to connect to CockroachDB after %d attempts: %v", maxRetries, err)
	}
	defer cockroachDB.Close()

	log.Println("✅ Connected to CockroachDB")

	// 3. Connect to Cassandra for the conversation message log
	cassandraConfig := &intDatabase.CassandraConfig{
		Hosts:    []string{env.GetString("CASSANDRA_HOST", "localhost")},
		Keyspace: "mediconnect_ks",
		Username: env.GetStringFromFile("CASSANDRA_USER", ""),
		Password: env.GetStringFromFile("CASSANDRA_PASSWORD", ""),
		Timeout:  10 * time.Second,
	}
	cassandraDB, err := intDatabase.NewCassandraDBWithConfig(cassandraConfig)
	if err != nil {
		log.Fatalf("Failed to connect to Cassandra: %v", err)
	}
	defer cassandraDB.Close()

	log.Println("✅ Connected to Cassandra")

	// Initialize Redis metrics before connecting to Redis
	intDatabase.InitRedisMetrics()

	// 4. Connect to Redis with degraded mode support
	redisConfig := &intDatabase.RedisConfig{
		Host:     env.GetString("REDIS_HOST", "localhost"),
		Port:     6379,
		Password: env.GetStringFromFile("REDIS_PASSWORD", ""),
		DB:       0,
		PoolSize: 10,
		Timeout:  5 * time.Second,
	}

	redisDB, err := intDatabase.NewRedisDB(redisConfig)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisDB.Close()

	log.Println("✅ Connected to Redis")

	go redisDB.StartHealthCheck(ctx, 10*time.Second)
	log.Println("✅ Redis health check started (10s interval)")

	// 5. Initialize Repositories
	sessionRepo := cockroach.NewSessionRepository(cockroachDB.Pool)
	conversationRepo := cockroach.NewConversationRepository(cockroachDB.Pool)
	escalationRepo := cockroach.NewEscalationRepository(cockroachDB.Pool)
	directoryRepo := cockroach.NewDirectoryRepository(cockroachDB.Pool)
	messageRepo := cassandra.NewMessageRepository(cassandraDB.Session)
	statusRepo := cassandra.NewStatusRepository(cassandraDB.Session)
	presenceRepo := redisRepo.NewPresenceRepository(redisDB, 90*time.Second)
	idempotencyRepo := redisRepo.NewIdempotencyRepository(redisDB, 24*time.Hour)
	pushTokenRepo := redisRepo.NewPushTokenRepository(redisDB.Client)

	// 6. Initialize Push Service
	var pushProvider push.Provider
	switch env.GetString("PUSH_PROVIDER", "mock") {
	case "firebase":
		firebaseProjectID := env.GetStringFromFile("FIREBASE_PROJECT_ID", "")
		if firebaseProjectID == "" {
			if productionMode {
				log.Fatal("❌ Fatal: FIREBASE_PROJECT_ID required in production mode")
			}
			log.Println("Warning: FIREBASE_PROJECT_ID not set, falling back to mock provider")
			pushProvider = &push.MockProvider{}
		} else {
			pushProvider = push.NewFirebaseProvider(firebaseProjectID)
			log.Printf("✅ Using Firebase Provider for project: %s", firebaseProjectID)
		}
	case "fcm", "apns":
		provider, err := push.NewProvider()
		if err != nil {
			log.Fatalf("❌ Fatal: Failed to initialize push provider: %v", err)
		}
		pushProvider = provider
	default:
		if productionMode {
			log.Fatal("❌ Fatal: Mock push provider not allowed in production")
		}
		pushProvider = &push.MockProvider{}
		log.Println("ℹ️  Using MockProvider for push notifications (development mode)")
	}

	pushSvc := push.NewService(pushProvider, pushTokenRepo)

	// 7. Initialize Services
	//
	// Session transitions are announced as system messages in the
	// linked conversation, so this service carries its own router
	// instance over the shared stores.
	executor := notify.NewExecutor(pushSvc, directoryRepo, conversationRepo, nil)
	escalationSvc := escalationService.NewService(escalationRepo, escalationRepo, executor, escalationService.Config{})

	routerSvc := routerService.NewService(
		conversationRepo,
		messageRepo,
		statusRepo,
		presenceRepo,
		idempotencyRepo,
		&routerService.RedisAdapter{Client: redisDB.Client},
		nil,
		routerService.NewMarkerClassifier(nil),
		escalationSvc,
		routerService.Config{},
	)
	executor.SetAnnouncer(routerSvc)
	routerSvc.SetOfflineNotifier(notify.NewSink(pushSvc, conversationRepo))
	escalationSvc.Start(ctx)

	sessionSvc := sessionService.NewService(sessionRepo, routerSvc, escalationSvc)

	// 8. Initialize Metrics
	appMetrics := metrics.NewMetrics("video-service")
	prometheusMiddleware := middleware.NewPrometheusMiddleware(appMetrics)

	// 9. Initialize Handlers
	auditLogger := audit.NewAuditLogger(redisDB.Client)
	videoHdlr := videoHandler.NewHandler(sessionSvc, auditLogger)

	// 10. Initialize WebRTC Signaling Hub
	signalingHub := wsHandler.NewSignalingHub(redisDB.Client, sessionSvc)

	// 11. Setup Gin Router
	router := gin.New() // Don't use Default() to have full control

	trustedProxies := []string{}
	if productionMode {
		trustedProxies = []string{
			"https://api.mediconnect.com",
			"https://*.mediconnect.com",
		}
	} else {
		trustedProxies = []string{
			"http://localhost:3000",
			"http://localhost:8080",
			"http://127.0.0.1:3000",
			"http://127.0.0.1:8080",
		}
	}
	router.SetTrustedProxies(trustedProxies)

	// Apply global middleware
	router.Use(middleware.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.CORSMiddleware())
	router.Use(middleware.SecurityHeaders())
	router.Use(prometheusMiddleware.Handler())
	router.Use(middleware.NewTimeoutMiddleware(nil).Middleware())

	// Coarse per-IP limiter that survives Redis outages
	globalLimiter := middleware.NewRateLimiterWithFallback(middleware.RateLimiterConfig{
		RedisClient:            redisDB,
		RequestsPerMin:         env.GetInt("RATELIMIT_GLOBAL", 300),
		Window:                 time.Minute,
		EnableInMemoryFallback: true,
	})
	router.Use(globalLimiter.Middleware())

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "healthy",
			"service": "video-service",
			"time":    time.Now().UTC(),
		})
	})

	// Metrics endpoint (for Prometheus scraping)
	router.GET("/metrics", middleware.MetricsHandler())

	// Revocation checker
	revocationChecker := middleware.NewRedisRevocationChecker(redisDB.Client)

	// Per-endpoint rate limiting, pool protection
	rateLimiter := middleware.NewAdvancedRateLimiter(redisDB.Client)
	dbPoolLimiter := middleware.NewDBPoolLimiter(cockroachDB.Pool)

	// Session routes (all require authentication)
	v1 := router.Group("/v1")
	v1.Use(middleware.AuthMiddleware(jwtManager, revocationChecker))
	v1.Use(rateLimiter.Middleware())
	v1.Use(dbPoolLimiter.Middleware())
	v1.Use(middleware.AuditMiddleware(auditLogger))
	{
		v1.POST("/sessions", videoHdlr.CreateSession)
		v1.GET("/sessions/:session_id", videoHdlr.GetSession)
		v1.POST("/sessions/:session_id/join", videoHdlr.JoinSession)
		v1.POST("/sessions/:session_id/leave", videoHdlr.LeaveSession)
		v1.POST("/sessions/:session_id/escalate", videoHdlr.EscalateSession)
		v1.PUT("/sessions/:session_id/consent", videoHdlr.SetConsent)
		v1.POST("/sessions/:session_id/recording/start", videoHdlr.StartRecording)
		v1.POST("/sessions/:session_id/recording/stop", videoHdlr.StopRecording)
		v1.POST("/sessions/:session_id/transcription/start", videoHdlr.StartTranscription)
		v1.POST("/sessions/:session_id/transcription/stop", videoHdlr.StopTranscription)
		v1.GET("/sessions/:session_id/participants", videoHdlr.GetSessionParticipants)

		// WebSocket endpoint (WebRTC signaling relay)
		v1.GET("/ws/signaling", signalingHub.ServeWS)
	}

	// 12. Start server
	port := env.GetString("PORT", "8083")
	addr := fmt.Sprintf(":%s", port)
	server := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		log.Printf("🚀 Video Service starting on port %s\n", port)
		log.Println("📡 WebSocket endpoint: /v1/ws/signaling")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// 13. Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), constants.GracefulShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	cancel()
	escalationSvc.Wait()

	log.Println("Server exited")
}
