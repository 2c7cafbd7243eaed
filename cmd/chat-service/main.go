package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	intDatabase "mediconnect-backend/internal/database"
	auditlogHandler "mediconnect-backend/internal/handler/http/auditlog"
	chatHandler "mediconnect-backend/internal/handler/http/chat"
	conversationHandler "mediconnect-backend/internal/handler/http/conversation"
	escalationHandler "mediconnect-backend/internal/handler/http/escalation"
	pushHandler "mediconnect-backend/internal/handler/http/push"
	storageHandler "mediconnect-backend/internal/handler/http/storage"
	transcribeHandler "mediconnect-backend/internal/handler/http/transcribe"
	wsHandler "mediconnect-backend/internal/handler/ws"
	"mediconnect-backend/internal/middleware"
	"mediconnect-backend/internal/notify"
	"mediconnect-backend/internal/repository/cassandra"
	"mediconnect-backend/internal/repository/cockroach"
	redisRepo "mediconnect-backend/internal/repository/redis"
	conversationService "mediconnect-backend/internal/service/conversation"
	escalationService "mediconnect-backend/internal/service/escalation"
	presenceService "mediconnect-backend/internal/service/presence"
	routerService "mediconnect-backend/internal/service/router"
	storageService "mediconnect-backend/internal/service/storage"
	suggestService "mediconnect-backend/internal/service/suggest"
	transcribeService "mediconnect-backend/internal/service/transcribe"
	"mediconnect-backend/pkg/audit"
	"mediconnect-backend/pkg/constants"
	"mediconnect-backend/pkg/crypto"
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

	// 2. Connect to Cassandra with authentication
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

	// 3. Connect to Redis with degraded mode support
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

	// Start background Redis health check
	go redisDB.StartHealthCheck(ctx, 10*time.Second)
	log.Println("✅ Redis health check started (10s interval)")

	// 4. Connect to CockroachDB
	cockroachConfig := &pkgDatabase.CockroachConfig{
		Host:     env.GetString("COCKROACH_HOST", "localhost"),
		Port:     env.GetInt("COCKROACH_PORT", 26257),
		User:     env.GetString("COCKROACH_USER", "root"),
		Password: env.GetStringFromFile("COCKROACH_PASSWORD", ""),
		Database: env.GetString("COCKROACH_DATABASE", "mediconnect_db"),
		SSLMode:  env.GetString("COCKROACH_SSLMODE", "disable"),
	}

	cockroachDB, err := pkgDatabase.NewCockroachDB(ctx, cockroachConfig)
	if err != nil {
		log.Fatalf("Failed to connect to CockroachDB: %v", err)
	}
	defer cockroachDB.Close()

	log.Println("✅ Connected to CockroachDB")

	// 5. Connect to MinIO for attachments
	minioClient, err := storageService.NewMinioClient(
		env.GetString("MINIO_ENDPOINT", "localhost:9000"),
		env.GetStringFromFile("MINIO_ACCESS_KEY", "minioadmin"),
		env.GetStringFromFile("MINIO_SECRET_KEY", "minioadmin"),
		env.GetBool("MINIO_USE_SSL", false),
	)
	if err != nil {
		log.Fatalf("Failed to connect to MinIO: %v", err)
	}
	minioBucket := env.GetString("MINIO_BUCKET", "mediconnect-attachments")
	if err := minioClient.EnsureBucket(ctx, minioBucket); err != nil {
		log.Fatalf("Failed to ensure MinIO bucket: %v", err)
	}

	log.Println("✅ Connected to MinIO")

	// 6. Initialize Repositories
	messageRepo := cassandra.NewMessageRepository(cassandraDB.Session)
	statusRepo := cassandra.NewStatusRepository(cassandraDB.Session)
	presenceRepo := redisRepo.NewPresenceRepository(redisDB, 90*time.Second)
	idempotencyRepo := redisRepo.NewIdempotencyRepository(redisDB, 24*time.Hour)
	pushTokenRepo := redisRepo.NewPushTokenRepository(redisDB.Client)
	conversationRepo := cockroach.NewConversationRepository(cockroachDB.Pool)
	templateRepo := cockroach.NewTemplateRepository(cockroachDB.Pool)
	escalationRepo := cockroach.NewEscalationRepository(cockroachDB.Pool)
	directoryRepo := cockroach.NewDirectoryRepository(cockroachDB.Pool)
	attachmentRepo := cockroach.NewAttachmentRepository(cockroachDB.Pool)

	// 7. Initialize Push Service
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

	// 8. Initialize Services
	//
	// The escalation executor and the message router reference each
	// other (elevate_priority posts a system message), so the
	// announcer is bound after both exist.
	executor := notify.NewExecutor(pushSvc, directoryRepo, conversationRepo, nil)
	escalationSvc := escalationService.NewService(escalationRepo, escalationRepo, executor, escalationService.Config{})

	var sealer routerService.Sealer
	if sealKeyHex := env.GetStringFromFile("MESSAGE_SEAL_KEY", ""); sealKeyHex != "" {
		sealKey, err := hex.DecodeString(sealKeyHex)
		if err != nil {
			log.Fatalf("MESSAGE_SEAL_KEY must be hex-encoded: %v", err)
		}
		sealer, err = crypto.NewSealer(sealKey)
		if err != nil {
			log.Fatalf("Failed to initialize message sealer: %v", err)
		}
		log.Println("✅ Message sealing enabled for encrypted conversations")
	} else if productionMode {
		log.Fatal("MESSAGE_SEAL_KEY is required in production mode")
	}

	routerSvc := routerService.NewService(
		conversationRepo,
		messageRepo,
		statusRepo,
		presenceRepo,
		idempotencyRepo,
		&routerService.RedisAdapter{Client: redisDB.Client},
		sealer,
		routerService.NewMarkerClassifier(nil),
		escalationSvc,
		routerService.Config{},
	)
	executor.SetAnnouncer(routerSvc)
	routerSvc.SetOfflineNotifier(notify.NewSink(pushSvc, conversationRepo))
	escalationSvc.Start(ctx)

	presenceSvc := presenceService.NewService(conversationRepo, presenceRepo, 90*time.Second)
	suggestSvc := suggestService.NewService(templateRepo, messageRepo, 300*time.Millisecond)
	conversationSvc := conversationService.NewService(conversationRepo, templateRepo)
	storageSvc := storageService.NewService(minioClient, minioBucket, attachmentRepo)

	transcriber := transcribeService.NewHTTPClient(
		env.GetString("TRANSCRIBE_URL", "http://localhost:8090"),
		env.GetDuration("TRANSCRIBE_TIMEOUT", 60*time.Second),
	)
	transcribeSvc := transcribeService.NewService(transcriber, storageSvc, routerSvc)

	// Expired-message retention sweep
	go routerSvc.StartRetentionSweep(ctx, env.GetDuration("RETENTION_SWEEP_INTERVAL", 5*time.Minute))

	// 9. Initialize Metrics
	appMetrics := metrics.NewMetrics("chat-service")
	prometheusMiddleware := middleware.NewPrometheusMiddleware(appMetrics)

	// 10. Initialize Handlers
	auditLogger := audit.NewAuditLogger(redisDB.Client)
	chatHdlr := chatHandler.NewHandler(routerSvc, presenceSvc, suggestSvc, auditLogger)
	conversationHdlr := conversationHandler.NewHandler(conversationSvc)
	escalationHdlr := escalationHandler.NewHandler(escalationSvc, auditLogger)
	storageHdlr := storageHandler.NewHandler(storageSvc, auditLogger)
	transcribeHdlr := transcribeHandler.NewHandler(transcribeSvc, storageSvc, routerSvc)
	pushHdlr := pushHandler.NewHandler(pushSvc)
	auditlogHdlr := auditlogHandler.NewHandler(auditLogger)

	// 11. Initialize WebSocket Hub
	chatHub := wsHandler.NewChatHub(redisDB.Client, presenceSvc, routerSvc)

	// 12. Setup Gin Router
	router := gin.New() // Don't use Default() to have full control

	// Configure trusted proxies for production
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
			"service": "chat-service",
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

	// Chat routes (all require authentication)
	v1 := router.Group("/v1")
	v1.Use(middleware.AuthMiddleware(jwtManager, revocationChecker))
	v1.Use(rateLimiter.Middleware())
	v1.Use(dbPoolLimiter.Middleware())
	v1.Use(middleware.AuditMiddleware(auditLogger))
	{
		// Conversation endpoints
		v1.POST("/conversations", conversationHdlr.CreateConversation)
		v1.GET("/conversations/:conversation_id", conversationHdlr.GetConversation)
		v1.DELETE("/conversations/:conversation_id", conversationHdlr.DeactivateConversation)
		v1.POST("/conversations/:conversation_id/participants", conversationHdlr.AddParticipant)
		v1.GET("/conversations/:conversation_id/participants", conversationHdlr.GetParticipants)
		v1.PUT("/conversations/:conversation_id/notify-prefs", conversationHdlr.UpdateNotifyPrefs)

		// Message endpoints
		v1.POST("/conversations/:conversation_id/messages", chatHdlr.SendMessage)
		v1.GET("/conversations/:conversation_id/messages", chatHdlr.GetMessages)
		v1.POST("/conversations/:conversation_id/messages/:message_id/status", chatHdlr.UpdateStatus)
		v1.DELETE("/conversations/:conversation_id/messages/:message_id", chatHdlr.DeleteMessage)

		// Presence endpoints
		v1.POST("/conversations/:conversation_id/presence", chatHdlr.UpdatePresence)
		v1.POST("/conversations/:conversation_id/presence/heartbeat", chatHdlr.Heartbeat)
		v1.GET("/conversations/:conversation_id/presence", chatHdlr.GetPresence)

		// Smart reply suggestions
		v1.GET("/conversations/:conversation_id/suggestions", chatHdlr.GetSuggestions)

		// Quick-response templates
		v1.POST("/templates", conversationHdlr.CreateTemplate)
		v1.GET("/templates", conversationHdlr.ListTemplates)
		v1.DELETE("/templates/:template_id", conversationHdlr.DeleteTemplate)

		// Escalation rules and events
		v1.POST("/escalation/rules", escalationHdlr.CreateRule)
		v1.PUT("/escalation/rules/:rule_id/active", escalationHdlr.SetRuleActive)
		v1.GET("/conversations/:conversation_id/escalations", escalationHdlr.ListEvents)
		v1.POST("/escalations/:event_id/resolve", escalationHdlr.ResolveEvent)

		// Attachments
		v1.POST("/messages/:message_id/attachments", storageHdlr.PresignUpload)
		v1.GET("/messages/:message_id/attachments", storageHdlr.ListAttachments)
		v1.GET("/attachments/:attachment_id/url", storageHdlr.PresignDownload)
		v1.DELETE("/attachments/:attachment_id", storageHdlr.DeleteAttachment)
		v1.POST("/attachments/:attachment_id/transcriptions", transcribeHdlr.Transcribe)

		// Push tokens
		v1.POST("/push/tokens", pushHdlr.RegisterToken)
		v1.DELETE("/push/tokens", pushHdlr.UnregisterToken)
		v1.GET("/push/tokens", pushHdlr.GetTokens)

		// Audit trail (compliance reviews)
		v1.GET("/audit/events", auditlogHdlr.ListEvents)

		// WebSocket endpoint (real-time chat)
		v1.GET("/ws/chat", chatHub.ServeWS)
	}

	// 13. Start server
	port := env.GetString("PORT", "8082")
	addr := fmt.Sprintf(":%s", port)
	server := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		log.Printf("🚀 Chat Service starting on port %s\n", port)
		log.Println("📡 WebSocket endpoint: /v1/ws/chat")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// 14. Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), constants.GracefulShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	// Stop background workers and wait for in-flight escalations.
	cancel()
	escalationSvc.Wait()

	log.Println("Server exited")
}
