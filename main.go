package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"chatsync/internal/auth"
	"chatsync/internal/db"
	"chatsync/internal/genai"
	"chatsync/internal/handlers"
	"chatsync/internal/livequery"
	"chatsync/internal/media"
	"chatsync/internal/middleware"
	"chatsync/internal/observability"
	"chatsync/internal/rabbitmq"
	"chatsync/internal/realtime"
	"chatsync/internal/repositories"
	"chatsync/internal/telemetry"
	"chatsync/internal/ws"
)

func main() {
	ctx := context.Background()

	database, err := db.Connect()
	if err != nil {
		log.Fatalf("failed to connect to db: %v", err)
	}

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		log.Fatalf("invalid REDIS_DB: %v", err)
	}
	store, err := realtime.Connect(ctx, getEnv("REDIS_ADDR", "localhost:6379"), getEnv("REDIS_PASSWORD", ""), redisDB)
	if err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}

	publisher := rabbitmq.NewPublisher(getEnv("AMQP_URL", ""), getEnv("AMQP_EXCHANGE", "chatsync.events"))
	defer publisher.Close()
	observability.SetPublisher(publisher)

	shutdownTracing, err := observability.InitTracing(ctx, getEnv("OTLP_ENDPOINT", "localhost:4317"), "chatsync")
	if err != nil {
		log.Printf("tracing disabled: %v", err)
	} else {
		defer shutdownTracing(ctx)
	}

	userRepo := repositories.NewUserRepo(database)
	groupRepo := repositories.NewGroupRepo(database)
	messageRepo := repositories.NewMessageRepo(database)

	feeds := livequery.NewHub(messageRepo, userRepo, groupRepo)
	hub := ws.NewHub()

	tokens := auth.New(getEnv("JWT_SECRET", "dev-secret"))
	uploader := media.NewClient(getEnv("CLOUDINARY_CLOUD", "chatsync"), getEnv("CLOUDINARY_PRESET", "chatsync_unsigned"), getEnv("CLOUDINARY_FOLDER", "chat_uploads"))
	generator := genai.NewClient(getEnv("GENAI_API_KEY", ""), getEnv("GENAI_MODEL", "gemini-1.5-flash"))

	audit := telemetry.NewAuditEmitter(publisher, "audit_log.chatsync", "chatsync", getEnv("ENVIRONMENT", "dev"))

	manager := handlers.NewSessionManager(feeds, store, messageRepo, uploader, generator, hub)

	profileHandler := handlers.NewProfileHandler(userRepo, tokens, feeds, audit)
	groupHandler := handlers.NewGroupHandler(groupRepo, feeds, audit)
	sessionHandler := handlers.NewSessionHandler(manager, audit)
	feedWS := ws.NewFeedWebSocketHandler(hub, tokens)

	router := gin.Default()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("chatsync"))
	router.Use(observability.HTTPMetricsMiddleware())

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.POST("/auth/signup", profileHandler.Signup)
	router.POST("/auth/login", profileHandler.Login)

	authMiddleware := middleware.AuthMiddleware(tokens)

	router.GET("/profile", authMiddleware, profileHandler.GetProfile)
	router.PUT("/profile", authMiddleware, profileHandler.UpdateProfile)

	router.POST("/groups", authMiddleware, groupHandler.CreateGroup)
	router.GET("/groups", authMiddleware, groupHandler.ListGroups)
	router.POST("/groups/:group_id/members", authMiddleware, groupHandler.AddMembers)
	router.DELETE("/groups/:group_id/members/:member_id", authMiddleware, groupHandler.RemoveMember)

	router.POST("/session", authMiddleware, sessionHandler.Open)
	router.DELETE("/session", authMiddleware, sessionHandler.Close)
	router.GET("/session/state", authMiddleware, sessionHandler.State)
	router.PUT("/session/target", authMiddleware, sessionHandler.SelectTarget)
	router.POST("/session/typing", authMiddleware, sessionHandler.Typing)
	router.POST("/session/messages", authMiddleware, sessionHandler.SendMessage)
	router.POST("/session/messages/:message_id/reactions", authMiddleware, sessionHandler.AddReaction)
	router.DELETE("/session/messages/:message_id/reactions/:emoji", authMiddleware, sessionHandler.RemoveReaction)
	router.POST("/session/summary", authMiddleware, sessionHandler.Summarize)

	router.GET("/ws/feed", feedWS.Handle)

	// Process exit counts as connection loss: closing the store fires the
	// deferred offline writes of every session still open. Sessions closed
	// through logout have already withdrawn theirs.
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-stop
		if err := store.Close(); err != nil {
			log.Printf("redis close failed: %v", err)
		}
		os.Exit(0)
	}()

	port := getEnv("PORT", "8086")
	if err := router.Run(":" + port); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}
