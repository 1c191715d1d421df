package main

import (
  "fmt"
  "os"
  "strings"
  "time"

  "github.com/localchat-ai/localchat-backend/internal/db"
  "github.com/localchat-ai/localchat-backend/internal/handlers"
  "github.com/localchat-ai/localchat-backend/internal/logger"
  "github.com/localchat-ai/localchat-backend/internal/middleware"
  "github.com/localchat-ai/localchat-backend/internal/relay"
  "github.com/localchat-ai/localchat-backend/internal/repos"
  "github.com/localchat-ai/localchat-backend/internal/server"
  "github.com/localchat-ai/localchat-backend/internal/services"
  "github.com/localchat-ai/localchat-backend/internal/socket"
  "github.com/localchat-ai/localchat-backend/internal/utils"
)

func main() {
  // Logger Setup
  logMode := os.Getenv("LOG_MODE")
  if logMode == "" {
    logMode = "development"
  }
  log, err := logger.New(logMode)
  if err != nil {
    fmt.Printf("failed to init logger: %v\n", err)
    os.Exit(1)
  }
  defer log.Sync()

  // Environment Variables
  log.Info("Attempting to load environment variables for Main now...")
  jwtSecretKey := utils.GetEnv("JWT_SECRET_KEY", "defaultsecret", log)
  accessTokenTTL := utils.GetEnvAsInt("ACCESS_TOKEN_TTL", 3600, log)
  refreshTokenTTL := utils.GetEnvAsInt("REFRESH_TOKEN_TTL", 86400, log)
  redisAddress := utils.GetEnv("REDIS_ADDRESS", "localhost:6379", log)
  redisPassword := utils.GetEnv("REDIS_PASSWORD", "", log)
  ollamaBaseURL := utils.GetEnv("OLLAMA_BASE_URL", "http://localhost:11434", log)
  ollamaModel := utils.GetEnv("OLLAMA_MODEL", "llama3:latest", log)
  flushInterval := utils.GetEnvAsMillis("RELAY_FLUSH_INTERVAL_MS", 100, log)
  systemPreamble := utils.GetEnv("SYSTEM_PREAMBLE", "", log)
  avatarDir := utils.GetEnv("AVATAR_DIR", "./assets/avatars", log)
  allowOrigins := utils.GetEnv("CORS_ALLOW_ORIGINS", "http://localhost:3000", log)
  log.Debug("Environment variables loaded for Main :)",
    "accessTokenTTL", accessTokenTTL,
    "refreshTokenTTL", refreshTokenTTL,
    "redisAddress", redisAddress,
    "ollamaBaseURL", ollamaBaseURL,
    "ollamaModel", ollamaModel,
    "flushInterval", flushInterval,
    "avatarDir", avatarDir,
  )

  // Postgres Setup
  log.Info("Setting Up Postgres from Main now...")
  postgresService, err := db.NewPostgresService(log)
  if err != nil {
    log.Error("DB init failed", "error", err)
    os.Exit(1)
  }
  if err = postgresService.AutoMigrateAll(); err != nil {
    log.Error("Postgres auto migration failed", "error", err)
    os.Exit(1)
  }
  thePG := postgresService.DB()
  log.Info("Postgres Setup From Main Successful :)")

  // Repositories Setup
  log.Info("Setting Up Repositories from Main now...")
  userRepo := repos.NewUserRepo(thePG, log)
  userTokenRepo := repos.NewUserTokenRepo(thePG, log)
  chatRepo := repos.NewChatRepo(thePG, log)
  messageRepo := repos.NewMessageRepo(thePG, log)
  log.Info("Repositories Set Up From Main Successful :)")

  // Websocket Setup
  log.Info("Setting Up Websocket Hub From Main Now :)")
  wsHub := socket.NewHub(log)
  log.Info("Websocket Hub Set Up From Main Successful :)")

  // Redis PubSub
  log.Info("Setting Up Redis PubSub From Main Now :)")
  redisChanName := "localchat_hub_broadcast"
  redisPubSub, err := socket.NewRedisPubSub(log, redisAddress, redisPassword, redisChanName)
  if err != nil {
    log.Warn("Failed to init redis pubsub", "error", err)
  } else {
    if err := redisPubSub.StartSubscriber(wsHub); err != nil {
      log.Warn("Failed to subscribe to Redis pub/sub", "error", err)
    } else {
      wsHub.SetRedisPubSub(redisPubSub)
      log.Info("Redis pubsub is active!")
    }
  }
  log.Info("Successfully Set up Redis Pub Sub From Main :)")

  // Services Setup
  log.Info("Setting up Services from Main now...")
  avatarService, err := services.NewAvatarService(log, avatarDir, "/static/avatars")
  if err != nil {
    log.Error("Fatal error: Cannot init AvatarService", "error", err)
    os.Exit(1)
  }
  authService := services.NewAuthService(thePG, log, userRepo, userTokenRepo, avatarService, jwtSecretKey, time.Duration(accessTokenTTL)*time.Second, time.Duration(refreshTokenTTL)*time.Second)
  meService := services.NewMeService(log, userRepo)
  chatManagerService := services.NewChatManagerService(thePG, log, chatRepo, messageRepo)
  inferenceService := services.NewOllamaService(log, ollamaBaseURL, ollamaModel)
  log.Info("Services Set Up From Main Successful :)")

  // Relay Orchestrator Setup
  log.Info("Setting Up Relay Orchestrator from Main now...")
  orchestrator := relay.NewOrchestrator(log, chatManagerService, inferenceService, flushInterval, systemPreamble)
  log.Info("Relay Orchestrator Set Up From Main Successful :)")

  //  Handler Setup
  log.Info("Setting Up Handlers from Main now...")
  authHandler := handlers.NewAuthHandler(authService)
  meHandler := handlers.NewMeHandler(meService)
  chatHandler := handlers.NewChatHandler(chatManagerService, wsHub)
  wsHandler := handlers.WsHandler(wsHub, authService, chatManagerService, orchestrator, log)
  log.Info("Handlers Set Up From Main Successful :)")

  // MiddleWare Setup
  log.Info("Setting Up Middleware from Main now...")
  authMiddleware := middleware.NewAuthMiddleware(log, authService)
  log.Info("Middleware Set Up From Main Successful :)")

  // Router Setup
  log.Info("Setting Up Router from Main now...")
  router := server.NewRouter(server.RouterConfig{
    AuthHandler:    authHandler,
    AuthMiddleware: authMiddleware,
    MeHandler:      meHandler,
    ChatHandler:    chatHandler,
    WsHandler:      wsHandler,
    AvatarDir:      avatarDir,
    AllowOrigins:   strings.Split(allowOrigins, ","),
  })
  log.Info("Router Set Up From Main Successful :)")

  port := utils.GetEnv("PORT", "8080", log)
  fmt.Printf("Server listening on :%s\n", port)
  if err := router.Run(":" + port); err != nil {
    log.Warn("Server failed", "error", err)
  }

  // On Shutdown
  if redisPubSub != nil {
    redisPubSub.Stop()
  }
}
