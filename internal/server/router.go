package server

import (
  "github.com/gin-contrib/cors"
  "github.com/gin-gonic/gin"

  "github.com/localchat-ai/localchat-backend/internal/handlers"
  "github.com/localchat-ai/localchat-backend/internal/middleware"
)

type RouterConfig struct {
  AuthHandler    *handlers.AuthHandler
  AuthMiddleware *middleware.AuthMiddleware
  MeHandler      *handlers.MeHandler
  ChatHandler    *handlers.ChatHandler
  WsHandler      gin.HandlerFunc
  AvatarDir      string
  AllowOrigins   []string
}

func NewRouter(cfg RouterConfig) *gin.Engine {
  router := gin.Default()

  //-----------------------------------------
  // Cors Setup
  //-----------------------------------------
  origins := cfg.AllowOrigins
  if len(origins) == 0 {
    origins = []string{"http://localhost:3000"}
  }
  router.Use(cors.New(cors.Config{
    AllowOrigins:     origins,
    AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
    AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
    AllowCredentials: true,
  }))

  //-----------------------------------------
  // Health Routes
  //-----------------------------------------
  router.GET("/healthz", handlers.Healthz)

  //-----------------------------------------
  // Static Avatars
  //-----------------------------------------
  if cfg.AvatarDir != "" {
    router.Static("/static/avatars", cfg.AvatarDir)
  }

  //-----------------------------------------
  // Public Routes
  //-----------------------------------------
  api := router.Group("/api")
  {
    api.POST("/register", cfg.AuthHandler.Register)
    api.POST("/login", cfg.AuthHandler.Login)
  }

  // The relay socket authenticates inside the handler so a bad token gets
  // an auth_error event instead of a plain 401.
  router.GET("/ws", cfg.WsHandler)

  //------------------------------------------
  // Protected Routes
  //------------------------------------------
  protected := api.Group("/")
  protected.Use(cfg.AuthMiddleware.RequireAuth())
  protected.POST("/refresh", cfg.AuthHandler.Refresh)
  protected.POST("/logout", cfg.AuthHandler.Logout)

  //ME
  protected.GET("/me", cfg.MeHandler.GetMe)

  //Chats
  protected.GET("/chats", cfg.ChatHandler.GetUserChats)
  protected.POST("/chats", cfg.ChatHandler.CreateChat)
  protected.GET("/chats/:chatID", cfg.ChatHandler.GetChat)
  protected.GET("/chats/:chatID/messages", cfg.ChatHandler.GetChatMessages)
  protected.DELETE("/chats/:chatID", cfg.ChatHandler.DeleteChat)

  return router
}
