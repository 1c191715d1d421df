package services

import (
  "context"
  "fmt"

  "github.com/google/uuid"
  "gorm.io/gorm"

  "github.com/localchat-ai/localchat-backend/internal/logger"
  "github.com/localchat-ai/localchat-backend/internal/repos"
  "github.com/localchat-ai/localchat-backend/internal/requestdata"
  "github.com/localchat-ai/localchat-backend/internal/types"
)

type MeService interface {
  GetMe(ctx context.Context, tx *gorm.DB) (*types.User, error)
}

type meService struct {
  log      *logger.Logger
  userRepo repos.UserRepo
}

func NewMeService(log *logger.Logger, userRepo repos.UserRepo) MeService {
  serviceLog := log.With("service", "MeService")
  return &meService{log: serviceLog, userRepo: userRepo}
}

func (ms *meService) GetMe(ctx context.Context, tx *gorm.DB) (*types.User, error) {
  rd := requestdata.GetRequestData(ctx)
  if rd == nil || rd.UserID == uuid.Nil {
    ms.log.Warn("No Request Data found in context, Cannot proceed")
    return nil, fmt.Errorf("no request data found in context")
  }
  users, err := ms.userRepo.GetByIDs(ctx, tx, []uuid.UUID{rd.UserID})
  if err != nil {
    ms.log.Warn("Failure to retrieve user by id", "error", err)
    return nil, fmt.Errorf("error retrieving user: %w", err)
  }
  if len(users) == 0 {
    return nil, fmt.Errorf("user not found")
  }
  return users[0], nil
}
