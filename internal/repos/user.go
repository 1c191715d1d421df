package repos

import (
    "context"
    "time"

    "github.com/google/uuid"
    "gorm.io/gorm"

    "github.com/localchat-ai/localchat-backend/internal/logger"
    "github.com/localchat-ai/localchat-backend/internal/types"
)

type UserRepo interface {
    Create(ctx context.Context, tx *gorm.DB, users []*types.User) ([]*types.User, error)
    GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.User, error)
    GetByEmails(ctx context.Context, tx *gorm.DB, emails []string) ([]*types.User, error)
    EmailExists(ctx context.Context, tx *gorm.DB, email string) (bool, error)
    UsernameExists(ctx context.Context, tx *gorm.DB, username string) (bool, error)
    TouchLastLogin(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
    Update(ctx context.Context, tx *gorm.DB, users []*types.User) ([]*types.User, error)
}

type userRepo struct {
    db      *gorm.DB
    log     *logger.Logger
}

func NewUserRepo(db *gorm.DB, baseLog *logger.Logger) UserRepo {
    return &userRepo{
        db: db,
        log: baseLog.With("repo", "UserRepo"),
    }
}

func (ur *userRepo) Create(ctx context.Context, tx *gorm.DB, users []*types.User) ([]*types.User, error) {
    if tx == nil {
        tx = ur.db
    }
    if len(users) == 0 {
        return users, nil
    }
    if err := tx.WithContext(ctx).Create(&users).Error; err != nil {
        ur.log.Error("failed to create users", "error", err)
        return nil, err
    }
    return users, nil
}

func (ur *userRepo) GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.User, error) {
    if tx == nil {
        tx = ur.db
    }
    var users []*types.User
    if err := tx.WithContext(ctx).
        Where("id IN ?", ids).
        Find(&users).Error; err != nil {
        return nil, err
    }
    return users, nil
}

func (ur *userRepo) GetByEmails(ctx context.Context, tx *gorm.DB, emails []string) ([]*types.User, error) {
    if tx == nil {
        tx = ur.db
    }
    var users []*types.User
    if err := tx.WithContext(ctx).
        Where("email IN ?", emails).
        Find(&users).Error; err != nil {
        return nil, err
    }
    return users, nil
}

func (ur *userRepo) EmailExists(ctx context.Context, tx *gorm.DB, email string) (bool, error) {
    if tx == nil {
        tx = ur.db
    }
    var count int64
    if err := tx.WithContext(ctx).
        Model(&types.User{}).
        Where("email = ?", email).
        Count(&count).Error; err != nil {
        return false, err
    }
    return count > 0, nil
}

func (ur *userRepo) UsernameExists(ctx context.Context, tx *gorm.DB, username string) (bool, error) {
    if tx == nil {
        tx = ur.db
    }
    var count int64
    if err := tx.WithContext(ctx).
        Model(&types.User{}).
        Where("username = ?", username).
        Count(&count).Error; err != nil {
        return false, err
    }
    return count > 0, nil
}

func (ur *userRepo) TouchLastLogin(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
    if tx == nil {
        tx = ur.db
    }
    now := time.Now()
    return tx.WithContext(ctx).
        Model(&types.User{}).
        Where("id = ?", id).
        Update("last_login_at", &now).Error
}

func (ur *userRepo) Update(ctx context.Context, tx *gorm.DB, users []*types.User) ([]*types.User, error) {
    if tx == nil {
        tx = ur.db
    }
    for _, u := range users {
        if err := tx.WithContext(ctx).Save(u).Error; err != nil {
            ur.log.Error("failed to update user", "error", err, "userID", u.ID)
            return nil, err
        }
    }
    return users, nil
}
