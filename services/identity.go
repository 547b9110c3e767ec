package services

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"splitpay-backend/models"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

const identityCacheTTL = 10 * time.Minute

// DBIdentityResolver resolves participant references against the users table,
// with an optional redis cache in front. The cache only ever shortcuts a
// positive lookup; it is never the source of truth.
type DBIdentityResolver struct {
	db    *gorm.DB
	redis *redis.Client // nil when redis is unavailable
}

func NewDBIdentityResolver(db *gorm.DB, redisClient *redis.Client) *DBIdentityResolver {
	return &DBIdentityResolver{db: db, redis: redisClient}
}

func (r *DBIdentityResolver) ResolveUser(ctx context.Context, userID uuid.UUID) (*Identity, error) {
	cacheKey := "identity:" + userID.String()

	if r.redis != nil {
		if raw, err := r.redis.Get(ctx, cacheKey).Result(); err == nil {
			var identity Identity
			if json.Unmarshal([]byte(raw), &identity) == nil {
				return &identity, nil
			}
		}
	}

	var user models.User
	if err := r.db.WithContext(ctx).First(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &models.NotFoundError{Resource: "user", ID: userID.String()}
		}
		return nil, err
	}

	identity := &Identity{Name: user.Name, DisplayHandle: user.DisplayHandle}
	if r.redis != nil {
		if raw, err := json.Marshal(identity); err == nil {
			r.redis.Set(ctx, cacheKey, raw, identityCacheTTL)
		}
	}
	return identity, nil
}
