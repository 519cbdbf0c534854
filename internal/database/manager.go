package database

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/velia-labs/imagematch/internal/models"
	"github.com/velia-labs/imagematch/internal/ranking"
)

// Database connection manager
type Manager struct {
	DB     *gorm.DB
	Redis  *redis.Client
	logger *logrus.Logger
}

// Database configuration
type Config struct {
	DatabaseURL string
	RedisURL    string
	LogLevel    string
}

// NewManager creates a new database manager with connection pooling
func NewManager(config *Config, log *logrus.Logger) (*Manager, error) {
	// Configure GORM logger
	gormLogger := logger.Default.LogMode(logger.Silent)
	if config.LogLevel == "debug" {
		gormLogger = logger.Default.LogMode(logger.Info)
	}

	// Open database connection with pooling
	db, err := gorm.Open(postgres.Open(config.DatabaseURL), &gorm.Config{
		Logger:                 gormLogger,
		SkipDefaultTransaction: true, // Improve performance
		PrepareStmt:            true, // Cache prepared statements
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Configure connection pool
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetConnMaxIdleTime(10 * time.Minute)

	// Test database connection
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Connect to Redis
	redisOpts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	// Configure Redis connection pool
	redisOpts.PoolSize = 20
	redisOpts.MinIdleConns = 5
	redisOpts.MaxConnAge = time.Hour
	redisOpts.IdleTimeout = 30 * time.Minute
	redisOpts.IdleCheckFrequency = 30 * time.Second

	redisClient := redis.NewClient(redisOpts)

	// Test Redis connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Info("Database and Redis connections established successfully")

	return &Manager{
		DB:     db,
		Redis:  redisClient,
		logger: log,
	}, nil
}

// Migrate runs database migrations
func (m *Manager) Migrate() error {
	m.logger.Info("Running database migrations...")

	return m.DB.AutoMigrate(
		&models.User{},
		&models.ImageDescriptor{},
		&models.FeedbackEvent{},
		&models.SystemHealth{},
	)
}

// Close closes all database connections
func (m *Manager) Close() error {
	if m.Redis != nil {
		if err := m.Redis.Close(); err != nil {
			m.logger.WithError(err).Error("Failed to close Redis connection")
		}
	}

	if m.DB != nil {
		sqlDB, err := m.DB.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}

	return nil
}

// Health check methods
func (m *Manager) PingDatabase() error {
	sqlDB, err := m.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

func (m *Manager) PingRedis() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.Redis.Ping(ctx).Err()
}

// Cache implementation
type Cache struct {
	client *redis.Client
	logger *logrus.Logger
}

func NewCache(client *redis.Client, logger *logrus.Logger) *Cache {
	return &Cache{
		client: client,
		logger: logger,
	}
}

// Cache key constants
const (
	RankedResultsKey    = "ranked:results:%s"
	SessionWeightsKey   = "session:weights:%s"
	QueryDescriptorsKey = "query:descriptors:%s"
	SystemHealthKey     = "system:health"
)

// CacheRankedResults caches the ranked result list for a session
func (c *Cache) CacheRankedResults(ctx context.Context, session string, results []models.RankedImage, expiration time.Duration) error {
	key := fmt.Sprintf(RankedResultsKey, session)

	data, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("failed to marshal ranked results: %w", err)
	}

	return c.client.Set(ctx, key, data, expiration).Err()
}

// GetCachedRankedResults retrieves the ranked result list for a session
func (c *Cache) GetCachedRankedResults(ctx context.Context, session string) ([]models.RankedImage, error) {
	key := fmt.Sprintf(RankedResultsKey, session)

	data, err := c.client.Get(ctx, key).Result()
	if err != nil {
		return nil, err
	}

	var results []models.RankedImage
	err = json.Unmarshal([]byte(data), &results)
	return results, err
}

// CacheSessionWeights caches the current descriptor weights for a session
func (c *Cache) CacheSessionWeights(ctx context.Context, session string, weights ranking.Weights, expiration time.Duration) error {
	key := fmt.Sprintf(SessionWeightsKey, session)

	data, err := json.Marshal(weights)
	if err != nil {
		return fmt.Errorf("failed to marshal session weights: %w", err)
	}

	return c.client.Set(ctx, key, data, expiration).Err()
}

// GetCachedSessionWeights retrieves the descriptor weights for a session
func (c *Cache) GetCachedSessionWeights(ctx context.Context, session string) (ranking.Weights, error) {
	key := fmt.Sprintf(SessionWeightsKey, session)

	data, err := c.client.Get(ctx, key).Result()
	if err != nil {
		return nil, err
	}

	var weights ranking.Weights
	err = json.Unmarshal([]byte(data), &weights)
	return weights, err
}

// CacheQueryDescriptors caches the query descriptor set for a session
func (c *Cache) CacheQueryDescriptors(ctx context.Context, session string, descriptors interface{}, expiration time.Duration) error {
	key := fmt.Sprintf(QueryDescriptorsKey, session)

	data, err := json.Marshal(descriptors)
	if err != nil {
		return fmt.Errorf("failed to marshal query descriptors: %w", err)
	}

	return c.client.Set(ctx, key, data, expiration).Err()
}

// GetCachedQueryDescriptors retrieves the query descriptor set for a session
func (c *Cache) GetCachedQueryDescriptors(ctx context.Context, session string, out interface{}) error {
	key := fmt.Sprintf(QueryDescriptorsKey, session)

	data, err := c.client.Get(ctx, key).Result()
	if err != nil {
		return err
	}

	return json.Unmarshal([]byte(data), out)
}

// CacheSystemHealth caches system health status
func (c *Cache) CacheSystemHealth(ctx context.Context, health []models.SystemHealth, expiration time.Duration) error {
	data, err := json.Marshal(health)
	if err != nil {
		return fmt.Errorf("failed to marshal system health: %w", err)
	}

	return c.client.Set(ctx, SystemHealthKey, data, expiration).Err()
}

// GetCachedSystemHealth retrieves cached system health
func (c *Cache) GetCachedSystemHealth(ctx context.Context) ([]models.SystemHealth, error) {
	data, err := c.client.Get(ctx, SystemHealthKey).Result()
	if err != nil {
		return nil, err
	}

	var health []models.SystemHealth
	err = json.Unmarshal([]byte(data), &health)
	return health, err
}

// InvalidateSession removes all cached state for a session
func (c *Cache) InvalidateSession(ctx context.Context, session string) error {
	keys := []string{
		fmt.Sprintf(RankedResultsKey, session),
		fmt.Sprintf(SessionWeightsKey, session),
		fmt.Sprintf(QueryDescriptorsKey, session),
	}
	return c.client.Del(ctx, keys...).Err()
}

// ClearAllCache clears all cache data
func (c *Cache) ClearAllCache(ctx context.Context) error {
	return c.client.FlushDB(ctx).Err()
}

// Cache statistics
func (c *Cache) GetCacheStats(ctx context.Context) (map[string]interface{}, error) {
	info := c.client.Info(ctx, "stats").Val()

	stats := map[string]interface{}{
		"keyspace_hits":     c.extractStat(info, "keyspace_hits"),
		"keyspace_misses":   c.extractStat(info, "keyspace_misses"),
		"used_memory":       c.extractStat(info, "used_memory"),
		"connected_clients": c.extractStat(info, "connected_clients"),
	}

	return stats, nil
}

func (c *Cache) extractStat(info, key string) string {
	lines := strings.Split(info, "\r\n")
	for _, line := range lines {
		if strings.HasPrefix(line, key+":") {
			return strings.TrimPrefix(line, key+":")
		}
	}
	return "0"
}
