package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"
)

const (
	defaultURI         = "mongodb://localhost:27017"
	defaultDatabase    = "voiceagent"
	defaultMaxPoolSize = 10
	connectTimeout     = 10 * time.Second
)

// Config holds connection settings. Zero values take the defaults.
type Config struct {
	URI         string
	Database    string
	MaxPoolSize uint64
}

// Client is a connected MongoDB database handle.
type Client struct {
	client   *mongo.Client
	database *mongo.Database
	logger   *zap.Logger
}

// NewClient connects and pings the primary before returning.
func NewClient(ctx context.Context, config Config, logger *zap.Logger) (*Client, error) {
	if config.URI == "" {
		config.URI = defaultURI
		logger.Info("Using default MongoDB URI", zap.String("uri", config.URI))
	}
	if config.Database == "" {
		config.Database = defaultDatabase
	}
	if config.MaxPoolSize == 0 {
		config.MaxPoolSize = defaultMaxPoolSize
	}

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().
		ApplyURI(config.URI).
		SetAppName("voiceagent").
		SetMaxPoolSize(config.MaxPoolSize).
		SetServerSelectionTimeout(5*time.Second).
		SetConnectTimeout(connectTimeout))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	logger.Info("Connected to MongoDB", zap.String("database", config.Database))
	return &Client{
		client:   client,
		database: client.Database(config.Database),
		logger:   logger,
	}, nil
}

// Database returns the configured database.
func (c *Client) Database() *mongo.Database {
	return c.database
}

// Transcripts returns a transcript repository on this database.
func (c *Client) Transcripts() *TranscriptRepository {
	return NewTranscriptRepository(c.database, c.logger)
}

// Close disconnects. It is safe to call once.
func (c *Client) Close(ctx context.Context) error {
	if err := c.client.Disconnect(ctx); err != nil {
		c.logger.Error("Failed to disconnect from MongoDB", zap.Error(err))
		return err
	}
	c.logger.Info("Disconnected from MongoDB")
	return nil
}
