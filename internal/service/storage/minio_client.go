package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"mediconnect-backend/pkg/logger"
)

// CircuitBreakerState represents the state of the circuit breaker
type CircuitBreakerState int

const (
	CircuitBreakerClosed CircuitBreakerState = iota
	CircuitBreakerHalfOpen
	CircuitBreakerOpen
)

// CircuitBreakerConfig holds circuit breaker configuration
type CircuitBreakerConfig struct {
	MaxFailures  int
	Timeout      time.Duration
	ResetTimeout time.Duration
}

// DefaultCircuitBreakerConfig returns default circuit breaker settings
func DefaultCircuitBreakerConfig() *CircuitBreakerConfig {
	return &CircuitBreakerConfig{
		MaxFailures:  5,
		Timeout:      10 * time.Second,
		ResetTimeout: 30 * time.Second,
	}
}

var errCircuitOpen = errors.New("object store circuit breaker is open")

// MinioClient wraps the MinIO client with a circuit breaker so a dead
// object store fails fast instead of stalling message sends.
type MinioClient struct {
	client *minio.Client
	config *CircuitBreakerConfig

	mu          sync.Mutex
	state       CircuitBreakerState
	failures    int
	lastFailure time.Time
}

// NewMinioClient creates a new MinIO client with resilience features
func NewMinioClient(endpoint, accessKey, secretKey string, useSSL bool) (*MinioClient, error) {
	minioClient, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	return &MinioClient{
		client: minioClient,
		config: DefaultCircuitBreakerConfig(),
		state:  CircuitBreakerClosed,
	}, nil
}

// EnsureBucket creates the bucket if it does not already exist.
func (c *MinioClient) EnsureBucket(ctx context.Context, bucketName string) error {
	exists, err := c.client.BucketExists(ctx, bucketName)
	if err != nil {
		return fmt.Errorf("failed to check bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err := c.client.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}

// UploadFile uploads an object with timeout and circuit breaker.
func (c *MinioClient) UploadFile(ctx context.Context, bucketName, objectName string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	if !c.allow() {
		return minio.UploadInfo{}, errCircuitOpen
	}

	uploadCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	info, err := c.client.PutObject(uploadCtx, bucketName, objectName, reader, size, opts)
	c.record(err)
	if err != nil {
		return minio.UploadInfo{}, fmt.Errorf("upload failed: %w", err)
	}

	return info, nil
}

// GetFile opens an object for reading with circuit breaker. The
// returned object streams lazily, so only the open is guarded.
func (c *MinioClient) GetFile(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (*minio.Object, error) {
	if !c.allow() {
		return nil, errCircuitOpen
	}

	obj, err := c.client.GetObject(ctx, bucketName, objectName, opts)
	c.record(err)
	if err != nil {
		return nil, fmt.Errorf("download failed: %w", err)
	}

	return obj, nil
}

// FetchObject opens an object and resolves its content type.
func (c *MinioClient) FetchObject(ctx context.Context, bucketName, objectName string) (io.ReadCloser, string, error) {
	obj, err := c.GetFile(ctx, bucketName, objectName, minio.GetObjectOptions{})
	if err != nil {
		return nil, "", err
	}

	stat, err := obj.Stat()
	if err != nil {
		obj.Close()
		c.record(err)
		return nil, "", fmt.Errorf("stat failed: %w", err)
	}

	return obj, stat.ContentType, nil
}

// DeleteFile removes an object with timeout and circuit breaker.
func (c *MinioClient) DeleteFile(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error {
	if !c.allow() {
		return errCircuitOpen
	}

	deleteCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	err := c.client.RemoveObject(deleteCtx, bucketName, objectName, opts)
	c.record(err)
	if err != nil {
		return fmt.Errorf("delete failed: %w", err)
	}

	return nil
}

// PresignedPut returns a presigned PUT URL. Presigning is local
// signing, no store round trip, so it bypasses the breaker.
func (c *MinioClient) PresignedPut(ctx context.Context, bucketName, objectName string, expiry time.Duration) (*url.URL, error) {
	return c.client.PresignedPutObject(ctx, bucketName, objectName, expiry)
}

// PresignedGet returns a presigned GET URL.
func (c *MinioClient) PresignedGet(ctx context.Context, bucketName, objectName string, expiry time.Duration) (*url.URL, error) {
	return c.client.PresignedGetObject(ctx, bucketName, objectName, expiry, url.Values{})
}

// allow reports whether a request may proceed, moving an open breaker
// to half-open once ResetTimeout has elapsed.
func (c *MinioClient) allow() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != CircuitBreakerOpen {
		return true
	}
	if time.Since(c.lastFailure) >= c.config.ResetTimeout {
		c.state = CircuitBreakerHalfOpen
		logger.Log.Info("object store circuit breaker half-open")
		return true
	}
	return false
}

func (c *MinioClient) record(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err == nil {
		if c.state != CircuitBreakerClosed {
			logger.Log.Info("object store circuit breaker closed")
		}
		c.state = CircuitBreakerClosed
		c.failures = 0
		c.lastFailure = time.Time{}
		return
	}

	c.failures++
	c.lastFailure = time.Now()
	logger.Log.Warn("object store operation failed",
		zap.Error(err),
		zap.Int("failures", c.failures))

	if c.failures >= c.config.MaxFailures || c.state == CircuitBreakerHalfOpen {
		c.state = CircuitBreakerOpen
		logger.Log.Error("object store circuit breaker opened",
			zap.Int("failures", c.failures))
	}
}

// ResetCircuitBreaker resets the circuit breaker
func (c *MinioClient) ResetCircuitBreaker() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = CircuitBreakerClosed
	c.failures = 0
	c.lastFailure = time.Time{}
}

// GetState returns the current circuit breaker state
func (c *MinioClient) GetState() CircuitBreakerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}
