package s3evidence

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gofiber/fiber/v2/log"

	"github.com/davidkroell/SpotRush/internal/pkg/env"
)

// Config holds S3 evidence archival configuration
type Config struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	BucketName      string
	EndpointURL     string // Optional for S3-compatible services
	Enabled         bool
}

// LoadConfig loads S3 configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AccessKeyID:     env.GetEnv("S3_ACCESS_KEY_ID", ""),
		SecretAccessKey: env.GetEnv("S3_SECRET_ACCESS_KEY", ""),
		Region:          env.GetEnv("S3_REGION", "us-west-001"),
		BucketName:      env.GetEnv("S3_BUCKET_NAME", ""),
		EndpointURL:     env.GetEnv("S3_ENDPOINT_URL", ""),
		Enabled:         env.GetEnv("S3_EVIDENCE_ENABLED", "false") == "true",
	}

	if cfg.Enabled {
		if cfg.AccessKeyID == "" {
			return nil, errors.New("S3_ACCESS_KEY_ID is required when evidence archival is enabled")
		}
		if cfg.SecretAccessKey == "" {
			return nil, errors.New("S3_SECRET_ACCESS_KEY is required when evidence archival is enabled")
		}
		if cfg.BucketName == "" {
			return nil, errors.New("S3_BUCKET_NAME is required when evidence archival is enabled")
		}
	}

	return cfg, nil
}

// IsEnabled returns true if evidence archival is enabled
func (c *Config) IsEnabled() bool {
	return c.Enabled
}

// ObjectKey generates the S3 object key for a pause-time screenshot.
// Format: challenges/YYYY/MM/<run uuid>/<unix ts>.png
func (c *Config) ObjectKey(runUUID string, at time.Time) string {
	return fmt.Sprintf("challenges/%04d/%02d/%s/%d.png", at.Year(), int(at.Month()), runUUID, at.Unix())
}

// Client uploads challenge screenshots for later operator review. Uploads
// are best effort: a failure is logged and never blocks the pause path.
type Client struct {
	s3Client *s3.Client
	config   *Config
}

// NewClient creates an S3 evidence client
func NewClient(cfg *Config) (*Client, error) {
	if !cfg.IsEnabled() {
		return nil, errors.New("S3 evidence archival is disabled")
	}

	awsConfig, err := config.LoadDefaultConfig(context.TODO(),
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	s3Client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
			o.UsePathStyle = true
		}
	})

	client := &Client{
		s3Client: s3Client,
		config:   cfg,
	}

	log.Infof("[S3Evidence] Initialized S3 client for bucket: %s", cfg.BucketName)
	return client, nil
}

// UploadScreenshot stores a pause-time screenshot and returns its object key.
func (c *Client) UploadScreenshot(ctx context.Context, runUUID string, screenshot []byte) (string, error) {
	key := c.config.ObjectKey(runUUID, time.Now())

	_, err := c.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.config.BucketName),
		Key:         aws.String(key),
		Body:        bytes.NewReader(screenshot),
		ContentType: aws.String("image/png"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload screenshot for run %s: %w", runUUID, err)
	}

	log.Infof("[S3Evidence] Uploaded challenge screenshot for run %s: %s", runUUID, key)
	return key, nil
}
