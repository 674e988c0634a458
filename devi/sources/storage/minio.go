package storage

import (
	"bytes"
	"context"
	"devi/devi/config"
	"devi/devi/utils/logging"
	"devi/devi/utils/types"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

var ErrExchangeNotFound = errors.New("exchange not found")

type MinIOClient struct {
	client *minio.Client
	bucket string
}

// ExchangeObject is one archived request/response round trip.
type ExchangeObject struct {
	UserID     string         `json:"user_id"`
	ResponseID string         `json:"response_id"`
	Prompts    []types.Prompt `json:"prompts"`
	Replies    []string       `json:"replies"`
	Timestamp  time.Time      `json:"timestamp"`
}

func NewMinIOClient(ctx context.Context, cfg config.Config) (*MinIOClient, error) {
	// Use insecure for local (no HTTPS)
	bucket := cfg.MinIOBucket
	client, err := minio.New(
		cfg.MinIOEndpoint,
		&minio.Options{
			Creds:  credentials.NewStaticV4(cfg.MinIOAccessKey, cfg.MinIOSecretKey, ""),
			Secure: false,
		},
	)
	if err != nil {
		return nil, err
	}
	// Create bucket if not exists
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, err
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, err
		}
		logging.AppLogger.Info("created bucket", zap.String("bucket", bucket))
	}
	return &MinIOClient{client: client, bucket: bucket}, nil
}

// ExchangeKey is exchanges/<user>/<yyyy-mm-dd>/<response id>.json
func ExchangeKey(obj ExchangeObject) string {
	return path.Join("exchanges", obj.UserID, obj.Timestamp.UTC().Format("2006-01-02"), obj.ResponseID+".json")
}

func (m *MinIOClient) UploadExchange(ctx context.Context, obj ExchangeObject) (string, error) {
	key := ExchangeKey(obj)
	data, err := json.Marshal(obj)
	if err != nil {
		return "", err
	}
	_, err = m.client.PutObject(ctx, m.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return "", fmt.Errorf("put %s: %w", key, err)
	}
	return key, nil
}

// Ping checks the bucket is reachable.
func (m *MinIOClient) Ping(ctx context.Context) error {
	ok, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("bucket %s missing", m.bucket)
	}
	return nil
}

func (m *MinIOClient) GetExchange(ctx context.Context, key string) (*ExchangeObject, error) {
	obj, err := m.client.GetObject(ctx, m.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, fmt.Errorf("%w: %s", ErrExchangeNotFound, key)
		}
		return nil, err
	}
	var out ExchangeObject
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
