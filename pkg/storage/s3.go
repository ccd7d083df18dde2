package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3 implements Store on an S3 bucket. Snapshots are stored one object per
// room; alarms are stored as small timestamp objects alongside them.
//
// Example:
//
//	cfg, _ := config.LoadDefaultConfig(context.Background())
//	store := storage.NewS3(s3.NewFromConfig(cfg), "my-bucket", "rooms/")
type S3 struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3 creates an S3-backed store. prefix scopes all keys within the
// bucket (e.g. "rooms/").
func NewS3(client *s3.Client, bucket, prefix string) *S3 {
	return &S3{
		client: client,
		bucket: bucket,
		prefix: prefix,
	}
}

func (s *S3) snapshotKey(key string) string {
	return s.prefix + "snapshot/" + key
}

func (s *S3) alarmKey(key string) string {
	return s.prefix + "alarm/" + key
}

func isNotFound(err error) bool {
	var noKey *types.NoSuchKey
	if errors.As(err, &noKey) {
		return true
	}
	var notFound *types.NotFound
	return errors.As(err, &notFound)
}

// Get returns the snapshot object for key, or ErrNotFound.
func (s *S3) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.snapshotKey(key)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get snapshot: %w", err)
	}
	defer out.Body.Close()

	value, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read snapshot body: %w", err)
	}
	return value, nil
}

// Put uploads the snapshot object for key.
func (s *S3) Put(ctx context.Context, key string, value []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.snapshotKey(key)),
		Body:        bytes.NewReader(value),
		ContentType: aws.String("application/octet-stream"),
	})
	if err != nil {
		return fmt.Errorf("put snapshot: %w", err)
	}
	return nil
}

// SetAlarm uploads the eviction deadline object for key.
func (s *S3) SetAlarm(ctx context.Context, key string, at time.Time) error {
	body := at.UTC().Format(time.RFC3339Nano)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.alarmKey(key)),
		Body:        bytes.NewReader([]byte(body)),
		ContentType: aws.String("text/plain"),
	})
	if err != nil {
		return fmt.Errorf("set alarm: %w", err)
	}
	return nil
}

// DeleteAlarm removes the eviction deadline object for key. S3 delete is
// already a no-op for absent objects.
func (s *S3) DeleteAlarm(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.alarmKey(key)),
	})
	if err != nil {
		return fmt.Errorf("delete alarm: %w", err)
	}
	return nil
}

// Ping checks bucket reachability.
func (s *S3) Ping(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	return err
}

// Close is a no-op; the SDK client holds no persistent connections that
// need explicit teardown.
func (s *S3) Close() error { return nil }
