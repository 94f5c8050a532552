package clip

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/oszuidwest/zwfm-noisemeter/internal/types"
	"github.com/oszuidwest/zwfm-noisemeter/internal/util"
)

const uploadTimeout = 5 * time.Minute

// Uploader stores a saved clip remotely and returns its object key.
type Uploader interface {
	Upload(cfg *types.S3Config, localPath string) (string, error)
}

// S3Uploader uploads clips to an S3-compatible bucket.
type S3Uploader struct{}

// createS3Client creates an S3 client with the given configuration.
func createS3Client(cfg *types.S3Config) *s3.Client {
	creds := credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")

	options := []func(*s3.Options){
		func(o *s3.Options) {
			o.Credentials = creds
			o.Region = "auto"
		},
	}
	if cfg.Endpoint != "" {
		options = append(options, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	return s3.New(s3.Options{}, options...)
}

// ObjectKey returns the bucket key for a clip file.
func ObjectKey(prefix, filename string) string {
	if prefix == "" {
		return filename
	}
	return path.Join(prefix, filename)
}

// Upload puts the file at localPath into the configured bucket.
func (S3Uploader) Upload(cfg *types.S3Config, localPath string) (string, error) {
	ctx, cancel := context.WithTimeoutCause(context.Background(), uploadTimeout, errors.New("s3 upload timeout"))
	defer cancel()

	file, err := os.Open(localPath)
	if err != nil {
		return "", util.WrapError("open clip for upload", err)
	}
	defer util.SafeCloseFunc(file, "clip upload")()

	info, err := file.Stat()
	if err != nil {
		return "", util.WrapError("stat clip for upload", err)
	}

	key := ObjectKey(cfg.Prefix, filepath.Base(localPath))
	_, err = createS3Client(cfg).PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(cfg.Bucket),
		Key:           aws.String(key),
		Body:          file,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String("audio/wav"),
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}

	slog.Info("clip uploaded", "s3_key", key)
	return key, nil
}

// TestS3Connection uploads and deletes a small object to verify access.
func TestS3Connection(cfg *types.S3Config) error {
	if !cfg.IsConfigured() {
		return fmt.Errorf("S3 is not configured")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client := createS3Client(cfg)
	testKey := ObjectKey(cfg.Prefix, fmt.Sprintf("test-connection-%d.txt", time.Now().UnixNano()))
	testContent := []byte("ZuidWest noise meter connection test")

	if _, err := client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(cfg.Bucket),
		Key:           aws.String(testKey),
		Body:          bytes.NewReader(testContent),
		ContentLength: aws.Int64(int64(len(testContent))),
	}); err != nil {
		return fmt.Errorf("upload test file: %w", err)
	}

	if _, err := client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(cfg.Bucket),
		Key:    aws.String(testKey),
	}); err != nil {
		slog.Warn("failed to delete test file", "key", testKey, "error", err)
	}
	return nil
}
