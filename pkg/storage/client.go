// Package storage moves ISOs between S3 and the local disk: the source ISO
// can be fetched from a bucket and the mastered ISO published back to one.
package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/dustin/go-humanize"

	"github.com/isoforge/isoforge/pkg/errors"
)

// Client provides S3 storage operations
type Client struct {
	s3Client *s3.Client
	bucket   string
}

// NewClient creates a new S3 client. Anonymous clients can only read public
// buckets; publishing needs credentials from the default chain.
func NewClient(ctx context.Context, bucket, region string, anonymous bool) (*Client, error) {
	slog.Info("s3_client_init", "bucket", bucket, "region", region, "anonymous", anonymous)

	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if anonymous {
		opts = append(opts, config.WithCredentialsProvider(aws.AnonymousCredentials{}))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		slog.Error("aws_config_load_failed", "error", err)
		return nil, errors.Wrap(err, "failed to load AWS config")
	}

	slog.Info("s3_client_created", "bucket", bucket)

	return &Client{
		s3Client: s3.NewFromConfig(cfg),
		bucket:   bucket,
	}, nil
}

// Bucket returns the bucket the client talks to.
func (c *Client) Bucket() string {
	return c.bucket
}

// TransferResult contains transfer metadata
type TransferResult struct {
	Key       string
	LocalPath string
	SHA256    string
	Size      int64
}

// Download downloads an object from S3 and computes its SHA256. A partial
// file is removed when the transfer fails.
func (c *Client) Download(ctx context.Context, key, localPath string) (*TransferResult, error) {
	slog.Info("s3_download_start", "bucket", c.bucket, "s3_key", key)

	result, err := c.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		slog.Error("s3_get_object_failed", "s3_key", key, "error", err)
		return nil, errors.E(errors.ErrResourceUnavailable, "s3_get_object", err)
	}
	defer result.Body.Close()

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return nil, errors.E(errors.ErrFilesystemFailure, "create_download_dir", err)
	}
	f, err := os.Create(localPath)
	if err != nil {
		slog.Error("local_file_creation_failed", "path", localPath, "error", err)
		return nil, errors.E(errors.ErrFilesystemFailure, "create_local_file", err)
	}

	hash := sha256.New()
	size, err := io.Copy(io.MultiWriter(f, hash), result.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(localPath)
		slog.Error("s3_download_failed", "s3_key", key, "error", err)
		return nil, errors.E(errors.ErrFilesystemFailure, "s3_download", err)
	}

	checksum := hex.EncodeToString(hash.Sum(nil))

	slog.Info("s3_download_complete",
		"s3_key", key,
		"size", humanize.IBytes(uint64(size)),
		"local_path", localPath,
		"sha256", checksum[:16]+"...",
	)

	return &TransferResult{
		Key:       key,
		LocalPath: localPath,
		SHA256:    checksum,
		Size:      size,
	}, nil
}

// Upload publishes localPath under key. The SHA256 is computed before the
// transfer and stored as object metadata.
func (c *Client) Upload(ctx context.Context, localPath, key string) (*TransferResult, error) {
	slog.Info("s3_upload_start", "bucket", c.bucket, "s3_key", key, "local_path", localPath)

	checksum, size, err := fileSHA256(localPath)
	if err != nil {
		slog.Error("s3_upload_hash_failed", "local_path", localPath, "error", err)
		return nil, errors.E(errors.ErrFilesystemFailure, "hash_upload", err)
	}

	f, err := os.Open(localPath)
	if err != nil {
		return nil, errors.E(errors.ErrFilesystemFailure, "open_upload", err)
	}
	defer f.Close()

	_, err = c.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(c.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String("application/x-iso9660-image"),
		Metadata:      map[string]string{"sha256": checksum},
	})
	if err != nil {
		slog.Error("s3_put_object_failed", "s3_key", key, "error", err)
		return nil, errors.E(errors.ErrResourceUnavailable, "s3_put_object", err)
	}

	slog.Info("s3_upload_complete",
		"s3_key", key,
		"size", humanize.IBytes(uint64(size)),
		"sha256", checksum[:16]+"...",
	)

	return &TransferResult{
		Key:       key,
		LocalPath: localPath,
		SHA256:    checksum,
		Size:      size,
	}, nil
}

// ListObjects lists all objects in the bucket with a given prefix
func (c *Client) ListObjects(ctx context.Context, prefix string) ([]string, error) {
	slog.Info("s3_list_start", "bucket", c.bucket, "prefix", prefix)

	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucket),
		Prefix: aws.String(prefix),
	}

	var keys []string
	paginator := s3.NewListObjectsV2Paginator(c.s3Client, input)

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			slog.Error("s3_list_failed", "prefix", prefix, "error", err)
			return nil, errors.Wrap(err, "failed to list objects")
		}

		for _, obj := range page.Contents {
			if obj.Key != nil {
				keys = append(keys, *obj.Key)
			}
		}
	}

	slog.Info("s3_list_complete", "prefix", prefix, "object_count", len(keys))

	return keys, nil
}

// Exists checks if an object exists in S3
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	_, err := c.s3Client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			slog.Info("s3_object_not_found", "s3_key", key)
			return false, nil
		}
		slog.Error("s3_head_object_failed", "s3_key", key, "error", err)
		return false, errors.Wrap(err, "failed to check object existence")
	}

	slog.Info("s3_object_exists", "s3_key", key)
	return true, nil
}

func fileSHA256(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	hash := sha256.New()
	size, err := io.Copy(hash, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(hash.Sum(nil)), size, nil
}
