package publish

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/seqpipe/seqpipe/internal/cache"
)

// ObjectConfig configures the S3-compatible object store publisher.
// Root is the s3://bucket/prefix results root from the run parameters.
type ObjectConfig struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Root      string
}

// ObjectStore publishes artifacts to an S3-compatible object store via the
// MinIO client. Idempotence uses the source content hash stored as object
// metadata: a re-publish with matching hash is skipped. Uploads go to a
// staging key and are server-side copied to the final key, so a crashed
// upload never leaves a partial object at the published address.
type ObjectStore struct {
	client *minio.Client
	bucket string
	prefix string
	region string

	initOnce sync.Once
	initErr  error
}

const contentHashMeta = "Seqpipe-Content-Sha256"

// NewObjectStore creates an object-store publisher for an s3:// root.
func NewObjectStore(cfg ObjectConfig) (*ObjectStore, error) {
	if !IsObjectStore(cfg.Root) {
		return nil, fmt.Errorf("results root %q is not an s3:// URI", cfg.Root)
	}
	trimmed := strings.TrimPrefix(cfg.Root, "s3://")
	bucket, prefix, _ := strings.Cut(trimmed, "/")
	if bucket == "" {
		return nil, fmt.Errorf("results root %q has no bucket", cfg.Root)
	}
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("object store endpoint is required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("init object store client: %w", err)
	}

	return &ObjectStore{client: client, bucket: bucket, prefix: prefix, region: region}, nil
}

func (o *ObjectStore) ensureBucket(ctx context.Context) error {
	o.initOnce.Do(func() {
		exists, err := o.client.BucketExists(ctx, o.bucket)
		if err != nil {
			o.initErr = err
			return
		}
		if exists {
			return
		}
		o.initErr = o.client.MakeBucket(ctx, o.bucket, minio.MakeBucketOptions{Region: o.region})
	})
	return o.initErr
}

// Publish uploads srcPath to the artifact's object key.
func (o *ObjectStore) Publish(ctx context.Context, sample, template, artifact, srcPath string) (string, error) {
	if err := o.ensureBucket(ctx); err != nil {
		return "", fmt.Errorf("ensure bucket %s: %w", o.bucket, err)
	}

	key := Address(o.prefix, sample, template, artifact)
	key = strings.TrimLeft(key, "/")
	address := "s3://" + o.bucket + "/" + key

	srcHash, err := cache.HashFile(srcPath)
	if err != nil {
		return "", fmt.Errorf("publish %s: hashing source: %w", address, err)
	}

	if stat, err := o.client.StatObject(ctx, o.bucket, key, minio.StatObjectOptions{}); err == nil {
		if stat.UserMetadata[contentHashMeta] == srcHash {
			return address, nil // identical content already published
		}
	}

	stagingKey := strings.TrimLeft(Address(o.prefix, ".staging", template, artifact), "/") + "." + srcHash[:12]
	if _, err := o.client.FPutObject(ctx, o.bucket, stagingKey, srcPath, minio.PutObjectOptions{
		ContentType:  "application/octet-stream",
		UserMetadata: map[string]string{contentHashMeta: srcHash},
	}); err != nil {
		return "", fmt.Errorf("publish %s: upload: %w", address, err)
	}

	_, err = o.client.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: o.bucket, Object: key, ReplaceMetadata: true,
			UserMetadata: map[string]string{contentHashMeta: srcHash}},
		minio.CopySrcOptions{Bucket: o.bucket, Object: stagingKey})
	if err != nil {
		return "", fmt.Errorf("publish %s: finalize: %w", address, err)
	}
	_ = o.client.RemoveObject(ctx, o.bucket, stagingKey, minio.RemoveObjectOptions{})

	return address, nil
}
