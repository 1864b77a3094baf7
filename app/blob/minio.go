package blob

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioStorage keeps blobs in a MinIO/S3 compatible bucket.
type MinioStorage struct {
	client *minio.Client
	bucket string
}

// NewMinioStorage connects to MinIO and ensures the bucket exists.
func NewMinioStorage(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*MinioStorage, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init minio client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}
	return &MinioStorage{client: client, bucket: bucket}, nil
}

func (m *MinioStorage) Put(ctx context.Context, p string, r io.Reader, size int64) error {
	_, err := m.client.PutObject(ctx, m.bucket, p, r, size, minio.PutObjectOptions{
		ContentType: ContentType(p),
	})
	if err != nil {
		return fmt.Errorf("failed to put object: %w", err)
	}
	return nil
}

func (m *MinioStorage) Open(ctx context.Context, p string) (io.ReadCloser, error) {
	if _, err := m.Stat(ctx, p); err != nil {
		return nil, err
	}
	obj, err := m.client.GetObject(ctx, m.bucket, p, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get object: %w", err)
	}
	return obj, nil
}

func (m *MinioStorage) Stat(ctx context.Context, p string) (Info, error) {
	info, err := m.client.StatObject(ctx, m.bucket, p, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return Info{}, ErrNotExist
		}
		return Info{}, fmt.Errorf("failed to stat object: %w", err)
	}
	return Info{Size: info.Size, ModTime: info.LastModified}, nil
}

func (m *MinioStorage) Delete(ctx context.Context, p string) error {
	if err := m.client.RemoveObject(ctx, m.bucket, p, minio.RemoveObjectOptions{}); err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil
		}
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

func (m *MinioStorage) DeletePrefix(ctx context.Context, prefix string) error {
	paths, err := m.List(ctx, prefix)
	if err != nil {
		return err
	}
	for _, p := range paths {
		if err := m.Delete(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// Move copies every object under from to the matching key under to, then
// removes the originals. Buckets have no rename.
func (m *MinioStorage) Move(ctx context.Context, from, to string) error {
	if from == to {
		return nil
	}
	var keys []string
	if _, err := m.Stat(ctx, from); err == nil {
		keys = []string{from}
	} else {
		if keys, err = m.List(ctx, from); err != nil {
			return err
		}
	}
	if len(keys) == 0 {
		return ErrNotExist
	}

	for _, key := range keys {
		target := to + strings.TrimPrefix(key, from)
		_, err := m.client.CopyObject(ctx,
			minio.CopyDestOptions{Bucket: m.bucket, Object: target},
			minio.CopySrcOptions{Bucket: m.bucket, Object: key})
		if err != nil {
			return fmt.Errorf("failed to copy object %s: %w", key, err)
		}
	}
	for _, key := range keys {
		if err := m.Delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

func (m *MinioStorage) List(ctx context.Context, prefix string) ([]string, error) {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	var paths []string
	for obj := range m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", obj.Err)
		}
		paths = append(paths, obj.Key)
	}
	return paths, nil
}
