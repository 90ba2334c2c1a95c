package media

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const defaultURLTTL = 15 * time.Minute

// objectAPI is the part of *minio.Client the archive needs.
type objectAPI interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	ListObjects(ctx context.Context, bucketName string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo
	PresignedGetObject(ctx context.Context, bucketName, objectName string, expires time.Duration, reqParams url.Values) (*url.URL, error)
}

type Photo struct {
	Key          string    `json:"key"`
	URL          string    `json:"url"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

type StorageConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	URLTTL    time.Duration
}

// Storage keeps order photos in one bucket, one key prefix per order, and
// hands out short-lived presigned links to them.
type Storage struct {
	api    objectAPI
	bucket string
	urlTTL time.Duration
}

func NewStorage(ctx context.Context, cfg StorageConfig) (*Storage, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return NewStorageWithAPI(ctx, client, cfg.Bucket, cfg.URLTTL)
}

func NewStorageWithAPI(ctx context.Context, api objectAPI, bucket string, urlTTL time.Duration) (*Storage, error) {
	if urlTTL <= 0 {
		urlTTL = defaultURLTTL
	}
	s := &Storage{api: api, bucket: bucket, urlTTL: urlTTL}

	if err := s.ensureBucket(ctx); err != nil {
		return nil, fmt.Errorf("ensure photo bucket: %w", err)
	}
	return s, nil
}

func (s *Storage) ensureBucket(ctx context.Context) error {
	exists, err := s.api.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err := s.api.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("make bucket: %w", err)
	}
	return nil
}

// Upload stores data under prefix with a generated object name.
func (s *Storage) Upload(ctx context.Context, prefix, contentType string, data []byte) (Photo, error) {
	key := path.Join(strings.Trim(prefix, "/"), uuid.NewString()+extensionFor(contentType))

	info, err := s.api.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return Photo{}, fmt.Errorf("put photo: %w", err)
	}

	link, err := s.presign(ctx, key)
	if err != nil {
		return Photo{}, err
	}

	return Photo{Key: key, URL: link, Size: info.Size, LastModified: info.LastModified}, nil
}

func (s *Storage) List(ctx context.Context, prefix string) ([]Photo, error) {
	opts := minio.ListObjectsOptions{Prefix: strings.Trim(prefix, "/") + "/", Recursive: true}

	photos := make([]Photo, 0)
	for obj := range s.api.ListObjects(ctx, s.bucket, opts) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list photos: %w", obj.Err)
		}
		if strings.HasSuffix(obj.Key, "/") {
			continue
		}

		link, err := s.presign(ctx, obj.Key)
		if err != nil {
			return nil, err
		}
		photos = append(photos, Photo{Key: obj.Key, URL: link, Size: obj.Size, LastModified: obj.LastModified})
	}

	return photos, nil
}

func (s *Storage) presign(ctx context.Context, key string) (string, error) {
	u, err := s.api.PresignedGetObject(ctx, s.bucket, key, s.urlTTL, nil)
	if err != nil {
		return "", fmt.Errorf("presign photo: %w", err)
	}
	return u.String(), nil
}

func extensionFor(contentType string) string {
	switch strings.ToLower(contentType) {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	default:
		return ""
	}
}
