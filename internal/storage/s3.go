package storage

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Config configures an S3-compatible endpoint.
type S3Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
}

// Validate checks that the endpoint and credentials are present.
func (c S3Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("s3 endpoint is required")
	}
	if c.AccessKey == "" || c.SecretKey == "" {
		return errors.New("s3 access key and secret key are required")
	}
	return nil
}

// S3 serves s3://bucket/key URLs through minio-go.
type S3 struct {
	client   *minio.Client
	endpoint string
}

// NewS3 creates an S3 backend.
func NewS3(cfg S3Config) (*S3, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newTransport(),
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}
	return &S3{client: client, endpoint: cfg.Endpoint}, nil
}

func (s *S3) Scheme() string { return "s3" }

func (s *S3) Locations() []string {
	return []string{"s3://" + s.endpoint}
}

// Get downloads an object, or every object under a prefix when dir is set.
func (s *S3) Get(ctx context.Context, raw, dst string, dir bool) error {
	bucket, key, err := parseS3URL(raw)
	if err != nil {
		return err
	}
	if !dir {
		if err := s.client.FGetObject(ctx, bucket, key, dst, minio.GetObjectOptions{}); err != nil {
			return fmt.Errorf("get %s: %w", raw, err)
		}
		return nil
	}

	prefix := strings.TrimSuffix(key, "/") + "/"
	if key == "" {
		prefix = ""
	}
	for obj := range s.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return fmt.Errorf("list %s: %w", raw, obj.Err)
		}
		if strings.HasSuffix(obj.Key, "/") {
			continue
		}
		rel := strings.TrimPrefix(obj.Key, prefix)
		target := filepath.Join(dst, filepath.FromSlash(path.Clean("/"+rel)))
		if err := s.client.FGetObject(ctx, bucket, obj.Key, target, minio.GetObjectOptions{}); err != nil {
			return fmt.Errorf("get %s: %w", obj.Key, err)
		}
	}
	return nil
}

// Put uploads the file src to url.
func (s *S3) Put(ctx context.Context, src, raw string) error {
	bucket, key, err := parseS3URL(raw)
	if err != nil {
		return err
	}
	if key == "" {
		return fmt.Errorf("%w: %q has no object key", ErrUnsupported, raw)
	}
	if err := checkRegular(src); err != nil {
		return err
	}
	if _, err := s.client.FPutObject(ctx, bucket, key, src, minio.PutObjectOptions{}); err != nil {
		return fmt.Errorf("put %s: %w", raw, err)
	}
	return nil
}

func parseS3URL(raw string) (bucket, key string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme != "s3" || u.Host == "" {
		return "", "", fmt.Errorf("%w: %q", ErrUnsupported, raw)
	}
	return u.Host, strings.TrimPrefix(u.Path, "/"), nil
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
