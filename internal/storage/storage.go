// Package storage persists uploaded profile photos.
package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Store saves an object under key and returns where it can be fetched.
type Store interface {
	Put(ctx context.Context, key, contentType string, body io.Reader) (string, error)
}

// DiskStore writes objects below a root directory served as static files.
type DiskStore struct {
	root      string
	urlPrefix string
}

// NewDiskStore builds a store rooted at dir. urlPrefix is prepended to keys
// in returned locations, e.g. "/media".
func NewDiskStore(dir, urlPrefix string) *DiskStore {
	return &DiskStore{root: dir, urlPrefix: strings.TrimRight(urlPrefix, "/")}
}

// Root is the directory objects are written below.
func (s *DiskStore) Root() string { return s.root }

func (s *DiskStore) Put(_ context.Context, key, _ string, body io.Reader) (string, error) {
	clean := filepath.Clean("/" + key)
	path := filepath.Join(s.root, clean)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create media dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create media file: %w", err)
	}
	defer f.Close()
	if _, err := io.Copy(f, body); err != nil {
		return "", fmt.Errorf("write media file: %w", err)
	}
	return s.urlPrefix + filepath.ToSlash(clean), nil
}

// S3Store uploads objects to an S3 bucket.
type S3Store struct {
	uploader *manager.Uploader
	bucket   string
	region   string
}

// NewS3Store loads the default AWS credential chain for region.
func NewS3Store(ctx context.Context, region, bucket string) (*S3Store, error) {
	cfg, err := awscfg.LoadDefaultConfig(ctx, awscfg.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &S3Store{uploader: manager.NewUploader(s3.NewFromConfig(cfg)), bucket: bucket, region: region}, nil
}

func (s *S3Store) Put(ctx context.Context, key, contentType string, body io.Reader) (string, error) {
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, strings.TrimLeft(key, "/")), nil
}
