package attach

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"corkboard/api/internal/store"
	"corkboard/api/internal/util"
)

var (
	ErrEmptyFilename = errors.New("empty filename")
	ErrTooLarge      = errors.New("attachment too large")
)

// MaxSize is the largest attachment accepted, matching the upload form limit.
const MaxSize = 10 << 20 // 10 MiB

type attachmentStore interface {
	CreateAttachment(ctx context.Context, item store.Attachment) error
	GetAttachment(ctx context.Context, attachmentID string) (store.Attachment, error)
	DeleteAttachment(ctx context.Context, attachmentID string) error
}

// Service stores attachment files in object storage and their metadata in
// the relational store.
type Service struct {
	client *minio.Client
	bucket string
	db     attachmentStore
}

// Config holds object storage connection settings.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// New connects to object storage and ensures the bucket exists.
func New(ctx context.Context, cfg Config, db attachmentStore) (*Service, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect object storage: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}

	return &Service{client: client, bucket: cfg.Bucket, db: db}, nil
}

// Upload stores the file under images/{base}_{uuid}{ext} and records its
// metadata. The random suffix keeps repeated uploads of the same filename
// from colliding.
func (s *Service) Upload(ctx context.Context, cardID, filename, contentType string, size int64, r io.Reader) (store.Attachment, error) {
	filename = strings.TrimSpace(filepath.Base(filename))
	if filename == "" || filename == "." {
		return store.Attachment{}, ErrEmptyFilename
	}
	if size > MaxSize {
		return store.Attachment{}, ErrTooLarge
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filename, ext)
	objectKey := fmt.Sprintf("images/%s_%s%s", base, uuid.NewString(), ext)

	if _, err := s.client.PutObject(ctx, s.bucket, objectKey, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	}); err != nil {
		return store.Attachment{}, fmt.Errorf("store object: %w", err)
	}

	item := store.Attachment{
		ID:          util.NewID("att"),
		CardID:      cardID,
		FileName:    filename,
		ObjectKey:   objectKey,
		ContentType: contentType,
		Size:        size,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.db.CreateAttachment(ctx, item); err != nil {
		// Metadata write failed; remove the orphaned object.
		_ = s.client.RemoveObject(ctx, s.bucket, objectKey, minio.RemoveObjectOptions{})
		return store.Attachment{}, err
	}
	return item, nil
}

// PresignDownload returns a short-lived URL for fetching the attachment
// directly from object storage.
func (s *Service) PresignDownload(ctx context.Context, attachmentID string) (string, error) {
	item, err := s.db.GetAttachment(ctx, attachmentID)
	if err != nil {
		return "", err
	}

	params := make(url.Values)
	params.Set("response-content-disposition", fmt.Sprintf("attachment; filename=%q", item.FileName))

	u, err := s.client.PresignedGetObject(ctx, s.bucket, item.ObjectKey, 15*time.Minute, params)
	if err != nil {
		return "", fmt.Errorf("presign object: %w", err)
	}
	return u.String(), nil
}

// Delete removes the object and its metadata row.
func (s *Service) Delete(ctx context.Context, attachmentID string) error {
	item, err := s.db.GetAttachment(ctx, attachmentID)
	if err != nil {
		return err
	}
	if err := s.client.RemoveObject(ctx, s.bucket, item.ObjectKey, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove object: %w", err)
	}
	return s.db.DeleteAttachment(ctx, attachmentID)
}
