// Package files stores page attachments: object bytes in MinIO, one row per
// attachment in the relational store. The row's uri records where the object
// lives, so metadata queries never touch the object store.
package files

import (
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"pagewell/engine/internal/audit"
	"pagewell/engine/internal/store"
)

// FileStore is the slice of the metadata store the service uses.
type FileStore interface {
	InsertFile(ctx context.Context, file store.File) (store.File, error)
	GetFile(ctx context.Context, pageID int64, name string) (store.File, error)
	ListFiles(ctx context.Context, pageID int64) ([]store.File, error)
	DeleteFile(ctx context.Context, pageID int64, name string) error
	GetPage(ctx context.Context, pageID int64) (store.Page, error)
	GetWiki(ctx context.Context, wikiID int64) (store.Wiki, error)
}

type Service struct {
	client *minio.Client
	bucket string
	store  FileStore
	trail  *audit.Log
}

func NewService(endpoint, accessKey, secretKey, bucket string, useSSL bool, fileStore FileStore, trail *audit.Log) (*Service, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &Service{
		client: client,
		bucket: bucket,
		store:  fileStore,
		trail:  trail,
	}, nil
}

// EnsureBucket creates the attachment bucket if it does not exist yet.
func (s *Service) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket: %w", err)
	}
	return nil
}

// Upload stores the object and inserts its metadata row. The unique
// (page_id, file_name) constraint rejects duplicate names per page.
func (s *Service) Upload(ctx context.Context, pageID, userID int64, name, description string, reader io.Reader, size int64, contentType string) (store.File, error) {
	page, err := s.store.GetPage(ctx, pageID)
	if err != nil {
		return store.File{}, err
	}
	wiki, err := s.store.GetWiki(ctx, page.WikiID)
	if err != nil {
		return store.File{}, err
	}

	key := objectKey(wiki.Slug, pageID, name)
	if _, err := s.client.PutObject(ctx, s.bucket, key, reader, size, minio.PutObjectOptions{
		ContentType: contentType,
	}); err != nil {
		return store.File{}, fmt.Errorf("put object: %w", err)
	}

	file, err := s.store.InsertFile(ctx, store.File{
		PageID:      pageID,
		Name:        name,
		URI:         s.bucket + "/" + key,
		Description: description,
		UploadedBy:  userID,
	})
	if err != nil {
		// Orphaned object; a later upload with the same name overwrites it.
		return store.File{}, err
	}

	if s.trail != nil {
		_ = s.trail.Record(ctx, audit.EntryFileUploaded, wiki.ID, &userID, map[string]any{
			"page_id":   pageID,
			"file_name": name,
		})
	}
	return file, nil
}

// Open returns the object stream along with its metadata row. The caller
// closes the reader.
func (s *Service) Open(ctx context.Context, pageID int64, name string) (store.File, io.ReadCloser, error) {
	file, err := s.store.GetFile(ctx, pageID, name)
	if err != nil {
		return store.File{}, nil, err
	}
	page, err := s.store.GetPage(ctx, pageID)
	if err != nil {
		return store.File{}, nil, err
	}
	wiki, err := s.store.GetWiki(ctx, page.WikiID)
	if err != nil {
		return store.File{}, nil, err
	}

	object, err := s.client.GetObject(ctx, s.bucket, objectKey(wiki.Slug, pageID, name), minio.GetObjectOptions{})
	if err != nil {
		return store.File{}, nil, fmt.Errorf("get object: %w", err)
	}
	return file, object, nil
}

func (s *Service) List(ctx context.Context, pageID int64) ([]store.File, error) {
	return s.store.ListFiles(ctx, pageID)
}

// Delete removes the metadata row first, then the object. A crash between
// the two leaves an unreferenced object, never a dangling row.
func (s *Service) Delete(ctx context.Context, pageID, userID int64, name string) error {
	page, err := s.store.GetPage(ctx, pageID)
	if err != nil {
		return err
	}
	wiki, err := s.store.GetWiki(ctx, page.WikiID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteFile(ctx, pageID, name); err != nil {
		return err
	}
	if err := s.client.RemoveObject(ctx, s.bucket, objectKey(wiki.Slug, pageID, name), minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove object: %w", err)
	}

	if s.trail != nil {
		_ = s.trail.Record(ctx, audit.EntryFileDeleted, wiki.ID, &userID, map[string]any{
			"page_id":   pageID,
			"file_name": name,
		})
	}
	return nil
}

func objectKey(wikiSlug string, pageID int64, name string) string {
	return fmt.Sprintf("%s/%d/%s", wikiSlug, pageID, name)
}
