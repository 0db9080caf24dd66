// Package storage mirrors finished artifacts to Google Cloud Storage.
package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"cloud.google.com/go/storage"
	log "github.com/sirupsen/logrus"
)

type Client interface {
	Save(ctx context.Context, bucketName string, objectName string, data io.Reader) error
}

type gcsClient struct {
	storageClient *storage.Client
}

func New(storageClient *storage.Client) Client {
	return &gcsClient{storageClient: storageClient}
}

func (s *gcsClient) Save(ctx context.Context, bucketName string, objectName string, data io.Reader) error {
	writer := s.storageClient.Bucket(bucketName).Object(objectName).NewWriter(ctx)
	writer.ContentType = contentType(objectName)

	if _, err := io.Copy(writer, data); err != nil {
		writer.Close()
		return fmt.Errorf("failed to write to GCS: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close GCS writer: %w", err)
	}
	return nil
}

func contentType(objectName string) string {
	if filepath.Ext(objectName) == ".pdf" {
		return "application/pdf"
	}
	return "application/octet-stream"
}

// Mirror uploads artifacts under <prefix>/<job name>/ in one bucket.
type Mirror struct {
	client Client
	bucket string
	prefix string
}

func NewMirror(client Client, bucket string, prefix string) *Mirror {
	return &Mirror{client: client, bucket: bucket, prefix: prefix}
}

// ObjectName is where the artifact at localPath of job is stored.
func (m *Mirror) ObjectName(job string, localPath string) string {
	return path.Join(m.prefix, job, filepath.Base(localPath))
}

// Upload copies the file at localPath to the bucket and returns its gs:// URL.
func (m *Mirror) Upload(ctx context.Context, job string, localPath string) (string, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to open artifact: %w", err)
	}
	defer file.Close()

	object := m.ObjectName(job, localPath)
	if err := m.client.Save(ctx, m.bucket, object, file); err != nil {
		return "", err
	}
	url := fmt.Sprintf("gs://%s/%s", m.bucket, object)
	log.WithFields(log.Fields{"job": job, "url": url}).Info("artifact mirrored")
	return url, nil
}
