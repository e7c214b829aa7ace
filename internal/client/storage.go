package client

import (
	"context"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// StorageClient wraps Google Cloud Storage as the alternate recording store.
// Same Put/Get surface as the R2 client so the two are interchangeable
// behind STORAGE_BACKEND.
type StorageClient struct {
	client     *storage.Client
	bucketName string
}

// NewStorageClient creates a GCS client. credentialsPath may be empty, in
// which case application default credentials are used.
func NewStorageClient(ctx context.Context, bucketName, credentialsPath string) (*StorageClient, error) {
	var opts []option.ClientOption
	if credentialsPath != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsPath))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	return &StorageClient{
		client:     client,
		bucketName: bucketName,
	}, nil
}

// Close closes the client.
func (c *StorageClient) Close() {
	if c.client != nil {
		c.client.Close()
	}
}

// Put uploads data and returns the object's gs:// URL.
func (c *StorageClient) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	obj := c.client.Bucket(c.bucketName).Object(key)
	w := obj.NewWriter(ctx)
	w.ContentType = contentType

	if _, err := w.Write(data); err != nil {
		w.Close()
		return "", fmt.Errorf("failed to write object: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize object: %w", err)
	}

	return fmt.Sprintf("gs://%s/%s", c.bucketName, key), nil
}

// Get downloads an object and returns its bytes and content type.
func (c *StorageClient) Get(ctx context.Context, key string) ([]byte, string, error) {
	obj := c.client.Bucket(c.bucketName).Object(key)
	r, err := obj.NewReader(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open object: %w", err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read object: %w", err)
	}

	return data, r.Attrs.ContentType, nil
}
