package services

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioService issues the presigned URLs clients use to talk to the bucket
// directly. The service itself never proxies file content.
type MinioService struct {
	client     *minio.Client
	bucketName string
}

func InitializeMinio(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*MinioService, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %v", err)
	}

	// Create bucket if it doesn't exist
	exists, err := client.BucketExists(context.Background(), bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket existence: %v", err)
	}
	if !exists {
		err = client.MakeBucket(context.Background(), bucket, minio.MakeBucketOptions{})
		if err != nil {
			return nil, fmt.Errorf("failed to create bucket: %v", err)
		}
		log.Printf("Created bucket: %s", bucket)
	}

	log.Println("Connected to MinIO successfully")
	return &MinioService{client: client, bucketName: bucket}, nil
}

// PresignedDownload returns a time-boxed GET URL for the object. The
// content-disposition override makes browsers save the file under its
// original name instead of the opaque key.
func (m *MinioService) PresignedDownload(ctx context.Context, keyFile, fileName string, ttl time.Duration) (string, error) {
	reqParams := make(url.Values)
	if fileName != "" {
		reqParams.Set("response-content-disposition", fmt.Sprintf("attachment; filename=%q", fileName))
	}

	u, err := m.client.PresignedGetObject(ctx, m.bucketName, keyFile, ttl, reqParams)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

// PresignedUpload returns a time-boxed PUT URL under which the client
// uploads the object before registering it. The content type is signed
// into the URL, so the upload must carry the declared type.
func (m *MinioService) PresignedUpload(ctx context.Context, keyFile, contentType string, ttl time.Duration) (string, error) {
	extraHeaders := http.Header{}
	if contentType != "" {
		extraHeaders.Set("Content-Type", contentType)
	}

	u, err := m.client.PresignHeader(ctx, http.MethodPut, m.bucketName, keyFile, ttl, nil, extraHeaders)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

// DownloadFile fetches an object to a local path. Only the virus scanner
// pulls content through the service.
func (m *MinioService) DownloadFile(ctx context.Context, keyFile, localFilePath string) error {
	return m.client.FGetObject(ctx, m.bucketName, keyFile, localFilePath, minio.GetObjectOptions{})
}

func (m *MinioService) DeleteFile(ctx context.Context, keyFile string) error {
	return m.client.RemoveObject(ctx, m.bucketName, keyFile, minio.RemoveObjectOptions{})
}

// CheckConnection is used by the health endpoint.
func (m *MinioService) CheckConnection(ctx context.Context) error {
	if m == nil || m.client == nil {
		return fmt.Errorf("minio service not initialized")
	}
	_, err := m.client.BucketExists(ctx, m.bucketName)
	return err
}
