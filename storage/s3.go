package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/google/uuid"
)

// Options configures the S3 bucket used for batch materials.
type Options struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
}

type StorageService struct {
	s3Client s3iface.S3API
	bucket   string
	region   string
	now      func() time.Time
}

// UploadedObject describes a stored file.
type UploadedObject struct {
	Key         string
	URL         string
	ContentType string
	Size        int64
}

// NewStorageService creates a new storage service
func NewStorageService(opts Options) (*StorageService, error) {
	cfg := &aws.Config{Region: aws.String(opts.Region)}
	if opts.AccessKeyID != "" {
		cfg.Credentials = credentials.NewStaticCredentials(opts.AccessKeyID, opts.SecretAccessKey, "")
	}
	sess, err := session.NewSession(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}
	return NewStorageServiceWithClient(s3.New(sess), opts.Bucket, opts.Region), nil
}

// NewStorageServiceWithClient wraps an existing S3 client.
func NewStorageServiceWithClient(client s3iface.S3API, bucket, region string) *StorageService {
	return &StorageService{s3Client: client, bucket: bucket, region: region, now: time.Now}
}

// UploadFile stores file under folder/<ownerID>/yyyy/mm/dd/<random>.<ext>.
func (s *StorageService) UploadFile(ctx context.Context, file *multipart.FileHeader, folder string, ownerID uint) (*UploadedObject, error) {
	src, err := file.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer src.Close()

	return s.Upload(ctx, src, file.Filename, folder, ownerID)
}

// Upload stores the content of r using filename for the extension.
func (s *StorageService) Upload(ctx context.Context, r io.Reader, filename, folder string, ownerID uint) (*UploadedObject, error) {
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	ext := getFileExtension(filename)
	now := s.now().UTC()
	key := fmt.Sprintf("%s/%d/%d/%02d/%02d/%s",
		strings.Trim(folder, "/"),
		ownerID,
		now.Year(),
		now.Month(),
		now.Day(),
		uuid.New().String()[:16],
	)
	if ext != "" {
		key += "." + ext
	}
	contentType := getContentType(ext)

	_, err = s.s3Client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload to S3: %w", err)
	}

	return &UploadedObject{
		Key:         key,
		URL:         s.PublicURL(key),
		ContentType: contentType,
		Size:        int64(len(body)),
	}, nil
}

// PublicURL renders the virtual-hosted style URL of key.
func (s *StorageService) PublicURL(key string) string {
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, key)
}

// DeleteFile deletes a file from S3 by its public URL.
func (s *StorageService) DeleteFile(ctx context.Context, fileURL string) error {
	key := extractKeyFromURL(fileURL)
	if key == "" {
		return fmt.Errorf("invalid file URL")
	}

	_, err := s.s3Client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	return err
}

func getFileExtension(filename string) string {
	ext := filepath.Ext(filename)
	if len(ext) > 1 {
		return strings.ToLower(ext[1:])
	}
	return ""
}

func getContentType(extension string) string {
	switch strings.ToLower(extension) {
	case "jpg", "jpeg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "pdf":
		return "application/pdf"
	case "docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case "pptx":
		return "application/vnd.openxmlformats-officedocument.presentationml.presentation"
	case "xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case "mp3":
		return "audio/mpeg"
	default:
		return "application/octet-stream"
	}
}

// extractKeyFromURL extracts the S3 key from a full URL
func extractKeyFromURL(url string) string {
	// https://bucket.s3.region.amazonaws.com/path/to/file.ext
	parts := strings.SplitN(url, ".amazonaws.com/", 2)
	if len(parts) != 2 {
		return ""
	}
	return parts[1]
}
