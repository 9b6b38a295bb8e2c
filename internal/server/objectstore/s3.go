// Package objectstore uploads profile images to an S3-compatible bucket and
// returns the URL the user record keeps.
package objectstore

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

// Uploader is the collaborator the session manager hands a local file to.
// Delete removes an object Upload stored, for when the record that would
// reference it is never written.
type Uploader interface {
	Upload(ctx context.Context, localPath string) (*UploadResult, error)
	Delete(ctx context.Context, key string) error
}

type UploadResult struct {
	URL string
	Key string
}

// ObjectAPI is the part of *s3.Client the uploader uses.
type ObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

type S3Settings struct {
	User         string
	Password     string
	Bucket       string
	Region       string
	BaseEndpoint string
}

var (
	loadDefaultAWSConfig = config.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) ObjectAPI {
		return s3.NewFromConfig(cfg, optFns...)
	}
)

type S3Uploader struct {
	client  ObjectAPI
	bucket  string
	baseURL string
	now     func() time.Time
}

// NewS3Uploader builds a path-style client with static credentials, which is
// what MinIO expects.
func NewS3Uploader(ctx context.Context, s S3Settings) (*S3Uploader, error) {
	cfg, err := loadDefaultAWSConfig(ctx,
		config.WithRegion(s.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(s.User, s.Password, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := newS3ClientFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(s.BaseEndpoint)
		o.UsePathStyle = true
	})

	return NewS3UploaderWithClient(client, s.Bucket, s.BaseEndpoint), nil
}

func NewS3UploaderWithClient(client ObjectAPI, bucket, baseEndpoint string) *S3Uploader {
	return &S3Uploader{
		client:  client,
		bucket:  bucket,
		baseURL: strings.TrimRight(baseEndpoint, "/"),
		now:     time.Now,
	}
}

// Upload streams the file at localPath into the bucket under a fresh key.
// The local file is left in place; its owner removes it.
func (u *S3Uploader) Upload(ctx context.Context, localPath string) (*UploadResult, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat upload: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(localPath))
	contentType := mime.TypeByExtension(ext)
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	key := u.storageKey(ext)
	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return nil, fmt.Errorf("put object %s: %w", key, err)
	}

	return &UploadResult{
		URL: fmt.Sprintf("%s/%s/%s", u.baseURL, u.bucket, key),
		Key: key,
	}, nil
}

func (u *S3Uploader) Delete(ctx context.Context, key string) error {
	_, err := u.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(u.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete object %s: %w", key, err)
	}
	return nil
}

func (u *S3Uploader) storageKey(ext string) string {
	d := u.now().UTC()
	return fmt.Sprintf("profiles/%d/%02d/%02d/%s%s", d.Year(), d.Month(), d.Day(), uuid.NewString(), ext)
}
