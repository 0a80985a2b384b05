package objectstore

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
)

// multipartThreshold is the body size above which uploads go through the
// multipart upload manager
const multipartThreshold = 100 * 1024 * 1024

// S3Config holds connection settings for an S3-compatible bucket
type S3Config struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	Region    string
}

// S3Store implements Store on S3 or any S3-compatible endpoint
type S3Store struct {
	bucket   string
	client   *s3.S3
	uploader *s3manager.Uploader
}

// NewS3Store creates an S3 session. Static credentials are used when an
// access key is configured, otherwise the default AWS credential chain.
func NewS3Store(cfg S3Config) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, ErrNoBucket
	}

	awsConfig := &aws.Config{
		Region: aws.String(cfg.Region),
	}
	if cfg.Endpoint != "" {
		awsConfig.Endpoint = aws.String(cfg.Endpoint)
		awsConfig.S3ForcePathStyle = aws.Bool(true)
	}
	if cfg.AccessKey != "" {
		awsConfig.Credentials = credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, "")
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 session: %w", err)
	}

	return &S3Store{
		bucket:   cfg.Bucket,
		client:   s3.New(sess),
		uploader: s3manager.NewUploader(sess),
	}, nil
}

// Put implements Store
func (s *S3Store) Put(ctx context.Context, key string, body io.ReadSeeker, opts PutOptions) error {
	var contentEncoding *string
	if opts.ContentEncoding != "" {
		contentEncoding = aws.String(opts.ContentEncoding)
	}

	// Use multipart upload for files larger than 100MB
	if opts.Size > multipartThreshold {
		_, err := s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
			Bucket:          aws.String(s.bucket),
			Key:             aws.String(key),
			Body:            body,
			ContentType:     aws.String(opts.ContentType),
			ContentEncoding: contentEncoding,
		})
		return err
	}

	_, err := s.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:          aws.String(s.bucket),
		Key:             aws.String(key),
		Body:            body,
		ContentType:     aws.String(opts.ContentType),
		ContentEncoding: contentEncoding,
	})
	return err
}

// Head implements Store
func (s *S3Store) Head(ctx context.Context, key string) (ObjectInfo, bool, error) {
	result, err := s.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if aerr, ok := err.(awserr.RequestFailure); ok && aerr.StatusCode() == 404 {
			return ObjectInfo{}, false, nil
		}
		return ObjectInfo{}, false, err
	}

	var info ObjectInfo
	if result.ContentLength != nil {
		info.Size = *result.ContentLength
	}
	if result.ETag != nil {
		info.ETag = *result.ETag
	}
	return info, true, nil
}

// URI implements Store
func (s *S3Store) URI(key string) string {
	return fmt.Sprintf("s3://%s/%s", s.bucket, key)
}

// Close implements Store
func (s *S3Store) Close() error {
	return nil
}
