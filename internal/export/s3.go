package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
)

// ObjectPutter is the part of *s3.S3 the uploader uses.
type ObjectPutter interface {
	PutObjectWithContext(ctx aws.Context, input *s3.PutObjectInput, opts ...request.Option) (*s3.PutObjectOutput, error)
}

type S3Config struct {
	Bucket    string
	Prefix    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// NewSession builds an AWS session for S3-compatible storage. Static
// credentials are used when both keys are set, the default chain otherwise.
func NewSession(cfg S3Config) (*session.Session, error) {
	awsCfg := &aws.Config{Region: aws.String(cfg.Region)}
	if cfg.Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.Endpoint)
		awsCfg.S3ForcePathStyle = aws.Bool(true)
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		awsCfg.Credentials = credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, "")
	}
	return session.NewSession(awsCfg)
}

// Uploader publishes itemdef files to a bucket.
type Uploader struct {
	client ObjectPutter
	bucket string
	prefix string
}

func NewUploader(client ObjectPutter, bucket, prefix string) (*Uploader, error) {
	if client == nil {
		return nil, errors.New("export: s3 client is required")
	}
	if strings.TrimSpace(bucket) == "" {
		return nil, errors.New("export: bucket is required")
	}
	return &Uploader{client: client, bucket: bucket, prefix: prefix}, nil
}

// NewS3Uploader wires an Uploader to a real S3 client.
func NewS3Uploader(sess *session.Session, bucket, prefix string) (*Uploader, error) {
	return NewUploader(s3.New(sess), bucket, prefix)
}

// Publish uploads the file and returns its s3:// location.
func (u *Uploader) Publish(ctx context.Context, file ItemDefFile) (string, error) {
	body, err := file.Marshal()
	if err != nil {
		return "", err
	}
	key := ObjectKey(u.prefix, file.AppID)
	_, err = u.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		ContentType:   aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("unable to upload itemdef to S3: %w", err)
	}
	return fmt.Sprintf("s3://%s/%s", u.bucket, key), nil
}
