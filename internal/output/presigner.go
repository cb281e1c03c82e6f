package output

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Presigned URL lifetimes are kept within S3's one-week limit.
const (
	MinExpiry = time.Hour
	MaxExpiry = 7 * 24 * time.Hour
)

// Config locates the bucket holding report outputs.
type Config struct {
	Region          string
	Endpoint        string
	UsePathStyle    bool
	AccessKeyID     string
	SecretAccessKey string
	Expiry          time.Duration
}

type presignClient interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// Presigner issues download URLs for finished report outputs.
type Presigner struct {
	client presignClient
	expiry time.Duration
	now    func() time.Time
}

// NewPresigner loads AWS configuration. Static credentials are used when
// both keys are set, otherwise the default credential chain applies.
func NewPresigner(ctx context.Context, cfg Config) (*Presigner, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return &Presigner{
		client: s3.NewPresignClient(client),
		expiry: ClampExpiry(cfg.Expiry),
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// ClampExpiry bounds d to [MinExpiry, MaxExpiry].
func ClampExpiry(d time.Duration) time.Duration {
	return max(MinExpiry, min(MaxExpiry, d))
}

// Presign returns a GET URL for bucket/key and the moment it stops working.
func (p *Presigner) Presign(ctx context.Context, bucket, key string) (string, time.Time, error) {
	expiresAt := p.now().Add(p.expiry)
	req, err := p.client.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(p.expiry))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to presign s3://%s/%s: %w", bucket, key, err)
	}
	return req.URL, expiresAt, nil
}
