package policy

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// AWSIssuerConfig configures the SDK-backed policy issuer used against real
// AWS buckets. Endpoint and static credentials are optional; when omitted the
// default credential chain applies.
type AWSIssuerConfig struct {
	Bucket       string
	Region       string
	Endpoint     string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
	Expiry       time.Duration
}

// Seams for exercising the issuer without AWS connectivity.
var (
	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}
	newS3PresignClient = func(c *s3.Client) *s3.PresignClient {
		return s3.NewPresignClient(c)
	}
	presignPostObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.PresignPostOptions)) (*s3.PresignedPostRequest, error) {
		return pc.PresignPostObject(ctx, in, optFns...)
	}
)

// AWSIssuer mints POST policies through the AWS SDK presigner.
type AWSIssuer struct {
	cfg     AWSIssuerConfig
	presign *s3.PresignClient
	now     func() time.Time
}

// NewAWSIssuer loads AWS configuration and prepares a presigning client.
func NewAWSIssuer(ctx context.Context, cfg AWSIssuerConfig) (*AWSIssuer, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("bucket is required")
	}
	if cfg.Expiry <= 0 {
		cfg.Expiry = defaultPolicyExpiry
	}
	loadOpts := []func(*awsconfig.LoadOptions) error{}
	if region := strings.TrimSpace(cfg.Region); region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(region))
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := newS3ClientFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint := strings.TrimSpace(cfg.Endpoint); endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	return &AWSIssuer{
		cfg:     cfg,
		presign: newS3PresignClient(client),
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

func (i *AWSIssuer) Issue(ctx context.Context, req Request) (Policy, error) {
	if strings.TrimSpace(req.ObjectID) == "" || req.ObjectType == "" {
		return Policy{}, ErrObjectRequired
	}
	key := ObjectKey(req, i.now())
	input := &s3.PutObjectInput{
		Bucket: aws.String(i.cfg.Bucket),
		Key:    aws.String(key),
	}
	if req.ContentType != "" {
		input.ContentType = aws.String(req.ContentType)
	}
	signed, err := presignPostObject(i.presign, ctx, input, func(o *s3.PresignPostOptions) {
		o.Expires = i.cfg.Expiry
	})
	if err != nil {
		return Policy{}, fmt.Errorf("presign post for %s: %w", key, err)
	}
	fields := make(map[string]string, len(signed.Values))
	for name, value := range signed.Values {
		fields[name] = value
	}
	if _, ok := fields["key"]; !ok {
		fields["key"] = key
	}
	return Policy{URL: signed.URL, Fields: fields}, nil
}

var _ Issuer = (*AWSIssuer)(nil)
