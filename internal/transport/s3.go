package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config configures the s3:// backend. Empty credentials fall back to the
// SDK's default chain (environment, shared config, instance role).
type S3Config struct {
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	UsePathStyle    bool
	ChunkSize       int
}

// S3 downloads s3://bucket/key artifacts.
type S3 struct {
	cfg S3Config
}

// NewS3 returns an S3 backend.
func NewS3(cfg S3Config) *S3 {
	return &S3{cfg: cfg}
}

// Download implements Transport.
func (s *S3) Download(ctx context.Context, uri string, onChunk ChunkFunc, resumeOffset int64) (Response, error) {
	bucket, key, err := splitObjectURI(uri)
	if err != nil {
		return Response{}, err
	}

	client, err := s.client(ctx, bucket)
	if err != nil {
		return Response{}, err
	}

	in := &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}
	if resumeOffset > 0 {
		in.Range = aws.String(fmt.Sprintf("bytes=%d-", resumeOffset))
	}

	out, err := client.GetObject(ctx, in)
	if err != nil {
		var re *awshttp.ResponseError
		if errors.As(err, &re) {
			return Response{StatusCode: re.HTTPStatusCode()}, nil
		}
		return Response{}, fmt.Errorf("s3 get %s/%s: %w", bucket, key, err)
	}
	defer out.Body.Close()

	n, err := stream(ctx, out.Body, s.cfg.ChunkSize, onChunk)
	return Response{StatusCode: successStatus(resumeOffset), Bytes: n}, err
}

func (s *S3) client(ctx context.Context, bucket string) (*s3.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if s.cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(s.cfg.Region))
	}
	if s.cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(s.cfg.AccessKeyID, s.cfg.SecretAccessKey, s.cfg.SessionToken)))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	if awsCfg.Region == "" {
		awsCfg.Region = "us-east-1"
	}

	clientOpts := func(o *s3.Options) {
		o.UsePathStyle = s.cfg.UsePathStyle
		if s.cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(s.cfg.Endpoint)
		}
	}
	client := s3.NewFromConfig(awsCfg, clientOpts)

	// Without an explicit region or endpoint, ask S3 where the bucket lives.
	if s.cfg.Region == "" && s.cfg.Endpoint == "" {
		region, err := manager.GetBucketRegion(ctx, client, bucket)
		if err != nil {
			log.Warn("bucket region lookup failed", "bucket", bucket, "error", err)
		} else if region != awsCfg.Region {
			awsCfg.Region = region
			client = s3.NewFromConfig(awsCfg, clientOpts)
		}
	}
	return client, nil
}
