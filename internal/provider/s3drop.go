package provider

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// s3API is the subset of the S3 client used by S3Drop.
type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// S3Drop stores each rendered message as an .eml object instead of
// delivering it. Staging environments use it so no mail leaves the system
// while every send stays inspectable.
type S3Drop struct {
	client s3API
	bucket string
	prefix string
}

// NewS3Drop creates an S3Drop over an existing client.
func NewS3Drop(client s3API, bucket, prefix string) *S3Drop {
	return &S3Drop{client: client, bucket: bucket, prefix: prefix}
}

// NewS3DropFromConfig builds a real S3 client from the default AWS chain.
// A custom Endpoint (MinIO, LocalStack) switches to path-style addressing.
func NewS3DropFromConfig(ctx context.Context, cfg ProviderConfig) (*S3Drop, error) {
	var optFns []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		optFns = append(optFns, awsconfig.WithRegion(cfg.Region))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("s3: load aws config: %w", err)
	}

	var s3OptFns []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3OptFns = append(s3OptFns, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	return NewS3Drop(s3.NewFromConfig(awsCfg, s3OptFns...), cfg.Bucket, cfg.Path), nil
}

func (d *S3Drop) GetName() string { return "s3" }

// Send uploads <prefix><yyyy/mm/dd>/<message-id>.eml.
func (d *S3Drop) Send(ctx context.Context, msg *Message) (*DeliveryResult, error) {
	raw, err := buildMIME(msg)
	if err != nil {
		return nil, fmt.Errorf("s3: build message: %w", err)
	}

	now := time.Now().UTC()
	key := d.prefix + now.Format("2006/01/02/") + idReplacer.Replace(msg.ID) + ".eml"

	_, err = d.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(d.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(raw),
		ContentType: aws.String("message/rfc822"),
	})
	if err != nil {
		return nil, fmt.Errorf("s3: put %s: %w", key, err)
	}

	return &DeliveryResult{
		ProviderMessageID: "s3-" + msg.ID,
		Status:            StatusSent,
		Timestamp:         now,
		Metadata:          map[string]string{"bucket": d.bucket, "key": key},
	}, nil
}

// HealthCheck confirms the bucket exists and is reachable.
func (d *S3Drop) HealthCheck(ctx context.Context) error {
	if _, err := d.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(d.bucket)}); err != nil {
		return fmt.Errorf("s3: head bucket %s: %w", d.bucket, err)
	}
	return nil
}
