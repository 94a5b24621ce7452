// Package archive stores finished sync run reports in an S3-compatible
// bucket so operators keep them after database retention.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/convivencia/phidiasync/internal/server/services"
)

// Options configures the S3 client. BaseEndpoint points at MinIO or
// another compatible store; empty means AWS.
type Options struct {
	Region       string
	AccessKey    string
	SecretKey    string
	BaseEndpoint string
	Bucket       string
}

// PutObjectAPI is the part of *s3.Client the archiver needs.
type PutObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archiver implements services.Archiver.
type S3Archiver struct {
	client PutObjectAPI
	bucket string
}

var _ services.Archiver = (*S3Archiver)(nil)

func NewS3Archiver(client PutObjectAPI, bucket string) *S3Archiver {
	return &S3Archiver{client: client, bucket: bucket}
}

// NewS3Client builds a client with static credentials and path-style
// addressing.
func NewS3Client(ctx context.Context, o Options) (*s3.Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(o.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(o.AccessKey, o.SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return s3.NewFromConfig(cfg, func(so *s3.Options) {
		if o.BaseEndpoint != "" {
			so.BaseEndpoint = aws.String(o.BaseEndpoint)
		}
		so.UsePathStyle = true
	}), nil
}

// Key is the object key of a report: sync-runs/yyyy/mm/dd/<run id>.json,
// dated by the run start.
func Key(r *services.RunReport) string {
	return fmt.Sprintf("sync-runs/%s/%s.json", r.StartedAt.UTC().Format("2006/01/02"), r.RunID)
}

func (a *S3Archiver) Archive(ctx context.Context, r *services.RunReport) error {
	body, err := json.Marshal(r)
	if err != nil {
		return err
	}

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(Key(r)),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", Key(r), err)
	}
	return nil
}
