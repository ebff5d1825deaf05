package archive

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config locates the archive object.
type S3Config struct {
	Bucket   string
	Key      string
	Region   string
	Endpoint string // custom endpoint (MinIO and similar); enables path-style addressing
	// Snapshots also keeps a timestamped copy next to Key on every write.
	Snapshots bool
}

// S3Destination writes archives to an S3-compatible bucket.
type S3Destination struct {
	client *s3.Client
	cfg    S3Config
	now    func() time.Time
}

// NewS3Destination creates an S3 destination using the default AWS
// credential chain.
func NewS3Destination(ctx context.Context, cfg S3Config) (*S3Destination, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 archive: bucket is required")
	}
	if cfg.Key == "" {
		return nil, fmt.Errorf("s3 archive: key is required")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	var s3opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3opts = append(s3opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	return &S3Destination{
		client: s3.NewFromConfig(awsCfg, s3opts...),
		cfg:    cfg,
		now:    time.Now,
	}, nil
}

// String names the destination in logs.
func (d *S3Destination) String() string {
	return "s3://" + d.cfg.Bucket + "/" + d.cfg.Key
}

// Write uploads data as the configured key and, with Snapshots, as a
// timestamped sibling.
func (d *S3Destination) Write(ctx context.Context, data []byte) error {
	if err := d.put(ctx, d.cfg.Key, data); err != nil {
		return err
	}
	if d.cfg.Snapshots {
		return d.put(ctx, snapshotKey(d.cfg.Key, d.now().UTC()), data)
	}
	return nil
}

func (d *S3Destination) put(ctx context.Context, key string, data []byte) error {
	_, err := d.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(d.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("s3 put object %s: %w", key, err)
	}
	return nil
}

// snapshotKey turns "dir/queue.jsonl" into "dir/queue-20260102T030405Z.jsonl".
func snapshotKey(key string, at time.Time) string {
	ext := path.Ext(key)
	base := strings.TrimSuffix(key, ext)
	return base + "-" + at.Format("20060102T150405Z") + ext
}
