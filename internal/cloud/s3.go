// Package cloud implements the object-store adapter used by the sync
// engine.
package cloud

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"rcm-go/internal/config"
	"rcm-go/internal/rcm"
)

// uploadPartSize is the multipart chunk size. Also the granularity of the
// PartUploaded progress events.
const uploadPartSize = 8 * 1024 * 1024

// S3Store implements rcm.CloudStore over an S3-compatible bucket.
type S3Store struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
}

// S3Connector opens S3 sessions from settings. Credentials come from the
// external credentials file when configured, otherwise from the default AWS
// chain.
type S3Connector struct {
	cfg config.S3Config
}

func NewS3Connector(cfg config.S3Config) *S3Connector {
	return &S3Connector{cfg: cfg}
}

// Connect loads AWS config, builds the client, and verifies the bucket is
// reachable.
func (c *S3Connector) Connect(ctx context.Context) (rcm.CloudStore, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(c.cfg.Region),
	}
	if c.cfg.CredentialsPath != "" {
		creds, err := config.ReadCredentials(c.cfg.CredentialsPath)
		if err != nil {
			return nil, fmt.Errorf("reading credentials: %w", err)
		}
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(creds.AccessKeyID, creds.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if c.cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(c.cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(c.cfg.Bucket)}); err != nil {
		return nil, fmt.Errorf("bucket %s not reachable: %w", c.cfg.Bucket, err)
	}

	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = uploadPartSize
	})

	return &S3Store{client: client, uploader: uploader, bucket: c.cfg.Bucket}, nil
}

// Upload stores the bytes from r under key using multipart upload. progress
// is invoked once per completed part-size chunk read from r.
func (s *S3Store) Upload(ctx context.Context, key string, r io.Reader, progress func(rcm.PartProgress)) error {
	body := r
	if progress != nil {
		body = &partProgressReader{r: r, key: key, partSize: uploadPartSize, progress: progress}
	}

	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   body,
	})
	if err != nil {
		return fmt.Errorf("uploading %s: %w", key, err)
	}
	return nil
}

// Delete removes the object. S3 reports success for missing keys, which is
// what the deletion retry loop needs.
func (s *S3Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("deleting %s: %w", key, err)
	}
	return nil
}

// Exists reports whether an object is present.
func (s *S3Store) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("checking %s: %w", key, err)
	}
	return true, nil
}

// Move copies the object to the new key and deletes the old one.
func (s *S3Store) Move(ctx context.Context, fromKey, toKey string) error {
	source := url.PathEscape(s.bucket + "/" + fromKey)
	_, err := s.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(s.bucket),
		CopySource: aws.String(source),
		Key:        aws.String(toKey),
	})
	if err != nil {
		return fmt.Errorf("copying %s to %s: %w", fromKey, toKey, err)
	}
	return s.Delete(ctx, fromKey)
}

// Download retrieves an object and writes it to w.
func (s *S3Store) Download(ctx context.Context, key string, w io.Writer) error {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("downloading %s: %w", key, err)
	}
	defer out.Body.Close()

	if _, err := io.Copy(w, out.Body); err != nil {
		return fmt.Errorf("writing %s: %w", key, err)
	}
	return nil
}

// partProgressReader counts bytes and reports a completed part every time a
// part-size boundary is crossed.
type partProgressReader struct {
	r        io.Reader
	key      string
	partSize int64
	read     int64
	parts    int
	progress func(rcm.PartProgress)
}

func (p *partProgressReader) Read(buf []byte) (int, error) {
	n, err := p.r.Read(buf)
	if n > 0 {
		p.read += int64(n)
		for int64(p.parts+1)*p.partSize <= p.read {
			p.parts++
			p.progress(rcm.PartProgress{Key: p.key, Part: p.parts})
		}
	}
	if err == io.EOF && p.read > int64(p.parts)*p.partSize {
		// Final short part.
		p.parts++
		p.progress(rcm.PartProgress{Key: p.key, Part: p.parts})
	}
	return n, err
}

// Compile-time checks.
var (
	_ rcm.CloudStore     = (*S3Store)(nil)
	_ rcm.CloudConnector = (*S3Connector)(nil)
)
