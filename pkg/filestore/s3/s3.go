// Package s3 stores files in an S3 compatible bucket.
package s3

import (
	"context"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/credentials/ec2rolecreds"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/charmbracelet/log"
)

type Config struct {
	Key      string
	Secret   string
	Region   string
	Bucket   string
	Endpoint string
	Debug    bool
}

type Store struct {
	bucket string
	region string
	client *s3.Client
	logger *log.Logger
}

// New returns a new S3 file store and checks the bucket is reachable.
func New(cfg *Config) (*Store, error) {
	logger := log.NewWithOptions(os.Stderr, log.Options{Prefix: "s3"})
	if cfg.Debug {
		logger.SetLevel(log.DebugLevel)
	}
	s := &Store{
		bucket: cfg.Bucket,
		region: cfg.Region,
		logger: logger,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	if err := s.start(ctx, cfg); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) start(ctx context.Context, c *Config) error {
	var provider aws.CredentialsProvider
	if c.Key == "" && c.Secret == "" {
		// Load credentials from EC2 Instance Role
		provider = ec2rolecreds.New()
	} else {
		provider = credentials.NewStaticCredentialsProvider(c.Key, c.Secret, "")
	}
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithCredentialsProvider(provider),
		config.WithRegion(c.Region))
	if err != nil {
		return fmt.Errorf("s3: couldn't load aws config: %w", err)
	}
	s.client = s3.NewFromConfig(cfg, func(o *s3.Options) {
		if c.Endpoint != "" {
			o.BaseEndpoint = aws.String(c.Endpoint)
			o.UsePathStyle = true
		}
	})

	// Check if bucket exists
	input := &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	}
	if _, err := s.client.HeadBucket(ctx, input); err != nil {
		return fmt.Errorf("s3: couldn't head bucket %s: %w", s.bucket, err)
	}
	return nil
}

func (s *Store) Upload(ctx context.Context, path, name string) error {
	contentType := ContentType(name)
	reader, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("s3: couldn't open file %s: %w", path, err)
	}
	defer reader.Close()
	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(name),
		Body:        reader,
		ContentType: aws.String(contentType),
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("s3: couldn't put object %s: %w", name, err)
	}
	s.logger.Debug("put object", "name", name, "content-type", contentType)
	return nil
}

var backoff = []time.Duration{
	5 * time.Second,
	15 * time.Second,
	30 * time.Second,
}

func (s *Store) Download(ctx context.Context, path, name string) error {
	maxAttempts := 3
	attempts := 0
	for {
		err := s.download(ctx, path, name)
		if err == nil {
			return nil
		}

		// Increase attempts and check if we should stop
		attempts++
		if attempts >= maxAttempts {
			return err
		}
		idx := attempts - 1
		if idx >= len(backoff) {
			idx = len(backoff) - 1
		}
		wait := backoff[idx]
		s.logger.Warn("download failed", "err", err, "retry", wait)
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (s *Store) download(ctx context.Context, path, name string) error {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(name),
	})
	if err != nil {
		return fmt.Errorf("s3: couldn't get object %s: %w", name, err)
	}
	defer out.Body.Close()
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("s3: couldn't create %s: %w", path, err)
	}
	if _, err := io.Copy(f, out.Body); err != nil {
		_ = f.Close()
		return fmt.Errorf("s3: couldn't write %s: %w", path, err)
	}
	return f.Close()
}

// ContentType returns the mime type of the file name, audio types included.
func ContentType(name string) string {
	switch ext := filepath.Ext(name); ext {
	case ".mp3":
		return "audio/mpeg"
	case ".wav":
		return "audio/wav"
	case ".flac":
		return "audio/flac"
	case ".ogg":
		return "audio/ogg"
	default:
		if t := mime.TypeByExtension(ext); t != "" {
			return t
		}
		return "application/octet-stream"
	}
}
