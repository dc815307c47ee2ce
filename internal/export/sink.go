package export

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/curiouslearning/cl-dashboard/internal/config"
	"github.com/curiouslearning/cl-dashboard/internal/utils"
)

const contentType = "text/csv; charset=utf-8"

var ErrNotConfigured = errors.New("export sink not configured")

// Sink stores one exported file.
type Sink interface {
	Put(ctx context.Context, name string, body []byte) error
}

type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPSink POSTs the file with an X-Signature header holding the hex
// HMAC-SHA256 of the body under the shared secret.
type HTTPSink struct {
	c       HTTPClient
	url     string
	secret  []byte
	backoff utils.Backoff
}

func NewHTTPSink(c HTTPClient, url, secret string) *HTTPSink {
	return &HTTPSink{c: c, url: url, secret: []byte(secret), backoff: utils.NewBackoff(200*time.Millisecond, 2, 100*time.Millisecond)}
}

// Sign returns the signature the sink expects for body.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func (s *HTTPSink) Put(ctx context.Context, name string, body []byte) error {
	sig := Sign(s.secret, body)
	return s.backoff.Do(ctx, func(int) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
		if err != nil {
			return utils.Permanent(err)
		}
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("X-Signature", sig)
		req.Header.Set("X-Export-Name", name)
		resp, err := s.c.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			err := fmt.Errorf("export sink non-2xx: %d body=%s", resp.StatusCode, b)
			if resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
				return utils.Permanent(err)
			}
			return err
		}
		return nil
	})
}

// ObjectPutter is the part of the S3 client the sink uses.
type ObjectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type S3Sink struct {
	client ObjectPutter
	bucket string
	prefix string
}

func NewS3Sink(client ObjectPutter, bucket, prefix string) *S3Sink {
	return &S3Sink{client: client, bucket: bucket, prefix: prefix}
}

func (s *S3Sink) Put(ctx context.Context, name string, body []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.prefix + name),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("s3 put %s/%s: %w", s.bucket, s.prefix+name, err)
	}
	return nil
}

// NewSink picks S3 when a bucket is configured, else the signed HTTP sink.
func NewSink(ctx context.Context, cfg config.ExportConfig, c HTTPClient) (Sink, error) {
	if cfg.S3Bucket != "" {
		var opts []func(*awsconfig.LoadOptions) error
		if cfg.S3Region != "" {
			opts = append(opts, awsconfig.WithRegion(cfg.S3Region))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		return NewS3Sink(s3.NewFromConfig(awsCfg), cfg.S3Bucket, cfg.S3Prefix), nil
	}
	if cfg.SinkURL == "" || cfg.SinkSecret == "" {
		return nil, ErrNotConfigured
	}
	return NewHTTPSink(c, cfg.SinkURL, cfg.SinkSecret), nil
}
