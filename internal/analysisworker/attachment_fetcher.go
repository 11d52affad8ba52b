package analysisworker

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/ignite/mailguard/internal/mailbox"
)

// AttachmentFetcher stages a risky attachment's bytes, fetched through a
// mailbox.Provider, into an S3 staging bucket so a sandbox client can
// submit a byte stream or presigned URL rather than pushing raw bytes
// through the analysis-request message itself.
type AttachmentFetcher struct {
	client   *s3.Client
	bucket   string
	prefix   string
	provider mailbox.Provider
}

// NewAttachmentFetcher creates an AttachmentFetcher against bucket using
// the default AWS config. region falls back to AWS_REGION, then us-east-1.
func NewAttachmentFetcher(ctx context.Context, bucket, prefix, region string, provider mailbox.Provider) (*AttachmentFetcher, error) {
	if region == "" {
		region = os.Getenv("AWS_REGION")
	}
	if region == "" {
		region = "us-east-1"
	}

	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return &AttachmentFetcher{
		client:   s3.NewFromConfig(cfg),
		bucket:   bucket,
		prefix:   prefix,
		provider: provider,
	}, nil
}

// Stage fetches attachmentID's content from the mailbox provider and
// uploads it to s3://bucket/prefix/messageID/attachmentID, returning the
// object key. Returns mailbox.ErrNotSupported unchanged if the provider
// can't fetch content, so the caller can fall back to URL analysis.
func (f *AttachmentFetcher) Stage(ctx context.Context, messageID, attachmentID string) (string, error) {
	content, err := f.provider.FetchAttachmentContent(ctx, messageID, attachmentID)
	if err != nil {
		return "", err
	}

	key := fmt.Sprintf("%s%s/%s", f.prefix, messageID, attachmentID)
	_, err = f.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(f.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(content),
		ContentType: aws.String("application/octet-stream"),
		Metadata: map[string]string{
			"staged_at": time.Now().UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		return "", fmt.Errorf("stage attachment to s3: %w", err)
	}
	return key, nil
}
