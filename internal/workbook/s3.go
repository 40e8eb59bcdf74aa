package workbook

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Environment variables read for s3:// workbooks, on top of the usual AWS
// credential chain:
//
//	S3_ENDPOINT=<url>          optional, for S3-compatible stores (path-style)
//	S3_REGION=<region>         default AWS_REGION, then us-east-1
//	S3_ACCESS_KEY_ID / S3_SECRET_ACCESS_KEY  optional static credentials
const defaultS3Region = "us-east-1"

// maxWorkbookBytes caps downloads; workbooks are held in memory.
const maxWorkbookBytes = 512 << 20

func newS3Client(ctx context.Context) (*s3.Client, error) {
	region := firstNonEmpty(os.Getenv("S3_REGION"), os.Getenv("AWS_REGION"), defaultS3Region)
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}

	if id, secret := os.Getenv("S3_ACCESS_KEY_ID"), os.Getenv("S3_SECRET_ACCESS_KEY"); id != "" && secret != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(id, secret, "")))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	endpoint := strings.TrimSpace(os.Getenv("S3_ENDPOINT"))
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

func fetchS3(ctx context.Context, bucket, key string) ([]byte, error) {
	client, err := newS3Client(ctx)
	if err != nil {
		return nil, err
	}
	out, err := client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		return nil, err
	}
	defer out.Body.Close()

	body, err := io.ReadAll(io.LimitReader(out.Body, maxWorkbookBytes+1))
	if err != nil {
		return nil, err
	}
	if len(body) > maxWorkbookBytes {
		return nil, fmt.Errorf("object larger than %d bytes", maxWorkbookBytes)
	}
	return body, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
