// Package storage delivers exported translations to S3.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
)

type uploadAPI interface {
	Upload(ctx context.Context, in *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

type bucketAPI interface {
	s3.ListObjectsV2APIClient
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, opts ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// S3Store writes export files under prefix, never overwriting an earlier
// export of the same name: each upload gets the next _vN suffix.
type S3Store struct {
	uploader uploadAPI
	bucket   bucketAPI
	name     string
	prefix   string
}

// NewS3Store loads the default AWS configuration chain.
func NewS3Store(ctx context.Context, bucket, prefix string) (*S3Store, error) {
	cfg, err := awscfg.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	cli := s3.NewFromConfig(cfg)
	return newS3Store(manager.NewUploader(cli), cli, bucket, prefix), nil
}

func newS3Store(u uploadAPI, b bucketAPI, bucket, prefix string) *S3Store {
	return &S3Store{uploader: u, bucket: b, name: bucket, prefix: strings.Trim(prefix, "/")}
}

// PutExport uploads data as fileName and returns its s3:// location.
func (s *S3Store) PutExport(ctx context.Context, fileName string, data []byte, contentType string) (string, error) {
	ext := path.Ext(fileName)
	base := path.Join(s.prefix, strings.TrimSuffix(fileName, ext))
	version, err := s.nextVersion(ctx, base, ext)
	if err != nil {
		return "", err
	}
	key := fmt.Sprintf("%s_v%d%s", base, version, ext)

	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.name),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
		Metadata:    map[string]string{"name": fileName},
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload to S3: %w", err)
	}
	log.Info().Str("bucket", s.name).Str("key", key).Int("size", len(data)).Msg("uploaded export to S3")
	return fmt.Sprintf("s3://%s/%s", s.name, key), nil
}

// nextVersion returns one past the highest base_vN<ext> already stored.
func (s *S3Store) nextVersion(ctx context.Context, base, ext string) (int, error) {
	prefix := base + "_v"
	maxVersion := 0
	p := s3.NewListObjectsV2Paginator(s.bucket, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.name),
		Prefix: aws.String(prefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return 0, fmt.Errorf("list versions failed: %w", err)
		}
		for _, obj := range page.Contents {
			if obj.Key == nil {
				continue
			}
			v := strings.TrimSuffix(strings.TrimPrefix(*obj.Key, prefix), ext)
			if n, err := strconv.Atoi(v); err == nil && n > maxVersion {
				maxVersion = n
			}
		}
	}
	return maxVersion + 1, nil
}

// Ping checks that the bucket is reachable with the loaded credentials.
func (s *S3Store) Ping(ctx context.Context) error {
	_, err := s.bucket.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.name)})
	return err
}
