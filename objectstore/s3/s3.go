// SPDX-FileCopyrightText: 2021 Comcast Cable Communications Management, LLC
// SPDX-License-Identifier: Apache-2.0

package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"emperror.dev/emperror"
	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/xmidt-org/lookout/objectstore"
	"go.uber.org/zap"
)

const (
	defaultBucket        = "screenshots"
	defaultRegion        = "us-east-1"
	defaultPresignExpiry = time.Hour

	// maxDeleteBatch is the S3 limit on keys per DeleteObjects call.
	maxDeleteBatch = 1000
)

type Config struct {
	Bucket   string
	Region   string
	Endpoint string

	AccessKey string
	SecretKey string

	// URLBase, when set, is used to build object URLs as {URLBase}/{key}.
	// Otherwise URLs are presigned GETs valid for PresignExpiry.
	URLBase       string
	PresignExpiry time.Duration
}

// client captures the methods of interest from the S3 API. This
// should help mock API calls as well.
type client interface {
	PutObject(context.Context, *s3.PutObjectInput, ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(context.Context, *s3.GetObjectInput, ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(context.Context, *s3.HeadObjectInput, ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(context.Context, *s3.DeleteObjectInput, ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	DeleteObjects(context.Context, *s3.DeleteObjectsInput, ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
	ListObjectsV2(context.Context, *s3.ListObjectsV2Input, ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	HeadBucket(context.Context, *s3.HeadBucketInput, ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(context.Context, *s3.CreateBucketInput, ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
}

type presigner interface {
	PresignGetObject(context.Context, *s3.GetObjectInput, ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// Store is an objectstore.S backed by S3 or an S3 compatible service such as MinIO.
type Store struct {
	c      client
	p      presigner
	config Config
	logger *zap.Logger
}

func NewS3(ctx context.Context, config Config, logger *zap.Logger) (*Store, error) {
	validateConfig(&config)
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(config.Region),
	}
	if config.AccessKey != "" && config.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(config.AccessKey, config.SecretKey, ""),
		))
	}
	awsConfig, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, emperror.Wrap(err, "failed to load aws config")
	}
	c := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if config.Endpoint != "" {
			o.BaseEndpoint = aws.String(config.Endpoint)
			o.UsePathStyle = true
		}
	})
	return newStore(c, s3.NewPresignClient(c), config, logger), nil
}

func newStore(c client, p presigner, config Config, logger *zap.Logger) *Store {
	validateConfig(&config)
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		c:      c,
		p:      p,
		config: config,
		logger: logger,
	}
}

// EnsureBucket creates the configured bucket if it does not exist yet.
func (s *Store) EnsureBucket(ctx context.Context) error {
	_, err := s.c.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.config.Bucket)})
	if err == nil {
		return nil
	}
	in := &s3.CreateBucketInput{Bucket: aws.String(s.config.Bucket)}
	if s.config.Region != defaultRegion {
		in.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(s.config.Region),
		}
	}
	if _, err = s.c.CreateBucket(ctx, in); err != nil {
		return emperror.WrapWith(err, "failed to create bucket", "bucket", s.config.Bucket)
	}
	s.logger.Info("created bucket", zap.String("bucket", s.config.Bucket))
	return nil
}

func (s *Store) Put(ctx context.Context, key string, data []byte, metadata map[string]string) (string, error) {
	in := &s3.PutObjectInput{
		Bucket:   aws.String(s.config.Bucket),
		Key:      aws.String(key),
		Body:     bytes.NewReader(data),
		Metadata: userMetadata(metadata),
	}
	if ct, ok := metadata[objectstore.MetaContentType]; ok {
		in.ContentType = aws.String(ct)
	}
	out, err := s.c.PutObject(ctx, in)
	if err != nil {
		return "", emperror.WrapWith(err, "put object failed", "key", key)
	}
	return strings.Trim(aws.ToString(out.ETag), `"`), nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.c.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.config.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, s.handleClientError(objectstore.GetType, key, err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, emperror.WrapWith(err, "read object body failed", "key", key)
	}
	return data, nil
}

// Stat returns the object's metadata. S3 lowercases user metadata names, so
// the known keys are restored to their canonical form.
func (s *Store) Stat(ctx context.Context, key string) (map[string]string, error) {
	out, err := s.c.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.config.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, s.handleClientError(objectstore.StatType, key, err)
	}
	md := make(map[string]string, len(out.Metadata)+1)
	for k, v := range out.Metadata {
		md[canonicalKey(k)] = v
	}
	if out.ContentType != nil {
		md[objectstore.MetaContentType] = aws.ToString(out.ContentType)
	}
	return md, nil
}

func (s *Store) List(ctx context.Context, prefix string) ([]objectstore.ObjectInfo, error) {
	result := []objectstore.ObjectInfo{}
	paginator := s3.NewListObjectsV2Paginator(s.c, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.config.Bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, emperror.WrapWith(err, "list objects failed", "prefix", prefix)
		}
		for _, o := range page.Contents {
			result = append(result, objectstore.ObjectInfo{
				Key:          aws.ToString(o.Key),
				LastModified: aws.ToTime(o.LastModified),
				ETag:         strings.Trim(aws.ToString(o.ETag), `"`),
			})
		}
	}
	return result, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.c.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.config.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return emperror.WrapWith(err, "delete object failed", "key", key)
	}
	return nil
}

func (s *Store) DeleteMany(ctx context.Context, keys []string) error {
	for start := 0; start < len(keys); start += maxDeleteBatch {
		end := start + maxDeleteBatch
		if end > len(keys) {
			end = len(keys)
		}
		ids := make([]types.ObjectIdentifier, 0, end-start)
		for _, k := range keys[start:end] {
			ids = append(ids, types.ObjectIdentifier{Key: aws.String(k)})
		}
		out, err := s.c.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.config.Bucket),
			Delete: &types.Delete{Objects: ids},
		})
		if err != nil {
			return emperror.WrapWith(err, "delete objects failed", "count", len(ids))
		}
		if out != nil && len(out.Errors) > 0 {
			first := out.Errors[0]
			return emperror.With(
				errors.New("some objects were not deleted"),
				"failed", len(out.Errors),
				"key", aws.ToString(first.Key),
				"code", aws.ToString(first.Code),
			)
		}
	}
	return nil
}

func (s *Store) URL(ctx context.Context, key string) (string, error) {
	if s.config.URLBase != "" {
		return strings.TrimSuffix(s.config.URLBase, "/") + "/" + key, nil
	}
	req, err := s.p.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.config.Bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(s.config.PresignExpiry))
	if err != nil {
		return "", emperror.WrapWith(err, "presign failed", "key", key)
	}
	return req.URL, nil
}

func (s *Store) handleClientError(op, key string, err error) error {
	var (
		noSuchKey *types.NoSuchKey
		notFound  *types.NotFound
	)
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return objectstore.OperationError{Err: objectstore.ErrObjectNotFound, Key: key, Operation: op}
	}
	return emperror.WrapWith(err, op+" object failed", "key", key)
}

// userMetadata strips the content type, which S3 carries as a header of its own.
func userMetadata(md map[string]string) map[string]string {
	out := make(map[string]string, len(md))
	for k, v := range md {
		if k == objectstore.MetaContentType {
			continue
		}
		out[k] = v
	}
	return out
}

var canonicalKeys = map[string]string{
	strings.ToLower(objectstore.MetaFingerprint): objectstore.MetaFingerprint,
	strings.ToLower(objectstore.MetaUploadTime):  objectstore.MetaUploadTime,
	strings.ToLower(objectstore.MetaAgentID):     objectstore.MetaAgentID,
}

func canonicalKey(k string) string {
	if c, ok := canonicalKeys[strings.ToLower(k)]; ok {
		return c
	}
	return k
}

func validateConfig(config *Config) {
	if config.Bucket == "" {
		config.Bucket = defaultBucket
	}
	if config.Region == "" {
		config.Region = defaultRegion
	}
	if config.PresignExpiry <= 0 {
		config.PresignExpiry = defaultPresignExpiry
	}
}
