// Package objectstore keeps encoded entities as objects in an S3-compatible
// bucket (AWS S3 or MinIO). One object per key; the digest of the encoding
// travels in the object metadata so IsModified needs only a HEAD request.
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/rieonke/em4go/pkg/codec"
	"github.com/rieonke/em4go/pkg/metamodel"
	"github.com/rieonke/em4go/pkg/storage"
)

const digestMetadata = "em4go-digest"

// Config holds the bucket and client settings. Credentials fall back to the
// default AWS chain when AccessKeyID is empty.
type Config struct {
	Bucket          string `json:"bucket" yaml:"bucket"`
	Region          string `json:"region" yaml:"region"`
	Endpoint        string `json:"endpoint" yaml:"endpoint"` // optional, e.g. MinIO
	PathStyle       bool   `json:"path_style" yaml:"path_style"`
	Prefix          string `json:"prefix" yaml:"prefix"`
	AccessKeyID     string `json:"access_key_id" yaml:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key" yaml:"secret_access_key"`
	SessionToken    string `json:"session_token" yaml:"session_token"`
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Bucket == "" {
		return fmt.Errorf("s3 bucket required")
	}
	if (c.AccessKeyID == "") != (c.SecretAccessKey == "") {
		return fmt.Errorf("access_key_id and secret_access_key must be set together")
	}
	return nil
}

// objectAPI is the subset of *s3.Client the backend calls
type objectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, opts ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// Backend implements storage.Backend over an S3 bucket
type Backend struct {
	client objectAPI
	bucket string
	prefix string
	codec  codec.Codec
	guard  storage.InitGuard
}

// New builds an S3 client from cfg. No request is sent until Initialize.
func New(ctx context.Context, cfg Config, c codec.Codec) (*Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.PathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return newBackend(client, cfg.Bucket, cfg.Prefix, c), nil
}

func newBackend(client objectAPI, bucket, prefix string, c codec.Codec) *Backend {
	if c == nil {
		c = codec.Default()
	}
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &Backend{client: client, bucket: bucket, prefix: prefix, codec: c}
}

// objectKey maps key to "<prefix><type>/<key string>"
func (b *Backend) objectKey(key metamodel.Key) string {
	return b.typePrefix(key.EntityType()) + key.String()
}

func (b *Backend) typePrefix(et *metamodel.EntityType) string {
	return b.prefix + et.Name() + "/"
}

// Initialize checks that the bucket is reachable
func (b *Backend) Initialize(ctx context.Context) error {
	return b.guard.Do(func() error {
		if _, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: &b.bucket}); err != nil {
			return fmt.Errorf("head bucket %s: %w", b.bucket, err)
		}
		return nil
	})
}

func isNotFound(err error) bool {
	var nf *types.NotFound
	var nsk *types.NoSuchKey
	return errors.As(err, &nf) || errors.As(err, &nsk)
}

// Get decodes the object stored at key, or returns (nil, nil) if absent
func (b *Backend) Get(ctx context.Context, key metamodel.Key) (any, error) {
	if err := b.guard.Ready(); err != nil {
		return nil, err
	}
	data, err := b.read(ctx, key)
	if err != nil || data == nil {
		return nil, err
	}
	return storage.Decode(b.codec, key, data)
}

func (b *Backend) read(ctx context.Context, key metamodel.Key) ([]byte, error) {
	objKey := b.objectKey(key)
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{Bucket: &b.bucket, Key: &objKey})
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", objKey, err)
	}
	defer func() { _ = out.Body.Close() }()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", objKey, err)
	}
	return data, nil
}

// Contains reports whether key is stored, using HEAD
func (b *Backend) Contains(ctx context.Context, key metamodel.Key) (bool, error) {
	if err := b.guard.Ready(); err != nil {
		return false, err
	}
	_, err := b.head(ctx, key)
	if isNotFound(err) {
		return false, nil
	}
	return err == nil, err
}

func (b *Backend) head(ctx context.Context, key metamodel.Key) (*s3.HeadObjectOutput, error) {
	objKey := b.objectKey(key)
	out, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &b.bucket, Key: &objKey})
	if err != nil && !isNotFound(err) {
		return nil, fmt.Errorf("head %s: %w", objKey, err)
	}
	return out, err
}

// Put encodes entity and uploads it with its digest in the object metadata
func (b *Backend) Put(ctx context.Context, key metamodel.Key, entity any) error {
	if err := b.guard.Ready(); err != nil {
		return err
	}
	rec, err := storage.Encode(b.codec, key, entity)
	if err != nil {
		return err
	}
	objKey := b.objectKey(key)
	_, err = b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        &b.bucket,
		Key:           &objKey,
		Body:          bytes.NewReader(rec.Data),
		ContentLength: aws.Int64(int64(len(rec.Data))),
		ContentType:   aws.String("application/octet-stream"),
		Metadata:      map[string]string{digestMetadata: strconv.FormatUint(rec.Digest, 16)},
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", objKey, err)
	}
	return nil
}

// Remove deletes the object of key; S3 deletes are idempotent
func (b *Backend) Remove(ctx context.Context, key metamodel.Key) error {
	if err := b.guard.Ready(); err != nil {
		return err
	}
	objKey := b.objectKey(key)
	if _, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: &b.bucket, Key: &objKey}); err != nil {
		return fmt.Errorf("delete %s: %w", objKey, err)
	}
	return nil
}

// IsModified compares entity's digest with the digest in the object
// metadata. Objects written by other tools carry no digest; their body is
// fetched and hashed instead. An absent key counts as modified.
func (b *Backend) IsModified(ctx context.Context, key metamodel.Key, entity any) (bool, error) {
	if err := b.guard.Ready(); err != nil {
		return false, err
	}
	out, err := b.head(ctx, key)
	if isNotFound(err) {
		return true, nil
	}
	if err != nil {
		return false, err
	}

	if raw, ok := out.Metadata[digestMetadata]; ok {
		if stored, perr := strconv.ParseUint(raw, 16, 64); perr == nil {
			return storage.Differs(b.codec, key, entity, stored)
		}
	}

	data, err := b.read(ctx, key)
	if err != nil {
		return false, err
	}
	if data == nil {
		return true, nil
	}
	return storage.Differs(b.codec, key, entity, storage.Digest(data))
}

// Keys lists the stored keys of one entity type in key order
func (b *Backend) Keys(ctx context.Context, et *metamodel.EntityType) ([]string, error) {
	if err := b.guard.Ready(); err != nil {
		return nil, err
	}
	prefix := b.typePrefix(et)
	var keys []string
	pages := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: &b.bucket,
		Prefix: &prefix,
	})
	for pages.HasMorePages() {
		out, err := pages.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", prefix, err)
		}
		for _, obj := range out.Contents {
			keys = append(keys, strings.TrimPrefix(aws.ToString(obj.Key), prefix))
		}
	}
	sort.Strings(keys)
	return keys, nil
}
