package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"chunkrelay/pkg/core"
	"chunkrelay/pkg/storage"
	"chunkrelay/pkg/types"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// API 是 Adapter 用到的 S3 客户端子集，测试里可以替换
type API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// Adapter 实现了 storage.Store 接口
type Adapter struct {
	client API
	bucket string
	prefix string
	logger *slog.Logger
}

// Config 用于初始化 Adapter
type Config struct {
	Endpoint        string
	Region          string
	Bucket          string
	Prefix          string // 可选的 key 前缀，比如 "hub/"
	AccessKeyID     string
	SecretAccessKey string
}

// NewAdapter 初始化 S3 客户端
func NewAdapter(ctx context.Context, cfg Config, logger *slog.Logger) (*Adapter, error) {
	if logger == nil {
		logger = slog.Default()
	}

	// 1. 加载基础配置 (Region 和 Credentials)
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID, cfg.SecretAccessKey, "",
		)))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}

	// 2. 使用 BaseEndpoint 覆盖 (MinIO 之类)，并强制 Path Style
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = true
	})

	// 3. 确保 bucket 存在
	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: &cfg.Bucket}); err != nil {
		if _, err := client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: &cfg.Bucket}); err != nil {
			logger.Warn("failed to ensure bucket exists", "bucket", cfg.Bucket, "error", err)
		}
	}

	return NewWithClient(client, cfg.Bucket, cfg.Prefix, logger), nil
}

// NewWithClient 用现成的客户端构造 Adapter
func NewWithClient(client API, bucket, prefix string, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{client: client, bucket: bucket, prefix: prefix, logger: logger}
}

// key 将 Hash 转换为 S3 Key: "aabbcc..." -> "<prefix>aa/bbcc..."
func (s *Adapter) key(hash types.Hash) string {
	h := string(hash)
	if len(h) < 2 {
		return s.prefix + h
	}
	return s.prefix + h[:2] + "/" + h[2:]
}

// mapError 把 AWS 错误翻译成 storage 的哨兵错误
func mapError(op string, err error) error {
	var noKey *s3types.NoSuchKey
	var notFound *s3types.NotFound
	if errors.As(err, &noKey) || errors.As(err, &notFound) {
		return storage.ErrNotFound
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return storage.ErrNotFound
		case "SlowDown", "ServiceUnavailable", "RequestLimitExceeded", "Throttling":
			return fmt.Errorf("s3 %s: %w: %s", op, storage.ErrThrottled, apiErr.ErrorMessage())
		}
	}
	return fmt.Errorf("s3 %s failed: %w", op, err)
}

// Put 上传对象；HEAD 比 PUT 便宜，已存在就跳过
func (s *Adapter) Put(ctx context.Context, obj core.Object) error {
	exists, err := s.Has(ctx, obj.ID())
	if err != nil {
		return fmt.Errorf("s3 put existence check failed: %w", err)
	}
	if exists {
		return nil
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(obj.ID())),
		Body:        bytes.NewReader(obj.Bytes()),
		ContentType: aws.String("application/octet-stream"),
	})
	if err != nil {
		return mapError("put", err)
	}
	s.logger.Debug("object stored", "key", s.key(obj.ID()), "type", obj.Type())
	return nil
}

func (s *Adapter) Get(ctx context.Context, hash types.Hash) (io.ReadCloser, error) {
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(hash)),
	})
	if err != nil {
		return nil, mapError("get", err)
	}
	return resp.Body, nil
}

func (s *Adapter) Has(ctx context.Context, hash types.Hash) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(hash)),
	})
	if err == nil {
		return true, nil
	}
	mapped := mapError("head", err)
	if errors.Is(mapped, storage.ErrNotFound) {
		return false, nil
	}
	return false, mapped
}
