package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"github.com/reporthub/backend-go/internal/config"
	"github.com/reporthub/backend-go/internal/logger"
)

// Archiver 报告归档存储，保存报告原文与上传的源文件
//
// 归档是尽力而为的旁路能力，失败不影响报告入库与检索。
type Archiver struct {
	client *minio.Client
	bucket string
}

// NewArchiver 创建MinIO归档客户端并确保bucket存在
//
// 未启用时返回nil，调用方对nil Archiver做空操作。
func NewArchiver(cfg config.ArchiveConfig) (*Archiver, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("archive endpoint not configured")
	}

	// minio.New 的endpoint不带协议前缀
	endpoint := strings.TrimPrefix(cfg.Endpoint, "http://")
	endpoint = strings.TrimPrefix(endpoint, "https://")

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client failed: %w", err)
	}

	bucket := cfg.Bucket
	if bucket == "" {
		bucket = "report-archive"
	}

	archiver := &Archiver{client: client, bucket: bucket}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := archiver.ensureBucket(ctx); err != nil {
		return nil, err
	}

	logger.Info("archive storage ready",
		zap.String("endpoint", endpoint),
		zap.String("bucket", bucket))
	return archiver, nil
}

func (a *Archiver) ensureBucket(ctx context.Context) error {
	exists, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s failed: %w", a.bucket, err)
	}
	if exists {
		return nil
	}

	err = a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{})
	if err != nil {
		// 并发启动时bucket可能刚被其他实例建出来
		errStr := err.Error()
		if strings.Contains(errStr, "BucketAlreadyExists") ||
			strings.Contains(errStr, "BucketAlreadyOwnedByYou") {
			return nil
		}
		return fmt.Errorf("create bucket %s failed: %w", a.bucket, err)
	}
	return nil
}

// reportTextKey 报告原文的对象键
func reportTextKey(employeeID, reportID uint) string {
	return fmt.Sprintf("reports/%d/%d/report.txt", employeeID, reportID)
}

// uploadKey 上传源文件的对象键
func uploadKey(employeeID, reportID uint, filename string) string {
	return fmt.Sprintf("reports/%d/%d/source/%s", employeeID, reportID, filename)
}

// ArchiveReportText 归档报告原文
func (a *Archiver) ArchiveReportText(ctx context.Context, employeeID, reportID uint, text string) error {
	if a == nil || a.client == nil {
		return nil
	}

	data := []byte(text)
	_, err := a.client.PutObject(ctx, a.bucket, reportTextKey(employeeID, reportID),
		bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "text/plain; charset=utf-8"})
	if err != nil {
		return fmt.Errorf("archive report text failed: %w", err)
	}
	return nil
}

// ArchiveUpload 归档上传的源文件
func (a *Archiver) ArchiveUpload(ctx context.Context, employeeID, reportID uint, filename string, data []byte, contentType string) error {
	if a == nil || a.client == nil {
		return nil
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	_, err := a.client.PutObject(ctx, a.bucket, uploadKey(employeeID, reportID, filename),
		bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("archive uploaded file failed: %w", err)
	}
	return nil
}

// FetchReportText 取回归档的报告原文
func (a *Archiver) FetchReportText(ctx context.Context, employeeID, reportID uint) (string, error) {
	if a == nil || a.client == nil {
		return "", fmt.Errorf("archive storage not configured")
	}

	object, err := a.client.GetObject(ctx, a.bucket, reportTextKey(employeeID, reportID), minio.GetObjectOptions{})
	if err != nil {
		return "", fmt.Errorf("fetch archived report failed: %w", err)
	}
	defer object.Close()

	data, err := io.ReadAll(object)
	if err != nil {
		return "", fmt.Errorf("read archived report failed: %w", err)
	}
	return string(data), nil
}

// DeleteReportArchive 删除一条报告的全部归档对象
func (a *Archiver) DeleteReportArchive(ctx context.Context, employeeID, reportID uint) error {
	if a == nil || a.client == nil {
		return nil
	}

	prefix := fmt.Sprintf("reports/%d/%d/", employeeID, reportID)
	objectCh := a.client.ListObjects(ctx, a.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	})

	for object := range objectCh {
		if object.Err != nil {
			return object.Err
		}
		if err := a.client.RemoveObject(ctx, a.bucket, object.Key, minio.RemoveObjectOptions{}); err != nil {
			logger.Warn("remove archived object failed",
				zap.String("key", object.Key),
				zap.Error(err))
		}
	}
	return nil
}

// Healthy 归档存储是否可用
func (a *Archiver) Healthy(ctx context.Context) bool {
	if a == nil || a.client == nil {
		return false
	}
	_, err := a.client.ListBuckets(ctx)
	return err == nil
}
