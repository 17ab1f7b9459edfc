// Package storage 提供了与对象存储服务（MinIO）交互的功能，用于保存原始批量文件。
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"txn-ingest-go/internal/config"
	"txn-ingest-go/pkg/log"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioClient 是一个全局的 MinIO 客户端实例。
var MinioClient *minio.Client

// InitMinIO 初始化 MinIO 客户端并确保指定的存储桶存在。
func InitMinIO(cfg config.MinIOConfig) {
	var err error

	MinioClient, err = minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		log.Fatal("初始化 MinIO 客户端失败", err)
	}

	log.Info("MinIO 客户端初始化成功")

	// 检查存储桶是否存在，如果不存在则创建
	ctx := context.Background()
	bucketName := cfg.BucketName
	exists, err := MinioClient.BucketExists(ctx, bucketName)
	if err != nil {
		log.Fatal("检查 MinIO 存储桶失败", err)
	}

	if !exists {
		log.Infof("存储桶 '%s' 不存在，正在创建...", bucketName)
		err = MinioClient.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{})
		if err != nil {
			log.Fatal("创建 MinIO 存储桶失败", err)
		}
		log.Infof("存储桶 '%s' 创建成功", bucketName)
	} else {
		log.Infof("存储桶 '%s' 已存在", bucketName)
	}
}

// ErrNotInitialized 表示 MinIO 客户端尚未初始化。
var ErrNotInitialized = errors.New("MinIO 客户端未初始化")

// PutRawFile 将原始批量文件写入对象存储，返回对象名作为存储引用。
func PutRawFile(ctx context.Context, bucketName, fileHash string, content []byte) (string, error) {
	if MinioClient == nil {
		return "", ErrNotInitialized
	}
	objectName := fmt.Sprintf("uploads/%s", fileHash)
	_, err := MinioClient.PutObject(ctx, bucketName, objectName, bytes.NewReader(content), int64(len(content)), minio.PutObjectOptions{
		ContentType: "text/plain",
	})
	if err != nil {
		return "", fmt.Errorf("写入原始文件到 MinIO 失败: %w", err)
	}
	return objectName, nil
}

// GetRawFile 按存储引用读取原始批量文件的完整内容。
func GetRawFile(ctx context.Context, bucketName, objectName string) ([]byte, error) {
	if MinioClient == nil {
		return nil, ErrNotInitialized
	}
	object, err := MinioClient.GetObject(ctx, bucketName, objectName, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("从 MinIO 下载文件失败: %w", err)
	}
	defer object.Close()

	content, err := io.ReadAll(object)
	if err != nil {
		return nil, fmt.Errorf("读取 MinIO 对象流失败: %w", err)
	}
	return content, nil
}

// GetPresignedURL 为指定对象生成带签名的临时下载链接。
func GetPresignedURL(bucketName, objectName string, expiry time.Duration) (string, error) {
	if MinioClient == nil {
		return "", ErrNotInitialized
	}
	presignedURL, err := MinioClient.PresignedGetObject(context.Background(), bucketName, objectName, expiry, nil)
	if err != nil {
		log.Errorf("生成预签名链接失败: %s", err)
		return "", err
	}
	return presignedURL.String(), nil
}
