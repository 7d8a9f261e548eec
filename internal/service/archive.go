package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/storagecollectorpro/storagecollectorpro/internal/config"
	"github.com/storagecollectorpro/storagecollectorpro/pkg/logger"
)

// ArchiveMeta 归档对象的定位信息，对象路径由它拼出：
// telemetry/{storage_id}/{method}/{end_ms}.json
type ArchiveMeta struct {
	StorageID string
	Method    string
	StartMs   int64
	EndMs     int64
}

// ArchivedObject 归档结果
type ArchivedObject struct {
	URI         string `json:"uri"`
	Size        int64  `json:"size"`
	Checksum    string `json:"checksum"`
	ContentType string `json:"content_type"`
}

// ArchiveWriter 采集窗口快照写入器
type ArchiveWriter interface {
	Write(ctx context.Context, meta ArchiveMeta, content []byte) (ArchivedObject, error)
}

// NewArchiveWriter 根据配置创建归档写入器；归档未启用时返回 nil，
// 调用方按 nil 跳过归档
func NewArchiveWriter(cfg *config.Config) ArchiveWriter {
	if !cfg.Archive.Enabled {
		return nil
	}
	if strings.EqualFold(strings.TrimSpace(cfg.Archive.Backend), "minio") {
		if w := initMinioArchive(cfg); w != nil {
			return w
		}
		// MinIO 初始化失败时退回本地，归档属尽力而为
		logger.Warn("MinIO archive unavailable, falling back to local archive")
	}
	return &LocalArchiveWriter{baseDir: cfg.Archive.Local.BaseDir}
}

func objectName(meta ArchiveMeta) string {
	return path.Join("telemetry", meta.StorageID, meta.Method, fmt.Sprintf("%d.json", meta.EndMs))
}

func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// LocalArchiveWriter 本地文件归档
type LocalArchiveWriter struct {
	baseDir string
}

func (w *LocalArchiveWriter) Write(_ context.Context, meta ArchiveMeta, content []byte) (ArchivedObject, error) {
	baseDir := strings.TrimSpace(w.baseDir)
	if baseDir == "" {
		baseDir = "./data/archive"
	}
	fullPath := filepath.Join(baseDir, filepath.FromSlash(objectName(meta)))
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return ArchivedObject{}, fmt.Errorf("failed to create archive dir: %w", err)
	}
	if err := os.WriteFile(fullPath, content, 0o644); err != nil {
		return ArchivedObject{}, fmt.Errorf("failed to write archive file: %w", err)
	}
	return ArchivedObject{
		URI:         "file://" + fullPath,
		Size:        int64(len(content)),
		Checksum:    checksum(content),
		ContentType: "application/json",
	}, nil
}

// MinioArchiveWriter 对象存储归档
type MinioArchiveWriter struct {
	cfg           config.MinioConfig
	client        *minio.Client
	bucketEnsured bool
}

// initMinioArchive 初始化 MinIO 客户端并做一次轻量的 bucket 校验
func initMinioArchive(cfg *config.Config) *MinioArchiveWriter {
	mc := cfg.Archive.Minio
	endpoint := strings.TrimSpace(mc.Endpoint)
	if endpoint == "" || strings.TrimSpace(mc.Bucket) == "" {
		logger.Warn("MinIO archive configuration incomplete; endpoint/bucket missing")
		return nil
	}

	transport := &http.Transport{
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		TLSHandshakeTimeout:   5 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		ExpectContinueTimeout: 5 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   100,
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(mc.AccessKey, mc.SecretKey, ""),
		Secure:    mc.UseSSL,
		Region:    mc.Region,
		Transport: transport,
	})
	if err != nil {
		logger.Error("MinIO client initialization failed", "error", err)
		return nil
	}

	w := &MinioArchiveWriter{cfg: mc, client: client}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := w.ensureBucket(ctx, 2); err != nil {
		logger.Warn("MinIO bucket ensure at init failed", "bucket", mc.Bucket, "error", err)
	} else {
		w.bucketEnsured = true
	}
	return w
}

func (w *MinioArchiveWriter) Write(ctx context.Context, meta ArchiveMeta, content []byte) (ArchivedObject, error) {
	if w == nil || w.client == nil {
		return ArchivedObject{}, fmt.Errorf("minio client not initialized")
	}
	bucket := strings.TrimSpace(w.cfg.Bucket)

	if !w.bucketEnsured {
		if err := w.ensureBucket(ctx, 3); err != nil {
			return ArchivedObject{}, fmt.Errorf("minio ensure bucket failed: %w", err)
		}
		w.bucketEnsured = true
	}

	name := objectName(meta)
	// 带退避的有限次重试；单次写入受剩余截止时间约束
	var lastErr error
	attempts := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}
	for i := 0; i < len(attempts); i++ {
		r := bytes.NewReader(content)
		attemptCtx, cancel := attemptContext(ctx, attempts[i])
		_, err := w.client.PutObject(attemptCtx, bucket, name, r, int64(len(content)),
			minio.PutObjectOptions{
				ContentType:  "application/json",
				UserMetadata: map[string]string{"Checksum": checksum(content)},
			})
		cancel()
		if err == nil {
			lastErr = nil
			break
		}
		lastErr = err
		time.Sleep(attempts[i])
	}
	if lastErr != nil {
		return ArchivedObject{}, fmt.Errorf("minio put object failed after retries: %w", lastErr)
	}

	return ArchivedObject{
		URI:         "minio://" + path.Join(bucket, name),
		Size:        int64(len(content)),
		Checksum:    checksum(content),
		ContentType: "application/json",
	}, nil
}

// ensureBucket 校验并创建 bucket，支持有限重试
func (w *MinioArchiveWriter) ensureBucket(parent context.Context, retries int) error {
	bucket := strings.TrimSpace(w.cfg.Bucket)
	var lastErr error
	for i := 0; i <= retries; i++ {
		ctx, cancel := attemptContext(parent, 10*time.Second)
		exists, err := w.client.BucketExists(ctx, bucket)
		cancel()
		if err != nil {
			lastErr = err
			time.Sleep(time.Duration(i+1) * time.Second)
			continue
		}
		if exists {
			return nil
		}
		ctx2, cancel2 := attemptContext(parent, 10*time.Second)
		mkErr := w.client.MakeBucket(ctx2, bucket, minio.MakeBucketOptions{Region: w.cfg.Region})
		cancel2()
		if mkErr != nil {
			lastErr = mkErr
			time.Sleep(time.Duration(i+1) * time.Second)
			continue
		}
		return nil
	}
	if lastErr != nil {
		return lastErr
	}
	return fmt.Errorf("bucket ensure failed for %s", bucket)
}

// attemptContext 构造限时上下文，尊重父上下文的剩余截止时间
func attemptContext(parent context.Context, prefer time.Duration) (context.Context, context.CancelFunc) {
	if deadline, ok := parent.Deadline(); ok {
		remain := time.Until(deadline)
		if remain > time.Second && prefer < remain {
			return context.WithTimeout(parent, prefer)
		}
		if remain > time.Second {
			return context.WithTimeout(parent, remain-time.Second)
		}
		return context.WithTimeout(parent, time.Second)
	}
	return context.WithTimeout(parent, prefer)
}
