// Package cache maintains the local disk-image cache backed by MinIO.
//
// Images are stored content-addressed (one directory per file hash) and
// verified by size and sha256 before use. When the cache grows past its
// budget, least-recently-used files are evicted down to 80% capacity.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/demovault/retro-agent/internal/agenterr"
	"github.com/demovault/retro-agent/internal/launch"
	"github.com/demovault/retro-agent/internal/logger"
)

// evictTargetRatio is the fill level cleanup aims for.
const evictTargetRatio = 0.8

// Downloader fetches one object into a local file. Satisfied by
// *minio.Client.
type Downloader interface {
	FGetObject(ctx context.Context, bucketName, objectName, filePath string, opts minio.GetObjectOptions) error
}

// Options configures a Cache.
type Options struct {
	Dir       string
	MaxSize   int64
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// Cache is the local disk-image cache.
type Cache struct {
	mu      sync.Mutex
	dir     string
	maxSize int64
	bucket  string
	client  Downloader
}

// New creates the cache directory and the MinIO client.
func New(opts Options) (*Cache, error) {
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, err
	}
	logger.Debugf("cache: using directory %s", opts.Dir)

	var client Downloader
	if opts.Endpoint != "" {
		mc, err := minio.New(opts.Endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
			Secure: opts.UseSSL,
		})
		if err != nil {
			return nil, err
		}
		client = mc
	}

	return &Cache{
		dir:     opts.Dir,
		maxSize: opts.MaxSize,
		bucket:  opts.Bucket,
		client:  client,
	}, nil
}

// NewWithDownloader creates a cache over an explicit downloader. Used by
// tests and by deployments with a pre-built client.
func NewWithDownloader(dir string, maxSize int64, bucket string, client Downloader) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Cache{dir: dir, maxSize: maxSize, bucket: bucket, client: client}, nil
}

// PrepareImages fetches every image for a launch, ordered by disk number,
// and returns their local paths in that order.
func (c *Cache) PrepareImages(ctx context.Context, images []launch.Image) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sorted := make([]launch.Image, len(images))
	copy(sorted, images)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].DiskNumber < sorted[j].DiskNumber
	})

	paths := make([]string, 0, len(sorted))
	for _, img := range sorted {
		path, err := c.getImage(ctx, img.StoragePath, img.FileHash, img.Size)
		if err != nil {
			return nil, agenterr.Wrap(agenterr.CodeImagePreparation,
				"failed to prepare disk images", err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// getImage returns a verified local path for the image, downloading on a
// cache miss.
func (c *Cache) getImage(ctx context.Context, storagePath, fileHash string, expectedSize int64) (string, error) {
	if err := c.enforceBudget(); err != nil {
		logger.Warnf("cache: cleanup failed: %v", err)
	}

	cachedPath, err := c.cachedPath(fileHash, filepath.Base(storagePath))
	if err != nil {
		return "", err
	}

	if c.isValidCachedFile(cachedPath, fileHash, expectedSize) {
		logger.Infof("cache: using cached file %s", cachedPath)
		touch(cachedPath)
		return cachedPath, nil
	}

	return c.downloadAndVerify(ctx, storagePath, cachedPath, fileHash, expectedSize)
}

func (c *Cache) cachedPath(fileHash, filename string) (string, error) {
	hashDir := filepath.Join(c.dir, fileHash)
	if err := os.MkdirAll(hashDir, 0o755); err != nil {
		return "", err
	}
	return filepath.Join(hashDir, filename), nil
}

func (c *Cache) isValidCachedFile(path, expectedHash string, expectedSize int64) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}

	// Size check first, it is much cheaper than hashing.
	if info.Size() != expectedSize {
		logger.Warnf("cache: cached file %s has incorrect size", path)
		_ = os.Remove(path)
		return false
	}

	ok, err := verifyFileHash(path, expectedHash)
	if err != nil || !ok {
		logger.Warnf("cache: cached file %s failed hash verification", path)
		_ = os.Remove(path)
		return false
	}
	return true
}

func verifyFileHash(path, expectedHash string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return false, err
	}
	return hex.EncodeToString(h.Sum(nil)) == expectedHash, nil
}

func (c *Cache) downloadAndVerify(ctx context.Context, storagePath, cachedPath, expectedHash string, expectedSize int64) (string, error) {
	if c.client == nil {
		return "", agenterr.Newf(agenterr.CodeImageRetrieval,
			"image %s not cached and no object storage configured", storagePath)
	}

	logger.Infof("cache: downloading %s to %s", storagePath, cachedPath)
	if err := c.client.FGetObject(ctx, c.bucket, storagePath, cachedPath, minio.GetObjectOptions{}); err != nil {
		_ = os.Remove(cachedPath)
		return "", agenterr.Wrap(agenterr.CodeDownloadFailed,
			"failed to download file", err)
	}

	if !c.isValidCachedFile(cachedPath, expectedHash, expectedSize) {
		return "", agenterr.Newf(agenterr.CodeImageVerification,
			"downloaded file failed verification: %s", storagePath)
	}

	logger.Infof("cache: downloaded and verified %s", storagePath)
	return cachedPath, nil
}

// enforceBudget evicts least-recently-used files when the cache exceeds its
// size budget.
func (c *Cache) enforceBudget() error {
	if c.maxSize <= 0 {
		return nil
	}

	type entry struct {
		path    string
		size    int64
		modTime time.Time
	}
	var files []entry
	var total int64

	err := filepath.Walk(c.dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		files = append(files, entry{path: path, size: info.Size(), modTime: info.ModTime()})
		total += info.Size()
		return nil
	})
	if err != nil {
		return err
	}
	if total <= c.maxSize {
		return nil
	}

	logger.Warnf("cache: size %d over budget %d, evicting", total, c.maxSize)
	sort.Slice(files, func(i, j int) bool {
		return files[i].modTime.Before(files[j].modTime)
	})

	target := int64(float64(c.maxSize) * evictTargetRatio)
	for _, f := range files {
		if total <= target {
			break
		}
		if err := os.Remove(f.path); err != nil {
			logger.Errorf("cache: failed to remove %s: %v", f.path, err)
			continue
		}
		total -= f.size
		logger.Debugf("cache: evicted %s", f.path)
	}

	c.removeEmptyDirs()
	return nil
}

func (c *Cache) removeEmptyDirs() {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		sub := filepath.Join(c.dir, e.Name())
		children, err := os.ReadDir(sub)
		if err == nil && len(children) == 0 {
			_ = os.Remove(sub)
		}
	}
}

// Clear removes every cached file.
func (c *Cache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return agenterr.Wrap(agenterr.CodeCacheClear, "failed to clear cache", err)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(c.dir, e.Name())); err != nil {
			return agenterr.Wrap(agenterr.CodeCacheClear, "failed to clear cache", err)
		}
	}
	logger.Infof("cache: cleared")
	return nil
}

// StatsInfo reports cache occupancy.
type StatsInfo struct {
	TotalSize    int64   `json:"total_size"`
	MaxSize      int64   `json:"max_size"`
	UsagePercent float64 `json:"usage_percent"`
	FileCount    int     `json:"file_count"`
}

// Stats returns current cache statistics.
func (c *Cache) Stats() StatsInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	info := StatsInfo{MaxSize: c.maxSize}
	_ = filepath.Walk(c.dir, func(path string, fi os.FileInfo, err error) error {
		if err != nil || fi.IsDir() {
			return nil
		}
		info.TotalSize += fi.Size()
		info.FileCount++
		return nil
	})
	if c.maxSize > 0 {
		info.UsagePercent = float64(info.TotalSize) / float64(c.maxSize) * 100
	}
	return info
}

// touch bumps the file's mtime so eviction order tracks recency of use.
func touch(path string) {
	now := time.Now()
	_ = os.Chtimes(path, now, now)
}
