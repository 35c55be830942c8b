package server

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/PhiFever/devanagari-ocr-server/internal/recognizer"
)

// ResultCache 按上传内容的 SHA-256 缓存识别结果。nil 表示禁用缓存
type ResultCache struct {
	c *cache.Cache
}

// NewResultCache 创建缓存；ttl <= 0 时返回 nil
func NewResultCache(ttl, cleanupInterval time.Duration) *ResultCache {
	if ttl <= 0 {
		return nil
	}
	return &ResultCache{c: cache.New(ttl, cleanupInterval)}
}

// CacheKey 计算上传内容的缓存键
func CacheKey(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Get 查找缓存的结果
func (rc *ResultCache) Get(key string) (*recognizer.Result, bool) {
	if rc == nil {
		return nil, false
	}
	v, ok := rc.c.Get(key)
	if !ok {
		return nil, false
	}
	res, ok := v.(*recognizer.Result)
	return res, ok
}

// Set 写入结果
func (rc *ResultCache) Set(key string, res *recognizer.Result) {
	if rc == nil {
		return
	}
	rc.c.Set(key, res, cache.DefaultExpiration)
}

// Len 返回缓存条目数
func (rc *ResultCache) Len() int {
	if rc == nil {
		return 0
	}
	return rc.c.ItemCount()
}
