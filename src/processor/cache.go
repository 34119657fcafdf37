// cache.go
package processor

import (
	"crypto/md5"
	"encoding/hex"
	"sync"

	"github.com/go-gota/gota/dataframe"
)

// ContentHash 输入源内容的 MD5 摘要，作为缓存键
func ContentHash(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

// MergeCache 加载/合并阶段的显式缓存，键为两份输入源的内容摘要。
// 任一输入变化即失效，不做进程级隐式缓存
type MergeCache struct {
	mu      sync.Mutex
	accHash string
	covHash string
	merged  dataframe.DataFrame
	valid   bool
}

func NewMergeCache() *MergeCache {
	return &MergeCache{}
}

// Get 命中时返回缓存的合并表
func (c *MergeCache) Get(accHash, covHash string) (dataframe.DataFrame, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.valid || c.accHash != accHash || c.covHash != covHash {
		return dataframe.New(), false
	}
	return c.merged, true
}

// Put 记录一次合并结果
func (c *MergeCache) Put(accHash, covHash string, merged dataframe.DataFrame) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.accHash = accHash
	c.covHash = covHash
	c.merged = merged
	c.valid = true
}

// Invalidate 显式失效
func (c *MergeCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.valid = false
}
