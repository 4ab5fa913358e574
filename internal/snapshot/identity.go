package snapshot

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"

	"site-chain/internal/region"
)

// 文档注释：快照来源的身份摘要
// 背景：Redis 键前缀与 osmium 临时文件名都由它决定；区域形状或任一输入文件（大小、修改时间）变化后得到新值，旧缓存不再命中。
// 约束：文件不存在时只摘要路径本身。
func SourceKey(reg *region.Region, paths ...string) string {
	h := sha256.New()
	if reg != nil {
		fmt.Fprintf(h, "region:%s\n", reg.Fingerprint())
	}
	for _, p := range paths {
		fmt.Fprintf(h, "file:%s", p)
		if fi, err := os.Stat(p); err == nil {
			fmt.Fprintf(h, ":%d:%d", fi.Size(), fi.ModTime().UnixNano())
		}
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}
