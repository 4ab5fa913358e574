package collection

import (
	"os"
	"path/filepath"

	"site-chain/internal/snapshot"

	"github.com/bmatcuk/doublestar/v4"
)

// ResetOutput：删除输出目录下除 collection/ 以外的全部内容，并清空 collection/ 中的文件
func ResetOutput(dir string) (int, error) {
	matches, err := doublestar.FilepathGlob(filepath.Join(dir, "*"))
	if err != nil {
		return 0, err
	}
	n := 0
	for _, m := range matches {
		if filepath.Base(m) == "collection" {
			continue
		}
		if err := os.RemoveAll(m); err != nil {
			return n, err
		}
		n++
	}
	k, err := snapshot.RemoveGlob(filepath.Join(dir, "collection"), "*")
	return n + k, err
}

// ResetImages：只删除各链的 images/ 下的内容，保留 info.txt 与输出表
func ResetImages(dir string) (int, error) {
	return snapshot.RemoveGlob(dir, "*/images/*")
}
