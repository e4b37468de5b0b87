package util

import (
	"github.com/OneOfOne/xxhash"
)

// 将一个键进行Hash
func HashCode(key []byte) uint64 {
	h := xxhash.New64()
	h.Write(key)
	return h.Sum64()
}

// HashCodes 对多个分段连续计算Hash，结果与拼接后计算一致
func HashCodes(parts ...[]byte) uint64 {
	h := xxhash.New64()
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum64()
}
