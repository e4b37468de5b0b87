package storage

import (
	"github.com/pkg/errors"
)

var (
	// ErrPageCorrupted 页校验和不匹配
	ErrPageCorrupted = errors.New("page checksum mismatch")
	// ErrPageNotAllocated 读取的页超出文件末尾
	ErrPageNotAllocated = errors.New("page not allocated")
	// ErrPageTooLarge 页数据超过配置的页大小
	ErrPageTooLarge = errors.New("page data exceeds page size")
	// ErrDiskManagerClosed 已关闭
	ErrDiskManagerClosed = errors.New("disk manager closed")
)

func IsPageCorrupted(err error) bool {
	return errors.Is(err, ErrPageCorrupted)
}

func IsPageNotAllocated(err error) bool {
	return errors.Is(err, ErrPageNotAllocated)
}
