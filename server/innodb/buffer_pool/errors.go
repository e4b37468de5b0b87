package buffer_pool

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// 页面错误
	ErrPageNotFound  = errors.New("page not found in buffer pool")
	ErrPageNotPinned = errors.New("page is not pinned")

	// 缓冲池错误
	ErrBufferPoolFull = errors.New("buffer pool is full")
	ErrInvalidConfig  = errors.New("invalid buffer pool configuration")
)

// BufferPoolError 缓冲池错误结构
type BufferPoolError struct {
	Op  string       // 操作名称
	Pid fmt.Stringer // 页ID，可为空
	Err error        // 原始错误
}

func (e *BufferPoolError) Error() string {
	if e.Err == nil {
		return "<nil>"
	}
	if e.Pid != nil {
		return e.Op + " " + e.Pid.String() + ": " + e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *BufferPoolError) Unwrap() error {
	return e.Err
}

// NewError 创建新的缓冲池错误
func NewError(op string, pid fmt.Stringer, err error) error {
	return &BufferPoolError{
		Op:  op,
		Pid: pid,
		Err: err,
	}
}

// IsNotFound 检查是否为页面未找到错误
func IsNotFound(err error) bool {
	return errors.Is(err, ErrPageNotFound)
}

// IsNotPinned 检查是否为页面未被pin
func IsNotPinned(err error) bool {
	return errors.Is(err, ErrPageNotPinned)
}

// IsBufferPoolFull 检查是否为缓冲池已满错误
func IsBufferPoolFull(err error) bool {
	return errors.Is(err, ErrBufferPoolFull)
}
