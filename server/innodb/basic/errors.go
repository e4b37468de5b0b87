package basic

import "github.com/pkg/errors"

// 页面相关错误
var (
	ErrOutOfPageRange = errors.New("write out of page range")
)
