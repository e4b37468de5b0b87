package buffer_pool

import (
	"strings"

	"github.com/pkg/errors"
)

// 页面置换策略
const (
	PolicyClock = "clock"
	PolicyLRU   = "lru"
)

// Replacer chooses eviction victims. Every method is called with the
// buffer pool mutex held.
type Replacer interface {
	// OnLoad is called once after a page is read into a new frame.
	OnLoad(f *BufferFrame)
	// OnTouch is called after a frame's pin count or dirty flag changed.
	OnTouch(f *BufferFrame)
	// OnFlush is called after a dirty frame was written back.
	OnFlush(f *BufferFrame)
	// OnEvict is called when a frame leaves the pool.
	OnEvict(f *BufferFrame)
	// SelectVictim returns an unpinned frame, dirty only when allowDirty.
	SelectVictim(allowDirty bool) (*BufferFrame, error)
	Name() string
}

// NewReplacer 根据策略名创建置换器
func NewReplacer(policy string, capacity int) (Replacer, error) {
	switch strings.ToLower(policy) {
	case PolicyClock, "":
		return NewClockReplacer(capacity), nil
	case PolicyLRU:
		return NewLRUReplacer(), nil
	default:
		return nil, errors.Wrapf(ErrInvalidConfig, "unknown replacement policy %q", policy)
	}
}
