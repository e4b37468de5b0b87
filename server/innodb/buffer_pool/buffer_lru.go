package buffer_pool

import (
	"container/list"

	"github.com/pkg/errors"
)

// LRUReplacer 维护两条链表：所有未被pin的页按最近使用排序，
// 以及其中干净页的子队列。关闭脏页淘汰时只从干净队列选择。
type LRUReplacer struct {
	lru   *list.List // 未被pin的页，队头最久未使用
	clean *list.List // 未被pin的干净页
}

func NewLRUReplacer() *LRUReplacer {
	return &LRUReplacer{
		lru:   list.New(),
		clean: list.New(),
	}
}

func (r *LRUReplacer) Name() string {
	return PolicyLRU
}

func (r *LRUReplacer) OnLoad(f *BufferFrame) {
	r.OnTouch(f)
}

// OnTouch 先摘除，未被pin时重新放到队尾
func (r *LRUReplacer) OnTouch(f *BufferFrame) {
	r.unlink(f)
	if f.pinCount > 0 {
		return
	}
	f.lruElem = r.lru.PushBack(f)
	if !f.dirty {
		f.cleanElem = r.clean.PushBack(f)
	}
}

// OnFlush 刷盘后页面变干净，重新入队
func (r *LRUReplacer) OnFlush(f *BufferFrame) {
	r.OnTouch(f)
}

func (r *LRUReplacer) OnEvict(f *BufferFrame) {
	r.unlink(f)
}

func (r *LRUReplacer) unlink(f *BufferFrame) {
	if f.lruElem != nil {
		r.lru.Remove(f.lruElem)
		f.lruElem = nil
	}
	if f.cleanElem != nil {
		r.clean.Remove(f.cleanElem)
		f.cleanElem = nil
	}
}

func (r *LRUReplacer) SelectVictim(allowDirty bool) (*BufferFrame, error) {
	queue := r.clean
	if allowDirty {
		queue = r.lru
	}
	if e := queue.Front(); e != nil {
		return e.Value.(*BufferFrame), nil
	}
	return nil, errors.WithStack(ErrBufferPoolFull)
}

// Len 返回可淘汰队列长度
func (r *LRUReplacer) Len() (all int, clean int) {
	return r.lru.Len(), r.clean.Len()
}
