package buffer_pool

import (
	"container/list"

	"github.com/zhukovaskychina/xmysql-kernel/server/innodb/basic"
)

// BufferFrame 缓冲池中的一个常驻页及其控制信息。
// 所有字段只在持有 BufferPool.mu 时访问。
type BufferFrame struct {
	page     basic.Page
	pinCount int  // pin计数
	dirty    bool // 脏页标记，只有刷盘成功才清除

	// clock
	slot   int
	refBit bool

	// lru
	lruElem   *list.Element
	cleanElem *list.Element
}

func newBufferFrame(page basic.Page) *BufferFrame {
	return &BufferFrame{
		page:     page,
		pinCount: 1,
		slot:     -1,
	}
}

func (f *BufferFrame) Page() basic.Page {
	return f.page
}

func (f *BufferFrame) PageID() basic.PageID {
	return f.page.GetID()
}

func (f *BufferFrame) PinCount() int {
	return f.pinCount
}

func (f *BufferFrame) IsDirty() bool {
	return f.dirty
}

// Evictable 未被pin且满足脏页策略的页才能被淘汰
func (f *BufferFrame) Evictable(allowDirty bool) bool {
	return f.pinCount == 0 && (allowDirty || !f.dirty)
}
