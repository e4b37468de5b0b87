package buffer_pool

import (
	"github.com/pkg/errors"
)

// ClockReplacer 二次机会算法。
// 页被unpin到0时置位引用位；指针扫描时清除引用位，
// 选中第一个未被pin、满足脏页策略且引用位为0的页。
type ClockReplacer struct {
	slots []*BufferFrame // 槽位 -> 常驻页
	free  []int          // 空闲槽位栈
	hand  int            // 时钟指针
}

func NewClockReplacer(capacity int) *ClockReplacer {
	c := &ClockReplacer{
		slots: make([]*BufferFrame, capacity),
		free:  make([]int, 0, capacity),
	}
	for i := capacity - 1; i >= 0; i-- {
		c.free = append(c.free, i)
	}
	return c
}

func (c *ClockReplacer) Name() string {
	return PolicyClock
}

func (c *ClockReplacer) OnLoad(f *BufferFrame) {
	n := len(c.free)
	if n == 0 {
		// 调用方保证先淘汰再加载
		panic("clock replacer: no free slot")
	}
	slot := c.free[n-1]
	c.free = c.free[:n-1]
	c.slots[slot] = f
	f.slot = slot
	f.refBit = false
}

func (c *ClockReplacer) OnTouch(f *BufferFrame) {
	if f.pinCount == 0 {
		f.refBit = true
	}
}

// OnFlush 刷盘不算访问，不设置引用位
func (c *ClockReplacer) OnFlush(f *BufferFrame) {}

func (c *ClockReplacer) OnEvict(f *BufferFrame) {
	if f.slot < 0 || c.slots[f.slot] != f {
		return
	}
	c.slots[f.slot] = nil
	c.free = append(c.free, f.slot)
	f.slot = -1
}

// SelectVictim 最多转两圈：第一圈清除引用位，第二圈仍找不到则失败
func (c *ClockReplacer) SelectVictim(allowDirty bool) (*BufferFrame, error) {
	n := len(c.slots)
	for step := 0; step < 2*n; step++ {
		f := c.slots[c.hand]
		c.hand = (c.hand + 1) % n
		if f == nil || f.pinCount > 0 {
			continue
		}
		if f.refBit {
			f.refBit = false
			continue
		}
		if !f.Evictable(allowDirty) {
			continue
		}
		return f, nil
	}
	return nil, errors.WithStack(ErrBufferPoolFull)
}
