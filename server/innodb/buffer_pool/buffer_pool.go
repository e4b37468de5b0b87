package buffer_pool

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/zhukovaskychina/xmysql-kernel/logger"
	"github.com/zhukovaskychina/xmysql-kernel/server/innodb/basic"
)

// BufferPoolConfig contains configuration for buffer pool
type BufferPoolConfig struct {
	Capacity    int               // 最多常驻页数
	Policy      string            // clock | lru
	EvictDirty  bool              // 是否允许淘汰脏页（淘汰前先刷盘）
	DiskManager basic.DiskManager // 磁盘管理器
}

// BufferPool is a bounded page cache. A single mutex guards every frame
// and the replacer.
type BufferPool struct {
	mu sync.Mutex

	capacity   int
	frames     map[basic.PageID]*BufferFrame
	replacer   Replacer
	disk       basic.DiskManager
	evictDirty bool
	forceLog   func() error // 写脏页前强制刷日志

	stats *BufferPoolStats
}

// NewBufferPool creates a new buffer pool
func NewBufferPool(config *BufferPoolConfig) (*BufferPool, error) {
	if config == nil || config.Capacity <= 0 || config.DiskManager == nil {
		return nil, errors.Wrap(ErrInvalidConfig, "capacity must be positive and disk manager set")
	}
	replacer, err := NewReplacer(config.Policy, config.Capacity)
	if err != nil {
		return nil, err
	}
	return &BufferPool{
		capacity:   config.Capacity,
		frames:     make(map[basic.PageID]*BufferFrame, config.Capacity),
		replacer:   replacer,
		disk:       config.DiskManager,
		evictDirty: config.EvictDirty,
		stats:      NewBufferPoolStats(),
	}, nil
}

func (bp *BufferPool) Capacity() int {
	return bp.capacity
}

func (bp *BufferPool) Policy() string {
	return bp.replacer.Name()
}

// PinPage returns the cached page, reading it through maker on a miss.
// A miss on a full pool evicts one unpinned frame first.
func (bp *BufferPool) PinPage(pid basic.PageID, maker basic.PageMaker) (basic.Page, error) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	if f, ok := bp.frames[pid]; ok {
		f.pinCount++
		bp.replacer.OnTouch(f)
		bp.stats.RecordPageRequest(true)
		return f.page, nil
	}
	bp.stats.RecordPageRequest(false)

	if len(bp.frames) >= bp.capacity {
		if err := bp.evictLocked(); err != nil {
			return nil, NewError("pin", pid, err)
		}
	}

	page, err := bp.disk.ReadPage(pid, maker)
	if err != nil {
		return nil, NewError("pin", pid, err)
	}
	bp.stats.RecordPageIO(true)

	f := newBufferFrame(page)
	bp.frames[pid] = f
	bp.replacer.OnLoad(f)
	return page, nil
}

// evictLocked 选出一个牺牲页，脏页先刷盘再移出
func (bp *BufferPool) evictLocked() error {
	victim, err := bp.replacer.SelectVictim(bp.evictDirty)
	if err != nil {
		return errors.Wrapf(err, "%d frames, policy %s, evict dirty %v",
			bp.capacity, bp.replacer.Name(), bp.evictDirty)
	}
	pid := victim.PageID()
	if victim.dirty {
		if err := bp.flushFrameLocked(victim); err != nil {
			return err
		}
	}
	bp.replacer.OnEvict(victim)
	delete(bp.frames, pid)
	bp.stats.RecordEviction()
	logger.Debugf("buffer pool evicted page %s", pid)
	return nil
}

// UnpinPage decrements the pin count. The dirty flag only ever goes up here.
func (bp *BufferPool) UnpinPage(pid basic.PageID, dirty bool) error {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	f, ok := bp.frames[pid]
	if !ok {
		return NewError("unpin", pid, ErrPageNotFound)
	}
	if f.pinCount == 0 {
		return NewError("unpin", pid, ErrPageNotPinned)
	}
	f.pinCount--
	if dirty {
		f.dirty = true
	}
	bp.replacer.OnTouch(f)
	return nil
}

// FlushPage writes the page to disk if it is resident and dirty.
func (bp *BufferPool) FlushPage(pid basic.PageID) error {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	f, ok := bp.frames[pid]
	if !ok || !f.dirty {
		return nil
	}
	if err := bp.flushFrameLocked(f); err != nil {
		return NewError("flush", pid, err)
	}
	return nil
}

// SetLogForcer installs the hook run before any dirty page reaches disk,
// so log records describing the page are durable first.
func (bp *BufferPool) SetLogForcer(force func() error) {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	bp.forceLog = force
}

func (bp *BufferPool) flushFrameLocked(f *BufferFrame) error {
	if bp.forceLog != nil {
		if err := bp.forceLog(); err != nil {
			bp.stats.RecordFlush(false)
			return errors.Wrap(err, "force log before page write")
		}
	}
	if err := bp.disk.WritePage(f.page); err != nil {
		bp.stats.RecordFlush(false)
		return err
	}
	f.dirty = false
	bp.stats.RecordFlush(true)
	bp.stats.RecordPageIO(false)
	bp.replacer.OnFlush(f)
	logger.Debugf("buffer pool flushed page %s", f.PageID())
	return nil
}

// FlushAllPages 刷新所有脏页，遇到第一个错误即返回
func (bp *BufferPool) FlushAllPages() error {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	for pid, f := range bp.frames {
		if !f.dirty {
			continue
		}
		if err := bp.flushFrameLocked(f); err != nil {
			return NewError("flush all", pid, err)
		}
	}
	return nil
}

// AllocatePage 委托磁盘管理器分配页，不把页加载进缓冲池
func (bp *BufferPool) AllocatePage(pid basic.PageID) error {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	if err := bp.disk.AllocatePage(pid); err != nil {
		return NewError("allocate", pid, err)
	}
	return nil
}

// DiscardPage drops the page without writing it, whatever its pin count.
func (bp *BufferPool) DiscardPage(pid basic.PageID) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	f, ok := bp.frames[pid]
	if !ok {
		return
	}
	bp.replacer.OnEvict(f)
	delete(bp.frames, pid)
	logger.Debugf("buffer pool discarded page %s", pid)
}

func (bp *BufferPool) IsDirty(pid basic.PageID) bool {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	f, ok := bp.frames[pid]
	return ok && f.dirty
}

func (bp *BufferPool) InBufferPool(pid basic.PageID) bool {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	_, ok := bp.frames[pid]
	return ok
}

// GetPage 返回常驻页，不改变pin计数
func (bp *BufferPool) GetPage(pid basic.PageID) (basic.Page, error) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	f, ok := bp.frames[pid]
	if !ok {
		return nil, NewError("get", pid, ErrPageNotFound)
	}
	return f.page, nil
}

// PinCount 返回页的pin计数，不在缓冲池中时返回0
func (bp *BufferPool) PinCount(pid basic.PageID) int {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	if f, ok := bp.frames[pid]; ok {
		return f.pinCount
	}
	return 0
}

// EvictDirty 设置是否允许淘汰脏页
func (bp *BufferPool) EvictDirty(allowed bool) {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	bp.evictDirty = allowed
}

// Stats 返回统计快照
func (bp *BufferPool) Stats() BufferPoolStats {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	s := bp.stats.Snapshot()
	s.ResidentPages = int64(len(bp.frames))
	for _, f := range bp.frames {
		if f.dirty {
			s.DirtyPages++
		}
		if f.pinCount > 0 {
			s.PinnedPages++
		}
	}
	return s
}
