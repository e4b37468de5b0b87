package buffer_pool

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zhukovaskychina/xmysql-kernel/server/innodb/basic"
)

// memDisk 内存磁盘，记录写入次数
type memDisk struct {
	mu     sync.Mutex
	pages  map[basic.PageID][]byte
	writes map[basic.PageID]int
}

func newMemDisk() *memDisk {
	return &memDisk{
		pages:  make(map[basic.PageID][]byte),
		writes: make(map[basic.PageID]int),
	}
}

func (d *memDisk) ReadPage(pid basic.PageID, maker basic.PageMaker) (basic.Page, error) {
	d.mu.Lock()
	data, ok := d.pages[pid]
	d.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("page %s not allocated", pid)
	}
	return maker(pid, data)
}

func (d *memDisk) WritePage(page basic.Page) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pages[page.GetID()] = page.GetPageData()
	d.writes[page.GetID()]++
	return nil
}

func (d *memDisk) AllocatePage(pid basic.PageID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.pages[pid]; !ok {
		d.pages[pid] = make([]byte, 8)
	}
	return nil
}

func (d *memDisk) writeCount(pid basic.PageID) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writes[pid]
}

func pid(n uint32) basic.PageID {
	return basic.NewPageID(1, n)
}

func newTestPool(t *testing.T, policy string, capacity int, evictDirty bool) (*BufferPool, *memDisk) {
	t.Helper()
	disk := newMemDisk()
	for i := uint32(0); i < 16; i++ {
		require.NoError(t, disk.AllocatePage(pid(i)))
	}
	bp, err := NewBufferPool(&BufferPoolConfig{
		Capacity:    capacity,
		Policy:      policy,
		EvictDirty:  evictDirty,
		DiskManager: disk,
	})
	require.NoError(t, err)
	return bp, disk
}

func pinUnpin(t *testing.T, bp *BufferPool, n uint32, dirty bool) {
	t.Helper()
	_, err := bp.PinPage(pid(n), basic.DataPageMaker)
	require.NoError(t, err)
	require.NoError(t, bp.UnpinPage(pid(n), dirty))
}

func TestBufferPoolPolicies(t *testing.T) {
	for _, policy := range []string{PolicyClock, PolicyLRU} {
		policy := policy
		t.Run(policy, func(t *testing.T) {
			t.Run("pin与unpin计数平衡", func(t *testing.T) {
				bp, _ := newTestPool(t, policy, 4, true)
				p1, err := bp.PinPage(pid(0), basic.DataPageMaker)
				require.NoError(t, err)
				p2, err := bp.PinPage(pid(0), basic.DataPageMaker)
				require.NoError(t, err)
				assert.Same(t, p1, p2)
				assert.Equal(t, 2, bp.PinCount(pid(0)))

				require.NoError(t, bp.UnpinPage(pid(0), false))
				require.NoError(t, bp.UnpinPage(pid(0), false))
				assert.Equal(t, 0, bp.PinCount(pid(0)))
				assert.True(t, bp.InBufferPool(pid(0)))

				err = bp.UnpinPage(pid(0), false)
				assert.True(t, IsNotPinned(err))
				err = bp.UnpinPage(pid(9), false)
				assert.True(t, IsNotFound(err))

				s := bp.Stats()
				assert.Equal(t, int64(1), s.PageHits)
				assert.Equal(t, int64(1), s.PageMisses)
				assert.Equal(t, int64(1), s.ResidentPages)
			})

			t.Run("被pin的页不会被淘汰", func(t *testing.T) {
				bp, _ := newTestPool(t, policy, 2, true)
				_, err := bp.PinPage(pid(0), basic.DataPageMaker)
				require.NoError(t, err)
				_, err = bp.PinPage(pid(1), basic.DataPageMaker)
				require.NoError(t, err)

				_, err = bp.PinPage(pid(2), basic.DataPageMaker)
				assert.True(t, IsBufferPoolFull(err))
				assert.True(t, bp.InBufferPool(pid(0)))
				assert.True(t, bp.InBufferPool(pid(1)))
				assert.False(t, bp.InBufferPool(pid(2)))
			})

			t.Run("禁止淘汰脏页时选择干净页", func(t *testing.T) {
				bp, disk := newTestPool(t, policy, 2, false)
				pinUnpin(t, bp, 0, true)
				pinUnpin(t, bp, 1, false)

				pinUnpin(t, bp, 2, false)
				assert.True(t, bp.InBufferPool(pid(0)))
				assert.False(t, bp.InBufferPool(pid(1)))
				assert.Equal(t, 0, disk.writeCount(pid(0)))

				// 唯一可选的是脏页
				_, err := bp.PinPage(pid(2), basic.DataPageMaker)
				require.NoError(t, err)
				_, err = bp.PinPage(pid(3), basic.DataPageMaker)
				assert.True(t, IsBufferPoolFull(err))
			})

			t.Run("允许淘汰脏页时先刷盘", func(t *testing.T) {
				bp, disk := newTestPool(t, policy, 1, true)
				page, err := bp.PinPage(pid(0), basic.DataPageMaker)
				require.NoError(t, err)
				require.NoError(t, page.(*basic.DataPage).WriteAt(0, []byte{7}))
				require.NoError(t, bp.UnpinPage(pid(0), true))

				pinUnpin(t, bp, 1, false)
				assert.False(t, bp.InBufferPool(pid(0)))
				assert.Equal(t, 1, disk.writeCount(pid(0)))

				reloaded, err := bp.PinPage(pid(0), basic.DataPageMaker)
				require.NoError(t, err)
				assert.Equal(t, byte(7), reloaded.GetPageData()[0])
				assert.Equal(t, int64(2), bp.Stats().PageEvictions)
			})

			t.Run("脏标记单调", func(t *testing.T) {
				bp, disk := newTestPool(t, policy, 2, true)
				pinUnpin(t, bp, 0, true)
				pinUnpin(t, bp, 0, false)
				assert.True(t, bp.IsDirty(pid(0)))

				require.NoError(t, bp.FlushPage(pid(0)))
				assert.False(t, bp.IsDirty(pid(0)))
				assert.Equal(t, 1, disk.writeCount(pid(0)))

				// 干净页与不在缓冲池的页刷盘为空操作
				require.NoError(t, bp.FlushPage(pid(0)))
				require.NoError(t, bp.FlushPage(pid(5)))
				assert.Equal(t, 1, disk.writeCount(pid(0)))
			})

			t.Run("刷新全部脏页", func(t *testing.T) {
				bp, disk := newTestPool(t, policy, 4, true)
				pinUnpin(t, bp, 0, true)
				pinUnpin(t, bp, 1, true)
				pinUnpin(t, bp, 2, false)
				require.NoError(t, bp.FlushAllPages())
				assert.Equal(t, 1, disk.writeCount(pid(0)))
				assert.Equal(t, 1, disk.writeCount(pid(1)))
				assert.Equal(t, 0, disk.writeCount(pid(2)))
				assert.Equal(t, int64(0), bp.Stats().DirtyPages)
			})

			t.Run("丢弃页面", func(t *testing.T) {
				bp, disk := newTestPool(t, policy, 2, true)
				_, err := bp.PinPage(pid(0), basic.DataPageMaker)
				require.NoError(t, err)
				require.NoError(t, bp.UnpinPage(pid(0), true))
				_, err = bp.PinPage(pid(0), basic.DataPageMaker)
				require.NoError(t, err)

				bp.DiscardPage(pid(0))
				assert.False(t, bp.InBufferPool(pid(0)))
				assert.Equal(t, 0, disk.writeCount(pid(0)))
				bp.DiscardPage(pid(0))

				_, err = bp.GetPage(pid(0))
				assert.True(t, IsNotFound(err))

				// 丢弃释放的槽位可以复用
				pinUnpin(t, bp, 1, false)
				pinUnpin(t, bp, 2, false)
				assert.True(t, bp.InBufferPool(pid(1)))
				assert.True(t, bp.InBufferPool(pid(2)))
			})

			t.Run("读盘失败不占用槽位", func(t *testing.T) {
				bp, _ := newTestPool(t, policy, 1, true)
				_, err := bp.PinPage(basic.NewPageID(9, 9), basic.DataPageMaker)
				assert.Error(t, err)
				pinUnpin(t, bp, 0, false)
				assert.True(t, bp.InBufferPool(pid(0)))
			})

			t.Run("并发pin与unpin", func(t *testing.T) {
				bp, _ := newTestPool(t, policy, 4, true)
				var wg sync.WaitGroup
				for g := 0; g < 4; g++ {
					wg.Add(1)
					go func(g int) {
						defer wg.Done()
						for i := 0; i < 200; i++ {
							n := uint32((g + i) % 8)
							if _, err := bp.PinPage(pid(n), basic.DataPageMaker); err != nil {
								continue
							}
							_ = bp.UnpinPage(pid(n), i%3 == 0)
						}
					}(g)
				}
				wg.Wait()
				s := bp.Stats()
				assert.LessOrEqual(t, s.ResidentPages, int64(4))
				assert.Equal(t, int64(0), s.PinnedPages)
			})
		})
	}
}

func TestLRUReplacerOrder(t *testing.T) {
	bp, _ := newTestPool(t, PolicyLRU, 3, true)
	pinUnpin(t, bp, 0, false)
	pinUnpin(t, bp, 1, false)
	pinUnpin(t, bp, 2, false)
	// 0 最近被访问
	pinUnpin(t, bp, 0, false)

	pinUnpin(t, bp, 3, false)
	assert.False(t, bp.InBufferPool(pid(1)))
	assert.True(t, bp.InBufferPool(pid(0)))

	pinUnpin(t, bp, 4, false)
	assert.False(t, bp.InBufferPool(pid(2)))
}

func TestLRUReplacerFlushRequeues(t *testing.T) {
	bp, _ := newTestPool(t, PolicyLRU, 2, false)
	pinUnpin(t, bp, 0, true)
	pinUnpin(t, bp, 1, false)

	// 刷盘后0成为干净页并排到队尾
	require.NoError(t, bp.FlushPage(pid(0)))
	pinUnpin(t, bp, 2, false)
	assert.False(t, bp.InBufferPool(pid(1)))
	assert.True(t, bp.InBufferPool(pid(0)))
}

func TestClockReplacerSecondChance(t *testing.T) {
	bp, _ := newTestPool(t, PolicyClock, 3, true)
	for n := uint32(0); n < 3; n++ {
		_, err := bp.PinPage(pid(n), basic.DataPageMaker)
		require.NoError(t, err)
	}
	require.NoError(t, bp.UnpinPage(pid(0), false))
	require.NoError(t, bp.UnpinPage(pid(1), false))

	// 第一圈清除0和1的引用位，第二圈选中0
	_, err := bp.PinPage(pid(3), basic.DataPageMaker)
	require.NoError(t, err)
	assert.False(t, bp.InBufferPool(pid(0)))

	// 指针停在1之后，1的引用位已被清除
	require.NoError(t, bp.UnpinPage(pid(3), false))
	_, err = bp.PinPage(pid(4), basic.DataPageMaker)
	require.NoError(t, err)
	assert.False(t, bp.InBufferPool(pid(1)))
	assert.True(t, bp.InBufferPool(pid(3)))
}

func TestClockReplacerFlushKeepsRefBit(t *testing.T) {
	bp, _ := newTestPool(t, PolicyClock, 3, true)
	pinUnpin(t, bp, 0, false)
	pinUnpin(t, bp, 1, false)
	pinUnpin(t, bp, 2, true)
	// 清除全部引用位并淘汰0，指针停在1
	pinUnpin(t, bp, 3, false)
	assert.False(t, bp.InBufferPool(pid(0)))
	pinUnpin(t, bp, 1, false)

	// 刷盘不给2第二次机会
	require.NoError(t, bp.FlushPage(pid(2)))
	assert.False(t, bp.IsDirty(pid(2)))
	pinUnpin(t, bp, 4, false)
	assert.False(t, bp.InBufferPool(pid(2)))
	assert.True(t, bp.InBufferPool(pid(1)))
	assert.True(t, bp.InBufferPool(pid(3)))
}

func TestNewBufferPoolConfig(t *testing.T) {
	_, err := NewBufferPool(&BufferPoolConfig{Capacity: 0, DiskManager: newMemDisk()})
	assert.ErrorIs(t, err, ErrInvalidConfig)
	_, err = NewBufferPool(&BufferPoolConfig{Capacity: 1, Policy: "fifo", DiskManager: newMemDisk()})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	bp, err := NewBufferPool(&BufferPoolConfig{Capacity: 1, Policy: "LRU", DiskManager: newMemDisk()})
	require.NoError(t, err)
	assert.Equal(t, PolicyLRU, bp.Policy())
}

func TestBufferPoolForcesLogBeforeWrite(t *testing.T) {
	bp, disk := newTestPool(t, PolicyLRU, 1, true)
	forced := 0
	bp.SetLogForcer(func() error {
		forced++
		return nil
	})
	pinUnpin(t, bp, 0, true)
	pinUnpin(t, bp, 1, false)
	assert.Equal(t, 1, forced)
	assert.Equal(t, 1, disk.writeCount(pid(0)))

	bp.SetLogForcer(func() error { return fmt.Errorf("log device gone") })
	pinUnpin(t, bp, 1, true)
	assert.Error(t, bp.FlushPage(pid(1)))
	assert.True(t, bp.IsDirty(pid(1)))
}
