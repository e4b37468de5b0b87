package manager

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/zhukovaskychina/xmysql-kernel/logger"
	"github.com/zhukovaskychina/xmysql-kernel/server/innodb/basic"
	"github.com/zhukovaskychina/xmysql-kernel/server/innodb/buffer_pool"
)

// pinEntry 一个事务对一个页的pin记录
type pinEntry struct {
	count int  // 未释放的pin次数
	dirty bool // 是否修改过，只增不减
}

// AccessManager is the single entry point for page access. It composes the
// lock manager, buffer pool and log, and remembers which pages every
// transaction pinned and dirtied so it can finish them at commit or abort.
type AccessManager struct {
	mu sync.Mutex

	lockManager *LockManager
	bufferPool  *buffer_pool.BufferPool
	logFile     *LogFile
	force       bool // 脏页unpin时是否强制刷日志

	pins     map[basic.PageID]map[basic.TransactionID]*pinEntry
	txnPages map[basic.TransactionID]map[basic.PageID]struct{}
}

func NewAccessManager(lm *LockManager, bp *buffer_pool.BufferPool, lf *LogFile) *AccessManager {
	return &AccessManager{
		lockManager: lm,
		bufferPool:  bp,
		logFile:     lf,
		force:       true,
		pins:        make(map[basic.PageID]map[basic.TransactionID]*pinEntry),
		txnPages:    make(map[basic.TransactionID]map[basic.PageID]struct{}),
	}
}

// SetForce 设置强制刷日志策略
func (am *AccessManager) SetForce(force bool) {
	am.mu.Lock()
	defer am.mu.Unlock()
	am.force = force
}

// AcquireLock may block; it never holds the coordinator mutex while waiting.
func (am *AccessManager) AcquireLock(tid basic.TransactionID, pid basic.PageID, perm LockType) error {
	return am.lockManager.AcquireLock(tid, pid, perm)
}

func (am *AccessManager) HoldsLock(tid basic.TransactionID, pid basic.PageID, perm LockType) bool {
	return am.lockManager.HoldsLock(tid, pid, perm)
}

// ReleaseLock 页仍被该事务pin时不释放
func (am *AccessManager) ReleaseLock(tid basic.TransactionID, pid basic.PageID) error {
	am.mu.Lock()
	if e := am.entry(pid, tid); e != nil && e.count > 0 {
		am.mu.Unlock()
		return nil
	}
	am.mu.Unlock()
	return am.lockManager.ReleaseLock(tid, pid)
}

func (am *AccessManager) entry(pid basic.PageID, tid basic.TransactionID) *pinEntry {
	if byTid, ok := am.pins[pid]; ok {
		return byTid[tid]
	}
	return nil
}

func (am *AccessManager) PinPage(tid basic.TransactionID, pid basic.PageID, maker basic.PageMaker) (basic.Page, error) {
	am.mu.Lock()
	defer am.mu.Unlock()

	page, err := am.bufferPool.PinPage(pid, maker)
	if err != nil {
		return nil, err
	}
	byTid, ok := am.pins[pid]
	if !ok {
		byTid = make(map[basic.TransactionID]*pinEntry)
		am.pins[pid] = byTid
	}
	e, ok := byTid[tid]
	if !ok {
		e = &pinEntry{}
		byTid[tid] = e
	}
	e.count++

	pages, ok := am.txnPages[tid]
	if !ok {
		pages = make(map[basic.PageID]struct{})
		am.txnPages[tid] = pages
	}
	pages[pid] = struct{}{}
	return page, nil
}

// UnpinPage logs an UPDATE with the page's before image when dirty, forcing
// the log under the force policy, before the buffer pool sees the unpin.
// A page that left the pool while pinned is reported without logging.
func (am *AccessManager) UnpinPage(tid basic.TransactionID, page basic.Page, dirty bool) error {
	pid := page.GetID()
	am.mu.Lock()
	defer am.mu.Unlock()

	e := am.entry(pid, tid)
	if e == nil || e.count == 0 {
		return errors.Wrapf(buffer_pool.ErrPageNotPinned, "%s does not pin %s", tid, pid)
	}
	if dirty {
		cached, err := am.bufferPool.GetPage(pid)
		if err != nil {
			return err
		}
		if cached != page || am.bufferPool.PinCount(pid) == 0 {
			return buffer_pool.NewError("unpin", pid, buffer_pool.ErrPageNotFound)
		}
		if err := am.logFile.LogWrite(tid, page.GetBeforeImage(), page); err != nil {
			return err
		}
		if am.force {
			if err := am.logFile.Force(); err != nil {
				return err
			}
		}
	}
	if err := am.bufferPool.UnpinPage(pid, dirty); err != nil {
		return err
	}
	e.count--
	if dirty {
		e.dirty = true
	}
	return nil
}

func (am *AccessManager) AllocatePage(pid basic.PageID) error {
	am.mu.Lock()
	defer am.mu.Unlock()
	return am.bufferPool.AllocatePage(pid)
}

// TransactionComplete finishes every page tid touched: dirtied pages are
// flushed and re-snapshotted on commit or discarded on abort, outstanding
// pins are dropped, then every lock of tid is released.
func (am *AccessManager) TransactionComplete(tid basic.TransactionID, commit bool) error {
	am.mu.Lock()
	force := am.force
	am.mu.Unlock()
	if force {
		if err := am.logFile.Force(); err != nil {
			return err
		}
	}

	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	am.mu.Lock()
	for _, pid := range sortedPages(am.txnPages[tid]) {
		e := am.entry(pid, tid)
		if e == nil {
			continue
		}
		if e.dirty {
			if commit {
				if err := am.bufferPool.FlushPage(pid); err != nil {
					keep(err)
				} else if page, err := am.bufferPool.GetPage(pid); err == nil {
					page.SetBeforeImage()
				}
			} else {
				am.bufferPool.DiscardPage(pid)
			}
		}
		for ; e.count > 0; e.count-- {
			// 页可能已被丢弃
			if err := am.bufferPool.UnpinPage(pid, false); err != nil && !buffer_pool.IsNotFound(err) {
				keep(err)
			}
		}
		delete(am.pins[pid], tid)
		if len(am.pins[pid]) == 0 {
			delete(am.pins, pid)
		}
	}
	delete(am.txnPages, tid)
	am.mu.Unlock()

	released := am.lockManager.ReleaseAllLocks(tid)
	logger.Debugf("%s complete (commit=%v), released %d locks", tid, commit, len(released))
	return firstErr
}

// PinCount 返回事务对页的未释放pin次数
func (am *AccessManager) PinCount(tid basic.TransactionID, pid basic.PageID) int {
	am.mu.Lock()
	defer am.mu.Unlock()
	if e := am.entry(pid, tid); e != nil {
		return e.count
	}
	return 0
}

func (am *AccessManager) LockManager() *LockManager {
	return am.lockManager
}

func (am *AccessManager) BufferPool() *buffer_pool.BufferPool {
	return am.bufferPool
}

func (am *AccessManager) LogFile() *LogFile {
	return am.logFile
}
