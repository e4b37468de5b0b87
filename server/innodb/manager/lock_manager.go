package manager

import (
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/zhukovaskychina/xmysql-kernel/logger"
	"github.com/zhukovaskychina/xmysql-kernel/server/innodb/basic"
)

// lockRequest 等待队列中的一个请求
type lockRequest struct {
	tid     basic.TransactionID // 事务ID
	perm    LockType            // 请求的锁类型
	upgrade bool                // S升级为X
}

// lockTableEntry 一个页的锁信息，创建后不会删除
type lockTableEntry struct {
	mode    LockType                         // 当前授予的锁类型
	holders map[basic.TransactionID]struct{} // 持有者
	queue   []*lockRequest                   // 等待队列
}

func newLockTableEntry() *lockTableEntry {
	return &lockTableEntry{
		mode:    LOCK_NONE,
		holders: make(map[basic.TransactionID]struct{}),
	}
}

func (e *lockTableEntry) holds(tid basic.TransactionID) bool {
	_, ok := e.holders[tid]
	return ok
}

// compatible 只看持有者，不看队列
func (e *lockTableEntry) compatible(tid basic.TransactionID, perm LockType, upgrade bool) bool {
	switch perm {
	case LOCK_S:
		return e.mode != LOCK_X
	case LOCK_X:
		if len(e.holders) == 0 {
			return true
		}
		return upgrade && len(e.holders) == 1 && e.holds(tid)
	}
	return false
}

func (e *lockTableEntry) dequeue(req *lockRequest) {
	for i, r := range e.queue {
		if r == req {
			e.queue = append(e.queue[:i], e.queue[i+1:]...)
			return
		}
	}
}

// blockers 不兼容的持有者；没有时为排在前面的请求
func (e *lockTableEntry) blockers(req *lockRequest) []basic.TransactionID {
	var out []basic.TransactionID
	for h := range e.holders {
		if h == req.tid {
			continue
		}
		if req.perm == LOCK_X || e.mode == LOCK_X {
			out = append(out, h)
		}
	}
	if len(out) > 0 {
		return out
	}
	for _, r := range e.queue {
		if r == req {
			break
		}
		if r.tid != req.tid {
			out = append(out, r.tid)
		}
	}
	return out
}

// LockManager 页级两阶段锁管理器。
// 共享锁之间兼容，排他锁与任何锁都不兼容；升级请求插到等待队列队头。
// 阻塞前在等待图中加边并检查环，用 wait-die 规则选择中止的事务。
type LockManager struct {
	mu        sync.Mutex
	cond      *sync.Cond
	lockTable map[basic.PageID]*lockTableEntry                  // 锁表
	txnLocks  map[basic.TransactionID]map[basic.PageID]struct{} // 事务持有的锁
	waitGraph *WaitForGraph                                     // 等待图
	aborted   map[basic.TransactionID]bool                      // 被选为牺牲者、尚未醒来的事务
	stats     LockStats
}

// NewLockManager 创建锁管理器
func NewLockManager() *LockManager {
	lm := &LockManager{
		lockTable: make(map[basic.PageID]*lockTableEntry),
		txnLocks:  make(map[basic.TransactionID]map[basic.PageID]struct{}),
		waitGraph: NewWaitForGraph(),
		aborted:   make(map[basic.TransactionID]bool),
	}
	lm.cond = sync.NewCond(&lm.mu)
	return lm
}

func (lm *LockManager) entry(pid basic.PageID) *lockTableEntry {
	e, ok := lm.lockTable[pid]
	if !ok {
		e = newLockTableEntry()
		lm.lockTable[pid] = e
	}
	return e
}

// AcquireLock blocks until tid holds pid at perm or stronger, or until tid
// is chosen to abort, in which case the returned error satisfies
// IsTransactionAborted. The caller is expected to abort tid.
func (lm *LockManager) AcquireLock(tid basic.TransactionID, pid basic.PageID, perm LockType) error {
	if perm != LOCK_S && perm != LOCK_X {
		return errors.Errorf("invalid lock type %v", perm)
	}
	lm.mu.Lock()
	defer lm.mu.Unlock()

	e := lm.entry(pid)
	if e.holds(tid) && e.mode.Covers(perm) {
		return nil
	}
	upgrade := perm == LOCK_X && e.holds(tid)

	if len(e.queue) == 0 && e.compatible(tid, perm, upgrade) {
		lm.grant(e, tid, pid, perm, upgrade)
		return nil
	}

	req := &lockRequest{tid: tid, perm: perm, upgrade: upgrade}
	if upgrade {
		e.queue = append([]*lockRequest{req}, e.queue...)
	} else {
		e.queue = append(e.queue, req)
	}
	lm.stats.Waits++

	for {
		if lm.aborted[tid] {
			delete(lm.aborted, tid)
			lm.abortWaiter(e, req)
			logger.Infof("%s aborted as deadlock victim while waiting for %s lock on %s", tid, perm, pid)
			return errors.Wrapf(ErrTransactionAborted, "%s waiting for %s on %s", tid, perm, pid)
		}

		if e.queue[0] == req && e.compatible(tid, perm, upgrade) {
			e.dequeue(req)
			lm.waitGraph.RemoveWaiter(tid)
			lm.grant(e, tid, pid, perm, upgrade)
			lm.cond.Broadcast()
			return nil
		}

		blockers := e.blockers(req)
		lm.waitGraph.SetWaitFor(tid, blockers)
		if cycle := lm.waitGraph.FindCycle(tid); cycle != nil {
			if youngerThanAny(tid, blockers) {
				lm.abortWaiter(e, req)
				logger.Infof("%s dies waiting for %s lock on %s, blockers %v", tid, perm, pid, blockers)
				return errors.Wrapf(ErrTransactionAborted, "%s waiting for %s on %s", tid, perm, pid)
			}
			if victim := youngest(cycle); victim != tid && !lm.aborted[victim] {
				lm.aborted[victim] = true
				logger.Infof("%s marked as deadlock victim, cycle %v", victim, cycle)
				lm.cond.Broadcast()
			}
		}
		lm.cond.Wait()
	}
}

func (lm *LockManager) grant(e *lockTableEntry, tid basic.TransactionID, pid basic.PageID, perm LockType, upgrade bool) {
	e.holders[tid] = struct{}{}
	if perm > e.mode {
		e.mode = perm
	}
	pages, ok := lm.txnLocks[tid]
	if !ok {
		pages = make(map[basic.PageID]struct{})
		lm.txnLocks[tid] = pages
	}
	pages[pid] = struct{}{}
	lm.stats.Grants++
	if upgrade {
		lm.stats.Upgrades++
	}
}

// abortWaiter 撤销等待中的请求，调用方持有 lm.mu
func (lm *LockManager) abortWaiter(e *lockTableEntry, req *lockRequest) {
	e.dequeue(req)
	lm.waitGraph.RemoveTransaction(req.tid)
	lm.stats.Aborts++
	lm.cond.Broadcast()
}

func youngerThanAny(tid basic.TransactionID, others []basic.TransactionID) bool {
	for _, o := range others {
		if o.OlderThan(tid) {
			return true
		}
	}
	return false
}

func youngest(tids []basic.TransactionID) basic.TransactionID {
	y := tids[0]
	for _, t := range tids[1:] {
		if y.OlderThan(t) {
			y = t
		}
	}
	return y
}

// HoldsLock 是否以不低于perm的强度持有锁
func (lm *LockManager) HoldsLock(tid basic.TransactionID, pid basic.PageID, perm LockType) bool {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	e, ok := lm.lockTable[pid]
	if !ok || !e.holds(tid) {
		return false
	}
	return e.mode.Covers(perm)
}

// ReleaseLock 释放锁，未持有时返回 ErrLockNotHeld
func (lm *LockManager) ReleaseLock(tid basic.TransactionID, pid basic.PageID) error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if err := lm.releaseLocked(tid, pid); err != nil {
		return err
	}
	lm.cond.Broadcast()
	return nil
}

func (lm *LockManager) releaseLocked(tid basic.TransactionID, pid basic.PageID) error {
	e, ok := lm.lockTable[pid]
	if !ok || !e.holds(tid) {
		return errors.Wrapf(ErrLockNotHeld, "%s on %s", tid, pid)
	}
	delete(e.holders, tid)
	if len(e.holders) == 0 {
		e.mode = LOCK_NONE
	} else {
		// 剩余的只可能是共享锁持有者
		e.mode = LOCK_S
	}
	if pages := lm.txnLocks[tid]; pages != nil {
		delete(pages, pid)
		if len(pages) == 0 {
			delete(lm.txnLocks, tid)
		}
	}
	lm.waitGraph.RemoveTransaction(tid)
	lm.stats.Releases++
	return nil
}

// ReleaseAllLocks 释放事务持有的所有锁，返回释放的页
func (lm *LockManager) ReleaseAllLocks(tid basic.TransactionID) []basic.PageID {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	pages := sortedPages(lm.txnLocks[tid])
	for _, pid := range pages {
		_ = lm.releaseLocked(tid, pid)
	}
	lm.waitGraph.RemoveTransaction(tid)
	delete(lm.aborted, tid)
	lm.cond.Broadcast()
	return pages
}

// GetPagesForTid 返回事务持有锁的页
func (lm *LockManager) GetPagesForTid(tid basic.TransactionID) []basic.PageID {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return sortedPages(lm.txnLocks[tid])
}

// GetTidsForPage 返回持有该页锁的事务
func (lm *LockManager) GetTidsForPage(pid basic.PageID) []basic.TransactionID {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	e, ok := lm.lockTable[pid]
	if !ok {
		return nil
	}
	out := make([]basic.TransactionID, 0, len(e.holders))
	for tid := range e.holders {
		out = append(out, tid)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// LockMode 返回页当前授予的锁类型
func (lm *LockManager) LockMode(pid basic.PageID) LockType {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	if e, ok := lm.lockTable[pid]; ok {
		return e.mode
	}
	return LOCK_NONE
}

// QueueLength 返回页上等待的请求数
func (lm *LockManager) QueueLength(pid basic.PageID) int {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	if e, ok := lm.lockTable[pid]; ok {
		return len(e.queue)
	}
	return 0
}

// WaitGraph 返回等待图快照
func (lm *LockManager) WaitGraph() map[basic.TransactionID][]basic.TransactionID {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return lm.waitGraph.Snapshot()
}

func (lm *LockManager) Stats() LockStats {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return lm.stats
}

func sortedPages(set map[basic.PageID]struct{}) []basic.PageID {
	out := make([]basic.PageID, 0, len(set))
	for pid := range set {
		out = append(out, pid)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TableID != out[j].TableID {
			return out[i].TableID < out[j].TableID
		}
		return out[i].PageNo < out[j].PageNo
	})
	return out
}
