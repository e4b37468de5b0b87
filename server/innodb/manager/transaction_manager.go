package manager

import (
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/zhukovaskychina/xmysql-kernel/logger"
	"github.com/zhukovaskychina/xmysql-kernel/server/innodb/basic"
)

// 事务状态
const (
	TRX_STATE_NOT_STARTED uint8 = iota
	TRX_STATE_ACTIVE
	TRX_STATE_COMPLETING
	TRX_STATE_COMMITTED
	TRX_STATE_ROLLED_BACK
)

// Transaction 表示一个事务
type Transaction struct {
	ID        basic.TransactionID // 事务ID
	State     uint8               // 事务状态
	StartTime time.Time           // 开始时间
}

// TransactionManager 事务管理器
type TransactionManager struct {
	mu                 sync.RWMutex
	cpMu               sync.RWMutex // 检查点期间禁止事务开始与结束
	activeTransactions map[basic.TransactionID]*Transaction // 活跃事务

	access  *AccessManager
	logFile *LogFile
}

// NewTransactionManager 创建事务管理器
func NewTransactionManager(access *AccessManager) *TransactionManager {
	return &TransactionManager{
		activeTransactions: make(map[basic.TransactionID]*Transaction),
		access:             access,
		logFile:            access.LogFile(),
	}
}

// Begin allocates a transaction id and logs BEGIN for it.
func (tm *TransactionManager) Begin() (*Transaction, error) {
	trx := &Transaction{
		ID:        basic.NewTransactionID(),
		State:     TRX_STATE_ACTIVE,
		StartTime: time.Now(),
	}
	tm.cpMu.RLock()
	defer tm.cpMu.RUnlock()
	if err := tm.logFile.LogBegin(trx.ID); err != nil {
		return nil, err
	}

	tm.mu.Lock()
	tm.activeTransactions[trx.ID] = trx
	tm.mu.Unlock()
	return trx, nil
}

// start 把活跃事务切换到完成中，防止并发提交或回滚
func (tm *TransactionManager) start(tid basic.TransactionID) (*Transaction, error) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	trx, ok := tm.activeTransactions[tid]
	if !ok {
		return nil, errors.Wrapf(ErrTxNotFound, "%s", tid)
	}
	if trx.State != TRX_STATE_ACTIVE {
		return nil, errors.Wrapf(ErrInvalidTrxState, "%s in state %d", tid, trx.State)
	}
	trx.State = TRX_STATE_COMPLETING
	return trx, nil
}

func (tm *TransactionManager) finish(trx *Transaction, state uint8) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	trx.State = state
	delete(tm.activeTransactions, trx.ID)
}

// Commit makes tid durable: COMMIT is forced to the log before its pages
// are flushed and its locks released.
func (tm *TransactionManager) Commit(tid basic.TransactionID) error {
	trx, err := tm.start(tid)
	if err != nil {
		return err
	}
	tm.cpMu.RLock()
	if err := tm.logFile.LogCommit(tid); err != nil {
		tm.cpMu.RUnlock()
		tm.mu.Lock()
		trx.State = TRX_STATE_ACTIVE
		tm.mu.Unlock()
		return err
	}
	tm.finish(trx, TRX_STATE_COMMITTED)
	tm.cpMu.RUnlock()
	return tm.access.TransactionComplete(tid, true)
}

// Abort rolls tid back through the log, then discards its pages and
// releases its locks.
func (tm *TransactionManager) Abort(tid basic.TransactionID) error {
	trx, err := tm.start(tid)
	if err != nil {
		return err
	}
	tm.cpMu.RLock()
	rbErr := tm.logFile.Rollback(tid)
	if rbErr != nil {
		logger.Errorf("rollback %s: %v", tid, rbErr)
	}
	tm.finish(trx, TRX_STATE_ROLLED_BACK)
	tm.cpMu.RUnlock()
	if err := tm.access.TransactionComplete(tid, false); err != nil && rbErr == nil {
		return err
	}
	return rbErr
}

// GetTransaction 返回活跃事务，不存在时返回nil
func (tm *TransactionManager) GetTransaction(tid basic.TransactionID) *Transaction {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return tm.activeTransactions[tid]
}

// ActiveTransactions 按ID升序返回活跃事务
func (tm *TransactionManager) ActiveTransactions() []basic.TransactionID {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	out := make([]basic.TransactionID, 0, len(tm.activeTransactions))
	for tid := range tm.activeTransactions {
		out = append(out, tid)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Checkpoint flushes every dirty page and records the active set. No
// transaction begins or ends between taking the set and logging it.
func (tm *TransactionManager) Checkpoint() error {
	tm.cpMu.Lock()
	defer tm.cpMu.Unlock()

	if err := tm.logFile.Force(); err != nil {
		return err
	}
	if err := tm.access.BufferPool().FlushAllPages(); err != nil {
		return err
	}
	return tm.logFile.LogCheckpoint(tm.ActiveTransactions())
}

// Close aborts every transaction still active.
func (tm *TransactionManager) Close() error {
	var firstErr error
	for _, tid := range tm.ActiveTransactions() {
		if err := tm.Abort(tid); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
