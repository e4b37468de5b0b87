package basic

import (
	"fmt"
	"sync/atomic"
)

// TransactionID 越小的事务越老
type TransactionID int64

// NoTransaction 用于不属于任何事务的日志记录（检查点）
const NoTransaction TransactionID = -1

var lastTransactionID int64

// NewTransactionID 分配进程内单调递增的事务ID
func NewTransactionID() TransactionID {
	return TransactionID(atomic.AddInt64(&lastTransactionID, 1))
}

// AdvanceTransactionID moves the counter past seen so restarted processes
// never hand out an id already present in the log.
func AdvanceTransactionID(seen TransactionID) {
	for {
		cur := atomic.LoadInt64(&lastTransactionID)
		if int64(seen) <= cur {
			return
		}
		if atomic.CompareAndSwapInt64(&lastTransactionID, cur, int64(seen)) {
			return
		}
	}
}

func (t TransactionID) OlderThan(other TransactionID) bool {
	return t < other
}

func (t TransactionID) String() string {
	return fmt.Sprintf("T_%d", int64(t))
}
