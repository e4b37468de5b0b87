package manager

import (
	"github.com/pkg/errors"
)

// Lock manager errors
var (
	ErrTransactionAborted = errors.New("transaction aborted to prevent deadlock")
	ErrLockNotHeld        = errors.New("lock not held")
)

// Log file errors
var (
	ErrAlreadyCommitted = errors.New("transaction already committed")
	ErrCorruptLog       = errors.New("corrupt log record")
	ErrLogClosed        = errors.New("log file closed")
)

// Transaction manager errors
var (
	ErrTxNotFound      = errors.New("transaction not found")
	ErrInvalidTrxState = errors.New("invalid transaction state")
)

// IsTransactionAborted 检查是否为死锁预防导致的中止
func IsTransactionAborted(err error) bool {
	return errors.Is(err, ErrTransactionAborted)
}

func IsLockNotHeld(err error) bool {
	return errors.Is(err, ErrLockNotHeld)
}

func IsAlreadyCommitted(err error) bool {
	return errors.Is(err, ErrAlreadyCommitted)
}

func IsCorruptLog(err error) bool {
	return errors.Is(err, ErrCorruptLog)
}
