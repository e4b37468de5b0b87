package manager

// LockType 锁类型
type LockType int

const (
	LOCK_NONE LockType = iota // 无锁
	LOCK_S                    // 共享锁
	LOCK_X                    // 排他锁
)

func (t LockType) String() string {
	switch t {
	case LOCK_S:
		return "S"
	case LOCK_X:
		return "X"
	default:
		return "NONE"
	}
}

// Covers 持有的锁强度是否不低于请求
func (t LockType) Covers(requested LockType) bool {
	return t >= requested
}

// LockStats 锁统计信息
type LockStats struct {
	Grants   uint64 // 授予次数
	Waits    uint64 // 进入等待次数
	Upgrades uint64 // 升级次数
	Aborts   uint64 // 因死锁预防中止次数
	Releases uint64 // 释放次数
}
