package manager

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zhukovaskychina/xmysql-kernel/server/innodb/basic"
)

func recordTypes(t *testing.T, lf *LogFile) []LogRecordType {
	t.Helper()
	recs, err := lf.Records()
	require.NoError(t, err)
	out := make([]LogRecordType, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.Type)
	}
	return out
}

func TestLogFileRollback(t *testing.T) {
	t.Run("回滚写回前像并追加CLR与ABORT", func(t *testing.T) {
		k := openTestKernel(t, t.TempDir(), 8)
		defer k.crash(t)
		k.allocate(t, pageA, pageB)

		tid := basic.NewTransactionID()
		require.NoError(t, k.log.LogBegin(tid))
		k.write(t, tid, pageA, 1)
		k.write(t, tid, pageB, 2)
		// 脏页已经落盘
		require.NoError(t, k.pool.FlushAllPages())
		assert.Equal(t, byte(1), k.diskByte(t, pageA))

		require.NoError(t, k.log.Rollback(tid))
		assert.Equal(t, byte(0), k.diskByte(t, pageA))
		assert.Equal(t, byte(0), k.diskByte(t, pageB))
		assert.Equal(t, []LogRecordType{
			LOG_BEGIN, LOG_UPDATE, LOG_UPDATE, LOG_CLR, LOG_CLR, LOG_ABORT,
		}, recordTypes(t, k.log))
		assert.Equal(t, uint64(1), k.log.Stats().Rollbacks)
		assert.Equal(t, uint64(2), k.log.Stats().UndoneUpdates)

		// 再次回滚不追加记录
		require.NoError(t, k.log.Rollback(tid))
		assert.Len(t, recordTypes(t, k.log), 6)
	})

	t.Run("回滚丢弃缓冲池中的脏页", func(t *testing.T) {
		k := openTestKernel(t, t.TempDir(), 8)
		defer k.crash(t)
		k.allocate(t, pageA)

		tid := basic.NewTransactionID()
		require.NoError(t, k.log.LogBegin(tid))
		k.write(t, tid, pageA, 4)
		assert.True(t, k.pool.IsDirty(pageA))

		require.NoError(t, k.log.Rollback(tid))
		assert.False(t, k.pool.InBufferPool(pageA))
		assert.Equal(t, byte(0), k.diskByte(t, pageA))
	})

	t.Run("已提交的事务不能回滚", func(t *testing.T) {
		k := openTestKernel(t, t.TempDir(), 8)
		defer k.crash(t)
		k.allocate(t, pageA)

		tid := basic.NewTransactionID()
		require.NoError(t, k.log.LogBegin(tid))
		k.write(t, tid, pageA, 6)
		require.NoError(t, k.log.LogCommit(tid))

		err := k.log.Rollback(tid)
		assert.True(t, IsAlreadyCommitted(err))
	})
}

func TestLogFileRecover(t *testing.T) {
	t.Run("重做已提交并撤销未提交", func(t *testing.T) {
		dir := t.TempDir()
		k := openTestKernel(t, dir, 8)
		k.allocate(t, pageA, pageB)

		winner, err := k.tm.Begin()
		require.NoError(t, err)
		k.write(t, winner.ID, pageA, 10)
		require.NoError(t, k.log.LogCommit(winner.ID))

		loser, err := k.tm.Begin()
		require.NoError(t, err)
		k.write(t, loser.ID, pageB, 20)
		// 未提交的修改被偷偷刷到磁盘
		require.NoError(t, k.pool.FlushPage(pageB))
		assert.Equal(t, byte(20), k.diskByte(t, pageB))
		assert.Equal(t, byte(0), k.diskByte(t, pageA))
		k.crash(t)

		k = openTestKernel(t, dir, 8)
		defer k.crash(t)
		require.NoError(t, k.log.Recover())
		assert.Equal(t, byte(10), k.diskByte(t, pageA))
		assert.Equal(t, byte(0), k.diskByte(t, pageB))

		types := recordTypes(t, k.log)
		assert.Equal(t, LOG_ABORT, types[len(types)-1])
		assert.Equal(t, LOG_CLR, types[len(types)-2])

		// 第二次恢复结果相同
		require.NoError(t, k.log.Recover())
		assert.Equal(t, byte(10), k.diskByte(t, pageA))
		assert.Equal(t, byte(0), k.diskByte(t, pageB))
		assert.Equal(t, types, recordTypes(t, k.log))
	})

	t.Run("检查点中的活跃事务是失败者", func(t *testing.T) {
		dir := t.TempDir()
		k := openTestKernel(t, dir, 8)
		k.allocate(t, pageA)

		trx, err := k.tm.Begin()
		require.NoError(t, err)
		k.write(t, trx.ID, pageA, 30)
		require.NoError(t, k.tm.Checkpoint())
		assert.Equal(t, byte(30), k.diskByte(t, pageA))
		k.crash(t)

		k = openTestKernel(t, dir, 8)
		defer k.crash(t)
		assert.NotEqual(t, NO_CHECKPOINT, k.log.LastCheckpoint())
		require.NoError(t, k.log.Recover())
		assert.Equal(t, byte(0), k.diskByte(t, pageA))

		recs, err := k.log.Records()
		require.NoError(t, err)
		last := recs[len(recs)-1]
		assert.Equal(t, LOG_ABORT, last.Type)
		assert.Equal(t, trx.ID, last.TID)
	})

	t.Run("检查点之后开始的事务", func(t *testing.T) {
		dir := t.TempDir()
		k := openTestKernel(t, dir, 8)
		k.allocate(t, pageA, pageB)
		require.NoError(t, k.tm.Checkpoint())

		committed, err := k.tm.Begin()
		require.NoError(t, err)
		k.write(t, committed.ID, pageA, 1)
		require.NoError(t, k.tm.Commit(committed.ID))

		pending, err := k.tm.Begin()
		require.NoError(t, err)
		k.write(t, pending.ID, pageB, 2)
		k.crash(t)

		k = openTestKernel(t, dir, 8)
		defer k.crash(t)
		require.NoError(t, k.log.Recover())
		assert.Equal(t, byte(1), k.diskByte(t, pageA))
		assert.Equal(t, byte(0), k.diskByte(t, pageB))
	})
}
