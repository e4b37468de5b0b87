package manager

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zhukovaskychina/xmysql-kernel/server/innodb/basic"
)

func openTestLog(t *testing.T, dir string) *LogFile {
	t.Helper()
	lf, err := NewLogFile(dir, nil, nil, nil)
	require.NoError(t, err)
	return lf
}

func testPage(pid basic.PageID, fill byte, n int) *basic.DataPage {
	return basic.NewDataPage(pid, bytes.Repeat([]byte{fill}, n))
}

func TestLogFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	lf := openTestLog(t, dir)
	defer lf.Close()

	before := testPage(pageA, 0x11, 100)
	after := testPage(pageA, 0x22, 100)
	// 长度不同的镜像
	clr := testPage(pageB, 0x33, 17)

	require.NoError(t, lf.LogBegin(5))
	require.NoError(t, lf.LogWrite(5, before, after))
	require.NoError(t, lf.LogCLR(5, clr))
	require.NoError(t, lf.LogCommit(5))

	recs, err := lf.Records()
	require.NoError(t, err)
	require.Len(t, recs, 4)

	assert.Equal(t, LOG_BEGIN, recs[0].Type)
	assert.Equal(t, int64(logHeaderSize), recs[0].Offset)
	assert.Equal(t, int64(recordHeaderSize+recordTrailer), recs[0].Size)

	upd := recs[1]
	assert.Equal(t, LOG_UPDATE, upd.Type)
	assert.Equal(t, basic.TransactionID(5), upd.TID)
	assert.Equal(t, pageA, upd.Before.ID)
	assert.Equal(t, before.GetPageData(), upd.Before.Data)
	assert.Equal(t, after.GetPageData(), upd.After.Data)
	assert.Equal(t, recs[0].Offset+recs[0].Size, upd.Offset)

	assert.Equal(t, LOG_CLR, recs[2].Type)
	assert.Equal(t, pageB, recs[2].After.ID)
	assert.Equal(t, clr.GetPageData(), recs[2].After.Data)
	assert.Nil(t, recs[2].Before)

	assert.Equal(t, LOG_COMMIT, recs[3].Type)
	assert.Equal(t, lf.Size(), recs[3].Offset+recs[3].Size)

	stats := lf.Stats()
	assert.Equal(t, uint64(4), stats.Appends)
	assert.Equal(t, uint64(lf.Size()-logHeaderSize), stats.BytesAppended)

	// 镜像还原成页
	page, err := upd.After.Page(basic.DataPageMaker)
	require.NoError(t, err)
	assert.Equal(t, after.GetPageData(), page.GetPageData())
}

func TestLogFilePrint(t *testing.T) {
	lf := openTestLog(t, t.TempDir())
	defer lf.Close()

	require.NoError(t, lf.LogBegin(3))
	require.NoError(t, lf.LogWrite(3, testPage(pageA, 0, 8), testPage(pageA, 1, 8)))
	require.NoError(t, lf.LogCheckpoint([]basic.TransactionID{3}))
	require.NoError(t, lf.LogAbort(3))

	var out bytes.Buffer
	require.NoError(t, lf.Print(&out))
	text := out.String()
	assert.Contains(t, text, "BEGIN LOG FILE")
	assert.Contains(t, text, "<T_3 BEGIN>")
	assert.Contains(t, text, "<T_3 UPDATE pid=1:0>")
	assert.Contains(t, text, "<T_-1 CHECKPOINT [T_3]>")
	assert.Contains(t, text, "<T_3 ABORT>")
	assert.Contains(t, text, "END LOG FILE")
}

func TestLogFileReopen(t *testing.T) {
	t.Run("检查点写入文件头", func(t *testing.T) {
		dir := t.TempDir()
		lf := openTestLog(t, dir)
		assert.Equal(t, NO_CHECKPOINT, lf.LastCheckpoint())

		require.NoError(t, lf.LogBegin(7))
		require.NoError(t, lf.LogCheckpoint([]basic.TransactionID{7, 8}))
		cp := lf.LastCheckpoint()
		assert.Greater(t, cp, int64(logHeaderSize))
		require.NoError(t, lf.Close())

		readCp, recs, err := ReadLogFile(filepath.Join(dir, LogFileName))
		require.NoError(t, err)
		assert.Equal(t, cp, readCp)
		require.Len(t, recs, 2)
		assert.Equal(t, LOG_CHECKPOINT, recs[1].Type)
		assert.Equal(t, basic.NoTransaction, recs[1].TID)
		assert.Equal(t, []basic.TransactionID{7, 8}, recs[1].Active)

		lf = openTestLog(t, dir)
		defer lf.Close()
		assert.Equal(t, cp, lf.LastCheckpoint())
	})

	t.Run("截断残缺的尾部记录", func(t *testing.T) {
		dir := t.TempDir()
		lf := openTestLog(t, dir)
		require.NoError(t, lf.LogBegin(1))
		require.NoError(t, lf.LogCommit(1))
		size := lf.Size()
		require.NoError(t, lf.Close())

		path := filepath.Join(dir, LogFileName)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0644)
		require.NoError(t, err)
		// 只写了一半的UPDATE记录
		_, err = f.Write([]byte{0, 0, 0, 3, 0, 0, 0, 0, 0, 0, 0, 2, 0, 0})
		require.NoError(t, err)
		require.NoError(t, f.Close())

		lf = openTestLog(t, dir)
		defer lf.Close()
		assert.Equal(t, size, lf.Size())
		recs, err := lf.Records()
		require.NoError(t, err)
		assert.Len(t, recs, 2)

		require.NoError(t, lf.LogBegin(2))
		recs, err = lf.Records()
		require.NoError(t, err)
		assert.Len(t, recs, 3)
	})

	t.Run("中间记录损坏时拒绝打开", func(t *testing.T) {
		dir := t.TempDir()
		lf := openTestLog(t, dir)
		require.NoError(t, lf.LogBegin(1))
		require.NoError(t, lf.LogCommit(1))
		require.NoError(t, lf.LogBegin(2))
		require.NoError(t, lf.LogWrite(2, testPage(pageA, 1, 16), testPage(pageA, 2, 16)))
		require.NoError(t, lf.LogCommit(2))
		size := lf.Size()
		require.NoError(t, lf.Close())

		path := filepath.Join(dir, LogFileName)
		f, err := os.OpenFile(path, os.O_WRONLY, 0644)
		require.NoError(t, err)
		// COMMIT(1) 的类型字段
		commitOff := int64(logHeaderSize + recordHeaderSize + recordTrailer)
		_, err = f.WriteAt([]byte{0, 0, 0, 0x7f}, commitOff)
		require.NoError(t, err)
		require.NoError(t, f.Close())

		_, err = NewLogFile(dir, nil, nil, nil)
		require.Error(t, err)
		assert.True(t, IsCorruptLog(err))

		stat, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, size, stat.Size())
	})

	t.Run("事务ID越过日志中的最大值", func(t *testing.T) {
		dir := t.TempDir()
		lf := openTestLog(t, dir)
		require.NoError(t, lf.LogBegin(1_000_000))
		require.NoError(t, lf.Close())

		lf = openTestLog(t, dir)
		defer lf.Close()
		assert.Greater(t, int64(basic.NewTransactionID()), int64(1_000_000))
	})

	t.Run("关闭后不能追加", func(t *testing.T) {
		lf := openTestLog(t, t.TempDir())
		require.NoError(t, lf.Close())
		require.NoError(t, lf.Close())
		assert.ErrorIs(t, lf.LogBegin(1), ErrLogClosed)
		assert.ErrorIs(t, lf.Force(), ErrLogClosed)
	})
}

func TestLogFileArchive(t *testing.T) {
	dir := t.TempDir()
	lf := openTestLog(t, dir)
	defer lf.Close()

	require.NoError(t, lf.LogBegin(4))
	require.NoError(t, lf.LogWrite(4, testPage(pageA, 0, 256), testPage(pageA, 9, 256)))
	require.NoError(t, lf.LogCommit(4))

	var archive bytes.Buffer
	require.NoError(t, lf.Archive(&archive))

	raw, err := os.ReadFile(lf.Path())
	require.NoError(t, err)
	assert.Less(t, archive.Len(), len(raw))

	var restored bytes.Buffer
	require.NoError(t, RestoreArchive(&archive, &restored))
	assert.Equal(t, raw, restored.Bytes())
}

func TestArchiveLogFile(t *testing.T) {
	dir := t.TempDir()
	lf := openTestLog(t, dir)
	require.NoError(t, lf.LogBegin(2))
	require.NoError(t, lf.LogCommit(2))
	require.NoError(t, lf.Close())

	path := filepath.Join(dir, LogFileName)
	var archive bytes.Buffer
	require.NoError(t, ArchiveLogFile(path, &archive))

	restoredPath := filepath.Join(dir, "restored.log")
	out, err := os.Create(restoredPath)
	require.NoError(t, err)
	require.NoError(t, RestoreArchive(&archive, out))
	require.NoError(t, out.Close())

	cp, recs, err := ReadLogFile(restoredPath)
	require.NoError(t, err)
	assert.Equal(t, NO_CHECKPOINT, cp)
	require.Len(t, recs, 2)
	assert.Equal(t, LOG_COMMIT, recs[1].Type)
}
