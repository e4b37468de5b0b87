package manager

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/golang/snappy"
	juju "github.com/juju/errors"
	"github.com/pkg/errors"
	"github.com/zhukovaskychina/xmysql-kernel/logger"
	"github.com/zhukovaskychina/xmysql-kernel/server/innodb/basic"
	"github.com/zhukovaskychina/xmysql-kernel/util"
)

// LogFileName 日志目录下的日志文件名
const LogFileName = "redo.log"

// PageCache is the part of the buffer pool the log needs during undo and redo.
type PageCache interface {
	IsDirty(pid basic.PageID) bool
	DiscardPage(pid basic.PageID)
}

// LogFile is the append-only write-ahead log.
//
// Appends go to an in-memory tail under mu; Force writes the tail and fsyncs
// under syncMu so appenders are not blocked by the disk. Rollback and Recover
// are serialized by recoveryMu and read only the forced prefix.
type LogFile struct {
	mu         sync.Mutex // 追加
	syncMu     sync.Mutex // 刷盘屏障
	recoveryMu sync.Mutex // 回滚与恢复互斥
	cpMu       sync.Mutex // 检查点互斥

	file    *os.File
	path    string
	tail    int64  // 逻辑末尾，含未刷盘部分
	flushed int64  // 已写入文件的末尾
	pending []byte // 未写入文件的记录
	err     error  // 写文件失败后保持的错误
	closed  bool

	lastCheckpoint int64

	disk  basic.DiskManager
	cache PageCache
	maker basic.PageMaker

	stats LogStats
}

// NewLogFile opens (or creates) the log in dir. A torn record at the tail
// left by a crash is truncated. Transaction ids found in the log advance
// the process-wide id counter.
func NewLogFile(dir string, disk basic.DiskManager, cache PageCache, maker basic.PageMaker) (*LogFile, error) {
	if err := util.EnsureDir(dir); err != nil {
		return nil, juju.Annotatef(err, "create log dir %s", dir)
	}
	if maker == nil {
		maker = basic.DataPageMaker
	}
	path := filepath.Join(dir, LogFileName)
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, juju.Annotatef(err, "open log file %s", path)
	}
	lf := &LogFile{
		file:  file,
		path:  path,
		disk:  disk,
		cache: cache,
		maker: maker,
	}
	if err := lf.open(); err != nil {
		_ = file.Close()
		return nil, err
	}
	return lf, nil
}

func (lf *LogFile) open() error {
	stat, err := lf.file.Stat()
	if err != nil {
		return juju.Trace(err)
	}
	size := stat.Size()
	if size < logHeaderSize {
		if err := lf.writeHeader(NO_CHECKPOINT); err != nil {
			return err
		}
		if err := lf.file.Sync(); err != nil {
			return juju.Trace(err)
		}
		size = logHeaderSize
	}

	hdr := make([]byte, logHeaderSize)
	if _, err := lf.file.ReadAt(hdr, 0); err != nil {
		return juju.Annotatef(err, "read log header %s", lf.path)
	}
	_, lf.lastCheckpoint = util.ReadInt64BE(hdr, 0)

	end, lastSeenCheckpoint, maxTid, err := scanRecords(lf.file, size)
	if err != nil {
		return err
	}
	if end < size {
		logger.Warnf("log %s: truncating torn tail [%d,%d)", lf.path, end, size)
		if err := lf.file.Truncate(end); err != nil {
			return juju.Trace(err)
		}
	}
	if lf.lastCheckpoint != NO_CHECKPOINT && (lf.lastCheckpoint < logHeaderSize || lf.lastCheckpoint >= end) {
		logger.Warnf("log %s: header checkpoint %d invalid, using %d", lf.path, lf.lastCheckpoint, lastSeenCheckpoint)
		lf.lastCheckpoint = lastSeenCheckpoint
		if err := lf.writeHeader(lf.lastCheckpoint); err != nil {
			return err
		}
	}
	lf.tail = end
	lf.flushed = end
	lf.stats.LastCheckpoint = lf.lastCheckpoint
	basic.AdvanceTransactionID(maxTid)
	return nil
}

// scanRecords 顺序扫描，返回最后一条完整记录的末尾
func scanRecords(r io.ReaderAt, size int64) (end int64, lastCheckpoint int64, maxTid basic.TransactionID, err error) {
	rr := &recordReader{r: r, limit: size}
	lastCheckpoint = NO_CHECKPOINT
	off := int64(logHeaderSize)
	for off < size {
		rec, derr := rr.decodeAt(off)
		if derr != nil {
			if !IsCorruptLog(derr) {
				return 0, 0, 0, derr
			}
			if intactTail(rr, off, size) {
				return 0, 0, 0, errors.Wrapf(derr, "record at %d is damaged but later records are intact", off)
			}
			break
		}
		if rec.TID > maxTid {
			maxTid = rec.TID
		}
		if rec.Type == LOG_CHECKPOINT {
			lastCheckpoint = off
		}
		off += rec.Size
	}
	return off, lastCheckpoint, maxTid, nil
}

// intactTail 判断 off 之后是否还有一条完整记录结束于文件末尾。
// 是则损坏发生在日志中间，不能当作残缺尾部截断
func intactTail(rr *recordReader, off, size int64) bool {
	start, err := rr.prevStart(size)
	if err != nil || start <= off {
		return false
	}
	rec, err := rr.decodeAt(start)
	return err == nil && start+rec.Size == size
}

func (lf *LogFile) writeHeader(checkpoint int64) error {
	hdr := util.WriteInt64BE(nil, checkpoint)
	if _, err := lf.file.WriteAt(hdr, 0); err != nil {
		return juju.Annotatef(err, "write log header %s", lf.path)
	}
	return nil
}

// append 把记录加到内存尾部，返回记录起始偏移
func (lf *LogFile) append(rec *LogRecord) (int64, error) {
	lf.mu.Lock()
	defer lf.mu.Unlock()

	if lf.closed {
		return 0, ErrLogClosed
	}
	if lf.err != nil {
		return 0, lf.err
	}
	start := lf.tail
	buf := encodeRecord(rec, start)
	lf.pending = append(lf.pending, buf...)
	lf.tail += int64(len(buf))
	lf.stats.Appends++
	lf.stats.BytesAppended += uint64(len(buf))
	return start, nil
}

func (lf *LogFile) LogBegin(tid basic.TransactionID) error {
	_, err := lf.append(&LogRecord{Type: LOG_BEGIN, TID: tid})
	return err
}

// LogCommit 追加COMMIT并刷盘，返回时提交已持久化
func (lf *LogFile) LogCommit(tid basic.TransactionID) error {
	if _, err := lf.append(&LogRecord{Type: LOG_COMMIT, TID: tid}); err != nil {
		return err
	}
	return lf.Force()
}

func (lf *LogFile) LogAbort(tid basic.TransactionID) error {
	if _, err := lf.append(&LogRecord{Type: LOG_ABORT, TID: tid}); err != nil {
		return err
	}
	return lf.Force()
}

// LogWrite 追加UPDATE记录，包含前像与后像
func (lf *LogFile) LogWrite(tid basic.TransactionID, before, after basic.Page) error {
	_, err := lf.append(&LogRecord{
		Type:   LOG_UPDATE,
		TID:    tid,
		Before: NewPageImage(before),
		After:  NewPageImage(after),
	})
	return err
}

// LogCLR 追加补偿记录
func (lf *LogFile) LogCLR(tid basic.TransactionID, after basic.Page) error {
	_, err := lf.append(&LogRecord{
		Type:  LOG_CLR,
		TID:   tid,
		After: NewPageImage(after),
	})
	return err
}

// LogCheckpoint appends a checkpoint listing the active transactions,
// forces it, then points the file header at it.
func (lf *LogFile) LogCheckpoint(active []basic.TransactionID) error {
	lf.cpMu.Lock()
	defer lf.cpMu.Unlock()

	start, err := lf.append(&LogRecord{Type: LOG_CHECKPOINT, TID: basic.NoTransaction, Active: active})
	if err != nil {
		return err
	}
	if err := lf.Force(); err != nil {
		return err
	}

	lf.syncMu.Lock()
	defer lf.syncMu.Unlock()
	if err := lf.writeHeader(start); err != nil {
		return err
	}
	if err := lf.file.Sync(); err != nil {
		return juju.Trace(err)
	}

	lf.mu.Lock()
	lf.lastCheckpoint = start
	lf.stats.LastCheckpoint = start
	lf.mu.Unlock()
	logger.Infof("log checkpoint at %d, %d active transactions", start, len(active))
	return nil
}

// Force writes every appended record to the file and fsyncs it.
func (lf *LogFile) Force() error {
	lf.syncMu.Lock()
	defer lf.syncMu.Unlock()

	lf.mu.Lock()
	if lf.closed {
		lf.mu.Unlock()
		return ErrLogClosed
	}
	if lf.err != nil {
		lf.mu.Unlock()
		return lf.err
	}
	data := lf.pending
	off := lf.flushed
	lf.pending = nil
	lf.flushed += int64(len(data))
	lf.mu.Unlock()

	if len(data) > 0 {
		if _, err := lf.file.WriteAt(data, off); err != nil {
			return lf.fail(juju.Annotatef(err, "write log at %d", off))
		}
	}
	if err := lf.file.Sync(); err != nil {
		return lf.fail(juju.Trace(err))
	}

	lf.mu.Lock()
	lf.stats.Forces++
	lf.mu.Unlock()
	return nil
}

func (lf *LogFile) fail(err error) error {
	lf.mu.Lock()
	defer lf.mu.Unlock()
	if lf.err == nil {
		lf.err = err
	}
	logger.Errorf("log %s: %v", lf.path, err)
	return err
}

// forcedReader 刷盘后返回只读视图
func (lf *LogFile) forcedReader() (*recordReader, int64, error) {
	if err := lf.Force(); err != nil {
		return nil, 0, err
	}
	lf.mu.Lock()
	defer lf.mu.Unlock()
	return &recordReader{r: lf.file, limit: lf.flushed}, lf.lastCheckpoint, nil
}

// Records 顺序解码整个日志
func (lf *LogFile) Records() ([]*LogRecord, error) {
	rr, _, err := lf.forcedReader()
	if err != nil {
		return nil, err
	}
	return readAllRecords(rr)
}

func readAllRecords(rr *recordReader) ([]*LogRecord, error) {
	var out []*LogRecord
	for off := int64(logHeaderSize); off < rr.limit; {
		rec, err := rr.decodeAt(off)
		if err != nil {
			return out, err
		}
		out = append(out, rec)
		off += rec.Size
	}
	return out, nil
}

// Print 输出可读的日志内容
func (lf *LogFile) Print(w io.Writer) error {
	rr, cp, err := lf.forcedReader()
	if err != nil {
		return err
	}
	recs, err := readAllRecords(rr)
	if err != nil {
		return err
	}
	return PrintRecords(w, cp, recs)
}

// PrintRecords 按行输出记录，例如 <T_3 UPDATE pid=1:0>
func PrintRecords(w io.Writer, lastCheckpoint int64, recs []*LogRecord) error {
	if _, err := fmt.Fprintf(w, "BEGIN LOG FILE (last checkpoint %d)\n", lastCheckpoint); err != nil {
		return err
	}
	for _, rec := range recs {
		if _, err := fmt.Fprintln(w, rec.String()); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintln(w, "END LOG FILE")
	return err
}

// ReadLogFile 只读地解码日志文件，不截断也不修改文件头
func ReadLogFile(path string) (int64, []*LogRecord, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, nil, juju.Annotatef(err, "open log file %s", path)
	}
	defer file.Close()
	stat, err := file.Stat()
	if err != nil {
		return 0, nil, juju.Trace(err)
	}
	if stat.Size() < logHeaderSize {
		return 0, nil, errors.Wrapf(ErrCorruptLog, "%s shorter than header", path)
	}
	hdr := make([]byte, logHeaderSize)
	if _, err := file.ReadAt(hdr, 0); err != nil {
		return 0, nil, juju.Trace(err)
	}
	_, cp := util.ReadInt64BE(hdr, 0)
	recs, err := readAllRecords(&recordReader{r: file, limit: stat.Size()})
	return cp, recs, err
}

// Archive 把已刷盘的日志以snappy流格式写入w
func (lf *LogFile) Archive(w io.Writer) error {
	if err := lf.Force(); err != nil {
		return err
	}
	lf.mu.Lock()
	size := lf.flushed
	lf.mu.Unlock()
	return archive(lf.file, size, w)
}

// ArchiveLogFile 离线压缩日志文件，不打开 LogFile
func ArchiveLogFile(path string, w io.Writer) error {
	file, err := os.Open(path)
	if err != nil {
		return juju.Annotatef(err, "open log file %s", path)
	}
	defer file.Close()
	stat, err := file.Stat()
	if err != nil {
		return juju.Trace(err)
	}
	return archive(file, stat.Size(), w)
}

func archive(r io.ReaderAt, size int64, w io.Writer) error {
	sw := snappy.NewBufferedWriter(w)
	if _, err := io.Copy(sw, io.NewSectionReader(r, 0, size)); err != nil {
		_ = sw.Close()
		return errors.Wrap(err, "archive log")
	}
	return errors.Wrap(sw.Close(), "archive log")
}

// RestoreArchive 解压 Archive 生成的流
func RestoreArchive(r io.Reader, w io.Writer) error {
	_, err := io.Copy(w, snappy.NewReader(r))
	return errors.Wrap(err, "restore log archive")
}

// Size 返回日志逻辑长度
func (lf *LogFile) Size() int64 {
	lf.mu.Lock()
	defer lf.mu.Unlock()
	return lf.tail
}

func (lf *LogFile) LastCheckpoint() int64 {
	lf.mu.Lock()
	defer lf.mu.Unlock()
	return lf.lastCheckpoint
}

func (lf *LogFile) Path() string {
	return lf.path
}

func (lf *LogFile) Stats() LogStats {
	lf.mu.Lock()
	defer lf.mu.Unlock()
	return lf.stats
}

// Close 刷盘并关闭文件
func (lf *LogFile) Close() error {
	err := lf.Force()
	if errors.Is(err, ErrLogClosed) {
		return nil
	}
	if err != nil {
		logger.Errorf("log %s: force on close: %v", lf.path, err)
	}

	lf.syncMu.Lock()
	defer lf.syncMu.Unlock()
	lf.mu.Lock()
	defer lf.mu.Unlock()
	if lf.closed {
		return nil
	}
	lf.closed = true
	return juju.Trace(lf.file.Close())
}
