package manager

import (
	"fmt"
	"io"

	"github.com/pkg/errors"
	"github.com/zhukovaskychina/xmysql-kernel/server/innodb/basic"
	"github.com/zhukovaskychina/xmysql-kernel/util"
)

// LogRecordType 日志记录类型，写入文件的取值固定
type LogRecordType int32

const (
	LOG_ABORT      LogRecordType = 1
	LOG_COMMIT     LogRecordType = 2
	LOG_UPDATE     LogRecordType = 3
	LOG_BEGIN      LogRecordType = 4
	LOG_CHECKPOINT LogRecordType = 5
	LOG_CLR        LogRecordType = 6 // 补偿日志
)

func (t LogRecordType) String() string {
	switch t {
	case LOG_ABORT:
		return "ABORT"
	case LOG_COMMIT:
		return "COMMIT"
	case LOG_UPDATE:
		return "UPDATE"
	case LOG_BEGIN:
		return "BEGIN"
	case LOG_CHECKPOINT:
		return "CHECKPOINT"
	case LOG_CLR:
		return "CLR"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int32(t))
	}
}

const (
	// NO_CHECKPOINT 文件头中表示还没有检查点
	NO_CHECKPOINT int64 = -1

	logHeaderSize    = 8  // int64 lastCheckpoint
	recordHeaderSize = 12 // int32 type + int64 tid
	recordTrailer    = 8  // int64 start
	imageHeaderSize  = 12 // uint32 table + uint32 page + uint32 length
)

// PageImage 日志中保存的整页镜像
type PageImage struct {
	ID   basic.PageID
	Data []byte
}

func NewPageImage(page basic.Page) *PageImage {
	return &PageImage{ID: page.GetID(), Data: page.GetPageData()}
}

// Page 用 maker 把镜像还原成页
func (img *PageImage) Page(maker basic.PageMaker) (basic.Page, error) {
	return maker(img.ID, img.Data)
}

// LogRecord 解码后的日志记录
type LogRecord struct {
	Type   LogRecordType
	TID    basic.TransactionID
	Before *PageImage            // UPDATE
	After  *PageImage            // UPDATE, CLR
	Active []basic.TransactionID // CHECKPOINT
	Offset int64                 // 记录在文件中的起始偏移
	Size   int64                 // 记录总长度
}

func (r *LogRecord) String() string {
	switch r.Type {
	case LOG_UPDATE:
		return fmt.Sprintf("<%s UPDATE pid=%s>", r.TID, r.Before.ID)
	case LOG_CLR:
		return fmt.Sprintf("<%s CLR pid=%s>", r.TID, r.After.ID)
	case LOG_CHECKPOINT:
		return fmt.Sprintf("<%s CHECKPOINT %v>", r.TID, r.Active)
	default:
		return fmt.Sprintf("<%s %s>", r.TID, r.Type)
	}
}

func encodeImage(buf []byte, img *PageImage) []byte {
	buf = util.WriteUint32BE(buf, img.ID.TableID)
	buf = util.WriteUint32BE(buf, img.ID.PageNo)
	return util.WriteBytesWithLength(buf, img.Data)
}

// encodeRecord 序列化记录，start 为记录将要写入的偏移
func encodeRecord(rec *LogRecord, start int64) []byte {
	buf := make([]byte, 0, 64)
	buf = util.WriteInt32BE(buf, int32(rec.Type))
	buf = util.WriteInt64BE(buf, int64(rec.TID))
	switch rec.Type {
	case LOG_UPDATE:
		buf = encodeImage(buf, rec.Before)
		buf = encodeImage(buf, rec.After)
	case LOG_CLR:
		buf = encodeImage(buf, rec.After)
	case LOG_CHECKPOINT:
		buf = util.WriteInt32BE(buf, int32(len(rec.Active)))
		for _, tid := range rec.Active {
			buf = util.WriteInt64BE(buf, int64(tid))
		}
	}
	return util.WriteInt64BE(buf, start)
}

// recordReader 在 [logHeaderSize, limit) 范围内按偏移解码记录
type recordReader struct {
	r     io.ReaderAt
	limit int64
}

func (rr *recordReader) readAt(off int64, n int64) ([]byte, error) {
	if off < logHeaderSize || n < 0 || off+n > rr.limit {
		return nil, errors.Wrapf(ErrCorruptLog, "read [%d,%d) beyond log end %d", off, off+n, rr.limit)
	}
	buf := make([]byte, n)
	if _, err := rr.r.ReadAt(buf, off); err != nil {
		return nil, errors.Wrapf(err, "read log at %d", off)
	}
	return buf, nil
}

func (rr *recordReader) readImage(off int64) (*PageImage, int64, error) {
	hdr, err := rr.readAt(off, imageHeaderSize)
	if err != nil {
		return nil, 0, err
	}
	c, table := util.ReadUint32BE(hdr, 0)
	c, pageNo := util.ReadUint32BE(hdr, c)
	_, length := util.ReadUint32BE(hdr, c)
	data, err := rr.readAt(off+imageHeaderSize, int64(length))
	if err != nil {
		return nil, 0, err
	}
	return &PageImage{ID: basic.NewPageID(table, pageNo), Data: data}, off + imageHeaderSize + int64(length), nil
}

// decodeAt 解码从 off 开始的一条记录
func (rr *recordReader) decodeAt(off int64) (*LogRecord, error) {
	hdr, err := rr.readAt(off, recordHeaderSize)
	if err != nil {
		return nil, err
	}
	c, typ := util.ReadInt32BE(hdr, 0)
	_, tid := util.ReadInt64BE(hdr, c)
	rec := &LogRecord{Type: LogRecordType(typ), TID: basic.TransactionID(tid), Offset: off}

	cur := off + recordHeaderSize
	switch rec.Type {
	case LOG_BEGIN, LOG_COMMIT, LOG_ABORT:
	case LOG_UPDATE:
		if rec.Before, cur, err = rr.readImage(cur); err != nil {
			return nil, err
		}
		if rec.After, cur, err = rr.readImage(cur); err != nil {
			return nil, err
		}
	case LOG_CLR:
		if rec.After, cur, err = rr.readImage(cur); err != nil {
			return nil, err
		}
	case LOG_CHECKPOINT:
		cnt, err := rr.readAt(cur, 4)
		if err != nil {
			return nil, err
		}
		_, n := util.ReadInt32BE(cnt, 0)
		if n < 0 {
			return nil, errors.Wrapf(ErrCorruptLog, "checkpoint at %d has %d entries", off, n)
		}
		body, err := rr.readAt(cur+4, int64(n)*8)
		if err != nil {
			return nil, err
		}
		c := 0
		rec.Active = make([]basic.TransactionID, 0, n)
		for i := int32(0); i < n; i++ {
			var v int64
			c, v = util.ReadInt64BE(body, c)
			rec.Active = append(rec.Active, basic.TransactionID(v))
		}
		cur += 4 + int64(n)*8
	default:
		return nil, errors.Wrapf(ErrCorruptLog, "unknown record type %d at %d", typ, off)
	}

	trailer, err := rr.readAt(cur, recordTrailer)
	if err != nil {
		return nil, err
	}
	_, start := util.ReadInt64BE(trailer, 0)
	if start != off {
		return nil, errors.Wrapf(ErrCorruptLog, "record at %d ends with start offset %d", off, start)
	}
	rec.Size = cur + recordTrailer - off
	return rec, nil
}

// prevStart 返回结束于 end 的记录的起始偏移
func (rr *recordReader) prevStart(end int64) (int64, error) {
	trailer, err := rr.readAt(end-recordTrailer, recordTrailer)
	if err != nil {
		return 0, err
	}
	_, start := util.ReadInt64BE(trailer, 0)
	if start < logHeaderSize || start >= end {
		return 0, errors.Wrapf(ErrCorruptLog, "record ending at %d points back to %d", end, start)
	}
	return start, nil
}

// LogStats 日志统计信息
type LogStats struct {
	Appends        uint64 // 追加的记录数
	Forces         uint64 // 刷盘次数
	BytesAppended  uint64 // 追加的字节数
	Rollbacks      uint64 // 回滚的事务数
	UndoneUpdates  uint64 // 撤销的更新
	RedoneRecords  uint64 // 重做的记录
	LastCheckpoint int64  // 最后检查点偏移
}
