/*
table_<id>.ibd 物理结构：

	slot 0 | slot 1 | ... | slot n-1

每个slot = pageSize 字节页数据 + 8 字节 xxhash64 校验和（大端）。
页号即slot下标，文件长度总是slot大小的整数倍。
*/

package storage

import (
	"os"
	"sync"

	"github.com/juju/errors"
	"github.com/zhukovaskychina/xmysql-kernel/util"
)

const checksumSize = 8

// TableFile 一张表的数据文件
type TableFile struct {
	mu       sync.RWMutex
	file     *os.File
	filePath string
	pageSize int
}

func NewTableFile(filePath string, pageSize int) *TableFile {
	return &TableFile{
		filePath: filePath,
		pageSize: pageSize,
	}
}

func (tf *TableFile) slotSize() int64 {
	return int64(tf.pageSize + checksumSize)
}

// open 调用方需持有写锁
func (tf *TableFile) open() error {
	if tf.file != nil {
		return nil
	}
	file, err := os.OpenFile(tf.filePath, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return errors.Annotatef(err, "open table file %s", tf.filePath)
	}
	tf.file = file
	return nil
}

func (tf *TableFile) numSlotsLocked() (uint32, error) {
	stat, err := tf.file.Stat()
	if err != nil {
		return 0, errors.Trace(err)
	}
	return uint32(stat.Size() / tf.slotSize()), nil
}

// NumPages 返回文件中已分配的页数
func (tf *TableFile) NumPages() (uint32, error) {
	tf.mu.Lock()
	defer tf.mu.Unlock()
	if err := tf.open(); err != nil {
		return 0, err
	}
	return tf.numSlotsLocked()
}

// ReadSlot 读取页数据并校验
func (tf *TableFile) ReadSlot(pageNo uint32) ([]byte, error) {
	tf.mu.Lock()
	defer tf.mu.Unlock()
	if err := tf.open(); err != nil {
		return nil, err
	}
	n, err := tf.numSlotsLocked()
	if err != nil {
		return nil, err
	}
	if pageNo >= n {
		return nil, ErrPageNotAllocated
	}

	buf := make([]byte, tf.slotSize())
	if _, err := tf.file.ReadAt(buf, int64(pageNo)*tf.slotSize()); err != nil {
		return nil, errors.Annotatef(err, "read page %d of %s", pageNo, tf.filePath)
	}
	data := buf[:tf.pageSize]
	_, stored := util.ReadUint64BE(buf, tf.pageSize)
	if stored != util.HashCode(data) {
		return nil, ErrPageCorrupted
	}
	return data, nil
}

// WriteSlot 写入页数据；写到文件末尾之后时先用空页补齐中间的空洞
func (tf *TableFile) WriteSlot(pageNo uint32, data []byte) error {
	if len(data) > tf.pageSize {
		return ErrPageTooLarge
	}
	tf.mu.Lock()
	defer tf.mu.Unlock()
	if err := tf.open(); err != nil {
		return err
	}
	n, err := tf.numSlotsLocked()
	if err != nil {
		return err
	}
	for ; n < pageNo; n++ {
		if err := tf.writeSlotLocked(n, nil); err != nil {
			return err
		}
	}
	return tf.writeSlotLocked(pageNo, data)
}

// Extend 确保 pageNo 及之前的页都已分配，已存在的页不改动
func (tf *TableFile) Extend(pageNo uint32) error {
	tf.mu.Lock()
	defer tf.mu.Unlock()
	if err := tf.open(); err != nil {
		return err
	}
	n, err := tf.numSlotsLocked()
	if err != nil {
		return err
	}
	for ; n <= pageNo; n++ {
		if err := tf.writeSlotLocked(n, nil); err != nil {
			return err
		}
	}
	return nil
}

func (tf *TableFile) writeSlotLocked(pageNo uint32, data []byte) error {
	buf := make([]byte, tf.slotSize())
	copy(buf, data)
	util.PutUint64BE(buf, tf.pageSize, util.HashCode(buf[:tf.pageSize]))
	if _, err := tf.file.WriteAt(buf, int64(pageNo)*tf.slotSize()); err != nil {
		return errors.Annotatef(err, "write page %d of %s", pageNo, tf.filePath)
	}
	return nil
}

func (tf *TableFile) Sync() error {
	tf.mu.Lock()
	defer tf.mu.Unlock()
	if tf.file == nil {
		return nil
	}
	return errors.Trace(tf.file.Sync())
}

func (tf *TableFile) Close() error {
	tf.mu.Lock()
	defer tf.mu.Unlock()
	if tf.file == nil {
		return nil
	}
	err := tf.file.Close()
	tf.file = nil
	return errors.Trace(err)
}
