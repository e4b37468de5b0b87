package storage

import (
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"

	juju "github.com/juju/errors"
	"github.com/pkg/errors"
	"github.com/zhukovaskychina/xmysql-kernel/logger"
	"github.com/zhukovaskychina/xmysql-kernel/server/innodb/basic"
	"github.com/zhukovaskychina/xmysql-kernel/util"
)

// DiskManager 每张表一个数据文件，按页号定位slot
type DiskManager struct {
	mu       sync.Mutex
	dir      string                // 数据目录
	pageSize int                   // 页大小
	files    map[uint32]*TableFile // 表ID -> 数据文件
	closed   bool

	reads  uint64 // 读页次数
	writes uint64 // 写页次数
}

var _ basic.DiskManager = (*DiskManager)(nil)

func NewDiskManager(dir string, pageSize int) (*DiskManager, error) {
	if pageSize <= 0 {
		return nil, errors.Errorf("invalid page size %d", pageSize)
	}
	if err := util.EnsureDir(dir); err != nil {
		return nil, juju.Annotatef(err, "create data dir %s", dir)
	}
	return &DiskManager{
		dir:      dir,
		pageSize: pageSize,
		files:    make(map[uint32]*TableFile),
	}, nil
}

// TableFileName 返回表对应的数据文件名
func TableFileName(tableID uint32) string {
	return fmt.Sprintf("table_%d.ibd", tableID)
}

func (dm *DiskManager) PageSize() int {
	return dm.pageSize
}

func (dm *DiskManager) tableFile(tableID uint32) (*TableFile, error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dm.closed {
		return nil, ErrDiskManagerClosed
	}
	tf, ok := dm.files[tableID]
	if !ok {
		tf = NewTableFile(filepath.Join(dm.dir, TableFileName(tableID)), dm.pageSize)
		dm.files[tableID] = tf
	}
	return tf, nil
}

func (dm *DiskManager) ReadPage(pid basic.PageID, maker basic.PageMaker) (basic.Page, error) {
	tf, err := dm.tableFile(pid.TableID)
	if err != nil {
		return nil, err
	}
	data, err := tf.ReadSlot(pid.PageNo)
	if err != nil {
		return nil, errors.Wrapf(err, "read page %s", pid)
	}
	atomic.AddUint64(&dm.reads, 1)
	page, err := maker(pid, data)
	if err != nil {
		return nil, errors.Wrapf(err, "make page %s", pid)
	}
	return page, nil
}

func (dm *DiskManager) WritePage(page basic.Page) error {
	pid := page.GetID()
	tf, err := dm.tableFile(pid.TableID)
	if err != nil {
		return err
	}
	if err := tf.WriteSlot(pid.PageNo, page.GetPageData()); err != nil {
		return errors.Wrapf(err, "write page %s", pid)
	}
	atomic.AddUint64(&dm.writes, 1)
	return nil
}

// AllocatePage 在磁盘上为pid预留一个空页，已分配时不做任何事
func (dm *DiskManager) AllocatePage(pid basic.PageID) error {
	tf, err := dm.tableFile(pid.TableID)
	if err != nil {
		return err
	}
	if err := tf.Extend(pid.PageNo); err != nil {
		return errors.Wrapf(err, "allocate page %s", pid)
	}
	logger.Debugf("allocated page %s", pid)
	return nil
}

// NumPages 返回表文件已分配的页数
func (dm *DiskManager) NumPages(tableID uint32) (uint32, error) {
	tf, err := dm.tableFile(tableID)
	if err != nil {
		return 0, err
	}
	return tf.NumPages()
}

// Stats 返回读写页次数
func (dm *DiskManager) Stats() (reads, writes uint64) {
	return atomic.LoadUint64(&dm.reads), atomic.LoadUint64(&dm.writes)
}

// Sync 刷盘所有已打开的表文件
func (dm *DiskManager) Sync() error {
	dm.mu.Lock()
	files := make([]*TableFile, 0, len(dm.files))
	for _, tf := range dm.files {
		files = append(files, tf)
	}
	dm.mu.Unlock()
	for _, tf := range files {
		if err := tf.Sync(); err != nil {
			return err
		}
	}
	return nil
}

func (dm *DiskManager) Close() error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dm.closed {
		return nil
	}
	dm.closed = true
	var firstErr error
	for id, tf := range dm.files {
		if err := tf.Sync(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := tf.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(dm.files, id)
	}
	return firstErr
}
