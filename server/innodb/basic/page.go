package basic

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"
)

// PageID 唯一标识一张表中的一个页
type PageID struct {
	TableID uint32 // 表ID
	PageNo  uint32 // 页号
}

func NewPageID(tableID, pageNo uint32) PageID {
	return PageID{TableID: tableID, PageNo: pageNo}
}

func (p PageID) String() string {
	return fmt.Sprintf("%d:%d", p.TableID, p.PageNo)
}

// Page is the unit cached by the buffer pool and logged by the log file.
// Its content is an opaque blob to the kernel.
type Page interface {
	GetID() PageID
	// GetPageData returns a copy of the serialized page.
	GetPageData() []byte
	// GetBeforeImage returns the page as of the last snapshot.
	GetBeforeImage() Page
	// SetBeforeImage snapshots the current content as the new before image.
	SetBeforeImage()
}

// PageMaker 由调用方提供，把磁盘字节反序列化成页
type PageMaker func(pid PageID, data []byte) (Page, error)

// DiskManager reads and writes whole pages.
type DiskManager interface {
	ReadPage(pid PageID, maker PageMaker) (Page, error)
	WritePage(page Page) error
	AllocatePage(pid PageID) error
}

// DataPage 通用的字节页实现
type DataPage struct {
	mu     sync.RWMutex
	id     PageID
	data   []byte
	before []byte
}

// NewDataPage copies data; the before image starts equal to it.
func NewDataPage(pid PageID, data []byte) *DataPage {
	d := make([]byte, len(data))
	copy(d, data)
	b := make([]byte, len(data))
	copy(b, data)
	return &DataPage{id: pid, data: d, before: b}
}

// DataPageMaker 是 DataPage 的 PageMaker
func DataPageMaker(pid PageID, data []byte) (Page, error) {
	return NewDataPage(pid, data), nil
}

func (p *DataPage) GetID() PageID {
	return p.id
}

func (p *DataPage) GetPageData() []byte {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]byte, len(p.data))
	copy(out, p.data)
	return out
}

func (p *DataPage) GetBeforeImage() Page {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return NewDataPage(p.id, p.before)
}

func (p *DataPage) SetBeforeImage() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.before = make([]byte, len(p.data))
	copy(p.before, p.data)
}

// SetPageData replaces the whole content.
func (p *DataPage) SetPageData(data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.data = make([]byte, len(data))
	copy(p.data, data)
}

// WriteAt 在偏移处覆盖写入，越界返回错误
func (p *DataPage) WriteAt(off int, b []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if off < 0 || off+len(b) > len(p.data) {
		return errors.Wrapf(ErrOutOfPageRange, "write [%d,%d) on page %s of %d bytes",
			off, off+len(b), p.id, len(p.data))
	}
	copy(p.data[off:], b)
	return nil
}
