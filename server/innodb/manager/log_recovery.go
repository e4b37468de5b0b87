package manager

import (
	"github.com/pkg/errors"
	"github.com/zhukovaskychina/xmysql-kernel/logger"
	"github.com/zhukovaskychina/xmysql-kernel/server/innodb/basic"
)

// undoUpdate 把前像写回磁盘并追加CLR，缓冲池中的脏副本被丢弃
func (lf *LogFile) undoUpdate(rec *LogRecord) error {
	before, err := rec.Before.Page(lf.maker)
	if err != nil {
		return errors.Wrapf(err, "rebuild before image of %s", rec.Before.ID)
	}
	if err := lf.disk.WritePage(before); err != nil {
		return errors.Wrapf(err, "undo %s of %s", rec.Before.ID, rec.TID)
	}
	if err := lf.LogCLR(rec.TID, before); err != nil {
		return err
	}
	if lf.cache != nil && lf.cache.IsDirty(rec.Before.ID) {
		lf.cache.DiscardPage(rec.Before.ID)
	}
	lf.mu.Lock()
	lf.stats.UndoneUpdates++
	lf.mu.Unlock()
	return nil
}

// Rollback walks the log backward from the tail and undoes every update of
// tid, ending with an ABORT record. A committed transaction cannot be rolled
// back.
func (lf *LogFile) Rollback(tid basic.TransactionID) error {
	if lf.disk == nil {
		return errors.New("rollback needs a disk manager")
	}
	lf.recoveryMu.Lock()
	defer lf.recoveryMu.Unlock()

	rr, _, err := lf.forcedReader()
	if err != nil {
		return err
	}

	undone := 0
	for end := rr.limit; end > logHeaderSize; {
		start, err := rr.prevStart(end)
		if err != nil {
			return err
		}
		rec, err := rr.decodeAt(start)
		if err != nil {
			return err
		}
		end = start
		if rec.TID != tid {
			continue
		}
		switch rec.Type {
		case LOG_UPDATE:
			if err := lf.undoUpdate(rec); err != nil {
				return err
			}
			undone++
		case LOG_COMMIT:
			return errors.Wrapf(ErrAlreadyCommitted, "rollback %s", tid)
		case LOG_ABORT:
			// 已经回滚过
			return nil
		case LOG_BEGIN:
			end = logHeaderSize
		}
	}

	if err := lf.LogAbort(tid); err != nil {
		return err
	}
	lf.mu.Lock()
	lf.stats.Rollbacks++
	lf.mu.Unlock()
	logger.Infof("rolled back %s, %d updates undone", tid, undone)
	return nil
}

// Recover brings the data files to a state that contains exactly the
// updates of committed transactions.
//
// Analysis starts from the last checkpoint's active set and scans forward;
// redo reapplies every UPDATE and CLR after-image from the start of the log;
// undo walks backward undoing losers until each loser's BEGIN is reached.
// Running it twice leaves the data files unchanged the second time.
func (lf *LogFile) Recover() error {
	if lf.disk == nil {
		return errors.New("recover needs a disk manager")
	}
	lf.recoveryMu.Lock()
	defer lf.recoveryMu.Unlock()

	rr, checkpoint, err := lf.forcedReader()
	if err != nil {
		return err
	}

	// analysis
	losers := make(map[basic.TransactionID]bool)
	analysisFrom := int64(logHeaderSize)
	if checkpoint != NO_CHECKPOINT {
		rec, err := rr.decodeAt(checkpoint)
		if err != nil {
			return errors.Wrapf(err, "read checkpoint at %d", checkpoint)
		}
		if rec.Type != LOG_CHECKPOINT {
			return errors.Wrapf(ErrCorruptLog, "header points to %s record at %d", rec.Type, checkpoint)
		}
		for _, tid := range rec.Active {
			losers[tid] = true
		}
		analysisFrom = checkpoint + rec.Size
	}

	// redo，同时完成检查点之后的分析
	redone := 0
	for off := int64(logHeaderSize); off < rr.limit; {
		rec, err := rr.decodeAt(off)
		if err != nil {
			return err
		}
		if off >= analysisFrom {
			switch rec.Type {
			case LOG_BEGIN:
				losers[rec.TID] = true
			case LOG_COMMIT, LOG_ABORT:
				delete(losers, rec.TID)
			}
		}
		switch rec.Type {
		case LOG_UPDATE, LOG_CLR:
			if err := lf.redo(rec.After); err != nil {
				return err
			}
			redone++
		}
		off += rec.Size
	}
	logger.Infof("recovery redo: %d records reapplied, %d losers", redone, len(losers))

	lf.mu.Lock()
	lf.stats.RedoneRecords += uint64(redone)
	lf.mu.Unlock()

	// undo
	undone := 0
	for end := rr.limit; end > logHeaderSize && len(losers) > 0; {
		start, err := rr.prevStart(end)
		if err != nil {
			return err
		}
		rec, err := rr.decodeAt(start)
		if err != nil {
			return err
		}
		end = start
		if !losers[rec.TID] {
			continue
		}
		switch rec.Type {
		case LOG_UPDATE:
			if err := lf.undoUpdate(rec); err != nil {
				return err
			}
			undone++
		case LOG_BEGIN:
			if err := lf.LogAbort(rec.TID); err != nil {
				return err
			}
			delete(losers, rec.TID)
		}
	}
	// BEGIN缺失的失败者也要终结
	for tid := range losers {
		if err := lf.LogAbort(tid); err != nil {
			return err
		}
	}
	logger.Infof("recovery undo: %d updates undone", undone)
	return lf.Force()
}

func (lf *LogFile) redo(img *PageImage) error {
	page, err := img.Page(lf.maker)
	if err != nil {
		return errors.Wrapf(err, "rebuild after image of %s", img.ID)
	}
	if err := lf.disk.WritePage(page); err != nil {
		return errors.Wrapf(err, "redo %s", img.ID)
	}
	if lf.cache != nil {
		lf.cache.DiscardPage(img.ID)
	}
	return nil
}
