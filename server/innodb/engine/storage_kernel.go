package engine

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/zhukovaskychina/xmysql-kernel/logger"
	"github.com/zhukovaskychina/xmysql-kernel/server/conf"
	"github.com/zhukovaskychina/xmysql-kernel/server/innodb/basic"
	"github.com/zhukovaskychina/xmysql-kernel/server/innodb/buffer_pool"
	"github.com/zhukovaskychina/xmysql-kernel/server/innodb/manager"
	"github.com/zhukovaskychina/xmysql-kernel/server/innodb/storage"
)

// StorageKernel wires the disk manager, buffer pool, log, lock manager and
// access coordinator together from one configuration.
type StorageKernel struct {
	conf *conf.Cfg

	// Storage
	disk       *storage.DiskManager
	bufferPool *buffer_pool.BufferPool
	logFile    *manager.LogFile

	// Transaction
	lockManager   *manager.LockManager
	accessManager *manager.AccessManager
	txManager     *manager.TransactionManager

	closeOnce sync.Once
	closeErr  error
}

// KernelStats 各组件统计的快照
type KernelStats struct {
	BufferPool buffer_pool.BufferPoolStats
	Locks      manager.LockStats
	Log        manager.LogStats
	LogSize    int64
	DiskReads  uint64
	DiskWrites uint64
}

// NewStorageKernel opens every component and runs crash recovery before
// returning. A recovery failure closes what was opened.
func NewStorageKernel(cfg *conf.Cfg) (*StorageKernel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	k := &StorageKernel{conf: cfg}
	if err := k.initStorageLayer(); err != nil {
		return nil, err
	}
	if err := k.initLogLayer(); err != nil {
		_ = k.disk.Close()
		return nil, err
	}
	k.initTxnLayer()

	start := time.Now()
	if err := k.logFile.Recover(); err != nil {
		_ = k.logFile.Close()
		_ = k.disk.Close()
		return nil, errors.WithMessage(err, "recovery failed")
	}
	logger.Infof("recovery finished in %s, log %s", time.Since(start), humanize.Bytes(uint64(k.logFile.Size())))
	return k, nil
}

func (k *StorageKernel) initStorageLayer() error {
	disk, err := storage.NewDiskManager(k.conf.DataDir, k.conf.PageSize)
	if err != nil {
		return err
	}
	pool, err := buffer_pool.NewBufferPool(&buffer_pool.BufferPoolConfig{
		Capacity:    k.conf.PoolPages,
		Policy:      k.conf.ReplacementPolicy,
		EvictDirty:  k.conf.EvictDirty,
		DiskManager: disk,
	})
	if err != nil {
		_ = disk.Close()
		return err
	}
	k.disk = disk
	k.bufferPool = pool
	logger.Infof("buffer pool: %s pages (%s), policy %s",
		humanize.Comma(int64(k.conf.PoolPages)),
		humanize.IBytes(uint64(k.conf.PoolPages)*uint64(k.conf.PageSize)),
		pool.Policy())
	return nil
}

func (k *StorageKernel) initLogLayer() error {
	lf, err := manager.NewLogFile(k.conf.LogDir, k.disk, k.bufferPool, basic.DataPageMaker)
	if err != nil {
		return err
	}
	k.logFile = lf
	k.bufferPool.SetLogForcer(lf.Force)
	return nil
}

func (k *StorageKernel) initTxnLayer() {
	k.lockManager = manager.NewLockManager()
	k.accessManager = manager.NewAccessManager(k.lockManager, k.bufferPool, k.logFile)
	k.accessManager.SetForce(k.conf.Force)
	k.txManager = manager.NewTransactionManager(k.accessManager)
}

func (k *StorageKernel) DiskManager() *storage.DiskManager {
	return k.disk
}

func (k *StorageKernel) BufferPool() *buffer_pool.BufferPool {
	return k.bufferPool
}

func (k *StorageKernel) LogFile() *manager.LogFile {
	return k.logFile
}

func (k *StorageKernel) LockManager() *manager.LockManager {
	return k.lockManager
}

func (k *StorageKernel) AccessManager() *manager.AccessManager {
	return k.accessManager
}

func (k *StorageKernel) TransactionManager() *manager.TransactionManager {
	return k.txManager
}

// Stats 汇总各组件统计
func (k *StorageKernel) Stats() KernelStats {
	reads, writes := k.disk.Stats()
	return KernelStats{
		BufferPool: k.bufferPool.Stats(),
		Locks:      k.lockManager.Stats(),
		Log:        k.logFile.Stats(),
		LogSize:    k.logFile.Size(),
		DiskReads:  reads,
		DiskWrites: writes,
	}
}

// LogStats 以可读格式输出统计
func (k *StorageKernel) LogStats() {
	s := k.Stats()
	logger.Infof("buffer pool: %s resident, %s dirty, hit ratio %.2f, %s evictions",
		humanize.Comma(s.BufferPool.ResidentPages),
		humanize.Comma(s.BufferPool.DirtyPages),
		s.BufferPool.GetHitRatio(),
		humanize.Comma(s.BufferPool.PageEvictions))
	logger.Infof("locks: %d grants, %d waits, %d upgrades, %d aborts",
		s.Locks.Grants, s.Locks.Waits, s.Locks.Upgrades, s.Locks.Aborts)
	logger.Infof("log: %s, %s records, %d forces, last checkpoint %d",
		humanize.Bytes(uint64(s.LogSize)),
		humanize.Comma(int64(s.Log.Appends)),
		s.Log.Forces,
		s.Log.LastCheckpoint)
	logger.Infof("disk: %s page reads, %s page writes",
		humanize.Comma(int64(s.DiskReads)),
		humanize.Comma(int64(s.DiskWrites)))
}

// RunCheckpoints takes a checkpoint every interval until ctx is done.
func (k *StorageKernel) RunCheckpoints(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := k.txManager.Checkpoint(); err != nil {
				logger.Errorf("checkpoint: %v", err)
			}
		}
	}
}

// Close aborts unfinished transactions, takes a final checkpoint and closes
// the log and data files.
func (k *StorageKernel) Close() error {
	k.closeOnce.Do(func() {
		keep := func(err error) {
			if err != nil && k.closeErr == nil {
				k.closeErr = err
			}
		}
		keep(k.txManager.Close())
		keep(k.txManager.Checkpoint())
		keep(k.logFile.Close())
		keep(k.disk.Close())
		logger.Infof("storage kernel closed, data in %s", filepath.Clean(k.conf.DataDir))
	})
	return k.closeErr
}
