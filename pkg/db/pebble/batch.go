package pebble

import (
	"sync/atomic"

	"github.com/cockroachdb/pebble"

	"github.com/eigerco/transfersol/pkg/db"
)

// Batch stages account writes until Commit. Once committed or closed it
// rejects further use with ErrBatchDone.
type Batch struct {
	pb     *pebble.Batch
	closed atomic.Bool
}

func (p *KVStore) NewBatch() db.Batch {
	return &Batch{pb: p.db.NewBatch()}
}

func (b *Batch) Put(key, value []byte) error {
	if b.closed.Load() {
		return ErrBatchDone
	}
	return b.pb.Set(key, value, nil)
}

func (b *Batch) Delete(key []byte) error {
	if b.closed.Load() {
		return ErrBatchDone
	}
	return b.pb.Delete(key, nil)
}

// Len is the number of staged puts and deletes.
func (b *Batch) Len() int {
	if b.closed.Load() {
		return 0
	}
	return int(b.pb.Count())
}

// Commit syncs every staged write to disk in one step and releases the batch.
// A failed commit leaves the batch open so the caller's Close discards it.
func (b *Batch) Commit() error {
	if b.closed.Load() {
		return ErrBatchDone
	}
	if err := b.pb.Commit(pebble.Sync); err != nil {
		return err
	}
	return b.release()
}

// Close discards staged writes. It is a no-op after Commit or a prior Close.
func (b *Batch) Close() error {
	return b.release()
}

func (b *Batch) release() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	return b.pb.Close()
}
