package db

// KVStore is the ordered key-value storage the ledger keeps its accounts in.
type KVStore interface {
	Reader
	Writer
	Delete(key []byte) error
	NewBatch() Batch
	Close() error
}

type Reader interface {
	// Get returns a copy of the value stored under key.
	Get(key []byte) ([]byte, error)
	// NewIterator iterates over [start, end). A nil bound is unbounded.
	NewIterator(start, end []byte) (Iterator, error)
}

type Writer interface {
	Put(key []byte, value []byte) error
}

// Batch collects writes that become visible together on Commit, or not at all.
type Batch interface {
	Writer
	Delete(key []byte) error
	// Len is the number of writes staged so far.
	Len() int
	Commit() error
	Close() error
}

// Iterator provides sequential access over a range of key-value pairs.
// Iterators must be closed after use.
type Iterator interface {
	Next() bool
	Key() []byte
	Value() ([]byte, error)
	Valid() bool
	Close() error
}
