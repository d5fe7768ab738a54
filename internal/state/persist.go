package state

import (
	"fmt"

	"Tessera/internal/storage"
)

// batch accumulates the writes of one store mutation.
type batch struct {
	ops []storage.Op // ops are applied atomically by commit
	err error        // err is the first framing error
}

// put frames and queues a record write.
func (b *batch) put(key, value []byte) {
	if b.err != nil {
		return
	}

	framed, err := storage.Compress(value)
	if err != nil {
		b.err = fmt.Errorf("frame record %q:\n%w", key, err)
		return
	}

	b.ops = append(b.ops, storage.Op{Key: key, Value: framed})
}

// del queues a record deletion.
func (b *batch) del(key []byte) {
	b.ops = append(b.ops, storage.Op{Key: key, Delete: true})
}

// commit applies the queued writes.
func (b *batch) commit(db *storage.Storage) error {
	if b.err != nil {
		return b.err
	}

	if len(b.ops) == 0 {
		return nil
	}

	if err := db.Write(b.ops); err != nil {
		return fmt.Errorf("write %d records:\n%w", len(b.ops), err)
	}

	return nil
}

// loadOne reads and decodes a singleton record; found is false if absent.
func loadOne[T any](db *storage.Storage, key []byte, decode func([]byte) (T, error)) (v T, found bool, err error) {
	data, err := db.GetCompressed(key)
	if err != nil {
		return v, false, fmt.Errorf("read %q:\n%w", key, err)
	}

	if data == nil {
		return v, false, nil
	}

	v, err = decode(data)
	if err != nil {
		return v, false, fmt.Errorf("decode %q:\n%w", key, err)
	}

	return v, true, nil
}

// loadAll decodes every record under prefix, passing the ids parsed from its key.
func loadAll[T any](db *storage.Storage, prefix []byte, ids int, decode func([]byte) (T, error), fn func(ids []uint64, v T)) error {
	return db.IteratePrefix(prefix, func(key, value []byte) error {
		keyIDs, err := keyIDs(key, prefix, ids)
		if err != nil {
			return err
		}

		data, err := storage.Decompress(value)
		if err != nil {
			return fmt.Errorf("decompress %x:\n%w", key, err)
		}

		v, err := decode(data)
		if err != nil {
			return fmt.Errorf("decode %x:\n%w", key, err)
		}

		fn(keyIDs, v)

		return nil
	})
}

// constructionNode keys per-construction, per-node records.
type constructionNode struct {
	construction uint64
	node         uint64
}
