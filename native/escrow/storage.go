package escrow

import (
	"encoding/json"
	"errors"
	"fmt"

	"nftescrow/storage"
)

// Store persists the config singleton and the escrow records together with
// the three derived indices (by collection, by source, by recipient). Index
// entries are rewritten in the same batch as the primary record, so a
// committed record is always reachable through every index and no index entry
// ever outlives its record.
type Store struct {
	db storage.Database
}

// NewStore constructs a store bound to the provided database backend.
func NewStore(db storage.Database) *Store {
	return &Store{db: db}
}

func storageFault(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStorageFault, op, err)
}

// SetConfig overwrites the config singleton.
func (s *Store) SetConfig(cfg *Config) error {
	if cfg == nil {
		return ErrNotInitialized
	}
	encoded, err := json.Marshal(cfg)
	if err != nil {
		return storageFault("encode config", err)
	}
	if err := s.db.Put(configKey, encoded); err != nil {
		return storageFault("write config", err)
	}
	return nil
}

// Config loads the config singleton.
func (s *Store) Config() (*Config, error) {
	raw, err := s.db.Get(configKey)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, ErrNotInitialized
	}
	if err != nil {
		return nil, storageFault("read config", err)
	}
	cfg := &Config{}
	if err := json.Unmarshal(raw, cfg); err != nil {
		return nil, storageFault("decode config", err)
	}
	return cfg, nil
}

// GetEscrow point-looks-up the record for (collection, token_id).
func (s *Store) GetEscrow(collection, tokenID string) (*Escrow, bool, error) {
	// No stored key carries a collection beyond the codec's length prefix,
	// so an oversized lookup is a plain miss rather than an aliased read.
	if len(collection) > maxIdentifierLen {
		return nil, false, nil
	}
	raw, err := s.db.Get(escrowKey(collection, tokenID))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, storageFault("read escrow", err)
	}
	esc := &Escrow{}
	if err := json.Unmarshal(raw, esc); err != nil {
		return nil, false, storageFault("decode escrow", err)
	}
	return esc, true, nil
}

// PutEscrow inserts or overwrites the record and rewrites all three index
// entries in one atomic batch. When an existing record for the same key is
// clobbered, its index entries are removed in the same batch so a changed
// source or recipient leaves no stale entry behind.
func (s *Store) PutEscrow(esc *Escrow) error {
	sanitized, err := SanitizeEscrow(esc)
	if err != nil {
		return err
	}
	encoded, err := json.Marshal(sanitized)
	if err != nil {
		return storageFault("encode escrow", err)
	}
	prev, found, err := s.GetEscrow(sanitized.Collection, sanitized.TokenID)
	if err != nil {
		return err
	}
	primary := escrowKey(sanitized.Collection, sanitized.TokenID)
	batch := s.db.NewBatch()
	if found {
		deleteIndexEntries(batch, prev)
	}
	batch.Put(primary, encoded)
	putIndexEntries(batch, sanitized, primary)
	if err := batch.Write(); err != nil {
		return storageFault("write escrow", err)
	}
	return nil
}

// DeleteEscrow removes the primary entry and all index entries atomically.
func (s *Store) DeleteEscrow(collection, tokenID string) error {
	esc, found, err := s.GetEscrow(collection, tokenID)
	if err != nil {
		return err
	}
	if !found {
		return ErrNoEscrow
	}
	batch := s.db.NewBatch()
	batch.Delete(escrowKey(collection, tokenID))
	deleteIndexEntries(batch, esc)
	if err := batch.Write(); err != nil {
		return storageFault("delete escrow", err)
	}
	return nil
}

func putIndexEntries(batch storage.Batch, esc *Escrow, primary []byte) {
	batch.Put(indexKey(collectionIndexPrefix, esc.Collection, esc.Collection, esc.TokenID), primary)
	batch.Put(indexKey(sourceIndexPrefix, esc.Source, esc.Collection, esc.TokenID), primary)
	batch.Put(indexKey(recipientIndexPrefix, esc.Recipient, esc.Collection, esc.TokenID), primary)
}

func deleteIndexEntries(batch storage.Batch, esc *Escrow) {
	batch.Delete(indexKey(collectionIndexPrefix, esc.Collection, esc.Collection, esc.TokenID))
	batch.Delete(indexKey(sourceIndexPrefix, esc.Source, esc.Collection, esc.TokenID))
	batch.Delete(indexKey(recipientIndexPrefix, esc.Recipient, esc.Collection, esc.TokenID))
}

// ListByCollection scans a collection in ascending token-id order. A
// non-empty startAfter is an exclusive cursor; max <= 0 means unbounded.
func (s *Store) ListByCollection(collection, startAfter string, max int) ([]*Escrow, error) {
	if len(collection) > maxIdentifierLen {
		return nil, nil
	}
	start, limit := storage.PrefixRange(indexPrefix(collectionIndexPrefix, collection))
	if startAfter != "" {
		start = exclusiveStart(indexKey(collectionIndexPrefix, collection, collection, startAfter))
	}
	return s.scanIndex(start, limit, false, max)
}

// ListByCollectionReverse scans a collection in descending token-id order. A
// non-empty startBefore is an exclusive upper cursor.
func (s *Store) ListByCollectionReverse(collection, startBefore string, max int) ([]*Escrow, error) {
	if len(collection) > maxIdentifierLen {
		return nil, nil
	}
	start, limit := storage.PrefixRange(indexPrefix(collectionIndexPrefix, collection))
	if startBefore != "" {
		limit = indexKey(collectionIndexPrefix, collection, collection, startBefore)
	}
	return s.scanIndex(start, limit, true, max)
}

// CountByCollection returns the exact number of live records in a collection.
func (s *Store) CountByCollection(collection string) (int, error) {
	if len(collection) > maxIdentifierLen {
		return 0, nil
	}
	start, limit := storage.PrefixRange(indexPrefix(collectionIndexPrefix, collection))
	it := s.db.NewIterator(start, limit, false)
	defer it.Release()
	count := 0
	for it.Next() {
		count++
	}
	if err := it.Error(); err != nil {
		return 0, storageFault("count escrows", err)
	}
	return count, nil
}

// ListBySource scans the source index in ascending (collection, token_id)
// order, starting after the optional compound cursor.
func (s *Store) ListBySource(source string, startAfter *CollectionOffset, max int) ([]*Escrow, error) {
	return s.listByDimension(sourceIndexPrefix, source, startAfter, max)
}

// ListByRecipient scans the recipient index in ascending (collection,
// token_id) order, starting after the optional compound cursor.
func (s *Store) ListByRecipient(recipient string, startAfter *CollectionOffset, max int) ([]*Escrow, error) {
	return s.listByDimension(recipientIndexPrefix, recipient, startAfter, max)
}

func (s *Store) listByDimension(prefix []byte, dimension string, startAfter *CollectionOffset, max int) ([]*Escrow, error) {
	if len(dimension) > maxIdentifierLen {
		return nil, nil
	}
	start, limit := storage.PrefixRange(indexPrefix(prefix, dimension))
	if startAfter != nil {
		start = exclusiveStart(indexKey(prefix, dimension, startAfter.Collection, startAfter.TokenID))
	}
	return s.scanIndex(start, limit, false, max)
}

// scanIndex walks index entries and resolves each to its primary record. A
// dangling index entry means the atomic write path was violated and surfaces
// as a storage fault.
func (s *Store) scanIndex(start, limit []byte, reverse bool, max int) ([]*Escrow, error) {
	it := s.db.NewIterator(start, limit, reverse)
	defer it.Release()
	var out []*Escrow
	for it.Next() {
		if max > 0 && len(out) >= max {
			break
		}
		raw, err := s.db.Get(it.Value())
		if errors.Is(err, storage.ErrKeyNotFound) {
			return nil, storageFault("resolve index entry", fmt.Errorf("dangling entry %x", it.Key()))
		}
		if err != nil {
			return nil, storageFault("resolve index entry", err)
		}
		esc := &Escrow{}
		if err := json.Unmarshal(raw, esc); err != nil {
			return nil, storageFault("decode escrow", err)
		}
		out = append(out, esc)
	}
	if err := it.Error(); err != nil {
		return nil, storageFault("scan index", err)
	}
	return out, nil
}
