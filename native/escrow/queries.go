package escrow

// Query limits
const (
	DefaultQueryLimit = 10
	MaxQueryLimit     = 30
)

// Queries provides read-only paginated access over the store's indices. It
// shares the state machine's storage view but never mutates it; every scan is
// restartable by passing the last returned key as the next cursor.
type Queries struct {
	store *Store
}

// NewQueries constructs the query engine over the given store.
func NewQueries(store *Store) *Queries {
	return &Queries{store: store}
}

// clampLimit applies the default page size and silently clamps requests above
// the hard cap.
func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultQueryLimit
	}
	if limit > MaxQueryLimit {
		return MaxQueryLimit
	}
	return limit
}

// Config returns the current configuration record.
func (q *Queries) Config() (*Config, error) {
	return q.store.Config()
}

// Escrow looks up a single record by its (collection, token_id) key.
func (q *Queries) Escrow(collection, tokenID string) (*Escrow, bool, error) {
	return q.store.GetEscrow(collection, tokenID)
}

// Escrows pages through a collection in ascending token-id order. A non-empty
// startAfter excludes the cursor itself, so consecutive pages neither overlap
// nor gap.
func (q *Queries) Escrows(collection, startAfter string, limit int) ([]*Escrow, error) {
	return q.store.ListByCollection(collection, startAfter, clampLimit(limit))
}

// ReverseEscrows pages through a collection in descending token-id order,
// starting strictly below the optional startBefore cursor.
func (q *Queries) ReverseEscrows(collection, startBefore string, limit int) ([]*Escrow, error) {
	return q.store.ListByCollectionReverse(collection, startBefore, clampLimit(limit))
}

// EscrowsCount returns the exact number of live escrows in a collection.
func (q *Queries) EscrowsCount(collection string) (int, error) {
	return q.store.CountByCollection(collection)
}

// EscrowsBySource pages through every escrow deposited by the given source,
// keyed by the compound (collection, token_id) cursor.
func (q *Queries) EscrowsBySource(source string, startAfter *CollectionOffset, limit int) ([]*Escrow, error) {
	return q.store.ListBySource(source, startAfter, clampLimit(limit))
}

// EscrowsByRecipient pages through every escrow payable by the given
// recipient, keyed by the compound (collection, token_id) cursor.
func (q *Queries) EscrowsByRecipient(recipient string, startAfter *CollectionOffset, limit int) ([]*Escrow, error) {
	return q.store.ListByRecipient(recipient, startAfter, clampLimit(limit))
}
