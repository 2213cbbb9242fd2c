package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/veilvault/veilvault/internal/log"
	"github.com/veilvault/veilvault/internal/storage"
	"github.com/veilvault/veilvault/pkg/types"
)

// prefixRecord keys persisted records: pu/<owner(20)><id(32)> -> JSON.
var prefixRecord = []byte("pu/")

// ReceiptSource looks up mined receipts during reconciliation.
type ReceiptSource interface {
	TransactionReceipt(ctx context.Context, tx types.Hash) (*types.Receipt, error)
}

// Ledger is the in-memory record set with persist-through to a storage.DB.
// Mutation happens only through Insert and MarkSpent; orchestrators call
// them exclusively from their finalize step, after chain confirmation.
type Ledger struct {
	mu      sync.RWMutex
	db      storage.DB
	records map[types.Hash]*PrivateUTXO
	subs    map[int]chan Event
	nextSub int
	log     zerolog.Logger
}

// New creates a ledger backed by the given store.
func New(db storage.DB) *Ledger {
	return &Ledger{
		db:      db,
		records: make(map[types.Hash]*PrivateUTXO),
		subs:    make(map[int]chan Event),
		log:     log.Ledger,
	}
}

// recordKey builds the storage key: "pu/" + owner(20) + id(32).
func recordKey(owner types.Address, id types.Hash) []byte {
	key := make([]byte, len(prefixRecord)+types.AddressSize+types.HashSize)
	copy(key, prefixRecord)
	copy(key[len(prefixRecord):], owner[:])
	copy(key[len(prefixRecord)+types.AddressSize:], id[:])
	return key
}

// ownerPrefix builds the iteration prefix for one owner's records.
func ownerPrefix(owner types.Address) []byte {
	prefix := make([]byte, len(prefixRecord)+types.AddressSize)
	copy(prefix, prefixRecord)
	copy(prefix[len(prefixRecord):], owner[:])
	return prefix
}

// Insert adds a record to the ledger and persists it. A record missing its
// blinding factor, commitment, nullifier or scheme tag is dropped with a
// warning instead of entering the store: a malformed record must never be
// persisted, but the caller's operation is not failed over it.
func (l *Ledger) Insert(rec *PrivateUTXO) error {
	if rec == nil {
		return nil
	}
	if !rec.Complete() {
		l.log.Warn().
			Str("id", rec.ID.String()).
			Str("owner", rec.Owner.String()).
			Msg("dropping incomplete private UTXO record")
		return nil
	}

	l.mu.Lock()
	l.records[rec.ID] = rec.clone()
	l.mu.Unlock()

	if err := l.persist(rec); err != nil {
		return fmt.Errorf("persist record: %w", err)
	}

	l.emit(Event{Type: EventCreated, Record: rec.clone()})
	return nil
}

// MarkSpent flags a record as spent. Idempotent: marking an already-spent
// or unknown id is a no-op, which keeps retried confirmation checks safe.
func (l *Ledger) MarkSpent(id types.Hash) error {
	l.mu.Lock()
	rec, ok := l.records[id]
	if !ok || rec.Spent {
		l.mu.Unlock()
		return nil
	}
	rec.Spent = true
	snapshot := rec.clone()
	l.mu.Unlock()

	if err := l.persist(snapshot); err != nil {
		return fmt.Errorf("persist spent flag: %w", err)
	}

	l.emit(Event{Type: EventSpent, Record: snapshot})
	return nil
}

// Get returns a copy of the record with the given id.
func (l *Ledger) Get(id types.Hash) (*PrivateUTXO, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rec, ok := l.records[id]
	if !ok {
		return nil, false
	}
	return rec.clone(), true
}

// Unspent returns copies of the owner's unspent records.
func (l *Ledger) Unspent(owner types.Address) []*PrivateUTXO {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []*PrivateUTXO
	for _, rec := range l.records {
		if rec.Owner == owner && !rec.Spent {
			out = append(out, rec.clone())
		}
	}
	return out
}

// All returns copies of every record for the owner, spent included.
// Spent records are retained for lineage and audit.
func (l *Ledger) All(owner types.Address) []*PrivateUTXO {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []*PrivateUTXO
	for _, rec := range l.records {
		if rec.Owner == owner {
			out = append(out, rec.clone())
		}
	}
	return out
}

// Balances sums unspent value per token. A pure derived view: there is no
// separate balance source of truth.
func (l *Ledger) Balances(owner types.Address) map[types.Address]uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make(map[types.Address]uint64)
	for _, rec := range l.records {
		if rec.Owner == owner && !rec.Spent {
			out[rec.Token] += rec.Value
		}
	}
	return out
}

// Stats summarizes the owner's record set.
type Stats struct {
	Total     int `json:"total"`
	Unspent   int `json:"unspent"`
	Spent     int `json:"spent"`
	Pending   int `json:"pending"`
	Confirmed int `json:"confirmed"`
}

// OwnerStats counts the owner's records by state.
func (l *Ledger) OwnerStats(owner types.Address) Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var s Stats
	for _, rec := range l.records {
		if rec.Owner != owner {
			continue
		}
		s.Total++
		if rec.Spent {
			s.Spent++
		} else {
			s.Unspent++
		}
		if rec.Confirmed {
			s.Confirmed++
		} else {
			s.Pending++
		}
	}
	return s
}

// Reconcile merges persisted records into memory (id is the merge key; the
// in-memory copy wins when both exist) and, for any unconfirmed record with
// a known creation transaction, queries the chain for its receipt. A
// successful receipt flips Confirmed and persists again. This bridges
// optimistic local state with eventual on-chain truth.
func (l *Ledger) Reconcile(ctx context.Context, owner types.Address, receipts ReceiptSource) error {
	persisted, err := l.loadPersisted(owner)
	if err != nil {
		return fmt.Errorf("load persisted records: %w", err)
	}

	l.mu.Lock()
	for _, rec := range persisted {
		if _, ok := l.records[rec.ID]; !ok {
			l.records[rec.ID] = rec
		}
	}

	var pending []*PrivateUTXO
	for _, rec := range l.records {
		if rec.Owner == owner && !rec.Confirmed && !rec.CreatedTx.IsZero() {
			pending = append(pending, rec.clone())
		}
	}
	l.mu.Unlock()

	for _, rec := range pending {
		receipt, err := receipts.TransactionReceipt(ctx, rec.CreatedTx)
		if err != nil {
			l.log.Debug().
				Str("id", rec.ID.String()).
				Str("tx", rec.CreatedTx.String()).
				Err(err).
				Msg("receipt lookup failed, record stays unconfirmed")
			continue
		}
		if receipt == nil || !receipt.Succeeded() {
			continue
		}

		l.mu.Lock()
		live, ok := l.records[rec.ID]
		if ok {
			live.Confirmed = true
			live.BlockNumber = receipt.BlockNumber
			rec = live.clone()
		}
		l.mu.Unlock()
		if !ok {
			continue
		}

		if err := l.persist(rec); err != nil {
			return fmt.Errorf("persist confirmation: %w", err)
		}
		l.emit(Event{Type: EventConfirmed, Record: rec})
	}

	return nil
}

// loadPersisted reads all persisted records for one owner.
func (l *Ledger) loadPersisted(owner types.Address) ([]*PrivateUTXO, error) {
	var out []*PrivateUTXO
	err := l.db.ForEach(ownerPrefix(owner), func(key, value []byte) error {
		var rec PrivateUTXO
		if err := json.Unmarshal(value, &rec); err != nil {
			return fmt.Errorf("record unmarshal: %w", err)
		}
		out = append(out, &rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// persist writes one record through to the store.
func (l *Ledger) persist(rec *PrivateUTXO) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("record marshal: %w", err)
	}
	return l.db.Put(recordKey(rec.Owner, rec.ID), data)
}
