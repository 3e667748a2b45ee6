package ledger

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/cadcoin/cadcoind/internal/storage"
	"github.com/cadcoin/cadcoind/pkg/tx"
)

// Ledger errors.
var (
	// ErrBlockExists is returned when committing a block whose index or
	// hash is already taken (a concurrent miner won the race).
	ErrBlockExists = errors.New("block already committed at this position")
	// ErrNotFound is returned for missing records.
	ErrNotFound = storage.ErrNotFound
)

// Key prefixes. Composite keys use a 0x00 separator so user-supplied
// identifiers cannot collide across components.
var (
	prefixBlock   = []byte("b/") // b/<index BE8> -> BlockRecord JSON
	prefixHash    = []byte("H/") // H/<hash> -> index BE8
	prefixTx      = []byte("t/") // t/<index BE8><seq BE4> -> TxRecord JSON
	prefixTxID    = []byte("x/") // x/<tx_id> -> index BE8
	prefixPending = []byte("p/") // p/<tx_id> -> PendingTx JSON
	prefixBalance = []byte("a/") // a/<address>0x00<coin> -> Balance JSON
	prefixCoin    = []byte("c/") // c/<SYMBOL> -> Coin JSON
	prefixMinter  = []byte("m/") // m/<SYMBOL>0x00<minter> -> Minter JSON
	prefixStats   = []byte("s/") // s/<index BE8> -> ChainStats JSON
	prefixAttempt = []byte("w/") // w/<index BE8>0x00<miner> -> MiningAttempt JSON
	prefixUser    = []byte("u/") // u/<address> -> User JSON
	keyTip        = []byte("T/tip")
)

const keySep = "\x00"

// Store persists all ledger state to a storage.DB. Every multi-statement
// mutation runs inside a single Update transaction; the store owns all
// linearization.
type Store struct {
	db storage.DB
}

// NewStore creates a ledger store backed by the given database.
func NewStore(db storage.DB) *Store {
	return &Store{db: db}
}

// View runs fn in a read-only transaction.
func (s *Store) View(fn func(*Tx) error) error {
	return s.db.View(func(kv storage.Tx) error {
		return fn(&Tx{kv: kv})
	})
}

// Update runs fn in a read-write transaction; on error everything rolls back.
func (s *Store) Update(fn func(*Tx) error) error {
	return s.db.Update(func(kv storage.Tx) error {
		return fn(&Tx{kv: kv})
	})
}

// Tx exposes typed record accessors over one storage transaction.
type Tx struct {
	kv storage.Tx
}

// ---- blocks ----

// PutBlock commits a block header with its transactions, indexes the hash
// and every transaction id, and advances the tip. Fails with ErrBlockExists
// if the index or hash is already occupied.
func (t *Tx) PutBlock(rec BlockRecord, txs []TxRecord) error {
	if ok, err := t.kv.Has(blockKey(rec.Index)); err != nil {
		return err
	} else if ok {
		return fmt.Errorf("%w: index %d", ErrBlockExists, rec.Index)
	}
	if ok, err := t.kv.Has(hashKey(rec.Hash)); err != nil {
		return err
	} else if ok {
		return fmt.Errorf("%w: hash %s", ErrBlockExists, rec.Hash)
	}

	if err := putJSON(t.kv, blockKey(rec.Index), rec); err != nil {
		return fmt.Errorf("block put: %w", err)
	}
	if err := t.kv.Put(hashKey(rec.Hash), beUint64(rec.Index)); err != nil {
		return fmt.Errorf("hash index put: %w", err)
	}
	for i, row := range txs {
		if err := putJSON(t.kv, txSeqKey(rec.Index, uint32(i)), row); err != nil {
			return fmt.Errorf("tx put %s: %w", row.TxID, err)
		}
		if err := t.kv.Put(txIDKey(row.TxID), beUint64(rec.Index)); err != nil {
			return fmt.Errorf("tx index put %s: %w", row.TxID, err)
		}
	}
	if err := t.kv.Put(keyTip, beUint64(rec.Index)); err != nil {
		return fmt.Errorf("set tip: %w", err)
	}
	return nil
}

// Tip returns the current tip block. ErrNotFound means a fresh store.
func (t *Tx) Tip() (BlockRecord, error) {
	data, err := t.kv.Get(keyTip)
	if err != nil {
		return BlockRecord{}, err
	}
	return t.Block(binary.BigEndian.Uint64(data))
}

// Block retrieves a block header by index.
func (t *Tx) Block(index uint64) (BlockRecord, error) {
	var rec BlockRecord
	if err := getJSON(t.kv, blockKey(index), &rec); err != nil {
		return BlockRecord{}, err
	}
	return rec, nil
}

// BlockByHash retrieves a block header by hash.
func (t *Tx) BlockByHash(hash string) (BlockRecord, error) {
	data, err := t.kv.Get(hashKey(hash))
	if err != nil {
		return BlockRecord{}, err
	}
	return t.Block(binary.BigEndian.Uint64(data))
}

// ChainLength returns the number of committed blocks.
func (t *Tx) ChainLength() (uint64, error) {
	tip, err := t.Tip()
	if err == storage.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return tip.Index + 1, nil
}

// RecentBlocks returns up to n block headers, tip first.
func (t *Tx) RecentBlocks(n int) ([]BlockRecord, error) {
	return t.BlocksPage(n, 0)
}

// BlocksPage returns block headers tip-first, skipping offset entries.
func (t *Tx) BlocksPage(limit, offset int) ([]BlockRecord, error) {
	var out []BlockRecord
	skipped := 0
	err := t.kv.ForEachReverse(prefixBlock, func(_, value []byte) error {
		if skipped < offset {
			skipped++
			return nil
		}
		if len(out) >= limit {
			return errStopIteration
		}
		var rec BlockRecord
		if err := json.Unmarshal(value, &rec); err != nil {
			return fmt.Errorf("block unmarshal: %w", err)
		}
		out = append(out, rec)
		return nil
	})
	if err != nil && err != errStopIteration {
		return nil, err
	}
	return out, nil
}

// BlockTransactions returns a block's transactions in insertion order.
func (t *Tx) BlockTransactions(index uint64) ([]TxRecord, error) {
	prefix := make([]byte, len(prefixTx)+8)
	copy(prefix, prefixTx)
	binary.BigEndian.PutUint64(prefix[len(prefixTx):], index)

	var out []TxRecord
	err := t.kv.ForEach(prefix, func(_, value []byte) error {
		var row TxRecord
		if err := json.Unmarshal(value, &row); err != nil {
			return fmt.Errorf("tx unmarshal: %w", err)
		}
		out = append(out, row)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ---- pending transactions ----

// PutPending inserts a mempool row.
func (t *Tx) PutPending(p PendingTx) error {
	return putJSON(t.kv, pendingKey(p.TxID), p)
}

// DeletePending removes a mempool row by transaction id.
func (t *Tx) DeletePending(txID string) error {
	return t.kv.Delete(pendingKey(txID))
}

// PendingAll returns every mempool row.
func (t *Tx) PendingAll() ([]PendingTx, error) {
	var out []PendingTx
	err := t.kv.ForEach(prefixPending, func(_, value []byte) error {
		var p PendingTx
		if err := json.Unmarshal(value, &p); err != nil {
			return fmt.Errorf("pending unmarshal: %w", err)
		}
		out = append(out, p)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// PendingCount returns the mempool size.
func (t *Tx) PendingCount() (int, error) {
	n := 0
	err := t.kv.ForEach(prefixPending, func(_, _ []byte) error {
		n++
		return nil
	})
	return n, err
}

// PendingDebits sums amount+fee over the sender's pending transfers in the
// given coin. Used to compute the effective spendable balance at admission.
func (t *Tx) PendingDebits(sender, coinType string) (float64, error) {
	var total float64
	err := t.kv.ForEach(prefixPending, func(_, value []byte) error {
		var p PendingTx
		if err := json.Unmarshal(value, &p); err != nil {
			return fmt.Errorf("pending unmarshal: %w", err)
		}
		if p.TransactionType == tx.TypeTransfer && p.Sender == sender && p.CoinType == coinType {
			total += p.Amount + p.Fee
		}
		return nil
	})
	return total, err
}

// PendingMintTotal sums the amounts of pending mint transactions for a coin.
// The registry counts these against the supply cap because the supply row is
// only incremented when the mint commits.
func (t *Tx) PendingMintTotal(symbol string) (float64, error) {
	var total float64
	err := t.kv.ForEach(prefixPending, func(_, value []byte) error {
		var p PendingTx
		if err := json.Unmarshal(value, &p); err != nil {
			return fmt.Errorf("pending unmarshal: %w", err)
		}
		if p.TransactionType == tx.TypeMintStable && p.CoinType == symbol {
			total += p.Amount
		}
		return nil
	})
	return total, err
}

// ---- balances ----

// Balance returns the balance for (address, coin); missing rows read as 0.
func (t *Tx) Balance(address, coinType string) (float64, error) {
	var row Balance
	err := getJSON(t.kv, balanceKey(address, coinType), &row)
	if err == storage.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return row.Balance, nil
}

// Balances returns every coin balance held by the address.
func (t *Tx) Balances(address string) (map[string]float64, error) {
	prefix := append(append([]byte{}, prefixBalance...), address+keySep...)
	out := make(map[string]float64)
	err := t.kv.ForEach(prefix, func(key, value []byte) error {
		var row Balance
		if err := json.Unmarshal(value, &row); err != nil {
			return fmt.Errorf("balance unmarshal: %w", err)
		}
		out[row.CoinType] = row.Balance
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AddBalance upserts a balance row, adjusting it by delta (which may be
// negative). Rows are created lazily on first credit or debit.
func (t *Tx) AddBalance(address, coinType string, delta float64) error {
	key := balanceKey(address, coinType)
	row := Balance{Address: address, CoinType: coinType}
	err := getJSON(t.kv, key, &row)
	if err != nil && err != storage.ErrNotFound {
		return err
	}
	row.Balance += delta
	row.UpdatedAt = tx.Now()
	return putJSON(t.kv, key, row)
}

// ---- stablecoins and minters ----

// PutCoin writes a stablecoin row.
func (t *Tx) PutCoin(c Coin) error {
	return putJSON(t.kv, coinKey(c.Symbol), c)
}

// Coin retrieves a stablecoin by symbol.
func (t *Tx) Coin(symbol string) (Coin, error) {
	var c Coin
	if err := getJSON(t.kv, coinKey(symbol), &c); err != nil {
		return Coin{}, err
	}
	return c, nil
}

// HasCoin reports whether a stablecoin exists.
func (t *Tx) HasCoin(symbol string) (bool, error) {
	return t.kv.Has(coinKey(symbol))
}

// Coins returns the full stablecoin registry keyed by symbol.
func (t *Tx) Coins() (map[string]Coin, error) {
	out := make(map[string]Coin)
	err := t.kv.ForEach(prefixCoin, func(_, value []byte) error {
		var c Coin
		if err := json.Unmarshal(value, &c); err != nil {
			return fmt.Errorf("coin unmarshal: %w", err)
		}
		out[c.Symbol] = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AddSupply adjusts a coin's total supply by delta.
func (t *Tx) AddSupply(symbol string, delta float64) error {
	c, err := t.Coin(symbol)
	if err != nil {
		return err
	}
	c.TotalSupply += delta
	return t.PutCoin(c)
}

// PutMinter writes an authorized-minter row. Writing an existing pair again
// simply overwrites it, which keeps authorization idempotent.
func (t *Tx) PutMinter(m Minter) error {
	return putJSON(t.kv, minterKey(m.CoinSymbol, m.MinterAddress), m)
}

// HasMinter reports whether the pair is authorized.
func (t *Tx) HasMinter(symbol, minter string) (bool, error) {
	return t.kv.Has(minterKey(symbol, minter))
}

// Minters returns all authorized minters for a coin.
func (t *Tx) Minters(symbol string) ([]Minter, error) {
	prefix := append(append([]byte{}, prefixMinter...), symbol+keySep...)
	var out []Minter
	err := t.kv.ForEach(prefix, func(_, value []byte) error {
		var m Minter
		if err := json.Unmarshal(value, &m); err != nil {
			return fmt.Errorf("minter unmarshal: %w", err)
		}
		out = append(out, m)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ---- chain stats and mining attempts ----

// PutStats writes the per-block statistics row.
func (t *Tx) PutStats(st ChainStats) error {
	return putJSON(t.kv, statsKey(st.BlockIndex), st)
}

// Stats retrieves the statistics row for a block.
func (t *Tx) Stats(index uint64) (ChainStats, error) {
	var st ChainStats
	if err := getJSON(t.kv, statsKey(index), &st); err != nil {
		return ChainStats{}, err
	}
	return st, nil
}

// RecentStats returns up to n statistics rows, newest first.
func (t *Tx) RecentStats(n int) ([]ChainStats, error) {
	var out []ChainStats
	err := t.kv.ForEachReverse(prefixStats, func(_, value []byte) error {
		if len(out) >= n {
			return errStopIteration
		}
		var st ChainStats
		if err := json.Unmarshal(value, &st); err != nil {
			return fmt.Errorf("stats unmarshal: %w", err)
		}
		out = append(out, st)
		return nil
	})
	if err != nil && err != errStopIteration {
		return nil, err
	}
	return out, nil
}

// PutAttempt writes a mining-attempt row, keyed by (block index, miner).
func (t *Tx) PutAttempt(a MiningAttempt) error {
	return putJSON(t.kv, attemptKey(a.BlockIndex, a.Miner), a)
}

// Attempt retrieves a mining-attempt row.
func (t *Tx) Attempt(index uint64, miner string) (MiningAttempt, error) {
	var a MiningAttempt
	if err := getJSON(t.kv, attemptKey(index, miner), &a); err != nil {
		return MiningAttempt{}, err
	}
	return a, nil
}

// AttemptsSince returns mining attempts whose start time is at or after the
// given epoch seconds.
func (t *Tx) AttemptsSince(start float64) ([]MiningAttempt, error) {
	var out []MiningAttempt
	err := t.kv.ForEach(prefixAttempt, func(_, value []byte) error {
		var a MiningAttempt
		if err := json.Unmarshal(value, &a); err != nil {
			return fmt.Errorf("attempt unmarshal: %w", err)
		}
		if a.StartTime >= start {
			out = append(out, a)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ---- users ----

// PutUser writes a user row.
func (t *Tx) PutUser(u User) error {
	return putJSON(t.kv, userKey(u.Address), u)
}

// User retrieves a user by address.
func (t *Tx) User(address string) (User, error) {
	var u User
	if err := getJSON(t.kv, userKey(address), &u); err != nil {
		return User{}, err
	}
	return u, nil
}

// HasUser reports whether an address is registered.
func (t *Tx) HasUser(address string) (bool, error) {
	return t.kv.Has(userKey(address))
}

// ---- keys and helpers ----

// errStopIteration terminates prefix scans early; never surfaced to callers.
var errStopIteration = errors.New("stop iteration")

func beUint64(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf
}

func blockKey(index uint64) []byte {
	key := make([]byte, len(prefixBlock)+8)
	copy(key, prefixBlock)
	binary.BigEndian.PutUint64(key[len(prefixBlock):], index)
	return key
}

func hashKey(hash string) []byte {
	return append(append([]byte{}, prefixHash...), hash...)
}

func txSeqKey(index uint64, seq uint32) []byte {
	key := make([]byte, len(prefixTx)+12)
	copy(key, prefixTx)
	binary.BigEndian.PutUint64(key[len(prefixTx):], index)
	binary.BigEndian.PutUint32(key[len(prefixTx)+8:], seq)
	return key
}

func txIDKey(id string) []byte {
	return append(append([]byte{}, prefixTxID...), id...)
}

func pendingKey(id string) []byte {
	return append(append([]byte{}, prefixPending...), id...)
}

func balanceKey(address, coinType string) []byte {
	return append(append([]byte{}, prefixBalance...), address+keySep+coinType...)
}

func coinKey(symbol string) []byte {
	return append(append([]byte{}, prefixCoin...), strings.ToUpper(symbol)...)
}

func minterKey(symbol, minter string) []byte {
	return append(append([]byte{}, prefixMinter...), strings.ToUpper(symbol)+keySep+minter...)
}

func statsKey(index uint64) []byte {
	key := make([]byte, len(prefixStats)+8)
	copy(key, prefixStats)
	binary.BigEndian.PutUint64(key[len(prefixStats):], index)
	return key
}

func attemptKey(index uint64, miner string) []byte {
	key := make([]byte, len(prefixAttempt)+8)
	copy(key, prefixAttempt)
	binary.BigEndian.PutUint64(key[len(prefixAttempt):], index)
	return append(key, keySep+miner...)
}

func userKey(address string) []byte {
	return append(append([]byte{}, prefixUser...), address...)
}

func putJSON(kv storage.Tx, key []byte, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	return kv.Put(key, data)
}

func getJSON(kv storage.Tx, key []byte, v interface{}) error {
	data, err := kv.Get(key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	return nil
}
