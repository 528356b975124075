package ledger

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/gagliardetto/solana-go"
)

// Store persists committed account state. Apply must be all-or-nothing;
// a nil account in updates deletes the key.
type Store interface {
	Get(key solana.PublicKey) (*Account, error)
	Apply(updates map[solana.PublicKey]*Account) error
	Close() error
}

type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[solana.PublicKey]*Account
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{accounts: make(map[solana.PublicKey]*Account)}
}

func (s *MemoryStore) Get(key solana.PublicKey) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accounts[key].Clone(), nil
}

func (s *MemoryStore) Apply(updates map[solana.PublicKey]*Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, acct := range updates {
		if acct == nil {
			delete(s.accounts, key)
			continue
		}
		s.accounts[key] = acct.Clone()
	}
	return nil
}

func (s *MemoryStore) Close() error { return nil }

// PebbleStore keeps accounts in a pebble database under "acct/<pubkey>".
type PebbleStore struct {
	db *pebble.DB
}

func OpenPebbleStore(dir string) (*PebbleStore, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble store %q: %w", dir, err)
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Get(key solana.PublicKey) (*Account, error) {
	val, closer, err := s.db.Get(accountKey(key))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get account %s: %w", key, err)
	}
	defer closer.Close()

	acct, err := decodeAccount(val)
	if err != nil {
		return nil, fmt.Errorf("account %s: %w", key, err)
	}
	return acct, nil
}

func (s *PebbleStore) Apply(updates map[solana.PublicKey]*Account) error {
	batch := s.db.NewBatch()
	defer batch.Close()

	for key, acct := range updates {
		if acct == nil {
			if err := batch.Delete(accountKey(key), nil); err != nil {
				return fmt.Errorf("delete account %s: %w", key, err)
			}
			continue
		}
		raw, err := encodeAccount(acct)
		if err != nil {
			return fmt.Errorf("encode account %s: %w", key, err)
		}
		if err := batch.Set(accountKey(key), raw, nil); err != nil {
			return fmt.Errorf("set account %s: %w", key, err)
		}
	}
	return batch.Commit(pebble.Sync)
}

func (s *PebbleStore) Close() error {
	return s.db.Close()
}

func accountKey(key solana.PublicKey) []byte {
	out := make([]byte, 0, len("acct/")+solana.PublicKeyLength)
	out = append(out, "acct/"...)
	return append(out, key[:]...)
}
