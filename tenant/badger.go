package tenant

import (
	"context"
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"
	"github.com/vmihailenco/msgpack/v5"
)

const keySeparator = ':'

var keyPrefix = []byte("tenant:")

func tenantKey(id string) []byte {
	k := make([]byte, 0, len(keyPrefix)+len(id))
	k = append(k, keyPrefix...)
	return append(k, id...)
}

// BadgerOptions configures the BadgerDB store.
type BadgerOptions struct {
	// Dir is the directory for BadgerDB data files. Required unless InMemory.
	Dir string

	// InMemory runs BadgerDB without disk persistence.
	InMemory bool

	// Log receives badger's own log lines. Nil silences badger below warnings.
	Log *logrus.Entry
}

// BadgerStore is a Store backed by BadgerDB with msgpack-encoded values.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadger opens (or creates) a tenant store.
func OpenBadger(opts BadgerOptions) (*BadgerStore, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("tenant: badger dir is required for on-disk mode")
	}
	dbOpts := badger.DefaultOptions(opts.Dir)
	if opts.InMemory {
		dbOpts = dbOpts.WithInMemory(true)
	}
	dbOpts = dbOpts.WithLogger(badgerLogger{log: opts.Log})
	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Get(_ context.Context, id string) (*Config, error) {
	var cfg Config
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(tenantKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return msgpack.Unmarshal(val, &cfg)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get tenant %s: %w", id, err)
	}
	return &cfg, nil
}

func (s *BadgerStore) List(_ context.Context) ([]Config, error) {
	var out []Config
	err := s.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Prefix = keyPrefix
		it := txn.NewIterator(iterOpts)
		defer it.Close()

		for it.Seek(keyPrefix); it.ValidForPrefix(keyPrefix); it.Next() {
			var cfg Config
			err := it.Item().Value(func(val []byte) error {
				return msgpack.Unmarshal(val, &cfg)
			})
			if err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			out = append(out, cfg)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	return out, nil
}

func (s *BadgerStore) Put(_ context.Context, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	data, err := msgpack.Marshal(&cfg)
	if err != nil {
		return fmt.Errorf("encode tenant %s: %w", cfg.ID, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(tenantKey(cfg.ID), data)
	})
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// badgerLogger forwards badger output to logrus, dropping info and debug.
type badgerLogger struct {
	log *logrus.Entry
}

func (l badgerLogger) Errorf(f string, v ...interface{}) {
	if l.log != nil {
		l.log.Errorf("badger: "+f, v...)
	}
}

func (l badgerLogger) Warningf(f string, v ...interface{}) {
	if l.log != nil {
		l.log.Warnf("badger: "+f, v...)
	}
}

func (badgerLogger) Infof(string, ...interface{})  {}
func (badgerLogger) Debugf(string, ...interface{}) {}
