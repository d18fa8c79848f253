package kvstore

import (
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

// LevelDB is a store backed by a leveldb database dir.
type LevelDB struct {
	db *leveldb.DB
}

// OpenLevelDB opens (creating if needed) the database in dir.
func OpenLevelDB(dir string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(dir, nil)
	if err != nil {
		return nil, fmt.Errorf("unable to open leveldb store: %w", err)
	}
	return &LevelDB{db: db}, nil
}

func (s *LevelDB) Get(key string) (string, error) {
	v, err := s.db.Get([]byte(key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return string(v), nil
}

func (s *LevelDB) Set(key, value string) error {
	return s.db.Put([]byte(key), []byte(value), &opt.WriteOptions{Sync: true})
}

func (s *LevelDB) Close() error {
	return s.db.Close()
}
