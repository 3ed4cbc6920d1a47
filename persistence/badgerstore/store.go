// Package badgerstore implements follower.PersistenceGateway on top of
// Badger: CBOR-encoded values behind small fixed-prefix keys,
// snappy-compressed where the payload can be large (the path image), and a
// single DB handle shared by every bookkeeping key.
package badgerstore

import (
	"context"
	"fmt"

	"github.com/dgraph-io/badger/v2"
	"github.com/golang/snappy"
	"github.com/hashicorp/go-multierror"

	"github.com/sentrysync/metafollower/common/cbor"
	"github.com/sentrysync/metafollower/common/logging"
	"github.com/sentrysync/metafollower/follower"
)

// Key prefixes, one byte each: a leading discriminator byte per logical
// table.
const (
	keyMaxNotificationID byte = 0x00
	keyLastImageID       byte = 0x01
	keyPathImagePrefix   byte = 0x02
)

// Store is a Badger-backed follower.PersistenceGateway. The permission
// mutation itself (ApplyEvent) is delegated to follower.Apply, which is the
// single place that knows how to translate a Hive-metastore-shaped event
// into a pathMap mutation; Store only owns atomicity and encoding.
type Store struct {
	db     *badger.DB
	logger *logging.Logger
}

var _ follower.PersistenceGateway = (*Store)(nil)

// Open opens (creating if necessary) a Badger database at dir.
func Open(dir string) (*Store, error) {
	logger := logging.GetLogger("persistence/badgerstore")

	opts := badger.DefaultOptions(dir).
		WithLogger(badgerLogger{logger}).
		WithSyncWrites(true)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badgerstore: failed to open database: %w", err)
	}

	return &Store{db: db, logger: logger}, nil
}

// Close releases the underlying Badger handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) getInt64(key byte) (int64, bool, error) {
	var value int64
	var found bool

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte{key})
		switch err {
		case nil:
		case badger.ErrKeyNotFound:
			return nil
		default:
			return err
		}

		found = true
		return item.Value(func(raw []byte) error {
			return cbor.Unmarshal(raw, &value)
		})
	})
	if err != nil {
		return 0, false, err
	}
	return value, found, nil
}

func (s *Store) putInt64(txn *badger.Txn, key byte, value int64) error {
	return txn.Set([]byte{key}, cbor.Marshal(value))
}

// GetMaxNotificationID implements follower.PersistenceGateway.
func (s *Store) GetMaxNotificationID(_ context.Context) (int64, error) {
	value, _, err := s.getInt64(keyMaxNotificationID)
	return value, err
}

// IsNotificationsEmpty implements follower.PersistenceGateway.
func (s *Store) IsNotificationsEmpty(_ context.Context) (bool, error) {
	_, found, err := s.getInt64(keyMaxNotificationID)
	return !found, err
}

// IsPathSnapshotEmpty implements follower.PersistenceGateway.
func (s *Store) IsPathSnapshotEmpty(_ context.Context) (bool, error) {
	empty := true
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte{keyPathImagePrefix}})
		defer it.Close()
		it.Rewind()
		empty = !it.Valid()
		return nil
	})
	return empty, err
}

// GetLastImageID implements follower.PersistenceGateway.
func (s *Store) GetLastImageID(_ context.Context) (int64, error) {
	value, _, err := s.getInt64(keyLastImageID)
	return value, err
}

// PersistFullImage implements follower.PersistenceGateway: it atomically
// replaces every path-image key and sets maxNotificationId = imageID.
func (s *Store) PersistFullImage(_ context.Context, pathMap map[string][]follower.AuthzObject, imageID int64) error {
	return s.db.Update(func(txn *badger.Txn) error {
		if err := clearPrefix(txn, keyPathImagePrefix); err != nil {
			return err
		}

		for path, objs := range pathMap {
			raw := snappy.Encode(nil, cbor.Marshal(objs))
			key := append([]byte{keyPathImagePrefix}, []byte(path)...)
			if err := txn.Set(key, raw); err != nil {
				return err
			}
		}

		if err := s.putInt64(txn, keyLastImageID, imageID); err != nil {
			return err
		}
		return s.putInt64(txn, keyMaxNotificationID, imageID)
	})
}

func clearPrefix(txn *badger.Txn, prefix byte) error {
	it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte{prefix}})
	defer it.Close()

	var keys [][]byte
	for it.Rewind(); it.Valid(); it.Next() {
		keys = append(keys, append([]byte(nil), it.Item().Key()...))
	}
	for _, k := range keys {
		if err := txn.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

// PersistLastProcessedID implements follower.PersistenceGateway.
func (s *Store) PersistLastProcessedID(_ context.Context, id int64) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return s.putInt64(txn, keyMaxNotificationID, id)
	})
}

// ApplyEvent implements follower.PersistenceGateway. It applies the event's
// authorization effect (via follower.Apply) and records the event id
// atomically in a single Badger transaction, returning
// follower.ErrStorageConflict if the id has already been persisted.
func (s *Store) ApplyEvent(_ context.Context, event follower.Event) (bool, error) {
	var applied bool

	err := s.db.Update(func(txn *badger.Txn) error {
		maxID, err := readInt64Txn(txn, keyMaxNotificationID)
		if err != nil {
			return err
		}
		if event.ID <= maxID && maxID != 0 {
			return follower.ErrStorageConflict
		}

		pathMap, err := readPathMapTxn(txn)
		if err != nil {
			return err
		}

		applied = follower.Apply(pathMap, event.Payload)

		if applied {
			if err := writePathMapTxn(txn, pathMap); err != nil {
				return err
			}
		}

		return s.putInt64(txn, keyMaxNotificationID, event.ID)
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

func readInt64Txn(txn *badger.Txn, key byte) (int64, error) {
	item, err := txn.Get([]byte{key})
	switch err {
	case nil:
	case badger.ErrKeyNotFound:
		return 0, nil
	default:
		return 0, err
	}

	var value int64
	err = item.Value(func(raw []byte) error {
		return cbor.Unmarshal(raw, &value)
	})
	return value, err
}

func readPathMapTxn(txn *badger.Txn) (map[string][]follower.AuthzObject, error) {
	pathMap := make(map[string][]follower.AuthzObject)

	it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte{keyPathImagePrefix}})
	defer it.Close()

	for it.Rewind(); it.Valid(); it.Next() {
		item := it.Item()
		path := string(item.Key()[1:])

		var objs []follower.AuthzObject
		err := item.Value(func(raw []byte) error {
			decoded, derr := snappy.Decode(nil, raw)
			if derr != nil {
				return derr
			}
			return cbor.Unmarshal(decoded, &objs)
		})
		if err != nil {
			return nil, err
		}
		pathMap[path] = objs
	}
	return pathMap, nil
}

func writePathMapTxn(txn *badger.Txn, pathMap map[string][]follower.AuthzObject) error {
	if err := clearPrefix(txn, keyPathImagePrefix); err != nil {
		return err
	}
	for path, objs := range pathMap {
		raw := snappy.Encode(nil, cbor.Marshal(objs))
		key := append([]byte{keyPathImagePrefix}, []byte(path)...)
		if err := txn.Set(key, raw); err != nil {
			return err
		}
	}
	return nil
}

// badgerLogger adapts our structured logger to Badger's Logger interface
// (Errorf/Warningf/Infof/Debugf).
type badgerLogger struct {
	logger *logging.Logger
}

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}
func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}
func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}
func (l badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// AggregateCloseErrors combines errors from multiple resources a caller
// tears down at shutdown (e.g. cmd/follower closing the persistence gateway
// and the p2p host together) into one error rather than only reporting the
// first failure.
func AggregateCloseErrors(errs ...error) error {
	var result *multierror.Error
	for _, err := range errs {
		if err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
