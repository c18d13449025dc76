// Package storage persists Tunnels and Forwardings in a BoltDB file,
// bucket-per-entity with JSON-encoded values, generalized from the
// teacher's bucket-per-entity Node/Service/Container store.
package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/dimrozakis/vpn-proxy-go/pkg/domain"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketTunnels    = []byte("tunnels")
	bucketForwarding = []byte("forwardings")
)

// Store is the persistence interface the control package depends on, kept
// narrow so a fake implementation is trivial in tests.
type Store interface {
	CreateTunnel(t *domain.Tunnel) error
	GetTunnel(id int) (*domain.Tunnel, error)
	ListTunnels() ([]*domain.Tunnel, error)
	UpdateTunnel(t *domain.Tunnel) error
	DeleteTunnel(id int) error

	CreateForwarding(f *domain.Forwarding) error
	GetForwarding(id int) (*domain.Forwarding, error)
	ListForwardings() ([]*domain.Forwarding, error)
	ListForwardingsByTunnel(tunnelID int) ([]*domain.Forwarding, error)
	UpdateForwarding(f *domain.Forwarding) error
	DeleteForwarding(id int) error

	Close() error
}

// BoltStore implements Store on top of go.etcd.io/bbolt.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if absent) <dataDir>/vpn-proxy.db and
// ensures both entity buckets exist.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "vpn-proxy.db")

	db, err := bolt.Open(dbPath, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketTunnels, bucketForwarding} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("creating bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error { return s.db.Close() }

func itob(id int) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(id))
	return b
}

// CreateTunnel assigns the next bucket sequence as the tunnel's id and
// persists it. The id is assigned inside the same transaction as the write
// so two concurrent creates can never collide — BoltDB serializes writers.
func (s *BoltStore) CreateTunnel(t *domain.Tunnel) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTunnels)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		t.ID = int(seq)
		data, err := json.Marshal(t)
		if err != nil {
			return err
		}
		return b.Put(itob(t.ID), data)
	})
}

func (s *BoltStore) GetTunnel(id int) (*domain.Tunnel, error) {
	var t domain.Tunnel
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketTunnels).Get(itob(id))
		if data == nil {
			return domain.NotFoundf("tunnel %d not found", id)
		}
		return json.Unmarshal(data, &t)
	})
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *BoltStore) ListTunnels() ([]*domain.Tunnel, error) {
	var tunnels []*domain.Tunnel
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTunnels).ForEach(func(k, v []byte) error {
			var t domain.Tunnel
			if err := json.Unmarshal(v, &t); err != nil {
				return err
			}
			tunnels = append(tunnels, &t)
			return nil
		})
	})
	return tunnels, err
}

func (s *BoltStore) UpdateTunnel(t *domain.Tunnel) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTunnels)
		if b.Get(itob(t.ID)) == nil {
			return domain.NotFoundf("tunnel %d not found", t.ID)
		}
		data, err := json.Marshal(t)
		if err != nil {
			return err
		}
		return b.Put(itob(t.ID), data)
	})
}

func (s *BoltStore) DeleteTunnel(id int) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTunnels).Delete(itob(id))
	})
}

func (s *BoltStore) CreateForwarding(f *domain.Forwarding) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketForwarding)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		f.ID = int(seq)
		data, err := json.Marshal(f)
		if err != nil {
			return err
		}
		return b.Put(itob(f.ID), data)
	})
}

func (s *BoltStore) GetForwarding(id int) (*domain.Forwarding, error) {
	var f domain.Forwarding
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketForwarding).Get(itob(id))
		if data == nil {
			return domain.NotFoundf("forwarding %d not found", id)
		}
		return json.Unmarshal(data, &f)
	})
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (s *BoltStore) ListForwardings() ([]*domain.Forwarding, error) {
	var forwardings []*domain.Forwarding
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketForwarding).ForEach(func(k, v []byte) error {
			var f domain.Forwarding
			if err := json.Unmarshal(v, &f); err != nil {
				return err
			}
			forwardings = append(forwardings, &f)
			return nil
		})
	})
	return forwardings, err
}

func (s *BoltStore) ListForwardingsByTunnel(tunnelID int) ([]*domain.Forwarding, error) {
	all, err := s.ListForwardings()
	if err != nil {
		return nil, err
	}
	var filtered []*domain.Forwarding
	for _, f := range all {
		if f.TunnelID == tunnelID {
			filtered = append(filtered, f)
		}
	}
	return filtered, nil
}

func (s *BoltStore) UpdateForwarding(f *domain.Forwarding) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketForwarding)
		if b.Get(itob(f.ID)) == nil {
			return domain.NotFoundf("forwarding %d not found", f.ID)
		}
		data, err := json.Marshal(f)
		if err != nil {
			return err
		}
		return b.Put(itob(f.ID), data)
	})
}

func (s *BoltStore) DeleteForwarding(id int) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketForwarding).Delete(itob(id))
	})
}
