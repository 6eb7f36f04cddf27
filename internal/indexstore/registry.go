package indexstore

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.etcd.io/bbolt"

	cerr "github.com/hyperjump/contaluz/pkg/errors"
)

var bucketIndices = []byte("indices")

// VersionInfo is one snapshot version recorded in the registry.
type VersionInfo struct {
	Version     uint64     `json:"version"`
	Complete    bool       `json:"complete"`
	AllocatedAt time.Time  `json:"allocated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Registry records snapshot versions per index id in a bbolt database. Versions come from the
// per-id bucket sequence, so they are monotonic and never reused even after a failed persist.
type Registry struct {
	db *bbolt.DB
}

// OpenRegistry opens (or creates) the registry database at path.
func OpenRegistry(path string) (*Registry, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, cerr.Wrap(err, cerr.CodeIndexRegistryFailure, "create registry directory")
	}
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, cerr.Wrap(err, cerr.CodeIndexRegistryFailure, "open registry", cerr.Field("path", path))
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketIndices)
		return err
	})
	if err != nil {
		db.Close()
		return nil, cerr.Wrap(err, cerr.CodeIndexRegistryFailure, "create registry bucket")
	}
	return &Registry{db: db}, nil
}

func versionKey(v uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, v)
	return k
}

// NextVersion allocates a new, not yet complete version for id.
func (r *Registry) NextVersion(id string) (uint64, error) {
	var v uint64
	err := r.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.Bucket(bucketIndices).CreateBucketIfNotExists([]byte(id))
		if err != nil {
			return err
		}
		if v, err = b.NextSequence(); err != nil {
			return err
		}
		data, err := json.Marshal(VersionInfo{Version: v, AllocatedAt: time.Now().UTC()})
		if err != nil {
			return err
		}
		return b.Put(versionKey(v), data)
	})
	if err != nil {
		return 0, cerr.Wrap(err, cerr.CodeIndexRegistryFailure, "allocate snapshot version", cerr.FieldIndexID(id))
	}
	return v, nil
}

// MarkComplete flags version v of id as fully written.
func (r *Registry) MarkComplete(id string, v uint64) error {
	err := r.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketIndices).Bucket([]byte(id))
		if b == nil {
			return fmt.Errorf("no versions for %s", id)
		}
		raw := b.Get(versionKey(v))
		if raw == nil {
			return fmt.Errorf("version %d of %s was never allocated", v, id)
		}
		var info VersionInfo
		if err := json.Unmarshal(raw, &info); err != nil {
			return err
		}
		now := time.Now().UTC()
		info.Complete = true
		info.CompletedAt = &now
		data, err := json.Marshal(info)
		if err != nil {
			return err
		}
		return b.Put(versionKey(v), data)
	})
	if err != nil {
		return cerr.Wrap(err, cerr.CodeIndexRegistryFailure, "mark snapshot complete", cerr.FieldIndexID(id))
	}
	return nil
}

// Latest returns the highest complete version of id.
func (r *Registry) Latest(id string) (uint64, bool, error) {
	var latest uint64
	found := false
	err := r.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketIndices).Bucket([]byte(id))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, raw := c.Last(); k != nil; k, raw = c.Prev() {
			var info VersionInfo
			if err := json.Unmarshal(raw, &info); err != nil {
				return err
			}
			if info.Complete {
				latest, found = info.Version, true
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return 0, false, cerr.Wrap(err, cerr.CodeIndexRegistryFailure, "read registry", cerr.FieldIndexID(id))
	}
	return latest, found, nil
}

// Version returns the record of version v of id.
func (r *Registry) Version(id string, v uint64) (VersionInfo, bool, error) {
	var info VersionInfo
	found := false
	err := r.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketIndices).Bucket([]byte(id))
		if b == nil {
			return nil
		}
		raw := b.Get(versionKey(v))
		if raw == nil {
			return nil
		}
		found = true
		return json.Unmarshal(raw, &info)
	})
	if err != nil {
		return VersionInfo{}, false, cerr.Wrap(err, cerr.CodeIndexRegistryFailure, "read registry", cerr.FieldIndexID(id))
	}
	return info, found, nil
}

// Versions returns every recorded version of id in ascending order.
func (r *Registry) Versions(id string) ([]VersionInfo, error) {
	var out []VersionInfo
	err := r.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketIndices).Bucket([]byte(id))
		if b == nil {
			return nil
		}
		return b.ForEach(func(_, raw []byte) error {
			var info VersionInfo
			if err := json.Unmarshal(raw, &info); err != nil {
				return err
			}
			out = append(out, info)
			return nil
		})
	})
	if err != nil {
		return nil, cerr.Wrap(err, cerr.CodeIndexRegistryFailure, "list versions", cerr.FieldIndexID(id))
	}
	return out, nil
}

// IDs returns every index id with at least one recorded version, sorted.
func (r *Registry) IDs() ([]string, error) {
	var ids []string
	err := r.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketIndices).ForEach(func(k, v []byte) error {
			if v == nil {
				ids = append(ids, string(k))
			}
			return nil
		})
	})
	if err != nil {
		return nil, cerr.Wrap(err, cerr.CodeIndexRegistryFailure, "list registry ids")
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *Registry) Close() error {
	return r.db.Close()
}
