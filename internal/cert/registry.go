package cert

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/pyparrot/parrotctl/internal/utils/logger"
	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"
)

const (
	// registryFileName is the bbolt file holding the domain → record
	// map, shared by every pipeline on this host.
	registryFileName = "certs.db"

	registryFileMode = 0600

	// registryTimeout bounds how long an invocation waits for the
	// exclusive file lock held by a concurrent invocation.
	registryTimeout = 5 * time.Second
)

var certBucket = []byte("certificates")

// Registry is the on-disk domain → Record store. bbolt's exclusive file
// lock serializes the provisioning check-then-act sequence across
// concurrent CLI invocations.
type Registry struct {
	db   *bolt.DB
	path string
}

// OpenRegistry opens (creating if needed) the certificate registry under
// dir.
func OpenRegistry(dir string) (*Registry, error) {
	path := filepath.Join(dir, registryFileName)
	logger.Debug("Opening certificate registry", zap.String("path", path))

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create certificate registry directory: %w", err)
	}

	db, err := bolt.Open(path, registryFileMode, &bolt.Options{Timeout: registryTimeout})
	if err != nil {
		return nil, fmt.Errorf("failed to open certificate registry: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(certBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize certificate registry: %w", err)
	}

	return &Registry{db: db, path: path}, nil
}

// Close releases the registry file lock.
func (r *Registry) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Get returns the record for a domain, or nil when none exists.
func (r *Registry) Get(domain string) (*Record, error) {
	var record *Record
	err := r.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(certBucket).Get([]byte(domain))
		if data == nil {
			return nil
		}
		record = &Record{}
		if err := json.Unmarshal(data, record); err != nil {
			return fmt.Errorf("failed to unmarshal certificate record: %w", err)
		}
		return nil
	})
	return record, err
}

// Put stores a record under its domain.
func (r *Registry) Put(record *Record) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("failed to marshal certificate record: %w", err)
		}
		return tx.Bucket(certBucket).Put([]byte(record.Domain), data)
	})
}

// AddRef adds a pipeline to a domain's reference set, creating the record
// via create when it does not exist yet. create runs inside the update
// transaction, so the existence check and the write are one atomic step.
func (r *Registry) AddRef(domain, pipeline string, create func() (*Record, error)) (*Record, error) {
	var out *Record
	err := r.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(certBucket)
		var record *Record
		if data := b.Get([]byte(domain)); data != nil {
			record = &Record{}
			if err := json.Unmarshal(data, record); err != nil {
				return fmt.Errorf("failed to unmarshal certificate record: %w", err)
			}
		} else {
			var err error
			record, err = create()
			if err != nil {
				return err
			}
		}
		record.Pipelines = addName(record.Pipelines, pipeline)
		data, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("failed to marshal certificate record: %w", err)
		}
		if err := b.Put([]byte(domain), data); err != nil {
			return err
		}
		out = record
		return nil
	})
	return out, err
}

// RemoveRef drops a pipeline from a domain's reference set. The record
// and its storage are kept even when the set becomes empty.
func (r *Registry) RemoveRef(domain, pipeline string) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(certBucket)
		data := b.Get([]byte(domain))
		if data == nil {
			return nil
		}
		var record Record
		if err := json.Unmarshal(data, &record); err != nil {
			return fmt.Errorf("failed to unmarshal certificate record: %w", err)
		}
		record.Pipelines = removeName(record.Pipelines, pipeline)
		updated, err := json.Marshal(&record)
		if err != nil {
			return fmt.Errorf("failed to marshal certificate record: %w", err)
		}
		return b.Put([]byte(domain), updated)
	})
}

// List returns all records sorted by domain.
func (r *Registry) List() ([]*Record, error) {
	var records []*Record
	err := r.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(certBucket).ForEach(func(k, v []byte) error {
			var record Record
			if err := json.Unmarshal(v, &record); err != nil {
				return fmt.Errorf("failed to unmarshal certificate record: %w", err)
			}
			records = append(records, &record)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Domain < records[j].Domain })
	return records, nil
}

func addName(names []string, name string) []string {
	for _, n := range names {
		if n == name {
			return names
		}
	}
	names = append(names, name)
	sort.Strings(names)
	return names
}

func removeName(names []string, name string) []string {
	out := names[:0]
	for _, n := range names {
		if n != name {
			out = append(out, n)
		}
	}
	return out
}
