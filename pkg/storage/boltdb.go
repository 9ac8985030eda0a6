package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/envforge/envforge/pkg/errdefs"
	"github.com/envforge/envforge/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketTemplates  = []byte("templates")
	bucketEnvs       = []byte("environments")
	bucketContainers = []byte("container_instances")
	bucketArchives   = []byte("workspace_archives")
	bucketMetrics    = []byte("metric_samples")
	bucketPortLeases = []byte("port_leases")
)

// BoltStore implements Store using BoltDB, one database file per process.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if necessary) the database file under dataDir
// and ensures every bucket exists.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "envforge.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{
			bucketTemplates, bucketEnvs, bucketContainers,
			bucketArchives, bucketMetrics, bucketPortLeases,
		} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("create bucket %s: %w", bucket, err)
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

func (s *BoltStore) Close() error {
	return s.db.Close()
}

// --- Templates ---

func (s *BoltStore) CreateTemplate(t *types.Template) error {
	return s.put(bucketTemplates, t.ID, t)
}

func (s *BoltStore) GetTemplate(id string) (*types.Template, error) {
	var t types.Template
	if err := s.get(bucketTemplates, id, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *BoltStore) ListTemplates() ([]*types.Template, error) {
	var out []*types.Template
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTemplates).ForEach(func(_, v []byte) error {
			var t types.Template
			if err := json.Unmarshal(v, &t); err != nil {
				return err
			}
			out = append(out, &t)
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) ListTemplatesByOwner(ownerID string) ([]*types.Template, error) {
	all, err := s.ListTemplates()
	if err != nil {
		return nil, err
	}
	var out []*types.Template
	for _, t := range all {
		if t.Visibility == types.VisibilityPublic || t.OwnerID == ownerID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *BoltStore) UpdateTemplate(t *types.Template) error {
	return s.put(bucketTemplates, t.ID, t)
}

func (s *BoltStore) DeleteTemplate(id string) error {
	return s.delete(bucketTemplates, id)
}

// --- Environments ---

func (s *BoltStore) CreateEnvironment(e *types.Environment) error {
	if e.Version == 0 {
		e.Version = 1
	}
	return s.put(bucketEnvs, e.ID, e)
}

func (s *BoltStore) GetEnvironment(id string) (*types.Environment, error) {
	var e types.Environment
	if err := s.get(bucketEnvs, id, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *BoltStore) ListEnvironments() ([]*types.Environment, error) {
	var out []*types.Environment
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketEnvs).ForEach(func(_, v []byte) error {
			var e types.Environment
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			out = append(out, &e)
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) ListEnvironmentsByOwner(ownerID string) ([]*types.Environment, error) {
	all, err := s.ListEnvironments()
	if err != nil {
		return nil, err
	}
	var out []*types.Environment
	for _, e := range all {
		if e.OwnerID == ownerID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *BoltStore) ListEnvironmentsByStatus(status types.EnvironmentStatus) ([]*types.Environment, error) {
	all, err := s.ListEnvironments()
	if err != nil {
		return nil, err
	}
	var out []*types.Environment
	for _, e := range all {
		if e.Status == status {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *BoltStore) ListEnvironmentsByTemplate(templateID string) ([]*types.Environment, error) {
	all, err := s.ListEnvironments()
	if err != nil {
		return nil, err
	}
	var out []*types.Environment
	for _, e := range all {
		if e.TemplateID == templateID {
			out = append(out, e)
		}
	}
	return out, nil
}

// UpdateEnvironment rejects the write with errdefs.KindConflict if the
// stored Version has advanced past e.Version since the caller last read it,
// otherwise persists e with Version bumped by one.
func (s *BoltStore) UpdateEnvironment(e *types.Environment) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEnvs)
		data := b.Get([]byte(e.ID))
		if data == nil {
			return errdefs.New(errdefs.KindNotFound, "environment not found: "+e.ID)
		}
		var current types.Environment
		if err := json.Unmarshal(data, &current); err != nil {
			return err
		}
		if current.Version != e.Version {
			return errdefs.New(errdefs.KindConflict, "environment was modified concurrently: "+e.ID)
		}
		e.Version = current.Version + 1
		out, err := json.Marshal(e)
		if err != nil {
			return err
		}
		return b.Put([]byte(e.ID), out)
	})
}

func (s *BoltStore) DeleteEnvironment(id string) error {
	return s.delete(bucketEnvs, id)
}

// --- Container Instances ---

func (s *BoltStore) CreateContainerInstance(c *types.ContainerInstance) error {
	return s.put(bucketContainers, c.ID, c)
}

func (s *BoltStore) GetContainerInstance(id string) (*types.ContainerInstance, error) {
	var c types.ContainerInstance
	if err := s.get(bucketContainers, id, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *BoltStore) ListContainerInstancesByEnvironment(environmentID string) ([]*types.ContainerInstance, error) {
	var out []*types.ContainerInstance
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketContainers).ForEach(func(_, v []byte) error {
			var c types.ContainerInstance
			if err := json.Unmarshal(v, &c); err != nil {
				return err
			}
			if c.EnvironmentID == environmentID {
				out = append(out, &c)
			}
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) UpdateContainerInstance(c *types.ContainerInstance) error {
	return s.put(bucketContainers, c.ID, c)
}

func (s *BoltStore) DeleteContainerInstance(id string) error {
	return s.delete(bucketContainers, id)
}

func (s *BoltStore) DeleteContainerInstancesByEnvironment(environmentID string) error {
	instances, err := s.ListContainerInstancesByEnvironment(environmentID)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketContainers)
		for _, c := range instances {
			if err := b.Delete([]byte(c.ID)); err != nil {
				return err
			}
		}
		return nil
	})
}

// --- Workspace Archives ---

func (s *BoltStore) CreateWorkspaceArchive(a *types.WorkspaceArchive) error {
	return s.put(bucketArchives, a.ID, a)
}

func (s *BoltStore) GetWorkspaceArchive(id string) (*types.WorkspaceArchive, error) {
	var a types.WorkspaceArchive
	if err := s.get(bucketArchives, id, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *BoltStore) GetWorkspaceArchiveByEnvironment(environmentID string) (*types.WorkspaceArchive, error) {
	var found *types.WorkspaceArchive
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketArchives).ForEach(func(_, v []byte) error {
			var a types.WorkspaceArchive
			if err := json.Unmarshal(v, &a); err != nil {
				return err
			}
			if a.EnvironmentID == environmentID {
				found = &a
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, errdefs.New(errdefs.KindNotFound, "workspace archive not found for environment: "+environmentID)
	}
	return found, nil
}

func (s *BoltStore) ListWorkspaceArchivesOlderThan(cutoffUnix int64) ([]*types.WorkspaceArchive, error) {
	var out []*types.WorkspaceArchive
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketArchives).ForEach(func(_, v []byte) error {
			var a types.WorkspaceArchive
			if err := json.Unmarshal(v, &a); err != nil {
				return err
			}
			if a.UpdatedAt.Unix() < cutoffUnix {
				out = append(out, &a)
			}
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) UpdateWorkspaceArchive(a *types.WorkspaceArchive) error {
	return s.put(bucketArchives, a.ID, a)
}

func (s *BoltStore) DeleteWorkspaceArchive(id string) error {
	return s.delete(bucketArchives, id)
}

// --- Metric Samples ---

// AppendMetricSample stores a sample under an (environment id, timestamp,
// sequence) key, so ForEach iteration yields each environment's samples in
// timestamp order, with insertion order breaking ties.
func (s *BoltStore) AppendMetricSample(sample *types.MetricSample) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMetrics)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		key := metricKey(sample.EnvironmentID, sample.Timestamp.UnixNano(), seq)
		data, err := json.Marshal(sample)
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
}

func metricKey(environmentID string, tsNano int64, seq uint64) []byte {
	key := make([]byte, 0, len(environmentID)+1+8+8)
	key = append(key, []byte(environmentID)...)
	key = append(key, '\x00')
	var tsBuf [8]byte
	binary.BigEndian.PutUint64(tsBuf[:], uint64(tsNano))
	key = append(key, tsBuf[:]...)
	var seqBuf [8]byte
	binary.BigEndian.PutUint64(seqBuf[:], seq)
	key = append(key, seqBuf[:]...)
	return key
}

func (s *BoltStore) ListMetricSamplesByEnvironment(environmentID string, since int64) ([]*types.MetricSample, error) {
	var out []*types.MetricSample
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMetrics).ForEach(func(_, v []byte) error {
			var sample types.MetricSample
			if err := json.Unmarshal(v, &sample); err != nil {
				return err
			}
			if sample.EnvironmentID == environmentID && sample.Timestamp.Unix() >= since {
				out = append(out, &sample)
			}
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) PruneMetricSamplesOlderThan(cutoffUnix int64) (int, error) {
	var toDelete [][]byte
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMetrics).ForEach(func(k, v []byte) error {
			var sample types.MetricSample
			if err := json.Unmarshal(v, &sample); err != nil {
				return err
			}
			if sample.Timestamp.Unix() < cutoffUnix {
				key := make([]byte, len(k))
				copy(key, k)
				toDelete = append(toDelete, key)
			}
			return nil
		})
	})
	if err != nil {
		return 0, err
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMetrics)
		for _, k := range toDelete {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	return len(toDelete), err
}

// --- Port Leases ---

func (s *BoltStore) CreatePortLease(l *types.PortLease) error {
	return s.put(bucketPortLeases, portLeaseKey(l.HostPort), l)
}

func (s *BoltStore) GetPortLease(hostPort int) (*types.PortLease, error) {
	var l types.PortLease
	if err := s.get(bucketPortLeases, portLeaseKey(hostPort), &l); err != nil {
		return nil, err
	}
	return &l, nil
}

func (s *BoltStore) ListPortLeases() ([]*types.PortLease, error) {
	var out []*types.PortLease
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPortLeases).ForEach(func(_, v []byte) error {
			var l types.PortLease
			if err := json.Unmarshal(v, &l); err != nil {
				return err
			}
			out = append(out, &l)
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) DeletePortLease(hostPort int) error {
	return s.delete(bucketPortLeases, portLeaseKey(hostPort))
}

func portLeaseKey(hostPort int) string {
	return fmt.Sprintf("%05d", hostPort)
}

// --- shared helpers ---

func (s *BoltStore) put(bucket []byte, id string, v interface{}) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		return tx.Bucket(bucket).Put([]byte(id), data)
	})
}

func (s *BoltStore) get(bucket []byte, id string, v interface{}) error {
	return s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucket).Get([]byte(id))
		if data == nil {
			return errdefs.New(errdefs.KindNotFound, fmt.Sprintf("%s not found: %s", bucket, id))
		}
		return json.Unmarshal(data, v)
	})
}

func (s *BoltStore) delete(bucket []byte, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Delete([]byte(id))
	})
}
