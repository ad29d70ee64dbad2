package storage

import (
	"fmt"
)

const (
	BackendMemory = "memory"
	BackendBolt   = "bolt"
)

// NewStores builds the three manager stores (experiments, runners,
// task-to-runner bindings) on the configured backend.
func NewStores(backend, dataDir string) (experiments, runners, bindings Storage, err error) {
	switch backend {
	case "", BackendMemory:
		return NewInMemoryStorage(), NewInMemoryStorage(), NewInMemoryStorage(), nil
	case BackendBolt:
		experiments, err = NewBoltStorage(dataDir, "experiments")
		if err != nil {
			return nil, nil, nil, err
		}
		db := experiments.(*boltStorage).db
		runners, err = NewBoltStorageWithDB(db, "runners")
		if err != nil {
			return nil, nil, nil, err
		}
		bindings, err = NewBoltStorageWithDB(db, "bindings")
		if err != nil {
			return nil, nil, nil, err
		}

		return experiments, runners, bindings, nil
	default:
		return nil, nil, nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}
