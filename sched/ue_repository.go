package sched

import (
	"errors"
	"fmt"
	"sync"

	"github.com/signalsfoundry/ran-scheduler/model"
)

var (
	// ErrUEExists is returned when a UE index is already occupied.
	ErrUEExists = errors.New("ue already exists")

	// ErrUENotFound is returned when a UE index resolves to nothing.
	ErrUENotFound = errors.New("ue not found")

	// ErrRNTIInUse is returned when a creation request carries an RNTI
	// already assigned to another UE.
	ErrRNTIInUse = errors.New("rnti already in use")

	// ErrCellExists is returned when a cell index is already configured.
	ErrCellExists = errors.New("cell already configured")

	// ErrCellNotFound is returned when a cell index resolves to nothing.
	ErrCellNotFound = errors.New("cell not configured")
)

// ueRepository is the arena of served UEs, indexed by UEIndex. Mutations
// happen on the slot-processing path when configuration events drain;
// lookups also come from feedback producers and sibling cell contexts, so
// access is guarded by a read-write lock with O(1) critical sections.
type ueRepository struct {
	mu     sync.RWMutex
	ues    [model.MaxUEs]*ue
	byRNTI map[model.RNTI]*ue
	count  int
}

func newUERepository() *ueRepository {
	return &ueRepository{byRNTI: make(map[model.RNTI]*ue)}
}

// add registers a new UE. The index and RNTI must both be free.
func (r *ueRepository) add(u *ue) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ues[u.index] != nil {
		return fmt.Errorf("%w: index %d", ErrUEExists, u.index)
	}
	if _, taken := r.byRNTI[u.rnti]; taken {
		return fmt.Errorf("%w: %s", ErrRNTIInUse, u.rnti)
	}
	r.ues[u.index] = u
	r.byRNTI[u.rnti] = u
	r.count++
	return nil
}

// remove unregisters a UE and returns its state.
func (r *ueRepository) remove(idx model.UEIndex) (*ue, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u := r.ues[idx]
	if u == nil {
		return nil, fmt.Errorf("%w: index %d", ErrUENotFound, idx)
	}
	r.ues[idx] = nil
	delete(r.byRNTI, u.rnti)
	r.count--
	return u, nil
}

// get returns the UE at idx, or nil if the index is invalid or free.
func (r *ueRepository) get(idx model.UEIndex) *ue {
	if !idx.Valid() {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ues[idx]
}

// numUEs returns the number of registered UEs.
func (r *ueRepository) numUEs() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

// appendCellUEs appends every UE with a carrier on cell to dst and returns
// the extended slice. Iteration order follows UE index order.
func (r *ueRepository) appendCellUEs(cell model.CellIndex, dst []*ue) []*ue {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, u := range r.ues {
		if u == nil {
			continue
		}
		if u.carrier(cell) != nil {
			dst = append(dst, u)
		}
	}
	return dst
}
