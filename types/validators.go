package types

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// the committee is fixed at deployment time: 5 identities, 3 approvals needed
const ValidatorCount = 5
const DefaultThreshold = 3

// ValidatorSet is the immutable validator committee shared by both ledgers.
// Membership never changes after construction.
type ValidatorSet struct {
	keys      []common.Address
	index     map[common.Address]int
	threshold int
}

func NewValidatorSet(keys []common.Address, threshold int) (*ValidatorSet, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("empty validator set")
	}
	if threshold < 1 || threshold > len(keys) {
		return nil, fmt.Errorf("threshold %d out of range for %d validators", threshold, len(keys))
	}

	set := &ValidatorSet{
		keys:      make([]common.Address, len(keys)),
		index:     make(map[common.Address]int, len(keys)),
		threshold: threshold,
	}
	for n, k := range keys {
		if k == (common.Address{}) {
			return nil, fmt.Errorf("validator %d has zero address", n)
		}
		if _, dup := set.index[k]; dup {
			return nil, fmt.Errorf("duplicate validator %s", k.Hex())
		}
		set.keys[n] = k
		set.index[k] = n
	}

	return set, nil
}

func (s *ValidatorSet) Contains(addr common.Address) bool {
	_, ok := s.index[addr]
	return ok
}

// KeyIndex returns (-1, false) if addr is not a validator.
func (s *ValidatorSet) KeyIndex(addr common.Address) (int, bool) {
	n, ok := s.index[addr]
	if !ok {
		return -1, false
	}
	return n, true
}

func (s *ValidatorSet) Size() int {
	return len(s.keys)
}

func (s *ValidatorSet) Threshold() int {
	return s.threshold
}

func (s *ValidatorSet) Keys() []common.Address {
	res := make([]common.Address, len(s.keys))
	copy(res, s.keys)
	return res
}
