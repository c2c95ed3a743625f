package access

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/michaelpento.lv/flasharb/types"
)

// Ownable gates entry points on a single principal fixed at construction
type Ownable struct {
	owner common.Address
}

// NewOwnable records the owner. A zero owner is a configuration error.
func NewOwnable(owner common.Address) (Ownable, error) {
	if owner == (common.Address{}) {
		return Ownable{}, &types.InputIsZeroError{Field: "OWNER"}
	}
	return Ownable{owner: owner}, nil
}

// Owner returns the owner address
func (o Ownable) Owner() common.Address {
	return o.owner
}

// OnlyOwner fails with types.ErrNotOwner unless caller is the owner
func (o Ownable) OnlyOwner(caller common.Address) error {
	if caller != o.owner {
		return types.ErrNotOwner
	}
	return nil
}
