package chain

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// NonceLocker hands out one mutex per signer address. The lock is held from
// the pending nonce lookup until the signed transaction is accepted by the node.
type NonceLocker struct {
	mu    sync.Mutex
	locks map[common.Address]*sync.Mutex
}

func NewNonceLocker() *NonceLocker {
	return &NonceLocker{locks: make(map[common.Address]*sync.Mutex)}
}

// Lock blocks until address is free and returns the unlock func.
func (n *NonceLocker) Lock(address common.Address) func() {
	n.mu.Lock()
	l, ok := n.locks[address]
	if !ok {
		l = &sync.Mutex{}
		n.locks[address] = l
	}
	n.mu.Unlock()

	l.Lock()
	return l.Unlock
}
