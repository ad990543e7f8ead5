// Package chain provides read-only EVM implementations of the ledger's
// external collaborators: the growing balance and the price oracle. The
// ledger never submits transactions; custody movement happens out of band.
package chain

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
)

// dialer lazily opens and caches one ethclient connection.
type dialer struct {
	rpcURL  string
	timeout time.Duration

	mu     sync.Mutex
	client *ethclient.Client
}

func (d *dialer) callTimeout() time.Duration {
	if d.timeout <= 0 {
		return 10 * time.Second
	}
	return d.timeout
}

func (d *dialer) get(ctx context.Context) (*ethclient.Client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.client != nil {
		return d.client, nil
	}
	client, err := ethclient.DialContext(ctx, d.rpcURL)
	if err != nil {
		return nil, err
	}
	d.client = client
	return client, nil
}
