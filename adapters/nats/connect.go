package nats

import (
	"os"
	"sync"
	"time"

	natsgo "github.com/nats-io/nats.go"
)

// Connector opens a NATS connection. The returned func releases it.
type Connector func() (nc *natsgo.Conn, release func(), err error)

// Shared wraps connect so that all callers lease one connection. It is
// closed when the last lease is released and reopened by the next call.
func Shared(connect Connector) Connector {
	var (
		mu      sync.Mutex
		nc      *natsgo.Conn
		closeNc func()
		leases  int
	)
	release := func() {
		mu.Lock()
		defer mu.Unlock()
		leases--
		if leases == 0 && nc != nil {
			closeNc()
			nc, closeNc = nil, nil
		}
	}

	return func() (*natsgo.Conn, func(), error) {
		mu.Lock()
		defer mu.Unlock()
		if nc == nil {
			conn, closeConn, err := connect()
			if err != nil {
				return nil, nil, err
			}
			nc, closeNc = conn, closeConn
		}
		leases++
		var once sync.Once
		return nc, func() { once.Do(release) }, nil
	}
}

// ConnectURL dials natsURL. opts are applied after the defaults.
func ConnectURL(natsURL string, opts ...natsgo.Option) Connector {
	return func() (*natsgo.Conn, func(), error) {
		all := append([]natsgo.Option{
			natsgo.Name("ledgersync"),
			natsgo.MaxReconnects(10),
			natsgo.ReconnectWait(time.Second),
		}, opts...)
		nc, err := natsgo.Connect(natsURL, all...)
		if err != nil {
			return nil, nil, err
		}
		return nc, nc.Close, nil
	}
}

// ConnectDefault dials $NATS_URL, or the local default server.
func ConnectDefault(opts ...natsgo.Option) Connector {
	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		return ConnectURL(natsURL, opts...)
	}
	return ConnectURL(natsgo.DefaultURL, opts...)
}
