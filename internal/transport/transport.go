// Package transport binds the protocol core to a peer-to-peer stream
// listener. Peer discovery mechanisms are configuration passed through to
// the hosting stack; this package never interprets their semantics.
package transport

import (
	"fmt"
	"io"
	"strings"

	ma "github.com/multiformats/go-multiaddr"
)

// Stream is one accepted bidirectional peer stream.
type Stream interface {
	io.ReadWriteCloser
	RemotePeer() string
}

// Listener accepts protocol streams from remote peers.
type Listener interface {
	Accept() (Stream, error)
	Close() error
	Addr() string
}

// DiscoveryOptions carries the opaque peer-discovery toggles the hosting
// service configures. The protocol core only logs them.
type DiscoveryOptions struct {
	MDNS           bool
	DHT            bool
	Rendezvous     bool
	AutoNAT        bool
	Relay          bool
	HolePunch      bool
	BootstrapPeers []string
	AnnounceFile   string
}

// Validate checks that every configured bootstrap peer is a well-formed
// multiaddress.
func (o DiscoveryOptions) Validate() error {
	for i, peer := range o.BootstrapPeers {
		peer = strings.TrimSpace(peer)
		if peer == "" {
			return fmt.Errorf("transport: bootstrap peer %d is empty", i)
		}
		if _, err := ma.NewMultiaddr(peer); err != nil {
			return fmt.Errorf("transport: bootstrap peer %d: %w", i, err)
		}
	}
	return nil
}

// Enabled lists the names of the discovery mechanisms that are switched on.
func (o DiscoveryOptions) Enabled() []string {
	var names []string
	for _, mech := range []struct {
		name string
		on   bool
	}{
		{"mdns", o.MDNS},
		{"dht", o.DHT},
		{"rendezvous", o.Rendezvous},
		{"autonat", o.AutoNAT},
		{"relay", o.Relay},
		{"holepunch", o.HolePunch},
	} {
		if mech.on {
			names = append(names, mech.name)
		}
	}
	return names
}
