package transport

import (
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/google/uuid"
	ma "github.com/multiformats/go-multiaddr"
	"github.com/multiformats/go-multihash"
	"github.com/rs/zerolog"
)

// Options configures the TCP stream binding.
type Options struct {
	BindHost  string
	Port      int
	Discovery DiscoveryOptions
}

// NewPeerID mints a peer identifier as a base58 identity multihash, the
// encoding expected inside a /p2p/ multiaddress component.
func NewPeerID() (string, error) {
	id := uuid.New()
	mh, err := multihash.Sum(id[:], multihash.IDENTITY, -1)
	if err != nil {
		return "", fmt.Errorf("transport: peer id: %w", err)
	}
	return mh.B58String(), nil
}

// TCPListener is the concrete stream binding. One accepted connection is
// one protocol stream.
type TCPListener struct {
	ln     net.Listener
	host   string
	peerID string
	log    zerolog.Logger
}

func Listen(opts Options, logger zerolog.Logger) (*TCPListener, error) {
	if err := opts.Discovery.Validate(); err != nil {
		return nil, err
	}

	peerID, err := NewPeerID()
	if err != nil {
		return nil, err
	}

	ln, err := net.Listen("tcp", net.JoinHostPort(opts.BindHost, strconv.Itoa(opts.Port)))
	if err != nil {
		return nil, fmt.Errorf("transport: listen: %w", err)
	}

	l := &TCPListener{
		ln:     ln,
		host:   opts.BindHost,
		peerID: peerID,
		log:    logger.With().Str("peer_id", peerID).Logger(),
	}

	if enabled := opts.Discovery.Enabled(); len(enabled) > 0 {
		l.log.Info().Strs("mechanisms", enabled).Msg("discovery configured")
	}
	l.log.Info().Str("addr", l.Addr()).Msg("listening")

	if opts.Discovery.AnnounceFile != "" {
		if err := l.writeAnnounceFile(opts.Discovery.AnnounceFile); err != nil {
			_ = ln.Close()
			return nil, err
		}
	}
	return l, nil
}

func (l *TCPListener) Accept() (Stream, error) {
	conn, err := l.ln.Accept()
	if err != nil {
		return nil, err
	}
	return &tcpStream{Conn: conn}, nil
}

func (l *TCPListener) Close() error {
	return l.ln.Close()
}

func (l *TCPListener) Addr() string {
	return l.ln.Addr().String()
}

func (l *TCPListener) PeerID() string {
	return l.peerID
}

// Announce builds the dialable multiaddress for this listener,
// /ip4/<host>/tcp/<port>/p2p/<peer-id> (or /dns4/ for hostnames).
func (l *TCPListener) Announce() (string, error) {
	host := l.host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}

	proto := "dns4"
	if ip := net.ParseIP(host); ip != nil {
		proto = "ip4"
		if ip.To4() == nil {
			proto = "ip6"
		}
	}

	port := l.ln.Addr().(*net.TCPAddr).Port
	addr, err := ma.NewMultiaddr(fmt.Sprintf("/%s/%s/tcp/%d/p2p/%s", proto, host, port, l.peerID))
	if err != nil {
		return "", fmt.Errorf("transport: announce address: %w", err)
	}
	return addr.String(), nil
}

func (l *TCPListener) writeAnnounceFile(path string) error {
	announce, err := l.Announce()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(announce+"\n"), 0o644); err != nil {
		return fmt.Errorf("transport: announce file: %w", err)
	}
	l.log.Info().Str("path", path).Str("addr", announce).Msg("announce file written")
	return nil
}

type tcpStream struct {
	net.Conn
}

func (s *tcpStream) RemotePeer() string {
	return s.Conn.RemoteAddr().String()
}
