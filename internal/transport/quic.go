package transport

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net"
	"time"

	quic "github.com/quic-go/quic-go"
	"go.uber.org/zap"

	"github.com/racer-mesh/racer/internal/wire"
)

const alpn = "racer-mesh/v1"

type inboundFrame struct {
	addr  string
	frame []byte
}

// QUICTransport is a Transport backed by QUIC streams: each Send opens one
// stream, writes a length-framed body, and closes; the listener accepts
// streams and hands decoded bodies to a bounded inbound channel.
type QUICTransport struct {
	listener *quic.Listener
	tlsConf  *tls.Config
	log      *zap.Logger

	inbound chan inboundFrame
	done    chan struct{}
}

// ListenQUIC binds addr and starts accepting peer connections. Certificates
// are self-signed and verification is skipped on dial: RACER's trust model
// is the validator public-key set carried in envelopes and witnesses, not
// the transport's TLS identity (spec §4.1 notes identity is a signing key).
func ListenQUIC(addr string, log *zap.Logger) (*QUICTransport, error) {
	tlsConf, err := serverTLSConfig()
	if err != nil {
		return nil, err
	}
	listener, err := quic.ListenAddr(addr, tlsConf, nil)
	if err != nil {
		return nil, fmt.Errorf("quic listen %s: %w", addr, err)
	}
	t := &QUICTransport{
		listener: listener,
		tlsConf:  tlsConf,
		log:      log,
		inbound:  make(chan inboundFrame, 1024),
		done:     make(chan struct{}),
	}
	go t.acceptLoop()
	return t, nil
}

func (t *QUICTransport) acceptLoop() {
	for {
		conn, err := t.listener.Accept(context.Background())
		if err != nil {
			select {
			case <-t.done:
				return
			default:
			}
			t.log.Debug("quic accept error", zap.Error(err))
			return
		}
		go t.handleConn(conn)
	}
}

func (t *QUICTransport) handleConn(conn *quic.Conn) {
	remote := conn.RemoteAddr().String()
	for {
		stream, err := conn.AcceptStream(context.Background())
		if err != nil {
			return
		}
		go t.handleStream(remote, stream)
	}
}

func (t *QUICTransport) handleStream(remote string, stream *quic.Stream) {
	defer stream.Close()
	body, err := wire.ReadFrame(stream)
	if err != nil {
		if !errors.Is(err, io.EOF) {
			t.log.Debug("quic stream read error", zap.String("peer", remote), zap.Error(err))
		}
		return
	}
	select {
	case t.inbound <- inboundFrame{addr: remote, frame: body}:
	default:
		t.log.Warn("inbound queue full, dropping frame", zap.String("peer", remote))
	}
}

func (t *QUICTransport) Send(ctx context.Context, addr string, frame []byte) error {
	conn, err := quic.DialAddr(ctx, addr, clientTLSConfig(), nil)
	if err != nil {
		return fmt.Errorf("quic dial %s: %w", addr, err)
	}
	defer conn.CloseWithError(0, "")

	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		return err
	}
	if err := wire.WriteFrame(stream, frame); err != nil {
		return err
	}
	return stream.Close()
}

func (t *QUICTransport) Recv(ctx context.Context) (string, []byte, error) {
	select {
	case f := <-t.inbound:
		return f.addr, f.frame, nil
	case <-ctx.Done():
		return "", nil, ctx.Err()
	}
}

func (t *QUICTransport) LocalAddr() string {
	return t.listener.Addr().String()
}

func (t *QUICTransport) Close() error {
	close(t.done)
	return t.listener.Close()
}

func devTLSCert() (tls.Certificate, []byte, error) {
	seed := sha256.Sum256([]byte("racer-quic-dev-key"))
	priv := ed25519.NewKeyFromSeed(seed[:])
	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		NotBefore:    time.Unix(0, 0),
		NotAfter:     time.Unix(0, 0).Add(365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		DNSNames:     []string{"localhost"},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
	}
	der, err := x509.CreateCertificate(zeroReader{}, &template, &template, priv.Public(), priv)
	if err != nil {
		return tls.Certificate{}, nil, err
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: priv}, der, nil
}

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}

func serverTLSConfig() (*tls.Config, error) {
	cert, _, err := devTLSCert()
	if err != nil {
		return nil, err
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}, NextProtos: []string{alpn}}, nil
}

func clientTLSConfig() *tls.Config {
	return &tls.Config{InsecureSkipVerify: true, NextProtos: []string{alpn}}
}
