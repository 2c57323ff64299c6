// Package udptransport is the real engine.Transport used by cmd/ltpd: one
// UDP socket shared by every peer engine, with a static engine-id-to-address
// map standing in for the contact-graph routing spec.md §1 explicitly
// places out of scope. Grounded on ptp4u/server.Server's
// listener-goroutine-plus-worker-pool shape, simplified to a single pair
// of pump goroutines since LTP's own rate limiting already lives in
// ltp/engine and this package has no per-client subscription state to track.
package udptransport

import (
	"context"
	"fmt"
	"net"

	log "github.com/sirupsen/logrus"

	"github.com/deepspacecomm/ltpengine/ltp/engine"
)

// Transport binds one UDP socket and resolves outbound packets to a peer
// address by the destination engine id carried in engine.Outbound.
type Transport struct {
	conn  *net.UDPConn
	peers map[uint64]*net.UDPAddr

	eng   *engine.Engine
	ready chan struct{}
}

// New binds listenAddr and builds the destination-engine-id-to-address
// table from peers (engine id -> "host:port"). The returned Transport
// must have SetEngine called on it before Run.
func New(listenAddr string, peers map[uint64]string) (*Transport, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", listenAddr)
	if err != nil {
		return nil, fmt.Errorf("udptransport: resolving listen address %q: %w", listenAddr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("udptransport: listening on %q: %w", listenAddr, err)
	}
	resolved := make(map[uint64]*net.UDPAddr, len(peers))
	for engineID, addr := range peers {
		a, err := net.ResolveUDPAddr("udp", addr)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("udptransport: resolving peer %d address %q: %w", engineID, addr, err)
		}
		resolved[engineID] = a
	}
	return &Transport{
		conn:  conn,
		peers: resolved,
		// buffered by one: SignalReadyForSend only needs to guarantee the
		// send loop wakes up again, not that every signal is individually
		// observed, matching SignalReadyForSend_ThreadSafe's coalescing
		// notify semantics.
		ready: make(chan struct{}, 1),
	}, nil
}

// SetEngine wires the Engine this transport pulls packets from and pushes
// packets into. Must be called exactly once before Run.
func (t *Transport) SetEngine(e *engine.Engine) { t.eng = e }

// SignalReadyForSend implements engine.Transport. It must not be called
// before SetEngine, and per engine.Transport's contract must never call
// back into the Engine synchronously -- it only wakes the send loop.
func (t *Transport) SignalReadyForSend() {
	select {
	case t.ready <- struct{}{}:
	default:
	}
}

// Close releases the underlying socket.
func (t *Transport) Close() error { return t.conn.Close() }

// Run drives both pump directions until ctx is cancelled. recvLoop reads
// datagrams off the wire into the Engine; sendLoop drains the Engine's
// egress queue onto the wire whenever SignalReadyForSend wakes it.
func (t *Transport) Run(ctx context.Context) error {
	errCh := make(chan error, 2)
	go func() { errCh <- t.recvLoop(ctx) }()
	go func() { errCh <- t.sendLoop(ctx) }()

	select {
	case <-ctx.Done():
		t.conn.Close()
		<-errCh
		<-errCh
		return ctx.Err()
	case err := <-errCh:
		t.conn.Close()
		<-errCh
		return err
	}
}

func (t *Transport) recvLoop(ctx context.Context) error {
	buf := make([]byte, 65536)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		n, _, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.WithError(err).Warn("ltp: udp read failed")
			continue
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		t.eng.PacketIn(data)
	}
}

func (t *Transport) sendLoop(ctx context.Context) error {
	for {
		t.drainOnce()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.ready:
		}
	}
}

func (t *Transport) drainOnce() {
	for {
		ob, ok := t.eng.GetNextPacket()
		if !ok {
			return
		}
		addr, ok := t.peers[ob.SessionOriginatorEngineID]
		if !ok {
			log.WithField("engine", ob.SessionOriginatorEngineID).Warn("ltp: no known address for destination engine, dropping packet")
			continue
		}
		if _, err := t.conn.WriteToUDP(flatten(ob.Buffers), addr); err != nil {
			log.WithError(err).Warn("ltp: udp write failed")
		}
	}
}

func flatten(bufs [][]byte) []byte {
	n := 0
	for _, b := range bufs {
		n += len(b)
	}
	out := make([]byte, 0, n)
	for _, b := range bufs {
		out = append(out, b...)
	}
	return out
}
