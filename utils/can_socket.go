//go:build linux || darwin

package utils

import (
	"context"
	"fmt"
	"net"
	"sync"

	"go.einride.tech/can"
	"go.einride.tech/can/pkg/socketcan"
)

// SocketCANWriter serialises transmissions from any goroutine onto one
// socket.
type SocketCANWriter struct {
	mu     sync.Mutex
	conn   net.Conn
	tx     *socketcan.Transmitter
	closed bool
}

// NewSocketCANWriter opens iface (e.g. "can0", "vcan0") for transmission.
func NewSocketCANWriter(ctx context.Context, iface string) (*SocketCANWriter, error) {
	conn, err := socketcan.DialContext(ctx, "can", iface)
	if err != nil {
		return nil, fmt.Errorf("socketcan dial %s: %w", iface, err)
	}
	return &SocketCANWriter{conn: conn, tx: socketcan.NewTransmitter(conn)}, nil
}

func (w *SocketCANWriter) WriteFrame(ctx context.Context, frame can.Frame) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrWriterClosed
	}
	if err := w.tx.TransmitFrame(ctx, frame); err != nil {
		return fmt.Errorf("can transmit 0x%X: %w", frame.ID, err)
	}
	return nil
}

func (w *SocketCANWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	return w.conn.Close()
}

// SocketCANReader receives frames on a single background goroutine so that
// ReadFrame can honour context cancellation without leaking receivers.
type SocketCANReader struct {
	conn   net.Conn
	frames chan can.Frame
	errc   chan error
	once   sync.Once
}

func NewSocketCANReader(ctx context.Context, iface string) (*SocketCANReader, error) {
	conn, err := socketcan.DialContext(ctx, "can", iface)
	if err != nil {
		return nil, fmt.Errorf("socketcan dial %s: %w", iface, err)
	}
	r := &SocketCANReader{
		conn:   conn,
		frames: make(chan can.Frame, 16),
		errc:   make(chan error, 1),
	}
	go r.receive(socketcan.NewReceiver(conn))
	return r, nil
}

func (r *SocketCANReader) receive(recv *socketcan.Receiver) {
	defer close(r.frames)
	for recv.Receive() {
		if recv.HasErrorFrame() {
			continue
		}
		r.frames <- recv.Frame()
	}
	if err := recv.Err(); err != nil {
		r.errc <- err
	}
}

// ReadFrame blocks until a frame arrives, the context ends or the socket closes.
func (r *SocketCANReader) ReadFrame(ctx context.Context) (can.Frame, error) {
	select {
	case <-ctx.Done():
		return can.Frame{}, ctx.Err()
	case f, ok := <-r.frames:
		if ok {
			return f, nil
		}
		select {
		case err := <-r.errc:
			return can.Frame{}, fmt.Errorf("can receive: %w", err)
		default:
			return can.Frame{}, ErrReaderClosed
		}
	}
}

func (r *SocketCANReader) Close() error {
	var err error
	r.once.Do(func() {
		err = r.conn.Close()
	})
	return err
}
