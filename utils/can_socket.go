package utils

import (
	"context"
	"fmt"
	"net"
	"sync"

	"go.einride.tech/can"
	"go.einride.tech/can/pkg/socketcan"
)

// CANWriter sends frames. The control loop writes through it from a single goroutine.
type CANWriter interface {
	WriteFrame(ctx context.Context, frame can.Frame) error
}

// FrameHandler consumes one received frame. It runs on the receive goroutine.
type FrameHandler func(can.Frame)

// SocketCAN is one raw CAN socket used for both directions: the control loop
// transmits on it while Run drains feedback frames.
type SocketCAN struct {
	iface string
	conn  net.Conn
	tx    *socketcan.Transmitter
	rx    *socketcan.Receiver

	closeOnce sync.Once
	closeErr  error
}

func OpenSocketCAN(ctx context.Context, iface string) (*SocketCAN, error) {
	conn, err := socketcan.DialContext(ctx, "can", iface)
	if err != nil {
		return nil, fmt.Errorf("socketcan dial %s: %w", iface, err)
	}
	return &SocketCAN{
		iface: iface,
		conn:  conn,
		tx:    socketcan.NewTransmitter(conn),
		rx:    socketcan.NewReceiver(conn),
	}, nil
}

func (s *SocketCAN) Iface() string { return s.iface }

func (s *SocketCAN) WriteFrame(ctx context.Context, frame can.Frame) error {
	return s.tx.TransmitFrame(ctx, frame)
}

// Run delivers frames to handle until ctx is done or the socket fails.
// Cancelling ctx closes the socket to unblock the pending Receive, so a
// SocketCAN cannot be reused after Run returns.
func (s *SocketCAN) Run(ctx context.Context, handle FrameHandler) error {
	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()

	for s.rx.Receive() {
		if s.rx.HasErrorFrame() {
			continue
		}
		handle(s.rx.Frame())
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err := s.rx.Err(); err != nil {
		return fmt.Errorf("socketcan receive on %s: %w", s.iface, err)
	}
	return nil
}

func (s *SocketCAN) Close() error {
	s.closeOnce.Do(func() { s.closeErr = s.conn.Close() })
	return s.closeErr
}
