package rcon

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/MrSnakeDoc/mcbot/internal/domain"
)

const (
	packetTypeResponse int32 = 0
	packetTypeCommand  int32 = 2
	packetTypeAuth     int32 = 3

	// id + type + two NUL terminators
	packetHeaderSize = 10
	maxPacketSize    = 1 << 16

	authRequestID    int32 = 1
	commandRequestID int32 = 2
)

// Native is a pure Go RCON client. Each Exec opens its own connection.
type Native struct {
	Timeout time.Duration
	dialer  net.Dialer
}

// NewNative returns a client with the given per-call timeout.
func NewNative(timeout time.Duration) *Native {
	return &Native{Timeout: timeout}
}

type packet struct {
	ID   int32
	Type int32
	Body string
}

func (p packet) encode() []byte {
	size := int32(packetHeaderSize + len(p.Body))
	buf := make([]byte, 0, size+4)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(size))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(p.ID))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(p.Type))
	buf = append(buf, p.Body...)
	return append(buf, 0, 0)
}

func readPacket(r io.Reader) (packet, error) {
	var size int32
	if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
		return packet{}, err
	}
	if size < packetHeaderSize || size > maxPacketSize {
		return packet{}, fmt.Errorf("%w: packet size %d", ErrProtocol, size)
	}
	data := make([]byte, size)
	if _, err := io.ReadFull(r, data); err != nil {
		return packet{}, err
	}
	return packet{
		ID:   int32(binary.LittleEndian.Uint32(data[0:4])),
		Type: int32(binary.LittleEndian.Uint32(data[4:8])),
		Body: string(data[8 : size-2]),
	}, nil
}

// Exec authenticates and runs command.
func (n *Native) Exec(ctx context.Context, ep domain.ConsoleEndpoint, command string) (string, error) {
	if n.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.Timeout)
		defer cancel()
	}

	addr := ep.Addr()
	conn, err := n.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrConnectionFailed, addr, err)
	}
	defer func() { _ = conn.Close() }()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	// Unblock reads if ctx is cancelled without a deadline.
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	r := bufio.NewReader(conn)

	if err := n.authenticate(conn, r, ep.Password); err != nil {
		return "", err
	}

	if _, err := conn.Write(packet{ID: commandRequestID, Type: packetTypeCommand, Body: command}.encode()); err != nil {
		return "", fmt.Errorf("rcon: send command to %s: %w", addr, err)
	}
	for {
		p, err := readPacket(r)
		if err != nil {
			return "", fmt.Errorf("rcon: read response from %s: %w", addr, err)
		}
		if p.ID == commandRequestID && p.Type == packetTypeResponse {
			return p.Body, nil
		}
	}
}

func (n *Native) authenticate(w io.Writer, r io.Reader, password string) error {
	if _, err := w.Write(packet{ID: authRequestID, Type: packetTypeAuth, Body: password}.encode()); err != nil {
		return fmt.Errorf("rcon: send auth: %w", err)
	}
	// Some servers send an empty response value before the auth response.
	for {
		p, err := readPacket(r)
		if err != nil {
			return fmt.Errorf("rcon: read auth response: %w", err)
		}
		if p.Type != packetTypeCommand {
			continue
		}
		if p.ID == -1 {
			return ErrAuthFailed
		}
		if p.ID != authRequestID {
			return fmt.Errorf("%w: auth response id %d", ErrProtocol, p.ID)
		}
		return nil
	}
}
