package session

import (
	"bufio"
	"encoding/binary"
	"io"
	"net"
	"time"
)

// ByteOrder is the canonical byte order of every multi-byte integer on the wire.
var ByteOrder = binary.BigEndian

// vectorChunk is how many int64 elements are decoded per read.
const vectorChunk = 512

// framer reads and writes protocol units on one connection.
// A zero timeout leaves the connection fully blocking.
type framer struct {
	conn    net.Conn
	r       *bufio.Reader
	timeout time.Duration

	hdr   [8]byte
	chunk []byte
}

func newFramer(conn net.Conn, timeout time.Duration) *framer {
	return &framer{
		conn:    conn,
		r:       bufio.NewReader(conn),
		timeout: timeout,
		chunk:   make([]byte, vectorChunk*8),
	}
}

func (f *framer) readDeadline() {
	if f.timeout > 0 {
		_ = f.conn.SetReadDeadline(time.Now().Add(f.timeout))
	}
}

func (f *framer) writeDeadline() {
	if f.timeout > 0 {
		_ = f.conn.SetWriteDeadline(time.Now().Add(f.timeout))
	}
}

// readMessage performs one read of at most len(p) bytes.
func (f *framer) readMessage(p []byte) (int, error) {
	f.readDeadline()
	n, err := f.r.Read(p)
	if n > 0 {
		return n, nil
	}
	if err == nil {
		err = io.ErrNoProgress
	}
	return 0, err
}

func (f *framer) write(p []byte) error {
	f.writeDeadline()
	_, err := f.conn.Write(p)
	return err
}

func (f *framer) readUint32() (uint32, error) {
	f.readDeadline()
	if _, err := io.ReadFull(f.r, f.hdr[:4]); err != nil {
		return 0, err
	}
	return ByteOrder.Uint32(f.hdr[:4]), nil
}

func (f *framer) writeUint32(v uint32) error {
	var b [4]byte
	ByteOrder.PutUint32(b[:], v)
	return f.write(b[:])
}

func (f *framer) writeInt64(v int64) error {
	var b [8]byte
	ByteOrder.PutUint64(b[:], uint64(v)) // #nosec G115 -- two's complement bit pattern is the wire format.
	return f.write(b[:])
}

// readInt64s streams n int64 values to fn in wire order, reading in fixed-size chunks
// so the whole vector is never buffered.
func (f *framer) readInt64s(n uint32, fn func(int64)) error {
	remaining := int(n)
	for remaining > 0 {
		k := remaining
		if k > vectorChunk {
			k = vectorChunk
		}
		buf := f.chunk[:k*8]
		f.readDeadline()
		if _, err := io.ReadFull(f.r, buf); err != nil {
			return err
		}
		for i := 0; i < k; i++ {
			fn(int64(ByteOrder.Uint64(buf[i*8:]))) // #nosec G115 -- two's complement bit pattern is the wire format.
		}
		remaining -= k
	}
	return nil
}
