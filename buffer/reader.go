// Package buffer implements the low level framing of the Postgres v3 wire
// protocol: length-prefixed messages read from and written to a
// bufio-wrapped connection.
package buffer

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
	"log/slog"
	"unsafe"

	"github.com/akiban/pgwire/types"
	"golang.org/x/text/encoding"
)

// DefaultBufferSize represents the default buffer size whenever the buffer
// size is not set or a negative value is presented.
const DefaultBufferSize = 1 << 24 // 16777216 bytes

// BufferedReader extends io.Reader with the convenience methods used while
// parsing pgwire frames.
type BufferedReader interface {
	io.Reader
	ReadString(delim byte) (string, error)
	ReadByte() (byte, error)
}

// Reader provides a convenient way to read pgwire protocol messages.
type Reader struct {
	logger         *slog.Logger
	Buffer         BufferedReader
	Msg            []byte
	MaxMessageSize int
	header         [4]byte

	encodingName string
	decoder      *encoding.Decoder // nil means the UTF-8 fast path
}

// NewReader constructs a new Postgres wire buffer for the given io.Reader.
func NewReader(logger *slog.Logger, reader io.Reader, bufferSize int) *Reader {
	if reader == nil {
		return nil
	}

	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}

	return &Reader{
		logger:         logger,
		Buffer:         bufio.NewReaderSize(reader, bufferSize),
		MaxMessageSize: bufferSize,
		encodingName:   "UTF8",
	}
}

// SetEncoding negotiates the character encoding used to decode subsequent
// NUL-terminated strings, returning the canonicalized encoding name. An
// empty or unrecognized name canonicalizes to UTF-8.
func (reader *Reader) SetEncoding(name string) string {
	canonical, codec := resolveEncoding(name)
	reader.encodingName = canonical

	if canonical == "UTF8" {
		reader.decoder = nil
	} else {
		reader.decoder = codec.NewDecoder()
	}

	return canonical
}

// GetEncoding returns the reader's current canonicalized encoding name.
func (reader *Reader) GetEncoding() string {
	return reader.encodingName
}

// reset sets reader.Msg to exactly size, attempting to use spare capacity at
// the end of the existing slice when possible and allocating a new slice
// when necessary.
func (reader *Reader) reset(size int) {
	if reader.Msg != nil {
		reader.Msg = reader.Msg[len(reader.Msg):]
	}

	if cap(reader.Msg) >= size {
		reader.Msg = reader.Msg[:size]
		return
	}

	allocSize := size
	if allocSize < 4096 {
		allocSize = 4096
	}
	reader.Msg = make([]byte, size, allocSize)
}

// ReadType reads the client message type from the provided reader.
func (reader *Reader) ReadType() (types.ClientMessage, error) {
	b, err := reader.Buffer.ReadByte()
	if err != nil {
		return 0, err
	}

	return types.ClientMessage(b), nil
}

// ReadTypedMsg reads a message from the provided reader, returning its type
// code and the number of bytes read.
func (reader *Reader) ReadTypedMsg() (types.ClientMessage, int, error) {
	typed, err := reader.ReadType()
	if err != nil {
		return typed, 0, err
	}

	n, err := reader.ReadUntypedMsg()
	if err != nil {
		return 0, 0, err
	}

	return typed, n, nil
}

// Slurp reads and discards size bytes from the underlying reader.
func (reader *Reader) Slurp(size int) error {
	remaining := size
	for remaining > 0 {
		reading := remaining
		if reading > reader.MaxMessageSize {
			reading = reader.MaxMessageSize
		}

		reader.reset(reading)

		n, err := io.ReadFull(reader.Buffer, reader.Msg)
		if err != nil {
			return err
		}

		remaining -= n
	}

	return nil
}

// ReadMsgSize reads the length of the next message from the provided
// reader. The returned size excludes the 4 length-prefix bytes themselves.
func (reader *Reader) ReadMsgSize() (int, error) {
	nread, err := io.ReadFull(reader.Buffer, reader.header[:])
	if err != nil {
		return nread, err
	}

	size := int(binary.BigEndian.Uint32(reader.header[:]))
	size -= 4

	return size, nil
}

// ReadUntypedMsg reads a length-prefixed message. It is only used directly
// during the startup/cancel/SSL phase of the protocol; ReadTypedMsg is used
// at all other times. This returns the number of bytes read and an error, if
// there was one.
func (reader *Reader) ReadUntypedMsg() (int, error) {
	size, err := reader.ReadMsgSize()
	if err != nil {
		return 0, err
	}

	if size > reader.MaxMessageSize || size < 0 {
		return size, NewMessageSizeExceeded(reader.MaxMessageSize, size)
	}

	reader.reset(size)
	n, err := io.ReadFull(reader.Buffer, reader.Msg)
	return len(reader.header) + n, err
}

// GetString reads a null-terminated string from the remaining message body,
// decoding it from the reader's negotiated encoding (see SetEncoding) into
// UTF-8.
func (reader *Reader) GetString() (string, error) {
	pos := bytes.IndexByte(reader.Msg, 0)
	if pos == -1 {
		return "", NewMissingNulTerminator()
	}

	raw := reader.Msg[:pos]
	reader.Msg = reader.Msg[pos+1:]

	if reader.decoder == nil {
		// NOTE: this avoids allocation and copying. It is safe because the
		// read buffer's backing array is never reused while the returned
		// string is alive.
		return *((*string)(unsafe.Pointer(&raw))), nil
	}

	decoded, err := reader.decoder.Bytes(raw)
	if err != nil {
		return "", err
	}

	return string(decoded), nil
}

// GetByte returns a single byte from the buffer.
func (reader *Reader) GetByte() (byte, error) {
	if len(reader.Msg) < 1 {
		return 0, NewInsufficientData(len(reader.Msg))
	}

	v := reader.Msg[0]
	reader.Msg = reader.Msg[1:]
	return v, nil
}

// GetBytes returns n bytes from the buffer. n == -1 represents a SQL NULL
// and returns a nil slice with no error.
func (reader *Reader) GetBytes(n int) ([]byte, error) {
	if n == -1 {
		return nil, nil
	}

	if len(reader.Msg) < n {
		return nil, NewInsufficientData(len(reader.Msg))
	}

	v := reader.Msg[:n]
	reader.Msg = reader.Msg[n:]
	return v, nil
}

// GetUint16 returns the buffer's contents as a uint16.
func (reader *Reader) GetUint16() (uint16, error) {
	if len(reader.Msg) < 2 {
		return 0, NewInsufficientData(len(reader.Msg))
	}

	v := binary.BigEndian.Uint16(reader.Msg[:2])
	reader.Msg = reader.Msg[2:]
	return v, nil
}

// GetUint32 returns the buffer's contents as a uint32.
func (reader *Reader) GetUint32() (uint32, error) {
	if len(reader.Msg) < 4 {
		return 0, NewInsufficientData(len(reader.Msg))
	}

	v := binary.BigEndian.Uint32(reader.Msg[:4])
	reader.Msg = reader.Msg[4:]
	return v, nil
}

// GetInt32 returns the buffer's contents as an int32.
func (reader *Reader) GetInt32() (int32, error) {
	v, err := reader.GetUint32()
	if err != nil {
		return 0, err
	}

	return int32(v), nil
}
