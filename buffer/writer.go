package buffer

import (
	"bytes"
	"encoding/binary"
	"io"
	"log/slog"

	"github.com/akiban/pgwire/types"
	"golang.org/x/text/encoding"
)

// Writer provides a convenient way to write pgwire protocol messages.
type Writer struct {
	io.Writer
	logger *slog.Logger
	frame  bytes.Buffer
	putbuf [64]byte
	err    error

	encodingName string
	encoder      *encoding.Encoder // nil means the UTF-8 fast path
}

// NewWriter constructs a new Postgres buffered message writer for the given
// io.Writer.
func NewWriter(logger *slog.Logger, writer io.Writer) *Writer {
	return &Writer{
		logger:       logger,
		Writer:       writer,
		encodingName: "UTF8",
	}
}

// SetEncoding negotiates the character encoding used to encode subsequent
// strings, returning the canonicalized encoding name. An empty or
// unrecognized name canonicalizes to UTF-8.
func (writer *Writer) SetEncoding(name string) string {
	canonical, codec := resolveEncoding(name)
	writer.encodingName = canonical

	if canonical == "UTF8" {
		writer.encoder = nil
	} else {
		writer.encoder = codec.NewEncoder()
	}

	return canonical
}

// GetEncoding returns the writer's current canonicalized encoding name.
func (writer *Writer) GetEncoding() string {
	return writer.encodingName
}

// Start resets the buffer writer and starts a new message with the given
// message type. The message type (byte) and reserved message length bytes
// (int32) are written to the underlying frame buffer.
func (writer *Writer) Start(t types.ServerMessage) {
	writer.Reset()
	writer.putbuf[0] = byte(t)
	writer.frame.Write(writer.putbuf[:5])
}

// AddByte writes the given byte to the writer frame.
func (writer *Writer) AddByte(b byte) {
	if writer.err != nil {
		return
	}

	writer.err = writer.frame.WriteByte(b)
}

// AddInt16 writes the given int16 to the writer frame, big-endian.
func (writer *Writer) AddInt16(i int16) (size int) {
	if writer.err != nil {
		return size
	}

	x := make([]byte, 2)
	binary.BigEndian.PutUint16(x, uint16(i))
	size, writer.err = writer.frame.Write(x)
	return size
}

// AddInt32 writes the given int32 to the writer frame, big-endian.
func (writer *Writer) AddInt32(i int32) (size int) {
	if writer.err != nil {
		return size
	}

	x := make([]byte, 4)
	binary.BigEndian.PutUint32(x, uint32(i))
	size, writer.err = writer.frame.Write(x)
	return size
}

// AddBytes writes the given bytes to the writer frame.
func (writer *Writer) AddBytes(b []byte) (size int) {
	if writer.err != nil {
		return size
	}

	size, writer.err = writer.frame.Write(b)
	return size
}

// AddString writes the given string to the writer frame, encoding it from
// UTF-8 into the writer's negotiated encoding (see SetEncoding) first.
func (writer *Writer) AddString(s string) (size int) {
	if writer.err != nil {
		return size
	}

	if writer.encoder != nil {
		encoded, err := writer.encoder.String(s)
		if err != nil {
			writer.err = err
			return 0
		}
		s = encoded
	}

	size, writer.err = writer.frame.WriteString(s)
	return size
}

// AddNullTerminate writes a NUL terminator to the end of the current frame.
func (writer *Writer) AddNullTerminate() {
	if writer.err != nil {
		return
	}

	writer.err = writer.frame.WriteByte(0)
}

// Error returns the first error encountered while building the current frame.
func (writer *Writer) Error() error {
	return writer.err
}

// Bytes returns the bytes written to the active frame so far.
func (writer *Writer) Bytes() []byte {
	return writer.frame.Bytes()
}

// Reset discards the active frame.
func (writer *Writer) Reset() {
	writer.frame.Reset()
	writer.err = nil
}

// End writes the prepared message to the underlying writer and resets the
// frame buffer. The message length is back-patched into the reserved bytes
// written by Start.
func (writer *Writer) End() error {
	defer writer.Reset()
	if writer.Error() != nil {
		return writer.Error()
	}

	bb := writer.frame.Bytes()
	length := uint32(writer.frame.Len() - 1) // message length excludes the type byte
	binary.BigEndian.PutUint32(bb[1:5], length)
	_, err := writer.Write(bb)

	if writer.logger != nil {
		writer.logger.Debug("-> writing message", slog.String("type", types.ServerMessage(bb[0]).String()))
	}

	return err
}

// EncodeBoolean returns a "on"/"off" string value representing the given
// boolean, matching the text encoding Postgres uses for boolean parameters.
func EncodeBoolean(value bool) string {
	if value {
		return "on"
	}

	return "off"
}
