package buffer

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/akiban/pgwire/codes"
	pgerror "github.com/akiban/pgwire/errors"
)

// ErrMissingNulTerminator is thrown when no NUL terminator is found while
// reading a string field out of a message.
var ErrMissingNulTerminator = errors.New("NUL terminator not found")

// NewMissingNulTerminator constructs a decorated ErrMissingNulTerminator.
func NewMissingNulTerminator() error {
	return pgerror.WithSeverity(pgerror.WithCode(ErrMissingNulTerminator, codes.ProtocolViolation), pgerror.LevelFatal)
}

// ErrInsufficientData is thrown when a message field is shorter than
// requested.
var ErrInsufficientData = errors.New("insufficient data")

// NewInsufficientData constructs a decorated ErrInsufficientData.
func NewInsufficientData(length int) error {
	err := fmt.Errorf("length: %d %w", length, ErrInsufficientData)
	return pgerror.WithSeverity(pgerror.WithCode(err, codes.ProtocolViolation), pgerror.LevelFatal)
}

// ErrMessageSizeExceeded is thrown when a message announces a length larger
// than the reader's maximum buffer size.
var ErrMessageSizeExceeded = MessageSizeExceeded{Message: "maximum message size exceeded"}

// MessageSizeExceeded indicates that the message size limit has been
// exceeded. The offending size and configured maximum are included.
type MessageSizeExceeded struct {
	Message string
	Size    int
	Max     int
}

func (err MessageSizeExceeded) Error() string {
	return err.Message
}

func (err MessageSizeExceeded) Is(target error) bool {
	return reflect.TypeOf(target) == reflect.TypeOf(err)
}

// NewMessageSizeExceeded constructs a decorated MessageSizeExceeded error.
func NewMessageSizeExceeded(max, size int) error {
	err := MessageSizeExceeded{
		Message: fmt.Sprintf("message size %d, bigger than maximum allowed message size %d", size, max),
		Size:    size,
		Max:     max,
	}

	return pgerror.WithSeverity(pgerror.WithCode(err, codes.ProgramLimitExceeded), pgerror.LevelError)
}

// UnwrapMessageSizeExceeded attempts to unwrap the given error as a
// MessageSizeExceeded, returning ok=false if it isn't one.
func UnwrapMessageSizeExceeded(err error) (result MessageSizeExceeded, ok bool) {
	return result, errors.As(err, &result)
}
