package stems

import "github.com/cockroachdb/errors"

// Error classes. Callers classify with errors.Is; the messages of the
// marked errors are safe to show to clients.
var (
	ErrNoFile            = errors.New("no file provided")
	ErrUnsupportedFormat = errors.New("unsupported file format")
	ErrInvalidRequest    = errors.New("invalid separation request")
	ErrTimeout           = errors.New("processing timeout")
	ErrSeparation        = errors.New("stem separation failed")
)

func classify(mark error, format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), mark)
}
