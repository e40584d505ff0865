package convert

import "github.com/cockroachdb/errors"

var (
	// ErrInputNotFound marks a missing input file. It is checked before any
	// processing.
	ErrInputNotFound = errors.New("input not found")
	// ErrConversion marks any unrecovered pipeline failure, including a
	// failed F0 fallback and a silent result that cannot be normalised.
	ErrConversion = errors.New("conversion failed")
)

func conversionFailure(err error, msg string) error {
	return errors.Mark(errors.Wrap(err, msg), ErrConversion)
}
