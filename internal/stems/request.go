package stems

import (
	"io"
	"path/filepath"
	"regexp"
	"strings"
)

// Format is the audio format Demucs writes stems in.
type Format string

const (
	FormatMP3 Format = "mp3"
	FormatWAV Format = "wav"
)

// DefaultBitrate is the MP3 bitrate in kbit/s used when a request leaves it
// unset.
const DefaultBitrate = 320

// AllowedExtensions lists the upload extensions accepted for separation.
var AllowedExtensions = []string{".mp3", ".wav", ".flac", ".m4a", ".aac", ".ogg"}

var modelName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// ParseFormat accepts mp3 and wav, case-insensitively.
func ParseFormat(s string) (Format, bool) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case FormatMP3:
		return FormatMP3, true
	case FormatWAV:
		return FormatWAV, true
	default:
		return "", false
	}
}

// Request is one upload to separate.
type Request struct {
	// ID correlates log lines; a UUID is generated when empty.
	ID       string
	Filename string
	Audio    io.Reader
	// Model, Format and Bitrate fall back to the separator defaults when
	// zero.
	Model   string
	Format  Format
	Bitrate int
}

// Extension returns the lower-cased extension of the upload name or
// ErrUnsupportedFormat.
func Extension(filename string) (string, error) {
	if strings.TrimSpace(filename) == "" {
		return "", classify(ErrNoFile, "No file provided")
	}

	ext := strings.ToLower(filepath.Ext(filename))
	for _, allowed := range AllowedExtensions {
		if ext == allowed {
			return ext, nil
		}
	}

	return "", classify(ErrUnsupportedFormat, "Unsupported file format: %s. Supported: %s",
		ext, strings.Join(AllowedExtensions, ", "))
}

// ArchiveName is the download name for the stems of filename.
func ArchiveName(filename string) string {
	base := filepath.Base(strings.ReplaceAll(filename, `\`, "/"))
	return strings.TrimSuffix(base, filepath.Ext(base)) + "_stems.zip"
}
