package stems

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
)

// Archive is a packed set of stems living in a temp dir until Close.
type Archive struct {
	// Name is the download file name.
	Name string
	Path string
	// Stems lists the archive entries in order.
	Stems []string
	Size  int64

	dir string
}

// Open opens the archive for reading.
func (a *Archive) Open() (*os.File, error) {
	return os.Open(a.Path)
}

// Close removes the temp dir holding the archive and the stems.
func (a *Archive) Close() error {
	if a.dir == "" {
		return nil
	}

	dir := a.dir
	a.dir = ""

	return os.RemoveAll(dir)
}

func collectStems(dir string, format Format) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, classify(ErrSeparation, "Stems directory not found")
		}

		return nil, classify(ErrSeparation, "reading stems directory: %v", err)
	}

	suffix := "." + string(format)

	var stems []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), suffix) {
			continue
		}

		stems = append(stems, filepath.Join(dir, e.Name()))
	}

	if len(stems) == 0 {
		return nil, classify(ErrSeparation, "no %s stems produced", format)
	}

	sort.Strings(stems)

	return stems, nil
}

func writeArchive(dir, name string, stems []string) (*Archive, error) {
	path := filepath.Join(dir, name)

	f, err := os.Create(path)
	if err != nil {
		return nil, classify(ErrSeparation, "creating archive: %v", err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)

	entries := make([]string, 0, len(stems))
	for _, stem := range stems {
		entry := filepath.Base(stem)
		if err := addFile(zw, stem, entry); err != nil {
			return nil, classify(ErrSeparation, "adding %s to archive: %v", entry, err)
		}

		entries = append(entries, entry)
	}

	if err := zw.Close(); err != nil {
		return nil, classify(ErrSeparation, "finishing archive: %v", err)
	}

	info, err := f.Stat()
	if err != nil {
		return nil, classify(ErrSeparation, "archive stat: %v", err)
	}

	return &Archive{Name: name, Path: path, Stems: entries, Size: info.Size(), dir: dir}, nil
}

func addFile(zw *zip.Writer, path, entry string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return err
	}

	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return errors.Wrap(err, "zip header")
	}

	hdr.Name = entry
	hdr.Method = zip.Deflate

	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return err
	}

	_, err = io.Copy(w, src)

	return err
}

// lastLines keeps the tail of tool output for error messages.
func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}

	return strings.TrimSpace(strings.Join(lines, "\n"))
}
