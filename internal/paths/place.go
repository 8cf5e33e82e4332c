package paths

import (
	"errors"
	"io/fs"
	"os"

	"github.com/maneesh/blogmedia/internal/naming"
)

// ErrDestinationExists is returned by Place when dst already holds different
// content.
var ErrDestinationExists = errors.New("destination exists with different content")

// Place links the fully written file at tmp to dst without replacing an
// existing dst. When dst already holds identical content nothing changes and
// created is false; the caller must not schedule dst for deletion then. tmp is
// left for the caller to remove.
func Place(tmp, dst string) (created bool, err error) {
	err = os.Link(tmp, dst)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, fs.ErrExist) {
		return false, err
	}
	same, err := sameContent(tmp, dst)
	if err != nil {
		return false, err
	}
	if !same {
		return false, ErrDestinationExists
	}
	return false, nil
}

func sameContent(a, b string) (bool, error) {
	ha, na, err := hashFile(a)
	if err != nil {
		return false, err
	}
	hb, nb, err := hashFile(b)
	if err != nil {
		return false, err
	}
	return na == nb && ha == hb, nil
}

func hashFile(p string) (string, int64, error) {
	f, err := os.Open(p)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()
	return naming.HashReader(f)
}
