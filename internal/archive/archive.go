// Package archive keeps the raw uploaded daily reports so they can be listed
// and processed again.
package archive

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/edvin/quotausage/internal/model"
)

// Entry describes one archived upload.
type Entry struct {
	Name    string    `json:"name"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// Store saves and serves raw uploads by name. Saving an existing name
// replaces it.
type Store interface {
	Save(ctx context.Context, name string, data []byte) error
	// Open returns model.ErrUploadNotFound for unknown names.
	Open(ctx context.Context, name string) (io.ReadCloser, error)
	// List returns all uploads, newest name first.
	List(ctx context.Context) ([]Entry, error)
}

// CleanName reduces a client-supplied filename to its base name.
func CleanName(name string) (string, error) {
	base := path.Base(strings.ReplaceAll(name, `\`, "/"))
	if base == "." || base == "/" || base == ".." || strings.HasPrefix(base, ".") {
		return "", fmt.Errorf("%w: %q", model.ErrInvalidFilename, name)
	}
	return base, nil
}
