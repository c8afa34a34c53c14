package request

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/edvin/quotausage/internal/model"
)

// DateRange reads the from and to query parameters. Both are required.
func DateRange(r *http.Request) (from, to time.Time, err error) {
	q := r.URL.Query()
	if q.Get("from") == "" || q.Get("to") == "" {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: from and to are required", model.ErrInvalidRange)
	}
	from, err = model.ParseDay(q.Get("from"))
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: %w", model.ErrInvalidRange, err)
	}
	to, err = model.ParseDay(q.Get("to"))
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: %w", model.ErrInvalidRange, err)
	}
	return from, to, nil
}

// File is an uploaded multipart file.
type File struct {
	Name string
	io.ReadCloser
}

// FormFile returns the "file" part of a multipart request, reading at most
// maxBytes of the request body.
func FormFile(w http.ResponseWriter, r *http.Request, maxBytes int64) (*File, error) {
	if err := parseMultipart(w, r, maxBytes); err != nil {
		return nil, err
	}
	f, header, err := r.FormFile("file")
	if err != nil {
		return nil, fmt.Errorf("missing file: %w", err)
	}
	return &File{Name: header.Filename, ReadCloser: f}, nil
}

// FormFiles returns every "file" part of a multipart request in the order
// sent. maxBytes bounds the whole request body. The caller closes the files.
func FormFiles(w http.ResponseWriter, r *http.Request, maxBytes int64) ([]*File, error) {
	if err := parseMultipart(w, r, maxBytes); err != nil {
		return nil, err
	}
	headers := r.MultipartForm.File["file"]
	if len(headers) == 0 {
		return nil, fmt.Errorf("missing file: %w", http.ErrMissingFile)
	}

	files := make([]*File, 0, len(headers))
	for _, h := range headers {
		f, err := h.Open()
		if err != nil {
			for _, opened := range files {
				opened.Close()
			}
			return nil, fmt.Errorf("open %s: %w", h.Filename, err)
		}
		files = append(files, &File{Name: h.Filename, ReadCloser: f})
	}
	return files, nil
}

func parseMultipart(w http.ResponseWriter, r *http.Request, maxBytes int64) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		return fmt.Errorf("invalid multipart form: %w", err)
	}
	return nil
}
