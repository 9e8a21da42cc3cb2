package upload

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
)

// Source is a binary payload handed to the orchestrator. Open is called once
// per attempt so a superseding attempt re-reads the file from the start.
type Source struct {
	Name        string
	ContentType string
	Size        int64
	Open        func() (io.ReadCloser, error)
}

func (s Source) empty() bool {
	return s.Size <= 0 || s.Open == nil
}

// FileSource builds a Source from a local file, deriving the content type
// from the extension.
func FileSource(path string) (Source, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Source{}, fmt.Errorf("stat upload file: %w", err)
	}
	if info.IsDir() {
		return Source{}, fmt.Errorf("upload path %s is a directory", path)
	}
	contentType := mime.TypeByExtension(filepath.Ext(path))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return Source{
		Name:        filepath.Base(path),
		ContentType: contentType,
		Size:        info.Size(),
		Open: func() (io.ReadCloser, error) {
			return os.Open(path)
		},
	}, nil
}

// BytesSource wraps an in-memory payload, mostly for tests and small
// subtitle tracks.
func BytesSource(name, contentType string, data []byte) Source {
	return Source{
		Name:        name,
		ContentType: contentType,
		Size:        int64(len(data)),
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}
}
