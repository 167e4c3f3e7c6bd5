package storage

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"

	"github.com/galleryio/go-photoaccess/internal/osproxy"
)

// LocalFile is a photo on disk. The file is reopened for every attempt, so retries
// always stream from the beginning.
type LocalFile struct {
	path        string
	name        string
	size        int64
	contentType string
	os          osproxy.OsProxy
}

// NewLocalFile stats the file at path and sniffs its content type.
func NewLocalFile(path string) (*LocalFile, error) {
	return newLocalFile(osproxy.RealOS{}, path)
}

func newLocalFile(proxy osproxy.OsProxy, path string) (*LocalFile, error) {
	info, err := proxy.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}

	f := &LocalFile{
		path: path,
		name: filepath.Base(path),
		size: info.Size(),
		os:   proxy,
	}
	contentType, err := f.detectContentType()
	if err != nil {
		return nil, err
	}
	f.contentType = contentType

	return f, nil
}

// Name ...
func (f *LocalFile) Name() string { return f.name }

// Size ...
func (f *LocalFile) Size() int64 { return f.size }

// ContentType ...
func (f *LocalFile) ContentType() string { return f.contentType }

// Open ...
func (f *LocalFile) Open() (io.ReadCloser, error) {
	file, err := f.os.Open(f.path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	return file, nil
}

func (f *LocalFile) detectContentType() (string, error) {
	if byExt := mime.TypeByExtension(filepath.Ext(f.name)); byExt != "" {
		return byExt, nil
	}
	if f.size == 0 {
		return "application/octet-stream", nil
	}

	file, err := f.os.Open(f.path)
	if err != nil {
		return "", fmt.Errorf("open file: %w", err)
	}
	defer file.Close() //nolint:errcheck

	head := make([]byte, 512)
	n, err := io.ReadFull(file, head)
	if err != nil && err != io.ErrUnexpectedEOF {
		return "", fmt.Errorf("read file header: %w", err)
	}
	return http.DetectContentType(head[:n]), nil
}

// MemoryFile is a photo already held in memory.
type MemoryFile struct {
	name        string
	contentType string
	data        []byte
}

// NewMemoryFile ...
func NewMemoryFile(name, contentType string, data []byte) *MemoryFile {
	return &MemoryFile{name: name, contentType: contentType, data: data}
}

// Name ...
func (f *MemoryFile) Name() string { return f.name }

// Size ...
func (f *MemoryFile) Size() int64 { return int64(len(f.data)) }

// ContentType ...
func (f *MemoryFile) ContentType() string { return f.contentType }

// Open ...
func (f *MemoryFile) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(f.data)), nil
}
