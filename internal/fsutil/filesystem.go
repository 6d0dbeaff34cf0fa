// Package fsutil provides the filesystem abstraction the file readers
// parse through. Use OSFileSystem in production; MemoryFileSystem lets
// reader tests run against in-memory files without touching disk.
package fsutil

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileSystem is the read/write surface the readers and writers need.
type FileSystem interface {
	// Open opens the named file for reading.
	Open(name string) (fs.File, error)

	// Stat returns a FileInfo describing the named file.
	Stat(name string) (fs.FileInfo, error)

	// Create creates or truncates the named file for writing.
	Create(name string) (io.WriteCloser, error)
}

// OSFileSystem implements FileSystem using the os package.
type OSFileSystem struct{}

// Open opens the named file.
func (OSFileSystem) Open(name string) (fs.File, error) {
	return os.Open(name)
}

// Stat returns file info for the named file.
func (OSFileSystem) Stat(name string) (fs.FileInfo, error) {
	return os.Stat(name)
}

// Create creates the named file.
func (OSFileSystem) Create(name string) (io.WriteCloser, error) {
	return os.Create(name)
}

// MemoryFileSystem is an in-memory FileSystem for tests.
type MemoryFileSystem struct {
	mu    sync.RWMutex
	files map[string][]byte
}

// NewMemoryFileSystem returns an empty in-memory filesystem.
func NewMemoryFileSystem() *MemoryFileSystem {
	return &MemoryFileSystem{files: make(map[string][]byte)}
}

// WriteFile stores data under the given name, replacing any prior
// content.
func (m *MemoryFileSystem) WriteFile(name string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	buf := make([]byte, len(data))
	copy(buf, data)
	m.files[filepath.Clean(name)] = buf
}

// Open opens a stored file for reading.
func (m *MemoryFileSystem) Open(name string) (fs.File, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	name = filepath.Clean(name)
	data, ok := m.files[name]
	if !ok {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	}
	return &memFile{name: name, data: data}, nil
}

// Stat returns file info for a stored file.
func (m *MemoryFileSystem) Stat(name string) (fs.FileInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	name = filepath.Clean(name)
	data, ok := m.files[name]
	if !ok {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrNotExist}
	}
	return memInfo{name: filepath.Base(name), size: int64(len(data))}, nil
}

// Create opens a stored file for writing; content becomes visible on
// Close.
func (m *MemoryFileSystem) Create(name string) (io.WriteCloser, error) {
	return &memWriter{fs: m, name: filepath.Clean(name)}, nil
}

type memFile struct {
	name   string
	data   []byte
	offset int
}

func (f *memFile) Read(p []byte) (int, error) {
	if f.offset >= len(f.data) {
		return 0, io.EOF
	}
	n := copy(p, f.data[f.offset:])
	f.offset += n
	return n, nil
}

func (f *memFile) Close() error { return nil }

func (f *memFile) Stat() (fs.FileInfo, error) {
	return memInfo{name: filepath.Base(f.name), size: int64(len(f.data))}, nil
}

type memWriter struct {
	fs   *MemoryFileSystem
	name string
	buf  []byte
}

func (w *memWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	return len(p), nil
}

func (w *memWriter) Close() error {
	w.fs.mu.Lock()
	defer w.fs.mu.Unlock()
	w.fs.files[w.name] = w.buf
	return nil
}

type memInfo struct {
	name string
	size int64
}

func (i memInfo) Name() string       { return i.name }
func (i memInfo) Size() int64        { return i.size }
func (i memInfo) Mode() os.FileMode  { return 0644 }
func (i memInfo) ModTime() time.Time { return time.Time{} }
func (i memInfo) IsDir() bool        { return false }
func (i memInfo) Sys() any           { return nil }
