// Package format defines the contract shared by the point-cloud file
// readers in this module, along with the error taxonomy they report.
//
// Every reader exposes the same two operations: a cheap header-only scan
// that reports structural metadata without materialising points, and a
// full read that produces a populated cloud. Readers carrying different
// on-disk encodings (delimited text, PCD binary) are interchangeable
// behind this interface; an external dispatcher may select one by the
// filename extension each reader advertises.
package format

import (
	"errors"
	"fmt"

	"github.com/seabed-data/cloudio/internal/cloud"
)

// DataKind tags the encoding of a file's point payload.
type DataKind int

const (
	ASCII            DataKind = iota // delimited text records
	Binary                           // packed little-endian records
	BinaryCompressed                 // LZF-compressed column-major records
)

// String returns the lowercase tag used in logs and the catalog.
func (k DataKind) String() string {
	switch k {
	case ASCII:
		return "ascii"
	case Binary:
		return "binary"
	case BinaryCompressed:
		return "binary_compressed"
	default:
		return fmt.Sprintf("datakind(%d)", int(k))
	}
}

// Header is the result of a metadata-only scan: everything about a file's
// structure except the points themselves.
type Header struct {
	PointCount int
	Fields     []cloud.Field
	Stride     int
	Pose       cloud.Pose
	Version    int      // file format version constant
	DataKind   DataKind // payload encoding
	DataOffset int64    // byte offset at which point data begins
}

// Reader is the shared file-reader contract. Both operations are
// independently complete: Read never assumes a prior ReadHeader call, and
// neither caches anything between invocations. The offset parameter skips
// a leading wrapper (for example a 512-byte tar header) before the file's
// own content begins.
type Reader interface {
	// ReadHeader scans structural metadata without materialising points.
	ReadHeader(path string, offset int64) (*Header, error)

	// Read materialises the full cloud and its sensor pose.
	Read(path string, offset int64) (*cloud.Cloud, cloud.Pose, int, error)

	// Extension reports the filename extension associated with this
	// reader (".txt", ".pcd"). Used only by external dispatchers;
	// parsing never consults it.
	Extension() string
}

// ErrOffsetBeyondEOF reports a start offset past the end of the file.
var ErrOffsetBeyondEOF = errors.New("offset beyond end of file")

// ConfigError reports a reader misconfiguration: the operation was
// invoked before the reader held a usable schema or separator set.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "reader configuration: " + e.Reason
}

// FormatError reports malformed file content. File is always set; Line is
// 1-based and zero when the error is not tied to a line; Field names the
// schema field being parsed when one was.
type FormatError struct {
	File  string
	Line  int
	Field string
	Msg   string
}

func (e *FormatError) Error() string {
	s := fmt.Sprintf("%s: %s", e.File, e.Msg)
	if e.Line > 0 {
		s += fmt.Sprintf(", line %d", e.Line)
	}
	if e.Field != "" {
		s += fmt.Sprintf(" (field %q)", e.Field)
	}
	return s
}

// Formatf builds a FormatError with a formatted message.
func Formatf(file string, line int, field, format string, args ...any) *FormatError {
	return &FormatError{File: file, Line: line, Field: field, Msg: fmt.Sprintf(format, args...)}
}
