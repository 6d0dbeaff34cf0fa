// Package asciireader reads delimited ASCII point-cloud files.
//
// The reader bridges an untyped text stream and a packed binary point
// buffer. The caller supplies the field schema (name, scalar type, repeat
// count, in record order) and the separator character set; the reader
// then offers two independent passes over a file:
//
//  1. ReadHeader — a cheap metadata-only scan that counts non-blank
//     lines and echoes the schema without parsing a single token.
//  2. Read — the materialising pass: scan for the point count, allocate
//     count × stride bytes, then re-scan and convert every token into
//     its field's binary representation at the right record offset.
//
// ASCII files carry no sensor pose, so both passes report a zero origin
// and an identity orientation. Both passes re-open the file and share no
// state beyond the configured schema and separators, so a file mutated
// between a Read's own two passes is detected and rejected rather than
// silently truncated.
//
// A Reader instance is not safe for concurrent use with configuration
// calls; use one instance per goroutine or synchronise externally.
package asciireader

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/seabed-data/cloudio/internal/cloud"
	"github.com/seabed-data/cloudio/internal/cloud/format"
	"github.com/seabed-data/cloudio/internal/fsutil"
)

// FileVersion is the version constant reported for delimited text files.
// It matches the version the binary sibling reports for pose-less files,
// keeping the two readers interchangeable behind format.Reader.
const FileVersion = 7

// DefaultSepChars is the separator set a new Reader starts with: space,
// tab, comma, and the line terminators.
const DefaultSepChars = " \t\r\n,"

// Reader is a schema-driven ASCII point-cloud reader. The zero value is
// not usable; construct with New and configure a schema before reading.
type Reader struct {
	fields    []cloud.Field
	stride    int
	tokens    int // tokens one record consumes (Σ field counts)
	sepChars  string
	extension string
	fs        fsutil.FileSystem
}

var _ format.Reader = (*Reader)(nil)

// New returns a Reader with the default separator set and no schema.
func New() *Reader {
	return NewWithFS(fsutil.OSFileSystem{})
}

// NewWithFS returns a Reader that parses through the given filesystem.
// Tests use this with fsutil.MemoryFileSystem.
func NewWithFS(fs fsutil.FileSystem) *Reader {
	return &Reader{
		sepChars:  DefaultSepChars,
		extension: ".txt",
		fs:        fs,
	}
}

// SetFields configures the input schema from an ordered field list.
// Offsets are recomputed from field order; the caller's offsets are
// ignored. The schema persists across read calls until replaced.
func (r *Reader) SetFields(fields []cloud.Field) error {
	normalised, stride, err := cloud.NormalizeFields(fields)
	if err != nil {
		return &format.ConfigError{Reason: err.Error()}
	}
	r.fields = normalised
	r.stride = stride
	r.tokens = cloud.TokensPerRecord(normalised)
	return nil
}

// SetFieldsFromLayout configures the schema from a self-describing point
// type. Convenience over SetFields; no separate behaviour.
func (r *Reader) SetFieldsFromLayout(l cloud.Layout) error {
	return r.SetFields(l.PointFields())
}

// SetSepChars replaces the separator character set used to tokenise each
// line. An empty set is a configuration error: a reader with no
// separators could never split a line.
func (r *Reader) SetSepChars(chars string) error {
	if chars == "" {
		return &format.ConfigError{Reason: "empty separator set"}
	}
	r.sepChars = chars
	return nil
}

// SetExtension associates a filename extension (".txt", ".xyz") with this
// reader for use by an external dispatcher. Parsing never consults it.
func (r *Reader) SetExtension(ext string) {
	r.extension = ext
}

// Extension reports the associated filename extension.
func (r *Reader) Extension() string {
	return r.extension
}

// ReadHeader performs the metadata-only pass: it counts non-blank lines
// after offset and reports the echoed schema, a zero origin, an identity
// orientation, and the fixed file version. No token-level validation
// happens here, so the count can disagree with a later full parse when
// individual lines are malformed.
func (r *Reader) ReadHeader(path string, offset int64) (*format.Header, error) {
	if len(r.fields) == 0 {
		return nil, &format.ConfigError{Reason: "no input fields set"}
	}

	f, err := r.openAt(path, offset)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	count := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if !r.isBlank(scanner.Text()) {
			count++
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", path, err)
	}

	fields := make([]cloud.Field, len(r.fields))
	copy(fields, r.fields)

	return &format.Header{
		PointCount: count,
		Fields:     fields,
		Stride:     r.stride,
		Pose:       cloud.IdentityPose(),
		Version:    FileVersion,
		DataKind:   format.ASCII,
		DataOffset: offset,
	}, nil
}

// Read performs the materialising pass: scan for the point count,
// allocate the payload, then re-scan and parse every non-blank line into
// one packed record. Any failure discards the partial buffer.
func (r *Reader) Read(path string, offset int64) (*cloud.Cloud, cloud.Pose, int, error) {
	hdr, err := r.ReadHeader(path, offset)
	if err != nil {
		return nil, cloud.Pose{}, 0, err
	}

	out := cloud.New(hdr.Fields, hdr.PointCount)

	f, err := r.openAt(path, offset)
	if err != nil {
		return nil, cloud.Pose{}, 0, err
	}
	defer f.Close()

	parsed := 0
	lineNo := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r")
		if r.isBlank(line) {
			continue
		}

		tokens := strings.FieldsFunc(line, r.isSep)
		if len(tokens) != r.tokens {
			return nil, cloud.Pose{}, 0, format.Formatf(path, lineNo, "",
				"expected %d tokens, got %d", r.tokens, len(tokens))
		}
		if parsed >= hdr.PointCount {
			// More data lines than the scan counted: the file grew
			// between the two passes.
			return nil, cloud.Pose{}, 0, format.Formatf(path, lineNo, "",
				"point count changed between scan and parse: scanned %d", hdr.PointCount)
		}

		record := out.Record(parsed)
		tok := 0
		written := 0
		for _, field := range out.Fields {
			for elem := 0; elem < field.Count; elem++ {
				n, err := parseToken(tokens[tok], field, elem, record)
				if err != nil {
					return nil, cloud.Pose{}, 0, format.Formatf(path, lineNo, field.Name,
						"%v", err)
				}
				written += n
				tok++
			}
		}
		// Every accepted line must fill exactly one record.
		if written != out.Stride {
			return nil, cloud.Pose{}, 0, format.Formatf(path, lineNo, "",
				"record wrote %d bytes, stride is %d", written, out.Stride)
		}
		parsed++
	}
	if err := scanner.Err(); err != nil {
		return nil, cloud.Pose{}, 0, fmt.Errorf("scan %s: %w", path, err)
	}

	if parsed != hdr.PointCount {
		return nil, cloud.Pose{}, 0, format.Formatf(path, 0, "",
			"point count changed between scan and parse: scanned %d, parsed %d",
			hdr.PointCount, parsed)
	}

	return out, cloud.IdentityPose(), FileVersion, nil
}

// openAt opens path and discards the first offset bytes. An offset past
// the end of the file is an I/O error, not an empty result.
func (r *Reader) openAt(path string, offset int64) (io.ReadCloser, error) {
	if offset < 0 {
		return nil, fmt.Errorf("%s: negative offset %d", path, offset)
	}
	info, err := r.fs.Stat(path)
	if err != nil {
		return nil, err
	}
	if offset > info.Size() {
		return nil, fmt.Errorf("%s: offset %d: %w", path, offset, format.ErrOffsetBeyondEOF)
	}
	f, err := r.fs.Open(path)
	if err != nil {
		return nil, err
	}
	if offset > 0 {
		if _, err := io.CopyN(io.Discard, f, offset); err != nil {
			f.Close()
			return nil, fmt.Errorf("seek %s to %d: %w", path, offset, err)
		}
	}
	return f, nil
}

// isSep reports whether c is in the configured separator set.
func (r *Reader) isSep(c rune) bool {
	return strings.ContainsRune(r.sepChars, c)
}

// isBlank reports whether a line carries no data: nothing but separator
// characters and whitespace. Both passes use this predicate, so the line
// counts they produce agree for any fixed file.
func (r *Reader) isBlank(line string) bool {
	for _, c := range line {
		if !r.isSep(c) && !unicode.IsSpace(c) {
			return false
		}
	}
	return true
}

// parseToken converts one token to the binary representation of element
// elem of the given field and writes it at the field's offset in record.
// Integer fields parse exact base-10 with the type's range enforced;
// float fields accept decimal and scientific notation, independent of
// locale. Returns the bytes written.
func parseToken(token string, field cloud.Field, elem int, record []byte) (int, error) {
	size := field.Type.Size()
	at := field.Offset + elem*size

	switch field.Type {
	case cloud.Int8:
		v, err := strconv.ParseInt(token, 10, 8)
		if err != nil {
			return 0, fmt.Errorf("token %q is not a valid int8: %v", token, err)
		}
		record[at] = byte(int8(v))
	case cloud.UInt8:
		v, err := strconv.ParseUint(token, 10, 8)
		if err != nil {
			return 0, fmt.Errorf("token %q is not a valid uint8: %v", token, err)
		}
		record[at] = byte(v)
	case cloud.Int16:
		v, err := strconv.ParseInt(token, 10, 16)
		if err != nil {
			return 0, fmt.Errorf("token %q is not a valid int16: %v", token, err)
		}
		binary.LittleEndian.PutUint16(record[at:], uint16(int16(v)))
	case cloud.UInt16:
		v, err := strconv.ParseUint(token, 10, 16)
		if err != nil {
			return 0, fmt.Errorf("token %q is not a valid uint16: %v", token, err)
		}
		binary.LittleEndian.PutUint16(record[at:], uint16(v))
	case cloud.Int32:
		v, err := strconv.ParseInt(token, 10, 32)
		if err != nil {
			return 0, fmt.Errorf("token %q is not a valid int32: %v", token, err)
		}
		binary.LittleEndian.PutUint32(record[at:], uint32(int32(v)))
	case cloud.UInt32:
		v, err := strconv.ParseUint(token, 10, 32)
		if err != nil {
			return 0, fmt.Errorf("token %q is not a valid uint32: %v", token, err)
		}
		binary.LittleEndian.PutUint32(record[at:], uint32(v))
	case cloud.Float32:
		v, err := strconv.ParseFloat(token, 32)
		if err != nil {
			return 0, fmt.Errorf("token %q is not a valid float32: %v", token, err)
		}
		binary.LittleEndian.PutUint32(record[at:], math.Float32bits(float32(v)))
	case cloud.Float64:
		v, err := strconv.ParseFloat(token, 64)
		if err != nil {
			return 0, fmt.Errorf("token %q is not a valid float64: %v", token, err)
		}
		binary.LittleEndian.PutUint64(record[at:], math.Float64bits(v))
	default:
		return 0, fmt.Errorf("unknown field type %d", field.Type)
	}

	return size, nil
}
