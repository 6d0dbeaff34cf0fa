// Package pcd reads and writes PCD v0.7 point-cloud files.
//
// PCD is the binary-format sibling of the delimited-ASCII reader: both
// implement format.Reader and produce identically shaped clouds, so a
// dispatcher can select either by extension. A PCD file is a small text
// header (FIELDS/SIZE/TYPE/COUNT/WIDTH/HEIGHT/VIEWPOINT/POINTS/DATA)
// followed by the point payload in one of three encodings:
//
//	ascii              delimited text records, one line per point
//	binary             packed little-endian records
//	binary_compressed  LZF-compressed, column-major (one field's column
//	                   at a time); the reader transposes back to records
package pcd

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"strconv"
	"strings"

	lzf "github.com/zhuyie/golzf"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/seabed-data/cloudio/internal/cloud"
	"github.com/seabed-data/cloudio/internal/cloud/asciireader"
	"github.com/seabed-data/cloudio/internal/cloud/format"
	"github.com/seabed-data/cloudio/internal/fsutil"
)

// FileVersion is the PCD format version this package handles (v0.7).
const FileVersion = 7

// Reader reads PCD files. Unlike the ASCII reader it needs no caller
// configuration: the schema comes from the file's own header.
type Reader struct {
	fs        fsutil.FileSystem
	extension string
}

var _ format.Reader = (*Reader)(nil)

// NewReader returns a PCD reader using the OS filesystem.
func NewReader() *Reader {
	return NewReaderWithFS(fsutil.OSFileSystem{})
}

// NewReaderWithFS returns a PCD reader parsing through the given
// filesystem.
func NewReaderWithFS(fs fsutil.FileSystem) *Reader {
	return &Reader{fs: fs, extension: ".pcd"}
}

// Extension reports ".pcd" for dispatcher registration.
func (r *Reader) Extension() string {
	return r.extension
}

// ReadHeader parses the PCD text header after offset and reports the
// file's structure without touching the payload.
func (r *Reader) ReadHeader(path string, offset int64) (*format.Header, error) {
	f, err := r.openAt(path, offset)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	hdr, _, err := parseHeader(path, f, offset)
	return hdr, err
}

// Read materialises the full cloud. The header is re-parsed on every
// call; nothing is cached between calls.
func (r *Reader) Read(path string, offset int64) (*cloud.Cloud, cloud.Pose, int, error) {
	f, err := r.openAt(path, offset)
	if err != nil {
		return nil, cloud.Pose{}, 0, err
	}
	hdr, br, err := parseHeader(path, f, offset)
	if err != nil {
		f.Close()
		return nil, cloud.Pose{}, 0, err
	}

	var out *cloud.Cloud
	switch hdr.DataKind {
	case format.ASCII:
		f.Close()
		out, err = r.readASCIIData(path, hdr)
	case format.Binary:
		out, err = readBinaryData(path, br, hdr)
		f.Close()
	case format.BinaryCompressed:
		out, err = readCompressedData(path, br, hdr)
		f.Close()
	default:
		f.Close()
		err = format.Formatf(path, 0, "", "unsupported DATA kind %q", hdr.DataKind)
	}
	if err != nil {
		return nil, cloud.Pose{}, 0, err
	}
	out.Width = hdr.PointCount
	out.Height = 1

	return out, hdr.Pose, FileVersion, nil
}

// readASCIIData delegates the ascii payload to the delimited-text reader:
// the section after the header is exactly a whitespace-separated point
// file with the header's schema.
func (r *Reader) readASCIIData(path string, hdr *format.Header) (*cloud.Cloud, error) {
	ar := asciireader.NewWithFS(r.fs)
	if err := ar.SetFields(hdr.Fields); err != nil {
		return nil, err
	}
	if err := ar.SetSepChars(" \t\r\n"); err != nil {
		return nil, err
	}
	out, _, _, err := ar.Read(path, hdr.DataOffset)
	if err != nil {
		return nil, err
	}
	if out.Points() != hdr.PointCount {
		return nil, format.Formatf(path, 0, "",
			"header declares %d points, data section holds %d", hdr.PointCount, out.Points())
	}
	return out, nil
}

func readBinaryData(path string, br *bufio.Reader, hdr *format.Header) (*cloud.Cloud, error) {
	out := cloud.New(hdr.Fields, hdr.PointCount)
	if _, err := io.ReadFull(br, out.Data); err != nil {
		return nil, format.Formatf(path, 0, "",
			"binary payload truncated: need %d bytes: %v", len(out.Data), err)
	}
	return out, nil
}

// readCompressedData reads the two-word size prefix, inflates the LZF
// block, and transposes the column-major field data into packed records.
func readCompressedData(path string, br *bufio.Reader, hdr *format.Header) (*cloud.Cloud, error) {
	var sizes [8]byte
	if _, err := io.ReadFull(br, sizes[:]); err != nil {
		return nil, format.Formatf(path, 0, "", "compressed size prefix truncated: %v", err)
	}
	compressedSize := binary.LittleEndian.Uint32(sizes[0:4])
	uncompressedSize := binary.LittleEndian.Uint32(sizes[4:8])

	out := cloud.New(hdr.Fields, hdr.PointCount)
	if int(uncompressedSize) != len(out.Data) {
		return nil, format.Formatf(path, 0, "",
			"uncompressed size %d does not match %d points of stride %d",
			uncompressedSize, hdr.PointCount, hdr.Stride)
	}

	compressed := make([]byte, compressedSize)
	if _, err := io.ReadFull(br, compressed); err != nil {
		return nil, format.Formatf(path, 0, "", "compressed payload truncated: %v", err)
	}
	columns := make([]byte, uncompressedSize)
	n, err := lzf.Decompress(compressed, columns)
	if err != nil {
		return nil, format.Formatf(path, 0, "", "lzf decompress: %v", err)
	}
	if n != int(uncompressedSize) {
		return nil, format.Formatf(path, 0, "",
			"lzf inflated to %d bytes, header declares %d", n, uncompressedSize)
	}

	// Columns hold field 0 for every point, then field 1, and so on.
	at := 0
	for _, f := range hdr.Fields {
		w := f.Width()
		for p := 0; p < hdr.PointCount; p++ {
			copy(out.Record(p)[f.Offset:f.Offset+w], columns[at:at+w])
			at += w
		}
	}
	return out, nil
}

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

// parseHeader consumes the text header from the reader and returns the
// populated Header along with the buffered reader positioned at the
// first payload byte. DataOffset accounts for the bytes consumed.
func parseHeader(path string, f io.Reader, offset int64) (*format.Header, *bufio.Reader, error) {
	br := bufio.NewReader(f)
	consumed := int64(0)

	entries := map[string][]string{}
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return nil, nil, format.Formatf(path, 0, "", "header truncated before DATA line: %v", err)
		}
		consumed += int64(len(line))
		line = strings.TrimRight(line, "\r\n")
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) == 0 {
			// Whitespace-only lines carry no entry, same as empty ones.
			continue
		}
		key := strings.ToUpper(parts[0])
		entries[key] = parts[1:]
		if key == "DATA" {
			break
		}
	}

	version := entries["VERSION"]
	if len(version) != 1 || (version[0] != "0.7" && version[0] != ".7") {
		return nil, nil, format.Formatf(path, 0, "", "unsupported PCD version %v", version)
	}

	names := entries["FIELDS"]
	if len(names) == 0 {
		return nil, nil, format.Formatf(path, 0, "", "header has no FIELDS entry")
	}
	sizes, err := headerInts(path, entries, "SIZE", len(names))
	if err != nil {
		return nil, nil, err
	}
	counts, err := headerInts(path, entries, "COUNT", len(names))
	if err != nil {
		return nil, nil, err
	}
	types := entries["TYPE"]
	if len(types) != len(names) {
		return nil, nil, format.Formatf(path, 0, "",
			"TYPE lists %d entries for %d fields", len(types), len(names))
	}

	fields := make([]cloud.Field, len(names))
	for i := range names {
		t, err := fieldType(types[i], sizes[i])
		if err != nil {
			return nil, nil, format.Formatf(path, 0, names[i], "%v", err)
		}
		fields[i] = cloud.Field{Name: names[i], Type: t, Count: counts[i]}
	}
	fields, stride, err := cloud.NormalizeFields(fields)
	if err != nil {
		return nil, nil, format.Formatf(path, 0, "", "%v", err)
	}

	width, err := headerInt(path, entries, "WIDTH")
	if err != nil {
		return nil, nil, err
	}
	height, err := headerInt(path, entries, "HEIGHT")
	if err != nil {
		return nil, nil, err
	}
	points := width * height
	if _, ok := entries["POINTS"]; ok {
		points, err = headerInt(path, entries, "POINTS")
		if err != nil {
			return nil, nil, err
		}
	}

	pose, err := headerViewpoint(path, entries)
	if err != nil {
		return nil, nil, err
	}

	data := entries["DATA"]
	if len(data) != 1 {
		return nil, nil, format.Formatf(path, 0, "", "malformed DATA entry %v", data)
	}
	var kind format.DataKind
	switch strings.ToLower(data[0]) {
	case "ascii":
		kind = format.ASCII
	case "binary":
		kind = format.Binary
	case "binary_compressed":
		kind = format.BinaryCompressed
	default:
		return nil, nil, format.Formatf(path, 0, "", "unsupported DATA kind %q", data[0])
	}

	return &format.Header{
		PointCount: points,
		Fields:     fields,
		Stride:     stride,
		Pose:       pose,
		Version:    FileVersion,
		DataKind:   kind,
		DataOffset: offset + consumed,
	}, br, nil
}

func headerInts(path string, entries map[string][]string, key string, want int) ([]int, error) {
	raw, ok := entries[key]
	if !ok {
		return nil, format.Formatf(path, 0, "", "header has no %s entry", key)
	}
	if len(raw) != want {
		return nil, format.Formatf(path, 0, "", "%s lists %d entries, want %d", key, len(raw), want)
	}
	vals := make([]int, len(raw))
	for i, s := range raw {
		v, err := strconv.Atoi(s)
		if err != nil {
			return nil, format.Formatf(path, 0, "", "%s entry %q is not an integer", key, s)
		}
		vals[i] = v
	}
	return vals, nil
}

func headerInt(path string, entries map[string][]string, key string) (int, error) {
	raw, ok := entries[key]
	if !ok || len(raw) != 1 {
		return 0, format.Formatf(path, 0, "", "malformed %s entry %v", key, raw)
	}
	v, err := strconv.Atoi(raw[0])
	if err != nil {
		return 0, format.Formatf(path, 0, "", "%s entry %q is not an integer", key, raw[0])
	}
	return v, nil
}

// headerViewpoint parses "VIEWPOINT tx ty tz qw qx qy qz". A missing
// entry yields the identity pose, matching files written before the
// field existed.
func headerViewpoint(path string, entries map[string][]string) (cloud.Pose, error) {
	raw, ok := entries["VIEWPOINT"]
	if !ok {
		return cloud.IdentityPose(), nil
	}
	if len(raw) != 7 {
		return cloud.Pose{}, format.Formatf(path, 0, "",
			"VIEWPOINT lists %d values, want 7", len(raw))
	}
	vals := make([]float64, 7)
	for i, s := range raw {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return cloud.Pose{}, format.Formatf(path, 0, "",
				"VIEWPOINT entry %q is not a number", s)
		}
		vals[i] = v
	}
	return cloud.Pose{
		Origin:      r3.Vec{X: vals[0], Y: vals[1], Z: vals[2]},
		Orientation: quat.Number{Real: vals[3], Imag: vals[4], Jmag: vals[5], Kmag: vals[6]},
	}, nil
}

// fieldType maps a PCD TYPE letter and SIZE to the container field type.
func fieldType(letter string, size int) (cloud.FieldType, error) {
	switch strings.ToUpper(letter) {
	case "I":
		switch size {
		case 1:
			return cloud.Int8, nil
		case 2:
			return cloud.Int16, nil
		case 4:
			return cloud.Int32, nil
		}
	case "U":
		switch size {
		case 1:
			return cloud.UInt8, nil
		case 2:
			return cloud.UInt16, nil
		case 4:
			return cloud.UInt32, nil
		}
	case "F":
		switch size {
		case 4:
			return cloud.Float32, nil
		case 8:
			return cloud.Float64, nil
		}
	}
	return 0, fmt.Errorf("unsupported field type %s%d", letter, size)
}
