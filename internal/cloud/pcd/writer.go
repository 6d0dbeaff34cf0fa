package pcd

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"strconv"

	lzf "github.com/zhuyie/golzf"

	"github.com/seabed-data/cloudio/internal/cloud"
	"github.com/seabed-data/cloudio/internal/cloud/format"
	"github.com/seabed-data/cloudio/internal/fsutil"
)

// Writer writes PCD v0.7 files in any of the three payload encodings.
type Writer struct {
	fs   fsutil.FileSystem
	kind format.DataKind
}

// NewWriter returns a Writer producing the given payload encoding.
func NewWriter(kind format.DataKind) *Writer {
	return NewWriterWithFS(fsutil.OSFileSystem{}, kind)
}

// NewWriterWithFS returns a Writer producing the given payload encoding
// through the given filesystem.
func NewWriterWithFS(fs fsutil.FileSystem, kind format.DataKind) *Writer {
	return &Writer{fs: fs, kind: kind}
}

// Write renders the cloud and pose to path.
func (w *Writer) Write(path string, c *cloud.Cloud, pose cloud.Pose) error {
	f, err := w.fs.Create(path)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(f)

	if err := writeHeader(bw, c, pose, w.kind); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}

	switch w.kind {
	case format.ASCII:
		err = writeASCIIData(bw, c)
	case format.Binary:
		_, err = bw.Write(c.Data)
	case format.BinaryCompressed:
		err = writeCompressedData(bw, c)
	default:
		err = fmt.Errorf("unsupported DATA kind %q", w.kind)
	}
	if err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}

	if err := bw.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

func writeHeader(bw *bufio.Writer, c *cloud.Cloud, pose cloud.Pose, kind format.DataKind) error {
	fmt.Fprintf(bw, "# .PCD v0.7 - Point Cloud Data file format\n")
	fmt.Fprintf(bw, "VERSION 0.7\n")

	fmt.Fprintf(bw, "FIELDS")
	for _, f := range c.Fields {
		fmt.Fprintf(bw, " %s", f.Name)
	}
	fmt.Fprintf(bw, "\nSIZE")
	for _, f := range c.Fields {
		fmt.Fprintf(bw, " %d", f.Type.Size())
	}
	fmt.Fprintf(bw, "\nTYPE")
	for _, f := range c.Fields {
		fmt.Fprintf(bw, " %s", typeLetter(f.Type))
	}
	fmt.Fprintf(bw, "\nCOUNT")
	for _, f := range c.Fields {
		fmt.Fprintf(bw, " %d", f.Count)
	}

	fmt.Fprintf(bw, "\nWIDTH %d\n", c.Points())
	fmt.Fprintf(bw, "HEIGHT 1\n")
	fmt.Fprintf(bw, "VIEWPOINT %s %s %s %s %s %s %s\n",
		ftoa(pose.Origin.X), ftoa(pose.Origin.Y), ftoa(pose.Origin.Z),
		ftoa(pose.Orientation.Real), ftoa(pose.Orientation.Imag),
		ftoa(pose.Orientation.Jmag), ftoa(pose.Orientation.Kmag))
	fmt.Fprintf(bw, "POINTS %d\n", c.Points())
	fmt.Fprintf(bw, "DATA %s\n", kind)
	return nil
}

// writeASCIIData renders one line per record, elements separated by
// single spaces. Integers print exact; floats use the shortest
// representation that round-trips at the field's precision.
func writeASCIIData(bw *bufio.Writer, c *cloud.Cloud) error {
	for i := 0; i < c.Points(); i++ {
		first := true
		for _, f := range c.Fields {
			for elem := 0; elem < f.Count; elem++ {
				v, err := c.Value(i, f.Name, elem)
				if err != nil {
					return err
				}
				if !first {
					bw.WriteByte(' ')
				}
				first = false
				bw.WriteString(formatValue(v, f.Type))
			}
		}
		if err := bw.WriteByte('\n'); err != nil {
			return err
		}
	}
	return nil
}

// writeCompressedData emits the PCD binary_compressed section: a
// compressed-size/uncompressed-size prefix, then the LZF block holding
// the payload transposed to column-major order.
func writeCompressedData(bw *bufio.Writer, c *cloud.Cloud) error {
	columns := make([]byte, len(c.Data))
	at := 0
	for _, f := range c.Fields {
		w := f.Width()
		for p := 0; p < c.Points(); p++ {
			copy(columns[at:at+w], c.Record(p)[f.Offset:f.Offset+w])
			at += w
		}
	}

	// LZF can expand incompressible input; size the buffer for the
	// worst case the codec documents.
	compressed := make([]byte, len(columns)+len(columns)/16+96)
	n, err := lzf.Compress(columns, compressed)
	if err != nil {
		return fmt.Errorf("lzf compress: %w", err)
	}

	var sizes [8]byte
	binary.LittleEndian.PutUint32(sizes[0:4], uint32(n))
	binary.LittleEndian.PutUint32(sizes[4:8], uint32(len(columns)))
	if _, err := bw.Write(sizes[:]); err != nil {
		return err
	}
	_, err = bw.Write(compressed[:n])
	return err
}

// formatValue renders one scalar the way the matching reader parses it.
func formatValue(v float64, t cloud.FieldType) string {
	switch t {
	case cloud.Float32:
		return strconv.FormatFloat(v, 'g', -1, 32)
	case cloud.Float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	default:
		return strconv.FormatInt(int64(v), 10)
	}
}

func ftoa(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func typeLetter(t cloud.FieldType) string {
	switch t {
	case cloud.Int8, cloud.Int16, cloud.Int32:
		return "I"
	case cloud.UInt8, cloud.UInt16, cloud.UInt32:
		return "U"
	default:
		return "F"
	}
}
