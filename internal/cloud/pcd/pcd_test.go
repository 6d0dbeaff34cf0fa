package pcd

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/seabed-data/cloudio/internal/cloud"
	"github.com/seabed-data/cloudio/internal/cloud/format"
	"github.com/seabed-data/cloudio/internal/fsutil"
)

// makeTestCloud builds a deterministic cloud with mixed field types.
func makeTestCloud(t *testing.T, points int) *cloud.Cloud {
	t.Helper()
	fields, _, err := cloud.NormalizeFields([]cloud.Field{
		{Name: "x", Type: cloud.Float32, Count: 1},
		{Name: "y", Type: cloud.Float32, Count: 1},
		{Name: "z", Type: cloud.Float32, Count: 1},
		{Name: "intensity", Type: cloud.UInt8, Count: 1},
		{Name: "ring", Type: cloud.UInt16, Count: 1},
	})
	require.NoError(t, err)

	c := cloud.New(fields, points)
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < points; i++ {
		rec := c.Record(i)
		putFloat32(rec, fields[0], rng.Float32()*100)
		putFloat32(rec, fields[1], rng.Float32()*100-50)
		putFloat32(rec, fields[2], rng.Float32()*10)
		rec[fields[3].Offset] = byte(rng.Intn(256))
		rec[fields[4].Offset] = byte(i % 40)
	}
	return c
}

func putFloat32(rec []byte, f cloud.Field, v float32) {
	binary.LittleEndian.PutUint32(rec[f.Offset:], math.Float32bits(v))
}

func testPose() cloud.Pose {
	return cloud.Pose{
		Origin:      r3.Vec{X: 1.5, Y: -2, Z: 0.25},
		Orientation: quat.Number{Real: 0.5, Imag: 0.5, Jmag: -0.5, Kmag: 0.5},
	}
}

func TestRoundTripEncodings(t *testing.T) {
	for _, kind := range []format.DataKind{format.ASCII, format.Binary, format.BinaryCompressed} {
		t.Run(kind.String(), func(t *testing.T) {
			fs := fsutil.NewMemoryFileSystem()
			in := makeTestCloud(t, 25)
			pose := testPose()

			w := NewWriterWithFS(fs, kind)
			require.NoError(t, w.Write("cloud.pcd", in, pose))

			r := NewReaderWithFS(fs)
			out, gotPose, version, err := r.Read("cloud.pcd", 0)
			require.NoError(t, err)

			assert.Equal(t, FileVersion, version)
			assert.Equal(t, in.Points(), out.Points())
			assert.Equal(t, in.Stride, out.Stride)
			assert.Equal(t, in.Fields, out.Fields)
			assert.Equal(t, in.Data, out.Data)
			assert.Equal(t, pose, gotPose)
		})
	}
}

func TestReadHeaderMatchesRead(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	in := makeTestCloud(t, 10)
	require.NoError(t, NewWriterWithFS(fs, format.Binary).Write("cloud.pcd", in, cloud.IdentityPose()))

	r := NewReaderWithFS(fs)
	hdr, err := r.ReadHeader("cloud.pcd", 0)
	require.NoError(t, err)

	assert.Equal(t, 10, hdr.PointCount)
	assert.Equal(t, in.Stride, hdr.Stride)
	assert.Equal(t, in.Fields, hdr.Fields)
	assert.Equal(t, format.Binary, hdr.DataKind)
	assert.Equal(t, cloud.IdentityPose(), hdr.Pose)
	assert.Greater(t, hdr.DataOffset, int64(0))
}

// TestOffsetWrapper writes a PCD behind a fake archive header and reads
// it back through the offset parameter.
func TestOffsetWrapper(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	in := makeTestCloud(t, 5)
	require.NoError(t, NewWriterWithFS(fs, format.Binary).Write("inner.pcd", in, cloud.IdentityPose()))

	inner, err := fs.Open("inner.pcd")
	require.NoError(t, err)
	payload := make([]byte, 1<<20)
	n, _ := inner.Read(payload)
	wrapper := append(make([]byte, 512), payload[:n]...)
	fs.WriteFile("archive.bin", wrapper)

	r := NewReaderWithFS(fs)
	hdr, err := r.ReadHeader("archive.bin", 512)
	require.NoError(t, err)
	assert.Equal(t, 5, hdr.PointCount)

	out, _, _, err := r.Read("archive.bin", 512)
	require.NoError(t, err)
	assert.Equal(t, in.Data, out.Data)

	_, err = r.ReadHeader("archive.bin", int64(len(wrapper)+1))
	assert.ErrorIs(t, err, format.ErrOffsetBeyondEOF)
}

func TestHeaderParsing(t *testing.T) {
	header := strings.Join([]string{
		"# a comment the parser skips",
		"VERSION 0.7",
		"FIELDS x y z",
		"SIZE 4 4 4",
		"TYPE F F F",
		"COUNT 1 1 1",
		"WIDTH 2",
		"HEIGHT 1",
		"VIEWPOINT 0 0 0 1 0 0 0",
		"POINTS 2",
		"DATA ascii",
		"1.0 2.0 3.0",
		"4.0 5.0 6.0",
		"",
	}, "\n")

	fs := fsutil.NewMemoryFileSystem()
	fs.WriteFile("hand.pcd", []byte(header))

	r := NewReaderWithFS(fs)
	out, pose, _, err := r.Read("hand.pcd", 0)
	require.NoError(t, err)
	require.Equal(t, 2, out.Points())
	assert.Equal(t, cloud.IdentityPose(), pose)

	v, err := out.Value(1, "z", 0)
	require.NoError(t, err)
	assert.Equal(t, 6.0, v)
}

// TestHeaderSkipsPaddingLines checks blank and whitespace-only lines
// between header entries are skipped like comments, not parsed as
// entries.
func TestHeaderSkipsPaddingLines(t *testing.T) {
	content := strings.Join([]string{
		"VERSION 0.7",
		"   ",
		"FIELDS x",
		"\t",
		"SIZE 4",
		"TYPE F",
		"COUNT 1",
		"WIDTH 1",
		"HEIGHT 1",
		"VIEWPOINT 0 0 0 1 0 0 0",
		"POINTS 1",
		"DATA ascii",
		"1.5",
		"",
	}, "\n")

	fs := fsutil.NewMemoryFileSystem()
	fs.WriteFile("padded.pcd", []byte(content))

	r := NewReaderWithFS(fs)
	hdr, err := r.ReadHeader("padded.pcd", 0)
	require.NoError(t, err)
	assert.Equal(t, 1, hdr.PointCount)
	require.Len(t, hdr.Fields, 1)
	assert.Equal(t, "x", hdr.Fields[0].Name)

	out, _, _, err := r.Read("padded.pcd", 0)
	require.NoError(t, err)
	v, err := out.Value(0, "x", 0)
	require.NoError(t, err)
	assert.Equal(t, 1.5, v)
}

func TestHeaderRejects(t *testing.T) {
	base := map[string]string{
		"VERSION":   "VERSION 0.7",
		"FIELDS":    "FIELDS x",
		"SIZE":      "SIZE 4",
		"TYPE":      "TYPE F",
		"COUNT":     "COUNT 1",
		"WIDTH":     "WIDTH 1",
		"HEIGHT":    "HEIGHT 1",
		"VIEWPOINT": "VIEWPOINT 0 0 0 1 0 0 0",
		"POINTS":    "POINTS 1",
		"DATA":      "DATA ascii",
	}
	order := []string{"VERSION", "FIELDS", "SIZE", "TYPE", "COUNT", "WIDTH", "HEIGHT", "VIEWPOINT", "POINTS", "DATA"}

	render := func(override map[string]string) string {
		var sb strings.Builder
		for _, key := range order {
			line := base[key]
			if o, ok := override[key]; ok {
				line = o
			}
			if line != "" {
				sb.WriteString(line + "\n")
			}
		}
		sb.WriteString("1.0\n")
		return sb.String()
	}

	cases := []struct {
		name     string
		override map[string]string
	}{
		{"bad version", map[string]string{"VERSION": "VERSION 0.5"}},
		{"size mismatch", map[string]string{"SIZE": "SIZE 4 4"}},
		{"type mismatch", map[string]string{"TYPE": "TYPE F F"}},
		{"unsupported type", map[string]string{"SIZE": "SIZE 8", "TYPE": "TYPE I"}},
		{"bad width", map[string]string{"WIDTH": "WIDTH banana"}},
		{"bad viewpoint", map[string]string{"VIEWPOINT": "VIEWPOINT 0 0 0 1"}},
		{"bad data kind", map[string]string{"DATA": "DATA hologram"}},
		{"missing fields", map[string]string{"FIELDS": ""}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fs := fsutil.NewMemoryFileSystem()
			fs.WriteFile("bad.pcd", []byte(render(tc.override)))
			_, err := NewReaderWithFS(fs).ReadHeader("bad.pcd", 0)
			require.Error(t, err)
		})
	}
}

func TestTruncatedBinaryPayload(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	in := makeTestCloud(t, 8)
	require.NoError(t, NewWriterWithFS(fs, format.Binary).Write("cloud.pcd", in, cloud.IdentityPose()))

	full, err := fs.Open("cloud.pcd")
	require.NoError(t, err)
	buf := make([]byte, 1<<20)
	n, _ := full.Read(buf)
	fs.WriteFile("trunc.pcd", buf[:n-10])

	_, _, _, readErr := NewReaderWithFS(fs).Read("trunc.pcd", 0)
	var fe *format.FormatError
	require.ErrorAs(t, readErr, &fe)
	assert.Contains(t, fe.Msg, "truncated")
}

func TestAsciiDataCountMismatch(t *testing.T) {
	content := fmt.Sprintf("VERSION 0.7\nFIELDS x\nSIZE 4\nTYPE F\nCOUNT 1\nWIDTH %d\nHEIGHT 1\nPOINTS %d\nDATA ascii\n1.0\n2.0\n", 3, 3)
	fs := fsutil.NewMemoryFileSystem()
	fs.WriteFile("short.pcd", []byte(content))

	_, _, _, err := NewReaderWithFS(fs).Read("short.pcd", 0)
	var fe *format.FormatError
	require.ErrorAs(t, err, &fe)
}

func TestReaderExtension(t *testing.T) {
	assert.Equal(t, ".pcd", NewReader().Extension())
}
