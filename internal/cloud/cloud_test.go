package cloud

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestFieldTypeSizes(t *testing.T) {
	cases := map[FieldType]int{
		Int8: 1, UInt8: 1,
		Int16: 2, UInt16: 2,
		Int32: 4, UInt32: 4, Float32: 4,
		Float64: 8,
	}
	for ft, want := range cases {
		if got := ft.Size(); got != want {
			t.Errorf("%s: expected size %d, got %d", ft, want, got)
		}
	}
	if FieldType(0).Size() != 0 {
		t.Error("unknown type should report size 0")
	}
}

func TestNormalizeFieldsAssignsPackedOffsets(t *testing.T) {
	fields := []Field{
		{Name: "x", Type: Float32, Count: 1, Offset: 99}, // caller offsets ignored
		{Name: "rgb", Type: UInt8, Count: 3},
		{Name: "t", Type: Float64, Count: 1},
	}
	normalised, stride, err := NormalizeFields(fields)
	if err != nil {
		t.Fatalf("NormalizeFields: %v", err)
	}

	want := []Field{
		{Name: "x", Type: Float32, Count: 1, Offset: 0},
		{Name: "rgb", Type: UInt8, Count: 3, Offset: 4},
		{Name: "t", Type: Float64, Count: 1, Offset: 7},
	}
	if diff := cmp.Diff(want, normalised); diff != "" {
		t.Errorf("normalised schema mismatch (-want +got):\n%s", diff)
	}
	if stride != 15 {
		t.Errorf("expected stride 15, got %d", stride)
	}
	if Stride(normalised) != stride {
		t.Errorf("Stride disagrees with NormalizeFields: %d != %d", Stride(normalised), stride)
	}

	// Offsets must tile the record without overlap.
	covered := make([]bool, stride)
	for _, f := range normalised {
		for b := f.Offset; b < f.Offset+f.Width(); b++ {
			if covered[b] {
				t.Fatalf("byte %d covered twice", b)
			}
			covered[b] = true
		}
	}
	for b, ok := range covered {
		if !ok {
			t.Errorf("byte %d uncovered", b)
		}
	}
}

func TestNormalizeFieldsRejects(t *testing.T) {
	cases := []struct {
		name   string
		fields []Field
	}{
		{"empty schema", nil},
		{"unnamed field", []Field{{Type: Float32, Count: 1}}},
		{"unknown type", []Field{{Name: "x", Type: 99, Count: 1}}},
		{"zero count", []Field{{Name: "x", Type: Float32, Count: 0}}},
		{"negative count", []Field{{Name: "x", Type: Float32, Count: -2}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, _, err := NormalizeFields(tc.fields); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestTokensPerRecord(t *testing.T) {
	fields := []Field{
		{Name: "pos", Type: Float32, Count: 3},
		{Name: "i", Type: UInt8, Count: 1},
	}
	if got := TokensPerRecord(fields); got != 4 {
		t.Errorf("expected 4 tokens per record, got %d", got)
	}
}

func TestCloudRecordAccess(t *testing.T) {
	fields, stride, err := NormalizeFields([]Field{
		{Name: "x", Type: Float32, Count: 1},
		{Name: "n", Type: Int32, Count: 1},
	})
	if err != nil {
		t.Fatalf("NormalizeFields: %v", err)
	}

	c := New(fields, 3)
	if len(c.Data) != 3*stride {
		t.Fatalf("expected %d payload bytes, got %d", 3*stride, len(c.Data))
	}
	if c.Points() != 3 {
		t.Errorf("expected 3 points, got %d", c.Points())
	}

	rec := c.Record(1)
	if len(rec) != stride {
		t.Errorf("expected record length %d, got %d", stride, len(rec))
	}
	// Record slices alias the payload.
	rec[0] = 0xAB
	if c.Data[stride] != 0xAB {
		t.Error("Record does not alias the payload buffer")
	}
}

func TestValueErrors(t *testing.T) {
	fields, _, _ := NormalizeFields([]Field{{Name: "x", Type: Float32, Count: 2}})
	c := New(fields, 1)

	if _, err := c.Value(0, "missing", 0); err == nil {
		t.Error("expected error for unknown field")
	}
	if _, err := c.Value(0, "x", 2); err == nil {
		t.Error("expected error for element out of range")
	}
	if _, err := c.Value(0, "x", 1); err != nil {
		t.Errorf("in-range element: %v", err)
	}
}

func TestIdentityPose(t *testing.T) {
	p := IdentityPose()
	if p.Origin.X != 0 || p.Origin.Y != 0 || p.Origin.Z != 0 {
		t.Errorf("expected zero origin, got %+v", p.Origin)
	}
	if p.Orientation.Real != 1 || p.Orientation.Imag != 0 || p.Orientation.Jmag != 0 || p.Orientation.Kmag != 0 {
		t.Errorf("expected identity quaternion, got %+v", p.Orientation)
	}
}
