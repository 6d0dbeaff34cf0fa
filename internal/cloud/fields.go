package cloud

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseFieldSpec parses the command-line schema syntax used by the tools:
// a comma-separated list of name:type entries with an optional xN repeat
// suffix, for example "x:f32,y:f32,z:f32,intensity:u8,normal:f32x3".
// Offsets are assigned from order; the returned schema is normalised.
func ParseFieldSpec(spec string) ([]Field, error) {
	if strings.TrimSpace(spec) == "" {
		return nil, fmt.Errorf("empty field spec")
	}
	var fields []Field
	for _, ent := range strings.Split(spec, ",") {
		ent = strings.TrimSpace(ent)
		if ent == "" {
			continue
		}
		name, typeSpec, ok := strings.Cut(ent, ":")
		if !ok {
			return nil, fmt.Errorf("field entry %q: want name:type", ent)
		}
		count := 1
		if base, rep, hasRep := strings.Cut(typeSpec, "x"); hasRep {
			n, err := strconv.Atoi(rep)
			if err != nil || n <= 0 {
				return nil, fmt.Errorf("field entry %q: bad repeat count %q", ent, rep)
			}
			typeSpec = base
			count = n
		}
		t, err := parseFieldType(typeSpec)
		if err != nil {
			return nil, fmt.Errorf("field entry %q: %v", ent, err)
		}
		fields = append(fields, Field{Name: strings.TrimSpace(name), Type: t, Count: count})
	}
	normalised, _, err := NormalizeFields(fields)
	return normalised, err
}

func parseFieldType(s string) (FieldType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "i8", "int8":
		return Int8, nil
	case "u8", "uint8":
		return UInt8, nil
	case "i16", "int16":
		return Int16, nil
	case "u16", "uint16":
		return UInt16, nil
	case "i32", "int32":
		return Int32, nil
	case "u32", "uint32":
		return UInt32, nil
	case "f32", "float32":
		return Float32, nil
	case "f64", "float64":
		return Float64, nil
	default:
		return 0, fmt.Errorf("unknown field type %q", s)
	}
}
