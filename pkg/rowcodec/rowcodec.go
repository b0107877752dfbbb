package rowcodec

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/minifish-org/tegdb/pkg/catalog"
	"github.com/minifish-org/tegdb/pkg/tegerr"
	"github.com/minifish-org/tegdb/pkg/types"
)

// Serialize encodes a row's non-PK column values into schema's fixed-width
// layout. values need not contain every column: a missing or explicit NULL
// value sets that column's null bit and leaves its slot zeroed.
func Serialize(values map[string]types.Value, schema *catalog.Schema) ([]byte, error) {
	buf := make([]byte, schema.ValueSize)
	nonPK := schema.NonPrimaryKeyColumns()

	for i, col := range nonPK {
		v, present := values[col.Name]
		if !present || v.IsNull() {
			if col.NotNull {
				return nil, tegerr.Constraint(tegerr.ConstraintNotNull, fmt.Sprintf("column %q is NOT NULL", col.Name))
			}
			setNullBit(buf, i)
			continue
		}
		if err := encodeSlot(buf[col.StorageOffset:col.StorageOffset+col.StorageSize], col, v); err != nil {
			return nil, err
		}
	}
	return buf, nil
}

// DeserializeFull decodes every non-PK column from data.
func DeserializeFull(data []byte, schema *catalog.Schema) (map[string]types.Value, error) {
	return deserialize(data, schema, nil)
}

// DeserializeColumns decodes only the named columns, seeking directly to
// each one's offset rather than walking the whole row.
func DeserializeColumns(data []byte, schema *catalog.Schema, columns []string) (map[string]types.Value, error) {
	want := make(map[string]bool, len(columns))
	for _, c := range columns {
		want[c] = true
	}
	return deserialize(data, schema, want)
}

func deserialize(data []byte, schema *catalog.Schema, want map[string]bool) (map[string]types.Value, error) {
	out := make(map[string]types.Value)
	nonPK := schema.NonPrimaryKeyColumns()

	for i, col := range nonPK {
		if want != nil && !want[col.Name] {
			continue
		}
		if isNullBit(data, i) {
			out[col.Name] = types.NullValue
			continue
		}
		v, err := decodeSlot(data[col.StorageOffset:col.StorageOffset+col.StorageSize], col)
		if err != nil {
			return nil, err
		}
		out[col.Name] = v
	}
	return out, nil
}

func setNullBit(buf []byte, colIndex int) {
	buf[colIndex/8] |= 1 << uint(colIndex%8)
}

func isNullBit(buf []byte, colIndex int) bool {
	return buf[colIndex/8]&(1<<uint(colIndex%8)) != 0
}

func encodeSlot(slot []byte, col catalog.Column, v types.Value) error {
	switch col.DataType {
	case types.Integer:
		if v.Type != types.Integer {
			return tegerr.New(tegerr.KindTypeMismatch, fmt.Sprintf("column %q expects INTEGER", col.Name))
		}
		binary.LittleEndian.PutUint64(slot, uint64(v.I))
		return nil

	case types.Real:
		if v.Type != types.Real {
			return tegerr.New(tegerr.KindTypeMismatch, fmt.Sprintf("column %q expects REAL", col.Name))
		}
		binary.LittleEndian.PutUint64(slot, math.Float64bits(v.F))
		return nil

	case types.Text:
		if v.Type != types.Text {
			return tegerr.New(tegerr.KindTypeMismatch, fmt.Sprintf("column %q expects TEXT", col.Name))
		}
		b := []byte(v.S)
		if uint32(len(b)) > col.MaxLen {
			return tegerr.New(tegerr.KindValueTooLarge, fmt.Sprintf("column %q: text length %d exceeds max_len %d", col.Name, len(b), col.MaxLen))
		}
		binary.LittleEndian.PutUint32(slot[0:4], uint32(len(b)))
		copy(slot[4:], b)
		return nil

	case types.Blob:
		if v.Type != types.Blob {
			return tegerr.New(tegerr.KindTypeMismatch, fmt.Sprintf("column %q expects BLOB", col.Name))
		}
		if uint32(len(v.B)) > col.MaxLen {
			return tegerr.New(tegerr.KindValueTooLarge, fmt.Sprintf("column %q: blob length %d exceeds max_len %d", col.Name, len(v.B), col.MaxLen))
		}
		binary.LittleEndian.PutUint32(slot[0:4], uint32(len(v.B)))
		copy(slot[4:], v.B)
		return nil

	case types.Vector:
		if v.Type != types.Vector {
			return tegerr.New(tegerr.KindTypeMismatch, fmt.Sprintf("column %q expects VECTOR", col.Name))
		}
		if uint32(len(v.Vec)) != col.Dim {
			return tegerr.New(tegerr.KindDimensionMismatch, fmt.Sprintf("column %q: vector dimension %d does not match declared dimension %d", col.Name, len(v.Vec), col.Dim))
		}
		for i, f := range v.Vec {
			binary.LittleEndian.PutUint64(slot[i*8:i*8+8], math.Float64bits(f))
		}
		return nil

	default:
		return tegerr.New(tegerr.KindTypeMismatch, fmt.Sprintf("column %q has unsupported data type", col.Name))
	}
}

func decodeSlot(slot []byte, col catalog.Column) (types.Value, error) {
	switch col.DataType {
	case types.Integer:
		return types.IntValue(int64(binary.LittleEndian.Uint64(slot))), nil

	case types.Real:
		return types.RealValue(math.Float64frombits(binary.LittleEndian.Uint64(slot))), nil

	case types.Text:
		n := binary.LittleEndian.Uint32(slot[0:4])
		return types.TextValue(string(slot[4 : 4+n])), nil

	case types.Blob:
		n := binary.LittleEndian.Uint32(slot[0:4])
		b := make([]byte, n)
		copy(b, slot[4:4+n])
		return types.BlobValue(b), nil

	case types.Vector:
		dim := int(col.Dim)
		vec := make([]float64, dim)
		for i := 0; i < dim; i++ {
			vec[i] = math.Float64frombits(binary.LittleEndian.Uint64(slot[i*8 : i*8+8]))
		}
		return types.VectorValue(vec), nil

	default:
		return types.Value{}, tegerr.New(tegerr.KindTypeMismatch, fmt.Sprintf("column %q has unsupported data type", col.Name))
	}
}
