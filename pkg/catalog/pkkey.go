package catalog

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/minifish-org/tegdb/pkg/tegerr"
	"github.com/minifish-org/tegdb/pkg/types"
)

// intPKWidth is the fixed width of an integer primary-key component: a
// 20-character zero-padded decimal string. This precludes negative PKs in
// order-preserving form, a known latent constraint.
const intPKWidth = 20

// escapePKText makes ':' unambiguous inside a text PK component so that
// splitting the encoded key on ':' recovers the original components.
func escapePKText(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, ":", `\:`)
	return s
}

func unescapePKText(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// encodePKComponent encodes a single primary-key value the way EncodeRowKey
// encodes each of its components, so range bounds and full keys agree byte
// for byte.
func encodePKComponent(col Column, v types.Value) (string, error) {
	switch col.DataType {
	case types.Integer:
		if v.Type != types.Integer {
			return "", tegerr.New(tegerr.KindTypeMismatch, fmt.Sprintf("primary key column %q expects INTEGER", col.Name))
		}
		if v.I < 0 {
			return "", tegerr.New(tegerr.KindOther, fmt.Sprintf("negative value for integer primary key column %q is unsupported", col.Name))
		}
		return fmt.Sprintf("%0*d", intPKWidth, v.I), nil
	case types.Text:
		if v.Type != types.Text {
			return "", tegerr.New(tegerr.KindTypeMismatch, fmt.Sprintf("primary key column %q expects TEXT", col.Name))
		}
		return escapePKText(v.S), nil
	default:
		return "", tegerr.New(tegerr.KindTypeMismatch, fmt.Sprintf("column %q is not a supported primary key type", col.Name))
	}
}

// EncodeRowKey builds the storage key for a row of table using schema's PK
// column order: "<table>:" followed by each PK component, colon-separated.
func EncodeRowKey(schema *Schema, pkValues []types.Value) (string, error) {
	pkCols := schema.PrimaryKeyColumns()
	if len(pkValues) != len(pkCols) {
		return "", tegerr.New(tegerr.KindOther, fmt.Sprintf("expected %d primary key values, got %d", len(pkCols), len(pkValues)))
	}

	parts := make([]string, len(pkCols))
	for i, col := range pkCols {
		part, err := encodePKComponent(col, pkValues[i])
		if err != nil {
			return "", err
		}
		parts[i] = part
	}

	return schema.Table + ":" + strings.Join(parts, ":"), nil
}

// EncodeRowKeyPrefix encodes the leading prefixValues (the first len(prefixValues)
// primary-key columns, in schema order) into a key prefix usable as a scan
// bound: "<table>:val1:val2:" with a trailing separator. An empty
// prefixValues returns just "<table>:".
func EncodeRowKeyPrefix(schema *Schema, prefixValues []types.Value) (string, error) {
	pkCols := schema.PrimaryKeyColumns()
	if len(prefixValues) > len(pkCols) {
		return "", tegerr.New(tegerr.KindOther, "primary key prefix longer than the primary key itself")
	}
	var b strings.Builder
	b.WriteString(schema.Table)
	b.WriteByte(':')
	for i, v := range prefixValues {
		part, err := encodePKComponent(pkCols[i], v)
		if err != nil {
			return "", err
		}
		b.WriteString(part)
		b.WriteByte(':')
	}
	return b.String(), nil
}

// EncodeRowKeyBound encodes prefixValues followed by a bound value for the
// PK column at index len(prefixValues), WITHOUT a trailing separator — used
// to build an inclusive/exclusive range-scan bound for PrimaryKeyRange plans.
func EncodeRowKeyBound(schema *Schema, prefixValues []types.Value, bound types.Value) (string, error) {
	pkCols := schema.PrimaryKeyColumns()
	idx := len(prefixValues)
	if idx >= len(pkCols) {
		return "", tegerr.New(tegerr.KindOther, "primary key bound column index out of range")
	}
	p, err := EncodeRowKeyPrefix(schema, prefixValues)
	if err != nil {
		return "", err
	}
	part, err := encodePKComponent(pkCols[idx], bound)
	if err != nil {
		return "", err
	}
	return p + part, nil
}

// DecodeRowKey reconstructs the primary-key values from a row's storage
// key, used when a row's non-PK columns are decoded from the value but the
// PK columns must come back from the key (IOT layout).
func DecodeRowKey(schema *Schema, key string) ([]types.Value, error) {
	prefix := schema.Table + ":"
	if !strings.HasPrefix(key, prefix) {
		return nil, tegerr.New(tegerr.KindOther, fmt.Sprintf("key %q does not belong to table %q", key, schema.Table))
	}
	rest := key[len(prefix):]

	pkCols := schema.PrimaryKeyColumns()
	parts := splitUnescaped(rest)
	if len(parts) != len(pkCols) {
		return nil, tegerr.New(tegerr.KindCorrupted, fmt.Sprintf("row key %q has %d primary key components, schema expects %d", key, len(parts), len(pkCols)))
	}

	values := make([]types.Value, len(pkCols))
	for i, col := range pkCols {
		switch col.DataType {
		case types.Integer:
			n, err := strconv.ParseInt(parts[i], 10, 64)
			if err != nil {
				return nil, tegerr.Wrap(tegerr.KindCorrupted, "decode integer primary key component", err)
			}
			values[i] = types.IntValue(n)
		case types.Text:
			values[i] = types.TextValue(unescapePKText(parts[i]))
		default:
			return nil, tegerr.New(tegerr.KindTypeMismatch, fmt.Sprintf("column %q is not a supported primary key type", col.Name))
		}
	}
	return values, nil
}

// EncodeValueToken renders any non-vector value as a deterministic,
// collision-free string component for use in a UX: unique-index key. Unlike
// encodePKComponent it need not be order-preserving, only injective.
func EncodeValueToken(v types.Value) (string, error) {
	switch v.Type {
	case types.Integer:
		return "i" + strconv.FormatInt(v.I, 10), nil
	case types.Real:
		return "f" + strconv.FormatFloat(v.F, 'g', -1, 64), nil
	case types.Text:
		return "t" + escapePKText(v.S), nil
	case types.Blob:
		return "b" + hex.EncodeToString(v.B), nil
	default:
		return "", tegerr.New(tegerr.KindTypeMismatch, "value type "+v.Type.String()+" cannot back a unique index")
	}
}

// splitUnescaped splits s on ':' while treating "\:" as a literal colon and
// "\\" as a literal backslash, the inverse of escapePKText.
func splitUnescaped(s string) []string {
	var parts []string
	var cur strings.Builder
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\':
			if i+1 < len(s) {
				cur.WriteByte(s[i+1])
				i++
			}
		case ':':
			parts = append(parts, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(s[i])
		}
	}
	parts = append(parts, cur.String())
	return parts
}
