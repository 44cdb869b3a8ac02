package record

import (
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// recordTag marks a record in CBOR so it stays distinct from a list. The
// content is a flat [name, value, name, value, ...] array, which keeps field
// order (a CBOR map would be key-sorted by the deterministic encoder).
const recordTag = 40100

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("record: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
		// Positive integers would otherwise decode as uint64.
		IntDec: cbor.IntDecConvertSigned,
		// Sources pass raw bytes through, so strings need not be valid UTF-8.
		UTF8: cbor.UTF8DecodeInvalid,
	}.DecMode()
	if err != nil {
		panic("record: CBOR decoder initialization failed: " + err.Error())
	}
}

// EncodeCBOR encodes a batch of records as one CBOR array.
func EncodeCBOR(recs []Record) ([]byte, error) {
	items := make([]any, len(recs))
	for i, r := range recs {
		items[i] = recordToCBOR(r)
	}
	return encMode.Marshal(items)
}

// DecodeCBOR decodes a batch produced by EncodeCBOR.
func DecodeCBOR(data []byte) ([]Record, error) {
	var items []any
	if err := decMode.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("record: decode cbor: %w", err)
	}
	out := make([]Record, len(items))
	for i, it := range items {
		v, err := valueFromCBOR(it)
		if err != nil {
			return nil, fmt.Errorf("record: decode cbor item %d: %w", i, err)
		}
		r, ok := v.AsRecord()
		if !ok {
			return nil, fmt.Errorf("record: decode cbor item %d: expected record, got %s", i, v.Kind())
		}
		out[i] = r
	}
	return out, nil
}

// MarshalCBOR implements cbor.Marshaler.
func (r Record) MarshalCBOR() ([]byte, error) {
	return encMode.Marshal(recordToCBOR(r))
}

// UnmarshalCBOR implements cbor.Unmarshaler.
func (r *Record) UnmarshalCBOR(data []byte) error {
	var raw any
	if err := decMode.Unmarshal(data, &raw); err != nil {
		return err
	}
	v, err := valueFromCBOR(raw)
	if err != nil {
		return err
	}
	rec, ok := v.AsRecord()
	if !ok {
		return fmt.Errorf("record: expected record, got %s", v.Kind())
	}
	*r = rec
	return nil
}

func recordToCBOR(r Record) cbor.Tag {
	content := make([]any, 0, 2*len(r.fields))
	for _, f := range r.fields {
		content = append(content, f.Name, valueToCBOR(f.Value))
	}
	return cbor.Tag{Number: recordTag, Content: content}
}

func valueToCBOR(v Value) any {
	switch v.kind {
	case KindBool:
		return v.n == 1
	case KindInt:
		return v.n
	case KindFloat:
		return v.f
	case KindString:
		return v.s
	case KindList:
		items := make([]any, len(v.list))
		for i, it := range v.list {
			items[i] = valueToCBOR(it)
		}
		return items
	case KindRecord:
		return recordToCBOR(*v.rec)
	}
	return nil
}

func valueFromCBOR(raw any) (Value, error) {
	switch t := raw.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(t), nil
	case int64:
		return Int(t), nil
	case float64:
		return Float(t), nil
	case float32:
		return Float(float64(t)), nil
	case string:
		return String(t), nil
	case []any:
		items := make([]Value, len(t))
		for i, it := range t {
			v, err := valueFromCBOR(it)
			if err != nil {
				return Value{}, err
			}
			items[i] = v
		}
		return Value{kind: KindList, list: items}, nil
	case cbor.Tag:
		if t.Number != recordTag {
			return Value{}, fmt.Errorf("unexpected cbor tag %d", t.Number)
		}
		content, ok := t.Content.([]any)
		if !ok || len(content)%2 != 0 {
			return Value{}, fmt.Errorf("malformed record content %T", t.Content)
		}
		b := NewBuilder(len(content) / 2)
		for i := 0; i < len(content); i += 2 {
			name, ok := content[i].(string)
			if !ok {
				return Value{}, fmt.Errorf("record field name must be a string, got %T", content[i])
			}
			v, err := valueFromCBOR(content[i+1])
			if err != nil {
				return Value{}, err
			}
			if err := b.Set(name, v); err != nil {
				return Value{}, err
			}
		}
		return Nested(b.Build()), nil
	}
	return Value{}, fmt.Errorf("unsupported cbor value %T", raw)
}
