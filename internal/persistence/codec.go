package persistence

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/petrijr/orchestra/internal/engine"
	"github.com/petrijr/orchestra/pkg/api"
)

func init() {
	// Argument and option blobs are encoded as interfaces; every concrete
	// type that can travel inside one must be registered.
	gob.Register(engine.Options{})
	gob.Register(map[string]any{})
	gob.Register(map[string]int{})
	gob.Register(map[string]string{})
	gob.Register([]any{})
}

// EncodeValue serializes arbitrary Go values using encoding/gob.
// Callers must ensure that values are gob-encodable and that custom types
// carried inside interfaces are registered with gob.Register.
func EncodeValue(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	var buf bytes.Buffer

	// Encode as interface{} so the payload can be decoded into interface{}.
	iv := v
	if err := gob.NewEncoder(&buf).Encode(&iv); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeValue decodes a payload written by EncodeValue into T. Payloads
// written as a concrete T are accepted too.
func DecodeValue[T any](data []byte) (T, error) {
	var zero T
	if len(data) == 0 {
		return zero, nil
	}

	v, ok, err := decodeAsAny[T](data)
	if err == nil && ok {
		return v, nil
	}
	if err != nil && !mustRetryAsConcrete(err) {
		return zero, err
	}

	var concrete T
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&concrete); err != nil {
		return zero, err
	}
	return concrete, nil
}

func decodeAsAny[T any](data []byte) (T, bool, error) {
	var zero T
	var iv any
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&iv); err != nil {
		return zero, false, err
	}
	if iv == nil {
		return zero, true, nil
	}
	if v, ok := iv.(T); ok {
		return v, true, nil
	}

	// Values encoded through a named type (engine.Options) decode back to
	// that type; convert when T shares its underlying type.
	target := reflect.TypeOf((*T)(nil)).Elem()
	rv := reflect.ValueOf(iv)
	if rv.Type().ConvertibleTo(target) {
		return rv.Convert(target).Interface().(T), true, nil
	}
	return zero, false, fmt.Errorf("gob: decoded %T is not assignable to %s", iv, target)
}

func mustRetryAsConcrete(err error) bool {
	// gob reports an interface/concrete mismatch only through its message.
	s := err.Error()
	return strings.Contains(s, "can only be decoded from remote interface") &&
		strings.Contains(s, "received concrete type")
}

// Field is one persisted visitor field.
type Field struct {
	Kind  engine.FieldKind
	Name  string
	Value []byte
}

// Record is the stored form of one task or process.
type Record struct {
	UUID   string
	Kind   engine.Kind
	State  api.State
	Fields []Field
}

// ErrFieldMismatch is returned when a stored record does not replay the
// field sequence an entity expects.
var ErrFieldMismatch = errors.New("persisted fields do not match entity")

func encodeRecord(rec Record) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(rec); err != nil {
		return nil, fmt.Errorf("encode record %s: %w", rec.UUID, err)
	}
	return buf.Bytes(), nil
}

func decodeRecord(data []byte) (Record, error) {
	var rec Record
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&rec); err != nil {
		return Record{}, fmt.Errorf("decode record: %w", err)
	}
	return rec, nil
}

func encodeFields(fields []Field) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(fields); err != nil {
		return nil, fmt.Errorf("encode fields: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeFields(data []byte) ([]Field, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var fields []Field
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&fields); err != nil {
		return nil, fmt.Errorf("decode fields: %w", err)
	}
	return fields, nil
}
