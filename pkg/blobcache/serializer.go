package blobcache

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"google.golang.org/protobuf/proto"
)

// Serializer converts values to and from the bytes kept in a BlobStore.
// Unmarshal receives a pointer to the destination value.
type Serializer interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// JSONSerializer encodes values as JSON. Unless AllowUnknownFields is set,
// decoding rejects objects carrying fields the destination type does not
// declare, so a value stored as one type cannot silently decode as another.
type JSONSerializer struct {
	AllowUnknownFields bool
}

// Marshal encodes v as JSON.
func (JSONSerializer) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Unmarshal decodes exactly one JSON value from data into v.
func (s JSONSerializer) Unmarshal(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	if !s.AllowUnknownFields {
		dec.DisallowUnknownFields()
	}
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("unexpected data after JSON value")
	}
	return nil
}

// ProtoSerializer encodes protobuf messages in the binary wire format.
// Values that are not proto.Message are rejected.
type ProtoSerializer struct{}

// Marshal encodes v, which must be a proto.Message.
func (ProtoSerializer) Marshal(v any) ([]byte, error) {
	m, ok := v.(proto.Message)
	if !ok {
		return nil, fmt.Errorf("%T is not a proto.Message", v)
	}
	return proto.Marshal(m)
}

// Unmarshal decodes data into v. v is either a proto.Message or a pointer to
// a message pointer, in which case a new message is allocated.
func (ProtoSerializer) Unmarshal(data []byte, v any) error {
	if m, ok := v.(proto.Message); ok {
		return proto.Unmarshal(data, m)
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return fmt.Errorf("cannot decode protobuf into %T", v)
	}
	elem := rv.Elem()
	if elem.Kind() != reflect.Pointer {
		return fmt.Errorf("%T does not point to a proto.Message", v)
	}
	msgPtr := reflect.New(elem.Type().Elem())
	m, ok := msgPtr.Interface().(proto.Message)
	if !ok {
		return fmt.Errorf("%T does not point to a proto.Message", v)
	}
	if err := proto.Unmarshal(data, m); err != nil {
		return err
	}
	elem.Set(msgPtr)
	return nil
}
