// Package storage writes one photo directly to object storage through a
// server-issued presigned POST descriptor, retrying transient failures.
package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// Field is one authorization form field of a presigned POST.
type Field struct {
	Name  string
	Value string
}

// Fields keeps presigned form fields in the order the server issued them. The
// storage backend validates its signature over the exact multipart layout, so the
// order must survive decoding.
type Fields []Field

// Get returns the value of the named field.
func (f Fields) Get(name string) (string, bool) {
	for _, field := range f {
		if field.Name == name {
			return field.Value, true
		}
	}
	return "", false
}

// UnmarshalJSON decodes a JSON object of string values without losing key order.
func (f *Fields) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*f = nil
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("presigned fields: expected object, got %v", tok)
	}

	fields := Fields{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := tok.(string)
		if !ok {
			return fmt.Errorf("presigned fields: invalid key %v", tok)
		}

		var value string
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("presigned field %s: %w", name, err)
		}
		fields = append(fields, Field{Name: name, Value: value})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}

	*f = fields
	return nil
}

// MarshalJSON encodes the fields as a JSON object in their original order.
func (f Fields) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, field := range f {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(field.Name)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(field.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Descriptor authorizes exactly one storage write. Its lifetime is unknown to the
// client, so it must not outlive the upload it was requested for.
type Descriptor struct {
	URL    string `json:"url"`
	Fields Fields `json:"fields"`
}

// File is a photo waiting to be uploaded.
type File interface {
	Name() string
	Size() int64
	ContentType() string
	// Open returns a fresh reader positioned at the start of the file. Open is called
	// once per attempt.
	Open() (io.ReadCloser, error)
}
