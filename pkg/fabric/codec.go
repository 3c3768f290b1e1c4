package fabric

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"

	json "github.com/goccy/go-json"
	"github.com/vmihailenco/msgpack/v5"
)

// Codec serializes payloads for cross-process transport. In-process delivery
// passes pointers and never touches a codec.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	Name() string
}

// NewCodec selects a codec by name: "msgpack" (default compact binary) or
// "json" (gzip-compressed JSON for interop debugging).
func NewCodec(name string) (Codec, error) {
	switch name {
	case "", "msgpack":
		return msgpackCodec{}, nil
	case "json":
		return gzipJSONCodec{}, nil
	default:
		return nil, fmt.Errorf("unknown codec %q", name)
	}
}

type msgpackCodec struct{}

func (msgpackCodec) Marshal(v any) ([]byte, error)   { return msgpack.Marshal(v) }
func (msgpackCodec) Unmarshal(d []byte, v any) error { return msgpack.Unmarshal(d, v) }
func (msgpackCodec) Name() string                    { return "msgpack" }

type gzipJSONCodec struct{}

func (gzipJSONCodec) Name() string { return "json+gzip" }

func (gzipJSONCodec) Marshal(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("json marshal: %w", err)
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return nil, fmt.Errorf("gzip write: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("gzip close: %w", err)
	}
	return buf.Bytes(), nil
}

func (gzipJSONCodec) Unmarshal(data []byte, v any) error {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("gzip reader: %w", err)
	}
	defer zr.Close()

	raw, err := io.ReadAll(zr)
	if err != nil {
		return fmt.Errorf("gzip read: %w", err)
	}
	return json.Unmarshal(raw, v)
}
