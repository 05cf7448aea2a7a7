package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

const (
	// CurrentSchemaVersion is the record layout written by Encode.
	CurrentSchemaVersion uint8 = recordFormatVersionV2

	recordFormatVersionV2 uint8 = 2
	recordFormatVersionV1 uint8 = 1
)

const (
	flagDebug byte = 1 << iota
	flagPersistent
)

// ErrUnsupportedSchema is returned by Decode for unknown layout versions.
var ErrUnsupportedSchema = errors.New("unsupported record schema version")

// Encode serializes a record using the current schema.
//
// Layout (v2): version, kind, flags, state, appID, userAgent, authorization,
// profileType (each uint16 length prefixed), savedAt (int64 big endian).
func Encode(r *Record) ([]byte, error) {
	if r == nil {
		return nil, errors.New("nil record")
	}

	var buf bytes.Buffer

	buf.WriteByte(CurrentSchemaVersion)
	buf.WriteByte(byte(r.Kind))

	var flags byte
	if r.Debug {
		flags |= flagDebug
	}
	if r.Persistent {
		flags |= flagPersistent
	}
	buf.WriteByte(flags)
	buf.WriteByte(r.State)

	for _, field := range []struct {
		name  string
		value string
	}{
		{"appID", r.AppID},
		{"userAgent", r.UserAgent},
		{"authorization", r.Authorization},
		{"profileType", r.ProfileType},
	} {
		if err := writeString(&buf, field.name, field.value); err != nil {
			return nil, err
		}
	}

	if err := binary.Write(&buf, binary.BigEndian, r.SavedAt); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Decode parses any supported layout. Records written with an older layout
// keep their SchemaVersion so callers can rewrite them.
func Decode(data []byte) (*Record, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != recordFormatVersionV2 && version != recordFormatVersionV1 {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedSchema, version)
	}

	r := &Record{SchemaVersion: version}

	kind, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	r.Kind = Kind(kind)

	flags, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	r.Debug = flags&flagDebug != 0
	r.Persistent = flags&flagPersistent != 0

	if r.State, err = reader.ReadByte(); err != nil {
		return nil, err
	}

	for _, dst := range []*string{&r.AppID, &r.UserAgent, &r.Authorization, &r.ProfileType} {
		if *dst, err = readString(reader); err != nil {
			return nil, err
		}
	}

	if version == recordFormatVersionV2 {
		if err := binary.Read(reader, binary.BigEndian, &r.SavedAt); err != nil {
			return nil, err
		}
	}

	return r, nil
}

func writeString(buf *bytes.Buffer, name, value string) error {
	if len(value) > math.MaxUint16 {
		return fmt.Errorf("%s too long", name)
	}
	if err := binary.Write(buf, binary.BigEndian, uint16(len(value))); err != nil {
		return err
	}
	buf.WriteString(value)
	return nil
}

func readString(reader *bytes.Reader) (string, error) {
	var n uint16
	if err := binary.Read(reader, binary.BigEndian, &n); err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(reader, b); err != nil {
		return "", err
	}
	return string(b), nil
}
