package store

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

const (
	recordFormatBinary  = 1
	recordFormatMsgpack = 2

	maxKeyLen   = 1 << 10
	maxValueLen = 1 << 20
	maxPairs    = 1 << 12
)

// Codec serializes records for storage. Encoders write exactly one
// format; decoders accept every known format so the payload encoding can
// be switched without invalidating live sessions.
type Codec interface {
	Encode(rec *Record) ([]byte, error)
	Decode(data []byte) (*Record, error)
}

// NewCodec maps a configuration string to a [Codec]. Recognized encodings
// are "binary" (default) and "msgpack".
func NewCodec(encoding string) (Codec, error) {
	switch encoding {
	case "", "binary":
		return binaryCodec{}, nil
	case "msgpack":
		return msgpackCodec{}, nil
	default:
		return nil, fmt.Errorf("unknown session encoding %q", encoding)
	}
}

// binaryCodec is the compact default: a format byte, a big-endian pair
// count, length-prefixed key/value pairs, then the three timestamps. The
// identifier is not embedded; the storage key carries it.
type binaryCodec struct{}

func (binaryCodec) Encode(rec *Record) ([]byte, error) {
	if len(rec.Data) > maxPairs {
		return nil, errors.New("too many session keys")
	}

	var buf bytes.Buffer
	buf.WriteByte(recordFormatBinary)

	if err := binary.Write(&buf, binary.BigEndian, uint16(len(rec.Data))); err != nil {
		return nil, err
	}
	for key, value := range rec.Data {
		if len(key) > maxKeyLen {
			return nil, fmt.Errorf("session key %q too long", key)
		}
		if len(value) > maxValueLen {
			return nil, fmt.Errorf("session value for %q too large", key)
		}
		if err := binary.Write(&buf, binary.BigEndian, uint16(len(key))); err != nil {
			return nil, err
		}
		buf.WriteString(key)
		if err := binary.Write(&buf, binary.BigEndian, uint32(len(value))); err != nil {
			return nil, err
		}
		buf.WriteString(value)
	}

	for _, ts := range []int64{rec.CreatedAt, rec.LastSeenAt, rec.ExpiresAt} {
		if err := binary.Write(&buf, binary.BigEndian, ts); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

func (binaryCodec) Decode(data []byte) (*Record, error) {
	if len(data) == 0 {
		return nil, errors.New("empty session record")
	}
	if data[0] == recordFormatMsgpack {
		return msgpackCodec{}.Decode(data)
	}
	if data[0] != recordFormatBinary {
		return nil, fmt.Errorf("unknown session record format %d", data[0])
	}

	reader := bytes.NewReader(data[1:])

	var count uint16
	if err := binary.Read(reader, binary.BigEndian, &count); err != nil {
		return nil, err
	}
	if int(count) > maxPairs {
		return nil, errors.New("too many session keys")
	}

	rec := &Record{Data: make(map[string]string, count)}
	for i := 0; i < int(count); i++ {
		var keyLen uint16
		if err := binary.Read(reader, binary.BigEndian, &keyLen); err != nil {
			return nil, err
		}
		if int(keyLen) > maxKeyLen {
			return nil, errors.New("session key too long")
		}
		key := make([]byte, keyLen)
		if _, err := io.ReadFull(reader, key); err != nil {
			return nil, err
		}

		var valueLen uint32
		if err := binary.Read(reader, binary.BigEndian, &valueLen); err != nil {
			return nil, err
		}
		if int(valueLen) > maxValueLen {
			return nil, errors.New("session value too large")
		}
		value := make([]byte, valueLen)
		if _, err := io.ReadFull(reader, value); err != nil {
			return nil, err
		}

		rec.Data[string(key)] = string(value)
	}

	for _, ts := range []*int64{&rec.CreatedAt, &rec.LastSeenAt, &rec.ExpiresAt} {
		if err := binary.Read(reader, binary.BigEndian, ts); err != nil {
			return nil, err
		}
	}
	if reader.Len() != 0 {
		return nil, errors.New("trailing bytes in session record")
	}

	return rec, nil
}

type msgpackRecord struct {
	Data       map[string]string `msgpack:"d"`
	CreatedAt  int64             `msgpack:"c"`
	LastSeenAt int64             `msgpack:"l"`
	ExpiresAt  int64             `msgpack:"e"`
}

type msgpackCodec struct{}

func (msgpackCodec) Encode(rec *Record) ([]byte, error) {
	if len(rec.Data) > maxPairs {
		return nil, errors.New("too many session keys")
	}
	payload, err := msgpack.Marshal(msgpackRecord{
		Data:       rec.Data,
		CreatedAt:  rec.CreatedAt,
		LastSeenAt: rec.LastSeenAt,
		ExpiresAt:  rec.ExpiresAt,
	})
	if err != nil {
		return nil, err
	}
	return append([]byte{recordFormatMsgpack}, payload...), nil
}

func (msgpackCodec) Decode(data []byte) (*Record, error) {
	if len(data) == 0 {
		return nil, errors.New("empty session record")
	}
	if data[0] == recordFormatBinary {
		return binaryCodec{}.Decode(data)
	}
	if data[0] != recordFormatMsgpack {
		return nil, fmt.Errorf("unknown session record format %d", data[0])
	}

	var decoded msgpackRecord
	if err := msgpack.Unmarshal(data[1:], &decoded); err != nil {
		return nil, err
	}
	if decoded.Data == nil {
		decoded.Data = make(map[string]string)
	}
	if len(decoded.Data) > maxPairs {
		return nil, errors.New("too many session keys")
	}
	for k, v := range decoded.Data {
		if len(k) > maxKeyLen {
			return nil, errors.New("session key too long")
		}
		if len(v) > maxValueLen {
			return nil, errors.New("session value too large")
		}
	}
	return &Record{
		Data:       decoded.Data,
		CreatedAt:  decoded.CreatedAt,
		LastSeenAt: decoded.LastSeenAt,
		ExpiresAt:  decoded.ExpiresAt,
	}, nil
}
