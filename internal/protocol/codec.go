package protocol

import (
	"errors"
	"fmt"
	"math"
	"reflect"

	"github.com/google/uuid"
	"github.com/ugorji/go/codec"

	"github.com/versatilecz/evac/internal/models"
)

// MaxDatagram is the receive buffer size for scanner datagrams
const MaxDatagram = 2048

// ErrDecode marks malformed datagrams
var ErrDecode = errors.New("malformed scanner message")

var handle = newHandle()

func newHandle() *codec.MsgpackHandle {
	h := &codec.MsgpackHandle{}
	h.WriteExt = true
	h.RawToString = true
	h.MapType = reflect.TypeOf(map[string]interface{}(nil))
	return h
}

// Encode serializes m as msgpack `[content, uuid]`. Unit variants are
// strings, the rest single entry maps keyed by variant name.
func Encode(m Message) ([]byte, error) {
	id := m.UUID
	envelope := []interface{}{encodeContent(m.Content), id[:]}

	var out []byte
	if err := codec.NewEncoderBytes(&out, handle).Encode(envelope); err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", m, err)
	}
	return out, nil
}

func encodeContent(c Content) interface{} {
	switch v := c.(type) {
	case nil, Nope, Hello, Restart:
		return Name(c)
	case Ok:
		return tagged(v, v.UUID[:])
	case Error:
		return tagged(v, []interface{}{v.UUID[:], v.Text})
	case Register:
		return tagged(v, []interface{}{byteArray(v.Mac)})
	case Ping:
		return tagged(v, v.Text)
	case Pong:
		return tagged(v, v.Text)
	case Set:
		return tagged(v, []interface{}{optional(v.Scan), optional(v.Led), optional(v.Buzzer)})
	case ScanResult:
		return tagged(v, []interface{}{byteArray(v.Mac), v.RSSI, byteArray(v.Data)})
	default:
		return Name(c)
	}
}

func tagged(c Content, fields interface{}) map[string]interface{} {
	return map[string]interface{}{c.variant(): fields}
}

func optional(b *bool) interface{} {
	if b == nil {
		return nil
	}
	return *b
}

// byteArray keeps byte sequences as arrays of numbers, the format scanners expect
func byteArray(b []byte) []interface{} {
	out := make([]interface{}, len(b))
	for i, v := range b {
		out[i] = uint8(v)
	}
	return out
}

// Decode parses a datagram. Any structural mismatch yields ErrDecode.
func Decode(data []byte) (Message, error) {
	var raw interface{}
	if err := codec.NewDecoderBytes(data, handle).Decode(&raw); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	envelope, ok := raw.([]interface{})
	if !ok || len(envelope) != 2 {
		return Message{}, fmt.Errorf("%w: envelope is not a pair", ErrDecode)
	}

	id, err := asUUID(envelope[1])
	if err != nil {
		return Message{}, fmt.Errorf("%w: envelope id: %v", ErrDecode, err)
	}
	content, err := decodeContent(envelope[0])
	if err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return Message{Content: content, UUID: id}, nil
}

func decodeContent(raw interface{}) (Content, error) {
	if name, ok := raw.(string); ok {
		switch name {
		case "Nope":
			return Nope{}, nil
		case "Hello":
			return Hello{}, nil
		case "Restart":
			return Restart{}, nil
		}
		return nil, fmt.Errorf("unknown unit variant %q", name)
	}

	m, ok := raw.(map[string]interface{})
	if !ok || len(m) != 1 {
		return nil, fmt.Errorf("content is not a tagged variant")
	}

	for name, body := range m {
		switch name {
		case "Ok":
			id, err := asUUID(body)
			if err != nil {
				return nil, err
			}
			return Ok{UUID: id}, nil

		case "Error":
			fields, err := asFields(body, 2)
			if err != nil {
				return nil, err
			}
			id, err := asUUID(fields[0])
			if err != nil {
				return nil, err
			}
			text, err := asString(fields[1])
			if err != nil {
				return nil, err
			}
			return Error{UUID: id, Text: text}, nil

		case "Register":
			fields, err := asFields(body, 1)
			if err != nil {
				return nil, err
			}
			mac, err := asBytes(fields[0])
			if err != nil {
				return nil, fmt.Errorf("register mac: %w", err)
			}
			return Register{Mac: models.MAC(mac)}, nil

		case "Ping", "Pong":
			text, err := asString(body)
			if err != nil {
				return nil, err
			}
			if name == "Ping" {
				return Ping{Text: text}, nil
			}
			return Pong{Text: text}, nil

		case "Set":
			fields, err := asFields(body, 3)
			if err != nil {
				return nil, err
			}
			var set Set
			for i, dst := range []**bool{&set.Scan, &set.Led, &set.Buzzer} {
				if *dst, err = asOptionalBool(fields[i]); err != nil {
					return nil, err
				}
			}
			return set, nil

		case "ScanResult":
			fields, err := asFields(body, 3)
			if err != nil {
				return nil, err
			}
			mac, err := asBytes(fields[0])
			if err != nil {
				return nil, fmt.Errorf("scan result mac: %w", err)
			}
			rssi, err := asInt64(fields[1])
			if err != nil {
				return nil, fmt.Errorf("scan result rssi: %w", err)
			}
			if rssi < math.MinInt32 || rssi > math.MaxInt32 {
				return nil, fmt.Errorf("scan result rssi %d out of range", rssi)
			}
			payload, err := asBytes(fields[2])
			if err != nil {
				return nil, fmt.Errorf("scan result data: %w", err)
			}
			return ScanResult{Mac: models.MAC(mac), RSSI: int32(rssi), Data: payload}, nil
		}
		return nil, fmt.Errorf("unknown variant %q", name)
	}
	return nil, fmt.Errorf("empty variant")
}

func asFields(v interface{}, n int) ([]interface{}, error) {
	fields, ok := v.([]interface{})
	if !ok {
		return nil, fmt.Errorf("expected array, got %T", v)
	}
	if len(fields) != n {
		return nil, fmt.Errorf("expected %d fields, got %d", n, len(fields))
	}
	return fields, nil
}

func asString(v interface{}) (string, error) {
	switch s := v.(type) {
	case string:
		return s, nil
	case []byte:
		return string(s), nil
	}
	return "", fmt.Errorf("expected string, got %T", v)
}

func asOptionalBool(v interface{}) (*bool, error) {
	switch b := v.(type) {
	case nil:
		return nil, nil
	case bool:
		return &b, nil
	}
	return nil, fmt.Errorf("expected bool, got %T", v)
}

func asInt64(v interface{}) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case int8:
		return int64(n), nil
	case int16:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case uint8:
		return int64(n), nil
	case uint16:
		return int64(n), nil
	case uint32:
		return int64(n), nil
	case uint64:
		if n > math.MaxInt64 {
			return 0, fmt.Errorf("integer %d overflows", n)
		}
		return int64(n), nil
	case uint:
		return int64(n), nil
	}
	return 0, fmt.Errorf("expected integer, got %T", v)
}

func asBytes(v interface{}) ([]byte, error) {
	switch b := v.(type) {
	case []byte:
		return append([]byte(nil), b...), nil
	case []interface{}:
		out := make([]byte, len(b))
		for i, item := range b {
			n, err := asInt64(item)
			if err != nil {
				return nil, err
			}
			if n < 0 || n > 255 {
				return nil, fmt.Errorf("byte value %d out of range", n)
			}
			out[i] = byte(n)
		}
		return out, nil
	case nil:
		return nil, nil
	}
	return nil, fmt.Errorf("expected bytes, got %T", v)
}

func asUUID(v interface{}) (uuid.UUID, error) {
	switch id := v.(type) {
	case string:
		return uuid.Parse(id)
	default:
		raw, err := asBytes(v)
		if err != nil {
			return uuid.Nil, err
		}
		return uuid.FromBytes(raw)
	}
}
