package common

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ErrMalformed is returned for a frame whose tail violates the wire limits.
// The offending bytes have been drained, so the stream stays aligned.
var ErrMalformed = ERROR_INVALID_PARAMETER.Err()

// maxDrain bounds how much of a malformed tail is skipped.
const maxDrain = 1 << 20

var le = binary.LittleEndian

// Header is the fixed part of a command frame.
type Header struct {
	ID  int32
	Cmd Command
}

// Blob is a notification payload for one bundle slot.
type Blob struct {
	Kind BundleKind
	Data []byte
}

// Tail is the decoded data following a header. Only the fields matching
// the command's TailKind are set.
type Tail struct {
	Str     string
	Int     int32
	Field   string
	Value   string
	Strings []string
	Blob    Blob
}

// AppendHeader encodes h.
func AppendHeader(b []byte, h Header) []byte {
	b = le.AppendUint32(b, uint32(h.ID))
	return le.AppendUint32(b, uint32(h.Cmd))
}

// ReadHeader reads one command header.
func ReadHeader(r io.Reader) (Header, error) {
	var buf [HeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Header{}, err
	}
	return Header{
		ID:  int32(le.Uint32(buf[0:])),
		Cmd: Command(int32(le.Uint32(buf[4:]))),
	}, nil
}

// AppendString encodes a length-prefixed string.
func AppendString(b []byte, s string) []byte {
	b = le.AppendUint32(b, uint32(len(s)))
	return append(b, s...)
}

// AppendInt encodes an int32.
func AppendInt(b []byte, v int32) []byte {
	return le.AppendUint32(b, uint32(v))
}

// AppendBlob encodes a bundle payload.
func AppendBlob(b []byte, bl Blob) []byte {
	b = le.AppendUint32(b, uint32(bl.Kind))
	b = le.AppendUint32(b, uint32(len(bl.Data)))
	return append(b, bl.Data...)
}

// AppendStrings encodes a counted string sequence.
func AppendStrings(b []byte, ss []string) []byte {
	b = le.AppendUint32(b, uint32(len(ss)))
	for _, s := range ss {
		b = AppendString(b, s)
	}
	return b
}

// AppendTail encodes t according to kind.
func AppendTail(b []byte, kind TailKind, t Tail) []byte {
	switch kind {
	case TailString:
		return AppendString(b, t.Str)
	case TailInt:
		return AppendInt(b, t.Int)
	case TailPair:
		return AppendString(AppendString(b, t.Field), t.Value)
	case TailStrings:
		return AppendStrings(b, t.Strings)
	case TailBlob:
		return AppendBlob(b, t.Blob)
	}
	return b
}

func readUint32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return le.Uint32(buf[:]), nil
}

// ReadInt reads an int32.
func ReadInt(r io.Reader) (int32, error) {
	v, err := readUint32(r)
	return int32(v), err
}

// ReadUint64 reads a uint64.
func ReadUint64(r io.Reader) (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return le.Uint64(buf[:]), nil
}

// readBytes reads a length-prefixed payload of 1..max bytes. A length out
// of range is drained and reported as ErrMalformed.
func readBytes(r io.Reader, max int) ([]byte, error) {
	n, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	if n == 0 || n > uint32(max) {
		if err := drain(r, int64(n)); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: length %d outside 1..%d", ErrMalformed, n, max)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// ReadString reads a length-prefixed string.
func ReadString(r io.Reader) (string, error) {
	b, err := readBytes(r, MaxStringLen)
	return string(b), err
}

// ReadStrings reads a counted string sequence.
func ReadStrings(r io.Reader) ([]string, error) {
	n, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	if n == 0 || n > MaxStringCount {
		return nil, fmt.Errorf("%w: count %d outside 1..%d", ErrMalformed, n, MaxStringCount)
	}
	out := make([]string, 0, n)
	var bad error
	for i := uint32(0); i < n; i++ {
		s, err := ReadString(r)
		if errors.Is(err, ErrMalformed) {
			// Keep consuming so the stream stays aligned.
			bad = err
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if bad != nil {
		return nil, bad
	}
	return out, nil
}

// ReadBlob reads a bundle payload.
func ReadBlob(r io.Reader) (Blob, error) {
	kind, err := ReadInt(r)
	if err != nil {
		return Blob{}, err
	}
	data, err := readBytes(r, MaxBlobLen)
	if err != nil {
		return Blob{}, err
	}
	return Blob{Kind: BundleKind(kind), Data: data}, nil
}

// ReadTail reads the tail of kind. A malformed but aligned tail yields an
// error wrapping ErrMalformed; any other error means the stream is lost.
func ReadTail(r io.Reader, kind TailKind) (Tail, error) {
	var t Tail
	var err error
	switch kind {
	case TailString:
		t.Str, err = ReadString(r)
	case TailInt:
		t.Int, err = ReadInt(r)
	case TailPair:
		t.Field, err = ReadString(r)
		if err == nil || errors.Is(err, ErrMalformed) {
			var verr error
			t.Value, verr = ReadString(r)
			if err == nil {
				err = verr
			}
		}
	case TailStrings:
		t.Strings, err = ReadStrings(r)
	case TailBlob:
		t.Blob, err = ReadBlob(r)
	}
	return t, err
}

func drain(r io.Reader, n int64) error {
	if n > maxDrain {
		n = maxDrain
	}
	_, err := io.CopyN(io.Discard, r, n)
	return err
}

// AppendReply encodes a reply: the code and, on success, the value.
func AppendReply(b []byte, code ErrorCode, kind ValueKind, v any) ([]byte, error) {
	b = AppendInt(b, int32(code))
	if code != ERROR_NONE {
		return b, nil
	}
	switch kind {
	case ValueNone:
		return b, nil
	case ValueString:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("reply: want string, got %T", v)
		}
		return AppendString(b, s), nil
	case ValueInt:
		i, ok := v.(int32)
		if !ok {
			return nil, fmt.Errorf("reply: want int32, got %T", v)
		}
		return AppendInt(b, i), nil
	case ValueUint64:
		u, ok := v.(uint64)
		if !ok {
			return nil, fmt.Errorf("reply: want uint64, got %T", v)
		}
		return le.AppendUint64(b, u), nil
	case ValueBlob:
		bl, ok := v.(Blob)
		if !ok {
			return nil, fmt.Errorf("reply: want Blob, got %T", v)
		}
		return AppendBlob(b, bl), nil
	case ValueStrings:
		ss, ok := v.([]string)
		if !ok {
			return nil, fmt.Errorf("reply: want []string, got %T", v)
		}
		return AppendStrings(b, ss), nil
	}
	return nil, fmt.Errorf("reply: unknown value kind %d", kind)
}

// ReadReply reads a reply for a command whose value has kind. The value is
// nil unless the code is ERROR_NONE.
func ReadReply(r io.Reader, kind ValueKind) (ErrorCode, any, error) {
	c, err := ReadInt(r)
	if err != nil {
		return 0, nil, err
	}
	code := ErrorCode(c)
	if code != ERROR_NONE {
		return code, nil, nil
	}
	var v any
	switch kind {
	case ValueString:
		v, err = ReadString(r)
	case ValueInt:
		v, err = ReadInt(r)
	case ValueUint64:
		v, err = ReadUint64(r)
	case ValueBlob:
		v, err = ReadBlob(r)
	case ValueStrings:
		v, err = ReadStrings(r)
	}
	return code, v, err
}
