package common

import (
	"bytes"
	"encoding/binary"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderRoundTrip(t *testing.T) {
	b := AppendHeader(nil, Header{ID: 42, Cmd: CMD_SET_URL})
	require.Len(t, b, HeaderSize)
	h, err := ReadHeader(bytes.NewReader(b))
	require.NoError(t, err)
	assert.Equal(t, int32(42), h.ID)
	assert.Equal(t, CMD_SET_URL, h.Cmd)
}

func TestReadTail(t *testing.T) {
	tests := []struct {
		name string
		kind TailKind
		tail Tail
	}{
		{"string", TailString, Tail{Str: "http://x/y"}},
		{"int", TailInt, Tail{Int: -3}},
		{"pair", TailPair, Tail{Field: "Accept", Value: "*/*"}},
		{"strings", TailStrings, Tail{Strings: []string{"key", "a", "b"}}},
		{"blob", TailBlob, Tail{Blob: Blob{Kind: BUNDLE_COMPLETE, Data: []byte{1, 2, 3}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := AppendTail(nil, tt.kind, tt.tail)
			got, err := ReadTail(bytes.NewReader(b), tt.kind)
			require.NoError(t, err)
			assert.Equal(t, tt.tail, got)
		})
	}
}

func TestMalformedTailIsDrained(t *testing.T) {
	var b []byte
	b = binary.LittleEndian.AppendUint32(b, MaxStringLen+1)
	b = append(b, strings.Repeat("x", MaxStringLen+1)...)
	b = AppendHeader(b, Header{ID: 7, Cmd: CMD_START})
	r := bytes.NewReader(b)

	_, err := ReadTail(r, TailString)
	require.ErrorIs(t, err, ErrMalformed)
	assert.Equal(t, ERROR_INVALID_PARAMETER, CodeOf(err, ERROR_IO_ERROR))

	h, err := ReadHeader(r)
	require.NoError(t, err, "stream must stay aligned")
	assert.Equal(t, int32(7), h.ID)
}

func TestEmptyStringIsMalformed(t *testing.T) {
	b := binary.LittleEndian.AppendUint32(nil, 0)
	_, err := ReadTail(bytes.NewReader(b), TailString)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestMalformedPairDrainsValue(t *testing.T) {
	var b []byte
	b = binary.LittleEndian.AppendUint32(b, 0)
	b = AppendString(b, "value")
	r := bytes.NewReader(b)
	_, err := ReadTail(r, TailPair)
	require.ErrorIs(t, err, ErrMalformed)
	assert.Zero(t, r.Len())
}

func TestStringsCountLimit(t *testing.T) {
	b := binary.LittleEndian.AppendUint32(nil, MaxStringCount+1)
	_, err := ReadTail(bytes.NewReader(b), TailStrings)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestTruncatedTailIsFatal(t *testing.T) {
	b := binary.LittleEndian.AppendUint32(nil, 10)
	b = append(b, "abc"...)
	_, err := ReadTail(bytes.NewReader(b), TailString)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrMalformed)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestReply(t *testing.T) {
	tests := []struct {
		name string
		kind ValueKind
		v    any
	}{
		{"none", ValueNone, nil},
		{"string", ValueString, "/tmp/f"},
		{"int", ValueInt, int32(5)},
		{"uint64", ValueUint64, uint64(1 << 40)},
		{"blob", ValueBlob, Blob{Kind: BUNDLE_ONGOING, Data: []byte("x")}},
		{"strings", ValueStrings, []string{"Accept", "Cookie"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := AppendReply(nil, ERROR_NONE, tt.kind, tt.v)
			require.NoError(t, err)
			code, v, err := ReadReply(bytes.NewReader(b), tt.kind)
			require.NoError(t, err)
			assert.Equal(t, ERROR_NONE, code)
			assert.Equal(t, tt.v, v)
		})
	}
}

func TestReplyErrorCarriesNoValue(t *testing.T) {
	b, err := AppendReply(nil, ERROR_NO_DATA, ValueString, nil)
	require.NoError(t, err)
	assert.Len(t, b, 4)
	code, v, err := ReadReply(bytes.NewReader(b), ValueString)
	require.NoError(t, err)
	assert.Equal(t, ERROR_NO_DATA, code)
	assert.Nil(t, v)
}

func TestReplyTypeMismatch(t *testing.T) {
	_, err := AppendReply(nil, ERROR_NONE, ValueInt, "nope")
	assert.Error(t, err)
}
