package common

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeOf(t *testing.T) {
	wrapped := fmt.Errorf("store: %w", NewError(ERROR_DISK_BUSY, errors.New("locked")))
	tests := []struct {
		name     string
		err      error
		fallback ErrorCode
		want     ErrorCode
	}{
		{"nil", nil, ERROR_IO_ERROR, ERROR_NONE},
		{"plain", errors.New("x"), ERROR_IO_ERROR, ERROR_IO_ERROR},
		{"coded", ERROR_INVALID_STATE.Err(), ERROR_IO_ERROR, ERROR_INVALID_STATE},
		{"wrapped", wrapped, ERROR_IO_ERROR, ERROR_DISK_BUSY},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CodeOf(tt.err, tt.fallback))
		})
	}
}

func TestCodeErrorIs(t *testing.T) {
	err := fmt.Errorf("start: %w", Errorf(ERROR_TOO_MANY_DOWNLOADS, "engine at capacity (%d)", 4))
	assert.True(t, errors.Is(err, ERROR_TOO_MANY_DOWNLOADS.Err()))
	assert.False(t, errors.Is(err, ERROR_NO_SPACE.Err()))
	assert.Nil(t, ERROR_NONE.Err())
}

func TestCommandTable(t *testing.T) {
	assert.True(t, CMD_CREATE.Valid())
	assert.True(t, CMD_GET_HTTP_STATUS.Valid())
	assert.False(t, Command(0).Valid())
	assert.False(t, Command(7).Valid())
	assert.False(t, Command(1000).Valid())
	assert.Equal(t, TailPair, CMD_ADD_HTTP_HEADER.Tail())
	assert.Equal(t, ValueUint64, CMD_GET_RECEIVED_SIZE.Value())
	assert.Equal(t, "SET_URL", CMD_SET_URL.String())
}

func TestStateOrdering(t *testing.T) {
	order := []State{STATE_NONE, STATE_READY, STATE_QUEUED, STATE_CONNECTING, STATE_DOWNLOADING}
	for i := 1; i < len(order); i++ {
		assert.Less(t, order[i-1], order[i])
	}
	for _, s := range []State{STATE_PAUSE_REQUESTED, STATE_COMPLETED, STATE_CANCELED, STATE_FAILED} {
		assert.Greater(t, s, STATE_DOWNLOADING)
	}
	assert.True(t, STATE_FAILED.IsTerminal())
	assert.False(t, STATE_PAUSED.IsTerminal())
	assert.True(t, STATE_PAUSE_REQUESTED.IsActive())
}

func TestParseNetworkType(t *testing.T) {
	n, ok := ParseNetworkType(" WiFi ")
	assert.True(t, ok)
	assert.Equal(t, NETWORK_WIFI, n)
	n, ok = ParseNetworkType(NETWORK_WIFI_DIRECT.String())
	assert.True(t, ok)
	assert.Equal(t, NETWORK_WIFI_DIRECT, n)
	_, ok = ParseNetworkType("carrier-pigeon")
	assert.False(t, ok)
}
