package session

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/warpdl/dlmgr/common"
)

// Event is the unsolicited frame pushed on an event channel.
type Event struct {
	ID       int32
	State    common.State
	Error    common.ErrorCode
	Received uint64
}

// AppendBinary appends the 20-byte wire form of e to b.
func (e Event) AppendBinary(b []byte) []byte {
	b = binary.LittleEndian.AppendUint32(b, uint32(e.ID))
	b = binary.LittleEndian.AppendUint32(b, uint32(e.State))
	b = binary.LittleEndian.AppendUint32(b, uint32(e.Error))
	return binary.LittleEndian.AppendUint64(b, e.Received)
}

// ReadEvent reads one event frame from r.
func ReadEvent(r io.Reader) (Event, error) {
	var buf [common.EventSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Event{}, err
	}
	return Event{
		ID:       int32(binary.LittleEndian.Uint32(buf[0:])),
		State:    common.State(int32(binary.LittleEndian.Uint32(buf[4:]))),
		Error:    common.ErrorCode(int32(binary.LittleEndian.Uint32(buf[8:]))),
		Received: binary.LittleEndian.Uint64(buf[12:]),
	}, nil
}

func (e Event) String() string {
	return fmt.Sprintf("id=%d state=%s error=%s received=%d", e.ID, e.State, e.Error, e.Received)
}
