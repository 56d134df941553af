package common

// Command identifies the operation carried by a command frame.
type Command int32

const (
	CMD_CREATE  Command = 1
	CMD_START   Command = 2
	CMD_PAUSE   Command = 3
	CMD_CANCEL  Command = 4
	CMD_DESTROY Command = 5
	CMD_FREE    Command = 6

	CMD_SET_URL                      Command = 10
	CMD_SET_DESTINATION              Command = 11
	CMD_SET_FILENAME                 Command = 12
	CMD_SET_NETWORK_TYPE             Command = 13
	CMD_SET_AUTO_DOWNLOAD            Command = 14
	CMD_SET_STATE_CALLBACK           Command = 15
	CMD_SET_PROGRESS_CALLBACK        Command = 16
	CMD_SET_NOTIFICATION_TYPE        Command = 17
	CMD_SET_NOTIFICATION_TITLE       Command = 18
	CMD_SET_NOTIFICATION_DESCRIPTION Command = 19
	CMD_SET_NOTIFICATION_BUNDLE      Command = 20
	CMD_ADD_HTTP_HEADER              Command = 21
	CMD_ADD_EXTRA_PARAM              Command = 22

	CMD_UNSET_URL                      Command = 30
	CMD_UNSET_DESTINATION              Command = 31
	CMD_UNSET_FILENAME                 Command = 32
	CMD_UNSET_NOTIFICATION_TITLE       Command = 33
	CMD_UNSET_NOTIFICATION_DESCRIPTION Command = 34
	CMD_UNSET_NOTIFICATION_BUNDLE      Command = 35
	CMD_REMOVE_HTTP_HEADER             Command = 36
	CMD_REMOVE_EXTRA_PARAM             Command = 37

	CMD_GET_URL                      Command = 40
	CMD_GET_DESTINATION              Command = 41
	CMD_GET_FILENAME                 Command = 42
	CMD_GET_NETWORK_TYPE             Command = 43
	CMD_GET_AUTO_DOWNLOAD            Command = 44
	CMD_GET_STATE_CALLBACK           Command = 45
	CMD_GET_PROGRESS_CALLBACK        Command = 46
	CMD_GET_NOTIFICATION_TYPE        Command = 47
	CMD_GET_NOTIFICATION_TITLE       Command = 48
	CMD_GET_NOTIFICATION_DESCRIPTION Command = 49
	CMD_GET_NOTIFICATION_BUNDLE      Command = 50
	CMD_GET_HTTP_HEADER_VALUE        Command = 51
	CMD_GET_HTTP_HEADER_FIELDS       Command = 52
	CMD_GET_EXTRA_PARAM              Command = 53

	CMD_GET_STATE           Command = 60
	CMD_GET_ERROR           Command = 61
	CMD_GET_SAVED_PATH      Command = 62
	CMD_GET_TEMP_SAVED_PATH Command = 63
	CMD_GET_MIME_TYPE       Command = 64
	CMD_GET_CONTENT_NAME    Command = 65
	CMD_GET_ETAG            Command = 66
	CMD_GET_RECEIVED_SIZE   Command = 67
	CMD_GET_TOTAL_FILE_SIZE Command = 68
	CMD_GET_HTTP_STATUS     Command = 69

	cmdLast = CMD_GET_HTTP_STATUS
)

// TailKind describes the shape of the data that follows a command header.
type TailKind int

const (
	TailNone TailKind = iota
	TailString
	TailInt
	TailPair
	TailStrings
	TailBlob
)

// ValueKind describes the value written after a successful reply code.
type ValueKind int

const (
	ValueNone ValueKind = iota
	ValueString
	ValueInt
	ValueUint64
	ValueBlob
	ValueStrings
)

type commandSpec struct {
	name  string
	tail  TailKind
	value ValueKind
}

var commandSpecs = map[Command]commandSpec{
	CMD_CREATE:  {"CREATE", TailNone, ValueInt},
	CMD_START:   {"START", TailNone, ValueNone},
	CMD_PAUSE:   {"PAUSE", TailNone, ValueNone},
	CMD_CANCEL:  {"CANCEL", TailNone, ValueNone},
	CMD_DESTROY: {"DESTROY", TailNone, ValueNone},
	CMD_FREE:    {"FREE", TailNone, ValueNone},

	CMD_SET_URL:                      {"SET_URL", TailString, ValueNone},
	CMD_SET_DESTINATION:              {"SET_DESTINATION", TailString, ValueNone},
	CMD_SET_FILENAME:                 {"SET_FILENAME", TailString, ValueNone},
	CMD_SET_NETWORK_TYPE:             {"SET_NETWORK_TYPE", TailInt, ValueNone},
	CMD_SET_AUTO_DOWNLOAD:            {"SET_AUTO_DOWNLOAD", TailInt, ValueNone},
	CMD_SET_STATE_CALLBACK:           {"SET_STATE_CALLBACK", TailInt, ValueNone},
	CMD_SET_PROGRESS_CALLBACK:        {"SET_PROGRESS_CALLBACK", TailInt, ValueNone},
	CMD_SET_NOTIFICATION_TYPE:        {"SET_NOTIFICATION_TYPE", TailInt, ValueNone},
	CMD_SET_NOTIFICATION_TITLE:       {"SET_NOTIFICATION_TITLE", TailString, ValueNone},
	CMD_SET_NOTIFICATION_DESCRIPTION: {"SET_NOTIFICATION_DESCRIPTION", TailString, ValueNone},
	CMD_SET_NOTIFICATION_BUNDLE:      {"SET_NOTIFICATION_BUNDLE", TailBlob, ValueNone},
	CMD_ADD_HTTP_HEADER:              {"ADD_HTTP_HEADER", TailPair, ValueNone},
	CMD_ADD_EXTRA_PARAM:              {"ADD_EXTRA_PARAM", TailStrings, ValueNone},

	CMD_UNSET_URL:                      {"UNSET_URL", TailNone, ValueNone},
	CMD_UNSET_DESTINATION:              {"UNSET_DESTINATION", TailNone, ValueNone},
	CMD_UNSET_FILENAME:                 {"UNSET_FILENAME", TailNone, ValueNone},
	CMD_UNSET_NOTIFICATION_TITLE:       {"UNSET_NOTIFICATION_TITLE", TailNone, ValueNone},
	CMD_UNSET_NOTIFICATION_DESCRIPTION: {"UNSET_NOTIFICATION_DESCRIPTION", TailNone, ValueNone},
	CMD_UNSET_NOTIFICATION_BUNDLE:      {"UNSET_NOTIFICATION_BUNDLE", TailInt, ValueNone},
	CMD_REMOVE_HTTP_HEADER:             {"REMOVE_HTTP_HEADER", TailString, ValueNone},
	CMD_REMOVE_EXTRA_PARAM:             {"REMOVE_EXTRA_PARAM", TailString, ValueNone},

	CMD_GET_URL:                      {"GET_URL", TailNone, ValueString},
	CMD_GET_DESTINATION:              {"GET_DESTINATION", TailNone, ValueString},
	CMD_GET_FILENAME:                 {"GET_FILENAME", TailNone, ValueString},
	CMD_GET_NETWORK_TYPE:             {"GET_NETWORK_TYPE", TailNone, ValueInt},
	CMD_GET_AUTO_DOWNLOAD:            {"GET_AUTO_DOWNLOAD", TailNone, ValueInt},
	CMD_GET_STATE_CALLBACK:           {"GET_STATE_CALLBACK", TailNone, ValueInt},
	CMD_GET_PROGRESS_CALLBACK:        {"GET_PROGRESS_CALLBACK", TailNone, ValueInt},
	CMD_GET_NOTIFICATION_TYPE:        {"GET_NOTIFICATION_TYPE", TailNone, ValueInt},
	CMD_GET_NOTIFICATION_TITLE:       {"GET_NOTIFICATION_TITLE", TailNone, ValueString},
	CMD_GET_NOTIFICATION_DESCRIPTION: {"GET_NOTIFICATION_DESCRIPTION", TailNone, ValueString},
	CMD_GET_NOTIFICATION_BUNDLE:      {"GET_NOTIFICATION_BUNDLE", TailInt, ValueBlob},
	CMD_GET_HTTP_HEADER_VALUE:        {"GET_HTTP_HEADER_VALUE", TailString, ValueString},
	CMD_GET_HTTP_HEADER_FIELDS:       {"GET_HTTP_HEADER_FIELDS", TailNone, ValueStrings},
	CMD_GET_EXTRA_PARAM:              {"GET_EXTRA_PARAM", TailString, ValueStrings},

	CMD_GET_STATE:           {"GET_STATE", TailNone, ValueInt},
	CMD_GET_ERROR:           {"GET_ERROR", TailNone, ValueInt},
	CMD_GET_SAVED_PATH:      {"GET_SAVED_PATH", TailNone, ValueString},
	CMD_GET_TEMP_SAVED_PATH: {"GET_TEMP_SAVED_PATH", TailNone, ValueString},
	CMD_GET_MIME_TYPE:       {"GET_MIME_TYPE", TailNone, ValueString},
	CMD_GET_CONTENT_NAME:    {"GET_CONTENT_NAME", TailNone, ValueString},
	CMD_GET_ETAG:            {"GET_ETAG", TailNone, ValueString},
	CMD_GET_RECEIVED_SIZE:   {"GET_RECEIVED_SIZE", TailNone, ValueUint64},
	CMD_GET_TOTAL_FILE_SIZE: {"GET_TOTAL_FILE_SIZE", TailNone, ValueUint64},
	CMD_GET_HTTP_STATUS:     {"GET_HTTP_STATUS", TailNone, ValueInt},
}

// Valid reports whether c is inside the recognized command range.
// A value outside this range means the stream is desynchronized.
func (c Command) Valid() bool {
	if c < CMD_CREATE || c > cmdLast {
		return false
	}
	_, ok := commandSpecs[c]
	return ok
}

// Tail returns the shape of the data following the header for c.
func (c Command) Tail() TailKind {
	return commandSpecs[c].tail
}

// Value returns the kind of value carried by a successful reply to c.
func (c Command) Value() ValueKind {
	return commandSpecs[c].value
}

func (c Command) String() string {
	if spec, ok := commandSpecs[c]; ok {
		return spec.name
	}
	return "UNKNOWN"
}

// ChannelKind is the tag a client sends right after connecting.
type ChannelKind int32

const (
	ChannelCommand ChannelKind = 0
	ChannelEvent   ChannelKind = 1
)

// Frame limits.
const (
	// MaxStringLen bounds every length-prefixed string on the wire.
	MaxStringLen = 4096
	// MaxBlobLen bounds notification bundle payloads.
	MaxBlobLen = 64 * 1024
	// MaxStringCount bounds the count prefix of a string sequence.
	MaxStringCount = 32
	// HeaderSize is the size of a command header in bytes.
	HeaderSize = 8
	// EventSize is the size of an event frame in bytes.
	EventSize = 20
)
