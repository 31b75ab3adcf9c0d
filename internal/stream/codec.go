package stream

import (
	"encoding/json"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
	"nhooyr.io/websocket"
)

// Format selects the frame encoding of a stream connection.
type Format string

const (
	FormatJSON    Format = "json"
	FormatMsgpack Format = "msgpack"
)

func ParseFormat(s string) Format {
	if strings.EqualFold(strings.TrimSpace(s), string(FormatMsgpack)) {
		return FormatMsgpack
	}
	return FormatJSON
}

func (f Format) encode(v any) (websocket.MessageType, []byte, error) {
	if f == FormatMsgpack {
		data, err := msgpack.Marshal(v)
		return websocket.MessageBinary, data, err
	}
	data, err := json.Marshal(v)
	return websocket.MessageText, data, err
}

// clientMessage is what a client may send on an open stream. Client messages
// are always JSON text.
type clientMessage struct {
	Type      string `json:"type"`
	Asset     string `json:"asset"`
	Timeframe string `json:"timeframe"`
	Range     string `json:"range"`
	Symbol    string `json:"symbol"`
	Interval  string `json:"interval"`
}

type errorFrame struct {
	Type  string `json:"type" msgpack:"type"`
	Error string `json:"error" msgpack:"error"`
}

func newErrorFrame(err error) errorFrame {
	return errorFrame{Type: "error", Error: err.Error()}
}
