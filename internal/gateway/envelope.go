package gateway

import (
	"encoding/json"
	"strconv"
	"time"
)

// Server to client message types.
const (
	MsgConnected       = "Connected"
	MsgBulkPriceUpdate = "BulkPriceUpdate"
)

// Envelope is the decoded form of every server to client frame.
// Connected carries the connection id as a JSON string in Data;
// BulkPriceUpdate carries the tick array.
type Envelope struct {
	Type string          `json:"type"`
	Seq  int64           `json:"seq,omitempty"`
	TS   time.Time       `json:"ts"`
	Data json.RawMessage `json:"data"`
}

// encodeConnected builds {"type":"Connected","data":"<id>"}.
func encodeConnected(id string) []byte {
	buf := make([]byte, 0, len(id)+40)
	buf = append(buf, `{"type":"`...)
	buf = append(buf, MsgConnected...)
	buf = append(buf, `","data":`...)
	buf = strconv.AppendQuote(buf, id)
	buf = append(buf, '}')
	return buf
}

// encodeBatch wraps an already-encoded tick array. The envelope is built by
// hand so the batch is marshalled once per broadcast, not once per client.
func encodeBatch(seq int64, now time.Time, data []byte) []byte {
	buf := make([]byte, 0, len(data)+96)
	buf = append(buf, `{"type":"`...)
	buf = append(buf, MsgBulkPriceUpdate...)
	buf = append(buf, `","seq":`...)
	buf = strconv.AppendInt(buf, seq, 10)
	buf = append(buf, `,"ts":"`...)
	buf = now.AppendFormat(buf, time.RFC3339Nano)
	buf = append(buf, `","data":`...)
	buf = append(buf, data...)
	buf = append(buf, '}')
	return buf
}
