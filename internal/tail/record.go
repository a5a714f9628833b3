package tail

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

const (
	keepAlive  = "."
	fieldDelim = "|"
)

// SuppressedNotice is the message of the last error record delivered for
// a log before further malformed payloads on it are dropped.
const SuppressedNotice = "Too many errors in this log; future errors will be suppressed."

// Record is one delivered log line. Raw is the payload exactly as the
// server sent it. For JSON logs Type and Contents hold the decoded
// envelope; raw logs leave them empty.
type Record struct {
	Type     string          `json:"type"`
	Contents json.RawMessage `json:"contents,omitempty"`
	Raw      string          `json:"-"`
}

// Messages returns contents.msg when the record carries one. Error
// records always do.
func (r Record) Messages() []string {
	if len(r.Contents) == 0 {
		return nil
	}
	var c struct {
		Msg json.RawMessage `json:"msg"`
	}
	if err := json.Unmarshal(r.Contents, &c); err != nil || len(c.Msg) == 0 {
		return nil
	}
	var many []string
	if err := json.Unmarshal(c.Msg, &many); err == nil {
		return many
	}
	var one string
	if err := json.Unmarshal(c.Msg, &one); err == nil {
		return []string{one}
	}
	return nil
}

// Handler receives each delivered record along with the name of the log
// it belongs to.
type Handler func(rec Record, logName string)

// errorRecord builds the synthetic record delivered in place of a payload
// that did not decode.
func errorRecord(raw string, msgs ...string) Record {
	contents, _ := json.Marshal(struct {
		Msg []string `json:"msg"`
	}{Msg: msgs})
	return Record{Type: "error", Contents: contents, Raw: raw}
}

// decodeRecord parses a JSON log payload. The payload has to be an
// object; anything else is reported as an error.
func decodeRecord(payload string) (Record, error) {
	trimmed := strings.TrimSpace(payload)
	if !strings.HasPrefix(trimmed, "{") {
		return Record{}, fmt.Errorf("payload is not a JSON object")
	}
	var rec Record
	if err := json.Unmarshal([]byte(trimmed), &rec); err != nil {
		return Record{}, err
	}
	rec.Raw = payload
	return rec, nil
}

// frame is one demultiplexed stream line: name|byteLength|payload.
type frame struct {
	name    string
	length  int64
	payload string
}

// splitFrame splits a stream line on the first two delimiters. The
// payload keeps any further delimiters. ok is false for lines without a
// delimiter or with a byte length that is not a non-negative integer.
func splitFrame(line string) (frame, bool) {
	parts := strings.SplitN(line, fieldDelim, 3)
	if len(parts) < 2 {
		return frame{}, false
	}
	n, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || n < 0 {
		return frame{}, false
	}
	f := frame{name: parts[0], length: n}
	if len(parts) == 3 {
		f.payload = parts[2]
	}
	return f, true
}

// endMarker is the line the server writes once every requested log has
// been fully delivered and the session is over.
func endMarker(termination int64) string {
	return "[tail_end:" + strconv.FormatInt(termination, 10) + "]"
}
