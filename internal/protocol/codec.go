package protocol

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"

	gojson "github.com/goccy/go-json"
)

// MaxLineSize bounds a single control-channel message (64MB)
const MaxLineSize = 64 * 1024 * 1024

// ErrMalformedMessage matches every *MalformedMessageError
var ErrMalformedMessage = errors.New("malformed message")

// MalformedMessageError reports an unparsable or structurally invalid input line
type MalformedMessageError struct {
	Line   []byte
	Reason string
	Cause  error
}

func (e *MalformedMessageError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("malformed message: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("malformed message: %s", e.Reason)
}

func (e *MalformedMessageError) Unwrap() error { return e.Cause }

// Is reports ErrMalformedMessage
func (e *MalformedMessageError) Is(target error) bool { return target == ErrMalformedMessage }

// Decoder reads Requests, one per line
type Decoder struct {
	r *bufio.Reader
}

// NewDecoder creates a decoder over r
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReaderSize(r, 64*1024)}
}

// Decode returns the next request. Blank lines are skipped. io.EOF is returned only at a
// line boundary; a trailing unterminated line is decoded before EOF is reported.
func (d *Decoder) Decode() (*Request, error) {
	for {
		line, err := d.readLine()
		if len(bytes.TrimSpace(line)) == 0 {
			if err != nil {
				return nil, err
			}
			continue
		}
		req, perr := parseRequest(line)
		if perr != nil {
			return nil, perr
		}
		return req, nil
	}
}

func (d *Decoder) readLine() ([]byte, error) {
	var buf []byte
	for {
		chunk, err := d.r.ReadSlice('\n')
		buf = append(buf, chunk...)
		if len(buf) > MaxLineSize {
			return nil, &MalformedMessageError{Reason: fmt.Sprintf("line exceeds %d bytes", MaxLineSize)}
		}
		switch {
		case err == nil:
			return buf, nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF) && len(buf) != 0:
			return buf, nil
		default:
			return buf, err
		}
	}
}

func parseRequest(line []byte) (*Request, error) {
	var tags map[string]gojson.RawMessage
	if err := gojson.Unmarshal(line, &tags); err != nil {
		return nil, &MalformedMessageError{Line: line, Reason: "invalid JSON object", Cause: err}
	}
	if len(tags) != 1 {
		return nil, &MalformedMessageError{Line: line, Reason: fmt.Sprintf("expected exactly one message tag, got %d", len(tags))}
	}

	req := &Request{}
	for tag, body := range tags {
		var target any
		switch tag {
		case TagOpen:
			req.Open = &Open{}
			target = req.Open
		case TagAcknowledge:
			req.Acknowledge = &Acknowledge{}
			target = req.Acknowledge
		default:
			return nil, &MalformedMessageError{Line: line, Reason: fmt.Sprintf("unknown message %q", tag)}
		}
		if bytes.Equal(bytes.TrimSpace(body), []byte("null")) {
			return nil, &MalformedMessageError{Line: line, Reason: fmt.Sprintf("%s: null payload", tag)}
		}
		if err := gojson.Unmarshal(body, target); err != nil {
			return nil, &MalformedMessageError{Line: line, Reason: tag, Cause: err}
		}
	}
	return req, nil
}

// Encoder writes Responses, one per line
type Encoder struct {
	mu sync.Mutex
	w  io.Writer
}

// NewEncoder creates an encoder over w
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode writes resp and its trailing newline as a single Write so concurrent callers never
// interleave partial lines.
func (e *Encoder) Encode(resp Response) error {
	if n := countSet(resp); n != 1 {
		return fmt.Errorf("response must carry exactly one message, has %d", n)
	}
	buf, err := gojson.Marshal(resp)
	if err != nil {
		return fmt.Errorf("failed to encode response: %w", err)
	}
	buf = append(buf, '\n')

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.w.Write(buf); err != nil {
		return fmt.Errorf("failed to write response: %w", err)
	}
	return nil
}

func countSet(resp Response) int {
	n := 0
	if resp.Opened != nil {
		n++
	}
	if resp.Document != nil {
		n++
	}
	if resp.Checkpoint != nil {
		n++
	}
	return n
}
