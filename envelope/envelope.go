package envelope

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/jrsteele09/site-attendance/internal/utils"
)

const maxBodyBytes = 1 << 20

// Envelope is the {code, message, data} wrapper used by backend JSON responses.
// Fields are decoded leniently: code may arrive as a number or a numeric string.
type Envelope struct {
	Code    int
	Message string
	Data    json.RawMessage

	body   []byte
	fields map[string]json.RawMessage
}

// Decode parses a response body. Anything other than a JSON object is an invalid response.
func Decode(body []byte) (*Envelope, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, errInvalidBody
	}

	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return nil, errInvalidBody
	}

	e := &Envelope{body: trimmed, fields: fields}
	e.Code = rawInt(fields["code"])
	e.Message = rawString(fields["message"])
	if data, ok := fields["data"]; ok && !isNull(data) {
		e.Data = data
	}
	return e, nil
}

// DataCode returns data.code when data is an object carrying a numeric code.
func (e *Envelope) DataCode() int {
	return rawInt(e.objectField(e.Data, "code"))
}

// ApplicationFailure reports whether a 2xx envelope carries an internal failure code,
// either at the top level or nested in data.
func (e *Envelope) ApplicationFailure() bool {
	return e.Code >= http.StatusBadRequest || e.DataCode() >= http.StatusBadRequest
}

// ErrorMessage returns the most specific human readable message available:
// message, then data.message, then data.result.message, then result.message.
func (e *Envelope) ErrorMessage(fallback string) string {
	dataResult := e.objectField(e.Data, "result")
	return utils.FirstNonEmpty(
		e.Message,
		rawString(e.objectField(e.Data, "message")),
		rawString(e.objectField(dataResult, "message")),
		rawString(e.objectField(e.fields["result"], "message")),
		fallback,
	)
}

// Payload returns data when present, otherwise the whole body. Some endpoints answer
// with an unwrapped object.
func (e *Envelope) Payload() json.RawMessage {
	if len(e.Data) > 0 {
		return e.Data
	}
	return e.body
}

// DecodePayload decodes Payload into v.
func (e *Envelope) DecodePayload(v any) error {
	if err := json.Unmarshal(e.Payload(), v); err != nil {
		return errInvalidBody
	}
	return nil
}

func (e *Envelope) objectField(raw json.RawMessage, name string) json.RawMessage {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return nil
	}
	obj := make(map[string]json.RawMessage)
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil
	}
	return obj[name]
}

// Read drains and closes resp, classifying the outcome. Non-2xx statuses become HTTP
// errors, unparseable bodies invalid-response errors and failure envelopes application
// errors. On success the decoded envelope is returned.
func Read(resp *http.Response, endpoint string) (*Envelope, error) {
	defer resp.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	env, decodeErr := Decode(body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		message := http.StatusText(resp.StatusCode)
		code := 0
		if decodeErr == nil {
			message = env.ErrorMessage(message)
			code = env.Code
		}
		return env, &RequestError{Kind: KindHTTP, Endpoint: endpoint, Status: resp.StatusCode, Code: code, Message: message}
	}

	if readErr != nil {
		return nil, &RequestError{Kind: KindNetwork, Endpoint: endpoint, Status: resp.StatusCode, Message: "response interrupted", Err: readErr}
	}
	if decodeErr != nil {
		return nil, &RequestError{Kind: KindInvalidResponse, Endpoint: endpoint, Status: resp.StatusCode, Message: "invalid response", Err: decodeErr}
	}
	if env.ApplicationFailure() {
		code := env.DataCode()
		if code == 0 {
			code = env.Code
		}
		return env, &RequestError{Kind: KindApplication, Endpoint: endpoint, Status: resp.StatusCode, Code: code, Message: env.ErrorMessage("")}
	}
	return env, nil
}

func isNull(raw json.RawMessage) bool {
	return string(bytes.TrimSpace(raw)) == "null"
}

func rawString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

func rawInt(raw json.RawMessage) int {
	if len(raw) == 0 {
		return 0
	}
	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return 0
	}
	switch t := v.(type) {
	case json.Number:
		n = t
	case string:
		n = json.Number(strings.TrimSpace(t))
	default:
		return 0
	}
	if i, err := strconv.Atoi(n.String()); err == nil {
		return i
	}
	if f, err := n.Float64(); err == nil {
		return int(f)
	}
	return 0
}
