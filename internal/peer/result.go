package peer

import (
	"encoding/json"
	"errors"
)

// Result is the flattened {success, status, data, error} form of a call,
// for callers that relay peer answers as JSON.
type Result struct {
	Success  bool            `json:"success"`
	Status   int             `json:"status,omitempty"`
	Attempts int             `json:"attempts,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// NewResult converts the outcome of Do into a Result.
func NewResult(resp *Response, err error) Result {
	var r Result
	if resp != nil {
		r.Status = resp.StatusCode
		r.Attempts = resp.Attempts
		r.Data = rawJSON(resp.Body)
	}
	if err != nil {
		r.Error = err.Error()
		var serr *StatusError
		if errors.As(err, &serr) && serr.Message != "" {
			r.Error = serr.Message
		}
		// The body of a failed call is already summarized in Error.
		r.Data = nil
		return r
	}
	r.Success = true
	return r
}

// rawJSON returns body as JSON, quoting it when it is not valid JSON.
func rawJSON(body []byte) json.RawMessage {
	if len(body) == 0 {
		return nil
	}
	if json.Valid(body) {
		return json.RawMessage(body)
	}
	quoted, _ := json.Marshal(string(body))
	return quoted
}
