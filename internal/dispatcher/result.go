package dispatcher

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ErrorKind separates network trouble from errors the remote API reported.
type ErrorKind string

const (
	KindNone      ErrorKind = "none"
	KindTransport ErrorKind = "transport"
	KindRemote    ErrorKind = "remote"
)

// Result is the outcome of one delivery call. Remote and network failures
// are values, never Go errors.
type Result struct {
	Success      bool
	MessageID    string
	ErrorMessage string
	ErrorCode    int
	ErrorType    string
	ErrorUserMsg string
	Kind         ErrorKind
	Raw          json.RawMessage
}

func transportFailure(err error) Result {
	return Result{ErrorMessage: err.Error(), Kind: KindTransport}
}

// Details is the error summary written to execution logs.
func (r Result) Details() map[string]any {
	if r.Success {
		return map[string]any{}
	}
	d := map[string]any{
		"error":      r.ErrorMessage,
		"error_kind": string(r.Kind),
	}
	if r.ErrorCode != 0 {
		d["error_code"] = r.ErrorCode
	}
	if r.ErrorType != "" {
		d["error_type"] = r.ErrorType
	}
	if r.ErrorUserMsg != "" {
		d["error_user_msg"] = r.ErrorUserMsg
	}
	return d
}

type UploadResult struct {
	Success      bool
	MediaID      string
	ErrorMessage string
	Kind         ErrorKind
}

type apiResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	Error *struct {
		Message      string `json:"message"`
		Code         int    `json:"code"`
		Type         string `json:"type"`
		ErrorUserMsg string `json:"error_user_msg"`
	} `json:"error"`
}

// parseResponse maps a Graph API reply to a Result. A 5xx without a
// readable body is treated as a transport failure.
func parseResponse(status int, body []byte) Result {
	var ar apiResponse
	if err := json.Unmarshal(body, &ar); err != nil {
		text := strings.TrimSpace(string(body))
		if status >= 500 {
			return Result{ErrorMessage: fmt.Sprintf("HTTP %d: %s", status, text), Kind: KindTransport}
		}
		return Result{ErrorMessage: fmt.Sprintf("HTTP %d: %s", status, text), Kind: KindRemote}
	}

	raw := json.RawMessage(append([]byte(nil), body...))
	switch {
	case len(ar.Messages) > 0:
		return Result{Success: true, MessageID: ar.Messages[0].ID, Kind: KindNone, Raw: raw}
	case ar.Error != nil:
		return Result{
			ErrorMessage: ar.Error.Message,
			ErrorCode:    ar.Error.Code,
			ErrorType:    ar.Error.Type,
			ErrorUserMsg: ar.Error.ErrorUserMsg,
			Kind:         KindRemote,
			Raw:          raw,
		}
	case status >= 500:
		return Result{ErrorMessage: fmt.Sprintf("HTTP %d", status), Kind: KindTransport, Raw: raw}
	default:
		return Result{ErrorMessage: "Unknown response format", Kind: KindRemote, Raw: raw}
	}
}
