package ipc

import "encoding/json"

// Request is a renderer command. Seq 0 means the renderer does not want a
// response.
type Request struct {
	Seq     uint64          `json:"seq"`
	Channel string          `json:"channel"`
	Args    json.RawMessage `json:"args,omitempty"`
}

// Response answers a Request with a non-zero Seq.
type Response struct {
	Seq    uint64     `json:"seq"`
	OK     bool       `json:"ok"`
	Result any        `json:"result,omitempty"`
	Error  *ErrorBody `json:"error,omitempty"`
}

// ErrorBody is the failure half of a Response. Kind is one of the wire kinds
// returned by errors.Kind.
type ErrorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Push is an event sent to a renderer without a request.
type Push struct {
	Channel string `json:"channel"`
	Payload any    `json:"payload"`
}

type ptyCreateArgs struct {
	ID      string            `json:"id"`
	Cwd     string            `json:"cwd"`
	Command string            `json:"command"`
	Args    []string          `json:"args"`
	Env     map[string]string `json:"env"`
	Cols    uint16            `json:"cols"`
	Rows    uint16            `json:"rows"`
}

// ptyWriteArgs carries input as text in Data or, for input that is not valid
// UTF-8, as base64 in Bytes. Bytes wins when both are set.
type ptyWriteArgs struct {
	ID    string `json:"id"`
	Data  string `json:"data"`
	Bytes []byte `json:"bytes,omitempty"`
}

func (a ptyWriteArgs) payload() []byte {
	if len(a.Bytes) > 0 {
		return a.Bytes
	}
	return []byte(a.Data)
}

type ptyResizeArgs struct {
	ID   string `json:"id"`
	Cols uint16 `json:"cols"`
	Rows uint16 `json:"rows"`
}

type idArgs struct {
	ID string `json:"id"`
}

type fsWatchArgs struct {
	ID   string `json:"id"`
	Path string `json:"path"`
}

type profileArgs struct {
	ProfileID string `json:"profileId"`
}

// OpenResult is returned when a profile window is opened or focused.
type OpenResult struct {
	WindowID string `json:"windowId"`
}
