package datarpc

import (
	"encoding/json"
	"fmt"
)

// JSON-RPC 2.0 error codes used by the dispatch switch.
const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
)

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

type rpcResponse struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      any       `json:"id"`
	Result  any       `json:"result,omitempty"`
	Error   *rpcError `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func methodNotFound(method string) *rpcError {
	return &rpcError{Code: codeMethodNotFound, Message: "method not found", Data: method}
}

func invalidParams(err error) *rpcError {
	return &rpcError{Code: codeInvalidParams, Message: "invalid params", Data: err.Error()}
}

// unmarshalParams decodes a by-name params object. Absent params leave the
// defaults in place.
func unmarshalParams(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode params: %w", err)
	}
	return nil
}

// rpcCall is one inbound request handed from the read pump to the session
// loop. malformed carries a frame-level JSON parse failure.
type rpcCall struct {
	req       rpcRequest
	malformed error
}

type cancelParams struct {
	ID string `json:"id"`
}

// HandleMessage parses one inbound frame and forwards it to the session
// loop. Responses are written from the loop, keeping a single writer per
// connection.
func (s *session) HandleMessage(data []byte) {
	var req rpcRequest
	if err := json.Unmarshal(data, &req); err != nil {
		s.postCall(rpcCall{malformed: err})
		return
	}
	s.postCall(rpcCall{req: req})
}

func (s *session) handleCall(c rpcCall) {
	if c.malformed != nil {
		s.writeResponse(rpcResponse{
			JSONRPC: "2.0",
			Error:   &rpcError{Code: codeParseError, Message: "parse error", Data: c.malformed.Error()},
		})
		return
	}

	var result any
	var rpcErr *rpcError
	switch c.req.Method {
	case "cancel_subscription":
		var p cancelParams
		if err := unmarshalParams(c.req.Params, &p); err != nil {
			rpcErr = invalidParams(err)
		} else {
			result = s.cancelSubscription(p.ID)
		}
	default:
		result, rpcErr = s.feed.dispatch(c.req)
	}

	if c.req.ID == nil {
		// Notification (no id): never answered, even on error.
		return
	}
	resp := rpcResponse{JSONRPC: "2.0", ID: c.req.ID}
	if rpcErr != nil {
		resp.Error = rpcErr
	} else {
		resp.Result = result
	}
	s.writeResponse(resp)
}

func (s *session) writeResponse(resp rpcResponse) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Warn("response serialization failed", "error", err)
		return
	}
	if err := s.transport.WriteMessage(data); err != nil {
		s.logger.Warn("response write failed", "error", err)
	}
}
