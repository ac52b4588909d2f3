package dispatch

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/shaowenchen/mcp-tool-forge/pkg/metrics"
)

var nullID = json.RawMessage("null")

type request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type callParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// Serve reads one request per line from r and writes one response per line to w.
// Requests are handled strictly in order. It returns nil at end of input.
func (d *Dispatcher) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	reader := bufio.NewReader(r)
	out := bufio.NewWriter(w)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		line, readErr := reader.ReadBytes('\n')
		if len(bytes.TrimSpace(line)) > 0 {
			if resp := d.Handle(ctx, line); resp != nil {
				if _, err := out.Write(append(resp, '\n')); err != nil {
					return fmt.Errorf("failed to write response: %w", err)
				}
				if err := out.Flush(); err != nil {
					return fmt.Errorf("failed to write response: %w", err)
				}
			}
		}
		if errors.Is(readErr, io.EOF) {
			return nil
		}
		if readErr != nil {
			return fmt.Errorf("failed to read request: %w", readErr)
		}
	}
}

// Handle processes a single request line. It returns nil for notifications.
func (d *Dispatcher) Handle(ctx context.Context, line []byte) []byte {
	var req request
	if err := json.Unmarshal(bytes.TrimSpace(line), &req); err != nil {
		d.logger.Warn("malformed request", zap.Error(err))
		metrics.RecordDispatchRequest("invalid", false)
		return encode(errorResponse(nullID, mcp.PARSE_ERROR, "Parse error: "+err.Error()))
	}

	notification := len(req.ID) == 0
	id := req.ID
	if notification {
		id = nullID
	}
	if req.Method == "" {
		metrics.RecordDispatchRequest("invalid", false)
		return encode(errorResponse(id, mcp.INVALID_REQUEST, "Invalid request: missing method"))
	}

	result, rpcErr := d.dispatch(ctx, req)
	metrics.RecordDispatchRequest(req.Method, rpcErr == nil)
	if notification {
		return nil
	}
	if rpcErr != nil {
		return encode(response{JSONRPC: mcp.JSONRPC_VERSION, ID: id, Error: rpcErr})
	}
	return encode(response{JSONRPC: mcp.JSONRPC_VERSION, ID: id, Result: result})
}

func (d *Dispatcher) dispatch(ctx context.Context, req request) (any, *rpcError) {
	switch req.Method {
	case "initialize":
		return map[string]any{
			"protocolVersion": mcp.LATEST_PROTOCOL_VERSION,
			"capabilities":    map[string]any{"tools": map[string]any{"listChanged": false}},
			"serverInfo":      map[string]any{"name": d.serverName, "version": d.serverVersion},
		}, nil
	case "ping":
		return map[string]any{}, nil
	case "notifications/initialized", "notifications/cancelled":
		return nil, nil
	case "tools/list":
		return map[string]any{"tools": d.List()}, nil
	case "tools/call":
		var params callParams
		if len(req.Params) > 0 {
			if err := decodeParams(req.Params, &params); err != nil {
				return nil, &rpcError{Code: mcp.INVALID_PARAMS, Message: "Invalid params: " + err.Error()}
			}
		}
		start := time.Now()
		result, err := d.Call(ctx, params.Name, params.Arguments)
		metrics.RecordMCPToolCall(params.Name, metricsModule, time.Since(start), err == nil)
		if err != nil {
			return nil, &rpcError{Code: mcp.INTERNAL_ERROR, Message: err.Error()}
		}
		return result, nil
	default:
		return nil, &rpcError{Code: mcp.METHOD_NOT_FOUND, Message: "Method not found: " + req.Method}
	}
}

// decodeParams keeps JSON numbers as json.Number so integers reach capabilities as integers.
func decodeParams(data json.RawMessage, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

func errorResponse(id json.RawMessage, code int, message string) response {
	return response{JSONRPC: mcp.JSONRPC_VERSION, ID: id, Error: &rpcError{Code: code, Message: message}}
}

func encode(resp response) []byte {
	data, err := json.Marshal(resp)
	if err != nil {
		data, _ = json.Marshal(errorResponse(resp.ID, mcp.INTERNAL_ERROR, "failed to encode response: "+err.Error()))
	}
	return data
}
