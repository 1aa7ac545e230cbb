package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"
)

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      int64       `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcErrorBody   `json:"error,omitempty"`
}

type rpcErrorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// StdioProvider talks JSON-RPC over the stdin/stdout of a child process that
// hosts tools. The process is spawned lazily on first use and requests are
// serialized; the protocol has no framing beyond one JSON value per message.
type StdioProvider struct {
	name    string
	command string
	args    []string

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	dec    *json.Decoder
	nextID int64
	broken bool
}

// NewStdioProvider configures a provider backed by the given command. The
// process is not started until the first ListTools or Call.
func NewStdioProvider(name, command string, args ...string) *StdioProvider {
	return &StdioProvider{name: name, command: command, args: args}
}

func (p *StdioProvider) Name() string { return p.name }

func (p *StdioProvider) ensureStartedLocked() error {
	if p.cmd != nil && !p.broken {
		return nil
	}
	if p.broken {
		p.teardownLocked()
	}
	cmd := exec.Command(p.command, p.args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("opening stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("opening stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting %s: %w", p.command, err)
	}
	p.cmd = cmd
	p.stdin = stdin
	p.dec = json.NewDecoder(stdout)
	p.broken = false
	return nil
}

// roundTrip sends one request and waits for the matching response. Responses
// arrive in request order since requests are serialized under p.mu.
func (p *StdioProvider) roundTrip(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ensureStartedLocked(); err != nil {
		return nil, TransportError(p.name, err)
	}

	p.nextID++
	req := rpcRequest{JSONRPC: "2.0", ID: p.nextID, Method: method, Params: params}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, TransportError(p.name, fmt.Errorf("encoding request: %w", err))
	}
	payload = append(payload, '\n')
	if _, err := p.stdin.Write(payload); err != nil {
		p.broken = true
		return nil, TransportError(p.name, fmt.Errorf("writing to %s: %w", p.command, err))
	}

	type decoded struct {
		resp rpcResponse
		err  error
	}
	ch := make(chan decoded, 1)
	go func() {
		var resp rpcResponse
		err := p.dec.Decode(&resp)
		ch <- decoded{resp: resp, err: err}
	}()

	select {
	case <-ctx.Done():
		// The pending response can no longer be matched up; the process is
		// torn down and restarted on the next call.
		p.broken = true
		p.teardownLocked()
		return nil, ctx.Err()
	case d := <-ch:
		if d.err != nil {
			p.broken = true
			return nil, TransportError(p.name, fmt.Errorf("reading from %s: %w", p.command, d.err))
		}
		if d.resp.Error != nil {
			return nil, ToolError(method, fmt.Errorf("rpc error %d: %s", d.resp.Error.Code, d.resp.Error.Message))
		}
		return d.resp.Result, nil
	}
}

func (p *StdioProvider) ListTools(ctx context.Context) ([]Tool, error) {
	raw, err := p.roundTrip(ctx, "tools/list", nil)
	if err != nil {
		return nil, err
	}
	var result struct {
		Tools []Tool `json:"tools"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, TransportError(p.name, fmt.Errorf("decoding tools/list result: %w", err))
	}
	return result.Tools, nil
}

func (p *StdioProvider) Call(ctx context.Context, tool string, args map[string]interface{}) (map[string]interface{}, error) {
	params := map[string]interface{}{
		"name":      tool,
		"arguments": args,
	}
	raw, err := p.roundTrip(ctx, "tools/call", params)
	if err != nil {
		return nil, err
	}
	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, TransportError(p.name, fmt.Errorf("decoding tools/call result: %w", err))
	}
	return out, nil
}

// Close terminates the child process, if running.
func (p *StdioProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.teardownLocked()
	return nil
}

func (p *StdioProvider) teardownLocked() {
	if p.cmd == nil {
		return
	}
	if p.stdin != nil {
		p.stdin.Close()
	}
	if p.cmd.Process != nil {
		p.cmd.Process.Kill()
	}
	p.cmd.Wait()
	p.cmd = nil
	p.stdin = nil
	p.dec = nil
}
