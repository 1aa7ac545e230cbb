// mcp/server.go
// Minimal stdio JSON-RPC tool server exposing stateless demo tools.
// - Fixture data lives ONLY here (boundary); tools operate on explicit inputs.
//
// Start: `go run mcp/server.go`
// The engine connects via stdio JSON-RPC: "tools/list" and "tools/call".

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// ---------- JSON-RPC skeleton ----------

type rpcReq struct {
	JSONRPC string                 `json:"jsonrpc"`
	ID      any                    `json:"id"`
	Method  string                 `json:"method"`
	Params  map[string]interface{} `json:"params"`
}
type rpcResp struct {
	JSONRPC string                 `json:"jsonrpc"`
	ID      any                    `json:"id"`
	Result  map[string]interface{} `json:"result,omitempty"`
	Error   *rpcError              `json:"error,omitempty"`
}
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func writeResp(w io.Writer, id any, result map[string]interface{}, err error) {
	resp := rpcResp{JSONRPC: "2.0", ID: id}
	if err != nil {
		resp.Error = &rpcError{Code: -32000, Message: err.Error()}
	} else {
		resp.Result = result
	}
	enc := json.NewEncoder(w)
	_ = enc.Encode(resp)
}

// ---------- Tool registry ----------

// ToolDesc describes a single tool, including input schema.
type ToolDesc struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

type handler func(ctx context.Context, args map[string]any) (map[string]any, error)

// ToolServer holds fixture data and handlers (the only "state").
type ToolServer struct {
	messages []mailMessage
	events   []calendarEvent
	sent     []map[string]any

	tools    []ToolDesc
	handlers map[string]handler
}

type mailMessage struct {
	ID      string `json:"id"`
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
	Date    string `json:"date"`
}

type calendarEvent struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Start     string `json:"start"`
	End       string `json:"end"`
	Attendees int    `json:"attendees"`
}

func NewToolServer() *ToolServer {
	srv := &ToolServer{
		messages: []mailMessage{
			{ID: "m1", From: "ava@acme.io", To: "me@acme.io", Subject: "Q3 budget review", Body: "Can we meet Thursday to walk through the Q3 numbers?", Date: "2026-08-20"},
			{ID: "m2", From: "noreply@ci.acme.io", To: "me@acme.io", Subject: "Build failed on main", Body: "Pipeline 4411 failed in unit tests.", Date: "2026-08-21"},
			{ID: "m3", From: "li.wei@acme.io", To: "me@acme.io", Subject: "Onboarding checklist", Body: "The new-hire checklist is ready for review.", Date: "2026-08-24"},
		},
		events: []calendarEvent{
			{ID: "e1", Title: "Sprint planning", Start: "2026-08-27T10:00:00Z", End: "2026-08-27T11:00:00Z", Attendees: 6},
			{ID: "e2", Title: "1:1 with Ava", Start: "2026-08-28T15:00:00Z", End: "2026-08-28T15:30:00Z", Attendees: 2},
		},
	}
	srv.initTools()
	return srv
}

// initTools defines schemas and descriptions surfaced to clients.
func (srv *ToolServer) initTools() {
	srv.tools = []ToolDesc{
		{
			Name:        "mail.search_messages",
			Description: "Search mailbox messages by keyword.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{"type": "string"},
					"limit": map[string]any{"type": "integer", "minimum": 1, "maximum": 50},
				},
				"required": []string{"query"},
			},
		},
		{
			Name:        "mail.send_message",
			Description: "Send an email message.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"to":      map[string]any{"type": "string", "format": "email"},
					"subject": map[string]any{"type": "string"},
					"body":    map[string]any{"type": "string"},
				},
				"required": []string{"to", "subject", "body"},
			},
		},
		{
			Name:        "calendar.list_events",
			Description: "List upcoming calendar events.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"from": map[string]any{"type": "string"},
					"to":   map[string]any{"type": "string"},
				},
			},
		},
		{
			Name:        "calendar.create_event",
			Description: "Create a calendar event.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"title": map[string]any{"type": "string"},
					"start": map[string]any{"type": "string"},
					"end":   map[string]any{"type": "string"},
				},
				"required": []string{"title", "start"},
			},
		},
	}
	srv.handlers = map[string]handler{
		"mail.search_messages":  srv.tMailSearch,
		"mail.send_message":     srv.tMailSend,
		"calendar.list_events":  srv.tCalendarList,
		"calendar.create_event": srv.tCalendarCreate,
	}
}

func (srv *ToolServer) callTool(ctx context.Context, name string, args map[string]any) (map[string]any, error) {
	h, ok := srv.handlers[name]
	if !ok {
		return nil, fmt.Errorf("unknown tool: %s", name)
	}
	return h(ctx, args)
}

// ---------- tool handlers ----------

func (srv *ToolServer) tMailSearch(_ context.Context, args map[string]any) (map[string]any, error) {
	query := strings.ToLower(str(args["query"]))
	if query == "" {
		return nil, errors.New("query is required")
	}
	limit := asInt(args["limit"])
	if limit < 1 || limit > 50 {
		limit = 10
	}
	out := make([]map[string]any, 0)
	for _, m := range srv.messages {
		if len(out) >= limit {
			break
		}
		if strings.Contains(strings.ToLower(m.Subject), query) ||
			strings.Contains(strings.ToLower(m.Body), query) ||
			strings.Contains(strings.ToLower(m.From), query) {
			out = append(out, map[string]any{
				"id": m.ID, "from": m.From, "subject": m.Subject, "body": m.Body, "date": m.Date,
			})
		}
	}
	return map[string]any{"messages": out, "count": len(out)}, nil
}

func (srv *ToolServer) tMailSend(_ context.Context, args map[string]any) (map[string]any, error) {
	to := str(args["to"])
	subject := str(args["subject"])
	if to == "" || subject == "" {
		return nil, errors.New("to and subject are required")
	}
	srv.sent = append(srv.sent, args)
	return map[string]any{"message_id": fmt.Sprintf("sent-%d", len(srv.sent)), "status": "sent"}, nil
}

func (srv *ToolServer) tCalendarList(_ context.Context, args map[string]any) (map[string]any, error) {
	from := str(args["from"])
	to := str(args["to"])
	out := make([]map[string]any, 0)
	for _, e := range srv.events {
		if from != "" && e.Start < from {
			continue
		}
		if to != "" && e.Start > to {
			continue
		}
		out = append(out, map[string]any{
			"id": e.ID, "title": e.Title, "start": e.Start, "end": e.End, "attendees": e.Attendees,
		})
	}
	return map[string]any{"events": out, "count": len(out)}, nil
}

func (srv *ToolServer) tCalendarCreate(_ context.Context, args map[string]any) (map[string]any, error) {
	title := str(args["title"])
	start := str(args["start"])
	if title == "" || start == "" {
		return nil, errors.New("title and start are required")
	}
	ev := calendarEvent{
		ID:    fmt.Sprintf("e%d", len(srv.events)+1),
		Title: title,
		Start: start,
		End:   str(args["end"]),
	}
	srv.events = append(srv.events, ev)
	return map[string]any{"id": ev.ID, "status": "created"}, nil
}

// ---------- helpers ----------

func str(v any) string { s, _ := v.(string); return s }
func asInt(v any) int {
	switch x := v.(type) {
	case float64:
		return int(x)
	case int:
		return x
	case json.Number:
		i, _ := x.Int64()
		return int(i)
	default:
		return 0
	}
}

// ---------- stdio loop ----------

// Serve runs a simple stdio JSON-RPC loop.
func (srv *ToolServer) Serve(in io.Reader, out io.Writer) error {
	rd := bufio.NewReader(in)
	dec := json.NewDecoder(rd)
	for {
		var req rpcReq
		if err := dec.Decode(&req); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			// try to skip bad lines
			continue
		}

		switch req.Method {
		case "tools/list":
			writeResp(out, req.ID, map[string]any{"tools": srv.tools}, nil)

		case "tools/call":
			name := ""
			args := map[string]any{}
			if v, ok := req.Params["name"].(string); ok {
				name = v
			}
			if m, ok := req.Params["arguments"].(map[string]any); ok {
				args = m
			}
			// Per-call timeout to avoid stuck handlers
			ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
			res, err := srv.callTool(ctx, name, args)
			cancel()
			writeResp(out, req.ID, res, err)

		default:
			writeResp(out, req.ID, nil, fmt.Errorf("unknown method: %s", req.Method))
		}
	}
}

func main() {
	srv := NewToolServer()
	if err := srv.Serve(os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "serve error: %v\n", err)
		os.Exit(1)
	}
}
