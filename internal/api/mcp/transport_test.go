package mcp_test

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/memento-engine/memengine/internal/api/mcp"
)

func TestStdioTransportProcessesOneLinePerRequest(t *testing.T) {
	srv := newTestServer()
	in := strings.NewReader(
		`{"jsonrpc":"2.0","id":1,"method":"store_memory","params":{"content":"line one"}}` + "\n" +
			`{"jsonrpc":"2.0","id":2,"method":"check_database_health","params":{}}` + "\n",
	)
	var out bytes.Buffer

	transport := mcp.NewStdioTransport(srv, in, &out)
	err := transport.Serve(context.Background())
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)

	var first mcp.JSONRPCResponse
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	require.Equal(t, float64(1), first.ID)
	require.Nil(t, first.Error)

	var second mcp.JSONRPCResponse
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	require.Equal(t, float64(2), second.ID)
	require.Nil(t, second.Error)
}

func TestStdioTransportSkipsBlankLines(t *testing.T) {
	srv := newTestServer()
	in := strings.NewReader("\n" + `{"jsonrpc":"2.0","id":1,"method":"check_database_health","params":{}}` + "\n")
	var out bytes.Buffer

	transport := mcp.NewStdioTransport(srv, in, &out)
	require.NoError(t, transport.Serve(context.Background()))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 1)
}

func TestStdioTransportStopsOnContextCancellation(t *testing.T) {
	srv := newTestServer()
	in := strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"check_database_health","params":{}}` + "\n")
	var out bytes.Buffer

	transport := mcp.NewStdioTransport(srv, in, &out)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // already cancelled: the loop's first check must return before scanning

	done := make(chan error, 1)
	go func() { done <- transport.Serve(ctx) }()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after context cancellation")
	}
}
