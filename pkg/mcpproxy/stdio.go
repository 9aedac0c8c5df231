package mcpproxy

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"

	talerrors "github.com/stacklok/talos/pkg/errors"
	"github.com/stacklok/talos/pkg/logger"
)

// StdioProxy is the reference Proxy implementation: it launches a child
// process and speaks newline-delimited JSON-RPC over its stdin/stdout —
// one goroutine feeds queued requests to stdin, a second drains stdout
// and routes each response back to the Forward call waiting on it by
// JSON-RPC id.
type StdioProxy struct {
	command string
	args    []string

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser

	writeCh chan JSONRPCRequest
	done    chan struct{}

	mu      sync.Mutex
	pending map[string]chan *JSONRPCResponse
}

// NewStdioProxy creates a StdioProxy that will launch command with args
// when Start is called.
func NewStdioProxy(command string, args ...string) *StdioProxy {
	return &StdioProxy{
		command: command,
		args:    args,
		writeCh: make(chan JSONRPCRequest, 64),
		pending: make(map[string]chan *JSONRPCResponse),
	}
}

// Start launches the child process and its feeder/drainer goroutines.
func (p *StdioProxy) Start(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, p.command, p.args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return talerrors.NewError(talerrors.ErrInternal, "opening child stdin", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return talerrors.NewError(talerrors.ErrInternal, "opening child stdout", err)
	}
	if err := cmd.Start(); err != nil {
		return talerrors.NewError(talerrors.ErrInternal, fmt.Sprintf("starting %s", p.command), err)
	}

	p.cmd = cmd
	p.stdin = stdin
	p.stdout = stdout
	p.done = make(chan struct{})

	go p.feedStdin()
	go p.drainStdout()

	return nil
}

// Stop closes stdin (signaling EOF to the child), signals the feeder
// goroutine to exit, and reaps the child process. It does not wait for the
// feeder or drainer goroutine to return.
func (p *StdioProxy) Stop(_ context.Context) error {
	if p.stdin != nil {
		_ = p.stdin.Close()
	}
	close(p.done)
	if p.cmd != nil {
		return p.cmd.Wait()
	}
	return nil
}

// Forward queues req for the feeder goroutine and blocks until the
// drainer goroutine delivers the matching response or ctx is done.
func (p *StdioProxy) Forward(ctx context.Context, req JSONRPCRequest) (*JSONRPCResponse, error) {
	replyCh := make(chan *JSONRPCResponse, 1)
	key := string(req.ID)

	p.mu.Lock()
	p.pending[key] = replyCh
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		delete(p.pending, key)
		p.mu.Unlock()
	}()

	select {
	case p.writeCh <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.done:
		return nil, talerrors.NewError(talerrors.ErrInternal, "proxy stopped", nil)
	}

	select {
	case resp := <-replyCh:
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.done:
		return nil, talerrors.NewError(talerrors.ErrInternal, "proxy stopped", nil)
	}
}

// feedStdin drains writeCh and writes each request to the child's stdin as
// a single newline-delimited JSON line.
func (p *StdioProxy) feedStdin() {
	enc := json.NewEncoder(p.stdin)
	for {
		select {
		case req := <-p.writeCh:
			if err := enc.Encode(req); err != nil {
				logger.Errorw("mcpproxy: failed writing request to child stdin", "error", err)
			}
		case <-p.done:
			return
		}
	}
}

// drainStdout reads newline-delimited JSON-RPC responses from the child's
// stdout and routes each to the Forward call waiting on its id.
func (p *StdioProxy) drainStdout() {
	scanner := bufio.NewScanner(p.stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		var resp JSONRPCResponse
		if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
			logger.Errorw("mcpproxy: failed parsing child response", "error", err)
			continue
		}

		key := string(resp.ID)
		p.mu.Lock()
		ch, ok := p.pending[key]
		p.mu.Unlock()
		if !ok {
			logger.Errorw("mcpproxy: response for unknown request id", "id", key)
			continue
		}
		ch <- &resp
	}
}

var _ Proxy = (*StdioProxy)(nil)
