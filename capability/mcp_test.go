package capability

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
)

type fakeMCPClient struct {
	calls  int
	result any
	err    error
}

func (c *fakeMCPClient) CallTool(_ context.Context, server, tool string, args Args) (any, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return c.result, nil
}

func TestMCPApprovalDenied(t *testing.T) {
	client := &fakeMCPClient{result: "should not be seen"}
	r := NewRegistry(zap.NewNop())
	cap := NewMCP(Descriptor{Name: "delete_file"}, client, MCPOptions{
		Server:   "fs://local",
		Approval: ApprovalAlways,
		Approver: func(_ context.Context, req ApprovalRequest) (Decision, error) {
			return Decision{Approve: false, Reason: "destructive operation"}, nil
		},
	})
	if err := r.Register(cap, false); err != nil {
		t.Fatalf("register: %v", err)
	}

	_, err := r.Invoke(context.Background(), "delete_file", Args{"path": "/tmp/x"})
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("got %v, want ErrPermissionDenied", err)
	}
	var denied *PermissionDeniedError
	if !errors.As(err, &denied) || denied.Reason != "destructive operation" {
		t.Errorf("denied detail: %+v", denied)
	}
	if client.calls != 0 {
		t.Errorf("denied invocation must not reach the server, got %d calls", client.calls)
	}
}

func TestMCPApprovalGranted(t *testing.T) {
	client := &fakeMCPClient{result: map[string]any{"ok": true}}
	r := NewRegistry(zap.NewNop())
	cap := NewMCP(Descriptor{Name: "read_file"}, client, MCPOptions{
		Server:   "fs://local",
		Approval: ApprovalAlways,
		Approver: func(_ context.Context, req ApprovalRequest) (Decision, error) {
			return Decision{Approve: true}, nil
		},
	})
	if err := r.Register(cap, false); err != nil {
		t.Fatalf("register: %v", err)
	}

	res, err := r.Invoke(context.Background(), "read_file", Args{"path": "/etc/hosts"})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if !res.Success || client.calls != 1 {
		t.Errorf("expected one successful server call, res=%+v calls=%d", res, client.calls)
	}
}

func TestMCPNoApprovalNeeded(t *testing.T) {
	client := &fakeMCPClient{result: "data"}
	r := NewRegistry(zap.NewNop())
	cap := NewMCP(Descriptor{Name: "lookup"}, client, MCPOptions{
		Server: "kb://main",
		Tool:   "kb_lookup",
	})
	if err := r.Register(cap, false); err != nil {
		t.Fatalf("register: %v", err)
	}
	if !cap.StrictMode {
		t.Error("mcp capabilities should be strict mode")
	}

	res, err := r.Invoke(context.Background(), "lookup", nil)
	if err != nil || !res.Success {
		t.Fatalf("invoke: res=%+v err=%v", res, err)
	}
}

func TestMCPServerError(t *testing.T) {
	client := &fakeMCPClient{err: errors.New("connection refused")}
	r := NewRegistry(zap.NewNop())
	cap := NewMCP(Descriptor{Name: "lookup"}, client, MCPOptions{Server: "kb://main"})
	if err := r.Register(cap, false); err != nil {
		t.Fatalf("register: %v", err)
	}

	res, err := r.Invoke(context.Background(), "lookup", nil)
	if err != nil {
		t.Fatalf("server error should come back as a failed result: %v", err)
	}
	if res.Success {
		t.Fatal("expected failure")
	}
	if !errors.Is(res.Cause(), ErrInvocation) {
		t.Errorf("cause: got %v, want ErrInvocation", res.Cause())
	}
}
