package capability

import (
	"context"
	"fmt"
)

// ApprovalMode controls whether an MCP capability requires a human (or
// policy) decision before each invocation.
type ApprovalMode string

const (
	ApprovalNever  ApprovalMode = "never"
	ApprovalAlways ApprovalMode = "always"
)

// ApprovalRequest describes a pending MCP invocation for the approver.
type ApprovalRequest struct {
	Capability string `json:"capability"`
	Server     string `json:"server"`
	Tool       string `json:"tool"`
	Arguments  Args   `json:"arguments"`
}

// Decision is the approver's verdict on an ApprovalRequest.
type Decision struct {
	Approve bool   `json:"approve"`
	Reason  string `json:"reason,omitempty"`
}

// ApprovalFunc decides whether an MCP invocation may proceed.
type ApprovalFunc func(ctx context.Context, req ApprovalRequest) (Decision, error)

// MCPClient performs tool calls against an MCP server endpoint.
type MCPClient interface {
	CallTool(ctx context.Context, server, tool string, args Args) (any, error)
}

// MCPOptions configures an MCP-backed capability.
type MCPOptions struct {
	// Server is the locator of the MCP server hosting the tool.
	Server string
	// Tool is the remote tool name; defaults to the capability name.
	Tool string
	// Approval gates each invocation when set to ApprovalAlways.
	Approval ApprovalMode
	// Approver is consulted when Approval is ApprovalAlways.
	Approver ApprovalFunc
}

type mcpInvoker struct {
	name   string
	opts   MCPOptions
	client MCPClient
}

func (m *mcpInvoker) Invoke(ctx context.Context, args Args) (any, error) {
	if m.opts.Approval == ApprovalAlways {
		if m.opts.Approver == nil {
			return nil, &PermissionDeniedError{Capability: m.name, Reason: "no approver configured"}
		}
		decision, err := m.opts.Approver(ctx, ApprovalRequest{
			Capability: m.name,
			Server:     m.opts.Server,
			Tool:       m.opts.Tool,
			Arguments:  args,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: approval for %q: %v", ErrInvocation, m.name, err)
		}
		if !decision.Approve {
			return nil, &PermissionDeniedError{Capability: m.name, Reason: decision.Reason}
		}
	}

	out, err := m.client.CallTool(ctx, m.opts.Server, m.opts.Tool, args)
	if err != nil {
		return nil, fmt.Errorf("%w: mcp tool %q on %s: %v", ErrInvocation, m.opts.Tool, m.opts.Server, err)
	}
	return out, nil
}

// NewMCP wraps an MCP client call as a registered capability. MCP
// capabilities run in strict mode since remote side effects cannot be
// assumed idempotent.
func NewMCP(desc Descriptor, client MCPClient, opts MCPOptions) *Capability {
	desc.Type = TypeMCP
	desc.StrictMode = true
	if opts.Tool == "" {
		opts.Tool = desc.Name
	}
	if desc.Source == "" {
		desc.Source = opts.Server
	}
	return &Capability{Descriptor: desc, invoker: &mcpInvoker{name: desc.Name, opts: opts, client: client}}
}
