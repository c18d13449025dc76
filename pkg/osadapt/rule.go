package osadapt

import (
	"context"
	"fmt"
	"strings"

	"github.com/dimrozakis/vpn-proxy-go/pkg/execctl"
	"github.com/dimrozakis/vpn-proxy-go/pkg/fsreconcile"
)

// SourceRule adapts the `ip rule` that steers traffic originating from a
// tunnel's server address into that tunnel's routing table.
type SourceRule struct {
	Exec *execctl.Executor
}

func (r *SourceRule) exists(ctx context.Context, substr string) (bool, error) {
	out, err := r.Exec.Run(ctx, execctl.Silent, "ip", "rule", "list")
	if err != nil {
		return false, fmt.Errorf("listing ip rules: %w", err)
	}
	return strings.Contains(string(out), substr), nil
}

// Add installs `ip rule add from <server> table <rtable>` if absent.
func (r *SourceRule) Add(ctx context.Context, server, rtable string) (fsreconcile.Result, error) {
	present, err := r.exists(ctx, fmt.Sprintf("from %s lookup %s", server, rtable))
	if err != nil {
		return fsreconcile.Unchanged, err
	}
	if present {
		return fsreconcile.Unchanged, nil
	}
	if _, err := r.Exec.Run(ctx, execctl.Info, "ip", "rule", "add", "from", server, "table", rtable); err != nil {
		return fsreconcile.Unchanged, fmt.Errorf("adding source policy rule: %w", err)
	}
	return fsreconcile.Changed, nil
}

// Remove deletes `ip rule del from <server> table <rtable>` if present.
func (r *SourceRule) Remove(ctx context.Context, server, rtable string) (fsreconcile.Result, error) {
	present, err := r.exists(ctx, fmt.Sprintf("from %s lookup %s", server, rtable))
	if err != nil {
		return fsreconcile.Unchanged, err
	}
	if !present {
		return fsreconcile.Unchanged, nil
	}
	if _, err := r.Exec.Run(ctx, execctl.Info, "ip", "rule", "del", "from", server, "table", rtable); err != nil {
		return fsreconcile.Unchanged, fmt.Errorf("removing source policy rule: %w", err)
	}
	return fsreconcile.Changed, nil
}

// FwmarkRule adapts the `ip rule` that steers a Forwarding's marked packets
// into its tunnel's routing table.
type FwmarkRule struct {
	Exec *execctl.Executor
}

func (r *FwmarkRule) exists(ctx context.Context, substr string) (bool, error) {
	out, err := r.Exec.Run(ctx, execctl.Silent, "ip", "rule", "list")
	if err != nil {
		return false, fmt.Errorf("listing ip rules: %w", err)
	}
	return strings.Contains(string(out), substr), nil
}

// Add installs `ip rule add fwmark <hex> table <rtable>` if absent.
func (r *FwmarkRule) Add(ctx context.Context, fwmarkHex, rtable string) (fsreconcile.Result, error) {
	present, err := r.exists(ctx, fmt.Sprintf("from all fwmark %s lookup %s", fwmarkHex, rtable))
	if err != nil {
		return fsreconcile.Unchanged, err
	}
	if present {
		return fsreconcile.Unchanged, nil
	}
	if _, err := r.Exec.Run(ctx, execctl.Info, "ip", "rule", "add", "fwmark", fwmarkHex, "table", rtable); err != nil {
		return fsreconcile.Unchanged, fmt.Errorf("adding fwmark rule: %w", err)
	}
	return fsreconcile.Changed, nil
}

// Remove deletes `ip rule del fwmark <hex> table <rtable>` if present.
func (r *FwmarkRule) Remove(ctx context.Context, fwmarkHex, rtable string) (fsreconcile.Result, error) {
	present, err := r.exists(ctx, fmt.Sprintf("from all fwmark %s lookup %s", fwmarkHex, rtable))
	if err != nil {
		return fsreconcile.Unchanged, err
	}
	if !present {
		return fsreconcile.Unchanged, nil
	}
	if _, err := r.Exec.Run(ctx, execctl.Info, "ip", "rule", "del", "fwmark", fwmarkHex, "table", rtable); err != nil {
		return fsreconcile.Unchanged, fmt.Errorf("removing fwmark rule: %w", err)
	}
	return fsreconcile.Changed, nil
}
