package osadapt

import (
	"context"
	"fmt"
	"strings"

	"github.com/dimrozakis/vpn-proxy-go/pkg/execctl"
	"github.com/dimrozakis/vpn-proxy-go/pkg/fsreconcile"
)

// DefaultRoute adapts the default route that sends a tunnel's outbound
// table traffic out through its tun interface.
type DefaultRoute struct {
	Exec *execctl.Executor
}

// exists lists the routes in rtable and reports whether one already routes
// default traffic through name. A non-zero exit from `ip route list table`
// means the table has no routes at all, which is "absent", not an error.
func (r *DefaultRoute) exists(ctx context.Context, name, rtable string) (bool, error) {
	out, err := r.Exec.Run(ctx, execctl.Silent, "ip", "route", "list", "table", rtable)
	if err != nil {
		if _, ok := isCommandFailed(err); ok {
			return false, nil
		}
		return false, fmt.Errorf("listing routes in table %s: %w", rtable, err)
	}
	return strings.Contains(string(out), fmt.Sprintf("default dev %s", name)), nil
}

// Add installs `ip route add default dev <name> table <rtable>` if absent.
func (r *DefaultRoute) Add(ctx context.Context, name, rtable string) (fsreconcile.Result, error) {
	present, err := r.exists(ctx, name, rtable)
	if err != nil {
		return fsreconcile.Unchanged, err
	}
	if present {
		return fsreconcile.Unchanged, nil
	}
	if _, err := r.Exec.Run(ctx, execctl.Info, "ip", "route", "add", "default", "dev", name, "table", rtable); err != nil {
		return fsreconcile.Unchanged, fmt.Errorf("adding default route in table %s: %w", rtable, err)
	}
	return fsreconcile.Changed, nil
}

// Remove deletes the default route in rtable if present.
func (r *DefaultRoute) Remove(ctx context.Context, name, rtable string) (fsreconcile.Result, error) {
	present, err := r.exists(ctx, name, rtable)
	if err != nil {
		return fsreconcile.Unchanged, err
	}
	if !present {
		return fsreconcile.Unchanged, nil
	}
	if _, err := r.Exec.Run(ctx, execctl.Info, "ip", "route", "del", "default", "dev", name, "table", rtable); err != nil {
		return fsreconcile.Unchanged, fmt.Errorf("removing default route in table %s: %w", rtable, err)
	}
	return fsreconcile.Changed, nil
}
