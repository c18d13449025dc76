package osadapt

import (
	"fmt"
	"os"
	"strings"

	"github.com/dimrozakis/vpn-proxy-go/pkg/fsreconcile"
)

// RPFilter adapts the reverse-path-filter mode of a tunnel interface. The
// control plane always wants loose mode ("2") so that return traffic
// arriving on a different interface than it was sent on is not dropped,
// which is the normal case once a Forwarding NATs traffic onto the tunnel.
// Root overrides the "/" the proc path is rooted at; tests set it to a
// temp directory so EnsureLoose never touches the real /proc.
type RPFilter struct {
	Root string
}

func (r RPFilter) path(name string) string {
	return fmt.Sprintf("%s/proc/sys/net/ipv4/conf/%s/rp_filter", r.Root, name)
}

// EnsureLoose reads the interface's current rp_filter mode and writes "2"
// if it is not already set.
func (r RPFilter) EnsureLoose(name string) (fsreconcile.Result, error) {
	path := r.path(name)
	current, err := os.ReadFile(path)
	if err != nil {
		return fsreconcile.Unchanged, fmt.Errorf("reading %s: %w", path, err)
	}
	if strings.TrimSpace(string(current)) == "2" {
		return fsreconcile.Unchanged, nil
	}
	if err := os.WriteFile(path, []byte("2"), 0o644); err != nil {
		return fsreconcile.Unchanged, fmt.Errorf("writing %s: %w", path, err)
	}
	return fsreconcile.Changed, nil
}
