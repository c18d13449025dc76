package osadapt

import (
	"github.com/dimrozakis/vpn-proxy-go/pkg/fsreconcile"
)

// RTable adapts a named entry in /etc/iproute2/rt_tables.
type RTable struct {
	Path string
}

// Add ensures the routing table id maps to name, rewriting any conflicting
// line that already used that id or that name.
func (r *RTable) Add(id int, name string) (fsreconcile.Result, error) {
	return fsreconcile.EnsureRTableLine(r.Path, id, name)
}

// Remove deletes the id-to-name mapping if present.
func (r *RTable) Remove(id int, name string) (fsreconcile.Result, error) {
	return fsreconcile.RemoveRTableLine(r.Path, id, name)
}
