package osadapt

import (
	"context"
	"fmt"

	"github.com/dimrozakis/vpn-proxy-go/pkg/execctl"
	"github.com/dimrozakis/vpn-proxy-go/pkg/fsreconcile"
)

// ForwardingRules adapts the three iptables rules a Forwarding needs: a
// mangle rule that marks matching packets with the owning tunnel's id, a nat
// rule that DNATs them to the forwarding's destination, and a nat rule that
// masquerades the return traffic back out the tunnel interface. Grounded in
// the teacher's pkg/network.HostPortPublisher DNAT+MASQUERADE pair, extended
// to a fwmark-based triplet with each rule checked and toggled
// independently so a partially installed triplet converges on the next
// call instead of requiring a best-effort cleanup sweep.
type ForwardingRules struct {
	Exec *execctl.Executor
}

type rule struct {
	name  string
	table string
	chain string
	match []string
	jump  []string
}

func (f *ForwardingRules) rules(tunnelID int, tunnelName string, locPort, dstPort int, dstAddr string) []rule {
	return []rule{
		{
			name:  "mangle",
			table: "mangle",
			chain: "PREROUTING",
			match: []string{"-p", "tcp", "--dport", fmt.Sprintf("%d", locPort)},
			jump:  []string{"-j", "MARK", "--set-mark", fmt.Sprintf("%d", tunnelID)},
		},
		{
			name:  "nat",
			table: "nat",
			chain: "PREROUTING",
			match: []string{"-p", "tcp", "--dport", fmt.Sprintf("%d", locPort)},
			jump:  []string{"-j", "DNAT", "--to-destination", fmt.Sprintf("%s:%d", dstAddr, dstPort)},
		},
		{
			name:  "mask",
			table: "nat",
			chain: "POSTROUTING",
			match: []string{"-p", "tcp", "-o", tunnelName, "-d", dstAddr, "--dport", fmt.Sprintf("%d", dstPort)},
			jump:  []string{"-j", "MASQUERADE"},
		},
	}
}

func (f *ForwardingRules) argv(action string, r rule) []string {
	argv := []string{"-t", r.table, action, r.chain}
	argv = append(argv, r.match...)
	argv = append(argv, r.jump...)
	return argv
}

func (f *ForwardingRules) check(ctx context.Context, r rule) (bool, error) {
	return f.Exec.Succeeds(ctx, append([]string{"iptables"}, f.argv("-C", r)...)...)
}

// Add installs every rule in the triplet that is not already present.
func (f *ForwardingRules) Add(ctx context.Context, tunnelID int, tunnelName string, locPort, dstPort int, dstAddr string) (fsreconcile.Result, error) {
	result := fsreconcile.Unchanged
	for _, r := range f.rules(tunnelID, tunnelName, locPort, dstPort, dstAddr) {
		present, err := f.check(ctx, r)
		if err != nil {
			return result, fmt.Errorf("checking iptables %s rule: %w", r.name, err)
		}
		if present {
			continue
		}
		if _, err := f.Exec.Run(ctx, execctl.Info, append([]string{"iptables"}, f.argv("-A", r)...)...); err != nil {
			return result, fmt.Errorf("adding iptables %s rule: %w", r.name, err)
		}
		result = fsreconcile.Changed
	}
	return result, nil
}

// Remove deletes every rule in the triplet that is present.
func (f *ForwardingRules) Remove(ctx context.Context, tunnelID int, tunnelName string, locPort, dstPort int, dstAddr string) (fsreconcile.Result, error) {
	result := fsreconcile.Unchanged
	for _, r := range f.rules(tunnelID, tunnelName, locPort, dstPort, dstAddr) {
		present, err := f.check(ctx, r)
		if err != nil {
			return result, fmt.Errorf("checking iptables %s rule: %w", r.name, err)
		}
		if !present {
			continue
		}
		if _, err := f.Exec.Run(ctx, execctl.Info, append([]string{"iptables"}, f.argv("-D", r)...)...); err != nil {
			return result, fmt.Errorf("removing iptables %s rule: %w", r.name, err)
		}
		result = fsreconcile.Changed
	}
	return result, nil
}
