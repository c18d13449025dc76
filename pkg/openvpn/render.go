// Package openvpn renders the three artifacts that make a point-to-point
// tunnel operable: the server-side static-key config, the matching
// client-side config, and a self-contained POSIX bootstrap script a client
// machine can curl and run.
package openvpn

import (
	"fmt"
	"strings"

	"github.com/dimrozakis/vpn-proxy-go/pkg/domain"
)

// RenderServerConfig produces the five-directive static-key server config
// for tunnel t.
func RenderServerConfig(t *domain.Tunnel, ifacePrefix string, serverPortStart int, keyPath string) string {
	lines := []string{
		fmt.Sprintf("dev %s", t.Name(ifacePrefix)),
		"dev-type tun",
		fmt.Sprintf("port %d", t.Port(serverPortStart)),
		fmt.Sprintf("ifconfig %s %s", t.Server, t.Client),
		fmt.Sprintf("secret %s", keyPath),
	}
	return strings.Join(lines, "\n") + "\n"
}

// RenderClientConfig produces the matching client-side config: the same
// five directives, prefixed with the remote endpoint and with the ifconfig
// arguments swapped so the client's tun address comes first.
func RenderClientConfig(t *domain.Tunnel, ifacePrefix string, serverPortStart int, remoteAddr, keyPath string) string {
	lines := []string{
		fmt.Sprintf("remote %s", remoteAddr),
		fmt.Sprintf("dev %s", t.Name(ifacePrefix)),
		"dev-type tun",
		fmt.Sprintf("port %d", t.Port(serverPortStart)),
		fmt.Sprintf("ifconfig %s %s", t.Client, t.Server),
		fmt.Sprintf("secret %s", keyPath),
	}
	return strings.Join(lines, "\n") + "\n"
}

// RenderClientBootstrapScript produces a POSIX shell script that a freshly
// imaged client machine can run to become the other end of tunnel t: it
// installs openvpn with whichever package manager it finds, writes the
// static key and client config, (re)starts the openvpn@<name> service, and
// ensures the machine forwards and masquerades traffic for the tunnel.
func RenderClientBootstrapScript(t *domain.Tunnel, ifacePrefix string, serverPortStart int, key []byte, clientConf string) string {
	name := t.Name(ifacePrefix)

	var b strings.Builder
	fmt.Fprintf(&b, "#!/bin/sh\n")
	fmt.Fprintf(&b, "set -e\n\n")

	fmt.Fprintf(&b, "if command -v apt-get >/dev/null 2>&1; then\n")
	fmt.Fprintf(&b, "  command -v openvpn >/dev/null 2>&1 || { apt-get update && apt-get install -y openvpn; }\n")
	fmt.Fprintf(&b, "elif command -v yum >/dev/null 2>&1; then\n")
	fmt.Fprintf(&b, "  command -v openvpn >/dev/null 2>&1 || yum install -y openvpn\n")
	fmt.Fprintf(&b, "elif command -v zypper >/dev/null 2>&1; then\n")
	fmt.Fprintf(&b, "  command -v openvpn >/dev/null 2>&1 || zypper install -y openvpn\n")
	fmt.Fprintf(&b, "else\n")
	fmt.Fprintf(&b, "  echo \"no supported package manager found, install openvpn manually\" >&2\n")
	fmt.Fprintf(&b, "  exit 1\n")
	fmt.Fprintf(&b, "fi\n\n")

	fmt.Fprintf(&b, "mkdir -p /etc/openvpn\n")
	fmt.Fprintf(&b, "cat > /etc/openvpn/%s.key <<'VPNPROXY_KEY_EOF'\n%sVPNPROXY_KEY_EOF\n\n", name, key)
	fmt.Fprintf(&b, "cat > /etc/openvpn/%s.conf <<'VPNPROXY_CONF_EOF'\n%sVPNPROXY_CONF_EOF\n\n", name, clientConf)

	fmt.Fprintf(&b, "if command -v systemctl >/dev/null 2>&1; then\n")
	fmt.Fprintf(&b, "  systemctl enable --now openvpn@%s || systemctl restart openvpn@%s\n", name, name)
	fmt.Fprintf(&b, "else\n")
	fmt.Fprintf(&b, "  service openvpn restart %s\n", name)
	fmt.Fprintf(&b, "fi\n\n")

	fmt.Fprintf(&b, "echo 1 > /proc/sys/net/ipv4/ip_forward\n\n")

	fmt.Fprintf(&b, "for iface in $(ls /sys/class/net | grep '^eth'); do\n")
	fmt.Fprintf(&b, "  iptables -t nat -C POSTROUTING -o \"$iface\" -j MASQUERADE 2>/dev/null || \\\n")
	fmt.Fprintf(&b, "    iptables -t nat -A POSTROUTING -o \"$iface\" -j MASQUERADE\n")
	fmt.Fprintf(&b, "done\n")

	return b.String()
}
