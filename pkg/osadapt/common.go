package osadapt

import "github.com/dimrozakis/vpn-proxy-go/pkg/domain"

// isCommandFailed reports whether err is a *domain.CommandFailed, the
// expected shape of a non-zero exit from a listing command whose absence of
// output just means "nothing here" rather than a real failure.
func isCommandFailed(err error) (*domain.CommandFailed, bool) {
	cf, ok := err.(*domain.CommandFailed)
	return cf, ok
}
