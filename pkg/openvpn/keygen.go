package openvpn

import (
	"context"
	"fmt"
	"os"

	"github.com/dimrozakis/vpn-proxy-go/pkg/execctl"
	"github.com/google/uuid"
)

// GenerateStaticKey shells out to `openvpn --genkey --secret <tmpfile>`,
// reads the generated static key back and removes the temp file. The
// temp file is named with a random uuid rather than a predictable
// sequence so two concurrent tunnel creations can never collide on it.
func GenerateStaticKey(ctx context.Context, exec *execctl.Executor, tmpDir string) ([]byte, error) {
	tmpPath := fmt.Sprintf("%s/%s.key", tmpDir, uuid.NewString())

	if _, err := exec.Run(ctx, execctl.Debug, "openvpn", "--genkey", "--secret", tmpPath); err != nil {
		return nil, fmt.Errorf("generating static key: %w", err)
	}
	defer os.Remove(tmpPath)

	key, err := os.ReadFile(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("reading generated key %s: %w", tmpPath, err)
	}
	return key, nil
}
