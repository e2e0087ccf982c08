package infrastructure

import (
	"errors"
	"io/fs"
	"net"
	"os"
)

// NewUDSListener listens on a unix socket so local processes can query the
// broker without going through TCP. A stale socket file is removed first.
func NewUDSListener(socketPath string) (net.Listener, error) {
	if err := os.Remove(socketPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	return net.Listen("unix", socketPath)
}
