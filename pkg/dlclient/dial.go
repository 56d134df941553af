package dlclient

import (
	"fmt"
	"log"
	"net"
	"os"
	"time"

	"github.com/warpdl/dlmgr/common"
)

// DefaultDialTimeout bounds a single connection attempt.
const DefaultDialTimeout = 2 * time.Second

// dialFunc is swapped out by tests.
var dialFunc = func(network, address string) (net.Conn, error) {
	return net.DialTimeout(network, address, DefaultDialTimeout)
}

// debugMode returns true if DLMGR_DEBUG=1
func debugMode() bool {
	return os.Getenv(common.DebugEnv) == "1"
}

// debugLog logs only if debugMode() is true
func debugLog(format string, args ...any) {
	if debugMode() {
		log.Printf(format, args...)
	}
}

func tcpAddress() string {
	return fmt.Sprintf("%s:%d", common.TCPHost, common.TCPPort())
}
