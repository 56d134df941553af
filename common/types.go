package common

import (
	"strings"

	"github.com/samber/lo"
)

// State is the lifecycle state of a download request.
type State int32

const (
	STATE_NONE State = iota
	STATE_READY
	STATE_QUEUED
	STATE_CONNECTING
	STATE_DOWNLOADING
	STATE_PAUSE_REQUESTED
	STATE_PAUSED
	STATE_COMPLETED
	STATE_CANCELED
	STATE_FAILED
)

var stateNames = [...]string{
	"NONE", "READY", "QUEUED", "CONNECTING", "DOWNLOADING",
	"PAUSE_REQUESTED", "PAUSED", "COMPLETED", "CANCELED", "FAILED",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "UNKNOWN"
	}
	return stateNames[s]
}

// IsTerminal reports whether s is COMPLETED, CANCELED or FAILED.
func (s State) IsTerminal() bool {
	return s == STATE_COMPLETED || s == STATE_CANCELED || s == STATE_FAILED
}

// IsActive reports whether the engine is working on a request in state s.
func (s State) IsActive() bool {
	return s == STATE_CONNECTING || s == STATE_DOWNLOADING || s == STATE_PAUSE_REQUESTED
}

// NetworkType is the connectivity constraint of a request, or the class of
// the current connection when reported by the network monitor.
type NetworkType int32

const (
	NETWORK_ALL NetworkType = iota
	NETWORK_WIFI
	NETWORK_DATA
	NETWORK_WIFI_DIRECT
	NETWORK_ETHERNET
	NETWORK_OFF NetworkType = -1
)

var networkNames = map[NetworkType]string{
	NETWORK_ALL:         "all",
	NETWORK_WIFI:        "wifi",
	NETWORK_DATA:        "data",
	NETWORK_WIFI_DIRECT: "wifi-direct",
	NETWORK_ETHERNET:    "ethernet",
	NETWORK_OFF:         "off",
}

func (n NetworkType) String() string {
	if name, ok := networkNames[n]; ok {
		return name
	}
	return "unknown"
}

// ParseNetworkType maps a name printed by String back to its value.
func ParseNetworkType(s string) (NetworkType, bool) {
	return lo.FindKey(networkNames, strings.ToLower(strings.TrimSpace(s)))
}

// Valid reports whether n may be used as a request constraint.
func (n NetworkType) Valid() bool {
	return n >= NETWORK_ALL && n <= NETWORK_ETHERNET
}

// NotificationType selects when the notification service is used for a request.
type NotificationType int32

const (
	NOTIFY_NONE NotificationType = iota
	NOTIFY_COMPLETE_ONLY
	NOTIFY_ALL
)

// Valid reports whether t is a known notification policy.
func (t NotificationType) Valid() bool {
	return t >= NOTIFY_NONE && t <= NOTIFY_ALL
}

// BundleKind selects which notification payload a bundle command addresses.
type BundleKind int32

const (
	BUNDLE_ONGOING BundleKind = iota
	BUNDLE_COMPLETE
	BUNDLE_FAILED
)

// Valid reports whether k names a known bundle slot.
func (k BundleKind) Valid() bool {
	return k >= BUNDLE_ONGOING && k <= BUNDLE_FAILED
}
