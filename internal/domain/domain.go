package domain

import (
	"strings"
	"time"
)

// Scheme classifies an ICE server URI.
type Scheme int

const (
	SchemeUnknown Scheme = iota
	SchemeDiscovery
	SchemeRelay
)

func (s Scheme) String() string {
	switch s {
	case SchemeDiscovery:
		return "discovery"
	case SchemeRelay:
		return "relay"
	default:
		return "unknown"
	}
}

// SchemeOf reports the scheme of a single URI (stun:, stuns:, turn:, turns:).
func SchemeOf(uri string) Scheme {
	lower := strings.ToLower(uri)
	switch {
	case strings.HasPrefix(lower, "turn:"), strings.HasPrefix(lower, "turns:"):
		return SchemeRelay
	case strings.HasPrefix(lower, "stun:"), strings.HasPrefix(lower, "stuns:"):
		return SchemeDiscovery
	default:
		return SchemeUnknown
	}
}

// ServerDescriptor is one ICE server entry. Treat it as a value: builders
// hand out copies, never shared slices.
type ServerDescriptor struct {
	URIs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// NewServerDescriptor copies uris so later mutation of the caller's slice
// does not leak into the descriptor.
func NewServerDescriptor(uris []string, username, credential string) ServerDescriptor {
	return ServerDescriptor{
		URIs:       append([]string(nil), uris...),
		Username:   username,
		Credential: credential,
	}
}

// Clone returns a deep copy.
func (d ServerDescriptor) Clone() ServerDescriptor {
	return NewServerDescriptor(d.URIs, d.Username, d.Credential)
}

// IsRelay reports whether any URI of the descriptor is a TURN endpoint.
func (d ServerDescriptor) IsRelay() bool {
	for _, u := range d.URIs {
		if SchemeOf(u) == SchemeRelay {
			return true
		}
	}
	return false
}

// CloneDescriptors deep-copies a descriptor list.
func CloneDescriptors(in []ServerDescriptor) []ServerDescriptor {
	if in == nil {
		return nil
	}
	out := make([]ServerDescriptor, len(in))
	for i, d := range in {
		out[i] = d.Clone()
	}
	return out
}

// CredentialSet is the result of one successful credential fetch.
type CredentialSet struct {
	Servers   []ServerDescriptor
	FetchedAt time.Time
}

// Clone returns a deep copy of the set.
func (s CredentialSet) Clone() CredentialSet {
	return CredentialSet{Servers: CloneDescriptors(s.Servers), FetchedAt: s.FetchedAt}
}

// RelayServers returns copies of the descriptors that carry a TURN URI.
func (s CredentialSet) RelayServers() []ServerDescriptor {
	var out []ServerDescriptor
	for _, d := range s.Servers {
		if d.IsRelay() {
			out = append(out, d.Clone())
		}
	}
	return out
}

// HasRelay reports whether the set can be used for relayed connectivity.
func (s CredentialSet) HasRelay() bool {
	for _, d := range s.Servers {
		if d.IsRelay() {
			return true
		}
	}
	return false
}

// RelayPolicy mirrors RTCIceTransportPolicy.
type RelayPolicy string

const (
	RelayPolicyAll   RelayPolicy = "all"
	RelayPolicyRelay RelayPolicy = "relay"
)

// BundlePolicy and MuxPolicy are passed through to the transport layer
// untouched.
type (
	BundlePolicy string
	MuxPolicy    string
)

const (
	BundlePolicyBalanced  BundlePolicy = "balanced"
	BundlePolicyMaxCompat BundlePolicy = "max-compat"
	BundlePolicyMaxBundle BundlePolicy = "max-bundle"

	MuxPolicyNegotiate MuxPolicy = "negotiate"
	MuxPolicyRequire   MuxPolicy = "require"
)

// ConnectivityConfig is what the peer-connection layer consumes. JSON
// field names follow RTCConfiguration so browsers can use it directly.
type ConnectivityConfig struct {
	Servers           []ServerDescriptor `json:"iceServers"`
	RelayPolicy       RelayPolicy        `json:"iceTransportPolicy"`
	CandidatePoolSize uint8              `json:"iceCandidatePoolSize"`
	BundlePolicy      BundlePolicy       `json:"bundlePolicy,omitempty"`
	MuxPolicy         MuxPolicy          `json:"rtcpMuxPolicy,omitempty"`
}

// Tier names one of the three configuration variants.
type Tier string

const (
	TierDiscovery Tier = "discovery"
	TierFull      Tier = "full"
	TierRelay     Tier = "relay"
)

// ParseTier accepts the canonical tier names plus a few aliases.
func ParseTier(s string) (Tier, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "discovery", "stun":
		return TierDiscovery, true
	case "full", "fallback":
		return TierFull, true
	case "relay", "turn", "relay-only":
		return TierRelay, true
	default:
		return "", false
	}
}
