package usecase

import (
	"context"

	"ice-broker/internal/domain"
)

// CredentialSource is satisfied by credential.Broker.
type CredentialSource interface {
	Acquire(ctx context.Context) (domain.CredentialSet, error)
}

// Tuning carries the transport parameters copied into every config.
type Tuning struct {
	DiscoveryPoolSize uint8
	FullPoolSize      uint8
	BundlePolicy      domain.BundlePolicy
	MuxPolicy         domain.MuxPolicy
}

// DefaultTuning favours a large pre-gathered pool for the fast first
// attempt and a moderate one once relays are in the mix.
var DefaultTuning = Tuning{
	DiscoveryPoolSize: 10,
	FullPoolSize:      5,
	BundlePolicy:      domain.BundlePolicyMaxBundle,
	MuxPolicy:         domain.MuxPolicyRequire,
}

// ConfigInteractor builds the three connectivity tiers. None of its
// methods fail: credential problems degrade the result toward
// discovery-only.
type ConfigInteractor struct {
	source    CredentialSource
	discovery []domain.ServerDescriptor
	tuning    Tuning
	events    domain.EventReporter
}

func NewConfigInteractor(
	source CredentialSource,
	discovery []domain.ServerDescriptor,
	tuning Tuning,
	events domain.EventReporter,
) *ConfigInteractor {
	if events == nil {
		events = domain.NopReporter{}
	}
	return &ConfigInteractor{
		source:    source,
		discovery: domain.CloneDescriptors(discovery),
		tuning:    tuning,
		events:    events,
	}
}

// DiscoveryOnly never touches the network.
func (i *ConfigInteractor) DiscoveryOnly() domain.ConnectivityConfig {
	return DiscoveryConfig(i.discovery, i.tuning)
}

// FullFallback returns discovery plus fetched servers, or DiscoveryOnly if
// credentials are unavailable.
func (i *ConfigInteractor) FullFallback(ctx context.Context) domain.ConnectivityConfig {
	set, err := i.source.Acquire(ctx)
	if err != nil {
		return i.DiscoveryOnly()
	}
	return FullConfig(i.discovery, set, i.tuning)
}

// RelayOnly forces relayed connectivity when relay servers are available.
// Without them it degrades the same way FullFallback does.
func (i *ConfigInteractor) RelayOnly(ctx context.Context) domain.ConnectivityConfig {
	set, err := i.source.Acquire(ctx)
	if err != nil {
		i.events.Report(domain.Event{
			Kind:     domain.EventRelayOnlyUnavailable,
			Severity: domain.SeverityWarning,
			Err:      err,
		})
		return i.DiscoveryOnly()
	}
	cfg, ok := RelayConfig(set, i.tuning)
	if !ok {
		i.events.Report(domain.Event{
			Kind:     domain.EventRelayOnlyUnavailable,
			Severity: domain.SeverityWarning,
			Fields:   map[string]any{"reason": "no relay servers in credential set"},
		})
		return FullConfig(i.discovery, set, i.tuning)
	}
	return cfg
}

// Build dispatches on tier.
func (i *ConfigInteractor) Build(ctx context.Context, tier domain.Tier) domain.ConnectivityConfig {
	switch tier {
	case domain.TierFull:
		return i.FullFallback(ctx)
	case domain.TierRelay:
		return i.RelayOnly(ctx)
	default:
		return i.DiscoveryOnly()
	}
}

func DiscoveryConfig(discovery []domain.ServerDescriptor, t Tuning) domain.ConnectivityConfig {
	return domain.ConnectivityConfig{
		Servers:           domain.CloneDescriptors(discovery),
		RelayPolicy:       domain.RelayPolicyAll,
		CandidatePoolSize: t.DiscoveryPoolSize,
		BundlePolicy:      t.BundlePolicy,
		MuxPolicy:         t.MuxPolicy,
	}
}

func FullConfig(discovery []domain.ServerDescriptor, set domain.CredentialSet, t Tuning) domain.ConnectivityConfig {
	servers := make([]domain.ServerDescriptor, 0, len(discovery)+len(set.Servers))
	servers = append(servers, domain.CloneDescriptors(discovery)...)
	servers = append(servers, domain.CloneDescriptors(set.Servers)...)
	return domain.ConnectivityConfig{
		Servers:           servers,
		RelayPolicy:       domain.RelayPolicyAll,
		CandidatePoolSize: t.FullPoolSize,
		BundlePolicy:      t.BundlePolicy,
		MuxPolicy:         t.MuxPolicy,
	}
}

// RelayConfig reports false when the set holds no relay servers; a
// relay-only config with no servers would abort the session.
func RelayConfig(set domain.CredentialSet, t Tuning) (domain.ConnectivityConfig, bool) {
	relays := set.RelayServers()
	if len(relays) == 0 {
		return domain.ConnectivityConfig{}, false
	}
	return domain.ConnectivityConfig{
		Servers:           relays,
		RelayPolicy:       domain.RelayPolicyRelay,
		CandidatePoolSize: 0,
		BundlePolicy:      t.BundlePolicy,
		MuxPolicy:         t.MuxPolicy,
	}, true
}
