package infrastructure

import (
	"github.com/pion/webrtc/v4"

	"ice-broker/internal/domain"
)

// WebRTCManager creates PeerConnections from broker-produced configs.
type WebRTCManager struct {
	api *webrtc.API
}

func NewWebRTCManager() *WebRTCManager {
	settingEngine := webrtc.SettingEngine{}

	// You might need to configure NAT 1:1 IPs here for production
	// settingEngine.SetNAT1To1IPs([]string{"1.2.3.4"}, webrtc.ICECandidateTypeHost)

	api := webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine))
	return &WebRTCManager{
		api: api,
	}
}

func (m *WebRTCManager) NewPeerConnection(cfg domain.ConnectivityConfig) (*webrtc.PeerConnection, error) {
	return m.api.NewPeerConnection(ToPionConfiguration(cfg))
}

// ToPionConfiguration maps a ConnectivityConfig onto pion's types.
// Unknown bundle/mux values fall back to pion's zero value, which lets
// pion apply its own default.
func ToPionConfiguration(cfg domain.ConnectivityConfig) webrtc.Configuration {
	servers := make([]webrtc.ICEServer, 0, len(cfg.Servers))
	for _, s := range cfg.Servers {
		server := webrtc.ICEServer{
			URLs: append([]string(nil), s.URIs...),
		}
		if s.Username != "" || s.Credential != "" {
			server.Username = s.Username
			server.Credential = s.Credential
			server.CredentialType = webrtc.ICECredentialTypePassword
		}
		servers = append(servers, server)
	}

	policy := webrtc.ICETransportPolicyAll
	if cfg.RelayPolicy == domain.RelayPolicyRelay {
		policy = webrtc.ICETransportPolicyRelay
	}

	return webrtc.Configuration{
		ICEServers:           servers,
		ICETransportPolicy:   policy,
		BundlePolicy:         pionBundlePolicy(cfg.BundlePolicy),
		RTCPMuxPolicy:        pionMuxPolicy(cfg.MuxPolicy),
		ICECandidatePoolSize: cfg.CandidatePoolSize,
	}
}

func pionBundlePolicy(p domain.BundlePolicy) webrtc.BundlePolicy {
	switch p {
	case domain.BundlePolicyBalanced:
		return webrtc.BundlePolicyBalanced
	case domain.BundlePolicyMaxCompat:
		return webrtc.BundlePolicyMaxCompat
	case domain.BundlePolicyMaxBundle:
		return webrtc.BundlePolicyMaxBundle
	default:
		return webrtc.BundlePolicyUnknown
	}
}

func pionMuxPolicy(p domain.MuxPolicy) webrtc.RTCPMuxPolicy {
	switch p {
	case domain.MuxPolicyNegotiate:
		return webrtc.RTCPMuxPolicyNegotiate
	case domain.MuxPolicyRequire:
		return webrtc.RTCPMuxPolicyRequire
	default:
		return webrtc.RTCPMuxPolicyUnknown
	}
}
