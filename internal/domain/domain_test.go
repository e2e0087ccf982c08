package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchemeOf(t *testing.T) {
	cases := []struct {
		uri  string
		want Scheme
	}{
		{"stun:stun.l.google.com:19302", SchemeDiscovery},
		{"STUNS:example.org", SchemeDiscovery},
		{"turn:relay.example.org:3478", SchemeRelay},
		{"turns:relay.example.org:443?transport=tcp", SchemeRelay},
		{"http://example.org", SchemeUnknown},
		{"", SchemeUnknown},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, SchemeOf(tc.uri), tc.uri)
	}
}

func TestServerDescriptor_CloneIsDeep(t *testing.T) {
	uris := []string{"turn:a"}
	d := NewServerDescriptor(uris, "u", "p")
	uris[0] = "turn:mutated"
	assert.Equal(t, "turn:a", d.URIs[0])

	c := d.Clone()
	c.URIs[0] = "turn:other"
	assert.Equal(t, "turn:a", d.URIs[0])
}

func TestCredentialSet_RelayServers(t *testing.T) {
	set := CredentialSet{Servers: []ServerDescriptor{
		NewServerDescriptor([]string{"stun:a"}, "", ""),
		NewServerDescriptor([]string{"stun:b", "turn:b"}, "u", "p"),
	}}
	require.True(t, set.HasRelay())
	relays := set.RelayServers()
	require.Len(t, relays, 1)
	assert.Equal(t, []string{"stun:b", "turn:b"}, relays[0].URIs)

	assert.False(t, CredentialSet{}.HasRelay())
	assert.Empty(t, CredentialSet{}.RelayServers())
}

func TestParseTier(t *testing.T) {
	for in, want := range map[string]Tier{
		"":           TierDiscovery,
		"discovery":  TierDiscovery,
		"FULL":       TierFull,
		"relay":      TierRelay,
		"relay-only": TierRelay,
	} {
		got, ok := ParseTier(in)
		require.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}
	_, ok := ParseTier("bogus")
	assert.False(t, ok)
}

func TestFetchError(t *testing.T) {
	cause := errors.New("boom")
	err := fmt.Errorf("wrapped: %w", &FetchError{Kind: ErrServiceError, Status: 503, Err: cause})

	assert.ErrorIs(t, err, ErrServiceError)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrTimeout)

	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, 503, fe.Status)
	assert.Contains(t, err.Error(), "status 503")
}

func TestRetryable(t *testing.T) {
	assert.False(t, Retryable(nil))
	assert.False(t, Retryable(&FetchError{Kind: ErrNotConfigured}))
	assert.True(t, Retryable(&FetchError{Kind: ErrTimeout}))
	assert.True(t, Retryable(&FetchError{Kind: ErrInvalidPayload}))
}

func TestFetchErrorEvent(t *testing.T) {
	kind, sev := FetchErrorEvent(&FetchError{Kind: ErrNotConfigured})
	assert.Equal(t, EventFetchNotConfigured, kind)
	assert.Equal(t, SeverityInfo, sev)

	kind, sev = FetchErrorEvent(&FetchError{Kind: ErrTimeout})
	assert.Equal(t, EventFetchTimeout, kind)
	assert.Equal(t, SeverityError, sev)

	kind, _ = FetchErrorEvent(&FetchError{Kind: ErrInvalidPayload})
	assert.Equal(t, EventFetchInvalidPayload, kind)

	kind, _ = FetchErrorEvent(errors.New("dial tcp: connection refused"))
	assert.Equal(t, EventFetchServiceError, kind)
}
