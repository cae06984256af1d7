package signer

import (
	"testing"

	"github.com/kuibu/transparent-company/pkg/canonical"
	"github.com/stretchr/testify/require"
)

func seeds() map[Role][]byte {
	mk := func(b byte) []byte {
		s := make([]byte, 32)
		for i := range s {
			s[i] = b
		}
		return s
	}
	return map[Role][]byte{
		RoleAgent:   mk(1),
		RoleHuman:   mk(2),
		RoleAuditor: mk(3),
	}
}

func TestRequiredRoleMapping(t *testing.T) {
	cases := []struct {
		actor ActorType
		want  Role
	}{
		{ActorAgent, RoleAgent},
		{ActorSystem, RoleAgent},
		{ActorHuman, RoleHuman},
		{ActorAuditor, RoleAuditor},
	}
	for _, c := range cases {
		got, err := RequiredRole(c.actor)
		require.NoError(t, err)
		require.Equal(t, c.want, got)
	}
	_, err := RequiredRole(ActorType("bogus"))
	require.Error(t, err)
}

func TestSignVerifyRoundTrip(t *testing.T) {
	reg, err := NewRegistry(seeds())
	require.NoError(t, err)

	payload := canonical.Map{"event_type": "OrderPlaced", "seq": 1}
	sig, err := reg.Sign(RoleAgent, payload)
	require.NoError(t, err)

	ok, err := reg.Verify(RoleAgent, payload, sig)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = reg.Verify(RoleHuman, payload, sig)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	reg, err := NewRegistry(seeds())
	require.NoError(t, err)

	sig, err := reg.Sign(RoleHuman, canonical.Map{"a": 1})
	require.NoError(t, err)

	ok, err := reg.Verify(RoleHuman, canonical.Map{"a": 2}, sig)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestNewRegistryRejectsMissingOrShortSeed(t *testing.T) {
	s := seeds()
	delete(s, RoleAuditor)
	_, err := NewRegistry(s)
	require.Error(t, err)

	s2 := seeds()
	s2[RoleAgent] = []byte{1, 2, 3}
	_, err = NewRegistry(s2)
	require.Error(t, err)
}

func TestPublicManifestCoversAllRoles(t *testing.T) {
	reg, err := NewRegistry(seeds())
	require.NoError(t, err)

	manifest := reg.PublicManifest()
	require.Len(t, manifest, 3)
	for _, role := range []Role{RoleAgent, RoleHuman, RoleAuditor} {
		entry, ok := manifest[role]
		require.True(t, ok)
		require.Equal(t, "Ed25519", entry.Algorithm)
		require.NotEmpty(t, entry.PublicKeyB64)
	}
}
