package priv

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestApplyRolesGrantsPerDatabase(t *testing.T) {
	re := require.New(t)
	s := NewSet()
	re.NoError(s.ApplyRoles("app", []string{"readWrite"}))

	re.True(s.Has("app", Read))
	re.True(s.Has("app", Write))
	re.False(s.Has("other", Read))
}

func TestApplyRolesAdminGlobalGrants(t *testing.T) {
	re := require.New(t)
	s := NewSet()
	re.NoError(s.ApplyRoles("admin", []string{"readAnyDatabase", "clusterAdmin"}))

	re.True(s.Has("any-db-at-all", Read))
	re.True(s.Has("config", ClusterAdmin))
	re.False(s.Has("any-db-at-all", Write))
}

func TestApplyRolesRejectsUnknown(t *testing.T) {
	re := require.New(t)
	s := NewSet()
	err := s.ApplyRoles("app", []string{"bogusRole"})
	re.Error(err)
}

func TestApplyRolesRejectsAdminOnlyRoleOnNonAdmin(t *testing.T) {
	re := require.New(t)
	s := NewSet()
	err := s.ApplyRoles("app", []string{"clusterAdmin"})
	re.Error(err)
}

func TestAuthKeyRoundTrip(t *testing.T) {
	re := require.New(t)
	digest := Digest("alice", "hunter2")
	key := AuthKey("nonce123", "alice", digest)
	re.Len(key, 32)
	re.Equal(key, AuthKey("nonce123", "alice", digest))
}
