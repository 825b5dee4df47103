// Package priv implements the capability-level privilege model of
// original_source/auth.cpp: a per-database bitmask plus a global
// (admin-database-only) bitmask, populated from role names, and the
// MD5 challenge-response digest scheme used by the getNonce/authenticate
// commands.
package priv

import (
	"crypto/md5"
	"encoding/hex"
	"sync"

	"github.com/shardroute/dbproxy/pkg/coderr"
)

// Capability is one bit of the privilege mask.
type Capability uint32

const (
	Read Capability = 1 << iota
	Write
	UserAdmin
	DBAdmin
	ClusterAdmin
)

var ErrUnknownRole = coderr.NewCodeError(coderr.Unauthorized, "unknown privilege role")

// Set is one authenticated connection's granted capabilities: a mask per
// database it has authenticated against, plus a global mask granted only
// by roles defined on the "admin" database.
type Set struct {
	mu     sync.RWMutex
	masks  map[string]Capability
	global Capability
}

func NewSet() *Set {
	return &Set{masks: make(map[string]Capability)}
}

// Has reports whether the set grants cap on db, either directly or via the
// global (any-database) mask.
func (s *Set) Has(db string, cap Capability) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.global&cap != 0 {
		return true
	}
	return s.masks[db]&cap != 0
}

// ApplyRoles grants the capabilities named by roles (mongo-shaped role
// names: read, readWrite, dbAdmin, userAdmin, dbOwner, and, only when db is
// "admin", the *AnyDatabase/clusterAdmin roles) to db.
func (s *Set) ApplyRoles(db string, roles []string) error {
	var mask, global Capability
	isAdmin := db == "admin"

	for _, role := range roles {
		switch {
		case role == "read":
			mask |= Read
		case role == "readWrite":
			mask |= Read | Write
		case role == "dbAdmin":
			mask |= DBAdmin
		case role == "userAdmin":
			mask |= UserAdmin
		case role == "dbOwner":
			mask |= DBAdmin | UserAdmin | Read | Write
		case isAdmin && role == "clusterAdmin":
			global |= ClusterAdmin
		case isAdmin && role == "readAnyDatabase":
			global |= Read
		case isAdmin && role == "readWriteAnyDatabase":
			global |= Read | Write
		case isAdmin && role == "userAdminAnyDatabase":
			global |= UserAdmin
		case isAdmin && role == "dbAdminAnyDatabase":
			global |= DBAdmin
		default:
			return ErrUnknownRole.WithCausef("role:%s db:%s", role, db)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.masks[db] |= mask
	s.global |= global
	return nil
}

// GrantReadOnly is the legacy shape (no roles array): read always, write
// only if readOnly is explicitly false.
func (s *Set) GrantReadOnly(db string, readOnly bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	mask := s.masks[db] | Read
	if !readOnly {
		mask |= Write
	}
	s.masks[db] = mask
}

// Digest computes the MD5 credential digest stored for a user:
// md5(user + ":mongo:" + password).
func Digest(user, password string) string {
	return md5hex(user + ":mongo:" + password)
}

// AuthKey computes the challenge-response key a client must present:
// md5(nonce + user + digest).
func AuthKey(nonce, user, digest string) string {
	return md5hex(nonce + user + digest)
}

func md5hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}
