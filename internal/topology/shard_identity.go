package topology

import "strings"

// ShardKind distinguishes the three connection-string shapes of §3.
type ShardKind int

const (
	KindSingleton ShardKind = iota
	KindSyncGroup
	KindReplicaSet
)

// ShardIdentity is (shardId, connectionString) plus its parsed shape.
type ShardIdentity struct {
	ID               ShardID
	ConnectionString string
	Kind             ShardKind
	// ReplicaSetName is set only for KindReplicaSet.
	ReplicaSetName string
	// Hosts is the ordered list of "host:port" endpoints.
	Hosts []string
}

// ParseConnectionString parses one of the three connection-string shapes:
//
//	"name/host1,host2,..." -> replica set named "name"
//	"host1,host2,..."      -> sync group (write to all, read from any)
//	"host"                 -> singleton
func ParseConnectionString(id ShardID, cs string) ShardIdentity {
	if slash := strings.IndexByte(cs, '/'); slash >= 0 {
		name := cs[:slash]
		hosts := splitHosts(cs[slash+1:])
		return ShardIdentity{
			ID:               id,
			ConnectionString: cs,
			Kind:             KindReplicaSet,
			ReplicaSetName:   name,
			Hosts:            hosts,
		}
	}

	hosts := splitHosts(cs)
	if len(hosts) == 1 {
		return ShardIdentity{
			ID:               id,
			ConnectionString: cs,
			Kind:             KindSingleton,
			Hosts:            hosts,
		}
	}
	return ShardIdentity{
		ID:               id,
		ConnectionString: cs,
		Kind:             KindSyncGroup,
		Hosts:            hosts,
	}
}

func splitHosts(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
