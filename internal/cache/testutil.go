//go:build integration
// +build integration

package cache

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// Cluster test ports live above the single-node test range so the two
// suites never collide when run together.
var clusterPortSeq atomic.Int32

func init() {
	clusterPortSeq.Store(14320)
}

func nextClusterPort() int {
	return int(clusterPortSeq.Add(1))
}

// testCacheCluster drives a group of embedded Olric nodes sharing one
// verdict dmap. Members join through peer discovery and every node is
// closed when the test ends.
type testCacheCluster struct {
	t        *testing.T
	dmapName string
	members  []*olricCache
	mtx      sync.Mutex
}

func newTestCacheCluster(t *testing.T) *testCacheCluster {
	t.Helper()

	cl := &testCacheCluster{
		t:        t,
		dmapName: fmt.Sprintf("verdicts-%d", nextClusterPort()),
	}
	t.Cleanup(cl.shutdown)

	return cl
}

// peerAddrsLocked collects join addresses for the current members,
// preferring the memberlist address and falling back to embedded-client
// stats when the stats endpoint has not reported one yet.
func (cl *testCacheCluster) peerAddrsLocked() []string {
	var peers []string
	for _, m := range cl.members {
		if addr := m.MemberlistAddr(); addr != "" {
			peers = append(peers, addr)
			continue
		}
		if m.db == nil {
			continue
		}
		stats, err := m.db.NewEmbeddedClient().Stats(context.Background(), "")
		if err == nil && stats.Member.String() != "" {
			peers = append(peers, stats.Member.String())
		}
	}
	return peers
}

// addMember starts a new embedded node and joins it to the cluster.
func (cl *testCacheCluster) addMember() *olricCache {
	cl.mtx.Lock()
	defer cl.mtx.Unlock()

	cfg := &OlricConfig{
		DMapName:     cl.dmapName,
		Embedded:     true,
		BindAddr:     fmt.Sprintf("127.0.0.1:%d", nextClusterPort()),
		Environment:  EnvLocal,
		ReplicaCount: 2, // replicate so surviving nodes keep the data
		Peers:        cl.peerAddrsLocked(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	member, err := newOlricCache(ctx, cfg)
	if err != nil {
		cl.t.Fatalf("failed to add cluster member: %v", err)
	}
	cl.members = append(cl.members, member)

	// Let gossip settle before the caller starts asserting.
	time.Sleep(500 * time.Millisecond)

	return member
}

// removeMember closes the node at index i and drops it from the cluster.
func (cl *testCacheCluster) removeMember(i int) *olricCache {
	cl.mtx.Lock()
	defer cl.mtx.Unlock()

	if i < 0 || i >= len(cl.members) {
		cl.t.Fatalf("member index %d out of range [0, %d)", i, len(cl.members))
	}
	member := cl.members[i]
	cl.members = slices.Delete(cl.members, i, i+1)
	cl.closeMember(member)

	return member
}

func (cl *testCacheCluster) shutdown() {
	cl.mtx.Lock()
	defer cl.mtx.Unlock()

	for _, m := range cl.members {
		cl.closeMember(m)
	}
	cl.members = nil
}

func (cl *testCacheCluster) closeMember(m *olricCache) {
	if err := m.Close(); err != nil {
		cl.t.Logf("warning: failed to close cluster member: %v", err)
	}
}

// waitForConvergence polls until every node reports the expected member
// count or the timeout elapses.
func (cl *testCacheCluster) waitForConvergence(expectedMembers int, timeout time.Duration) error {
	cl.mtx.Lock()
	members := slices.Clone(cl.members)
	cl.mtx.Unlock()

	deadline := time.Now().Add(timeout)
	for {
		settled := 0
		for _, m := range members {
			if m.ClusterMembers() == expectedMembers {
				settled++
			}
		}
		if settled == len(members) {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("cluster did not converge to %d members within %v", expectedMembers, timeout)
		}
		time.Sleep(100 * time.Millisecond)
	}
}
