package cluster

import (
	"testing"
	"time"
)

func testNode(t *testing.T, selfID int, leaderTimeout time.Duration) *Node {
	t.Helper()
	cfg := threeNodeConfig()
	ident, err := ResolveIdentity(cfg, selfID, Overrides{})
	if err != nil {
		t.Fatalf("resolve identity: %v", err)
	}
	reg, err := BuildRegistry(cfg, selfID)
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	return NewNode(ident, reg, leaderTimeout)
}

func TestNodeLeadershipTransitions(t *testing.T) {
	n := testNode(t, 2, time.Minute)
	if n.IsLeader() || n.LeaderID() != 0 {
		t.Fatalf("fresh node should not know a leader")
	}

	n.SetLeader(3)
	if n.IsLeader() {
		t.Fatalf("node 2 should not lead when 3 is announced")
	}
	if n.LeaderID() != 3 {
		t.Fatalf("unexpected leader: %d", n.LeaderID())
	}

	n.SetLeader(2)
	if !n.IsLeader() {
		t.Fatalf("node 2 should lead after self announcement")
	}
}

func TestNodeLivenessExpiry(t *testing.T) {
	n := testNode(t, 1, 20*time.Millisecond)
	n.MarkAlive(2)
	if !n.IsAlive(2) {
		t.Fatalf("node 2 should be alive right after heartbeat")
	}

	time.Sleep(40 * time.Millisecond)
	if n.IsAlive(2) {
		t.Fatalf("node 2 should have expired")
	}
	ids := n.AliveIDs()
	if len(ids) != 1 || ids[0] != 1 {
		t.Fatalf("only self should survive expiry, got %v", ids)
	}
}

func TestNodeLeaderRecord(t *testing.T) {
	n := testNode(t, 2, time.Minute)
	if _, _, ok := n.LeaderRecord(); ok {
		t.Fatalf("no leader record expected before election")
	}

	n.SetLeader(1)
	id, addr, ok := n.LeaderRecord()
	if !ok || id != 1 || addr != "10.0.0.1:8000" {
		t.Fatalf("unexpected leader record: id=%d addr=%q ok=%v", id, addr, ok)
	}

	n.SetLeader(2)
	if _, _, ok := n.LeaderRecord(); ok {
		t.Fatalf("leader record should be absent when self leads")
	}
}
