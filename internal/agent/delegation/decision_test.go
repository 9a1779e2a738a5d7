// Copyright 2026 fanjia1024

package delegation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEscalationPrecedesEverything(t *testing.T) {
	// 即使存在空闲的转派候选,critical 请求遇到低阶上级也必须上报
	ev := Evaluate(Request{
		FromAgentID:   "worker-1",
		FromRole:      RoleWorker,
		Priority:      PriorityCritical,
		Justification: "production is down",
	}, RoleSpecialist, "spec-1", []Subordinate{
		{AgentID: "worker-2", Role: RoleWorker, ActiveTaskCount: 0},
	})

	assert.Equal(t, RecommendReject, ev.Recommendation)
	assert.True(t, ev.RequiresEscalation)
	assert.InDelta(t, 0.9, ev.Confidence, 1e-9)
	assert.True(t, ev.CanDelegateToOther, "redirect target is still reported even when escalating")
}

func TestEscalationNotNeededAtLeadRank(t *testing.T) {
	ev := Evaluate(Request{
		FromAgentID: "worker-1",
		FromRole:    RoleWorker,
		Priority:    PriorityCritical,
	}, RoleLead, "lead-1", nil)

	assert.False(t, ev.RequiresEscalation)
	assert.NotEqual(t, 0.9, ev.Confidence)
}

func TestRedirectPicksLightestLoad(t *testing.T) {
	ev := Evaluate(Request{
		FromAgentID: "worker-1",
		FromRole:    RoleWorker,
		Priority:    PriorityNormal,
	}, RoleLead, "lead-1", []Subordinate{
		{AgentID: "worker-2", Role: RoleWorker, ActiveTaskCount: 2},
		{AgentID: "worker-3", Role: RoleWorker, ActiveTaskCount: 1},
	})

	assert.Equal(t, RecommendRedirect, ev.Recommendation)
	assert.Equal(t, "worker-3", ev.SuggestedAlternative)
	assert.True(t, ev.CanDelegateToOther)
	assert.InDelta(t, 0.7, ev.Confidence, 1e-9)
}

func TestRedirectExcludesRequester(t *testing.T) {
	// 请求方自己负载最低也不能转派给自己
	ev := Evaluate(Request{
		FromAgentID: "worker-1",
		FromRole:    RoleWorker,
		Priority:    PriorityNormal,
	}, RoleLead, "lead-1", []Subordinate{
		{AgentID: "worker-1", Role: RoleWorker, ActiveTaskCount: 0},
		{AgentID: "worker-2", Role: RoleWorker, ActiveTaskCount: 5},
	})

	assert.NotEqual(t, RecommendRedirect, ev.Recommendation)
	assert.False(t, ev.CanDelegateToOther)
}

func TestRedirectSkippedWhenAllBusy(t *testing.T) {
	ev := Evaluate(Request{
		FromAgentID:   "worker-1",
		FromRole:      RoleWorker,
		Priority:      PriorityNormal,
		Justification: "need review",
	}, RoleLead, "lead-1", []Subordinate{
		{AgentID: "worker-2", Role: RoleWorker, ActiveTaskCount: 3},
		{AgentID: "worker-3", Role: RoleWorker, ActiveTaskCount: 4},
	})

	assert.Equal(t, RecommendApprove, ev.Recommendation)
	assert.False(t, ev.CanDelegateToOther)
}

func TestApproveConfidenceScalesWithPriority(t *testing.T) {
	cases := []struct {
		priority Priority
		want     float64
	}{
		{PriorityCritical, 0.9},
		{PriorityHigh, 0.875},
		{PriorityNormal, 0.85},
		{PriorityLow, 0.825},
	}
	for _, tc := range cases {
		t.Run(string(tc.priority), func(t *testing.T) {
			ev := Evaluate(Request{
				FromAgentID:   "lead-1",
				FromRole:      RoleLead,
				Priority:      tc.priority,
				Justification: "quarterly deadline",
			}, RoleManager, "mgr-1", nil)

			assert.Equal(t, RecommendApprove, ev.Recommendation)
			assert.True(t, ev.WithinScope)
			assert.InDelta(t, tc.want, ev.Confidence, 1e-9)
		})
	}
}

func TestApproveWithoutJustification(t *testing.T) {
	ev := Evaluate(Request{
		FromAgentID: "lead-1",
		FromRole:    RoleLead,
		Priority:    PriorityHigh,
	}, RoleManager, "mgr-1", nil)

	assert.Equal(t, RecommendApprove, ev.Recommendation)
	assert.InDelta(t, 0.5, ev.Confidence, 1e-9)
}

func TestOutOfScopeRejectWithoutRedirect(t *testing.T) {
	// worker 直达 director 越过了两级以上
	ev := Evaluate(Request{
		FromAgentID: "worker-1",
		FromRole:    RoleWorker,
		Priority:    PriorityNormal,
	}, RoleDirector, "dir-1", nil)

	assert.Equal(t, RecommendReject, ev.Recommendation)
	assert.False(t, ev.WithinScope)
	assert.InDelta(t, 0.6, ev.Confidence, 1e-9)
}

func TestOutOfScopeStillRedirects(t *testing.T) {
	ev := Evaluate(Request{
		FromAgentID: "worker-1",
		FromRole:    RoleWorker,
		Priority:    PriorityNormal,
	}, RoleDirector, "dir-1", []Subordinate{
		{AgentID: "mgr-1", Role: RoleManager, ActiveTaskCount: 1},
	})

	assert.Equal(t, RecommendRedirect, ev.Recommendation)
	assert.False(t, ev.WithinScope)
	assert.Equal(t, "mgr-1", ev.SuggestedAlternative)
}

func TestRoleRankTable(t *testing.T) {
	assert.Equal(t, 0, RoleWorker.Rank())
	assert.Equal(t, 1, RoleSpecialist.Rank())
	assert.Equal(t, 2, RoleLead.Rank())
	assert.Equal(t, 3, RoleManager.Rank())
	assert.Equal(t, 4, RoleDirector.Rank())
	assert.Equal(t, 0, Role("intern").Rank())
}
