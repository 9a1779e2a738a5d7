// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package delegation 实现上级 agent 对下级委派请求的评估决策树。
// Evaluate 是纯函数,输出仅供上级 agent 参考,不修改任何状态。
package delegation

import "fmt"

// Role agent 在层级中的角色
type Role string

const (
	RoleWorker     Role = "worker"
	RoleSpecialist Role = "specialist"
	RoleLead       Role = "lead"
	RoleManager    Role = "manager"
	RoleDirector   Role = "director"
)

// roleRanks 显式的角色序表。层级深度由该表决定,不从角色名推断。
var roleRanks = map[Role]int{
	RoleWorker:     0,
	RoleSpecialist: 1,
	RoleLead:       2,
	RoleManager:    3,
	RoleDirector:   4,
}

// Rank 返回角色的层级序号,未知角色按最低层级处理
func (r Role) Rank() int {
	return roleRanks[r]
}

// Priority 委派请求的优先级
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityNormal   Priority = "normal"
	PriorityLow      Priority = "low"
)

var priorityWeights = map[Priority]float64{
	PriorityCritical: 1.0,
	PriorityHigh:     0.75,
	PriorityNormal:   0.5,
	PriorityLow:      0.25,
}

// Weight 返回优先级权重,未知优先级按 normal 处理
func (p Priority) Weight() float64 {
	if w, ok := priorityWeights[p]; ok {
		return w
	}
	return priorityWeights[PriorityNormal]
}

// Request 下级发来的委派请求
type Request struct {
	FromAgentID   string
	FromRole      Role
	Priority      Priority
	Justification string
}

// Subordinate 上级可支配的下级 agent
type Subordinate struct {
	AgentID         string
	Role            Role
	ActiveTaskCount int
}

// Recommendation 评估建议
type Recommendation string

const (
	RecommendApprove  Recommendation = "approve"
	RecommendReject   Recommendation = "reject"
	RecommendRedirect Recommendation = "redirect"
)

// Evaluation 决策树的输出
type Evaluation struct {
	Recommendation     Recommendation
	Reasoning          string
	WithinScope        bool
	RequiresEscalation bool
	CanDelegateToOther bool
	// SuggestedAlternative 建议转派的下级 agent id,无候选时为空
	SuggestedAlternative string
	Confidence           float64
}

// redirectThreshold 候选下级的活跃任务数达到该值后不再建议转派
const redirectThreshold = 3

// Evaluate 评估一条委派请求。规则按优先级从高到低:
//
//  1. critical 请求到达 rank < 2 的上级必须继续上报,建议强制为 reject;
//  2. 存在活跃任务数最低且未满载的其他下级时建议转派;
//  3. 请求在管辖范围内时建议批准,范围外且无转派候选时建议驳回。
//
// 管辖范围按请求方与上级的 rank 差判断,相差超过 2 级视为越级请求。
func Evaluate(req Request, superiorRole Role, superiorAgentID string, subordinates []Subordinate) Evaluation {
	superiorRank := superiorRole.Rank()
	gap := superiorRank - req.FromRole.Rank()
	withinScope := gap <= 2

	alternative, hasAlternative := pickRedirectTarget(req.FromAgentID, subordinates)

	ev := Evaluation{
		WithinScope:        withinScope,
		CanDelegateToOther: hasAlternative,
	}
	if hasAlternative {
		ev.SuggestedAlternative = alternative.AgentID
	}

	// 上报优先于范围与转派判断
	if req.Priority == PriorityCritical && superiorRank < 2 {
		ev.RequiresEscalation = true
		ev.Recommendation = RecommendReject
		ev.Confidence = 0.9
		ev.Reasoning = fmt.Sprintf(
			"critical request exceeds %s authority, must escalate to higher rank", superiorRole)
		return ev
	}

	if hasAlternative {
		ev.Recommendation = RecommendRedirect
		ev.Confidence = 0.7
		ev.Reasoning = fmt.Sprintf(
			"%s has the lightest load (%d active tasks), redirect to balance work",
			alternative.AgentID, alternative.ActiveTaskCount)
		return ev
	}

	if !withinScope {
		ev.Recommendation = RecommendReject
		ev.Confidence = 0.6
		ev.Reasoning = fmt.Sprintf(
			"request from %s skipped %d hierarchy levels and no redirect target is available",
			req.FromAgentID, gap)
		return ev
	}

	ev.Recommendation = RecommendApprove
	if req.Justification != "" {
		ev.Confidence = 0.8 + 0.1*req.Priority.Weight()
		ev.Reasoning = fmt.Sprintf("within scope with justification: %s", req.Justification)
	} else {
		ev.Confidence = 0.5
		ev.Reasoning = "within scope but no justification was provided"
	}
	return ev
}

// pickRedirectTarget 在排除请求方后选出活跃任务数最低的下级;
// 该候选仍有余力(活跃任务数低于阈值)时返回
func pickRedirectTarget(fromAgentID string, subordinates []Subordinate) (Subordinate, bool) {
	var best *Subordinate
	for i := range subordinates {
		sub := &subordinates[i]
		if sub.AgentID == fromAgentID {
			continue
		}
		if best == nil || sub.ActiveTaskCount < best.ActiveTaskCount {
			best = sub
		}
	}
	if best == nil || best.ActiveTaskCount >= redirectThreshold {
		return Subordinate{}, false
	}
	return *best, true
}
