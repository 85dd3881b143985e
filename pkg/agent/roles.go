// Package agent drives a single bee agent's conversation with an LLM:
// the turn loop, tool dispatch through the policy gate, approval parking,
// masking of tool results, and cancellation. One Runner owns one
// conversation history; nothing here is shared between goroutines.
package agent

import "github.com/colonyforge/hiveforge/pkg/policy"

// Role names the bee roles of the hive.
type Role string

const (
	RoleBeekeeper Role = "beekeeper"
	RoleQueen     Role = "queen"
	RoleWorker    Role = "worker"
	RoleGuard     Role = "guard"
	RoleForager   Role = "forager"
	RoleReferee   Role = "referee"
	RoleScout     Role = "scout"
	RoleSentinel  Role = "sentinel"
)

// DefaultTrustLevel returns the shipped trust level per role: the
// user-facing Beekeeper acts autonomously, executors propose-and-confirm,
// observers report only.
func DefaultTrustLevel(r Role) policy.TrustLevel {
	switch r {
	case RoleBeekeeper:
		return policy.AutoNotify
	case RoleQueen, RoleWorker:
		return policy.ProposeConfirm
	case RoleGuard, RoleForager, RoleReferee, RoleScout, RoleSentinel:
		return policy.ReportOnly
	default:
		return policy.ReportOnly
	}
}
