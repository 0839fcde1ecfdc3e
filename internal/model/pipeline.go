package model

import "fmt"

// Pipeline stages of the approval workflow, in order. Distinct from the
// proposal's overall approval status.
const (
	StageSubmitted   = "submitted"
	StagePreAnalysis = "pre_analysis"
	StageCredit      = "credit"
	StageLegal       = "legal"
	StageContract    = "contract"
)

// PipelineStages lists the stages in board order.
var PipelineStages = []string{
	StageSubmitted,
	StagePreAnalysis,
	StageCredit,
	StageLegal,
	StageContract,
}

// Proposal approval statuses.
var ProposalStatuses = []string{"draft", "in_analysis", "approved", "rejected", "cancelled"}

// Client onboarding statuses.
var ClientStatuses = []string{"pending", "under_review", "approved", "rejected"}

var stageIndex = func() map[string]int {
	m := make(map[string]int, len(PipelineStages))
	for i, s := range PipelineStages {
		m[s] = i
	}
	return m
}()

// IsPipelineStage reports whether s is a known stage.
func IsPipelineStage(s string) bool {
	_, ok := stageIndex[s]
	return ok
}

// ValidateStageTransition checks a Kanban move. Cards move one column at a
// time, forward or back.
func ValidateStageTransition(from, to string) error {
	fi, ok := stageIndex[from]
	if !ok {
		return fmt.Errorf("unknown pipeline stage %q", from)
	}
	ti, ok := stageIndex[to]
	if !ok {
		return fmt.Errorf("unknown pipeline stage %q", to)
	}
	if fi == ti {
		return fmt.Errorf("proposal is already in stage %q", to)
	}
	if ti-fi != 1 && fi-ti != 1 {
		return fmt.Errorf("cannot move from %q to %q: stages are not adjacent", from, to)
	}
	return nil
}

// IsProposalStatus reports whether s is a known proposal status.
func IsProposalStatus(s string) bool {
	return contains(ProposalStatuses, s)
}

// IsClientStatus reports whether s is a known client status.
func IsClientStatus(s string) bool {
	return contains(ClientStatuses, s)
}

func contains(set []string, s string) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}
