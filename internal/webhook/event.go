package webhook

// EventKind classifies a record mutation. The set is closed: receivers key
// their handling off these identifiers.
type EventKind string

const (
	EventClientCreated         EventKind = "client_created"
	EventClientUpdated         EventKind = "client_updated"
	EventClientStatusChanged   EventKind = "client_status_changed"
	EventProposalCreated       EventKind = "proposal_created"
	EventProposalUpdated       EventKind = "proposal_updated"
	EventProposalStatusChanged EventKind = "proposal_status_changed"
	EventPipelineStatusChanged EventKind = "pipeline_status_changed"
)

// Kinds lists every event kind.
var Kinds = []EventKind{
	EventClientCreated,
	EventClientUpdated,
	EventClientStatusChanged,
	EventProposalCreated,
	EventProposalUpdated,
	EventProposalStatusChanged,
	EventPipelineStatusChanged,
}

// Valid reports whether k is one of the defined kinds.
func (k EventKind) Valid() bool {
	for _, kind := range Kinds {
		if k == kind {
			return true
		}
	}
	return false
}
