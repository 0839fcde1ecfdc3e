package webhook

// EntityEvents holds the per-sub-event enable flags for one entity type.
type EntityEvents struct {
	Created       bool `json:"created"`
	Updated       bool `json:"updated"`
	StatusChanged bool `json:"statusChanged"`
}

// PipelineEvents holds the enable flags for pipeline-stage events.
type PipelineEvents struct {
	StatusChanged bool `json:"statusChanged"`
}

// EventFlags enumerates which event kinds a destination subscribes to.
type EventFlags struct {
	Clients   EntityEvents   `json:"clients"`
	Proposals EntityEvents   `json:"proposals"`
	Pipeline  PipelineEvents `json:"pipeline"`
}

// ThrottleSettings suppresses repeat notifications for the same
// (destination, event, entity) within Interval seconds.
type ThrottleSettings struct {
	Enabled  bool `json:"enabled"`
	Interval int  `json:"interval"`
}

// Destination is a configured external HTTP endpoint. Owned by the admin
// screens; the dispatcher only reads it.
type Destination struct {
	ID      string           `json:"id"`
	Name    string           `json:"name"`
	URL     string           `json:"url"`
	Secret  string           `json:"secret"`
	Enabled bool             `json:"enabled"`
	Events  EventFlags       `json:"events"`
	// Condition is an optional expression over {event, data}; empty means
	// always fire.
	Condition string           `json:"condition,omitempty"`
	Throttle  ThrottleSettings `json:"throttle"`
}

// FlagFor returns the nested enable flag for the given event kind.
func (f EventFlags) FlagFor(kind EventKind) bool {
	switch kind {
	case EventClientCreated:
		return f.Clients.Created
	case EventClientUpdated:
		return f.Clients.Updated
	case EventClientStatusChanged:
		return f.Clients.StatusChanged
	case EventProposalCreated:
		return f.Proposals.Created
	case EventProposalUpdated:
		return f.Proposals.Updated
	case EventProposalStatusChanged:
		return f.Proposals.StatusChanged
	case EventPipelineStatusChanged:
		return f.Pipeline.StatusChanged
	default:
		return false
	}
}

// Eligible reports whether the destination should receive the given event:
// it must be enabled, have a delivery URL, and subscribe to the kind.
func (d Destination) Eligible(kind EventKind) bool {
	return d.Enabled && d.URL != "" && d.Events.FlagFor(kind)
}
