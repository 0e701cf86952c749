// Package domain defines the proposal shape and lifecycle states, grounded
// on original_source/backend/services/proposals_miner.py and
// proposals_expiry.py.
package domain

import "time"

// State is a proposal's lifecycle state
type State string

const (
	StateNew      State = "NEW"
	StateTesting  State = "TESTING"
	StateActive   State = "ACTIVE"
	StateRejected State = "REJECTED"
)

// ProposalType enumerates the miner's four proposal kinds
type ProposalType string

const (
	TypeNightActivityEarlySignal ProposalType = "NIGHT_ACTIVITY_EARLY_SIGNAL_1_OF_7"
	TypeDoorAnomalyBurst         ProposalType = "DOOR_ANOMALY_BURST_3_OF_14"
	TypeMVPBootstrap             ProposalType = "MVP_BOOTSTRAP_ANY_L2_1_OF_7"
	TypeNightActivityFrequent    ProposalType = "NIGHT_ACTIVITY_FREQUENT_4_OF_7"
)

// WhyEntry is one machine-readable, human-annotated justification entry
type WhyEntry struct {
	ReasonCode string
	Text       string
	Weight     float64
	Data       map[string]any
}

// Draft is one miner-produced proposal awaiting upsert
type Draft struct {
	OrgID        string
	SubjectID    string
	RoomID       *string
	ProposalType ProposalType
	DedupeKey    string
	Priority     int
	Evidence     map[string]any
	Why          []WhyEntry
	ActionTarget string
	ActionPayload map[string]any
	WindowStart  time.Time
	WindowEnd    time.Time
}

// Action is one proposal lifecycle transition
type Action string

const (
	ActionTest           Action = "TEST"
	ActionActivate       Action = "ACTIVATE"
	ActionReject         Action = "REJECT"
	ActionAutoExpireTest Action = "AUTO_EXPIRE_TEST"
)

// Proposal is a persisted proposal row
type Proposal struct {
	ProposalID      uint64
	OrgID, SubjectID string
	RoomID          *string
	ProposalType    ProposalType
	DedupeKey       string
	State           State
	Priority        int

	TestStartedAt *time.Time
	TestUntil     *time.Time
	ActivatedAt   *time.Time
	RejectedAt    *time.Time

	LastActor  *string
	LastSource string
	LastNote   string
}

// ActionRecord is one proposal_actions audit row
type ActionRecord struct {
	ProposalID uint64
	Action     Action
	PrevState  State
	NewState   State
	Actor      *string
	Source     string
	Note       string
}

// allowedTransitions is the C10 transition table
var allowedTransitions = map[Action]map[State]State{
	ActionTest:           {StateNew: StateTesting},
	ActionActivate:       {StateNew: StateActive, StateTesting: StateActive},
	ActionReject:         {StateNew: StateRejected, StateTesting: StateRejected, StateActive: StateRejected},
	ActionAutoExpireTest: {StateTesting: StateNew},
}

// NextState returns the resulting state for action applied from cur, or
// ok=false if the transition is not allowed
func NextState(action Action, cur State) (State, bool) {
	m, ok := allowedTransitions[action]
	if !ok {
		return "", false
	}
	next, ok := m[cur]
	return next, ok
}
