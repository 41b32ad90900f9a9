package detection

// ActionType classifies a single observed person activity.
type ActionType string

// Declaration order matters: it is the tie-break order used when ranking
// actions with equal counts, so it must stay stable.
const (
	ActionSittingDown ActionType = "sitting_down"
	ActionGettingUp   ActionType = "getting_up"
	ActionSitting     ActionType = "sitting"
	ActionStanding    ActionType = "standing"
	ActionWalking     ActionType = "walking"
	ActionJumping     ActionType = "jumping"
	ActionUnknown     ActionType = "unknown"
)

// ActionTypes returns all action types in declaration order.
func ActionTypes() []ActionType {
	return []ActionType{
		ActionSittingDown,
		ActionGettingUp,
		ActionSitting,
		ActionStanding,
		ActionWalking,
		ActionJumping,
		ActionUnknown,
	}
}

// IsValid reports whether a is a member of the action enum.
func (a ActionType) IsValid() bool {
	switch a {
	case ActionSittingDown, ActionGettingUp, ActionSitting,
		ActionStanding, ActionWalking, ActionJumping, ActionUnknown:
		return true
	default:
		return false
	}
}

func (a ActionType) String() string {
	return string(a)
}

// NormalizeActionType coerces unrecognized action types to ActionUnknown
// instead of rejecting the event.
func NormalizeActionType(raw string) ActionType {
	a := ActionType(raw)
	if !a.IsValid() {
		return ActionUnknown
	}
	return a
}
