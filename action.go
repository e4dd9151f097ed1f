package agentflow

// ActionKey is the reserved store key a workflow step writes to choose its
// outgoing edge.
const ActionKey = "action"

const (
	// Constants for common actions
	ActionContinue = "continue"
	ActionDone     = "done"
	ActionNext     = "next"
	ActionRetry    = "retry"
)

// ActionOf returns the action label held by the store. Only string values
// count; any other kind is treated as absent.
func ActionOf(s *Store) (string, bool) {
	if s == nil {
		return "", false
	}
	return s.GetString(ActionKey)
}

// SetAction stores the action label.
func SetAction(s *Store, action string) {
	s.Set(ActionKey, String(action))
}

// ClearAction removes the action label.
func ClearAction(s *Store) {
	s.Remove(ActionKey)
}
