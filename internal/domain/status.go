package domain

// Status is the pipeline state of a NewsItem.
type Status string

const (
	StatusPending   Status = "pending"
	StatusAnalyzed  Status = "analyzed"
	StatusApproved  Status = "approved"
	StatusPublished Status = "published"
	StatusRejected  Status = "rejected"
)

var transitions = map[Status][]Status{
	StatusPending:  {StatusAnalyzed, StatusRejected},
	StatusAnalyzed: {StatusPublished, StatusApproved, StatusRejected},
	StatusApproved: {StatusPublished, StatusRejected},
}

// CanTransition reports whether next is reachable from s in one step.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions exist.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusAnalyzed, StatusApproved, StatusPublished, StatusRejected:
		return true
	}
	return false
}
