package session

import "github.com/tphakala/ecosort/internal/datastore"

// Outcome statuses.
const (
	StatusDone             = "done"
	StatusFailedProcessing = "failed processing"
)

// Failure reasons recorded on items that have no prediction.
const (
	ReasonNoResult      = "no result for item"
	ReasonNotClassified = "not classified"
)

// Outcome summarizes the classification state of a session.
type Outcome struct {
	SessionID  string
	Total      int
	Classified int
	// Failures maps item id to the reason it has no predicted label.
	Failures map[string]string
}

// Failed reports whether any item is left without a prediction.
func (o *Outcome) Failed() bool {
	return len(o.Failures) > 0
}

// Status is StatusDone when every item is classified.
func (o *Outcome) Status() string {
	if o.Failed() {
		return StatusFailedProcessing
	}
	return StatusDone
}

func outcomeOf(s *datastore.Session) *Outcome {
	out := &Outcome{
		SessionID: s.ID,
		Total:     len(s.Items),
		Failures:  make(map[string]string),
	}
	for i := range s.Items {
		it := &s.Items[i]
		if it.IsClassified() {
			out.Classified++
			continue
		}
		reason := it.FailureReason
		if reason == "" {
			reason = ReasonNotClassified
		}
		out.Failures[it.ID] = reason
	}
	return out
}
