package review

import (
	"cmp"
	"slices"

	"github.com/tphakala/ecosort/internal/datastore"
)

// Stats summarizes the review progress of a session. Percentages are
// fractions in [0,1]; a nil value is undefined, not zero.
type Stats struct {
	Total    int
	Reviewed int
	Accurate int // reviewed items whose prediction matched

	ReviewCompletion    *float64
	FinalAccuracy       *float64 // set only when every item has both labels
	PreliminaryAccuracy *float64 // accuracy over reviewed items with a prediction
}

// ComputeStats derives review statistics from the item labels of s.
func ComputeStats(s *datastore.Session) Stats {
	st := Stats{Total: len(s.Items)}
	judged := 0
	complete := st.Total > 0
	for i := range s.Items {
		it := &s.Items[i]
		if !it.IsReviewed() || !it.IsClassified() {
			complete = false
		}
		if !it.IsReviewed() {
			continue
		}
		st.Reviewed++
		if it.IsClassified() {
			judged++
			if it.IsPredictionAccurate() {
				st.Accurate++
			}
		}
	}

	if st.Total > 0 {
		st.ReviewCompletion = ratio(st.Reviewed, st.Total)
	}
	if judged > 0 {
		st.PreliminaryAccuracy = ratio(st.Accurate, judged)
	}
	if complete {
		st.FinalAccuracy = ratio(st.Accurate, st.Total)
	}
	return st
}

// Recompute stores the derived review fields on s.
func Recompute(s *datastore.Session) Stats {
	st := ComputeStats(s)
	s.ReviewCompletion = st.ReviewCompletion
	s.FinalAccuracy = st.FinalAccuracy
	s.PreliminaryAccuracy = st.PreliminaryAccuracy
	return st
}

func ratio(n, d int) *float64 {
	v := float64(n) / float64(d)
	return &v
}

// GroupBySection buckets reviewed items by the group of their actual label.
// Unreviewed items belong to no group. Items keep capture order.
func GroupBySection(s *datastore.Session) map[string][]*datastore.MediaItem {
	out := make(map[string][]*datastore.MediaItem)
	for i := range s.Items {
		it := &s.Items[i]
		if !it.IsReviewed() {
			continue
		}
		g := s.GroupOf(*it.ActualLabelID)
		if g == nil {
			continue
		}
		out[g.Name] = append(out[g.Name], it)
	}
	return out
}

// Unreviewed returns the items without an actual label.
func Unreviewed(s *datastore.Session) []*datastore.MediaItem {
	var out []*datastore.MediaItem
	for i := range s.Items {
		if !s.Items[i].IsReviewed() {
			out = append(out, &s.Items[i])
		}
	}
	return out
}

// SectionNames returns the group names of s in taxonomy order.
func SectionNames(s *datastore.Session) []string {
	groups := slices.Clone(s.Groups)
	slices.SortStableFunc(groups, func(a, b datastore.LabelGroup) int { return cmp.Compare(a.Position, b.Position) })
	names := make([]string, 0, len(groups))
	for _, g := range groups {
		names = append(names, g.Name)
	}
	return names
}

// Candidates lists the replacement labels offered when a prediction is
// rejected: every session class except the predicted one.
func Candidates(s *datastore.Session, item *datastore.MediaItem) []*datastore.LabelClass {
	var out []*datastore.LabelClass
	for _, c := range s.Classes() {
		if item.PredictedLabelID != nil && c.ID == *item.PredictedLabelID {
			continue
		}
		out = append(out, c)
	}
	return out
}

// NextUnreviewed returns the first item in capture order that has a
// prediction but no actual label, or nil.
func NextUnreviewed(s *datastore.Session) *datastore.MediaItem {
	for i := range s.Items {
		if s.Items[i].IsClassified() && !s.Items[i].IsReviewed() {
			return &s.Items[i]
		}
	}
	return nil
}
