package pipeline

import (
	"github.com/rotisserie/eris"

	"github.com/sells-group/skiatlas/internal/model"
)

// Stage is a state of the per-element continuation state machine.
type Stage string

const (
	StageDiscovered       Stage = "discovered"
	StageBasicPersisted   Stage = "basic_persisted"
	StageLocationEnriched Stage = "location_enriched"
	StageDetailDownloaded Stage = "detail_downloaded"
)

// ProcessedArea is the element currently moving through the stages.
type ProcessedArea struct {
	Element  model.RawElement     `json:"element"`
	Slug     string               `json:"slug"`
	Location *model.AdminLocation `json:"location,omitempty"`
}

// CompletedArea summarizes an element that reached the terminal stage.
type CompletedArea struct {
	Slug      string `json:"slug"`
	Name      string `json:"name"`
	Country   string `json:"country"`
	Province  string `json:"province"`
	DetailKey string `json:"detail_key,omitempty"`
}

// FailureKind classifies the error that made an element be abandoned.
type FailureKind string

const (
	FailurePersistence FailureKind = "persistence"
	FailureUpstream    FailureKind = "upstream"
	FailureOther       FailureKind = "other"
)

// ElementFailure records an element abandoned by this run.
type ElementFailure struct {
	Ref   string      `json:"ref"`
	Slug  string      `json:"slug"`
	Stage Stage       `json:"stage"`
	Kind  FailureKind `json:"kind,omitempty"`
	Error string      `json:"error"`
}

// ContinuationState is the hand-off between bounded invocations. It carries
// everything needed to resume: the element to start next, the untouched
// tail, and the element in flight between stages.
type ContinuationState struct {
	Stage     Stage              `json:"stage"`
	Next      *model.RawElement  `json:"next_item,omitempty"`
	Remaining []model.RawElement `json:"remaining_items"`
	Processed *ProcessedArea     `json:"processed,omitempty"`
	Completed []CompletedArea    `json:"completed,omitempty"`
	Failures  []ElementFailure   `json:"failures,omitempty"`
}

// NewState starts a run over elements. An empty slice yields a finished state.
func NewState(elements []model.RawElement) ContinuationState {
	if len(elements) == 0 {
		return ContinuationState{Stage: StageDetailDownloaded, Remaining: []model.RawElement{}}
	}
	first := elements[0]
	rest := make([]model.RawElement, len(elements)-1)
	copy(rest, elements[1:])
	return ContinuationState{Stage: StageDiscovered, Next: &first, Remaining: rest}
}

// Done reports whether the run has nothing left to do.
func (s ContinuationState) Done() bool {
	return s.Stage == StageDetailDownloaded && s.Next == nil && len(s.Remaining) == 0
}

// Pending returns how many elements have not finished yet, including the one
// in flight.
func (s ContinuationState) Pending() int {
	n := len(s.Remaining)
	if s.Next != nil || s.Processed != nil {
		n++
	}
	return n
}

// Validate checks that the state can be resumed.
func (s ContinuationState) Validate() error {
	switch s.Stage {
	case StageDiscovered:
		if s.Next == nil {
			return eris.Wrap(model.ErrInvalidState, "pipeline: discovered stage without next item")
		}
	case StageBasicPersisted, StageLocationEnriched:
		if s.Processed == nil {
			return eris.Wrapf(model.ErrInvalidState, "pipeline: %s stage without processed item", s.Stage)
		}
		if s.Stage == StageLocationEnriched && s.Processed.Location == nil {
			return eris.Wrap(model.ErrInvalidState, "pipeline: location_enriched stage without location")
		}
	case StageDetailDownloaded:
		if s.Next != nil || len(s.Remaining) > 0 {
			return eris.Wrap(model.ErrInvalidState, "pipeline: terminal stage with work remaining")
		}
	default:
		return eris.Wrapf(model.ErrInvalidState, "pipeline: unknown stage %q", s.Stage)
	}
	return nil
}

// advance hands off to the next element, or finishes the run.
func (s ContinuationState) advance() ContinuationState {
	s.Processed = nil
	if len(s.Remaining) == 0 {
		s.Stage = StageDetailDownloaded
		s.Next = nil
		s.Remaining = []model.RawElement{}
		return s
	}
	next := s.Remaining[0]
	s.Stage = StageDiscovered
	s.Next = &next
	s.Remaining = s.Remaining[1:]
	return s
}
