package adherence

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/medtrack/internal/platform/auth"
	"github.com/ehr/medtrack/internal/platform/events"
	"github.com/ehr/medtrack/internal/platform/metrics"
)

// View is the annotated list view of a snapshot.
type View struct {
	Prescriptions   []Prescription `json:"prescriptions"`
	ActionableItems []string       `json:"actionable_items"`
	FetchedAt       time.Time      `json:"fetched_at"`
	EvaluatedAt     time.Time      `json:"evaluated_at"`
}

// CalendarView is the calendar-filtered view for one selected day.
type CalendarView struct {
	Day           DayKey         `json:"day"`
	Days          []DayMark      `json:"days"`
	Prescriptions []Prescription `json:"prescriptions"`
	EvaluatedAt   time.Time      `json:"evaluated_at"`
}

// MarkOutcome is the result of a mark plus the re-fetched view.
type MarkOutcome struct {
	Result MarkResult `json:"result"`
	View   *View      `json:"view,omitempty"`
}

// Service answers the dashboard's query shapes over a fresh snapshot per call.
// It holds no snapshot between calls.
type Service struct {
	repo      Repository
	tracker   *Tracker
	evaluator Evaluator
	agg       Aggregator
	publisher events.Publisher
	now       func() time.Time
	logger    zerolog.Logger
}

func NewService(repo Repository, evaluator Evaluator, agg Aggregator) *Service {
	return &Service{
		repo:      repo,
		tracker:   NewTracker(repo),
		evaluator: evaluator,
		agg:       agg,
		publisher: events.NopPublisher{},
		now:       time.Now,
		logger:    zerolog.Nop(),
	}
}

// SetPublisher attaches a publisher for dose-taken events.
func (s *Service) SetPublisher(p events.Publisher) {
	if p == nil {
		p = events.NopPublisher{}
	}
	s.publisher = p
}

// SetClock replaces the wall clock, mainly for tests.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Service) SetLogger(l zerolog.Logger) {
	s.logger = l
}

// Aggregator returns the service's calendar aggregator.
func (s *Service) Aggregator() Aggregator {
	return s.agg
}

// Today returns the current day key in the aggregator's location.
func (s *Service) Today() DayKey {
	return DayKeyOf(s.now(), s.agg.Location)
}

func (s *Service) annotated(ctx context.Context) (*Snapshot, []Prescription, time.Time, error) {
	snap, err := s.repo.FetchSnapshot(ctx)
	if err != nil {
		metrics.SnapshotFetches.WithLabelValues("error").Inc()
		return nil, nil, time.Time{}, err
	}
	metrics.SnapshotFetches.WithLabelValues("ok").Inc()
	now := s.now()
	return snap, s.evaluator.Annotate(AnchorCivil(snap.Prescriptions, s.agg.Location), now), now, nil
}

func (s *Service) view(snap *Snapshot, prescriptions []Prescription, at time.Time) *View {
	v := &View{
		Prescriptions:   prescriptions,
		ActionableItems: make([]string, 0),
		FetchedAt:       snap.FetchedAt,
		EvaluatedAt:     at,
	}
	for _, p := range prescriptions {
		for _, it := range p.Items {
			if ItemActionable(it) {
				v.ActionableItems = append(v.ActionableItems, it.ID)
			}
		}
	}
	return v
}

// ListView returns every prescription of a fresh snapshot, annotated.
func (s *Service) ListView(ctx context.Context) (*View, error) {
	snap, prescriptions, at, err := s.annotated(ctx)
	if err != nil {
		return nil, err
	}
	return s.view(snap, prescriptions, at), nil
}

// CalendarView returns the marker calendar with day selected plus the
// prescriptions that touch day.
func (s *Service) CalendarView(ctx context.Context, day DayKey) (*CalendarView, error) {
	if day == "" {
		day = s.Today()
	}
	_, prescriptions, at, err := s.annotated(ctx)
	if err != nil {
		return nil, err
	}
	cal := s.agg.Aggregate(prescriptions, day)
	return &CalendarView{
		Day:           day,
		Days:          cal.Days(),
		Prescriptions: s.agg.FilterByDay(prescriptions, day),
		EvaluatedAt:   at,
	}, nil
}

// Stats computes compliance locally from a fresh snapshot.
func (s *Service) Stats(ctx context.Context) (*ComplianceStats, error) {
	snap, err := s.repo.FetchSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	stats := ComputeStats(snap.Prescriptions)
	return &stats, nil
}

// ServerStats returns the stats computed by the records source.
func (s *Service) ServerStats(ctx context.Context) (*ComplianceStats, error) {
	return s.repo.FetchStats(ctx)
}

// SearchByPatient fetches a patient's full history by DNI.
func (s *Service) SearchByPatient(ctx context.Context, dni string) (*PatientHistory, error) {
	const op = "search patient"
	dni = strings.TrimSpace(dni)
	if dni == "" {
		return nil, validationError(op, "patient DNI is required")
	}
	h, err := s.repo.PatientHistory(ctx, dni)
	if err != nil {
		return nil, err
	}
	if h == nil {
		return nil, notFoundError(op, "no patient found for DNI "+dni)
	}
	out := *h
	out.Prescriptions = s.evaluator.Annotate(AnchorCivil(h.Prescriptions, s.agg.Location), s.now())
	return &out, nil
}

// MarkTaken marks an item as taken and re-fetches the snapshot. If the
// refresh fails the mark still stands: the outcome carries the result and err
// describes the failed refresh.
func (s *Service) MarkTaken(ctx context.Context, itemID string) (*MarkOutcome, error) {
	if strings.TrimSpace(itemID) == "" {
		return nil, validationError("mark taken", "prescription item id is required")
	}
	snap, err := s.repo.FetchSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	res, err := s.tracker.MarkTaken(ctx, snap, itemID)
	if err != nil {
		return nil, err
	}
	metrics.MarkTaken.WithLabelValues(string(res.Status)).Inc()

	if res.Status == StatusMarked {
		evt := events.NewDoseTaken(res.ItemID, auth.UserIDFromContext(ctx), s.now())
		if perr := s.publisher.PublishDoseTaken(ctx, evt); perr != nil {
			s.logger.Error().Err(perr).Str("item_id", res.ItemID).Msg("publish dose taken event")
		}
	}

	out := &MarkOutcome{Result: res}
	fresh, prescriptions, at, err := s.annotated(ctx)
	if err != nil {
		return out, err
	}
	out.View = s.view(fresh, prescriptions, at)
	return out, nil
}
