package analytics

import (
	"context"
	"time"

	"github.com/leonardo-lacerda/InstanciaEvo/services/console/internal/app"
	"github.com/leonardo-lacerda/InstanciaEvo/services/console/internal/state"
)

// Overview is the dashboard snapshot persisted after every refresh.
type Overview struct {
	state.Counts
	Messages24h   int       `json:"messages24h"`
	TotalMessages int       `json:"totalMessages"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

type Service struct {
	app *app.App
}

func NewService(a *app.App) *Service {
	return &Service{app: a}
}

func (s *Service) Instance(id string) (Summary, error) {
	inst, ok := s.app.State.Instance(id)
	if !ok {
		return Summary{}, app.ErrInstanceNotFound
	}
	return InstanceSummary(inst, s.app.State.InstanceMessages(id, 0), s.app.Now()), nil
}

func (s *Service) Report() Report {
	return DetailedReport(s.app.State.Instances(), s.app.State.Messages(), s.app.Now())
}

// Overview recomputes the dashboard counts and persists them.
func (s *Service) Overview(ctx context.Context) (Overview, error) {
	now := s.app.Now()
	msgs := s.app.State.Messages()
	o := Overview{Counts: s.app.State.Counts(), TotalMessages: len(msgs), UpdatedAt: now.UTC()}
	for _, m := range msgs {
		if now.Sub(m.Timestamp) < Day {
			o.Messages24h++
		}
	}
	if err := s.app.State.SetAnalytics(ctx, o); err != nil {
		return o, err
	}
	return o, nil
}
