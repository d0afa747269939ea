package notify

import (
	"context"

	"github.com/braydio/Override-RSA/internal/entity"
	"github.com/braydio/Override-RSA/internal/repository"
	"github.com/sirupsen/logrus"
)

// Journal persists every order outcome into the Postgres journal. A
// journal write failure never fails the dispatch that produced it.
type Journal struct {
	repo *repository.OrderOutcomeRepository
}

func NewJournal(repo *repository.OrderOutcomeRepository) *Journal {
	return &Journal{repo: repo}
}

func (j *Journal) Notify(_ context.Context, _ string) {}

func (j *Journal) Record(ctx context.Context, outcome entity.OrderOutcome) {
	if err := j.repo.Create(ctx, &outcome); err != nil {
		logrus.Errorf("journal order outcome: %v", err)
	}
}
