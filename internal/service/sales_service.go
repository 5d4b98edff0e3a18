package service

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Tony33-a/GestionaleViCanto-sub001/internal/model"
	"github.com/Tony33-a/GestionaleViCanto-sub001/internal/repository"
)

// SalesService reads the sales archive and runs the administrative purge.
type SalesService interface {
	ListBetween(ctx context.Context, from, to time.Time) ([]model.SalesOrder, error)
	// Purge deletes archived sales settled before the cut-off.
	Purge(ctx context.Context, before time.Time) (int64, error)
}

type salesService struct {
	repo repository.SalesRepository
	opts options
}

func NewSalesService(repo repository.SalesRepository, opts ...Option) SalesService {
	return &salesService{repo: repo, opts: buildOptions(opts)}
}

func (s *salesService) ListBetween(ctx context.Context, from, to time.Time) ([]model.SalesOrder, error) {
	return s.repo.ListBetween(ctx, from.UTC(), to.UTC())
}

func (s *salesService) Purge(ctx context.Context, before time.Time) (int64, error) {
	if !before.Before(s.opts.clock()) {
		return 0, errors.New("purge cut-off must be in the past")
	}
	n, err := s.repo.PurgeBefore(ctx, before.UTC())
	if err != nil {
		return 0, err
	}
	log.Warn().Int64("count", n).Time("before", before).Msg("sales archive purged")
	return n, nil
}
