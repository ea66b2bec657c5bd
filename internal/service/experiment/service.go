package experiment

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/crm-res/outreach-api/internal/model"
	"github.com/crm-res/outreach-api/internal/repository"
	apperr "github.com/crm-res/outreach-api/pkg/errors"
	"github.com/crm-res/outreach-api/pkg/logger"
)

// Service owns experiment lifecycle and variant assignment. Assignment is
// idempotent per (experiment, customer): once a customer is bound to a variant
// the binding never changes, or the experiment's statistics would be corrupted.
type Service struct {
	repo   repository.ExperimentRepository
	logger *logger.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

func NewService(repo repository.ExperimentRepository, log *logger.Logger) *Service {
	return &Service{
		repo:   repo,
		logger: log,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (s *Service) Create(ctx context.Context, campaignID uuid.UUID, req *model.CreateExperimentRequest) (*model.Experiment, error) {
	variants, err := normalizeWeights(req.Variants)
	if err != nil {
		return nil, err
	}

	exp := &model.Experiment{
		CampaignID:    campaignID,
		Name:          req.Name,
		Description:   req.Description,
		Variants:      variants,
		Status:        model.ExperimentStatusDraft,
		Strategy:      req.Strategy,
		MinSampleSize: req.MinSampleSize,
	}
	if err := s.repo.Create(ctx, exp); err != nil {
		return nil, err
	}
	return exp, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*model.Experiment, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) Start(ctx context.Context, id uuid.UUID) (*model.Experiment, error) {
	exp, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if exp.Status != model.ExperimentStatusDraft && exp.Status != model.ExperimentStatusPaused {
		return nil, apperr.NewBusinessRule("experiment_not_startable",
			fmt.Sprintf("cannot start experiment in status %s", exp.Status))
	}
	now := time.Now()
	exp.Status = model.ExperimentStatusRunning
	if exp.StartedAt == nil {
		exp.StartedAt = &now
	}
	if err := s.repo.Update(ctx, exp); err != nil {
		return nil, err
	}
	return exp, nil
}

func (s *Service) Pause(ctx context.Context, id uuid.UUID) (*model.Experiment, error) {
	exp, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if exp.Status != model.ExperimentStatusRunning {
		return nil, apperr.NewBusinessRule("experiment_not_running",
			fmt.Sprintf("cannot pause experiment in status %s", exp.Status))
	}
	exp.Status = model.ExperimentStatusPaused
	if err := s.repo.Update(ctx, exp); err != nil {
		return nil, err
	}
	return exp, nil
}

func (s *Service) Complete(ctx context.Context, id uuid.UUID) (*model.Experiment, error) {
	exp, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if exp.Status != model.ExperimentStatusRunning && exp.Status != model.ExperimentStatusPaused {
		return nil, apperr.NewBusinessRule("experiment_not_completable",
			fmt.Sprintf("cannot complete experiment in status %s", exp.Status))
	}

	results, err := s.Results(ctx, id)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	exp.Status = model.ExperimentStatusCompleted
	exp.EndedAt = &now
	exp.WinningVariant = results.WinningVariant
	if err := s.repo.Update(ctx, exp); err != nil {
		return nil, err
	}
	return exp, nil
}

// Archive retires a completed experiment. Archived experiments keep their
// assignments and results but accept no further lifecycle changes.
func (s *Service) Archive(ctx context.Context, id uuid.UUID) (*model.Experiment, error) {
	exp, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if exp.Status != model.ExperimentStatusCompleted {
		return nil, apperr.NewBusinessRule("experiment_not_archivable",
			fmt.Sprintf("cannot archive experiment in status %s", exp.Status))
	}
	exp.Status = model.ExperimentStatusArchived
	if err := s.repo.Update(ctx, exp); err != nil {
		return nil, err
	}
	return exp, nil
}

// AssignOrGet returns the variant bound to customerKey, assigning one on first
// call. Re-invocation never changes an existing binding. Concurrent first
// assignments resolve through the storage uniqueness guarantee: exactly one
// writer wins and every caller sees the winner's variant.
func (s *Service) AssignOrGet(ctx context.Context, experimentID uuid.UUID, customerKey string) (string, error) {
	existing, err := s.repo.GetAssignment(ctx, experimentID, customerKey)
	if err != nil {
		return "", err
	}
	if existing != nil {
		return existing.VariantID, nil
	}

	exp, err := s.repo.Get(ctx, experimentID)
	if err != nil {
		return "", err
	}
	if exp.Status != model.ExperimentStatusRunning {
		return "", apperr.NewBusinessRule("experiment_not_running",
			fmt.Sprintf("cannot assign variants for experiment in status %s", exp.Status))
	}
	if len(exp.Variants) == 0 {
		return "", apperr.NewInvariantViolation(
			fmt.Sprintf("experiment %s has no variants", experimentID), nil)
	}

	var point float64
	if exp.Strategy == model.StrategyRandom {
		s.mu.Lock()
		point = s.rng.Float64()
		s.mu.Unlock()
	} else {
		point = hashPoint(experimentID, customerKey)
	}

	variantID := pickVariant(exp.Variants, point)

	winner, err := s.repo.InsertAssignment(ctx, &model.VariantAssignment{
		ExperimentID:  experimentID,
		CustomerPhone: customerKey,
		VariantID:     variantID,
	})
	if err != nil {
		return "", err
	}
	if !variantExists(exp.Variants, winner.VariantID) {
		return "", apperr.NewInvariantViolation(
			fmt.Sprintf("assignment %s references unknown variant %s", winner.ID, winner.VariantID), nil)
	}
	return winner.VariantID, nil
}

func (s *Service) Results(ctx context.Context, id uuid.UUID) (*model.ExperimentResults, error) {
	exp, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	stats, err := s.repo.VariantStats(ctx, id)
	if err != nil {
		return nil, err
	}

	results := &model.ExperimentResults{
		ExperimentID: id,
		Status:       exp.Status,
		Variants:     stats,
	}
	for _, vs := range stats {
		results.TotalParticipants += vs.Participants
		results.TotalResponses += vs.Responses
	}
	results.WinningVariant = pickWinner(stats, exp.MinSampleSize)
	return results, nil
}

// pickWinner declares the variant with the best response rate, but only once
// every variant has reached the minimum sample size.
func pickWinner(stats []model.VariantStats, minSample int) *string {
	if len(stats) == 0 {
		return nil
	}
	best := -1
	for i, vs := range stats {
		if vs.Participants < minSample {
			return nil
		}
		if best == -1 || vs.ResponseRate > stats[best].ResponseRate {
			best = i
		}
	}
	winner := stats[best].VariantID
	return &winner
}

// hashPoint maps (experiment, customer) onto [0, 1) deterministically.
func hashPoint(experimentID uuid.UUID, customerKey string) float64 {
	h := fnv.New64a()
	h.Write([]byte(experimentID.String()))
	h.Write([]byte("|"))
	h.Write([]byte(customerKey))
	return float64(h.Sum64()) / float64(math.MaxUint64+1.0)
}

// pickVariant walks variants in id order accumulating weights and selects the
// first whose cumulative weight exceeds point. Weights sum to 1.0, so the walk
// always terminates inside the slice; the final variant absorbs any floating
// point remainder.
func pickVariant(variants model.Variants, point float64) string {
	sorted := make([]model.Variant, len(variants))
	copy(sorted, variants)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	cumulative := 0.0
	for _, v := range sorted {
		cumulative += v.Weight
		if point < cumulative {
			return v.ID
		}
	}
	return sorted[len(sorted)-1].ID
}

func variantExists(variants model.Variants, id string) bool {
	for _, v := range variants {
		if v.ID == id {
			return true
		}
	}
	return false
}

// normalizeWeights scales variant weights to sum to 1.0. Variants with no
// weights configured split traffic evenly.
func normalizeWeights(variants []model.Variant) (model.Variants, error) {
	if len(variants) == 0 {
		return nil, apperr.NewBadRequest("experiment requires at least one variant", nil)
	}
	out := make(model.Variants, len(variants))
	copy(out, variants)

	sum := 0.0
	for _, v := range out {
		if v.Weight < 0 {
			return nil, apperr.NewBadRequest(
				fmt.Sprintf("variant %s has negative weight", v.ID), nil)
		}
		sum += v.Weight
	}

	if sum == 0 {
		even := 1.0 / float64(len(out))
		for i := range out {
			out[i].Weight = even
		}
		return out, nil
	}

	for i := range out {
		out[i].Weight /= sum
	}
	return out, nil
}
