package alert

import (
	"context"
	"sort"
	"time"

	"github.com/crm-res/outreach-api/internal/model"
)

// DefaultRules is the stock rule set shipped for every restaurant. Evaluation
// happens in lexical rule-id order so a given event always fires rules in the
// same sequence.
func DefaultRules() []model.AlertRule {
	return []model.AlertRule{
		{
			ID: "low_rating_immediate",
			Predicate: model.Predicate{
				Kind:      model.PredicateRatingThreshold,
				MinRating: 0,
				MaxRating: 1,
			},
			Priority: model.AlertPriorityImmediate,
			Title:    "Very low rating received",
			Message:  "A customer left a rating of 1 or below and needs immediate attention.",
		},
		{
			ID: "medium_rating",
			Predicate: model.Predicate{
				Kind:      model.PredicateRatingThreshold,
				MinRating: 2,
				MaxRating: 3,
			},
			Priority: model.AlertPriorityMedium,
			Title:    "Mediocre rating received",
			Message:  "A customer left a middling rating; a follow-up may recover them.",
		},
		{
			ID: "negative_sentiment",
			Predicate: model.Predicate{
				Kind:           model.PredicateSentimentThreshold,
				SentimentBelow: -0.5,
			},
			Priority: model.AlertPriorityHigh,
			Title:    "Strongly negative feedback",
			Message:  "Sentiment analysis flagged a strongly negative customer message.",
		},
		{
			ID: "food_quality_issue",
			Predicate: model.Predicate{
				Kind:           model.PredicateSentimentThreshold,
				SentimentBelow: -0.3,
				Category:       "food_quality",
			},
			Priority: model.AlertPriorityHigh,
			Title:    "Food quality complaint",
			Message:  "A customer reported a problem with food quality.",
		},
		{
			ID: "service_complaint",
			Predicate: model.Predicate{
				Kind:           model.PredicateSentimentThreshold,
				SentimentBelow: -0.3,
				Category:       "service",
			},
			Priority: model.AlertPriorityMedium,
			Title:    "Service complaint",
			Message:  "A customer reported a problem with service.",
		},
		{
			ID: "repeated_issue",
			Predicate: model.Predicate{
				Kind:     model.PredicateFrequency,
				Category: "food_quality",
				MinCount: 3,
				Window:   7 * 24 * time.Hour,
			},
			Priority: model.AlertPriorityHigh,
			Title:    "Recurring food quality issue",
			Message:  "The same food quality complaint keeps coming back this week.",
		},
	}
}

// evaluate dispatches on the predicate's kind. The predicate set is closed;
// there is no expression interpreter behind rules.
func (s *Service) evaluate(ctx context.Context, p model.Predicate, event *model.ConversationEvent, now time.Time) (bool, error) {
	switch p.Kind {
	case model.PredicateRatingThreshold:
		if event.Rating == nil {
			return false, nil
		}
		return *event.Rating >= p.MinRating && *event.Rating <= p.MaxRating, nil

	case model.PredicateSentimentThreshold:
		if event.SentimentScore == nil {
			return false, nil
		}
		if *event.SentimentScore >= p.SentimentBelow {
			return false, nil
		}
		if p.Category != "" && !hasCategory(event.Categories, p.Category) {
			return false, nil
		}
		return true, nil

	case model.PredicateFrequency:
		if !hasCategory(event.Categories, p.Category) {
			return false, nil
		}
		count, err := s.alerts.CountByCategorySince(ctx, event.RestaurantID, p.Category, now.Add(-p.Window))
		if err != nil {
			return false, err
		}
		// The triggering event itself counts toward the threshold.
		return count+1 >= p.MinCount, nil

	case model.PredicateComposite:
		return s.evaluateComposite(ctx, p, event, now)

	default:
		return false, nil
	}
}

func (s *Service) evaluateComposite(ctx context.Context, p model.Predicate, event *model.ConversationEvent, now time.Time) (bool, error) {
	for _, child := range p.Children {
		matched, err := s.evaluate(ctx, child, event, now)
		if err != nil {
			return false, err
		}
		switch p.Op {
		case model.CompositeAnd:
			if !matched {
				return false, nil
			}
		case model.CompositeOr:
			if matched {
				return true, nil
			}
		}
	}
	return p.Op == model.CompositeAnd && len(p.Children) > 0, nil
}

func hasCategory(categories []string, want string) bool {
	for _, c := range categories {
		if c == want {
			return true
		}
	}
	return false
}

func sortRules(rules []model.AlertRule) []model.AlertRule {
	sorted := make([]model.AlertRule, len(rules))
	copy(sorted, rules)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	return sorted
}
