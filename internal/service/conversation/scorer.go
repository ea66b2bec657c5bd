package conversation

import "context"

// Scorer is the external sentiment/confidence scoring capability.
type Scorer interface {
	// Score returns a sentiment label, a score in [-1, 1] and the model's
	// confidence in [0, 1].
	Score(ctx context.Context, text string) (label string, score float64, confidence float64, err error)
}

// neutralScorer is the stand-in used when no scoring model is wired. It never
// triggers sentiment-driven escalation.
type neutralScorer struct{}

func NewNeutralScorer() Scorer {
	return neutralScorer{}
}

func (neutralScorer) Score(context.Context, string) (string, float64, float64, error) {
	return "neutral", 0, 1, nil
}
