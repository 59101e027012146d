package classifier

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/STRATINT/eventfeed/internal/models"
)

const (
	// DefaultThreshold is the combined score at or above which a post is a listing.
	DefaultThreshold = 0.30

	keywordWeight = 0.55
	imageWeight   = 0.45

	// ModelName and ModelPretrained tag analyses with the image scoring model.
	ModelName       = "ViT-B-32"
	ModelPretrained = "laion2b_s34b_b79k"
)

// EventPrompts describe images that advertise an event.
var EventPrompts = []string{
	"a flyer for an upcoming event",
	"a poster announcing a party",
	"a concert announcement poster",
	"a dance event flyer",
	"a ticketed event poster",
	"an event lineup graphic",
}

// NonEventPrompts describe ordinary posts.
var NonEventPrompts = []string{
	"a selfie",
	"a casual photo of friends",
	"a landscape photo",
	"a food photo",
	"a pet photo",
	"a random instagram post",
}

// Embedder scores one image against the two prompt sets and returns
// mean similarity to eventPrompts minus mean similarity to nonEventPrompts.
type Embedder interface {
	ScoreImage(ctx context.Context, imagePath string, eventPrompts, nonEventPrompts []string) (float64, error)
}

// Result is a classification decision with its score breakdown.
type Result struct {
	IsEvent bool
	Score   float64
	Details models.ScoreDetails
}

// Classifier combines the caption keyword score with an optional image score.
type Classifier struct {
	embedder  Embedder
	threshold float64
	logger    *slog.Logger
}

// New creates a classifier. A nil embedder makes it text-only.
func New(embedder Embedder, threshold float64, logger *slog.Logger) *Classifier {
	return &Classifier{embedder: embedder, threshold: threshold, logger: logger}
}

// Threshold returns the decision threshold.
func (c *Classifier) Threshold() float64 {
	return c.threshold
}

// Classify scores a caption and its images.
func (c *Classifier) Classify(ctx context.Context, caption *string, images []string) Result {
	start := time.Now()

	text := ""
	if caption != nil {
		text = *caption
	}
	keyword := KeywordScore(text)
	image, hasImage := c.imageScore(ctx, images)

	combined := keyword
	clip := -1.0
	if hasImage {
		clip = image
		combined = keywordWeight*keyword + imageWeight*sigmoid(image)
	}

	c.logger.Debug("classification scored",
		"images", len(images),
		"keyword_score", keyword,
		"clip_score", clip,
		"combined_score", combined,
		"duration", time.Since(start),
	)

	return Result{
		IsEvent: combined >= c.threshold,
		Score:   combined,
		Details: models.ScoreDetails{
			KeywordScore:  keyword,
			ClipScore:     clip,
			CombinedScore: combined,
			Threshold:     c.threshold,
		},
	}
}

// Analysis converts a result into its persisted record.
func (c *Classifier) Analysis(result Result) models.Analysis {
	return models.Analysis{
		IsEvent:        result.IsEvent,
		IsEventListing: result.IsEvent,
		Score:          result.Score,
		Details:        result.Details,
		Model:          models.ModelTag{Name: ModelName, Pretrained: ModelPretrained},
	}
}

// imageScore averages the per-image deltas. It reports false when there are no
// images, no embedder, or every image failed.
func (c *Classifier) imageScore(ctx context.Context, images []string) (float64, bool) {
	if c.embedder == nil || len(images) == 0 {
		return 0, false
	}

	var sum float64
	var scored int
	for _, path := range images {
		delta, err := c.embedder.ScoreImage(ctx, path, EventPrompts, NonEventPrompts)
		if err != nil {
			c.logger.Warn("image scoring failed", "image", path, "error", err)
			continue
		}
		sum += delta
		scored++
	}
	if scored == 0 {
		return 0, false
	}
	return sum / float64(scored), true
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
