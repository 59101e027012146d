package classifier

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/STRATINT/eventfeed/internal/logging"
)

type fakeEmbedder struct {
	scores map[string]float64
	calls  int
}

func (f *fakeEmbedder) ScoreImage(_ context.Context, imagePath string, eventPrompts, nonEventPrompts []string) (float64, error) {
	f.calls++
	if len(eventPrompts) == 0 || len(nonEventPrompts) == 0 {
		return 0, errors.New("prompts required")
	}
	score, ok := f.scores[imagePath]
	if !ok {
		return 0, errors.New("unreadable image")
	}
	return score, nil
}

func ptr(s string) *string { return &s }

func approxEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestKeywordScore(t *testing.T) {
	tests := []struct {
		name    string
		caption string
		want    float64
	}{
		{"empty", "", 0},
		{"no keywords", "sunset at the beach", 0},
		{"single keyword", "Party!", 1.0 / 6},
		{"repeated keyword counts once", "party party PARTY", 1.0 / 6},
		{"three keywords", "DJ set tonight", 3.0 / 6},
		{"saturates", "event tonight tickets rsvp lineup doors show concert", 1},
		{"single letters ignored", "a b c", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KeywordScore(tt.caption); !approxEqual(got, tt.want) {
				t.Errorf("KeywordScore(%q) = %v, want %v", tt.caption, got, tt.want)
			}
		})
	}
}

func TestKeywordScoreNeverDecreases(t *testing.T) {
	keywords := []string{"party", "tonight", "tickets", "lineup", "friday", "venue", "doors", "dj", "october"}
	caption := "sunset at the beach"
	prev := KeywordScore(caption)

	for i, kw := range keywords {
		caption += " " + kw
		got := KeywordScore(caption)
		if got < prev {
			t.Fatalf("score dropped from %v to %v after adding %q", prev, got, kw)
		}
		if i+1 >= keywordSaturation && !approxEqual(got, 1) {
			t.Errorf("score with %d keywords = %v, want 1", i+1, got)
		}
		if i+1 < keywordSaturation && !approxEqual(got, float64(i+1)/keywordSaturation) {
			t.Errorf("score with %d keywords = %v, want %v", i+1, got, float64(i+1)/keywordSaturation)
		}
		prev = got
	}
}

func TestClassifyTextOnly(t *testing.T) {
	c := New(nil, DefaultThreshold, logging.Discard())

	result := c.Classify(context.Background(), ptr("DJ set tonight"), []string{"flyer.jpg"})
	if !result.IsEvent {
		t.Fatal("expected event listing from caption keywords")
	}
	if !approxEqual(result.Score, 0.5) {
		t.Errorf("Score = %v, want 0.5", result.Score)
	}
	if result.Details.ClipScore != -1 {
		t.Errorf("ClipScore = %v, want -1 without image scoring", result.Details.ClipScore)
	}
	if result.Details.Threshold != DefaultThreshold {
		t.Errorf("Threshold = %v", result.Details.Threshold)
	}

	nothing := c.Classify(context.Background(), nil, nil)
	if nothing.IsEvent || nothing.Score != 0 {
		t.Fatalf("nil caption should score zero, got %+v", nothing)
	}
}

func TestClassifyCombinesImageScore(t *testing.T) {
	embedder := &fakeEmbedder{scores: map[string]float64{"a.jpg": 0.2, "b.jpg": 0.0}}
	c := New(embedder, DefaultThreshold, logging.Discard())

	result := c.Classify(context.Background(), ptr("party"), []string{"a.jpg", "b.jpg", "broken.jpg"})

	clip := 0.1
	want := 0.55*(1.0/6) + 0.45*(1/(1+math.Exp(-clip)))
	if !approxEqual(result.Details.ClipScore, clip) {
		t.Errorf("ClipScore = %v, want %v", result.Details.ClipScore, clip)
	}
	if !approxEqual(result.Score, want) {
		t.Errorf("Score = %v, want %v", result.Score, want)
	}
	if !result.IsEvent {
		t.Error("expected listing above threshold")
	}
	if embedder.calls != 3 {
		t.Errorf("expected every image to be scored, got %d calls", embedder.calls)
	}
}

func TestClassifyFallsBackWhenAllImagesFail(t *testing.T) {
	c := New(&fakeEmbedder{}, DefaultThreshold, logging.Discard())

	result := c.Classify(context.Background(), ptr("just a selfie"), []string{"broken.jpg"})
	if result.IsEvent || result.Details.ClipScore != -1 {
		t.Fatalf("expected keyword-only non-event, got %+v", result)
	}
}

func TestClassifyThresholdIsInclusive(t *testing.T) {
	c := New(nil, 0.5, logging.Discard())

	if !c.Classify(context.Background(), ptr("dj set tonight"), nil).IsEvent {
		t.Fatal("score equal to threshold should be an event")
	}
	if c.Classify(context.Background(), ptr("dj set"), nil).IsEvent {
		t.Fatal("score below threshold should not be an event")
	}
}

func TestAnalysisRecord(t *testing.T) {
	c := New(nil, DefaultThreshold, logging.Discard())
	analysis := c.Analysis(c.Classify(context.Background(), ptr("festival lineup"), nil))

	if !analysis.IsEvent || !analysis.IsEventListing || !analysis.EventListing() {
		t.Fatalf("unexpected flags: %+v", analysis)
	}
	if analysis.Model.Name != ModelName || analysis.Model.Pretrained != ModelPretrained {
		t.Errorf("unexpected model tag: %+v", analysis.Model)
	}
	if analysis.Details.CombinedScore != analysis.Score {
		t.Errorf("combined score %v should match score %v", analysis.Details.CombinedScore, analysis.Score)
	}
}
