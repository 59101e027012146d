package models

// Analysis is the classification record written to analysis.json. Its presence
// means classification was attempted, whatever the decision.
type Analysis struct {
	IsEvent        bool         `json:"is_event"`
	IsEventListing bool         `json:"is_event_listing"`
	Score          float64      `json:"score"`
	Details        ScoreDetails `json:"details"`
	Model          ModelTag     `json:"model"`
}

// ScoreDetails breaks the combined score into its signals. ClipScore is -1 when
// no image score was available.
type ScoreDetails struct {
	KeywordScore  float64 `json:"keyword_score"`
	ClipScore     float64 `json:"clip_score"`
	CombinedScore float64 `json:"combined_score"`
	Threshold     float64 `json:"threshold"`
}

// ModelTag identifies the image scoring model.
type ModelTag struct {
	Name       string `json:"name"`
	Pretrained string `json:"pretrained"`
}

// EventListing reports the decision, honouring records written with either flag.
func (a Analysis) EventListing() bool {
	return a.IsEvent || a.IsEventListing
}
