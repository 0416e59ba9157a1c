package qa

import (
	"github.com/vampirenirmal/storyforge/internal/config"
	"github.com/vampirenirmal/storyforge/internal/story"
)

// Thresholds parameterize the decision policy.
type Thresholds struct {
	Approve int
	Reject  int
	Values  float64
}

func DefaultThresholds() Thresholds {
	return ThresholdsFrom(config.DefaultQA())
}

func ThresholdsFrom(cfg config.QAConfig) Thresholds {
	return Thresholds{
		Approve: cfg.ApproveThreshold,
		Reject:  cfg.RejectThreshold,
		Values:  cfg.ValuesThreshold,
	}
}

// Decide classifies a story. Rules are applied in order: unsafe, then low
// quality, then the approval bar; anything else goes to an editor.
func (t Thresholds) Decide(quality int, safe bool, values float64) story.Status {
	switch {
	case !safe:
		return story.StatusRejected
	case quality < t.Reject:
		return story.StatusRejected
	case quality >= t.Approve && values >= t.Values:
		return story.StatusApproved
	default:
		return story.StatusEditorQueue
	}
}

// Decide applies the default thresholds.
func Decide(quality int, safe bool, values float64) story.Status {
	return DefaultThresholds().Decide(quality, safe, values)
}
