package moderation

import (
	"context"
	"fmt"
	"log/slog"

	"threadline/internal/models"
	"threadline/internal/observability"
)

// Outcome is an automated verdict, ordered by severity.
type Outcome int

const (
	OutcomeNone Outcome = iota
	OutcomeReview
	OutcomeHide
	OutcomeSpam
)

func (o Outcome) String() string {
	switch o {
	case OutcomeReview:
		return "review"
	case OutcomeHide:
		return "hide"
	case OutcomeSpam:
		return "spam"
	default:
		return "none"
	}
}

// ParseOutcome converts a config value into an Outcome.
func ParseOutcome(s string) (Outcome, error) {
	switch s {
	case "none", "":
		return OutcomeNone, nil
	case "review":
		return OutcomeReview, nil
	case "hide":
		return OutcomeHide, nil
	case "spam":
		return OutcomeSpam, nil
	}
	return OutcomeNone, fmt.Errorf("unknown moderation outcome %q", s)
}

// Status returns the comment status an outcome moves a comment to.
func (o Outcome) Status() (models.CommentStatus, bool) {
	switch o {
	case OutcomeReview:
		return models.StatusPending, true
	case OutcomeHide:
		return models.StatusHidden, true
	case OutcomeSpam:
		return models.StatusSpam, true
	}
	return "", false
}

// Thresholds configures when automated signals produce an outcome.
type Thresholds struct {
	Spam             float64
	Toxicity         float64
	ReportReview     int64
	ReportHide       int64
	SensitiveOutcome Outcome
}

// DefaultThresholds mirrors the shipped configuration defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Spam:             0.7,
		Toxicity:         0.8,
		ReportReview:     5,
		ReportHide:       10,
		SensitiveOutcome: OutcomeReview,
	}
}

// Signals are the automated inputs for one comment. Nil fields were not collected.
type Signals struct {
	Score       *Score
	Filter      *FilterResult
	ReportCount int64
}

// Command is an explicit moderator instruction.
type Command struct {
	ModeratorID  uint
	Target       models.CommentStatus
	Reason       string
	ResetReports bool
}

// Decision is the engine's verdict for a comment.
type Decision struct {
	Status       models.CommentStatus
	Outcome      Outcome
	Automated    bool
	ModeratorID  uint
	Reason       string
	ResetReports bool
	Triggers     []string
}

// Engine turns commands and signals into decisions.
type Engine struct {
	thresholds Thresholds
	scorer     Scorer
	filter     WordFilter
}

// NewEngine returns an Engine. scorer and filter may be nil.
func NewEngine(thresholds Thresholds, scorer Scorer, filter WordFilter) *Engine {
	return &Engine{thresholds: thresholds, scorer: scorer, filter: filter}
}

// Classify returns the most severe outcome the signals support and the names of
// every threshold that was crossed.
func (e *Engine) Classify(sig Signals) (Outcome, []string) {
	outcome := OutcomeNone
	var triggers []string
	raise := func(o Outcome, trigger string) {
		triggers = append(triggers, trigger)
		if o > outcome {
			outcome = o
		}
	}

	if sig.Score != nil {
		if sig.Score.SpamProbability >= e.thresholds.Spam {
			raise(OutcomeSpam, "spam_score")
		}
		if sig.Score.ToxicityProbability >= e.thresholds.Toxicity {
			raise(OutcomeHide, "toxicity_score")
		}
	}
	if sig.Filter != nil && sig.Filter.Matched && e.thresholds.SensitiveOutcome != OutcomeNone {
		raise(e.thresholds.SensitiveOutcome, "sensitive_words")
	}
	if e.thresholds.ReportHide > 0 && sig.ReportCount >= e.thresholds.ReportHide {
		raise(OutcomeHide, "report_count_hide")
	} else if e.thresholds.ReportReview > 0 && sig.ReportCount >= e.thresholds.ReportReview {
		raise(OutcomeReview, "report_count_review")
	}

	return outcome, triggers
}

// Decide picks the next status for a comment currently in status current.
// A command always wins over signals. Automated decisions never lower the
// severity of the current status, so they may resolve to current itself.
// ok is false when no command was given and no signal crossed a threshold.
func (e *Engine) Decide(current models.CommentStatus, cmd *Command, sig Signals) (Decision, bool) {
	if cmd != nil {
		return Decision{
			Status:       cmd.Target,
			Automated:    false,
			ModeratorID:  cmd.ModeratorID,
			Reason:       cmd.Reason,
			ResetReports: cmd.ResetReports,
		}, true
	}

	outcome, triggers := e.Classify(sig)
	target, ok := outcome.Status()
	if !ok {
		return Decision{}, false
	}
	if severity(current) > severity(target) {
		target = current
	}
	return Decision{
		Status:    target,
		Outcome:   outcome,
		Automated: true,
		Reason:    fmt.Sprintf("automated %s", outcome),
		Triggers:  triggers,
	}, true
}

// Evaluate gathers automated signals for text. A failing scorer is logged and
// treated as a missing signal.
func (e *Engine) Evaluate(ctx context.Context, text string, reportCount int64) Signals {
	sig := Signals{ReportCount: reportCount}
	if e.scorer != nil {
		score, err := e.scorer.Score(ctx, text)
		if err != nil {
			observability.Logger.WarnContext(ctx, "content scorer failed; continuing without score",
				slog.String("error", err.Error()),
			)
		} else {
			sig.Score = &score
		}
	}
	if e.filter != nil {
		res := e.filter.Check(text)
		sig.Filter = &res
	}
	return sig
}
