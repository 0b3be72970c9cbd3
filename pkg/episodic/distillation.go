package episodic

import (
	"strings"
	"time"
)

// Confidence bounds for distillations. Usage feedback can never push a
// rule outside this interval.
const (
	MinConfidence = 0.1
	MaxConfidence = 1.0

	// RevalidateAfter is the default window before a rule should be
	// re-validated against fresh episodes.
	RevalidateAfter = 7 * 24 * time.Hour
)

// QualityStructure is the structured decomposition of a statement
// produced by the advisory grader.
type QualityStructure struct {
	Condition string `json:"condition,omitempty"`
	Action    string `json:"action,omitempty"`
	Reasoning string `json:"reasoning,omitempty"`
	Outcome   string `json:"outcome,omitempty"`
}

// AdvisoryQuality is the external grader's multi-dimensional verdict on
// a statement. This core treats it as an opaque snapshot; it computes
// ranking keys from it but never re-derives the scores.
type AdvisoryQuality struct {
	UnifiedScore  float64          `json:"unified_score"`
	Suppressed    bool             `json:"suppressed"`
	Actionability float64          `json:"actionability"`
	Reasoning     float64          `json:"reasoning"`
	Specificity   float64          `json:"specificity"`
	Structure     QualityStructure `json:"structure"`
	AdvisoryText  string           `json:"advisory_text,omitempty"`
	SoftPromoted  bool             `json:"soft_promoted,omitempty"`
}

// SubScoreSum returns actionability+reasoning+specificity, the secondary
// ranking key used by the refiner and promotion gates.
func (q AdvisoryQuality) SubScoreSum() float64 {
	return q.Actionability + q.Reasoning + q.Specificity
}

// Distillation is a persisted, reusable rule crystallized from one or
// more episodes. SourceSteps are weak references to step IDs, not
// ownership: deleting a step never cascades here.
type Distillation struct {
	DistillationID     string           `json:"distillation_id"`
	Type               DistillationType `json:"type"`
	Statement          string           `json:"statement"`
	Domains            []string         `json:"domains"`
	Triggers           []string         `json:"triggers"`
	AntiTriggers       []string         `json:"anti_triggers"`
	SourceSteps        []string         `json:"source_steps"`
	ValidationCount    int              `json:"validation_count"`
	ContradictionCount int              `json:"contradiction_count"`
	Confidence         float64          `json:"confidence"`
	TimesRetrieved     int              `json:"times_retrieved"`
	TimesUsed          int              `json:"times_used"`
	TimesHelped        int              `json:"times_helped"`
	CreatedAt          time.Time        `json:"created_at"`
	RevalidateBy       time.Time        `json:"revalidate_by"`

	// Optional refinement state.
	RefinedStatement string           `json:"refined_statement,omitempty"`
	AdvisoryQuality  *AdvisoryQuality `json:"advisory_quality,omitempty"`

	// Set only for rows living in the archive table.
	ArchiveReason string `json:"archive_reason,omitempty"`
}

// NewDistillation creates a rule with clamped confidence and the default
// revalidation deadline.
func NewDistillation(dtype DistillationType, statement string, confidence float64) *Distillation {
	now := time.Now()
	return &Distillation{
		DistillationID: NewID(string(dtype) + "|" + statement),
		Type:           dtype,
		Statement:      statement,
		Domains:        []string{},
		Triggers:       []string{},
		AntiTriggers:   []string{},
		SourceSteps:    []string{},
		Confidence:     ClampConfidence(confidence),
		CreatedAt:      now,
		RevalidateBy:   now.Add(RevalidateAfter),
	}
}

// ClampConfidence bounds a confidence value to [MinConfidence, MaxConfidence].
func ClampConfidence(c float64) float64 {
	if c < MinConfidence {
		return MinConfidence
	}
	if c > MaxConfidence {
		return MaxConfidence
	}
	return c
}

// Effectiveness is the helped/used ratio, 0.5 when the rule is unused.
func (d *Distillation) Effectiveness() float64 {
	if d.TimesUsed == 0 {
		return 0.5
	}
	return float64(d.TimesHelped) / float64(d.TimesUsed)
}

// Reliability is the validation ratio, falling back to raw confidence
// when no feedback exists yet.
func (d *Distillation) Reliability() float64 {
	total := d.ValidationCount + d.ContradictionCount
	if total == 0 {
		return d.Confidence
	}
	return float64(d.ValidationCount) / float64(total)
}

// RecordUsage applies usage feedback: +0.05 confidence when the rule
// helped, -0.10 when it did not, always staying inside the clamp.
func (d *Distillation) RecordUsage(helped bool) {
	d.TimesUsed++
	if helped {
		d.TimesHelped++
		d.Confidence = ClampConfidence(d.Confidence + 0.05)
	} else {
		d.Confidence = ClampConfidence(d.Confidence - 0.10)
	}
}

// IsDueForRevalidation reports whether the revalidation deadline passed.
func (d *Distillation) IsDueForRevalidation(now time.Time) bool {
	return !d.RevalidateBy.IsZero() && !now.Before(d.RevalidateBy)
}

// IsSuppressed reports whether the rule is currently suppressed, either
// through its quality snapshot or its archive reason.
func (d *Distillation) IsSuppressed() bool {
	if d.AdvisoryQuality != nil && d.AdvisoryQuality.Suppressed {
		return true
	}
	return strings.HasPrefix(d.ArchiveReason, "suppressed:")
}

// ActiveStatement returns the refined statement when present, otherwise
// the original.
func (d *Distillation) ActiveStatement() string {
	if d.RefinedStatement != "" {
		return d.RefinedStatement
	}
	return d.Statement
}

// ToMap serializes the distillation for persistence.
func (d *Distillation) ToMap() map[string]interface{} {
	m := map[string]interface{}{
		"distillation_id":     d.DistillationID,
		"type":                string(d.Type),
		"statement":           d.Statement,
		"domains":             append([]string{}, d.Domains...),
		"triggers":            append([]string{}, d.Triggers...),
		"anti_triggers":       append([]string{}, d.AntiTriggers...),
		"source_steps":        append([]string{}, d.SourceSteps...),
		"validation_count":    d.ValidationCount,
		"contradiction_count": d.ContradictionCount,
		"confidence":          d.Confidence,
		"times_retrieved":     d.TimesRetrieved,
		"times_used":          d.TimesUsed,
		"times_helped":        d.TimesHelped,
		"created_at":          timeToNanos(d.CreatedAt),
		"revalidate_by":       timeToNanos(d.RevalidateBy),
		"refined_statement":   d.RefinedStatement,
		"archive_reason":      d.ArchiveReason,
	}
	if d.AdvisoryQuality != nil {
		m["advisory_quality"] = map[string]interface{}{
			"unified_score": d.AdvisoryQuality.UnifiedScore,
			"suppressed":    d.AdvisoryQuality.Suppressed,
			"actionability": d.AdvisoryQuality.Actionability,
			"reasoning":     d.AdvisoryQuality.Reasoning,
			"specificity":   d.AdvisoryQuality.Specificity,
			"structure": map[string]interface{}{
				"condition": d.AdvisoryQuality.Structure.Condition,
				"action":    d.AdvisoryQuality.Structure.Action,
				"reasoning": d.AdvisoryQuality.Structure.Reasoning,
				"outcome":   d.AdvisoryQuality.Structure.Outcome,
			},
			"advisory_text": d.AdvisoryQuality.AdvisoryText,
			"soft_promoted": d.AdvisoryQuality.SoftPromoted,
		}
	}
	return m
}

// DistillationFromMap reconstructs a distillation from its map form.
func DistillationFromMap(m map[string]interface{}) *Distillation {
	d := &Distillation{
		DistillationID:     asString(m["distillation_id"]),
		Type:               ParseDistillationType(asString(m["type"])),
		Statement:          asString(m["statement"]),
		Domains:            asStringSlice(m["domains"]),
		Triggers:           asStringSlice(m["triggers"]),
		AntiTriggers:       asStringSlice(m["anti_triggers"]),
		SourceSteps:        asStringSlice(m["source_steps"]),
		ValidationCount:    asInt(m["validation_count"]),
		ContradictionCount: asInt(m["contradiction_count"]),
		Confidence:         ClampConfidence(asFloat(m["confidence"])),
		TimesRetrieved:     asInt(m["times_retrieved"]),
		TimesUsed:          asInt(m["times_used"]),
		TimesHelped:        asInt(m["times_helped"]),
		CreatedAt:          nanosToTime(asInt64(m["created_at"])),
		RevalidateBy:       nanosToTime(asInt64(m["revalidate_by"])),
		RefinedStatement:   asString(m["refined_statement"]),
		ArchiveReason:      asString(m["archive_reason"]),
	}
	if qm, ok := m["advisory_quality"].(map[string]interface{}); ok {
		d.AdvisoryQuality = AdvisoryQualityFromMap(qm)
	}
	return d
}

// AdvisoryQualityFromMap decodes a quality snapshot, tolerating missing
// keys and JSON-widened numeric types.
func AdvisoryQualityFromMap(m map[string]interface{}) *AdvisoryQuality {
	q := &AdvisoryQuality{
		UnifiedScore:  asFloat(m["unified_score"]),
		Suppressed:    asBool(m["suppressed"]),
		Actionability: asFloat(m["actionability"]),
		Reasoning:     asFloat(m["reasoning"]),
		Specificity:   asFloat(m["specificity"]),
		AdvisoryText:  asString(m["advisory_text"]),
		SoftPromoted:  asBool(m["soft_promoted"]),
	}
	if sm, ok := m["structure"].(map[string]interface{}); ok {
		q.Structure = QualityStructure{
			Condition: asString(sm["condition"]),
			Action:    asString(sm["action"]),
			Reasoning: asString(sm["reasoning"]),
			Outcome:   asString(sm["outcome"]),
		}
	}
	return q
}
