// Package curriculum scans the distillation corpus for quality gaps,
// emits prioritized gap cards, and runs the batch auto-fix loop that
// re-refines and promotes rows.
package curriculum

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/XiaoConstantine/engram-go/pkg/episodic"
	"github.com/XiaoConstantine/engram-go/pkg/logging"
	"github.com/XiaoConstantine/engram-go/pkg/refine"
	"github.com/XiaoConstantine/engram-go/pkg/store"
)

// Sub-score floors below which a card is raised.
const (
	unifiedFloor       = 0.35
	unifiedLLMFloor    = 0.25
	actionabilityFloor = 0.40
	reasoningFloor     = 0.35
	specificityFloor   = 0.35

	effectivenessMinUses = 5
	effectivenessFloor   = 0.30
)

const (
	SourceActive  = "active"
	SourceArchive = "archive"

	LoopDeterministicOnly    = "deterministic_only"
	LoopDeterministicThenLLM = "deterministic_then_llm"
)

// DistillationRow is an immutable snapshot of one stored rule, tagged
// with the table it came from.
type DistillationRow struct {
	DistillationID   string
	Type             episodic.DistillationType
	Statement        string
	RefinedStatement string
	Quality          *episodic.AdvisoryQuality
	TimesUsed        int
	TimesHelped      int
	Source           string
	ArchiveReason    string
}

func snapshotRow(d *episodic.Distillation, source string) DistillationRow {
	return DistillationRow{
		DistillationID:   d.DistillationID,
		Type:             d.Type,
		Statement:        d.Statement,
		RefinedStatement: d.RefinedStatement,
		Quality:          d.AdvisoryQuality,
		TimesUsed:        d.TimesUsed,
		TimesHelped:      d.TimesHelped,
		Source:           source,
		ArchiveReason:    d.ArchiveReason,
	}
}

// Card is one prioritized gap: a stored rule plus what is wrong with
// it and which loop should fix it.
type Card struct {
	CardID          string `json:"card_id"`
	DistillationID  string `json:"distillation_id"`
	Type            string `json:"type"`
	Source          string `json:"source"`
	Gap             string `json:"gap"`
	Severity        string `json:"severity"`
	Question        string `json:"question"`
	ClearAnswer     string `json:"clear_answer"`
	RecommendedLoop string `json:"recommended_loop"`
	Statement       string `json:"statement"`
	Why             string `json:"why"`
	ArchiveReason   string `json:"archive_reason,omitempty"`
}

// ReportStats aggregates the scan.
type ReportStats struct {
	RowsScanned    int            `json:"rows_scanned"`
	CardsGenerated int            `json:"cards_generated"`
	Gaps           map[string]int `json:"gaps"`
	Severity       map[string]int `json:"severity"`
}

// Report is the curriculum output: cards plus aggregates.
type Report struct {
	GeneratedAt time.Time   `json:"generated_at"`
	DBPath      string      `json:"db_path"`
	DBMissing   bool        `json:"db_missing,omitempty"`
	Stats       ReportStats `json:"stats"`
	Cards       []Card      `json:"cards"`
	GapSummary  string      `json:"gap_summary"`
}

// HistoryRecord is the compact line appended to the rolling history
// log after each scan.
type HistoryRecord struct {
	TS             int64  `json:"ts"`
	Date           string `json:"date"`
	RowsScanned    int    `json:"rows_scanned"`
	CardsGenerated int    `json:"cards_generated"`
	High           int    `json:"high"`
	Medium         int    `json:"medium"`
	Low            int    `json:"low"`
}

// BuildOptions bounds the scan. Summarizer is the gated narrative
// capability; nil leaves GapSummary empty.
type BuildOptions struct {
	MaxRows        int
	MaxCards       int
	IncludeArchive bool
	Summarizer     refine.RewriteCapability
}

func DefaultBuildOptions() BuildOptions {
	return BuildOptions{MaxRows: 500, MaxCards: 25, IncludeArchive: true}
}

// Builder derives curricula from a store.
type Builder struct {
	store  *store.Store
	logger *logging.Logger
}

func NewBuilder(s *store.Store, logger *logging.Logger) *Builder {
	if logger == nil {
		logger = logging.GetLogger()
	}
	return &Builder{store: s, logger: logger}
}

// BuildCurriculum scans recent rows (and optionally the archive) and
// returns the prioritized card list. Missing storage is reported, not
// raised.
func (b *Builder) BuildCurriculum(ctx context.Context, opts BuildOptions) (*Report, error) {
	report := &Report{
		GeneratedAt: time.Now(),
		DBPath:      b.store.Path(),
		Stats:       ReportStats{Gaps: map[string]int{}, Severity: map[string]int{}},
		Cards:       []Card{},
	}
	if _, err := os.Stat(b.store.Path()); b.store.Path() != ":memory:" && os.IsNotExist(err) {
		report.DBMissing = true
		return report, nil
	}

	rows, err := b.loadRows(ctx, opts)
	if err != nil {
		return nil, err
	}
	report.Stats.RowsScanned = len(rows)

	var cards []Card
	for _, row := range rows {
		cards = append(cards, deriveCards(row)...)
	}
	sortCards(cards)
	if opts.MaxCards > 0 && len(cards) > opts.MaxCards {
		cards = cards[:opts.MaxCards]
	}
	report.Cards = cards
	report.Stats.CardsGenerated = len(cards)
	for _, c := range cards {
		report.Stats.Gaps[c.Gap]++
		report.Stats.Severity[c.Severity]++
	}

	if opts.Summarizer != nil && len(cards) > 0 {
		report.GapSummary = b.summarize(ctx, opts.Summarizer, report)
	}

	b.logger.Info(ctx, "curriculum scan: %d rows, %d cards", report.Stats.RowsScanned, report.Stats.CardsGenerated)
	return report, nil
}

func (b *Builder) loadRows(ctx context.Context, opts BuildOptions) ([]DistillationRow, error) {
	active, err := b.store.GetRecentDistillations(ctx, opts.MaxRows)
	if err != nil {
		return nil, err
	}
	rows := make([]DistillationRow, 0, len(active))
	for _, d := range active {
		rows = append(rows, snapshotRow(d, SourceActive))
	}

	if opts.IncludeArchive {
		archived, err := b.store.GetArchivedDistillations(ctx, opts.MaxRows/2)
		if err != nil {
			return nil, err
		}
		for _, d := range archived {
			rows = append(rows, snapshotRow(d, SourceArchive))
		}
	}
	return rows, nil
}

// deriveCards inspects one row and raises every applicable gap.
func deriveCards(row DistillationRow) []Card {
	var cards []Card
	add := func(gap, severity, loop, question, answer, why string) {
		cards = append(cards, Card{
			CardID:          uuid.NewString(),
			DistillationID:  row.DistillationID,
			Type:            string(row.Type),
			Source:          row.Source,
			Gap:             gap,
			Severity:        severity,
			Question:        question,
			ClearAnswer:     answer,
			RecommendedLoop: loop,
			Statement:       row.activeStatement(),
			Why:             why,
			ArchiveReason:   row.ArchiveReason,
		})
	}

	suppressed := strings.HasPrefix(row.ArchiveReason, "suppressed:")
	if row.Quality != nil && row.Quality.Suppressed {
		suppressed = true
	}
	if suppressed {
		add("suppressed_statement", "high", LoopDeterministicThenLLM,
			"Why is this statement suppressed?",
			"Rewrite it into one imperative sentence with a concrete reason.",
			"Suppressed statements are invisible to retrieval until rescued.")
	}

	unified, hasScore := row.unifiedScore()
	reasonScore, hasReasonScore := archiveFloorScore(row.ArchiveReason)
	lowUnified := hasScore && unified < unifiedFloor
	if strings.HasPrefix(row.ArchiveReason, "unified_score_below_floor:") {
		lowUnified = true
	}
	if lowUnified {
		score, scoreKnown := unified, hasScore
		if !scoreKnown && hasReasonScore {
			score, scoreKnown = reasonScore, true
		}
		loop := LoopDeterministicOnly
		if scoreKnown && score < unifiedLLMFloor {
			loop = LoopDeterministicThenLLM
		}
		why := fmt.Sprintf("Unified score %.2f is below the %.2f floor.", unified, unifiedFloor)
		if !hasScore || unified >= unifiedFloor {
			if hasReasonScore {
				why = fmt.Sprintf("Archived at unified score %.2f, below the %.2f floor.", reasonScore, unifiedFloor)
			} else {
				why = fmt.Sprintf("Archived below the %.2f floor; no graded score on record.", unifiedFloor)
			}
		}
		add("low_unified_score", "high", loop,
			"What keeps the unified score low?",
			"Raise actionability, reasoning and specificity together.",
			why)
	}

	if row.Quality != nil {
		if row.Quality.Actionability < actionabilityFloor {
			add("low_actionability", "medium", LoopDeterministicOnly,
				"What should the reader actually do?",
				"Open with an imperative verb and a concrete object.",
				fmt.Sprintf("Actionability %.2f is below %.2f.", row.Quality.Actionability, actionabilityFloor))
		}
		if row.Quality.Reasoning < reasoningFloor {
			add("low_reasoning", "medium", LoopDeterministicOnly,
				"Why does this rule hold?",
				"Attach the observed failure or measurement as a because-clause.",
				fmt.Sprintf("Reasoning %.2f is below %.2f.", row.Quality.Reasoning, reasoningFloor))
		}
		if row.Quality.Specificity < specificityFloor {
			add("low_specificity", "medium", LoopDeterministicOnly,
				"Where and when does this rule apply?",
				"Name the file, domain or metric instead of generalities.",
				fmt.Sprintf("Specificity %.2f is below %.2f.", row.Quality.Specificity, specificityFloor))
		}
	}

	if row.TimesUsed >= effectivenessMinUses {
		rate := float64(row.TimesHelped) / float64(row.TimesUsed)
		if rate < effectivenessFloor {
			add("low_effectiveness", "high", LoopDeterministicThenLLM,
				"Why does this rule keep failing its users?",
				"Narrow the trigger conditions or retire the rule.",
				fmt.Sprintf("Helped %d of %d uses (%.0f%%).", row.TimesHelped, row.TimesUsed, rate*100))
		}
	}
	return cards
}

func (row DistillationRow) activeStatement() string {
	if row.RefinedStatement != "" {
		return row.RefinedStatement
	}
	return row.Statement
}

// archiveFloorScore extracts the score recorded in a
// "unified_score_below_floor:<value>" archive reason.
func archiveFloorScore(reason string) (float64, bool) {
	rest, ok := strings.CutPrefix(reason, "unified_score_below_floor:")
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(rest), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func (row DistillationRow) unifiedScore() (float64, bool) {
	if row.Quality == nil {
		return 0, false
	}
	return row.Quality.UnifiedScore, true
}

var severityWeight = map[string]int{"high": 3, "medium": 2, "low": 1}

func sortCards(cards []Card) {
	sort.SliceStable(cards, func(i, j int) bool {
		wi, wj := severityWeight[cards[i].Severity], severityWeight[cards[j].Severity]
		if wi != wj {
			return wi > wj
		}
		li := cards[i].RecommendedLoop == LoopDeterministicThenLLM
		lj := cards[j].RecommendedLoop == LoopDeterministicThenLLM
		return li && !lj
	})
}

func (b *Builder) summarize(ctx context.Context, summarizer refine.RewriteCapability, report *Report) string {
	var lines []string
	for gap, n := range report.Stats.Gaps {
		lines = append(lines, fmt.Sprintf("%s: %d", gap, n))
	}
	sort.Strings(lines)
	prompt := fmt.Sprintf(
		"Summarize these distillation quality gaps in two sentences for a maintainer:\n%s",
		strings.Join(lines, "\n"))
	res := summarizer.Call(ctx, "curriculum.gap_summary", prompt, "")
	return strings.TrimSpace(res.Text)
}

// Markdown renders the report for humans.
func (r *Report) Markdown() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Curriculum %s\n\n", r.GeneratedAt.Format("2006-01-02 15:04"))
	fmt.Fprintf(&b, "Scanned %d rows, raised %d cards.\n\n", r.Stats.RowsScanned, r.Stats.CardsGenerated)
	if r.GapSummary != "" {
		fmt.Fprintf(&b, "%s\n\n", r.GapSummary)
	}
	for i, c := range r.Cards {
		fmt.Fprintf(&b, "## %d. [%s] %s (%s)\n\n", i+1, c.Severity, c.Gap, c.Source)
		fmt.Fprintf(&b, "- Rule `%s` (%s): %s\n", c.DistillationID, c.Type, c.Statement)
		fmt.Fprintf(&b, "- Why: %s\n", c.Why)
		fmt.Fprintf(&b, "- Fix: %s\n", c.ClearAnswer)
		fmt.Fprintf(&b, "- Loop: %s\n\n", c.RecommendedLoop)
	}
	return b.String()
}

// History converts the report into its rolling-log record.
func (r *Report) History() HistoryRecord {
	return HistoryRecord{
		TS:             r.GeneratedAt.Unix(),
		Date:           r.GeneratedAt.Format("2006-01-02"),
		RowsScanned:    r.Stats.RowsScanned,
		CardsGenerated: r.Stats.CardsGenerated,
		High:           r.Stats.Severity["high"],
		Medium:         r.Stats.Severity["medium"],
		Low:            r.Stats.Severity["low"],
	}
}
