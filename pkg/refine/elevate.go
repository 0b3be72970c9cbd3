// Package refine improves distillation statements: a deterministic
// transform pipeline ("elevation") plus a ranking-driven refiner that
// may consult gated external rewrite capabilities.
package refine

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Context carries the situational facts a transform may fold into the
// statement. Zero values mean "not available".
type Context struct {
	File      string
	Domain    string
	Error     string
	Metric    string
	Outcome   string
	Timestamp time.Time
}

// A transform either returns an improved text with true, or the input
// untouched with false.
type transform func(text string, ctx Context) (string, bool)

// elevationPipeline is ordered; each transform sees the previous
// transform's output.
var elevationPipeline = []transform{
	stripHedges,
	passiveToActive,
	errorToPrevention,
	observationToAction,
	splitCompound,
	prefixCondition,
	prefixTemporal,
	suffixReasoning,
	insertImplicitReasoning,
	quantifyVagueOutcome,
	appendOutcomeEvidence,
	collapseRedundantSentences,
}

// Elevate runs the full pipeline. The original text comes back
// unchanged when no transform applies.
func Elevate(text string, ctx Context) string {
	current := text
	for _, t := range elevationPipeline {
		if next, ok := t(current, ctx); ok {
			current = next
		}
	}
	return current
}

var titleCaser = cases.Title(language.English)

func capitalizeFirst(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return s
	}
	fields[0] = titleCaser.String(strings.ToLower(fields[0]))
	return strings.Join(fields, " ")
}

var hedgePrefixes = []string{
	"i think ", "i believe ", "maybe ", "perhaps ", "possibly ",
	"consider ", "you could ", "you might ", "it might help to ",
	"it might be good to ", "we should probably ", "probably ",
}

var gerundToImperative = map[string]string{
	"using": "use", "adding": "add", "removing": "remove",
	"checking": "check", "running": "run", "setting": "set",
	"making": "make", "testing": "test", "validating": "validate",
	"avoiding": "avoid", "enabling": "enable", "disabling": "disable",
	"caching": "cache", "logging": "log", "trying": "try",
	"keeping": "keep", "splitting": "split",
}

// stripHedges drops leading qualifiers and turns a leftover gerund
// into an imperative: "Maybe consider using Redis" becomes "Use Redis".
func stripHedges(text string, _ Context) (string, bool) {
	current := text
	stripped := false
	for {
		lower := strings.ToLower(current)
		matched := false
		for _, prefix := range hedgePrefixes {
			if strings.HasPrefix(lower, prefix) {
				current = current[len(prefix):]
				stripped = true
				matched = true
				break
			}
		}
		if !matched {
			break
		}
	}
	if !stripped {
		return text, false
	}

	fields := strings.Fields(current)
	if len(fields) > 0 {
		first := strings.ToLower(fields[0])
		if imp, ok := gerundToImperative[first]; ok {
			fields[0] = imp
		} else if strings.HasSuffix(first, "ing") && len(first) > 4 {
			fields[0] = first[:len(first)-3]
		}
		current = strings.Join(fields, " ")
	}
	return capitalizeFirst(current), true
}

var (
	passiveRe    = regexp.MustCompile(`(?i)^(.+?) should be (\w+ed)\b\s*(.*)$`)
	negPassiveRe = regexp.MustCompile(`(?i)^(.+?) should not be (\w+ed)\b\s*(.*)$`)
)

// participleBase recovers an imperative from a past participle:
// closed -> close, checked -> check, logged -> log.
func participleBase(p string) string {
	p = strings.ToLower(p)
	if !strings.HasSuffix(p, "ed") {
		return p
	}
	trimmed := p[:len(p)-1]
	if strings.HasSuffix(trimmed, "e") {
		return trimmed
	}
	trimmed = p[:len(p)-2]
	if len(trimmed) >= 2 && trimmed[len(trimmed)-1] == trimmed[len(trimmed)-2] {
		trimmed = trimmed[:len(trimmed)-1]
	}
	return trimmed
}

func passiveToActive(text string, _ Context) (string, bool) {
	if m := negPassiveRe.FindStringSubmatch(text); m != nil {
		out := fmt.Sprintf("Never %s %s", participleBase(m[2]), strings.ToLower(strings.TrimSpace(m[1])))
		if rest := strings.TrimSpace(m[3]); rest != "" {
			out += " " + rest
		}
		return out, true
	}
	if m := passiveRe.FindStringSubmatch(text); m != nil {
		out := capitalizeFirst(fmt.Sprintf("%s %s", participleBase(m[2]), strings.ToLower(strings.TrimSpace(m[1]))))
		if rest := strings.TrimSpace(m[3]); rest != "" {
			out += " " + rest
		}
		return out, true
	}
	return text, false
}

var errorLeadRe = regexp.MustCompile(`(?i)^(error|failure|bug):\s*(.+)$`)

// errorToPrevention reframes an error report as a guard to install.
func errorToPrevention(text string, _ Context) (string, bool) {
	m := errorLeadRe.FindStringSubmatch(text)
	if m == nil {
		return text, false
	}
	return "Prevent: " + strings.TrimSpace(m[2]), true
}

var observationLeads = []string{
	"it was found that ", "it turns out that ", "it turns out ",
	"we found that ", "we observed that ", "we noticed that ",
	"i noticed that ", "observation: ", "it appears that ",
}

// observationToAction strips narrative lead-ins so the finding stands
// as a direct statement.
func observationToAction(text string, _ Context) (string, bool) {
	lower := strings.ToLower(text)
	for _, lead := range observationLeads {
		if strings.HasPrefix(lower, lead) {
			return capitalizeFirst(text[len(lead):]), true
		}
	}
	return text, false
}

var actionVerbs = map[string]bool{
	"use": true, "check": true, "validate": true, "avoid": true,
	"add": true, "remove": true, "set": true, "run": true, "close": true,
	"prefer": true, "never": true, "always": true, "stop": true,
	"batch": true, "cache": true, "verify": true, "escalate": true,
	"split": true, "keep": true, "test": true, "guard": true,
	"prevent": true, "retry": true, "log": true, "measure": true,
}

func countActionVerbs(clause string) int {
	n := 0
	for _, w := range strings.Fields(strings.ToLower(clause)) {
		if actionVerbs[strings.Trim(w, ".,;:")] {
			n++
		}
	}
	return n
}

// splitCompound keeps the strongest clause of a semicolon-joined
// statement, carrying any trailing "because" clause along.
func splitCompound(text string, _ Context) (string, bool) {
	head := text
	becauseTail := ""
	if idx := strings.LastIndex(strings.ToLower(text), " because "); idx >= 0 {
		head = text[:idx]
		becauseTail = text[idx:]
	}

	clauses := strings.Split(head, "; ")
	if len(clauses) < 2 {
		return text, false
	}

	best := clauses[0]
	bestScore := countActionVerbs(best)
	for _, c := range clauses[1:] {
		if score := countActionVerbs(c); score > bestScore {
			best = c
			bestScore = score
		}
	}
	return capitalizeFirst(strings.TrimSpace(best)) + becauseTail, true
}

// prefixCondition scopes the statement to the file or domain it came
// from.
func prefixCondition(text string, ctx Context) (string, bool) {
	subject := ctx.File
	if subject == "" {
		subject = ctx.Domain
	}
	if subject == "" || strings.HasPrefix(text, "When ") {
		return text, false
	}
	return fmt.Sprintf("When %s: %s", subject, text), true
}

func prefixTemporal(text string, ctx Context) (string, bool) {
	if ctx.Timestamp.IsZero() || strings.HasPrefix(text, "Since ") {
		return text, false
	}
	return fmt.Sprintf("Since %s %d: %s", ctx.Timestamp.Month(), ctx.Timestamp.Year(), text), true
}

// suffixReasoning appends the observed error as the "because" clause.
// A tautology guard skips the suffix when the statement and the error
// already share most of their opening words.
func suffixReasoning(text string, ctx Context) (string, bool) {
	if ctx.Error == "" || strings.Contains(strings.ToLower(text), "because") {
		return text, false
	}
	if wordOverlap(firstN(text, 5), firstN(ctx.Error, 5)) >= 3 {
		return text, false
	}
	return strings.TrimRight(text, ".") + " because " + ctx.Error, true
}

func firstN(s string, n int) []string {
	fields := strings.Fields(strings.ToLower(s))
	if len(fields) > n {
		fields = fields[:n]
	}
	return fields
}

func wordOverlap(a, b []string) int {
	set := map[string]bool{}
	for _, w := range a {
		set[w] = true
	}
	n := 0
	for _, w := range b {
		if set[w] {
			n++
		}
	}
	return n
}

var purposeVerbs = map[string]bool{
	"reduce": true, "avoid": true, "prevent": true, "improve": true,
	"keep": true, "ensure": true, "speed": true, "save": true,
	"catch": true, "cut": true, "limit": true, "protect": true,
}

var purposeRe = regexp.MustCompile(`^(.+?) to ([a-z]+)( .*)?$`)

// insertImplicitReasoning converts a purpose infinitive into an
// explicit reason: "VERB X to Y" becomes "VERB X because Y". Context
// clauses like "for <noun>" are left alone.
func insertImplicitReasoning(text string, _ Context) (string, bool) {
	if strings.Contains(strings.ToLower(text), "because") {
		return text, false
	}
	m := purposeRe.FindStringSubmatch(text)
	if m == nil || !purposeVerbs[m[2]] {
		return text, false
	}
	tail := m[2] + m[3]
	return strings.TrimSpace(m[1]) + " because it helps " + tail, true
}

var vaguePhrases = []string{
	"much faster", "a lot faster", "significantly faster", "way faster",
	"much better", "way better", "much slower", "a lot slower",
}

// quantifyVagueOutcome swaps hand-wavy speed claims for the concrete
// metric the context carries.
func quantifyVagueOutcome(text string, ctx Context) (string, bool) {
	if ctx.Metric == "" {
		return text, false
	}
	lower := strings.ToLower(text)
	for _, phrase := range vaguePhrases {
		if idx := strings.Index(lower, phrase); idx >= 0 {
			return text[:idx] + ctx.Metric + text[idx+len(phrase):], true
		}
	}
	return text, false
}

func appendOutcomeEvidence(text string, ctx Context) (string, bool) {
	if ctx.Outcome == "" || strings.Contains(text, ctx.Outcome) {
		return text, false
	}
	return text + " (outcome: " + ctx.Outcome + ")", true
}

// collapseRedundantSentences keeps the most actionable sentence, but
// only when doing so is a material reduction.
func collapseRedundantSentences(text string, _ Context) (string, bool) {
	sentences := strings.Split(text, ". ")
	if len(sentences) < 2 {
		return text, false
	}

	best := sentences[0]
	bestScore := countActionVerbs(best)
	for _, s := range sentences[1:] {
		if score := countActionVerbs(s); score > bestScore {
			best = s
			bestScore = score
		}
	}
	best = strings.TrimRight(strings.TrimSpace(best), ".")
	if len(best) >= len(text)*6/10 {
		return text, false
	}
	return best, true
}
