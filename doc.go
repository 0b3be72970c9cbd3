// Package engram is an episodic memory core for AI agents: it records
// what an agent did, distills the record into reusable rules, and keeps
// those rules sharp over time.
//
// The module is organized around a small set of packages:
//
//   - episodic: The data model. Episodes capture one bounded attempt at
//     a goal, Steps capture the intent/decision/result cycle inside it,
//     Distillations are the typed rules extracted afterwards, and
//     Policies are standing directives that gate agent behavior.
//
//   - store: SQLite persistence for all of the above, including the
//     distillation archive and corpus statistics.
//
//   - distill: The reflection and distillation engine. It reads a
//     finished episode, produces a structured reflection keyed on the
//     outcome, and emits HEURISTIC, ANTI_PATTERN, SHARP_EDGE and
//     PLAYBOOK candidates with confidence scores.
//
//   - refine: Quality grading and text refinement. A deterministic
//     elevation pipeline rewrites weak advisory text (hedge stripping,
//     passive-to-active, reasoning suffixes), with an optional LLM
//     rewrite behind a capability interface. Candidates only replace
//     the current text when they rank strictly higher.
//
//   - curriculum: Scans the corpus for quality gaps, emits prioritized
//     gap cards, and runs the transactional auto-fix batch that
//     re-refines weak rules and promotes rescued archive rows.
//
//   - config, export: YAML configuration with validation, and Parquet
//     export of the distillation corpus.
//
// A typical flow: an agent records Steps into an Episode via store,
// distill.Engine reflects on the finished episode and generates
// candidates, refine.Refiner polishes their advisory text, and the
// curriculum commands keep the stored corpus healthy.
//
// The engram-cli command under cmd/engram-cli exposes stats, curriculum,
// autofix and export over any engram database.
package engram
