// Package quality scores a project's artifact manifest before completion.
//
// The gate is deliberately heuristic: it inspects only artifact metadata, so
// it measures whether the expected shape of output exists (structure), tests
// were produced (coverage), and documentation is present (docs). It does not
// read artifact content.
package quality

import (
	"strings"

	"github.com/forgemesh/forgemesh/core"
	"github.com/forgemesh/forgemesh/logging"
)

// Report is the gate's verdict over one manifest.
type Report struct {
	// Score is the weighted aggregate in [0, 1].
	Score float64

	// Pass is true when Score meets the gate threshold.
	Pass bool

	// Breakdown holds the per-category scores the aggregate is built
	// from: structure, coverage, docs.
	Breakdown map[string]float64
}

// Gate evaluates an artifact manifest.
type Gate interface {
	Evaluate(manifest []core.ArtifactMeta) Report
}

// Options configures a HeuristicGate.
type Options struct {
	// Threshold is the minimum passing score. Values outside (0, 1]
	// fall back to the default.
	Threshold float64

	// Logger defaults to NoOpLogger.
	Logger logging.Logger
}

// HeuristicGate implements Gate with metadata-only checks.
type HeuristicGate struct {
	opts   Options
	logger logging.Logger
}

// weights per category; coverage counts most since missing tests is the
// failure mode templates and models share.
const (
	weightStructure = 0.4
	weightCoverage  = 0.4
	weightDocs      = 0.2

	// DefaultThreshold is the passing score used when none is configured.
	DefaultThreshold = 0.6
)

// NewHeuristicGate creates a gate with the given options.
func NewHeuristicGate(optFns ...func(o *Options)) *HeuristicGate {
	opts := Options{
		Threshold: DefaultThreshold,
		Logger:    logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Threshold <= 0 || opts.Threshold > 1 {
		opts.Threshold = DefaultThreshold
	}
	return &HeuristicGate{opts: opts, logger: opts.Logger}
}

// Threshold returns the configured passing score.
func (g *HeuristicGate) Threshold() float64 { return g.opts.Threshold }

// Evaluate implements Gate. An empty manifest always fails.
func (g *HeuristicGate) Evaluate(manifest []core.ArtifactMeta) Report {
	breakdown := map[string]float64{
		"structure": structureScore(manifest),
		"coverage":  coverageScore(manifest),
		"docs":      docsScore(manifest),
	}
	score := weightStructure*breakdown["structure"] +
		weightCoverage*breakdown["coverage"] +
		weightDocs*breakdown["docs"]

	report := Report{
		Score:     score,
		Pass:      len(manifest) > 0 && score >= g.opts.Threshold,
		Breakdown: breakdown,
	}
	g.logger.Info("quality gate evaluated",
		"score", report.Score,
		"pass", report.Pass,
		"structure", breakdown["structure"],
		"coverage", breakdown["coverage"],
		"docs", breakdown["docs"],
		"artifacts", len(manifest),
	)
	return report
}

// structureScore measures breadth: how many distinct task kinds contributed
// artifacts, against the kinds that show up in the manifest's project at
// all. A single-kind manifest scores low because scaffolds need more than
// one discipline to be usable.
func structureScore(manifest []core.ArtifactMeta) float64 {
	if len(manifest) == 0 {
		return 0
	}
	kinds := make(map[core.TaskKind]bool)
	for _, m := range manifest {
		kinds[m.Kind] = true
	}
	expected := []core.TaskKind{core.KindFrontend, core.KindBackend, core.KindDatabase, core.KindDevOps}
	present := 0
	for _, k := range expected {
		if kinds[k] {
			present++
		}
	}
	// Two disciplines is a working scaffold, all four is full marks.
	switch {
	case present >= 4:
		return 1.0
	case present == 3:
		return 0.85
	case present == 2:
		return 0.6
	case present == 1:
		return 0.3
	default:
		// Only qa or unknown kinds produced output.
		return 0.1
	}
}

// coverageScore checks that test artifacts exist alongside what they cover.
func coverageScore(manifest []core.ArtifactMeta) float64 {
	if len(manifest) == 0 {
		return 0
	}
	covered, total := 0, 0
	hasTests := false
	for _, m := range manifest {
		if m.Kind == core.KindQuality || isTestArtifact(m.Name) {
			hasTests = true
			continue
		}
		total++
		if m.Generator == "model" || m.Generator == "template" {
			covered++
		}
	}
	if total == 0 {
		// Tests with nothing to test.
		if hasTests {
			return 0.5
		}
		return 0
	}
	if !hasTests {
		return 0.2
	}
	return float64(covered) / float64(total)
}

// docsScore rewards documentation artifacts; absence is penalized but not
// fatal since scaffolds remain usable without a readme.
func docsScore(manifest []core.ArtifactMeta) float64 {
	for _, m := range manifest {
		name := strings.ToLower(m.Name)
		if strings.Contains(name, "readme") || strings.HasSuffix(name, ".md") {
			return 1.0
		}
	}
	if len(manifest) == 0 {
		return 0
	}
	return 0.25
}

func isTestArtifact(name string) bool {
	lower := strings.ToLower(name)
	return strings.Contains(lower, "test_") ||
		strings.Contains(lower, "_test") ||
		strings.Contains(lower, ".test.") ||
		strings.Contains(lower, "/tests/")
}
