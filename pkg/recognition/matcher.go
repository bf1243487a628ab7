package recognition

import (
	"fmt"
	"image"

	"github.com/MrCodeEU/faceignition/pkg/logging"
)

// Sink receives human-readable audit lines.
type Sink interface {
	Appendf(format string, args ...interface{})
}

// MatchResult is the outcome of comparing one capture against the profiles.
type MatchResult struct {
	Matched    bool
	Distance   float64
	Confidence float64
	Profile    *ReferenceProfile
}

// Matcher compares captured faces against the enrolled owner profiles.
// A profile matches only when the distance is below tolerance and the
// derived confidence is above minConfidence. The first qualifying profile
// in load order wins.
type Matcher struct {
	embedder      Embedder
	profiles      []ReferenceProfile
	tolerance     float64
	minConfidence float64
	sink          Sink
}

// NewMatcher creates a Matcher. sink may be nil.
func NewMatcher(embedder Embedder, profiles []ReferenceProfile, tolerance, minConfidence float64, sink Sink) *Matcher {
	return &Matcher{
		embedder:      embedder,
		profiles:      profiles,
		tolerance:     tolerance,
		minConfidence: minConfidence,
		sink:          sink,
	}
}

// Match embeds img and compares it against every profile.
func (m *Matcher) Match(img image.Image) (MatchResult, error) {
	d, err := m.embedder.Embed(img)
	if err != nil {
		return MatchResult{}, fmt.Errorf("embed capture: %w", err)
	}
	return m.Compare(d), nil
}

// Compare checks a descriptor against the profiles in load order. The
// returned distance is that of the matching profile, or the closest one
// when nothing matched.
func (m *Matcher) Compare(d Descriptor) MatchResult {
	log := logging.Component("matcher")
	best := MatchResult{Distance: -1}

	for i := range m.profiles {
		p := &m.profiles[i]
		distance := EuclideanDistance(d, p.Descriptor)
		confidence := Confidence(distance)

		log.WithFields(logging.Fields{
			"profile":    p.Source,
			"distance":   distance,
			"confidence": confidence,
		}).Debug("Compared against reference")
		m.audit("Comparing with %s: distance=%.4f, confidence=%.2f%%", p.Source, distance, confidence)

		if distance < m.tolerance && confidence > m.minConfidence {
			m.audit("Match found with %s", p.Source)
			return MatchResult{Matched: true, Distance: distance, Confidence: confidence, Profile: p}
		}
		if best.Distance < 0 || distance < best.Distance {
			best = MatchResult{Distance: distance, Confidence: confidence}
		}
	}

	m.audit("No matching reference profile")
	return best
}

func (m *Matcher) audit(format string, args ...interface{}) {
	if m.sink != nil {
		m.sink.Appendf(format, args...)
	}
}
