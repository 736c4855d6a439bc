package persona

import (
	"context"
	"fmt"

	"deepresearch/internal/domain"
)

// basePersona supplies Name/Focus/Weight for the seven built-in personas;
// each overrides Expand.
type basePersona struct {
	name   string
	focus  string
	weight float64
}

func (b basePersona) Name() string    { return b.name }
func (b basePersona) Focus() string   { return b.focus }
func (b basePersona) Weight() float64 { return b.weight }

// ExpertSkeptic reframes the query to demand rigorous, caveat-aware
// sourcing.
type ExpertSkeptic struct{ basePersona }

// NewExpertSkeptic constructs the ExpertSkeptic persona.
func NewExpertSkeptic() ExpertSkeptic {
	return ExpertSkeptic{basePersona{"expert_skeptic", "Demands rigorous, well-sourced, caveat-aware evidence", 1.0}}
}

func (p ExpertSkeptic) Expand(_ context.Context, q string, _ RunContext) (domain.SerpQuery, error) {
	return domain.SerpQuery{Q: fmt.Sprintf("%s critical analysis peer-reviewed evidence", q)}, nil
}

// DetailAnalyst drills into specifics, numbers, and mechanisms.
type DetailAnalyst struct{ basePersona }

// NewDetailAnalyst constructs the DetailAnalyst persona.
func NewDetailAnalyst() DetailAnalyst {
	return DetailAnalyst{basePersona{"detail_analyst", "Seeks granular specifics, numbers, and mechanisms", 1.0}}
}

func (p DetailAnalyst) Expand(_ context.Context, q string, _ RunContext) (domain.SerpQuery, error) {
	return domain.SerpQuery{Q: fmt.Sprintf("%s detailed technical specifications data", q)}, nil
}

// HistoricalResearcher frames the query for background and precedent.
type HistoricalResearcher struct{ basePersona }

// NewHistoricalResearcher constructs the HistoricalResearcher persona.
func NewHistoricalResearcher() HistoricalResearcher {
	return HistoricalResearcher{basePersona{"historical_researcher", "Frames the query for background, origin, and precedent", 1.0}}
}

func (p HistoricalResearcher) Expand(_ context.Context, q string, _ RunContext) (domain.SerpQuery, error) {
	return domain.SerpQuery{Q: fmt.Sprintf("%s history background origin", q)}, nil
}

// ComparativeThinker reframes the query to surface alternatives and
// trade-offs.
type ComparativeThinker struct{ basePersona }

// NewComparativeThinker constructs the ComparativeThinker persona.
func NewComparativeThinker() ComparativeThinker {
	return ComparativeThinker{basePersona{"comparative_thinker", "Surfaces alternatives, trade-offs, and comparisons", 1.0}}
}

func (p ComparativeThinker) Expand(_ context.Context, q string, _ RunContext) (domain.SerpQuery, error) {
	return domain.SerpQuery{Q: fmt.Sprintf("%s vs alternatives comparison", q)}, nil
}

// TemporalContext attaches a recency filter and carries a slightly
// above-neutral weight. Depends on an injectable Clock so tests stay
// deterministic.
type TemporalContext struct{ basePersona }

// NewTemporalContext constructs the TemporalContext persona.
func NewTemporalContext() TemporalContext {
	return TemporalContext{basePersona{"temporal_context", "Attaches a recency filter to surface the latest information", 1.2}}
}

func (p TemporalContext) Expand(_ context.Context, q string, rc RunContext) (domain.SerpQuery, error) {
	clock := rc.Clock
	if clock == nil {
		return domain.SerpQuery{}, fmt.Errorf("temporal_context: RunContext.Clock is required")
	}
	now := clock()
	return domain.SerpQuery{
		Q:   fmt.Sprintf("%s latest %d", q, now.Year()),
		TBS: "qdr:m",
	}, nil
}

// topicRegions maps a coarse topic keyword to a region hint, used by
// Globalizer to localize the query.
var topicRegions = map[string]string{
	"election":  "us",
	"football":  "gb",
	"anime":     "jp",
	"cuisine":   "fr",
}

// Globalizer may translate the query and set a region based on topic
// category. Uses the injectable Translator; identity in tests.
type Globalizer struct{ basePersona }

// NewGlobalizer constructs the Globalizer persona.
func NewGlobalizer() Globalizer {
	return Globalizer{basePersona{"globalizer", "Localizes the query to a region implied by its topic", 1.0}}
}

func (p Globalizer) Expand(ctx context.Context, q string, rc RunContext) (domain.SerpQuery, error) {
	translator := rc.Translator
	if translator == nil {
		translator = IdentityTranslator
	}

	region := ""
	for topic, r := range topicRegions {
		if containsWord(q, topic) {
			region = r
			break
		}
	}

	translated, err := translator(ctx, q, region)
	if err != nil {
		return domain.SerpQuery{}, fmt.Errorf("globalizer: translate: %w", err)
	}

	return domain.SerpQuery{Q: translated, Location: region}, nil
}

// RealitySkepticalist challenges the premise of the query itself, probing
// for misinformation or unverified claims.
type RealitySkepticalist struct{ basePersona }

// NewRealitySkepticalist constructs the RealitySkepticalist persona.
func NewRealitySkepticalist() RealitySkepticalist {
	return RealitySkepticalist{basePersona{"reality_skepticalist", "Challenges the premise, probing for misinformation", 1.0}}
}

func (p RealitySkepticalist) Expand(_ context.Context, q string, _ RunContext) (domain.SerpQuery, error) {
	return domain.SerpQuery{Q: fmt.Sprintf("%s fact check debunked myth", q)}, nil
}

func containsWord(s, word string) bool {
	return len(s) >= len(word) && indexFold(s, word) >= 0
}

func indexFold(s, substr string) int {
	sl := toLower(s)
	subl := toLower(substr)
	for i := 0; i+len(subl) <= len(sl); i++ {
		if sl[i:i+len(subl)] == subl {
			return i
		}
	}
	return -1
}

func toLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// RegisterBuiltins registers all seven built-in personas into r.
func RegisterBuiltins(r *Registry) error {
	builtins := []Persona{
		NewExpertSkeptic(),
		NewDetailAnalyst(),
		NewHistoricalResearcher(),
		NewComparativeThinker(),
		NewTemporalContext(),
		NewGlobalizer(),
		NewRealitySkepticalist(),
	}
	for _, p := range builtins {
		if err := r.Register(p); err != nil {
			return err
		}
	}
	return nil
}
