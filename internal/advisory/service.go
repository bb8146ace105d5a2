package advisory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mbd888/krishiconnect/internal/circuitbreaker"
	"github.com/mbd888/krishiconnect/internal/idgen"
	"github.com/mbd888/krishiconnect/internal/money"
	"github.com/shopspring/decimal"
)

const (
	upstreamText  = "advisory.text"
	upstreamImage = "advisory.image"

	// DefaultTimeout bounds a single model call.
	DefaultTimeout = 20 * time.Second
)

// Service wraps a Generator and an ImageAnalyzer with a timeout, a circuit
// breaker and placeholder fallbacks. A nil Generator or ImageAnalyzer means
// the feature is unconfigured and every call returns its placeholder.
type Service struct {
	gen     Generator
	images  ImageAnalyzer
	store   Store
	breaker *circuitbreaker.Breaker
	timeout time.Duration
	logger  *slog.Logger
}

// NewService creates an advisory service.
func NewService(gen Generator, images ImageAnalyzer, store Store) *Service {
	return &Service{
		gen:     gen,
		images:  images,
		store:   store,
		breaker: circuitbreaker.New(5, time.Minute),
		timeout: DefaultTimeout,
		logger:  slog.Default(),
	}
}

// WithLogger sets the service logger.
func (s *Service) WithLogger(l *slog.Logger) *Service {
	s.logger = l
	return s
}

// WithTimeout sets the per-call model timeout.
func (s *Service) WithTimeout(d time.Duration) *Service {
	if d > 0 {
		s.timeout = d
	}
	return s
}

// WithBreaker replaces the circuit breaker.
func (s *Service) WithBreaker(b *circuitbreaker.Breaker) *Service {
	s.breaker = b
	return s
}

// ErrUnconfigured is returned by Generate when no model is configured.
var ErrUnconfigured = errors.New("advisory: no model configured")

// Generate answers a free-form prompt through the timeout and breaker, so
// other packages can use the model without their own resilience layer.
func (s *Service) Generate(ctx context.Context, prompt string) (string, error) {
	if s.gen == nil {
		fallbacks.WithLabelValues("freeform", "unconfigured").Inc()
		return "", ErrUnconfigured
	}
	return s.generate(ctx, "freeform", prompt)
}

// StripFences removes a Markdown code fence around a model's JSON answer.
func StripFences(s string) string {
	return stripFences(s)
}

func (s *Service) generate(ctx context.Context, kind, prompt string) (string, error) {
	var out string
	err := s.breaker.Execute(upstreamText, func() error {
		cctx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		var err error
		out, err = s.gen.Generate(cctx, prompt)
		if err == nil && strings.TrimSpace(out) == "" {
			err = errors.New("empty model response")
		}
		return err
	})
	if err != nil {
		fallbacks.WithLabelValues(kind, "error").Inc()
		s.logger.Warn("advisory generation failed", "kind", kind, "error", err)
		return "", err
	}
	calls.WithLabelValues(kind).Inc()
	return strings.TrimSpace(out), nil
}

// AnnotateImage describes a progress photo. Never fails.
func (s *Service) AnnotateImage(ctx context.Context, imageURL string) string {
	if imageURL == "" {
		return ""
	}
	if s.images == nil {
		fallbacks.WithLabelValues("image", "unconfigured").Inc()
		return ImageUnavailable
	}
	var out string
	err := s.breaker.Execute(upstreamImage, func() error {
		cctx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		var err error
		out, err = s.images.AnalyzeImage(cctx, imageURL)
		return err
	})
	if err != nil || strings.TrimSpace(out) == "" {
		fallbacks.WithLabelValues("image", "error").Inc()
		s.logger.Warn("image analysis failed", "imageUrl", imageURL, "error", err)
		return ImageFailed
	}
	calls.WithLabelValues("image").Inc()
	return strings.TrimSpace(out)
}

// SummarizeContract writes a plain-language contract summary. Never fails.
func (s *Service) SummarizeContract(ctx context.Context, b ContractBrief) string {
	if s.gen == nil {
		fallbacks.WithLabelValues("summary", "unconfigured").Inc()
		return SummaryUnavailable
	}
	out, err := s.generate(ctx, "summary", summaryPrompt(b))
	if err != nil {
		return SummaryFailed
	}
	return out
}

// ComplianceAdvice generates and stores advice for a contract. The only
// error returned is a storage failure; model failures become placeholder advice.
func (s *Service) ComplianceAdvice(ctx context.Context, snap Snapshot) (*Advice, error) {
	advice := &Advice{
		ID:          idgen.WithPrefix(idgen.Advice),
		ContractID:  snap.ContractID,
		GeneratedAt: time.Now().UTC(),
	}

	switch {
	case s.gen == nil:
		fallbacks.WithLabelValues("compliance", "unconfigured").Inc()
		advice.Text, advice.Fallback = ComplianceUnavailable, true
	default:
		out, err := s.generate(ctx, "compliance", compliancePrompt(snap))
		if err != nil {
			advice.Text, advice.Fallback = ComplianceFailed, true
		} else {
			advice.Text = out
		}
	}

	if s.store != nil {
		if err := s.store.CreateAdvice(ctx, advice); err != nil {
			return nil, fmt.Errorf("failed to store advice: %w", err)
		}
	}
	return advice, nil
}

// ListAdvice returns stored advice for a contract, newest first.
func (s *Service) ListAdvice(ctx context.Context, contractID string, limit int) ([]*Advice, error) {
	if s.store == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}
	return s.store.ListAdvice(ctx, contractID, limit)
}

// RecommendTemplate picks a contract template for a new listing. Never fails.
func (s *Service) RecommendTemplate(ctx context.Context, l ListingBrief) TemplateRecommendation {
	if s.gen == nil {
		fallbacks.WithLabelValues("template", "unconfigured").Inc()
		return TemplateRecommendation{
			TemplateName: DefaultTemplate,
			Reason:       "AI engine not available. Defaulting to the simplest template.",
		}
	}

	total := "unknown"
	if q, err := money.ParseQuantity(l.Quantity); err == nil {
		if p, err := money.Parse(l.ExpectedPricePerUnit); err == nil {
			total = money.Format(money.Total(q, p))
		}
	}

	fallback := TemplateRecommendation{
		TemplateName: DefaultTemplate,
		Reason:       "Could not get an intelligent recommendation. Defaulting to a basic template is a safe option.",
	}
	out, err := s.generate(ctx, "template", templatePrompt(l, total))
	if err != nil {
		return fallback
	}
	var rec TemplateRecommendation
	if err := json.Unmarshal([]byte(stripFences(out)), &rec); err != nil || rec.TemplateName == "" {
		fallbacks.WithLabelValues("template", "parse").Inc()
		return fallback
	}
	return rec
}

// AnalyzeProposals recommends the best pending proposal. Without a usable
// model answer it picks the highest total value, earliest listed on ties.
func (s *Service) AnalyzeProposals(ctx context.Context, l ListingBrief, proposals []ProposalBrief) *ProposalAnalysis {
	if len(proposals) == 0 {
		return nil
	}

	if s.gen != nil {
		out, err := s.generate(ctx, "proposals", proposalsPrompt(l, proposals))
		if err == nil {
			var resp struct {
				BestProposalID json.RawMessage `json:"best_proposal_id"`
				Reason         string          `json:"reason"`
			}
			if json.Unmarshal([]byte(stripFences(out)), &resp) == nil {
				id := strings.Trim(string(resp.BestProposalID), `"`)
				for _, p := range proposals {
					if p.ContractID == id {
						return &ProposalAnalysis{BestProposalID: id, Reason: resp.Reason}
					}
				}
			}
			fallbacks.WithLabelValues("proposals", "parse").Inc()
		}
	} else {
		fallbacks.WithLabelValues("proposals", "unconfigured").Inc()
	}

	return highestValue(proposals)
}

func highestValue(proposals []ProposalBrief) *ProposalAnalysis {
	best := proposals[0]
	bestTotal := parseOrZero(best.TotalValue)
	for _, p := range proposals[1:] {
		if t := parseOrZero(p.TotalValue); t.GreaterThan(bestTotal) {
			best, bestTotal = p, t
		}
	}
	return &ProposalAnalysis{
		BestProposalID: best.ContractID,
		Reason:         fmt.Sprintf("This proposal has the highest total value (%s INR). AI analysis was not available, so value was used to rank the offers.", money.Format(bestTotal)),
		Fallback:       true,
	}
}

func parseOrZero(s string) decimal.Decimal {
	d, err := money.Parse(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
