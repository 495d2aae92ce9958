package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/autoresearch/autoresearch/pkg/config"
	"github.com/autoresearch/autoresearch/pkg/llms"
	"github.com/autoresearch/autoresearch/pkg/observability"
	"github.com/autoresearch/autoresearch/pkg/protocol"
	"github.com/autoresearch/autoresearch/pkg/retrieval"
	"github.com/autoresearch/autoresearch/pkg/utils"
)

// Retriever is the retrieval capability the auditor consumes.
type Retriever interface {
	Lookup(ctx context.Context, query string, topK int, opts ...retrieval.LookupOption) (*retrieval.Lookup, error)
}

// AckFunc asks an operator to acknowledge unsupported claims before the
// response ships. A nil return acknowledges; the auditor bounds the wait
// with the configured timeout.
type AckFunc func(ctx context.Context, records []protocol.AuditRecord) error

// maxRecordSources caps the supporting source refs kept per record.
const maxRecordSources = 3

// Auditor scores answer segments for entailment against retrieved
// evidence and hedges whatever the evidence does not carry.
type Auditor struct {
	adapter   llms.Adapter
	retriever Retriever
	cfg       config.AuditConfig
	ack       AckFunc
}

// New creates an auditor. retriever may be nil, in which case every
// scored segment is unsupported; ack may be nil to skip the operator
// gate even when configured.
func New(adapter llms.Adapter, retriever Retriever, cfg config.AuditConfig, ack AckFunc) *Auditor {
	cfg.SetDefaults()
	return &Auditor{adapter: adapter, retriever: retriever, cfg: cfg, ack: ack}
}

// Outcome is the audit result: the possibly hedged answer, per-segment
// records, and the warning side channel. Warnings never enter Answer.
type Outcome struct {
	Answer     string
	Records    []protocol.AuditRecord
	Warnings   []protocol.Warning
	AckTimeout bool
}

// Audit verifies the candidate answer sentence by sentence. Supported
// segments pass through byte-identical; unsupported ones are hedged per
// the configured mode. The question augments re-query rounds.
func (a *Auditor) Audit(ctx context.Context, question, answer string) (*Outcome, error) {
	out := &Outcome{Answer: answer}
	if !a.cfg.IsEnabled() || strings.TrimSpace(answer) == "" {
		return out, nil
	}

	segs := SplitSegments(answer)
	hedged := make([]bool, len(segs))
	scored, failed := 0, 0
	var lastErr error

	for i, seg := range segs {
		if seg.Text == "" {
			continue
		}
		scored++

		rec, err := a.auditSegment(ctx, question, seg.Text)
		if err != nil {
			if protocol.KindOf(err) == protocol.KindCancelled {
				return nil, err
			}
			failed++
			lastErr = err
			rec.Status = protocol.AuditNeedsReview
			rec.Notes = "entailment unavailable: " + err.Error()
		}
		out.Records = append(out.Records, rec)
		observability.RecordAuditVerdict(ctx, string(rec.Status))

		switch rec.Status {
		case protocol.AuditUnsupported:
			hedged[i] = true
			out.Warnings = append(out.Warnings, protocol.Warning{
				Code:    protocol.WarnUnsupportedClaim,
				Message: fmt.Sprintf("unsupported claim (entailment %.2f): %s", rec.EntailmentScore, rec.ClaimText),
				ClaimID: rec.ClaimID,
			})
		case protocol.AuditNeedsReview:
			out.Warnings = append(out.Warnings, protocol.Warning{
				Code:    protocol.WarnNeedsReview,
				Message: fmt.Sprintf("claim needs review (entailment %.2f): %s", rec.EntailmentScore, rec.ClaimText),
				ClaimID: rec.ClaimID,
			})
		}
	}

	if scored > 0 && failed == scored {
		return nil, protocol.WrapErr(protocol.KindAuditInconclusive, "audit.run", lastErr)
	}

	if a.anyUnsupported(out.Records) {
		if err := a.awaitAck(ctx, out); err != nil {
			return nil, err
		}
	}

	out.Answer = a.hedge(segs, hedged)
	if a.cfg.HedgeMode != config.HedgeNone && a.anyUnsupported(out.Records) {
		out.Warnings = append(out.Warnings, protocol.Warning{
			Code:    protocol.WarnHedgeBanner,
			Message: "answer contains statements the retrieved evidence does not support",
		})
	}
	return out, nil
}

// auditSegment runs entailment rounds for one claim. The first round
// retrieves on the claim alone; later rounds widen the query with the
// question. Rounds stop early once the claim is supported.
func (a *Auditor) auditSegment(ctx context.Context, question, text string) (protocol.AuditRecord, error) {
	rec := protocol.AuditRecord{
		ClaimID:   "claim-" + utils.Checksum64(text),
		ClaimText: text,
	}

	type scoredSource struct {
		url   string
		score float64
	}
	var sources []scoredSource
	var roundBest []float64
	best := 0.0

	for round := 1; round <= a.cfg.MaxRounds; round++ {
		query := text
		if round > 1 {
			query = question + " " + text
		}

		var docs []retrieval.Document
		if a.retriever != nil {
			lookup, err := a.retriever.Lookup(ctx, query, a.cfg.MaxRetryResults)
			if err != nil {
				if protocol.KindOf(err) == protocol.KindCancelled {
					return rec, err
				}
			} else {
				docs = lookup.Documents
			}
		}

		roundMax := 0.0
		for _, doc := range docs {
			if doc.Snippet == "" {
				continue
			}
			score, err := a.adapter.Entailment(ctx, text, doc.Snippet)
			if err != nil {
				return rec, err
			}
			score = utils.Quantize(score)
			if score > roundMax {
				roundMax = score
			}
			sources = append(sources, scoredSource{url: doc.CanonicalURL, score: score})
		}

		roundBest = append(roundBest, roundMax)
		if roundMax > best {
			best = roundMax
		}
		rec.RetryCount = round - 1
		if best >= a.cfg.SupportThreshold {
			break
		}
	}

	rec.EntailmentScore = best
	rec.StabilityScore = stability(roundBest)
	rec.Status = a.classify(best)
	if rec.Status != protocol.AuditSupported {
		rec.Notes = fmt.Sprintf("best entailment %.2f after %d round(s)", best, len(roundBest))
	}

	// Supporting refs: strongest first, deduplicated by URL.
	sort.SliceStable(sources, func(i, j int) bool {
		if sources[i].score != sources[j].score {
			return sources[i].score > sources[j].score
		}
		return sources[i].url < sources[j].url
	})
	seen := map[string]bool{}
	for _, s := range sources {
		if s.score <= a.cfg.UnsupportedThreshold || seen[s.url] {
			continue
		}
		seen[s.url] = true
		rec.Sources = append(rec.Sources, s.url)
		if len(rec.Sources) == maxRecordSources {
			break
		}
	}
	return rec, nil
}

func (a *Auditor) classify(score float64) protocol.AuditStatus {
	switch {
	case score >= a.cfg.SupportThreshold:
		return protocol.AuditSupported
	case score <= a.cfg.UnsupportedThreshold:
		return protocol.AuditUnsupported
	default:
		return protocol.AuditNeedsReview
	}
}

// stability is 1 minus the spread of per-round scores: rounds that agree
// score 1, rounds that swing score toward 0.
func stability(roundBest []float64) float64 {
	if len(roundBest) <= 1 {
		return 1
	}
	lo, hi := roundBest[0], roundBest[0]
	for _, s := range roundBest[1:] {
		if s < lo {
			lo = s
		}
		if s > hi {
			hi = s
		}
	}
	v := 1 - (hi - lo)
	if v < 0 {
		v = 0
	}
	return utils.Quantize(v)
}

func (a *Auditor) anyUnsupported(records []protocol.AuditRecord) bool {
	for _, r := range records {
		if r.Status == protocol.AuditUnsupported {
			return true
		}
	}
	return false
}

// awaitAck blocks on the operator gate when configured. Timeout releases
// the response with a warning rather than failing the query.
func (a *Auditor) awaitAck(ctx context.Context, out *Outcome) error {
	if !a.cfg.RequireHumanAck || a.ack == nil {
		return nil
	}

	var unsupported []protocol.AuditRecord
	for _, r := range out.Records {
		if r.Status == protocol.AuditUnsupported {
			unsupported = append(unsupported, r)
		}
	}

	ackCtx, cancel := context.WithTimeout(ctx, time.Duration(a.cfg.AckTimeoutS)*time.Second)
	defer cancel()

	err := a.ack(ackCtx, unsupported)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return protocol.WrapErr(protocol.KindCancelled, "audit.ack", ctx.Err())
	}
	if errors.Is(err, context.DeadlineExceeded) {
		out.AckTimeout = true
		out.Warnings = append(out.Warnings, protocol.Warning{
			Code:    protocol.WarnAckTimeout,
			Message: "operator acknowledgement timed out, response released hedged",
		})
		slog.Warn("Audit ack timed out", "unsupported_claims", len(unsupported))
		return nil
	}
	return protocol.WrapErr(protocol.KindAuditInconclusive, "audit.ack", err)
}

// hedge rebuilds the answer, annotating only flagged segments. With no
// flags the original string is returned untouched.
func (a *Auditor) hedge(segs []Segment, flagged []bool) string {
	any := false
	for _, f := range flagged {
		if f {
			any = true
			break
		}
	}
	var b strings.Builder
	for i, seg := range segs {
		if !any || !flagged[i] || a.cfg.HedgeMode == config.HedgeNone {
			b.WriteString(seg.Raw)
			continue
		}
		lead, core, trail := splitSpace(seg.Raw)
		switch a.cfg.HedgeMode {
		case config.HedgeInline:
			b.WriteString(lead + core + " [unverified]" + trail)
		default:
			b.WriteString(lead + "Unverified: " + core + trail)
		}
	}
	return b.String()
}

// splitSpace cuts raw into leading whitespace, core, and trailing
// whitespace, byte-exactly.
func splitSpace(raw string) (lead, core, trail string) {
	core = strings.TrimLeft(raw, " \t\r\n")
	lead = raw[:len(raw)-len(core)]
	trimmed := strings.TrimRight(core, " \t\r\n")
	trail = core[len(trimmed):]
	return lead, trimmed, trail
}
