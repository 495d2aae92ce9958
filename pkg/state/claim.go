package state

import (
	"time"

	"github.com/autoresearch/autoresearch/pkg/protocol"
	"github.com/autoresearch/autoresearch/pkg/utils"
)

// ClaimType classifies a claim's dialectical role.
type ClaimType string

const (
	ClaimThesis     ClaimType = "thesis"
	ClaimAntithesis ClaimType = "antithesis"
	ClaimSynthesis  ClaimType = "synthesis"
	ClaimEvidence   ClaimType = "evidence"
	ClaimFact       ClaimType = "fact"
)

// ValidClaimType reports whether t is one of the closed claim types.
func ValidClaimType(t ClaimType) bool {
	switch t {
	case ClaimThesis, ClaimAntithesis, ClaimSynthesis, ClaimEvidence, ClaimFact:
		return true
	}
	return false
}

// Claim is one assertion in the query state. Claims are immutable once
// persisted; edits create a new claim linked through Supersedes.
type Claim struct {
	ID             string                `json:"id"`
	Text           string                `json:"text"`
	Type           ClaimType             `json:"type"`
	CreatedByAgent string                `json:"created_by_agent"`
	CycleCreated   int                   `json:"cycle_created"`
	CreatedAt      time.Time             `json:"created_at,omitempty"`
	Sources        []string              `json:"sources,omitempty"`
	Embedding      []float32             `json:"embedding,omitempty"`
	Audit          *protocol.AuditRecord `json:"audit,omitempty"`
	Supersedes     string                `json:"supersedes,omitempty"`
}

// Key returns the de-duplication key: normalized text plus type.
func (c *Claim) Key() string {
	return utils.FoldText(c.Text) + "|" + string(c.Type)
}

// ContentHash fingerprints the claim's observable content. Persisting the
// same claim twice is a no-op when id and content hash both match.
func (c *Claim) ContentHash() string {
	return utils.Checksum64(utils.FoldText(c.Text) + "|" + string(c.Type) + "|" + c.Supersedes)
}

// Clone deep-copies the claim.
func (c Claim) Clone() Claim {
	out := c
	out.Sources = append([]string(nil), c.Sources...)
	out.Embedding = append([]float32(nil), c.Embedding...)
	if c.Audit != nil {
		audit := *c.Audit
		audit.Sources = append([]string(nil), c.Audit.Sources...)
		out.Audit = &audit
	}
	return out
}

// ClaimPatch carries the fields an update may change. Nil fields keep the
// original value; the patched claim supersedes the original.
type ClaimPatch struct {
	Text    *string
	Type    *ClaimType
	Sources []string
}
