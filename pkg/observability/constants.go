package observability

const (
	AttrQueryID         = "query.id"
	AttrAgentName       = "agent.name"
	AttrModel           = "llm.model"
	AttrCycle           = "query.cycle"
	AttrPhase           = "query.phase"
	AttrGateDecision    = "gate.decision"
	AttrAuditVerdict    = "audit.verdict"
	AttrRoutingDegraded = "routing.degraded"
	AttrBreakerFrom     = "breaker.from"
	AttrBreakerTo       = "breaker.to"
	AttrErrorKind       = "error.kind"

	SpanQuery     = "query.run"
	SpanScout     = "query.scout"
	SpanGate      = "query.gate"
	SpanCycle     = "query.cycle"
	SpanAgentCall = "agent.call"
	SpanAudit     = "query.audit"
	SpanRetrieval = "retrieval.lookup"

	DefaultServiceName  = "autoresearch"
	DefaultSamplingRate = 1.0
	DefaultOTLPEndpoint = "localhost:4317"
)
