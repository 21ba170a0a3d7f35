// Package pipeline implements stages 1–5 of the request-processing
// engine as a synchronous state machine over an enriched context. Stage 6
// (dispatch) is asynchronous and owned by the router; everything here is
// in-memory work.
//
// Stages cannot be reordered. In particular, authorization runs before
// rate limiting so unauthorized requests never burn tokens, and the
// confirmation check runs last so only fully validated high-risk requests
// consume approvals.
package pipeline

import (
	"math"
	"strings"
	"time"

	"github.com/fred-drake/carapace/pkg/catalog"
	"github.com/fred-drake/carapace/pkg/confirm"
	"github.com/fred-drake/carapace/pkg/ratelimit"
	"github.com/fred-drake/carapace/pkg/session"
	"github.com/fred-drake/carapace/pkg/toolerr"
	"github.com/fred-drake/carapace/pkg/wire"
)

// Stage indices, 1-based. Rejections carry the index of the rejecting
// stage.
const (
	StageConstruct = 1
	StageTopic     = 2
	StagePayload   = 3
	StageAuthorize = 4
	StageConfirm   = 5
	StageDispatch  = 6
)

// Context carries one request through the stages. Stages enrich it in
// place; it is request-scoped and dies with the response.
type Context struct {
	Wire     *wire.Message
	Session  *session.Session
	Envelope *wire.Envelope
	Tool     *catalog.Tool
}

// Pipeline runs stages 1–5. Construction is cheap; one instance serves
// all requests concurrently (all dependencies are thread-safe).
type Pipeline struct {
	catalog      *catalog.Catalog
	limiter      *ratelimit.SessionLimiter
	approvals    *confirm.Approvals
	gate         *confirm.Gate
	restrictions map[string][]string
	now          func() time.Time
}

// New creates a pipeline. restrictions maps tool names to the groups
// allowed to invoke them; tools absent from the mapping are unrestricted.
// gate may be nil; when set, an unapproved high-risk request registers a
// pending confirmation whose approval pre-approves a retry.
func New(cat *catalog.Catalog, limiter *ratelimit.SessionLimiter, approvals *confirm.Approvals, gate *confirm.Gate, restrictions map[string][]string) *Pipeline {
	return &Pipeline{
		catalog:      cat,
		limiter:      limiter,
		approvals:    approvals,
		gate:         gate,
		restrictions: restrictions,
		now:          time.Now,
	}
}

// SetClock replaces the wall clock used for envelope timestamps. Test hook.
func (p *Pipeline) SetClock(now func() time.Time) {
	p.now = now
}

// Run executes stages 1–5 on pc. It returns nil when the request may be
// dispatched, or the terminal rejection. Exactly one of the two happens
// per call.
func (p *Pipeline) Run(pc *Context) *toolerr.ToolError {
	p.construct(pc)
	if rej := p.resolveTopic(pc); rej != nil {
		return rej
	}
	if rej := p.validatePayload(pc); rej != nil {
		return rej
	}
	if rej := p.authorize(pc); rej != nil {
		return rej
	}
	return p.confirmRisk(pc)
}

// construct is stage 1: build the request envelope. Identity fields come
// from the session, never from the wire message. Cannot fail.
func (p *Pipeline) construct(pc *Context) {
	pc.Envelope = wire.NewRequestEnvelope(pc.Wire, pc.Session.Source, pc.Session.Group, p.now())
}

// resolveTopic is stage 2: the topic must be tool.invoke.<name> for a
// registered tool.
func (p *Pipeline) resolveTopic(pc *Context) *toolerr.ToolError {
	name, ok := strings.CutPrefix(pc.Wire.Topic, wire.ToolInvokePrefix)
	if !ok || name == "" {
		return toolerr.Newf(toolerr.CodeUnknownTool,
			"topic %q does not name a tool invocation", pc.Wire.Topic).WithStage(StageTopic)
	}
	tool, found := p.catalog.Get(name)
	if !found {
		return toolerr.Newf(toolerr.CodeUnknownTool,
			"unknown tool %q", name).WithStage(StageTopic)
	}
	pc.Tool = tool
	return nil
}

// validatePayload is stage 3: arguments against the tool's compiled
// schema, with prototype-pollution keys rejected first.
func (p *Pipeline) validatePayload(pc *Context) *toolerr.ToolError {
	args := pc.Envelope.Arguments()
	if key, found := wire.FindPollutionKey(args); found {
		return toolerr.Newf(toolerr.CodeValidationFailed,
			"arguments contain forbidden key %q", key).WithStage(StagePayload)
	}
	if rej := p.catalog.ValidateArguments(pc.Tool.Name, args); rej != nil {
		return rej.WithStage(StagePayload)
	}
	return nil
}

// authorize is stage 4: group allow-set first, then the token bucket.
// Ordering matters — a denied group must not consume a token.
func (p *Pipeline) authorize(pc *Context) *toolerr.ToolError {
	if allowed, restricted := p.restrictions[pc.Tool.Name]; restricted {
		if !contains(allowed, pc.Session.Group) {
			return toolerr.Newf(toolerr.CodeUnauthorized,
				"group %q is not authorized for tool %q", pc.Session.Group, pc.Tool.Name).WithStage(StageAuthorize)
		}
	}

	decision := p.limiter.TryConsume(pc.Session.SessionID)
	if !decision.Allowed {
		return toolerr.New(toolerr.CodeRateLimited, "session request rate exceeded").
			WithStage(StageAuthorize).
			WithRetryAfter(math.Ceil(decision.RetryAfter))
	}
	return nil
}

// confirmRisk is stage 5: low-risk tools pass unconditionally; high-risk
// tools need the correlation in the pre-approved set, populated by the
// out-of-band approval flow. The rejection is timeout-shaped and
// retriable — the client may retry once an approval lands.
func (p *Pipeline) confirmRisk(pc *Context) *toolerr.ToolError {
	if pc.Tool.RiskLevel != catalog.RiskHigh {
		return nil
	}
	if p.approvals.Consume(pc.Wire.Correlation) {
		return nil
	}

	// Register a pending confirmation keyed by the correlation. When the
	// operator approves it out of band, a retry with the same correlation
	// passes. Duplicate registration (a retry racing the approval) is a
	// no-op.
	if p.gate != nil {
		if ch, err := p.gate.Request(pc.Wire.Correlation, pc.Tool.Name, pc.Session.SessionID); err == nil {
			go func() {
				if <-ch == confirm.OutcomeApproved {
					p.approvals.Approve(pc.Wire.Correlation)
				}
			}()
		}
	}

	return toolerr.Newf(toolerr.CodeConfirmationTimeout,
		"high-risk tool %q requires user approval", pc.Tool.Name).WithStage(StageConfirm)
}

func contains(list []string, v string) bool {
	for _, e := range list {
		if e == v {
			return true
		}
	}
	return false
}
