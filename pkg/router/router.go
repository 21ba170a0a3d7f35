// Package router is the dispatcher at the center of the broker: it
// receives wire frames from the transport, resolves the session behind
// the container identity, runs the validation pipeline, invokes the
// handler through the executor, sanitizes the response, writes audit
// entries, and sends the response back. One router instance per host.
package router

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fred-drake/carapace/pkg/audit"
	"github.com/fred-drake/carapace/pkg/pipeline"
	"github.com/fred-drake/carapace/pkg/sanitize"
	"github.com/fred-drake/carapace/pkg/session"
	"github.com/fred-drake/carapace/pkg/toolerr"
	"github.com/fred-drake/carapace/pkg/transport"
	"github.com/fred-drake/carapace/pkg/wire"
)

// RejectionPublisher receives a copy of every terminal rejection for ops
// visibility. Implemented by events.Bus; may be nil.
type RejectionPublisher interface {
	PublishResponseError(containerID, correlation, code, message string)
}

// Router dispatches requests. Concurrent requests from distinct
// containers proceed in parallel; the accept loop never blocks on handler
// latency — every request runs on its own goroutine.
type Router struct {
	socket    transport.Router
	sessions  *session.Manager
	pipeline  *pipeline.Pipeline
	executor  *Executor
	sanitizer *sanitize.Sanitizer
	auditLog  *audit.Log
	rejects   RejectionPublisher

	startedAt time.Time
	requests  atomic.Int64
	routed    atomic.Int64
	rejected  atomic.Int64
	errored   atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a router. rejects may be nil.
func New(
	socket transport.Router,
	sessions *session.Manager,
	pl *pipeline.Pipeline,
	executor *Executor,
	sanitizer *sanitize.Sanitizer,
	auditLog *audit.Log,
	rejects RejectionPublisher,
) *Router {
	ctx, cancel := context.WithCancel(context.Background())
	return &Router{
		socket:    socket,
		sessions:  sessions,
		pipeline:  pl,
		executor:  executor,
		sanitizer: sanitizer,
		auditLog:  auditLog,
		rejects:   rejects,
		startedAt: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start begins accepting frames.
func (r *Router) Start() error {
	return r.socket.Start(r.handleFrame)
}

// Stop stops accepting new work and waits up to grace for in-flight
// handlers to finish, then abandons them.
func (r *Router) Stop(grace time.Duration) {
	r.cancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
		slog.Warn("Router shutdown grace period elapsed, abandoning in-flight requests")
	}
}

// Diagnostics serves the get_diagnostics intrinsic.
func (r *Router) Diagnostics() map[string]any {
	return map[string]any{
		"uptime_seconds": int64(time.Since(r.startedAt).Seconds()),
		"requests_total": r.requests.Load(),
		"routed_total":   r.routed.Load(),
		"rejected_total": r.rejected.Load(),
		"errored_total":  r.errored.Load(),
		"live_sessions":  len(r.sessions.List()),
	}
}

// handleFrame is the accept-loop callback. It only spawns the per-request
// goroutine; all real work happens off the loop.
func (r *Router) handleFrame(identity string, payload []byte) {
	if r.ctx.Err() != nil {
		return // shutting down; linger=0 semantics
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.handleRequest(identity, payload)
	}()
}

// handleRequest processes one request end to end. Exactly one response
// envelope is sent per accepted frame.
func (r *Router) handleRequest(identity string, payload []byte) {
	r.requests.Add(1)
	log := slog.With("container_id", identity)

	msg, decodeErr := wire.DecodeMessage(payload)

	sess, ok := r.sessions.Lookup(identity)
	if !ok {
		// No session behind this identity: fatal to the request, before
		// stage 1. There is no group to audit under; log and answer.
		log.Warn("Wire message from container with no session")
		rej := toolerr.New(toolerr.CodeUnauthorized, "no session for container identity")
		r.respondRaw(identity, correlationOf(msg), topicOf(msg), "", "", rej)
		return
	}
	log = log.With("group", sess.Group, "source", sess.Source)

	if decodeErr != nil {
		r.rejected.Add(1)
		r.audit(audit.Entry{
			Group:       sess.Group,
			Source:      sess.Source,
			Topic:       topicOf(msg),
			Correlation: correlationOf(msg),
			Outcome:     audit.OutcomeRejected,
			Reason:      decodeErr.Message,
			Error:       &audit.EntryError{Code: decodeErr.Code, Message: decodeErr.Message},
		})
		r.respondRaw(identity, correlationOf(msg), topicOf(msg), sess.Source, sess.Group, decodeErr)
		r.publishRejection(identity, correlationOf(msg), decodeErr)
		return
	}

	pc := &pipeline.Context{Wire: msg, Session: sess}
	if rej := r.pipeline.Run(pc); rej != nil {
		r.rejected.Add(1)
		r.audit(audit.Entry{
			Group:       sess.Group,
			Source:      sess.Source,
			Topic:       msg.Topic,
			Correlation: msg.Correlation,
			Stage:       rej.Stage,
			Outcome:     audit.OutcomeRejected,
			Reason:      rej.Message,
			Error:       &audit.EntryError{Code: rej.Code, Message: rej.Message},
		})
		r.respond(identity, pc.Envelope, nil, rej)
		r.publishRejection(identity, msg.Correlation, rej)
		return
	}

	// Stage 6: dispatch on this request's own goroutine.
	result, herr := r.executor.Execute(r.ctx, pc.Tool, pc.Envelope)
	if herr != nil {
		r.errored.Add(1)
		r.audit(audit.Entry{
			Group:       sess.Group,
			Source:      sess.Source,
			Topic:       msg.Topic,
			Correlation: msg.Correlation,
			Stage:       pipeline.StageDispatch,
			Outcome:     audit.OutcomeError,
			Reason:      herr.Message,
			Error:       &audit.EntryError{Code: herr.Code, Message: herr.Message},
		})
		r.respond(identity, pc.Envelope, nil, herr)
		r.publishRejection(identity, msg.Correlation, herr)
		return
	}

	// Sanitize the full response payload so redaction paths are rooted
	// at $.result.
	sanitized, fieldPaths := r.sanitizer.Sanitize(map[string]any{"result": result})
	cleanResult := sanitized.(map[string]any)["result"]

	routedEntry := audit.Entry{
		Group:       sess.Group,
		Source:      sess.Source,
		Topic:       msg.Topic,
		Correlation: msg.Correlation,
		Stage:       pipeline.StageDispatch,
		Outcome:     audit.OutcomeRouted,
	}
	if err := r.auditMust(routedEntry); err != nil {
		// Audit failure is fatal for the request.
		r.errored.Add(1)
		log.Error("Audit append failed, failing request", "error", err)
		rej := toolerr.New(toolerr.CodeHandlerError, "request could not be audited")
		r.respond(identity, pc.Envelope, nil, rej)
		return
	}
	if len(fieldPaths) > 0 {
		r.audit(audit.Entry{
			Group:       sess.Group,
			Source:      sess.Source,
			Topic:       msg.Topic,
			Correlation: msg.Correlation,
			Stage:       pipeline.StageDispatch,
			Outcome:     audit.OutcomeSanitized,
			FieldPaths:  fieldPaths,
		})
	}

	r.routed.Add(1)
	r.respond(identity, pc.Envelope, cleanResult, nil)
}

// respond composes and sends the response envelope for a constructed
// request envelope. Exactly one of result and rej is set.
func (r *Router) respond(identity string, req *wire.Envelope, result any, rej *toolerr.ToolError) {
	var errPayload any
	if rej != nil {
		msg, _ := r.sanitizer.SanitizeString(rej.Message)
		clean := *rej
		clean.Message = msg
		errPayload = &clean
	}
	resp := wire.NewResponseEnvelope(req, result, errPayload, time.Now())
	r.send(identity, resp, req.Group, req.Source)
}

// respondRaw answers frames that never produced a request envelope
// (decode failures, missing sessions). The response is still well-formed.
func (r *Router) respondRaw(identity, correlation, topic, source, group string, rej *toolerr.ToolError) {
	req := &wire.Envelope{
		Topic:       topic,
		Source:      source,
		Correlation: correlation,
		Group:       group,
	}
	r.respond(identity, req, nil, rej)
}

// send encodes and ships an envelope. Transport failures after handler
// success are audited as error entries; the request is not retried.
func (r *Router) send(identity string, resp *wire.Envelope, group, source string) {
	data, err := wire.EncodeEnvelope(resp)
	if err != nil {
		slog.Error("Failed to encode response envelope", "error", err, "correlation", resp.Correlation)
		return
	}
	if err := r.socket.Send(identity, data); err != nil {
		slog.Error("Failed to send response", "error", err, "correlation", resp.Correlation)
		if group != "" {
			r.audit(audit.Entry{
				Group:       group,
				Source:      source,
				Topic:       resp.Topic,
				Correlation: resp.Correlation,
				Outcome:     audit.OutcomeError,
				Reason:      "transport send failed",
				Error:       &audit.EntryError{Code: "TRANSPORT_SEND_FAILED", Message: err.Error()},
			})
		}
	}
}

// audit appends best-effort: failures are logged, not propagated.
func (r *Router) audit(e audit.Entry) {
	if _, err := r.auditLog.Append(e); err != nil {
		slog.Error("Best-effort audit append failed",
			"group", e.Group, "correlation", e.Correlation, "error", err)
	}
}

// auditMust appends and propagates failure; used where a lost audit entry
// must fail the request.
func (r *Router) auditMust(e audit.Entry) error {
	_, err := r.auditLog.Append(e)
	return err
}

func (r *Router) publishRejection(identity, correlation string, rej *toolerr.ToolError) {
	if r.rejects != nil {
		r.rejects.PublishResponseError(identity, correlation, rej.Code, rej.Message)
	}
}

func correlationOf(msg *wire.Message) string {
	if msg == nil {
		return ""
	}
	return msg.Correlation
}

func topicOf(msg *wire.Message) string {
	if msg == nil {
		return ""
	}
	return msg.Topic
}
