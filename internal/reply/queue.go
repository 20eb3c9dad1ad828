package reply

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"standin/internal/domain"
	"standin/internal/metrics"
)

// EventHook receives pipeline events for live observers (the admin feed).
// Optional; nil hooks are never called.
type EventHook func(event string, payload any)

const (
	EventReplySent       = "reply_sent"
	EventReplyHeld       = "reply_held"
	EventReplySuppressed = "reply_suppressed"
	EventReplyFailed     = "reply_failed"
	EventApprovalResolve = "approval_resolved"
)

// Queue is the dispatch pipeline: it drains inbound messages one at a time
// off the bus, runs gate → context → generate → gate → send, and records
// every outcome in the ledger. A single worker preserves strict FIFO
// ordering across all senders.
type Queue struct {
	bus       domain.MessageBus
	profiles  domain.ProfileStore
	ledger    domain.LedgerStore
	builder   *ContextBuilder
	generator *Generator
	policies  map[domain.Platform]domain.PlatformPolicy
	logger    *slog.Logger

	delay   time.Duration // pause between drains
	retries int           // dispatch retry budget

	mu      sync.RWMutex
	senders map[domain.Platform]domain.Sender
	hook    EventHook

	wg sync.WaitGroup
}

type QueueOptions struct {
	InterMessageDelay time.Duration
	DispatchRetries   int
}

func NewQueue(
	bus domain.MessageBus,
	profiles domain.ProfileStore,
	ledger domain.LedgerStore,
	builder *ContextBuilder,
	generator *Generator,
	policies map[domain.Platform]domain.PlatformPolicy,
	opts QueueOptions,
	logger *slog.Logger,
) *Queue {
	if opts.DispatchRetries < 0 {
		opts.DispatchRetries = 0
	}
	return &Queue{
		bus:       bus,
		profiles:  profiles,
		ledger:    ledger,
		builder:   builder,
		generator: generator,
		policies:  policies,
		delay:     opts.InterMessageDelay,
		retries:   opts.DispatchRetries,
		senders:   make(map[domain.Platform]domain.Sender),
		logger:    logger,
	}
}

// RegisterSender wires the outbound half of a platform adapter.
func (q *Queue) RegisterSender(platform domain.Platform, s domain.Sender) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.senders[platform] = s
}

// SetEventHook installs the live-event observer.
func (q *Queue) SetEventHook(h EventHook) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.hook = h
}

func (q *Queue) emit(event string, payload any) {
	switch event {
	case EventReplySent:
		metrics.RepliesSent.Inc()
	case EventReplyHeld:
		metrics.RepliesHeld.Inc()
	case EventReplySuppressed:
		metrics.RepliesSuppressed.Inc()
	case EventReplyFailed:
		metrics.RepliesFailed.Inc()
	}

	q.mu.RLock()
	h := q.hook
	q.mu.RUnlock()
	if h != nil {
		h(event, payload)
	}
}

func (q *Queue) sender(platform domain.Platform) domain.Sender {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.senders[platform]
}

// Enqueue puts a message on the bus for the drain worker.
func (q *Queue) Enqueue(msg domain.InboundMessage) {
	q.bus.Publish(msg)
}

// Start launches the single drain worker. It runs until ctx is cancelled
// or the bus closes.
func (q *Queue) Start(ctx context.Context) {
	q.wg.Add(1)
	inbox := q.bus.Subscribe()
	go func() {
		defer q.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-inbox:
				if !ok {
					return
				}
				metrics.MessagesTotal.Inc()
				q.processSafe(ctx, msg)
				if q.delay > 0 {
					select {
					case <-ctx.Done():
						return
					case <-time.After(q.delay):
					}
				}
			}
		}
	}()
}

// Wait blocks until the drain worker has exited.
func (q *Queue) Wait() {
	q.wg.Wait()
}

// processSafe isolates one message's processing: a panic is logged and the
// worker moves on to the next message.
func (q *Queue) processSafe(ctx context.Context, msg domain.InboundMessage) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("message processing panicked",
				"platform", msg.Platform, "sender", msg.SenderID, "panic", r)
		}
	}()
	if err := q.process(ctx, msg); err != nil {
		q.logger.Error("message processing failed",
			"platform", msg.Platform, "sender", msg.SenderID, "error", err)
	}
}

func (q *Queue) process(ctx context.Context, msg domain.InboundMessage) error {
	policy, ok := q.policies[msg.Platform]
	if !ok {
		policy = domain.PlatformPolicy{Platform: msg.Platform} // unconfigured = disabled
	}

	if reason, suppressed := Precheck(policy, msg.SenderID); suppressed {
		q.logger.Info("message suppressed",
			"platform", msg.Platform, "sender", msg.SenderID, "reason", string(reason))
		q.emit(EventReplySuppressed, map[string]any{
			"platform": msg.Platform, "senderId": msg.SenderID, "reason": string(reason),
		})
		return nil
	}

	profile, err := q.profiles.Get(ctx, msg.SenderID)
	if err != nil {
		return fmt.Errorf("load profile: %w", err)
	}
	if profile == nil {
		// First contact: create a default profile so the next message
		// has history and the owner can later assign a role.
		profile = &domain.ContactProfile{
			SenderID:         msg.SenderID,
			DisplayName:      msg.SenderName,
			Role:             domain.RoleGeneral,
			AutoConversation: true,
		}
		if err := q.profiles.Upsert(ctx, *profile); err != nil {
			return fmt.Errorf("create profile: %w", err)
		}
	}

	pc := q.builder.Build(msg, profile, policy)
	text, fallbackUsed := q.generator.Generate(ctx, pc, policy)

	id := uuid.New().String()

	if RequiresApproval(policy, profile) {
		return q.hold(ctx, id, msg, profile, text)
	}
	return q.send(ctx, id, msg, policy, text, fallbackUsed)
}

// hold persists the suggestion and a pending ledger row; nothing is sent
// until an external approve call resolves it.
func (q *Queue) hold(ctx context.Context, id string, msg domain.InboundMessage, profile *domain.ContactProfile, text string) error {
	pa := domain.PendingApproval{
		ID:             id,
		Message:        msg,
		Profile:        profile,
		SuggestedReply: text,
		CreatedAt:      time.Now(),
	}
	if err := q.ledger.HoldForApproval(ctx, pa); err != nil {
		return fmt.Errorf("hold for approval: %w", err)
	}
	if err := q.ledger.Record(ctx, domain.LedgerEntry{
		ID: id, Platform: msg.Platform, SenderID: msg.SenderID,
		Original: msg.Body, Reply: text, Status: domain.StatusPendingApproval,
	}); err != nil {
		return fmt.Errorf("record held reply: %w", err)
	}

	q.logger.Info("reply held for approval",
		"platform", msg.Platform, "sender", msg.SenderID, "approval_id", id)
	q.emit(EventReplyHeld, pa)
	return nil
}

func (q *Queue) send(ctx context.Context, id string, msg domain.InboundMessage, policy domain.PlatformPolicy, text string, fallbackUsed bool) error {
	status := domain.StatusSent
	if err := q.dispatch(ctx, msg.Platform, msg.SenderID, text); err != nil {
		q.logger.Error("dispatch failed",
			"platform", msg.Platform, "sender", msg.SenderID, "error", err)
		status = domain.StatusFailed
	}

	if err := q.ledger.Record(ctx, domain.LedgerEntry{
		ID: id, Platform: msg.Platform, SenderID: msg.SenderID,
		Original: msg.Body, Reply: text, Status: status, FallbackUsed: fallbackUsed,
	}); err != nil {
		return fmt.Errorf("record reply: %w", err)
	}

	if status == domain.StatusFailed {
		q.emit(EventReplyFailed, map[string]any{"platform": msg.Platform, "senderId": msg.SenderID})
		return nil
	}

	q.appendExchange(ctx, msg.SenderID, msg.Body, text)
	q.logger.Info("reply sent",
		"platform", msg.Platform, "sender", msg.SenderID, "fallback", fallbackUsed, "chars", len(text))
	q.emit(EventReplySent, map[string]any{
		"platform": msg.Platform, "senderId": msg.SenderID, "reply": text, "fallback": fallbackUsed,
	})
	return nil
}

// appendExchange records both halves of a completed exchange in the
// contact's conversation window.
func (q *Queue) appendExchange(ctx context.Context, senderID, userText, assistantText string) {
	if err := q.profiles.AppendTurn(ctx, senderID, domain.Turn{Role: "user", Content: userText}); err != nil {
		q.logger.Warn("append user turn failed", "sender", senderID, "error", err)
		return
	}
	if err := q.profiles.AppendTurn(ctx, senderID, domain.Turn{Role: "assistant", Content: assistantText}); err != nil {
		q.logger.Warn("append assistant turn failed", "sender", senderID, "error", err)
	}
}

// dispatch sends text out through the platform adapter with a bounded
// retry budget and short backoff.
func (q *Queue) dispatch(ctx context.Context, platform domain.Platform, recipientID, text string) error {
	s := q.sender(platform)
	if s == nil {
		return fmt.Errorf("no sender registered for platform %s", platform)
	}

	var lastErr error
	for attempt := 0; attempt <= q.retries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * 500 * time.Millisecond
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
		if lastErr = s.Send(ctx, recipientID, text); lastErr == nil {
			return nil
		}
		q.logger.Warn("send attempt failed",
			"platform", platform, "recipient", recipientID, "attempt", attempt+1, "error", lastErr)
	}
	return fmt.Errorf("dispatch to %s failed after %d attempts: %w", platform, q.retries+1, lastErr)
}

// Resolve applies a human decision to a pending approval. Approved
// suggestions are dispatched exactly once; a repeat of the same decision is
// a no-op returning the already-resolved item.
func (q *Queue) Resolve(ctx context.Context, id string, decision domain.Decision) (*domain.PendingApproval, error) {
	pa, applied, err := q.ledger.Resolve(ctx, id, decision)
	if err != nil {
		return nil, err
	}
	if !applied {
		return pa, nil
	}

	switch decision {
	case domain.DecisionApproved:
		if err := q.dispatch(ctx, pa.Message.Platform, pa.Message.SenderID, pa.SuggestedReply); err != nil {
			if uerr := q.ledger.UpdateStatus(ctx, id, domain.StatusFailed); uerr != nil {
				q.logger.Warn("ledger status update failed", "id", id, "error", uerr)
			}
			return pa, fmt.Errorf("approved reply dispatch: %w", err)
		}
		if err := q.ledger.UpdateStatus(ctx, id, domain.StatusSent); err != nil {
			q.logger.Warn("ledger status update failed", "id", id, "error", err)
		}
		q.appendExchange(ctx, pa.Message.SenderID, pa.Message.Body, pa.SuggestedReply)
		q.logger.Info("approved reply dispatched", "platform", pa.Message.Platform, "approval_id", id)

	case domain.DecisionRejected:
		if err := q.ledger.UpdateStatus(ctx, id, domain.StatusRejected); err != nil {
			q.logger.Warn("ledger status update failed", "id", id, "error", err)
		}
		q.logger.Info("reply rejected", "platform", pa.Message.Platform, "approval_id", id)
	}

	q.emit(EventApprovalResolve, map[string]any{"id": id, "decision": string(decision)})
	return pa, nil
}
