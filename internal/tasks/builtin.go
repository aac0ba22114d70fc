package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/mattjoyce/shopworker/internal/log"
	"github.com/mattjoyce/shopworker/internal/queue"
)

// Built-in task kinds.
const (
	KindSimulate = "simulate"
	KindAudit    = "shop.audit"
	KindNotify   = "shop.notify"
)

// DefaultDelay is how long simulated I/O blocks when no delay is configured.
const DefaultDelay = 2 * time.Second

var (
	auditEntities = []string{"user", "book", "product"}
	auditActions  = []string{"create", "list", "retrieve", "update", "partial_update", "destroy"}
)

// SimulatePayload describes a simulated unit of work.
type SimulatePayload struct {
	Description string `json:"description"`
}

// AuditPayload records one CRUD action taken against a shop resource.
type AuditPayload struct {
	Entity  string `json:"entity"`
	Action  string `json:"action"`
	ID      string `json:"id,omitempty"`
	Actor   string `json:"actor,omitempty"`
	Outcome string `json:"outcome,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

// NotifyPayload is an outbound notification, e.g. a welcome mail after signup.
type NotifyPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body,omitempty"`
}

// RegisterBuiltins installs the built-in handlers. delay controls how long
// the simulated I/O kinds block; zero means DefaultDelay.
func RegisterBuiltins(r *Registry, delay time.Duration) error {
	if delay <= 0 {
		delay = DefaultDelay
	}
	for kind, h := range map[string]Handler{
		KindSimulate: Simulate(delay),
		KindAudit:    HandlerFunc(audit),
		KindNotify:   Notify(delay),
	} {
		if err := r.Register(kind, h); err != nil {
			return err
		}
	}
	return nil
}

// Simulate blocks for delay, logging start and finish.
func Simulate(delay time.Duration) Handler {
	return HandlerFunc(func(ctx context.Context, t queue.Task) error {
		var p SimulatePayload
		if err := decode(t, &p); err != nil {
			return err
		}
		if p.Description == "" {
			p.Description = t.ID
		}

		logger := taskLogger(t)
		logger.Info("processing task", "description", p.Description)
		if err := sleep(ctx, delay); err != nil {
			return err
		}
		logger.Info("finished task", "description", p.Description)
		return nil
	})
}

// Notify simulates delivery of an outbound notification.
func Notify(delay time.Duration) Handler {
	return HandlerFunc(func(ctx context.Context, t queue.Task) error {
		var p NotifyPayload
		if err := decode(t, &p); err != nil {
			return err
		}
		if p.To == "" {
			return fmt.Errorf("notify: recipient is empty")
		}

		logger := taskLogger(t).With("to", p.To, "subject", p.Subject)
		logger.Info("sending notification")
		if err := sleep(ctx, delay); err != nil {
			return err
		}
		logger.Info("notification sent")
		return nil
	})
}

func audit(ctx context.Context, t queue.Task) error {
	var p AuditPayload
	if err := decode(t, &p); err != nil {
		return err
	}
	if !slices.Contains(auditEntities, p.Entity) {
		return fmt.Errorf("audit: unknown entity %q", p.Entity)
	}
	if !slices.Contains(auditActions, p.Action) {
		return fmt.Errorf("audit: unknown action %q", p.Action)
	}

	attrs := []any{"entity", p.Entity, "action", p.Action}
	if p.ID != "" {
		attrs = append(attrs, "id", p.ID)
	}
	if p.Actor != "" {
		attrs = append(attrs, "actor", p.Actor)
	}
	if p.Outcome != "" {
		attrs = append(attrs, "outcome", p.Outcome)
	}
	if p.Detail != "" {
		attrs = append(attrs, "detail", p.Detail)
	}

	level := slog.LevelInfo
	if p.Outcome == "error" {
		level = slog.LevelWarn
	}
	taskLogger(t).Log(ctx, level, "shop audit", attrs...)
	return nil
}

func decode(t queue.Task, v any) error {
	if len(t.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(t.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", t.Kind, err)
	}
	return nil
}

// sleep blocks for d. The dispatcher never cancels task contexts on shutdown,
// so ctx only matters for callers running handlers directly.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func taskLogger(t queue.Task) *slog.Logger {
	return log.WithTask(t.ID).With("kind", t.Kind)
}
