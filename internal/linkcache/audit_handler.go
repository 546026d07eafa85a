package linkcache

import (
	"context"
	"encoding/json"
	"log/slog"

	"mpi-mediator/internal/platform/kafka"
)

// GoldenIDChange is one notification on the audit topic: a patient record
// was linked to (or moved between) golden records.
type GoldenIDChange struct {
	PatientRef string `json:"patientRef"`
	GoldenRef  string `json:"goldenRef"`
	// PreviousGoldenRef is set when the patient moved between golden
	// records rather than being newly linked.
	PreviousGoldenRef string `json:"previousGoldenRef,omitempty"`
}

// Invalidator drops cached link sets. Satisfied by *Cache.
type Invalidator interface {
	Invalidate(ctx context.Context, refs ...string) error
}

// AuditHandler consumes golden-id change notifications and invalidates the
// affected cached link sets so the next expansion resolves fresh.
type AuditHandler struct {
	cache  Invalidator
	logger *slog.Logger
}

// NewAuditHandler builds the handler for the audit topic.
func NewAuditHandler(cache Invalidator, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{cache: cache, logger: logger}
}

// Handle implements kafka.TopicHandler.
func (h *AuditHandler) Handle(ctx context.Context, msg *kafka.Message) error {
	var change GoldenIDChange
	if err := json.Unmarshal(msg.Value, &change); err != nil {
		// Malformed notifications are logged and committed; redelivery
		// would fail the same way forever.
		h.logger.WarnContext(ctx, "unparseable golden-id change, skipping",
			"topic", msg.Topic,
			"offset", msg.Offset,
			"error", err,
		)
		return nil
	}

	refs := make([]string, 0, 3)
	if change.PatientRef != "" {
		refs = append(refs, change.PatientRef)
	}
	if change.GoldenRef != "" {
		refs = append(refs, change.GoldenRef)
	}
	if change.PreviousGoldenRef != "" {
		refs = append(refs, change.PreviousGoldenRef)
	}
	if len(refs) == 0 {
		return nil
	}

	if err := h.cache.Invalidate(ctx, refs...); err != nil {
		// Returning the error leaves the offset uncommitted so the
		// invalidation is retried; a stale link cache is worse than a
		// redelivered notification.
		return err
	}

	h.logger.InfoContext(ctx, "golden-id change applied to link cache",
		"patient", change.PatientRef,
		"golden", change.GoldenRef,
	)
	return nil
}
