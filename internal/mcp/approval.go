package mcpserver

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"surveyflat/internal/storage"
)

// ApprovalQueue gates destructive tool calls behind a human decision.
// Pending actions are written to the job database and resolved from another
// process with `surveyflat approvals approve|reject`.
type ApprovalQueue struct {
	store       *storage.ApprovalStore
	autoApprove bool
	timeout     time.Duration
	poll        time.Duration
}

// NewApprovalQueue returns a queue backed by store. With autoApprove every
// request succeeds immediately; a nil store rejects every request.
func NewApprovalQueue(store *storage.ApprovalStore, autoApprove bool) *ApprovalQueue {
	return &ApprovalQueue{
		store:       store,
		autoApprove: autoApprove,
		timeout:     120 * time.Second,
		poll:        500 * time.Millisecond,
	}
}

// Request records a pending action and blocks until it is approved, rejected,
// times out or ctx ends.
func (q *ApprovalQueue) Request(ctx context.Context, tool, description string) (bool, error) {
	if q.autoApprove {
		return true, nil
	}
	if q.store == nil {
		return false, fmt.Errorf("no approval store configured: %s", tool)
	}

	id := uuid.New().String()
	if err := q.store.Create(&storage.Approval{ID: id, Tool: tool, Description: description}); err != nil {
		return false, err
	}
	defer q.store.Delete(id)

	deadline := time.NewTimer(q.timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(q.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			status, err := q.store.Status(id)
			if err != nil {
				continue
			}
			switch status {
			case storage.ApprovalApproved:
				return true, nil
			case storage.ApprovalRejected:
				return false, fmt.Errorf("action rejected by user: %s", tool)
			}
		case <-deadline.C:
			return false, fmt.Errorf("action timed out after %s: %s", q.timeout, tool)
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
}
