package ai

import (
	"context"
	"fmt"

	"github.com/zhouzirui/moodcycle-gateway/internal/service/budget"
)

// BudgetedBackend refuses calls once the spend guard is exhausted and
// charges every successful reply to it.
type BudgetedBackend struct {
	next  Backend
	guard *budget.Guard
}

// NewBudgetedBackend wraps next with guard.
func NewBudgetedBackend(next Backend, guard *budget.Guard) *BudgetedBackend {
	return &BudgetedBackend{next: next, guard: guard}
}

func (b *BudgetedBackend) Reply(ctx context.Context, req Request) (Reply, error) {
	if err := b.guard.Allow(); err != nil {
		return Reply{}, fmt.Errorf("%w: %v", ErrBudgetExceeded, err)
	}
	reply, err := b.next.Reply(ctx, req)
	if err != nil {
		return Reply{}, err
	}
	b.guard.Track(req.DeviceID, reply.TokensUsed)
	return reply, nil
}
