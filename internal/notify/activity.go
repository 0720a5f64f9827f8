package notify

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// ActivityFeed keeps the most recent notifications per account in memory
// for the activity endpoint. It is rebuilt empty on restart.
type ActivityFeed struct {
	mu         sync.RWMutex
	perAccount int
	entries    map[uuid.UUID][]Notification
}

func NewActivityFeed(perAccount int) *ActivityFeed {
	return &ActivityFeed{
		perAccount: perAccount,
		entries:    make(map[uuid.UUID][]Notification),
	}
}

// Deliver records n. System notifications are not kept.
func (f *ActivityFeed) Deliver(ctx context.Context, n Notification) error {
	if n.AccountID == uuid.Nil {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	list := append(f.entries[n.AccountID], n)
	if len(list) > f.perAccount {
		list = list[len(list)-f.perAccount:]
	}
	f.entries[n.AccountID] = list
	return nil
}

// QueryByAccount returns up to limit notifications for accountID, newest first.
func (f *ActivityFeed) QueryByAccount(accountID uuid.UUID, limit int) []Notification {
	f.mu.RLock()
	defer f.mu.RUnlock()

	list := f.entries[accountID]
	result := make([]Notification, 0, min(limit, len(list)))
	for i := len(list) - 1; i >= 0 && len(result) < limit; i-- {
		result = append(result, list[i])
	}
	return result
}
