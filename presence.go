package chatsync

import (
	"slices"
	"sync"

	"github.com/samber/lo"
)

// PresenceTracker holds the set of online users. The last event for a user
// wins; repeated events are harmless.
type PresenceTracker struct {
	mu     sync.RWMutex
	online map[string]UserInfo
}

func NewPresenceTracker() *PresenceTracker {
	return &PresenceTracker{online: make(map[string]UserInfo)}
}

// Set records a presence event and reports whether the set changed.
func (p *PresenceTracker) Set(user UserInfo, online bool) bool {
	if user.ID == "" {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	_, was := p.online[user.ID]
	if online {
		p.online[user.ID] = user
		return !was
	}
	delete(p.online, user.ID)
	return was
}

func (p *PresenceTracker) IsOnline(userID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.online[userID]
	return ok
}

// Online returns the online user ids, sorted.
func (p *PresenceTracker) Online() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := lo.Keys(p.online)
	slices.Sort(ids)
	return ids
}

func (p *PresenceTracker) Reset() {
	p.mu.Lock()
	p.online = make(map[string]UserInfo)
	p.mu.Unlock()
}
