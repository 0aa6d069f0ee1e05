// Package scheduler 驱动机器人回合：per-owner 轮询保证公平，单协程串行执行。
package scheduler

import (
	"fmt"
	"sync"

	"fleet/internal/fleet"
)

// Registry 持有运行时机器人集，并实现两级轮询游标：
// 先在 owner 之间轮转，再在该 owner 的机器人之间轮转。
// 任何 owner 的机器人数量都不影响其它 owner 的轮次频率。
type Registry struct {
	mu          sync.RWMutex
	owners      []string
	byOwner     map[string][]*fleet.Bot
	byID        map[string]*fleet.Bot
	ownerCursor int
	botCursor   map[string]int
}

func NewRegistry(bots []*fleet.Bot) *Registry {
	r := &Registry{
		byOwner:   make(map[string][]*fleet.Bot),
		byID:      make(map[string]*fleet.Bot),
		botCursor: make(map[string]int),
	}
	r.replaceLocked(bots)
	return r
}

// ReplaceAll 热重载后整体替换机器人集。游标尽量保留，避免重载导致轮询回绕。
func (r *Registry) ReplaceAll(bots []*fleet.Bot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	oldOwnerCursor := r.ownerCursor
	oldBotCursor := r.botCursor
	r.byOwner = make(map[string][]*fleet.Bot)
	r.byID = make(map[string]*fleet.Bot)
	r.owners = nil
	r.botCursor = make(map[string]int)
	r.replaceLocked(bots)
	if oldOwnerCursor < len(r.owners) {
		r.ownerCursor = oldOwnerCursor
	}
	for owner, cur := range oldBotCursor {
		if n := len(r.byOwner[owner]); n > 0 {
			r.botCursor[owner] = cur % n
		}
	}
}

func (r *Registry) replaceLocked(bots []*fleet.Bot) {
	for _, b := range bots {
		if b == nil {
			continue
		}
		if _, ok := r.byOwner[b.OwnerID]; !ok {
			r.owners = append(r.owners, b.OwnerID)
		}
		r.byOwner[b.OwnerID] = append(r.byOwner[b.OwnerID], b)
		r.byID[b.ID] = b
	}
}

// NextTurn 返回下一个应获得回合的机器人。两级游标都向前推进；
// 暂停中的机器人被跳过但不消耗其 owner 的轮次。无可用机器人返回 false。
func (r *Registry) NextTurn() (*fleet.Bot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.owners)
	for i := 0; i < n; i++ {
		owner := r.owners[(r.ownerCursor+i)%n]
		if bot, ok := r.nextBotLocked(owner); ok {
			r.ownerCursor = (r.ownerCursor + i + 1) % n
			return bot, true
		}
	}
	return nil, false
}

// PeekTurn 返回 NextTurn 将给出的机器人，但不推进任何游标。
func (r *Registry) PeekTurn() (*fleet.Bot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := len(r.owners)
	for i := 0; i < n; i++ {
		owner := r.owners[(r.ownerCursor+i)%n]
		bots := r.byOwner[owner]
		bn := len(bots)
		for j := 0; j < bn; j++ {
			bot := bots[(r.botCursor[owner]+j)%bn]
			if !bot.Paused {
				return bot, true
			}
		}
	}
	return nil, false
}

func (r *Registry) nextBotLocked(owner string) (*fleet.Bot, bool) {
	bots := r.byOwner[owner]
	n := len(bots)
	for j := 0; j < n; j++ {
		idx := (r.botCursor[owner] + j) % n
		bot := bots[idx]
		if bot.Paused {
			continue
		}
		r.botCursor[owner] = (idx + 1) % n
		return bot, true
	}
	return nil, false
}

func (r *Registry) Get(botID string) (*fleet.Bot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.byID[botID]
	return b, ok
}

// All 返回全部机器人（注册顺序）。
func (r *Registry) All() []*fleet.Bot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*fleet.Bot
	for _, owner := range r.owners {
		out = append(out, r.byOwner[owner]...)
	}
	return out
}

// Owners 返回 owner 列表（注册顺序）。
func (r *Registry) Owners() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.owners))
	copy(out, r.owners)
	return out
}

// SetPaused 切换暂停位。暂停只影响后续轮询，不打断进行中的回合。
func (r *Registry) SetPaused(botID string, paused bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.byID[botID]
	if !ok {
		return fmt.Errorf("未知机器人 %q", botID)
	}
	b.Paused = paused
	return nil
}
