package loader

import (
	"context"
	"sync"
	"time"

	"fleet/internal/logger"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 500 * time.Millisecond

// Watcher 监听 profiles 目录变化并在去抖后重新加载，通知回调。
type Watcher struct {
	dir      string
	onReload func([]OwnerProfile)

	mu      sync.Mutex
	current []OwnerProfile
}

func NewWatcher(dir string, onReload func([]OwnerProfile)) *Watcher {
	return &Watcher{dir: dir, onReload: onReload}
}

// Load 初次加载并缓存结果。
func (w *Watcher) Load() ([]OwnerProfile, error) {
	owners, err := LoadDir(w.dir)
	if err != nil {
		return nil, err
	}
	w.mu.Lock()
	w.current = owners
	w.mu.Unlock()
	return owners, nil
}

// SetOnReload 设置重载回调。应在 Watch 启动前调用。
func (w *Watcher) SetOnReload(fn func([]OwnerProfile)) {
	w.onReload = fn
}

// Current 返回最近一次成功加载的 profiles。
func (w *Watcher) Current() []OwnerProfile {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Watch 阻塞运行，直到 ctx 取消。加载失败只告警，保留旧 profiles。
func (w *Watcher) Watch(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()
	if err := fw.Add(w.dir); err != nil {
		return err
	}
	logger.Infof("profiles: watching %s", w.dir)

	var timer *time.Timer
	reload := make(chan struct{}, 1)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(reloadDebounce, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			logger.Warnf("profiles: watch error: %v", err)
		case <-reload:
			owners, err := LoadDir(w.dir)
			if err != nil {
				logger.Warnf("profiles: reload failed, keeping previous set: %v", err)
				continue
			}
			w.mu.Lock()
			w.current = owners
			w.mu.Unlock()
			logger.Infof("profiles: reloaded %d owner file(s)", len(owners))
			if w.onReload != nil {
				w.onReload(owners)
			}
		}
	}
}
