package app

import (
	"context"
	"fmt"
	"time"

	"fleet/internal/broadcast"
	fltcfg "fleet/internal/config"
	"fleet/internal/config/loader"
	"fleet/internal/logger"
	"fleet/internal/scheduler"
	"fleet/internal/store"
	"fleet/internal/store/decisionlog"
	"fleet/internal/store/gormstore"
	fleethttp "fleet/internal/transport/http"

	"golang.org/x/sync/errgroup"
)

// App 负责应用级编排：加载配置→装配依赖→启动调度循环与 HTTP 服务。
type App struct {
	cfg       *fltcfg.Config
	scheduler *scheduler.Scheduler
	httpSrv   *fleethttp.Server
	hub       *broadcast.Hub
	watcher   *loader.Watcher
	gormStore *gormstore.GormStore
	logStore  *decisionlog.Store
}

// NewApp 根据配置构建应用对象（不启动）
func NewApp(cfg *fltcfg.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(context.Background(), cfg)
}

// Run 启动调度循环、HTTP 服务与 profile 热重载，阻塞直到 ctx 取消。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		defer a.Close()
		return a.scheduler.Run(ctx)
	})

	group.Go(func() error {
		if err := a.httpSrv.Run(ctx); err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})

	if a.cfg.Fleet.HotReload {
		a.watcher.SetOnReload(func(profiles []loader.OwnerProfile) { a.reloadFleet(ctx, profiles) })
		group.Go(func() error {
			if err := a.watcher.Watch(ctx); err != nil && ctx.Err() == nil {
				return fmt.Errorf("profile watcher error: %w", err)
			}
			return nil
		})
	}

	return group.Wait()
}

// reloadFleet profile 目录变更后重新对账并替换运行中的机器人集。
func (a *App) reloadFleet(ctx context.Context, profiles []loader.OwnerProfile) {
	persisted, err := a.gormStore.LoadAll(ctx)
	if err != nil {
		logger.Warnf("热重载读取持久化状态失败，保留旧机器人集: %v", err)
		return
	}
	bots, orphans := store.ReconcileFleet(profiles, persisted, a.cfg.Trading.InitialBalance, time.Now())
	if len(orphans) > 0 {
		logger.Warnf("热重载后有 %d 个机器人不再出现在 profile 内: %v", len(orphans), orphans)
	}
	if err := a.scheduler.ReplaceBots(ctx, bots); err != nil {
		logger.Warnf("热重载替换机器人集失败: %v", err)
	}
}

// Close 释放存储与 WebSocket 连接。可重复调用。
func (a *App) Close() {
	if a == nil {
		return
	}
	if a.hub != nil {
		a.hub.Shutdown()
	}
	if a.logStore != nil {
		a.logStore.Close()
	}
	if a.gormStore != nil {
		a.gormStore.Close()
	}
}
