package vmpool

import (
	"context"
	"sync"
	"time"

	"github.com/jimmicro/grace"
	"github.com/rs/zerolog"
)

// loop 按固定间隔执行一次组件运行，同一个 loop 的两次运行不会重叠
type loop struct {
	name     string
	interval time.Duration
	run      func(ctx context.Context) error

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func newLoop(name string, interval time.Duration, run func(ctx context.Context) error) *loop {
	return &loop{
		name:     name,
		interval: interval,
		run:      run,
		done:     make(chan struct{}),
	}
}

// Name 实现 grace.Grace 接口
func (l *loop) Name() string {
	return l.name
}

func (l *loop) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	l.mu.Lock()
	l.cancel = cancel
	l.mu.Unlock()
	defer close(l.done)
	defer cancel()

	logger := zerolog.Ctx(ctx).With().Str("loop", l.name).Logger()
	ctx = logger.WithContext(ctx)

	err := grace.RunPeriodicTask(ctx, l.name, l.interval,
		func(ctx context.Context, _ time.Time) error {
			start := time.Now()
			err := l.run(ctx)
			logger.Debug().Dur("elapsed", time.Since(start)).Msg("Run finished")
			if ctx.Err() != nil {
				return nil
			}
			return err
		},
		grace.WithRunOnStart(true),
		grace.WithStopOnTaskError(false),
		grace.WithTaskLogger(&zerologLogger{}),
	)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// Shutdown 取消当前运行并等待其退出
func (l *loop) Shutdown(ctx context.Context) error {
	l.mu.Lock()
	cancel := l.cancel
	l.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
