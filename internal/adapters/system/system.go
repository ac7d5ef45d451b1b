// Package system samples host CPU, memory and load with gopsutil.
package system

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/vibepanel/vibepanel/internal/adapters/source"
	"github.com/vibepanel/vibepanel/internal/domain"
	"github.com/vibepanel/vibepanel/internal/logging"
)

const (
	DefaultInterval = 2 * time.Second
	eventKey        = "system"
)

// Sampler reads the raw figures. The gopsutil implementation is used
// outside tests.
type Sampler interface {
	CPU(ctx context.Context) (float64, error)
	Memory(ctx context.Context) (used, total uint64, err error)
	Load(ctx context.Context) (float64, error)
}

type gopsutilSampler struct{}

func (gopsutilSampler) CPU(ctx context.Context) (float64, error) {
	pct, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return 0, err
	}
	if len(pct) == 0 {
		return 0, fmt.Errorf("no cpu figures")
	}
	return pct[0], nil
}

func (gopsutilSampler) Memory(ctx context.Context) (uint64, uint64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, 0, err
	}
	return vm.Used, vm.Total, nil
}

func (gopsutilSampler) Load(ctx context.Context) (float64, error) {
	avg, err := load.AvgWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return avg.Load1, nil
}

// Adapter is the system domain adapter.
type Adapter struct {
	*source.Emitter
	logger   logging.Logger
	interval time.Duration
	sampler  Sampler
}

func New(interval time.Duration, logger logging.Logger) *Adapter {
	if logger == nil {
		logger = logging.Nop()
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Adapter{
		Emitter:  source.NewEmitter(domain.System),
		logger:   logger,
		interval: interval,
		sampler:  gopsutilSampler{},
	}
}

func (a *Adapter) Probe(ctx context.Context) domain.Availability {
	if _, _, err := a.sampler.Memory(ctx); err != nil {
		return domain.Unavailable
	}
	return domain.Ready
}

func (a *Adapter) Start(ctx context.Context) (source.Handle, error) {
	st, err := a.Sample(ctx)
	if err != nil {
		return nil, source.Unavailable(err.Error())
	}
	if err := a.Emit(ctx, eventKey, st); err != nil {
		return nil, err
	}
	return source.Go(ctx, nil, func(ctx context.Context) error {
		last := st
		return source.Tick(ctx, a.interval, func(ctx context.Context) error {
			next, err := a.Sample(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return source.Transient("system sample", err)
			}
			if reflect.DeepEqual(next, last) {
				return nil
			}
			last = next
			_ = a.Emit(ctx, eventKey, next)
			return nil
		})
	}), nil
}

// Sample reads one set of figures. Partial failures are tolerated as long
// as memory could be read.
func (a *Adapter) Sample(ctx context.Context) (domain.SystemState, error) {
	var (
		st   domain.SystemState
		errs []string
	)
	used, total, err := a.sampler.Memory(ctx)
	if err != nil {
		return st, fmt.Errorf("memory: %w", err)
	}
	st.MemoryUsed, st.MemoryTotal = min(used, total), total
	if total > 0 {
		st.MemoryPercent = float64(st.MemoryUsed) / float64(total) * 100
	}
	if pct, err := a.sampler.CPU(ctx); err == nil {
		st.CPUPercent = min(max(pct, 0), 100)
	} else {
		errs = append(errs, "cpu: "+err.Error())
	}
	if l, err := a.sampler.Load(ctx); err == nil {
		st.Load1 = l
	} else {
		errs = append(errs, "load: "+err.Error())
	}
	if len(errs) > 0 {
		a.logger.Debug("partial system sample", "errors", strings.Join(errs, "; "))
	}
	return st, nil
}
