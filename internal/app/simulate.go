package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"hotel-cache-loss/internal/aggregate"
	"hotel-cache-loss/internal/service"
	"hotel-cache-loss/internal/storage"
)

// Simulate 执行一次完整的损失计算，并按需导出、落库、告警。
func (a *App) Simulate(ctx context.Context, opts SimulateOptions) (service.Outcome, error) {
	if opts.CSVPath == "" {
		opts.CSVPath = a.Config.Export.CSVPath
	}
	if opts.PNGPath == "" {
		opts.PNGPath = a.Config.Export.PNGPath
	}

	var runStore storage.RunStore
	if opts.Persist {
		store, closeStore, err := a.openStore(ctx)
		if err != nil {
			return service.Outcome{}, err
		}
		if store == nil {
			return service.Outcome{}, errors.New("database.dsn 未配置，无法保存结果")
		}
		defer closeStore()
		runStore = store
	}

	cfg := *a.Config
	cfg.Scheduler.AdvisoryLockKey = 0
	if !opts.Alert {
		cfg.Alerting.Enabled = false
	}

	svc := service.New(&cfg, nil, a.newAggregator(nil, opts.RefreshOverride, 0), runStore, a.newNotifier(), nil, a.Logger)
	out, err := svc.ProcessRun(ctx, time.Now().UTC())
	if err != nil {
		return out, err
	}

	for _, line := range aggregate.FailureReport(out.Result.Failures) {
		fmt.Fprintln(a.Out, line)
	}
	fmt.Fprintf(a.Out, "vendors=%d hotels=%d mean_loss=%s\n",
		out.Run.Vendors, out.Run.Hotels, out.Run.MeanLoss.StringFixed(4))

	if err := a.writeOutputs(out.Table, opts.CSVPath, opts.PNGPath, a.Config.ResolveTopVendors(opts.TopVendors)); err != nil {
		return out, err
	}
	return out, nil
}
