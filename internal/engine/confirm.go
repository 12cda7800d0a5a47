package engine

import (
	"context"
	"log/slog"
	"time"
)

// confirm polls TxInfo for accepted transactions until each is executed,
// ConfirmTimeout elapses or ctx is done. Polling failures are logged and the
// transaction is retried on the next round.
func (e *Engine) confirm(ctx context.Context) {
	pending := e.metrics.Unconfirmed()
	if len(pending) == 0 {
		return
	}
	e.logger.Info("waiting for confirmations",
		slog.Int("pending", len(pending)),
		slog.Duration("pollInterval", e.cfg.PollInterval),
		slog.Duration("timeout", e.cfg.ConfirmTimeout),
	)

	ctx, cancel := context.WithTimeout(ctx, e.cfg.ConfirmTimeout)
	defer cancel()

	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		for _, tx := range pending {
			info, err := e.cfg.Provider.TxInfo(ctx, tx.Hash)
			if err != nil {
				if ctx.Err() != nil {
					break
				}
				e.logger.Debug("tx info failed",
					slog.String("hash", tx.Hash.Hex()),
					slog.String("error", err.Error()),
				)
				continue
			}
			if !info.Executed {
				continue
			}
			success := info.Success != nil && *info.Success
			e.metrics.RecordConfirmed(tx.Hash, success, time.Now())
			if !success {
				e.logger.Debug("transaction failed on execution",
					slog.String("hash", tx.Hash.Hex()),
					slog.String("reason", info.FailReason),
				)
			}
		}

		pending = e.metrics.Unconfirmed()
		if len(pending) == 0 {
			e.logger.Info("all transactions confirmed")
			return
		}

		select {
		case <-ctx.Done():
			e.logger.Warn("confirmation incomplete", slog.Int("unconfirmed", len(pending)))
			return
		case <-ticker.C:
		}
	}
}
