package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"golang.org/x/sync/errgroup"

	"github.com/gateway-fm/rollupsim/internal/rollup"
)

// runTicks executes up to cfg.Ticks epochs and returns how many completed.
// Cancellation stops generation; submissions already dispatched finish.
func (e *Engine) runTicks(ctx context.Context) (uint32, error) {
	var done uint32
	for tick := uint32(0); tick < e.cfg.Ticks; tick++ {
		if err := ctx.Err(); err != nil {
			return done, err
		}

		count := e.cfg.Rand.Uint32Range(1, e.cfg.TargetTPS)
		e.logger.Debug("tick", slog.Uint64("tick", uint64(tick)), slog.Uint64("count", uint64(count)))

		var err error
		if e.cfg.BatchSize > 1 {
			err = e.runBatchTick(ctx, tick, count)
		} else {
			err = e.runTick(ctx, tick, count)
		}
		if err != nil {
			return done, err
		}
		done++
	}
	return done, nil
}

// runTick generates, throttles and dispatches count single submissions.
func (e *Engine) runTick(ctx context.Context, tick, count uint32) error {
	var g errgroup.Group
	g.SetLimit(e.cfg.Workers)
	sendCtx := context.WithoutCancel(ctx)

	var err error
	for i := uint32(0); i < count; i++ {
		if err = ctx.Err(); err != nil {
			break
		}

		var tx rollup.Transaction
		tx, err = e.cfg.Factory.Generate()
		if err != nil {
			err = fmt.Errorf("generate transaction: %w", err)
			break
		}
		seq := e.seq.Add(1)

		if err = e.cfg.Throttler.Throttle(ctx); err != nil {
			break
		}

		g.Go(func() error {
			e.submit(ctx, sendCtx, tick, seq, tx)
			return nil
		})
	}

	_ = g.Wait()
	return err
}

// submit sends tx, retrying transient failures, and records the outcome.
// ctx gates retries; sendCtx outlives cancellation so an in-flight call
// completes.
func (e *Engine) submit(ctx, sendCtx context.Context, tick uint32, seq uint64, tx rollup.Transaction) {
	kind := tx.Kind()
	e.metrics.RecordSubmitted(kind)
	e.metrics.AddInFlight(1)
	defer e.metrics.AddInFlight(-1)

	var fee *uint256.Int
	if t, ok := tx.(rollup.Transfer); ok && e.cfg.QueryFees {
		fee = e.quoteFee(sendCtx, t.FromAddress)
	}

	start := time.Now()
	var (
		hash     rollup.TxHash
		err      error
		attempts int
	)
	for {
		attempts++
		hash, err = e.cfg.Provider.SendTx(sendCtx, tx, nil)
		if err == nil || !e.retry(ctx, attempts, 1, err) {
			break
		}
	}

	e.finish(Outcome{
		Seq:       seq,
		Tick:      tick,
		Tx:        tx,
		Hash:      hash,
		Attempts:  attempts,
		Fee:       fee,
		Latency:   time.Since(start),
		Timestamp: time.Now(),
	}, err)
}

// retry reports whether a failed attempt should be repeated, after waiting
// out the backoff and one fresh throttle permit per resubmitted transaction.
func (e *Engine) retry(ctx context.Context, attempts, permits int, err error) bool {
	if !rollup.IsRetryable(err) || attempts > e.cfg.MaxRetries {
		return false
	}

	kind := rollup.KindOf(err)
	backoff := min(time.Duration(attempts)*e.cfg.RetryBackoff, e.cfg.Throttler.Interval())
	e.logger.Debug("retrying submission",
		slog.Int("attempt", attempts),
		slog.String("kind", kind.String()),
		slog.Duration("backoff", backoff),
	)

	if backoff > 0 {
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}
	}
	for range permits {
		if e.cfg.Throttler.Throttle(ctx) != nil {
			return false
		}
	}

	e.metrics.RecordRetry(kind)
	return true
}

// finish completes o with err and records it in the registry, the metrics
// and the outcome list.
func (e *Engine) finish(o Outcome, err error) {
	kind := o.Tx.Kind()
	if err != nil {
		o.ErrorKind = rollup.KindOf(err)
		o.Message = err.Error()
		e.metrics.RecordRejected(kind, o.ErrorKind, o.Latency)
		e.logger.Debug("submission rejected",
			slog.Uint64("seq", o.Seq),
			slog.String("tx", fmt.Sprint(o.Tx)),
			slog.String("error", o.Message),
		)
	} else {
		o.Accepted = true
		e.metrics.RecordAccepted(kind, o.Hash, o.Latency, o.Timestamp)
		e.applyBalances(o.Tx)
	}
	e.record(o)
}

// applyBalances mirrors an accepted transaction into the registry.
func (e *Engine) applyBalances(tx rollup.Transaction) {
	amount := new(big.Int).SetUint64(tx.Value())

	var err error
	switch t := tx.(type) {
	case rollup.Deposit:
		_, err = e.cfg.Registry.UpdateBalance(t.To, e.symbol, amount)
	case rollup.Transfer:
		if _, err = e.cfg.Registry.UpdateBalance(t.From, e.symbol, new(big.Int).Neg(amount)); err == nil {
			_, err = e.cfg.Registry.UpdateBalance(t.To, e.symbol, amount)
		}
	}
	if err != nil {
		e.logger.Warn("failed to update balance", slog.String("error", err.Error()))
	}
}

// quoteFee asks the provider for the transfer fee. Failures are logged and
// yield nil; a missing quote never blocks a submission.
func (e *Engine) quoteFee(ctx context.Context, from common.Address) *uint256.Int {
	fee, err := e.cfg.Provider.GetTxFee(ctx, rollup.FeeType{Kind: rollup.FeeTransfer}, from, e.cfg.Token)
	if err != nil {
		e.logger.Debug("fee query failed", slog.String("error", err.Error()))
		return nil
	}
	total := fee.TotalFee()
	e.metrics.RecordFee(total)
	return total
}

// runBatchTick groups count transactions into batches of cfg.BatchSize.
// Each transaction in a batch takes one throttle permit before the batch is
// dispatched.
func (e *Engine) runBatchTick(ctx context.Context, tick, count uint32) error {
	var g errgroup.Group
	g.SetLimit(e.cfg.Workers)
	sendCtx := context.WithoutCancel(ctx)

	var err error
	batch := make([]rollup.Transaction, 0, e.cfg.BatchSize)
	seqs := make([]uint64, 0, e.cfg.BatchSize)

	dispatch := func() {
		if len(batch) == 0 {
			return
		}
		txs, ids := batch, seqs
		g.Go(func() error {
			e.submitBatch(ctx, sendCtx, tick, ids, txs)
			return nil
		})
		batch = make([]rollup.Transaction, 0, e.cfg.BatchSize)
		seqs = make([]uint64, 0, e.cfg.BatchSize)
	}

	for i := uint32(0); i < count; i++ {
		if err = ctx.Err(); err != nil {
			break
		}

		var tx rollup.Transaction
		tx, err = e.cfg.Factory.Generate()
		if err != nil {
			err = fmt.Errorf("generate transaction: %w", err)
			break
		}
		seq := e.seq.Add(1)

		if err = e.cfg.Throttler.Throttle(ctx); err != nil {
			break
		}
		batch = append(batch, tx)
		seqs = append(seqs, seq)
		if len(batch) == e.cfg.BatchSize {
			dispatch()
		}
	}

	// A partial batch whose permits were all granted is still sent.
	dispatch()

	_ = g.Wait()
	return err
}

// submitBatch sends txs atomically. Every transaction shares the batch's
// outcome: all accepted or all rejected with the same error.
func (e *Engine) submitBatch(ctx, sendCtx context.Context, tick uint32, seqs []uint64, txs []rollup.Transaction) {
	for _, tx := range txs {
		e.metrics.RecordSubmitted(tx.Kind())
	}
	e.metrics.AddInFlight(int64(len(txs)))
	defer e.metrics.AddInFlight(-int64(len(txs)))

	signed := make([]rollup.SignedTx, len(txs))
	var feeTypes []rollup.FeeType
	var payers []common.Address
	for i, tx := range txs {
		signed[i] = rollup.SignedTx{Tx: tx}
		if t, ok := tx.(rollup.Transfer); ok {
			feeTypes = append(feeTypes, rollup.FeeType{Kind: rollup.FeeTransfer})
			payers = append(payers, t.FromAddress)
		}
	}

	var fee *uint256.Int
	if e.cfg.QueryFees && len(feeTypes) > 0 {
		total, err := e.cfg.Provider.GetTxsBatchFee(sendCtx, feeTypes, payers, e.cfg.Token)
		if err != nil {
			e.logger.Debug("batch fee query failed", slog.String("error", err.Error()))
		} else {
			fee = total
			e.metrics.RecordFee(total)
		}
	}

	start := time.Now()
	var (
		hashes   []rollup.TxHash
		err      error
		attempts int
	)
	for {
		attempts++
		hashes, err = e.cfg.Provider.SendTxsBatch(sendCtx, signed, nil)
		if err == nil && len(hashes) != len(txs) {
			err = rollup.Errorf(rollup.KindMalformedResponse,
				"batch of %d returned %d hashes", len(txs), len(hashes))
		}
		if err == nil || !e.retry(ctx, attempts, len(txs), err) {
			break
		}
	}

	latency, now := time.Since(start), time.Now()
	batchID := int(seqs[0])
	for i, tx := range txs {
		o := Outcome{
			Seq:       seqs[i],
			Tick:      tick,
			Batch:     batchID,
			Tx:        tx,
			Attempts:  attempts,
			Latency:   latency,
			Timestamp: now,
		}
		if i == 0 {
			o.Fee = fee
		}
		if err == nil {
			o.Hash = hashes[i]
		}
		e.finish(o, err)
	}
}
