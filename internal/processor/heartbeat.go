package processor

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/convoflow/convoflow/internal/queue"
)

// Extender extends the visibility deadline of one in-flight queue message.
type Extender interface {
	Extend(ctx context.Context, id string) error
}

// heartbeat periodically extends a message's visibility timeout so the queue
// does not redeliver it while the pipeline runs a long external call. Stop
// cancels the loop and waits for it to exit, guaranteeing no extension is
// issued after the pipeline reaches a terminal state.
type heartbeat struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// startHeartbeat launches the extension loop for the given message id.
// Extension failures never crash the pipeline; losing ownership of the
// message stops the loop.
func startHeartbeat(ctx context.Context, log *slog.Logger, q Extender, messageID string, interval time.Duration) *heartbeat {
	hbCtx, cancel := context.WithCancel(ctx)
	hb := &heartbeat{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(hb.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
			}
			if err := q.Extend(hbCtx, messageID); err != nil {
				if errors.Is(err, queue.ErrMessageNotInFlight) {
					log.Warn("message ownership lost, stopping heartbeat",
						slog.String("message_id", messageID),
					)
					return
				}
				if errors.Is(err, context.Canceled) {
					return
				}
				log.Error("visibility extension failed",
					slog.String("message_id", messageID),
					slog.Any("error", err),
				)
			}
		}
	}()

	return hb
}

// Stop cancels the loop and blocks until it has exited.
func (h *heartbeat) Stop() {
	h.cancel()
	<-h.done
}
