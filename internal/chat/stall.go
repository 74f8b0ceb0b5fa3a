package chat

import (
	"context"
	"time"

	"github.com/xiaot623/gogo/chatcore/internal/domain"
	"github.com/xiaot623/gogo/chatcore/internal/store"
)

// RunStallMonitor fails a turn that has seen no frame for TurnTimeout. It blocks
// until ctx is done. A zero TurnTimeout disables the check.
func (c *Client) RunStallMonitor(ctx context.Context) {
	if c.cfg.TurnTimeout <= 0 {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sweepStalledTurn()
		}
	}
}

func (c *Client) sweepStalledTurn() {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.store.State()
	if !s.IsLoading && !s.TurnInFlight() {
		return
	}
	idle := c.now().Sub(c.lastActivity)
	if idle < c.cfg.TurnTimeout {
		return
	}

	err := domain.NewOpError(domain.OpStream, domain.ErrTurnStalled, "no response for "+idle.Round(time.Millisecond).String())
	c.logger.Warn().Str("session_id", s.SessionID).Dur("idle", idle).Msg("turn stalled")
	c.store.Dispatch(store.StreamFailed{SessionID: s.SessionID, Err: err})
	c.store.Dispatch(store.SendMessageFailure{SessionID: s.SessionID, Err: err})
}
