package renkei

import (
	"context"
	"errors"
	"net"
	"time"
)

// healthProbeTimeout bounds a single liveness probe round trip.
const healthProbeTimeout = 5 * time.Second

// healthLoop issues a GET_INFO probe each HealthCheckInterval while the
// connection is up. A probe failure is treated exactly like a socket
// error: the connection is torn down and reconnection begins. One loop
// runs per established connection; it exits when that connection goes
// away. A zero interval disables the monitor entirely (no health
// traffic), which is handled by the caller never starting this loop.
func (c *Client) healthLoop(conn net.Conn, session *closeOnce) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.HealthCheckInterval)
	defer ticker.Stop()

	c.logDebug("health monitor started", "interval", c.cfg.HealthCheckInterval.String())

	for {
		select {
		case <-session.Done():
			return
		case <-ticker.C:
		}

		c.mu.Lock()
		current := c.conn
		state := c.state
		c.mu.Unlock()
		if state != StateConnected || current != conn {
			// This connection is gone; a new loop starts with the next one.
			return
		}

		probeTimeout := healthProbeTimeout
		if c.cfg.CommandTimeout < probeTimeout {
			probeTimeout = c.cfg.CommandTimeout
		}
		probeCtx, cancel := context.WithTimeout(context.Background(), probeTimeout)
		_, err := c.GetInfo(probeCtx)
		cancel()

		if err == nil {
			c.logDebug("health probe ok")
			continue
		}

		// A caller's own GET_INFO in flight proves the link is carrying
		// traffic; skip this round rather than double-probe.
		if errors.Is(err, ErrCommandPending) {
			c.logDebug("health probe skipped, GET_INFO already in flight")
			continue
		}

		if session.isClosed() {
			return
		}

		c.errorsTotal.Add(1)
		c.logWarn("health probe failed, treating as connection loss", "error", err)
		c.handleConnectionLoss(conn, session)
		return
	}
}
