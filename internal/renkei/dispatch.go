package renkei

import "fmt"

// Event dispatch: inbound frames are routed either to the pending table
// (correlated responses) or to the status callback queue (pushes).
// Callback invocation happens on a dedicated worker goroutine so a slow
// or blocking callback can never stall the read loop.

// eventQueueSize bounds the status callback queue. Overflow drops the
// event and increments EventsDropped rather than blocking the reader.
const eventQueueSize = 64

// handleFrame routes one decoded inbound frame.
func (c *Client) handleFrame(f frame) {
	name := f.name()

	if f.Response != "" {
		// ERROR responses carry no command name; fail the oldest
		// pending command, matching controller behaviour.
		if name == string(EventError) {
			devErr := decodeDeviceError(f.Data)
			if failed := c.pending.failOldest(devErr); failed != "" {
				c.logWarn("device error correlated to oldest pending command",
					"command", failed, "code", devErr.Code)
			} else {
				c.logWarn("device error with no pending command", "code", devErr.Code)
				c.enqueueEvent(f)
			}
			return
		}

		if c.pending.resolve(name, f.Data) {
			c.logDebug("response correlated", "command", name)
			return
		}

		// No waiter. Status-shaped pushes sometimes arrive under the
		// response key; anything else is a stray or late response.
		if isEventName(name) {
			c.enqueueEvent(f)
			return
		}
		c.logWarn("stray response dropped", "command", name)
		return
	}

	c.enqueueEvent(f)
}

// isEventName reports whether a discriminator names a known push type.
func isEventName(name string) bool {
	switch EventType(name) {
	case EventCurrentPos, EventStatus, EventError:
		return true
	default:
		return false
	}
}

// enqueueEvent classifies a push frame and queues it for the callback
// worker. Unrecognised event types are logged and dropped without
// failing the connection.
func (c *Client) enqueueEvent(f frame) {
	name := f.name()
	if !isEventName(name) {
		c.logWarn("unrecognised event dropped", "event", name)
		return
	}

	status, err := decodeStatus(f.Data)
	if err != nil {
		c.decodeErrors.Add(1)
		c.logWarn("undecodable event dropped", "event", name, "error", err)
		return
	}

	update := StatusUpdate{Event: EventType(name), Status: status}
	select {
	case c.eventQueue <- update:
	default:
		c.eventsDropped.Add(1)
		c.errorsTotal.Add(1)
		c.logWarn("event queue full, dropping update", "event", name)
	}
}

// eventWorker drains the event queue and invokes the status callback.
// Panics in the callback are recovered and logged.
func (c *Client) eventWorker(done *closeOnce) {
	defer c.wg.Done()

	for {
		select {
		case <-done.Done():
			return
		case update := <-c.eventQueue:
			c.statusMu.RLock()
			callback := c.onStatus
			c.statusMu.RUnlock()

			if callback == nil {
				continue
			}
			func() {
				defer func() {
					if r := recover(); r != nil {
						c.logError("status callback panic", fmt.Errorf("%v", r))
					}
				}()
				callback(update)
			}()
		}
	}
}
