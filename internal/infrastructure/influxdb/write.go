package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// enqueue hands a point to the batching write API unless the client is
// closed. Never blocks.
func (c *Client) enqueue(measurement string, tags map[string]string, fields map[string]interface{}, ts time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, ts))
}

// WriteMotorPosition records one position sample in the motor_position
// measurement: the raw encoder value, the calibrated travel limit, the
// target the motor is heading for, and the derived travel percentage.
func (c *Client) WriteMotorPosition(motorID string, currentPos, limitPos, targetPos int, percent float64) {
	c.enqueue("motor_position",
		map[string]string{"motor_id": motorID},
		map[string]interface{}{
			"current_pos": currentPos,
			"limit_pos":   limitPos,
			"target_pos":  targetPos,
			"percent":     percent,
		},
		time.Now())
}

// WriteMotorFlags records the run and error flag bitfields so faults and
// motion activity can be trended. The derived fault field makes "any
// error bit set" queryable without bitwise maths in Flux.
func (c *Client) WriteMotorFlags(motorID string, runFlags, errFlags int) {
	c.enqueue("motor_flags",
		map[string]string{"motor_id": motorID},
		map[string]interface{}{
			"run_flags": runFlags,
			"err_flags": errFlags,
			"fault":     errFlags != 0,
		},
		time.Now())
}

// WriteLinkStats records the connection counters in the motor_link
// measurement. A rising reconnect or dropped-event rate is the first
// sign of a flaky cable or an overloaded controller.
func (c *Client) WriteLinkStats(motorID string, commandsSent, responses, reconnects, eventsDropped uint64) {
	c.enqueue("motor_link",
		map[string]string{"motor_id": motorID},
		map[string]interface{}{
			"commands_sent":  int64(commandsSent), //nolint:gosec // counters never approach int64 max
			"responses":      int64(responses),
			"reconnects":     int64(reconnects),
			"events_dropped": int64(eventsDropped),
		},
		time.Now())
}

// WritePoint records a custom measurement. Keep tags low-cardinality;
// they are indexed.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	c.enqueue(measurement, tags, fields, time.Now())
}

// WritePointWithTime is WritePoint with an explicit timestamp, for data
// that arrives late.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	c.enqueue(measurement, tags, fields, timestamp)
}
