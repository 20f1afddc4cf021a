package mux

import (
	"time"

	metrics "github.com/armon/go-metrics"
)

var (
	metricChannelOpened     = []string{"mux", "channel", "opened"}
	metricChannelClosed     = []string{"mux", "channel", "closed"}
	metricMessagesSent      = []string{"mux", "messages", "sent"}
	metricMessagesReceived  = []string{"mux", "messages", "received"}
	metricMessagesDropped   = []string{"mux", "messages", "dropped"}
	metricBytesSent         = []string{"mux", "bytes", "sent"}
	metricBytesReceived     = []string{"mux", "bytes", "received"}
	metricControlSent       = []string{"mux", "control", "sent"}
	metricControlReceived   = []string{"mux", "control", "received"}
	metricProtocolViolation = []string{"mux", "protocol", "violation"}
	metricStreamsReset      = []string{"mux", "streams", "reset"}
	metricLimitRaised       = []string{"mux", "streams", "limit_raised"}
	metricBufferedFlush     = []string{"mux", "buffered", "flush"}
	metricOpenHandshake     = []string{"mux", "channel", "open_time"}
)

// incr and measure are only called from the transport loop.
func (c *Connection) incr(key []string, n int) {
	metrics.IncrCounterWithLabels(key, float32(n), c.labels)
}

func (c *Connection) measure(key []string, start time.Time) {
	metrics.MeasureSinceWithLabels(key, start, c.labels)
}
