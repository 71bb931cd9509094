package metrics

import "testing"

// BenchmarkCollector_BytesReceived measures the per-chunk counter
// overhead on the read loop's hot path.
func BenchmarkCollector_BytesReceived(b *testing.B) {
	c := New()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.BytesReceived(32)
	}
}

// BenchmarkCollector_TelemetryReceived includes the timestamp lock.
func BenchmarkCollector_TelemetryReceived(b *testing.B) {
	c := New()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.TelemetryReceived()
	}
}

// BenchmarkNilCollector verifies nil-safe no-ops have zero overhead.
func BenchmarkNilCollector(b *testing.B) {
	var c *Collector
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.CommandSent()
		c.BytesSent(6)
		c.RecordError("test")
	}
}
