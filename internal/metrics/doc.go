// Package metrics exposes the bridge's Prometheus metrics.
//
// # Age Counters
//
// AgeCounters classify ages (time since some event) into rolling windows.
// Periods are written as a positive integer followed by a unit:
//
//	h  hour
//	d  day
//	w  week
//
// The default set is 1h, 1d and 7d. An unbounded "all" bucket is always
// appended. Bumping an age increments every bucket whose threshold is strictly
// greater than the age, so an age of exactly one day is not counted in "1d".
//
// SetGauge pushes each bucket to a GaugeSink with an "age" label, which lets
// a single GaugeVec carry all windows:
//
//	coven_bridge_active_rooms{age="1h"} 3
//	coven_bridge_active_rooms{age="1d"} 11
//	coven_bridge_active_rooms{age="7d"} 40
//	coven_bridge_active_rooms{age="all"} 52
//
// # Scrape-time Collectors
//
// Gauges that summarise in-memory state are computed when Prometheus scrapes
// the endpoint. Register a function with Metrics.AddCollector; Handler runs
// every collector before rendering the registry.
//
// # Configuration
//
//	metrics:
//	  enabled: true
//	  address: ":9090"
//	  path: "/metrics"
//	  age_periods: ["1h", "1d", "7d"]
package metrics
