// Package timeouts defines shared timeout constants used across the desk
// runtime. Centralizing these values prevents drift between layers and makes
// the durations discoverable.
package timeouts

import "time"

// HandleUpdate caps the processing time for one inbound chat update. A stuck
// store call should stall a single update, not the polling loop.
const HandleUpdate = 30 * time.Second

// Shutdown limits how long the runtime waits for in-flight telemetry during
// graceful shutdown.
const Shutdown = 5 * time.Second
