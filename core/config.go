package core

import (
	"strconv"
	"time"
)

// TransportMode is resolved once per destination at configuration time
// (spec.md §9's Open Question resolution), not chosen per-batch.
type TransportMode string

const (
	ModeRequestReply TransportMode = "request_reply"
	ModePublish      TransportMode = "publish"
)

// ViewerKind picks the shared-memory name prefix (spec.md §6) for a
// StreamingBackend, mirroring the original's fiji_stream.py/
// napari_stream.py split (see SPEC_FULL.md). It does not select a
// transport mode; BackendConfig.Mode is always set explicitly.
type ViewerKind string

const (
	ViewerNapari ViewerKind = "napari"
	ViewerFiji   ViewerKind = "fiji"
)

// ShmPrefix returns the viewer-specific shared-memory name prefix of
// spec.md §6.
func (v ViewerKind) ShmPrefix() string {
	switch v {
	case ViewerFiji:
		return "fiji_"
	default:
		return "napari_"
	}
}

// BackendConfig configures a single producer-side destination: host,
// port, the fixed transport mode for that destination, the publish
// high-water mark, and the request/reply ack deadline.
type BackendConfig struct {
	Destination   string
	Host          string
	Port          int
	Viewer        ViewerKind
	Mode          TransportMode
	HighWaterMark int           // outbound queue bound for ModePublish (spec.md §4.2)
	AckDeadline   time.Duration // request/reply deadline (spec.md §5)
	// Source and PlatePath are not read by StreamingBackend; the
	// "source" and "plate_path" virtual components it injects
	// (spec.md §4.3 step 3) come from bundle.BatchOpts.
	Source    string
	PlatePath string
}

// Validate enforces spec.md §7's Configuration error kind: required
// kwargs missing.
func (c BackendConfig) Validate() error {
	if c.Destination == "" {
		return NewConfigurationErr("destination is required")
	}
	if c.Host == "" || c.Port == 0 {
		return NewConfigurationErr("destination %q: host/port are required", c.Destination)
	}
	if c.Mode != ModeRequestReply && c.Mode != ModePublish {
		return NewConfigurationErr("destination %q: transport mode must be set at configuration time", c.Destination)
	}
	if c.Mode == ModePublish && c.HighWaterMark <= 0 {
		return NewConfigurationErr("destination %q: positive high_water_mark required for publish mode", c.Destination)
	}
	if c.Mode == ModeRequestReply && c.AckDeadline <= 0 {
		return NewConfigurationErr("destination %q: positive ack_deadline required for request/reply mode", c.Destination)
	}
	return nil
}

// URL constructs the opaque transport URL per spec.md §6: a helper
// from (host, port, mode, config); the core never interprets it beyond
// passing it to net/http.
func (c BackendConfig) URL(trname string) string {
	scheme := "http"
	path := "/v1/msgstream/"
	if c.Mode == ModePublish {
		path = "/v1/objstream/"
	}
	return scheme + "://" + c.Host + ":" + strconv.Itoa(c.Port) + path + trname
}

// EngineConfig configures a receiver-side DebouncedBatchEngine
// (spec.md §4.5).
type EngineConfig struct {
	DebounceDelay time.Duration
	MaxWait       time.Duration
}

func (c EngineConfig) Validate() error {
	if c.DebounceDelay <= 0 || c.MaxWait <= 0 {
		return NewConfigurationErr("debounce_delay and max_wait must both be positive")
	}
	if c.DebounceDelay > c.MaxWait {
		return NewConfigurationErr("debounce_delay must not exceed max_wait")
	}
	return nil
}
