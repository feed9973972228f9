package session

// Event is a typed signal from the real-time transport or the operator.
// Attempt, when set, must match the coordinator's current attempt or the
// event is rejected as stale.
type Event interface {
	kind() eventKind
	attemptID() string
}

type eventKind int

const (
	evConnectSucceeded eventKind = iota + 1
	evDisconnected
	evTransportFailed
	evQualityDegraded
	evQualityRestored
	evRetry
	evMediaDeviceFailed
)

func (k eventKind) String() string {
	switch k {
	case evConnectSucceeded:
		return "connect_succeeded"
	case evDisconnected:
		return "disconnected"
	case evTransportFailed:
		return "transport_failed"
	case evQualityDegraded:
		return "quality_degraded"
	case evQualityRestored:
		return "quality_restored"
	case evRetry:
		return "retry"
	case evMediaDeviceFailed:
		return "media_device_failed"
	default:
		return "unknown"
	}
}

// ConnectSucceeded reports that the transport joined the room.
type ConnectSucceeded struct{ Attempt string }

// Disconnected reports that the transport left the room.
type Disconnected struct{ Attempt string }

// TransportFailed reports a transport-level error.
type TransportFailed struct {
	Attempt string
	Message string
}

// QualityDegraded reports a poor but live connection.
type QualityDegraded struct{ Attempt string }

// QualityRestored reports that a degraded connection recovered.
type QualityRestored struct{ Attempt string }

// Retry is the operator pressing reconnect.
type Retry struct{}

// MediaDeviceFailed reports a camera or microphone failure. It never
// changes the connection state.
type MediaDeviceFailed struct {
	Attempt  string
	Category MediaCategory
}

func (ConnectSucceeded) kind() eventKind  { return evConnectSucceeded }
func (Disconnected) kind() eventKind      { return evDisconnected }
func (TransportFailed) kind() eventKind   { return evTransportFailed }
func (QualityDegraded) kind() eventKind   { return evQualityDegraded }
func (QualityRestored) kind() eventKind   { return evQualityRestored }
func (Retry) kind() eventKind             { return evRetry }
func (MediaDeviceFailed) kind() eventKind { return evMediaDeviceFailed }

func (e ConnectSucceeded) attemptID() string  { return e.Attempt }
func (e Disconnected) attemptID() string      { return e.Attempt }
func (e TransportFailed) attemptID() string   { return e.Attempt }
func (e QualityDegraded) attemptID() string   { return e.Attempt }
func (e QualityRestored) attemptID() string   { return e.Attempt }
func (Retry) attemptID() string               { return "" }
func (e MediaDeviceFailed) attemptID() string { return e.Attempt }

// MediaCategory classifies a media-device failure.
type MediaCategory string

const (
	MediaPermissionDenied MediaCategory = "permission-denied"
	MediaDeviceNotFound   MediaCategory = "device-not-found"
	MediaDeviceInUse      MediaCategory = "device-in-use"
	MediaOther            MediaCategory = "other"
)

// Advisory returns the text shown for the category.
func (c MediaCategory) Advisory() string {
	switch c {
	case MediaPermissionDenied:
		return "Camera or microphone access was denied. Allow access in your device settings, then retry."
	case MediaDeviceNotFound:
		return "No camera or microphone was found. Connect a device, then retry."
	case MediaDeviceInUse:
		return "Your camera or microphone is being used by another application."
	default:
		return "A camera or microphone problem occurred. You can continue with audio only or retry."
	}
}

// ParseMediaCategory maps a category name, or the media error name reported
// by the transport, onto a category.
func ParseMediaCategory(s string) MediaCategory {
	switch s {
	case string(MediaPermissionDenied), "NotAllowedError", "SecurityError":
		return MediaPermissionDenied
	case string(MediaDeviceNotFound), "NotFoundError", "OverconstrainedError":
		return MediaDeviceNotFound
	case string(MediaDeviceInUse), "NotReadableError", "AbortError":
		return MediaDeviceInUse
	default:
		return MediaOther
	}
}
