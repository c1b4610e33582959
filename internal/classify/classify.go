// Package classify turns raw telemetry and command payloads into routing
// decisions. Every function here is pure: no I/O, no shared state, grounded
// directly on the original TelemetryService::processAndPublishTelemetry and
// ZmqManager::forwarderLoop code-range and colon-split logic.
package classify

import (
	"strconv"
	"strings"
)

// Topic is the broker's three-way telemetry classification.
type Topic string

const (
	TopicMapping Topic = "mapping"
	TopicCamera  Topic = "camera"
	TopicUnknown Topic = "unknown"
)

// TelemetryFrame is a classified inbound telemetry payload ready to publish.
type TelemetryFrame struct {
	UAV       string
	Topic     Topic
	FullTopic string
	Payload   []byte
}

// CommandFrame is a parsed UI-originated command.
type CommandFrame struct {
	TargetUAV string
	Body      string
	UITag     string
	// Fallback is true when no ':' separator was found and TargetUAV was
	// defaulted to the legacy fallback name.
	Fallback bool
}

// FallbackUAV is the legacy default target when a command carries no
// "TARGET:" prefix.
const FallbackUAV = "UAV_1"

// ClassifyTopic inspects only the trailing whitespace-delimited token of
// payload and maps it to a Topic by decimal code range. Unparseable or
// out-of-range tokens classify as TopicUnknown but are never dropped by
// this function; that decision belongs to the caller.
func ClassifyTopic(payload []byte) Topic {
	fields := strings.Fields(string(payload))
	if len(fields) == 0 {
		return TopicUnknown
	}
	token := fields[len(fields)-1]

	code, err := strconv.Atoi(token)
	if err != nil {
		return TopicUnknown
	}

	switch {
	case code >= 1000 && code <= 1999:
		return TopicMapping
	case code >= 2000 && code <= 2999:
		return TopicCamera
	case code >= 3000 && code <= 3999:
		return TopicMapping
	case code >= 4000 && code <= 4999:
		return TopicCamera
	case code >= 5000 && code <= 5999:
		return TopicMapping
	case code >= 6000 && code <= 6999:
		return TopicCamera
	default:
		return TopicUnknown
	}
}

// FullTopic builds the "<topic>_<uav>" routing key shared by the reliable
// publisher and the datagram wire format.
func FullTopic(topic Topic, uav string) string {
	return string(topic) + "_" + uav
}

// ClassifyTelemetry is the convenience entry point C5 uses on every inbound
// telemetry payload, regardless of which transport it arrived on.
func ClassifyTelemetry(uav string, payload []byte) TelemetryFrame {
	topic := ClassifyTopic(payload)
	return TelemetryFrame{
		UAV:       uav,
		Topic:     topic,
		FullTopic: FullTopic(topic, uav),
		Payload:   payload,
	}
}

const (
	cameraUITag  = "[camera-ui]"
	mappingUITag = "[mapping-ui]"
)

// ParseCommand splits a raw UI command on the first ':'. Absent a
// separator, it falls back to FallbackUAV with the whole message as body
// (spec: a historical quirk kept for old UI clients).
func ParseCommand(raw []byte) CommandFrame {
	msg := string(raw)

	idx := strings.IndexByte(msg, ':')

	var frame CommandFrame
	if idx < 0 {
		frame.TargetUAV = FallbackUAV
		frame.Body = msg
		frame.Fallback = true
	} else {
		frame.TargetUAV = msg[:idx]
		frame.Body = msg[idx+1:]
	}

	frame.UITag = extractUITag(frame.Body)
	return frame
}

// extractUITag scans the command body for a known UI tag marker, used only
// for log lines.
func extractUITag(body string) string {
	switch {
	case strings.Contains(body, cameraUITag):
		return "camera"
	case strings.Contains(body, mappingUITag):
		return "mapping"
	default:
		return "unknown"
	}
}
