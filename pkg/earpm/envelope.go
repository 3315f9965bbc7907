package earpm

import (
	"encoding/json"
	"strconv"
	"strings"
)

// wireEnvelope carries the transport metadata MQTT v5 user properties
// and response-topic/correlation-data would otherwise carry.
// paho.mqtt.golang's public API is v3.1.1-oriented and exposes none of
// those fields (see pkg/mqttclient's package doc), so every publish this
// provider makes wraps its real body - JSON for a HandlerInfo control
// message, the props.Save format for a user event - inside this
// envelope instead.
type wireEnvelope struct {
	SenderUUID    string `json:"senderUuid"`
	Version       string `json:"version"`
	ResponseTopic string `json:"responseTopic,omitempty"`
	AckSeq        string `json:"ackSeq,omitempty"`
	Body          string `json:"body"`
}

// envelope is a decoded inbound message.
type envelope struct {
	senderUUID    string
	version       string
	responseTopic string
	ackSeq        uint64
	hasAckSeq     bool
	body          []byte
}

// encodeEnvelope wraps body (already serialised by the caller) with
// the transport fields for one outbound publish.
func encodeEnvelope(senderUUID, responseTopic string, ackSeq uint64, hasAckSeq bool, body []byte) []byte {
	w := wireEnvelope{
		SenderUUID:    senderUUID,
		Version:       ProtocolVersion,
		ResponseTopic: responseTopic,
		Body:          string(body),
	}
	if hasAckSeq {
		w.AckSeq = strconv.FormatUint(ackSeq, 10)
	}
	data, err := json.Marshal(w)
	if err != nil {
		// wireEnvelope's fields are all plain strings; Marshal cannot
		// fail on it.
		panic(err)
	}
	return data
}

func decodeEnvelope(payload []byte) (envelope, error) {
	var w wireEnvelope
	if err := json.Unmarshal(payload, &w); err != nil {
		return envelope{}, err
	}
	env := envelope{
		senderUUID:    w.SenderUUID,
		version:       w.Version,
		responseTopic: w.ResponseTopic,
		body:          []byte(w.Body),
	}
	if w.AckSeq != "" {
		if seq, err := strconv.ParseUint(w.AckSeq, 10, 64); err == nil {
			env.ackSeq = seq
			env.hasAckSeq = true
		}
	}
	return env, nil
}

// versionAccepted reports whether a peer-declared "major.minor" string
// is compatible with ours: same major, minor no greater than ours
// (lower minors are forward-compatible and accepted).
func versionAccepted(version string) bool {
	wantMajor, wantMinor, ok := splitMajorMinor(ProtocolVersion)
	if !ok {
		return false
	}
	gotMajor, gotMinor, ok := splitMajorMinor(version)
	if !ok {
		return false
	}
	return gotMajor == wantMajor && gotMinor <= wantMinor
}

func splitMajorMinor(version string) (major, minor int, ok bool) {
	parts := strings.SplitN(version, ".", 3)
	if len(parts) < 2 {
		return 0, 0, false
	}
	major, errA := strconv.Atoi(parts[0])
	minor, errB := strconv.Atoi(parts[1])
	if errA != nil || errB != nil {
		return 0, 0, false
	}
	return major, minor, true
}
