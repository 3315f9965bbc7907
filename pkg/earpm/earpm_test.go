package earpm

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/cuemby/celixd/pkg/deliverer"
	"github.com/cuemby/celixd/pkg/eventadmin"
	"github.com/cuemby/celixd/pkg/props"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	body := []byte("k=v\n")
	payload := encodeEnvelope("sender-1", "celix/EventAdminMqtt/SyncEvent/ack/sender-1", 42, true, body)

	env, err := decodeEnvelope(payload)
	require.NoError(t, err)
	assert.Equal(t, "sender-1", env.senderUUID)
	assert.Equal(t, ProtocolVersion, env.version)
	assert.Equal(t, "celix/EventAdminMqtt/SyncEvent/ack/sender-1", env.responseTopic)
	assert.True(t, env.hasAckSeq)
	assert.Equal(t, uint64(42), env.ackSeq)
	assert.Equal(t, body, env.body)
}

func TestEnvelopeWithoutAckSeq(t *testing.T) {
	payload := encodeEnvelope("sender-1", "", 0, false, nil)
	env, err := decodeEnvelope(payload)
	require.NoError(t, err)
	assert.False(t, env.hasAckSeq)
	assert.Empty(t, env.responseTopic)
}

func TestVersionAccepted(t *testing.T) {
	assert.True(t, versionAccepted("1.0.0"))
	assert.True(t, versionAccepted("1.0"))
	assert.False(t, versionAccepted("2.0.0"), "mismatched major must be rejected")
	assert.False(t, versionAccepted("1.9.0"), "higher minor must be rejected")
	assert.False(t, versionAccepted("garbage"))
}

func TestHandlerInfoAddRoundTrip(t *testing.T) {
	h := HandlerInfo{HandlerID: 7, Topics: []string{"a/b", "c/*"}, Filter: "(k=v)"}
	data, err := encodeHandlerInfoAdd(h)
	require.NoError(t, err)

	got, err := decodeHandlerInfoAdd(data)
	require.NoError(t, err)
	assert.Equal(t, h, got)
}

func TestHandlerInfoUpdateRoundTrip(t *testing.T) {
	handlers := []HandlerInfo{{HandlerID: 1, Topics: []string{"a"}}, {HandlerID: 2, Topics: []string{"b"}}}
	data, err := encodeHandlerInfoUpdate(handlers)
	require.NoError(t, err)

	got, err := decodeHandlerInfoUpdate(data)
	require.NoError(t, err)
	assert.Equal(t, handlers, got)
}

func TestTopicMatches(t *testing.T) {
	assert.True(t, topicMatches("a/b", "a/b"))
	assert.False(t, topicMatches("a/b", "a/c"))
	assert.True(t, topicMatches("a/*", "a/b"))
	assert.False(t, topicMatches("a/*", "a/b/c"))
	assert.True(t, topicMatches("a/**", "a/b/c"))
	assert.True(t, topicMatches("a/**", "a"))
}

func TestRemoteFrameworkStateMachine(t *testing.T) {
	rf := newRemoteFramework("peer-1")

	empty := rf.removeHandler(99) // removing a handler it never had
	assert.True(t, empty, "a framework with zero handlers reports empty")

	rf.addHandler(HandlerInfo{HandlerID: 1, Topics: []string{"a/b"}})
	assert.False(t, rf.removeHandler(2), "unrelated handler id should not report empty while handler 1 remains")
	assert.True(t, rf.removeHandler(1), "removing the last handler reports empty")
}

func TestRemoteFrameworkReplaceHandlersIsLastUpdateWins(t *testing.T) {
	rf := newRemoteFramework("peer-1")
	rf.addHandler(HandlerInfo{HandlerID: 1, Topics: []string{"a/b"}})
	rf.replaceHandlers([]HandlerInfo{{HandlerID: 2, Topics: []string{"c/d"}}})

	p := props.New()
	assert.False(t, rf.matches("a/b", p), "handler 1 must be gone after a replacing update")
	assert.True(t, rf.matches("c/d", p))
}

func TestRemoteFrameworkMatchesAppliesFilter(t *testing.T) {
	rf := newRemoteFramework("peer-1")
	rf.addHandler(HandlerInfo{HandlerID: 1, Topics: []string{"a/b"}, Filter: "(level=high)"})

	p := props.New()
	p.Set("level", "low")
	assert.False(t, rf.matches("a/b", p))

	p.Set("level", "high")
	assert.True(t, rf.matches("a/b", p))
}

func TestRemoteFrameworkAckResetsTimeouts(t *testing.T) {
	rf := newRemoteFramework("peer-1")
	rf.recordTimeout()
	rf.recordTimeout()

	done := rf.addPendingAck(5)
	rf.ackSeq(5)

	select {
	case <-done:
	default:
		t.Fatal("expected ackSeq to close the pending wait channel")
	}
	assert.Equal(t, 0, rf.consecutiveTimeouts)
}

func TestRemoteFrameworkResolveAllPendingClosesEveryWait(t *testing.T) {
	rf := newRemoteFramework("peer-1")
	doneA := rf.addPendingAck(1)
	doneB := rf.addPendingAck(2)

	rf.resolveAllPending()

	for _, ch := range []chan struct{}{doneA, doneB} {
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatal("expected resolveAllPending to close all pending waits")
		}
	}
}

func TestProviderHandlesHandlerInfoAddAndRemove(t *testing.T) {
	p := New("self-uuid", nil, nil, zerolog.Nop())

	body, err := encodeHandlerInfoAdd(HandlerInfo{HandlerID: 1, Topics: []string{"a/b"}})
	require.NoError(t, err)
	p.HandleMessage(TopicPrefix+topicHandlerInfoAdd, encodeEnvelope("peer-1", "", 0, false, body))

	rf := p.getRemote("peer-1")
	require.NotNil(t, rf)
	assert.True(t, rf.matches("a/b", props.New()))

	removeBody, err := encodeHandlerInfoRemove(1)
	require.NoError(t, err)
	p.HandleMessage(TopicPrefix+topicHandlerInfoRemove, encodeEnvelope("peer-1", "", 0, false, removeBody))

	assert.Nil(t, p.getRemote("peer-1"), "removing the last handler should drop the remote framework entry")
}

func TestProviderHandlesSessionEnd(t *testing.T) {
	p := New("self-uuid", nil, nil, zerolog.Nop())

	body, err := encodeHandlerInfoAdd(HandlerInfo{HandlerID: 1, Topics: []string{"a/b"}})
	require.NoError(t, err)
	p.HandleMessage(TopicPrefix+topicHandlerInfoAdd, encodeEnvelope("peer-1", "", 0, false, body))
	require.NotNil(t, p.getRemote("peer-1"))

	done := p.getRemote("peer-1").addPendingAck(9)
	p.HandleMessage(TopicPrefix+topicSessionEnd, encodeEnvelope("peer-1", "", 0, false, nil))

	assert.Nil(t, p.getRemote("peer-1"))
	select {
	case <-done:
	default:
		t.Fatal("session/end must resolve any pending ack waits as success")
	}
}

func TestProviderRejectsIncompatibleProtocolVersion(t *testing.T) {
	p := New("self-uuid", nil, nil, zerolog.Nop())

	body, err := encodeHandlerInfoAdd(HandlerInfo{HandlerID: 1, Topics: []string{"a/b"}})
	require.NoError(t, err)

	// encodeEnvelope always stamps our own ProtocolVersion; simulate a
	// peer on an incompatible major by re-encoding with a bad version.
	raw, err := json.Marshal(wireEnvelope{SenderUUID: "peer-1", Version: "9.0.0", Body: string(body)})
	require.NoError(t, err)
	p.HandleMessage(TopicPrefix+topicHandlerInfoAdd, raw)

	assert.Nil(t, p.getRemote("peer-1"), "a mismatched-major message must be dropped")
}

func TestProviderPostEventDropsWhenNoRemoteInterested(t *testing.T) {
	p := New("self-uuid", nil, nil, zerolog.Nop())
	err := p.PostEvent("a/b", props.New())
	assert.NoError(t, err, "posting with no interested remote framework must succeed without publishing")
}

func TestProviderHandleUserEventWithoutResponseTopicPostsAsynchronously(t *testing.T) {
	admin := eventadmin.New(zerolog.Nop())
	dlv := deliverer.New(1, admin, zerolog.Nop())
	defer dlv.Close()

	topic := TopicPrefix + "a/b"
	received := make(chan string, 1)
	admin.AddHandler([]string{topic}, nil, func(t string, _ *props.Properties) {
		received <- t
	})

	p := New("self-uuid", nil, dlv, zerolog.Nop())
	body := []byte(props.New().Save())
	p.HandleMessage(topic, encodeEnvelope("peer-1", "", 0, false, body))

	select {
	case got := <-received:
		assert.Equal(t, topic, got)
	case <-time.After(time.Second):
		t.Fatal("expected the asynchronous user event to reach the local handler")
	}
}
