package hermes

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/loqalabs/loqa-asr/internal/config"
	"github.com/loqalabs/loqa-asr/internal/protocol"
)

type recorder struct {
	msgs []protocol.Message
}

func (r *recorder) Dispatch(_ context.Context, msg protocol.Message) {
	r.msgs = append(r.msgs, msg)
}

// blockingDispatcher holds every Dispatch until release is closed, the way a
// handler that publishes with QoS 1 waits for its acknowledgement.
type blockingDispatcher struct {
	release chan struct{}
	got     chan protocol.Message
}

func (d *blockingDispatcher) Dispatch(_ context.Context, msg protocol.Message) {
	<-d.release
	d.got <- msg
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 0 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 0 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

func TestParseTopics(t *testing.T) {
	if site, ok := ParseAudioFrame("hermes/audioServer/kitchen/audioFrame"); !ok || site != "kitchen" {
		t.Fatalf("audio frame: %q %v", site, ok)
	}
	if _, ok := ParseAudioFrame("hermes/audioServer/kitchen/s1/audioSessionFrame"); ok {
		t.Fatalf("session frame must not parse as a global frame")
	}
	site, session, ok := ParseAudioSessionFrame("hermes/audioServer/kitchen/s1/audioSessionFrame")
	if !ok || site != "kitchen" || session != "s1" {
		t.Fatalf("session frame: %q %q %v", site, session, ok)
	}
	if site, ok := ParseTrain("rhasspy/asr/kitchen/train"); !ok || site != "kitchen" {
		t.Fatalf("train: %q %v", site, ok)
	}
	if _, ok := ParseTrain("rhasspy/asr/kitchen/trainSuccess"); ok {
		t.Fatalf("train success must not parse as train")
	}
}

func TestSubscriptionsForSites(t *testing.T) {
	got := subscriptions([]string{"kitchen"})
	want := map[string]bool{
		"hermes/audioServer/kitchen/audioFrame":          true,
		"hermes/audioServer/kitchen/+/audioSessionFrame": true,
		"rhasspy/asr/kitchen/train":                      true,
	}
	for _, topic := range got {
		delete(want, topic)
	}
	if len(want) != 0 {
		t.Fatalf("missing subscriptions %v in %v", want, got)
	}
	for _, topic := range subscriptions(nil) {
		if topic == "hermes/audioServer/+/audioFrame" {
			return
		}
	}
	t.Fatalf("expected wildcard subscriptions without site ids")
}

func TestDecode(t *testing.T) {
	cases := []struct {
		name    string
		topic   string
		payload string
		check   func(protocol.Message) bool
	}{
		{
			name:    "start defaults to stop on silence",
			topic:   TopicStartListening,
			payload: `{"siteId":"kitchen","sessionId":"s1","lang":"de-DE"}`,
			check: func(m protocol.Message) bool {
				s, ok := m.(protocol.StartListening)
				return ok && s.StopOnSilence && s.SessionID == protocol.NamedSession("s1") && s.Lang == "de-DE"
			},
		},
		{
			name:    "start with null session",
			topic:   TopicStartListening,
			payload: `{"siteId":"kitchen","sessionId":null,"stopOnSilence":false,"sendAudioCaptured":true}`,
			check: func(m protocol.Message) bool {
				s, ok := m.(protocol.StartListening)
				return ok && !s.StopOnSilence && s.SendAudioCaptured && s.SessionID.IsDefault()
			},
		},
		{
			name:    "toggle off",
			topic:   TopicToggleOff,
			payload: `{"siteId":"kitchen","reason":"playAudio"}`,
			check: func(m protocol.Message) bool {
				off, ok := m.(protocol.ToggleOff)
				return ok && off.Reason == protocol.ToggleReasonPlayAudio
			},
		},
		{
			name:    "session frame",
			topic:   "hermes/audioServer/kitchen/s1/audioSessionFrame",
			payload: "RIFF",
			check: func(m protocol.Message) bool {
				f, ok := m.(protocol.AudioSessionFrame)
				return ok && f.SiteID == "kitchen" && f.SessionID == protocol.NamedSession("s1") && string(f.Audio.WAV) == "RIFF"
			},
		},
		{
			name:    "train takes site from topic",
			topic:   "rhasspy/asr/hall/train",
			payload: `{"id":"t1","graphPath":"/tmp/graph.gz"}`,
			check: func(m protocol.Message) bool {
				tr, ok := m.(protocol.Train)
				return ok && tr.SiteID == "hall" && tr.GraphPath == "/tmp/graph.gz"
			},
		},
		{
			name:    "pronounce",
			topic:   TopicPronounce,
			payload: `{"id":"p1","words":["cat"],"numGuesses":3,"siteId":"kitchen"}`,
			check: func(m protocol.Message) bool {
				p, ok := m.(protocol.Pronounce)
				return ok && p.NumGuesses == 3 && len(p.Words) == 1 && p.SessionID.IsDefault()
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msg, err := Decode(tc.topic, []byte(tc.payload))
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if !tc.check(msg) {
				t.Fatalf("unexpected message %+v", msg)
			}
		})
	}
}

func TestEncodeTextCaptured(t *testing.T) {
	evt := protocol.TextCaptured{
		Text:      "go home",
		SiteID:    "kitchen",
		SessionID: protocol.NamedSession("s1"),
		Tokens: [][]protocol.Token{{
			{Value: "go", RangeStart: 0, RangeEnd: 3, Time: &protocol.TokenTime{Start: 0, End: 0.3}},
		}},
	}
	topic, payload, err := Encode(evt)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if topic != TopicTextCaptured {
		t.Fatalf("unexpected topic %s", topic)
	}
	var body map[string]any
	if err := json.Unmarshal(payload, &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["siteId"] != "kitchen" || body["sessionId"] != "s1" {
		t.Fatalf("unexpected body %v", body)
	}
	tokens := body["asrTokens"].([]any)[0].([]any)
	if tokens[0].(map[string]any)["rangeEnd"] != float64(3) {
		t.Fatalf("unexpected tokens %v", tokens)
	}
}

func TestEncodeTopics(t *testing.T) {
	cases := []struct {
		evt   protocol.Event
		topic string
	}{
		{protocol.RecordingFinished{SiteID: "kitchen"}, TopicRecordingFinished},
		{protocol.AudioCaptured{SiteID: "kitchen", SessionID: protocol.NamedSession("s1"), WAV: []byte("RIFF")}, "rhasspy/asr/kitchen/s1/audioCaptured"},
		{protocol.AsrError{Error: "boom"}, TopicAsrError},
		{protocol.TrainSuccess{SiteID: "hall", ModelMD5: "abc"}, "rhasspy/asr/hall/trainSuccess"},
		{protocol.Phonemes{WordPhonemes: map[string][]protocol.Pronunciation{"cat": {{Phonemes: []string{"K"}}}}}, TopicPhonemes},
		{protocol.G2pError{Error: "boom"}, TopicG2pError},
	}
	for _, tc := range cases {
		topic, payload, err := Encode(tc.evt)
		if err != nil {
			t.Fatalf("%T: %v", tc.evt, err)
		}
		if topic != tc.topic || len(payload) == 0 {
			t.Fatalf("%T: topic %q payload %q", tc.evt, topic, payload)
		}
	}
}

func TestHubRoutesDecodedMessages(t *testing.T) {
	rec := &recorder{}
	hub := NewHub(config.MQTTConfig{}, nil, rec, slog.New(slog.NewTextHandler(io.Discard, nil)))

	hub.route(TopicStopListening, []byte(`{"siteId":"kitchen","sessionId":"s1"}`))
	hub.route(TopicStopListening, []byte(`{`))
	hub.route("hermes/unknown", []byte(`{}`))

	if len(rec.msgs) != 1 {
		t.Fatalf("expected one dispatched message, got %+v", rec.msgs)
	}
	if stop, ok := rec.msgs[0].(protocol.StopListening); !ok || stop.SessionID != protocol.NamedSession("s1") {
		t.Fatalf("unexpected message %+v", rec.msgs[0])
	}
	if err := hub.Publish(context.Background(), protocol.AsrError{}); err == nil {
		t.Fatalf("publish before start must fail")
	}
}

func TestHandlerReturnsBeforeDispatchCompletes(t *testing.T) {
	d := &blockingDispatcher{release: make(chan struct{}), got: make(chan protocol.Message, 2)}
	hub := NewHub(config.MQTTConfig{QoS: 1}, nil, d, slog.New(slog.NewTextHandler(io.Discard, nil)))
	hub.run(context.Background())
	t.Cleanup(hub.Close)
	t.Cleanup(func() {
		select {
		case <-d.release:
		default:
			close(d.release)
		}
	})

	returned := make(chan struct{})
	go func() {
		hub.handleMessage(nil, fakeMessage{topic: TopicStopListening, payload: []byte(`{"siteId":"kitchen","sessionId":"s1"}`)})
		hub.handleMessage(nil, fakeMessage{topic: TopicStopListening, payload: []byte(`{"siteId":"kitchen","sessionId":"s2"}`)})
		close(returned)
	}()
	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatalf("message handler blocked while dispatch was waiting")
	}

	close(d.release)
	for _, want := range []string{"s1", "s2"} {
		select {
		case msg := <-d.got:
			stop, ok := msg.(protocol.StopListening)
			if !ok || stop.SessionID != protocol.NamedSession(want) {
				t.Fatalf("expected stop for %s, got %+v", want, msg)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}
