package hermes

import (
	"encoding/json"
	"fmt"

	"github.com/loqalabs/loqa-asr/internal/protocol"
)

// Hermes payloads use camelCase keys and a null sessionId for the default
// session.

type toggle struct {
	SiteID string `json:"siteId"`
	Reason string `json:"reason"`
}

type startListening struct {
	SiteID            string  `json:"siteId"`
	SessionID         *string `json:"sessionId"`
	Lang              string  `json:"lang,omitempty"`
	StopOnSilence     *bool   `json:"stopOnSilence,omitempty"`
	SendAudioCaptured bool    `json:"sendAudioCaptured"`
	WakewordID        string  `json:"wakewordId,omitempty"`
}

type stopListening struct {
	SiteID    string  `json:"siteId"`
	SessionID *string `json:"sessionId"`
}

type train struct {
	ID          string `json:"id"`
	GraphPath   string `json:"graphPath"`
	GraphFormat string `json:"graphFormat,omitempty"`
}

type pronounce struct {
	ID         string   `json:"id"`
	Words      []string `json:"words"`
	NumGuesses int      `json:"numGuesses"`
	SiteID     string   `json:"siteId"`
	SessionID  *string  `json:"sessionId"`
}

type tokenTime struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

type token struct {
	Value      string     `json:"value"`
	Confidence float64    `json:"confidence"`
	RangeStart int        `json:"rangeStart"`
	RangeEnd   int        `json:"rangeEnd"`
	Time       *tokenTime `json:"time,omitempty"`
}

type textCaptured struct {
	Text       string    `json:"text"`
	Likelihood float64   `json:"likelihood"`
	Seconds    float64   `json:"seconds"`
	SiteID     string    `json:"siteId"`
	SessionID  *string   `json:"sessionId"`
	WakewordID string    `json:"wakewordId,omitempty"`
	ASRTokens  [][]token `json:"asrTokens,omitempty"`
	Lang       string    `json:"lang,omitempty"`
}

type sessionScoped struct {
	SiteID    string  `json:"siteId"`
	SessionID *string `json:"sessionId"`
}

type errorPayload struct {
	Error     string  `json:"error"`
	Context   string  `json:"context,omitempty"`
	SiteID    string  `json:"siteId"`
	SessionID *string `json:"sessionId"`
}

type trainSuccess struct {
	ID       string `json:"id"`
	ModelMD5 string `json:"modelMd5"`
	ModelURL string `json:"modelUrl"`
}

type pronunciation struct {
	Phonemes []string `json:"phonemes"`
	Guessed  bool     `json:"guessed"`
}

type phonemes struct {
	ID           string                     `json:"id"`
	WordPhonemes map[string][]pronunciation `json:"wordPhonemes"`
	SiteID       string                     `json:"siteId"`
	SessionID    *string                    `json:"sessionId"`
}

// Decode maps an MQTT topic and payload to an inbound message. Audio
// frames carry a WAV clip as the raw payload.
func Decode(topic string, payload []byte) (protocol.Message, error) {
	switch topic {
	case TopicToggleOn:
		var m toggle
		if err := json.Unmarshal(payload, &m); err != nil {
			return nil, err
		}
		return protocol.ToggleOn{SiteID: m.SiteID, Reason: protocol.ToggleReason(m.Reason)}, nil
	case TopicToggleOff:
		var m toggle
		if err := json.Unmarshal(payload, &m); err != nil {
			return nil, err
		}
		return protocol.ToggleOff{SiteID: m.SiteID, Reason: protocol.ToggleReason(m.Reason)}, nil
	case TopicStartListening:
		var m startListening
		if err := json.Unmarshal(payload, &m); err != nil {
			return nil, err
		}
		stopOnSilence := true
		if m.StopOnSilence != nil {
			stopOnSilence = *m.StopOnSilence
		}
		return protocol.StartListening{
			SiteID:            m.SiteID,
			SessionID:         protocol.SessionKeyFromPtr(m.SessionID),
			Lang:              m.Lang,
			StopOnSilence:     stopOnSilence,
			SendAudioCaptured: m.SendAudioCaptured,
			WakewordID:        m.WakewordID,
		}, nil
	case TopicStopListening:
		var m stopListening
		if err := json.Unmarshal(payload, &m); err != nil {
			return nil, err
		}
		return protocol.StopListening{SiteID: m.SiteID, SessionID: protocol.SessionKeyFromPtr(m.SessionID)}, nil
	case TopicPronounce:
		var m pronounce
		if err := json.Unmarshal(payload, &m); err != nil {
			return nil, err
		}
		return protocol.Pronounce{
			ID:         m.ID,
			SiteID:     m.SiteID,
			SessionID:  protocol.SessionKeyFromPtr(m.SessionID),
			Words:      m.Words,
			NumGuesses: m.NumGuesses,
		}, nil
	}

	if site, ok := ParseAudioFrame(topic); ok {
		return protocol.AudioFrame{SiteID: site, Audio: protocol.AudioPayload{WAV: payload}}, nil
	}
	if site, session, ok := ParseAudioSessionFrame(topic); ok {
		return protocol.AudioSessionFrame{
			SiteID:    site,
			SessionID: protocol.NamedSession(session),
			Audio:     protocol.AudioPayload{WAV: payload},
		}, nil
	}
	if site, ok := ParseTrain(topic); ok {
		var m train
		if err := json.Unmarshal(payload, &m); err != nil {
			return nil, err
		}
		return protocol.Train{ID: m.ID, SiteID: site, GraphPath: m.GraphPath, GraphFormat: m.GraphFormat}, nil
	}
	return nil, fmt.Errorf("unexpected topic %q", topic)
}

// Encode maps an outbound event to its topic and payload.
func Encode(evt protocol.Event) (string, []byte, error) {
	var (
		topic string
		body  any
	)
	switch e := evt.(type) {
	case protocol.RecordingFinished:
		topic, body = TopicRecordingFinished, sessionScoped{SiteID: e.SiteID, SessionID: e.SessionID.Ptr()}
	case protocol.TextCaptured:
		topic, body = TopicTextCaptured, encodeTextCaptured(e)
	case protocol.AudioCaptured:
		return TopicAudioCaptured(e.SiteID, topicSession(e.SessionID)), e.WAV, nil
	case protocol.AsrError:
		topic, body = TopicAsrError, errorPayload{Error: e.Error, Context: e.Context, SiteID: e.SiteID, SessionID: e.SessionID.Ptr()}
	case protocol.TrainSuccess:
		topic, body = TopicTrainSuccess(e.SiteID), trainSuccess{ID: e.ID, ModelMD5: e.ModelMD5, ModelURL: e.ModelURL}
	case protocol.Phonemes:
		out := phonemes{ID: e.ID, SiteID: e.SiteID, SessionID: e.SessionID.Ptr(), WordPhonemes: make(map[string][]pronunciation, len(e.WordPhonemes))}
		for word, prons := range e.WordPhonemes {
			for _, p := range prons {
				out.WordPhonemes[word] = append(out.WordPhonemes[word], pronunciation(p))
			}
		}
		topic, body = TopicPhonemes, out
	case protocol.G2pError:
		topic, body = TopicG2pError, errorPayload{Error: e.Error, Context: e.Context, SiteID: e.SiteID, SessionID: e.SessionID.Ptr()}
	default:
		return "", nil, fmt.Errorf("unsupported event %T", evt)
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", nil, fmt.Errorf("marshal %s: %w", topic, err)
	}
	return topic, payload, nil
}

func encodeTextCaptured(e protocol.TextCaptured) textCaptured {
	out := textCaptured{
		Text:       e.Text,
		Likelihood: e.Likelihood,
		Seconds:    e.Seconds,
		SiteID:     e.SiteID,
		SessionID:  e.SessionID.Ptr(),
		WakewordID: e.WakewordID,
		Lang:       e.Lang,
	}
	for _, level := range e.Tokens {
		tokens := make([]token, 0, len(level))
		for _, t := range level {
			tok := token{Value: t.Value, Confidence: t.Confidence, RangeStart: t.RangeStart, RangeEnd: t.RangeEnd}
			if t.Time != nil {
				tok.Time = &tokenTime{Start: t.Time.Start, End: t.Time.End}
			}
			tokens = append(tokens, tok)
		}
		out.ASRTokens = append(out.ASRTokens, tokens)
	}
	return out
}

func topicSession(key protocol.SessionKey) string {
	if id, ok := key.ID(); ok {
		return id
	}
	return "default"
}
