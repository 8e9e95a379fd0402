package protocol

import "time"

const (
	SubjectToggleOn         = "asr.toggle.on"
	SubjectToggleOff        = "asr.toggle.off"
	SubjectStartListening   = "asr.listen.start"
	SubjectStopListening    = "asr.listen.stop"
	SubjectAudioFramePrefix = "audio.frame"
	SubjectAudioFrameAll    = SubjectAudioFramePrefix + ".>"
	SubjectTrain            = "asr.train"
	SubjectPronounce        = "g2p.pronounce"

	SubjectRecordingFinished = "asr.recording.finished"
	SubjectTextCaptured      = "asr.text.captured"
	SubjectAudioCaptured     = "asr.audio.captured"
	SubjectAsrError          = "asr.error"
	SubjectTrainSuccess      = "asr.train.success"
	SubjectPhonemes          = "g2p.phonemes"
	SubjectG2pError          = "g2p.error"
)

// Message is an inbound request handled by the ASR service.
type Message interface {
	isMessage()
}

// ToggleReason names why recognition was switched on or off.
type ToggleReason string

const (
	ToggleReasonUnknown         ToggleReason = ""
	ToggleReasonDialogueSession ToggleReason = "dialogueSession"
	ToggleReasonPlayAudio       ToggleReason = "playAudio"
	ToggleReasonTTSSay          ToggleReason = "ttsSay"
)

type ToggleOn struct {
	SiteID string       `json:"site_id"`
	Reason ToggleReason `json:"reason"`
}

type ToggleOff struct {
	SiteID string       `json:"site_id"`
	Reason ToggleReason `json:"reason"`
}

// StartListening opens (or restarts) a recognition session.
type StartListening struct {
	SiteID            string     `json:"site_id"`
	SessionID         SessionKey `json:"session_id"`
	Lang              string     `json:"lang,omitempty"`
	StopOnSilence     bool       `json:"stop_on_silence"`
	SendAudioCaptured bool       `json:"send_audio_captured"`
	WakewordID        string     `json:"wakeword_id,omitempty"`
}

type StopListening struct {
	SiteID    string     `json:"site_id"`
	SessionID SessionKey `json:"session_id"`
}

// AudioPayload carries one chunk of audio, either as a WAV clip or as raw PCM
// in the declared format.
type AudioPayload struct {
	WAV         []byte `json:"wav,omitempty"`
	PCM         []byte `json:"pcm,omitempty"`
	SampleRate  int    `json:"sample_rate,omitempty"`
	SampleWidth int    `json:"sample_width,omitempty"`
	Channels    int    `json:"channels,omitempty"`
}

// AudioFrame is delivered to every open session of its site.
type AudioFrame struct {
	SiteID string
	Audio  AudioPayload
}

// AudioSessionFrame is delivered to a single session.
type AudioSessionFrame struct {
	SiteID    string
	SessionID SessionKey
	Audio     AudioPayload
}

// AudioFramePacket is the JSON envelope published on audio.frame.<site>.
type AudioFramePacket struct {
	SiteID    string  `json:"site_id"`
	SessionID *string `json:"session_id,omitempty"`
	Sequence  int     `json:"sequence"`
	AudioPayload
}

// Message converts the packet into a global or session-scoped frame.
func (p AudioFramePacket) Message() Message {
	if p.SessionID != nil {
		return AudioSessionFrame{SiteID: p.SiteID, SessionID: NamedSession(*p.SessionID), Audio: p.AudioPayload}
	}
	return AudioFrame{SiteID: p.SiteID, Audio: p.AudioPayload}
}

type Train struct {
	ID          string `json:"id"`
	SiteID      string `json:"site_id"`
	GraphPath   string `json:"graph_path"`
	GraphFormat string `json:"graph_format,omitempty"`
}

type Pronounce struct {
	ID         string     `json:"id"`
	SiteID     string     `json:"site_id"`
	SessionID  SessionKey `json:"session_id"`
	Words      []string   `json:"words"`
	NumGuesses int        `json:"num_guesses"`
}

func (ToggleOn) isMessage()          {}
func (ToggleOff) isMessage()         {}
func (StartListening) isMessage()    {}
func (StopListening) isMessage()     {}
func (AudioFrame) isMessage()        {}
func (AudioSessionFrame) isMessage() {}
func (Train) isMessage()             {}
func (Pronounce) isMessage()         {}

// Event is an outbound message produced by the ASR service.
type Event interface {
	Subject() string
}

type RecordingFinished struct {
	SiteID    string     `json:"site_id"`
	SessionID SessionKey `json:"session_id"`
}

// TokenTime is the span of a token in the decoded audio, in seconds.
type TokenTime struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Token is one recognized word. RangeStart/RangeEnd index into the transcript
// text including one trailing separator.
type Token struct {
	Value      string     `json:"value"`
	Confidence float64    `json:"confidence"`
	RangeStart int        `json:"range_start"`
	RangeEnd   int        `json:"range_end"`
	Time       *TokenTime `json:"time,omitempty"`
}

type TextCaptured struct {
	Text       string     `json:"text"`
	Likelihood float64    `json:"likelihood"`
	Seconds    float64    `json:"seconds"`
	SiteID     string     `json:"site_id"`
	SessionID  SessionKey `json:"session_id"`
	WakewordID string     `json:"wakeword_id,omitempty"`
	Tokens     [][]Token  `json:"asr_tokens,omitempty"`
	Lang       string     `json:"lang,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
}

// AudioCaptured carries the full session audio as a WAV clip.
type AudioCaptured struct {
	SiteID    string     `json:"site_id"`
	SessionID SessionKey `json:"session_id"`
	WAV       []byte     `json:"wav"`
}

type AsrError struct {
	Error     string     `json:"error"`
	Context   string     `json:"context,omitempty"`
	SiteID    string     `json:"site_id"`
	SessionID SessionKey `json:"session_id"`
}

type TrainSuccess struct {
	ID       string `json:"id"`
	SiteID   string `json:"site_id"`
	ModelMD5 string `json:"model_md5"`
	ModelURL string `json:"model_url"`
}

// Pronunciation is one phoneme sequence for a word.
type Pronunciation struct {
	Phonemes []string `json:"phonemes"`
	Guessed  bool     `json:"guessed"`
}

type Phonemes struct {
	ID           string                     `json:"id"`
	SiteID       string                     `json:"site_id"`
	SessionID    SessionKey                 `json:"session_id"`
	WordPhonemes map[string][]Pronunciation `json:"word_phonemes"`
}

type G2pError struct {
	Error     string     `json:"error"`
	Context   string     `json:"context,omitempty"`
	SiteID    string     `json:"site_id"`
	SessionID SessionKey `json:"session_id"`
}

func (RecordingFinished) Subject() string { return SubjectRecordingFinished }
func (TextCaptured) Subject() string      { return SubjectTextCaptured }
func (AudioCaptured) Subject() string     { return SubjectAudioCaptured }
func (AsrError) Subject() string          { return SubjectAsrError }
func (TrainSuccess) Subject() string      { return SubjectTrainSuccess }
func (Phonemes) Subject() string          { return SubjectPhonemes }
func (G2pError) Subject() string          { return SubjectG2pError }

// EventSite returns the site and session an event is scoped to.
func EventSite(evt Event) (string, SessionKey) {
	switch e := evt.(type) {
	case RecordingFinished:
		return e.SiteID, e.SessionID
	case TextCaptured:
		return e.SiteID, e.SessionID
	case AudioCaptured:
		return e.SiteID, e.SessionID
	case AsrError:
		return e.SiteID, e.SessionID
	case TrainSuccess:
		return e.SiteID, NamedSession(e.ID)
	case Phonemes:
		return e.SiteID, e.SessionID
	case G2pError:
		return e.SiteID, e.SessionID
	default:
		return "", DefaultSession()
	}
}
