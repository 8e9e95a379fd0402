package hermes

import (
	"fmt"
	"strings"
)

const (
	TopicToggleOn       = "hermes/asr/toggleOn"
	TopicToggleOff      = "hermes/asr/toggleOff"
	TopicStartListening = "hermes/asr/startListening"
	TopicStopListening  = "hermes/asr/stopListening"
	TopicPronounce      = "rhasspy/g2p/pronounce"

	TopicTextCaptured      = "hermes/asr/textCaptured"
	TopicRecordingFinished = "rhasspy/asr/recordingFinished"
	TopicAsrError          = "hermes/error/asr"
	TopicPhonemes          = "rhasspy/g2p/phonemes"
	TopicG2pError          = "hermes/error/g2p"
)

func TopicAudioFrame(siteID string) string {
	return fmt.Sprintf("hermes/audioServer/%s/audioFrame", siteID)
}

func TopicAudioSessionFrame(siteID, sessionID string) string {
	return fmt.Sprintf("hermes/audioServer/%s/%s/audioSessionFrame", siteID, sessionID)
}

func TopicTrain(siteID string) string {
	return fmt.Sprintf("rhasspy/asr/%s/train", siteID)
}

func TopicTrainSuccess(siteID string) string {
	return fmt.Sprintf("rhasspy/asr/%s/trainSuccess", siteID)
}

func TopicAudioCaptured(siteID, sessionID string) string {
	return fmt.Sprintf("rhasspy/asr/%s/%s/audioCaptured", siteID, sessionID)
}

// subscriptions lists the filters for siteIDs, or wildcards when empty.
func subscriptions(siteIDs []string) []string {
	topics := []string{TopicToggleOn, TopicToggleOff, TopicStartListening, TopicStopListening, TopicPronounce}
	if len(siteIDs) == 0 {
		return append(topics, TopicAudioFrame("+"), TopicAudioSessionFrame("+", "+"), TopicTrain("+"))
	}
	for _, site := range siteIDs {
		topics = append(topics, TopicAudioFrame(site), TopicAudioSessionFrame(site, "+"), TopicTrain(site))
	}
	return topics
}

// expected: hermes/audioServer/{siteId}/audioFrame
func ParseAudioFrame(topic string) (siteID string, ok bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 || parts[0] != "hermes" || parts[1] != "audioServer" || parts[3] != "audioFrame" {
		return "", false
	}
	return parts[2], true
}

// expected: hermes/audioServer/{siteId}/{sessionId}/audioSessionFrame
func ParseAudioSessionFrame(topic string) (siteID, sessionID string, ok bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 5 || parts[0] != "hermes" || parts[1] != "audioServer" || parts[4] != "audioSessionFrame" {
		return "", "", false
	}
	return parts[2], parts[3], true
}

// expected: rhasspy/asr/{siteId}/train
func ParseTrain(topic string) (siteID string, ok bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 || parts[0] != "rhasspy" || parts[1] != "asr" || parts[3] != "train" {
		return "", false
	}
	return parts[2], true
}
