package asr

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/loqalabs/loqa-asr/internal/protocol"
)

const inboundBuffer = 4096

var inboundSubjects = []string{
	protocol.SubjectToggleOn,
	protocol.SubjectToggleOff,
	protocol.SubjectStartListening,
	protocol.SubjectStopListening,
	protocol.SubjectTrain,
	protocol.SubjectPronounce,
	protocol.SubjectAudioFrameAll,
}

// decodeMessage maps a NATS subject and JSON body to an inbound message.
func decodeMessage(subject string, data []byte) (protocol.Message, error) {
	switch subject {
	case protocol.SubjectToggleOn:
		return decodeJSON[protocol.ToggleOn](data)
	case protocol.SubjectToggleOff:
		return decodeJSON[protocol.ToggleOff](data)
	case protocol.SubjectStartListening:
		return decodeJSON[protocol.StartListening](data)
	case protocol.SubjectStopListening:
		return decodeJSON[protocol.StopListening](data)
	case protocol.SubjectTrain:
		return decodeJSON[protocol.Train](data)
	case protocol.SubjectPronounce:
		return decodeJSON[protocol.Pronounce](data)
	}
	if site, ok := strings.CutPrefix(subject, protocol.SubjectAudioFramePrefix+"."); ok {
		var packet protocol.AudioFramePacket
		if err := json.Unmarshal(data, &packet); err != nil {
			return nil, err
		}
		if packet.SiteID == "" {
			packet.SiteID = site
		}
		return packet.Message(), nil
	}
	return nil, fmt.Errorf("unexpected subject %q", subject)
}

func decodeJSON[T protocol.Message](data []byte) (protocol.Message, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}
