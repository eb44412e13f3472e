package peer

import (
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// SignalType names the kind of a signaling message.
type SignalType string

const (
	SignalOffer     SignalType = "offer"
	SignalAnswer    SignalType = "answer"
	SignalCandidate SignalType = "candidate"
)

// Signal is the JSON shape of every message this package hands to the
// signaling channel.
type Signal struct {
	Type      SignalType               `json:"type"`
	SDP       string                   `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit `json:"candidate,omitempty"`
}

func descriptionSignal(desc webrtc.SessionDescription) Signal {
	return Signal{Type: SignalType(desc.Type.String()), SDP: desc.SDP}
}

func (s Signal) description() webrtc.SessionDescription {
	return webrtc.SessionDescription{
		Type: webrtc.NewSDPType(string(s.Type)),
		SDP:  s.SDP,
	}
}

// ParseSignal decodes and checks one signaling message.
func ParseSignal(raw json.RawMessage) (Signal, error) {
	var s Signal
	if err := json.Unmarshal(raw, &s); err != nil {
		return Signal{}, fmt.Errorf("decoding signal: %w", err)
	}
	switch s.Type {
	case SignalOffer, SignalAnswer:
		if s.SDP == "" {
			return Signal{}, fmt.Errorf("%s signal without sdp", s.Type)
		}
	case SignalCandidate:
		if s.Candidate == nil {
			return Signal{}, fmt.Errorf("candidate signal without candidate")
		}
	default:
		return Signal{}, fmt.Errorf("unknown signal type %q", s.Type)
	}
	return s, nil
}
