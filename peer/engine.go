package peer

import (
	"github.com/pion/webrtc/v4"
)

// this file contains the abstraction of the webrtc package

// PeerConnection is the part of *webrtc.PeerConnection the adapter drives.
type PeerConnection interface {
	OnICECandidate(func(*webrtc.ICECandidate))
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	SetLocalDescription(desc webrtc.SessionDescription) error
	LocalDescription() *webrtc.SessionDescription
	RemoteDescription() *webrtc.SessionDescription
	CreateOffer(options *webrtc.OfferOptions) (webrtc.SessionDescription, error)
	CreateAnswer(options *webrtc.AnswerOptions) (webrtc.SessionDescription, error)
	OnConnectionStateChange(func(webrtc.PeerConnectionState))
	CreateDataChannel(label string, dataChannelInit *webrtc.DataChannelInit) (DataChannel, error)
	OnDataChannel(func(DataChannel))
	Close() error
}

// DataChannel is the abstraction of the data channel.
type DataChannel interface {
	Label() string
	OnOpen(func())
	OnClose(func())
	OnError(func(error))
	OnMessage(func(webrtc.DataChannelMessage))
	SendText(string) error
	ReadyState() webrtc.DataChannelState
	Close() error
}

var _ DataChannel = (*webrtc.DataChannel)(nil)

// Builder creates peer connections. Inject one to run the adapter on an
// engine other than the default pion API.
type Builder interface {
	NewPeerConnection(config webrtc.Configuration) (PeerConnection, error)
}

// PeerConnWrapper adapts *webrtc.PeerConnection to PeerConnection.
type PeerConnWrapper struct {
	// must be non-nil
	*webrtc.PeerConnection
}

var _ PeerConnection = (*PeerConnWrapper)(nil)

// CreateDataChannel calls the original method.
func (p *PeerConnWrapper) CreateDataChannel(
	label string, dataChannelInit *webrtc.DataChannelInit) (
	DataChannel, error) {
	dc, err := p.PeerConnection.CreateDataChannel(label, dataChannelInit)
	if err != nil {
		return nil, err
	}
	return dc, nil
}

// OnDataChannel calls the original method.
func (p *PeerConnWrapper) OnDataChannel(f func(DataChannel)) {
	p.PeerConnection.OnDataChannel(func(dc *webrtc.DataChannel) {
		f(dc)
	})
}

// pionBuilder builds peer connections from one configured pion API.
type pionBuilder struct {
	api *webrtc.API
}

// NewBuilder returns the default Builder. The setting engine carries the
// logger factory and, when set, the injected network of opts.
func NewBuilder(opts Options) Builder {
	se := webrtc.SettingEngine{}
	se.LoggerFactory = opts.LoggerFactory
	if se.LoggerFactory == nil {
		se.LoggerFactory = LogrusFactory{}
	}
	if opts.Net != nil {
		se.SetNet(opts.Net)
	}
	return pionBuilder{api: webrtc.NewAPI(webrtc.WithSettingEngine(se))}
}

func (b pionBuilder) NewPeerConnection(config webrtc.Configuration) (PeerConnection, error) {
	pc, err := b.api.NewPeerConnection(config)
	if err != nil {
		return nil, err
	}
	return &PeerConnWrapper{pc}, nil
}
