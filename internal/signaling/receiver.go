package signaling

import (
	"encoding/json"
	"fmt"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
)

// receiver applies remote signaling messages to the PeerConnection.
type receiver struct {
	pc     *webrtc.PeerConnection
	conn   *websocket.Conn
	sender *sender
}

// watch reads messages until the WebSocket fails or is closed.
func (r *receiver) watch() error {
	for {
		var msg message
		if err := r.conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("read signaling message: %w", err)
		}
		if err := r.handle(msg); err != nil {
			return err
		}
	}
}

func (r *receiver) handle(msg message) error {
	switch msg.Type {
	case msgTypeOffer:
		if err := r.pc.SetRemoteDescription(webrtc.SessionDescription{
			Type: webrtc.SDPTypeOffer, SDP: msg.SDP,
		}); err != nil {
			return fmt.Errorf("set remote offer: %w", err)
		}
		if err := r.sender.sendAnswer(); err != nil {
			return fmt.Errorf("send answer: %w", err)
		}

	case msgTypeAnswer:
		if err := r.pc.SetRemoteDescription(webrtc.SessionDescription{
			Type: webrtc.SDPTypeAnswer, SDP: msg.SDP,
		}); err != nil {
			return fmt.Errorf("set remote answer: %w", err)
		}

	case msgTypeCandidate:
		var init webrtc.ICECandidateInit
		if err := json.Unmarshal([]byte(msg.Candidate), &init); err != nil {
			return fmt.Errorf("parse ICE candidate: %w", err)
		}
		if err := r.pc.AddICECandidate(init); err != nil {
			return fmt.Errorf("add ICE candidate: %w", err)
		}

	default:
		return fmt.Errorf("unknown signaling message type %q", msg.Type)
	}
	return nil
}
