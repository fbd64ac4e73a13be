package transport

import (
	"encoding/json"
	"net"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/comacode/comacode/internal/gwerr"
)

// Dial connects to addr, performs the offerer half of the handshake, and
// returns a Conn once the data channel it opened is detached. The caller
// is expected to verify RemoteFingerprint() against its TOFU store before
// sending any application data.
func Dial(addr string) (*Conn, error) {
	tcpConn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, gwerr.Wrap(gwerr.KindTransport, "dial", err)
	}
	return dialHandshake(tcpConn)
}

func dialHandshake(tcpConn net.Conn) (*Conn, error) {
	defer tcpConn.Close()

	api := newAPI()
	pc, err := api.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return nil, gwerr.Wrap(gwerr.KindTransport, "new peer connection", err)
	}

	dcInit := true
	dc, err := pc.CreateDataChannel(dataChannelLabel, &webrtc.DataChannelInit{Ordered: &dcInit})
	if err != nil {
		pc.Close()
		return nil, gwerr.Wrap(gwerr.KindTransport, "create data channel", err)
	}

	openCh := make(chan struct{}, 1)
	dc.OnOpen(func() {
		select {
		case openCh <- struct{}{}:
		default:
		}
	})

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		pc.Close()
		return nil, gwerr.Wrap(gwerr.KindTransport, "create offer", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		pc.Close()
		return nil, gwerr.Wrap(gwerr.KindTransport, "set local description", err)
	}
	<-gatherComplete

	localDesc := pc.LocalDescription()
	if localDesc == nil {
		pc.Close()
		return nil, gwerr.New(gwerr.KindTransport, "no local description after ICE gathering")
	}

	if err := json.NewEncoder(tcpConn).Encode(sdpEnvelope{SDP: localDesc.SDP}); err != nil {
		pc.Close()
		return nil, gwerr.Wrap(gwerr.KindTransport, "write offer", err)
	}

	var answerEnv sdpEnvelope
	if err := json.NewDecoder(tcpConn).Decode(&answerEnv); err != nil {
		pc.Close()
		return nil, gwerr.Wrap(gwerr.KindTransport, "decode answer", err)
	}

	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answerEnv.SDP}
	if err := pc.SetRemoteDescription(answer); err != nil {
		pc.Close()
		return nil, gwerr.Wrap(gwerr.KindTransport, "set remote description", err)
	}

	select {
	case <-openCh:
	case <-time.After(15 * time.Second):
		pc.Close()
		return nil, gwerr.New(gwerr.KindTransport, "timed out waiting for data channel to open")
	}

	raw, err := dc.Detach()
	if err != nil {
		pc.Close()
		return nil, gwerr.Wrap(gwerr.KindTransport, "detach data channel", err)
	}

	return &Conn{pc: pc, dc: dc, stream: raw, remoteAddr: tcpConn.RemoteAddr()}, nil
}
