package transport

import (
	"encoding/json"
	"net"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/comacode/comacode/internal/gwerr"
	"github.com/comacode/comacode/internal/identity"
)

// Server accepts inbound connections, performs the tiny SDP signaling
// handshake over the raw TCP socket, then hands back a Conn once the
// data channel is open and detached.
type Server struct {
	listener net.Listener
	cert     webrtc.Certificate
}

// Listen opens a TCP listener at addr and prepares a Server that presents
// id's persisted certificate as its DTLS identity, so the fingerprint
// clients pin via the pairing payload is the actual negotiated identity.
func Listen(addr string, id *identity.Identity) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, gwerr.Wrap(gwerr.KindTransport, "listen", err)
	}

	cert, err := webrtc.CertificateFromX509(id.PrivateKey, id.Certificate)
	if err != nil {
		ln.Close()
		return nil, gwerr.Wrap(gwerr.KindTransport, "build dtls certificate from identity", err)
	}

	return &Server{listener: ln, cert: cert}, nil
}

// Addr returns the bound listen address.
func (s *Server) Addr() net.Addr { return s.listener.Addr() }

// Close stops accepting new connections.
func (s *Server) Close() error { return s.listener.Close() }

// Accept blocks for the next inbound signaling connection, completes the
// WebRTC handshake as the answerer, and returns the resulting Conn once
// its single data channel is open.
func (s *Server) Accept() (*Conn, error) {
	tcpConn, err := s.listener.Accept()
	if err != nil {
		return nil, gwerr.Wrap(gwerr.KindTransport, "accept", err)
	}
	return s.handshake(tcpConn)
}

func (s *Server) handshake(tcpConn net.Conn) (*Conn, error) {
	defer tcpConn.Close()

	var offerEnv sdpEnvelope
	if err := json.NewDecoder(tcpConn).Decode(&offerEnv); err != nil {
		return nil, gwerr.Wrap(gwerr.KindTransport, "decode offer", err)
	}

	config := webrtc.Configuration{
		Certificates: []webrtc.Certificate{s.cert},
	}

	api := newAPI()
	pc, err := api.NewPeerConnection(config)
	if err != nil {
		return nil, gwerr.Wrap(gwerr.KindTransport, "new peer connection", err)
	}

	dcCh := make(chan *webrtc.DataChannel, 1)
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != dataChannelLabel {
			return
		}
		dc.OnOpen(func() {
			select {
			case dcCh <- dc:
			default:
			}
		})
	})

	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offerEnv.SDP}
	if err := pc.SetRemoteDescription(offer); err != nil {
		pc.Close()
		return nil, gwerr.Wrap(gwerr.KindTransport, "set remote description", err)
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		pc.Close()
		return nil, gwerr.Wrap(gwerr.KindTransport, "create answer", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
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
		return nil, gwerr.Wrap(gwerr.KindTransport, "write answer", err)
	}

	var dc *webrtc.DataChannel
	select {
	case dc = <-dcCh:
	case <-time.After(15 * time.Second):
		pc.Close()
		return nil, gwerr.New(gwerr.KindTransport, "timed out waiting for data channel")
	}

	raw, err := dc.Detach()
	if err != nil {
		pc.Close()
		return nil, gwerr.Wrap(gwerr.KindTransport, "detach data channel", err)
	}

	return &Conn{pc: pc, dc: dc, stream: raw, remoteAddr: tcpConn.RemoteAddr()}, nil
}
