// Package transport configures the encrypted datagram endpoint (DTLS over
// SCTP, carried by a WebRTC data channel) for both the host and the
// client, and opens exactly one bidirectional stream per connection.
package transport

import (
	"net"

	"github.com/pion/webrtc/v4"

	"github.com/comacode/comacode/internal/gwerr"
	"github.com/comacode/comacode/internal/identity"
)

const dataChannelLabel = "comacode"

// Conn is one bidirectional stream over an established peer connection.
// It satisfies io.ReadWriteCloser via the detached data channel.
type Conn struct {
	pc         *webrtc.PeerConnection
	dc         *webrtc.DataChannel
	stream     rwc
	remoteAddr net.Addr
}

// rwc is the minimal surface datachannel.Detach returns.
type rwc interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

func (c *Conn) Read(p []byte) (int, error)  { return c.stream.Read(p) }
func (c *Conn) Write(p []byte) (int, error) { return c.stream.Write(p) }

// Close tears down the data channel and the underlying peer connection.
func (c *Conn) Close() error {
	streamErr := c.stream.Close()
	pcErr := c.pc.Close()
	if streamErr != nil {
		return gwerr.Wrap(gwerr.KindTransport, "close stream", streamErr)
	}
	if pcErr != nil {
		return gwerr.Wrap(gwerr.KindTransport, "close peer connection", pcErr)
	}
	return nil
}

// RemoteAddr returns the address recorded when the connection was
// established (the TCP signaling peer address).
func (c *Conn) RemoteAddr() net.Addr { return c.remoteAddr }

// RemoteIP returns the host portion of RemoteAddr, the key the admission
// controller rate-limits and bans by.
func (c *Conn) RemoteIP() string {
	host, _, err := net.SplitHostPort(c.remoteAddr.String())
	if err != nil {
		return c.remoteAddr.String()
	}
	return host
}

// RemoteFingerprint returns the SHA-256 fingerprint of the remote peer's
// DTLS certificate, in the same colon-delimited lowercase hex form as
// identity.Identity.Fingerprint, for client-side TOFU verification.
func (c *Conn) RemoteFingerprint() (string, error) {
	sctp := c.pc.SCTP()
	if sctp == nil {
		return "", gwerr.New(gwerr.KindTransport, "no sctp transport")
	}
	dtls := sctp.Transport()
	if dtls == nil {
		return "", gwerr.New(gwerr.KindTransport, "no dtls transport")
	}
	der := dtls.GetRemoteCertificate()
	if len(der) == 0 {
		return "", gwerr.New(gwerr.KindTransport, "no remote certificate available")
	}
	return identity.FingerprintOf(der), nil
}

func newAPI() *webrtc.API {
	se := webrtc.SettingEngine{}
	se.DetachDataChannels()
	return webrtc.NewAPI(webrtc.WithSettingEngine(se))
}
