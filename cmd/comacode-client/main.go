// Command comacode-client connects to a comacode-host using a pairing
// payload, pins its certificate fingerprint via TOFU, and attaches the
// local terminal to the remote PTY.
package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/comacode/comacode/internal/config"
	"github.com/comacode/comacode/internal/pairing"
	"github.com/comacode/comacode/internal/tofu"
	"github.com/comacode/comacode/internal/transport"
	"github.com/comacode/comacode/internal/wire"
)

func main() {
	root := &cobra.Command{
		Use:   "comacode-client <pairing-json>",
		Short: "comacode terminal client",
		Args:  cobra.ExactArgs(1),
		RunE:  run,
	}

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	payload, err := pairing.Parse([]byte(args[0]))
	if err != nil {
		return fmt.Errorf("parse pairing payload: %w", err)
	}

	dataDir, err := config.DataDir()
	if err != nil {
		return fmt.Errorf("resolve data dir: %w", err)
	}
	store, err := tofu.Open(dataDir)
	if err != nil {
		return fmt.Errorf("open tofu store: %w", err)
	}

	addr := net.JoinHostPort(payload.IP, strconv.Itoa(int(payload.Port)))
	conn, err := transport.Dial(addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	observed, err := conn.RemoteFingerprint()
	if err != nil {
		return fmt.Errorf("read remote fingerprint: %w", err)
	}
	if observed != payload.Fingerprint {
		return fmt.Errorf("observed fingerprint %s does not match pairing payload fingerprint %s",
			observed, payload.Fingerprint)
	}
	if err := store.Verify(addr, observed); err != nil {
		return fmt.Errorf("trust verification failed: %w", err)
	}

	writer := wire.NewFrameWriter(conn)

	if err := writer.Send(wire.Hello(payload.ProtocolVersion, "comacode-client/0.1.0", 0, payload.Token)); err != nil {
		return fmt.Errorf("send hello: %w", err)
	}
	ack, err := wire.ReadFrame(conn)
	if err != nil || ack.Tag != wire.TagHelloAck {
		return fmt.Errorf("handshake rejected: %w", err)
	}

	fd := int(os.Stdin.Fd())
	cols, rows := 80, 24
	if term.IsTerminal(fd) {
		if w, h, err := term.GetSize(fd); err == nil {
			cols, rows = w, h
		}
	}
	if err := writer.Send(wire.Resize(uint16(rows), uint16(cols))); err != nil {
		return fmt.Errorf("send initial resize: %w", err)
	}

	var oldState *term.State
	if term.IsTerminal(fd) {
		oldState, err = term.MakeRaw(fd)
		if err == nil {
			defer term.Restore(fd, oldState)
		}
	}

	winchCh := make(chan os.Signal, 1)
	signal.Notify(winchCh, syscall.SIGWINCH)
	defer signal.Stop(winchCh)
	go func() {
		for range winchCh {
			if w, h, err := term.GetSize(fd); err == nil {
				_ = writer.Send(wire.Resize(uint16(h), uint16(w)))
			}
		}
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			msg, err := wire.ReadFrame(conn)
			if err != nil {
				return
			}
			switch msg.Tag {
			case wire.TagOutput:
				os.Stdout.Write(msg.Data)
			case wire.TagError:
				fmt.Fprintln(os.Stderr, "remote error:", msg.ErrorMessage)
			case wire.TagExit:
				return
			}
		}
	}()

	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := os.Stdin.Read(buf)
			if n > 0 {
				data := make([]byte, n)
				copy(data, buf[:n])
				if werr := writer.Send(wire.Input(data)); werr != nil {
					return
				}
			}
			if err != nil {
				_ = writer.Send(wire.Close())
				return
			}
		}
	}()

	<-done
	return nil
}
