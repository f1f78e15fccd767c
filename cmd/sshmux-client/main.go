// Command sshmux-client dials a keyed SSH-style transport and drives an
// interactive session channel through the sshmux engine. Real key
// exchange, authentication and terminal raw-mode handling are out of
// scope (see sshmux's package doc) — this is the CLI wiring around the
// engine, in the style xtaci/kcptun's client/main.go wires kcp+smux.
package main

import (
	"log"
	"net"
	"os"

	"github.com/armon/go-socks5"
	"github.com/pkg/errors"
	"github.com/urfave/cli"
	"golang.org/x/sys/unix"

	"github.com/sagernet/sshmux"
	"github.com/sagernet/sshmux/pollset"
	"github.com/sagernet/sshmux/transport"
)

// VERSION is injected by build flags.
var VERSION = "SELFBUILD"

func main() {
	if VERSION == "SELFBUILD" {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	app := cli.NewApp()
	app.Name = "sshmux-client"
	app.Usage = "client side of an interactive SSH channel-multiplexed session"
	app.Version = VERSION
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "remoteaddr, r", Value: "", Usage: "remote host:port"},
		cli.StringFlag{Name: "secret, s", Value: "", Usage: "shared secret for the reference transport"},
		cli.StringFlag{Name: "command, c", Value: "", Usage: "remote command to exec (empty for an interactive shell)"},
		cli.StringFlag{Name: "term", Value: "xterm", Usage: "TERM to advertise via pty-req"},
		cli.BoolFlag{Name: "pty", Usage: "request a pty"},
		cli.StringFlag{Name: "socksaddr", Value: "", Usage: "local SOCKS5 listen address (empty disables it)"},
		cli.StringFlag{Name: "config", Usage: "path to a JSON config file; flags above override it"},
		cli.BoolFlag{Name: "debug", Usage: "verbose logging"},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		log.Fatalln(err)
	}
}

func run(c *cli.Context) error {
	cfg := loadConfig(c)
	if cfg.RemoteAddr == "" {
		return errors.New("remoteaddr is required")
	}

	conn, err := net.Dial("tcp", cfg.RemoteAddr)
	if err != nil {
		return errors.Wrap(err, "dial remote")
	}

	tp, err := transport.NewStreamTransport(conn, []byte(cfg.Secret), []byte(cfg.RemoteAddr))
	if err != nil {
		return errors.Wrap(err, "establish transport")
	}

	var socks *socksListener
	if cfg.SocksAddr != "" {
		socks, err = newSocksListener(cfg.SocksAddr)
		if err != nil {
			return errors.Wrap(err, "socks5 listener")
		}
		defer socks.Close()
	}

	engine := sshmux.NewConnection(tp)
	channelCfg := sshmux.Config{
		Type: sshmux.TypeSession,
		Session: sshmux.SessionConfig{
			Command: cfg.Command,
			PTY:     cfg.PTY,
			Term:    cfg.Term,
			Width:   80,
			Height:  24,
		},
		Callbacks: sshmux.Callbacks{
			Open: func(ch *sshmux.Channel) error {
				log.Printf("session channel %d open", ch.GetNum())
				if socks != nil {
					return ch.WatchFD(socks.fd, pollset.Read, 0)
				}
				return nil
			},
			Closed: func(ch *sshmux.Channel) {
				log.Printf("session channel %d closed", ch.GetNum())
			},
			OpenFailed: func(ch *sshmux.Channel, reason uint32, desc string) {
				log.Printf("session channel open failed: reason=%d desc=%q", reason, desc)
			},
			Received: func(ch *sshmux.Channel, data []byte) {
				os.Stdout.Write(data)
			},
			ReceivedExt: func(ch *sshmux.Channel, code uint32, data []byte) {
				os.Stderr.Write(data)
			},
			FDReady: func(ch *sshmux.Channel, fd int, interest pollset.Interest) error {
				if socks == nil || fd != socks.fd || interest&pollset.Read == 0 {
					return nil
				}
				socks.acceptReady()
				return nil
			},
		},
	}

	return engine.Run([]sshmux.Config{channelCfg})
}

func loadConfig(c *cli.Context) *Config {
	cfg := &Config{Term: c.String("term")}
	if path := c.String("config"); path != "" {
		if err := parseJSONConfig(cfg, path); err != nil {
			log.Printf("sshmux-client: %v", err)
		}
	}
	for name, dst := range map[string]*string{"remoteaddr": &cfg.RemoteAddr, "secret": &cfg.Secret,
		"command": &cfg.Command, "term": &cfg.Term, "socksaddr": &cfg.SocksAddr} {
		if c.IsSet(name) {
			*dst = c.String(name)
		}
	}
	cfg.PTY = cfg.PTY || c.Bool("pty")
	cfg.Debug = cfg.Debug || c.Bool("debug")
	return cfg
}

// socksListener runs a local SOCKS5 proxy (RFC 1928) the way
// File-Sharing-Utility wires github.com/armon/go-socks5, but its listening
// socket is driven through the engine's own poll loop instead of a
// separate blocking accept goroutine: the listener's fd is registered on
// the session channel via WatchFD, and acceptReady is invoked from
// FDReady whenever the engine's poll(2) call reports it readable. Each
// accepted connection is handed to go-socks5's own connection handler on
// its own goroutine for protocol negotiation and relay — that traffic
// never flows through the session channel's Send/Received path, since
// forwarding it over the multiplexed connection itself (direct-tcpip)
// remains unimplemented.
type socksListener struct {
	ln     *net.TCPListener
	fd     int
	server *socks5.Server
}

func newSocksListener(addr string) (*socksListener, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, errors.Wrap(err, "resolve socks5 address")
	}
	ln, err := net.ListenTCP("tcp", tcpAddr)
	if err != nil {
		return nil, errors.Wrap(err, "listen socks5")
	}
	server, err := socks5.New(&socks5.Config{})
	if err != nil {
		ln.Close()
		return nil, errors.Wrap(err, "socks5 setup")
	}

	rawConn, err := ln.SyscallConn()
	if err != nil {
		ln.Close()
		return nil, errors.Wrap(err, "socks5 listener SyscallConn")
	}
	var fd int
	var ctrlErr error
	if err := rawConn.Control(func(f uintptr) {
		fd = int(f)
		ctrlErr = unix.SetNonblock(fd, true)
	}); err != nil {
		ln.Close()
		return nil, errors.Wrap(err, "socks5 listener control")
	}
	if ctrlErr != nil {
		ln.Close()
		return nil, errors.Wrap(ctrlErr, "socks5 listener set nonblock")
	}

	log.Printf("sshmux-client: socks5 listening on %s", addr)
	return &socksListener{ln: ln, fd: fd, server: server}, nil
}

// acceptReady drains every connection the kernel currently has queued by
// calling accept(2) directly on the raw fd. Go's *net.TCPListener.Accept
// blocks the calling goroutine at the runtime-netpoller level regardless
// of the underlying socket's O_NONBLOCK flag, which would stall the
// engine's single-threaded loop; a raw unix.Accept is the only way to get
// an EAGAIN this loop can act on, the way transport.StreamTransport reads
// and writes its own fd directly rather than through net.Conn.
func (s *socksListener) acceptReady() {
	for {
		nfd, _, err := unix.Accept(s.fd)
		if err != nil {
			if err == unix.EAGAIN {
				return
			}
			log.Printf("sshmux-client: socks5 accept: %v", err)
			return
		}
		if err := unix.SetNonblock(nfd, false); err != nil {
			log.Printf("sshmux-client: socks5 conn setup: %v", err)
			unix.Close(nfd)
			continue
		}
		f := os.NewFile(uintptr(nfd), "socks5-conn")
		conn, err := net.FileConn(f)
		f.Close()
		if err != nil {
			log.Printf("sshmux-client: socks5 conn setup: %v", err)
			continue
		}
		go func() {
			if err := s.server.ServeConn(conn); err != nil {
				log.Printf("sshmux-client: socks5 conn: %v", err)
			}
		}()
	}
}

func (s *socksListener) Close() error {
	return s.ln.Close()
}
