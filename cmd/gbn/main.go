// gbn: CLI entry point.
//
// Runs one Go-Back-N file transfer host. By default it binds a UDP port and
// reads commands interactively; with -signal it instead pairs with a single
// peer over a WebRTC DataChannel negotiated through WebSocket signaling.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/anacrolix/tagflag"
	"github.com/pterm/pterm"

	"github.com/1ureka/gobackn/internal/config"
	"github.com/1ureka/gobackn/internal/host"
	"github.com/1ureka/gobackn/internal/signaling"
	"github.com/1ureka/gobackn/internal/trace"
	"github.com/1ureka/gobackn/internal/util"
	"github.com/1ureka/gobackn/internal/watch"
)

var version = "dev"

var flags = struct {
	Port           int           `help:"local UDP port, 0 picks a free one"`
	Chunk          int           `help:"DATA payload bytes per frame"`
	Window         int           `help:"frames in flight before waiting for an ACK"`
	Timeout        time.Duration `help:"per-frame acknowledgement timeout"`
	Loss           float64       `help:"simulated loss probability in [0,1]"`
	Corrupt        float64       `help:"simulated corruption probability in [0,1]"`
	Seed           uint64        `help:"impairment seed, 0 for random"`
	Attempts       int           `help:"handshake attempts"`
	MaxRetransmits int           `help:"retransmission rounds without progress before giving up, 0 for unbounded"`
	Idle           int           `help:"silent timeouts before a peer is reported idle, 0 disables"`
	Out            string        `help:"directory received files are written to"`
	NoAccept       bool          `help:"ignore handshakes from unknown peers"`

	Signal       string `help:"'host' to serve WebSocket signaling, or a ws:// URL to join one"`
	SignalListen string `help:"signaling listen address (with -signal=host)"`
	Pin          string `help:"signaling PIN (with -signal=host), generated when empty"`
	Stun         string `help:"comma separated STUN URLs, 'none' for host candidates only"`

	Watch       string        `help:"send every new file appearing in this directory"`
	Existing    bool          `help:"with -watch, also send the files already there"`
	To          string        `help:"peer address used by -watch"`
	Monitor     string        `help:"serve the live event stream on this address"`
	Trace       string        `help:"append every frame event to this file"`
	TraceFormat string        `help:"trace format: text, json or analyser"`
	Stats       time.Duration `help:"throughput report interval, 0 disables"`
	Debug       bool          `help:"enable debug logging"`
}{
	Port:        config.DefaultPort,
	Chunk:       config.DefaultChunkSize,
	Window:      config.DefaultWindowSize,
	Timeout:     config.DefaultTimeout,
	Attempts:    config.DefaultHandshakeAttempts,
	Idle:        config.DefaultIdleTimeouts,
	Out:         ".",
	TraceFormat: string(trace.FormatText),
	Stats:       time.Second,
}

func main() {
	tagflag.Parse(&flags)

	// Root context, cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if flags.Debug {
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("gbn — v%s", version))
	pterm.Println()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		util.LogError("%v", err)
		os.Exit(1)
	}
	util.LogInfo("host closed")
}

func run(ctx context.Context) error {
	cfg := configFromFlags()
	if err := cfg.Validate(); err != nil {
		return err
	}

	stats := &util.Stats{}
	sinks := []trace.Sink{stats}

	if flags.Trace != "" {
		f, err := os.OpenFile(flags.Trace, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open trace file: %w", err)
		}
		defer f.Close()

		logSink, err := trace.NewLogSink(f, trace.Format(flags.TraceFormat))
		if err != nil {
			return err
		}
		sinks = append(sinks, logSink)
	}

	if flags.Monitor != "" {
		mon := trace.NewMonitor()
		defer mon.Close()
		srv := &http.Server{Addr: flags.Monitor, Handler: mon.Handler(util.DebugWriter())}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				util.LogError("monitor: %v", err)
			}
		}()
		defer srv.Close()
		util.LogInfo("live events on ws://%s/events", flags.Monitor)
		sinks = append(sinks, mon)
	}

	sink := trace.Multi(sinks...)

	var (
		h    *host.Host
		link *signaling.Link
		err  error
	)
	if flags.Signal != "" {
		link, err = pair(ctx)
		if err != nil {
			return err
		}
		defer link.Close()
		h, err = host.New(ctx, cfg, link.Socket(cfg.Timeout, cfg.MaxFrameSize()), sink)
	} else {
		h, err = host.Listen(ctx, cfg, sink)
	}
	if err != nil {
		return err
	}
	defer func() {
		if err := h.Close(); err != nil {
			util.LogWarning("close host: %v", err)
		}
		util.LogInfo("%s", stats.Summary())
	}()
	util.LogSuccess("host ready on %s %s", h.Addr().Network(), h.Addr())

	if flags.Stats > 0 {
		util.StartStatsReporter(ctx, stats, flags.Stats)
	}
	go reportTransfers(ctx, h)

	// The offering side of a signaled link opens the connection.
	if link != nil && flags.Signal == "host" {
		if _, err := h.Connect(ctx, link.Peer()); err != nil {
			return err
		}
	}

	if flags.Watch != "" {
		return runWatch(ctx, h, link)
	}
	runInteractive(ctx, h)
	return nil
}

func configFromFlags() config.Config {
	cfg := config.Default()
	cfg.Port = flags.Port
	cfg.ChunkSize = flags.Chunk
	cfg.WindowSize = flags.Window
	cfg.Timeout = flags.Timeout
	cfg.LossRate = flags.Loss
	cfg.ErrorRate = flags.Corrupt
	cfg.Seed = flags.Seed
	cfg.HandshakeAttempts = flags.Attempts
	cfg.MaxRetransmits = flags.MaxRetransmits
	cfg.IdleTimeouts = flags.Idle
	cfg.OutputDir = flags.Out
	cfg.AcceptIncoming = !flags.NoAccept
	return cfg
}

// pair runs the signaling phase selected by -signal.
func pair(ctx context.Context) (*signaling.Link, error) {
	opts := signaling.Options{
		ListenAddr:  flags.SignalListen,
		PIN:         flags.Pin,
		STUNServers: stunServers(flags.Stun),
	}
	if flags.Signal == "host" {
		return signaling.EstablishAsHost(ctx, opts)
	}
	return signaling.EstablishAsClient(ctx, flags.Signal, opts)
}

// stunServers maps the -stun flag onto signaling.Options; nil keeps the
// defaults and an empty list disables STUN.
func stunServers(raw string) []string {
	raw = strings.TrimSpace(raw)
	switch raw {
	case "":
		return nil
	case "none":
		return []string{}
	}
	var urls []string
	for _, u := range strings.Split(raw, ",") {
		if u = strings.TrimSpace(u); u != "" {
			urls = append(urls, u)
		}
	}
	return urls
}

// ---------------------------------------------------------------------------
// Run modes
// ---------------------------------------------------------------------------

func runWatch(ctx context.Context, h *host.Host, link *signaling.Link) error {
	to := flags.To
	if to == "" && link != nil {
		to = link.Peer()
	}
	if to == "" {
		return errors.New("-watch needs -to <addr>")
	}
	if _, err := h.Connect(ctx, to); err != nil {
		return err
	}

	util.LogInfo("watching %s, sending to %s", flags.Watch, to)
	return watch.Run(ctx, flags.Watch, watch.Options{Existing: flags.Existing}, func(ctx context.Context, path string) error {
		return h.SendFile(ctx, path, to)
	})
}

// runInteractive reads commands until ctx is done or the user quits.
func runInteractive(ctx context.Context, h *host.Host) {
	pterm.Println(usage)
	pterm.Println()

	for ctx.Err() == nil {
		line, err := pterm.DefaultInteractiveTextInput.WithDefaultText("gbn").Show()
		if err != nil {
			return
		}
		cmd, err := parseCommand(line)
		if err != nil {
			util.LogWarning("%v", err)
			continue
		}
		if cmd.kind == cmdQuit {
			return
		}
		execute(ctx, h, cmd)
	}
}

func execute(ctx context.Context, h *host.Host, cmd command) {
	switch cmd.kind {
	case cmdNone:
	case cmdHelp:
		pterm.Println(usage)

	case cmdPeers:
		peers := h.Peers()
		if len(peers) == 0 {
			util.LogInfo("no connections")
			return
		}
		for _, p := range peers {
			c, err := h.Connection(p)
			if err != nil {
				continue
			}
			util.LogInfo("%s  %s  window %d/%d", p, c.State(), c.WindowSize(), c.PeerWindow())
		}

	case cmdConnect:
		spinner, _ := pterm.DefaultSpinner.Start(fmt.Sprintf("connecting to %s", cmd.addr))
		if _, err := h.Connect(ctx, cmd.addr); err != nil {
			spinner.Fail(err.Error())
			return
		}
		spinner.Success(fmt.Sprintf("connected to %s", cmd.addr))

	case cmdSend:
		if err := h.SendFile(ctx, cmd.path, cmd.addr); err != nil {
			util.LogError("%v", err)
		}
	}
}

// reportTransfers logs every receive session outcome until ctx is done.
func reportTransfers(ctx context.Context, h *host.Host) {
	for {
		select {
		case t := <-h.Transfers():
			if t.Err != nil {
				util.LogWarning("[%s] %q incomplete (%d/%d bytes): %v", t.Peer, t.Name, t.Received, t.Size, t.Err)
				continue
			}
			util.LogInfo("[%s] %q saved to %s", t.Peer, t.Name, t.Path)
		case <-ctx.Done():
			return
		}
	}
}
