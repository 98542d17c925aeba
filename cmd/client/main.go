package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vovakirdan/wirechat-tcp/internal/client"
	"github.com/vovakirdan/wirechat-tcp/internal/config"
	wlog "github.com/vovakirdan/wirechat-tcp/internal/log"
	"github.com/vovakirdan/wirechat-tcp/internal/proto"
	"github.com/vovakirdan/wirechat-tcp/internal/store"
	"github.com/vovakirdan/wirechat-tcp/internal/store/sqlite"
)

const (
	defaultHistoryLines = 20
	flushTimeout        = 2 * time.Second
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "wirechat-client: %v\n", err)
		os.Exit(1)
	}
}

type clientFlags struct {
	configPath  string
	historyPath string
	ws          bool
	wsPath      string
	noReconnect bool
	logLevel    string
}

func newRootCmd() *cobra.Command {
	var f clientFlags

	cmd := &cobra.Command{
		Use:   "wirechat-client <host> <port> <username>",
		Short: "Interactive console client for a wirechat server",
		Long: `Connects to a wirechat server, prints incoming messages and sends
each line typed on stdin. Commands:

  /history [n]   print the last n messages from the local history
  /users         print the last user list the server sent
  /quit          disconnect and exit`,
		Args:          cobra.ExactArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			port, err := config.ParsePort(args[1])
			if err != nil {
				return err
			}
			if strings.TrimSpace(args[2]) == "" {
				return errors.New("username must not be empty")
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return run(ctx, f, args[0], port, args[2], cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&f.configPath, "config", "c", "", "path to the YAML config file")
	cmd.Flags().StringVar(&f.historyPath, "history", "client_history.db", "local history database (empty disables)")
	cmd.Flags().BoolVar(&f.ws, "ws", false, "tunnel through the server's WebSocket endpoint instead of TCP")
	cmd.Flags().StringVar(&f.wsPath, "ws-path", "/ws", "WebSocket endpoint path")
	cmd.Flags().BoolVar(&f.noReconnect, "no-reconnect", false, "do not reconnect after the link drops")
	cmd.Flags().StringVar(&f.logLevel, "log-level", "", "log level (trace, debug, info, warn, error)")

	return cmd
}

func run(ctx context.Context, f clientFlags, host string, port int, username string, in io.Reader, out io.Writer) error {
	logger := wlog.NewWriter("warn", os.Stderr)
	cfg, _, err := config.Load(logger, f.configPath)
	if err != nil {
		return err
	}
	if f.logLevel != "" {
		cfg.LogLevel = f.logLevel
	}
	if err := cfg.Validate(); err != nil {
		var cfgErr *config.Error
		// The server port in the file is irrelevant to the client.
		if !errors.As(err, &cfgErr) || cfgErr.Field != "port" {
			return err
		}
	}
	logger = wlog.NewWriter(cfg.LogLevel, os.Stderr)

	opts := client.Options{
		Username:          username,
		AutoReconnect:     cfg.Reconnect.Enabled && !f.noReconnect,
		Backoff:           cfg.Reconnect.Config,
		HeartbeatInterval: cfg.HeartbeatInterval,
		HeartbeatTimeout:  cfg.HeartbeatTimeout,
		DialTimeout:       cfg.DialTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		MaxFrameBytes:     cfg.MaxFrameBytes,
		Logger:            *logger,
	}
	if f.ws {
		opts.Dialer = client.WSDialer{Path: f.wsPath, ReadLimit: int64(cfg.MaxFrameBytes)}
	}

	var history store.MessageStore
	if f.historyPath != "" {
		st, err := sqlite.New(f.historyPath)
		if err != nil {
			return fmt.Errorf("open history: %w", err)
		}
		defer st.Close()
		history = st
		opts.History = st
	}

	conn := client.New(opts)
	defer conn.Disconnect()

	printer := &printer{out: out}
	terminal := make(chan error, 1)
	go func() {
		for ev := range conn.Events() {
			printer.event(ev)
			if ev.Kind == client.EventDisconnected {
				select {
				case terminal <- ev.Err:
				default:
				}
			}
		}
	}()

	if err := conn.Connect(ctx, host, port); err != nil && !opts.AutoReconnect {
		return err
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 0, 4096), cfg.MaxFrameBytes)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-terminal:
			if errors.Is(err, client.ErrReconnectExhausted) {
				return err
			}
			return nil
		case line, ok := <-lines:
			if !ok || handleLine(ctx, conn, history, printer, line, logger) {
				flush(ctx, conn, logger)
				return nil
			}
		}
	}
}

func flush(ctx context.Context, conn *client.Connection, logger *zerolog.Logger) {
	ctx, cancel := context.WithTimeout(ctx, flushTimeout)
	defer cancel()
	if err := conn.Flush(ctx); err != nil && !errors.Is(err, client.ErrNotConnected) {
		logger.Warn().Err(err).Msg("unsent messages dropped")
	}
}

// handleLine runs a console command or sends the line as chat text. It
// reports whether the client should exit.
func handleLine(ctx context.Context, conn *client.Connection, history store.MessageStore, p *printer, line string, logger *zerolog.Logger) bool {
	line = strings.TrimRight(line, "\r")
	if strings.TrimSpace(line) == "" {
		return false
	}

	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return true
	case "/users":
		p.users()
		return false
	case "/history":
		if history == nil {
			p.line("history is disabled")
			return false
		}
		n := defaultHistoryLines
		if len(fields) > 1 {
			if v, err := strconv.Atoi(fields[1]); err == nil && v > 0 {
				n = v
			}
		}
		msgs, err := history.Recent(ctx, n)
		if err != nil {
			logger.Warn().Err(err).Msg("failed to read history")
			return false
		}
		for i := len(msgs) - 1; i >= 0; i-- {
			p.stored(msgs[i])
		}
		return false
	}

	if err := conn.SendText(line); err != nil {
		p.line("send failed: " + err.Error())
	}
	return false
}

// printer serializes console output from the event loop and the input loop.
type printer struct {
	mu       sync.Mutex
	out      io.Writer
	lastList string
}

func (p *printer) line(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.out, s)
}

func (p *printer) event(ev client.Event) {
	switch ev.Kind {
	case client.EventMessage:
		p.message(ev.Message, time.Now())
	case client.EventStatus:
		if ev.Delay.Actual > 0 {
			p.line(fmt.Sprintf("* %s (retry in %s)", ev.Status, ev.Delay.Actual.Round(time.Millisecond)))
			return
		}
		p.line("* " + ev.Status)
	case client.EventConnected:
		p.line("* " + ev.Status)
	case client.EventDisconnected:
		if ev.Err != nil {
			p.line("* disconnected: " + ev.Err.Error())
			return
		}
		p.line("* disconnected")
	}
}

func (p *printer) message(msg proto.Message, at time.Time) {
	switch msg.Type {
	case proto.TypeText:
		p.line(fmt.Sprintf("[%s] %s: %s", at.Format("15:04:05"), msg.Sender, msg.Content))
	case proto.TypeJoin, proto.TypeLeave:
		p.line("* " + msg.Content)
	case proto.TypeUserList:
		p.mu.Lock()
		p.lastList = msg.Content
		p.mu.Unlock()
		p.line("* online: " + msg.Content)
	}
}

func (p *printer) users() {
	p.mu.Lock()
	list := p.lastList
	p.mu.Unlock()
	if list == "" {
		p.line("* no user list received yet")
		return
	}
	p.line("* online: " + list)
}

func (p *printer) stored(m store.StoredMessage) {
	p.message(m.Message(), m.CreatedAt)
}
