package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xiaot623/gogo/chatlink/internal/conn"
	"github.com/xiaot623/gogo/chatlink/internal/metrics"
	"github.com/xiaot623/gogo/chatlink/internal/protocol"
	"github.com/xiaot623/gogo/chatlink/internal/render"
	"github.com/xiaot623/gogo/chatlink/internal/session"
	"github.com/xiaot623/gogo/chatlink/internal/transcript"
)

const chatHelp = `Commands:
  /new            start a new chat
  /auth           show the pending authorization link
  /done           confirm you finished authorizing
  /upload <path>  add a PDF to the knowledge base
  /status         show connection details
  /quit           exit`

func newChatCmd(a *app) *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("user") {
				userID = a.cfg.UserID
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return a.runChat(ctx, cmd.OutOrStdout(), userID)
		},
	}
	cmd.Flags().StringVarP(&userID, "user", "u", "", "user id (defaults to USER_ID, prompts when empty)")
	return cmd
}

// chatLoop turns input lines into session actions.
type chatLoop struct {
	session *session.Session
	manager *conn.Manager
	view    *render.Renderer
	logger  *zap.Logger

	mu      sync.Mutex
	loading bool
}

func (a *app) newChatLoop(out io.Writer) *chatLoop {
	l := &chatLoop{
		view:   render.New(out),
		logger: a.logger,
	}

	l.manager = conn.NewManager(a.cfg.ChatWSURL,
		conn.WithDialer(&conn.WSDialer{
			HandshakeTimeout: a.cfg.DialTimeout,
			WriteTimeout:     a.cfg.WriteTimeout,
			PingInterval:     a.cfg.PingInterval,
			MaxMessageSize:   a.cfg.MaxMessageSize,
		}),
		conn.WithBackoff(conn.Backoff{Base: a.cfg.ReconnectBaseDelay, Max: a.cfg.ReconnectMaxDelay}),
		conn.WithMaxAttempts(a.cfg.ReconnectMaxAttempts),
		conn.WithLogger(a.logger),
		conn.WithEventHandler(func(ev protocol.Event) { l.session.HandleEvent(ev) }),
	)
	l.session = session.New(l.manager, a.ragClient(), a.logger)
	l.session.Observe(session.Observer{
		OnAppend:      l.view.Item,
		OnStateChange: l.onState,
		OnReset: func() {
			l.view.Notice("Started a new chat.")
		},
	})
	return l
}

func (l *chatLoop) onState(s transcript.State) {
	l.mu.Lock()
	startedLoading := s.Loading && !l.loading
	l.loading = s.Loading
	l.mu.Unlock()

	if startedLoading {
		l.view.Loading()
	}
}

// watchStatus prints connection status changes until ctx is done.
func (l *chatLoop) watchStatus(ctx context.Context) {
	changes := l.manager.StatusChanges()
	for {
		select {
		case <-ctx.Done():
			return
		case s := <-changes:
			l.view.Status(s)
		}
	}
}

// handle executes one input line and reports whether the loop should exit.
func (l *chatLoop) handle(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		l.sendText(line)
		return false
	}

	command, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch command {
	case "/quit", "/exit":
		return true
	case "/help":
		l.view.Notice("%s", chatHelp)
	case "/new":
		l.session.NewChat()
	case "/auth":
		if _, err := l.session.OpenAuthWindow(); err != nil {
			l.view.Notice("No authorization is pending.")
			return false
		}
		l.view.AuthLink(l.session.Pending())
	case "/done":
		l.confirmAuth()
	case "/upload":
		l.upload(ctx, arg)
	case "/status":
		st := l.manager.Stats()
		l.view.Notice("status=%s attempt=%d reconnects=%d events=%d decode_failures=%d dropped=%d",
			st.Status, st.Attempt, st.ReconnectsScheduled, st.EventsReceived, st.DecodeFailures, st.OutboundDropped)
	default:
		l.view.Notice("Unknown command %s. Type /help for commands.", command)
	}
	return false
}

func (l *chatLoop) sendText(text string) {
	err := l.session.SendText(text)
	switch {
	case err == nil:
	case errors.Is(err, conn.ErrNotConnected):
		l.view.Notice("Not connected. The message was not delivered.")
	default:
		l.view.Error(err)
	}
}

func (l *chatLoop) confirmAuth() {
	err := l.session.ConfirmAuthCompleted()
	switch {
	case err == nil:
	case errors.Is(err, session.ErrNoConversation):
		l.view.Notice("There is no active conversation to resume.")
	case errors.Is(err, conn.ErrNotConnected):
		l.view.Notice("Not connected. Try /done again once reconnected.")
	default:
		l.view.Error(err)
	}
}

func (l *chatLoop) upload(ctx context.Context, path string) {
	if path == "" {
		l.view.Notice("Usage: /upload <path>")
		return
	}
	resp, err := l.session.SelectFile(ctx, path)
	if err != nil {
		l.logger.Warn("upload failed", zap.String("path", path), zap.Error(err))
		l.view.Error(fmt.Errorf("upload failed, retry with /upload: %w", err))
		return
	}
	l.view.Upload(resp)
}

func (a *app) runChat(ctx context.Context, out io.Writer, userID string) error {
	stopMetrics := a.startMetricsServer()
	defer stopMetrics()

	l := a.newChatLoop(out)
	defer l.manager.Disconnect()

	watchCtx, cancelWatch := context.WithCancel(ctx)
	defer cancelWatch()
	go l.watchStatus(watchCtx)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(a.stdin)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	userID = strings.TrimSpace(userID)
	for userID == "" {
		fmt.Fprint(out, "user id> ")
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			userID = strings.TrimSpace(line)
		}
	}
	if err := l.session.SubmitUserID(ctx, userID); err != nil {
		return err
	}
	l.view.Notice("Chatting as %s. Type /help for commands.", userID)

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if l.handle(ctx, line) {
				return nil
			}
		}
	}
}

// startMetricsServer exposes /metrics when METRICS_ADDR is set and returns its shutdown func.
func (a *app) startMetricsServer() func() {
	if a.cfg.MetricsAddr == "" {
		return func() {}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	go func() {
		if err := e.Start(a.cfg.MetricsAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Warn("metrics server stopped", zap.Error(err))
		}
	}()
	a.logger.Info("metrics server listening", zap.String("addr", a.cfg.MetricsAddr))

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = e.Shutdown(ctx)
	}
}
