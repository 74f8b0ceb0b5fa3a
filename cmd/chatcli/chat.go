package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/xiaot623/gogo/chatcore/internal/chat"
	"github.com/xiaot623/gogo/chatcore/internal/domain"
	"github.com/xiaot623/gogo/chatcore/internal/logging"
	"github.com/xiaot623/gogo/chatcore/internal/store"
	"github.com/xiaot623/gogo/chatcore/internal/transport"
)

const chatHelp = `Commands:
  /new            start a new session
  /sessions       list active sessions
  /open <id>      switch to a session
  /archive        archive the current session
  /type <type>    switch chat type
  /quit           exit`

func newChatCmd(a *app) *cobra.Command {
	var sessionID string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat interactively; replies stream as they arrive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.chat(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), sessionID)
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "resume this session instead of starting a new one")
	return cmd
}

func (a *app) chat(ctx context.Context, in io.Reader, out io.Writer, sessionID string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	st := store.New(store.Initial(a.chatType), store.WithLogger(logging.Component(a.logger, "store")))
	defer st.Close()

	tcfg := transport.Config{
		PingInterval:   a.cfg.PingInterval(),
		WriteTimeout:   a.cfg.WriteTimeout(),
		ReadTimeout:    a.cfg.ReadTimeout(),
		MaxMessageSize: a.cfg.MaxMessageSize,
	}
	client := chat.New(
		chat.Config{WSURL: a.cfg.WSURL, TurnTimeout: a.cfg.TurnTimeout()},
		st,
		a.registry,
		chat.WebSocketDialer(tcfg, logging.Component(a.logger, "transport")),
		a.tokens,
		logging.Component(a.logger, "chat"),
	)
	defer client.Close()
	go client.RunStallMonitor(ctx)

	r := newRenderer(out)
	unsubscribe := st.Subscribe(r.render)
	defer unsubscribe()

	if err := client.Open(ctx); err != nil {
		return err
	}
	if sessionID == "" {
		sess, err := client.StartNewChat(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "new %s session %s\n", a.chatType, sess.ID)
	} else {
		if err := client.SelectSession(ctx, sessionID); err != nil {
			return err
		}
		for _, m := range st.State().Messages {
			printMessage(out, m)
		}
	}
	fmt.Fprintln(out, chatHelp)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(out, "\ninterrupted")
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			quit, err := a.handleLine(ctx, client, out, strings.TrimSpace(line))
			if err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
			}
			if quit {
				return nil
			}
		}
	}
}

func (a *app) handleLine(ctx context.Context, client *chat.Client, out io.Writer, line string) (bool, error) {
	if line == "" {
		return false, nil
	}
	// The previous command's error has been printed by now.
	client.Store().Dispatch(store.ClearError{})
	if !strings.HasPrefix(line, "/") {
		err := client.Send(ctx, line)
		if errors.Is(err, domain.ErrTurnInFlight) {
			return false, errors.New("wait for the current reply to finish")
		}
		return false, err
	}

	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case "/quit", "/exit":
		return true, nil
	case "/new":
		sess, err := client.StartNewChat(ctx)
		if err != nil {
			return false, err
		}
		fmt.Fprintf(out, "new session %s\n", sess.ID)
	case "/sessions":
		if err := client.RefreshSessions(ctx); err != nil {
			return false, err
		}
		printSessions(out, client.Store().State().Sessions)
	case "/open":
		if arg == "" {
			return false, errors.New("usage: /open <session-id>")
		}
		if err := client.SelectSession(ctx, arg); err != nil {
			return false, err
		}
		for _, m := range client.Store().State().Messages {
			printMessage(out, m)
		}
	case "/archive":
		id := client.Store().State().SessionID
		if id == "" {
			return false, errors.New("no session is open")
		}
		if err := client.Archive(ctx, id); err != nil {
			return false, err
		}
		fmt.Fprintf(out, "archived %s; use /new or /open to continue\n", id)
	case "/type":
		if err := client.SetChatType(ctx, domain.ChatType(arg)); err != nil {
			return false, err
		}
		fmt.Fprintf(out, "switched to %s; use /new or /open to continue\n", arg)
	default:
		fmt.Fprintln(out, chatHelp)
	}
	return false, nil
}

// renderer prints assistant replies incrementally from store snapshots.
// Messages that were never seen streaming (history) are left to the caller.
type renderer struct {
	out io.Writer

	mu       sync.Mutex
	printed  map[string]int
	finished map[string]bool
	lastErr  *domain.OpError
}

func newRenderer(out io.Writer) *renderer {
	return &renderer{
		out:      out,
		printed:  make(map[string]int),
		finished: make(map[string]bool),
	}
}

func (r *renderer) render(s store.State) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, m := range s.Messages {
		if m.Sender != domain.SenderAI || r.finished[m.ID] {
			continue
		}
		n, tracked := r.printed[m.ID]
		if !tracked {
			if !m.IsStreaming {
				continue
			}
			fmt.Fprint(r.out, "assistant: ")
		}
		if len(m.Content) > n {
			fmt.Fprint(r.out, m.Content[n:])
			n = len(m.Content)
		}
		r.printed[m.ID] = n
		if !m.IsStreaming {
			if m.IsError {
				fmt.Fprint(r.out, " [failed]")
			}
			fmt.Fprintln(r.out)
			r.finished[m.ID] = true
		}
	}

	if s.Err != nil && s.Err != r.lastErr {
		fmt.Fprintf(r.out, "error: %s\n", s.Err.Message)
	}
	r.lastErr = s.Err
}
