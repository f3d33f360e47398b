package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/anima/anima-backend/internal/chat"
	"github.com/anima/anima-backend/internal/dialogue"
	"github.com/anima/anima-backend/internal/usage"
)

const (
	quotaNotice    = "Today's free chat time is used up. Come back tomorrow."
	paywallNotice  = "You have used your free conversations. Run `anima unlock` after subscribing to keep talking."
	interruptedTag = "(reply interrupted)"
)

func newChatCmd(opts *rootOptions) *cobra.Command {
	var threadID string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive conversation",
		Long: `Start an interactive conversation in a thread.

Type a message and press enter; the reply streams in as it is written.
Chat time is metered while this command runs. Commands:
  /status   show time left and conversation count
  /quit     leave the chat`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			e, err := opts.open(ctx, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer e.Close()

			return runChat(ctx, e, threadID, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&threadID, "thread", "t", "", "Thread ID to continue (default: most recent)")
	return cmd
}

func runChat(ctx context.Context, e *env, threadID string, in io.Reader, out io.Writer) error {
	th, err := resolveThread(ctx, e.threads, threadID)
	if err != nil {
		return err
	}

	st, err := e.service.Status(ctx)
	if err != nil {
		return err
	}
	if st.QuotaLocked {
		fmt.Fprintln(out, warnStyle.Render(quotaNotice))
		return nil
	}

	if err := e.service.Open(ctx); err != nil {
		return err
	}
	defer func() {
		if err := e.service.Close(context.WithoutCancel(ctx)); err != nil {
			e.log.WithError(err).Warn("failed to record chat time")
		}
	}()

	fmt.Fprintf(out, "%s %s\n", headerStyle.Render(th.Title), idStyle.Render(th.ID))
	printStatus(out, st)

	history, err := e.threads.Messages(ctx, th.ID)
	if err != nil {
		return err
	}
	for _, m := range history {
		printMessage(out, m)
	}

	lines := make(chan string)
	scanErr := make(chan error, 1)
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
		scanErr <- scanner.Err()
	}()

	for {
		fmt.Fprint(out, userStyle.Render("you › "))

		var line string
		select {
		case <-ctx.Done():
			fmt.Fprintln(out)
			return nil
		case l, ok := <-lines:
			if !ok {
				fmt.Fprintln(out)
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			line = strings.TrimSpace(l)
		}

		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/status":
			st, err := e.service.Status(ctx)
			if err != nil {
				return err
			}
			printStatus(out, st)
			continue
		}

		done, err := sendTurn(ctx, e, th.ID, line, out)
		if err != nil || done {
			return err
		}
	}
}

// sendTurn sends one message and renders the reply. done reports that the
// conversation cannot continue.
func sendTurn(ctx context.Context, e *env, threadID, text string, out io.Writer) (done bool, err error) {
	streamed := false
	bot, err := e.service.Send(ctx, threadID, text, func(delta string) {
		if !streamed {
			fmt.Fprint(out, botStyle.Render("anima › "))
			streamed = true
		}
		fmt.Fprint(out, delta)
	})

	var relayErr *chat.RelayError
	switch {
	case err == nil:
		fmt.Fprintln(out)
	case errors.Is(err, chat.ErrQuotaExhausted):
		fmt.Fprintln(out, warnStyle.Render(quotaNotice))
		return true, nil
	case errors.Is(err, dialogue.ErrLocked):
		fmt.Fprintln(out, warnStyle.Render(paywallNotice))
		return true, nil
	case errors.As(err, &relayErr):
		fmt.Fprintln(out, errorStyle.Render(bot.Text))
	case errors.Is(err, chat.ErrSoftFailure):
		if streamed {
			fmt.Fprintln(out, " "+dimStyle.Render(interruptedTag))
		} else {
			fmt.Fprintln(out, errorStyle.Render(bot.Text))
		}
		if ctx.Err() != nil {
			return true, nil
		}
	default:
		return true, err
	}

	remaining, err := e.ledger.RemainingToday(ctx)
	if err != nil {
		return true, err
	}
	fmt.Fprintln(out, dimStyle.Render(usage.FormatMMSS(remaining)+" left today"))
	return false, nil
}

func resolveThread(ctx context.Context, threads *chat.Threads, id string) (chat.Thread, error) {
	if id != "" {
		th, ok, err := threads.Get(ctx, id)
		if err != nil {
			return chat.Thread{}, err
		}
		if !ok {
			return chat.Thread{}, fmt.Errorf("thread %q not found", id)
		}
		return th, nil
	}

	list, err := threads.List(ctx)
	if err != nil {
		return chat.Thread{}, err
	}
	if len(list) > 0 {
		return list[0], nil
	}
	return threads.EnsureDefault(ctx)
}

func printStatus(out io.Writer, st chat.Status) {
	fmt.Fprintln(out, dimStyle.Render(fmt.Sprintf("%s left today · %d conversation(s)",
		usage.FormatMMSS(st.Remaining), st.Dialogues)))
}

func printMessage(out io.Writer, m chat.Message) {
	label := userStyle.Render("you › ")
	if m.Role == chat.RoleAssistant {
		label = botStyle.Render("anima › ")
	}
	fmt.Fprintln(out, label+m.Text)
}
