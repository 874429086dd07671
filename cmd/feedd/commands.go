package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"ex-feedsync/internal/engine"
	"ex-feedsync/pkg/feed"
)

const commandHelp = "commands: more | next | refresh | vote <id> [delta] | delete <id> | view | profile <id> | comments <id> | media <url> | governor | help"

// feedCommander is the engine surface driven by operator commands.
type feedCommander interface {
	Refresh(ctx context.Context) error
	FetchNextPage(ctx context.Context) (engine.PageResult, error)
	LoadMore(ctx context.Context) (int, error)
	Vote(ctx context.Context, id string, delta int64) error
	Delete(ctx context.Context, id string) error
	View() feed.View
	Profile(ctx context.Context, id string) (feed.Profile, error)
	Comments(ctx context.Context, itemID string) (feed.CommentPage, error)
	Media(ctx context.Context, url string) ([]byte, error)
	GovernorState() feed.GovernorState
}

var errUsage = errors.New("usage")

// scanLines streams r line by line until EOF.
func scanLines(r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	return lines
}

// runCommands executes one command per line until ctx ends. Closed input
// stops command handling without stopping the daemon.
func runCommands(
	ctx context.Context,
	commander feedCommander,
	lines <-chan string,
	out io.Writer,
	logger *slog.Logger,
) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				logger.InfoContext(ctx, "command input closed")
				<-ctx.Done()
				return nil
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			if err := executeCommand(ctx, commander, line, out); err != nil {
				logger.WarnContext(ctx, "command failed", "command", line, "error", err)
				fmt.Fprintf(out, "error: %v\n", err)
			}
		}
	}
}

func executeCommand(ctx context.Context, commander feedCommander, line string, out io.Writer) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	name, args := strings.ToLower(fields[0]), fields[1:]

	switch name {
	case "more":
		revealed, err := commander.LoadMore(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "revealed %d\n", revealed)
	case "next":
		result, err := commander.FetchNextPage(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "page %s appended=%d duplicates=%d shown=%d total=%d exhausted=%t\n",
			result.Outcome, result.Appended, result.Duplicates, result.ShownCount, result.Total, result.Exhausted)
	case "refresh":
		if err := commander.Refresh(ctx); err != nil {
			return err
		}
		fmt.Fprintln(out, "refreshed")
	case "vote":
		if len(args) < 1 || len(args) > 2 {
			return fmt.Errorf("%w: vote <id> [delta]", errUsage)
		}
		delta := int64(1)
		if len(args) == 2 {
			parsed, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("%w: vote delta %q: %v", errUsage, args[1], err)
			}
			delta = parsed
		}
		if err := commander.Vote(ctx, args[0], delta); err != nil {
			return err
		}
		fmt.Fprintf(out, "voted %s %+d\n", args[0], delta)
	case "delete":
		if len(args) != 1 {
			return fmt.Errorf("%w: delete <id>", errUsage)
		}
		if err := commander.Delete(ctx, args[0]); err != nil {
			return err
		}
		fmt.Fprintf(out, "deleted %s\n", args[0])
	case "view":
		writeView(out, commander.View())
	case "profile":
		if len(args) != 1 {
			return fmt.Errorf("%w: profile <id>", errUsage)
		}
		profile, err := commander.Profile(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "profile %s name=%q avatar=%s\n", profile.ID, profile.DisplayName, profile.AvatarURL)
	case "comments":
		if len(args) != 1 {
			return fmt.Errorf("%w: comments <id>", errUsage)
		}
		page, err := commander.Comments(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "comments %s count=%d exhausted=%t\n", page.ItemID, len(page.Comments), page.Next.Exhausted)
		for _, comment := range page.Comments {
			writeRecord(out, comment)
		}
	case "media":
		if len(args) != 1 {
			return fmt.Errorf("%w: media <url>", errUsage)
		}
		data, err := commander.Media(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "media %s bytes=%d\n", args[0], len(data))
	case "governor":
		state := commander.GovernorState()
		open := "closed"
		if state.CircuitOpenUntil != nil {
			open = "open until " + state.CircuitOpenUntil.Format("15:04:05")
		}
		fmt.Fprintf(out, "governor failures=%d circuit=%s\n", state.ConsecutiveFailures, open)
	case "help":
		fmt.Fprintln(out, commandHelp)
	default:
		return fmt.Errorf("%w: unknown command %q; %s", errUsage, name, commandHelp)
	}

	return nil
}

func writeView(out io.Writer, view feed.View) {
	fmt.Fprintf(out, "view epoch=%d state=%s shown=%d total=%d has_more=%t\n",
		view.Epoch, view.State, view.ShownCount, view.Total, view.HasMore)
	for index, record := range view.Records {
		if index < view.Pinned {
			fmt.Fprint(out, "* ")
		} else {
			fmt.Fprint(out, "  ")
		}
		writeRecord(out, record)
	}
}

func writeRecord(out io.Writer, record feed.Record) {
	fmt.Fprintf(out, "%s likes=%d replies=%d author=%s %s\n",
		record.ID, record.Counters.Likes, record.Counters.Replies, record.AuthorID, firstLine(record.Body))
}

func firstLine(body string) string {
	line, _, _ := strings.Cut(body, "\n")
	return line
}
