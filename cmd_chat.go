package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	assistantx "github.com/tanpawarit/chative-crm-assistant/agent/agents/assistant"
	"github.com/tanpawarit/chative-crm-assistant/agent/agents/conversation"
	contractx "github.com/tanpawarit/chative-crm-assistant/agent/contract"
	fanoutx "github.com/tanpawarit/chative-crm-assistant/agent/fanout"
	llmx "github.com/tanpawarit/chative-crm-assistant/agent/llm"
	statex "github.com/tanpawarit/chative-crm-assistant/agent/state"
	configx "github.com/tanpawarit/chative-crm-assistant/pkg/config"
	logx "github.com/tanpawarit/chative-crm-assistant/pkg/logger"
)

var chatUserID string

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Tag contacts and ask questions about them from the terminal",
	Long: `Reads one line at a time:
  /search <query>   search contacts in every connected CRM
  /pick <n>         tag result n (mention results first, then search results)
  /remove <n>       untag contact n
  /send             send the draft
  /quit             exit
Any other line replaces the draft. A draft ending in "@jo" searches for "jo".`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatUserID, "user", "", "user id (defaults to APP_USER_ID)")
}

func runChat(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := loadAppConfig()
	if err != nil {
		return err
	}
	userID, err := requireUserID(app, chatUserID)
	if err != nil {
		return err
	}

	st, err := openStores(ctx, app)
	if err != nil {
		return err
	}
	defer st.Close()

	clients, err := buildProviders(st.credentials)
	if err != nil {
		return err
	}
	fanoutCfg, err := configx.New[fanoutx.Config]("FANOUT")
	if err != nil {
		return err
	}
	orchestrator, err := fanoutx.New(*fanoutCfg, logx.Component("fanout"), asProviderClients(clients)...)
	if err != nil {
		return err
	}

	creds, err := orchestrator.LoadCredentials(ctx, st.credentials, userID)
	if err != nil {
		return err
	}
	if len(creds) == 0 {
		return fmt.Errorf("%w: user %s has no connected crm", contractx.ErrMissingCredential, userID)
	}

	llmCfg, err := configx.New[llmx.Config]("LLM")
	if err != nil {
		return err
	}
	completer, err := llmx.NewCompleter(ctx, *llmCfg)
	if err != nil {
		return err
	}
	assistantCfg, err := configx.New[assistantx.Config]("APP")
	if err != nil {
		return err
	}
	assistant, err := assistantx.New(st.credentials, orchestrator, st.messages, st.meetings, completer, *assistantCfg, logx.Component("assistant"))
	if err != nil {
		return err
	}

	view := newTerminalView(cmd.OutOrStdout())
	loop, err := conversation.New(conversation.Config{
		UserID:      userID,
		Credentials: creds,
	}, orchestrator, st.messages, assistant, view, logx.Component("conversation"))
	if err != nil {
		return err
	}

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- loop.Run(loopCtx) }()

	err = readLines(loopCtx, cmd.InOrStdin(), view, loop)
	cancel()
	if runErr := <-done; runErr != nil {
		log.Error().Err(runErr).Msg("conversation loop exit")
	}
	return err
}

type poster interface {
	Post(ctx context.Context, ev conversation.Event) error
}

var errQuit = errors.New("quit")

func readLines(ctx context.Context, in io.Reader, view *terminalView, loop poster) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		events, err := parseLine(scanner.Text(), view)
		if errors.Is(err, errQuit) {
			return nil
		}
		if err != nil {
			view.Error(err)
			continue
		}
		for _, ev := range events {
			if err := loop.Post(ctx, ev); err != nil {
				return nil
			}
		}
	}
	return scanner.Err()
}

// parseLine turns one input line into intent events.
func parseLine(line string, view *terminalView) ([]conversation.Event, error) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "/") {
		return []conversation.Event{
			conversation.TextChanged{Text: line},
			conversation.Synced{Text: line, Mentions: statex.ExtractMentions(line)},
		}, nil
	}

	command, arg, _ := strings.Cut(trimmed, " ")
	arg = strings.TrimSpace(arg)
	switch command {
	case "/quit", "/exit":
		return nil, errQuit
	case "/send":
		return []conversation.Event{conversation.SendRequested{}}, nil
	case "/search":
		return []conversation.Event{conversation.SearchQueryChanged{Query: arg}}, nil
	case "/pick":
		n, err := strconv.Atoi(arg)
		if err != nil {
			return nil, fmt.Errorf("usage: /pick <n>")
		}
		contact, ok := view.result(n)
		if !ok {
			return nil, fmt.Errorf("no result %d", n)
		}
		return []conversation.Event{conversation.ContactSelected{Contact: contact}}, nil
	case "/remove":
		n, err := strconv.Atoi(arg)
		if err != nil {
			return nil, fmt.Errorf("usage: /remove <n>")
		}
		contact, ok := view.tagged(n)
		if !ok {
			return nil, fmt.Errorf("no tagged contact %d", n)
		}
		return []conversation.Event{conversation.ContactRemoved{Key: contact.Key()}}, nil
	default:
		return nil, fmt.Errorf("unknown command %s", command)
	}
}

// terminalView prints loop output and remembers what was last shown so that
// /pick and /remove can refer to it by number.
type terminalView struct {
	mu      sync.Mutex
	out     io.Writer
	results map[statex.SearchKind][]contractx.Contact
	tags    []contractx.Contact
}

var _ conversation.View = (*terminalView)(nil)

func newTerminalView(out io.Writer) *terminalView {
	return &terminalView{out: out, results: map[statex.SearchKind][]contractx.Contact{}}
}

func (v *terminalView) Render(text string, tagged []contractx.Contact) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.tags = tagged

	styled := statex.ReplaceMentions(text, tagged, func(c contractx.Contact) string {
		return "[@" + c.MentionName() + "]"
	})
	fmt.Fprintf(v.out, "draft: %s\n", styled)
	for i, c := range tagged {
		fmt.Fprintf(v.out, "  tagged %d: %s (%s)\n", i+1, c.DisplayName, c.Provider)
	}
}

func (v *terminalView) Results(kind statex.SearchKind, contacts []contractx.Contact, searching bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.results[kind] = contacts
	if len(contacts) == 0 && !searching {
		return
	}

	offset := 0
	if kind == statex.SearchExplicit {
		offset = len(v.results[statex.SearchMention])
	}
	status := ""
	if searching {
		status = " (searching...)"
	}
	fmt.Fprintf(v.out, "%s results%s:\n", kind, status)
	for i, c := range contacts {
		line := c.DisplayName
		if c.Email != "" {
			line += " <" + c.Email + ">"
		}
		if c.Company != "" {
			line += ", " + c.Company
		}
		fmt.Fprintf(v.out, "  %d. %s [%s]\n", offset+i+1, line, c.Provider)
	}
}

func (v *terminalView) Message(msg contractx.ChatMessage) {
	v.mu.Lock()
	defer v.mu.Unlock()
	fmt.Fprintf(v.out, "%s> %s\n", msg.Type, msg.Content)
}

func (v *terminalView) Error(err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	fmt.Fprintf(v.out, "error: %v\n", err)
}

// result numbers mention results first, then explicit search results.
func (v *terminalView) result(n int) (contractx.Contact, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	all := append(append([]contractx.Contact(nil), v.results[statex.SearchMention]...), v.results[statex.SearchExplicit]...)
	if n < 1 || n > len(all) {
		return contractx.Contact{}, false
	}
	return all[n-1], true
}

func (v *terminalView) tagged(n int) (contractx.Contact, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if n < 1 || n > len(v.tags) {
		return contractx.Contact{}, false
	}
	return v.tags[n-1], true
}
