package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/basket/llamia/internal/bus"
	"github.com/basket/llamia/internal/config"
	"github.com/basket/llamia/internal/llm"
	otelPkg "github.com/basket/llamia/internal/otel"
	"github.com/basket/llamia/internal/persistence"
	"github.com/basket/llamia/internal/shared"
	"github.com/basket/llamia/internal/stages"
	"github.com/basket/llamia/internal/state"
	"github.com/basket/llamia/internal/telemetry"
	"github.com/basket/llamia/internal/tools"
	"github.com/basket/llamia/internal/workflow"
)

// Version is set via ldflags at build time: -ldflags "-X main.Version=..."
var Version = "v3.2-dev"

var (
	promptStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("6"))
	replyStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage of %s:

  %s                      Start the interactive REPL
  %s -prompt "task: ..."  Run a single turn and exit

FLAGS:
`, os.Args[0], os.Args[0], os.Args[0])
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
ENVIRONMENT VARIABLES:
  LLAMIA_HOME             Data directory (default: ~/.llamia)
  LLAMIA_LOG_LEVEL        Log level override (debug, info, warn, error)
  LLAMIA_SEARXNG_URL      Use a SearXNG instance for web search
  OPENAI_API_KEY          API key for hosted OpenAI-style providers
`)
}

func main() {
	home := flag.String("home", "", "data directory (default: $LLAMIA_HOME or ~/.llamia)")
	prompt := flag.String("prompt", "", "run a single turn with this input and exit")
	quiet := flag.Bool("quiet", false, "log to file only, keep stderr clean")
	fresh := flag.Bool("new", false, "start a new session instead of resuming the last one")
	flag.Usage = printUsage
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*home)
	if err != nil {
		fatal("load config", err)
	}

	interactive := *prompt == "" && isatty.IsTerminal(os.Stdin.Fd())
	quietLogs := *quiet || interactive

	logger, closer, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, quietLogs)
	if err != nil {
		fatal("init logger", err)
	}
	defer closer.Close()
	slog.SetDefault(logger)
	logger.Info("startup", "version", Version, "home", cfg.HomeDir)

	provider, err := otelPkg.Init(ctx, cfg.Otel)
	if err != nil {
		fatal("init telemetry", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = provider.Shutdown(shutdownCtx)
	}()
	metrics, err := otelPkg.NewMetrics(provider.Meter)
	if err != nil {
		fatal("init metrics", err)
	}

	store, err := persistence.Open(filepath.Join(cfg.HomeDir, "llamia.db"))
	if err != nil {
		fatal("open session store", err)
	}
	defer store.Close()

	eventBus := bus.New()

	watcher := config.NewWatcher(cfg.HomeDir, logger)
	if err := watcher.Start(ctx); err != nil {
		logger.Warn("config watcher unavailable", "error", err)
	}
	go func() {
		for ev := range watcher.Events() {
			logger.Info("config changed on disk; restart to apply", "path", ev.Path)
		}
	}()

	workspace, err := tools.NewWorkspace(cfg.WorkspaceDir)
	if err != nil {
		fatal("create workspace", err)
	}
	runner := tools.NewRunner(cfg.HomeDir)

	client := llm.NewHTTPClient(cfg.LLM, logger, metrics)

	deps := stages.Deps{
		LLM:            client,
		Search:         buildSearchProvider(cfg.Search),
		Runner:         runner,
		Workspace:      workspace,
		Logger:         logger,
		WebSearchLimit: cfg.Workflow.WebSearchLimit,
	}

	registry := workflow.NewRegistry()
	if err := stages.RegisterAll(registry, deps); err != nil {
		fatal("register stages", err)
	}

	sessionID, st, err := resumeOrCreateSession(ctx, store, cfg.StateCaps, *fresh)
	if err != nil {
		fatal("restore session", err)
	}
	logger = logger.With("session_id", sessionID)
	ctx = shared.WithSessionID(ctx, sessionID)

	driver := workflow.NewDriver(registry, logger, eventBus, metrics, workflow.RouterConfig{
		MaxLoops:       cfg.Workflow.MaxLoops,
		WebSearchLimit: cfg.Workflow.WebSearchLimit,
	}, sessionID)

	if *prompt != "" {
		runTurn(ctx, driver, store, sessionID, st, *prompt, logger)
		return
	}

	runREPL(ctx, driver, store, sessionID, st, logger, interactive)
}

func buildSearchProvider(cfg config.SearchConfig) tools.SearchProvider {
	switch cfg.Provider {
	case "searxng":
		return tools.NewSearXNGProvider(cfg.SearXNGURL, cfg.TopK, 20*time.Second)
	case "duckduckgo":
		return tools.NewDDGProvider()
	default:
		return nil
	}
}

// resumeOrCreateSession loads the most recent session's snapshot, or starts a
// fresh session when none exists (or -new was given).
func resumeOrCreateSession(ctx context.Context, store *persistence.Store, caps state.Caps, fresh bool) (string, *state.State, error) {
	if !fresh {
		sessionID, err := store.LatestSessionID(ctx)
		if err == nil {
			st, loadErr := store.LoadState(ctx, sessionID, caps)
			if loadErr == nil {
				return sessionID, st, nil
			}
			if !errors.Is(loadErr, persistence.ErrNotFound) {
				return "", nil, loadErr
			}
			return sessionID, state.New(caps), nil
		}
		if !errors.Is(err, persistence.ErrNotFound) {
			return "", nil, err
		}
	}

	sessionID, err := store.CreateSession(ctx)
	if err != nil {
		return "", nil, err
	}
	return sessionID, state.New(caps), nil
}

func runTurn(ctx context.Context, driver *workflow.Driver, store *persistence.Store, sessionID string, st *state.State, input string, logger *slog.Logger) {
	turnCtx := shared.WithTraceID(ctx, shared.NewTraceID())

	st.TurnID++
	st.AddMessage(state.RoleUser, input, "")
	turnCtx = shared.WithTurnID(turnCtx, st.TurnID)

	driver.RunTurn(turnCtx, st)

	if err := store.SaveState(ctx, sessionID, st); err != nil {
		logger.Error("save session snapshot", "error", err)
	}

	fmt.Println(replyStyle.Render(latestReply(st)))
}

func runREPL(ctx context.Context, driver *workflow.Driver, store *persistence.Store, sessionID string, st *state.State, logger *slog.Logger, interactive bool) {
	if interactive {
		fmt.Println(dimStyle.Render("Llamia " + Version + " — session " + sessionID))
		fmt.Println(dimStyle.Render(`Prefixes: "task:", "web:", "research:". Ctrl-D to exit.`))
	}

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	for {
		if interactive {
			fmt.Print(promptStyle.Render("you> "))
		}
		if !scanner.Scan() {
			break
		}
		if ctx.Err() != nil {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			break
		}
		runTurn(ctx, driver, store, sessionID, st, input, logger)
	}

	if err := scanner.Err(); err != nil && !errors.Is(err, os.ErrClosed) {
		fmt.Fprintln(os.Stderr, errStyle.Render("read input: "+err.Error()))
	}
	if interactive {
		fmt.Println(dimStyle.Render("bye"))
	}
}

func latestReply(st *state.State) string {
	msgs := st.Messages.Items()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == state.RoleAssistant {
			return msgs[i].Content
		}
	}
	return "(no reply)"
}

func fatal(what string, err error) {
	fmt.Fprintln(os.Stderr, errStyle.Render(fmt.Sprintf("llamia: %s: %v", what, err)))
	os.Exit(1)
}
