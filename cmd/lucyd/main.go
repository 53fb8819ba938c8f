package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/sevlyar/go-daemon"

	"github.com/lucyd-ai/lucyd/internal/channel"
	"github.com/lucyd-ai/lucyd/internal/channel/telegram"
	"github.com/lucyd-ai/lucyd/internal/config"
	"github.com/lucyd-ai/lucyd/internal/consolidate"
	"github.com/lucyd-ai/lucyd/internal/cost"
	"github.com/lucyd-ai/lucyd/internal/dispatch"
	"github.com/lucyd-ai/lucyd/internal/httpapi"
	"github.com/lucyd-ai/lucyd/internal/llm"
	. "github.com/lucyd-ai/lucyd/internal/logging"
	"github.com/lucyd-ai/lucyd/internal/memory"
	"github.com/lucyd-ai/lucyd/internal/paths"
	"github.com/lucyd-ai/lucyd/internal/pipe"
	"github.com/lucyd-ai/lucyd/internal/pipeline"
	"github.com/lucyd-ai/lucyd/internal/prompt"
	"github.com/lucyd-ai/lucyd/internal/recall"
	"github.com/lucyd-ai/lucyd/internal/session"
	"github.com/lucyd-ai/lucyd/internal/status"
	"github.com/lucyd-ai/lucyd/internal/stt"
	"github.com/lucyd-ai/lucyd/internal/tools"
	"github.com/lucyd-ai/lucyd/internal/types"
)

const version = "0.2.0"

type cli struct {
	Config string `help:"Path to the config file." default:"~/.lucyd/lucyd.toml" type:"path"`

	Run     runCmd     `cmd:"" default:"1" help:"Start the agent daemon."`
	Send    sendCmd    `cmd:"" help:"Send a message to the running daemon via the control pipe."`
	Reset   resetCmd   `cmd:"" help:"Reset sessions via the control pipe."`
	Status  statusCmd  `cmd:"" help:"Show the running daemon's status."`
	Version versionCmd `cmd:"" help:"Print the version."`
}

func main() {
	var c cli
	ctx := kong.Parse(&c,
		kong.Name("lucyd"),
		kong.Description("Long-lived personal agent daemon."),
		kong.UsageOnError(),
	)
	ctx.FatalIfErrorf(ctx.Run(&c))
}

type versionCmd struct{}

func (versionCmd) Run(*cli) error {
	fmt.Printf("lucyd %s\n", version)
	return nil
}

type runCmd struct {
	Foreground bool `short:"f" help:"Run in the foreground instead of daemonizing."`
}

func (r *runCmd) Run(c *cli) error {
	cfg, err := config.Load(c.Config)
	if err != nil {
		return err
	}
	p := paths.New(cfg.AgentDir)
	if err := p.EnsureDirs(); err != nil {
		return err
	}

	if !r.Foreground {
		dctx := &daemon.Context{
			PidFileName: p.PIDFile(),
			PidFilePerm: 0o644,
			LogFileName: filepath.Join(p.StateDir(), "lucyd.log"),
			LogFilePerm: 0o640,
			Umask:       0o27,
		}
		child, err := dctx.Reborn()
		if err != nil {
			return fmt.Errorf("daemonize: %w", err)
		}
		if child != nil {
			fmt.Printf("lucyd started (pid %d)\n", child.Pid)
			return nil
		}
		defer dctx.Release()
	}

	Init(&Options{Level: LevelFromString(cfg.LogLevel), TimeFormat: "15:04:05"})
	L_info("lucyd %s starting", version)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return run(ctx, cfg, p)
}

// run wires the daemon together and blocks until the context is cancelled.
func run(ctx context.Context, cfg config.Config, p paths.Paths) error {
	registry, err := llm.NewRegistry(cfg.LLM)
	if err != nil {
		return fmt.Errorf("llm: %w", err)
	}

	ledger, err := cost.Open(p.CostDB())
	if err != nil {
		return fmt.Errorf("cost ledger: %w", err)
	}
	defer ledger.Close()

	sessions, err := session.NewManager(p.SessionsDir(), cfg.Session)
	if err != nil {
		return fmt.Errorf("sessions: %w", err)
	}

	assembler := prompt.NewAssembler(p.WorkspaceDir(), cfg.Prompt)

	var store *memory.Store
	var consolidator *consolidate.Engine
	var recallEngine *recall.Engine
	var synth *recall.Synthesizer
	if cfg.Memory.Enabled {
		store, err = memory.Open(p.MemoryDB())
		if err != nil {
			return fmt.Errorf("memory: %w", err)
		}
		defer store.Close()

		// facts go to the subagent model, episode summaries to the primary
		// model in the persona's voice
		consolidator = consolidate.NewEngine(store, registry.Consolidation(), registry.Chat(),
			assembler.PersonaVoice, cfg.Memory.Consolidate)
		sessions.SetCloseHook(consolidator)

		var embed memory.EmbedFunc
		if embedder := registry.Embedder(); embedder != nil {
			embed = embedder.Embed
		}
		recallEngine = recall.NewEngine(store, cfg.Recall, embed)
		synth = recall.NewSynthesizer(registry.Synthesis(), cfg.Recall.Style)
	}

	transcriber, err := stt.NewProvider(cfg.STT)
	if err != nil {
		return fmt.Errorf("stt: %w", err)
	}

	// The scheduler fires into the dispatcher, which does not exist yet;
	// the closure captures the variable assigned below.
	var dispatcher *dispatch.Dispatcher
	scheduler := tools.NewScheduler(func(msg types.InboundMessage) error {
		return dispatcher.Enqueue(msg, nil)
	}, cfg.MaxSchedules)

	toolReg := tools.NewRegistry()
	toolReg.Register(tools.NewWebFetchTool())
	toolReg.Register(tools.NewScheduleTool(scheduler, ownerContact(cfg)))
	if store != nil {
		toolReg.Register(tools.NewMemorySearchTool(recallEngine))
		toolReg.Register(tools.NewRememberTool(store))
		toolReg.Register(tools.NewCommitmentTool(store))
	}

	channels := make(map[string]channel.Channel)
	if cfg.Telegram.BotToken != "" {
		tgCfg := cfg.Telegram
		tgCfg.SpoolDir = p.SpoolDir()
		tg, err := telegram.New(tgCfg)
		if err != nil {
			return fmt.Errorf("telegram: %w", err)
		}
		channels[types.SourceTelegram] = tg
	}

	pl := pipeline.New(pipeline.Deps{
		Sessions:     sessions,
		Providers:    registry,
		Recall:       recallEngine,
		Synth:        synth,
		Consolidator: consolidator,
		Tools:        toolReg,
		Assembler:    assembler,
		Channels:     channels,
		Transcriber:  transcriber,
		Ledger:       ledger,
		Rates:        cfg.Rates,
		Webhook:      pipeline.NewNotifier(cfg.Webhook),
		Monitor:      status.NewWriter(p, version),
		AgentConfig:  cfg.Agent,
		Config:       cfg.Pipeline,
	})
	dispatcher = dispatch.New(pl, cfg.Dispatch)
	go dispatcher.Run(ctx)

	for name, ch := range channels {
		if err := ch.Connect(ctx); err != nil {
			return fmt.Errorf("connect %s: %w", name, err)
		}
		go pump(ch, dispatcher)
	}

	reader, err := pipe.NewReader(p.ControlPipe(), dispatcher)
	if err != nil {
		return err
	}
	go reader.Run(ctx)

	var api *httpapi.Server
	if cfg.HTTP.Listen != "" {
		api = httpapi.New(cfg.HTTP, dispatcher, sessions, ledger)
		api.Start()
	}

	if consolidator != nil {
		watcher, err := prompt.NewWatcher(p.WorkspaceDir(), func(path string) {
			if err := consolidator.ConsolidateFile(ctx, path); err != nil {
				L_warn("workspace consolidation failed", "path", path, "error", err)
			}
		})
		if err != nil {
			L_warn("workspace watcher unavailable", "error", err)
		} else {
			go watcher.Run(ctx)
		}
	}

	scheduler.Start()
	L_info("lucyd ready", "channels", len(channels), "tools", len(toolReg.Names()))

	<-ctx.Done()
	SetShuttingDown()

	scheduler.Stop()
	if api != nil {
		if err := api.Stop(); err != nil {
			L_warn("http shutdown failed", "error", err)
		}
	}
	for name, ch := range channels {
		if err := ch.Disconnect(); err != nil {
			L_warn("disconnect failed", "channel", name, "error", err)
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := dispatcher.Shutdown(shutdownCtx); err != nil {
		L_warn("dispatcher drain incomplete", "error", err)
	}
	L_info("lucyd stopped")
	return nil
}

// pump copies a transport's inbound stream into the dispatch queue.
func pump(ch channel.Channel, dispatcher *dispatch.Dispatcher) {
	for msg := range ch.Receive() {
		if err := dispatcher.Enqueue(msg, nil); err != nil {
			L_warn("inbound dropped", "channel", ch.Name(), "sender", msg.Sender, "error", err)
		}
	}
}

func ownerContact(cfg config.Config) string {
	if cfg.Owner != "" {
		return cfg.Owner
	}
	if len(cfg.Telegram.AllowedUsers) > 0 {
		return strconv.FormatInt(cfg.Telegram.AllowedUsers[0], 10)
	}
	return "local"
}

type sendCmd struct {
	Text   string `arg:"" help:"Message text."`
	Sender string `default:"local" help:"Sender identity."`
	Source string `default:"system" help:"Ingress source tag."`
}

func (s *sendCmd) Run(c *cli) error {
	line, err := json.Marshal(map[string]string{
		"text":   s.Text,
		"sender": s.Sender,
		"source": s.Source,
	})
	if err != nil {
		return err
	}
	path, err := controlPipePath(c)
	if err != nil {
		return err
	}
	return pipe.Send(path, string(line))
}

type resetCmd struct {
	Sender  string `help:"Reset the session for one sender." xor:"target"`
	Session string `help:"Reset one session by id." xor:"target"`
	All     bool   `help:"Reset every session." xor:"target"`
}

func (r *resetCmd) Run(c *cli) error {
	payload := map[string]string{}
	switch {
	case r.All:
		payload["reset"] = "all"
	case r.Session != "":
		payload["reset_session"] = r.Session
	case r.Sender != "":
		payload["reset"] = r.Sender
	default:
		return fmt.Errorf("one of --sender, --session or --all is required")
	}
	line, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	path, err := controlPipePath(c)
	if err != nil {
		return err
	}
	return pipe.Send(path, string(line))
}

type statusCmd struct{}

func (statusCmd) Run(c *cli) error {
	cfg, err := config.Load(c.Config)
	if err != nil {
		return err
	}
	p := paths.New(cfg.AgentDir)
	data, err := os.ReadFile(p.StatusFile())
	if err != nil {
		return fmt.Errorf("no status available (is the daemon running?): %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func controlPipePath(c *cli) (string, error) {
	cfg, err := config.Load(c.Config)
	if err != nil {
		return "", err
	}
	return paths.New(cfg.AgentDir).ControlPipe(), nil
}
