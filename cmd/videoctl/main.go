package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/jdgilhuly/visitvideo/pkg/config"
	"github.com/jdgilhuly/visitvideo/pkg/diff"
	"github.com/jdgilhuly/visitvideo/pkg/factory"
	"github.com/jdgilhuly/visitvideo/pkg/report"
	"github.com/jdgilhuly/visitvideo/pkg/result"
	"github.com/jdgilhuly/visitvideo/pkg/runner"
	"github.com/jdgilhuly/visitvideo/pkg/scenario"
	"github.com/jdgilhuly/visitvideo/pkg/video"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "videoctl",
	Short: "Video visit provider tool",
	Long: `Drive the visit video providers (Twilio, Daily, Google Meet, LiveKit)
from the command line.

Use 'videoctl init' to scaffold a config and example scenarios, then
'videoctl run' to replay scenarios against one or more providers. Without
credentials every provider runs against its simulated backend.`,
	SilenceUsage: true,
}

// env bundles what every command needs after flag parsing.
type env struct {
	cfg     *config.Config
	logger  *logrus.Logger
	factory *factory.Factory
}

// setup loads config, applies the environment and command flags, and
// builds the logger and factory.
func setup(cmd *cobra.Command) (*env, error) {
	cfgPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadOrDefault(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, fmt.Errorf("applying environment: %w", err)
	}
	if mock, _ := cmd.Flags().GetBool("mock"); mock {
		cfg.Mock = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger, err := newLogger(cmd, cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	opts := []factory.Option{factory.WithLogger(logger)}
	if cfg.DefaultProvider != "" {
		k, err := factory.ParseKind(cfg.DefaultProvider)
		if err != nil {
			return nil, err
		}
		opts = append(opts, factory.WithDefaultKind(k))
	}
	return &env{cfg: cfg, logger: logger, factory: factory.New(opts...)}, nil
}

func newLogger(cmd *cobra.Command, level string) (*logrus.Logger, error) {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose && lvl < logrus.DebugLevel {
		lvl = logrus.DebugLevel
	}
	logger.SetLevel(lvl)

	format, _ := cmd.Flags().GetString("log-format")
	switch format {
	case "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, fmt.Errorf("log format must be text or json, got %q", format)
	}
	return logger, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}

// --- run command ---

var runCmd = &cobra.Command{
	Use:   "run [scenario-dir]",
	Short: "Run visit scenarios",
	Long: `Replay every scenario in a directory (default: scenarios/) against its
provider and check each step's expectations.

Scenarios run concurrently, each against a fresh provider instance.
Results are saved to a JSON file under the configured output directory.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup(cmd)
		if err != nil {
			return err
		}

		dir := "scenarios"
		if len(args) == 1 {
			dir = args[0]
		}
		scenarios, err := scenario.LoadDir(dir)
		if err != nil {
			return fmt.Errorf("loading scenarios: %w", err)
		}
		tags, _ := cmd.Flags().GetStringSlice("tag")
		scenarios = scenario.FilterByTag(scenarios, tags)
		if len(scenarios) == 0 {
			fmt.Println("No scenarios to run.")
			return nil
		}

		concurrency := e.cfg.Concurrency
		if n, _ := cmd.Flags().GetInt("concurrency"); n > 0 {
			concurrency = n
		}
		defaultProvider := e.cfg.DefaultProvider
		if p, _ := cmd.Flags().GetString("provider"); p != "" {
			defaultProvider = p
		}

		r := runner.New(runner.Config{
			Concurrency:     concurrency,
			Timeout:         e.cfg.Timeout,
			DefaultProvider: defaultProvider,
			ProviderConfig:  e.cfg.ProviderConfig,
			Logger:          e.logger,
		}, e.factory)

		ctx, cancel := signalContext()
		defer cancel()

		verbose, _ := cmd.Flags().GetBool("verbose")
		rr, err := r.Run(ctx, scenarios, func(i, total int, name string, elapsed time.Duration, err error) {
			if !verbose {
				return
			}
			status := "ok"
			if err != nil {
				status = err.Error()
			}
			fmt.Fprintf(os.Stderr, "[%d/%d] %s (%s) %s\n", i+1, total, name, report.FormatDuration(elapsed), status)
		})
		if err != nil {
			return err
		}

		label, _ := cmd.Flags().GetString("label")
		if label == "" {
			label = "run"
		}
		summary := result.FromRunResult(rr, label)

		color := isTerminal(os.Stdout)
		report.PrintSummaryTable(os.Stdout, summary, color)
		if verbose {
			report.PrintVerbose(os.Stdout, summary, color)
		}

		out, _ := cmd.Flags().GetString("output")
		if out == "" {
			out = result.DefaultPath(e.cfg.OutputDir, label, summary.StartTime)
		}
		if err := summary.Save(out); err != nil {
			return err
		}
		fmt.Printf("\nResults written to %s\n", out)

		if summary.Stats.FailedScenarios+summary.Stats.ErroredScenarios > 0 {
			return fmt.Errorf("%d of %d scenarios did not pass",
				summary.Stats.FailedScenarios+summary.Stats.ErroredScenarios, summary.Stats.TotalScenarios)
		}
		return nil
	},
}

// --- show command ---

var showCmd = &cobra.Command{
	Use:   "show <run.json>",
	Short: "Print a saved run result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		summary, err := result.LoadSummary(args[0])
		if err != nil {
			return err
		}
		color := isTerminal(os.Stdout)
		report.PrintSummaryTable(os.Stdout, summary, color)
		if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
			report.PrintVerbose(os.Stdout, summary, color)
		}
		return nil
	},
}

// --- diff command ---

var diffCmd = &cobra.Command{
	Use:   "diff <run-a.json> <run-b.json>",
	Short: "Compare two run results",
	Long: `Compare two saved runs scenario by scenario.

Shows regressions, improvements, and scenarios added or removed between
the runs. Exits non-zero when any scenario regressed.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := result.LoadSummary(args[0])
		if err != nil {
			return err
		}
		b, err := result.LoadSummary(args[1])
		if err != nil {
			return err
		}
		dr := diff.Compare(a, b)

		if only, _ := cmd.Flags().GetStringSlice("only"); len(only) > 0 {
			cats := make([]diff.Category, len(only))
			for i, c := range only {
				cats[i] = diff.Category(c)
			}
			dr = dr.Filter(cats)
		}

		format, _ := cmd.Flags().GetString("format")
		switch format {
		case "table":
			dr.PrintTable(os.Stdout)
		case "json":
			data, err := dr.JSON()
			if err != nil {
				return err
			}
			fmt.Println(string(data))
		default:
			return fmt.Errorf("format must be table or json, got %q", format)
		}

		if dr.Regressions() {
			return fmt.Errorf("%d scenario(s) regressed", dr.Summary.Regressed)
		}
		return nil
	},
}

// --- providers command ---

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "List providers and the mode each would run in",
	Long: `Initialize every supported provider with the current configuration
and report whether it would run live or against the simulated backend.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup(cmd)
		if err != nil {
			return err
		}
		ctx, cancel := signalContext()
		defer cancel()

		for _, k := range e.factory.Kinds() {
			status, err := probe(ctx, e, k)
			if err != nil {
				status = "error: " + err.Error()
			}
			marker := " "
			if k.String() == e.cfg.DefaultProvider {
				marker = "*"
			}
			fmt.Printf("%s %-12s %s\n", marker, k, status)
		}
		return nil
	},
}

func probe(ctx context.Context, e *env, k factory.Kind) (string, error) {
	pcfg, err := e.cfg.ProviderConfig(k.String())
	if err != nil {
		return "", err
	}
	p, err := e.factory.Open(ctx, pcfg, k.String())
	if err != nil {
		return "", err
	}
	defer p.Disconnect(context.WithoutCancel(ctx))
	return string(p.Mode()), nil
}

// --- demo command ---

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Create a room, admit a resident, and print it",
	Long: `Walk one provider through a short visit: create a room, admit a
resident, mint a join token, start a recording when the policy allows it,
and print the resulting room.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup(cmd)
		if err != nil {
			return err
		}
		name, _ := cmd.Flags().GetString("provider")
		protected, _ := cmd.Flags().GetBool("protected")

		ctx, cancel := signalContext()
		defer cancel()

		p, err := e.factory.Create(ctx, mustProviderConfig(e, name), name)
		if err != nil {
			return err
		}
		defer e.factory.DestroyAll(context.WithoutCancel(ctx))

		room, err := p.CreateRoom(ctx, video.RoomOptions{
			Name:     "videoctl-demo",
			Security: &video.SecuritySettingsUpdate{IsProtectedCall: &protected},
		})
		if err != nil {
			return fmt.Errorf("creating room: %w", err)
		}
		resident := video.Participant{ID: "resident-1", Name: "Demo Resident", Role: video.RoleResident, AudioEnabled: true, VideoEnabled: true}
		if err := p.JoinRoom(ctx, room.ID, resident); err != nil {
			return fmt.Errorf("joining room: %w", err)
		}
		if issuer, ok := p.(video.TokenIssuer); ok {
			token, err := issuer.JoinToken(ctx, room.ID, resident)
			if err != nil {
				return fmt.Errorf("minting token: %w", err)
			}
			fmt.Printf("Join token for %s: %s\n\n", resident.ID, token)
		}
		if room.Security.AllowRecording {
			if _, err := p.StartRecording(ctx, room.ID, video.RecordingOptions{}); err != nil {
				return fmt.Errorf("starting recording: %w", err)
			}
		}

		room, err = p.GetRoomInfo(ctx, room.ID)
		if err != nil {
			return err
		}
		report.PrintRoom(os.Stdout, room, isTerminal(os.Stdout))
		return nil
	},
}

// mustProviderConfig resolves the config for name, falling back to an empty
// config (simulated outside production) when the name is not recognized so
// the factory can report the unsupported provider itself.
func mustProviderConfig(e *env, name string) video.ProviderConfig {
	k, err := e.factory.Resolve(name)
	if err != nil {
		return video.ProviderConfig{}
	}
	pcfg, err := e.cfg.ProviderConfig(k.String())
	if err != nil {
		e.logger.WithError(err).Warn("provider config")
		return video.ProviderConfig{}
	}
	return pcfg
}

// --- token command ---

var tokenCmd = &cobra.Command{
	Use:   "token <room-id> <participant-id>",
	Short: "Mint a join token for an existing room",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup(cmd)
		if err != nil {
			return err
		}
		name, _ := cmd.Flags().GetString("provider")
		role, _ := cmd.Flags().GetString("role")
		display, _ := cmd.Flags().GetString("name")

		ctx, cancel := signalContext()
		defer cancel()

		p, err := e.factory.Create(ctx, mustProviderConfig(e, name), name)
		if err != nil {
			return err
		}
		defer e.factory.DestroyAll(context.WithoutCancel(ctx))

		issuer, ok := p.(video.TokenIssuer)
		if !ok {
			return fmt.Errorf("provider %s does not issue join tokens", p.Name())
		}
		if display == "" {
			display = args[1]
		}
		token, err := issuer.JoinToken(ctx, args[0], video.Participant{ID: args[1], Name: display, Role: video.Role(role)})
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	},
}

// --- validate command ---

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate config and scenario files",
	Long: `Check the configuration file and every scenario in a directory for
errors: YAML syntax, schema violations, unknown operations, dangling room
references, and malformed expectations.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfgPath, _ := cmd.Flags().GetString("config")
		cfg, err := config.LoadOrDefault(cfgPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("config validation failed: %w", err)
		}
		fmt.Printf("Config %q is valid.\n", cfgPath)

		dir, _ := cmd.Flags().GetString("scenarios")
		if dir == "" {
			return nil
		}
		scenarios, err := scenario.LoadDir(dir)
		if err != nil {
			return fmt.Errorf("loading scenarios: %w", err)
		}
		var invalid int
		for _, s := range scenarios {
			if err := s.Validate(); err != nil {
				invalid++
				fmt.Printf("  %-24s INVALID\n%s\n", s.Name, indent(err.Error()))
				continue
			}
			fmt.Printf("  %-24s ok (%d steps)\n", s.Name, len(s.Steps))
		}
		if invalid > 0 {
			return fmt.Errorf("%d of %d scenarios are invalid", invalid, len(scenarios))
		}
		return nil
	},
}

// --- init command ---

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a new videoctl project",
	Long: `Scaffold a videoctl project with an example configuration, scenarios,
and a results directory.

Creates the following structure:
  videoctl.yaml      - Main configuration file
  scenarios/         - Scenario directory
  results/           - Run result output directory`,
	RunE: runInit,
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "videoctl.yaml", "Path to config file (.yaml or .toml)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose output and debug logging")
	rootCmd.PersistentFlags().String("log-format", "text", "Log format: text, json")
	rootCmd.PersistentFlags().Bool("mock", false, "Force every provider onto its simulated backend")

	// run command flags
	runCmd.Flags().StringSliceP("tag", "t", nil, "Only run scenarios with one of these tags")
	runCmd.Flags().StringP("provider", "p", "", "Provider for scenarios that do not name one")
	runCmd.Flags().IntP("concurrency", "j", 0, "Max concurrent scenarios (0 = use config default)")
	runCmd.Flags().StringP("label", "l", "", "Label this run for identification")
	runCmd.Flags().StringP("output", "o", "", "Output file path (default: <output_dir>/<timestamp>-<label>.json)")

	// demo and token flags
	demoCmd.Flags().StringP("provider", "p", "", "Provider to use (default: config default)")
	demoCmd.Flags().Bool("protected", false, "Create the room as a protected (attorney-client) call")
	tokenCmd.Flags().StringP("provider", "p", "", "Provider to use (default: config default)")
	tokenCmd.Flags().String("role", string(video.RoleResident), "Participant role")
	tokenCmd.Flags().String("name", "", "Participant display name (default: participant id)")

	// diff flags
	diffCmd.Flags().String("format", "table", "Output format: table, json")
	diffCmd.Flags().StringSlice("only", nil, "Only show these categories (improved, regressed, unchanged, new, removed)")

	// validate flags
	validateCmd.Flags().String("scenarios", "scenarios", "Scenario directory to validate (empty to skip)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(diffCmd)
	rootCmd.AddCommand(providersCmd)
	rootCmd.AddCommand(demoCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	dirs := []string{"scenarios", "results"}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return fmt.Errorf("creating directory %s: %w", d, err)
		}
		fmt.Printf("  created %s/\n", d)
	}

	if err := writeExampleConfig("videoctl.yaml"); err != nil {
		return err
	}
	if err := writeExampleScenario(filepath.Join("scenarios", "family-visit.yaml")); err != nil {
		return err
	}

	fmt.Println("\nProject initialized. Run 'videoctl validate' to check your files.")
	return nil
}
