// Command orchestra builds six-layer context envelopes, routes them to
// models, and checks actions against the compliance gate.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/stackconsulting/orchestra/internal/assemble"
	"github.com/stackconsulting/orchestra/internal/cache"
	"github.com/stackconsulting/orchestra/internal/comply"
	"github.com/stackconsulting/orchestra/internal/config"
	"github.com/stackconsulting/orchestra/internal/envelope"
	"github.com/stackconsulting/orchestra/internal/layers"
	"github.com/stackconsulting/orchestra/internal/logging"
	"github.com/stackconsulting/orchestra/internal/route"
	"github.com/stackconsulting/orchestra/internal/store"
)

var (
	version = "1.2.0"

	flagConfig    string
	flagWorkspace string
	flagVerbose   bool

	logger *zap.Logger
	cfg    *config.Config
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "orchestra",
		Short:   "Context engineering pipeline for model-facing requests",
		Long:    "orchestra assembles six-layer context envelopes from identity, intent,\nworkspace, policy and deployment signals, then routes and gates on them.",
		Version: version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if flagVerbose {
				zcfg := zap.NewDevelopmentConfig()
				logger, err = zcfg.Build()
			} else {
				zcfg := zap.NewProductionConfig()
				zcfg.OutputPaths = []string{"stderr"}
				logger, err = zcfg.Build()
			}
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}

			if err := logging.Initialize(flagWorkspace); err != nil {
				logger.Warn("categorized logging unavailable", zap.Error(err))
			}

			path := flagConfig
			if path == "" {
				path = filepath.Join(flagWorkspace, ".orchestra", "config.yaml")
			}
			cfg, err = config.Load(path)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			logging.CloseAll()
			if logger != nil {
				_ = logger.Sync()
			}
		},
	}

	root.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "config file path (default <workspace>/.orchestra/config.yaml)")
	root.PersistentFlags().StringVarP(&flagWorkspace, "workspace", "w", ".", "workspace directory")
	root.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "verbose logging")

	root.AddCommand(buildCmd(), routeCmd(), checkCmd(), auditCmd())
	return root
}

// requestFlags holds the shared request input flags.
type requestFlags struct {
	message  string
	file     string
	taskType string
	repo     string
	session  string
	user     string
	tenant   string
	roles    []string
}

func (f *requestFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.message, "message", "m", "", "request message")
	cmd.Flags().StringVarP(&f.file, "file", "f", "", "read request JSON from file (- for stdin)")
	cmd.Flags().StringVar(&f.taskType, "task-type", "", "explicit task type hint")
	cmd.Flags().StringVar(&f.repo, "repo", "", "repository path for domain context")
	cmd.Flags().StringVar(&f.session, "session", "", "session identifier")
	cmd.Flags().StringVar(&f.user, "user", "anonymous", "user identifier")
	cmd.Flags().StringVar(&f.tenant, "tenant", "", "tenant identifier")
	cmd.Flags().StringSliceVar(&f.roles, "role", nil, "user role (repeatable)")
}

func (f *requestFlags) load() (layers.Request, layers.Claims, error) {
	req := layers.Request{
		Message:   f.message,
		TaskType:  f.taskType,
		RepoPath:  f.repo,
		SessionID: f.session,
	}
	if f.file != "" {
		data, err := readInput(f.file)
		if err != nil {
			return req, layers.Claims{}, err
		}
		if err := json.Unmarshal(data, &req); err != nil {
			return req, layers.Claims{}, fmt.Errorf("failed to parse request JSON: %w", err)
		}
	}
	if req.Message == "" {
		return req, layers.Claims{}, fmt.Errorf("a request message is required (use --message or --file)")
	}
	if req.SessionID == "" {
		req.SessionID = fmt.Sprintf("cli-%d", time.Now().Unix())
	}

	claims := layers.Claims{
		Subject:  f.user,
		TenantID: f.tenant,
		Roles:    f.roles,
	}
	return req, claims, nil
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		return os.ReadFile("/dev/stdin")
	}
	return os.ReadFile(path)
}

// pipeline wires the full stack for one command invocation.
type pipeline struct {
	store     *store.Store
	cache     *cache.Cache
	assembler *assemble.Assembler
	router    *route.Router
	gate      *comply.Gate
}

func newPipeline(dryRun bool) (*pipeline, error) {
	dbPath := cfg.Store.DatabasePath
	if !filepath.IsAbs(dbPath) && dbPath != ":memory:" {
		dbPath = filepath.Join(flagWorkspace, dbPath)
	}
	st, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}

	return &pipeline{
		store:     st,
		cache:     cache.New(cfg.Cache),
		assembler: assemble.New(cfg, assemble.Deps{Audit: st}),
		router:    route.New(route.DefaultRegistry(), dryRun || cfg.Routing.DryRun),
		gate:      comply.NewGate(st),
	}, nil
}

func (p *pipeline) close() {
	if err := p.store.Close(); err != nil {
		logger.Warn("failed to close store", zap.Error(err))
	}
}

// buildEnvelope runs the cache-then-assemble path shared by all commands.
// The cache key comes from a cheap local pre-classification so a hit skips
// the full fan-out entirely.
func (p *pipeline) buildEnvelope(ctx context.Context, req layers.Request, claims layers.Claims) (*envelope.Envelope, bool, error) {
	probe, err := layers.NewIntentBuilder().Build(ctx, req)
	if err != nil {
		return nil, false, err
	}
	key := cache.Key(req.SessionID, probe.Primary, layers.ExpertiseFromRoles(claims.Roles))
	if env := p.cache.Get(key); env != nil {
		return env, true, nil
	}

	env, err := p.assembler.Build(ctx, req, claims, nil)
	if err != nil {
		return nil, false, err
	}
	p.cache.Put(key, env)

	if err := p.store.SaveEnvelope(ctx, env); err != nil {
		logger.Warn("failed to persist envelope", zap.Error(err))
	}
	return env, false, nil
}

func buildCmd() *cobra.Command {
	var flags requestFlags
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Assemble a context envelope for a request",
		RunE: func(cmd *cobra.Command, args []string) error {
			req, claims, err := flags.load()
			if err != nil {
				return err
			}

			p, err := newPipeline(false)
			if err != nil {
				return err
			}
			defer p.close()

			env, cached, err := p.buildEnvelope(cmd.Context(), req, claims)
			if err != nil {
				return err
			}

			logger.Info("envelope built",
				zap.String("context_id", env.ContextID),
				zap.Int("tokens", env.TokenCount),
				zap.Bool("cached", cached),
				zap.Strings("degraded", env.Degraded),
			)
			return printJSON(env)
		},
	}
	flags.register(cmd)
	return cmd
}

func routeCmd() *cobra.Command {
	var flags requestFlags
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "route",
		Short: "Build an envelope and pick a model for it",
		RunE: func(cmd *cobra.Command, args []string) error {
			req, claims, err := flags.load()
			if err != nil {
				return err
			}

			p, err := newPipeline(dryRun)
			if err != nil {
				return err
			}
			defer p.close()

			env, _, err := p.buildEnvelope(cmd.Context(), req, claims)
			if err != nil {
				return err
			}

			decision, err := p.router.Plan(env)
			if err != nil {
				return err
			}

			logger.Info("model selected",
				zap.String("model", decision.Selected.ModelID),
				zap.Float64("score", decision.Selected.Score),
				zap.Bool("dry_run", decision.DryRun),
			)
			return printJSON(decision)
		},
	}
	flags.register(cmd)
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "explain the decision without committing to it")
	return cmd
}

func checkCmd() *cobra.Command {
	var flags requestFlags
	var action string
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check an action against the envelope's compliance rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			if action == "" {
				return fmt.Errorf("an action is required (use --action)")
			}
			req, claims, err := flags.load()
			if err != nil {
				return err
			}

			p, err := newPipeline(false)
			if err != nil {
				return err
			}
			defer p.close()

			env, _, err := p.buildEnvelope(cmd.Context(), req, claims)
			if err != nil {
				return err
			}

			decision := p.gate.PreCheck(cmd.Context(), env, action)
			if err := printJSON(decision); err != nil {
				return err
			}
			if !decision.Allowed && !decision.NeedsApproval {
				return decision.Err(action)
			}
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVarP(&action, "action", "a", "", "action to check")
	return cmd
}

func auditCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show recent compliance audit entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := newPipeline(false)
			if err != nil {
				return err
			}
			defer p.close()

			entries, err := p.store.RecentAudit(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return printJSON(entries)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of entries")
	return cmd
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
