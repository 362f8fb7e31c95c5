package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"trackline/internal/app"
	"trackline/internal/config"
	"trackline/internal/db"
	"trackline/internal/domain"
	"trackline/internal/engine"
	"trackline/internal/scheduler"
	"trackline/internal/server"
	"trackline/internal/sheets"
)

var rootCmd = &cobra.Command{
	Use:   "tl",
	Short: "Trackline CLI",
	Long: `Trackline measures how long initiatives spend in each milestone.
Core concepts:
- Initiative: a Project or CR with a name, a status, and the milestone it is in right now.
- Snapshot: a frozen copy of every initiative, taken at most once per calendar day. Snapshots are never edited.
- Milestone period: a run of consecutive snapshots with the same milestone. The last one is Current and keeps counting until today.
- Durations: days per period, computed from snapshot history every time you ask.
- Workspace: the .trackline directory holding the SQLite database; trackline.yml picks another store if needed.
- Event log: audit trail of captures and initiative changes, view with 'tl log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println("error:", err)
		stop()
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("TRACKLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("config", "", "config file (default <workspace>/trackline.yml)")
	rootCmd.PersistentFlags().String("store", "", "store driver override: sqlite, postgres, memory")
	rootCmd.PersistentFlags().String("postgres-dsn", "", "postgres connection string override")
	for _, name := range []string{"workspace", "json", "actor-id", "config", "store", "postgres-dsn"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(initiativeCmd())
	rootCmd.AddCommand(snapshotCmd())
	rootCmd.AddCommand(durationsCmd())
	rootCmd.AddCommand(breakdownCmd())
	rootCmd.AddCommand(durationCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func initiativeCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "initiative", Aliases: []string{"i"}, Short: "Manage live initiatives"}
	cmd.AddCommand(initiativeListCmd())
	cmd.AddCommand(initiativeCreateCmd())
	cmd.AddCommand(initiativeShowCmd())
	cmd.AddCommand(initiativeUpdateCmd())
	cmd.AddCommand(initiativeImportCmd())
	return cmd
}

func initiativeListCmd() *cobra.Command {
	var typ string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List initiatives",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Initiatives.ListInitiatives(ctx)
				if err != nil {
					return err
				}
				filtered := []domain.Initiative{}
				for _, in := range items {
					if typ == "" || in.Type == typ {
						filtered = append(filtered, in)
					}
				}
				if viper.GetBool("json") {
					return printJSON(filtered)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Type", "Status", "Milestone"})
				for _, in := range filtered {
					tw.AppendRow(table.Row{in.ID, in.Name, in.Type, in.Status, in.Milestone})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&typ, "type", "", "filter by initiative type")
	return cmd
}

func initiativeCreateCmd() *cobra.Command {
	var opts engine.InitiativeCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an initiative",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				in, err := e.CreateInitiative(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(in)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "initiative id (generated when empty)")
	cmd.Flags().StringVar(&opts.Name, "name", "", "name")
	cmd.Flags().StringVar(&opts.Type, "type", domain.TypeProject, "initiative type")
	cmd.Flags().StringVar(&opts.Status, "status", "", "status")
	cmd.Flags().StringVar(&opts.Milestone, "milestone", "", "current milestone")
	cmd.Flags().StringVar(&opts.Priority, "priority", "", "priority")
	cmd.Flags().StringVar(&opts.DepartmentID, "department", "", "department id")
	cmd.Flags().StringVar(&opts.OwnerID, "owner", "", "owner id")
	cmd.Flags().StringVar(&opts.AssigneeID, "assignee", "", "assignee id")
	cmd.Flags().StringVar(&opts.StartDate, "start-date", "", "planned start (YYYY-MM-DD)")
	cmd.Flags().StringVar(&opts.EndDate, "end-date", "", "planned end (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func initiativeShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show an initiative",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				in, err := e.Initiatives.GetInitiative(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(in)
			})
		},
	}
}

func initiativeUpdateCmd() *cobra.Command {
	var name, typ, status, milestone, priority, department, owner, assignee, startDate, endDate string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update an initiative",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			changed := func(flag string, v *string) *string {
				if cmd.Flags().Changed(flag) {
					return v
				}
				return nil
			}
			opts := engine.InitiativeUpdateOptions{
				ID:           args[0],
				Name:         changed("name", &name),
				Type:         changed("type", &typ),
				Status:       changed("status", &status),
				Milestone:    changed("milestone", &milestone),
				Priority:     changed("priority", &priority),
				DepartmentID: changed("department", &department),
				OwnerID:      changed("owner", &owner),
				AssigneeID:   changed("assignee", &assignee),
				StartDate:    changed("start-date", &startDate),
				EndDate:      changed("end-date", &endDate),
				ActorID:      viper.GetString("actor-id"),
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				in, err := e.UpdateInitiative(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(in)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "name")
	cmd.Flags().StringVar(&typ, "type", "", "initiative type")
	cmd.Flags().StringVar(&status, "status", "", "status")
	cmd.Flags().StringVar(&milestone, "milestone", "", "current milestone")
	cmd.Flags().StringVar(&priority, "priority", "", "priority")
	cmd.Flags().StringVar(&department, "department", "", "department id")
	cmd.Flags().StringVar(&owner, "owner", "", "owner id")
	cmd.Flags().StringVar(&assignee, "assignee", "", "assignee id")
	cmd.Flags().StringVar(&startDate, "start-date", "", "planned start (YYYY-MM-DD)")
	cmd.Flags().StringVar(&endDate, "end-date", "", "planned end (YYYY-MM-DD)")
	return cmd
}

func initiativeImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.xlsx>",
		Short: "Upsert initiatives from a spreadsheet, then capture today's snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			items, err := sheets.ImportInitiatives(f)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.SyncInitiatives(ctx, items, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("upserted %d initiatives; %s\n", res.Upserted, describeCapture(res.Capture))
				return nil
			})
		},
	}
}

func snapshotCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "snapshot", Aliases: []string{"snap"}, Short: "Capture and inspect daily snapshots"}
	cmd.AddCommand(snapshotCaptureCmd())
	cmd.AddCommand(snapshotBootstrapCmd())
	cmd.AddCommand(snapshotListCmd())
	cmd.AddCommand(snapshotShowCmd())
	return cmd
}

func snapshotCaptureCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "capture",
		Short: "Capture today's snapshot if it does not exist yet",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.CaptureToday(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Println(describeCapture(res))
				return nil
			})
		},
	}
}

func snapshotBootstrapCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bootstrap",
		Short: "Capture a first snapshot when the history is empty",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.Bootstrap(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Println(describeCapture(res))
				return nil
			})
		},
	}
}

func snapshotListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List snapshot dates",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				dates, err := e.Snapshots.SnapshotDates(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(dates)
				}
				for _, d := range dates {
					fmt.Println(d)
				}
				return nil
			})
		},
	}
}

func snapshotShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <date>",
		Short: "Show the initiatives recorded on a date",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				snap, err := e.Snapshots.GetSnapshot(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(snap)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.SetTitle("Snapshot " + snap.Date)
				tw.AppendHeader(table.Row{"ID", "Name", "Type", "Status", "Milestone"})
				for _, st := range snap.Initiatives {
					tw.AppendRow(table.Row{st.ID, st.Name, st.Type, st.Status, st.Milestone})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func durationsCmd() *cobra.Command {
	var typ, xlsxPath string
	cmd := &cobra.Command{
		Use:   "durations",
		Short: "Milestone breakdown for every initiative",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rows, err := e.AllDurations(ctx, typ)
				if err != nil {
					return err
				}
				if xlsxPath != "" {
					f, err := os.Create(xlsxPath)
					if err != nil {
						return err
					}
					if err := sheets.ExportDurations(f, rows); err != nil {
						f.Close()
						return err
					}
					if err := f.Close(); err != nil {
						return err
					}
					fmt.Printf("wrote %d initiatives to %s\n", len(rows), xlsxPath)
					return nil
				}
				if viper.GetBool("json") {
					return printJSON(rows)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Type", "Current", "Milestone", "Start", "End", "Days", "Status"})
				for _, r := range rows {
					if len(r.MilestoneDetails) == 0 {
						tw.AppendRow(table.Row{r.ID, r.Name, r.Type, r.CurrentMilestone, "-", "", "", "", ""})
						continue
					}
					for _, p := range r.MilestoneDetails {
						tw.AppendRow(table.Row{r.ID, r.Name, r.Type, r.CurrentMilestone, p.Milestone, p.StartDate, endDate(p), p.DurationDays, p.Status})
					}
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&typ, "type", "", "filter by initiative type")
	cmd.Flags().StringVar(&xlsxPath, "xlsx", "", "write the report to an .xlsx file instead of stdout")
	return cmd
}

func breakdownCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "breakdown <id>",
		Short: "Milestone periods of one initiative",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				periods, err := e.Breakdown(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(periods)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Milestone", "Start", "End", "Days", "Status"})
				for _, p := range periods {
					tw.AppendRow(table.Row{p.Milestone, p.StartDate, endDate(p), p.DurationDays, p.Status})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func durationCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "duration <id> <milestone>",
		Short: "Total days an initiative spent in a milestone",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				days, err := e.DurationInMilestone(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"initiative_id": args[0], "milestone": args[1], "days": days})
				}
				fmt.Println(days)
				return nil
			})
		},
	}
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect trackline.yml",
		Long:  "Config picks the snapshot store, the allowed initiative types, the capture interval and the HTTP server settings. Missing keys fall back to defaults.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	cfg.AddCommand(configInitCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return printJSONOrTable(cfg)
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate config",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := loadConfig()
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default trackline.yml into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func logCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "log", Short: "Inspect the event log"}
	cmd.AddCommand(logTailCmd())
	return cmd
}

func logTailCmd() *cobra.Command {
	var n int
	var entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStores(cmd.Context(), func(ctx context.Context, _ engine.Engine, stores app.Stores) error {
				if stores.Events == nil {
					return fmt.Errorf("store driver %s keeps no event log", stores.Driver)
				}
				events, err := stores.Events.LatestEvents(ctx, n, 0, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind (initiative, snapshot)")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server and the capture scheduler",
		Long:  "Serve bootstraps the snapshot history, captures on every config.capture.interval tick, and exposes the duration API. Send SIGHUP to force a capture.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("addr") && cfg.Server.Addr != "" {
				addr = cfg.Server.Addr
			}
			if !cmd.Flags().Changed("base-path") && cfg.Server.BasePath != "" {
				basePath = cfg.Server.BasePath
			}
			interval, err := cfg.CaptureInterval()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			logger := log.New(os.Stderr, "", log.LstdFlags)
			e, stores, err := app.OpenEngine(ctx, viper.GetString("workspace"), cfg, logger)
			if err != nil {
				return err
			}
			defer stores.Close()

			authCfg := server.AuthConfig{JWTSecret: os.Getenv("TRACKLINE_JWT_SECRET")}
			if authCfg.JWTSecret == "" {
				logger.Printf("TRACKLINE_JWT_SECRET not set; mutating routes are unauthenticated")
			}
			handler, err := server.New(server.Config{
				Engine:         e,
				Events:         stores.Events,
				BasePath:       basePath,
				Auth:           authCfg,
				AllowedOrigins: cfg.Server.AllowedOrigins,
				Logger:         logger,
			})
			if err != nil {
				return err
			}

			sched := scheduler.New(e, interval, logger)
			go sched.Run(ctx)
			hup := make(chan os.Signal, 1)
			signal.Notify(hup, syscall.SIGHUP)
			defer signal.Stop(hup)
			go func() {
				for {
					select {
					case <-ctx.Done():
						return
					case <-hup:
						sched.Trigger()
					}
				}
			}()

			srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(shutdownCtx)
			}()
			fmt.Printf("Serving Trackline API on http://%s%s (store %s, capture every %s, OpenAPI at %s/openapi.json, docs at %s/docs)\n",
				addr, basePath, stores.Driver, interval, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

// --- helpers ---

func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	var err error
	if path := viper.GetString("config"); path != "" {
		cfg, err = config.FromFile(path)
	} else {
		cfg, err = config.LoadOptional(viper.GetString("workspace"))
	}
	if err != nil {
		return nil, err
	}
	if driver := viper.GetString("store"); driver != "" {
		cfg.Store.Driver = driver
	}
	if dsn := viper.GetString("postgres-dsn"); dsn != "" {
		cfg.Store.Postgres.DSN = dsn
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func withStores(ctx context.Context, fn func(context.Context, engine.Engine, app.Stores) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := log.New(os.Stderr, "", 0)
	e, stores, err := app.OpenEngine(ctx, viper.GetString("workspace"), cfg, logger)
	if err != nil {
		return err
	}
	defer stores.Close()
	return fn(ctx, e, stores)
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	return withStores(ctx, func(ctx context.Context, e engine.Engine, _ app.Stores) error {
		return fn(ctx, e)
	})
}

func describeCapture(res engine.CaptureResult) string {
	if res.Created {
		return fmt.Sprintf("captured snapshot %s (%d initiatives)", res.Date, res.Initiatives)
	}
	return fmt.Sprintf("snapshot %s already exists", res.Date)
}

func endDate(p domain.MilestonePeriod) string {
	if p.EndDate == nil {
		return ""
	}
	return *p.EndDate
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
