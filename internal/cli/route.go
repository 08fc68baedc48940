package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/matzehuels/gridroute/pkg/route"
	"github.com/matzehuels/gridroute/pkg/snapshot"
)

// routeFlags holds the route command's flag values.
type routeFlags struct {
	workers    int
	iterations int
	heap       string
	serial     bool
	noDecomp   bool

	saveIterations  bool
	snapshotBackend string
	snapshotDir     string
	redisAddr       string
	mongoURI        string

	progress bool
	debugLog string
}

func newRouteCmd() *cobra.Command {
	var flags routeFlags

	cmd := &cobra.Command{
		Use:   "route <design.toml>",
		Short: "Route a placed design in parallel",
		Long: `Route runs the parallel router over a design file.

The design file describes the device grid and the nets to route; router
options can be set in its [router] section and overridden with flags. Exit
status is non-zero when no legal routing is found.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRoute(cmd, args[0], flags)
		},
	}

	cmd.Flags().IntVarP(&flags.workers, "workers", "j", 0, "worker threads (default from design file)")
	cmd.Flags().IntVar(&flags.iterations, "iterations", 0, "maximum routing iterations (default from design file)")
	cmd.Flags().StringVar(&flags.heap, "heap", "", "router heap: binary or bucket")
	cmd.Flags().BoolVar(&flags.serial, "serial", false, "route without the partition tree")
	cmd.Flags().BoolVar(&flags.noDecomp, "no-decompose", false, "disable net decomposition")
	cmd.Flags().BoolVar(&flags.saveIterations, "save-iterations", false, "persist the routing after every iteration")
	cmd.Flags().StringVar(&flags.snapshotBackend, "snapshot-backend", "file", "snapshot backend: file, redis or mongo")
	cmd.Flags().StringVar(&flags.snapshotDir, "snapshot-dir", "snapshots", "directory for the file snapshot backend")
	cmd.Flags().StringVar(&flags.redisAddr, "redis-addr", "localhost:6379", "address for the redis snapshot backend")
	cmd.Flags().StringVar(&flags.mongoURI, "mongo-uri", "mongodb://localhost:27017", "URI for the mongo snapshot backend")
	cmd.Flags().BoolVar(&flags.progress, "progress", false, "show live iteration progress")
	cmd.Flags().StringVar(&flags.debugLog, "debug-log", "partition_tree.log", "partition tree trace file (- to disable)")

	return cmd
}

func runRoute(cmd *cobra.Command, path string, flags routeFlags) error {
	ctx := cmd.Context()
	logger := loggerFromContext(ctx)

	design, err := LoadDesign(path)
	if err != nil {
		return err
	}

	opts := design.Router.Options
	if flags.workers > 0 {
		opts.NumWorkers = flags.workers
	}
	if flags.iterations > 0 {
		opts.MaxRouterIterations = flags.iterations
	}
	if flags.heap != "" {
		opts.RouterHeap = route.HeapType(flags.heap)
	}
	if flags.serial {
		opts.UsePartitionTree = false
	}
	if flags.noDecomp {
		opts.Decompose = false
	}
	if flags.saveIterations {
		opts.SaveRoutingPerIteration = true
	}

	runner := &route.Runner{
		Env:          design.BuildEnv(),
		Opts:         opts,
		Logger:       logger,
		DebugLogFile: flags.debugLog,
	}

	if opts.SaveRoutingPerIteration {
		store, err := openSnapshotStore(ctx, flags)
		if err != nil {
			return err
		}
		defer store.Close()
		runner.Snapshots = store
	}

	var ui *progressUI
	if flags.progress {
		ui = startProgressUI(len(design.Nets), opts.MaxRouterIterations)
		defer ui.stop()
	}

	p := newProgress(logger)
	logger.Info("routing design", "file", path, "nets", len(design.Nets),
		"grid", fmt.Sprintf("%dx%d", design.Grid.Width, design.Grid.Height),
		"workers", opts.NumWorkers)

	start := time.Now()
	ok, err := runner.Run(ctx)
	if ui != nil {
		ui.stop()
	}
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), renderRouteSummary(design, opts, ok, time.Since(start)))
	if !ok {
		p.done("routing failed")
		return fmt.Errorf("no legal routing found for %s", path)
	}
	p.done(fmt.Sprintf("routed %d nets", len(design.Nets)))
	return nil
}

// openSnapshotStore picks the snapshot backend from flags.
func openSnapshotStore(ctx context.Context, flags routeFlags) (snapshot.Store, error) {
	switch flags.snapshotBackend {
	case "file":
		return snapshot.NewFileStore(flags.snapshotDir)
	case "redis":
		return snapshot.NewRedisStore(ctx, snapshot.RedisConfig{Addr: flags.redisAddr})
	case "mongo":
		return snapshot.NewMongoStore(ctx, snapshot.MongoConfig{URI: flags.mongoURI})
	default:
		return nil, fmt.Errorf("unknown snapshot backend %q", flags.snapshotBackend)
	}
}
