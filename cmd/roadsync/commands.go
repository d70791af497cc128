package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"roadcore/internal/core"
	"roadcore/internal/session"
)

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	a := &app{stdout: stdout, stderr: stderr}
	root := &cobra.Command{
		Use:           "roadsync",
		Short:         "Reconcile lane overrides for a road network",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init()
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			return a.finish()
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "TOML configuration file")
	root.PersistentFlags().BoolVar(&a.trace, "trace", false, "write JSON trace spans to stderr")
	root.PersistentFlags().StringVar(&a.metricsOut, "metrics-out", "", "write Prometheus metrics to FILE after the command (- for stdout)")

	root.AddCommand(
		newPlanCmd(a),
		newApplyCmd(a),
		newClearCmd(a),
		newSnapshotCmd(a),
	)
	return root
}

func newPlanCmd(a *app) *cobra.Command {
	var sessionPath, networkPath string
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show the mutations a session would produce without applying them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sess, err := session.Load(sessionPath)
			if err != nil {
				return err
			}
			st, err := a.open(networkPath)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()
			plan, err := st.svc.Plan(cmd.Context(), sess)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(a.stdout, planView(plan))
			}
			printPlan(a.stdout, plan)
			return nil
		},
	}
	cmd.Flags().StringVar(&sessionPath, "session", "", "session YAML file")
	cmd.Flags().StringVar(&networkPath, "network", "", "plan against a network YAML file instead of the configured storage")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the plan as JSON")
	_ = cmd.MarkFlagRequired("session")
	return cmd
}

func newApplyCmd(a *app) *cobra.Command {
	var sessionPath, networkPath, label string
	var archiveAfter bool
	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Reconcile a session and commit the result",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sess, err := session.Load(sessionPath)
			if err != nil {
				return err
			}
			st, err := a.open(networkPath)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			out, err := st.svc.Commit(cmd.Context(), sess)
			var blocked core.RuleViolationError
			if errors.As(err, &blocked) {
				printViolations(a.stdout, blocked.Result)
				return err
			}
			if err != nil {
				return err
			}
			printOutcome(a.stdout, out)

			if !archiveAfter && !a.cfg.Archive.Enabled {
				return nil
			}
			src, err := st.snapshots()
			if err != nil {
				return err
			}
			arc, err := a.archiver(cmd.Context())
			if err != nil {
				return err
			}
			if label == "" {
				label = out.SessionID
			}
			m, err := arc.Archive(cmd.Context(), src, label)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "archived %s\n", m.Key)
			return nil
		},
	}
	cmd.Flags().StringVar(&sessionPath, "session", "", "session YAML file")
	cmd.Flags().StringVar(&networkPath, "network", "", "apply to an ephemeral copy of a network YAML file")
	cmd.Flags().BoolVar(&archiveAfter, "archive", false, "archive a snapshot after a successful commit")
	cmd.Flags().StringVar(&label, "label", "", "archive label (defaults to the session id)")
	_ = cmd.MarkFlagRequired("session")
	return cmd
}

func newClearCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove every override container and connection set",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := a.open("")
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()
			n, err := st.svc.ClearOverrides(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "cleared %d nodes\n", n)
			return nil
		},
	}
}

func newSnapshotCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Export, import and archive network snapshots",
	}
	cmd.AddCommand(
		newSnapshotExportCmd(a),
		newSnapshotImportCmd(a),
		newSnapshotArchiveCmd(a),
		newSnapshotListCmd(a),
		newSnapshotRestoreCmd(a),
	)
	return cmd
}

func newSnapshotExportCmd(a *app) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Print the stored network",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := a.open("")
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()
			src, err := st.snapshots()
			if err != nil {
				return err
			}
			snap := src.ExportState()
			switch strings.ToLower(format) {
			case "yaml", "":
				data, err := session.MarshalNetwork(snap)
				if err != nil {
					return err
				}
				_, err = a.stdout.Write(data)
				return err
			case "json":
				return writeJSON(a.stdout, snap)
			default:
				return fmt.Errorf("unknown export format %q", format)
			}
		},
	}
	cmd.Flags().StringVar(&format, "format", "yaml", "output format: yaml or json")
	return cmd
}

func newSnapshotImportCmd(a *app) *cobra.Command {
	var networkPath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Replace the stored network with a network YAML file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			snap, err := session.LoadNetwork(networkPath)
			if err != nil {
				return err
			}
			st, err := a.open("")
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()
			dst, err := st.snapshots()
			if err != nil {
				return err
			}
			dst.ImportState(snap)
			if _, err := dst.RunInTransaction(cmd.Context(), func(core.Transaction) error { return nil }); err != nil {
				return fmt.Errorf("persist imported network: %w", err)
			}
			fmt.Fprintf(a.stdout, "imported %d nodes, %d edges, %d connection sets\n",
				len(snap.Nodes), len(snap.Edges), len(snap.ConnectionSets))
			return nil
		},
	}
	cmd.Flags().StringVar(&networkPath, "network", "", "network YAML file")
	_ = cmd.MarkFlagRequired("network")
	return cmd
}

func newSnapshotArchiveCmd(a *app) *cobra.Command {
	var label string
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Write the stored network to the blob store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := a.open("")
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()
			src, err := st.snapshots()
			if err != nil {
				return err
			}
			arc, err := a.archiver(cmd.Context())
			if err != nil {
				return err
			}
			m, err := arc.Archive(cmd.Context(), src, label)
			if err != nil {
				return err
			}
			printManifest(a.stdout, m)
			return nil
		},
	}
	cmd.Flags().StringVar(&label, "label", "", "label embedded in the archive key")
	return cmd
}

func newSnapshotListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List archived snapshots",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			arc, err := a.archiver(cmd.Context())
			if err != nil {
				return err
			}
			manifests, err := arc.List(cmd.Context())
			if err != nil {
				return err
			}
			for _, m := range manifests {
				printManifest(a.stdout, m)
			}
			return nil
		},
	}
}

func newSnapshotRestoreCmd(a *app) *cobra.Command {
	var latest bool
	cmd := &cobra.Command{
		Use:   "restore [KEY]",
		Short: "Replace the stored network with an archived snapshot",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if latest == (len(args) == 1) {
				return errors.New("pass either an archive key or --latest")
			}
			arc, err := a.archiver(cmd.Context())
			if err != nil {
				return err
			}
			var key string
			if latest {
				m, ok, err := arc.Latest(cmd.Context())
				if err != nil {
					return err
				}
				if !ok {
					return errors.New("no archived snapshots")
				}
				key = m.Key
			} else {
				key = args[0]
			}
			st, err := a.open("")
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()
			dst, err := st.snapshots()
			if err != nil {
				return err
			}
			m, err := arc.Restore(cmd.Context(), dst, key)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "restored %s\n", m.Key)
			return nil
		},
	}
	cmd.Flags().BoolVar(&latest, "latest", false, "restore the most recent archive")
	return cmd
}
