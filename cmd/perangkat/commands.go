package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/hylla/perangkat/internal/adapters/server/common"
	"github.com/hylla/perangkat/internal/app"
	"github.com/hylla/perangkat/internal/domain"
	"github.com/hylla/perangkat/internal/importfile"
)

func (c *cli) pathsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "paths",
		Short: "Print resolved config and data locations",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			dbPath := c.dbPath
			if dbPath == "" {
				dbPath = c.paths.DBPath
			}
			_, _ = fmt.Fprintf(c.stdout, "app: %s\n", c.appName)
			_, _ = fmt.Fprintf(c.stdout, "dev_mode: %t\n", c.devMode)
			_, _ = fmt.Fprintf(c.stdout, "config: %s\n", c.configPath)
			_, _ = fmt.Fprintf(c.stdout, "data_dir: %s\n", c.paths.DataDir)
			_, _ = fmt.Fprintf(c.stdout, "db: %s\n", dbPath)
			_, _ = fmt.Fprintf(c.stdout, "imports: %s\n", c.paths.ImportDir)
			return nil
		},
	}
}

func (c *cli) scanCommand() *cobra.Command {
	var (
		force    bool
		jsonMode bool
	)
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Archive every position whose tenure ended",
		Long:  "scan runs the tenure transition scan. Without --force it only runs when the last recorded scan is older than the configured throttle.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withRuntime(cmd.Context(), "scan", func(ctx context.Context, rt *runtime) error {
				var (
					res app.ScanResult
					err error
				)
				if force {
					res, err = rt.svc.RunScan(ctx)
				} else {
					res, err = rt.svc.RunIfDue(ctx)
				}
				if err != nil {
					return err
				}
				if jsonMode {
					return writeJSON(c.stdout, common.ToScanResponse(res))
				}
				p := newPrinter(c.stdout)
				if res.Skipped {
					p.note("scan not due", "last run "+res.LastRunAt.UTC().Format("2006-01-02 15:04 MST"))
					return nil
				}
				p.success(fmt.Sprintf("scan complete: %d position(s) archived", res.Processed))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "run even when the throttle window has not elapsed")
	cmd.Flags().BoolVar(&jsonMode, "json", false, "print the result as JSON")
	return cmd
}

func (c *cli) restoreCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "restore <id>",
		Short: "Move one archived record back to the active roster",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withRuntime(cmd.Context(), "restore", func(ctx context.Context, rt *runtime) error {
				p, err := rt.svc.RestorePosition(ctx, args[0])
				if err != nil {
					if errors.Is(err, app.ErrNotFound) {
						return fmt.Errorf("no archived record with id %q: %w", args[0], err)
					}
					return err
				}
				newPrinter(c.stdout).success(fmt.Sprintf("restored %s: %s, %s (%s)", p.ID, p.Title, p.Village, displayName(p.Occupant)))
				return nil
			})
		},
	}
}

func (c *cli) importCommand() *cobra.Command {
	var (
		inPath       string
		format       string
		village      string
		actor        string
		villageScope string
		jsonMode     bool
	)
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Reconcile a CSV, JSON, or YAML roster against active positions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(inPath) == "" {
				return errors.New("--in is required")
			}
			opts := importfile.Options{DefaultVillage: village}
			var (
				rows []domain.ImportRow
				err  error
			)
			switch {
			case inPath == "-":
				f, ferr := importfile.ParseFormat(format)
				if ferr != nil {
					return fmt.Errorf("--format is required when reading stdin: %w", ferr)
				}
				rows, err = importfile.Decode(cmd.InOrStdin(), f, opts)
			case strings.TrimSpace(format) != "":
				rows, err = decodeWithFormat(inPath, format, opts)
			default:
				rows, err = importfile.DecodeFile(inPath, opts)
			}
			if err != nil {
				return fmt.Errorf("read import rows: %w", err)
			}

			return c.withRuntime(cmd.Context(), "import", func(ctx context.Context, rt *runtime) error {
				req := app.ImportRequest{
					Rows: rows,
					Actor: app.ImportActor{
						Name:         firstNonEmpty(actor, rt.cfg.Import.Actor),
						VillageScope: firstNonEmpty(villageScope, rt.cfg.Import.VillageScope),
					},
				}
				summary, err := rt.svc.Reconcile(ctx, req)
				if err != nil {
					return err
				}
				if jsonMode {
					return writeJSON(c.stdout, common.ToImportSummary(summary))
				}
				newPrinter(c.stdout).importSummary(summary)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&inPath, "in", "", "import file path ('-' for stdin)")
	cmd.Flags().StringVar(&format, "format", "", "csv, json, or yaml; defaults to the file extension")
	cmd.Flags().StringVar(&village, "village", "", "village for rows that carry none")
	cmd.Flags().StringVar(&actor, "actor", "", "actor recorded on change events")
	cmd.Flags().StringVar(&villageScope, "village-scope", "", "only accept rows for this village")
	cmd.Flags().BoolVar(&jsonMode, "json", false, "print the summary as JSON")
	return cmd
}

func decodeWithFormat(path, rawFormat string, opts importfile.Options) ([]domain.ImportRow, error) {
	format, err := importfile.ParseFormat(rawFormat)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open import file: %w", err)
	}
	defer func() { _ = f.Close() }()
	return importfile.Decode(f, format, opts)
}

func (c *cli) positionsCommand() *cobra.Command {
	var (
		village  string
		jsonMode bool
	)
	cmd := &cobra.Command{
		Use:   "positions",
		Short: "List active positions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withRuntime(cmd.Context(), "positions", func(ctx context.Context, rt *runtime) error {
				positions, err := rt.svc.ListPositions(ctx, village)
				if err != nil {
					return err
				}
				now := c.now()
				if jsonMode {
					out := make([]common.Position, 0, len(positions))
					for _, p := range positions {
						out = append(out, common.ToPosition(p, rt.svc.Rules(), now))
					}
					return writeJSON(c.stdout, out)
				}
				newPrinter(c.stdout).positions(positions, rt.svc.Rules(), now)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&village, "village", "", "only list this village")
	cmd.Flags().BoolVar(&jsonMode, "json", false, "print positions as JSON")
	return cmd
}

func (c *cli) historyCommand() *cobra.Command {
	var (
		village string
		limit   int
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List archived records, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit < 0 {
				return fmt.Errorf("--limit must be >= 0, got %d", limit)
			}
			return c.withRuntime(cmd.Context(), "history", func(ctx context.Context, rt *runtime) error {
				records, err := rt.svc.ListHistory(ctx, app.HistoryFilter{Village: village, Limit: limit})
				if err != nil {
					return err
				}
				newPrinter(c.stdout).history(records)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&village, "village", "", "only list this village")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum records; 0 lists all")
	return cmd
}

func (c *cli) eventsCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "events <position-id>",
		Short: "Show the change ledger of one position, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withRuntime(cmd.Context(), "events", func(ctx context.Context, rt *runtime) error {
				events, err := rt.svc.ListChangeEvents(ctx, args[0], limit)
				if err != nil {
					return err
				}
				newPrinter(c.stdout).events(events)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum events; 0 lists all")
	return cmd
}

// occupantFlags collects the raw occupant fields shared by save-style commands.
type occupantFlags struct {
	name             string
	nationalID       string
	birthDate        string
	decreeNumber     string
	decreeDate       string
	inaugurationDate string
	tenureEnd        string
}

func (o *occupantFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.name, "name", "", "occupant full name")
	cmd.Flags().StringVar(&o.nationalID, "nik", "", "occupant national id (NIK)")
	cmd.Flags().StringVar(&o.birthDate, "birth-date", "", "birth date, YYYY-MM-DD or DD-MM-YYYY")
	cmd.Flags().StringVar(&o.decreeNumber, "decree-number", "", "appointment decree number (SK)")
	cmd.Flags().StringVar(&o.decreeDate, "decree-date", "", "appointment decree date")
	cmd.Flags().StringVar(&o.inaugurationDate, "inauguration-date", "", "inauguration date")
	cmd.Flags().StringVar(&o.tenureEnd, "tenure-end", "", "explicit tenure end date")
}

func (o occupantFlags) occupant() (domain.Occupant, error) {
	out := domain.Occupant{
		FullName:     strings.TrimSpace(o.name),
		NationalID:   strings.TrimSpace(o.nationalID),
		DecreeNumber: strings.TrimSpace(o.decreeNumber),
	}
	dates := []struct {
		flag string
		raw  string
		dst  **time.Time
	}{
		{"--birth-date", o.birthDate, &out.BirthDate},
		{"--decree-date", o.decreeDate, &out.DecreeDate},
		{"--inauguration-date", o.inaugurationDate, &out.InaugurationDate},
		{"--tenure-end", o.tenureEnd, &out.TenureEndDate},
	}
	for _, d := range dates {
		parsed, err := domain.ParseDate(d.raw)
		if err != nil {
			return domain.Occupant{}, fmt.Errorf("%s: %w", d.flag, err)
		}
		*d.dst = parsed
	}
	return out, nil
}

func (c *cli) saveCommand() *cobra.Command {
	var (
		in       app.SavePositionInput
		occupant occupantFlags
	)
	cmd := &cobra.Command{
		Use:   "save",
		Short: "Create or edit a position",
		Long:  "save edits the record named by --id, or enters a new occupant. New occupants reuse a vacant or expired record for the same village and title unless --force-new is set.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			o, err := occupant.occupant()
			if err != nil {
				return err
			}
			in.Occupant = o
			return c.withRuntime(cmd.Context(), "save", func(ctx context.Context, rt *runtime) error {
				p, outcome, err := rt.svc.SavePosition(ctx, in)
				if err != nil {
					return err
				}
				newPrinter(c.stdout).success(fmt.Sprintf("%s %s: %s, %s (version %d)", outcome, p.ID, p.Title, p.Village, p.Version))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&in.ID, "id", "", "edit this record instead of entering a new occupant")
	cmd.Flags().Int64Var(&in.Version, "version", 0, "last seen version for edits; 0 skips the check")
	cmd.Flags().StringVar(&in.Village, "village", "", "village name")
	cmd.Flags().StringVar(&in.Title, "title", "", "position title")
	cmd.Flags().StringVar(&in.Status, "status", "", "free-form status marker")
	cmd.Flags().BoolVar(&in.ForceNew, "force-new", false, "always create a new record")
	cmd.Flags().StringVar(&in.Actor, "actor", "operator", "actor recorded on the change event")
	occupant.bind(cmd)
	return cmd
}

func (c *cli) slotCommand() *cobra.Command {
	var village, title string
	cmd := &cobra.Command{
		Use:   "slot",
		Short: "Find a vacant or expired record that a new occupant can reuse",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withRuntime(cmd.Context(), "slot", func(ctx context.Context, rt *runtime) error {
				p, ok, err := rt.svc.FindReusableSlot(ctx, village, title)
				if err != nil {
					return err
				}
				printer := newPrinter(c.stdout)
				if !ok {
					printer.note("no reusable slot", title+", "+village)
					return nil
				}
				printer.success(fmt.Sprintf("reusable slot %s: %s, %s (%s)", p.ID, p.Title, p.Village, displayName(p.Occupant)))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&village, "village", "", "village name")
	cmd.Flags().StringVar(&title, "title", "", "position title")
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
