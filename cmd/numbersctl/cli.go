package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/lamcatuk/vy-numbers/internal/admin"
	"github.com/lamcatuk/vy-numbers/internal/slots"
	"github.com/lamcatuk/vy-numbers/pkg/auth"
	"github.com/lamcatuk/vy-numbers/pkg/config"
)

var validFormats = []string{"text", "json"}

type rootOptions struct {
	Format string
}

// opener connects the admin service. The returned func releases its resources.
type opener func(ctx context.Context) (admin.Service, func(), error)

// adminLoader returns the operator token settings without touching any store.
type adminLoader func() (config.AdminConfig, error)

func newRootCommand(open opener, loadAdmin adminLoader) *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "numbersctl",
		Short:         "Operate the VY number inventory",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			for _, f := range validFormats {
				if f == opts.Format {
					return nil
				}
			}
			return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, validFormats)
		},
	}
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(
		newListCommand(opts, open),
		newSummaryCommand(opts, open),
		newBulkCommand(opts, open),
		newImportCommand(opts, open),
		newResetCommand(opts, open),
		newSweepCommand(opts, open),
		newTokenCommand(opts, loadAdmin),
	)
	return cmd
}

// withService opens the admin service for the duration of fn.
func withService(cmd *cobra.Command, open opener, fn func(ctx context.Context, svc admin.Service) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	svc, closeFn, err := open(ctx)
	if err != nil {
		return err
	}
	defer closeFn()
	return fn(ctx, svc)
}

func newListCommand(opts *rootOptions, open opener) *cobra.Command {
	in := admin.ListInput{}
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List numbers, optionally filtered by status or a digit search",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, open, func(ctx context.Context, svc admin.Service) error {
				res, err := svc.List(ctx, in)
				if err != nil {
					return err
				}
				return printList(cmd.OutOrStdout(), opts.Format, res)
			})
		},
	}
	cmd.Flags().StringVar(&in.Status, "status", "", "available|reserved|sold")
	cmd.Flags().StringVar(&in.Search, "search", "", "digits the number must contain")
	cmd.Flags().IntVar(&in.Page, "page", 1, "page number")
	cmd.Flags().IntVar(&in.PageSize, "page-size", 0, "rows per page (default from config)")
	return cmd
}

func newSummaryCommand(opts *rootOptions, open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "summary",
		Short: "Show per-status counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, open, func(ctx context.Context, svc admin.Service) error {
				sum, err := svc.Summary(ctx)
				if err != nil {
					return err
				}
				if opts.Format == "json" {
					return writeJSON(cmd.OutOrStdout(), sum)
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "total %d\navailable %d\nreserved %d\nsold %d\n",
					sum.Total, sum.Available, sum.Reserved, sum.Sold)
				return err
			})
		},
	}
}

func newBulkCommand(opts *rootOptions, open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "bulk reserve|release <numbers...>",
		Short: "Reserve or release many numbers at once",
		Long: `Reserve or release many numbers at once.

Numbers may be separated by spaces, commas or semicolons and may omit
leading zeros (7 means 0007).`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			action := admin.BulkAction(strings.ToLower(args[0]))
			if action != admin.BulkReserve && action != admin.BulkRelease {
				return fmt.Errorf("unknown bulk action %q: use reserve or release", args[0])
			}
			return withService(cmd, open, func(ctx context.Context, svc admin.Service) error {
				out, err := svc.Bulk(ctx, action, strings.Join(args[1:], " "))
				if err != nil {
					return err
				}
				if opts.Format == "json" {
					return writeJSON(cmd.OutOrStdout(), out)
				}
				w := cmd.OutOrStdout()
				fmt.Fprintf(w, "%s: %d applied, %d skipped, %d invalid\n", action, len(out.Applied), len(out.Skipped), len(out.Invalid))
				printIDs(w, "applied", out.Applied)
				printIDs(w, "skipped", out.Skipped)
				printIDs(w, "invalid", out.Invalid)
				return nil
			})
		},
	}
}

func newImportCommand(opts *rootOptions, open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.csv>",
		Short: "Hold numbers listed in a CSV with their attributes",
		Long: `Hold numbers listed in a CSV with their attributes.

The first row is a header. Columns are number, association, nickname,
category, country and significance.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open import file: %w", err)
			}
			defer f.Close()
			return withService(cmd, open, func(ctx context.Context, svc admin.Service) error {
				report, err := svc.Import(ctx, f)
				if err != nil {
					return err
				}
				if opts.Format == "json" {
					return writeJSON(cmd.OutOrStdout(), report)
				}
				w := cmd.OutOrStdout()
				fmt.Fprintf(w, "rows %d, applied %d, skipped %d, duplicates %d, invalid %d\n",
					report.Rows, report.Applied, len(report.Skipped), len(report.Duplicates), len(report.Invalid))
				printIDs(w, "skipped", report.Skipped)
				for _, issue := range append(report.Duplicates, report.Invalid...) {
					fmt.Fprintf(w, "row %d %q: %s\n", issue.Row, issue.Number, issue.Reason)
				}
				return nil
			})
		},
	}
}

func newResetCommand(opts *rootOptions, open opener) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Return every number to available and clear all attribution",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("reset wipes every reservation and sale; rerun with --yes")
			}
			return withService(cmd, open, func(ctx context.Context, svc admin.Service) error {
				n, err := svc.Reset(ctx, admin.ResetConfirmation)
				if err != nil {
					return err
				}
				if opts.Format == "json" {
					return writeJSON(cmd.OutOrStdout(), map[string]int64{"reset": n})
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "reset %d numbers\n", n)
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the reset")
	return cmd
}

func newSweepCommand(opts *rootOptions, open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Release shopper holds whose expiry has passed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, open, func(ctx context.Context, svc admin.Service) error {
				n, err := svc.Sweep(ctx)
				if err != nil {
					return err
				}
				if opts.Format == "json" {
					return writeJSON(cmd.OutOrStdout(), map[string]int64{"released": n})
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "released %d expired holds\n", n)
				return err
			})
		},
	}
}

func newTokenCommand(opts *rootOptions, loadAdmin adminLoader) *cobra.Command {
	var (
		subject string
		role    string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an operator bearer token for the admin or webhook API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			subject = strings.TrimSpace(subject)
			if subject == "" {
				return fmt.Errorf("--subject is required")
			}
			cfg, err := loadAdmin()
			if err != nil {
				return err
			}
			now := time.Now().UTC()
			signed, err := auth.MintOperatorToken(cfg, now, subject, auth.Role(role), ttl)
			if err != nil {
				return err
			}
			if opts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"token":      signed,
					"role":       role,
					"expires_at": now.Add(ttl),
				})
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), signed)
			return err
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "operator or service name recorded in the token")
	cmd.Flags().StringVar(&role, "role", string(auth.RoleAdmin), "admin|service")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}

type listRow struct {
	Number         string `json:"number"`
	Status         string `json:"status"`
	ReservedBy     string `json:"reserved_by,omitempty"`
	ReserveExpires string `json:"reserve_expires,omitempty"`
	OrderRef       string `json:"order_ref,omitempty"`
	OwnerRef       string `json:"owner_ref,omitempty"`
	Nickname       string `json:"nickname,omitempty"`
}

func printList(w io.Writer, format string, res *slots.ListResult) error {
	rows := make([]listRow, 0, len(res.Slots))
	for _, s := range res.Slots {
		row := listRow{
			Number:     s.Num,
			Status:     string(s.Status),
			ReservedBy: deref(s.ReservedBy),
			OrderRef:   deref(s.OrderID),
			OwnerRef:   deref(s.UserID),
			Nickname:   s.Attributes.Nickname,
		}
		if s.ReserveExpires != nil {
			row.ReserveExpires = s.ReserveExpires.UTC().Format("2006-01-02T15:04:05Z")
		}
		rows = append(rows, row)
	}
	if format == "json" {
		return writeJSON(w, map[string]any{"numbers": rows, "page": res.Page})
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NUMBER\tSTATUS\tHELD BY\tEXPIRES\tORDER\tOWNER\tNICKNAME")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n", r.Number, r.Status, r.ReservedBy, r.ReserveExpires, r.OrderRef, r.OwnerRef, r.Nickname)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "page %d/%d (%d total)\n", res.Page.Page, res.Page.TotalPages, res.Page.Total)
	return err
}

func printIDs(w io.Writer, label string, ids []string) {
	if len(ids) == 0 {
		return
	}
	fmt.Fprintf(w, "  %s: %s\n", label, strings.Join(ids, " "))
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
