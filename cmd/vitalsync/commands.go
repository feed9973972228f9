package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/thrive/vitalsync/internal/config"
	"github.com/thrive/vitalsync/internal/domain/metric"
	"github.com/thrive/vitalsync/internal/platform/api"
	"github.com/thrive/vitalsync/internal/platform/middleware"
)

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func cacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the local metric store",
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the cached readings, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := newLogger(cmd.ErrOrStderr(), cfg)
			store, err := openStore(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			readings, err := store.Load(cmd.Context(), limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-12s %-16s %10s %-8s %s\n", "ID", "TYPE", "VALUE", "UNIT", "RECORDED AT")
			for _, r := range readings {
				fmt.Fprintf(out, "%-12s %-16s %10s %-8s %s\n",
					r.ID, r.Kind, strconv.FormatFloat(r.Value, 'f', -1, 64), r.UnitOrEmpty(),
					r.RecordedAt.Format(time.RFC3339))
			}
			return nil
		},
	}
	showCmd.Flags().Int("limit", 0, "Maximum readings to print (0 means the store cap)")
	cmd.AddCommand(showCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Delete every cached reading",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := newLogger(cmd.ErrOrStderr(), cfg)
			store, err := openStore(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Clear(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cleared %s store.\n", store.Backend().Name())
			return nil
		},
	})

	return cmd
}

// parseValue accepts a metric value such as "118" or "98.6".
func parseValue(raw string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, fmt.Errorf("value %q is not a number", raw)
	}
	return v, nil
}

func pushCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "push <metric_type> <value> [unit]",
		Short: "Record a reading on the backend",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := parseValue(args[1])
			if err != nil {
				return err
			}
			in := metric.NewReading{Kind: args[0], Value: value}
			if len(args) == 3 {
				in.Unit = metric.StringPtr(args[2])
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			client, err := newAPIClient(cfg, newLogger(cmd.ErrOrStderr(), cfg))
			if err != nil {
				return err
			}
			created, err := client.CreateMetric(cmd.Context(), cfg.AccessToken, in)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), created)
		},
	}
	return cmd
}

func insightCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "insight <metric> <value> <trend>",
		Short: "Ask the backend for a summary of one metric",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := parseValue(args[1])
			if err != nil {
				return err
			}
			req := api.InsightRequest{MetricName: args[0], MetricValue: value, Trend: args[2]}
			if notes, _ := cmd.Flags().GetString("notes"); notes != "" {
				req.Notes = &notes
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			client, err := newAPIClient(cfg, newLogger(cmd.ErrOrStderr(), cfg))
			if err != nil {
				return err
			}
			insight, err := client.GenerateInsight(cmd.Context(), cfg.AccessToken, req)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, insight.Summary)
			for _, r := range insight.Recommendations {
				fmt.Fprintf(out, "  - %s\n", r)
			}
			for _, a := range insight.Actions {
				fmt.Fprintf(out, "  > %s\n", a)
			}
			return nil
		},
	}
	cmd.Flags().String("notes", "", "Free-text context for the insight")
	return cmd
}

func ehrCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ehr",
		Short: "Manage the link to an external health record",
	}

	withClient := func(run func(cmd *cobra.Command, client *api.Client, cfg *config.Config) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			client, err := newAPIClient(cfg, newLogger(cmd.ErrOrStderr(), cfg))
			if err != nil {
				return err
			}
			return run(cmd, client, cfg)
		}
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show whether an EHR is linked",
		RunE: withClient(func(cmd *cobra.Command, client *api.Client, cfg *config.Config) error {
			status, err := client.EHRConnection(cmd.Context(), cfg.AccessToken)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), status)
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "link",
		Short: "Print the authorization URL that links an EHR",
		RunE: withClient(func(cmd *cobra.Command, client *api.Client, cfg *config.Config) error {
			auth, err := client.EHRAuthURL(cmd.Context(), cfg.AccessToken)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), auth.URL)
			return nil
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "vitals",
		Short: "List vitals pulled from the linked EHR",
		RunE: withClient(func(cmd *cobra.Command, client *api.Client, cfg *config.Config) error {
			vitals, err := client.EHRVitals(cmd.Context(), cfg.AccessToken)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, v := range vitals {
				unit, at := "", ""
				if v.Unit != nil {
					unit = *v.Unit
				}
				if v.RecordedAt != nil {
					at = *v.RecordedAt
				}
				fmt.Fprintf(out, "%-20s %10s %-8s %s\n", v.Name, v.Value, unit, at)
			}
			return nil
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "disconnect",
		Short: "Remove the EHR link",
		RunE: withClient(func(cmd *cobra.Command, client *api.Client, cfg *config.Config) error {
			if err := client.DisconnectEHR(cmd.Context(), cfg.AccessToken); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "EHR disconnected.")
			return nil
		}),
	})

	return cmd
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token <subject>",
		Short: "Mint a bearer token accepted by the dev server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ttl, _ := cmd.Flags().GetDuration("ttl")
			email, _ := cmd.Flags().GetString("email")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			tok, err := middleware.IssueToken([]byte(cfg.DevSigningKey), "", args[0], email, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().Duration("ttl", 24*time.Hour, "Token lifetime")
	cmd.Flags().String("email", "", "Email claim")
	return cmd
}
