package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Cal9233/genthrust-repairs/internal/version"
)

const (
	envAPIURL      = "REPAIRS_API_URL"
	defaultAPIURL  = "http://localhost:8080"
	defaultTimeout = 10 * time.Second
)

type rootOptions struct {
	apiURL  string
	timeout time.Duration
}

func (o *rootOptions) client() *apiClient {
	return newAPIClient(o.apiURL, o.timeout)
}

func newRootCmd(lookup func(string) (string, bool)) *cobra.Command {
	opts := &rootOptions{}
	defaultURL := defaultAPIURL
	if v, ok := lookup(envAPIURL); ok && strings.TrimSpace(v) != "" {
		defaultURL = strings.TrimSpace(v)
	}

	root := &cobra.Command{
		Use:           "repairctl",
		Short:         "Операторская утилита сервиса заказов на ремонт",
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.apiURL, "url", defaultURL, "адрес HTTP API сервиса (fallback: "+envAPIURL+")")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", defaultTimeout, "таймаут запроса")

	root.AddCommand(
		newStatusCmd(opts),
		newResetCmd(opts),
		newRetryIntervalCmd(opts),
		newListCmd(opts),
		newEventsCmd(lookup),
	)
	return root
}

func newStatusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Показать активный бэкенд и счётчики арбитра",
		RunE: func(cmd *cobra.Command, _ []string) error {
			status, err := opts.client().Status(cmd.Context())
			if err != nil {
				return err
			}
			printStatus(cmd.OutOrStdout(), status)
			return nil
		},
	}
}

func newResetCmd(opts *rootOptions) *cobra.Command {
	var metrics bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Вернуть сервис на основной бэкенд",
		RunE: func(cmd *cobra.Command, _ []string) error {
			status, err := opts.client().Reset(cmd.Context(), metrics)
			if err != nil {
				return err
			}
			printStatus(cmd.OutOrStdout(), status)
			return nil
		},
	}
	cmd.Flags().BoolVar(&metrics, "metrics", false, "также обнулить счётчики")
	return cmd
}

func newRetryIntervalCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "retry-interval DURATION",
		Short: "Изменить интервал повторной попытки основного бэкенда",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			interval, err := time.ParseDuration(args[0])
			if err != nil || interval <= 0 {
				return fmt.Errorf("invalid interval %q: must be a positive duration", args[0])
			}
			status, err := opts.client().SetRetryInterval(cmd.Context(), interval)
			if err != nil {
				return err
			}
			printStatus(cmd.OutOrStdout(), status)
			return nil
		},
	}
}

func newListCmd(opts *rootOptions) *cobra.Command {
	var archiveStatus string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Показать заказы таблицы архивного статуса",
		RunE: func(cmd *cobra.Command, _ []string) error {
			orders, source, err := opts.client().List(cmd.Context(), archiveStatus)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "source: %s\n", colorBackend(source))

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "RO #\tSHOP\tPART #\tSTATUS\tNEXT UPDATE")
			for _, o := range orders {
				next := ""
				if o.NextUpdateDue != nil {
					next = *o.NextUpdateDue
				}
				_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", o.OrderNumber, o.ShopName, o.PartNumber, o.CurrentStatus, next)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&archiveStatus, "archive-status", "", "ACTIVE|PAID|NET|RETURNED (по умолчанию ACTIVE)")
	return cmd
}

func printStatus(out io.Writer, status backendStatus) {
	mode := color.New(color.FgGreen).Sprint("normal")
	if status.FallbackMode {
		mode = color.New(color.FgYellow, color.Bold).Sprint("FALLBACK")
	}
	_, _ = fmt.Fprintf(out, "active backend: %s\n", colorBackend(status.ActiveBackend))
	_, _ = fmt.Fprintf(out, "mode:           %s\n", mode)

	m := status.Metrics
	_, _ = fmt.Fprintf(out, "primary:        %d ok / %d failed\n", m.SuccessCount, m.FailureCount)
	_, _ = fmt.Fprintf(out, "fallback:       %d ok / %d failed\n", m.FallbackSuccessCount, m.FallbackFailureCount)
	bothFailed := fmt.Sprint(m.BothFailedCount)
	if m.BothFailedCount > 0 {
		bothFailed = color.New(color.FgRed).Sprint(bothFailed)
	}
	_, _ = fmt.Fprintf(out, "both failed:    %s\n", bothFailed)
	_, _ = fmt.Fprintf(out, "recoveries:     %d\n", m.RecoveryCount)
	_, _ = fmt.Fprintf(out, "retry interval: %s\n", m.RetryInterval)
	if m.LastFailureReason != "" {
		_, _ = fmt.Fprintf(out, "last failure:   %s (%s)\n", m.LastFailureReason, m.LastFailureAt.Format(time.RFC3339))
	}
}

func colorBackend(backend string) string {
	switch backend {
	case "relational":
		return color.New(color.FgGreen).Sprint(backend)
	case "workbook":
		return color.New(color.FgYellow).Sprint(backend)
	default:
		return color.New(color.FgRed).Sprint("unknown")
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(os.LookupEnv).ExecuteContext(ctx); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, color.New(color.FgRed).Sprint("error: "), err)
		os.Exit(1)
	}
}
