package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"

	"github.com/odyssey-erp/odyssey-fulfillment/internal/app"
	"github.com/odyssey-erp/odyssey-fulfillment/jobs"
)

const usage = `usage: fulfillmentctl jobs <command>

commands:
  trigger <task>                         enqueue inventory:ledger_verify or idempotency:cleanup
  verify [-product ID] [-warehouse ID]   enqueue a narrowed ledger check
  stats                                  print default queue counters
  failed [-n N]                          list archived tasks
`

// jobRunner is the subset of JobsCLI the commands need.
type jobRunner interface {
	Trigger(ctx context.Context, name string) (*asynq.TaskInfo, error)
	Verify(ctx context.Context, payload jobs.LedgerVerifyPayload) (*asynq.TaskInfo, error)
	InspectQueue() (QueueStats, error)
	ListArchived(size int) ([]*asynq.TaskInfo, error)
}

var errUsage = errors.New("invalid usage")

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Default().Warn("load .env", slog.Any("error", err))
	}
	cfg, err := app.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}
	cli := NewJobsCLI(asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	defer func() {
		_ = cli.Close()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := run(ctx, os.Args[1:], cli, os.Stdout); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprint(os.Stderr, usage)
			os.Exit(2)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, cli jobRunner, out io.Writer) error {
	if len(args) < 2 || args[0] != "jobs" {
		return errUsage
	}
	switch args[1] {
	case "trigger":
		if len(args) != 3 {
			return errUsage
		}
		info, err := cli.Trigger(ctx, args[2])
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
	case "verify":
		fset := flag.NewFlagSet("verify", flag.ContinueOnError)
		fset.SetOutput(io.Discard)
		product := fset.Int64("product", 0, "product id")
		warehouse := fset.Int64("warehouse", 0, "warehouse id")
		if err := fset.Parse(args[2:]); err != nil {
			return fmt.Errorf("%w: %v", errUsage, err)
		}
		if *product < 0 || *warehouse < 0 {
			return fmt.Errorf("%w: ids must be positive", errUsage)
		}
		info, err := cli.Verify(ctx, jobs.LedgerVerifyPayload{ProductID: *product, WarehouseID: *warehouse})
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
	case "stats":
		stats, err := cli.InspectQueue()
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "QUEUE\tPENDING\tACTIVE\tSCHEDULED\tRETRY\tARCHIVED")
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\n", stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry, stats.Archived)
		return tw.Flush()
	case "failed":
		fset := flag.NewFlagSet("failed", flag.ContinueOnError)
		fset.SetOutput(io.Discard)
		size := fset.Int("n", 10, "page size")
		if err := fset.Parse(args[2:]); err != nil {
			return fmt.Errorf("%w: %v", errUsage, err)
		}
		tasks, err := cli.ListArchived(*size)
		if err != nil {
			return err
		}
		for _, t := range tasks {
			fmt.Fprintf(out, "%s\t%s\t%s\n", t.ID, t.Type, t.LastErr)
		}
	default:
		return errUsage
	}
	return nil
}
