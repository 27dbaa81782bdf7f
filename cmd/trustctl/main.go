package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/rs/zerolog/log"

	"github.com/floodwatch/floodwatch-api/internal/config"
	"github.com/floodwatch/floodwatch-api/internal/domain/moderation"
	"github.com/floodwatch/floodwatch-api/internal/domain/report"
	"github.com/floodwatch/floodwatch-api/internal/domain/trust"
	"github.com/floodwatch/floodwatch-api/internal/domain/user"
	"github.com/floodwatch/floodwatch-api/internal/pkg/database"
	"github.com/floodwatch/floodwatch-api/internal/pkg/logger"
)

const usage = `Usage: trustctl <command> [flags]

Commands:
  recalculate                   rebuild every user's trust counters from report history
  clear -mode <mode>            delete reports; mode is deleteNonApproved or deleteAll
`

// maintenance is the part of the moderation engine trustctl drives.
type maintenance interface {
	RecomputeAll(ctx context.Context, actor moderation.Actor) ([]trust.UserCounters, error)
	BulkCleanup(ctx context.Context, actor moderation.Actor, mode moderation.CleanupMode) (*moderation.CleanupResult, error)
}

func main() {
	cfg := config.Load()
	logger.Init(logger.Config{Level: cfg.LogLevel, Environment: cfg.Env})

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	db, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer database.ClosePostgres(db)

	// Only the bulk operations are used, so no detector or image store.
	svc := moderation.NewService(
		report.NewRepository(db),
		user.NewRepository(db),
		trust.NewService(trust.NewStore(db), nil),
		nil, nil, nil,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], svc, os.Stdout); err != nil {
		stop()
		database.ClosePostgres(db)
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		log.Fatal().Err(err).Msg("trustctl failed")
	}
}

func run(ctx context.Context, args []string, svc maintenance, out io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(out, usage)
		return flag.ErrHelp
	}

	switch args[0] {
	case "recalculate":
		fs := flag.NewFlagSet("recalculate", flag.ContinueOnError)
		fs.SetOutput(out)
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}

		users, err := svc.RecomputeAll(ctx, moderation.SystemActor)
		printCounters(out, users)
		return err

	case "clear":
		fs := flag.NewFlagSet("clear", flag.ContinueOnError)
		fs.SetOutput(out)
		mode := fs.String("mode", string(moderation.CleanupNonApproved), "deleteNonApproved or deleteAll")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}

		res, err := svc.BulkCleanup(ctx, moderation.SystemActor, moderation.CleanupMode(*mode))
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "mode=%s deleted=%d users_updated=%d\n", res.Mode, res.Deleted, res.UsersUpdated)
		return nil

	default:
		fmt.Fprint(out, usage)
		return fmt.Errorf("unknown command %q: %w", args[0], flag.ErrHelp)
	}
}

func printCounters(out io.Writer, users []trust.UserCounters) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "USER\tTOTAL\tAPPROVED\tTRUST")
	for _, u := range users {
		fmt.Fprintf(tw, "%d\t%d\t%d\t%d\n", u.UserID, u.Total, u.Approved, u.Score)
	}
	tw.Flush()
	fmt.Fprintf(out, "%d users updated\n", len(users))
}
