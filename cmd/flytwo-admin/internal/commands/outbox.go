package commands

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/cuongbtq/flytwo-backend/internal/domain"
	"github.com/cuongbtq/flytwo-backend/internal/storage"
)

type OutboxCmd struct {
	Stats OutboxStatsCmd `cmd:"" help:"Show pending, locked and processed message counts."`
}

type OutboxStatsCmd struct{}

func (cmd *OutboxStatsCmd) Run(ctx context.Context, globals *Globals) error {
	e, err := globals.open(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	stats, err := storage.NewStorage(e.db).OutboxStats(ctx, time.Now().UTC())
	if err != nil {
		return err
	}
	return writeOutboxStats(globals.out(), stats)
}

func writeOutboxStats(out io.Writer, stats domain.OutboxStats) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "pending\t%d\n", stats.Pending)
	fmt.Fprintf(w, "locked\t%d\n", stats.Locked)
	fmt.Fprintf(w, "processed\t%d\n", stats.Processed)
	fmt.Fprintf(w, "max attempts\t%d\n", stats.MaxAttempts)
	return w.Flush()
}
