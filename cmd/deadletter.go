package cmd

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/vibast-solutions/ms-go-session-auth/app/entity"
	"github.com/vibast-solutions/ms-go-session-auth/app/queue"
	"github.com/vibast-solutions/ms-go-session-auth/app/repository"
	"github.com/vibast-solutions/ms-go-session-auth/config"

	_ "github.com/go-sql-driver/mysql"
	"github.com/spf13/cobra"
)

type deadLetterStore interface {
	List(ctx context.Context, limit int) ([]*entity.DeadLetter, error)
	FindByID(ctx context.Context, id uint64) (*entity.DeadLetter, error)
	Delete(ctx context.Context, id uint64) error
}

var deadLetterListLimit int

var deadLetterCmd = &cobra.Command{
	Use:   "deadletter",
	Short: "Inspect and requeue email jobs that exhausted their retries",
}

var deadLetterListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent dead-lettered email jobs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		_, db, err := openDeadLetterDB()
		if err != nil {
			return err
		}
		defer db.Close()

		return listDeadLetters(cmd.Context(), repository.NewDeadLetterRepository(db), deadLetterListLimit, cmd.OutOrStdout())
	},
}

var deadLetterRequeueCmd = &cobra.Command{
	Use:   "requeue <id>",
	Short: "Publish a dead-lettered email job again and remove it from the store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid dead letter id %q", args[0])
		}

		cfg, db, err := openDeadLetterDB()
		if err != nil {
			return err
		}
		defer db.Close()

		broker := newBroker(cfg)
		defer broker.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		job, err := requeueDeadLetter(ctx, repository.NewDeadLetterRepository(db), broker, id)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "requeued dead letter %d as job %s\n", id, job.ID)
		return nil
	},
}

func init() {
	deadLetterListCmd.Flags().IntVar(&deadLetterListLimit, "limit", 50, "maximum number of entries to show")
	deadLetterCmd.AddCommand(deadLetterListCmd)
	deadLetterCmd.AddCommand(deadLetterRequeueCmd)
	rootCmd.AddCommand(deadLetterCmd)
}

func openDeadLetterDB() (*config.Config, *sql.DB, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}

	db, err := sql.Open("mysql", cfg.DSN())
	if err != nil {
		return nil, nil, err
	}
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, nil, err
	}
	return cfg, db, nil
}

func listDeadLetters(ctx context.Context, store deadLetterStore, limit int, out io.Writer) error {
	letters, err := store.List(ctx, limit)
	if err != nil {
		return err
	}
	if len(letters) == 0 {
		fmt.Fprintln(out, "no dead letters")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tJOB\tRECIPIENT\tTEMPLATE\tATTEMPTS\tFAILED_AT\tLAST_ERROR")
	for _, l := range letters {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%s\t%s\n",
			l.ID, l.JobID, l.Recipient, l.Template, l.Attempts, l.FailedAt.Format(time.RFC3339), l.LastError)
	}
	return w.Flush()
}

func requeueDeadLetter(ctx context.Context, store deadLetterStore, broker queue.Broker, id uint64) (queue.Job, error) {
	letter, err := store.FindByID(ctx, id)
	if err != nil {
		return queue.Job{}, err
	}
	if letter == nil {
		return queue.Job{}, fmt.Errorf("dead letter %d not found", id)
	}

	job, err := queue.JobFromDeadLetter(letter)
	if err != nil {
		return queue.Job{}, err
	}
	body, err := json.Marshal(job)
	if err != nil {
		return queue.Job{}, err
	}
	if err = broker.Publish(ctx, body); err != nil {
		return queue.Job{}, fmt.Errorf("publish job: %w", err)
	}

	// Already published; a failed delete only leaves a stale entry behind.
	if err = store.Delete(ctx, id); err != nil {
		return job, errors.Join(errors.New("job requeued but dead letter was not removed"), err)
	}
	return job, nil
}
