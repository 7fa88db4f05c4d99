package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmehdipour/wadispatch/internal/db"
	"github.com/jmehdipour/wadispatch/internal/repository"
	"github.com/jmehdipour/wadispatch/internal/service/task"
)

var (
	cleanupDays   int
	cleanupDryRun bool
)

var cleanupLogsCmd = &cobra.Command{
	Use:   "cleanup-logs",
	Short: "Delete execution logs older than --days",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		days := cleanupDays
		if !cmd.Flags().Changed("days") && cfg.Retention.LogDays > 0 {
			days = cfg.Retention.LogDays
		}

		sqlDB, err := db.OpenMySQL(cfg.MySQL)
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		defer sqlDB.Close()

		tasksRepo := repository.NewTasksRepository(sqlDB)
		logsRepo := repository.NewExecutionLogsRepository(sqlDB)
		svc := task.New(nil, tasksRepo, logsRepo, nil, nil, nil, task.Config{})

		n, err := svc.CleanupLogs(cmd.Context(), time.Duration(days)*24*time.Hour, cleanupDryRun)
		if err != nil {
			return err
		}

		if cleanupDryRun {
			fmt.Printf(">> %d execution logs older than %d days would be deleted\n", n, days)
			return nil
		}
		fmt.Printf(">> deleted %d execution logs older than %d days\n", n, days)
		return nil
	},
}

func init() {
	cleanupLogsCmd.Flags().IntVar(&cleanupDays, "days", 90, "delete logs older than this many days")
	cleanupLogsCmd.Flags().BoolVar(&cleanupDryRun, "dry-run", false, "only count the logs that would be deleted")
}
