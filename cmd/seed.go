package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jmehdipour/wadispatch/internal/db"
	"github.com/jmehdipour/wadispatch/internal/logger"
	"github.com/jmehdipour/wadispatch/internal/model"
	"github.com/jmehdipour/wadispatch/internal/repository"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with demo users",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		sqlDB, err := db.OpenMySQL(cfg.MySQL)
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		defer sqlDB.Close()

		if err := seedUsers(cmd.Context(), repository.NewUsersRepository(sqlDB)); err != nil {
			return err
		}

		fmt.Println(">> Seed completed")
		return nil
	},
}

// demoUsers are deterministic so the seed is idempotent.
func demoUsers() []model.User {
	return []model.User{
		{Name: "Admin", APIKey: "11111111111111111111111111111111", Role: "admin", Status: "active"},
		{Name: "Shop Front", APIKey: "22222222222222222222222222222222", Role: "staff", Status: "active", RateLimitRPS: intptr(20)},
		{Name: "Warehouse", APIKey: "33333333333333333333333333333333", Role: "staff", Status: "active", RateLimitRPS: intptr(5)},
		{Name: "Former Staff", APIKey: "44444444444444444444444444444444", Role: "staff", Status: "suspended"},
	}
}

func seedUsers(ctx context.Context, users repository.UsersRepository) error {
	if ctx == nil {
		ctx = context.Background()
	}

	for _, u := range demoUsers() {
		if err := users.Upsert(ctx, &u); err != nil {
			return fmt.Errorf("upsert user %q: %w", u.Name, err)
		}
		logger.Log.Info("user seeded", zap.String("name", u.Name), zap.String("role", u.Role))
	}
	return nil
}

func intptr(i int) *int { return &i }
