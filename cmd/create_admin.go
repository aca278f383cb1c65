/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/observach/apiserver/config"
	"github.com/observach/apiserver/internal/db"
	"github.com/observach/apiserver/internal/services"
	"github.com/observach/apiserver/internal/store"
	"github.com/spf13/cobra"
)

var (
	adminName     string
	adminEmail    string
	adminPassword string
)

// createAdminCmd seeds an administrator account.
var createAdminCmd = &cobra.Command{
	Use:   "create-admin",
	Short: "Create an administrator account if it does not exist",
	Long: `Create an administrator account. Flags default to ADMIN_NAME,
ADMIN_EMAIL and ADMIN_PASSWORD. An existing administrator with the same email
is left untouched; a regular account with it is an error.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.LoadConfig()
		if adminPassword == "" {
			return errors.New("admin password is required (--password or ADMIN_PASSWORD)")
		}

		conn, err := db.Open(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer conn.Close()

		users := services.NewUserService(store.NewUserRepository(conn))
		user, created, err := users.EnsureAdmin(cmd.Context(), adminName, adminEmail, adminPassword)
		if err != nil {
			return fmt.Errorf("create admin: %w", err)
		}
		if !created {
			slog.Info("account already exists", "email", user.Email, "role", user.Role)
			return nil
		}
		slog.Info("administrator created", "id", user.ID, "email", user.Email)
		return nil
	},
}

func init() {
	cfg := config.LoadConfig()
	rootCmd.AddCommand(createAdminCmd)
	createAdminCmd.Flags().StringVar(&adminName, "name", cfg.Admin.Name, "Display name")
	createAdminCmd.Flags().StringVar(&adminEmail, "email", cfg.Admin.Email, "Login email")
	createAdminCmd.Flags().StringVar(&adminPassword, "password", cfg.Admin.Password, "Password (at least 6 characters)")
}
