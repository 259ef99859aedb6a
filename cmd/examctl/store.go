package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"go-exam-portal/internal/app"
	"go-exam-portal/internal/credential"
	"go-exam-portal/internal/model"
	"go-exam-portal/internal/service"
	"go-exam-portal/internal/session"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the principals schema for the configured store driver",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			backend, err := app.OpenStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer backend.Close()

			fmt.Fprintf(cmd.OutOrStdout(), "Schema ready (driver %s)\n", cfg.StoreDriver)
			return nil
		},
	}
}

func createAdminCmd() *cobra.Command {
	var name, email, phone string

	cmd := &cobra.Command{
		Use:   "create-admin",
		Short: "Register an admin account (password from EXAMCTL_ADMIN_PASSWORD)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			password := os.Getenv("EXAMCTL_ADMIN_PASSWORD")
			if strings.TrimSpace(password) == "" {
				return errors.New("EXAMCTL_ADMIN_PASSWORD must be set")
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			backend, err := app.OpenStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer backend.Close()
			store := backend.Store

			codec, err := app.NewCodec(cfg)
			if err != nil {
				return err
			}

			svc := service.NewAuthService(store, credential.NewHasher(cfg.BcryptCost), session.NewManager(store, codec),
				nil, nil, nil, service.AuthOptions{DefaultAvatarURL: cfg.DefaultAvatarURL})

			view, err := svc.Register(cmd.Context(), model.RoleAdmin, model.RegisterInput{
				Name:     name,
				Email:    email,
				Phone:    phone,
				Password: password,
			})
			if err != nil {
				return fmt.Errorf("failed to create admin: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Admin %s created (id %s)\n", view.Email, view.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Admin display name")
	cmd.Flags().StringVar(&email, "email", "", "Admin email (login)")
	cmd.Flags().StringVar(&phone, "phone", "", "Admin phone number")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("phone")

	return cmd
}

func deletePrincipalCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete-principal <student|teacher|admin> <id>",
		Short: "Remove a principal record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			role, ok := model.ParseRole(args[0])
			if !ok {
				return fmt.Errorf("unknown role %q", args[0])
			}

			return withStore(cmd.Context(), func(store app.PrincipalStore) error {
				if err := store.Delete(cmd.Context(), role, args[1]); err != nil {
					return fmt.Errorf("failed to delete %s %s: %w", role, args[1], err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s %s\n", role, args[1])
				return nil
			})
		},
	}
}

func countCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "count",
		Short: "Print the number of principals per role",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(store app.PrincipalStore) error {
				for _, role := range model.Roles {
					n, err := store.Count(cmd.Context(), role)
					if err != nil {
						return fmt.Errorf("failed to count %s: %w", role, err)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%-8s %d\n", role, n)
				}
				return nil
			})
		},
	}
}

func withStore(ctx context.Context, fn func(app.PrincipalStore) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	backend, err := app.OpenStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer backend.Close()

	return fn(backend.Store)
}
