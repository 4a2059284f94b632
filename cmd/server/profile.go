package main

import (
	"encoding/json"
	"fmt"

	"github.com/dkeye/Intercom/internal/config"
	"github.com/dkeye/Intercom/internal/domain"
	"github.com/dkeye/Intercom/internal/store"
	"github.com/spf13/cobra"
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Inspect or seed the local profile store",
}

var profileGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Print the profile the auth gate would resolve",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		profiles, closeDB, err := openProfiles(cmd)
		if err != nil {
			return err
		}
		defer closeDB()
		p, err := profiles.FindProfile(cmd.Context(), domain.UserID(args[0]))
		if err != nil {
			return err
		}
		out, err := json.MarshalIndent(p, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	},
}

var (
	putName  string
	putEmail string
)

var profilePutCmd = &cobra.Command{
	Use:   "put <id>",
	Short: "Create or update a profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		profiles, closeDB, err := openProfiles(cmd)
		if err != nil {
			return err
		}
		defer closeDB()
		return profiles.PutProfile(cmd.Context(), domain.UserID(args[0]), domain.Profile{Name: putName, Contact: putEmail})
	},
}

func init() {
	profilePutCmd.Flags().StringVar(&putName, "name", "", "display name")
	profilePutCmd.Flags().StringVar(&putEmail, "email", "", "contact email")
	profileCmd.AddCommand(profileGetCmd, profilePutCmd)
}

func openProfiles(cmd *cobra.Command) (*store.ProfileStore, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	db, err := store.Open(cfg.Database.DSN)
	if err != nil {
		return nil, nil, err
	}
	profiles := store.NewProfileStore(db)
	if err := profiles.EnsureSchema(cmd.Context()); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return profiles, func() { _ = db.Close() }, nil
}
