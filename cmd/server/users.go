package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"winechat/internal/service"
)

var banCmd = &cobra.Command{
	Use:   "ban <user-id>",
	Short: "Ban a user",
	Long:  `Banned users can no longer log in, connect or be messaged. Their history is kept.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setBanned(cmd, args[0], true)
	},
}

var unbanCmd = &cobra.Command{
	Use:   "unban <user-id>",
	Short: "Lift a ban",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setBanned(cmd, args[0], false)
	},
}

func init() {
	rootCmd.AddCommand(banCmd, unbanCmd)
}

func setBanned(cmd *cobra.Command, rawID string, banned bool) error {
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil || id <= 0 {
		return fmt.Errorf("invalid user id %q", rawID)
	}

	a, err := bootstrap()
	if err != nil {
		return err
	}
	defer a.Close()

	users := service.NewUserService(a.repos.Users, a.log)
	if err := users.SetBanned(cmd.Context(), id, banned); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "user %d banned=%t\n", id, banned)
	return nil
}
