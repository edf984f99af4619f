package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"modcatalog/db"
	"modcatalog/identity"
	"modcatalog/logger"
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage catalog users",
}

var userAddCmd = &cobra.Command{
	Use:   "add [name]",
	Short: "Register a user with permissions",
	Long: `Register a user. Permissions are "admin", "approve:<game>" or "post:<game>".
The first user may be created without an acting user; after that only admins
can add users.
Example: modcatalog user add alice --perm admin`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		perms, _ := cmd.Flags().GetStringSlice("perm")
		addUser(args[0], perms)
	},
}

func init() {
	rootCmd.AddCommand(userCmd)
	userCmd.AddCommand(userAddCmd)
	userAddCmd.Flags().StringSlice("perm", nil, "permission to grant (repeatable)")
}

func addUser(name string, perms []string) {
	a := bootstrap(configDir)
	defer a.close()
	ctx := context.Background()

	n, err := a.store.UserCount(ctx)
	if err != nil {
		fatal("Failed to count users", err)
	}
	if n > 0 {
		if err := identity.Require(a.actor(ctx), identity.Admin()); err != nil {
			fatal("Cannot add user", err)
		}
	}

	for _, p := range perms {
		if _, err := identity.ParsePermission(p); err != nil {
			fatal("Bad permission", err)
		}
	}
	u := &db.User{Name: name, Permissions: perms}
	if err := a.store.CreateUser(ctx, u); err != nil {
		fatal("Failed to create user", err)
	}
	logger.Log.Infow("User added", zap.Uint("user_id", u.ID), zap.String("name", name), zap.Strings("permissions", perms))
	fmt.Printf("user %d %s %v\n", u.ID, u.Name, perms)
}
