package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"modcatalog/db"
)

var gameCmd = &cobra.Command{
	Use:   "game",
	Short: "Manage the game version registry",
}

var gameAddCmd = &cobra.Command{
	Use:   "add [game] [version]",
	Short: "Register a game version",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		makeDefault, _ := cmd.Flags().GetBool("default")
		a := bootstrap(configDir)
		defer a.close()
		ctx := context.Background()
		gv, err := a.registry.Create(ctx, a.actor(ctx), args[0], args[1], makeDefault)
		if err != nil {
			fatal("Failed to register game version", err)
		}
		printGameVersions([]db.GameVersion{*gv})
	},
}

var gameDefaultCmd = &cobra.Command{
	Use:   "default [game-version-id]",
	Short: "Make a game version its game's default",
	Args:  cobra.ExactArgs(1),
	Run: func(_ *cobra.Command, args []string) {
		a := bootstrap(configDir)
		defer a.close()
		ctx := context.Background()
		gv, err := a.registry.SetDefault(ctx, a.actor(ctx), mustID(args[0]))
		if err != nil {
			fatal("Failed to set default", err)
		}
		printGameVersions([]db.GameVersion{*gv})
	},
}

var gameListCmd = &cobra.Command{
	Use:   "list [game]",
	Short: "List game versions in release order",
	Args:  cobra.MaximumNArgs(1),
	Run: func(_ *cobra.Command, args []string) {
		game := ""
		if len(args) == 1 {
			game = args[0]
		}
		a := bootstrap(configDir)
		defer a.close()
		gvs, err := a.registry.List(context.Background(), game)
		if err != nil {
			fatal("Failed to list game versions", err)
		}
		printGameVersions(gvs)
	},
}

var gameLinkCmd = &cobra.Command{
	Use:   "link [game-version-id] [game-version-id]",
	Short: "Declare two game versions mutually compatible",
	Long: `Every mod version supporting one of the two game versions but not the
other gains the missing one.`,
	Args: cobra.ExactArgs(2),
	Run: func(_ *cobra.Command, args []string) {
		a := bootstrap(configDir)
		defer a.close()
		ctx := context.Background()
		updated, err := a.retarget.LinkGameVersions(ctx, a.actor(ctx), mustID(args[0]), mustID(args[1]))
		if err != nil {
			fatal("Failed to link game versions", err)
		}
		fmt.Printf("updated %d mod versions: %s\n", len(updated), joinIDs(updated))
	},
}

var gameDeleteCmd = &cobra.Command{
	Use:   "delete [game-version-id]",
	Short: "Delete a game version no mod version references",
	Args:  cobra.ExactArgs(1),
	Run: func(_ *cobra.Command, args []string) {
		a := bootstrap(configDir)
		defer a.close()
		ctx := context.Background()
		if err := a.registry.Delete(ctx, a.actor(ctx), mustID(args[0])); err != nil {
			fatal("Failed to delete game version", err)
		}
		fmt.Println("deleted")
	},
}

func init() {
	rootCmd.AddCommand(gameCmd)
	gameCmd.AddCommand(gameAddCmd, gameDefaultCmd, gameListCmd, gameLinkCmd, gameDeleteCmd)
	gameAddCmd.Flags().Bool("default", false, "also make it the game's default version")
}

func printGameVersions(gvs []db.GameVersion) {
	for _, gv := range gvs {
		marker := ""
		if gv.IsDefault {
			marker = " (default)"
		}
		fmt.Printf("%-6d %-20s %s%s\n", gv.ID, gv.GameName, gv.VersionString, marker)
	}
}
