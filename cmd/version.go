package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"modcatalog/catalog"
	"modcatalog/db"
	"modcatalog/resolver"
	"modcatalog/ui"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Manage mod versions and their dependencies",
}

var versionCreateCmd = &cobra.Command{
	Use:   "create [mod-id] [semver]",
	Short: "Create a private mod version",
	Long: `Create a private mod version.
Example: modcatalog version create 3 1.2.0 --game-version 7 --dep 12 --archive build/mod.jar`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		f := cmd.Flags()
		v := &db.ModVersion{ModID: mustID(args[0]), SemanticVersion: args[1]}
		versionPatchFromFlags(f).ApplyTo(v)

		var archive io.Reader
		if path, _ := f.GetString("archive"); path != "" {
			file, err := os.Open(path)
			if err != nil {
				fatal("Failed to open archive", err)
			}
			defer file.Close()
			archive = file
		}

		a := bootstrap(configDir)
		defer a.close()
		ctx := context.Background()
		if err := a.machine.CreateVersion(ctx, a.actor(ctx), v, archive); err != nil {
			fatal(fmt.Sprintf("Failed to create version (%s)", describeError(err)), err)
		}
		printVersions([]db.ModVersion{*v})
	},
}

var versionSubmitCmd = &cobra.Command{
	Use:   "submit [version-id]",
	Short: "Send a private version to review",
	Args:  cobra.ExactArgs(1),
	Run: func(_ *cobra.Command, args []string) {
		submit(catalog.VersionTarget(mustID(args[0])))
	},
}

var versionStatusCmd = &cobra.Command{
	Use:   "status [version-id] [verified|removed]",
	Short: "Approve or reject a version awaiting review",
	Args:  cobra.ExactArgs(2),
	Run: func(_ *cobra.Command, args []string) {
		setStatus(catalog.VersionTarget(mustID(args[0])), db.Status(args[1]))
	},
}

var versionRemoveCmd = &cobra.Command{
	Use:   "remove [version-id]",
	Short: "Remove a version, revoking its dependants",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		allow, _ := cmd.Flags().GetBool("allow-cascade")
		remove(catalog.VersionTarget(mustID(args[0])), allow)
	},
}

var versionEditCmd = &cobra.Command{
	Use:   "edit [version-id]",
	Short: "Edit a version, or propose the edit when it is verified",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		edit(catalog.VersionTarget(mustID(args[0])), versionPatchFromFlags(cmd.Flags()))
	},
}

var versionResolveCmd = &cobra.Command{
	Use:   "resolve [version-id]",
	Short: "Resolve a version's dependencies for a game version",
	Long: `Resolve a version's dependencies for a game version, substituting the
newest compatible release when a pinned dependency does not support it.
Without --game-version the game's default version is used.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		f := cmd.Flags()
		target, _ := f.GetUint("game-version")
		listed, _ := f.GetBool("include-unverified")
		acceptable := resolver.VerifiedOnly
		if listed {
			acceptable = resolver.Listed
		}

		a := bootstrap(configDir)
		defer a.close()
		ctx := context.Background()
		v, err := a.cache.ModVersion(ctx, mustID(args[0]))
		if err != nil {
			fatal("Failed to load version", err)
		}

		var deps []db.ModVersion
		if target == 0 {
			target, deps, err = a.resolver.ResolveDefault(ctx, v, acceptable)
		} else {
			deps, err = a.resolver.Resolve(ctx, v, target, acceptable)
		}
		if err != nil {
			fatal(fmt.Sprintf("Failed to resolve (%s)", describeError(err)), err)
		}
		fmt.Printf("dependencies of version %d for game version %d:\n", v.ID, target)
		printVersions(deps)
	},
}

var versionAddGameCmd = &cobra.Command{
	Use:   "add-game [version-id] [game-version-id]",
	Short: "Declare a version compatible with another game version",
	Args:  cobra.ExactArgs(2),
	Run: func(_ *cobra.Command, args []string) {
		a := bootstrap(configDir)
		defer a.close()
		ctx := context.Background()
		change, err := a.retarget.AddGameVersionID(ctx, a.actor(ctx), mustID(args[0]), mustID(args[1]))
		if err != nil {
			fatal(fmt.Sprintf("Failed to add game version (%s)", describeError(err)), err)
		}
		fmt.Println(describeChange(change))
	},
}

var versionRetargetCmd = &cobra.Command{
	Use:   "retarget [src-game-version-id] [dst-game-version-id]",
	Short: "Carry each mod's newest verified version over to another game version",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		exclude, _ := cmd.Flags().GetUintSlice("exclude")
		a := bootstrap(configDir)
		defer a.close()
		ctx := context.Background()
		res, err := a.retarget.ExcludeAndRetarget(ctx, a.actor(ctx), mustID(args[0]), mustID(args[1]), exclude)
		if err != nil {
			fatal(fmt.Sprintf("Failed to retarget (%s)", describeError(err)), err)
		}
		fmt.Printf("applied: %s\n", joinIDs(res.Applied))
		for vid, pid := range res.Proposed {
			fmt.Printf("proposed: version %d -> proposal %d\n", vid, pid)
		}
		for vid, err := range res.Failed {
			fmt.Printf("failed: version %d: %s (%v)\n", vid, describeError(err), err)
		}
	},
}

var versionDependantsCmd = &cobra.Command{
	Use:   "dependants [version-id]",
	Short: "List versions that depend directly on a version",
	Args:  cobra.ExactArgs(1),
	Run: func(_ *cobra.Command, args []string) {
		a := bootstrap(configDir)
		defer a.close()
		deps, err := a.cascade.Dependants(context.Background(), mustID(args[0]))
		if err != nil {
			fatal("Failed to list dependants", err)
		}
		printVersions(deps)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.AddCommand(versionCreateCmd, versionSubmitCmd, versionStatusCmd, versionRemoveCmd,
		versionEditCmd, versionResolveCmd, versionAddGameCmd, versionRetargetCmd, versionDependantsCmd)

	for _, c := range []*cobra.Command{versionCreateCmd, versionEditCmd} {
		f := c.Flags()
		f.UintSlice("game-version", nil, "supported game version id (repeatable)")
		f.UintSlice("dep", nil, "dependency version id (repeatable)")
		f.String("platform", "", "platform or loader")
	}
	versionEditCmd.Flags().String("semver", "", "new semantic version")
	versionCreateCmd.Flags().String("archive", "", "archive to upload")
	versionRemoveCmd.Flags().Bool("allow-cascade", false, "also revoke verified dependants")
	versionResolveCmd.Flags().Uint("game-version", 0, "target game version id")
	versionResolveCmd.Flags().Bool("include-unverified", false, "accept dependencies still awaiting review")
	versionRetargetCmd.Flags().UintSlice("exclude", nil, "version id to leave out (repeatable)")
}

func versionPatchFromFlags(f *pflag.FlagSet) catalog.VersionPatch {
	var p catalog.VersionPatch
	if f.Lookup("semver") != nil && f.Changed("semver") {
		v, _ := f.GetString("semver")
		p.SemanticVersion = catalog.Some(v)
	}
	if f.Changed("game-version") {
		ids, _ := f.GetUintSlice("game-version")
		p.SupportedGameVersionIDs = catalog.Some(ids)
	}
	if f.Changed("dep") {
		ids, _ := f.GetUintSlice("dep")
		p.DependencyIDs = catalog.Some(ids)
	}
	if f.Changed("platform") {
		v, _ := f.GetString("platform")
		p.Platform = catalog.Some(v)
	}
	return p
}

func printVersions(vs []db.ModVersion) {
	for _, v := range vs {
		fmt.Printf("%-6d mod=%-6d %-12s %s games=%v deps=%v\n",
			v.ID, v.ModID, v.SemanticVersion, ui.Status(v.Status, 10),
			[]uint(v.SupportedGameVersionIDs), []uint(v.DependencyIDs))
	}
}
