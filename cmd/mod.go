package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"modcatalog/catalog"
	"modcatalog/db"
	"modcatalog/proposals"
	"modcatalog/ui"
)

var modCmd = &cobra.Command{
	Use:   "mod",
	Short: "Create, review and edit mods",
}

var modCreateCmd = &cobra.Command{
	Use:   "create [name]",
	Short: "Create a private mod authored by the acting user",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		f := cmd.Flags()
		game, _ := f.GetString("game")
		patch := modPatchFromFlags(f)

		m := &db.Mod{Name: args[0], GameName: game}
		patch.ApplyTo(m)

		a := bootstrap(configDir)
		defer a.close()
		ctx := context.Background()
		if err := a.machine.CreateMod(ctx, a.actor(ctx), m); err != nil {
			fatal("Failed to create mod", err)
		}
		printMod(m)
	},
}

var modSubmitCmd = &cobra.Command{
	Use:   "submit [mod-id]",
	Short: "Send a private mod to review",
	Args:  cobra.ExactArgs(1),
	Run: func(_ *cobra.Command, args []string) {
		submit(catalog.ModTarget(mustID(args[0])))
	},
}

var modStatusCmd = &cobra.Command{
	Use:   "status [mod-id] [verified|removed]",
	Short: "Approve or reject a mod awaiting review",
	Args:  cobra.ExactArgs(2),
	Run: func(_ *cobra.Command, args []string) {
		setStatus(catalog.ModTarget(mustID(args[0])), db.Status(args[1]))
	},
}

var modRemoveCmd = &cobra.Command{
	Use:   "remove [mod-id]",
	Short: "Remove a mod from the catalog",
	Args:  cobra.ExactArgs(1),
	Run: func(_ *cobra.Command, args []string) {
		remove(catalog.ModTarget(mustID(args[0])), false)
	},
}

var modEditCmd = &cobra.Command{
	Use:   "edit [mod-id]",
	Short: "Edit a mod, or propose the edit when the mod is verified",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		edit(catalog.ModTarget(mustID(args[0])), modPatchFromFlags(cmd.Flags()))
	},
}

func init() {
	rootCmd.AddCommand(modCmd)
	modCmd.AddCommand(modCreateCmd, modSubmitCmd, modStatusCmd, modRemoveCmd, modEditCmd)

	for _, c := range []*cobra.Command{modCreateCmd, modEditCmd} {
		f := c.Flags()
		f.String("summary", "", "short summary")
		f.String("description", "", "long description")
		f.String("category", "", "category")
		f.String("git-url", "", "source repository")
		f.String("icon", "", "icon reference")
		f.UintSlice("author", nil, "author user id (repeatable)")
	}
	modEditCmd.Flags().String("name", "", "new name")
	modCreateCmd.Flags().String("game", "", "game the mod targets")
	_ = modCreateCmd.MarkFlagRequired("game")
}

// modPatchFromFlags turns the flags that were actually passed into a patch.
func modPatchFromFlags(f *pflag.FlagSet) catalog.ModPatch {
	var p catalog.ModPatch
	str := func(name string, dst *catalog.Optional[string]) {
		if f.Lookup(name) != nil && f.Changed(name) {
			v, _ := f.GetString(name)
			*dst = catalog.Some(v)
		}
	}
	str("name", &p.Name)
	str("summary", &p.Summary)
	str("description", &p.Description)
	str("category", &p.Category)
	str("git-url", &p.GitURL)
	str("icon", &p.IconRef)
	if f.Changed("author") {
		ids, _ := f.GetUintSlice("author")
		p.AuthorIDs = catalog.Some(ids)
	}
	return p
}

func submit(target catalog.Target) {
	a := bootstrap(configDir)
	defer a.close()
	ctx := context.Background()
	if err := a.machine.Submit(ctx, a.actor(ctx), target); err != nil {
		fatal("Failed to submit "+target.String(), err)
	}
	fmt.Printf("%s is now %s\n", target, ui.Status(db.StatusUnverified, 0))
}

func setStatus(target catalog.Target, status db.Status) {
	a := bootstrap(configDir)
	defer a.close()
	ctx := context.Background()
	if err := a.machine.SetStatus(ctx, a.actor(ctx), target, status); err != nil {
		fatal(fmt.Sprintf("Failed to set %s %s (%s)", target, status, describeError(err)), err)
	}
	fmt.Printf("%s is now %s\n", target, ui.Status(status, 0))
}

func remove(target catalog.Target, allowCascade bool) {
	a := bootstrap(configDir)
	defer a.close()
	ctx := context.Background()
	revoked, err := a.machine.Remove(ctx, a.actor(ctx), target, allowCascade)
	if err != nil {
		fatal(fmt.Sprintf("Failed to remove %s (%s)", target, describeError(err)), err)
	}
	fmt.Printf("%s is now %s\n", target, ui.Status(db.StatusRemoved, 0))
	if len(revoked) > 0 {
		fmt.Printf("revoked: %s\n", joinIDs(revoked))
	}
}

func edit(target catalog.Target, patch catalog.Patch) {
	a := bootstrap(configDir)
	defer a.close()
	ctx := context.Background()
	change, err := a.queue.Edit(ctx, a.actor(ctx), target, patch)
	if err != nil {
		fatal(fmt.Sprintf("Failed to edit %s (%s)", target, describeError(err)), err)
	}
	fmt.Println(describeChange(change))
}

func describeChange(c proposals.Change) string {
	return proposals.Match(c,
		func(a proposals.Applied) string {
			return fmt.Sprintf("%s updated", a.Target)
		},
		func(p proposals.Proposed) string {
			return fmt.Sprintf("%s %d is verified; edit proposal %d awaits review",
				tableNoun(p.Proposal.TargetTable), p.Proposal.TargetID, p.Proposal.ID)
		})
}

func tableNoun(table string) string {
	if table == db.TableMods {
		return "mod"
	}
	return "mod version"
}

func printMod(m *db.Mod) {
	fmt.Printf("%-6d %-30s %-12s %s authors=%v\n", m.ID, m.Name, m.GameName, ui.Status(m.Status, 10), []uint(m.AuthorIDs))
}
