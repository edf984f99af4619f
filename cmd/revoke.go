package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"modcatalog/db"
	"modcatalog/logger"
	"modcatalog/ui"
)

// revokeCmd represents the version revoke command
var revokeCmd = &cobra.Command{
	Use:   "revoke [version-id]",
	Short: "Send a verified version back to review, with everything depending on it",
	Long: `Send a verified version back to review.
Example: modcatalog version revoke 42 --allow-cascade

Every verified version depending on it, directly or not, is revoked too.
Without --allow-cascade the command refuses when any verified version
depends on it directly.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		allow, _ := cmd.Flags().GetBool("allow-cascade")
		revokeVersion(mustID(args[0]), allow)
	},
}

func init() {
	versionCmd.AddCommand(revokeCmd)
	revokeCmd.Flags().Bool("allow-cascade", false, "revoke verified dependants as well")
}

// revokeVersion handles the revocation of a single version
func revokeVersion(id uint, allowCascade bool) {
	a := bootstrap(configDir)
	defer a.close()
	ctx := context.Background()

	log := logger.Log.With(zap.Uint("version_id", id))
	log.Infow("Attempting revocation", zap.Bool("allow_cascade", allowCascade))

	revoked, err := a.cascade.RevokeGated(ctx, a.actor(ctx), id, allowCascade)
	if err != nil {
		fatal(fmt.Sprintf("Failed to revoke version %d (%s)", id, describeError(err)), err)
	}

	if len(revoked) == 0 {
		fmt.Printf("version %d was not verified; nothing revoked\n", id)
		return
	}
	fmt.Printf("%s %d versions: %s\n", ui.Colorize("revoked", ui.StatusColor(db.StatusUnverified)), len(revoked), joinIDs(revoked))
}
