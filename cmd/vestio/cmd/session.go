package cmd

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vestio/vestio/flow"
	"github.com/vestio/vestio/session"
)

var whoamiRefresh bool

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out and forget the stored session",
	Args:  cobra.NoArgs,
	RunE: withClient(func(cmd *cobra.Command, _ []string, env *clientEnv) error {
		res, err := env.profiles().Logout(cmd.Context())
		if err != nil {
			return err
		}
		if res.RemoteErr != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "The server could not be told (%v); the local session was removed anyway.\n", res.RemoteErr)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Signed out.")
		return nil
	}),
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the signed-in account",
	Args:  cobra.NoArgs,
	RunE: withClient(func(cmd *cobra.Command, _ []string, env *clientEnv) error {
		profiles := env.profiles()
		fetch := profiles.Profile
		if whoamiRefresh {
			fetch = profiles.Refresh
		}
		p, err := fetch(cmd.Context())
		if errors.Is(err, flow.ErrNotAuthenticated) || (err != nil && env.nav.Last() == flow.RouteLogin) {
			return errors.New("not signed in, run vestio login")
		}
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "Name\t%s %s\n", p.FirstName, p.LastName)
		fmt.Fprintf(w, "Email\t%s\n", p.Email)
		fmt.Fprintf(w, "Role\t%s\n", p.Role)
		if p.BusinessName != "" {
			fmt.Fprintf(w, "Business\t%s (%s)\n", p.BusinessName, p.BusinessType)
		}
		fmt.Fprintf(w, "Status\t%s\n", p.Status)
		fmt.Fprintf(w, "Email verified\t%s\n", yesNo(p.IsEmailVerified))
		fmt.Fprintf(w, "KYC approved\t%s\n", yesNo(p.IsKYCApproved))
		fmt.Fprintf(w, "Second factor\t%s\n", yesNo(p.IsTwoFactorEnabled))
		if p.LastLogin != "" {
			fmt.Fprintf(w, "Last login\t%s\n", p.LastLogin)
		}
		return w.Flush()
	}),
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the stored session state and which stages it opens",
	Args:  cobra.NoArgs,
	RunE: withClient(func(cmd *cobra.Command, _ []string, env *clientEnv) error {
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "State\t%s\n", env.store.State())
		for _, stage := range []struct {
			route flow.Route
			slot  session.Slot
		}{
			{flow.RouteEmailOTP, session.SlotLoginTicket},
			{flow.RouteSecondFactor, session.SlotSecondFactorTicket},
			{flow.RouteDashboard, session.SlotSessionTokens},
		} {
			fmt.Fprintf(w, "%s\t%s\n", stage.route, guardVerdict(env, stage.slot))
		}
		return w.Flush()
	}),
}

func init() {
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(whoamiCmd)
	rootCmd.AddCommand(statusCmd)
	whoamiCmd.Flags().BoolVar(&whoamiRefresh, "refresh", false, "bypass the cached profile")
}

// guardVerdict runs a guard for slot without navigating anywhere real and
// reports what a view requiring it would do on entry.
func guardVerdict(env *clientEnv, slot session.Slot) string {
	var dest flow.Route
	g := flow.NewGuard(env.store, flow.NavigatorFunc(func(to flow.Route) { dest = to }), slot)
	defer g.Close()
	if g.Activate() {
		return "open"
	}
	return "redirects to " + string(dest)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
