package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vestio/vestio/authapi"
	"github.com/vestio/vestio/flow"
)

var errSignInExpired = errors.New("the sign-in attempt expired, run vestio login again")

var loginBackup bool

var codeSeparators = strings.NewReplacer("-", "", " ", "")

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in with email, password and one-time codes",
	Long: `Sign in interactively. After the password you are asked for the code
emailed to you; type "resend" to have it sent again. Accounts with a second
factor are then asked for an authenticator code, or a backup code with
--backup. Type "switch" at that prompt to change between the two.`,
	Args: cobra.NoArgs,
	RunE: withClient(runLogin),
}

func init() {
	rootCmd.AddCommand(loginCmd)
	loginCmd.Flags().BoolVar(&loginBackup, "backup", false, "answer the second-factor prompt with a backup code")
}

func runLogin(cmd *cobra.Command, _ []string, env *clientEnv) error {
	p := newPrompter(cmd)
	out := cmd.OutOrStdout()

	if err := submitCredentials(cmd, p, env); err != nil {
		return err
	}
	fmt.Fprintln(out, `We emailed you a 6-digit code. Type "resend" to get a new one.`)

	outcome, err := submitEmailCode(cmd, p, env)
	if err != nil {
		return err
	}
	if outcome.RequiresSecondFactor() {
		if err := submitSecondFactor(cmd, p, env); err != nil {
			return err
		}
	}

	profile, err := env.profiles().Profile(cmd.Context())
	if err != nil {
		fmt.Fprintln(out, "Signed in.")
		return nil
	}
	fmt.Fprintf(out, "Signed in as %s %s <%s>.\n", profile.FirstName, profile.LastName, profile.Email)
	return nil
}

func submitCredentials(cmd *cobra.Command, p *prompter, env *clientEnv) error {
	view := flow.NewLoginView(env.client, env.store, env.nav, env.flowOptions()...)
	defer view.Close()
	view.Mount()
	for {
		email, err := p.Required("Email: ")
		if err != nil {
			return err
		}
		password, err := p.Secret("Password: ")
		if err != nil {
			return err
		}
		view.SetEmail(email)
		view.SetPassword(password)
		if !view.CanSubmit() {
			fmt.Fprintln(cmd.ErrOrStderr(), "Email and password are required.")
			continue
		}

		err = view.Submit(cmd.Context())
		switch {
		case err == nil:
			return nil
		case env.nav.Last() == flow.RouteAccountSuspended:
			return errors.New("this account is suspended, contact support")
		case errors.Is(err, authapi.ErrInvalidCredentials), errors.Is(err, authapi.ErrValidation):
			fmt.Fprintln(cmd.ErrOrStderr(), view.Message())
		default:
			return err
		}
	}
}

func submitEmailCode(cmd *cobra.Command, p *prompter, env *clientEnv) (flow.Outcome, error) {
	view := flow.NewEmailOTPView(env.client, env.store, env.nav, env.flowOptions()...)
	defer view.Close()
	if !view.Mount() {
		return flow.Outcome{}, errSignInExpired
	}
	for {
		input, err := p.Line(fmt.Sprintf("Code (%ds left): ", view.Remaining()))
		if err != nil {
			return flow.Outcome{}, err
		}
		if strings.EqualFold(strings.TrimSpace(input), "resend") {
			if _, err := view.Resend(cmd.Context()); err != nil {
				switch {
				case env.nav.Last() == flow.RouteLogin:
					return flow.Outcome{}, errSignInExpired
				case errors.Is(err, flow.ErrCooldownActive):
					fmt.Fprintf(cmd.ErrOrStderr(), "Please wait %ds before requesting another code.\n", view.Throttle().Remaining())
				default:
					fmt.Fprintln(cmd.ErrOrStderr(), view.Message())
				}
				continue
			}
			fmt.Fprintln(cmd.OutOrStdout(), "A new code is on its way.")
			continue
		}

		view.Code().Reset()
		view.Code().Paste(input)
		if !view.CanSubmit() {
			fmt.Fprintf(cmd.ErrOrStderr(), "Enter the %d-digit code.\n", flow.OTPLength)
			continue
		}
		outcome, err := view.Submit(cmd.Context())
		switch {
		case err == nil:
			return outcome, nil
		case env.nav.Last() == flow.RouteLogin:
			return flow.Outcome{}, errSignInExpired
		case errors.Is(err, authapi.ErrInvalidCode), errors.Is(err, authapi.ErrNetwork), errors.Is(err, authapi.ErrServer):
			fmt.Fprintln(cmd.ErrOrStderr(), view.Message())
		default:
			return flow.Outcome{}, err
		}
	}
}

func submitSecondFactor(cmd *cobra.Command, p *prompter, env *clientEnv) error {
	view := flow.NewSecondFactorView(env.client, env.store, env.nav, env.flowOptions()...)
	defer view.Close()
	if !view.Mount() {
		return errSignInExpired
	}
	if loginBackup {
		view.SetMode(flow.ModeBackupCode)
	}
	for {
		label := "Authenticator code: "
		if view.Mode() == flow.ModeBackupCode {
			label = "Backup code: "
		}
		input, err := p.Line(label)
		if err != nil {
			return err
		}
		if strings.EqualFold(strings.TrimSpace(input), "switch") {
			view.ToggleMode()
			continue
		}

		view.SetCode(codeSeparators.Replace(strings.TrimSpace(input)))
		if !view.CanSubmit() {
			fmt.Fprintf(cmd.ErrOrStderr(), "Enter the %d-character code.\n", view.Mode().CodeLength())
			continue
		}
		_, err = view.Submit(cmd.Context())
		switch {
		case err == nil:
			return nil
		case env.nav.Last() == flow.RouteLogin:
			return errSignInExpired
		case errors.Is(err, authapi.ErrInvalidCode), errors.Is(err, authapi.ErrInvalidBackupCode),
			errors.Is(err, authapi.ErrNetwork), errors.Is(err, authapi.ErrServer):
			fmt.Fprintln(cmd.ErrOrStderr(), view.Message())
		default:
			return err
		}
	}
}
