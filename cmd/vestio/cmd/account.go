package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vestio/vestio/authapi"
	"github.com/vestio/vestio/flow"
)

var passwordCmd = &cobra.Command{
	Use:   "password",
	Short: "Recover or change your password",
}

var passwordForgotCmd = &cobra.Command{
	Use:   "forgot [email]",
	Short: "Email a password reset link",
	Args:  cobra.MaximumNArgs(1),
	RunE: withClient(func(cmd *cobra.Command, args []string, env *clientEnv) error {
		email, err := argOrPrompt(cmd, args, 0, "Email: ")
		if err != nil {
			return err
		}
		ack, err := env.account().ForgotPassword(cmd.Context(), email)
		if err != nil {
			return err
		}
		printAck(cmd, ack, "If that address has an account, a reset link is on its way.")
		return nil
	}),
}

var passwordResetCmd = &cobra.Command{
	Use:   "reset <token>",
	Short: "Set a new password with the token from a reset email",
	Args:  cobra.ExactArgs(1),
	RunE: withClient(func(cmd *cobra.Command, args []string, env *clientEnv) error {
		next, err := newPassword(newPrompter(cmd))
		if err != nil {
			return err
		}
		ack, err := env.account().ResetPassword(cmd.Context(), args[0], next)
		if errors.Is(err, flow.ErrMissingToken) {
			return errors.New("the reset token is missing, run vestio password forgot")
		}
		if err != nil {
			return err
		}
		printAck(cmd, ack, "Password reset. Sign in with the new password.")
		return nil
	}),
}

var passwordChangeCmd = &cobra.Command{
	Use:   "change",
	Short: "Change the signed-in account's password",
	Args:  cobra.NoArgs,
	RunE: withClient(func(cmd *cobra.Command, _ []string, env *clientEnv) error {
		p := newPrompter(cmd)
		current, err := p.Secret("Current password: ")
		if err != nil {
			return err
		}
		next, err := newPassword(p)
		if err != nil {
			return err
		}
		ack, err := env.account().ChangePassword(cmd.Context(), string(current), next)
		if err != nil {
			return notSignedIn(err)
		}
		printAck(cmd, ack, "Password changed.")
		return nil
	}),
}

var twofaCmd = &cobra.Command{
	Use:   "twofa",
	Short: "Manage the authenticator second factor",
}

var twofaEnableCmd = &cobra.Command{
	Use:   "enable",
	Short: "Start authenticator enrolment",
	Long: `Start authenticator enrolment. The secret and backup codes are shown once;
add the secret to your authenticator app, then run vestio twofa confirm.`,
	Args: cobra.NoArgs,
	RunE: withClient(func(cmd *cobra.Command, _ []string, env *clientEnv) error {
		setup, err := env.account().EnableTwoFactor(cmd.Context())
		if err != nil {
			return notSignedIn(err)
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Secret: %s\n\n", setup.Secret)
		fmt.Fprintln(out, "Backup codes (each works once, keep them somewhere safe):")
		for _, code := range setup.BackupCodes {
			fmt.Fprintf(out, "  %s\n", code)
		}
		fmt.Fprintln(out, "\nConfirm with: vestio twofa confirm <code>")
		return nil
	}),
}

var twofaConfirmCmd = &cobra.Command{
	Use:   "confirm <code>",
	Short: "Finish enrolment with a code from the authenticator",
	Args:  cobra.ExactArgs(1),
	RunE: withClient(func(cmd *cobra.Command, args []string, env *clientEnv) error {
		a := env.account()
		defer a.Close()
		ack, err := a.ConfirmTwoFactor(cmd.Context(), strings.TrimSpace(args[0]))
		if errors.Is(err, flow.ErrInvalidCodeFormat) {
			return fmt.Errorf("enter the %d-digit code from your authenticator", flow.OTPLength)
		}
		if err != nil {
			return notSignedIn(err)
		}
		printAck(cmd, ack, "Second factor enabled.")
		return nil
	}),
}

var twofaDisableCmd = &cobra.Command{
	Use:   "disable",
	Short: "Turn the second factor off",
	Args:  cobra.NoArgs,
	RunE: withClient(func(cmd *cobra.Command, _ []string, env *clientEnv) error {
		password, err := newPrompter(cmd).Secret("Password: ")
		if err != nil {
			return err
		}
		a := env.account()
		defer a.Close()
		ack, err := a.DisableTwoFactor(cmd.Context(), string(password))
		if err != nil {
			return notSignedIn(err)
		}
		printAck(cmd, ack, "Second factor disabled.")
		return nil
	}),
}

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Create a lender or seller account",
	Args:  cobra.NoArgs,
	RunE: withClient(func(cmd *cobra.Command, _ []string, env *clientEnv) error {
		r, err := promptRegistration(cmd)
		if err != nil {
			return err
		}
		a := env.account()
		defer a.Close()
		res, err := a.Register(cmd.Context(), r)
		if err != nil {
			return fieldErrors(cmd, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Welcome, %s. Check %s for a verification link.\n", res.User.FirstName, res.User.Email)
		return nil
	}),
}

var resendVerification bool

var verifyEmailCmd = &cobra.Command{
	Use:   "verify-email [token]",
	Short: "Confirm your email address with the emailed token",
	Args:  cobra.MaximumNArgs(1),
	RunE: withClient(func(cmd *cobra.Command, args []string, env *clientEnv) error {
		a := env.account()
		defer a.Close()
		if resendVerification {
			ack, err := a.ResendVerification(cmd.Context())
			if err != nil {
				return notSignedIn(err)
			}
			printAck(cmd, ack, "A new verification link is on its way.")
			return nil
		}
		if len(args) == 0 {
			return errors.New("a token is required, or use --resend")
		}
		ack, err := a.VerifyEmail(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		printAck(cmd, ack, "Email verified.")
		return nil
	}),
}

func init() {
	passwordCmd.AddCommand(passwordForgotCmd, passwordResetCmd, passwordChangeCmd)
	twofaCmd.AddCommand(twofaEnableCmd, twofaConfirmCmd, twofaDisableCmd)
	rootCmd.AddCommand(passwordCmd, twofaCmd, registerCmd, verifyEmailCmd)
	verifyEmailCmd.Flags().BoolVar(&resendVerification, "resend", false, "send the verification link again")
}

func promptRegistration(cmd *cobra.Command) (flow.Registration, error) {
	p := newPrompter(cmd)
	var r flow.Registration
	var err error
	for _, q := range []struct {
		label string
		dst   *string
	}{
		{"Email: ", &r.Email},
		{"First name: ", &r.FirstName},
		{"Last name: ", &r.LastName},
		{"Phone: ", &r.Phone},
	} {
		if *q.dst, err = p.Required(q.label); err != nil {
			return r, err
		}
	}

	role, err := p.Required("Role (lender or seller): ")
	if err != nil {
		return r, err
	}
	r.Role = authapi.Role(strings.ToLower(role))
	if r.Role == authapi.RoleSeller {
		r.BusinessType = flow.BusinessCompany
	} else {
		kind, err := p.Required("Business type (individual or company): ")
		if err != nil {
			return r, err
		}
		r.BusinessType = strings.ToLower(kind)
	}
	if r.NeedsBusinessName() {
		if r.BusinessName, err = p.Required("Business name: "); err != nil {
			return r, err
		}
	}

	password, err := p.Secret("Password: ")
	if err != nil {
		return r, err
	}
	confirm, err := p.Secret("Confirm password: ")
	if err != nil {
		return r, err
	}
	r.Password, r.ConfirmPassword = string(password), string(confirm)
	return r, nil
}

// newPassword asks for a password twice.
func newPassword(p *prompter) (string, error) {
	next, err := p.Secret("New password: ")
	if err != nil {
		return "", err
	}
	again, err := p.Secret("Repeat new password: ")
	if err != nil {
		return "", err
	}
	if string(next) != string(again) {
		return "", errors.New("passwords do not match")
	}
	return string(next), nil
}

func argOrPrompt(cmd *cobra.Command, args []string, i int, label string) (string, error) {
	if len(args) > i {
		return args[i], nil
	}
	return newPrompter(cmd).Required(label)
}

func printAck(cmd *cobra.Command, ack *authapi.Ack, fallback string) {
	msg := fallback
	if ack != nil && ack.Message != "" {
		msg = ack.Message
	}
	fmt.Fprintln(cmd.OutOrStdout(), msg)
}

func notSignedIn(err error) error {
	if errors.Is(err, flow.ErrNotAuthenticated) || errors.Is(err, authapi.ErrUnauthorized) {
		return errors.New("not signed in, run vestio login")
	}
	return err
}

// fieldErrors prints each field problem on its own line and returns a
// summary error.
func fieldErrors(cmd *cobra.Command, err error) error {
	var apiErr *authapi.Error
	if !errors.As(err, &apiErr) || len(apiErr.Fields) == 0 {
		return err
	}
	for _, f := range apiErr.Fields {
		fmt.Fprintf(cmd.ErrOrStderr(), "  %s: %s\n", f.Field, f.Message)
	}
	return errors.New("registration was not accepted")
}
