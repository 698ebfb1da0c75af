package cmd

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/adalundhe/docsync/core/credentials"
	derrors "github.com/adalundhe/docsync/core/errors"
)

var (
	loginToken  string
	auditAction string
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage GitHub authentication",
	Long:  `Log in to GitHub, log out, and inspect the credentials docsync uses.`,
}

var authLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in to GitHub",
	Long: `Log in with a personal access token, or through the browser when an
authorization exchange is configured.`,
	Args: cobra.NoArgs,
	RunE: runAuthLogin,
}

var authLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored token",
	Long:  `Clear the stored token and ask the authorization exchange to revoke it. A token set in DOCSYNC_TOKEN or GITHUB_TOKEN stays in effect.`,
	Args:  cobra.NoArgs,
	RunE:  runAuthLogout,
}

var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the active credentials",
	Long:  `Show which account docsync acts as and where its token came from.`,
	Args:  cobra.NoArgs,
	RunE:  runAuthStatus,
}

var authAuditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Show the credential audit trail",
	Long:  `List when tokens were acquired, refreshed, rejected and revoked. Tokens are shown by fingerprint only.`,
	Args:  cobra.NoArgs,
	RunE:  runAuthAudit,
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(authLoginCmd)
	authCmd.AddCommand(authLogoutCmd)
	authCmd.AddCommand(authStatusCmd)
	authCmd.AddCommand(authAuditCmd)

	authLoginCmd.Flags().StringVar(&loginToken, "token", "", "Personal access token")
	authAuditCmd.Flags().StringVar(&auditAction, "action", "", "Only show entries with this action (acquired, refreshed, rejected, revoked)")
}

var errNoCredentials = errors.New("credentials are not configured")

func credentialManager() (*credentials.Manager, error) {
	if current.creds == nil {
		return nil, errNoCredentials
	}
	return current.creds, nil
}

func runAuthLogin(cmd *cobra.Command, args []string) error {
	creds, err := credentialManager()
	if err != nil {
		return err
	}
	ctx, cancel := signalContext(cmd)
	defer cancel()

	if loginToken != "" {
		_, err = creds.Login(ctx, loginToken)
	} else {
		_, err = creds.Authenticate(ctx, true)
	}
	if err != nil {
		return err
	}
	if err := current.authenticate(ctx); err != nil {
		return err
	}

	user, err := current.api.GetAuthenticatedUser(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(output(cmd), "Logged in as %s\n", user.Login)
	return nil
}

func runAuthLogout(cmd *cobra.Command, args []string) error {
	creds, err := credentialManager()
	if err != nil {
		return err
	}
	if err := creds.Logout(cmd.Context()); err != nil {
		return err
	}
	fmt.Fprintln(output(cmd), "Logged out.")
	return nil
}

func runAuthStatus(cmd *cobra.Command, args []string) error {
	creds, err := credentialManager()
	if err != nil {
		return err
	}
	ctx, cancel := signalContext(cmd)
	defer cancel()

	if err := current.authenticate(ctx); err != nil {
		if derrors.KindOf(err) == derrors.KindUnauthorized {
			fmt.Fprintln(output(cmd), "Not logged in.")
			return nil
		}
		return err
	}
	c, source, _ := creds.Current()

	user, err := current.api.GetAuthenticatedUser(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(output(cmd), 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Account:\t%s\n", user.Login)
	fmt.Fprintf(w, "Profile:\t%s\n", creds.Profile())
	fmt.Fprintf(w, "Method:\t%s\n", c.AuthMethod)
	fmt.Fprintf(w, "Source:\t%s\n", source)
	fmt.Fprintf(w, "API:\t%s\n", c.APIBase)
	fmt.Fprintf(w, "Token:\t%s\n", c.Fingerprint())
	return w.Flush()
}

func runAuthAudit(cmd *cobra.Command, args []string) error {
	creds, err := credentialManager()
	if err != nil {
		return err
	}
	log := creds.AuditLog()
	if log == nil {
		return nil
	}
	if err := log.Verify(); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Warning: audit trail does not verify: %v\n", err)
	}

	entries := log.Query(credentials.AuditQueryFilter{
		Action:  credentials.CredentialAuditAction(auditAction),
		Profile: creds.Profile(),
	})
	if len(entries) == 0 {
		fmt.Fprintln(output(cmd), "No audit entries.")
		return nil
	}

	w := tabwriter.NewWriter(output(cmd), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tACTION\tMETHOD\tSOURCE\tTOKEN\tREASON")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			e.Timestamp.Local().Format(time.DateTime), e.Action, e.Method, e.Source, e.Fingerprint, e.Reason)
	}
	return w.Flush()
}
