package commands

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tetherhq/tether/internal/config"
	"github.com/tetherhq/tether/internal/srp"
	"github.com/tetherhq/tether/internal/storage"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage local SRP accounts used to authenticate remote connections",
	Long: `Manage the accounts a browser or relayed client authenticates against
(§4.10): each account is a username plus a password-derived SRP verifier,
never the password itself.

Subcommands:
  enroll     Register (or re-register) a username with a new password
  revoke     Invalidate every resumable session for a username`,
}

var enrollUsername string

var authEnrollCmd = &cobra.Command{
	Use:   "enroll",
	Short: "Register a username with a new password",
	RunE:  runAuthEnroll,
}

var authRevokeCmd = &cobra.Command{
	Use:   "revoke [username]",
	Short: "Invalidate every resumable session for a username",
	Args:  cobra.ExactArgs(1),
	RunE:  runAuthRevoke,
}

func init() {
	authEnrollCmd.Flags().StringVar(&enrollUsername, "username", "", "Username to enroll")
	authCmd.AddCommand(authEnrollCmd)
	authCmd.AddCommand(authRevokeCmd)
}

func runAuthEnroll(cmd *cobra.Command, args []string) error {
	if enrollUsername == "" {
		return fmt.Errorf("--username is required")
	}

	password, err := readPassword("Password: ")
	if err != nil {
		return err
	}
	confirm, err := readPassword("Confirm password: ")
	if err != nil {
		return err
	}
	if password != confirm {
		return fmt.Errorf("passwords do not match")
	}

	paths := config.GetPaths()
	if err := paths.EnsurePaths(); err != nil {
		return err
	}
	store := storage.New(paths.StoragePath())
	accounts := srp.NewFileAccountStore(store)

	if err := accounts.Enroll(cmd.Context(), enrollUsername, password); err != nil {
		return err
	}
	if err := srp.NewSessionStore(store).InvalidateUserSessions(cmd.Context(), enrollUsername); err != nil {
		return err
	}
	fmt.Printf("enrolled %q\n", enrollUsername)
	return nil
}

func runAuthRevoke(cmd *cobra.Command, args []string) error {
	username := args[0]
	paths := config.GetPaths()
	store := storage.New(paths.StoragePath())
	sessions := srp.NewSessionStore(store)
	if err := sessions.InvalidateUserSessions(cmd.Context(), username); err != nil {
		return err
	}
	fmt.Printf("revoked all sessions for %q\n", username)
	return nil
}

// readPassword reads one line from stdin. It does not suppress terminal
// echo — operators are expected to run enroll over a private channel or
// pipe the password in non-interactively.
func readPassword(prompt string) (string, error) {
	fmt.Print(prompt)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
