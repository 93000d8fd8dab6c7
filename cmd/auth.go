package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/otherjamesbrown/dealbook/credentials"
)

// NewAuthCommand creates the auth command group.
func NewAuthCommand(deps *Deps) *cobra.Command {
	if deps == nil {
		deps = DefaultDeps()
	}

	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage stored credentials",
		Long: `Manage the database password kept in the system keyring
(macOS Keychain, Windows Credential Manager, Linux Secret Service).

Set database.password_from_keyring: true in the config file to use it.
DEALBOOK_DB_PASSWORD, when set, takes precedence over the keyring.`,
	}
	cmd.AddCommand(newAuthDBPasswordCommand(deps))
	return cmd
}

func newAuthDBPasswordCommand(deps *Deps) *cobra.Command {
	var (
		remove bool
		enable bool
	)

	cmd := &cobra.Command{
		Use:   "db-password",
		Short: "Store the database password in the system keyring",
		Long: `Store the password of the configured database user in the system keyring.

The password is read without echo when stdin is a terminal, otherwise one
line is read from stdin.`,
		Example: `  dealbook auth db-password
  echo "$PGPASSWORD" | dealbook auth db-password
  dealbook auth db-password --enable
  dealbook auth db-password --delete`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := deps.LoadConfig()
			if err != nil {
				return fmt.Errorf("loading configuration: %w", err)
			}
			dbCfg := cfg.Database.DB()
			out := cmd.OutOrStdout()

			if remove {
				if err := credentials.DeleteDBPassword(dbCfg.User, dbCfg.Host); err != nil {
					return err
				}
				fmt.Fprintf(out, "Removed password for %s@%s from %s.\n", dbCfg.User, dbCfg.Host, credentials.Description())
				return nil
			}

			fmt.Fprintf(out, "Password for %s@%s: ", dbCfg.User, dbCfg.Host)
			password, err := readPassword(deps.Stdin)
			fmt.Fprintln(out)
			if err != nil {
				return err
			}

			if err := credentials.SetDBPassword(dbCfg.User, dbCfg.Host, password); err != nil {
				return err
			}
			fmt.Fprintf(out, "Stored in %s.\n", credentials.Description())
			switch {
			case cfg.Database.PasswordFromKeyring:
			case enable && deps.SaveConfig != nil:
				cfg.Database.PasswordFromKeyring = true
				if err := deps.SaveConfig(cfg); err != nil {
					return fmt.Errorf("saving configuration: %w", err)
				}
				fmt.Fprintln(out, "Enabled database.password_from_keyring in the config file.")
			default:
				fmt.Fprintln(out, "Set database.password_from_keyring: true in the config file to use it.")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&remove, "delete", false, "Remove the stored password")
	cmd.Flags().BoolVar(&enable, "enable", false, "Also set database.password_from_keyring in the config file")
	return cmd
}

// readPassword reads a password without echo from a terminal, or one line
// from any other reader.
func readPassword(r io.Reader) (string, error) {
	if f, ok := r.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		if err != nil {
			return "", fmt.Errorf("reading password: %w", err)
		}
		return string(b), nil
	}

	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading password: %w", err)
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return "", errors.New("no password provided")
	}
	return password, nil
}
