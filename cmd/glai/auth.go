package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"glaiprocessor/pkg/auth"
	glaierrors "glaiprocessor/pkg/errors"
	"glaiprocessor/pkg/ui"
)

// authCmd represents the auth command
var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage scene catalog API keys",
	Long: `Manage API keys of scene catalogs that require one.

Keys are stored using:
  - System keychain (when available)
  - Encrypted file with PBKDF2 key derivation
  - The GLAI_CATALOG_API_KEY environment variable (read only)

Public catalogs need no key.`,
}

// authLoginCmd represents the auth login command
var authLoginCmd = &cobra.Command{
	Use:   "login [catalog-url]",
	Short: "Store the API key of a catalog",
	Long: `Store the API key of a catalog securely. The catalog defaults to
catalog.url of the configuration. The key is read without echo.`,
	Example: `  glai auth login
  glai auth login https://planetarycomputer.microsoft.com/api/stac/v1`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAuthLogin,
}

// authLogoutCmd represents the auth logout command
var authLogoutCmd = &cobra.Command{
	Use:   "logout [catalog-url]",
	Short: "Remove the stored API key of a catalog",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAuthLogout,
}

// authStatusCmd represents the auth status command
var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "List stored catalog API keys",
	Args:  cobra.NoArgs,
	RunE:  runAuthStatus,
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(authLoginCmd)
	authCmd.AddCommand(authLogoutCmd)
	authCmd.AddCommand(authStatusCmd)
}

// catalogArg returns the catalog URL argument or the configured one
func catalogArg(args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	cfg, err := loadConfig(nil)
	if err != nil {
		return "", err
	}
	if cfg.Catalog.URL == "" {
		return "", glaierrors.New(glaierrors.KindConfiguration, "cli.auth", "no catalog given or configured")
	}
	return cfg.Catalog.URL, nil
}

func runAuthLogin(cmd *cobra.Command, args []string) error {
	catalogURL, err := catalogArg(args)
	if err != nil {
		return err
	}
	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}

	name := auth.CatalogName(catalogURL)
	reader := bufio.NewReader(os.Stdin)

	if existing, _ := manager.Retrieve(name); existing != nil {
		fmt.Printf("A key for %s is already stored. Replace it? (y/N): ", name)
		input, _ := reader.ReadString('\n')
		if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(input)), "y") {
			return nil
		}
	}

	auth.ShowAPIKeyGuide(os.Stdout, catalogURL)
	fmt.Printf("API key for %s: ", name)
	key, err := readSecret(reader)
	if err != nil {
		return fmt.Errorf("failed to read API key: %w", err)
	}
	if key == "" {
		return glaierrors.New(glaierrors.KindConfiguration, "cli.auth", "API key is required")
	}

	cred := &auth.Credential{Catalog: name, APIKey: key}
	if err := manager.Store(cred); err != nil {
		return err
	}
	ui.PrintSuccess("Stored API key for " + name + " (" + auth.Sanitize(cred).APIKey + ")")
	return nil
}

func runAuthLogout(cmd *cobra.Command, args []string) error {
	catalogURL, err := catalogArg(args)
	if err != nil {
		return err
	}
	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}

	name := auth.CatalogName(catalogURL)
	if err := manager.Delete(name); err != nil {
		if errors.Is(err, auth.ErrCredentialsNotFound) {
			ui.PrintWarning("No API key stored for " + name)
			return nil
		}
		return err
	}
	ui.PrintSuccess("Removed API key for " + name)
	return nil
}

func runAuthStatus(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}
	creds, err := manager.List()
	if err != nil {
		return err
	}
	if len(creds) == 0 {
		ui.PrintInfo("Stored keys", "none")
		return nil
	}

	rows := make([][]string, 0, len(creds))
	for _, c := range creds {
		s := auth.Sanitize(c)
		rows = append(rows, []string{s.Catalog, s.APIKey, s.LastModified.Format("2006-01-02 15:04")})
	}
	fmt.Println(renderTable([]string{"Catalog", "Key", "Modified"}, rows, nil))
	return nil
}

// readSecret reads a line without echo when stdin is a terminal
func readSecret(reader *bufio.Reader) (string, error) {
	if term.IsTerminal(int(syscall.Stdin)) {
		secret, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err == nil {
			return strings.TrimSpace(string(secret)), nil
		}
	}

	input, err := reader.ReadString('\n')
	if err != nil && input == "" {
		return "", err
	}
	return strings.TrimSpace(input), nil
}
