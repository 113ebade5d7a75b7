package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"share-go/internal/app"
	"share-go/internal/config"
	"share-go/internal/share"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

// loadDotEnv loads a .env file from the working directory, if there is one.
// Variables already set in the environment win.
func loadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading .env: %w", err)
	}
	return nil
}

// readConfig reads the config file from the default location.
func readConfig() (*config.Config, string, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, "", fmt.Errorf("getting defaults: %w", err)
	}
	cfg, err := config.ReadFromFile(defaults.ConfigPath)
	if err != nil {
		return nil, "", fmt.Errorf("reading config: %w", err)
	}
	return cfg, defaults.ConfigPath, nil
}

// newApp reads the config and creates a ShareApp for cmd. The caller must defer app.Close().
func newApp(cmd *cobra.Command) (*app.ShareApp, error) {
	cfg, _, err := readConfig()
	if err != nil {
		return nil, err
	}

	a, err := app.NewShareApp(cmd.Context(), cfg, cmd.Name())
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

// readPassphrase returns SHARE_PASSPHRASE if set, otherwise prompts on the terminal.
func readPassphrase(prompt string, confirm bool) (string, error) {
	if p := os.Getenv("SHARE_PASSPHRASE"); p != "" {
		return p, nil
	}

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("no terminal to read the passphrase from (set SHARE_PASSPHRASE)")
	}

	fmt.Fprint(os.Stderr, prompt)
	pass, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}

	if confirm {
		fmt.Fprint(os.Stderr, "Confirm passphrase: ")
		again, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("reading passphrase: %w", err)
		}
		if string(again) != string(pass) {
			return "", fmt.Errorf("passphrases do not match")
		}
	}
	return string(pass), nil
}

// unlock prompts for the key passphrase when payloads are encrypted.
func unlock(a *app.ShareApp) error {
	if !a.Encrypted() {
		return nil
	}
	pass, err := readPassphrase("Key passphrase: ", false)
	if err != nil {
		return err
	}
	return a.Unlock(pass)
}

func formatExpiry(rec *share.Record) string {
	if rec.ExpiresAt == nil {
		return "never"
	}
	return fmt.Sprintf("%s (%s)", rec.ExpiresAt.Local().Format("2006-01-02 15:04:05"), humanize.Time(*rec.ExpiresAt))
}

func formatDownloads(rec *share.Record) string {
	if rec.MaxDownloads == 0 {
		return fmt.Sprintf("%d", rec.DownloadCount)
	}
	return fmt.Sprintf("%d/%d", rec.DownloadCount, rec.MaxDownloads)
}

var rootCmd = &cobra.Command{
	Use:          "share",
	Short:        "Share files behind one-off download codes",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadDotEnv()
	},
}

// serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := unlock(a); err != nil {
			return err
		}
		return a.Serve(cmd.Context())
	},
}

// create command
var createCmd = &cobra.Command{
	Use:   "create FILE...",
	Short: "Share one or more files",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		password, _ := flags.GetString("password")
		maxDownloads, _ := flags.GetInt("max-downloads")
		name, _ := flags.GetString("name")

		policy := share.Policy{Password: password, MaxDownloads: maxDownloads, DisplayName: name}
		if flags.Changed("expires-in") {
			amount, _ := flags.GetInt("expires-in")
			unit, _ := flags.GetString("unit")
			d := share.ParseExpiry(amount, unit)
			policy.ExpiresIn = &d
		}

		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		results, err := a.Create(cmd.Context(), args, policy)
		if err != nil {
			return err
		}

		failed := 0
		for i, res := range results {
			if res.Err != nil {
				failed++
				fmt.Printf("FAILED  %s: %v\n", args[i], res.Err)
				continue
			}
			fmt.Printf("%s  %s  %s\n", res.Code, args[i], humanize.Bytes(uint64(res.Ref.Size)))
		}
		if failed == len(results) {
			return fmt.Errorf("no files shared")
		}
		return nil
	},
}

// info command
var infoCmd = &cobra.Command{
	Use:   "info CODE",
	Short: "Show a share",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		rec, status, err := a.Info(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		fmt.Printf("Code:         %s\n", rec.Code)
		fmt.Printf("Name:         %s\n", rec.Name())
		fmt.Printf("Stored as:    %s\n", rec.StoredName)
		fmt.Printf("Type:         %s\n", rec.ContentType)
		fmt.Printf("Size:         %s\n", humanize.Bytes(uint64(rec.Size)))
		fmt.Printf("Status:       %s\n", status)
		fmt.Printf("Downloads:    %s\n", formatDownloads(rec))
		fmt.Printf("Expires:      %s\n", formatExpiry(rec))
		fmt.Printf("Password:     %t\n", rec.HasPassword())
		fmt.Printf("Created:      %s\n", rec.CreatedAt.Local().Format("2006-01-02 15:04:05"))
		if rec.Flagged {
			fmt.Printf("Flagged:      %s\n", rec.Threat)
		}
		return nil
	},
}

// probe command
var probeCmd = &cobra.Command{
	Use:   "probe CODE",
	Short: "Check whether a share can be downloaded",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		password, _ := cmd.Flags().GetString("password")

		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		v, err := a.Probe(cmd.Context(), args[0], password)
		if err != nil {
			return err
		}
		fmt.Println(v.Reason)
		if v.Warning != "" {
			fmt.Println(v.Warning)
		}
		return nil
	},
}

// get command
var getCmd = &cobra.Command{
	Use:   "get CODE",
	Short: "Download a share",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		password, _ := flags.GetString("password")
		output, _ := flags.GetString("output")
		confirmed, _ := flags.GetBool("confirm")

		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := unlock(a); err != nil {
			return err
		}

		dest, ret, err := a.Get(cmd.Context(), args[0], password, confirmed, output)
		if err != nil {
			if errors.Is(err, share.ErrRequiresConfirmation) {
				return fmt.Errorf("%w (re-run with --confirm to download anyway)", err)
			}
			return err
		}

		fmt.Printf("Saved %s\n", dest)
		if ret != nil && ret.Retired {
			fmt.Println("Download limit reached; share deleted.")
		}
		return nil
	},
}

// delete command
var deleteCmd = &cobra.Command{
	Use:   "delete CODE",
	Short: "Delete a share and its file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Delete(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("Deleted %s\n", args[0])
		return nil
	},
}

// list command
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List live shares",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		recs, err := a.List(cmd.Context())
		if err != nil {
			return err
		}
		if len(recs) == 0 {
			fmt.Println("No shares.")
			return nil
		}

		for _, rec := range recs {
			fmt.Printf("%s  %-8s  %8s  %-30s  %s\n",
				rec.Code,
				formatDownloads(rec),
				humanize.Bytes(uint64(rec.Size)),
				rec.Name(),
				formatExpiry(rec),
			)
		}
		return nil
	},
}

// sweep command
var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete expired shares and shares whose file is gone",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.Sweep(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Deleted %d share(s)\n", n)
		return nil
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View share audit history",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		events, err := a.History(cmd.Context(), limit)
		if err != nil {
			return err
		}
		if len(events) == 0 {
			fmt.Println("No events recorded.")
			return nil
		}

		for _, ev := range events {
			fmt.Printf("#%d  %s  %-10s  %s  %s\n",
				ev.ID,
				ev.At.Local().Format("2006-01-02 15:04:05"),
				ev.Kind,
				ev.Code,
				ev.Detail,
			)
		}
		return nil
	},
}

// backup command
var backupCmd = &cobra.Command{
	Use:   "backup FILE",
	Short: "Snapshot a sqlite registry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.BackupRegistry(args[0]); err != nil {
			return err
		}
		fmt.Printf("Registry written to %s\n", args[0])
		return nil
	},
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := defaults.Config()
		if err := config.Init(defaults.ConfigPath, cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults.ConfigPath)
		fmt.Printf("Base Dir: %s\n", defaults.BaseDir)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, path, err := readConfig()
		if err != nil {
			return err
		}

		fmt.Printf("Configuration from %s:\n\n", path)
		fmt.Printf("Base Dir:    %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:     %s\n", cfg.LogDir)
		fmt.Printf("Registry:    %s %s\n", cfg.Registry.Type, cfg.Registry.Path)
		fmt.Printf("Payloads:    %s %s\n", cfg.Payload.Type, strings.TrimSpace(cfg.Payload.Root+" "+cfg.Payload.S3Bucket))
		fmt.Printf("Encryption:  %s\n", cfg.Encryption.Type)
		fmt.Printf("Classifier:  %s (policy %s, fallback %s)\n", cfg.Classifier.Type, cfg.Classifier.Policy, cfg.Classifier.Fallback)
		fmt.Printf("Secrets:     %s\n", cfg.Secrets.Mode)
		fmt.Printf("Listen:      %s\n", cfg.Server.Listen)
		fmt.Printf("Max upload:  %s\n", cfg.Server.MaxUploadSize)
		return nil
	},
}

var configKeysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Generate the payload encryption key pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := readConfig()
		if err != nil {
			return err
		}

		pass, err := readPassphrase("New key passphrase: ", true)
		if err != nil {
			return err
		}
		if err := app.SetupKeys(cfg, pass); err != nil {
			return err
		}

		fmt.Printf("Public key:  %s\n", cfg.Encryption.PublicKeyPath)
		fmt.Printf("Private key: %s\n", cfg.Encryption.PrivateKeyPath)
		return nil
	},
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)
	configCmd.AddCommand(configKeysCmd)

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(serveCmd)

	rootCmd.AddCommand(createCmd)
	createCmd.Flags().Int("expires-in", 0, "Expire the share after this many units (negative values are allowed)")
	createCmd.Flags().String("unit", "minutes", "Expiry unit: minutes, hours, days, weeks, months, years")
	createCmd.Flags().StringP("password", "p", "", "Require this password to download")
	createCmd.Flags().IntP("max-downloads", "m", 0, "Delete the share after this many downloads (0 = unlimited)")
	createCmd.Flags().String("name", "", "File name presented to downloaders")

	rootCmd.AddCommand(infoCmd)

	rootCmd.AddCommand(probeCmd)
	probeCmd.Flags().StringP("password", "p", "", "Password to check")

	rootCmd.AddCommand(getCmd)
	getCmd.Flags().StringP("password", "p", "", "Share password")
	getCmd.Flags().StringP("output", "o", "", "Output file or directory (default: the share's name)")
	getCmd.Flags().Bool("confirm", false, "Download even if the file was flagged as malicious")

	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(sweepCmd)

	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of events to show")

	rootCmd.AddCommand(backupCmd)
}
