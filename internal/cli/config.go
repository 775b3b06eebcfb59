package cli

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"morphicutil/internal/config"
	"morphicutil/internal/entitymodel"
	"morphicutil/internal/session"
)

// ConfigOptions holds flags for the config command.
type ConfigOptions struct {
	*RootOptions
	ExpiresIn    time.Duration
	CatalogueURL string
	Show         bool
	Write        bool
	List         bool
	Delete       bool
}

type profileView struct {
	Name         string `json:"name"`
	CatalogueURL string `json:"catalogue_url,omitempty"`
	Expiry       string `json:"expiry"`
	UpdatedAt    string `json:"updated_at"`
}

// NewConfigCommand creates the config command.
func NewConfigCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ConfigOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "config [token]",
		Short: "Store credentials and inspect settings",
		Long: `With a token argument, stores it under the selected profile. Other flags
write or print the effective configuration and manage stored profiles.`,
		Example: `  morphic-util config eyJhbGciOi... --expires-in 12h
  morphic-util config --show
  morphic-util --config ./morphic.toml config --write`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && !opts.Show && !opts.Write && !opts.List && !opts.Delete {
				return NewExitError(ExitCommandError, "nothing to do: pass a token or one of --show, --write, --list, --delete")
			}
			return runConfig(cmd, opts, args)
		},
	}

	cmd.Flags().DurationVar(&opts.ExpiresIn, "expires-in", 0, "token lifetime; 0 means no expiry check")
	cmd.Flags().StringVar(&opts.CatalogueURL, "catalogue-url", "", "pin a catalogue URL to the profile")
	cmd.Flags().BoolVar(&opts.Show, "show", false, "print the effective configuration")
	cmd.Flags().BoolVar(&opts.Write, "write", false, "write the effective configuration to the config file")
	cmd.Flags().BoolVar(&opts.List, "list", false, "list stored profiles")
	cmd.Flags().BoolVar(&opts.Delete, "delete", false, "delete the selected profile")
	return cmd
}

func runConfig(cmd *cobra.Command, opts *ConfigOptions, args []string) error {
	path := opts.ConfigPath
	if path == "" {
		path = config.DefaultPath()
	}
	if opts.Write {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			if err := config.Write(path, config.Default()); err != nil {
				return WrapExitError(ExitCommandError, "create config", err)
			}
		}
	}

	e, err := opts.open(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = e.Close() }()
	ctx := cmd.Context()
	name := e.cfg.Catalogue.Profile

	if len(args) == 1 {
		store, err := e.profiles()
		if err != nil {
			return err
		}
		p := session.Profile{Name: name, AccessToken: strings.TrimSpace(args[0]), CatalogueURL: opts.CatalogueURL}
		if p.AccessToken == "" {
			return NewExitError(ExitCommandError, "token is empty")
		}
		if opts.ExpiresIn > 0 {
			p.Expiry = time.Now().Add(opts.ExpiresIn).UTC()
		}
		if err := store.Save(ctx, p); err != nil {
			return WrapExitError(ExitCommandError, "save profile", err)
		}
		e.logger.Info("profile saved", "profile", name)
		if err := e.out.Success(map[string]string{"profile": name}, func(w io.Writer) {
			fmt.Fprintf(w, "Profile %s saved\n", name)
		}); err != nil {
			return err
		}
	}

	if opts.Delete {
		store, err := e.profiles()
		if err != nil {
			return err
		}
		ok, err := store.Delete(ctx, name)
		if err != nil {
			return WrapExitError(ExitCommandError, "delete profile", err)
		}
		if !ok {
			return WrapExitError(ExitCommandError, "delete profile "+name, session.ErrProfileNotFound)
		}
		if err := e.out.Success(map[string]string{"deleted": name}, func(w io.Writer) {
			fmt.Fprintf(w, "Profile %s deleted\n", name)
		}); err != nil {
			return err
		}
	}

	if opts.List {
		store, err := e.profiles()
		if err != nil {
			return err
		}
		profiles, err := store.List(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "list profiles", err)
		}
		views := make([]profileView, 0, len(profiles))
		for _, p := range profiles {
			views = append(views, profileView{Name: p.Name, CatalogueURL: p.CatalogueURL, Expiry: stamp(p.Expiry), UpdatedAt: stamp(p.UpdatedAt)})
		}
		if err := e.out.Success(views, func(w io.Writer) {
			for _, v := range views {
				fmt.Fprintf(w, "%s\texpires %s\tupdated %s\n", v.Name, v.Expiry, v.UpdatedAt)
			}
		}); err != nil {
			return err
		}
	}

	if opts.Write {
		if err := config.Write(path, e.cfg); err != nil {
			return WrapExitError(ExitCommandError, "write config", err)
		}
		if err := e.out.Success(map[string]string{"written": path}, func(w io.Writer) {
			fmt.Fprintf(w, "Configuration written to %s\n", path)
		}); err != nil {
			return err
		}
	}

	if opts.Show {
		return e.out.Success(e.cfg, func(w io.Writer) {
			fmt.Fprintf(w, "# entity schemas %s\n", entitymodel.Fingerprint())
			if err := toml.NewEncoder(w).Encode(e.cfg); err != nil {
				fmt.Fprintf(w, "# encode: %v\n", err)
			}
		})
	}
	return nil
}
