package cli

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/oauth2"

	"morphicutil/internal/blob"
	"morphicutil/internal/catalogue"
	"morphicutil/internal/config"
	"morphicutil/internal/core"
	"morphicutil/internal/logging"
	"morphicutil/internal/session"
	"morphicutil/pkg/domain"
)

// tokenEnv holds a bearer token that bypasses the profile store.
const tokenEnv = "MORPHIC_TOKEN"

// env is the wiring of one command invocation. Everything it opens is
// released by Close.
type env struct {
	cfg     config.Config
	logger  *slog.Logger
	out     *OutputFormatter
	closers []io.Closer
}

// open loads the configuration, applies the global flags and builds the
// logger.
func (o *RootOptions) open(cmd *cobra.Command) (*env, error) {
	cfg, err := config.Load(o.ConfigPath, o.ConfigPath != "")
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "load config", err)
	}
	if o.Profile != "" {
		cfg.Catalogue.Profile = o.Profile
	}
	if o.Verbose {
		cfg.Log.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, WrapExitError(ExitCommandError, "check config", err)
	}
	logger, closer, err := logging.New(logging.Options{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		MaxBackups: cfg.Log.MaxBackups,
		Stream:     cmd.ErrOrStderr(),
	})
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "configure logging", err)
	}
	return &env{
		cfg:    cfg,
		logger: logger,
		out: &OutputFormatter{
			Format:    o.Format,
			Writer:    cmd.OutOrStdout(),
			ErrWriter: cmd.ErrOrStderr(),
			Verbose:   o.Verbose,
		},
		closers: []io.Closer{closer},
	}, nil
}

func (e *env) track(c io.Closer) {
	e.closers = append(e.closers, c)
}

// Close releases resources in reverse order of acquisition.
func (e *env) Close() error {
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	e.closers = nil
	return errors.Join(errs...)
}

// profiles opens the credential profile store.
func (e *env) profiles() (*session.Store, error) {
	store, err := session.Open(e.cfg.Profiles.Path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "open profile store", err)
	}
	e.track(store)
	return store, nil
}

// credentials resolves the token source and the catalogue URL. A profile
// saved with its own catalogue URL pins that URL.
func (e *env) credentials(ctx context.Context) (oauth2.TokenSource, string, error) {
	if tok := strings.TrimSpace(os.Getenv(tokenEnv)); tok != "" {
		return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: tok, TokenType: "Bearer"}), e.cfg.Catalogue.URL, nil
	}
	store, err := e.profiles()
	if err != nil {
		return nil, "", err
	}
	name := e.cfg.Catalogue.Profile
	if _, err := store.Token(ctx, name); err != nil {
		if errors.Is(err, session.ErrProfileNotFound) || errors.Is(err, session.ErrTokenExpired) {
			return nil, "", WrapExitError(ExitUnauthorized, "refresh credentials for profile "+name, err)
		}
		return nil, "", WrapExitError(ExitCommandError, "read profile", err)
	}
	url := e.cfg.Catalogue.URL
	if p, err := store.Get(ctx, name); err == nil && p.CatalogueURL != "" {
		url = p.CatalogueURL
	}
	return store.TokenSource(ctx, name), url, nil
}

// catalogue builds an authenticated catalogue client.
func (e *env) catalogue(ctx context.Context) (*catalogue.Client, error) {
	ts, url, err := e.credentials(ctx)
	if err != nil {
		return nil, err
	}
	client, err := catalogue.New(url, catalogue.WithTokenSource(ts), catalogue.WithTimeout(e.cfg.Catalogue.Timeout.Duration))
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "configure catalogue client", err)
	}
	e.logger.Debug("catalogue client ready", "url", client.BaseURL(), "profile", e.cfg.Catalogue.Profile)
	return client, nil
}

// blobStore opens the upload area.
func (e *env) blobStore(ctx context.Context) (blob.Store, error) {
	s3 := e.cfg.Blob.S3
	store, err := blob.Open(ctx, blob.Config{
		Driver: blob.Driver(e.cfg.Blob.Driver),
		FSRoot: e.cfg.Blob.FSRoot,
		S3: blob.S3Config{
			Bucket:    s3.Bucket,
			Region:    s3.Region,
			Endpoint:  s3.Endpoint,
			PathStyle: s3.PathStyle,
		},
	})
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "open upload area", err)
	}
	e.logger.Debug("upload area ready", "driver", store.Driver())
	return store, nil
}

// journal opens the run journal.
func (e *env) journal(ctx context.Context) (domain.Journal, error) {
	j, err := core.OpenJournal(ctx, core.JournalConfig{
		Driver:      core.JournalDriver(e.cfg.Journal.Driver),
		SQLitePath:  e.cfg.Journal.SQLitePath,
		PostgresDSN: e.cfg.Journal.PostgresDSN,
	})
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "open run journal", err)
	}
	e.track(j)
	return j, nil
}

// remoteExit maps catalogue failures to exit codes.
func remoteExit(message string, err error) error {
	if errors.Is(err, catalogue.ErrUnauthorized) {
		return WrapExitError(ExitUnauthorized, message+": refresh credentials", err)
	}
	return WrapExitError(ExitFailure, message, err)
}
