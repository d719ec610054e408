// repostream serves a remote repository revision as local files.
//
// Sub-commands:
//
//	repostream prefetch [dir]   Download every remote file under dir
//	repostream ls [path]        List a directory through the mount
//	repostream stat <path>      Show file info through the mount
//	repostream cat <path>       Print a file through the mount
//	repostream status           Show mount root, repository and revision
//	repostream login            Save an access token
//	repostream logout           Remove the saved access token
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/fruitsalade/repostream/internal/config"
	"github.com/fruitsalade/repostream/internal/logging"
	"github.com/fruitsalade/repostream/internal/metrics"
	"github.com/fruitsalade/repostream/pkg/client"
	"github.com/fruitsalade/repostream/pkg/storage/s3"
	"github.com/fruitsalade/repostream/pkg/vfs"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	args := os.Args[2:]
	var err error
	switch os.Args[1] {
	case "prefetch":
		err = cmdPrefetch(args)
	case "ls":
		err = cmdLs(args)
	case "stat":
		err = cmdStat(args)
	case "cat":
		err = cmdCat(args)
	case "status":
		err = cmdStatus(args)
	case "login":
		err = cmdLogin(args)
	case "logout":
		err = cmdLogout(args)
	case "help", "-h", "--help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q\n\n", os.Args[1])
		usage()
		os.Exit(2)
	}

	logging.Sync()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `Usage: repostream <command> [flags] [args]

Commands:
  prefetch [dir]   Download every remote file under dir (default: project root)
  ls [path]        List a directory, merging local and remote entries
  stat <path>      Show file info
  cat <path>       Print a file, fetching it if needed
  status           Show mount root, repository and pinned revision
  login            Save an access token
  logout           Remove the saved access token

Run 'repostream <command> --help' for flags.`)
}

// mountFlags are shared by every command that mounts a project.
type mountFlags struct {
	configPath string
	root       string
	repo       string
	revision   string
	token      string
	exclude    []string
	verbose    bool
}

func newFlagSet(name string) (*pflag.FlagSet, *mountFlags) {
	fs := pflag.NewFlagSet(name, pflag.ExitOnError)
	mf := &mountFlags{}
	fs.StringVarP(&mf.configPath, "config", "c", "", "Config file (default: ~/.config/repostream/config.yaml)")
	fs.StringVar(&mf.root, "root", "", "Project root (default: nearest directory containing .git)")
	fs.StringVar(&mf.repo, "repo", "", "Repository URL (default: git remote matching the host)")
	fs.StringVarP(&mf.revision, "revision", "r", "", "Branch or commit to serve (default: local HEAD)")
	fs.StringVar(&mf.token, "token", "", "Access token (default: REPOSTREAM_TOKEN or saved token)")
	fs.StringSliceVar(&mf.exclude, "exclude", nil, "Glob of paths never fetched remotely (repeatable)")
	fs.BoolVarP(&mf.verbose, "verbose", "v", false, "Debug logging")
	return fs, mf
}

// loadConfig merges the config file, environment and flags, then sets up
// logging and the optional metrics endpoint.
func loadConfig(mf *mountFlags) (*config.Config, error) {
	cfg, err := config.Load(mf.configPath)
	if err != nil {
		return nil, err
	}
	if mf.root != "" {
		cfg.Root = mf.root
	}
	if mf.repo != "" {
		cfg.RepoURL = mf.repo
	}
	if mf.revision != "" {
		cfg.Revision = mf.revision
	}
	if mf.token != "" {
		cfg.Token = mf.token
	}
	cfg.Exclude = append(cfg.Exclude, mf.exclude...)
	if mf.verbose {
		cfg.Log.Level = "debug"
	}

	if err := logging.Init(logging.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		OutputPath: cfg.Log.Output,
	}); err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}

	if cfg.MetricsAddr != "" {
		go func() {
			logging.Info("metrics endpoint listening", zap.String("addr", cfg.MetricsAddr))
			if err := http.ListenAndServe(cfg.MetricsAddr, metrics.Handler()); err != nil {
				logging.Warn("metrics endpoint stopped", zap.Error(err))
			}
		}()
	}
	return cfg, nil
}

func tokenSource(cfg *config.Config) (client.TokenSource, error) {
	if cfg.Token != "" {
		return client.StaticToken(cfg.Token), nil
	}
	path := cfg.TokenFile
	if path == "" {
		path = client.TokenFilePath()
	}
	tf, err := client.LoadToken(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logging.Debug("no saved token, accessing repository anonymously")
			return nil, nil
		}
		return nil, err
	}
	if tf.IsExpired(0) {
		return nil, fmt.Errorf("saved token has expired, run 'repostream login'")
	}
	logging.Debug("using saved token", zap.String("host", tf.Host), zap.String("user", tf.Username))
	return tf, nil
}

// install mounts the configured project on the default router. The caller
// must close the returned FS.
func install(ctx context.Context, cfg *config.Config) (*vfs.FS, error) {
	tokens, err := tokenSource(cfg)
	if err != nil {
		return nil, err
	}

	opts := vfs.Options{
		ProjectRoot: cfg.Root,
		RepoURL:     cfg.RepoURL,
		Host:        cfg.Host,
		Revision:    cfg.Revision,
		Tokens:      tokens,
		Exclude:     cfg.Exclude,
		Extensions:  cfg.Extensions,
		Timeout:     cfg.Timeout,
		RetryConfig: cfg.Retry.RetryPolicy(),
	}

	if cfg.S3.Enabled {
		fetcher, err := s3.New(ctx, s3.Config{
			Endpoint:  cfg.S3.Endpoint,
			Region:    cfg.S3.Region,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
		})
		if err != nil {
			return nil, fmt.Errorf("direct s3 access: %w", err)
		}
		opts.DirectBuckets = map[string]vfs.BucketFetcher{"s3": fetcher}
	}

	return vfs.Install(ctx, opts)
}

func withMount(name string, args []string, minArgs int, run func(ctx context.Context, cfg *config.Config, m *vfs.FS, args []string) error) error {
	fs, mf := newFlagSet(name)
	fs.Parse(args)
	if fs.NArg() < minArgs {
		return fmt.Errorf("usage: repostream %s [flags] <path>", name)
	}

	cfg, err := loadConfig(mf)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m, err := install(ctx, cfg)
	if err != nil {
		return err
	}
	defer m.Close()

	return run(ctx, cfg, m, fs.Args())
}

func cmdPrefetch(args []string) error {
	return withMount("prefetch", args, 0, func(ctx context.Context, cfg *config.Config, m *vfs.FS, args []string) error {
		dir := "."
		if len(args) > 0 {
			dir = args[0]
		}
		start := time.Now()
		n, err := m.Prefetch(ctx, dir, cfg.Prefetch.Workers)
		stats := m.CacheStats()
		fmt.Printf("Prefetched %d files in %s (%d remote directories listed)\n",
			n, time.Since(start).Round(time.Millisecond), stats.Listings)
		return err
	})
}

func cmdLs(args []string) error {
	return withMount("ls", args, 0, func(ctx context.Context, cfg *config.Config, m *vfs.FS, args []string) error {
		dir := "."
		if len(args) > 0 {
			dir = args[0]
		}
		entries, err := vfs.ReadDir(dir)
		if err != nil {
			return err
		}
		stats := m.CacheStats()
		logging.Debug("listed directory", zap.String("dir", dir),
			zap.Int("listings", stats.Listings), zap.Int("tree_dirs", stats.TreeDirs))
		for _, e := range entries {
			info, err := e.Info()
			if err != nil {
				return err
			}
			name := e.Name()
			if e.IsDir() {
				name += "/"
			}
			fmt.Printf("%s  %10d  %s\n", info.Mode(), info.Size(), name)
		}
		return nil
	})
}

func cmdStat(args []string) error {
	return withMount("stat", args, 1, func(ctx context.Context, cfg *config.Config, m *vfs.FS, args []string) error {
		info, err := vfs.Stat(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Name:   %s\n", info.Name())
		fmt.Printf("Size:   %d\n", info.Size())
		fmt.Printf("Mode:   %s\n", info.Mode())
		fmt.Printf("Mtime:  %s\n", info.ModTime().Format(time.RFC3339))
		return nil
	})
}

func cmdCat(args []string) error {
	return withMount("cat", args, 1, func(ctx context.Context, cfg *config.Config, m *vfs.FS, args []string) error {
		for _, name := range args {
			f, err := vfs.Open(name)
			if err != nil {
				return err
			}
			_, err = io.Copy(os.Stdout, f)
			f.Close()
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func cmdStatus(args []string) error {
	return withMount("status", args, 0, func(ctx context.Context, cfg *config.Config, m *vfs.FS, args []string) error {
		fmt.Printf("Root:        %s\n", m.Root())
		fmt.Printf("Repository:  %s\n", m.Repo())
		fmt.Printf("Revision:    %s\n", m.Revision())
		buckets := m.Buckets()
		fmt.Printf("Buckets:     %d\n", len(buckets))
		for _, b := range buckets {
			fmt.Printf("  %s -> %s/%s\n", b.Protocol+"://"+b.Name, vfs.StorageDir, b.MountPath())
		}
		if cfg.S3.Enabled {
			fmt.Println("Direct S3:   enabled")
		}
		return nil
	})
}

func cmdLogin(args []string) error {
	fs := pflag.NewFlagSet("login", pflag.ExitOnError)
	host := fs.String("host", vfs.DefaultHost, "Repository host")
	username := fs.StringP("user", "u", "", "Username to record with the token")
	path := fs.String("token-file", client.TokenFilePath(), "Where to save the token")
	fs.Parse(args)

	if *username == "" {
		fmt.Print("Username: ")
		line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
		*username = strings.TrimSpace(line)
	}

	fmt.Print("Access token: ")
	tokenBytes, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return fmt.Errorf("read token: %w", err)
	}
	token := strings.TrimSpace(string(tokenBytes))
	if token == "" {
		return errors.New("empty token")
	}

	tf := client.NewTokenFile(token, strings.TrimSuffix(*host, "/"), *username)
	if tf.IsExpired(0) {
		return errors.New("token has already expired")
	}
	if err := client.SaveToken(*path, tf); err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	fmt.Printf("Token saved to %s\n", *path)
	if !tf.ExpiresAt.IsZero() {
		fmt.Printf("Expires at %s\n", tf.ExpiresAt.Format(time.RFC3339))
	}
	return nil
}

func cmdLogout(args []string) error {
	fs := pflag.NewFlagSet("logout", pflag.ExitOnError)
	path := fs.String("token-file", client.TokenFilePath(), "Saved token to remove")
	fs.Parse(args)

	if err := client.DeleteToken(*path); err != nil {
		return fmt.Errorf("delete token: %w", err)
	}
	fmt.Println("Logged out.")
	return nil
}
