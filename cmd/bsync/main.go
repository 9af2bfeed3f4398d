// Command bsync securely synchronizes a local directory with a
// bucket's worth of encrypted remote objects, in either direction.
// Flag handling follows the teacher's own cmd/camsync/camsync.go
// style: stdlib flag.FlagSet with a positional-argument convention
// rather than a third-party CLI framework.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/blindsync/blindsync/pkg/action"
	"github.com/blindsync/blindsync/pkg/bconfig"
	"github.com/blindsync/blindsync/pkg/cryptostream"
	"github.com/blindsync/blindsync/pkg/folder"
	"github.com/blindsync/blindsync/pkg/indexsync"
	"github.com/blindsync/blindsync/pkg/policy"
	"github.com/blindsync/blindsync/pkg/progress"
	"github.com/blindsync/blindsync/pkg/remote"
	"github.com/blindsync/blindsync/pkg/remote/b2"
	"github.com/blindsync/blindsync/pkg/remote/fsremote"
	"github.com/blindsync/blindsync/pkg/rowstore/sqlite"
	"github.com/blindsync/blindsync/pkg/secureid"
	bsync "github.com/blindsync/blindsync/pkg/sync"
)

// multiFlag accumulates repeated occurrences of a flag, e.g.
// --exclude one --exclude two, into a slice — flag.FlagSet has no
// built-in support for this, so it's implemented the same way any
// stdlib-flag-based CLI would: a flag.Value whose Set appends.
type multiFlag []string

func (m *multiFlag) String() string { return strings.Join(*m, ",") }
func (m *multiFlag) Set(v string) error {
	*m = append(*m, v)
	return nil
}

var (
	flagKeep          = flag.Bool("keep", false, "don't delete destination files missing from the source")
	flagTest          = flag.Bool("test", false, "run with a local-directory stand-in for the remote bucket; no network access")
	flagTestIndex     = flag.Bool("testIndex", false, "never download or upload the secure index")
	flagDryRun        = flag.Bool("dryrun", false, "compute actions but don't execute them")
	flagQuiet         = flag.Bool("quiet", false, "suppress per-file completion lines")
	flagValidateIndex = flag.String("validateIndex", "", "load the secure index at PATH, report its entry count, and exit")
	flagUploadIndex   = flag.String("uploadIndex", "", "force-upload the secure index at PATH to the bucket's index slot and exit")
	flagWorkers       = flag.Int("workers", 20, "number of concurrent worker slots")
	flagComparison    = flag.String("comparison", "4", "how deep to compare files before declaring them different: 1=kind 2=+size 3=+modtime 4=+hash")
	flagConfig        = flag.String("config", "bsync.conf", "path to the INI-style configuration file")

	flagExclude multiFlag
	flagInclude multiFlag
)

func usage(msg string) {
	if msg != "" {
		fmt.Fprintf(os.Stderr, "Error: %s\n\n", msg)
	}
	fmt.Fprintf(os.Stderr, "Usage: bsync [flags] source destination passphrase\n\n")
	flag.PrintDefaults()
	os.Exit(1)
}

func main() {
	flag.Var(&flagExclude, "exclude", "regular expression; matching source paths are skipped (repeatable)")
	flag.Var(&flagInclude, "include", "regular expression; matching source paths are always kept, overriding --exclude (repeatable)")
	flag.Parse()

	cfg, err := bconfig.Load(*flagConfig)
	if err != nil {
		usage(err.Error())
	}

	if *flagValidateIndex != "" {
		if err := runValidateIndex(*flagValidateIndex); err != nil {
			log.Fatalf("validateIndex: %v", err)
		}
		return
	}

	exclude, include, err := compilePatterns(flagExclude, flagInclude)
	if err != nil {
		usage(err.Error())
	}
	comparison, err := policy.ParseComparison(*flagComparison)
	if err != nil {
		usage(err.Error())
	}

	args := flag.Args()
	if *flagUploadIndex != "" {
		if len(args) != 1 {
			usage("--uploadIndex takes exactly one positional argument: the target bucket name")
		}
		if err := runUploadIndex(*flagUploadIndex, args[0], cfg); err != nil {
			log.Fatalf("uploadIndex: %v", err)
		}
		return
	}

	if len(args) != 3 {
		usage("expected exactly 3 positional arguments: source destination passphrase")
	}
	sourceArg, destArg, passphrase := args[0], args[1], args[2]

	srcSpec, err := parsePathSpec(sourceArg)
	if err != nil {
		usage(err.Error())
	}
	dstSpec, err := parsePathSpec(destArg)
	if err != nil {
		usage(err.Error())
	}
	if srcSpec.remote == dstSpec.remote {
		usage("sync support is only local-to-bucket and bucket-to-local, never both local or both remote")
	}

	if err := runSync(runSyncArgs{
		src: srcSpec, dst: dstSpec, passphrase: []byte(passphrase), cfg: cfg,
		exclude: exclude, include: include, comparison: comparison,
	}); err != nil {
		log.Fatalf("sync: %v", err)
	}
}

// pathSpec is one side of the sync: either a local directory or a
// "b2://bucket[/folder]" remote location.
type pathSpec struct {
	remote bool
	bucket string // only set when remote
	folder string // remote-relative subfolder, or the local directory
}

func parsePathSpec(s string) (pathSpec, error) {
	const scheme = "b2://"
	if !strings.HasPrefix(s, scheme) {
		return pathSpec{remote: false, folder: s}, nil
	}
	rest := strings.TrimPrefix(s, scheme)
	if rest == "" {
		return pathSpec{}, fmt.Errorf("invalid b2:// path %q: missing bucket name", s)
	}
	bucket, sub, _ := strings.Cut(rest, "/")
	return pathSpec{remote: true, bucket: bucket, folder: sub}, nil
}

func compilePatterns(exclude, include []string) ([]*regexp.Regexp, []*regexp.Regexp, error) {
	compileAll := func(patterns []string) ([]*regexp.Regexp, error) {
		out := make([]*regexp.Regexp, 0, len(patterns))
		for _, p := range patterns {
			re, err := regexp.Compile(p)
			if err != nil {
				return nil, fmt.Errorf("invalid pattern %q: %w", p, err)
			}
			out = append(out, re)
		}
		return out, nil
	}
	ex, err := compileAll(exclude)
	if err != nil {
		return nil, nil, err
	}
	in, err := compileAll(include)
	if err != nil {
		return nil, nil, err
	}
	return ex, in, nil
}

type runSyncArgs struct {
	src, dst   pathSpec
	passphrase []byte
	cfg        bconfig.Config
	exclude    []*regexp.Regexp
	include    []*regexp.Regexp
	comparison policy.Comparison
}

func runSync(a runSyncArgs) error {
	ctx := context.Background()

	remoteSpec := a.src
	if a.dst.remote {
		remoteSpec = a.dst
	}

	secID := secureid.DefaultParams(a.cfg.NameSalt, a.cfg.FixedSalt)
	keyring, err := loadKeyring(a.cfg)
	if err != nil {
		return fmt.Errorf("load keyring: %w", err)
	}

	store, cleanup, err := openStore(a.cfg, remoteSpec.bucket)
	if err != nil {
		return err
	}
	defer cleanup()

	indexPath := a.cfg.IndexPath
	if indexPath == "" {
		indexPath = filepath.Join(os.TempDir(), "bsync-"+remoteSpec.bucket+"-index.db")
	}
	indexCfg := indexsync.Config{Test: *flagTestIndex, Keyring: keyring, Passphrase: a.passphrase, SecureID: secID}
	handle, err := indexsync.Acquire(ctx, store, remoteSpec.bucket, indexPath, indexCfg)
	if err != nil {
		return fmt.Errorf("acquire index: %w", err)
	}

	secFolder := folder.NewSecureFolder(remoteSpec.folder, handle.Index, remoteSpec.bucket)

	var localSpec pathSpec
	var direction policy.Direction
	if a.src.remote {
		localSpec, direction = a.dst, policy.Down
	} else {
		localSpec, direction = a.src, policy.Up
	}
	localFolder, err := folder.NewLocalFolder(localSpec.folder)
	if err != nil {
		return fmt.Errorf("resolve local folder: %w", err)
	}

	var source, destination folder.Folder
	if direction == policy.Up {
		source, destination = localFolder, secFolder
	} else {
		source, destination = secFolder, localFolder
	}

	actionCfg := action.Config{Test: *flagTest, Keyring: keyring, Passphrase: a.passphrase, SecureID: secID}
	reporter := progress.New(os.Stdout, *flagQuiet)

	summary, runErr := bsync.Run(ctx, bsync.Config{
		Source: source, Destination: destination, RemoteStore: store, Index: handle,
		Direction: direction, Comparison: a.comparison, Keep: *flagKeep, DryRun: *flagDryRun,
		Workers: *flagWorkers, Exclude: a.exclude, Include: a.include,
		ActionConfig: actionCfg, Reporter: reporter,
	})

	// The index reflects whatever got durably applied regardless of
	// whether every action succeeded — flush and republish it even
	// when the run failed, so a partial pass still leaves correct
	// state for the next one, matching the original's "shut down the
	// executor, then flush and upload the index, then raise if
	// anything failed."
	if releaseErr := handle.Release(ctx); releaseErr != nil {
		if runErr == nil {
			runErr = releaseErr
		} else {
			runErr = fmt.Errorf("%w (and failed to release index: %v)", runErr, releaseErr)
		}
	}

	if !*flagQuiet {
		fmt.Fprintln(os.Stdout, summary.String())
	}
	return runErr
}

func loadKeyring(cfg bconfig.Config) (*cryptostream.Keyring, error) {
	if cfg.GPGHome == "" {
		return nil, fmt.Errorf("GPGHome is not configured")
	}
	return cryptostream.LoadKeyringFile(cfg.GPGHome)
}

func openStore(cfg bconfig.Config, bucket string) (remote.Store, func(), error) {
	if *flagTest {
		dir := cfg.TempDir
		if dir == "" {
			dir = os.TempDir()
		}
		store, err := fsremote.Open(filepath.Join(dir, "bsync-test-remote", bucket), bucket)
		if err != nil {
			return nil, nil, fmt.Errorf("open test remote: %w", err)
		}
		return store, func() {}, nil
	}

	if cfg.AccountID == "" || cfg.ApplicationKey == "" {
		return nil, nil, fmt.Errorf("AccountId/ApplicationKey are not configured")
	}
	var cache *b2.AccountCache
	if cfg.IndexPath != "" {
		cacheDB, err := b2.OpenAccountCache(filepath.Join(filepath.Dir(cfg.IndexPath), "bsync-accounts.db"))
		if err == nil {
			cache = cacheDB
		}
	}
	store, err := b2.Open(b2.Config{AccountID: cfg.AccountID, ApplicationKey: cfg.ApplicationKey, Bucket: bucket, Cache: cache})
	if err != nil {
		if cache != nil {
			cache.Close()
		}
		return nil, nil, fmt.Errorf("open b2 bucket: %w", err)
	}
	return store, func() {
		if cache != nil {
			cache.Close()
		}
	}, nil
}

func runValidateIndex(path string) error {
	store, err := sqlite.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer store.Close()

	rows, err := store.LoadAll()
	if err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	fmt.Printf("%s: %d entries\n", path, len(rows))
	return nil
}

func runUploadIndex(path, bucket string, cfg bconfig.Config) error {
	if cfg.NameSalt == "" || cfg.FixedSalt == "" {
		return fmt.Errorf("NameSalt/FixedSalt are not configured")
	}
	if cfg.GPGHome == "" {
		return fmt.Errorf("GPGHome is not configured")
	}
	passphrase := os.Getenv("BSYNC_PASSPHRASE")
	if passphrase == "" {
		return fmt.Errorf("BSYNC_PASSPHRASE must be set to force-upload an index")
	}

	keyring, err := cryptostream.LoadKeyringFile(cfg.GPGHome)
	if err != nil {
		return fmt.Errorf("load keyring: %w", err)
	}
	secID := secureid.DefaultParams(cfg.NameSalt, cfg.FixedSalt)

	store, cleanup, err := openStore(cfg, bucket)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := context.Background()
	handle, err := indexsync.Acquire(ctx, store, bucket, path, indexsync.Config{
		Keyring: keyring, Passphrase: []byte(passphrase), SecureID: secID,
	})
	if err != nil {
		return fmt.Errorf("acquire index: %w", err)
	}
	handle.ForceUpload = true
	return handle.Release(ctx)
}
