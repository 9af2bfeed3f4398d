package sync

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/crypto/openpgp"

	"github.com/blindsync/blindsync/pkg/action"
	"github.com/blindsync/blindsync/pkg/cryptostream"
	"github.com/blindsync/blindsync/pkg/folder"
	"github.com/blindsync/blindsync/pkg/indexsync"
	"github.com/blindsync/blindsync/pkg/policy"
	"github.com/blindsync/blindsync/pkg/progress"
	"github.com/blindsync/blindsync/pkg/remote/fsremote"
	"github.com/blindsync/blindsync/pkg/secureid"
)

func newTestKeyring(t *testing.T, passphrase []byte) *cryptostream.Keyring {
	t.Helper()
	entity, err := openpgp.NewEntity("test", "", "test@example.invalid", nil)
	if err != nil {
		t.Fatalf("NewEntity: %v", err)
	}
	if err := entity.PrivateKey.Encrypt(passphrase); err != nil {
		t.Fatalf("encrypt key: %v", err)
	}
	kr, err := cryptostream.NewKeyring(openpgp.EntityList{entity})
	if err != nil {
		t.Fatalf("NewKeyring: %v", err)
	}
	return kr
}

type harness struct {
	t          *testing.T
	store      *fsremote.Store
	passphrase []byte
	keyring    *cryptostream.Keyring
	secID      secureid.Params
	localDir   string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store, err := fsremote.Open(t.TempDir(), "bkt")
	if err != nil {
		t.Fatalf("fsremote.Open: %v", err)
	}
	passphrase := []byte("pw")
	return &harness{
		t:          t,
		store:      store,
		passphrase: passphrase,
		keyring:    newTestKeyring(t, passphrase),
		secID:      secureid.DefaultParams("ns", "fs"),
		localDir:   t.TempDir(),
	}
}

func (h *harness) actionConfig() action.Config {
	return action.Config{Keyring: h.keyring, Passphrase: h.passphrase, SecureID: h.secID}
}

func (h *harness) indexConfig() indexsync.Config {
	return indexsync.Config{Keyring: h.keyring, Passphrase: h.passphrase, SecureID: h.secID}
}

func (h *harness) acquireIndex(indexPath string) *indexsync.Handle {
	h.t.Helper()
	handle, err := indexsync.Acquire(context.Background(), h.store, "bkt", indexPath, h.indexConfig())
	if err != nil {
		h.t.Fatalf("indexsync.Acquire: %v", err)
	}
	return handle
}

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestRunUploadsNewLocalFilesToRemote(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	writeFile(t, filepath.Join(h.localDir, "a.txt"), "hello")
	writeFile(t, filepath.Join(h.localDir, "sub", "b.txt"), "world")

	handle := h.acquireIndex(filepath.Join(t.TempDir(), "index.db"))

	localFolder, err := folder.NewLocalFolder(h.localDir)
	if err != nil {
		t.Fatalf("NewLocalFolder: %v", err)
	}
	secFolder := folder.NewSecureFolder("", handle.Index, "bkt")

	cfg := Config{
		Source:       localFolder,
		Destination:  secFolder,
		RemoteStore:  h.store,
		Index:        handle,
		Direction:    policy.Up,
		Comparison:   policy.CompareHash,
		Workers:      4,
		ActionConfig: h.actionConfig(),
		Reporter:     progress.New(&bytes.Buffer{}, true),
	}

	summary, err := Run(ctx, cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.ActionsScheduled != 3 {
		// a.txt, sub/ (directory entry), sub/b.txt.
		t.Fatalf("expected 3 actions scheduled, got %d", summary.ActionsScheduled)
	}
	if summary.FilesTransferred != 2 {
		t.Fatalf("expected 2 files transferred, got %d", summary.FilesTransferred)
	}

	if _, ok := handle.Index.Get("a.txt"); !ok {
		t.Fatalf("expected index entry for a.txt")
	}
	if _, ok := handle.Index.Get("sub/b.txt"); !ok {
		t.Fatalf("expected index entry for sub/b.txt")
	}

	if err := handle.Release(ctx); err != nil {
		t.Fatalf("Release: %v", err)
	}
}

func TestRunDownloadsRemoteOnlyFilesToLocal(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	// Seed the remote side by running an Up pass first.
	srcDir := filepath.Join(t.TempDir(), "src")
	writeFile(t, filepath.Join(srcDir, "a.txt"), "hello")

	indexPath := filepath.Join(t.TempDir(), "index.db")
	handle := h.acquireIndex(indexPath)
	srcFolder, err := folder.NewLocalFolder(srcDir)
	if err != nil {
		t.Fatalf("NewLocalFolder: %v", err)
	}
	secFolder := folder.NewSecureFolder("", handle.Index, "bkt")

	if _, err := Run(ctx, Config{
		Source: srcFolder, Destination: secFolder, RemoteStore: h.store, Index: handle,
		Direction: policy.Up, Comparison: policy.CompareHash, Workers: 4,
		ActionConfig: h.actionConfig(), Reporter: progress.New(&bytes.Buffer{}, true),
	}); err != nil {
		t.Fatalf("seed Run (up): %v", err)
	}
	if err := handle.Release(ctx); err != nil {
		t.Fatalf("seed Release: %v", err)
	}

	// Now sync down to a fresh local directory using a fresh index
	// handle downloaded from the remote store, the way a second machine
	// would.
	dstDir := filepath.Join(t.TempDir(), "dst")
	downHandle := h.acquireIndex(filepath.Join(t.TempDir(), "index2.db"))
	downSecFolder := folder.NewSecureFolder("", downHandle.Index, "bkt")
	dstFolder, err := folder.NewLocalFolder(dstDir)
	if err != nil {
		t.Fatalf("NewLocalFolder: %v", err)
	}

	summary, err := Run(ctx, Config{
		Source: downSecFolder, Destination: dstFolder, RemoteStore: h.store, Index: downHandle,
		Direction: policy.Down, Comparison: policy.CompareHash, Workers: 4,
		ActionConfig: h.actionConfig(), Reporter: progress.New(&bytes.Buffer{}, true),
	})
	if err != nil {
		t.Fatalf("Run (down): %v", err)
	}
	if summary.FilesTransferred != 1 {
		t.Fatalf("expected 1 file downloaded, got %d", summary.FilesTransferred)
	}

	got, err := os.ReadFile(filepath.Join(dstDir, "a.txt"))
	if err != nil {
		t.Fatalf("read downloaded file: %v", err)
	}
	if string(got) != "hello" {
		t.Fatalf("downloaded content mismatch: %q", got)
	}
	if err := downHandle.Release(ctx); err != nil {
		t.Fatalf("Release: %v", err)
	}
}

func TestRunWithKeepTrueLeavesOrphanedRemoteFileAlone(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	writeFile(t, filepath.Join(h.localDir, "keepme.txt"), "v1")
	indexPath := filepath.Join(t.TempDir(), "index.db")
	handle := h.acquireIndex(indexPath)
	localFolder, err := folder.NewLocalFolder(h.localDir)
	if err != nil {
		t.Fatalf("NewLocalFolder: %v", err)
	}
	secFolder := folder.NewSecureFolder("", handle.Index, "bkt")

	baseCfg := Config{
		Source: localFolder, Destination: secFolder, RemoteStore: h.store, Index: handle,
		Direction: policy.Up, Comparison: policy.CompareHash, Workers: 4,
		ActionConfig: h.actionConfig(), Reporter: progress.New(&bytes.Buffer{}, true),
	}
	if _, err := Run(ctx, baseCfg); err != nil {
		t.Fatalf("seed Run: %v", err)
	}

	// Delete the local file, then sync with Keep=true: the orphaned
	// remote entry must survive.
	if err := os.Remove(filepath.Join(h.localDir, "keepme.txt")); err != nil {
		t.Fatalf("remove local file: %v", err)
	}
	keepCfg := baseCfg
	keepCfg.Keep = true
	keepCfg.Reporter = progress.New(&bytes.Buffer{}, true)

	summary, err := Run(ctx, keepCfg)
	if err != nil {
		t.Fatalf("Run (keep=true): %v", err)
	}
	if summary.ActionsScheduled != 0 {
		t.Fatalf("expected no actions with keep=true, got %d", summary.ActionsScheduled)
	}
	if _, ok := handle.Index.Get("keepme.txt"); !ok {
		t.Fatalf("expected orphaned index entry to survive keep=true pass")
	}

	if err := handle.Release(ctx); err != nil {
		t.Fatalf("Release: %v", err)
	}
}

func TestRunWithKeepFalseDeletesOrphanedRemoteFile(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	writeFile(t, filepath.Join(h.localDir, "gone.txt"), "v1")
	indexPath := filepath.Join(t.TempDir(), "index.db")
	handle := h.acquireIndex(indexPath)
	localFolder, err := folder.NewLocalFolder(h.localDir)
	if err != nil {
		t.Fatalf("NewLocalFolder: %v", err)
	}
	secFolder := folder.NewSecureFolder("", handle.Index, "bkt")

	baseCfg := Config{
		Source: localFolder, Destination: secFolder, RemoteStore: h.store, Index: handle,
		Direction: policy.Up, Comparison: policy.CompareHash, Workers: 4,
		ActionConfig: h.actionConfig(), Reporter: progress.New(&bytes.Buffer{}, true),
	}
	if _, err := Run(ctx, baseCfg); err != nil {
		t.Fatalf("seed Run: %v", err)
	}

	if err := os.Remove(filepath.Join(h.localDir, "gone.txt")); err != nil {
		t.Fatalf("remove local file: %v", err)
	}
	deleteCfg := baseCfg
	deleteCfg.Keep = false
	deleteCfg.Reporter = progress.New(&bytes.Buffer{}, true)

	summary, err := Run(ctx, deleteCfg)
	if err != nil {
		t.Fatalf("Run (keep=false): %v", err)
	}
	if summary.ActionsScheduled != 1 {
		t.Fatalf("expected 1 delete action, got %d", summary.ActionsScheduled)
	}
	if _, ok := handle.Index.Get("gone.txt"); ok {
		t.Fatalf("expected orphaned index entry removed with keep=false")
	}

	if err := handle.Release(ctx); err != nil {
		t.Fatalf("Release: %v", err)
	}
}

func TestRunDryRunDoesNotMutateRemoteOrIndex(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	writeFile(t, filepath.Join(h.localDir, "a.txt"), "hello")
	indexPath := filepath.Join(t.TempDir(), "index.db")
	handle := h.acquireIndex(indexPath)
	localFolder, err := folder.NewLocalFolder(h.localDir)
	if err != nil {
		t.Fatalf("NewLocalFolder: %v", err)
	}
	secFolder := folder.NewSecureFolder("", handle.Index, "bkt")

	cfg := Config{
		Source: localFolder, Destination: secFolder, RemoteStore: h.store, Index: handle,
		Direction: policy.Up, Comparison: policy.CompareHash, Workers: 4, DryRun: true,
		ActionConfig: h.actionConfig(), Reporter: progress.New(&bytes.Buffer{}, true),
	}

	summary, err := Run(ctx, cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.ActionsScheduled != 1 {
		t.Fatalf("expected 1 action scheduled even in dry run, got %d", summary.ActionsScheduled)
	}
	if _, ok := handle.Index.Get("a.txt"); ok {
		t.Fatalf("dry run must not mutate the index")
	}

	name, err := secureid.Name("a.txt", h.secID)
	if err != nil {
		t.Fatalf("secureid.Name: %v", err)
	}
	if _, exists, err := h.store.Stat(ctx, name); err != nil || exists {
		t.Fatalf("dry run must not upload to the remote store, exists=%v err=%v", exists, err)
	}

	if err := handle.Release(ctx); err != nil {
		t.Fatalf("Release: %v", err)
	}
}

func TestRunPropagatesDecideErrorForUnknownDirection(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	writeFile(t, filepath.Join(h.localDir, "a.txt"), "hello")
	indexPath := filepath.Join(t.TempDir(), "index.db")
	handle := h.acquireIndex(indexPath)
	localFolder, err := folder.NewLocalFolder(h.localDir)
	if err != nil {
		t.Fatalf("NewLocalFolder: %v", err)
	}
	secFolder := folder.NewSecureFolder("", handle.Index, "bkt")

	cfg := Config{
		Source: localFolder, Destination: secFolder, RemoteStore: h.store, Index: handle,
		Direction: policy.Direction(99), Comparison: policy.CompareHash, Workers: 4,
		ActionConfig: h.actionConfig(), Reporter: progress.New(&bytes.Buffer{}, true),
	}

	if _, err := Run(ctx, cfg); err == nil {
		t.Fatalf("expected error for unknown direction")
	}
	handle.Release(ctx)
}
