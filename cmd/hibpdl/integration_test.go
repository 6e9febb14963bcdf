//go:build integration

package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/607011/hibpdl/internal/state"
	"github.com/607011/hibpdl/internal/testutils"
	"github.com/607011/hibpdl/pkg/hashcount"
)

func TestCLIDownloadAndVerify(t *testing.T) {
	server := testutils.StartRangeServer(t, 3)

	t.Setenv("HIBPDL_STATE_DIR", t.TempDir())
	output := filepath.Join(t.TempDir(), "hash+count.bin")

	exitCode := runDownload([]string{
		"-base-url", server.URL,
		"-o", output,
		"-L", "10",
		"-t", "4",
		"-q", "-y",
	})
	if exitCode != ExitSuccess {
		t.Fatalf("download failed with exit code %d", exitCode)
	}

	info, err := os.Stat(output)
	if err != nil {
		t.Fatalf("stat output: %v", err)
	}
	want := int64(0x10 * 16 * 3 * hashcount.RecordSize)
	if info.Size() != want {
		t.Fatalf("output size = %d, want %d", info.Size(), want)
	}

	t.Run("verify", func(t *testing.T) {
		if exitCode := runVerify([]string{output}); exitCode != ExitSuccess {
			t.Fatalf("verify failed with exit code %d", exitCode)
		}
	})

	t.Run("verify_quiet", func(t *testing.T) {
		if exitCode := runVerify([]string{"-q", output}); exitCode != ExitSuccess {
			t.Fatalf("verify -q failed with exit code %d", exitCode)
		}
	})
}

func TestCLIResumeFromCheckpoint(t *testing.T) {
	server := testutils.StartRangeServer(t, 2)

	stateDir := t.TempDir()
	t.Setenv("HIBPDL_STATE_DIR", stateDir)
	output := filepath.Join(t.TempDir(), "hash+count.bin")

	// Download the first two units, then plant a checkpoint as if the
	// run had been interrupted right after them.
	exitCode := runDownload([]string{
		"-base-url", server.URL,
		"-o", output,
		"-L", "2",
		"-q", "-y",
	})
	if exitCode != ExitSuccess {
		t.Fatalf("first download failed with exit code %d", exitCode)
	}

	ctx := context.Background()
	store, err := state.OpenDir(stateDir)
	if err != nil {
		t.Fatalf("open state dir: %v", err)
	}
	cp := state.Checkpoint{Start: 0x0000, End: 0x0002, OutputPath: output}
	if err := store.SaveCheckpoint(ctx, cp); err != nil {
		t.Fatalf("save checkpoint: %v", err)
	}
	store.Close()

	// With -y the second run resumes from the checkpoint without asking
	// and appends the remaining units.
	exitCode = runDownload([]string{
		"-base-url", server.URL,
		"-o", output,
		"-L", "4",
		"-q", "-y",
	})
	if exitCode != ExitSuccess {
		t.Fatalf("resume download failed with exit code %d", exitCode)
	}

	info, err := os.Stat(output)
	if err != nil {
		t.Fatalf("stat output: %v", err)
	}
	want := int64(4 * 16 * 2 * hashcount.RecordSize)
	if info.Size() != want {
		t.Fatalf("output size = %d, want %d (resume must append, not restart)", info.Size(), want)
	}

	store, err = state.OpenDir(stateDir)
	if err != nil {
		t.Fatalf("reopen state dir: %v", err)
	}
	defer store.Close()
	if _, err := store.LoadCheckpoint(ctx); err != state.ErrNoCheckpoint {
		t.Fatalf("checkpoint after completed resume: %v, want ErrNoCheckpoint", err)
	}
}

func TestCLIRefusesHeldLock(t *testing.T) {
	server := testutils.StartRangeServer(t, 1)

	stateDir := t.TempDir()
	t.Setenv("HIBPDL_STATE_DIR", stateDir)
	output := filepath.Join(t.TempDir(), "hash+count.bin")

	ctx := context.Background()
	store, err := state.OpenDir(stateDir)
	if err != nil {
		t.Fatalf("open state dir: %v", err)
	}
	if err := store.WriteLock(ctx, 12345); err != nil {
		t.Fatalf("write lock: %v", err)
	}
	store.Close()

	// Stdin yields EOF under go test, so the lock prompt reads an empty
	// answer and the run must refuse. -y intentionally does not cover
	// the lock question.
	exitCode := runDownload([]string{
		"-base-url", server.URL,
		"-o", output,
		"-L", "1",
		"-q", "-y",
	})
	if exitCode != ExitLocked {
		t.Fatalf("exit code = %d, want %d", exitCode, ExitLocked)
	}

	store, err = state.OpenDir(stateDir)
	if err != nil {
		t.Fatalf("reopen state dir: %v", err)
	}
	if err := store.RemoveLock(ctx); err != nil {
		t.Fatalf("remove lock: %v", err)
	}
	store.Close()

	if exitCode := runDownload([]string{
		"-base-url", server.URL,
		"-o", output,
		"-L", "1",
		"-q", "-y",
	}); exitCode != ExitSuccess {
		t.Fatalf("download after lock removal failed with exit code %d", exitCode)
	}
}

func TestCLIDownloadWithS3State(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	server := testutils.StartRangeServer(t, 2)

	t.Log("Starting Minio container...")
	minio := testutils.StartMinioContainer(t, ctx, "cli-state-bucket")
	defer func() {
		if err := minio.Close(ctx); err != nil {
			t.Logf("failed to terminate minio container: %v", err)
		}
	}()

	output := filepath.Join(t.TempDir(), "hash+count.bin")

	exitCode := runDownload([]string{
		"-base-url", server.URL,
		"-state-url", minio.BucketURL,
		"-o", output,
		"-L", "8",
		"-S", "4",
		"-t", "4",
		"-q", "-y",
	})
	if exitCode != ExitSuccess {
		t.Fatalf("download failed with exit code %d", exitCode)
	}

	info, err := os.Stat(output)
	if err != nil {
		t.Fatalf("stat output: %v", err)
	}
	want := int64(8 * 16 * 2 * hashcount.RecordSize)
	if info.Size() != want {
		t.Fatalf("output size = %d, want %d", info.Size(), want)
	}

	store, err := state.Open(ctx, minio.BucketURL)
	if err != nil {
		t.Fatalf("open state bucket: %v", err)
	}
	defer store.Close()
	if _, err := store.LoadCheckpoint(ctx); err != state.ErrNoCheckpoint {
		t.Fatalf("checkpoint after completed run: %v, want ErrNoCheckpoint", err)
	}
}

func TestCLIInvalidArgs(t *testing.T) {
	t.Setenv("HIBPDL_STATE_DIR", t.TempDir())

	exitCode := runDownload([]string{"-P", "zzzz"})
	if exitCode != ExitInvalidArgs {
		t.Errorf("malformed -P: exit code = %d, want %d", exitCode, ExitInvalidArgs)
	}

	exitCode = runDownload([]string{"-P", "20", "-L", "10"})
	if exitCode != ExitInvalidArgs {
		t.Errorf("-P above -L: exit code = %d, want %d", exitCode, ExitInvalidArgs)
	}

	exitCode = runDownload([]string{"-S", "0"})
	if exitCode != ExitInvalidArgs {
		t.Errorf("zero -S: exit code = %d, want %d", exitCode, ExitInvalidArgs)
	}

	exitCode = runVerify(nil)
	if exitCode != ExitInvalidArgs {
		t.Errorf("verify without input: exit code = %d, want %d", exitCode, ExitInvalidArgs)
	}

	exitCode = runVerify([]string{filepath.Join(t.TempDir(), "missing.bin")})
	if exitCode != ExitGeneralError {
		t.Errorf("verify missing file: exit code = %d, want %d", exitCode, ExitGeneralError)
	}
}

func TestCLIVerifyTruncated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "truncated.bin")
	data := make([]byte, hashcount.RecordSize+1)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write test file: %v", err)
	}

	if exitCode := runVerify([]string{path}); exitCode != ExitGeneralError {
		t.Fatalf("exit code = %d, want %d", exitCode, ExitGeneralError)
	}
}
