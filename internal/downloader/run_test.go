package downloader

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"gocloud.dev/blob/memblob"

	"github.com/607011/hibpdl/internal/hibp"
	"github.com/607011/hibpdl/internal/state"
	"github.com/607011/hibpdl/pkg/hashcount"
)

func assertRecordCount(t *testing.T, path string, want int) {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	defer f.Close()

	recs, err := hashcount.ReadAll(f)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(recs) != want {
		t.Errorf("expected %d records in %s, got %d", want, filepath.Base(path), len(recs))
	}
}

func TestRunAppendsBatches(t *testing.T) {
	h := &rangeHandler{lines: 3}
	server := httptest.NewServer(h)
	defer server.Close()

	out := filepath.Join(t.TempDir(), "hash+count.bin")
	bucket := memblob.OpenBucket(nil)
	defer bucket.Close()
	store := state.NewStore(bucket)

	err := Run(context.Background(), RunOptions{
		Output:  out,
		First:   0x0000,
		Last:    0x0008,
		Step:    0x0004,
		Threads: 2,
		Client:  hibp.NewClient(hibp.Options{BaseURL: server.URL}),
		State:   store,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	f, err := os.Open(out)
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	defer f.Close()
	recs, err := hashcount.ReadAll(f)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}

	perBatch := 4 * NibblesPerUnit * h.lines
	if len(recs) != 2*perBatch {
		t.Fatalf("expected %d records, got %d", 2*perBatch, len(recs))
	}

	// Each batch's contribution is sorted on its own
	if !recs[:perBatch].Sorted() {
		t.Error("expected first batch sorted")
	}
	if !recs[perBatch:].Sorted() {
		t.Error("expected second batch sorted")
	}

	// A finished run leaves no checkpoint behind
	if _, err := store.LoadCheckpoint(context.Background()); !errors.Is(err, state.ErrNoCheckpoint) {
		t.Errorf("expected ErrNoCheckpoint, got %v", err)
	}
}

func TestRunAppendsToExistingOutput(t *testing.T) {
	h := &rangeHandler{lines: 1}
	server := httptest.NewServer(h)
	defer server.Close()

	out := filepath.Join(t.TempDir(), "hash+count.bin")
	seed := hashcount.Collection{{Count: 1}}
	f, err := os.Create(out)
	if err != nil {
		t.Fatalf("create output: %v", err)
	}
	if _, err := seed.WriteTo(f); err != nil {
		t.Fatalf("seed output: %v", err)
	}
	f.Close()

	err = Run(context.Background(), RunOptions{
		Output:  out,
		First:   0x0000,
		Last:    0x0001,
		Threads: 2,
		Client:  hibp.NewClient(hibp.Options{BaseURL: server.URL}),
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	rf, err := os.Open(out)
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	defer rf.Close()
	recs, err := hashcount.ReadAll(rf)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}

	if len(recs) != 1+NibblesPerUnit {
		t.Fatalf("expected %d records, got %d", 1+NibblesPerUnit, len(recs))
	}
	// The pre-existing record is still at the front
	if recs[0] != seed[0] {
		t.Errorf("expected seed record preserved, got %+v", recs[0])
	}
}

func TestRunCheckpointResume(t *testing.T) {
	reached := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		prefix := strings.TrimPrefix(r.URL.Path, "/range/")
		// Stall everything belonging to the second batch.
		if prefix >= "00020" {
			once.Do(func() { close(reached) })
			<-release
		}
		fmt.Fprintf(w, "%035X:%d\r\n", 5, 9)
	}))
	defer server.Close()

	out := filepath.Join(t.TempDir(), "hash+count.bin")
	bucket := memblob.OpenBucket(nil)
	defer bucket.Close()
	store := state.NewStore(bucket)

	opts := RunOptions{
		Output:  out,
		First:   0x0000,
		Last:    0x0004,
		Step:    0x0002,
		Threads: 2,
		Client:  hibp.NewClient(hibp.Options{BaseURL: server.URL}),
		State:   store,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- Run(ctx, opts) }()

	<-reached
	cancel()
	close(release)

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("run did not stop")
	}

	// The interrupted second batch was discarded; the checkpoint still
	// names the completed first one.
	cp, err := store.LoadCheckpoint(context.Background())
	if err != nil {
		t.Fatalf("LoadCheckpoint: %v", err)
	}
	if cp.Start != 0x0000 || cp.End != 0x0002 {
		t.Errorf("expected checkpoint 0000-0002, got %04x-%04x", cp.Start, cp.End)
	}
	if cp.OutputPath != out {
		t.Errorf("expected output path %s, got %s", out, cp.OutputPath)
	}

	perBatch := 2 * NibblesPerUnit
	assertRecordCount(t, out, perBatch)

	// Rerun from the stored end boundary
	opts.First = cp.End
	if err := Run(context.Background(), opts); err != nil {
		t.Fatalf("resume Run: %v", err)
	}

	assertRecordCount(t, out, 2*perBatch)
	if _, err := store.LoadCheckpoint(context.Background()); !errors.Is(err, state.ErrNoCheckpoint) {
		t.Errorf("expected checkpoint cleared, got %v", err)
	}
}

func TestRunInvalidRange(t *testing.T) {
	err := Run(context.Background(), RunOptions{Output: "x", First: 0x20, Last: 0x10})
	if !errors.Is(err, ErrInvalidRange) {
		t.Errorf("expected ErrInvalidRange, got %v", err)
	}
}
