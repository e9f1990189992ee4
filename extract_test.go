// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/zipdoctor

package zipdoctor

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/woozymasta/pathrules"
)

func TestExtract_RoundTrip(t *testing.T) {
	t.Parallel()

	big := compressibleContent(256 << 10)
	entries := []fixtureEntry{
		{name: "docs/", data: nil},
		{name: "docs/readme.txt", data: []byte("hello zip"), method: 8},
		{name: "data/big.log", data: big, method: 8},
		{name: "data/raw.bin", data: bytes.Repeat([]byte{1, 2, 3}, 1000)},
		{name: "empty.txt", data: nil},
		{name: "data/fast.zst", data: big[:4096], method: uint16(MethodZstd)},
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	zw.RegisterCompressor(uint16(MethodZstd), zstd.ZipCompressor())
	for _, e := range entries {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: e.name, Method: e.method})
		if err != nil {
			t.Fatalf("CreateHeader: %v", err)
		}
		if _, err := w.Write(e.data); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	dir := t.TempDir()
	archive := writeFixture(t, dir, "ok.zip", buf.Bytes())
	dest := filepath.Join(dir, "out")

	var seen []string
	batch, err := Extract(archive, dest, ExtractOptions{
		ChunkSize:   minChunkSize,
		OnEntryDone: func(o EntryOutcome) { seen = append(seen, o.Name) },
	})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	if !batch.HadAnySuccess || batch.Complete() != 5 || batch.Partial() != 0 || batch.Failed() != 0 {
		t.Fatalf("batch=%d/%d/%d success=%t", batch.Complete(), batch.Partial(), batch.Failed(), batch.HadAnySuccess)
	}
	if batch.Err() != nil {
		t.Fatalf("batch.Err()=%v, want nil", batch.Err())
	}

	wantSeen := []string{"docs/readme.txt", "data/big.log", "data/raw.bin", "empty.txt", "data/fast.zst"}
	if diff := cmp.Diff(wantSeen, seen); diff != "" {
		t.Fatalf("callback order mismatch (-want +got):\n%s", diff)
	}

	for _, e := range entries {
		if e.name == "docs/" {
			continue
		}

		got := readFile(t, filepath.Join(dest, filepath.FromSlash(e.name)))
		if !bytes.Equal(got, e.data) {
			t.Fatalf("%s: extracted %d bytes differ from source %d bytes", e.name, len(got), len(e.data))
		}
	}

	if fi, err := os.Stat(filepath.Join(dest, "docs")); err != nil || !fi.IsDir() {
		t.Fatalf("docs dir missing: %v", err)
	}
}

func TestExtract_TruncatedStreamKeepsPrefix(t *testing.T) {
	t.Parallel()

	content := compressibleContent(1 << 20)
	data := buildRawZip(t, []rawEntry{
		storedEntry("before.txt", []byte("before")),
		truncatedDeflateEntry(t, "broken.log", content),
		storedEntry("after.txt", []byte("after")),
	})

	dir := t.TempDir()
	archive := writeFixture(t, dir, "trunc.zip", data)
	dest := filepath.Join(dir, "out")

	batch, err := Extract(archive, dest, ExtractOptions{})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	statuses := make([]EntryStatus, 0, len(batch.Entries))
	for _, o := range batch.Entries {
		statuses = append(statuses, o.Status)
	}
	want := []EntryStatus{EntryComplete, EntryPartial, EntryComplete}
	if diff := cmp.Diff(want, statuses); diff != "" {
		t.Fatalf("statuses mismatch (-want +got):\n%s", diff)
	}

	broken := batch.Entries[1]
	if !errors.Is(broken.Err, ErrStreamCorruption) {
		t.Fatalf("broken.Err=%v, want ErrStreamCorruption", broken.Err)
	}

	var streamErr *StreamError
	if !errors.As(broken.Err, &streamErr) || streamErr.Offset != broken.Written {
		t.Fatalf("StreamError=%+v, want offset %d", streamErr, broken.Written)
	}
	if broken.Error == "" {
		t.Fatal("rendered Error is empty")
	}

	got := readFile(t, broken.OutputPath)
	if int64(len(got)) != broken.Written {
		t.Fatalf("file size %d != Written %d", len(got), broken.Written)
	}
	if len(got) == 0 || len(got) >= len(content) {
		t.Fatalf("partial size %d, want within (0, %d)", len(got), len(content))
	}
	if !bytes.Equal(got, content[:len(got)]) {
		t.Fatal("partial output is not a prefix of the original content")
	}

	if string(readFile(t, filepath.Join(dest, "after.txt"))) != "after" {
		t.Fatal("entry after the broken one was not extracted")
	}
}

func TestExtract_ChecksumMismatchIsPartial(t *testing.T) {
	t.Parallel()

	content := []byte("stored payload with a lying checksum")
	dir := t.TempDir()
	archive := writeFixture(t, dir, "crc.zip", buildRawZip(t, []rawEntry{badCRCEntry("crc.txt", content)}))

	batch, err := Extract(archive, filepath.Join(dir, "out"), ExtractOptions{})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	o := batch.Entries[0]
	if o.Status != EntryPartial || !errors.Is(o.Err, zip.ErrChecksum) {
		t.Fatalf("status=%s err=%v, want partial with checksum error", o.Status, o.Err)
	}
	if o.Written != int64(len(content)) {
		t.Fatalf("Written=%d, want %d", o.Written, len(content))
	}
	if !batch.HadAnySuccess {
		t.Fatal("HadAnySuccess=false with partial data written")
	}
}

func TestExtract_FailuresDoNotStopBatch(t *testing.T) {
	t.Parallel()

	secret := storedEntry("secret.bin", []byte("cipher"))
	secret.header.Flags |= uint16(flagEncrypted)

	data := buildRawZip(t, []rawEntry{
		storedEntry("../escape.txt", []byte("escape")),
		storedEntry("/abs.txt", []byte("abs")),
		secret,
		storedEntry("odd.bin", []byte("odd payload")),
		storedEntry("keep.txt", []byte("keep")),
	})
	data = corruptEntryMethod(t, data, "odd.bin")

	dir := t.TempDir()
	archive := writeFixture(t, dir, "mixed.zip", data)
	dest := filepath.Join(dir, "nested", "out")

	batch, err := Extract(archive, dest, ExtractOptions{})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	wantErrs := []error{ErrInvalidExtractPath, ErrInvalidExtractPath, ErrEncryptedEntry, ErrEntryOpen, nil}
	if len(batch.Entries) != len(wantErrs) {
		t.Fatalf("len(Entries)=%d, want %d", len(batch.Entries), len(wantErrs))
	}
	for i, want := range wantErrs {
		o := batch.Entries[i]
		if want == nil {
			if o.Status != EntryComplete {
				t.Fatalf("%s: status=%s err=%v, want complete", o.Name, o.Status, o.Err)
			}
			continue
		}
		if o.Status != EntryFailed || !errors.Is(o.Err, want) {
			t.Fatalf("%s: status=%s err=%v, want failed with %v", o.Name, o.Status, o.Err, want)
		}
	}

	if _, err := os.Stat(filepath.Join(dir, "nested", "escape.txt")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("traversal entry escaped destination: %v", err)
	}
	if !batch.HadAnySuccess {
		t.Fatal("HadAnySuccess=false")
	}
	if batch.Err() == nil {
		t.Fatal("batch.Err()=nil, want aggregated failures")
	}
}

func TestExtract_BackslashDirectoryEntries(t *testing.T) {
	t.Parallel()

	data := buildRawZip(t, []rawEntry{
		storedEntry(`dir\`, nil),
		storedEntry(`dir\a.txt`, []byte("inside")),
		storedEntry(`dir\sub\`, nil),
		storedEntry(`dir\sub\b.txt`, []byte("deeper")),
	})

	dir := t.TempDir()
	archive := writeFixture(t, dir, "win.zip", data)
	dest := filepath.Join(dir, "out")

	batch, err := Extract(archive, dest, ExtractOptions{})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if batch.Complete() != 2 || batch.Failed() != 0 {
		t.Fatalf("outcomes=%+v, want 2 complete files", batch.Entries)
	}

	fi, err := os.Stat(filepath.Join(dest, "dir", "sub"))
	if err != nil || !fi.IsDir() {
		t.Fatalf("dir/sub: fi=%v err=%v, want directory", fi, err)
	}

	for rel, want := range map[string]string{"dir/a.txt": "inside", "dir/sub/b.txt": "deeper"} {
		got, err := os.ReadFile(filepath.Join(dest, filepath.FromSlash(rel)))
		if err != nil || string(got) != want {
			t.Fatalf("%s=%q err=%v, want %q", rel, got, err, want)
		}
	}
}

func TestExtract_NoSuccess(t *testing.T) {
	t.Parallel()

	secret := storedEntry("secret.bin", []byte("cipher"))
	secret.header.Flags |= uint16(flagEncrypted)

	dir := t.TempDir()
	archive := writeFixture(t, dir, "enc.zip", buildRawZip(t, []rawEntry{secret}))

	batch, err := Extract(archive, filepath.Join(dir, "out"), ExtractOptions{})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if batch.HadAnySuccess {
		t.Fatal("HadAnySuccess=true with only a failed entry")
	}
}

func TestExtract_Filter(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	archive := writeFixture(t, dir, "f.zip", buildZip(t, []fixtureEntry{
		{name: "keep/a.txt", data: []byte("a")},
		{name: "skip/b.tmp", data: []byte("b")},
		{name: "keep/c.TMP", data: []byte("c")},
	}))
	dest := filepath.Join(dir, "out")

	batch, err := Extract(archive, dest, ExtractOptions{
		Filter: []pathrules.Rule{{Action: pathrules.ActionExclude, Pattern: "*.tmp"}},
	})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	if len(batch.Entries) != 1 || batch.Entries[0].Name != "keep/a.txt" {
		t.Fatalf("entries=%+v, want only keep/a.txt", batch.Entries)
	}
	if _, err := os.Stat(filepath.Join(dest, "skip")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("filtered directory created: %v", err)
	}
}

func TestExtract_DestinationNotCreatable(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	archive := writeFixture(t, dir, "a.zip", buildZip(t, []fixtureEntry{{name: "a.txt", data: []byte("a")}}))
	blocker := writeFixture(t, dir, "blocker", []byte("file"))

	_, err := Extract(archive, filepath.Join(blocker, "out"), ExtractOptions{})
	if !errors.Is(err, ErrFatalIO) {
		t.Fatalf("Extract err=%v, want ErrFatalIO", err)
	}
}

func TestExtract_Zip64LocatorBugThroughOverlay(t *testing.T) {
	t.Parallel()

	data := toZip64Layout(t, buildZip(t, []fixtureEntry{{name: "a.txt", data: []byte("alpha"), method: 8}}), 0)
	dir := t.TempDir()
	archive := writeFixture(t, dir, "bug.zip", data)

	if _, err := Extract(archive, filepath.Join(dir, "strict"), ExtractOptions{
		Reader: ReaderOptions{DisableZip64Compat: true},
	}); !errors.Is(err, ErrStructural) {
		t.Fatalf("strict Extract err=%v, want ErrStructural", err)
	}

	batch, err := Extract(archive, filepath.Join(dir, "out"), ExtractOptions{})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if batch.Complete() != 1 {
		t.Fatalf("Complete=%d, want 1", batch.Complete())
	}
	if !bytes.Equal(data, readFile(t, archive)) {
		t.Fatal("overlay extraction modified the archive")
	}
}

// errAfterReader returns data and then err.
type errAfterReader struct {
	err  error
	data []byte
}

func (r *errAfterReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, r.err
	}

	n := copy(p, r.data)
	r.data = r.data[n:]
	if len(r.data) == 0 {
		return n, r.err
	}

	return n, nil
}

// failWriter accepts limit bytes and then fails.
type failWriter struct {
	buf   bytes.Buffer
	limit int
}

func (w *failWriter) Write(p []byte) (int, error) {
	room := w.limit - w.buf.Len()
	if room >= len(p) {
		return w.buf.Write(p)
	}

	n, _ := w.buf.Write(p[:max(room, 0)])
	return n, io.ErrClosedPipe
}

func TestCopyChunks(t *testing.T) {
	t.Parallel()

	errBoom := errors.New("boom")

	testCases := []struct {
		name      string
		src       io.Reader
		dst       *failWriter
		wantN     int64
		wantRead  error
		wantWrite error
	}{
		{
			name:  "clean",
			src:   bytes.NewReader([]byte("0123456789")),
			dst:   &failWriter{limit: 100},
			wantN: 10,
		},
		{
			name:     "data with error is flushed first",
			src:      &errAfterReader{data: []byte("012345"), err: errBoom},
			dst:      &failWriter{limit: 100},
			wantN:    6,
			wantRead: errBoom,
		},
		{
			name:      "write failure",
			src:       bytes.NewReader([]byte("0123456789")),
			dst:       &failWriter{limit: 3},
			wantN:     3,
			wantWrite: io.ErrClosedPipe,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			n, readErr, writeErr := copyChunks(tc.dst, tc.src, make([]byte, 4))
			if n != tc.wantN {
				t.Fatalf("written=%d, want %d", n, tc.wantN)
			}
			if !errors.Is(readErr, tc.wantRead) || (tc.wantRead == nil && readErr != nil) {
				t.Fatalf("readErr=%v, want %v", readErr, tc.wantRead)
			}
			if !errors.Is(writeErr, tc.wantWrite) || (tc.wantWrite == nil && writeErr != nil) {
				t.Fatalf("writeErr=%v, want %v", writeErr, tc.wantWrite)
			}
			if int64(tc.dst.buf.Len()) != n {
				t.Fatalf("dst holds %d bytes, reported %d", tc.dst.buf.Len(), n)
			}
		})
	}
}
