// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/zipdoctor

package zipdoctor

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"
	"rsc.io/binaryregexp"
)

// Corrupted method value written by corruptEntryMethod.
const corruptMethod = 0x0f

// fixtureEntry describes one file written by buildZip.
type fixtureEntry struct {
	name   string
	data   []byte
	method uint16
}

// buildZip writes entries with the archive writer and returns archive bytes.
func buildZip(tb testing.TB, entries []fixtureEntry) []byte {
	tb.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:     e.name,
			Method:   e.method,
			Modified: time.Date(2024, 1, 2, 3, 4, 6, 0, time.UTC),
		})
		if err != nil {
			tb.Fatalf("CreateHeader(%s): %v", e.name, err)
		}

		if _, err := w.Write(e.data); err != nil {
			tb.Fatalf("Write(%s): %v", e.name, err)
		}
	}

	if err := zw.Close(); err != nil {
		tb.Fatalf("Close zip writer: %v", err)
	}

	return buf.Bytes()
}

// rawEntry is written verbatim through CreateRaw, so header fields may lie about data.
type rawEntry struct {
	name   string
	data   []byte
	header zip.FileHeader
}

// buildRawZip writes raw entries and returns archive bytes.
func buildRawZip(tb testing.TB, entries []rawEntry) []byte {
	tb.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		fh := e.header
		fh.Name = e.name
		w, err := zw.CreateRaw(&fh)
		if err != nil {
			tb.Fatalf("CreateRaw(%s): %v", e.name, err)
		}

		if _, err := w.Write(e.data); err != nil {
			tb.Fatalf("Write raw(%s): %v", e.name, err)
		}
	}

	if err := zw.Close(); err != nil {
		tb.Fatalf("Close zip writer: %v", err)
	}

	return buf.Bytes()
}

// writeFixture stores data under dir and returns its path.
func writeFixture(tb testing.TB, dir string, name string, data []byte) string {
	tb.Helper()

	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, data, 0o600); err != nil {
		tb.Fatalf("WriteFile(%s): %v", p, err)
	}

	return p
}

// compressibleContent returns n deterministic bytes that deflate well but not trivially.
func compressibleContent(n int) []byte {
	var buf bytes.Buffer
	for i := 0; buf.Len() < n; i++ {
		fmt.Fprintf(&buf, "line %07d: sensor=%d value=%d\n", i, i%97, (i*7919)%100003)
	}

	return buf.Bytes()[:n]
}

// deflateBytes compresses data as a raw deflate stream.
func deflateBytes(tb testing.TB, data []byte) []byte {
	tb.Helper()

	var buf bytes.Buffer
	fw, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		tb.Fatalf("flate.NewWriter: %v", err)
	}

	if _, err := fw.Write(data); err != nil {
		tb.Fatalf("flate write: %v", err)
	}

	if err := fw.Close(); err != nil {
		tb.Fatalf("flate close: %v", err)
	}

	return buf.Bytes()
}

// truncatedDeflateEntry returns a deflate entry whose compressed stream is cut in half.
// The central directory advertises the full content size and checksum.
func truncatedDeflateEntry(tb testing.TB, name string, content []byte) rawEntry {
	tb.Helper()

	compressed := deflateBytes(tb, content)
	half := compressed[:len(compressed)/2]

	return rawEntry{
		name: name,
		data: half,
		header: zip.FileHeader{
			Method:             zip.Deflate,
			CRC32:              crc32.ChecksumIEEE(content),
			CompressedSize64:   uint64(len(half)),
			UncompressedSize64: uint64(len(content)),
		},
	}
}

// storedEntry returns an intact stored raw entry.
func storedEntry(name string, content []byte) rawEntry {
	return rawEntry{
		name: name,
		data: content,
		header: zip.FileHeader{
			Method:             zip.Store,
			CRC32:              crc32.ChecksumIEEE(content),
			CompressedSize64:   uint64(len(content)),
			UncompressedSize64: uint64(len(content)),
		},
	}
}

// badCRCEntry returns a stored entry whose advertised checksum does not match.
func badCRCEntry(name string, content []byte) rawEntry {
	e := storedEntry(name, content)
	e.header.CRC32 ^= 0xdeadbeef
	return e
}

// toZip64Layout replaces the trailing classic EOCD of data with a ZIP64 EOCD record,
// a ZIP64 locator carrying totalDisks, and a classic EOCD holding ZIP64 markers.
// data must end with a comment-free EOCD.
func toZip64Layout(tb testing.TB, data []byte, totalDisks uint32) []byte {
	tb.Helper()

	eocdAt := len(data) - eocdLen
	if eocdAt < 0 || binary.LittleEndian.Uint32(data[eocdAt:]) != eocdSignature {
		tb.Fatal("archive does not end with a comment-free EOCD")
	}

	eocd := data[eocdAt:]
	records := uint64(binary.LittleEndian.Uint16(eocd[10:12]))
	cdSize := uint64(binary.LittleEndian.Uint32(eocd[12:16]))
	cdOffset := uint64(binary.LittleEndian.Uint32(eocd[16:20]))

	out := append([]byte(nil), data[:eocdAt]...)
	eocd64At := uint64(len(out))

	out = binary.LittleEndian.AppendUint32(out, eocd64Signature)
	out = binary.LittleEndian.AppendUint64(out, 44)
	out = binary.LittleEndian.AppendUint16(out, 45)
	out = binary.LittleEndian.AppendUint16(out, 45)
	out = binary.LittleEndian.AppendUint32(out, 0)
	out = binary.LittleEndian.AppendUint32(out, 0)
	out = binary.LittleEndian.AppendUint64(out, records)
	out = binary.LittleEndian.AppendUint64(out, records)
	out = binary.LittleEndian.AppendUint64(out, cdSize)
	out = binary.LittleEndian.AppendUint64(out, cdOffset)

	out = binary.LittleEndian.AppendUint32(out, locatorSignature)
	out = binary.LittleEndian.AppendUint32(out, 0)
	out = binary.LittleEndian.AppendUint64(out, eocd64At)
	out = binary.LittleEndian.AppendUint32(out, totalDisks)

	out = binary.LittleEndian.AppendUint32(out, eocdSignature)
	out = binary.LittleEndian.AppendUint16(out, 0)
	out = binary.LittleEndian.AppendUint16(out, 0)
	out = binary.LittleEndian.AppendUint16(out, 0xffff)
	out = binary.LittleEndian.AppendUint16(out, 0xffff)
	out = binary.LittleEndian.AppendUint32(out, 0xffffffff)
	out = binary.LittleEndian.AppendUint32(out, 0xffffffff)
	out = binary.LittleEndian.AppendUint16(out, 0)

	return out
}

// locatorOffsetOf returns the offset of the locator appended by toZip64Layout.
func locatorOffsetOf(data []byte) int64 {
	return int64(len(data) - eocdLen - locatorLen)
}

// corruptEntryMethod rewrites the compression method of name in both the local
// and the central directory header to an unsupported value.
func corruptEntryMethod(tb testing.TB, data []byte, name string) []byte {
	tb.Helper()

	out := append([]byte(nil), data...)
	lfh := binaryregexp.MustCompile(
		binaryregexp.QuoteMeta("PK\x03\x04") +
			`[\x00-\xff]{26}` +
			binaryregexp.QuoteMeta(name))
	m := lfh.FindIndex(out)
	if len(m) == 0 {
		tb.Fatalf("local header of %s not found", name)
	}
	out[m[0]+8] = corruptMethod
	out[m[0]+9] = 0

	cdh := binaryregexp.MustCompile(
		binaryregexp.QuoteMeta("PK\x01\x02") +
			`[\x00-\xff]{42}` +
			binaryregexp.QuoteMeta(name))
	m = cdh.FindIndex(out)
	if len(m) == 0 {
		tb.Fatalf("central directory header of %s not found", name)
	}
	out[m[0]+10] = corruptMethod
	out[m[0]+11] = 0

	return out
}

// readFile reads p or fails the test.
func readFile(tb testing.TB, p string) []byte {
	tb.Helper()

	data, err := os.ReadFile(p)
	if err != nil {
		tb.Fatalf("ReadFile(%s): %v", p, err)
	}

	return data
}
