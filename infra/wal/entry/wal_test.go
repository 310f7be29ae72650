package entry

import (
	"fmt"
	"io"
	"os"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTest(t *testing.T, dir string, segSize int64) *WAL {
	t.Helper()
	w, err := Open(Config{Dir: dir, SegmentSize: segSize})
	require.NoError(t, err)
	return w
}

func collect(t *testing.T, dir string, after uint64) []*Record {
	t.Helper()
	var out []*Record
	_, err := ReplayAfter(dir, after, func(r *Record) error {
		out = append(out, r)
		return nil
	})
	require.NoError(t, err)
	return out
}

func TestAppendReplay(t *testing.T) {
	dir := t.TempDir()
	w := openTest(t, dir, 1<<20)

	for i := 1; i <= 10; i++ {
		seq, err := w.Append(RecordEvent, []byte(fmt.Sprintf("event-%d", i)))
		require.NoError(t, err)
		assert.Equal(t, uint64(i), seq)
	}
	require.NoError(t, w.Close())

	recs := collect(t, dir, 0)
	require.Len(t, recs, 10)
	for i, r := range recs {
		assert.Equal(t, uint64(i+1), r.Seq)
		assert.Equal(t, RecordEvent, r.Type)
		assert.Equal(t, fmt.Sprintf("event-%d", i+1), string(r.Data))
	}

	tail := collect(t, dir, 7)
	require.Len(t, tail, 3)
	assert.Equal(t, uint64(8), tail[0].Seq)
}

func TestReopenContinuesSequence(t *testing.T) {
	dir := t.TempDir()
	w := openTest(t, dir, 1<<20)
	for i := 0; i < 3; i++ {
		_, err := w.Append(RecordEvent, []byte("x"))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	w = openTest(t, dir, 1<<20)
	assert.Equal(t, uint64(3), w.LastSeq())
	seq, err := w.Append(RecordMarker, []byte("restart"))
	require.NoError(t, err)
	assert.Equal(t, uint64(4), seq)
	require.NoError(t, w.Close())

	assert.Len(t, collect(t, dir, 0), 4)
}

func TestRotationAndTruncate(t *testing.T) {
	dir := t.TempDir()
	// every frame exceeds the segment size, so each append seals a segment
	w := openTest(t, dir, 16)
	for i := 0; i < 5; i++ {
		_, err := w.Append(RecordEvent, []byte("payload"))
		require.NoError(t, err)
	}
	assert.Equal(t, 6, w.Segments())

	removed, err := w.TruncateBefore(3)
	require.NoError(t, err)
	assert.Equal(t, 3, removed)

	recs := collect(t, dir, 0)
	require.Len(t, recs, 2)
	assert.Equal(t, uint64(4), recs[0].Seq)

	// the active segment survives even when fully covered
	_, err = w.TruncateBefore(100)
	require.NoError(t, err)
	assert.Equal(t, 1, w.Segments())
	require.NoError(t, w.Close())
}

func TestTornTailIsTruncated(t *testing.T) {
	dir := t.TempDir()
	w := openTest(t, dir, 1<<20)
	for i := 0; i < 3; i++ {
		_, err := w.Append(RecordEvent, []byte("intact"))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	path := segmentPath(dir, 0)
	st, err := os.Stat(path)
	require.NoError(t, err)
	require.NoError(t, os.Truncate(path, st.Size()-3))

	// replay tolerates the torn tail of the newest segment
	assert.Len(t, collect(t, dir, 0), 2)

	w = openTest(t, dir, 1<<20)
	assert.Equal(t, uint64(2), w.LastSeq())
	seq, err := w.Append(RecordEvent, []byte("after"))
	require.NoError(t, err)
	assert.Equal(t, uint64(3), seq)
	require.NoError(t, w.Close())

	recs := collect(t, dir, 0)
	require.Len(t, recs, 3)
	assert.Equal(t, "after", string(recs[2].Data))
}

// shortFile writes only limit bytes of the next frame and fails.
type shortFile struct {
	*os.File
	limit    int
	armed    bool
	truncErr error
}

func (f *shortFile) Write(b []byte) (int, error) {
	if !f.armed {
		return f.File.Write(b)
	}
	f.armed = false
	n, _ := f.File.Write(b[:f.limit])
	return n, io.ErrShortWrite
}

func (f *shortFile) Truncate(size int64) error {
	if f.truncErr != nil {
		return f.truncErr
	}
	return f.File.Truncate(size)
}

func injectShortWrite(w *WAL, truncErr error) {
	w.current.file = &shortFile{File: w.current.file.(*os.File), limit: 5, armed: true, truncErr: truncErr}
}

func TestShortWriteIsCutBack(t *testing.T) {
	dir := t.TempDir()
	w := openTest(t, dir, 1<<20)
	_, err := w.Append(RecordEvent, []byte("first"))
	require.NoError(t, err)

	injectShortWrite(w, nil)
	_, err = w.Append(RecordEvent, []byte("lost"))
	require.Error(t, err)

	seq, err := w.Append(RecordEvent, []byte("second"))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), seq)
	require.NoError(t, w.Close())

	// a confirmed record must survive recovery
	w = openTest(t, dir, 1<<20)
	assert.Equal(t, uint64(2), w.LastSeq())
	require.NoError(t, w.Close())

	recs := collect(t, dir, 0)
	require.Len(t, recs, 2)
	assert.Equal(t, "first", string(recs[0].Data))
	assert.Equal(t, "second", string(recs[1].Data))
}

func TestUnrepairedShortWriteDisablesAppends(t *testing.T) {
	dir := t.TempDir()
	w := openTest(t, dir, 1<<20)
	_, err := w.Append(RecordEvent, []byte("first"))
	require.NoError(t, err)

	injectShortWrite(w, errors.New("read-only file system"))
	_, err = w.Append(RecordEvent, []byte("lost"))
	assert.True(t, errors.Is(err, ErrFailed), "got %v", err)

	_, err = w.Append(RecordEvent, []byte("refused"))
	assert.True(t, errors.Is(err, ErrFailed))
	require.NoError(t, w.Close())

	w = openTest(t, dir, 1<<20)
	assert.Equal(t, uint64(1), w.LastSeq())
	require.NoError(t, w.Close())
	assert.Len(t, collect(t, dir, 0), 1)
}

func TestCorruptSealedSegment(t *testing.T) {
	dir := t.TempDir()
	w := openTest(t, dir, 16)
	for i := 0; i < 3; i++ {
		_, err := w.Append(RecordEvent, []byte("payload"))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	path := segmentPath(dir, 0)
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	b[headerSize] ^= 0xFF
	require.NoError(t, os.WriteFile(path, b, 0o644))

	_, err = Replay(dir, func(*Record) error { return nil })
	assert.True(t, errors.Is(err, ErrCorruptRecord), "got %v", err)

	_, err = Open(Config{Dir: dir, SegmentSize: 16})
	assert.True(t, errors.Is(err, ErrCorruptRecord))
}

func TestReplayHandlerErrorStops(t *testing.T) {
	dir := t.TempDir()
	w := openTest(t, dir, 1<<20)
	for i := 0; i < 3; i++ {
		_, err := w.Append(RecordEvent, []byte("x"))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	boom := errors.New("boom")
	calls := 0
	_, err := Replay(dir, func(*Record) error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestAppendAfterClose(t *testing.T) {
	w := openTest(t, t.TempDir(), 1<<20)
	require.NoError(t, w.Close())
	_, err := w.Append(RecordEvent, []byte("x"))
	assert.Error(t, err)
	assert.NoError(t, w.Close())
}

func BenchmarkAppend(b *testing.B) {
	w, err := Open(Config{Dir: b.TempDir()})
	if err != nil {
		b.Fatal(err)
	}
	defer w.Close()
	payload := make([]byte, 128)
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := w.Append(RecordEvent, payload); err != nil {
			b.Fatal(err)
		}
	}
}
