package omnicas

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

func testData(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

// drainUpload runs the upload half of the callback protocol to EOF and
// returns the data and the number of prepared blocks.
func drainUpload(t *testing.T, c *StreamCallbacks, info *StreamInfo) ([]byte, int) {
	t.Helper()
	var (
		out    []byte
		blocks int
	)
	for {
		if err := c.PrepareBuffer(info); err != nil {
			t.Fatalf("PrepareBuffer failed: %v", err)
		}
		blocks++
		out = append(out, info.Buffer[:info.TransferLen]...)
		if err := c.BlockTransferred(info); err != nil {
			t.Fatalf("BlockTransferred failed: %v", err)
		}
		if info.AtEOF {
			break
		}
		if blocks > 1000 {
			t.Fatal("upload never reached EOF")
		}
	}
	if err := c.TransferComplete(info); err != nil {
		t.Fatalf("TransferComplete failed: %v", err)
	}
	return out, blocks
}

func TestUploadBlockCount(t *testing.T) {
	const block = 8
	sizes := []int{0, 1, block - 1, block, block + 1, 3 * block, 3*block + 5}

	for _, size := range sizes {
		for _, known := range []bool{false, true} {
			data := testData(size)
			c := NewReaderCallbacks(bytes.NewReader(data))
			c.BufferSize = block
			info := NewStreamInfo(Upload, nil)
			if known {
				info.StreamLen = int64(size)
			}

			got, blocks := drainUpload(t, c, info)
			if !bytes.Equal(got, data) {
				t.Errorf("size %d known=%t: data differs", size, known)
			}
			want := max(1, (size+block-1)/block)
			if blocks != want {
				t.Errorf("size %d known=%t: blocks = %d, want %d", size, known, blocks, want)
			}
			if info.StreamPos != int64(size) {
				t.Errorf("size %d known=%t: StreamPos = %d", size, known, info.StreamPos)
			}
		}
	}
}

func TestUploadResetMark(t *testing.T) {
	data := testData(40)
	c := NewReaderCallbacks(bytes.NewReader(data))
	c.BufferSize = 10
	info := NewStreamInfo(Upload, nil)

	for range 2 {
		if err := c.PrepareBuffer(info); err != nil {
			t.Fatalf("PrepareBuffer failed: %v", err)
		}
	}
	if err := c.SetMark(info); err != nil {
		t.Fatalf("SetMark failed: %v", err)
	}
	if info.MarkerPos != 20 {
		t.Fatalf("MarkerPos = %d, want 20", info.MarkerPos)
	}
	_ = c.PrepareBuffer(info)

	if err := c.ResetMark(info); err != nil {
		t.Fatalf("ResetMark failed: %v", err)
	}
	if info.StreamPos != 20 {
		t.Errorf("StreamPos after reset = %d, want 20", info.StreamPos)
	}
	if err := c.PrepareBuffer(info); err != nil {
		t.Fatalf("PrepareBuffer failed: %v", err)
	}
	if !bytes.Equal(info.Buffer[:info.TransferLen], data[20:30]) {
		t.Errorf("block after reset = %v, want %v", info.Buffer[:info.TransferLen], data[20:30])
	}
}

func TestUploadResetNotSeekable(t *testing.T) {
	c := NewReaderCallbacks(io.MultiReader(bytes.NewReader(testData(5))))
	info := NewStreamInfo(Upload, nil)
	_ = c.PrepareBuffer(info)

	if err := c.ResetMark(info); !errors.Is(err, ErrNotSeekable) {
		t.Errorf("ResetMark = %v, want ErrNotSeekable", err)
	}
}

func TestUploadRestartDropsLookahead(t *testing.T) {
	data := testData(40)
	r := bytes.NewReader(data)
	c := NewReaderCallbacks(r)
	c.BufferSize = 16

	// The first block of an unknown-length source reads one byte ahead.
	info := NewStreamInfo(Upload, nil)
	if err := c.PrepareBuffer(info); err != nil {
		t.Fatalf("PrepareBuffer failed: %v", err)
	}
	if info.AtEOF {
		t.Fatal("AtEOF after the first of three blocks")
	}

	// The transfer is abandoned here. The next one starts over.
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		t.Fatalf("Seek failed: %v", err)
	}
	c.Restart()

	got, _ := drainUpload(t, c, NewStreamInfo(Upload, nil))
	if !bytes.Equal(got, data) {
		t.Errorf("upload after Restart returned %d bytes, want %d matching bytes", len(got), len(data))
	}
}

func TestDownloadCallbacks(t *testing.T) {
	data := testData(25)
	var sink bytes.Buffer
	c := NewWriterCallbacks(&sink)
	info := NewStreamInfo(Download, nil)
	info.StreamLen = int64(len(data))
	info.Buffer = make([]byte, 10)

	for pos := 0; pos < len(data); pos += 10 {
		n := copy(info.Buffer, data[pos:])
		info.TransferLen = int64(n)
		info.AtEOF = pos+n == len(data)
		if err := c.BlockTransferred(info); err != nil {
			t.Fatalf("BlockTransferred failed: %v", err)
		}
		if !bytes.Equal(c.Block(), data[pos:pos+n]) {
			t.Errorf("Block() at %d = %v", pos, c.Block())
		}
	}
	if err := c.TransferComplete(info); err != nil {
		t.Fatalf("TransferComplete failed: %v", err)
	}

	if !bytes.Equal(sink.Bytes(), data) {
		t.Error("sink differs")
	}
	if info.StreamPos != int64(len(data)) {
		t.Errorf("StreamPos = %d, want %d", info.StreamPos, len(data))
	}
}

func TestStreamInfoString(t *testing.T) {
	info := NewStreamInfo(Download, "ctx")
	if info.UserData != "ctx" || info.Direction != Download {
		t.Errorf("NewStreamInfo = %+v", info)
	}
	if s := info.String(); s == "" {
		t.Error("String() is empty")
	}
}
