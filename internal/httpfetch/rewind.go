package httpfetch

import (
	"errors"
	"io"
)

// errLookAheadExceeded は先読みバッファを超えて読み進めた後に巻き戻そうとした場合のエラー。
var errLookAheadExceeded = errors.New("read beyond look-ahead buffer")

// rewindReader は先頭LookAheadバイトまでを記録し、その範囲内であれば先頭に巻き戻せるReader。
type rewindReader struct {
	src      io.Reader
	buf      []byte
	pos      int
	overflow bool
	err      error
}

func newRewindReader(src io.Reader) *rewindReader {
	return &rewindReader{src: src}
}

// Read はio.Readerを実装する。
func (r *rewindReader) Read(p []byte) (int, error) {
	if r.pos < len(r.buf) {
		n := copy(p, r.buf[r.pos:])
		r.pos += n
		return n, nil
	}
	if r.err != nil {
		return 0, r.err
	}
	n, err := r.src.Read(p)
	if n > 0 && !r.overflow {
		if len(r.buf)+n <= LookAhead {
			r.buf = append(r.buf, p[:n]...)
			r.pos += n
		} else {
			r.overflow = true
			r.buf = nil
			r.pos = 0
		}
	}
	if err != nil {
		r.err = err
	}
	return n, err
}

// Peek は本文先頭からnバイト（最大LookAhead）を読み位置を変えずに返す。
func (r *rewindReader) Peek(n int) ([]byte, error) {
	if n > LookAhead {
		n = LookAhead
	}
	if r.overflow {
		return nil, errLookAheadExceeded
	}
	chunk := make([]byte, 512)
	for len(r.buf) < n && r.err == nil {
		want := n - len(r.buf)
		if want > len(chunk) {
			want = len(chunk)
		}
		m, err := r.src.Read(chunk[:want])
		r.buf = append(r.buf, chunk[:m]...)
		if err != nil {
			r.err = err
		}
	}
	if len(r.buf) < n {
		n = len(r.buf)
	}
	if r.err != nil && r.err != io.EOF && n == 0 {
		return nil, r.err
	}
	return r.buf[:n], nil
}

// Rewind は読み位置を先頭に戻す。先読み範囲を超えていた場合はfalseを返す。
func (r *rewindReader) Rewind() bool {
	if r.overflow {
		return false
	}
	r.pos = 0
	return true
}
