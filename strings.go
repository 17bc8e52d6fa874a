package omnicas

// DefaultStringBufferSize is the first buffer offered to a string output.
const DefaultStringBufferSize = 1024

// maxSizeAttempts bounds the probes made while a value keeps growing.
const maxSizeAttempts = 4

// readString calls fn with a default-sized buffer and, if the reported length
// exceeds it, once more with a buffer of exactly that length.
func readString(fn func(buf []byte) (int, error)) (string, error) {
	buf := make([]byte, DefaultStringBufferSize)
	for range maxSizeAttempts {
		n, err := fn(buf)
		if err != nil {
			return "", err
		}
		if n <= len(buf) {
			return string(buf[:n]), nil
		}
		buf = make([]byte, n)
	}
	return "", ErrBufferTooSmall
}

// readPair is readString for accessors that return a name and a value.
func readPair(fn func(name, value []byte) (int, int, error)) (string, string, error) {
	name := make([]byte, DefaultStringBufferSize)
	value := make([]byte, DefaultStringBufferSize)
	for range maxSizeAttempts {
		nl, vl, err := fn(name, value)
		if err != nil {
			return "", "", err
		}
		if nl <= len(name) && vl <= len(value) {
			return string(name[:nl]), string(value[:vl]), nil
		}
		if nl > len(name) {
			name = make([]byte, nl)
		}
		if vl > len(value) {
			value = make([]byte, vl)
		}
	}
	return "", "", ErrBufferTooSmall
}

// CopyOut implements the engine side of the string output contract: it
// copies as much of s as fits in buf and returns the full length.
func CopyOut(s string, buf []byte) int {
	copy(buf, s)
	return len(s)
}
