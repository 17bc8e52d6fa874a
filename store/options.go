package store

// WriterOption configures a writer created by Backend.NewWriter.
type WriterOption func(*WriterConfig)

// WriterConfig holds configuration for creating a writer.
type WriterConfig struct {
	// IfNotExists makes the write fail with ErrAlreadyExists when the key
	// is already present. Fixed-content data is written once.
	IfNotExists bool

	// ContentType is a MIME type hint for the content.
	ContentType string

	// Metadata is backend-specific metadata. S3 stores it as object metadata.
	Metadata map[string]string
}

// WithIfNotExists makes the writer write-once.
func WithIfNotExists() WriterOption {
	return func(c *WriterConfig) {
		c.IfNotExists = true
	}
}

// WithContentType sets the content type hint.
func WithContentType(contentType string) WriterOption {
	return func(c *WriterConfig) {
		c.ContentType = contentType
	}
}

// WithMetadata sets backend-specific metadata.
func WithMetadata(metadata map[string]string) WriterOption {
	return func(c *WriterConfig) {
		c.Metadata = metadata
	}
}

// ApplyWriterOptions applies options to a WriterConfig.
func ApplyWriterOptions(opts ...WriterOption) *WriterConfig {
	config := &WriterConfig{}
	for _, opt := range opts {
		opt(config)
	}
	return config
}

// ReaderOption configures a reader created by Backend.NewReader.
type ReaderOption func(*ReaderConfig)

// ReaderConfig holds configuration for creating a reader.
type ReaderConfig struct {
	// Offset is the byte offset to start reading from.
	Offset int64

	// Limit is the maximum number of bytes to read. 0 means no limit.
	Limit int64
}

// WithOffset sets the byte offset to start reading from.
func WithOffset(offset int64) ReaderOption {
	return func(c *ReaderConfig) {
		c.Offset = offset
	}
}

// WithLimit sets the maximum number of bytes to read.
func WithLimit(limit int64) ReaderOption {
	return func(c *ReaderConfig) {
		c.Limit = limit
	}
}

// ApplyReaderOptions applies options to a ReaderConfig.
func ApplyReaderOptions(opts ...ReaderOption) *ReaderConfig {
	config := &ReaderConfig{}
	for _, opt := range opts {
		opt(config)
	}
	return config
}
