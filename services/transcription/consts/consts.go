package consts

const (
	// Audio channel selection
	ChannelLeft   = "left"
	ChannelRight  = "right"
	ChannelBoth   = "both"
	ChannelSingle = "single"

	// Default settings
	DefaultSampleRate = 16000
	MaxChunkSize      = 4 * 1024 * 1024  // 4MB per streamed chunk
	MaxUploadSize     = 64 * 1024 * 1024 // 64MB for the synchronous transcribe endpoint

	// Pagination
	DefaultPageSize = 20
	MaxPageSize     = 100

	// DurationTolerance is the accepted drift between tracked chunk
	// durations and the probed duration of the finalized artifact.
	DurationTolerance = 0.5
)

func ValidChannel(channel string) bool {
	switch channel {
	case ChannelLeft, ChannelRight, ChannelBoth, ChannelSingle:
		return true
	}
	return false
}
