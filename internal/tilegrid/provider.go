package tilegrid

import "errors"

var (
	ErrInvalidTileSize  = errors.New("invalid tile size")
	ErrProviderAttached = errors.New("provider already attached to an engine")
	ErrLoopStopped      = errors.New("render loop stopped")
	ErrTaskPanicked     = errors.New("render task panicked")
)

// Request tags one asynchronous tile request. Providers must echo it
// unchanged in the matching Completion.
type Request struct {
	Coordinate
	Seq uint64
}

// Completion carries the real content for a Request.
type Completion struct {
	Request
	Content Content
}

// Provider supplies tile content.
//
// TileWidth and TileHeight must be constant for the provider's lifetime.
// RequestTile must not block: it returns placeholder content and starts
// producing the real content, which is delivered at most once through the
// registered completion handler, possibly from another goroutine.
type Provider interface {
	TileWidth() int
	TileHeight() int
	RequestTile(req Request) Content
	SetCompletionHandler(fn func(Completion)) error
}

// Canceler is implemented by providers that can abandon in-flight requests.
// Cancellation is best effort; a completion may still arrive.
type Canceler interface {
	CancelTile(req Request)
}
