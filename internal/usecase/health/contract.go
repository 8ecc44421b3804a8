package health

import "context"

// StorePinger checks storage backend connectivity.
type StorePinger interface {
	Ping(ctx context.Context) error
}
