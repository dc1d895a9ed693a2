package cache

import "context"

// None is the backend for environments without cache storage. Reads find
// nothing and writes fail with ErrUnsupported.
type None struct{}

func (None) Keys(ctx context.Context) ([]string, error) { return nil, nil }

func (None) Has(ctx context.Context, gen string) (bool, error) { return false, nil }

func (None) Open(ctx context.Context, gen string) error { return ErrUnsupported }

func (None) Delete(ctx context.Context, gen string) (bool, error) { return false, nil }

func (None) Put(ctx context.Context, gen, key string, e *Entry) error { return ErrUnsupported }

func (None) Match(ctx context.Context, gen, key string) (*Entry, bool, error) {
	return nil, false, nil
}

func (None) MatchAny(ctx context.Context, key string) (*Entry, bool, error) {
	return nil, false, nil
}

func (None) Entries(ctx context.Context, gen string) ([]string, error) { return nil, nil }

func (None) Close() error { return nil }
