package meters

import "context"

type registryKey struct{}

// NewContext returns a copy of ctx carrying registry. The steps record their
// own meters into it rather than into the registry they were built with.
func NewContext(ctx context.Context, registry Registry) context.Context {
	return context.WithValue(ctx, registryKey{}, registry)
}

// FromContext returns the registry carried by ctx, or fallback when there is
// none.
func FromContext(ctx context.Context, fallback Registry) Registry {
	if r, ok := ctx.Value(registryKey{}).(Registry); ok && r != nil {
		return r
	}
	return fallback
}
