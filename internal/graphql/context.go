package graphql

import (
	"context"
	"errors"
	"strings"

	gql "github.com/graphql-go/graphql"
)

var ErrUnauthenticated = errors.New("unauthenticated")

type viewerKey struct{}

// Viewer is the dashboard operator a query runs on behalf of.
type Viewer struct {
	Username string `json:"username"`
}

// WithViewer attaches the authenticated operator to ctx. Blank names are ignored.
func WithViewer(ctx context.Context, username string) context.Context {
	username = strings.TrimSpace(username)
	if username == "" {
		return ctx
	}
	return context.WithValue(ctx, viewerKey{}, Viewer{Username: username})
}

func ViewerFromContext(ctx context.Context) (Viewer, error) {
	if ctx == nil {
		return Viewer{}, ErrUnauthenticated
	}
	viewer, ok := ctx.Value(viewerKey{}).(Viewer)
	if !ok {
		return Viewer{}, ErrUnauthenticated
	}
	return viewer, nil
}

// authenticated rejects the field unless a viewer is attached.
func authenticated(resolve gql.FieldResolveFn) gql.FieldResolveFn {
	return func(p gql.ResolveParams) (interface{}, error) {
		if _, err := ViewerFromContext(p.Context); err != nil {
			return nil, err
		}
		return resolve(p)
	}
}
