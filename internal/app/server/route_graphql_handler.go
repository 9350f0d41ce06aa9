package server

import (
	"net/http"
	"sync"

	gqlhandler "github.com/graphql-go/handler"

	"paygate/internal/auth"
	gqlschema "paygate/internal/graphql"
)

var (
	graphQLHandler     http.Handler
	graphQLHandlerOnce sync.Once
	graphQLHandlerErr  error
)

func getGraphQLHandler() (http.Handler, error) {
	graphQLHandlerOnce.Do(func() {
		schema, err := gqlschema.NewSchema()
		if err != nil {
			graphQLHandlerErr = err
			return
		}

		base := gqlhandler.New(&gqlhandler.Config{
			Schema:   &schema,
			Pretty:   true,
			GraphiQL: false,
		})

		// RequireAuth has already validated the token.
		graphQLHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if username, ok := auth.UsernameFromContext(ctx); ok {
				ctx = gqlschema.WithViewer(ctx, username)
			}
			base.ContextHandler(ctx, w, r)
		})
	})

	return graphQLHandler, graphQLHandlerErr
}
