package graphql

import (
	"context"
	"errors"
	"strconv"

	gql "github.com/graphql-go/graphql"

	"paygate/internal/database"
	"paygate/internal/domain"
)

const defaultSyncRunLimit = 20

func NewSchema() (gql.Schema, error) {
	siteType := gql.NewObject(gql.ObjectConfig{
		Name: "Site",
		Fields: gql.Fields{
			"id":  &gql.Field{Type: gql.NewNonNull(gql.ID)},
			"url": &gql.Field{Type: gql.NewNonNull(gql.String)},
			// Only the masked key is ever exposed here.
			"apiKey":    &gql.Field{Type: gql.NewNonNull(gql.String)},
			"createdAt": &gql.Field{Type: gql.DateTime},
			"updatedAt": &gql.Field{Type: gql.DateTime},
		},
	})

	syncRunType := gql.NewObject(gql.ObjectConfig{
		Name: "SyncRun",
		Fields: gql.Fields{
			"id":             &gql.Field{Type: gql.NewNonNull(gql.ID)},
			"trigger":        &gql.Field{Type: gql.NewNonNull(gql.String)},
			"totalSites":     &gql.Field{Type: gql.NewNonNull(gql.Int)},
			"desiredEntries": &gql.Field{Type: gql.NewNonNull(gql.Int)},
			"newDevices":     &gql.Field{Type: gql.NewNonNull(gql.Int)},
			"failedSites":    &gql.Field{Type: gql.NewNonNull(gql.NewList(gql.NewNonNull(gql.String)))},
			"notifyFailed":   &gql.Field{Type: gql.NewNonNull(gql.Boolean)},
			"succeeded":      &gql.Field{Type: gql.NewNonNull(gql.Boolean)},
			"startedAt":      &gql.Field{Type: gql.DateTime},
			"finishedAt":     &gql.Field{Type: gql.DateTime},
		},
	})

	viewerType := gql.NewObject(gql.ObjectConfig{
		Name: "Viewer",
		Fields: gql.Fields{
			"username": &gql.Field{Type: gql.NewNonNull(gql.String)},
		},
	})

	queryType := gql.NewObject(gql.ObjectConfig{
		Name: "Query",
		Fields: gql.Fields{
			"viewer": &gql.Field{
				Type: viewerType,
				Resolve: func(p gql.ResolveParams) (interface{}, error) {
					viewer, err := ViewerFromContext(p.Context)
					if err != nil {
						return nil, err
					}
					return map[string]interface{}{"username": viewer.Username}, nil
				},
			},
			"sites": &gql.Field{
				Type: gql.NewNonNull(gql.NewList(gql.NewNonNull(siteType))),
				Resolve: authenticated(func(p gql.ResolveParams) (interface{}, error) {
					return listSites(p.Context)
				}),
			},
			"site": &gql.Field{
				Type: siteType,
				Args: gql.FieldConfigArgument{
					"id": &gql.ArgumentConfig{Type: gql.NewNonNull(gql.ID)},
				},
				Resolve: authenticated(func(p gql.ResolveParams) (interface{}, error) {
					id, _ := p.Args["id"].(string)
					return findSite(p.Context, id)
				}),
			},
			"syncRuns": &gql.Field{
				Type: gql.NewNonNull(gql.NewList(gql.NewNonNull(syncRunType))),
				Args: gql.FieldConfigArgument{
					"limit": &gql.ArgumentConfig{Type: gql.Int, DefaultValue: defaultSyncRunLimit},
				},
				Resolve: authenticated(func(p gql.ResolveParams) (interface{}, error) {
					limit := defaultSyncRunLimit
					if raw, ok := p.Args["limit"].(int); ok && raw > 0 {
						limit = raw
					}
					return listSyncRuns(p.Context, limit)
				}),
			},
		},
	})

	return gql.NewSchema(gql.SchemaConfig{
		Query: queryType,
	})
}

func listSites(ctx context.Context) (interface{}, error) {
	sites, err := database.ListSites(ctx)
	if err != nil {
		return nil, err
	}

	items := make([]map[string]interface{}, 0, len(sites))
	for _, site := range sites {
		items = append(items, buildSite(site))
	}
	return items, nil
}

func findSite(ctx context.Context, id string) (interface{}, error) {
	site, err := database.GetSite(ctx, id)
	if errors.Is(err, database.ErrSiteNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return buildSite(*site), nil
}

func buildSite(site domain.Site) map[string]interface{} {
	masked := site.Masked()
	return map[string]interface{}{
		"id":        masked.ID,
		"url":       masked.URL,
		"apiKey":    masked.APIKey,
		"createdAt": masked.CreatedAt,
		"updatedAt": masked.UpdatedAt,
	}
}

func listSyncRuns(ctx context.Context, limit int) (interface{}, error) {
	runs, err := database.ListSyncRuns(ctx, limit)
	if err != nil {
		return nil, err
	}

	items := make([]map[string]interface{}, 0, len(runs))
	for _, run := range runs {
		failed := run.FailedSites.Clone()
		if failed == nil {
			failed = []string{}
		}
		items = append(items, map[string]interface{}{
			"id":             strconv.FormatUint(run.ID, 10),
			"trigger":        run.Trigger,
			"totalSites":     run.TotalSites,
			"desiredEntries": run.DesiredEntries,
			"newDevices":     run.NewDevices,
			"failedSites":    failed,
			"notifyFailed":   run.NotifyFailed,
			"succeeded":      run.Succeeded(),
			"startedAt":      run.StartedAt,
			"finishedAt":     run.FinishedAt,
		})
	}
	return items, nil
}
