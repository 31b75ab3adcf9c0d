package api

import (
	"context"
	"errors"

	"github.com/go-kit/kit/endpoint"
)

var errInvalidRequest = errors.New("invalid request")

type Endpoints struct {
	Assets           endpoint.Endpoint
	Chart            endpoint.Endpoint
	Quote            endpoint.Endpoint
	Search           endpoint.Endpoint
	Series           endpoint.Endpoint
	Forex            endpoint.Endpoint
	Watchlist        endpoint.Endpoint
	AddWatchlist     endpoint.Endpoint
	RemoveWatchlist  endpoint.Endpoint
	RefreshWatchlist endpoint.Endpoint
	Health           endpoint.Endpoint
}

func MakeEndpoints(s *Service) Endpoints {
	return Endpoints{
		Assets: func(ctx context.Context, _ interface{}) (interface{}, error) {
			return s.Assets(ctx)
		},
		Chart: func(ctx context.Context, request interface{}) (interface{}, error) {
			req, ok := request.(ChartRequest)
			if !ok {
				return nil, errInvalidRequest
			}
			return s.Chart(ctx, req)
		},
		Quote: func(ctx context.Context, request interface{}) (interface{}, error) {
			symbol, ok := request.(string)
			if !ok {
				return nil, errInvalidRequest
			}
			return s.Quote(ctx, symbol)
		},
		Search: func(ctx context.Context, request interface{}) (interface{}, error) {
			query, ok := request.(string)
			if !ok {
				return nil, errInvalidRequest
			}
			return s.Search(ctx, query)
		},
		Series: func(ctx context.Context, request interface{}) (interface{}, error) {
			req, ok := request.(SeriesRequest)
			if !ok {
				return nil, errInvalidRequest
			}
			return s.Series(ctx, req)
		},
		Forex: func(ctx context.Context, request interface{}) (interface{}, error) {
			req, ok := request.(ForexRequest)
			if !ok {
				return nil, errInvalidRequest
			}
			return s.Forex(ctx, req)
		},
		Watchlist: func(ctx context.Context, _ interface{}) (interface{}, error) {
			return s.Watchlist(ctx)
		},
		AddWatchlist: func(ctx context.Context, request interface{}) (interface{}, error) {
			req, ok := request.(AddRequest)
			if !ok {
				return nil, errInvalidRequest
			}
			return s.AddToWatchlist(ctx, req)
		},
		RemoveWatchlist: func(ctx context.Context, request interface{}) (interface{}, error) {
			symbol, ok := request.(string)
			if !ok {
				return nil, errInvalidRequest
			}
			return s.RemoveFromWatchlist(ctx, symbol)
		},
		RefreshWatchlist: func(ctx context.Context, _ interface{}) (interface{}, error) {
			return s.RefreshWatchlist(ctx)
		},
		Health: func(ctx context.Context, _ interface{}) (interface{}, error) {
			return s.Health(ctx)
		},
	}
}
