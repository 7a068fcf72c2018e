package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"

	"connectrpc.com/connect"
	"github.com/Cogwheel-Validator/spectra-sor/sor/models"
	"github.com/Cogwheel-Validator/spectra-sor/sor/service"
	"github.com/Cogwheel-Validator/spectra-sor/sor/snapshot"
)

const (
	// SorServiceName is the fully-qualified name of the order router service.
	SorServiceName = "sor.v1.SorService"

	// SorServiceRouteProcedure is the path of the SorService Route RPC.
	SorServiceRouteProcedure = "/" + SorServiceName + "/Route"
	// SorServiceTokensProcedure is the path of the SorService Tokens RPC.
	SorServiceTokensProcedure = "/" + SorServiceName + "/Tokens"
)

// Router is the routing backend the handlers call into.
type Router interface {
	Route(ctx context.Context, req models.RouteRequest) (*models.Quote, error)
	Tokens(ctx context.Context, chain string, version int) ([]models.RoutableToken, error)
	Networks() []string
}

var _ Router = (*service.Router)(nil)

// JSONCodec marshals the models with encoding/json. They are plain structs,
// which the default protojson codec rejects.
type JSONCodec struct{}

func (JSONCodec) Name() string { return "json" }

func (JSONCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (JSONCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// jsonCharsetCodec serves clients sending "application/json; charset=utf-8".
type jsonCharsetCodec struct{ JSONCodec }

func (jsonCharsetCodec) Name() string { return "json; charset=utf-8" }

// SorServer implements the SorService procedures
type SorServer struct {
	router Router
}

// NewSorServer creates a new SorServer
func NewSorServer(router Router) *SorServer {
	return &SorServer{router: router}
}

// NewSorServiceHandler builds the handler serving every SorService procedure
// and returns the path prefix to mount it on.
func NewSorServiceHandler(svc *SorServer, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{
		connect.WithCodec(JSONCodec{}),
		connect.WithCodec(jsonCharsetCodec{}),
	}, opts...)

	routeHandler := connect.NewUnaryHandler(SorServiceRouteProcedure, svc.Route, opts...)
	// token lists are side effect free and may be fetched with GET
	tokensHandler := connect.NewUnaryHandler(SorServiceTokensProcedure, svc.Tokens,
		append(slices.Clone(opts), connect.WithIdempotency(connect.IdempotencyNoSideEffects))...)

	return "/" + SorServiceName + "/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case SorServiceRouteProcedure:
			routeHandler.ServeHTTP(w, r)
		case SorServiceTokensProcedure:
			tokensHandler.ServeHTTP(w, r)
		default:
			http.NotFound(w, r)
		}
	})
}

// Route quotes a swap.
//
// Returns:
// - InvalidArgument (400): malformed body or invalid input (unknown chain, bad address, bad amount, ...)
// - Unavailable (503): the pool snapshot could not be loaded
// - OK with a zero quote: valid request but no route exists
// - OK: route found
func (s *SorServer) Route(
	ctx context.Context,
	req *connect.Request[models.RouteRequest],
) (*connect.Response[models.Quote], error) {
	q, err := s.router.Route(ctx, *req.Msg)
	if err != nil {
		return nil, toConnectError(req.Spec().Procedure, err)
	}
	return connect.NewResponse(q), nil
}

// Tokens lists the routable tokens of a chain.
func (s *SorServer) Tokens(
	ctx context.Context,
	req *connect.Request[models.TokensRequest],
) (*connect.Response[models.TokensResponse], error) {
	if req.Msg.Chain == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("chain is required"))
	}
	if req.Msg.ProtocolVersion < 0 {
		return nil, connect.NewError(connect.CodeInvalidArgument,
			fmt.Errorf("invalid protocolVersion %d", req.Msg.ProtocolVersion))
	}

	list, err := s.router.Tokens(ctx, req.Msg.Chain, req.Msg.ProtocolVersion)
	if err != nil {
		return nil, toConnectError(req.Spec().Procedure, err)
	}
	return connect.NewResponse(&models.TokensResponse{Tokens: list}), nil
}

// Ready reports ready once at least one network is configured.
func (s *SorServer) Ready(w http.ResponseWriter, r *http.Request) {
	networks := s.router.Networks()
	if len(networks) == 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready", "networks": networks})
}

// toConnectError maps router errors to connect codes. Anything unexpected
// becomes Internal without its details.
func toConnectError(procedure string, err error) error {
	var code connect.Code
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		code = connect.CodeInvalidArgument
	case errors.Is(err, snapshot.ErrSnapshotProvider):
		code = connect.CodeUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		code = connect.CodeDeadlineExceeded
	case errors.Is(err, context.Canceled):
		code = connect.CodeCanceled
	default:
		Logger.Error().Err(err).Str("procedure", procedure).Msg("Router failed")
		return connect.NewError(connect.CodeInternal, errors.New("internal server error"))
	}
	return connect.NewError(code, err)
}

// recoverHandler turns a handler panic into an Internal error
func recoverHandler(_ context.Context, spec connect.Spec, _ http.Header, p any) error {
	Logger.Error().
		Interface("panic", p).
		Str("procedure", spec.Procedure).
		Msg("Panic in RPC handler")
	return connect.NewError(connect.CodeInternal, errors.New("internal server error"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		Logger.Error().Err(err).Msg("Failed to encode response")
	}
}
