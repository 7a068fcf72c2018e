package models

// RouteRequest - sor.v1.SorService/Route request
type RouteRequest struct {
	Chain                  string                   `json:"chain"`                            // network name from the network table, e.g. "mainnet"
	TokenIn                string                   `json:"tokenIn"`                          // hex address, 0xEeee... or the zero address for the native asset
	TokenOut               string                   `json:"tokenOut"`                         // hex address
	SwapType               string                   `json:"swapType"`                         // "EXACT_IN" | "EXACT_OUT"
	SwapAmount             string                   `json:"swapAmount"`                       // human amount, e.g. "1.5"
	ProtocolVersion        int                      `json:"protocolVersion"`                  // 2 or 3
	PoolIDs                []string                 `json:"poolIds,omitempty"`                // optional allowlist, bypasses the pool cache
	ConsiderPoolsWithHooks bool                     `json:"considerPoolsWithHooks,omitempty"` // include pools carrying a hook
	GraphTraversal         *GraphTraversalOverrides `json:"graphTraversalConfig,omitempty"`
}

// GraphTraversalOverrides - per request overrides of the traversal defaults, zero values are ignored
type GraphTraversalOverrides struct {
	MaxDepth                            int `json:"maxDepth,omitempty"`
	MaxNonBoostedPathDepth              int `json:"maxNonBoostedPathDepth,omitempty"`
	MaxNonBoostedHopTokensInBoostedPath int `json:"maxNonBoostedHopTokensInBoostedPath,omitempty"`
	ApproxPathsToReturn                 int `json:"approxPathsToReturn,omitempty"`
}

// PathToken is a token as the client side swap builder expects it
type PathToken struct {
	Address  string `json:"address"`
	Decimals int    `json:"decimals"`
}

// SorPath is one executable path of a quote
type SorPath struct {
	ProtocolVersion int         `json:"protocolVersion"`
	VaultVersion    int         `json:"vaultVersion"`
	InputAmountRaw  string      `json:"inputAmountRaw"`
	OutputAmountRaw string      `json:"outputAmountRaw"`
	Tokens          []PathToken `json:"tokens"`
	Pools           []string    `json:"pools"` // pool ids, buffer hops use the wrapper address
	IsBuffer        []bool      `json:"isBuffer"`
}

// RouteHop is a single pool trade inside a route
type RouteHop struct {
	PoolID         string `json:"poolId"`
	TokenIn        string `json:"tokenIn"`
	TokenOut       string `json:"tokenOut"`
	TokenInAmount  string `json:"tokenInAmount"`  // human amount
	TokenOutAmount string `json:"tokenOutAmount"` // human amount
	IsBuffer       bool   `json:"isBuffer"`
}

// SwapRoute is the human readable form of a path
type SwapRoute struct {
	TokenIn        string     `json:"tokenIn"`
	TokenOut       string     `json:"tokenOut"`
	TokenInAmount  string     `json:"tokenInAmount"`
	TokenOutAmount string     `json:"tokenOutAmount"`
	Share          string     `json:"share"` // fraction of the swap amount routed through this path
	Hops           []RouteHop `json:"hops"`
}

// BatchSwapStep - vault batch swap step, asset indices point into Quote.TokenAddresses
type BatchSwapStep struct {
	PoolID        string `json:"poolId"`
	AssetInIndex  int    `json:"assetInIndex"`
	AssetOutIndex int    `json:"assetOutIndex"`
	Amount        string `json:"amount"`
	UserData      string `json:"userData"`
}

// PriceImpact - either the impact or the reason it is unknown
type PriceImpact struct {
	PriceImpact string `json:"priceImpact,omitempty"` // e.g. "0.0012"
	Error       string `json:"error,omitempty"`
}

// Quote - sor.v1.SorService/Route response
type Quote struct {
	Chain                  string          `json:"chain"`
	ProtocolVersion        int             `json:"protocolVersion"`
	VaultVersion           int             `json:"vaultVersion"`
	SwapType               string          `json:"swapType"`
	TokenIn                string          `json:"tokenIn"`
	TokenOut               string          `json:"tokenOut"`
	TokenInAmount          string          `json:"tokenInAmount"`  // raw total in
	TokenOutAmount         string          `json:"tokenOutAmount"` // raw total out
	SwapAmount             string          `json:"swapAmount"`
	SwapAmountRaw          string          `json:"swapAmountRaw"`
	ReturnAmount           string          `json:"returnAmount"`
	ReturnAmountRaw        string          `json:"returnAmountRaw"`
	EffectivePrice         string          `json:"effectivePrice"`
	EffectivePriceReversed string          `json:"effectivePriceReversed"`
	Paths                  []SorPath       `json:"paths"`
	Routes                 []SwapRoute     `json:"routes"`
	Swaps                  []BatchSwapStep `json:"swaps"`
	TokenAddresses         []string        `json:"tokenAddresses"`
	PriceImpact            PriceImpact     `json:"priceImpact"`
}

// TokensRequest - sor.v1.SorService/Tokens request
type TokensRequest struct {
	Chain string `json:"chain"`
	// ProtocolVersion selects the pool version, 2 when unset
	ProtocolVersion int `json:"protocolVersion,omitempty"`
}

// TokensResponse - sor.v1.SorService/Tokens response
type TokensResponse struct {
	Tokens []RoutableToken `json:"tokens"`
}

// RoutableToken - a token reachable through at least one routable pool
type RoutableToken struct {
	Address  string `json:"address"`
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Decimals int    `json:"decimals"`
}

// ErrorResponse - body of failed non RPC endpoints
type ErrorResponse struct {
	Error string `json:"error"`
}
