package sdk

import "encoding/json"

// envelope is the standard IIFL API response wrapper. Every endpoint returns
// {"type": "success"|"error", "code": "...", "description": "...", "result": {...}}
type envelope struct {
	Type        string          `json:"type"`
	Code        string          `json:"code"`
	Description string          `json:"description"`
	Result      json.RawMessage `json:"result"`
}

// loginRequest is the body sent to the auth endpoint.
type loginRequest struct {
	AppKey    string `json:"appKey"`
	SecretKey string `json:"secretKey"`
	Source    string `json:"source"`
}

// LoginResult is the payload returned on a successful login.
type LoginResult struct {
	Token            string `json:"token"`
	UserID           string `json:"userID"`
	IsInvestorClient bool   `json:"isInvestorClient"`
}

// Holding is one holding row as returned by the broker.
type Holding struct {
	TradingSymbol   string  `json:"tradingSymbol"`
	ISIN            string  `json:"isin"`
	Exchange        string  `json:"exchange"`
	Quantity        float64 `json:"quantity"`
	AveragePrice    float64 `json:"averagePrice"`
	LastTradedPrice float64 `json:"lastTradedPrice"`
}

// holdingsResult wraps the holdings list.
type holdingsResult struct {
	Holdings []Holding `json:"holdings"`
}

// Order is one order-book row as returned by the broker.
type Order struct {
	AppOrderID    int64   `json:"appOrderID"`
	TradingSymbol string  `json:"tradingSymbol"`
	OrderSide     string  `json:"orderSide"`
	OrderQuantity float64 `json:"orderQuantity"`
	OrderPrice    float64 `json:"orderPrice"`
	OrderStatus   string  `json:"orderStatus"`
	GeneratedAt   string  `json:"orderGeneratedDateTime"`
}

// ordersResult wraps the order list.
type ordersResult struct {
	Orders []Order `json:"orders"`
}
