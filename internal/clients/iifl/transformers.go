package iifl

import (
	"strconv"

	"github.com/smehta/brokersync/internal/clients/iifl/sdk"
	"github.com/smehta/brokersync/internal/domain"
)

// transformHoldings maps broker holding rows onto the domain type.
// Market value is derived from quantity and last traded price since the
// broker does not return it directly.
func transformHoldings(raw []sdk.Holding) []domain.BrokerHolding {
	holdings := make([]domain.BrokerHolding, 0, len(raw))
	for _, h := range raw {
		holdings = append(holdings, domain.BrokerHolding{
			Symbol:      h.TradingSymbol,
			ISIN:        h.ISIN,
			Exchange:    h.Exchange,
			Quantity:    h.Quantity,
			AvgPrice:    h.AveragePrice,
			LastPrice:   h.LastTradedPrice,
			MarketValue: h.Quantity * h.LastTradedPrice,
		})
	}
	return holdings
}

// transformOrders maps broker order rows onto the domain type.
func transformOrders(raw []sdk.Order) []domain.BrokerOrder {
	orders := make([]domain.BrokerOrder, 0, len(raw))
	for _, o := range raw {
		orders = append(orders, domain.BrokerOrder{
			OrderID:  strconv.FormatInt(o.AppOrderID, 10),
			Symbol:   o.TradingSymbol,
			Side:     o.OrderSide,
			Quantity: o.OrderQuantity,
			Price:    o.OrderPrice,
			Status:   o.OrderStatus,
			PlacedAt: o.GeneratedAt,
		})
	}
	return orders
}
