package mocks

//go:generate mockgen -destination=./mock_broker.go -package=mocks github.com/newthinker/tradecore/internal/broker OrderSender,QuoteSource,TradeJournal
