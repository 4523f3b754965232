package board

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"coin/internal/model"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Migrate(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockRepository) SaveCatalog(ctx context.Context, catalog model.Catalog) error {
	args := m.Called(ctx, catalog)
	return args.Error(0)
}

func (m *MockRepository) LoadCatalog(ctx context.Context) (model.Catalog, error) {
	args := m.Called(ctx)
	catalog, _ := args.Get(0).(model.Catalog)
	return catalog, args.Error(1)
}

func (m *MockRepository) LogPrice(ctx context.Context, price model.Price) error {
	args := m.Called(ctx, price)
	return args.Error(0)
}

func price(exchange, pair string, last int64) model.Price {
	return model.Price{Exchange: exchange, Pair: pair, Last: decimal.NewFromInt(last)}
}

func TestBoard_ProcessPrice(t *testing.T) {
	mockRepo := new(MockRepository)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	b := NewBoard(logger, mockRepo)

	t.Run("logs and records", func(t *testing.T) {
		p := price("kraken", "XXBTZUSD", 60000)
		mockRepo.On("LogPrice", mock.Anything, p).Return(nil).Once()

		b.ProcessPrice(context.Background(), p)

		got, ok := b.Get("kraken", "XXBTZUSD")
		require.True(t, ok)
		assert.True(t, got.Last.Equal(p.Last))
		mockRepo.AssertExpectations(t)
	})

	t.Run("repository failure keeps the price", func(t *testing.T) {
		p := price("kraken", "XXBTZUSD", 61000)
		mockRepo.On("LogPrice", mock.Anything, p).Return(errors.New("db down")).Once()

		b.ProcessPrice(context.Background(), p)

		got, ok := b.Get("kraken", "XXBTZUSD")
		require.True(t, ok)
		assert.True(t, got.Last.Equal(decimal.NewFromInt(61000)))
		mockRepo.AssertExpectations(t)
	})
}

func TestBoard_Latest(t *testing.T) {
	b := NewBoard(nil, nil)
	b.ProcessPrice(context.Background(), price("kraken", "XXBTZUSD", 1))
	b.ProcessPrice(context.Background(), price("binance", "BTCEUR", 2))
	b.ProcessPrice(context.Background(), price("binance", "ADAEUR", 3))
	b.ProcessPrice(context.Background(), price("kraken", "XXBTZUSD", 4))

	latest := b.Latest()
	require.Len(t, latest, 3)
	assert.Equal(t, "ADAEUR", latest[0].Pair)
	assert.Equal(t, "BTCEUR", latest[1].Pair)
	assert.Equal(t, "XXBTZUSD", latest[2].Pair)
	assert.True(t, latest[2].Last.Equal(decimal.NewFromInt(4)))

	_, ok := b.Get("kraken", "XETHZEUR")
	assert.False(t, ok)
}
