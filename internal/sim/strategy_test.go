package sim

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arenalabs/agentarena/internal/domain"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testAgent() *domain.Agent {
	return &domain.Agent{
		ID:              "agent-1",
		Name:            "Tester",
		StartingBalance: dec("1000"),
		Balance:         dec("1000"),
		Status:          domain.AgentActive,
	}
}

func market(id, yes, no string) *domain.Market {
	return &domain.Market{
		ID:       id,
		Question: "q-" + id,
		YesPrice: dec(yes),
		NoPrice:  dec(no),
		Status:   domain.MarketActive,
	}
}

func TestMomentumNeedsTwoObservations(t *testing.T) {
	m := NewMomentum()
	agent := testAgent()
	markets := []*domain.Market{market("m1", "0.50", "0.50")}

	d, err := m.Pick(context.Background(), agent, markets, nil)
	require.NoError(t, err)
	assert.Nil(t, d, "first observation has no trend")

	markets[0].YesPrice = dec("0.56")
	d, err = m.Pick(context.Background(), agent, markets, nil)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, "m1", d.MarketID)
	assert.Equal(t, domain.SideYes, d.Side)
	assert.True(t, d.Stake.Equal(dec("50")), "stake %s", d.Stake)
}

func TestMomentumBacksFallingNo(t *testing.T) {
	m := NewMomentum()
	agent := testAgent()
	markets := []*domain.Market{market("m1", "0.50", "0.50")}

	_, err := m.Pick(context.Background(), agent, markets, nil)
	require.NoError(t, err)

	markets[0].YesPrice = dec("0.40")
	d, err := m.Pick(context.Background(), agent, markets, nil)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, domain.SideNo, d.Side)
}

func TestMomentumIgnoresSmallMoves(t *testing.T) {
	m := NewMomentum()
	agent := testAgent()
	markets := []*domain.Market{market("m1", "0.50", "0.50")}

	_, err := m.Pick(context.Background(), agent, markets, nil)
	require.NoError(t, err)

	markets[0].YesPrice = dec("0.51")
	d, err := m.Pick(context.Background(), agent, markets, nil)
	require.NoError(t, err)
	assert.Nil(t, d)
}

func TestContrarianFadesFavorite(t *testing.T) {
	c := NewContrarian()
	agent := testAgent()
	markets := []*domain.Market{
		market("m1", "0.60", "0.40"),
		market("m2", "0.92", "0.08"),
		market("m3", "0.10", "0.90"),
	}

	d, err := c.Pick(context.Background(), agent, markets, nil)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, "m2", d.MarketID, "picks the most lopsided market")
	assert.Equal(t, domain.SideNo, d.Side)
	assert.True(t, d.Stake.Equal(dec("30")), "stake %s", d.Stake)
}

func TestContrarianSkipsBalancedMarkets(t *testing.T) {
	c := NewContrarian()
	d, err := c.Pick(context.Background(), testAgent(), []*domain.Market{
		market("m1", "0.55", "0.45"),
	}, nil)
	require.NoError(t, err)
	assert.Nil(t, d)
}

func TestContrarianSkipsMarketsWithOpenBet(t *testing.T) {
	c := NewContrarian()
	open := []*domain.Prediction{{MarketID: "m2", Status: domain.PredictionOpen}}
	d, err := c.Pick(context.Background(), testAgent(), []*domain.Market{
		market("m2", "0.92", "0.08"),
	}, open)
	require.NoError(t, err)
	assert.Nil(t, d)
}

func TestLongshotPicksCheapestSide(t *testing.T) {
	l := NewLongshot()
	d, err := l.Pick(context.Background(), testAgent(), []*domain.Market{
		market("m1", "0.08", "0.92"),
		market("m2", "0.97", "0.03"),
		market("m3", "0.50", "0.50"),
	}, nil)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, "m2", d.MarketID)
	assert.Equal(t, domain.SideNo, d.Side)
	assert.True(t, d.Stake.Equal(dec("10")), "stake %s", d.Stake)
}

func TestLongshotRespectsCeiling(t *testing.T) {
	l := NewLongshot()
	d, err := l.Pick(context.Background(), testAgent(), []*domain.Market{
		market("m1", "0.30", "0.70"),
	}, nil)
	require.NoError(t, err)
	assert.Nil(t, d)
}

func TestOracleWithoutKeyIsNoop(t *testing.T) {
	o := NewOracle("", "")
	d, err := o.Pick(context.Background(), testAgent(), []*domain.Market{
		market("m1", "0.50", "0.50"),
	}, nil)
	require.NoError(t, err)
	assert.Nil(t, d)
}

func TestRegistry(t *testing.T) {
	r := DefaultRegistry("", "")
	assert.Equal(t, []string{"contrarian", "longshot", "momentum", "oracle"}, r.List())

	s, err := r.Get("momentum")
	require.NoError(t, err)
	assert.Equal(t, "momentum", s.Name())

	_, err = r.Get("nope")
	assert.Error(t, err)

	infos := r.ListInfo()
	require.Len(t, infos, 4)
	assert.NotEmpty(t, infos[0].Description)
}
