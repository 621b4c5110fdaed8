package plan_catalog

import (
	"testing"

	"github.com/fatflowers/stembill/pkg/config"
	"github.com/fatflowers/stembill/pkg/types"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCatalog(t *testing.T) *Catalog {
	c, err := New([]*types.PlanItem{
		{PriceID: "price_basic_m", Plan: "basic", Rank: 1, StorageLimitBytes: 100 * config.GiB, Interval: "month"},
		{PriceID: "price_pro_m", Plan: "pro", Rank: 2, StorageLimitBytes: 512 * config.GiB, Interval: "month"},
		{PriceID: "price_pro_y", Plan: "pro", Rank: 2, StorageLimitBytes: 512 * config.GiB, Interval: "year"},
	}, config.DefaultFreeStorageLimitBytes)
	require.NoError(t, err)
	return c
}

func TestRankAndStorageLimit(t *testing.T) {
	c := testCatalog(t)
	assert.Equal(t, 2, c.Rank("price_pro_m"))
	assert.Equal(t, FreeRank, c.Rank("price_unknown"))
	assert.Equal(t, 512*config.GiB, c.StorageLimit("price_pro_y"))
	assert.Equal(t, config.DefaultFreeStorageLimitBytes, c.StorageLimit("price_unknown"))

	_, err := c.Lookup("price_unknown")
	require.ErrorIs(t, err, ErrUnknownPrice)
}

func TestIsUpgrade(t *testing.T) {
	c := testCatalog(t)
	assert.True(t, c.IsUpgrade(nil, "price_basic_m"))
	assert.True(t, c.IsUpgrade(lo.ToPtr("price_basic_m"), "price_pro_m"))
	assert.False(t, c.IsUpgrade(lo.ToPtr("price_pro_m"), "price_basic_m"))
	assert.False(t, c.IsUpgrade(lo.ToPtr("price_pro_m"), "price_pro_y"))
	// any known paid plan outranks an unrecognized id
	assert.True(t, c.IsUpgrade(lo.ToPtr("price_legacy"), "price_basic_m"))
}

func TestClassify(t *testing.T) {
	c := testCatalog(t)
	assert.Equal(t, ChangeUpgrade, c.Classify(nil, "price_pro_m"))
	assert.Equal(t, ChangeUpgrade, c.Classify(lo.ToPtr("price_basic_m"), "price_pro_y"))
	assert.Equal(t, ChangeDowngrade, c.Classify(lo.ToPtr("price_pro_y"), "price_basic_m"))
	assert.Equal(t, ChangeLateral, c.Classify(lo.ToPtr("price_pro_m"), "price_pro_y"))
	assert.Equal(t, ChangeNone, c.Classify(lo.ToPtr("price_pro_m"), "price_pro_m"))
}

func TestNewRejectsDuplicates(t *testing.T) {
	_, err := New([]*types.PlanItem{{PriceID: "a", Rank: 1}, {PriceID: "a", Rank: 2}}, 1)
	require.Error(t, err)
}
