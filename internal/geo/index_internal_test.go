package geo

import (
	"context"
	"fmt"
	"testing"

	"FuelSOS/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndexNearbyPagesPastOneSearch(t *testing.T) {
	st := testutil.NewStore(t)
	for i := 0; i < 7; i++ {
		testutil.SeedAttendant(t, st, fmt.Sprintf("att_%d", i), 0.5+float64(i))
	}
	testutil.SeedAttendant(t, st, "att_out", 40)

	idx, err := NewIndexDirectory(st)
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	idx.pageSize = 3
	ctx := context.Background()
	require.NoError(t, idx.Rebuild(ctx))

	got, err := idx.Nearby(ctx, testutil.Johannesburg, 10)
	require.NoError(t, err)
	ids := make([]string, 0, len(got))
	for _, a := range got {
		ids = append(ids, a.ID)
	}
	assert.ElementsMatch(t, []string{"att_0", "att_1", "att_2", "att_3", "att_4", "att_5", "att_6"}, ids)
}
