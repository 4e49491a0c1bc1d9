package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/skiatlas/internal/model"
)

func elements(n int) []model.RawElement {
	out := make([]model.RawElement, n)
	for i := range out {
		out[i] = nodeElement(int64(i+1), fmt.Sprintf("Area %d", i+1))
	}
	return out
}

func TestDiscover(t *testing.T) {
	op := &fakeOverpass{elements: elements(3)}
	got, err := NewDiscoverer(op).Discover(context.Background(), model.TriggerPayload{ResortName: "Zermatt"})
	require.NoError(t, err)
	assert.Len(t, got, 3)
	require.Len(t, op.queries, 1)
	assert.Contains(t, op.queries[0].Text, "Zermatt")
}

func TestDiscover_NoElements(t *testing.T) {
	_, err := NewDiscoverer(&fakeOverpass{}).Discover(context.Background(), model.TriggerPayload{Country: "Atlantis"})
	assert.ErrorIs(t, err, model.ErrNoElements)
}

func TestDiscover_UpstreamError(t *testing.T) {
	op := &fakeOverpass{err: model.NewUpstreamError("overpass", 429, errors.New("too many requests"))}
	_, err := NewDiscoverer(op).Discover(context.Background(), model.TriggerPayload{})
	require.Error(t, err)
	assert.True(t, model.IsUpstream(err))
}

func TestMakePlan(t *testing.T) {
	tests := []struct {
		name      string
		n         int
		trigger   model.TriggerPayload
		force     Mode
		mode      Mode
		batchLens []int
	}{
		{"few areas run directly", 10, model.TriggerPayload{}, "", ModeDirect, nil},
		{"resort in country runs directly", 3, model.TriggerPayload{Country: "Norway", ResortName: "Trysil"}, "", ModeDirect, nil},
		{"many areas are queued", 11, model.TriggerPayload{}, "", ModeQueued, []int{10, 1}},
		{"country trigger is queued", 3, model.TriggerPayload{Country: "Norway"}, "", ModeQueued, []int{3}},
		{"exact batches", 30, model.TriggerPayload{}, "", ModeQueued, []int{10, 10, 10}},
		{"forced direct", 25, model.TriggerPayload{Country: "Norway"}, ModeDirect, ModeDirect, nil},
		{"forced queued", 2, model.TriggerPayload{}, ModeQueued, ModeQueued, []int{2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := MakePlan(elements(tt.n), tt.trigger, PlanOptions{Force: tt.force})
			assert.Equal(t, tt.mode, plan.Mode)

			if tt.mode == ModeDirect {
				assert.Empty(t, plan.Batches)
				assert.Equal(t, tt.n, plan.State.Pending())
				return
			}

			require.Len(t, plan.Batches, len(tt.batchLens))
			ids := map[string]bool{}
			total := 0
			for i, b := range plan.Batches {
				assert.Len(t, b.Elements, tt.batchLens[i])
				assert.Equal(t, tt.trigger, b.Filter)
				assert.NotEmpty(t, b.BatchID)
				ids[b.BatchID] = true
				total += len(b.Elements)
			}
			assert.Len(t, ids, len(plan.Batches))
			assert.Equal(t, tt.n, total)
		})
	}
}

func TestMakePlan_PreservesOrder(t *testing.T) {
	plan := MakePlan(elements(15), model.TriggerPayload{}, PlanOptions{BatchSize: 4})
	require.Len(t, plan.Batches, 4)

	var ids []int64
	for _, b := range plan.Batches {
		for _, el := range b.Elements {
			ids = append(ids, el.ID)
		}
	}
	for i, id := range ids {
		assert.Equal(t, int64(i+1), id)
	}
}

func TestMakePlan_CustomThreshold(t *testing.T) {
	plan := MakePlan(elements(4), model.TriggerPayload{}, PlanOptions{DirectThreshold: 3})
	assert.Equal(t, ModeQueued, plan.Mode)
}
