package supervisor

import (
	"context"

	"github.com/patrick-slimelab/discord-indexer/internal/backfill"
	"github.com/patrick-slimelab/discord-indexer/internal/store"
)

// storeAdapter narrows *store.Store to the backfill.Store interface,
// translating the store's full ChannelBackfill post-image into the
// worker's trimmed Claim.
type storeAdapter struct {
	*store.Store
}

func (a storeAdapter) ClaimNextChannel(ctx context.Context) (*backfill.Claim, error) {
	cb, err := a.Store.ClaimNextChannel(ctx)
	if err != nil || cb == nil {
		return nil, err
	}
	return &backfill.Claim{ChannelID: cb.ChannelID, CursorBefore: cb.CursorBefore}, nil
}
