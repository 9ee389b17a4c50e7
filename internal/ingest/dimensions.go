package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/gyeh/mrfsync/internal/model"
)

// UpsertHospitals stores directory records keyed by CCN and returns the
// ids written. Records without a CCN cannot be deduplicated and are
// skipped. A storage failure aborts the batch.
func UpsertHospitals(ctx context.Context, st Store, log zerolog.Logger, ext []model.ExternalHospital) (ids []int64, skipped int, err error) {
	start := time.Now()
	ids = make([]int64, 0, len(ext))
	for _, e := range ext {
		if e.CCN == "" {
			skipped++
			log.Warn().Str("external_id", e.ExternalID).Str("name", e.Name).Msg("hospital without CCN skipped")
			continue
		}
		h := model.HospitalFromExternal(e)
		id, err := st.UpsertHospital(ctx, &h)
		if err != nil {
			return ids, skipped, fmt.Errorf("upsert hospital %s: %w", e.CCN, err)
		}
		ids = append(ids, id)
	}
	log.Info().
		Int("hospitals_upserted", len(ids)).
		Int("skipped_no_ccn", skipped).
		Dur("duration", time.Since(start)).
		Msg("hospitals upserted")
	return ids, skipped, nil
}
