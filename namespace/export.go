package namespace

import (
	"context"
	"sort"

	"github.com/lqhl/elacsym"
	"github.com/lqhl/elacsym/manifest"
	"github.com/lqhl/elacsym/model"
)

// Export returns every live document in the namespace, sorted by id.
// Intended for the admin export subcommand, not the query path.
func (ns *Namespace) Export(ctx context.Context) ([]model.Document, error) {
	m, err := ns.snapshot(ctx, manifest.Strong)
	if err != nil {
		return nil, err
	}

	byID := make(map[model.DocID]model.Document)
	// Walk oldest to newest so later versions of an id overwrite.
	for i := range m.Segments {
		seg := &m.Segments[i]
		payload, err := ns.segmentPayload(ctx, seg)
		if err != nil {
			return nil, err
		}
		ids, err := payload.IDs()
		if err != nil {
			return nil, elacsym.Wrap(elacsym.KindCorruption, err, "segment %s id column", seg.SegmentID)
		}
		live := make([]model.DocID, 0, len(ids))
		for _, id := range ids {
			if !seg.IsTombstoned(id) {
				live = append(live, id)
			}
		}
		if len(live) == 0 {
			continue
		}
		docs, err := payload.ReadByIDs(live, nil, true)
		if err != nil {
			return nil, elacsym.Wrap(elacsym.KindCorruption, err, "segment %s rows", seg.SegmentID)
		}
		for _, doc := range docs {
			byID[doc.ID] = doc
		}
	}

	out := make([]model.Document, 0, len(byID))
	for _, doc := range byID {
		out = append(out, doc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
