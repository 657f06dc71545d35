package derive

import (
	"context"
	"sort"
	"strings"

	"github.com/adelaide-ecoinformatics/image-repository/pkg/artifact"
	"github.com/adelaide-ecoinformatics/image-repository/pkg/imagename"
)

// applyMetadata extracts h's embedded metadata and returns a new Handle
// whose bytes are its sorted "key=value" rendering. The result carries no
// decoded image; it is not further derivable.
func (e *Engine) applyMetadata(ctx context.Context, h *artifact.Handle, op imagename.Op) (*artifact.Handle, error) {
	meta, err := h.Metadata(ctx)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(meta[k])
		b.WriteByte('\n')
	}
	return artifact.FromBytes(nil, []byte(b.String()), op.MetaKind), nil
}
