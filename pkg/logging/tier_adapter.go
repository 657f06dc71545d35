package logging

// TierLogAdapter adapts an Emitter to cachetier.EventLogger's narrow
// Event(name, fields) shape, without pkg/logging importing pkg/cachetier.
type TierLogAdapter struct {
	emitter *Emitter
}

// NewTierLogAdapter wraps emitter for use as a cachetier.EventLogger.
// A nil emitter is valid; Event becomes a no-op.
func NewTierLogAdapter(emitter *Emitter) *TierLogAdapter {
	return &TierLogAdapter{emitter: emitter}
}

var tierEventTypes = map[string]string{
	"tier.add":                        EventTierAdd,
	"tier.delete":                     EventTierDelete,
	"tier.evict":                      EventTierEviction,
	"tier.writeback_failed":           EventTierWriteback,
	"tier.clean_writeback_failed":     EventTierWriteback,
	"tier.clean_failed":               EventTierEviction,
	"tier.evict_remove_bytes_failed":  EventTierEviction,
	"tier.clean_failure_wiped":        EventTierEviction,
}

// Event implements cachetier.EventLogger. It maps the tier's dotted
// event names onto the cache-domain Event* catalog and re-emits
// through the wrapped Emitter's sinks.
func (a *TierLogAdapter) Event(name string, fields map[string]interface{}) {
	if a == nil || a.emitter == nil {
		return
	}
	eventType, ok := tierEventTypes[name]
	if !ok {
		eventType = name
	}
	_ = a.emitter.Emit(eventType, name, "cachetier", nil, fields)
}
