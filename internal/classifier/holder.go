package classifier

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/docarchive/pkg/metrics"
)

// Holder is the process-wide reference to the current model. Readers take a
// snapshot with Current and keep using it for a whole classification, so a
// concurrent Swap is never observed halfway.
type Holder struct {
	current atomic.Pointer[Model]
	group   singleflight.Group
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewHolder(m *metrics.Metrics) *Holder {
	return &Holder{
		metrics: m,
		logger:  slog.Default().With("component", "model-holder"),
	}
}

// Current returns the active model, or nil before the first load.
func (h *Holder) Current() *Model {
	return h.current.Load()
}

// Swap installs model and returns the previous one.
func (h *Holder) Swap(model *Model) *Model {
	old := h.current.Swap(model)
	if model != nil {
		h.metrics.ModelVersion(model.Version)
	}
	return old
}

// ReloadFrom loads the artifact at path and installs it unless the active
// model already has the same version. Concurrent reloads of one path share a
// single read.
func (h *Holder) ReloadFrom(path string) (*Model, error) {
	v, err, _ := h.group.Do(path, func() (any, error) {
		model, err := LoadModel(path)
		if err != nil {
			return nil, err
		}
		if cur := h.Current(); cur != nil && cur.Version == model.Version {
			return cur, nil
		}
		old := h.Swap(model)
		oldVersion := int64(0)
		if old != nil {
			oldVersion = old.Version
		}
		h.logger.Info("classification model swapped",
			"path", path,
			"old_version", oldVersion,
			"new_version", model.Version,
			"fields", len(model.Fields),
		)
		return model, nil
	})
	if err != nil {
		return nil, fmt.Errorf("reloading model: %w", err)
	}
	return v.(*Model), nil
}
