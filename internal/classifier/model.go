package classifier

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/docarchive/internal/document"
	"github.com/Adithya-Monish-Kumar-K/docarchive/internal/indexer/tokenizer"
)

// Sample is one labelled document used for training.
type Sample struct {
	Text          string
	Tags          []string
	Correspondent string
	DocumentType  string
	StoragePath   string
}

// Prediction is one candidate value with its posterior probability.
type Prediction struct {
	Value string  `json:"value"`
	Score float64 `json:"score"`
}

// Model is a per-field multinomial naive Bayes classifier. A Model is never
// mutated after Train or LoadModel returns it.
type Model struct {
	Version   int64                 `json:"version"`
	TrainedAt time.Time             `json:"trained_at"`
	Fields    map[Field]*fieldModel `json:"fields"`
}

type fieldModel struct {
	Docs       int                    `json:"docs"`
	Vocabulary int                    `json:"vocabulary"`
	Classes    map[string]*classStats `json:"classes"`
}

type classStats struct {
	Docs   int            `json:"docs"`
	Tokens int            `json:"tokens"`
	Counts map[string]int `json:"counts"`
}

// Train builds a model from samples. Fields with fewer than two distinct
// values carry no information and are left out.
func Train(samples []Sample, version int64) *Model {
	m := &Model{
		Version:   version,
		TrainedAt: time.Now().UTC(),
		Fields:    make(map[Field]*fieldModel),
	}
	vocab := make(map[Field]map[string]struct{})
	for _, s := range samples {
		terms := tokenizer.Terms(s.Text)
		if len(terms) == 0 {
			continue
		}
		labels := map[Field][]string{
			FieldTag:           s.Tags,
			FieldCorrespondent: nonEmpty(s.Correspondent),
			FieldDocumentType:  nonEmpty(s.DocumentType),
			FieldStoragePath:   nonEmpty(s.StoragePath),
		}
		for field, values := range labels {
			for _, v := range values {
				fm := m.Fields[field]
				if fm == nil {
					fm = &fieldModel{Classes: make(map[string]*classStats)}
					m.Fields[field] = fm
					vocab[field] = make(map[string]struct{})
				}
				cs := fm.Classes[v]
				if cs == nil {
					cs = &classStats{Counts: make(map[string]int)}
					fm.Classes[v] = cs
				}
				fm.Docs++
				cs.Docs++
				for _, t := range terms {
					cs.Counts[t]++
					cs.Tokens++
					vocab[field][t] = struct{}{}
				}
			}
		}
	}
	for field, fm := range m.Fields {
		if len(fm.Classes) < 2 {
			delete(m.Fields, field)
			continue
		}
		fm.Vocabulary = len(vocab[field])
	}
	return m
}

func nonEmpty(v string) []string {
	if v == "" {
		return nil
	}
	return []string{v}
}

// Predict returns, per field, the candidate values ordered by descending
// posterior probability.
func (m *Model) Predict(text string) map[Field][]Prediction {
	if m == nil || len(m.Fields) == 0 {
		return nil
	}
	terms := tokenizer.Terms(text)
	if len(terms) == 0 {
		return nil
	}
	out := make(map[Field][]Prediction, len(m.Fields))
	for field, fm := range m.Fields {
		out[field] = fm.predict(terms)
	}
	return out
}

func (fm *fieldModel) predict(terms []string) []Prediction {
	preds := make([]Prediction, 0, len(fm.Classes))
	best := math.Inf(-1)
	for value, cs := range fm.Classes {
		logp := math.Log(float64(cs.Docs) / float64(fm.Docs))
		denom := float64(cs.Tokens + fm.Vocabulary)
		for _, t := range terms {
			logp += math.Log(float64(cs.Counts[t]+1) / denom)
		}
		preds = append(preds, Prediction{Value: value, Score: logp})
		best = math.Max(best, logp)
	}
	var sum float64
	for i := range preds {
		preds[i].Score = math.Exp(preds[i].Score - best)
		sum += preds[i].Score
	}
	for i := range preds {
		preds[i].Score /= sum
	}
	sort.Slice(preds, func(i, j int) bool {
		if preds[i].Score != preds[j].Score {
			return preds[i].Score > preds[j].Score
		}
		return preds[i].Value < preds[j].Value
	})
	return preds
}

// Save writes the model as JSON to path through a temporary file and a
// rename, so readers never observe a partial artifact.
func (m *Model) Save(path string) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encoding model: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating model directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".model-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp model file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing model: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing model: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing model: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("renaming model: %w", err)
	}
	return nil
}

func LoadModel(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading model: %w", err)
	}
	var m Model
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decoding model %s: %w", path, err)
	}
	if m.Fields == nil {
		m.Fields = make(map[Field]*fieldModel)
	}
	return &m, nil
}

// SamplesFrom turns committed records into training samples. Tags in
// exclude (the inbox tags) are dropped since every document carries them.
// Records without text teach nothing and are skipped.
func SamplesFrom(recs []*document.ArchiveRecord, exclude []string) []Sample {
	skip := make(map[string]bool, len(exclude))
	for _, t := range exclude {
		skip[strings.ToLower(t)] = true
	}
	samples := make([]Sample, 0, len(recs))
	for _, r := range recs {
		if strings.TrimSpace(r.Text) == "" {
			continue
		}
		var tags []string
		for _, t := range r.Tags {
			if !skip[strings.ToLower(t)] {
				tags = append(tags, t)
			}
		}
		samples = append(samples, Sample{
			Text:          r.Text,
			Tags:          tags,
			Correspondent: r.Correspondent,
			DocumentType:  r.DocumentType,
			StoragePath:   r.StoragePath,
		})
	}
	return samples
}
