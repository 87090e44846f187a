// Package classifier suggests tags, correspondent, document type and storage
// path for a document. Deterministic rules are evaluated first and always win
// over the statistical model, which only fills the fields rules left unset.
package classifier

import (
	"sort"
)

// Features are non-text signals matched alongside the document text.
type Features struct {
	Filename string
	MimeType string
}

// Suggestions are the classifier's proposals. Unset fields are empty.
type Suggestions struct {
	Tags          []string `json:"tags,omitempty"`
	Correspondent string   `json:"correspondent,omitempty"`
	DocumentType  string   `json:"document_type,omitempty"`
	StoragePath   string   `json:"storage_path,omitempty"`
	// ModelFields lists the fields that were filled from the model.
	ModelFields []Field `json:"model_fields,omitempty"`
}

type Classifier struct {
	rules     *RuleSet
	holder    *Holder
	minScore  float64
	inboxTags []string
}

// New builds a classifier. rules and holder may be nil.
func New(rules *RuleSet, holder *Holder, minScore float64, inboxTags []string) *Classifier {
	if rules == nil {
		rules, _ = Compile(nil)
	}
	return &Classifier{rules: rules, holder: holder, minScore: minScore, inboxTags: inboxTags}
}

// Classify never fails: no match leaves fields unset.
func (c *Classifier) Classify(text string, f Features) Suggestions {
	subj := newSubject(text, f.Filename)

	var s Suggestions
	tags := newTagSet()
	for i := range c.rules.rules {
		r := &c.rules.rules[i]
		if !r.matches(&subj) {
			continue
		}
		switch r.Field {
		case FieldTag:
			tags.add(r.Value)
		case FieldCorrespondent:
			if s.Correspondent == "" {
				s.Correspondent = r.Value
			}
		case FieldDocumentType:
			if s.DocumentType == "" {
				s.DocumentType = r.Value
			}
		case FieldStoragePath:
			if s.StoragePath == "" {
				s.StoragePath = r.Value
			}
		}
	}

	var model *Model
	if c.holder != nil {
		model = c.holder.Current()
	}
	if preds := model.Predict(text); preds != nil {
		s.Correspondent = c.fill(&s, FieldCorrespondent, s.Correspondent, preds[FieldCorrespondent])
		s.DocumentType = c.fill(&s, FieldDocumentType, s.DocumentType, preds[FieldDocumentType])
		s.StoragePath = c.fill(&s, FieldStoragePath, s.StoragePath, preds[FieldStoragePath])
		added := false
		for _, p := range preds[FieldTag] {
			if p.Score >= c.minScore && c.rules.modelAllowed(FieldTag, p.Value) && tags.add(p.Value) {
				added = true
			}
		}
		if added {
			s.ModelFields = append(s.ModelFields, FieldTag)
		}
	}

	for _, t := range c.inboxTags {
		tags.add(t)
	}
	s.Tags = tags.list()
	return s
}

// fill returns current when a rule already set it, otherwise the best
// allowed prediction that clears the score threshold.
func (c *Classifier) fill(s *Suggestions, field Field, current string, preds []Prediction) string {
	if current != "" {
		return current
	}
	for _, p := range preds {
		if p.Score < c.minScore {
			break
		}
		if c.rules.modelAllowed(field, p.Value) {
			s.ModelFields = append(s.ModelFields, field)
			return p.Value
		}
	}
	return ""
}

// tagSet keeps first-insertion order.
type tagSet struct {
	seen  map[string]bool
	order []string
}

func newTagSet() *tagSet {
	return &tagSet{seen: make(map[string]bool)}
}

func (t *tagSet) add(tag string) bool {
	if tag == "" || t.seen[tag] {
		return false
	}
	t.seen[tag] = true
	t.order = append(t.order, tag)
	return true
}

func (t *tagSet) list() []string {
	if len(t.order) == 0 {
		return nil
	}
	return t.order
}

// MergeTags unions override tags with suggested ones, overrides first.
func MergeTags(overrides, suggested []string) []string {
	set := newTagSet()
	for _, t := range overrides {
		set.add(t)
	}
	for _, t := range suggested {
		set.add(t)
	}
	return set.list()
}

// SortedFields is a helper for logging ModelFields deterministically.
func SortedFields(fields []Field) []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = string(f)
	}
	sort.Strings(out)
	return out
}
