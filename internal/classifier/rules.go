package classifier

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

// Field names a suggestion slot.
type Field string

const (
	FieldTag           Field = "tag"
	FieldCorrespondent Field = "correspondent"
	FieldDocumentType  Field = "document_type"
	FieldStoragePath   Field = "storage_path"
)

// MatchKind is the matching algorithm of a rule.
type MatchKind string

const (
	MatchNone    MatchKind = "none"
	MatchAny     MatchKind = "any"
	MatchAll     MatchKind = "all"
	MatchLiteral MatchKind = "literal"
	MatchRegex   MatchKind = "regex"
	MatchFuzzy   MatchKind = "fuzzy"
	// MatchSubstring matches Pattern anywhere, punctuation included.
	MatchSubstring MatchKind = "substring"
	// MatchExact matches when the whole text or the whole filename equals
	// Pattern, ignoring surrounding whitespace.
	MatchExact MatchKind = "exact"
	// MatchAuto never matches text; it allows the model to suggest Value.
	MatchAuto MatchKind = "auto"
)

// fuzzyThreshold is the minimum similarity for a fuzzy match.
const fuzzyThreshold = 0.9

// Rule assigns Value to Field when Pattern matches the document text.
type Rule struct {
	Field           Field     `yaml:"field"`
	Value           string    `yaml:"value"`
	Kind            MatchKind `yaml:"match"`
	Pattern         string    `yaml:"pattern"`
	Priority        int       `yaml:"priority"`
	CaseInsensitive bool      `yaml:"caseInsensitive"`

	order int
	re    []*regexp.Regexp
	// needle is the trimmed pattern of substring and exact rules, lower
	// cased when CaseInsensitive.
	needle string
}

// RuleSet is an immutable, priority-ordered list of compiled rules.
type RuleSet struct {
	rules []Rule
	auto  map[Field]map[string]bool
}

type rulesFile struct {
	Rules []Rule `yaml:"rules"`
}

// LoadRules reads and compiles a YAML rules file. An empty path yields an
// empty rule set.
func LoadRules(path string) (*RuleSet, error) {
	if path == "" {
		return Compile(nil)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rules file: %w", err)
	}
	var f rulesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing rules file: %w", err)
	}
	return Compile(f.Rules)
}

// Compile validates rules and orders them by descending priority, then by
// declaration order.
func Compile(rules []Rule) (*RuleSet, error) {
	rs := &RuleSet{
		rules: make([]Rule, 0, len(rules)),
		auto:  make(map[Field]map[string]bool),
	}
	for i, r := range rules {
		switch r.Field {
		case FieldTag, FieldCorrespondent, FieldDocumentType, FieldStoragePath:
		default:
			return nil, fmt.Errorf("rule %d: unknown field %q", i, r.Field)
		}
		if r.Value == "" {
			return nil, fmt.Errorf("rule %d: value is required", i)
		}
		if r.Kind == "" {
			r.Kind = MatchAny
		}
		r.order = i
		res, err := compilePattern(r)
		if err != nil {
			return nil, fmt.Errorf("rule %d (%s=%s): %w", i, r.Field, r.Value, err)
		}
		r.re = res
		r.needle = needle(r)
		if r.Kind == MatchAuto {
			if rs.auto[r.Field] == nil {
				rs.auto[r.Field] = make(map[string]bool)
			}
			rs.auto[r.Field][r.Value] = true
		}
		rs.rules = append(rs.rules, r)
	}
	sort.SliceStable(rs.rules, func(i, j int) bool {
		return rs.rules[i].Priority > rs.rules[j].Priority
	})
	return rs, nil
}

func (rs *RuleSet) Len() int {
	return len(rs.rules)
}

// modelAllowed reports whether the model may fill field with value. Fields
// without any auto rule accept every model suggestion.
func (rs *RuleSet) modelAllowed(field Field, value string) bool {
	allowed, ok := rs.auto[field]
	if !ok {
		return true
	}
	return allowed[value]
}

func compilePattern(r Rule) ([]*regexp.Regexp, error) {
	flags := ""
	if r.CaseInsensitive {
		flags = "(?i)"
	}
	switch r.Kind {
	case MatchNone, MatchAuto, MatchFuzzy:
		return nil, nil
	case MatchSubstring, MatchExact:
		if strings.TrimSpace(r.Pattern) == "" {
			return nil, fmt.Errorf("empty pattern")
		}
		return nil, nil
	case MatchAny, MatchAll:
		words := splitWords(r.Pattern)
		if len(words) == 0 {
			return nil, fmt.Errorf("empty pattern")
		}
		res := make([]*regexp.Regexp, 0, len(words))
		for _, w := range words {
			re, err := regexp.Compile(flags + `\b` + wordPattern(w) + `\b`)
			if err != nil {
				return nil, err
			}
			res = append(res, re)
		}
		return res, nil
	case MatchLiteral:
		if strings.TrimSpace(r.Pattern) == "" {
			return nil, fmt.Errorf("empty pattern")
		}
		re, err := regexp.Compile(flags + literalPattern(r.Pattern))
		if err != nil {
			return nil, err
		}
		return []*regexp.Regexp{re}, nil
	case MatchRegex:
		re, err := regexp.Compile(flags + r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid regex: %w", err)
		}
		return []*regexp.Regexp{re}, nil
	default:
		return nil, fmt.Errorf("unknown match kind %q", r.Kind)
	}
}

// literalPattern quotes p and anchors it on word boundaries, but only at ends
// that are word characters: "C++" or "ACME Inc." still match mid-sentence.
func literalPattern(p string) string {
	quoted := regexp.QuoteMeta(p)
	first, _ := utf8.DecodeRuneInString(p)
	last, _ := utf8.DecodeLastRuneInString(p)
	if isWordRune(first) {
		quoted = `\b` + quoted
	}
	if isWordRune(last) {
		quoted += `\b`
	}
	return quoted
}

// isWordRune matches the ASCII word class regexp uses for \b.
func isWordRune(r rune) bool {
	return r == '_' || r < utf8.RuneSelf && (unicode.IsLetter(r) || unicode.IsDigit(r))
}

func needle(r Rule) string {
	if r.Kind != MatchSubstring && r.Kind != MatchExact {
		return ""
	}
	n := strings.TrimSpace(r.Pattern)
	if r.CaseInsensitive {
		n = strings.ToLower(n)
	}
	return n
}

// subject is what rules are matched against: the document text and the
// original filename, separately and joined.
type subject struct {
	text     string
	filename string
	joined   string
	lower    string
}

func newSubject(text, filename string) subject {
	joined := text
	if filename != "" {
		joined = text + "\n" + filename
	}
	return subject{text: text, filename: filename, joined: joined}
}

// folded returns the joined subject in lower case, computing it once.
func (s *subject) folded() string {
	if s.lower == "" && s.joined != "" {
		s.lower = strings.ToLower(s.joined)
	}
	return s.lower
}

// splitWords splits a pattern on whitespace, keeping "quoted phrases"
// together.
func splitWords(pattern string) []string {
	var words []string
	for _, field := range wordSplitter.FindAllString(pattern, -1) {
		field = strings.Trim(field, `"`)
		field = strings.TrimSpace(field)
		if field != "" {
			words = append(words, field)
		}
	}
	return words
}

// wordPattern quotes w and lets any run of whitespace inside a phrase match.
func wordPattern(w string) string {
	parts := strings.Fields(w)
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	return strings.Join(parts, `\s+`)
}

func (r *Rule) matches(s *subject) bool {
	text := s.joined
	switch r.Kind {
	case MatchAny:
		for _, re := range r.re {
			if re.MatchString(text) {
				return true
			}
		}
		return false
	case MatchAll:
		for _, re := range r.re {
			if !re.MatchString(text) {
				return false
			}
		}
		return true
	case MatchLiteral, MatchRegex:
		return r.re[0].MatchString(text)
	case MatchSubstring:
		if r.CaseInsensitive {
			return strings.Contains(s.folded(), r.needle)
		}
		return strings.Contains(text, r.needle)
	case MatchExact:
		for _, whole := range []string{s.text, s.filename} {
			whole = strings.TrimSpace(whole)
			if whole == "" {
				continue
			}
			if whole == r.needle || r.CaseInsensitive && strings.ToLower(whole) == r.needle {
				return true
			}
		}
		return false
	case MatchFuzzy:
		return fuzzyContains(text, r.Pattern, r.CaseInsensitive)
	default:
		return false
	}
}

var (
	wordSplitter = regexp.MustCompile(`"[^"]+"|\S+`)
	punctuation  = regexp.MustCompile(`[^\p{L}\p{N}\s]`)
)

// fuzzyContains slides a window of the pattern's word count over text and
// reports whether any window is at least fuzzyThreshold similar.
func fuzzyContains(text, pattern string, insensitive bool) bool {
	if insensitive {
		text, pattern = strings.ToLower(text), strings.ToLower(pattern)
	}
	want := strings.Fields(punctuation.ReplaceAllString(pattern, " "))
	if len(want) == 0 {
		return false
	}
	words := strings.Fields(punctuation.ReplaceAllString(text, " "))
	target := strings.Join(want, " ")
	for i := 0; i+len(want) <= len(words); i++ {
		if similarity(strings.Join(words[i:i+len(want)], " "), target) >= fuzzyThreshold {
			return true
		}
	}
	return false
}

// similarity is 1 minus the normalised Levenshtein distance of a and b.
func similarity(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	longest := max(len(ra), len(rb))
	if longest == 0 {
		return 1
	}
	prev := make([]int, len(rb)+1)
	cur := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		cur[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return 1 - float64(prev[len(rb)])/float64(longest)
}
