// Package extract finds one-time verification codes in message text using
// tiered pattern rules and a tunable scoring table.
package extract

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/HerbHall/mailpulse/pkg/models"
	"go.uber.org/zap"
)

// Context tags for candidates that received no context penalty.
const (
	ContextLabel   = "label"
	ContextSubject = "subject"
	ContextNearby  = "nearby"
	ContextBare    = "bare"
)

// labelLookback bounds how much text before a digit run is searched for an
// explicit label.
const labelLookback = 120

// Options controls a single Extract call.
type Options struct {
	// All returns every candidate per message instead of only the best.
	All bool
}

type penalty struct {
	tag    string
	amount int
	re     *regexp.Regexp
}

// Extractor applies a compiled Rules table. It holds no mutable state and
// is safe for concurrent use.
type Extractor struct {
	rules     Rules
	digits    *regexp.Regexp
	label     *regexp.Regexp
	bracket   *regexp.Regexp
	words     *regexp.Regexp
	penalties []penalty
	denylist  map[string]struct{}
	logger    *zap.Logger
}

// New compiles rules into an Extractor.
func New(rules Rules, logger *zap.Logger) (*Extractor, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	rules = rules.withDefaults()
	if rules.MinDigits > rules.MaxDigits {
		return nil, fmt.Errorf("extract: min_digits %d exceeds max_digits %d", rules.MinDigits, rules.MaxDigits)
	}

	e := &Extractor{
		rules:    rules,
		digits:   regexp.MustCompile(`\d+`),
		denylist: make(map[string]struct{}, len(rules.Denylist)),
		logger:   logger,
	}
	for _, d := range rules.Denylist {
		e.denylist[strings.TrimSpace(d)] = struct{}{}
	}

	var err error
	e.label, err = regexp.Compile(`(?i)(?:` + alternation(rules.Keywords) + `)(?:[\s:：\-–—=#]+|\bis\b|\bwas\b)*$`)
	if err != nil {
		return nil, fmt.Errorf("extract: compile keywords: %w", err)
	}
	e.words, err = regexp.Compile(`(?i)` + alternation(append(append([]string{}, rules.VerificationWords...), rules.Keywords...)))
	if err != nil {
		return nil, fmt.Errorf("extract: compile verification words: %w", err)
	}
	e.bracket, err = regexp.Compile(fmt.Sprintf(`^\s*[\[(【（]\s*(\d{%d,%d})\s*[\])】）]`, rules.MinDigits, rules.MaxDigits))
	if err != nil {
		return nil, fmt.Errorf("extract: compile subject pattern: %w", err)
	}
	for _, p := range rules.ContextPenalties {
		if len(p.Words) == 0 {
			continue
		}
		re, err := regexp.Compile(`(?i)` + alternation(p.Words))
		if err != nil {
			return nil, fmt.Errorf("extract: compile penalty %q: %w", p.Tag, err)
		}
		e.penalties = append(e.penalties, penalty{tag: p.Tag, amount: p.Penalty, re: re})
	}
	return e, nil
}

// Rules returns the active rule table.
func (e *Extractor) Rules() Rules {
	return e.rules
}

// Extract returns candidates from msgs ordered newest first. Unless
// opts.All is set each message contributes at most its best candidate.
// Candidates sharing code, receive time and subject are reported once.
func (e *Extractor) Extract(msgs []models.Message, opts Options) []models.CodeCandidate {
	type dedupeKey struct {
		code     string
		received int64
		subject  string
	}
	seen := make(map[dedupeKey]int)
	var out []models.CodeCandidate

	for _, msg := range msgs {
		for _, c := range e.scan(msg, opts.All) {
			k := dedupeKey{c.Code, c.ReceivedAt.UnixNano(), c.Subject}
			if i, ok := seen[k]; ok {
				if c.Score > out[i].Score {
					out[i] = c
				}
				continue
			}
			seen[k] = len(out)
			out = append(out, c)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].ReceivedAt.Equal(out[j].ReceivedAt) {
			return out[i].ReceivedAt.After(out[j].ReceivedAt)
		}
		return out[i].Score > out[j].Score
	})
	for _, c := range out {
		extractCandidates.WithLabelValues(string(c.Tier)).Inc()
	}
	e.logger.Debug("extraction complete",
		zap.Int("messages", len(msgs)),
		zap.Int("candidates", len(out)),
	)
	return out
}

// scan finds the candidates in one message.
func (e *Extractor) scan(msg models.Message, all bool) []models.CodeCandidate {
	text := msg.Subject
	if msg.BodyText != "" {
		if text != "" {
			text += "\n"
		}
		text += msg.BodyText
	}
	if text == "" {
		return nil
	}

	bracketStart, bracketEnd := -1, -1
	if m := e.bracket.FindStringSubmatchIndex(msg.Subject); m != nil {
		bracketStart, bracketEnd = m[2], m[3]
	}
	wordLocs := e.words.FindAllStringIndex(text, -1)

	best := make(map[string]models.CodeCandidate)
	var order []string

	for _, loc := range e.digits.FindAllStringIndex(text, -1) {
		start, end := loc[0], loc[1]
		code := text[start:end]
		if n := len(code); n < e.rules.MinDigits || n > e.rules.MaxDigits {
			continue
		}
		if !isolated(text, start, end) {
			continue
		}

		var tier models.CodeTier
		var tag string
		switch {
		case e.labelled(text, start):
			tier, tag = models.TierExplicit, ContextLabel
		case start == bracketStart && end == bracketEnd:
			tier, tag = models.TierHeuristic, ContextSubject
		case near(wordLocs, start, end, e.rules.Proximity):
			tier, tag = models.TierHeuristic, ContextNearby
		default:
			if !e.acceptBare(text, code, start, end, len(wordLocs) > 0) {
				continue
			}
			tier, tag = models.TierBare, ContextBare
		}

		score, ptag := e.score(text, code, start, end, tier)
		if ptag != "" {
			tag = ptag
		}
		if score < e.rules.MinScore {
			continue
		}

		c := models.CodeCandidate{
			Code:       code,
			MessageID:  msg.ID,
			Sender:     msg.Sender,
			Subject:    msg.Subject,
			ReceivedAt: msg.ReceivedAt,
			Tier:       tier,
			Context:    tag,
			Score:      score,
		}
		prev, ok := best[code]
		if !ok {
			order = append(order, code)
			best[code] = c
			continue
		}
		if better(c, prev) {
			best[code] = c
		}
	}

	if len(order) == 0 {
		return nil
	}
	cands := make([]models.CodeCandidate, 0, len(order))
	for _, code := range order {
		cands = append(cands, best[code])
	}
	sort.SliceStable(cands, func(i, j int) bool { return better(cands[i], cands[j]) })
	if !all {
		cands = cands[:1]
	}
	return cands
}

// better orders candidates by score, then by tier confidence.
func better(a, b models.CodeCandidate) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.Tier < b.Tier
}

// labelled reports whether a verification keyword, followed only by
// separators, ends right where the digit run starts.
func (e *Extractor) labelled(text string, start int) bool {
	from := max(0, start-labelLookback)
	for from > 0 && !utf8.RuneStart(text[from]) {
		from++
	}
	return e.label.MatchString(text[from:start])
}

func (e *Extractor) acceptBare(text, code string, start, end int, hasWord bool) bool {
	if e.denied(code) {
		return false
	}
	return hasWord || positionalOK(text, code, start, end)
}

func (e *Extractor) denied(code string) bool {
	if _, ok := e.denylist[code]; ok {
		return true
	}
	return allSame(code) || sequential(code)
}

// score applies the scoring table and returns the tag of the largest
// context penalty that applied, if any.
func (e *Extractor) score(text, code string, start, end int, tier models.CodeTier) (int, string) {
	r := e.rules
	s := r.BaseScore
	if n := len(code); n == 6 || n == 7 {
		s += r.LengthBonus
	}
	switch tier {
	case models.TierExplicit:
		s += r.TierABonus
	case models.TierHeuristic:
		s += r.TierBBonus
	case models.TierBare:
		s += r.TierCBonus
	}
	if longestRepeat(code) >= 4 {
		s -= r.RepeatPenalty
	}

	window := surrounding(text, start, end, r.ContextWindow)
	tag, worst := "", 0
	for _, p := range e.penalties {
		if p.re.MatchString(window) {
			s -= p.amount
			if p.amount > worst {
				tag, worst = p.tag, p.amount
			}
		}
	}
	return s, tag
}

// surrounding returns the text within n bytes either side of [start,end),
// excluding the digits themselves, trimmed to rune boundaries.
func surrounding(text string, start, end, n int) string {
	from := max(0, start-n)
	for from > 0 && !utf8.RuneStart(text[from]) {
		from++
	}
	to := min(len(text), end+n)
	for to < len(text) && !utf8.RuneStart(text[to]) {
		to--
	}
	return text[from:start] + " " + text[end:to]
}

func near(locs [][]int, start, end, within int) bool {
	for _, l := range locs {
		if l[1] <= start && start-l[1] <= within {
			return true
		}
		if l[0] >= end && l[0]-end <= within {
			return true
		}
	}
	return false
}

// isolated reports whether the run is not glued to letters or further digits.
func isolated(text string, start, end int) bool {
	if start > 0 {
		r, _ := utf8.DecodeLastRuneInString(text[:start])
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return false
		}
	}
	if end < len(text) {
		r, _ := utf8.DecodeRuneInString(text[end:])
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// positionalOK rejects digit runs that look like part of a phone number,
// date, time, price or year.
func positionalOK(text, code string, start, end int) bool {
	if len(code) == 4 {
		if y, err := strconv.Atoi(code); err == nil && y >= 1900 && y <= 2099 {
			return false
		}
	}

	before := strings.TrimRight(text[:start], " ")
	if before != "" {
		r, _ := utf8.DecodeLastRuneInString(before)
		if strings.ContainsRune("+$€£¥#", r) {
			return false
		}
	}
	if joinedNumber(text[:start], true) || joinedNumber(text[end:], false) {
		return false
	}

	after := strings.ToLower(strings.TrimLeft(text[end:], " "))
	if strings.HasPrefix(after, "am") || strings.HasPrefix(after, "pm") {
		return false
	}
	if strings.HasSuffix(before, "(") && strings.HasPrefix(after, ")") {
		return false
	}
	return true
}

// joinedNumber reports whether s (the text before or after a digit run)
// continues the number with a separator and another digit, as in
// 2026-01-15, 12:30 or 1,250.00.
func joinedNumber(s string, before bool) bool {
	const seps = "-/.:,"
	if before {
		n := len(s)
		return n >= 2 && strings.IndexByte(seps, s[n-1]) >= 0 && isDigit(s[n-2])
	}
	return len(s) >= 2 && strings.IndexByte(seps, s[0]) >= 0 && isDigit(s[1])
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

func allSame(code string) bool {
	return strings.Count(code, code[:1]) == len(code)
}

// sequential reports ascending or descending runs such as 123456 or 4321.
func sequential(code string) bool {
	if len(code) < 3 {
		return false
	}
	step := int(code[1]) - int(code[0])
	if step != 1 && step != -1 {
		return false
	}
	for i := 2; i < len(code); i++ {
		if int(code[i])-int(code[i-1]) != step {
			return false
		}
	}
	return true
}

func longestRepeat(code string) int {
	longest, run := 0, 0
	for i := range len(code) {
		if i > 0 && code[i] == code[i-1] {
			run++
		} else {
			run = 1
		}
		longest = max(longest, run)
	}
	return longest
}

// alternation builds a regexp alternation from literal words. Word-like
// edges get \b anchors and interior spaces match any whitespace run.
func alternation(words []string) string {
	parts := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.TrimSpace(w)
		if w == "" {
			continue
		}
		q := strings.ReplaceAll(regexp.QuoteMeta(w), " ", `\s+`)
		if isWordByte(w[0]) {
			q = `\b` + q
		}
		if isWordByte(w[len(w)-1]) {
			q += `\b`
		}
		parts = append(parts, q)
	}
	if len(parts) == 0 {
		return `[^\s\S]`
	}
	return strings.Join(parts, "|")
}

func isWordByte(b byte) bool {
	return b == '_' || isDigit(b) || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}
