package search

import (
	"path"
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"irclog/internal/common"
	"irclog/internal/record"
	"irclog/internal/segments"
)

// Query describes what to look for. The zero value matches every message of every channel.
type Query struct {
	// Pattern is a literal text, or a regular expression when Regex is set. Empty matches every message.
	Pattern       string
	Regex         bool
	CaseSensitive bool
	// WholeWord requires matches not to be adjacent to other word characters; literal patterns only.
	WholeWord bool

	// Nicks keeps messages whose sender nick starts with one of the prefixes (case-insensitive).
	Nicks []string
	// Channels keeps segments whose channel matches one of the glob patterns (case-insensitive).
	Channels []string
	// Since drops messages that arrived before it.
	Since *time.Time

	IgnoreSystem bool
	IgnoreFromMe bool
}

// Matcher is a validated Query, ready to test segments and messages.
type Matcher struct {
	q        Query
	re       *regexp.Regexp // nil when every message matches
	nicks    []string
	channels []string
}

// Compile validates the query. Conflicting or malformed settings are rejected with common.ErrConfiguration.
func (q Query) Compile() (*Matcher, error) {
	if q.WholeWord && q.Regex {
		return nil, common.ConfigurationErr("whole-word matching cannot be combined with a regular expression")
	}

	mt := &Matcher{q: q}

	if q.Pattern != "" {
		expr := q.Pattern
		if !q.Regex {
			expr = regexp.QuoteMeta(expr)
		}
		if !q.CaseSensitive {
			expr = "(?i)" + expr
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, common.ConfigurationErr("pattern %q: %s", q.Pattern, err)
		}
		mt.re = re
	}

	for _, n := range q.Nicks {
		mt.nicks = append(mt.nicks, strings.ToLower(n))
	}
	for _, c := range q.Channels {
		c = strings.ToLower(c)
		if _, err := path.Match(c, ""); err != nil {
			return nil, common.ConfigurationErr("channel filter %q: %s", c, err)
		}
		mt.channels = append(mt.channels, c)
	}

	return mt, nil
}

func (mt *Matcher) Query() Query { return mt.q }

// AdmitChannel tests the channel filters. No filter admits every channel.
func (mt *Matcher) AdmitChannel(channel string) bool {
	if len(mt.channels) == 0 {
		return true
	}
	channel = strings.ToLower(channel)
	for _, p := range mt.channels {
		if ok, _ := path.Match(p, channel); ok {
			return true
		}
	}
	return false
}

// AdmitSegment is the per-segment pre-filter. The time test is approximate: it only drops segments
// that provably hold nothing at or after Since, messages are tested exactly later on.
func (mt *Matcher) AdmitSegment(s segments.Span) bool {
	if !mt.AdmitChannel(s.Channel) {
		return false
	}
	return mt.q.Since == nil || !s.EntirelyBefore(*mt.q.Since)
}

// AdmitMessage tests the per-message filters.
func (mt *Matcher) AdmitMessage(m record.Message) bool {
	if mt.q.IgnoreSystem && m.IsSystem() {
		return false
	}
	if mt.q.IgnoreFromMe && m.FromMe() {
		return false
	}
	if mt.q.Since != nil && m.Time.Before(*mt.q.Since) {
		return false
	}
	if len(mt.nicks) == 0 {
		return true
	}
	if m.Sender == nil {
		return false
	}
	nick := strings.ToLower(m.Sender.Nick)
	for _, prefix := range mt.nicks {
		if strings.HasPrefix(nick, prefix) {
			return true
		}
	}
	return false
}

// Find returns the match spans within text, as byte offsets.
// An empty pattern yields a single zero-length span: the message as a whole.
// Empty matches of a regular expression are never reported.
func (mt *Matcher) Find(text string) []common.Location {
	if mt.re == nil {
		return []common.Location{{}}
	}

	if !mt.q.WholeWord {
		var found []common.Location
		for _, loc := range mt.re.FindAllStringIndex(text, -1) {
			if loc[1] > loc[0] {
				found = append(found, common.Location{From: loc[0], To: loc[1]})
			}
		}
		return found
	}

	// whole-word: overlapping candidates are retried one rune further,
	// so a rejected occurrence does not hide an accepted one
	var found []common.Location
	for pos := 0; pos < len(text); {
		loc := mt.re.FindStringIndex(text[pos:])
		if loc == nil {
			break
		}
		from, to := pos+loc[0], pos+loc[1]
		if to > from && wordBounded(text, from, to) {
			found = append(found, common.Location{From: from, To: to})
			pos = to
			continue
		}
		_, size := utf8.DecodeRuneInString(text[from:])
		pos = from + max(size, 1)
	}
	return found
}

func isWordRune(r rune) bool { return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) }

func wordBounded(text string, from, to int) bool {
	if from > 0 {
		r, _ := utf8.DecodeLastRuneInString(text[:from])
		if isWordRune(r) {
			return false
		}
	}
	if to < len(text) {
		r, _ := utf8.DecodeRuneInString(text[to:])
		if isWordRune(r) {
			return false
		}
	}
	return true
}
