package state

import (
	"regexp"
	"sort"
	"strings"
	"unicode"

	contractx "github.com/tanpawarit/chative-crm-assistant/agent/contract"
)

var mentionPattern = regexp.MustCompile(`@([^@\s]+)`)

// sentence punctuation glued to a mention, as in "ping @John?"
const mentionTrailingPunct = ".,;:!?)"

// TrailingMentionQuery returns the word being typed after the last "@".
// ok is false when there is no "@", nothing follows it yet, or the word has
// already been completed with whitespace.
func TrailingMentionQuery(text string) (query string, ok bool) {
	idx := strings.LastIndex(text, "@")
	if idx < 0 {
		return "", false
	}
	trailing := text[idx+1:]
	if trailing == "" || strings.IndexFunc(trailing, unicode.IsSpace) >= 0 {
		return "", false
	}
	return trailing, true
}

// ExtractMentions returns the @names in text in order of appearance,
// deduplicated case-insensitively.
func ExtractMentions(text string) []string {
	matches := mentionPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(matches))
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		name := strings.TrimRight(m[1], mentionTrailingPunct)
		if name == "" {
			continue
		}
		key := strings.ToLower(name)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, name)
	}
	return out
}

// UnmatchedMentions lists the names that no tagged contact answers to.
func UnmatchedMentions(names []string, tagged []contractx.Contact) []string {
	var out []string
	for _, name := range names {
		if !anyMatches(tagged, name) {
			out = append(out, name)
		}
	}
	return out
}

func anyMatches(contacts []contractx.Contact, name string) bool {
	for _, c := range contacts {
		if c.MatchesMention(name) {
			return true
		}
	}
	return false
}

// AppendMention appends "@name " to text with exactly one separating space.
func AppendMention(text, name string) string {
	if text != "" && !endsWithSpace(text) {
		text += " "
	}
	return text + "@" + name + " "
}

func isWordRune(r rune) bool {
	return r == '_' || (r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)))
}

func endsWithSpace(s string) bool {
	if s == "" {
		return false
	}
	r := []rune(s)
	return unicode.IsSpace(r[len(r)-1])
}

// ReplaceMentions rewrites every "@name" of a tagged contact with render(c).
// Longer names are replaced first so "@Johnny" is not consumed by "@John".
func ReplaceMentions(text string, tagged []contractx.Contact, render func(contractx.Contact) string) string {
	type entry struct {
		name    string
		contact contractx.Contact
	}
	var entries []entry
	seen := map[string]struct{}{}
	for _, c := range tagged {
		for _, name := range []string{c.DisplayName, c.FirstName, c.MentionName()} {
			name = strings.TrimSpace(name)
			key := strings.ToLower(name)
			if name == "" {
				continue
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			entries = append(entries, entry{name: name, contact: c})
		}
	}
	sort.SliceStable(entries, func(i, j int) bool { return len(entries[i].name) > len(entries[j].name) })

	// placeholders keep a replaced badge from being matched again by a shorter name
	placeholders := make([]string, len(entries))
	for i, e := range entries {
		pattern := `(?i)@` + regexp.QuoteMeta(e.name)
		if last := []rune(e.name); isWordRune(last[len(last)-1]) {
			pattern += `\b`
		}
		re := regexp.MustCompile(pattern)
		placeholders[i] = "\x00" + string(rune('A'+i)) + "\x00"
		text = re.ReplaceAllLiteralString(text, placeholders[i])
	}
	for i, e := range entries {
		text = strings.ReplaceAll(text, placeholders[i], render(e.contact))
	}
	return text
}
