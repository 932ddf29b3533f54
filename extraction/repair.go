package extraction

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/brunobiangulo/docanalysis/schema"
)

// Strategy names the repair step that produced a result.
type Strategy string

const (
	RepairDirect   Strategy = "direct"
	RepairPatched  Strategy = "patched"
	RepairBalanced Strategy = "balanced_object"
	RepairMarkdown Strategy = "markdown_table"
	RepairProse    Strategy = "prose"
	RepairDefault  Strategy = "default"
)

// maxPatchCuts bounds how many trailing members the patch step may drop
// while looking for a parseable prefix.
const maxPatchCuts = 8

// Confidence assumed for groups the model returned content for but did not
// score, by strategy.
var assumedConfidence = map[Strategy]float64{
	RepairDirect:   0.6,
	RepairPatched:  0.5,
	RepairBalanced: 0.4,
}

// Repair turns a model response into ExtractedData. The steps run in order
// and stop at the first success:
//
//  1. parse the slice between the first '{' and the last '}'
//  2. close a truncated object (dangling string, open brackets, trailing
//     separators)
//  3. parse the longest balanced {...} substring that is valid JSON
//  4. transcode a Markdown table or a prose description
//  5. return the diagnostic default schema
//
// Repair never fails.
func Repair(content string) (*schema.ExtractedData, Strategy) {
	if raw, ok := sliceObject(content); ok {
		return fromRaw(raw, RepairDirect), RepairDirect
	}
	if raw, ok := patchTruncated(content); ok {
		return fromRaw(raw, RepairPatched), RepairPatched
	}
	if raw, ok := balancedObject(content); ok {
		return fromRaw(raw, RepairBalanced), RepairBalanced
	}
	if looksLikeMarkdownTable(content) {
		if d, ok := transcodeMarkdown(content); ok {
			return d, RepairMarkdown
		}
	}
	if looksLikeProse(content) {
		if d, ok := transcodeProse(content); ok {
			return d, RepairProse
		}
	}
	return schema.Diagnostic("AI响应无法解析，已返回默认结构"), RepairDefault
}

func parseObject(s string) (map[string]any, bool) {
	var raw map[string]any
	if err := json.Unmarshal([]byte(s), &raw); err != nil || raw == nil {
		return nil, false
	}
	return raw, true
}

// fromRaw normalizes a decoded object. When the model omitted the
// confidence block entirely, each populated group gets the strategy's
// assumed confidence.
func fromRaw(raw map[string]any, s Strategy) *schema.ExtractedData {
	d := schema.Normalize(raw)
	if _, ok := raw["confidence"]; ok {
		return d
	}
	level := assumedConfidence[s]
	var c schema.Confidence
	if d.BasicInfo.Name != "" || d.BasicInfo.Code != "" {
		c.BasicInfo = level
	}
	if len(d.Specifications) > 0 {
		c.Specifications = level
	}
	if len(d.Features) > 0 {
		c.Features = level
	}
	c.Overall = (c.BasicInfo + c.Specifications + c.Features) / 3
	d.Confidence = c
	return d
}

func sliceObject(s string) (map[string]any, bool) {
	i := strings.IndexByte(s, '{')
	j := strings.LastIndexByte(s, '}')
	if i < 0 || j <= i {
		return nil, false
	}
	return parseObject(s[i : j+1])
}

// patchTruncated closes an object cut off mid-stream. If the closed form
// still does not parse, the last member is dropped and the close retried.
// An object that closes is not truncated and is left to balancedObject.
func patchTruncated(s string) (map[string]any, bool) {
	i := strings.IndexByte(s, '{')
	if i < 0 {
		return nil, false
	}
	s = s[i:]
	if closes(s) {
		return nil, false
	}
	for range maxPatchCuts {
		if raw, ok := parseObject(closeJSON(s)); ok {
			return raw, true
		}
		cut := lastSeparator(s)
		if cut <= 0 {
			break
		}
		s = s[:cut]
	}
	return nil, false
}

// closes reports whether the object opening s is closed later in s.
func closes(s string) bool {
	depth := 0
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return true
			}
		}
	}
	return false
}

// closeJSON terminates a dangling string, strips a trailing ',' or turns a
// trailing ':' into a null value, then closes every open bracket in
// reverse order.
func closeJSON(s string) string {
	var stack []byte
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			stack = append(stack, c)
		case '}', ']':
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}

	out := s
	if inString {
		if escaped {
			out = out[:len(out)-1]
		}
		out += `"`
	}
	out = strings.TrimRight(out, " \t\r\n")
	for strings.HasSuffix(out, ",") {
		out = strings.TrimRight(strings.TrimSuffix(out, ","), " \t\r\n")
	}
	if strings.HasSuffix(out, ":") {
		out += "null"
	}

	var b strings.Builder
	b.WriteString(out)
	for k := len(stack) - 1; k >= 0; k-- {
		if stack[k] == '{' {
			b.WriteByte('}')
		} else {
			b.WriteByte(']')
		}
	}
	return b.String()
}

// lastSeparator returns the index of the last ',' outside a string.
func lastSeparator(s string) int {
	last := -1
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case ',':
			last = i
		}
	}
	return last
}

// balancedObject collects every balanced {...} substring, longest first,
// and returns the first that parses.
func balancedObject(s string) (map[string]any, bool) {
	var starts []int
	var spans []string
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			if len(starts) > 0 {
				inString = true
			}
		case '{':
			starts = append(starts, i)
		case '}':
			if n := len(starts); n > 0 {
				spans = append(spans, s[starts[n-1]:i+1])
				starts = starts[:n-1]
			}
		}
	}
	sort.SliceStable(spans, func(a, b int) bool { return len(spans[a]) > len(spans[b]) })
	for _, span := range spans {
		if raw, ok := parseObject(span); ok {
			return raw, true
		}
	}
	return nil, false
}
