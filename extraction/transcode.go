package extraction

import (
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"

	"github.com/brunobiangulo/docanalysis/lexicon"
	"github.com/brunobiangulo/docanalysis/schema"
)

// Transcoded results carry fixed confidences: a table is explicit about its
// fields, prose is not.
const (
	markdownConfidence = 0.8
	proseConfidence    = 0.5
)

var (
	delimiterRow = regexp.MustCompile(`(?m)^\s*\|?\s*:?-{3,}:?\s*(?:\|\s*:?-{3,}:?\s*)+\|?\s*$`)
	kvLine       = regexp.MustCompile(`^\s*(?:[-*•·]\s*)?(?:\*\*)?([^:：|*\n]{1,30}?)(?:\*\*)?\s*[:：]\s*(.+?)\s*$`)
)

var identityKeys = map[string]string{
	"产品名称": "name", "名称": "name", "品名": "name", "product name": "name", "product": "name", "name": "name",
	"型号": "code", "产品型号": "code", "规格型号": "code", "model": "code", "code": "code",
	"类别": "category", "产品类别": "category", "类型": "category", "category": "category",
	"描述": "description", "产品描述": "description", "简介": "description", "description": "description",
}

// headerValues mark a table header row that only labels the columns.
var headerValues = map[string]bool{
	"值": true, "数值": true, "参数值": true, "内容": true, "说明": true, "规格": true,
	"value": true, "values": true, "details": true, "description": true,
}

var proseMarkers = []string{"产品名称", "型号", "技术参数", "额定", "规格", "product name", "specification", "model"}

var markdown = goldmark.New(goldmark.WithExtensions(extension.Table))

func looksLikeMarkdownTable(s string) bool {
	return delimiterRow.MatchString(s)
}

func looksLikeProse(s string) bool {
	lower := strings.ToLower(s)
	for _, m := range proseMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// transcodeMarkdown parses the first table(s) in a Markdown response into a
// minimally populated schema.
func transcodeMarkdown(content string) (*schema.ExtractedData, bool) {
	src := []byte(content)
	doc := markdown.Parser().Parse(text.NewReader(src))

	var rows [][]string
	var header []string
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch n.Kind() {
		case extast.KindTableHeader:
			header = cells(n, src)
			return ast.WalkSkipChildren, nil
		case extast.KindTableRow:
			rows = append(rows, cells(n, src))
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	if len(header) == 0 && len(rows) == 0 {
		return nil, false
	}

	var pairs [][2]string
	switch {
	case len(header) > 2 && len(rows) == 1:
		// One product per row: the header names the fields.
		for i, h := range header {
			if i < len(rows[0]) {
				pairs = append(pairs, [2]string{h, rows[0][i]})
			}
		}
	default:
		if len(header) >= 2 && !headerValues[strings.ToLower(header[1])] {
			pairs = append(pairs, [2]string{header[0], header[1]})
		}
		for _, r := range rows {
			if len(r) >= 2 {
				pairs = append(pairs, [2]string{r[0], r[1]})
			}
		}
	}

	d := fromPairs(pairs)
	if d == nil {
		return nil, false
	}
	d.Confidence = schema.Confidence{
		BasicInfo:      markdownConfidence,
		Specifications: markdownConfidence,
		Features:       markdownConfidence,
		Overall:        markdownConfidence,
	}
	return d, true
}

// transcodeProse reads "key: value" lines out of a prose answer.
func transcodeProse(content string) (*schema.ExtractedData, bool) {
	var pairs [][2]string
	for _, line := range strings.Split(content, "\n") {
		if m := kvLine.FindStringSubmatch(line); m != nil {
			pairs = append(pairs, [2]string{m[1], m[2]})
		}
	}
	d := fromPairs(pairs)
	if d == nil {
		return nil, false
	}
	d.Confidence = schema.Confidence{
		Specifications: proseConfidence,
		Features:       0.3,
	}
	if d.BasicInfo.Name != "" {
		d.Confidence.BasicInfo = proseConfidence
	}
	d.Confidence.Overall = (d.Confidence.BasicInfo + d.Confidence.Specifications + d.Confidence.Features) / 3
	return d, true
}

// fromPairs maps identity keys onto basic_info and keeps technical pairs as
// specifications. It returns nil when nothing usable was found.
func fromPairs(pairs [][2]string) *schema.ExtractedData {
	d := schema.Default()
	found := false
	for _, p := range pairs {
		key := strings.Trim(strings.TrimSpace(p[0]), "*")
		val := strings.Trim(strings.TrimSpace(p[1]), "*")
		if key == "" || val == "" {
			continue
		}
		switch identityKeys[strings.ToLower(key)] {
		case "name":
			d.BasicInfo.Name = val
			found = true
		case "code":
			d.BasicInfo.Code = val
			found = true
		case "category":
			d.BasicInfo.Category = val
			found = true
		case "description":
			d.BasicInfo.Description = val
			found = true
		default:
			if lexicon.IsTechnical(key+" "+val) || lexicon.HasNumberUnit(val) {
				d.Specifications[key] = schema.NormalizeSpecValue(val)
				found = true
			}
		}
	}
	if !found {
		return nil
	}
	return d
}

func cells(row ast.Node, src []byte) []string {
	var out []string
	for c := row.FirstChild(); c != nil; c = c.NextSibling() {
		var b strings.Builder
		nodeText(c, src, &b)
		out = append(out, strings.TrimSpace(b.String()))
	}
	return out
}

func nodeText(n ast.Node, src []byte, b *strings.Builder) {
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		switch t := c.(type) {
		case *ast.Text:
			b.Write(t.Segment.Value(src))
			if t.SoftLineBreak() {
				b.WriteByte(' ')
			}
		case *ast.String:
			b.Write(t.Value)
		default:
			nodeText(c, src, b)
		}
	}
}
