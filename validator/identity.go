package validator

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/brunobiangulo/docanalysis/lexicon"
	"github.com/brunobiangulo/docanalysis/schema"
)

// RepairedDescription is the description given to an inferred identity.
const RepairedDescription = "根据文件名和技术参数推断"

// RepairedConfidence is the floor for basic_info after identity repair.
const RepairedConfidence = 0.8

// UnknownProduct names a product when neither the model nor the filename
// says anything usable.
const UnknownProduct = "未识别产品"

type identityRule struct {
	keywords []string
	category string
	product  string
}

// identityRules are tried in order against the filename and spec keys.
var identityRules = []identityRule{
	{[]string{"六相", "继电保护", "relay"}, "继电保护测试设备", "继电保护测试仪"},
	{[]string{"变压器", "transformer"}, "变压器设备", "变压器"},
	{[]string{"开关", "switchgear", "breaker"}, "开关设备", "开关设备"},
}

var (
	sixPhaseRule = identityRule{category: "继电保护测试设备", product: "六相继电保护测试仪"}
	fallbackRule = identityRule{category: "电力设备", product: "电力设备"}
)

// docSuffixes are trailing filename words that describe the document, not
// the product.
var docSuffixes = []string{
	"产品说明书", "使用说明书", "说明书", "用户手册", "使用手册", "产品手册", "手册",
	"技术参数", "技术规格书", "规格书", "彩页", "datasheet", "manual",
}

var (
	modelNumber = regexp.MustCompile(`\b[A-Z]{1,6}[-_]?\d{2,}[A-Z0-9]*(?:[-_][A-Z0-9]+)*\b`)
	modelKeys   = []string{"型号", "产品型号", "规格型号", "model"}
)

// repairIdentity fills an empty name from the filename heuristics when the
// document produced specifications, and always fills an empty category and
// code. It reports whether the name was inferred.
func repairIdentity(data *schema.ExtractedData, vc Context) bool {
	bi := &data.BasicInfo
	repaired := false

	if strings.TrimSpace(bi.Name) == "" {
		if len(data.Specifications) > 0 {
			rule := inferRule(vc.Filename, data.SpecKeys())
			bi.Name = nameFromFilename(vc.Filename, rule.product)
			if bi.Category == "" {
				bi.Category = rule.category
			}
			if bi.Description == "" {
				bi.Description = RepairedDescription
			}
			data.Confidence.BasicInfo = max(data.Confidence.BasicInfo, RepairedConfidence)
			repaired = true
		} else {
			bi.Name = nameFromFilename(vc.Filename, UnknownProduct)
		}
	}
	if strings.TrimSpace(bi.Category) == "" {
		bi.Category = inferRule(vc.Filename+" "+bi.Name, data.SpecKeys()).category
	}
	if strings.TrimSpace(bi.Code) == "" {
		bi.Code = inferCode(data.Specifications, vc.Filename, vc.Text, bi.Name)
	}
	return repaired
}

// RepairIdentity fills an empty name, category and code outside a full
// Validate pass. If the heuristics fail, name falls back to UnknownProduct
// and code to a stable AUTO code.
func RepairIdentity(data *schema.ExtractedData, vc Context) (repaired bool) {
	if data == nil {
		return false
	}
	defer func() {
		if r := recover(); r != nil {
			bi := &data.BasicInfo
			if strings.TrimSpace(bi.Name) == "" {
				bi.Name = UnknownProduct
			}
			if strings.TrimSpace(bi.Code) == "" {
				bi.Code = autoCode(vc.Filename, bi.Name)
			}
			repaired = false
		}
	}()
	return repairIdentity(data, vc)
}

// inferRule matches the filename and specification keys against the
// keyword map; phase-related keys naming six phases identify a six-phase
// relay tester.
func inferRule(filename string, keys []string) identityRule {
	haystack := strings.ToLower(filename + " " + strings.Join(keys, " "))
	for _, r := range identityRules {
		for _, kw := range r.keywords {
			if strings.Contains(haystack, kw) {
				return r
			}
		}
	}
	for _, k := range keys {
		lk := strings.ToLower(k)
		phase := strings.Contains(lk, "相") || strings.Contains(lk, "phase")
		if phase && (strings.Contains(lk, "六") || strings.Contains(lk, "6")) {
			return sixPhaseRule
		}
	}
	return fallbackRule
}

// nameFromFilename returns the filename stem without document words when
// it reads as a Chinese product name, otherwise fallback.
func nameFromFilename(filename, fallback string) string {
	base := filepath.Base(strings.ReplaceAll(filename, `\`, "/"))
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	for changed := true; changed; {
		changed = false
		trimmed := strings.TrimRight(stem, " _-.()（）")
		for _, s := range docSuffixes {
			if len(trimmed) > len(s) && strings.HasSuffix(strings.ToLower(trimmed), s) {
				trimmed = trimmed[:len(trimmed)-len(s)]
				break
			}
		}
		if trimmed != stem {
			stem, changed = trimmed, true
		}
	}
	if lexicon.ContainsCJK(stem) {
		return stem
	}
	return fallback
}

// inferCode looks for a model number in the specifications, the filename
// and the text, in that order, and otherwise derives a stable AUTO code.
func inferCode(specs schema.Specifications, filename, text, name string) string {
	for _, k := range modelKeys {
		for key, sv := range specs {
			if strings.EqualFold(key, k) && strings.TrimSpace(sv.Value) != "" {
				return strings.TrimSpace(display(sv))
			}
		}
	}
	if m := modelNumber.FindString(filename); m != "" {
		return m
	}
	if m := modelNumber.FindString(text); m != "" {
		return m
	}
	return autoCode(filename, name)
}

func autoCode(filename, name string) string {
	sum := sha256.Sum256([]byte(filename + "\x00" + name))
	return "AUTO-" + hex.EncodeToString(sum[:4])
}
