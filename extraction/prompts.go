package extraction

import (
	"fmt"
	"strings"
)

const schemaTemplate = `{
  "basic_info": {"name": "", "code": "", "category": "", "description": "", "base_price": 0, "is_active": true, "is_configurable": false},
  "specifications": {"参数名称": {"value": "", "unit": "", "description": ""}},
  "features": [{"title": "", "description": "", "icon": ""}],
  "application_scenarios": [{"name": "", "icon": "", "sort_order": 1}],
  "accessories": [{"name": "", "description": "", "type": "standard"}],
  "certificates": [{"name": "", "type": "", "certificate_number": "", "description": ""}],
  "support_info": {
    "warranty": {"period": "", "coverage": "", "terms": []},
    "contact_info": {"phones": [], "emails": []},
    "service_promises": []
  },
  "confidence": {"basic_info": 0.0, "specifications": 0.0, "features": 0.0, "overall": 0.0}
}`

// noiseRules lists the converter noise the model must ignore. The
// categories are the same ones the cleaner removes.
const noiseRules = `忽略以下文档噪声，不要把它们当作产品信息：
1. Word转换残留：HYPERLINK、EMBED、MERGEFORMAT、_GoBack、_Toc编号等域代码
2. 页码与导航：PAGE N、第N页、CHAPTER N、CONTENTS、INDEX、TITLE等单独成行的标记
3. 表格边框：仅由 | - + = 或制表线字符组成的行，以及 "A A AB X B" 这类单字母序列
4. 无意义重复：连续重复的同一字符，以及成串的 . * - _`

const outputRules = `输出要求：
- 只输出一个JSON对象，不要输出任何解释、Markdown或代码块标记
- 严格使用给定的字段结构，缺失的信息使用空字符串、空数组或空对象
- 技术参数的 value 只写数值或取值，单位写在 unit 中
- confidence 中每一项取值 0 到 1，依据信息在文档中的清晰程度如实给出`

const basicPrompt = `你是工业电气产品资料分析助手。请快速识别文档描述的产品。
只输出如下JSON对象：
{"basic_info": {"name": "", "code": "", "category": "", "description": ""}, "confidence": {"overall": 0.0}}
name 为产品全称，code 为产品型号，category 为产品类别。
confidence.overall 表示你对识别结果的把握程度（0到1），文档信息不清楚时请给出较低的值。
只输出JSON。`

func detailedPrompt(category string) string {
	if category == "" {
		category = "电力设备"
	}
	return fmt.Sprintf(`你是工业电气产品资料分析专家。该文档描述的产品类别为：%s。
请完整提取产品信息，输出以下结构的JSON：
%s

%s

%s`, category, schemaTemplate, noiseRules, outputRules)
}

const enhancedExamples = `示例1
文档片段：
六相微机继电保护测试仪 型号：PW636i
交流电压 6×0～120V 精度 0.1%
交流电流 6×0～30A
输出：
{"basic_info": {"name": "六相微机继电保护测试仪", "code": "PW636i", "category": "继电保护测试设备", "description": "六相交流电压电流输出的继电保护测试仪"}, "specifications": {"交流电压": {"value": "6×0～120", "unit": "V", "description": "六相电压输出范围"}, "电压精度": {"value": "0.1", "unit": "%", "description": ""}, "交流电流": {"value": "6×0～30", "unit": "A", "description": "六相电流输出范围"}}, "features": [], "application_scenarios": [], "accessories": [], "certificates": [], "support_info": {"warranty": {"period": "", "coverage": "", "terms": []}, "contact_info": {"phones": [], "emails": []}, "service_promises": []}, "confidence": {"basic_info": 0.9, "specifications": 0.85, "features": 0.3, "overall": 0.85}}

示例2
文档片段：
HYPERLINK "http://example.com" 变压器直流电阻测试仪
第3页
测试电流：5A、10A、20A
量程：1mΩ～20Ω
输出：
{"basic_info": {"name": "变压器直流电阻测试仪", "code": "", "category": "变压器设备", "description": ""}, "specifications": {"测试电流": {"value": "5、10、20", "unit": "A", "description": ""}, "量程": {"value": "1m～20", "unit": "Ω", "description": ""}}, "features": [], "application_scenarios": [], "accessories": [], "certificates": [], "support_info": {"warranty": {"period": "", "coverage": "", "terms": []}, "contact_info": {"phones": [], "emails": []}, "service_promises": []}, "confidence": {"basic_info": 0.7, "specifications": 0.8, "features": 0.2, "overall": 0.75}}`

func enhancedPrompt() string {
	return fmt.Sprintf(`你是工业电气产品资料分析专家。该文档质量较差或产品类型不明确，请参考示例仔细提取。
输出结构：
%s

%s

%s

%s`, schemaTemplate, enhancedExamples, noiseRules, outputRules)
}

const optimizationPrompt = `你是提示词优化助手。根据用户对自动提取结果的常见修改，给出用于改进提取提示词的简短指导。
只输出一个JSON字符串数组，每一项是一条指导，不超过5条。`

// personalize prepends the learning-store guidance ahead of a system prompt.
func personalize(prompt string, avoid, prefer []string) string {
	if len(avoid) == 0 && len(prefer) == 0 {
		return prompt
	}
	var b strings.Builder
	if len(avoid) > 0 {
		b.WriteString("请避免以下常见错误：\n")
		for _, a := range avoid {
			fmt.Fprintf(&b, "- %s\n", a)
		}
		b.WriteString("\n")
	}
	if len(prefer) > 0 {
		b.WriteString("请参考以下成功模式：\n")
		for _, p := range prefer {
			fmt.Fprintf(&b, "- %s\n", p)
		}
		b.WriteString("\n")
	}
	b.WriteString(prompt)
	return b.String()
}

func userContent(filename, text string) string {
	return fmt.Sprintf("文档名称：%s\n\n文档内容：\n%s", filename, text)
}

// head returns the first n characters of s.
func head(s string, n int) string {
	if n <= 0 {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
