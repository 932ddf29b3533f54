package docanalysis

import (
	"errors"
	"strings"

	"github.com/brunobiangulo/docanalysis/docerr"
)

// Classified failures. errors.Is matches any *docerr.Error of the same kind,
// e.g. errors.Is(res.Err(), ErrFileTooLarge).
var (
	ErrUnsupportedFormat = &docerr.Error{Kind: docerr.KindFormat}
	ErrFileTooLarge      = &docerr.Error{Kind: docerr.KindFileSize}
	ErrEmptyContent      = &docerr.Error{Kind: docerr.KindEmptyContent}
	ErrCorruptDocument   = &docerr.Error{Kind: docerr.KindCorruption}
	ErrLLMTimeout        = &docerr.Error{Kind: docerr.KindAITimeout}
)

var (
	// ErrLearningStoreDisabled is returned by the learning operations when
	// no learning store is configured.
	ErrLearningStoreDisabled = errors.New("docanalysis: learning store disabled")

	// ErrInvalidCorrection is returned when a correction lacks its data.
	ErrInvalidCorrection = errors.New("docanalysis: invalid correction")
)

// envelope is the caller-facing description of one error kind.
type envelope struct {
	title       string
	details     []string
	suggestions []string
}

var envelopes = map[docerr.Kind]envelope{
	docerr.KindEncoding: {
		title:   "文档编码错误",
		details: []string{"文档使用了无法识别的字符编码", "The document encoding could not be decoded"},
		suggestions: []string{
			"请将文档另存为UTF-8编码后重新上传",
			"如为旧版Word文档，请转换为.docx格式 (convert to .docx)",
		},
	},
	docerr.KindFileSize: {
		title:   "文件大小超出限制",
		details: []string{"上传的文件超过了10MB的大小限制", "The file exceeds the 10 MB size limit"},
		suggestions: []string{
			"请压缩文档中的图片后重新上传",
			"可将文档拆分为多个较小的文件分别分析",
			"Split or compress the document and upload again",
		},
	},
	docerr.KindFormat: {
		title:   "不支持的文件格式",
		details: []string{"支持的格式：TXT、PDF、DOC、DOCX、XLS、XLSX、PPT、PPTX、RTF及常见图片格式"},
		suggestions: []string{
			"请将文档转换为PDF或DOCX格式后重新上传",
			"Convert the document to PDF or DOCX",
		},
	},
	docerr.KindEmptyContent: {
		title:   "文档内容为空",
		details: []string{"未能从文档中提取到任何文本内容", "No text could be extracted from the document"},
		suggestions: []string{
			"请确认文档包含文字内容而非仅有图片",
			"扫描件请确保图片清晰，或先进行文字识别(OCR)后上传",
		},
	},
	docerr.KindCorruption: {
		title:   "文档内容损坏",
		details: []string{"提取出的文本存在大量乱码或重复字符", "The extracted text is corrupted or unreadable"},
		suggestions: []string{
			"请用Office或WPS打开文档确认内容是否正常",
			"尝试将文档另存为新文件后重新上传",
		},
	},
	docerr.KindAITimeout: {
		title:   "AI服务响应超时",
		details: []string{"AI分析服务在规定时间内未返回结果", "The AI service did not respond in time"},
		suggestions: []string{
			"请稍后重试",
			"文档较长时可删减无关内容后重新上传",
		},
	},
	docerr.KindAIQuota: {
		title:   "AI服务配额不足",
		details: []string{"AI服务调用频率或额度已达上限", "The AI service quota or rate limit was reached"},
		suggestions: []string{
			"请稍后重试",
			"请联系管理员检查API额度",
		},
	},
	docerr.KindAIAuth: {
		title:   "AI服务认证失败",
		details: []string{"AI服务API密钥无效或已过期", "The AI service rejected the API key"},
		suggestions: []string{
			"请联系管理员检查API密钥配置",
			"Check the DOCANALYSIS_LLM_API_KEY setting",
		},
	},
	docerr.KindAIService: {
		title:   "AI服务异常",
		details: []string{"AI分析服务返回了错误", "The AI service returned an error"},
		suggestions: []string{
			"请稍后重试",
			"如问题持续存在，请联系技术支持",
		},
	},
	docerr.KindMemory: {
		title:   "系统内存不足",
		details: []string{"处理文档时内存不足"},
		suggestions: []string{
			"请上传较小的文档",
			"请稍后重试",
		},
	},
	docerr.KindDisk: {
		title:   "磁盘空间不足",
		details: []string{"服务器临时存储空间不足"},
		suggestions: []string{
			"请稍后重试",
			"请联系管理员清理磁盘空间",
		},
	},
	docerr.KindTimeout: {
		title:   "处理超时",
		details: []string{"文档处理时间超过了限制", "Processing exceeded the time limit"},
		suggestions: []string{
			"请上传较小或较简单的文档",
			"请稍后重试",
		},
	},
	docerr.KindPermission: {
		title:   "权限不足",
		details: []string{"没有访问文件或外部工具的权限"},
		suggestions: []string{
			"请确认文档未加密或设置了打开密码",
			"请联系管理员检查服务权限",
		},
	},
	docerr.KindUnknown: {
		title:   "未知错误",
		details: []string{"分析过程中发生了未预期的错误", "An unexpected error occurred"},
		suggestions: []string{
			"请稍后重试",
			"如问题持续存在，请联系技术支持并提供文件名",
		},
	},
}

// Failure is the failure half of the result envelope.
type Failure struct {
	Kind        docerr.Kind
	Title       string
	Details     []string
	Suggestions []string
}

// describe builds the envelope for err. The error's own message and
// bullets come before the kind's defaults; duplicates are dropped.
func describe(err error) Failure {
	kind := docerr.KindOf(err)
	env, ok := envelopes[kind]
	if !ok {
		env = envelopes[docerr.KindUnknown]
	}

	f := Failure{Kind: kind, Title: env.title}
	var own, ownSuggestions []string
	if de, ok := docerr.As(err); ok {
		if de.Message != "" {
			own = append(own, de.Message)
		}
		own = append(own, de.Details...)
		ownSuggestions = de.Suggestions
	} else if err != nil {
		own = append(own, err.Error())
	}
	f.Details = dedupe(append(own, env.details...))
	f.Suggestions = dedupe(append(append([]string{}, ownSuggestions...), env.suggestions...))
	return f
}

func dedupe(items []string) []string {
	seen := make(map[string]bool, len(items))
	out := make([]string, 0, len(items))
	for _, s := range items {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
