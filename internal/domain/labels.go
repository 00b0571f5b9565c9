package domain

import "golang.org/x/text/language"

// SupportedLocales lists the languages status labels are available in. The
// first entry is the default.
var SupportedLocales = []language.Tag{language.Chinese, language.English}

var localeMatcher = language.NewMatcher(SupportedLocales)

var statusLabels = map[language.Tag]map[TaskStatus]string{
	language.Chinese: {
		TaskStatusIdle:       "等待生成",
		TaskStatusPending:    "队列中",
		TaskStatusGenerating: "生成中",
		TaskStatusCompleted:  "生成完毕",
		TaskStatusFailed:     "生成失败",
	},
	language.English: {
		TaskStatusIdle:       "Idle",
		TaskStatusPending:    "Queued",
		TaskStatusGenerating: "Generating",
		TaskStatusCompleted:  "Completed",
		TaskStatusFailed:     "Failed",
	},
}

// MatchLocale resolves a free-form locale or Accept-Language value to one of
// the supported locales.
func MatchLocale(values ...string) language.Tag {
	tag, _ := language.MatchStrings(localeMatcher, values...)
	base, _ := tag.Base()
	for _, supported := range SupportedLocales {
		b, _ := supported.Base()
		if b == base {
			return supported
		}
	}
	return SupportedLocales[0]
}

// StatusLabel returns the display label for a status in the given locale.
func StatusLabel(status TaskStatus, locale language.Tag) string {
	labels, ok := statusLabels[locale]
	if !ok {
		labels = statusLabels[SupportedLocales[0]]
	}
	if label, ok := labels[status]; ok {
		return label
	}
	return string(status)
}
