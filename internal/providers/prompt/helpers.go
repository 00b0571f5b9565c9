package prompt

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const improveSystemPrompt = `You are an expert at creating detailed, high-quality prompts for AI image generation.

Given a user's original prompt, enhance it to be more detailed and specific for better image generation results.

Guidelines:
1. Keep the original intent and subject matter
2. Add specific details about style, lighting, composition, colors
3. Include technical photography terms if appropriate
4. Make it more descriptive and vivid
5. Ensure the prompt is still concise and focused

Return only the improved prompt, no additional text or explanation.`

const taskInstruction = `你是AI批量任务创建助手。请根据用户提示词及可选的参考图，生成JSON任务列表。
输出JSON Codeblock。每个任务对象有 "prompt" 字段；若用图，则有 "attachment" 字段（含文件名数组）。

核心逻辑：
1.  **解读用户意图**：分析用户提示词（###包裹部分）以确定：
    *   是否需要参考图。
    *   若无参考图，则按描述生成纯文本任务。
    *   若有参考图，是为每个图生成独立任务，还是将多个图组合成一个任务。
2.  **构建任务**：
    *   **纯文本任务**：只有 "prompt" 字段。
    *   **单图任务** (e.g., "所有图片转风格A")：为每个上传图片生成一个任务。"attachment" 含单个文件名。"prompt" 中用 "图1" 指代该附件。
    *   **多图组合任务** (e.g., "图A风格画图B")：根据提示词组合图片。"attachment" 含多个文件名。"prompt" 中用 "图n" (n从1开始) 指代附件列表中的第n张图 (如 "图1", "图2")。

重要："图n" 始终指代当前任务 "attachment" 列表中的第 n 个文件。

示例1 (纯文本，多任务):
用户提示词: 用吉卜力、像素风、赛博朋克风分别生一个女孩
输出:
` + "```json" + `
[{
  "prompt": "吉卜力风格的女孩"
}, {
  "prompt": "像素风格的女孩"
}, {
  "prompt": "赛博朋克风格的女孩"
}]
` + "```" + `

示例2 (单图任务，批量处理):
用户文件: ["0.png", "1.png"]
用户提示词: 将所有图片转为吉卜力风格
输出:
` + "```json" + `
[{
  "prompt": "把图1转为吉卜力风格",
  "attachment": ["0.png"]
}, {
  "prompt": "把图1转为吉卜力风格",
  "attachment": ["1.png"]
}]
` + "```" + `

示例3 (多图组合任务):
用户文件: ["0.png", "1.png", "2.png", "3.png"]
用户提示词: 将参考图两个一组，用第一张图的风格重绘第二张图
输出:
` + "```json" + `
[{
  "prompt": "用图1的风格重绘图2",
  "attachment": ["0.png", "1.png"]
}, {
  "prompt": "用图1的风格重绘图2",
  "attachment": ["2.png", "3.png"]
}]
` + "```" + `

用户提供的文件列表为：%s

用户提示词：
###
%s
###
`

type modelTask struct {
	Prompt     *string  `json:"prompt"`
	Attachment []string `json:"attachment"`
}

func buildTaskInstruction(intent string, uploaded int) string {
	names := make([]string, 0, uploaded)
	for i := 0; i < uploaded; i++ {
		names = append(names, fmt.Sprintf("%q", fmt.Sprintf("%d.png", i)))
	}
	return fmt.Sprintf(taskInstruction, "["+strings.Join(names, ", ")+"]", intent)
}

// parseTaskList decodes the model's JSON array, dropping entries without a
// usable prompt and attachment names that do not map onto an upload.
func parseTaskList(raw string, uploaded int) ([]Draft, error) {
	fragment := extractJSONArray(raw)
	if fragment == "" {
		return nil, errors.New("no json array in response")
	}
	var items []json.RawMessage
	if err := json.Unmarshal([]byte(fragment), &items); err != nil {
		return nil, fmt.Errorf("decode task list: %w", err)
	}
	var drafts []Draft
	for _, item := range items {
		var t modelTask
		if err := json.Unmarshal(item, &t); err != nil || t.Prompt == nil {
			continue
		}
		text := strings.TrimSpace(*t.Prompt)
		if text == "" {
			continue
		}
		d := Draft{Prompt: text}
		for _, name := range t.Attachment {
			if idx, ok := attachmentIndex(name, uploaded); ok {
				d.ImageIndexes = append(d.ImageIndexes, idx)
			}
		}
		drafts = append(drafts, d)
	}
	if len(drafts) == 0 {
		return nil, ErrNoTasks
	}
	return drafts, nil
}

// attachmentIndex maps "3.png" (any extension) to 3 when it is a valid
// upload index.
func attachmentIndex(name string, uploaded int) (int, bool) {
	name = strings.TrimSpace(name)
	if dot := strings.LastIndex(name, "."); dot > 0 {
		name = name[:dot]
	}
	idx, err := strconv.Atoi(name)
	if err != nil || idx < 0 || idx >= uploaded {
		return 0, false
	}
	return idx, true
}

// extractJSONArray strips code fences and returns the outermost [...] span.
func extractJSONArray(raw string) string {
	text := trimCodeFence(raw)
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start < 0 || end < start {
		return ""
	}
	return strings.TrimSpace(text[start : end+1])
}

func trimCodeFence(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.Contains(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.ReplaceAll(trimmed, "```json", "")
	trimmed = strings.ReplaceAll(trimmed, "```JSON", "")
	trimmed = strings.ReplaceAll(trimmed, "```", "")
	return strings.TrimSpace(trimmed)
}

func coalesce(values ...string) string {
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v != "" {
			return v
		}
	}
	return ""
}
