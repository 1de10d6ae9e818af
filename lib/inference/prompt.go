/*
 * Lingualink
 * Copyright (C) 2025  Gravitational, Inc.
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

package inference

import (
	"fmt"
	"strings"
)

// BuildSystemPrompt renders the system message for a transcription plus one
// translation per target language, in the order given, together with the
// sectioned output format the reply parser expects. No target languages
// means no system message at all.
func BuildSystemPrompt(targetLangs []string) string {
	if len(targetLangs) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("你是一个高级的语音处理助手。你的任务是：\n")
	b.WriteString("1. 首先将音频内容转录成其原始语言的文本。\n")
	for i, lang := range targetLangs {
		fmt.Fprintf(&b, "%d. 将转录的文本翻译成%s。\n", i+2, lang)
	}
	b.WriteString("请按照以下格式清晰地组织你的输出：\n")
	b.WriteString("原文：\n")
	for _, lang := range targetLangs {
		b.WriteString(lang)
		b.WriteString("：\n")
	}
	return strings.TrimSuffix(b.String(), "\n")
}
