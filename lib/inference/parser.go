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

import "strings"

// RawTextKey is the conventional section holding the model's reply
// verbatim. It is present in every parse result.
const RawTextKey = "raw_text"

// ParseReply splits the model's free-form reply into sections. A line whose
// first ASCII or full-width colon has non-empty text on its left opens a
// section; lines without one append to the current section, empty lines
// included. A repeated header replaces the earlier section. ParseReply never
// fails: at worst the result is just the verbatim reply under RawTextKey.
func ParseReply(raw string) map[string]string {
	sections := make(map[string]string)
	current := ""
	for _, line := range strings.Split(raw, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			if current != "" {
				sections[current] += "\n"
			}
			continue
		}
		if left, right, ok := cutSection(trimmed); ok {
			current = left
			sections[current] = right
			continue
		}
		if current != "" {
			sections[current] += "\n" + trimmed
		}
	}
	sections[RawTextKey] = raw
	return sections
}

// sectionSeparators in scan order; the earliest occurrence wins.
var sectionSeparators = []string{":", "："}

// cutSection splits the line at its first colon of either width. It reports
// false when there is no colon or nothing precedes it.
func cutSection(line string) (header, value string, ok bool) {
	at, width := -1, 0
	for _, sep := range sectionSeparators {
		if i := strings.Index(line, sep); i >= 0 && (at < 0 || i < at) {
			at, width = i, len(sep)
		}
	}
	if at <= 0 {
		return "", "", false
	}
	header = strings.TrimSpace(line[:at])
	if header == "" {
		return "", "", false
	}
	return header, strings.TrimSpace(line[at+width:]), true
}
