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
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestParseReply(t *testing.T) {
	t.Parallel()

	raw := "原文：hello world\n英文：hello world\n日文：こんにちは\n世界"
	got := ParseReply(raw)
	want := map[string]string{
		"原文":      "hello world",
		"英文":      "hello world",
		"日文":      "こんにちは\n世界",
		RawTextKey: raw,
	}
	require.Empty(t, cmp.Diff(want, got))
}

func TestParseReplyASCIIColon(t *testing.T) {
	t.Parallel()

	got := ParseReply("Transcript: hello\nEnglish: hi there")
	require.Equal(t, "hello", got["Transcript"])
	require.Equal(t, "hi there", got["English"])
}

func TestParseReplyFirstSeparatorWins(t *testing.T) {
	t.Parallel()

	// later colons stay inside the value, whichever width comes first
	got := ParseReply("url: http://host:8000/v1\n时间：12:30：45")
	require.Equal(t, "http://host:8000/v1", got["url"])
	require.Equal(t, "12:30：45", got["时间"])
}

func TestParseReplyDuplicateHeaderLaterWins(t *testing.T) {
	t.Parallel()

	got := ParseReply("原文：first\n原文：second")
	require.Equal(t, "second", got["原文"])
}

func TestParseReplyNoSections(t *testing.T) {
	t.Parallel()

	raw := "just some text\nwithout any headers"
	got := ParseReply(raw)
	require.Equal(t, map[string]string{RawTextKey: raw}, got)

	require.Equal(t, map[string]string{RawTextKey: ""}, ParseReply(""))
}

func TestParseReplyLeadingColonIgnored(t *testing.T) {
	t.Parallel()

	// nothing on the left of the colon: not a header
	got := ParseReply("：orphan value\n原文：text")
	require.NotContains(t, got, "")
	require.Equal(t, "text", got["原文"])
}

func TestParseReplyEmptyLinesInsideSection(t *testing.T) {
	t.Parallel()

	got := ParseReply("原文：line one\n\nline two")
	require.Equal(t, "line one\n\nline two", got["原文"])
}

func TestParseReplyIdempotent(t *testing.T) {
	t.Parallel()

	raw := "原文：hello world\n英文：hello world\n日文：こんにちは\n世界"
	first := ParseReply(raw)
	second := ParseReply(first[RawTextKey])
	require.Empty(t, cmp.Diff(first, second))
}
