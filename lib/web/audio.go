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

package web

import (
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gravitational/trace"
	"github.com/julienschmidt/httprouter"

	"github.com/gravitational/lingualink/lib/audio"
	"github.com/gravitational/lingualink/lib/auth"
	"github.com/gravitational/lingualink/lib/defaults"
	"github.com/gravitational/lingualink/lib/inference"
)

// multipartOverheadBytes allows for boundaries, headers and the form fields
// around a cap-sized file part.
const multipartOverheadBytes = 1 << 20

// processAudio is the data path: authenticate (done by the wrapper), save
// the upload, hand it to the dispatcher. The dispatcher owns file cleanup
// from the moment saveUpload returns.
func (h *Handler) processAudio(w http.ResponseWriter, r *http.Request, p httprouter.Params, id auth.Identity) (any, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.UploadCap+multipartOverheadBytes)

	path, err := h.saveUpload(r)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	result, err := h.cfg.Dispatcher.Process(r.Context(), inference.ProcessRequest{
		AudioPath:   path,
		UserPrompt:  r.FormValue("user_prompt"),
		TargetLangs: r.Form["target_languages"],
		RequestKey:  r.FormValue("request_key"),
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return result, nil
}

// saveUpload validates the multipart file field and writes it into the
// temp directory under the reapable prefix.
func (h *Handler) saveUpload(r *http.Request) (string, error) {
	file, header, err := r.FormFile("audio_file")
	if err != nil {
		return "", trace.BadParameter("audio_file is required: %v", err)
	}
	defer file.Close()

	if header.Size == 0 {
		return "", trace.BadParameter("uploaded file is empty")
	}
	if header.Size > h.cfg.UploadCap {
		return "", trace.LimitExceeded("uploaded file is %v, the limit is %v",
			humanize.IBytes(uint64(header.Size)), humanize.IBytes(uint64(h.cfg.UploadCap)))
	}
	ext := strings.ToLower(filepath.Ext(header.Filename))
	if ext == "" || !h.cfg.Normalizer.Supported(ext) {
		return "", trace.Wrap(audio.NewUnsupportedFormat(strings.TrimPrefix(ext, ".")))
	}

	out, err := os.CreateTemp(h.cfg.TempDir, defaults.TempFilePrefix+"*"+ext)
	if err != nil {
		return "", trace.ConvertSystemError(err)
	}
	if _, err := io.Copy(out, file); err != nil {
		out.Close()
		os.Remove(out.Name())
		return "", trace.ConvertSystemError(err)
	}
	if err := out.Close(); err != nil {
		os.Remove(out.Name())
		return "", trace.ConvertSystemError(err)
	}
	return out.Name(), nil
}

// audioFormats lists the allow-list and the canonical waveform contract.
func (h *Handler) audioFormats(w http.ResponseWriter, r *http.Request, p httprouter.Params, id auth.Identity) (any, error) {
	return map[string]any{
		"supported_formats": defaults.AllowedFormats(),
		"max_upload_bytes":  h.cfg.UploadCap,
		"canonical": map[string]any{
			"sample_rate": audio.CanonicalSampleRate,
			"channels":    audio.CanonicalChannels,
			"bit_depth":   audio.CanonicalBitDepth,
			"container":   "wav",
		},
	}, nil
}
