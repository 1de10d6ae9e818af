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

// Package lingualink holds constants shared by every other package in the
// audio gateway.
package lingualink

// Version is the semantic version of the gateway, stamped into the status
// endpoint and the version subcommand.
const Version = "1.0.0-dev"

const (
	// ComponentKey is the name of the log field carrying the component name.
	ComponentKey = "component"

	// ComponentWeb is the HTTP API surface.
	ComponentWeb = "web"

	// ComponentAuth is the credential store, cache and verifier.
	ComponentAuth = "auth"

	// ComponentAudio is the audio normalizer.
	ComponentAudio = "audio"

	// ComponentBalancer is the backend registry and selector.
	ComponentBalancer = "balancer"

	// ComponentProber is the backend health prober.
	ComponentProber = "prober"

	// ComponentInference is the dispatcher talking to upstream backends.
	ComponentInference = "inference"

	// ComponentService is the process-level supervisor.
	ComponentService = "service"
)
