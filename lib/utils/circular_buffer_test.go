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

package utils

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewCircularBuffer(t *testing.T) {
	buf, err := NewCircularBuffer(0)
	require.Error(t, err)
	require.Nil(t, buf)

	buf, err = NewCircularBuffer(5)
	require.NoError(t, err)
	require.NotNil(t, buf)
}

func TestCircularBufferData(t *testing.T) {
	buf, err := NewCircularBuffer(5)
	require.NoError(t, err)

	require.Nil(t, buf.Data(5))

	buf.Add(1)
	require.Equal(t, []float64{1}, buf.Data(1))
	require.Equal(t, []float64{1}, buf.Data(10))

	buf.Add(2)
	buf.Add(3)
	buf.Add(4)
	buf.Add(5)
	require.Equal(t, []float64{1, 2, 3, 4, 5}, buf.Data(5))
	require.Equal(t, []float64{4, 5}, buf.Data(2))

	// rotation drops the oldest samples
	buf.Add(6)
	buf.Add(7)
	require.Equal(t, []float64{3, 4, 5, 6, 7}, buf.Data(5))
	require.Equal(t, []float64{6, 7}, buf.Data(2))
	require.Nil(t, buf.Data(0))
}

func TestCircularBufferMean(t *testing.T) {
	buf, err := NewCircularBuffer(3)
	require.NoError(t, err)

	require.Zero(t, buf.Mean())
	require.Zero(t, buf.Len())

	buf.Add(1)
	buf.Add(2)
	require.Equal(t, 1.5, buf.Mean())
	require.Equal(t, 2, buf.Len())

	buf.Add(3)
	require.Equal(t, 2.0, buf.Mean())

	// eviction removes the oldest sample from the mean
	buf.Add(9)
	require.Equal(t, 3, buf.Len())
	require.InEpsilon(t, (2.0+3.0+9.0)/3.0, buf.Mean(), 1e-9)
}
