// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package header

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaders_SetGet(t *testing.T) {
	var h Headers
	h.Set("Content-Type", "application/json")
	assert.Equal(t, "application/json", h.Get("content-type"))
	assert.Equal(t, "application/json", h.Get("CONTENT-TYPE"))
	assert.True(t, h.Has("Content-Type"))
	assert.False(t, h.Has("X-Missing"))
}

func TestHeaders_Add(t *testing.T) {
	var h Headers
	h.Add("X-Trace", "a")
	h.Add("x-trace", "b")
	assert.Equal(t, []string{"a", "b"}, h.Values("X-TRACE"))
	assert.Equal(t, "a", h.Get("x-trace"))
}

func TestHeaders_Del(t *testing.T) {
	var h Headers
	h.Set("X-Foo", "bar")
	h.Del("x-foo")
	assert.False(t, h.Has("X-Foo"))
	assert.Empty(t, h.Values("X-Foo"))
}

func TestHeaders_Names(t *testing.T) {
	var h Headers
	h.Set("Content-Type", "application/json")
	h.Set("Accept", "*/*")
	assert.Equal(t, []string{"Accept", "Content-Type"}, h.Names())
}

func TestHeaders_CloneIsIndependent(t *testing.T) {
	var h Headers
	h.Set("X-Foo", "bar")
	h2 := h.Clone()
	h2.Set("X-Foo", "baz")
	assert.Equal(t, "bar", h.Get("X-Foo"))
	assert.Equal(t, "baz", h2.Get("X-Foo"))
}

func TestHeaders_HTTPRoundTrip(t *testing.T) {
	var h Headers
	h.Add("X-Multi", "1")
	h.Add("X-Multi", "2")
	httpHdr := h.ToHTTP()
	assert.Equal(t, []string{"1", "2"}, httpHdr["X-Multi"])

	h2 := FromHTTP(httpHdr)
	assert.Equal(t, []string{"1", "2"}, h2.Values("x-multi"))
}

func TestHeaders_JSONRoundTrip(t *testing.T) {
	var h Headers
	h.Set("Content-Type", "application/json; encoding=utf-8")
	h.Add("X-Trace", "a")
	h.Add("X-Trace", "b")

	data, err := json.Marshal(&h)
	require.NoError(t, err)

	var h2 Headers
	require.NoError(t, json.Unmarshal(data, &h2))
	assert.Equal(t, h.Get("Content-Type"), h2.Get("Content-Type"))
	assert.Equal(t, h.Values("X-Trace"), h2.Values("X-Trace"))
}

func TestHeaders_ZeroValueUsable(t *testing.T) {
	var h Headers
	assert.Equal(t, "", h.Get("Anything"))
	assert.Nil(t, h.Names())
	assert.NotPanics(t, func() { h.Del("Anything") })
}
